// Package seventv is the REST client for the 7TV emote service.
package seventv

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/vietddude/chatwatch/internal/core/domain"
	"github.com/vietddude/chatwatch/internal/infra/httpapi"
)

const (
	DefaultBaseURL = "https://7tv.io"
	APIName        = "7tv"
	platform       = "7tv"
)

// Config configures the 7TV client.
type Config struct {
	BaseURL   string        `yaml:"base_url"`
	Timeout   time.Duration `yaml:"timeout"`
	UserAgent string        `yaml:"user_agent"`
}

// Client fetches 7TV emote sets.
type Client struct {
	http *httpapi.Client
}

// NewClient creates a 7TV REST client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	hc, err := httpapi.New(httpapi.Config{
		Name:      APIName,
		BaseURL:   cfg.BaseURL,
		Timeout:   cfg.Timeout,
		UserAgent: cfg.UserAgent,
	})
	if err != nil {
		return nil, fmt.Errorf("7tv client: %w", err)
	}
	return &Client{http: hc}, nil
}

// Monitor exposes the API health monitor.
func (c *Client) Monitor() *httpapi.Monitor { return c.http.Monitor }

type emoteSet struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Emotes []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
		Data struct {
			Animated bool `json:"animated"`
		} `json:"data"`
	} `json:"emotes"`
}

// GlobalEmotes returns the global emote set.
func (c *Client) GlobalEmotes(ctx context.Context) ([]domain.Emote, error) {
	return c.EmoteSet(ctx, "global")
}

// EmoteSet returns the emotes of the set with the given id.
func (c *Client) EmoteSet(ctx context.Context, setID string) ([]domain.Emote, error) {
	var set emoteSet
	if err := c.http.GetJSON(ctx, "emote_set", "/v3/emote-sets/"+url.PathEscape(setID), &set); err != nil {
		return nil, err
	}
	emotes := make([]domain.Emote, 0, len(set.Emotes))
	for _, e := range set.Emotes {
		emotes = append(emotes, domain.Emote{
			ID:       e.ID,
			Name:     e.Name,
			Platform: platform,
			Animated: e.Data.Animated,
		})
	}
	return emotes, nil
}

// UserEmoteSet resolves the active emote set of a Kick user. The returned
// ref is the sentinel pair when the user has no 7TV account.
func (c *Client) UserEmoteSet(ctx context.Context, kickUserID string) (domain.EmoteSetRef, error) {
	var resp struct {
		User struct {
			ID string `json:"id"`
		} `json:"user"`
		EmoteSet *struct {
			ID string `json:"id"`
		} `json:"emote_set"`
	}
	path := "/v3/users/kick/" + url.PathEscape(kickUserID)
	if err := c.http.GetJSON(ctx, "user", path, &resp); err != nil {
		if httpapi.IsNotFound(err) {
			return domain.NoEmoteSetRef(), nil
		}
		return domain.EmoteSetRef{}, err
	}
	if resp.EmoteSet == nil {
		return domain.NoEmoteSetRef(), nil
	}
	return domain.EmoteSetRef{OwnerID: resp.User.ID, SetID: resp.EmoteSet.ID}.OrNone(), nil
}
