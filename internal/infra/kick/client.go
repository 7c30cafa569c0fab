// Package kick is the REST client for the Kick chat platform.
package kick

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/vietddude/chatwatch/internal/core/domain"
	"github.com/vietddude/chatwatch/internal/infra/httpapi"
)

const (
	DefaultBaseURL = "https://kick.com"
	APIName        = "kick"
	platform       = "kick"
)

// Config configures the Kick client.
type Config struct {
	BaseURL   string        `yaml:"base_url"`
	Timeout   time.Duration `yaml:"timeout"`
	UserAgent string        `yaml:"user_agent"`
}

// Client fetches chat history, live status and channel emotes.
type Client struct {
	http *httpapi.Client
}

// NewClient creates a Kick REST client.
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
		return nil, fmt.Errorf("kick client: %w", err)
	}
	return &Client{http: hc}, nil
}

// Monitor exposes the API health monitor.
func (c *Client) Monitor() *httpapi.Monitor { return c.http.Monitor }

type wireMessage struct {
	ID        string        `json:"id"`
	ChatID    int64         `json:"chat_id"`
	RoomID    int64         `json:"chatroom_id"`
	Content   string        `json:"content"`
	Type      string        `json:"type"`
	CreatedAt time.Time     `json:"created_at"`
	Sender    domain.Sender `json:"sender"`
}

type wirePinned struct {
	Message    json.RawMessage `json:"message"`
	Duration   json.RawMessage `json:"duration"`
	FinishesAt time.Time       `json:"finishs_at"`
}

type messagesResponse struct {
	Data struct {
		Messages      []json.RawMessage `json:"messages"`
		PinnedMessage *wirePinned       `json:"pinned_message"`
	} `json:"data"`
}

// InitialMessages returns the latest messages of a channel, newest first,
// and the pinned message if any.
func (c *Client) InitialMessages(ctx context.Context, ownerID string) (domain.InitialMessages, error) {
	var resp messagesResponse
	path := "/api/v2/channels/" + url.PathEscape(ownerID) + "/messages"
	if err := c.http.GetJSON(ctx, "messages", path, &resp); err != nil {
		return domain.InitialMessages{}, err
	}

	out := domain.InitialMessages{Messages: make([]domain.ChatMessage, 0, len(resp.Data.Messages))}
	for _, raw := range resp.Data.Messages {
		msg, err := DecodeMessage(raw)
		if err != nil {
			return domain.InitialMessages{}, fmt.Errorf("decode message: %w", err)
		}
		out.Messages = append(out.Messages, msg)
	}

	if p := resp.Data.PinnedMessage; p != nil && len(p.Message) > 0 && !isNull(p.Message) {
		msg, err := DecodeMessage(p.Message)
		if err != nil {
			return domain.InitialMessages{}, fmt.Errorf("decode pinned message: %w", err)
		}
		out.PinnedMessage = &domain.PinnedMessage{
			Message:    msg,
			Duration:   rawText(p.Duration),
			FinishesAt: p.FinishesAt,
		}
	}
	return out, nil
}

// DecodeMessage decodes a chat message as sent by the REST history
// endpoint or the realtime chat channel.
func DecodeMessage(raw json.RawMessage) (domain.ChatMessage, error) {
	var w wireMessage
	if err := json.Unmarshal(raw, &w); err != nil {
		return domain.ChatMessage{}, err
	}
	roomID := w.ChatID
	if roomID == 0 {
		roomID = w.RoomID
	}
	return domain.ChatMessage{
		ID:        w.ID,
		RoomID:    strconv.FormatInt(roomID, 10),
		Content:   w.Content,
		Type:      w.Type,
		CreatedAt: w.CreatedAt,
		Sender:    w.Sender,
		Raw:       raw,
	}, nil
}

// LiveStatus reports whether the channel is streaming. Raw holds the
// livestream object, or null when offline.
func (c *Client) LiveStatus(ctx context.Context, slug string) (domain.LiveStatus, error) {
	var resp struct {
		Data json.RawMessage `json:"data"`
	}
	path := "/api/v2/channels/" + url.PathEscape(slug) + "/livestream"
	if err := c.http.GetJSON(ctx, "livestream", path, &resp); err != nil {
		return domain.LiveStatus{}, err
	}
	if len(resp.Data) == 0 {
		resp.Data = json.RawMessage("null")
	}
	return domain.LiveStatus{IsLive: !isNull(resp.Data), Raw: resp.Data}, nil
}

type emoteGroup struct {
	Emotes []struct {
		ID       json.Number `json:"id"`
		Name     string      `json:"name"`
		Animated bool        `json:"animated"`
	} `json:"emotes"`
}

// ChannelEmotes returns the emotes usable in the channel, flattened across
// the global, subscriber and channel groups.
func (c *Client) ChannelEmotes(ctx context.Context, slug string) ([]domain.Emote, error) {
	var groups []emoteGroup
	if err := c.http.GetJSON(ctx, "emotes", "/emotes/"+url.PathEscape(slug), &groups); err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	emotes := make([]domain.Emote, 0)
	for _, g := range groups {
		for _, e := range g.Emotes {
			id := e.ID.String()
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			emotes = append(emotes, domain.Emote{
				ID:       id,
				Name:     e.Name,
				Platform: platform,
				Animated: e.Animated,
			})
		}
	}
	return emotes, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// rawText returns a JSON string or number as plain text.
func rawText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	if isNull(raw) {
		return ""
	}
	return string(bytes.TrimSpace(raw))
}
