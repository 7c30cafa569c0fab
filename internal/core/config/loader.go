package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"

	"github.com/vietddude/chatwatch/internal/connection"
	"github.com/vietddude/chatwatch/internal/core/domain"
	"github.com/vietddude/chatwatch/internal/infra/kick"
	"github.com/vietddude/chatwatch/internal/infra/realtime"
	"github.com/vietddude/chatwatch/internal/infra/resilience"
	"github.com/vietddude/chatwatch/internal/infra/seventv"
)

// LoadEnv loads a .env file from the working directory if present.
func LoadEnv() {
	_ = godotenv.Load()
}

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML content, expanding ${ENV} references first.
func Parse(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}

	if cfg.Kick.APIURL == "" {
		cfg.Kick.APIURL = kick.DefaultBaseURL
	}
	if cfg.Kick.PusherURL == "" {
		cfg.Kick.PusherURL = realtime.DefaultPusherURL
	}
	if cfg.Kick.Timeout == 0 {
		cfg.Kick.Timeout = 10 * time.Second
	}
	if cfg.SevenTV.APIURL == "" {
		cfg.SevenTV.APIURL = seventv.DefaultBaseURL
	}
	if cfg.SevenTV.EventAPIURL == "" {
		cfg.SevenTV.EventAPIURL = realtime.DefaultEventAPIURL
	}
	if cfg.SevenTV.Timeout == 0 {
		cfg.SevenTV.Timeout = 10 * time.Second
	}

	d := connection.DefaultConfig()
	b := &cfg.Bootstrap
	if b.BatchSize == 0 {
		b.BatchSize = d.BatchSize
	}
	if b.BatchDelay == 0 {
		b.BatchDelay = d.BatchDelay
	}
	if b.MaxConcurrentEmoteFetches == 0 {
		b.MaxConcurrentEmoteFetches = d.MaxConcurrentEmoteFetches
	}
	if b.ConnectTimeout == 0 {
		b.ConnectTimeout = d.ConnectTimeout
	}
	if b.Refresh.Interval == 0 {
		b.Refresh.Interval = 2 * time.Minute
	}

	bd := resilience.DefaultBreakerConfig()
	if cfg.Breaker.FailureThreshold == 0 {
		cfg.Breaker.FailureThreshold = bd.FailureThreshold
	}
	if cfg.Breaker.RecoveryTimeout == 0 {
		cfg.Breaker.RecoveryTimeout = bd.RecoveryTimeout
	}
	if cfg.Breaker.MonitoringWindow == 0 {
		cfg.Breaker.MonitoringWindow = bd.MonitoringWindow
	}
	if cfg.Breaker.MaxHistory == 0 {
		cfg.Breaker.MaxHistory = bd.MaxHistory
	}

	if cfg.Tracing.SampleRatio == 0 {
		cfg.Tracing.SampleRatio = 1
	}
}

// Validate checks the static room list.
func (c *AppConfig) Validate() error {
	seen := make(map[string]struct{}, len(c.Rooms))
	for i, r := range c.Rooms {
		if err := ValidateRoom(r); err != nil {
			return fmt.Errorf("rooms[%d]: %w", i, err)
		}
		if _, dup := seen[r.ID]; dup {
			return fmt.Errorf("rooms[%d]: duplicate room id %q", i, r.ID)
		}
		seen[r.ID] = struct{}{}
	}
	return nil
}

// ValidateRoom checks the fields the connection manager relies on.
func ValidateRoom(r domain.Room) error {
	switch {
	case r.ID == "":
		return fmt.Errorf("room id is required")
	case r.OwnerID == "":
		return fmt.Errorf("room %s: owner_id is required", r.ID)
	case r.OwnerSlug == "":
		return fmt.Errorf("room %s: owner_slug is required", r.ID)
	}
	return nil
}
