package config

import (
	"time"

	"github.com/vietddude/chatwatch/internal/connection"
	"github.com/vietddude/chatwatch/internal/core/domain"
	"github.com/vietddude/chatwatch/internal/core/worker"
	redisclient "github.com/vietddude/chatwatch/internal/infra/redis"
	"github.com/vietddude/chatwatch/internal/infra/resilience"
	"github.com/vietddude/chatwatch/internal/infra/storage/postgres"
	"github.com/vietddude/chatwatch/internal/logging"
	"github.com/vietddude/chatwatch/internal/telemetry"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server    ServerConfig             `yaml:"server"`
	Logging   logging.Config           `yaml:"logging"`
	Kick      KickConfig               `yaml:"kick"`
	SevenTV   SevenTVConfig            `yaml:"seventv"`
	Bootstrap BootstrapConfig          `yaml:"bootstrap"`
	Breaker   resilience.BreakerConfig `yaml:"breaker"`
	Redis     redisclient.Config       `yaml:"redis"`
	Database  postgres.Config          `yaml:"database"`
	Tracing   telemetry.Config         `yaml:"tracing"`
	Rooms     []domain.Room            `yaml:"rooms"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// KickConfig holds the Kick REST and Pusher endpoints.
type KickConfig struct {
	APIURL    string        `yaml:"api_url"`
	PusherURL string        `yaml:"pusher_url"`
	Timeout   time.Duration `yaml:"timeout"`
	UserAgent string        `yaml:"user_agent"`
}

// SevenTVConfig holds the 7TV REST and EventAPI endpoints.
type SevenTVConfig struct {
	APIURL      string        `yaml:"api_url"`
	EventAPIURL string        `yaml:"eventapi_url"`
	Timeout     time.Duration `yaml:"timeout"`
}

// BootstrapConfig holds room bootstrap and refresh settings.
type BootstrapConfig struct {
	connection.Config `yaml:",inline"`
	Refresh           worker.RefresherConfig `yaml:"refresh"`
}
