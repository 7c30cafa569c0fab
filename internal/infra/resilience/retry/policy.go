package retry

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/vietddude/chatwatch/internal/infra/resilience/fault"
)

// Predicate decides whether a failed attempt should be retried.
type Predicate func(err error) bool

// Policy is a named retry preset.
type Policy struct {
	Name         string
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
	ShouldRetry  Predicate
}

// Preset names.
const (
	NameNetwork           = "network"
	NameAPI               = "api"
	NameRealtimeChannel   = "realtime-channel"
	NameThirdPartyService = "third-party-service"
	NameLocalStorage      = "local-storage"
	NameDefault           = "default"
)

// Network retries connection failures and 5xx responses.
var Network = Policy{
	Name:         NameNetwork,
	MaxAttempts:  5,
	InitialDelay: 1000 * time.Millisecond,
	MaxDelay:     30000 * time.Millisecond,
	Multiplier:   2,
	Jitter:       true,
	ShouldRetry: func(err error) bool {
		d := fault.Inspect(err)
		return fault.IsConnectionCode(d.Code) || isServerError(d.Status)
	},
}

// API retries 5xx, 429 and 408 responses.
var API = Policy{
	Name:         NameAPI,
	MaxAttempts:  3,
	InitialDelay: 500 * time.Millisecond,
	MaxDelay:     5000 * time.Millisecond,
	Multiplier:   2,
	Jitter:       true,
	ShouldRetry: func(err error) bool {
		s := fault.Inspect(err).Status
		return isServerError(s) || s == http.StatusTooManyRequests || s == http.StatusRequestTimeout
	},
}

// RealtimeChannel retries everything except an explicit "unauthorized".
var RealtimeChannel = Policy{
	Name:         NameRealtimeChannel,
	MaxAttempts:  10,
	InitialDelay: 2000 * time.Millisecond,
	MaxDelay:     60000 * time.Millisecond,
	Multiplier:   1.5,
	Jitter:       true,
	ShouldRetry: func(err error) bool {
		return !strings.Contains(strings.ToLower(err.Error()), "unauthorized")
	},
}

// ThirdPartyService retries 5xx, 429 and transport failures.
var ThirdPartyService = Policy{
	Name:         NameThirdPartyService,
	MaxAttempts:  3,
	InitialDelay: 1000 * time.Millisecond,
	MaxDelay:     10000 * time.Millisecond,
	Multiplier:   2,
	Jitter:       true,
	ShouldRetry: func(err error) bool {
		d := fault.Inspect(err)
		return isServerError(d.Status) || d.Status == http.StatusTooManyRequests || d.Network
	},
}

// LocalStorage retries quota and temporary failures. Matching is
// case-sensitive.
var LocalStorage = Policy{
	Name:         NameLocalStorage,
	MaxAttempts:  3,
	InitialDelay: 100 * time.Millisecond,
	MaxDelay:     1000 * time.Millisecond,
	Multiplier:   2,
	Jitter:       false,
	ShouldRetry: func(err error) bool {
		msg := err.Error()
		return strings.Contains(msg, "quota") || strings.Contains(msg, "temporary")
	},
}

// Default always retries.
var Default = Policy{
	Name:         NameDefault,
	MaxAttempts:  3,
	InitialDelay: 1000 * time.Millisecond,
	MaxDelay:     5000 * time.Millisecond,
	Multiplier:   2,
	Jitter:       true,
	ShouldRetry:  func(error) bool { return true },
}

var presets = map[string]Policy{
	NameNetwork:           Network,
	NameAPI:               API,
	NameRealtimeChannel:   RealtimeChannel,
	NameThirdPartyService: ThirdPartyService,
	NameLocalStorage:      LocalStorage,
	NameDefault:           Default,
}

// ErrUnknownPolicy is returned by Lookup for names without a preset.
var ErrUnknownPolicy = errors.New("unknown retry policy")

// Lookup returns the preset registered under name.
func Lookup(name string) (Policy, error) {
	p, ok := presets[name]
	if !ok {
		return Policy{}, ErrUnknownPolicy
	}
	return p, nil
}

// Presets returns the names of all registered presets.
func Presets() []string {
	return []string{NameNetwork, NameAPI, NameRealtimeChannel, NameThirdPartyService, NameLocalStorage, NameDefault}
}

func isServerError(status int) bool {
	return status >= 500 && status <= 599
}
