package worker

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vietddude/chatwatch/internal/core/domain"
	"github.com/vietddude/chatwatch/internal/metrics"
)

// RoomSource lists hydrated rooms and refreshes their live status.
type RoomSource interface {
	ReadyRooms() []domain.Room
	RefreshLiveStatus(ctx context.Context, roomID string) error
}

// RefresherConfig configures the live status refresher.
type RefresherConfig struct {
	Interval    time.Duration `yaml:"interval"`
	Concurrency int           `yaml:"concurrency"`
}

// Refresher periodically re-fetches the live status of every ready room so
// the store stays current after bootstrap.
type Refresher struct {
	cfg    RefresherConfig
	rooms  RoomSource
	logger *slog.Logger
}

// NewRefresher creates a new Refresher worker.
func NewRefresher(cfg RefresherConfig, rooms RoomSource, logger *slog.Logger) *Refresher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Refresher{
		cfg:    cfg,
		rooms:  rooms,
		logger: logger.With("component", "refresher"),
	}
}

// Start runs the refresh loop. A non-positive interval disables it.
func (r *Refresher) Start(ctx context.Context) {
	if r.cfg.Interval <= 0 {
		return
	}

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep refreshes every ready room once and returns the number of failures.
// Failures are logged; they never stop the sweep.
func (r *Refresher) Sweep(ctx context.Context) int {
	rooms := r.rooms.ReadyRooms()
	if len(rooms) == 0 {
		return 0
	}

	failed := make([]bool, len(rooms))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)
	for i, room := range rooms {
		g.Go(func() error {
			if err := r.rooms.RefreshLiveStatus(gctx, room.ID); err != nil {
				failed[i] = true
				metrics.LiveRefreshes.WithLabelValues("error").Inc()
				r.logger.Warn("Failed to refresh live status", "room", room.ID, "owner", room.OwnerSlug, "error", err)
				return nil
			}
			metrics.LiveRefreshes.WithLabelValues("ok").Inc()
			return nil
		})
	}
	_ = g.Wait()

	n := 0
	for _, f := range failed {
		if f {
			n++
		}
	}
	r.logger.Debug("Live status sweep finished", "rooms", len(rooms), "failed", n)
	return n
}
