package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/vietddude/chatwatch/internal/connection"
	"github.com/vietddude/chatwatch/internal/core/config"
	"github.com/vietddude/chatwatch/internal/core/domain"
	"github.com/vietddude/chatwatch/internal/core/worker"
	"github.com/vietddude/chatwatch/internal/health"
	"github.com/vietddude/chatwatch/internal/infra/fetch"
	"github.com/vietddude/chatwatch/internal/infra/kick"
	"github.com/vietddude/chatwatch/internal/infra/realtime"
	redisclient "github.com/vietddude/chatwatch/internal/infra/redis"
	"github.com/vietddude/chatwatch/internal/infra/resilience"
	"github.com/vietddude/chatwatch/internal/infra/seventv"
	"github.com/vietddude/chatwatch/internal/infra/storage"
	"github.com/vietddude/chatwatch/internal/infra/storage/memory"
	"github.com/vietddude/chatwatch/internal/infra/storage/postgres"
	"github.com/vietddude/chatwatch/internal/telemetry"
)

// ServiceName identifies the process in traces.
const ServiceName = "chatwatch"

// Config holds the application configuration.
type Config struct {
	Port      int
	Version   string
	Kick      config.KickConfig
	SevenTV   config.SevenTVConfig
	Bootstrap config.BootstrapConfig
	Breaker   resilience.BreakerConfig
	Redis     redisclient.Config
	Database  postgres.Config
	Tracing   telemetry.Config
	Rooms     []domain.Room
}

// FromAppConfig maps the file configuration onto Config.
func FromAppConfig(cfg *config.AppConfig, version string) Config {
	return Config{
		Port:      cfg.Server.Port,
		Version:   version,
		Kick:      cfg.Kick,
		SevenTV:   cfg.SevenTV,
		Bootstrap: cfg.Bootstrap,
		Breaker:   cfg.Breaker,
		Redis:     cfg.Redis,
		Database:  cfg.Database,
		Tracing:   cfg.Tracing,
		Rooms:     cfg.Rooms,
	}
}

// Watcher is the main application struct that manages the chat watcher
// lifecycle.
type Watcher struct {
	cfg          Config
	monitor      *resilience.Monitor
	manager      *connection.Manager
	store        *memory.MemoryStorage
	sink         connection.Store
	rooms        storage.RoomRepository
	refresher    *worker.Refresher
	healthMon    *health.Monitor
	healthServer *health.Server
	db           *postgres.DB
	redisClient  *redisclient.Client
	shutdownTrc  func(context.Context) error
	cancel       context.CancelFunc
	log          *slog.Logger
}

// NewWatcher creates a new Watcher instance with all dependencies initialized.
func NewWatcher(ctx context.Context, cfg Config) (*Watcher, error) {
	log := slog.Default()

	// 1. Tracing
	shutdownTrc, err := telemetry.Init(ctx, cfg.Tracing, ServiceName, cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("failed to init tracing: %w", err)
	}

	// 2. Storage
	store := memory.NewMemoryStorage()
	var rooms storage.RoomRepository
	var sink connection.Store = store
	var db *postgres.DB

	if cfg.Database.URL != "" {
		db, err = postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		repo := postgres.NewRoomRepo(db)
		rooms = repo
		sink = &persistingStore{MemoryStorage: store, rooms: repo, log: log}
		log.Info("Using PostgreSQL room registry")
	} else {
		repo := memory.NewRoomRepo(store)
		for _, r := range cfg.Rooms {
			if err := repo.Save(ctx, r); err != nil {
				return nil, err
			}
		}
		rooms = repo
		log.Info("Using in-memory room registry", "rooms", len(cfg.Rooms))
	}

	// 3. Optional shared emote cache
	var emoteCache fetch.EmoteCache
	var redisClient *redisclient.Client
	if cfg.Redis.URL != "" {
		redisClient, err = redisclient.NewClient(ctx, cfg.Redis)
		if err != nil {
			log.Warn("Failed to connect to Redis, shared emote cache disabled", "error", err)
		} else {
			emoteCache = redisClient
		}
	}

	// 4. Upstream APIs
	kickClient, err := kick.NewClient(kick.Config{
		BaseURL:   cfg.Kick.APIURL,
		Timeout:   cfg.Kick.Timeout,
		UserAgent: cfg.Kick.UserAgent,
	})
	if err != nil {
		return nil, err
	}
	stvClient, err := seventv.NewClient(seventv.Config{
		BaseURL: cfg.SevenTV.APIURL,
		Timeout: cfg.SevenTV.Timeout,
	})
	if err != nil {
		return nil, err
	}
	fetcher := fetch.New(kickClient, stvClient, emoteCache, log)

	// 5. Resilience, channels and the connection manager
	monitor := resilience.NewMonitor(cfg.Breaker, log)
	chat := realtime.NewPusherChannel(realtime.SocketConfig{URL: cfg.Kick.PusherURL}, monitor, log)
	aux := realtime.NewEventAPIChannel(realtime.SocketConfig{URL: cfg.SevenTV.EventAPIURL}, monitor, log)
	manager := connection.NewManager(cfg.Bootstrap.Config, chat, aux, fetcher, monitor, log)
	manager.SetTransitionCallback(func(t connection.Transition) {
		log.Debug("Room state changed", "room", t.RoomID, "from", t.From, "to", t.To, "reason", t.Reason)
	})

	// 6. Health
	healthMon := health.NewMonitor(manager, monitor, map[string]health.APISource{
		kick.APIName:    kickClient.Monitor(),
		seventv.APIName: stvClient.Monitor(),
	})

	w := &Watcher{
		cfg:         cfg,
		monitor:     monitor,
		manager:     manager,
		store:       store,
		sink:        sink,
		rooms:       rooms,
		refresher:   worker.NewRefresher(cfg.Bootstrap.Refresh, manager, log),
		healthMon:   healthMon,
		db:          db,
		redisClient: redisClient,
		shutdownTrc: shutdownTrc,
		log:         log,
	}
	w.healthServer = health.NewServer(healthMon, cfg.Port, health.ServerOptions{
		Rooms: func(id string) (any, bool) { return store.Snapshot(id) },
		Admin: w,
	})
	return w, nil
}

// Manager exposes the connection manager.
func (w *Watcher) Manager() *connection.Manager { return w.manager }

// Store exposes the in-memory room state.
func (w *Watcher) Store() *memory.MemoryStorage { return w.store }

// Handler returns the health server routes.
func (w *Watcher) Handler() http.Handler { return w.healthServer.Handler() }

// Start starts the health server, bootstraps every registered room and
// launches background workers. It returns once bootstrap has finished.
func (w *Watcher) Start(ctx context.Context) error {
	ctx, w.cancel = context.WithCancel(ctx)

	// Start Health Server
	go func() {
		if err := w.healthServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			w.log.Error("Health server failed", "error", err)
		}
	}()
	go w.healthMon.Start(ctx, 15*time.Second)

	// Start DB Metrics Collector
	if w.db != nil {
		w.db.StartMetricsCollector(ctx)
	}

	rooms, err := w.rooms.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to load rooms: %w", err)
	}
	w.log.Info("Loaded watched rooms", "count", len(rooms))

	handler := connection.EventHandlerFuncs{Chat: w.handleChatEvent, Aux: w.handleAuxEvent}
	if err := w.manager.Initialize(ctx, rooms, handler, w.sink); err != nil {
		return fmt.Errorf("failed to bootstrap rooms: %w", err)
	}

	go w.refresher.Start(ctx)
	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop(ctx context.Context) error {
	w.log.Info("Stopping Watcher...")

	if w.cancel != nil {
		w.cancel()
	}
	if err := w.manager.Close(); err != nil {
		w.log.Warn("Failed to close connection manager", "error", err)
	}

	var errs []error
	if err := w.healthServer.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("health server: %w", err))
	}

	// Close Redis
	if w.redisClient != nil {
		if err := w.redisClient.Close(); err != nil {
			w.log.Warn("Failed to close Redis", "error", err)
		}
	}
	if w.db != nil {
		if err := w.db.Close(); err != nil {
			w.log.Warn("Failed to close database", "error", err)
		}
	}
	if err := w.shutdownTrc(ctx); err != nil {
		errs = append(errs, fmt.Errorf("tracing: %w", err))
	}
	return errors.Join(errs...)
}

// AddRoom registers a room and starts watching it.
func (w *Watcher) AddRoom(ctx context.Context, room domain.Room) error {
	if err := config.ValidateRoom(room); err != nil {
		return err
	}
	if err := w.rooms.Save(ctx, room); err != nil {
		return err
	}
	w.manager.AddRoom(room)
	return nil
}

// RemoveRoom stops watching a room and drops it from the registry.
func (w *Watcher) RemoveRoom(ctx context.Context, roomID string) error {
	if err := w.rooms.Delete(ctx, roomID); err != nil {
		return err
	}
	w.manager.RemoveRoom(roomID)
	w.store.Forget(roomID)
	return nil
}

func (w *Watcher) handleChatEvent(ev domain.ChannelEvent) {
	switch ev.Type {
	case domain.EventMessage:
		if ev.Name != realtime.ChatMessageEvent || ev.RoomID == "" {
			return
		}
		msg, err := kick.DecodeMessage(ev.Data)
		if err != nil {
			w.monitor.RecordError(resilience.Tag(err, resilience.ComponentWebsocket), resilience.Call{
				Operation: "chat.decode_message",
				Component: resilience.ComponentWebsocket,
				User:      ev.RoomID,
			}, 1)
			return
		}
		w.store.AppendMessage(ev.RoomID, msg)
	case domain.EventSubscriptionSuccess:
		w.log.Debug("Chat subscription confirmed", "channel", ev.Channel)
	}
}

func (w *Watcher) handleAuxEvent(ev domain.ChannelEvent) {
	if ev.Type == domain.EventMessage {
		w.log.Debug("Emote event", "room", ev.RoomID, "type", ev.Name)
	}
}

// persistingStore mirrors live status into the room registry so restarts
// prioritize rooms that were live.
type persistingStore struct {
	*memory.MemoryStorage
	rooms storage.RoomRepository
	log   *slog.Logger
}

func (s *persistingStore) OnLiveStatusChanged(roomID string, raw json.RawMessage, isLive bool) {
	s.MemoryStorage.OnLiveStatusChanged(roomID, raw, isLive)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.rooms.SetLive(ctx, roomID, isLive); err != nil && !errors.Is(err, storage.ErrRoomNotFound) {
		s.log.Warn("Failed to persist live status", "room", roomID, "error", err)
	}
}
