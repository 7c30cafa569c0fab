package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vietddude/chatwatch/internal/core/domain"
	"github.com/vietddude/chatwatch/internal/infra/storage"
)

// RoomLookup returns the stored state of a room.
type RoomLookup func(roomID string) (any, bool)

// RoomAdmin adds and removes watched rooms at runtime.
type RoomAdmin interface {
	AddRoom(ctx context.Context, room domain.Room) error
	RemoveRoom(ctx context.Context, roomID string) error
}

// ServerOptions configures the optional routes. Nil fields disable them.
type ServerOptions struct {
	Rooms RoomLookup
	Admin RoomAdmin
}

// Server provides HTTP endpoints for health monitoring.
type Server struct {
	monitor *Monitor
	opts    ServerOptions
	server  *http.Server
}

// NewServer creates a new health server.
func NewServer(monitor *Monitor, port int, opts ServerOptions) *Server {
	s := &Server{monitor: monitor, opts: opts}
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the route mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /health/detailed", s.handleDetailed)
	mux.HandleFunc("GET /health/errors", s.handleErrors)
	mux.HandleFunc("GET /rooms/{id}", s.handleRoom)
	mux.HandleFunc("POST /rooms", s.handleAddRoom)
	mux.HandleFunc("DELETE /rooms/{id}", s.handleRemoveRoom)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.monitor.CheckHealth(r.Context())

	code := http.StatusOK
	if report.SystemStatus == StatusCritical {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{"status": string(report.SystemStatus)})
}

func (s *Server) handleDetailed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.monitor.CheckHealth(r.Context()))
}

func (s *Server) handleErrors(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, s.monitor.RecentErrors(limit))
}

func (s *Server) handleRoom(w http.ResponseWriter, r *http.Request) {
	if s.opts.Rooms == nil {
		http.NotFound(w, r)
		return
	}
	snap, ok := s.opts.Rooms(r.PathValue("id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "room not found"})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleAddRoom(w http.ResponseWriter, r *http.Request) {
	if s.opts.Admin == nil {
		http.NotFound(w, r)
		return
	}
	var room domain.Room
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&room); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid room: " + err.Error()})
		return
	}
	if err := s.opts.Admin.AddRoom(r.Context(), room); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, room)
}

func (s *Server) handleRemoveRoom(w http.ResponseWriter, r *http.Request) {
	if s.opts.Admin == nil {
		http.NotFound(w, r)
		return
	}
	err := s.opts.Admin.RemoveRoom(r.Context(), r.PathValue("id"))
	switch {
	case errors.Is(err, storage.ErrRoomNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
