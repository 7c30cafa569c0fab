// Package realtime implements the two shared realtime channels over
// websockets: a Pusher-protocol chat channel and a 7TV EventAPI channel.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vietddude/chatwatch/internal/connection"
	"github.com/vietddude/chatwatch/internal/core/domain"
	"github.com/vietddude/chatwatch/internal/infra/resilience"
)

var (
	// ErrClosed is returned when using a channel after Close.
	ErrClosed = errors.New("realtime channel closed")
	// ErrNotConnected is returned when writing without a live connection.
	ErrNotConnected = errors.New("realtime channel not connected")
)

// SocketConfig configures the websocket transport.
type SocketConfig struct {
	URL              string        `yaml:"url"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	// ReadTimeout closes the connection when nothing (frame or ping) arrives
	// for this long.
	ReadTimeout time.Duration     `yaml:"read_timeout"`
	Header      map[string]string `yaml:"header"`
}

func (c SocketConfig) withDefaults() SocketConfig {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 3 * time.Minute
	}
	return c
}

// frameHandler receives every text frame read from the connection.
type frameHandler interface {
	handleFrame(data []byte, receivedAt time.Time)
	// connectionLost is called when a connection ends or dialing gives up.
	connectionLost(err error, reconnecting bool)
}

// socket is a websocket connection that redials under the realtime
// retry preset until closed.
type socket struct {
	name    string
	cfg     SocketConfig
	monitor *resilience.Monitor
	logger  *slog.Logger
	handler frameHandler
	dialer  *websocket.Dialer

	writeMu sync.Mutex

	mu      sync.Mutex
	conn    *websocket.Conn
	running bool
	closed  bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func newSocket(name string, cfg SocketConfig, monitor *resilience.Monitor, logger *slog.Logger, h frameHandler) *socket {
	cfg = cfg.withDefaults()
	return &socket{
		name:    name,
		cfg:     cfg,
		monitor: monitor,
		logger:  logger,
		handler: h,
		dialer:  &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout, Proxy: http.ProxyFromEnvironment},
	}
}

// start launches the dial/read loop. It returns immediately; progress is
// reported through the frame handler.
func (s *socket) start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.running = true
	s.closed = false

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx, s.done)
	return nil
}

func (s *socket) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	for {
		conn, err := resilience.Execute(ctx, s.monitor, resilience.Options{
			Operation:   "realtime." + s.name + ".dial",
			Component:   resilience.ComponentWebsocket,
			Policy:      resilience.PolicyRealtimeChannel,
			SkipBreaker: true,
		}, s.dial)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Error("Giving up on realtime connection", "channel", s.name, "error", err)
			}
			s.handler.connectionLost(err, false)
			return
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = conn.Close()
			return
		}
		s.conn = conn
		s.mu.Unlock()

		s.logger.Info("Realtime channel connected", "channel", s.name, "url", s.cfg.URL)
		err = s.readLoop(conn)

		s.mu.Lock()
		s.conn = nil
		closed := s.closed
		s.mu.Unlock()
		_ = conn.Close()

		reconnecting := !closed && ctx.Err() == nil
		s.handler.connectionLost(err, reconnecting)
		if !reconnecting {
			return
		}
		s.logger.Warn("Realtime connection lost, reconnecting", "channel", s.name, "error", err)
	}
}

func (s *socket) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	for k, v := range s.cfg.Header {
		header.Set(k, v)
	}
	conn, resp, err := s.dialer.DialContext(ctx, s.cfg.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w", s.name, &handshakeError{status: resp.StatusCode, err: err})
		}
		return nil, fmt.Errorf("dial %s: %w", s.name, err)
	}
	return conn, nil
}

func (s *socket) readLoop(conn *websocket.Conn) error {
	extend := func() { _ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout)) }
	extend()
	conn.SetPingHandler(func(data string) error {
		extend()
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return resilience.Tag(err, resilience.ComponentWebsocket)
		}
		extend()
		s.handler.handleFrame(data, time.Now())
	}
}

// writeJSON sends v on the current connection.
func (s *socket) writeJSON(v any) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	return conn.WriteJSON(v)
}

// drop closes the current connection so the loop redials.
func (s *socket) drop() {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// close stops the loop and waits for it to exit.
func (s *socket) close() error {
	s.mu.Lock()
	if s.closed || !s.running {
		s.closed = true
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conn := s.conn
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	cancel()
	if conn != nil {
		s.writeMu.Lock()
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		s.writeMu.Unlock()
		_ = conn.Close()
	}
	<-done
	return nil
}

type handshakeError struct {
	status int
	err    error
}

func (e *handshakeError) Error() string   { return fmt.Sprintf("handshake status %d: %v", e.status, e.err) }
func (e *handshakeError) Unwrap() error   { return e.err }
func (e *handshakeError) HTTPStatus() int { return e.status }

// listeners fans channel events out to registered callbacks.
type listeners struct {
	mu     sync.RWMutex
	nextID int
	fns    map[int]connection.EventListener
}

func (l *listeners) add(fn connection.EventListener) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fns == nil {
		l.fns = make(map[int]connection.EventListener)
	}
	id := l.nextID
	l.nextID++
	l.fns[id] = fn
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.fns, id)
	}
}

func (l *listeners) emit(ev domain.ChannelEvent) {
	l.mu.RLock()
	fns := make([]connection.EventListener, 0, len(l.fns))
	for _, fn := range l.fns {
		fns = append(fns, fn)
	}
	l.mu.RUnlock()
	for _, fn := range fns {
		fn(ev)
	}
}
