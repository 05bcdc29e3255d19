// Package bridge connects a presentation layer to a running engine over a
// websocket. The server pushes snapshots and notifications and accepts
// commands; Dial returns a client for the same protocol.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/tonimelisma/playtrack/internal/engine"
	"github.com/tonimelisma/playtrack/internal/metrics"
	"github.com/tonimelisma/playtrack/internal/notify"
)

const (
	// outboxSize bounds the messages queued for one client. A client that
	// falls this far behind is disconnected.
	outboxSize = 64

	writeTimeout    = 5 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Message types.
const (
	TypeSnapshot     = "snapshot"
	TypeNotification = "notification"
	TypeCommand      = "command"
	TypeAck          = "ack"
	TypeError        = "error"
)

// Envelope is the single wire message shape in both directions.
type Envelope struct {
	Type         string               `json:"type"`
	ID           string               `json:"id,omitempty"`
	Snapshot     *engine.Snapshot     `json:"snapshot,omitempty"`
	Notification *notify.Notification `json:"notification,omitempty"`
	Command      *engine.Command      `json:"command,omitempty"`
	Error        string               `json:"error,omitempty"`
}

// Engine is what the server needs from the engine.
type Engine interface {
	Subscribe(l engine.Listener) func()
	Execute(ctx context.Context, cmd engine.Command) error
}

// ServerConfig holds a Server's collaborators.
type ServerConfig struct {
	Engine  Engine
	Metrics *metrics.Metrics // nil disables /metrics
	Logger  *slog.Logger
}

// Server serves /ws, /healthz and optionally /metrics.
type Server struct {
	engine  Engine
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu  sync.Mutex
	srv *http.Server
}

// NewServer creates a Server. Call Start to listen.
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{engine: cfg.Engine, metrics: cfg.Metrics, logger: logger}
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.serveWS)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	return mux
}

// Start listens on addr and serves in the background. It returns the bound
// address, which differs from addr when addr uses port 0.
func (s *Server) Start(ctx context.Context, addr string) (string, error) {
	lc := net.ListenConfig{}

	listener, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return "", fmt.Errorf("bridge: listening on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: shutdownTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	s.mu.Lock()
	s.srv = srv
	s.mu.Unlock()

	bound := listener.Addr().String()
	s.logger.Info("bridge listening", slog.String("addr", bound))

	go func() {
		if serveErr := srv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			s.logger.Error("bridge server stopped", slog.String("error", serveErr.Error()))
		}
	}()

	return bound, nil
}

// Shutdown stops accepting connections and closes the listener. Open
// websockets end when their request context is cancelled.
func (s *Server) Shutdown() error {
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("bridge: shutting down: %w", err)
	}

	return nil
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket accept failed", slog.String("error", err.Error()))
		return
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := &client{outbox: make(chan Envelope, outboxSize), cancel: cancel}

	if s.metrics != nil {
		s.metrics.BridgeClients.Inc()
		defer s.metrics.BridgeClients.Dec()
	}

	s.logger.Debug("bridge client connected", slog.String("remote", r.RemoteAddr))

	unsubscribe := s.engine.Subscribe(c)
	defer unsubscribe()

	go s.readLoop(ctx, conn, c)

	err = s.writeLoop(ctx, conn, c)

	switch {
	case c.overflowed():
		s.logger.Warn("bridge client too slow, disconnecting", slog.String("remote", r.RemoteAddr))
		conn.Close(websocket.StatusPolicyViolation, "client too slow")
	case err != nil && websocket.CloseStatus(err) == -1 && ctx.Err() == nil:
		s.logger.Debug("bridge write failed", slog.String("error", err.Error()))
	default:
		conn.Close(websocket.StatusNormalClosure, "")
	}

	s.logger.Debug("bridge client disconnected", slog.String("remote", r.RemoteAddr))
}

// readLoop executes inbound commands and queues their replies.
func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, c *client) {
	defer c.cancel()

	for {
		var in Envelope
		if err := wsjson.Read(ctx, conn, &in); err != nil {
			return
		}

		if in.Type != TypeCommand || in.Command == nil {
			c.send(Envelope{Type: TypeError, ID: in.ID, Error: "expected a command message"})
			continue
		}

		reply := Envelope{Type: TypeAck, ID: in.ID}
		if err := s.engine.Execute(ctx, *in.Command); err != nil {
			reply = Envelope{Type: TypeError, ID: in.ID, Error: err.Error()}
		}

		c.send(reply)
	}
}

func (s *Server) writeLoop(ctx context.Context, conn *websocket.Conn, c *client) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-c.outbox:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, conn, msg)
			cancel()

			if err != nil {
				return err
			}
		}
	}
}

// client is one connection's engine.Listener.
type client struct {
	outbox chan Envelope
	cancel context.CancelFunc

	mu       sync.Mutex
	overflow bool
}

func (c *client) OnSnapshot(snap engine.Snapshot) {
	c.send(Envelope{Type: TypeSnapshot, Snapshot: &snap})
}

func (c *client) OnNotification(n notify.Notification) {
	c.send(Envelope{Type: TypeNotification, Notification: &n})
}

// send queues msg without blocking the engine.
func (c *client) send(msg Envelope) {
	select {
	case c.outbox <- msg:
	default:
		c.mu.Lock()
		c.overflow = true
		c.mu.Unlock()
		c.cancel()
	}
}

func (c *client) overflowed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.overflow
}
