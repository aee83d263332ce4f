// Package server exposes the Souffleur backend over HTTP: the /ws WebSocket
// endpoint the advisor frontend connects to, plus health and metrics routes.
//
// Each WebSocket connection owns at most one advisory session. The client
// drives the lifecycle with JSON commands (start, stop, ping); the server
// pushes status, transcript, and insight events back over the same socket.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/souffleur-ai/souffleur/internal/copilot"
	"github.com/souffleur-ai/souffleur/internal/health"
	"github.com/souffleur-ai/souffleur/internal/observe"
)

// writeTimeout bounds a single outbound WebSocket write. A client that stops
// reading for longer than this gets disconnected instead of stalling the
// session loop.
const writeTimeout = 10 * time.Second

// shutdownTimeout bounds graceful HTTP shutdown once the run context ends.
const shutdownTimeout = 10 * time.Second

// SessionFactory builds a session for one started connection. id is the
// server-assigned session identifier, language the recognition language from
// the start command, and sink the connection-backed event sink the session
// reports into.
type SessionFactory func(id, language string, sink copilot.Sink) (*copilot.Session, error)

// Config carries the server's dependencies. Factory is required.
type Config struct {
	// Addr is the TCP listen address. Defaults to ":8080".
	Addr string

	// Factory creates a session per start command.
	Factory SessionFactory

	// Health serves /healthz and /readyz. Nil disables both routes.
	Health *health.Handler

	// DefaultLanguage is used when a start command carries no language.
	// Defaults to "de".
	DefaultLanguage string

	// TLSCertFile and TLSKeyFile enable HTTPS when both are set.
	TLSCertFile string
	TLSKeyFile  string

	// Logger defaults to slog.Default.
	Logger *slog.Logger

	// Metrics defaults to observe.DefaultMetrics.
	Metrics *observe.Metrics
}

// Server is the HTTP front of the Souffleur backend.
type Server struct {
	cfg     Config
	log     *slog.Logger
	metrics *observe.Metrics
	httpSrv *http.Server
}

// New creates a Server from cfg.
func New(cfg Config) (*Server, error) {
	if cfg.Factory == nil {
		return nil, errors.New("server: session factory is required")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.DefaultLanguage == "" {
		cfg.DefaultLanguage = "de"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}

	s := &Server{
		cfg:     cfg,
		log:     cfg.Logger,
		metrics: cfg.Metrics,
	}
	s.httpSrv = &http.Server{
		Addr:    cfg.Addr,
		Handler: s.Handler(),
	}
	return s, nil
}

// Handler returns the full route set. The WebSocket endpoint is mounted
// outside the observability middleware; a span spanning a whole advisory
// call would be useless, and the session records its own metrics.
func (s *Server) Handler() http.Handler {
	instrumented := http.NewServeMux()
	if s.cfg.Health != nil {
		s.cfg.Health.Register(instrumented)
	}
	instrumented.Handle("GET /metrics", promhttp.Handler())

	root := http.NewServeMux()
	root.HandleFunc("GET /ws", s.handleWS)
	root.Handle("/", observe.Middleware(s.metrics)(instrumented))
	return root
}

// Run serves until ctx is cancelled, then shuts down gracefully. Open
// WebSocket connections are closed by the shutdown; their sessions flush
// through their own stop path.
func (s *Server) Run(ctx context.Context) error {
	s.log.Info("server listening", slog.String("addr", s.cfg.Addr))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if s.cfg.TLSCertFile != "" && s.cfg.TLSKeyFile != "" {
			err = s.httpSrv.ListenAndServeTLS(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
		} else {
			err = s.httpSrv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: listen: %w", err)
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// handleWS upgrades the connection and runs its command loop until the
// client disconnects.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// The advisor frontend is served from a different origin in
		// development; access control happens upstream.
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.log.Warn("websocket accept failed", slog.Any("error", err))
		return
	}

	c := &client{
		conn:        conn,
		factory:     s.cfg.Factory,
		defaultLang: s.cfg.DefaultLanguage,
		log:         s.log,
	}
	c.run(r.Context())
}

// client is the per-connection state: the socket, the write lock, and the
// at-most-one session bound to it.
type client struct {
	conn        *websocket.Conn
	factory     SessionFactory
	defaultLang string
	log         *slog.Logger

	writeMu sync.Mutex

	mu          sync.Mutex
	session     *copilot.Session
	sessionDone chan struct{}
}

var _ copilot.Sink = (*client)(nil)

// run reads commands until the socket closes, then stops any live session.
func (c *client) run(ctx context.Context) {
	defer c.conn.Close(websocket.StatusNormalClosure, "")
	defer c.stopSession(true)

	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			// Disconnect, close frame, or request context cancellation.
			return
		}

		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			// Malformed control messages are ignored; the session, if any,
			// keeps running.
			c.log.Debug("ignoring malformed command", slog.Any("error", err))
			continue
		}
		c.handleCommand(ctx, cmd)
	}
}

func (c *client) handleCommand(ctx context.Context, cmd Command) {
	switch cmd.Action {
	case ActionStart:
		c.startSession(ctx, cmd.Language)
	case ActionStop:
		c.stopSession(false)
	case ActionPing:
		c.writeEvent(Event{Type: EventPong})
	default:
		c.log.Debug("ignoring unknown action", slog.String("action", cmd.Action))
	}
}

// startSession replaces any running session with a fresh one. The old
// session flushes and closes fully before the new engine starts, so the two
// never hold the transcription engine at the same time.
func (c *client) startSession(ctx context.Context, language string) {
	c.stopSession(true)

	if language == "" {
		language = c.defaultLang
	}
	id := uuid.NewString()

	sess, err := c.factory(id, language, c)
	if err != nil {
		c.log.Error("creating session", slog.Any("error", err))
		c.writeEvent(Event{Type: EventStatus, Data: copilot.StatusError})
		return
	}

	done := make(chan struct{})
	c.mu.Lock()
	c.session = sess
	c.sessionDone = done
	c.mu.Unlock()

	go func() {
		defer close(done)
		if err := sess.Run(ctx); err != nil {
			c.log.Error("session ended with error",
				slog.String("session", id),
				slog.Any("error", err),
			)
		}
	}()
}

// stopSession stops the bound session if one is live. With wait set it
// blocks until the session has fully closed.
//
// A non-waiting stop keeps sessionDone around: the session is still
// flushing, and a later start must be able to wait for it before opening a
// fresh engine stream.
func (c *client) stopSession(wait bool) {
	c.mu.Lock()
	sess := c.session
	done := c.sessionDone
	c.session = nil
	if wait {
		c.sessionDone = nil
	}
	c.mu.Unlock()

	if sess != nil {
		sess.Stop()
	}
	if wait && done != nil {
		<-done
	}
}

// Status implements copilot.Sink.
func (c *client) Status(sessionID, status string) {
	c.writeEvent(Event{Type: EventStatus, Data: status})
}

// Transcript implements copilot.Sink.
func (c *client) Transcript(sessionID, fullText string) {
	c.writeEvent(Event{Type: EventTranscript, Data: fullText})
}

// Insight implements copilot.Sink.
func (c *client) Insight(sessionID, text string) {
	c.writeEvent(Event{Type: EventInsight, Data: text})
}

// writeEvent serialises one event onto the socket. Events may come from the
// read loop and the session goroutine concurrently, hence the write lock.
// The timeout context is independent of the request context so the final
// flush still reaches a client whose request is already winding down.
func (c *client) writeEvent(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		c.log.Error("encoding event", slog.Any("error", err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		c.log.Debug("writing event", slog.String("type", ev.Type), slog.Any("error", err))
	}
}
