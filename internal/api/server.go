package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/nerrad567/spraycell-core/internal/broker"
	"github.com/nerrad567/spraycell-core/internal/infrastructure/config"
	"github.com/nerrad567/spraycell-core/internal/infrastructure/logging"
	"github.com/nerrad567/spraycell-core/internal/state"
	"github.com/nerrad567/spraycell-core/internal/tag"
)

// TagSource is the read side of the tag registry.
type TagSource interface {
	List() []tag.Tag
	Tag(name string) (tag.Tag, error)
	Status() tag.Status
}

// StateSource is the read side of the state coordinator.
type StateSource interface {
	Current() string
	ValidTransitions() []string
	History(limit int) []state.TransitionRecord
	HistoryCapacity() int
	ForcePolicy() state.ForcePolicy
}

// AuditSource reads the persisted transition log.
type AuditSource interface {
	Recent(ctx context.Context, limit int) ([]state.AuditEntry, error)
}

// Bus is the part of the message broker the server needs.
type Bus interface {
	Subscribe(pattern string, h broker.Handler) (string, error)
	Unsubscribe(id string) error
	Summary() broker.Summary
}

// ConnectionChecker reports whether an optional dependency is connected.
type ConnectionChecker interface {
	IsConnected() bool
}

// Deps are the server's collaborators. Logger, Bus, Tags and State are
// required.
type Deps struct {
	Config config.APIConfig
	WS     config.WebSocketConfig
	Logger *logging.Logger
	Bus    Bus
	Tags   TagSource
	State  StateSource

	// Optional
	Audit   AuditSource       // persisted history for /state/history?source=audit
	Metrics http.Handler      // Prometheus exposition for /metrics
	MQTT    ConnectionChecker // MQTT connection for /status
	SiteID  string
	Version string
}

// Errors returned by New and Start.
var (
	ErrMissingDependency = errors.New("api: missing dependency")
	ErrAlreadyStarted    = errors.New("api: server already started")
	ErrNotStarted        = errors.New("api: server not started")
)

// shutdownGrace bounds how long Close waits for in-flight requests.
const shutdownGrace = 10 * time.Second

// Server serves the read-only status API and the WebSocket relay.
type Server struct {
	cfg     config.APIConfig
	logger  *logging.Logger
	bus     Bus
	tags    TagSource
	state   StateSource
	audit   AuditSource
	metrics http.Handler
	mqtt    ConnectionChecker
	siteID  string
	version string

	startTime time.Time
	hub       *Hub

	mu      sync.Mutex
	httpSrv *http.Server
	ln      net.Listener
	stopHub context.CancelFunc
}

// New checks deps and builds a Server. Nothing listens until Start.
func New(deps Deps) (*Server, error) {
	var missing []error
	for name, ok := range map[string]bool{
		"logger":            deps.Logger != nil,
		"message broker":    deps.Bus != nil,
		"tag registry":      deps.Tags != nil,
		"state coordinator": deps.State != nil,
	} {
		if !ok {
			missing = append(missing, fmt.Errorf("%w: %s", ErrMissingDependency, name))
		}
	}
	if err := errors.Join(missing...); err != nil {
		return nil, err
	}

	return &Server{
		cfg:       deps.Config,
		logger:    deps.Logger,
		bus:       deps.Bus,
		tags:      deps.Tags,
		state:     deps.State,
		audit:     deps.Audit,
		metrics:   deps.Metrics,
		mqtt:      deps.MQTT,
		siteID:    deps.SiteID,
		version:   deps.Version,
		startTime: time.Now(),
		hub:       NewHub(deps.WS, deps.Logger),
	}, nil
}

// Handler returns the router. Tests serve it with httptest.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start binds the listener, attaches the hub to the broker and serves in
// the background. Bind errors are returned here.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpSrv != nil {
		return ErrAlreadyStarted
	}

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("api: listen %s: %w", addr, err)
	}
	if err := s.hub.Attach(s.bus); err != nil {
		ln.Close() //nolint:errcheck // attach error wins
		return fmt.Errorf("api: attaching websocket hub: %w", err)
	}

	hubCtx, stop := context.WithCancel(ctx)
	go s.hub.Run(hubCtx)

	t := s.cfg.Timeouts
	srv := &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       t.ReadTimeout(),
		ReadHeaderTimeout: t.ReadTimeout(),
		WriteTimeout:      t.WriteTimeout(),
		IdleTimeout:       t.IdleTimeout(),
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}
	go func() {
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server stopped", "error", err)
		}
	}()

	s.httpSrv, s.ln, s.stopHub = srv, ln, stop
	s.logger.Info("API server listening", "address", ln.Addr().String())
	return nil
}

// Addr returns the bound address, or "" when not started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Close detaches the hub, drops WebSocket clients and shuts the server
// down, waiting up to shutdownGrace for in-flight requests.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpSrv == nil {
		return nil
	}

	s.hub.Detach()
	s.stopHub()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	s.logger.Info("API server shutting down")
	err := s.httpSrv.Shutdown(ctx)
	s.httpSrv, s.ln, s.stopHub = nil, nil, nil
	if err != nil {
		return fmt.Errorf("api: shutdown: %w", err)
	}
	return nil
}

// HealthCheck returns ErrNotStarted unless the server is serving.
func (s *Server) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("api health check: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpSrv == nil {
		return ErrNotStarted
	}
	return nil
}
