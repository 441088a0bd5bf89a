// Package api provides the HTTP REST surface for CrewLink.
//
// It exposes identity administration, per-collection document CRUD with
// version acknowledgement, backup management, and presence views to web
// dashboards and operator tooling. Real-time traffic stays on the
// websocket hub; this server handles everything request/response shaped.
//
// The server follows the same lifecycle pattern as the other
// infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"crewlink/internal/backup"
	"crewlink/internal/collection"
	"crewlink/internal/hub"
	"crewlink/internal/identity"
	"crewlink/internal/infrastructure/config"
	"crewlink/internal/infrastructure/logging"
	"crewlink/internal/presence"
	"crewlink/internal/version"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight
// requests to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Notifier pushes collection-version updates and targeted frames to
// live websocket connections. Satisfied by *hub.Hub; an interface so
// tests can observe pushes without a running hub.
type Notifier interface {
	// NotifyUpdate bumps a collection's version and pushes the change.
	NotifyUpdate(collection string)

	// PushUpdate pushes a collection's current version without bumping,
	// for callers that have already moved the ledger themselves.
	PushUpdate(collection string)

	SendTo(id string, ev hub.Event) bool
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config     config.ServerConfig
	Security   config.SecurityConfig
	Logger     *logging.Logger
	Identities *identity.Store
	Presence   *presence.Tracker
	Ledger     *version.Ledger
	Documents  *collection.Store
	Notifier   Notifier
	Backup     *backup.Runner
	Version    string
}

// Server is the HTTP API server for CrewLink.
type Server struct {
	cfg        config.ServerConfig
	secCfg     config.SecurityConfig
	logger     *logging.Logger
	identities *identity.Store
	presence   *presence.Tracker
	ledger     *version.Ledger
	documents  *collection.Store
	notifier   Notifier
	backup     *backup.Runner
	version    string
	server     *http.Server
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Identities == nil {
		return nil, fmt.Errorf("identity store is required")
	}
	if deps.Ledger == nil {
		return nil, fmt.Errorf("version ledger is required")
	}
	if deps.Documents == nil {
		return nil, fmt.Errorf("document store is required")
	}

	return &Server{
		cfg:        deps.Config,
		secCfg:     deps.Security,
		logger:     deps.Logger,
		identities: deps.Identities,
		presence:   deps.Presence,
		ledger:     deps.Ledger,
		documents:  deps.Documents,
		notifier:   deps.Notifier,
		backup:     deps.Backup,
		version:    deps.Version,
	}, nil
}

// Start begins listening for HTTP connections in a background goroutine.
// The server can be stopped with Close().
func (s *Server) Start(_ context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		err := s.server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	s.logger.Info("API server started", "address", s.server.Addr)
	return nil
}

// Close gracefully shuts down the API server, waiting up to 10 seconds
// for in-flight requests to complete.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
