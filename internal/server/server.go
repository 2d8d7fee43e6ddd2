// Package server provides the HTTP transport for the orchestrator: a
// trimmed REST + SSE surface over the session, queue, comm, channel,
// overseer, schedule, and permission components, per the external
// interfaces contract.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/minionctl/orchestrator/internal/channel"
	"github.com/minionctl/orchestrator/internal/comm"
	"github.com/minionctl/orchestrator/internal/message"
	"github.com/minionctl/orchestrator/internal/overseer"
	"github.com/minionctl/orchestrator/internal/permission"
	"github.com/minionctl/orchestrator/internal/project"
	"github.com/minionctl/orchestrator/internal/queue"
	"github.com/minionctl/orchestrator/internal/schedule"
	"github.com/minionctl/orchestrator/internal/session"
	"github.com/minionctl/orchestrator/internal/storage"
)

// Config holds server configuration.
type Config struct {
	Port         int
	EnableCORS   bool
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns default server configuration.
func DefaultConfig() *Config {
	return &Config{
		Port:         8080,
		EnableCORS:   true,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // no write timeout: SSE streams hold the connection open
	}
}

// Deps collects every component the server dispatches requests to. All
// fields are required; New panics on a nil dependency rather than fail
// obscurely on first use.
type Deps struct {
	Storage     *storage.Storage
	Sessions    *session.Manager
	Coordinator *session.Coordinator
	Queue       *queue.Manager
	Comms       *comm.Router
	Channels    *channel.Manager
	Overseer    *overseer.Controller
	Schedules   *schedule.Manager
	Permissions *permission.Broker
	Projects    *project.Service
	Processor   *message.Processor
}

// Server is the HTTP server.
type Server struct {
	config  *Config
	router  *chi.Mux
	httpSrv *http.Server

	storage     *storage.Storage
	sessions    *session.Manager
	coordinator *session.Coordinator
	queue       *queue.Manager
	comms       *comm.Router
	channels    *channel.Manager
	overseer    *overseer.Controller
	schedules   *schedule.Manager
	permissions *permission.Broker
	projects    *project.Service
	processor   *message.Processor
}

// New creates a new Server instance.
func New(cfg *Config, deps Deps) *Server {
	if deps.Storage == nil || deps.Sessions == nil || deps.Coordinator == nil || deps.Queue == nil ||
		deps.Comms == nil || deps.Channels == nil || deps.Overseer == nil || deps.Schedules == nil ||
		deps.Permissions == nil || deps.Projects == nil || deps.Processor == nil {
		panic("server.New: missing dependency")
	}

	r := chi.NewRouter()

	s := &Server{
		config:      cfg,
		router:      r,
		storage:     deps.Storage,
		sessions:    deps.Sessions,
		coordinator: deps.Coordinator,
		queue:       deps.Queue,
		comms:       deps.Comms,
		channels:    deps.Channels,
		overseer:    deps.Overseer,
		schedules:   deps.Schedules,
		permissions: deps.Permissions,
		projects:    deps.Projects,
		processor:   deps.Processor,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// setupMiddleware configures middleware for the server.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RealIP)

	if s.config.EnableCORS {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}
