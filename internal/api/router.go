package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"genflow/internal/core"
	"genflow/internal/notify"
)

const defaultKeepAlive = 15 * time.Second

// ServerConfig is the configuration for the HTTP API server.
type ServerConfig struct {
	Addr      string
	AuthToken string
	Service   *core.Service
	Hub       *notify.Hub
	// MCP is mounted at /mcp when set.
	MCP    http.Handler
	Logger *slog.Logger
	// KeepAlive is the interval of SSE comment pings.
	KeepAlive time.Duration
}

func (c *ServerConfig) defaults() error {
	if c.Service == nil {
		return fmt.Errorf("service is required")
	}
	if c.Hub == nil {
		return fmt.Errorf("hub is required")
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	c.Logger = c.Logger.With("svc", "api.Server")
	if c.KeepAlive <= 0 {
		c.KeepAlive = defaultKeepAlive
	}
	return nil
}

// Server holds the HTTP server state.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	svc        *core.Service
	hub        *notify.Hub
	mcp        http.Handler
	logger     *slog.Logger
	authToken  string
	keepAlive  time.Duration
}

// NewServer constructs the HTTP API server.
func NewServer(cfg ServerConfig) (*Server, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(RequestLogger(cfg.Logger))
	router.Use(middleware.Recoverer)

	s := &Server{
		router:    router,
		svc:       cfg.Service,
		hub:       cfg.Hub,
		mcp:       cfg.MCP,
		logger:    cfg.Logger,
		authToken: cfg.AuthToken,
		keepAlive: cfg.KeepAlive,
	}
	s.registerRoutes()

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}
	return s, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) registerRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Mount MCP endpoint with optional authentication
	if s.mcp != nil {
		var mcpHandler http.Handler = s.mcp
		if s.authToken != "" {
			mcpHandler = AuthMiddleware(s.authToken)(mcpHandler)
		}
		s.router.Handle("/mcp", mcpHandler)
	}

	s.router.Route("/v1", func(r chi.Router) {
		// Apply authentication to all API endpoints
		if s.authToken != "" {
			r.Use(AuthMiddleware(s.authToken))
		}

		r.Get("/events", s.handleEvents)

		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", s.handleListTasks)
			r.Post("/", s.handleCreateTask)

			r.Route("/{taskID}", func(r chi.Router) {
				r.Get("/", s.handleGetTask)
				r.Put("/status", s.handleUpdateStatus)
				r.Post("/cancel", s.handleCancelTask)
			})
		})

		r.Route("/shots", func(r chi.Router) {
			r.Post("/", s.handleCreateShot)
			r.Get("/{shotID}/generations", s.handleShotGenerations)
		})

		r.Get("/generations", s.handleListGenerations)
	})
}
