// Package api provides HTTP API handlers and utilities.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/alqutdigital/tender-watch/internal/api/handlers"
	"github.com/alqutdigital/tender-watch/internal/api/middleware"
	"github.com/alqutdigital/tender-watch/pkg/logger"
)

// RouterConfig holds configuration for the API router.
type RouterConfig struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string
	AllowCredentials bool
	MaxAge           int

	RequestTimeout time.Duration

	EnableRateLimiting bool
	RateLimitConfig    middleware.RateLimitConfig
}

// DefaultRouterConfig returns a default router configuration.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		AllowedOrigins:     []string{"*"},
		AllowedMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:     []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders:     []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials:   false,
		MaxAge:             300,
		RequestTimeout:     30 * time.Second,
		EnableRateLimiting: true,
		RateLimitConfig:    middleware.DefaultRateLimitConfig(),
	}
}

// Dependencies holds all dependencies required by the API handlers. Nil
// members disable their routes' backing service, which then answer 503.
type Dependencies struct {
	Logger         *logger.Logger
	Announcements  handlers.AnnouncementStore
	Crawls         *handlers.CrawlHandler
	Renotifier     handlers.Renotifier
	Sender         handlers.Sender
	Runs           handlers.RunStore
	Health         map[string]handlers.HealthChecker
	RateLimitStore middleware.RateLimitStore
	WSHub          WSHub
}

// WSHub defines the interface for WebSocket hub operations.
type WSHub interface {
	HandleWebSocket(w http.ResponseWriter, r *http.Request)
}

// NewRouter creates and configures a new Chi router with all middleware and routes.
func NewRouter(deps Dependencies, config RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	log := deps.Logger
	if log == nil {
		log = logger.Default()
	}
	slogger := log.WithComponent("api").Logger

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(log))
	r.Use(middleware.Recoverer(log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   config.AllowedOrigins,
		AllowedMethods:   config.AllowedMethods,
		AllowedHeaders:   config.AllowedHeaders,
		ExposedHeaders:   config.ExposedHeaders,
		AllowCredentials: config.AllowCredentials,
		MaxAge:           config.MaxAge,
	}))

	// the websocket outlives any request timeout
	if deps.WSHub != nil {
		r.Get("/ws", deps.WSHub.HandleWebSocket)
	}

	var rateLimiter *middleware.RateLimiter
	if config.EnableRateLimiting {
		store := deps.RateLimitStore
		if store == nil {
			store = middleware.NewMemoryRateLimitStore()
		}
		rateLimiter = middleware.NewRateLimiter(store, config.RateLimitConfig, log)
	}
	limited := func(r chi.Router, limitType string) {
		if rateLimiter != nil {
			r.Use(rateLimiter.Middleware(limitType))
		}
	}

	r.Group(func(r chi.Router) {
		r.Use(chimiddleware.Timeout(config.RequestTimeout))

		r.Get("/health", handlers.HealthCheck())
		r.Get("/ready", handlers.ReadyCheck(deps.Health))

		r.Route("/api/v1", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				limited(r, "default")
				r.Get("/announcements", handlers.ListAnnouncements(deps.Announcements, slogger))
				r.Get("/announcements/{id}", handlers.GetAnnouncement(deps.Announcements, slogger))
				r.Get("/runs", handlers.ListRuns(deps.Runs, slogger))
				r.Get("/runs/{id}", handlers.GetRun(deps.Runs, slogger))
				if deps.Crawls != nil {
					r.Get("/categories", deps.Crawls.Categories)
				}
			})

			r.Group(func(r chi.Router) {
				limited(r, "crawl")
				if deps.Crawls != nil {
					r.Post("/crawl/{category}", deps.Crawls.Trigger)
				}
			})

			r.Route("/notify", func(r chi.Router) {
				limited(r, "notify")
				r.Post("/test", handlers.SendTestNotification(deps.Sender, slogger))
				r.Post("/pending", handlers.NotifyPending(deps.Renotifier, slogger))
			})
		})
	})

	return r
}

// Server represents the HTTP server.
type Server struct {
	httpServer *http.Server
	log        *logger.Logger
}

// ServerConfig holds configuration for the HTTP server.
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DefaultServerConfig returns default server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:            "",
		Port:            8080,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    45 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 30 * time.Second,
	}
}

// NewServer creates a new HTTP server.
func NewServer(handler http.Handler, config ServerConfig, log *logger.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         formatAddr(config.Host, config.Port),
			Handler:      handler,
			ReadTimeout:  config.ReadTimeout,
			WriteTimeout: config.WriteTimeout,
			IdleTimeout:  config.IdleTimeout,
		},
		log: log.WithComponent("http"),
	}
}

// Start serves until Shutdown. It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	s.log.Info("starting HTTP server", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// Addr returns the server address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// formatAddr formats host and port into an address string.
func formatAddr(host string, port int) string {
	if host == "" {
		return fmt.Sprintf(":%d", port)
	}
	return fmt.Sprintf("%s:%d", host, port)
}
