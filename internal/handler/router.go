package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lostfound/messaging/internal/middleware"
	"github.com/lostfound/messaging/pkg/logger"
)

// RouterConfig carries the settings the router needs.
type RouterConfig struct {
	JWTSecret       string
	AllowedOrigins  []string
	RateLimit       int
	RateLimitWindow time.Duration
	RequestTimeout  time.Duration
}

// Handlers groups the API handlers.
type Handlers struct {
	Health        *HealthHandler
	Conversations *ConversationHandler
	Messages      *MessageHandler
	Stream        *StreamHandler
	Socket        *SocketHandler
}

// NewRouter builds the HTTP routes.
func NewRouter(cfg RouterConfig, h Handlers, log *logger.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	r.Get("/health", h.Health.Health)
	r.Group(func(r chi.Router) {
		// Readiness pings every backend.
		if cfg.RateLimit > 0 {
			r.Use(middleware.RateLimit(cfg.RateLimit, cfg.RateLimitWindow))
		}
		r.Get("/ready", h.Health.Ready)
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		if cfg.RateLimit > 0 {
			r.Use(middleware.UserRateLimit(cfg.RateLimit, cfg.RateLimitWindow))
		}

		// Long-lived connections must not be cut by the request timeout.
		r.Get("/ws", h.Socket.Serve)
		r.Get("/conversations/{id}/stream", h.Stream.Stream)

		r.Group(func(r chi.Router) {
			if cfg.RequestTimeout > 0 {
				r.Use(chimw.Timeout(cfg.RequestTimeout))
			}

			r.Post("/conversations", h.Conversations.Resolve)
			r.Get("/conversations", h.Conversations.List)
			r.Get("/conversations/{id}", h.Conversations.Get)
			r.Get("/conversations/{id}/messages", h.Messages.List)
			r.Post("/conversations/{id}/messages", h.Messages.Send)
			r.Post("/conversations/{id}/read", h.Messages.MarkRead)
		})
	})

	return r
}
