package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/AustinEral/agent-reach/internal/api/middleware"
	"github.com/AustinEral/agent-reach/internal/handlers"
	"github.com/AustinEral/agent-reach/internal/store"
)

// NewRouter creates and configures the HTTP router. redisStore may be nil;
// rate limiting needs Redis-native counters and is skipped without it.
func NewRouter(logger zerolog.Logger, h *handlers.Handler, redisStore *store.RedisStore, limiterCfg middleware.RateLimiterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(8 * 1024)) // 8KB max body
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	// Rate limiting
	if redisStore != nil {
		limiter := middleware.NewRateLimiter(redisStore.Client(), logger, limiterCfg)
		r.Use(limiter.Middleware)
	}

	// CORS - allow all origins (agents call from anywhere)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	// Public directory and health
	r.Get("/", h.Root)
	r.Get("/health", h.Health)
	r.Get("/stats", h.Stats)
	r.Get("/lookup/{did}", h.Lookup)

	// Mutations authenticate via payload signatures, verified in the
	// handlers against the claimed DID's key
	r.Post("/register", h.Register)
	r.Post("/deregister", h.Deregister)
	r.Post("/send", h.Send)

	// Persistent agent connections
	r.Get("/connect", h.Connect)

	return r
}
