package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"kyc-service/internal/util"
)

// HealthCheck probes one backend.
type HealthCheck func(ctx context.Context) error

type RouterConfig struct {
	RequireTLS     bool
	ServiceKey     string
	Tokens         *UserTokens
	RequestTimeout time.Duration
	AllowedOrigins []string
	Limiter        *IPRateLimiter
	Health         map[string]HealthCheck
}

// NewRouter creates and configures the Chi router with all middleware and routes
func NewRouter(cfg RouterConfig, kycHandler *KYCHandler, userHandler *UserHandler, presenceHandler *PresenceHandler, logger *zap.Logger) chi.Router {
	router := chi.NewRouter()

	if cfg.RequireTLS {
		router.Use(requireHTTPS(logger))
	}

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(LoggerMiddleware(logger))
	router.Use(middleware.Recoverer)
	if cfg.Limiter != nil {
		router.Use(cfg.Limiter.Middleware)
	}

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"https://*"}
	}
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", ServiceKeyHeader},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	withTimeout := middleware.Timeout(timeout)
	health := healthHandler(cfg.Health, logger)
	router.Get("/health", health)

	userScoped := RequireUser(cfg.Tokens, cfg.ServiceKey, logger)

	if kycHandler != nil {
		router.Route("/api/v1/kyc", func(r chi.Router) {
			// event streams outlive the request timeout
			r.With(userScoped).Get("/{userID}/events", kycHandler.StreamEvents)

			r.Group(func(r chi.Router) {
				r.Use(withTimeout)
				r.Get("/health", health)

				r.Group(func(r chi.Router) {
					r.Use(userScoped)
					r.Post("/{userID}/submissions", kycHandler.SubmitVerification)
					r.Get("/{userID}/status", kycHandler.GetStatus)
					r.Get("/{userID}/latest", kycHandler.GetLatest)
					r.Get("/{userID}/verifications", kycHandler.ListVerifications)
				})

				r.Group(func(r chi.Router) {
					r.Use(RequireServiceKey(cfg.ServiceKey, logger))
					r.Get("/search", kycHandler.Search)
					r.Post("/{userID}/reconcile", kycHandler.Reconcile)
					r.Get("/{userID}/history", kycHandler.History)
				})
			})
		})
	}

	if presenceHandler != nil {
		router.Route("/api/v1/presence", func(r chi.Router) {
			r.Use(withTimeout)
			r.With(userScoped).Put("/{userID}", presenceHandler.Put)
			r.With(userScoped).Get("/{userID}", presenceHandler.Get)
		})
	}

	serviceRole := router.With(withTimeout, RequireServiceKey(cfg.ServiceKey, logger))
	serviceRole.Post("/api/v1/tokens", issueToken(cfg.Tokens, logger))

	if userHandler != nil {
		serviceRole.Post("/api/create-user", userHandler.CreateUser)
		serviceRole.Post("/api/update-password", userHandler.UpdatePassword)
		serviceRole.Post("/api/update-password-if-empty", userHandler.UpdatePasswordIfEmpty)
	}

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondWithJSON(w, logger, http.StatusNotFound, errorResponse(errors.New("endpoint not found"), ""))
	})
	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respondWithJSON(w, logger, http.StatusMethodNotAllowed, errorResponse(errors.New("method not allowed"), ""))
	})

	return router
}

// healthHandler reports each backend; any failure makes the whole answer 503.
func healthHandler(checks map[string]HealthCheck, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		results := make(map[string]string, len(checks))
		healthy := true
		for name, check := range checks {
			if err := check(ctx); err != nil {
				healthy = false
				results[name] = err.Error()
				logger.Warn("Health check failed", util.String("backend", name), util.ErrorField(err))
				continue
			}
			results[name] = "ok"
		}

		body := map[string]interface{}{"status": "healthy", "service": "kyc-service", "backends": results}
		if !healthy {
			body["status"] = "degraded"
			respondWithJSON(w, logger, http.StatusServiceUnavailable, Response{Success: false, Data: body, Error: "backend unavailable"})
			return
		}
		respondWithJSON(w, logger, http.StatusOK, successResponse(body, ""))
	}
}
