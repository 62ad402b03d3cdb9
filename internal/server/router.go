package server

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/queueworks/workd/internal/config"
	"github.com/queueworks/workd/internal/ratelimit"
	"github.com/queueworks/workd/internal/server/handler"
	"github.com/queueworks/workd/internal/service"
)

// NewRouter creates and configures a new HTTP router with middleware and API routes.
func NewRouter(cfg *config.Config, svc *service.Service, limiter *ratelimit.Limiter, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(rateLimitMiddleware(limiter, logger))

	submit := handler.NewSubmitHandler(cfg, svc, logger)
	queries := handler.NewQueryHandler(svc, logger)
	stream := handler.NewMetricsStream(svc, logger)

	r.Post("/sync", submit.Sync)
	r.Post("/async", submit.Async)
	r.Get("/requests/{id}", queries.GetRequest)
	r.Get("/requests", queries.ListRequests)
	r.Get("/metrics", queries.Metrics)
	r.Get("/healthz", queries.Health)
	r.Get("/ws/metrics", stream.Serve)

	return r
}

// rateLimitMiddleware applies the per-client token bucket at the transport
// boundary, ahead of both admission paths. Health probes are exempt.
func rateLimitMiddleware(limiter *ratelimit.Limiter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/healthz" {
				next.ServeHTTP(w, r)
				return
			}

			clientIP := clientKey(r)

			allowed, retryAfter := limiter.Check(clientIP)
			if !allowed {
				logger.Warn("rate limit exceeded", "client", clientIP, "retry_after", retryAfter)
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limiter.Limit()))
				w.Header().Set("X-RateLimit-Remaining", "0")
				handler.RespondError(w, http.StatusTooManyRequests,
					"rate limit exceeded, try again in "+strconv.Itoa(retryAfter)+" seconds")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientKey identifies the caller for rate limiting. RealIP has already
// rewritten RemoteAddr from forwarded headers where present.
func clientKey(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
