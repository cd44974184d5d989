// Package api implements the OS HTTP surface: register_vm, vm_heartbeat,
// submit_call, placeholder_fetch, register_engine, engine_heartbeat, plus
// the ancillary /healthz and /metrics endpoints.
package api

import (
	"net/http"

	"github.com/go-redis/redis/v8"

	"github.com/parrotrun/parrot/internal/config"
	"github.com/parrotrun/parrot/internal/logging"
	"github.com/parrotrun/parrot/internal/metrics"
	"github.com/parrotrun/parrot/internal/observability"
	"github.com/parrotrun/parrot/internal/pcore"
	"github.com/parrotrun/parrot/internal/ratelimit"
)

// publicPaths bypass the rate limiter, which is therefore applied to
// submit_call alone; they are always reachable regardless of VM
// registration state.
var publicPaths = []string{
	"/healthz", "/metrics", "/register_vm", "/vm_heartbeat",
	"/placeholder_fetch", "/register_engine", "/engine_heartbeat",
}

// ServerConfig contains the dependencies StartHTTPServer wires together.
type ServerConfig struct {
	PCore     *pcore.PCore
	RateLimit config.RateLimitConfig
	Metrics   config.MetricsConfig
}

// StartHTTPServer builds the OS HTTP surface, wraps it with the
// rate-limit/tracing middleware chain, and starts serving addr in a
// background goroutine.
func StartHTTPServer(addr string, cfg ServerConfig) *http.Server {
	mux := http.NewServeMux()

	h := &handler{pc: cfg.PCore}
	h.RegisterRoutes(mux)

	mux.HandleFunc("GET /healthz", handleHealthz)
	if cfg.Metrics.Enabled {
		mux.Handle("GET /metrics", metrics.PrometheusHandler())
	}

	var wrapped http.Handler = mux
	wrapped = observability.HTTPMiddleware(wrapped)

	if cfg.RateLimit.Enabled {
		limiter := buildLimiter(cfg.RateLimit)
		wrapped = ratelimit.Middleware(limiter, publicPaths)(wrapped)
		logging.Op().Info("rate limiting enabled", "default_rps", cfg.RateLimit.Default.RequestsPerSecond)
	}

	server := &http.Server{
		Addr:    addr,
		Handler: wrapped,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Op().Error("HTTP server error", "error", err)
		}
	}()

	return server
}

// buildLimiter picks a Redis-backed token bucket when RedisAddr is
// configured, falling back to an in-process bucket otherwise.
func buildLimiter(cfg config.RateLimitConfig) *ratelimit.Limiter {
	defaultTier := ratelimit.TierConfig{
		RequestsPerSecond: cfg.Default.RequestsPerSecond,
		BurstSize:         cfg.Default.BurstSize,
	}

	var backend ratelimit.Backend
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		backend = ratelimit.NewFallbackBackend(ratelimit.NewRedisBackend(client))
	} else {
		backend = ratelimit.NewLocalTokenBucketBackend()
	}

	return ratelimit.New(backend, defaultTier)
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
