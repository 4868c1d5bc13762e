package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

type redisPinger struct{ rdb redis.Cmdable }

func (p redisPinger) Ping(ctx context.Context) error { return p.rdb.Ping(ctx).Err() }

// RegisterOpsRoutes adds /healthz and /metrics to the given mux.
func RegisterOpsRoutes(mux *http.ServeMux, db Pinger, rdb redis.Cmdable, logger *slog.Logger) {
	mux.HandleFunc("GET /healthz", healthz(db, redisPinger{rdb: rdb}, logger))
	mux.Handle("GET /metrics", promhttp.Handler())
}

// healthz fails only when Postgres is down; a Redis outage degrades capture
// and is reported without failing the check.
func healthz(db, cache Pinger, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := map[string]string{"postgres": "ok", "redis": "ok"}
		code := http.StatusOK
		if err := db.Ping(ctx); err != nil {
			logger.Error("healthz: postgres", "error", err)
			status["postgres"] = "down"
			code = http.StatusServiceUnavailable
		}
		if err := cache.Ping(ctx); err != nil {
			logger.Warn("healthz: redis", "error", err)
			status["redis"] = "degraded"
		}
		writeJSON(w, code, status)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
