package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
	Healthy         bool   `json:"healthy"`
}

func GetPoolStats(pool *pgxpool.Pool) *PoolStats {
	stat := pool.Stat()
	return &PoolStats{
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MaxConns:        stat.MaxConns(),
		AcquireCount:    stat.AcquireCount(),
		AcquireDuration: stat.AcquireDuration().String(),
		Healthy:         stat.TotalConns() > 0,
	}
}

// Dependency is a backing service the health endpoint pings besides
// Postgres, such as the Redis control-number sequence.
type Dependency struct {
	Name string
	Ping func(ctx context.Context) error
}

// HealthHandler serves /health/db. It reports 503 when Postgres or any
// dependency fails its ping.
func HealthHandler(pool *pgxpool.Pool, deps ...Dependency) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		var stats *PoolStats
		var dbErr error
		if pool != nil {
			dbErr = pool.Ping(ctx)
			stats = GetPoolStats(pool)
			if dbErr != nil {
				stats.Healthy = false
			}
		}

		code, status := http.StatusOK, "healthy"
		if dbErr != nil {
			code, status = http.StatusServiceUnavailable, "unhealthy"
		}
		checks := make(map[string]string, len(deps))
		for _, d := range deps {
			if err := d.Ping(ctx); err != nil {
				checks[d.Name] = err.Error()
				code, status = http.StatusServiceUnavailable, "unhealthy"
				continue
			}
			checks[d.Name] = "ok"
		}

		body := map[string]interface{}{"status": status, "pool": stats}
		if dbErr != nil {
			body["error"] = dbErr.Error()
		}
		if len(checks) > 0 {
			body["dependencies"] = checks
		}
		return c.JSON(code, body)
	}
}
