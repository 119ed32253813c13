package checks

import (
	"context"
	"time"

	"github.com/soulline/lifeline/internal/cache"
	"github.com/soulline/lifeline/internal/monitoring"
)

// Cache probes the rate limiter's backing store. The store is not on the call
// path for session transitions, so an unreachable cache degrades rather than
// fails readiness.
func Cache(store cache.Store, timeout time.Duration) monitoring.Probe {
	return monitoring.Probe{Name: "cache", Run: func(ctx context.Context) monitoring.Result {
		start := time.Now()
		if store == nil {
			return monitoring.Result{Status: monitoring.StatusUp, Details: "cache not configured"}
		}

		probeCtx, cancel := context.WithTimeout(ctx, orDefault(timeout))
		defer cancel()

		if err := store.Ping(probeCtx); err != nil {
			return monitoring.Result{
				Status:   monitoring.StatusDegraded,
				Details:  err.Error(),
				Duration: time.Since(start),
			}
		}
		return monitoring.Result{Status: monitoring.StatusUp, Duration: time.Since(start)}
	}}
}
