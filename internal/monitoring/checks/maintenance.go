package checks

import (
	"context"
	"time"

	"github.com/soulline/lifeline/internal/maintenance"
	"github.com/soulline/lifeline/internal/monitoring"
)

const defaultMaintenanceMaxAge = 6 * time.Hour

// Maintenance verifies the background cleaner keeps running. A failed last
// run is down; a run older than maxAge is degraded, since retention is being
// enforced late rather than not at all.
func Maintenance(cleaner *maintenance.Cleaner, maxAge time.Duration) monitoring.Probe {
	if maxAge <= 0 {
		maxAge = defaultMaintenanceMaxAge
	}

	return monitoring.Probe{Name: "maintenance", Run: func(ctx context.Context) monitoring.Result {
		start := time.Now()
		if cleaner == nil {
			return monitoring.Result{Status: monitoring.StatusUp, Details: "maintenance disabled"}
		}

		at, err := cleaner.LastRun()
		switch {
		case err != nil:
			return monitoring.Result{
				Status:   monitoring.StatusDown,
				Details:  "last run failed: " + err.Error(),
				Duration: time.Since(start),
			}
		case at.IsZero():
			return monitoring.Result{
				Status:   monitoring.StatusUp,
				Details:  "pending first run",
				Duration: time.Since(start),
			}
		case time.Since(at) > maxAge:
			return monitoring.Result{
				Status:   monitoring.StatusDegraded,
				Details:  "stale run " + at.UTC().Format(time.RFC3339),
				Duration: time.Since(start),
			}
		}
		return monitoring.Result{Status: monitoring.StatusUp, Duration: time.Since(start)}
	}}
}
