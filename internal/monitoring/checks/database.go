package checks

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/soulline/lifeline/internal/monitoring"
)

const defaultProbeTimeout = 2 * time.Second

// Database probes the primary database. The engine fails closed without it:
// no session transition commits when the audit trail is unwritable, so a down
// database means the whole service is down.
func Database(db *gorm.DB, timeout time.Duration) monitoring.Probe {
	return monitoring.Probe{Name: "database", Run: func(ctx context.Context) monitoring.Result {
		start := time.Now()
		if db == nil {
			return monitoring.Result{Status: monitoring.StatusDown, Details: "database not configured"}
		}

		sqlDB, err := db.DB()
		if err != nil {
			return monitoring.ResultFromError("database", err, time.Since(start))
		}

		probeCtx, cancel := context.WithTimeout(ctx, orDefault(timeout))
		defer cancel()

		return monitoring.ResultFromError("database", sqlDB.PingContext(probeCtx), time.Since(start))
	}}
}

func orDefault(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return defaultProbeTimeout
	}
	return timeout
}
