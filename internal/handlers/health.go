package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/soulline/lifeline/internal/monitoring"
	"github.com/soulline/lifeline/pkg/response"
)

// Health returns a simple status payload useful for readiness checks. When a
// database handle is supplied it is pinged, so the endpoint reflects whether
// the audit trail is writable (the engine fails closed without it).
func Health(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if db != nil {
			sqlDB, err := db.DB()
			if err == nil {
				err = sqlDB.PingContext(requestContext(c))
			}
			if err != nil {
				response.Error(c, nil)
				return
			}
		}
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	}
}

// Readiness evaluates every registered dependency probe. A degraded or down
// report answers 503 so load balancers stop routing new calls here.
func Readiness(registry *monitoring.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		report := registry.Evaluate(requestContext(c))
		status := http.StatusOK
		if !report.Healthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, report)
	}
}
