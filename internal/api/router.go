package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/soulline/lifeline/internal/app"
	"github.com/soulline/lifeline/internal/audit"
	iauth "github.com/soulline/lifeline/internal/auth"
	"github.com/soulline/lifeline/internal/handlers"
	"github.com/soulline/lifeline/internal/middleware"
	"github.com/soulline/lifeline/internal/monitoring"
	"github.com/soulline/lifeline/internal/notify"
	"github.com/soulline/lifeline/internal/recording"
	"github.com/soulline/lifeline/internal/session"
	"github.com/soulline/lifeline/internal/signaling"
)

// Dependencies bundles everything the router wires together. All fields are
// required unless noted.
type Dependencies struct {
	DB        *gorm.DB
	Config    *app.Config
	JWT       *iauth.JWTService
	Manager   *session.Manager
	Relay     *signaling.Relay
	Hub       *notify.Hub
	Audit     *audit.Service
	Authority *recording.Authority
	RateStore middleware.RateStore // optional; rate limiting is skipped when nil
	Health    *monitoring.Registry // optional; /health/ready 404s when nil
}

func (d Dependencies) validate() error {
	switch {
	case d.DB == nil:
		return fmt.Errorf("api: database handle must be provided")
	case d.Config == nil:
		return fmt.Errorf("api: config must be provided")
	case d.JWT == nil:
		return fmt.Errorf("api: jwt service must be provided")
	case d.Manager == nil:
		return fmt.Errorf("api: session manager must be provided")
	case d.Relay == nil:
		return fmt.Errorf("api: signaling relay must be provided")
	case d.Hub == nil:
		return fmt.Errorf("api: notification hub must be provided")
	case d.Audit == nil:
		return fmt.Errorf("api: audit service must be provided")
	case d.Authority == nil:
		return fmt.Errorf("api: recording authority must be provided")
	}
	return nil
}

// NewRouter builds the Gin engine, wires middleware and registers routes.
func NewRouter(deps Dependencies) (*gin.Engine, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	cfg := deps.Config

	r := gin.New()
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.NoRoute(middleware.NotFoundHandler)

	// Public endpoints
	r.GET("/health", handlers.Health(deps.DB))
	if deps.Health != nil {
		r.GET("/health/ready", handlers.Readiness(deps.Health))
	}
	if cfg.Monitoring.Prometheus.Enabled {
		endpoint := cfg.Monitoring.Prometheus.Endpoint
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	sessionHandler := handlers.NewSessionHandler(deps.Manager)
	auditHandler := handlers.NewAuditHandler(deps.Audit, deps.Manager)
	signalingHandler := handlers.NewSignalingHandler(deps.Relay)
	alertsHandler := handlers.NewAlertsHandler(deps.Hub)
	recordingHandler := handlers.NewRecordingHandler(deps.Authority, deps.Manager)

	api := r.Group("/api")
	api.Use(middleware.Auth(deps.JWT))
	if cfg.Server.RateLimit.Enabled && deps.RateStore != nil {
		api.Use(middleware.RateLimit(deps.RateStore,
			cfg.Server.RateLimit.MaxRequests, cfg.Server.RateLimit.Window))
	}

	calls := api.Group("/calls")
	{
		calls.POST("", sessionHandler.Create)
		calls.GET("/:id", sessionHandler.Get)
		calls.POST("/:id/accept", sessionHandler.Accept)
		calls.POST("/:id/decline", sessionHandler.Decline)
		calls.POST("/:id/end", sessionHandler.End)
		calls.GET("/:id/audit", auditHandler.List)

		calls.POST("/:id/signal", signalingHandler.Signal)
		calls.GET("/:id/ws", signalingHandler.Channel)

		calls.POST("/:id/recording/start", recordingHandler.Start)
		calls.POST("/:id/recording/stop", recordingHandler.Stop)
		calls.POST("/:id/recording/grants", recordingHandler.Grant)
		calls.GET("/:id/recordings", recordingHandler.List)
		calls.GET("/:id/recordings/:recordingID/download", recordingHandler.Download)
	}

	api.GET("/alerts/ws", alertsHandler.Stream)
	api.GET("/recordings", recordingHandler.ListAll)
	api.DELETE("/recordings/:id", recordingHandler.Delete)

	return r, nil
}
