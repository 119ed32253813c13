package handlers

import (
	"github.com/gin-gonic/gin"

	apperrors "github.com/soulline/lifeline/pkg/errors"
	"github.com/soulline/lifeline/pkg/response"

	"github.com/soulline/lifeline/internal/notify"
)

type AlertsHandler struct {
	hub *notify.Hub
}

func NewAlertsHandler(hub *notify.Hub) *AlertsHandler {
	return &AlertsHandler{hub: hub}
}

// GET /api/alerts/ws
//
// Streams ring and escalation alerts for the actor's role. Clients cannot
// subscribe; they originate calls instead of answering them.
func (h *AlertsHandler) Stream(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	if !actor.Capabilities.CanAnswer {
		response.Error(c, apperrors.ErrForbidden)
		return
	}

	h.hub.Serve(actor.Role, c.Writer, c.Request)
}
