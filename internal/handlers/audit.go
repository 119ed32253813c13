package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/soulline/lifeline/pkg/errors"
	"github.com/soulline/lifeline/pkg/response"

	"github.com/soulline/lifeline/internal/audit"
	"github.com/soulline/lifeline/internal/session"
)

type AuditHandler struct {
	svc     *audit.Service
	manager *session.Manager
}

func NewAuditHandler(svc *audit.Service, manager *session.Manager) *AuditHandler {
	return &AuditHandler{svc: svc, manager: manager}
}

// GET /api/calls/:id/audit
//
// Participants may read their own session's trail; admin-tier roles may read
// any. The trail itself is immutable, so this is a pure read.
func (h *AuditHandler) List(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	sessionID := c.Param("id")

	sess, err := h.manager.Snapshot(requestContext(c), sessionID)
	if err != nil {
		response.Error(c, err)
		return
	}

	allowed := actor.Capabilities.AdminTier ||
		actor.ID == sess.ClientID ||
		(sess.ReaderID != nil && actor.ID == *sess.ReaderID) ||
		(sess.AnsweredByID != nil && actor.ID == *sess.AnsweredByID)
	if !allowed {
		response.Error(c, apperrors.ErrForbidden)
		return
	}

	entries, err := h.svc.Query(requestContext(c), sessionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, entries)
}
