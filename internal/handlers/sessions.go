package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/soulline/lifeline/pkg/errors"
	"github.com/soulline/lifeline/pkg/response"
	"github.com/soulline/lifeline/pkg/validator"

	"github.com/soulline/lifeline/internal/models"
	"github.com/soulline/lifeline/internal/session"
)

type SessionHandler struct {
	manager *session.Manager
}

func NewSessionHandler(manager *session.Manager) *SessionHandler {
	return &SessionHandler{manager: manager}
}

type createSessionRequest struct {
	IsEmergency       bool   `json:"is_emergency"`
	PreferredReaderID string `json:"preferred_reader_id,omitempty" validate:"omitempty,uuid4"`
}

type endSessionRequest struct {
	Reason string `json:"reason" validate:"omitempty,oneof=completed dropped_by_monitor dropped_by_reader dropped_by_client failed"`
}

// POST /api/calls
func (h *SessionHandler) Create(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}

	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		response.Error(c, apperrors.NewBadRequest("invalid request body"))
		return
	}
	if err := validator.ValidateStruct(req); err != nil {
		response.Error(c, apperrors.NewBadRequest(err.Error()))
		return
	}

	sess, err := h.manager.CreateSession(requestContext(c), actor, req.IsEmergency, req.PreferredReaderID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, sess)
}

// POST /api/calls/:id/accept
func (h *SessionHandler) Accept(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}

	sess, err := h.manager.Accept(requestContext(c), c.Param("id"), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, sess)
}

// POST /api/calls/:id/decline
func (h *SessionHandler) Decline(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}

	if err := h.manager.Decline(requestContext(c), c.Param("id"), actor); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"status": "declined"})
}

// POST /api/calls/:id/end
func (h *SessionHandler) End(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}

	var req endSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		response.Error(c, apperrors.NewBadRequest("invalid request body"))
		return
	}
	if err := validator.ValidateStruct(req); err != nil {
		response.Error(c, apperrors.NewBadRequest(err.Error()))
		return
	}
	reason := req.Reason
	if reason == "" {
		reason = models.EndReasonCompleted
	}

	sess, err := h.manager.End(requestContext(c), c.Param("id"), actor, reason)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, sess)
}

// GET /api/calls/:id
func (h *SessionHandler) Get(c *gin.Context) {
	if _, ok := mustActor(c); !ok {
		return
	}

	sess, err := h.manager.Snapshot(requestContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, sess)
}
