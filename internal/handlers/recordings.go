package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/soulline/lifeline/pkg/errors"
	"github.com/soulline/lifeline/pkg/response"
	"github.com/soulline/lifeline/pkg/validator"

	"github.com/soulline/lifeline/internal/recording"
	"github.com/soulline/lifeline/internal/roles"
	"github.com/soulline/lifeline/internal/session"
)

type RecordingHandler struct {
	authority *recording.Authority
	manager   *session.Manager
}

func NewRecordingHandler(authority *recording.Authority, manager *session.Manager) *RecordingHandler {
	return &RecordingHandler{authority: authority, manager: manager}
}

// POST /api/calls/:id/recording/start
//
// The request body is the media blob; it is streamed into the store.
func (h *RecordingHandler) Start(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}

	sess, err := h.manager.Snapshot(requestContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	var src io.Reader = c.Request.Body
	if src == nil {
		src = http.NoBody
	}

	rec, err := h.authority.Start(requestContext(c), sess, actor, src)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, rec)
}

type stopRecordingRequest struct {
	RecordingID string `json:"recording_id" validate:"required,uuid4"`
}

// POST /api/calls/:id/recording/stop
func (h *RecordingHandler) Stop(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}

	var req stopRecordingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperrors.NewBadRequest("invalid request body"))
		return
	}
	if err := validator.ValidateStruct(req); err != nil {
		response.Error(c, apperrors.NewBadRequest(err.Error()))
		return
	}

	sess, err := h.manager.Snapshot(requestContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	rec, err := h.authority.Stop(requestContext(c), sess, actor, req.RecordingID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, rec)
}

// GET /api/calls/:id/recordings
func (h *RecordingHandler) List(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}

	sess, err := h.manager.Snapshot(requestContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	allowed, err := h.authority.CanView(requestContext(c), sess, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	if !allowed {
		response.Error(c, apperrors.ErrForbidden)
		return
	}

	recs, err := h.authority.List(requestContext(c), sess.ID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, recs)
}

// GET /api/recordings (admin-tier only)
func (h *RecordingHandler) ListAll(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	if !actor.Capabilities.AdminTier {
		response.Error(c, apperrors.ErrForbidden)
		return
	}

	recs, err := h.authority.ListAll(requestContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, recs)
}

// GET /api/calls/:id/recordings/:recordingID/download
func (h *RecordingHandler) Download(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}

	sess, err := h.manager.Snapshot(requestContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	rc, err := h.authority.Open(requestContext(c), sess, actor, c.Param("recordingID"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer rc.Close()

	c.Header("Content-Type", "application/gzip")
	c.Status(http.StatusOK)
	_, _ = io.Copy(c.Writer, rc)
}

// DELETE /api/recordings/:id (admin-tier only)
func (h *RecordingHandler) Delete(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}

	if err := h.authority.Delete(requestContext(c), actor, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"status": "deleted"})
}

type grantRequest struct {
	Role     string `json:"role" validate:"required"`
	CanStart bool   `json:"can_start"`
	CanStop  bool   `json:"can_stop"`
}

// POST /api/calls/:id/recording/grants (admin-tier only)
func (h *RecordingHandler) Grant(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	if !actor.Capabilities.AdminTier {
		response.Error(c, apperrors.ErrForbidden)
		return
	}

	var req grantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperrors.NewBadRequest("invalid request body"))
		return
	}
	if err := validator.ValidateStruct(req); err != nil {
		response.Error(c, apperrors.NewBadRequest(err.Error()))
		return
	}

	role, err := roles.Parse(req.Role)
	if err != nil {
		response.Error(c, apperrors.NewBadRequest(err.Error()))
		return
	}

	sess, err := h.manager.Snapshot(requestContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	if err := h.authority.Grant(requestContext(c), sess.ID, role, req.CanStart, req.CanStop); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"status": "granted"})
}
