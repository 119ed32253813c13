package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/soulline/lifeline/pkg/errors"
	"github.com/soulline/lifeline/pkg/response"

	"github.com/soulline/lifeline/internal/signaling"
)

type SignalingHandler struct {
	relay *signaling.Relay
}

func NewSignalingHandler(relay *signaling.Relay) *SignalingHandler {
	return &SignalingHandler{relay: relay}
}

type signalRequest struct {
	Payload json.RawMessage `json:"payload"`
}

// POST /api/calls/:id/signal
//
// One-shot relay for clients without an open WebSocket. The payload is
// forwarded verbatim; NO_PEER_CONNECTED asks the caller to retry with backoff.
func (h *SignalingHandler) Signal(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}

	var req signalRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Payload) == 0 {
		response.Error(c, apperrors.NewBadRequest("payload is required"))
		return
	}

	if err := h.relay.Send(c.Param("id"), actor.ID, req.Payload); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusAccepted, gin.H{"status": "relayed"})
}

// GET /api/calls/:id/ws
//
// Attaches (or re-attaches) the actor's signaling channel. Reconnecting
// replaces the previous channel without touching session state.
func (h *SignalingHandler) Channel(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}

	h.relay.Serve(c.Param("id"), actor.ID, c.Writer, c.Request)
}
