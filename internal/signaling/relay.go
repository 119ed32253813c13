package signaling

import (
	"encoding/json"
	"errors"
	"sync"

	"go.uber.org/zap"

	apperrors "github.com/soulline/lifeline/pkg/errors"
	"github.com/soulline/lifeline/pkg/logger"
	"github.com/soulline/lifeline/pkg/metrics"
)

// Envelope wraps a relayed signaling payload. The payload itself (WebRTC
// offer, answer or ICE candidate) is forwarded verbatim and never inspected.
type Envelope struct {
	SessionID string          `json:"session_id"`
	From      string          `json:"from"`
	Payload   json.RawMessage `json:"payload"`
}

// SessionGuard lets the relay check session state without owning it. Relay is
// only permitted while the session is RINGING or ACTIVE and only between its
// two current participants.
type SessionGuard interface {
	// Participants returns the two current participant ids for a live
	// session, or an error when the session is unknown or no longer live.
	Participants(sessionID string) (clientID string, counterpartID string, err error)
}

// Relay moves signaling payloads between the two participants of a session.
// Channels are registered per (session, actor); the registry's lifecycle is
// tied to the session and swept when the session ends.
type Relay struct {
	mu       sync.RWMutex
	channels map[string]map[string]*channel // sessionID -> actorID -> channel
	guard    SessionGuard
	log      *zap.Logger
}

// NewRelay constructs a relay validating sessions through the supplied guard.
func NewRelay(guard SessionGuard) *Relay {
	return &Relay{
		channels: make(map[string]map[string]*channel),
		guard:    guard,
		log:      logger.WithModule("signaling"),
	}
}

// Send forwards the payload verbatim to the other participant of the session.
// It never mutates session state. Returns ErrNoPeerConnected when the peer
// has no open channel; callers are expected to retry with backoff.
func (r *Relay) Send(sessionID, fromActor string, payload json.RawMessage) error {
	if sessionID == "" || fromActor == "" {
		return errors.New("signaling: session id and actor are required")
	}

	clientID, counterpartID, err := r.guard.Participants(sessionID)
	if err != nil {
		metrics.RelayMessages.WithLabelValues("rejected").Inc()
		return err
	}

	var peerID string
	switch fromActor {
	case clientID:
		peerID = counterpartID
	case counterpartID:
		peerID = clientID
	default:
		metrics.RelayMessages.WithLabelValues("rejected").Inc()
		return apperrors.ErrInvalidActor.WithInternal(
			errors.New("signaling: sender is not a participant of the session"))
	}

	if peerID == "" {
		metrics.RelayMessages.WithLabelValues("no_peer").Inc()
		return apperrors.ErrNoPeerConnected
	}

	r.mu.RLock()
	peer := r.channels[sessionID][peerID]
	r.mu.RUnlock()

	if peer == nil {
		metrics.RelayMessages.WithLabelValues("no_peer").Inc()
		return apperrors.ErrNoPeerConnected
	}

	if !peer.deliver(Envelope{SessionID: sessionID, From: fromActor, Payload: payload}) {
		metrics.RelayMessages.WithLabelValues("no_peer").Inc()
		return apperrors.ErrNoPeerConnected
	}

	metrics.RelayMessages.WithLabelValues("delivered").Inc()
	return nil
}

// attach registers the actor's channel, replacing any previous one. This is
// the Reconnect path as well: re-attaching after a network drop never touches
// session state.
func (r *Relay) attach(sessionID, actorID string, ch *channel) {
	r.mu.Lock()
	if r.channels[sessionID] == nil {
		r.channels[sessionID] = make(map[string]*channel)
	}
	previous := r.channels[sessionID][actorID]
	r.channels[sessionID][actorID] = ch
	r.mu.Unlock()

	if previous != nil {
		previous.shutdown()
	}

	r.log.Debug("channel attached",
		zap.String("session_id", sessionID),
		zap.String("actor_id", actorID),
	)
}

func (r *Relay) detach(sessionID, actorID string, ch *channel) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.channels[sessionID][actorID]; ok && current == ch {
		delete(r.channels[sessionID], actorID)
		if len(r.channels[sessionID]) == 0 {
			delete(r.channels, sessionID)
		}
	}
}

// Connected reports whether the actor has an open channel for the session.
func (r *Relay) Connected(sessionID, actorID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.channels[sessionID][actorID] != nil
}

// DropSession closes every channel registered for the session. Invoked when
// the session leaves its live states.
func (r *Relay) DropSession(sessionID string) {
	r.mu.Lock()
	channels := r.channels[sessionID]
	delete(r.channels, sessionID)
	r.mu.Unlock()

	for _, ch := range channels {
		ch.shutdown()
	}
}

// Sessions returns the session ids that currently hold open channels.
func (r *Relay) Sessions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.channels))
	for id := range r.channels {
		ids = append(ids, id)
	}
	return ids
}
