package notify

import (
	"github.com/soulline/lifeline/internal/roles"
)

// Alert is the payload pushed to role subscribers when a call needs attention.
// Delivery mechanics beyond this trigger contract (push, SMS, siren audio) are
// owned by the platform's notification service.
type Alert struct {
	Event       string     `json:"event"`
	SessionID   string     `json:"session_id"`
	TargetRole  roles.Role `json:"target_role"`
	Level       int        `json:"level"`
	IsEmergency bool       `json:"is_emergency"`
}

// Alert event names.
const (
	EventRinging   = "call.ringing"
	EventEscalated = "call.escalated"
)

// Notifier is invoked by the session manager on RINGING and on each
// escalation advance. Implementations must not block the caller.
type Notifier interface {
	SessionRinging(sessionID string, targetRole roles.Role, isEmergency bool)
	SessionEscalated(sessionID string, targetRole roles.Role, level int, isEmergency bool)
}

// Nop is a Notifier that discards all alerts; used in tests.
type Nop struct{}

func (Nop) SessionRinging(string, roles.Role, bool)        {}
func (Nop) SessionEscalated(string, roles.Role, int, bool) {}
