package models

import (
	"time"

	"gorm.io/datatypes"
)

// Session status values. A session is live in RINGING and ACTIVE only.
const (
	SessionInitiated = "INITIATED"
	SessionRinging   = "RINGING"
	SessionActive    = "ACTIVE"
	SessionEnded     = "ENDED"
	SessionAbandoned = "ABANDONED"
)

// End reasons recorded when a session leaves the live states.
const (
	EndReasonCompleted          = "completed"
	EndReasonDroppedByMonitor   = "dropped_by_monitor"
	EndReasonDroppedByReader    = "dropped_by_reader"
	EndReasonDroppedByClient    = "dropped_by_client"
	EndReasonFailed             = "failed"
	EndReasonEscalatedExhausted = "escalated_exhausted"
)

// ValidCallerEndReason reports whether callers may end a session with the
// reason. escalated_exhausted is reserved for the escalation path.
func ValidCallerEndReason(reason string) bool {
	switch reason {
	case EndReasonCompleted, EndReasonDroppedByMonitor, EndReasonDroppedByReader,
		EndReasonDroppedByClient, EndReasonFailed:
		return true
	}
	return false
}

// CallSession is the persisted record of a call's lifecycle. It is mutated
// exclusively through the session manager and never deleted; ended sessions
// are retained for the audit trail.
type CallSession struct {
	BaseModel

	ClientID        string         `gorm:"type:uuid;not null;index" json:"client_id"`
	ReaderID        *string        `gorm:"type:uuid;index" json:"reader_id,omitempty"`
	IsEmergency     bool           `gorm:"not null;index" json:"is_emergency"`
	Status          string         `gorm:"type:varchar(16);not null;index" json:"status"`
	EscalationLevel int            `gorm:"not null;default:0" json:"escalation_level"`
	StartedAt       time.Time      `gorm:"not null;index" json:"started_at"`
	AnsweredAt      *time.Time     `json:"answered_at,omitempty"`
	EndedAt         *time.Time     `gorm:"index" json:"ended_at,omitempty"`
	EndReason       string         `gorm:"type:varchar(32)" json:"end_reason,omitempty"`
	AnsweredByID    *string        `gorm:"type:uuid" json:"answered_by_id,omitempty"`
	AnsweredByRole  string         `gorm:"type:varchar(16)" json:"answered_by_role,omitempty"`
	Metadata        datatypes.JSON `gorm:"type:json" json:"metadata,omitempty"`
}

// Live reports whether the session is still in a mutable call state.
func (s *CallSession) Live() bool {
	return s.Status == SessionRinging || s.Status == SessionActive
}
