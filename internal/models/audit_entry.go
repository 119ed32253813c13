package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Audit actions. Each value maps 1:1 onto a state transition or an
// authorization decision; no other writes reach the audit table.
const (
	AuditActionCreated               = "created"
	AuditActionRinging               = "ringing"
	AuditActionAnswered              = "answered"
	AuditActionEscalated             = "escalated"
	AuditActionEnded                 = "ended"
	AuditActionRecordingStarted      = "recording_started"
	AuditActionRecordingStopped      = "recording_stopped"
	AuditActionRecordingAccessDenied = "recording_access_denied"
	AuditActionUnauthorizedAttempt   = "unauthorized_attempt"
)

// AuditEntry is an append-only record of a session transition or
// authorization decision. Entries are never updated or deleted.
//
// Sequence is assigned under the owning session's serialization point, so
// ordering by (session_id, sequence) always reconstructs the causal order of
// the state machine even if wall-clock timestamps collide.
type AuditEntry struct {
	ID        string    `gorm:"primaryKey;type:uuid" json:"id"`
	SessionID string    `gorm:"type:uuid;not null;uniqueIndex:idx_audit_session_seq,priority:1" json:"session_id"`
	Sequence  int64     `gorm:"not null;uniqueIndex:idx_audit_session_seq,priority:2" json:"sequence"`
	Action    string    `gorm:"type:varchar(32);not null;index" json:"action"`
	ActorID   string    `gorm:"type:uuid;index" json:"actor_id"`
	ActorRole string    `gorm:"type:varchar(16)" json:"actor_role"`
	Timestamp time.Time `gorm:"not null;index" json:"timestamp"`
	Metadata  string    `gorm:"type:json" json:"metadata,omitempty"`
}

func (e *AuditEntry) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return nil
}
