package models

import (
	"time"

	"gorm.io/datatypes"
)

// SessionRecording maps a stored recording blob to its session.
type SessionRecording struct {
	BaseModel

	SessionID       string         `gorm:"type:uuid;not null;index" json:"session_id"`
	StartedByID     string         `gorm:"type:uuid;not null" json:"started_by_id"`
	StartedByRole   string         `gorm:"type:varchar(16);not null" json:"started_by_role"`
	StorageKind     string         `gorm:"type:varchar(16);not null" json:"storage_kind"`
	StoragePath     string         `gorm:"not null" json:"storage_path"`
	SizeBytes       int64          `gorm:"not null;default:0" json:"size_bytes"`
	DurationSeconds int64          `gorm:"not null;default:0" json:"duration_seconds"`
	Checksum        string         `gorm:"type:varchar(128)" json:"checksum,omitempty"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
	RetentionUntil  *time.Time     `gorm:"index" json:"retention_until,omitempty"`
	Metadata        datatypes.JSON `gorm:"type:json" json:"metadata,omitempty"`
}

// RecordingGrant is an explicit permission row for non-emergency sessions.
// Emergency sessions do not need one: the client may always start.
type RecordingGrant struct {
	BaseModel

	SessionID     string `gorm:"type:uuid;not null;index:idx_grant_session_role,priority:1" json:"session_id"`
	GrantedToRole string `gorm:"type:varchar(16);not null;index:idx_grant_session_role,priority:2" json:"granted_to_role"`
	CanStart      bool   `gorm:"not null;default:false" json:"can_start"`
	CanStop       bool   `gorm:"not null;default:false" json:"can_stop"`
}
