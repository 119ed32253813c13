package database

import (
	"gorm.io/gorm"

	"github.com/soulline/lifeline/internal/models"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.CallSession{},
		&models.AuditEntry{},
		&models.SessionRecording{},
		&models.RecordingGrant{},
		&models.CacheEntry{},
	)
}
