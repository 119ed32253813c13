package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	apperrors "github.com/soulline/lifeline/pkg/errors"
	"github.com/soulline/lifeline/pkg/metrics"

	"github.com/soulline/lifeline/internal/models"
	"github.com/soulline/lifeline/internal/roles"
)

// Entry captures a single audit event to persist.
type Entry struct {
	SessionID string
	Action    string
	ActorID   string
	ActorRole roles.Role
	Metadata  map[string]any
}

// Service is the append-only, fail-closed audit logger. Append never fails
// silently: if the store rejects the write, the caller's operation must also
// fail, so a state transition cannot commit without its audit entry.
type Service struct {
	db      *gorm.DB
	timeNow func() time.Time
}

// Option customises the audit service.
type Option func(*Service)

// WithClock overrides the timestamp source (test helper).
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.timeNow = clock
		}
	}
}

// NewService constructs the audit service using the provided database handle.
func NewService(db *gorm.DB, opts ...Option) (*Service, error) {
	if db == nil {
		return nil, errors.New("audit: db is required")
	}

	svc := &Service{db: db, timeNow: time.Now}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Append durably records the entry. The sequence number must be allocated by
// the caller under the owning session's serialization point; Append only
// persists it, keeping (session_id, sequence) aligned with causal order.
func (s *Service) Append(ctx context.Context, entry Entry, sequence int64) error {
	return s.AppendIn(ctx, s.db, entry, sequence)
}

// AppendIn records the entry inside the caller's transaction so a state
// mutation and its audit entry commit or fail together (fail-closed).
func (s *Service) AppendIn(ctx context.Context, tx *gorm.DB, entry Entry, sequence int64) error {
	if entry.SessionID == "" {
		return errors.New("audit: session id is required")
	}
	if entry.Action == "" {
		return errors.New("audit: action is required")
	}

	payload := ""
	if entry.Metadata != nil {
		encoded, err := json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("audit: marshal metadata: %w", err)
		}
		payload = string(encoded)
	}

	record := models.AuditEntry{
		SessionID: entry.SessionID,
		Sequence:  sequence,
		Action:    entry.Action,
		ActorID:   entry.ActorID,
		ActorRole: string(entry.ActorRole),
		Timestamp: s.timeNow().UTC(),
		Metadata:  payload,
	}

	if err := tx.WithContext(ctx).Create(&record).Error; err != nil {
		metrics.AuditWriteFailures.Inc()
		return apperrors.ErrAuditWriteFailure.WithInternal(err)
	}
	return nil
}

// MaxSequence returns the highest sequence recorded for the session, or zero.
// The session manager uses it to restore its per-session counter after restart.
func (s *Service) MaxSequence(ctx context.Context, sessionID string) (int64, error) {
	var max int64
	err := s.db.WithContext(ctx).
		Model(&models.AuditEntry{}).
		Where("session_id = ?", sessionID).
		Select("COALESCE(MAX(sequence), 0)").
		Scan(&max).Error
	if err != nil {
		return 0, fmt.Errorf("audit: max sequence for %s: %w", sessionID, err)
	}
	return max, nil
}

// Query returns the session's audit trail in causal order.
func (s *Service) Query(ctx context.Context, sessionID string) ([]models.AuditEntry, error) {
	if sessionID == "" {
		return nil, errors.New("audit: session id is required")
	}

	var entries []models.AuditEntry
	if err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("sequence ASC").
		Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("audit: query session %s: %w", sessionID, err)
	}

	return entries, nil
}
