package recording

import (
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	apperrors "github.com/soulline/lifeline/pkg/errors"
	"github.com/soulline/lifeline/pkg/logger"
	"github.com/soulline/lifeline/pkg/metrics"

	"github.com/soulline/lifeline/internal/audit"
	"github.com/soulline/lifeline/internal/identity"
	"github.com/soulline/lifeline/internal/models"
	"github.com/soulline/lifeline/internal/roles"
)

// Storage kind recorded on SessionRecording rows.
const StorageFilesystem = "filesystem"

// ErrRecordingActive rejects a second concurrent recording for one session.
var ErrRecordingActive = apperrors.New(
	"RECORDING_ACTIVE", "A recording is already running for this session", 409)

// AuditSink receives recording decisions. Implemented by the session manager,
// which owns causal audit ordering for its sessions.
type AuditSink interface {
	Record(ctx context.Context, entry audit.Entry) error
}

// Policy captures runtime configuration for recordings.
type Policy struct {
	RetentionDays int
}

// Option customises the Authority.
type Option func(*Authority)

// WithClock injects a custom clock (test helper).
func WithClock(clock func() time.Time) Option {
	return func(a *Authority) {
		if clock != nil {
			a.timeNow = clock
		}
	}
}

// WithPolicy overrides the retention policy.
func WithPolicy(policy Policy) Option {
	return func(a *Authority) {
		a.policy = policy
	}
}

// Authority is the sole arbiter of who may start, stop, view and delete
// session recordings. Every denial is audited; the blob store and the
// metadata rows are only ever touched through it.
type Authority struct {
	db      *gorm.DB
	store   BlobStore
	sink    AuditSink
	policy  Policy
	timeNow func() time.Time
	log     *zap.Logger
}

// NewAuthority constructs the recording authority.
func NewAuthority(db *gorm.DB, store BlobStore, sink AuditSink, opts ...Option) (*Authority, error) {
	if db == nil {
		return nil, errors.New("recording: db is required")
	}
	if store == nil {
		return nil, errors.New("recording: blob store is required")
	}
	if sink == nil {
		return nil, errors.New("recording: audit sink is required")
	}

	a := &Authority{
		db:      db,
		store:   store,
		sink:    sink,
		policy:  Policy{RetentionDays: 90},
		timeNow: time.Now,
		log:     logger.WithModule("recording"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// CanStart reports whether the actor may start a recording on the session.
// Emergency sessions: the originating client always may. Otherwise an
// explicit grant row for the actor's role is required. Denials are audited.
func (a *Authority) CanStart(ctx context.Context, sess *models.CallSession, actor identity.Actor) (bool, error) {
	if sess.IsEmergency && actor.ID == sess.ClientID {
		metrics.RecordingDecisions.WithLabelValues("start", "allow").Inc()
		return true, nil
	}

	granted, err := a.hasGrant(ctx, sess.ID, actor.Role, func(g *models.RecordingGrant) bool {
		return g.CanStart
	})
	if err != nil {
		return false, err
	}
	if granted {
		metrics.RecordingDecisions.WithLabelValues("start", "allow").Inc()
		return true, nil
	}
	return false, a.deny(ctx, sess.ID, actor, "start")
}

// CanStop reports whether the actor may stop the recording. The starter,
// explicitly granted roles and admin-tier actors may.
func (a *Authority) CanStop(ctx context.Context, sess *models.CallSession, actor identity.Actor, rec *models.SessionRecording) (bool, error) {
	allowed := actor.Capabilities.AdminTier || (rec != nil && rec.StartedByID == actor.ID)
	if !allowed {
		granted, err := a.hasGrant(ctx, sess.ID, actor.Role, func(g *models.RecordingGrant) bool {
			return g.CanStop
		})
		if err != nil {
			return false, err
		}
		allowed = granted
	}

	if allowed {
		metrics.RecordingDecisions.WithLabelValues("stop", "allow").Inc()
		return true, nil
	}
	return false, a.deny(ctx, sess.ID, actor, "stop")
}

// CanView reports whether the actor may read the recording. Session
// participants and admin-tier actors may.
func (a *Authority) CanView(ctx context.Context, sess *models.CallSession, actor identity.Actor) (bool, error) {
	if actor.Capabilities.AdminTier || a.isParticipant(sess, actor) {
		metrics.RecordingDecisions.WithLabelValues("view", "allow").Inc()
		return true, nil
	}
	return false, a.deny(ctx, sess.ID, actor, "view")
}

// CanDelete is unconditional: admin-tier roles only, regardless of session
// ownership or emergency status.
func (a *Authority) CanDelete(role roles.Role) bool {
	return roles.IsAdminTier(role)
}

// Start authorizes the actor, streams src through gzip into the blob store
// and persists the recording row. Exactly one recording may run per session.
func (a *Authority) Start(ctx context.Context, sess *models.CallSession, actor identity.Actor, src io.Reader) (*models.SessionRecording, error) {
	ok, err := a.CanStart(ctx, sess, actor)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.ErrInvalidActor.WithInternal(
			fmt.Errorf("recording start by %s on session %s", actor.Role, sess.ID))
	}

	var active int64
	if err := a.db.WithContext(ctx).
		Model(&models.SessionRecording{}).
		Where("session_id = ? AND completed_at IS NULL", sess.ID).
		Count(&active).Error; err != nil {
		return nil, fmt.Errorf("recording: count active: %w", err)
	}
	if active > 0 {
		return nil, ErrRecordingActive
	}

	now := a.timeNow().UTC()
	blob, err := a.store.Create(ctx, sess.ID, now)
	if err != nil {
		return nil, err
	}

	size, checksum, err := a.writeBlob(blob.Writer, src)
	if err != nil {
		_ = a.store.Delete(ctx, blob.Path)
		return nil, fmt.Errorf("recording: write blob: %w", err)
	}

	retention := now.AddDate(0, 0, a.policy.RetentionDays)
	rec := &models.SessionRecording{
		SessionID:      sess.ID,
		StartedByID:    actor.ID,
		StartedByRole:  string(actor.Role),
		StorageKind:    StorageFilesystem,
		StoragePath:    blob.Path,
		SizeBytes:      size,
		Checksum:       checksum,
		RetentionUntil: &retention,
	}
	if err := a.db.WithContext(ctx).Create(rec).Error; err != nil {
		_ = a.store.Delete(ctx, blob.Path)
		return nil, fmt.Errorf("recording: persist: %w", err)
	}

	if err := a.sink.Record(ctx, audit.Entry{
		SessionID: sess.ID,
		Action:    models.AuditActionRecordingStarted,
		ActorID:   actor.ID,
		ActorRole: actor.Role,
		Metadata:  map[string]any{"recording_id": rec.ID, "size_bytes": size},
	}); err != nil {
		// Fail-closed: an unaudited recording must not exist.
		_ = a.store.Delete(ctx, blob.Path)
		_ = a.db.WithContext(ctx).Delete(rec).Error
		return nil, err
	}

	a.log.Info("recording started",
		zap.String("session_id", sess.ID),
		zap.String("recording_id", rec.ID),
		zap.Int64("size_bytes", size),
	)
	return rec, nil
}

// Stop completes the recording, stamping duration from its creation time.
func (a *Authority) Stop(ctx context.Context, sess *models.CallSession, actor identity.Actor, recordingID string) (*models.SessionRecording, error) {
	rec, err := a.Get(ctx, recordingID)
	if err != nil {
		return nil, err
	}
	if rec.SessionID != sess.ID {
		return nil, apperrors.ErrNotFound
	}

	ok, err := a.CanStop(ctx, sess, actor, rec)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.ErrInvalidActor.WithInternal(
			fmt.Errorf("recording stop by %s on session %s", actor.Role, sess.ID))
	}
	if rec.CompletedAt != nil {
		return rec, nil
	}

	now := a.timeNow().UTC()
	rec.CompletedAt = &now
	rec.DurationSeconds = int64(now.Sub(rec.CreatedAt).Seconds())
	if rec.DurationSeconds < 0 {
		rec.DurationSeconds = 0
	}

	if err := a.db.WithContext(ctx).Save(rec).Error; err != nil {
		return nil, fmt.Errorf("recording: complete: %w", err)
	}

	if err := a.sink.Record(ctx, audit.Entry{
		SessionID: sess.ID,
		Action:    models.AuditActionRecordingStopped,
		ActorID:   actor.ID,
		ActorRole: actor.Role,
		Metadata:  map[string]any{"recording_id": rec.ID, "duration_seconds": rec.DurationSeconds},
	}); err != nil {
		return nil, err
	}
	return rec, nil
}

// Open returns a reader over the stored blob after a view check.
func (a *Authority) Open(ctx context.Context, sess *models.CallSession, actor identity.Actor, recordingID string) (io.ReadCloser, error) {
	rec, err := a.Get(ctx, recordingID)
	if err != nil {
		return nil, err
	}
	if rec.SessionID != sess.ID {
		return nil, apperrors.ErrNotFound
	}

	ok, err := a.CanView(ctx, sess, actor)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.ErrInvalidActor.WithInternal(
			fmt.Errorf("recording view by %s on session %s", actor.Role, sess.ID))
	}
	return a.store.Open(ctx, rec.StoragePath)
}

// Get loads one recording row.
func (a *Authority) Get(ctx context.Context, recordingID string) (*models.SessionRecording, error) {
	var rec models.SessionRecording
	if err := a.db.WithContext(ctx).First(&rec, "id = ?", recordingID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("recording: load %s: %w", recordingID, err)
	}
	return &rec, nil
}

// List returns the session's recordings, newest first.
func (a *Authority) List(ctx context.Context, sessionID string) ([]models.SessionRecording, error) {
	var recs []models.SessionRecording
	if err := a.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at DESC").
		Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("recording: list session %s: %w", sessionID, err)
	}
	return recs, nil
}

// ListAll returns every stored recording, newest first. Admin-tier callers
// use it for retention review; per-session access goes through List.
func (a *Authority) ListAll(ctx context.Context) ([]models.SessionRecording, error) {
	var recs []models.SessionRecording
	if err := a.db.WithContext(ctx).
		Order("created_at DESC").
		Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("recording: list all: %w", err)
	}
	return recs, nil
}

// Delete removes the blob and its row. Admin-tier only; a denial is audited
// against the owning session.
func (a *Authority) Delete(ctx context.Context, actor identity.Actor, recordingID string) error {
	rec, err := a.Get(ctx, recordingID)
	if err != nil {
		return err
	}

	if !a.CanDelete(actor.Role) {
		if auditErr := a.deny(ctx, rec.SessionID, actor, "delete"); auditErr != nil {
			return auditErr
		}
		return apperrors.ErrInvalidActor.WithInternal(
			fmt.Errorf("recording delete by %s", actor.Role))
	}
	metrics.RecordingDecisions.WithLabelValues("delete", "allow").Inc()

	if err := a.store.Delete(ctx, rec.StoragePath); err != nil {
		return err
	}
	if err := a.db.WithContext(ctx).Delete(rec).Error; err != nil {
		return fmt.Errorf("recording: delete row %s: %w", recordingID, err)
	}
	return nil
}

// Grant upserts an explicit recording permission for a role on a session.
func (a *Authority) Grant(ctx context.Context, sessionID string, role roles.Role, canStart, canStop bool) error {
	var grant models.RecordingGrant
	err := a.db.WithContext(ctx).
		Where("session_id = ? AND granted_to_role = ?", sessionID, string(role)).
		First(&grant).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		grant = models.RecordingGrant{
			SessionID:     sessionID,
			GrantedToRole: string(role),
			CanStart:      canStart,
			CanStop:       canStop,
		}
		if err := a.db.WithContext(ctx).Create(&grant).Error; err != nil {
			return fmt.Errorf("recording: create grant: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("recording: load grant: %w", err)
	default:
		grant.CanStart = canStart
		grant.CanStop = canStop
		if err := a.db.WithContext(ctx).Save(&grant).Error; err != nil {
			return fmt.Errorf("recording: update grant: %w", err)
		}
		return nil
	}
}

// Expired returns recordings whose retention window has lapsed as of now.
func (a *Authority) Expired(ctx context.Context, now time.Time) ([]models.SessionRecording, error) {
	var recs []models.SessionRecording
	if err := a.db.WithContext(ctx).
		Where("retention_until IS NOT NULL AND retention_until < ?", now.UTC()).
		Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("recording: list expired: %w", err)
	}
	return recs, nil
}

// Purge removes an expired recording's blob and row without an actor gate;
// only the retention job calls it.
func (a *Authority) Purge(ctx context.Context, rec *models.SessionRecording) error {
	var errs error
	if err := a.store.Delete(ctx, rec.StoragePath); err != nil {
		errs = multierr.Append(errs, err)
	}
	if err := a.db.WithContext(ctx).Delete(rec).Error; err != nil {
		errs = multierr.Append(errs, fmt.Errorf("recording: purge row %s: %w", rec.ID, err))
	}
	return errs
}

// writeBlob gzips src into dst, returning the compressed size and its sha256.
func (a *Authority) writeBlob(dst io.WriteCloser, src io.Reader) (int64, string, error) {
	hasher := sha256.New()
	counter := &countingWriter{w: io.MultiWriter(dst, hasher)}
	gz := gzip.NewWriter(counter)

	var errs error
	if _, err := io.Copy(gz, src); err != nil {
		errs = multierr.Append(errs, err)
	}
	if err := gz.Close(); err != nil {
		errs = multierr.Append(errs, err)
	}
	if err := dst.Close(); err != nil {
		errs = multierr.Append(errs, err)
	}
	if errs != nil {
		return 0, "", errs
	}
	return counter.n, hex.EncodeToString(hasher.Sum(nil)), nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// deny audits a rejected recording decision. The audit write is fail-closed:
// if it cannot be recorded, that error wins over the denial itself.
func (a *Authority) deny(ctx context.Context, sessionID string, actor identity.Actor, operation string) error {
	metrics.RecordingDecisions.WithLabelValues(operation, "deny").Inc()
	return a.sink.Record(ctx, audit.Entry{
		SessionID: sessionID,
		Action:    models.AuditActionRecordingAccessDenied,
		ActorID:   actor.ID,
		ActorRole: actor.Role,
		Metadata:  map[string]any{"operation": operation},
	})
}

func (a *Authority) isParticipant(sess *models.CallSession, actor identity.Actor) bool {
	if actor.ID == sess.ClientID {
		return true
	}
	if sess.ReaderID != nil && actor.ID == *sess.ReaderID {
		return true
	}
	if sess.AnsweredByID != nil && actor.ID == *sess.AnsweredByID {
		return true
	}
	return false
}

func (a *Authority) hasGrant(ctx context.Context, sessionID string, role roles.Role, pred func(*models.RecordingGrant) bool) (bool, error) {
	var grant models.RecordingGrant
	err := a.db.WithContext(ctx).
		Where("session_id = ? AND granted_to_role = ?", sessionID, string(role)).
		First(&grant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("recording: load grant: %w", err)
	}
	return pred(&grant), nil
}
