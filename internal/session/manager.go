package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	apperrors "github.com/soulline/lifeline/pkg/errors"
	"github.com/soulline/lifeline/pkg/logger"
	"github.com/soulline/lifeline/pkg/metrics"

	"github.com/soulline/lifeline/internal/audit"
	"github.com/soulline/lifeline/internal/escalation"
	"github.com/soulline/lifeline/internal/identity"
	"github.com/soulline/lifeline/internal/models"
	"github.com/soulline/lifeline/internal/notify"
	"github.com/soulline/lifeline/internal/roles"
)

// Timers is the slice of the escalation engine the manager depends on.
type Timers interface {
	Arm(sessionID string, level int, timeout time.Duration)
	Disarm(sessionID string)
}

// ChannelDropper closes signaling channels when a session leaves its live
// states. Implemented by the signaling relay.
type ChannelDropper interface {
	DropSession(sessionID string)
}

// ErrSessionNotFound indicates the session record could not be located.
var ErrSessionNotFound = errors.New("session: not found")

// Manager is the sole owner of call session state. Every mutation runs under
// the session's lock, commits its audit entry in the same transaction, and
// only then touches timers, notifications and metrics.
type Manager struct {
	db        *gorm.DB
	audit     *audit.Service
	chain     escalation.Chain
	directory identity.Directory
	notifier  notify.Notifier
	timers    Timers
	dropper   ChannelDropper
	timeNow   func() time.Time
	log       *zap.Logger

	mu    sync.Mutex
	locks map[string]*sessionLock
}

// sessionLock serialises mutations for one session and tracks the audit
// sequence allocated under it.
type sessionLock struct {
	mu  sync.Mutex
	seq int64
}

// Option customises the Manager.
type Option func(*Manager)

// WithClock overrides the manager's clock (test helper).
func WithClock(clock func() time.Time) Option {
	return func(m *Manager) {
		if clock != nil {
			m.timeNow = clock
		}
	}
}

// NewManager constructs the session manager. Timers must be bound with
// BindTimers before the first session is created; the escalation engine and
// the manager reference each other, so construction happens in two steps.
func NewManager(db *gorm.DB, auditSvc *audit.Service, chain escalation.Chain, directory identity.Directory, notifier notify.Notifier, opts ...Option) (*Manager, error) {
	if db == nil {
		return nil, errors.New("session: db is required")
	}
	if auditSvc == nil {
		return nil, errors.New("session: audit service is required")
	}
	if err := chain.Validate(); err != nil {
		return nil, err
	}
	if directory == nil {
		return nil, errors.New("session: identity directory is required")
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}

	m := &Manager{
		db:        db,
		audit:     auditSvc,
		chain:     chain,
		directory: directory,
		notifier:  notifier,
		timeNow:   time.Now,
		log:       logger.WithModule("session"),
		locks:     make(map[string]*sessionLock),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// BindTimers attaches the escalation engine once both sides exist.
func (m *Manager) BindTimers(t Timers) {
	m.timers = t
}

// BindDropper attaches the signaling relay's session cleanup. Like the
// escalation engine, the relay references the manager, so it is bound after
// construction.
func (m *Manager) BindDropper(d ChannelDropper) {
	m.dropper = d
}

// CreateSession creates a new call session for the client, moves it to
// RINGING and arms the level 0 escalation timer.
func (m *Manager) CreateSession(ctx context.Context, actor identity.Actor, isEmergency bool, preferredReaderID string) (*models.CallSession, error) {
	if !actor.Capabilities.CanOriginate {
		return nil, apperrors.ErrInvalidActor.WithInternal(
			fmt.Errorf("role %s cannot originate calls", actor.Role))
	}

	rule, ok := m.chain.At(0)
	if !ok {
		return nil, errors.New("session: escalation chain is empty")
	}

	now := m.timeNow().UTC()
	sess := &models.CallSession{
		ClientID:    actor.ID,
		IsEmergency: isEmergency,
		Status:      models.SessionInitiated,
		StartedAt:   now,
	}
	if preferredReaderID != "" {
		sess.ReaderID = &preferredReaderID
	}

	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(sess).Error; err != nil {
			return fmt.Errorf("session: create: %w", err)
		}
		if err := m.audit.AppendIn(ctx, tx, audit.Entry{
			SessionID: sess.ID,
			Action:    models.AuditActionCreated,
			ActorID:   actor.ID,
			ActorRole: actor.Role,
			Metadata:  map[string]any{"is_emergency": isEmergency},
		}, 1); err != nil {
			return err
		}

		// INITIATED is transient: the session rings immediately on creation.
		sess.Status = models.SessionRinging
		if err := tx.Save(sess).Error; err != nil {
			return fmt.Errorf("session: ring: %w", err)
		}
		return m.audit.AppendIn(ctx, tx, audit.Entry{
			SessionID: sess.ID,
			Action:    models.AuditActionRinging,
			ActorID:   actor.ID,
			ActorRole: actor.Role,
			Metadata:  map[string]any{"level": 0, "target_role": string(rule.TargetRole)},
		}, 2)
	})
	if err != nil {
		return nil, err
	}

	// Seed the lock with the sequence consumed above.
	m.mu.Lock()
	m.locks[sess.ID] = &sessionLock{seq: 2}
	m.mu.Unlock()

	if sess.ReaderID == nil && !m.directory.Available(rule.TargetRole) {
		m.log.Warn("no reader available at ring time; relying on escalation",
			zap.String("session_id", sess.ID))
	}

	m.timers.Arm(sess.ID, 0, rule.Timeout)
	m.notifier.SessionRinging(sess.ID, rule.TargetRole, isEmergency)

	kind := "standard"
	if isEmergency {
		kind = "emergency"
	}
	metrics.SessionsCreated.WithLabelValues(kind).Inc()
	metrics.ActiveCalls.Inc()

	snapshot := *sess
	return &snapshot, nil
}

// Accept answers a ringing session. The actor must match the current
// escalation level's target role; a late accept after the level advanced is
// rejected with ErrStaleEscalation rather than silently applied.
func (m *Manager) Accept(ctx context.Context, sessionID string, actor identity.Actor) (*models.CallSession, error) {
	var snapshot models.CallSession

	err := m.mutate(ctx, sessionID, func(tx *gorm.DB, sess *models.CallSession, seq func() int64) error {
		if sess.Status != models.SessionRinging {
			if sess.EndReason == models.EndReasonEscalatedExhausted {
				return apperrors.ErrEscalationExhausted
			}
			return apperrors.ErrInvalidTransition.WithInternal(
				fmt.Errorf("accept in state %s", sess.Status))
		}

		rule, ok := m.chain.At(sess.EscalationLevel)
		if !ok {
			return apperrors.ErrInvalidTransition
		}

		if err := m.checkAnswerer(tx, ctx, sess, rule, actor, seq); err != nil {
			return err
		}

		now := m.timeNow().UTC()
		sess.Status = models.SessionActive
		sess.AnsweredAt = &now
		answeredBy := actor.ID
		sess.AnsweredByID = &answeredBy
		sess.AnsweredByRole = string(actor.Role)
		if sess.EscalationLevel == 0 && sess.ReaderID == nil && actor.Role == roles.RoleReader {
			sess.ReaderID = &answeredBy
		}

		if err := tx.Save(sess).Error; err != nil {
			return fmt.Errorf("session: accept: %w", err)
		}
		if err := m.audit.AppendIn(ctx, tx, audit.Entry{
			SessionID: sess.ID,
			Action:    models.AuditActionAnswered,
			ActorID:   actor.ID,
			ActorRole: actor.Role,
			Metadata:  map[string]any{"level": sess.EscalationLevel},
		}, seq()); err != nil {
			return err
		}

		snapshot = *sess
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.timers.Disarm(sessionID)
	return &snapshot, nil
}

// checkAnswerer validates that the actor may answer at the session's current
// level, auditing rejected attempts inside the same transaction.
func (m *Manager) checkAnswerer(tx *gorm.DB, ctx context.Context, sess *models.CallSession, rule escalation.Rule, actor identity.Actor, seq func() int64) error {
	if !actor.Capabilities.CanAnswer {
		return m.rejectUnauthorized(tx, ctx, sess, actor, seq, "accept")
	}

	if actor.Role == rule.TargetRole {
		// Level 0 with an assigned reader only rings that reader.
		if rule.Level == 0 && sess.ReaderID != nil && *sess.ReaderID != actor.ID {
			return m.rejectUnauthorized(tx, ctx, sess, actor, seq, "accept")
		}
		return nil
	}

	// An actor whose role was targeted by an earlier level raced a timeout:
	// its accept is stale, not unauthorized.
	for level := 0; level < sess.EscalationLevel; level++ {
		earlier, ok := m.chain.At(level)
		if ok && earlier.TargetRole == actor.Role {
			return apperrors.ErrStaleEscalation.WithInternal(
				fmt.Errorf("level advanced to %d past %s", sess.EscalationLevel, actor.Role))
		}
	}

	return m.rejectUnauthorized(tx, ctx, sess, actor, seq, "accept")
}

func (m *Manager) rejectUnauthorized(tx *gorm.DB, ctx context.Context, sess *models.CallSession, actor identity.Actor, seq func() int64, attempted string) error {
	if err := m.audit.AppendIn(ctx, tx, audit.Entry{
		SessionID: sess.ID,
		Action:    models.AuditActionUnauthorizedAttempt,
		ActorID:   actor.ID,
		ActorRole: actor.Role,
		Metadata:  map[string]any{"attempted": attempted},
	}, seq()); err != nil {
		return err
	}
	return apperrors.ErrInvalidActor.WithInternal(
		fmt.Errorf("%s by role %s at level %d", attempted, actor.Role, sess.EscalationLevel))
}

// Decline refuses a ringing call. Declining an emergency session is forbidden
// by policy: the attempt itself is audited and ErrMandatoryResponse returned
// without any state change. Non-emergency sessions re-ring the same level.
func (m *Manager) Decline(ctx context.Context, sessionID string, actor identity.Actor) error {
	var (
		rearm bool
		rule  escalation.Rule
		emerg bool
	)

	err := m.mutate(ctx, sessionID, func(tx *gorm.DB, sess *models.CallSession, seq func() int64) error {
		if sess.Status != models.SessionRinging {
			return apperrors.ErrInvalidTransition.WithInternal(
				fmt.Errorf("decline in state %s", sess.Status))
		}

		current, ok := m.chain.At(sess.EscalationLevel)
		if !ok {
			return apperrors.ErrInvalidTransition
		}
		rule = current
		emerg = sess.IsEmergency

		if sess.IsEmergency {
			// Policy-locked: the audit entry commits, the state does not change.
			if err := m.audit.AppendIn(ctx, tx, audit.Entry{
				SessionID: sess.ID,
				Action:    models.AuditActionUnauthorizedAttempt,
				ActorID:   actor.ID,
				ActorRole: actor.Role,
				Metadata:  map[string]any{"attempted": "decline", "mandatory_response": true},
			}, seq()); err != nil {
				return err
			}
			return apperrors.ErrMandatoryResponse
		}

		if actor.Role != rule.TargetRole {
			return m.rejectUnauthorized(tx, ctx, sess, actor, seq, "decline")
		}

		// Re-target the same level: escalation_level is untouched, the ring
		// entry records who stepped aside.
		if err := m.audit.AppendIn(ctx, tx, audit.Entry{
			SessionID: sess.ID,
			Action:    models.AuditActionRinging,
			ActorID:   actor.ID,
			ActorRole: actor.Role,
			Metadata: map[string]any{
				"level":       sess.EscalationLevel,
				"target_role": string(rule.TargetRole),
				"declined_by": actor.ID,
			},
		}, seq()); err != nil {
			return err
		}

		rearm = true
		return nil
	})

	if rearm {
		m.timers.Arm(sessionID, rule.Level, rule.Timeout)
		m.notifier.SessionRinging(sessionID, rule.TargetRole, emerg)
	}
	return err
}

// End closes a session from ACTIVE or RINGING. A session that was never
// answered becomes ABANDONED, otherwise ENDED.
func (m *Manager) End(ctx context.Context, sessionID string, actor identity.Actor, reason string) (*models.CallSession, error) {
	// end_reason is a closed enum; escalated_exhausted is written only by
	// the timeout path, never accepted from callers.
	if !models.ValidCallerEndReason(reason) {
		return nil, apperrors.NewBadRequest(fmt.Sprintf("unknown end reason %q", reason))
	}

	var snapshot models.CallSession

	err := m.mutate(ctx, sessionID, func(tx *gorm.DB, sess *models.CallSession, seq func() int64) error {
		if !sess.Live() {
			return apperrors.ErrInvalidTransition.WithInternal(
				fmt.Errorf("end in state %s", sess.Status))
		}

		if !m.mayEnd(sess, actor) {
			return m.rejectUnauthorized(tx, ctx, sess, actor, seq, "end")
		}

		now := m.timeNow().UTC()
		if sess.AnsweredAt != nil {
			sess.Status = models.SessionEnded
		} else {
			sess.Status = models.SessionAbandoned
		}
		sess.EndedAt = &now
		sess.EndReason = reason

		if err := tx.Save(sess).Error; err != nil {
			return fmt.Errorf("session: end: %w", err)
		}
		if err := m.audit.AppendIn(ctx, tx, audit.Entry{
			SessionID: sess.ID,
			Action:    models.AuditActionEnded,
			ActorID:   actor.ID,
			ActorRole: actor.Role,
			Metadata:  map[string]any{"reason": reason, "status": sess.Status},
		}, seq()); err != nil {
			return err
		}

		snapshot = *sess
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.finishSession(sessionID)
	return &snapshot, nil
}

// mayEnd allows the session's participants and admin-tier roles to end it.
func (m *Manager) mayEnd(sess *models.CallSession, actor identity.Actor) bool {
	if actor.Capabilities.AdminTier {
		return true
	}
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

// OnEscalationTimeout is invoked by the escalation engine, possibly more than
// once per level. The (status, level) guard makes duplicate fires and fires
// racing an accept harmless: exactly one transition wins.
func (m *Manager) OnEscalationTimeout(sessionID string, expiredLevel int) {
	ctx := context.Background()

	var (
		advanced  bool
		exhausted bool
		next      escalation.Rule
		emerg     bool
	)

	err := m.mutate(ctx, sessionID, func(tx *gorm.DB, sess *models.CallSession, seq func() int64) error {
		if sess.Status != models.SessionRinging || sess.EscalationLevel != expiredLevel {
			// Stale fire: the session answered, ended or already advanced.
			return nil
		}
		emerg = sess.IsEmergency

		rule, ok := m.chain.At(expiredLevel + 1)
		if !ok {
			now := m.timeNow().UTC()
			sess.Status = models.SessionAbandoned
			sess.EndedAt = &now
			sess.EndReason = models.EndReasonEscalatedExhausted
			if err := tx.Save(sess).Error; err != nil {
				return fmt.Errorf("session: exhaust: %w", err)
			}
			if err := m.audit.AppendIn(ctx, tx, audit.Entry{
				SessionID: sess.ID,
				Action:    models.AuditActionEnded,
				ActorID:   "system",
				ActorRole: "",
				Metadata:  map[string]any{"reason": models.EndReasonEscalatedExhausted, "level": expiredLevel},
			}, seq()); err != nil {
				return err
			}
			exhausted = true
			return nil
		}

		sess.EscalationLevel = rule.Level
		if err := tx.Save(sess).Error; err != nil {
			return fmt.Errorf("session: escalate: %w", err)
		}
		if err := m.audit.AppendIn(ctx, tx, audit.Entry{
			SessionID: sess.ID,
			Action:    models.AuditActionEscalated,
			ActorID:   "system",
			ActorRole: "",
			Metadata:  map[string]any{"from_level": expiredLevel, "to_level": rule.Level, "target_role": string(rule.TargetRole)},
		}, seq()); err != nil {
			return err
		}

		advanced = true
		next = rule
		return nil
	})
	if err != nil {
		// Fail-closed: without the audit entry the escalation did not happen.
		// The timer is gone, so re-arm the expired level and let it retry.
		m.log.Error("escalation transition failed; re-arming",
			zap.String("session_id", sessionID),
			zap.Int("level", expiredLevel),
			zap.Error(err),
		)
		if rule, ok := m.chain.At(expiredLevel); ok {
			m.timers.Arm(sessionID, expiredLevel, rule.Timeout)
		}
		return
	}

	switch {
	case advanced:
		m.timers.Arm(sessionID, next.Level, next.Timeout)
		m.notifier.SessionEscalated(sessionID, next.TargetRole, next.Level, emerg)
		metrics.Escalations.WithLabelValues(strconv.Itoa(next.Level)).Inc()
	case exhausted:
		m.finishSession(sessionID)
		metrics.SessionsAbandoned.Inc()
	}
}

// Record appends an audit entry for the session under its serialization
// point, allocating the next causal sequence number. Collaborators that audit
// without mutating session state (recording decisions) go through here.
func (m *Manager) Record(ctx context.Context, entry audit.Entry) error {
	return m.mutate(ctx, entry.SessionID, func(tx *gorm.DB, _ *models.CallSession, seq func() int64) error {
		return m.audit.AppendIn(ctx, tx, entry, seq())
	})
}

// Snapshot returns a copy of the session's current state.
func (m *Manager) Snapshot(ctx context.Context, sessionID string) (*models.CallSession, error) {
	var sess models.CallSession
	if err := m.db.WithContext(ctx).First(&sess, "id = ?", sessionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound.WithInternal(ErrSessionNotFound)
		}
		return nil, fmt.Errorf("session: load %s: %w", sessionID, err)
	}
	return &sess, nil
}

// Participants implements the signaling relay's session guard: both ids of a
// live session, with the counterpart empty until someone answers or a reader
// is assigned.
func (m *Manager) Participants(sessionID string) (string, string, error) {
	sess, err := m.Snapshot(context.Background(), sessionID)
	if err != nil {
		return "", "", err
	}
	if !sess.Live() {
		return "", "", apperrors.ErrInvalidTransition.WithInternal(
			fmt.Errorf("signaling on session in state %s", sess.Status))
	}

	counterpart := ""
	switch {
	case sess.AnsweredByID != nil:
		counterpart = *sess.AnsweredByID
	case sess.ReaderID != nil:
		counterpart = *sess.ReaderID
	}
	return sess.ClientID, counterpart, nil
}

// mutate runs fn under the session's lock inside a transaction. The seq
// closure allocates audit sequence numbers; allocations stick whenever the
// transaction commits, including policy rejections that audit the attempt.
func (m *Manager) mutate(ctx context.Context, sessionID string, fn func(tx *gorm.DB, sess *models.CallSession, seq func() int64) error) error {
	lock, err := m.lockFor(ctx, sessionID)
	if err != nil {
		return err
	}

	lock.mu.Lock()
	defer lock.mu.Unlock()

	var sess models.CallSession
	if err := m.db.WithContext(ctx).First(&sess, "id = ?", sessionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.ErrNotFound.WithInternal(ErrSessionNotFound)
		}
		return fmt.Errorf("session: load %s: %w", sessionID, err)
	}

	allocated := lock.seq
	seq := func() int64 {
		allocated++
		return allocated
	}

	// Policy rejections (mandatory response, unauthorized) append an audit
	// entry that must outlive the failed operation. The transaction closure
	// returns nil for those so the entry commits; the domain error is
	// re-surfaced after the commit.
	var rejection error
	txErr := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := fn(tx, &sess, seq)
		if isAuditedRejection(err) {
			rejection = err
			return nil
		}
		return err
	})
	if txErr != nil {
		return txErr
	}

	lock.seq = allocated
	return rejection
}

// isAuditedRejection reports whether the error is a policy rejection that
// appended its own audit entry and therefore must not roll the transaction
// back.
func isAuditedRejection(err error) bool {
	return errors.Is(err, apperrors.ErrMandatoryResponse) ||
		errors.Is(err, apperrors.ErrInvalidActor)
}

// lockFor returns the per-session lock, creating it with the persisted audit
// sequence when the session is first touched after a restart.
func (m *Manager) lockFor(ctx context.Context, sessionID string) (*sessionLock, error) {
	m.mu.Lock()
	if lock, ok := m.locks[sessionID]; ok {
		m.mu.Unlock()
		return lock, nil
	}
	m.mu.Unlock()

	// Restore the sequence outside the registry lock; racing creators
	// resolve below.
	max, err := m.audit.MaxSequence(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if lock, ok := m.locks[sessionID]; ok {
		return lock, nil
	}
	lock := &sessionLock{seq: max}
	m.locks[sessionID] = lock
	return lock, nil
}

// finishSession releases per-session resources after a terminal transition.
// The lock entry stays resident: late auditors (a recording denial after the
// call ended) still serialize through it, and evicting it would let a racing
// lockFor restore the sequence counter from a not-yet-committed append.
func (m *Manager) finishSession(sessionID string) {
	m.timers.Disarm(sessionID)
	if m.dropper != nil {
		m.dropper.DropSession(sessionID)
	}

	metrics.ActiveCalls.Dec()
}
