package recording_test

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/soulline/lifeline/pkg/errors"

	"github.com/soulline/lifeline/internal/audit"
	"github.com/soulline/lifeline/internal/database/testutil"
	"github.com/soulline/lifeline/internal/identity"
	"github.com/soulline/lifeline/internal/models"
	"github.com/soulline/lifeline/internal/recording"
	"github.com/soulline/lifeline/internal/roles"
)

type memorySink struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (s *memorySink) Record(_ context.Context, entry audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *memorySink) actions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.Action)
	}
	return out
}

func newTestAuthority(t *testing.T) (*recording.Authority, *memorySink, *models.CallSession, *models.CallSession) {
	t.Helper()

	db := testutil.MustOpenTestDB(t)
	store, err := recording.NewFilesystemBlobStore(t.TempDir())
	require.NoError(t, err)

	sink := &memorySink{}
	authority, err := recording.NewAuthority(db, store, sink,
		recording.WithPolicy(recording.Policy{RetentionDays: 30}))
	require.NoError(t, err)

	emergency := &models.CallSession{
		ClientID:    "client-1",
		IsEmergency: true,
		Status:      models.SessionActive,
		StartedAt:   time.Now().UTC(),
	}
	require.NoError(t, db.Create(emergency).Error)

	standard := &models.CallSession{
		ClientID:  "client-2",
		Status:    models.SessionActive,
		StartedAt: time.Now().UTC(),
	}
	require.NoError(t, db.Create(standard).Error)

	return authority, sink, emergency, standard
}

func TestEmergencyClientMayAlwaysStart(t *testing.T) {
	authority, sink, emergency, _ := newTestAuthority(t)
	client := identity.NewActor("client-1", roles.RoleClient)

	rec, err := authority.Start(context.Background(), emergency, client, strings.NewReader("media"))
	require.NoError(t, err)
	assert.Equal(t, emergency.ID, rec.SessionID)
	assert.NotEmpty(t, rec.Checksum)
	assert.Positive(t, rec.SizeBytes)
	require.NotNil(t, rec.RetentionUntil)

	assert.Equal(t, []string{models.AuditActionRecordingStarted}, sink.actions())
}

func TestStandardSessionNeedsGrant(t *testing.T) {
	authority, sink, _, standard := newTestAuthority(t)
	client := identity.NewActor("client-2", roles.RoleClient)

	_, err := authority.Start(context.Background(), standard, client, strings.NewReader("media"))
	require.ErrorIs(t, err, apperrors.ErrInvalidActor)
	assert.Equal(t, []string{models.AuditActionRecordingAccessDenied}, sink.actions())

	require.NoError(t, authority.Grant(context.Background(), standard.ID, roles.RoleClient, true, true))

	rec, err := authority.Start(context.Background(), standard, client, strings.NewReader("media"))
	require.NoError(t, err)
	assert.Equal(t, standard.ID, rec.SessionID)
}

func TestSecondConcurrentRecordingRejected(t *testing.T) {
	authority, _, emergency, _ := newTestAuthority(t)
	client := identity.NewActor("client-1", roles.RoleClient)

	_, err := authority.Start(context.Background(), emergency, client, strings.NewReader("media"))
	require.NoError(t, err)

	_, err = authority.Start(context.Background(), emergency, client, strings.NewReader("media"))
	require.ErrorIs(t, err, recording.ErrRecordingActive)
}

func TestStopByStarterCompletesRecording(t *testing.T) {
	authority, sink, emergency, _ := newTestAuthority(t)
	client := identity.NewActor("client-1", roles.RoleClient)

	rec, err := authority.Start(context.Background(), emergency, client, strings.NewReader("media"))
	require.NoError(t, err)

	stopped, err := authority.Stop(context.Background(), emergency, client, rec.ID)
	require.NoError(t, err)
	require.NotNil(t, stopped.CompletedAt)

	// Stopping again is idempotent.
	again, err := authority.Stop(context.Background(), emergency, client, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, stopped.CompletedAt.Unix(), again.CompletedAt.Unix())

	actions := sink.actions()
	assert.Contains(t, actions, models.AuditActionRecordingStopped)
}

func TestStopByStrangerDenied(t *testing.T) {
	authority, sink, emergency, _ := newTestAuthority(t)
	client := identity.NewActor("client-1", roles.RoleClient)
	stranger := identity.NewActor("reader-5", roles.RoleReader)

	rec, err := authority.Start(context.Background(), emergency, client, strings.NewReader("media"))
	require.NoError(t, err)

	_, err = authority.Stop(context.Background(), emergency, stranger, rec.ID)
	require.ErrorIs(t, err, apperrors.ErrInvalidActor)
	assert.Contains(t, sink.actions(), models.AuditActionRecordingAccessDenied)
}

func TestViewLimitedToParticipantsAndAdmins(t *testing.T) {
	authority, _, emergency, _ := newTestAuthority(t)
	client := identity.NewActor("client-1", roles.RoleClient)

	rec, err := authority.Start(context.Background(), emergency, client, strings.NewReader("hello recording"))
	require.NoError(t, err)

	// Participant reads back the gzip'd payload.
	rc, err := authority.Open(context.Background(), emergency, client, rec.ID)
	require.NoError(t, err)
	gz, err := gzip.NewReader(rc)
	require.NoError(t, err)
	payload, err := io.ReadAll(gz)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "hello recording", string(payload))

	// Admins may view without being participants.
	admin := identity.NewActor("admin-1", roles.RoleAdmin)
	rc, err = authority.Open(context.Background(), emergency, admin, rec.ID)
	require.NoError(t, err)
	require.NoError(t, rc.Close())

	// Unrelated readers may not.
	stranger := identity.NewActor("reader-5", roles.RoleReader)
	_, err = authority.Open(context.Background(), emergency, stranger, rec.ID)
	require.ErrorIs(t, err, apperrors.ErrInvalidActor)
}

func TestCanDeleteIsAdminTierOnly(t *testing.T) {
	authority, _, _, _ := newTestAuthority(t)

	assert.True(t, authority.CanDelete(roles.RoleAdmin))
	assert.True(t, authority.CanDelete(roles.RoleSuperAdmin))
	assert.False(t, authority.CanDelete(roles.RoleClient))
	assert.False(t, authority.CanDelete(roles.RoleReader))
	assert.False(t, authority.CanDelete(roles.RoleMonitor))
}

func TestDeleteRemovesBlobAndRow(t *testing.T) {
	authority, sink, emergency, _ := newTestAuthority(t)
	client := identity.NewActor("client-1", roles.RoleClient)
	admin := identity.NewActor("admin-1", roles.RoleAdmin)

	rec, err := authority.Start(context.Background(), emergency, client, strings.NewReader("media"))
	require.NoError(t, err)

	// A participant cannot delete, even on their own emergency session.
	err = authority.Delete(context.Background(), client, rec.ID)
	require.ErrorIs(t, err, apperrors.ErrInvalidActor)
	assert.Contains(t, sink.actions(), models.AuditActionRecordingAccessDenied)

	require.NoError(t, authority.Delete(context.Background(), admin, rec.ID))

	_, err = authority.Get(context.Background(), rec.ID)
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestExpiredAndPurge(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	store, err := recording.NewFilesystemBlobStore(t.TempDir())
	require.NoError(t, err)

	past := time.Now().Add(-48 * time.Hour)
	clock := func() time.Time { return past }

	sink := &memorySink{}
	authority, err := recording.NewAuthority(db, store, sink,
		recording.WithClock(clock),
		recording.WithPolicy(recording.Policy{RetentionDays: 1}))
	require.NoError(t, err)

	sess := &models.CallSession{
		ClientID:    "client-1",
		IsEmergency: true,
		Status:      models.SessionActive,
		StartedAt:   past,
	}
	require.NoError(t, db.Create(sess).Error)

	client := identity.NewActor("client-1", roles.RoleClient)
	rec, err := authority.Start(context.Background(), sess, client, strings.NewReader("media"))
	require.NoError(t, err)

	expired, err := authority.Expired(context.Background(), time.Now())
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, rec.ID, expired[0].ID)

	require.NoError(t, authority.Purge(context.Background(), &expired[0]))

	expired, err = authority.Expired(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Empty(t, expired)
}

func TestChecksumMatchesStoredBlob(t *testing.T) {
	authority, _, emergency, _ := newTestAuthority(t)
	client := identity.NewActor("client-1", roles.RoleClient)

	payload := bytes.Repeat([]byte("abc123"), 1024)
	rec, err := authority.Start(context.Background(), emergency, client, bytes.NewReader(payload))
	require.NoError(t, err)

	rc, err := authority.Open(context.Background(), emergency, client, rec.ID)
	require.NoError(t, err)
	stored, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())

	assert.Equal(t, int64(len(stored)), rec.SizeBytes)
}
