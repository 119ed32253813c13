package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soulline/lifeline/internal/api"
	"github.com/soulline/lifeline/internal/app"
	"github.com/soulline/lifeline/internal/audit"
	iauth "github.com/soulline/lifeline/internal/auth"
	"github.com/soulline/lifeline/internal/database/testutil"
	"github.com/soulline/lifeline/internal/escalation"
	"github.com/soulline/lifeline/internal/identity"
	"github.com/soulline/lifeline/internal/models"
	"github.com/soulline/lifeline/internal/notify"
	"github.com/soulline/lifeline/internal/recording"
	"github.com/soulline/lifeline/internal/roles"
	"github.com/soulline/lifeline/internal/session"
	"github.com/soulline/lifeline/internal/signaling"
)

type testStack struct {
	router *gin.Engine
	jwt    *iauth.JWTService
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.MustOpenTestDB(t)

	auditSvc, err := audit.NewService(db)
	require.NoError(t, err)

	chain := escalation.Chain{
		{Level: 0, TargetRole: roles.RoleReader, Timeout: time.Minute},
		{Level: 1, TargetRole: roles.RoleMonitor, Timeout: time.Minute},
	}

	dir := identity.NewMemoryDirectory()
	dir.SetAvailable(roles.RoleReader, 1)

	hub := notify.NewHub()
	manager, err := session.NewManager(db, auditSvc, chain, dir, hub)
	require.NoError(t, err)

	engine := escalation.NewEngine(manager)
	manager.BindTimers(engine)

	relay := signaling.NewRelay(manager)

	store, err := recording.NewFilesystemBlobStore(t.TempDir())
	require.NoError(t, err)
	authority, err := recording.NewAuthority(db, store, manager)
	require.NoError(t, err)

	jwt, err := iauth.NewJWTService(iauth.JWTConfig{Secret: "router-test-secret"})
	require.NoError(t, err)

	cfg, err := app.LoadConfig(t.TempDir())
	require.NoError(t, err)
	cfg.Auth.JWT.Secret = "router-test-secret"

	router, err := api.NewRouter(api.Dependencies{
		DB:        db,
		Config:    cfg,
		JWT:       jwt,
		Manager:   manager,
		Relay:     relay,
		Hub:       hub,
		Audit:     auditSvc,
		Authority: authority,
	})
	require.NoError(t, err)

	return &testStack{router: router, jwt: jwt}
}

func (s *testStack) token(t *testing.T, actorID string, role roles.Role) string {
	t.Helper()
	token, err := s.jwt.GenerateToken(iauth.TokenInput{ActorID: actorID, Role: role})
	require.NoError(t, err)
	return token
}

func (s *testStack) do(t *testing.T, method, path, token string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func sessionID(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var payload struct {
		Data models.CallSession `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.NotEmpty(t, payload.Data.ID)
	return payload.Data.ID
}

func TestHealthIsPublic(t *testing.T) {
	s := newTestStack(t)
	rec := s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpointIsMounted(t *testing.T) {
	s := newTestStack(t)
	rec := s.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "lifeline_")
}

func TestAPIRequiresAuth(t *testing.T) {
	s := newTestStack(t)
	rec := s.do(t, http.MethodPost, "/api/calls", "", []byte(`{}`))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCallLifecycleOverHTTP(t *testing.T) {
	s := newTestStack(t)
	clientToken := s.token(t, "11111111-1111-4111-8111-111111111111", roles.RoleClient)
	readerToken := s.token(t, "22222222-2222-4222-8222-222222222222", roles.RoleReader)

	rec := s.do(t, http.MethodPost, "/api/calls", clientToken, []byte(`{"is_emergency":false}`))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := sessionID(t, rec)

	rec = s.do(t, http.MethodGet, "/api/calls/"+id, readerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), models.SessionRinging)

	rec = s.do(t, http.MethodPost, "/api/calls/"+id+"/accept", readerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), models.SessionActive)

	rec = s.do(t, http.MethodPost, "/api/calls/"+id+"/end", clientToken, []byte(`{"reason":"completed"}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), models.SessionEnded)

	rec = s.do(t, http.MethodGet, "/api/calls/"+id+"/audit", clientToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	for _, action := range []string{
		models.AuditActionCreated,
		models.AuditActionRinging,
		models.AuditActionAnswered,
		models.AuditActionEnded,
	} {
		assert.Contains(t, rec.Body.String(), action)
	}
}

func TestEmergencyDeclineOverHTTP(t *testing.T) {
	s := newTestStack(t)
	clientToken := s.token(t, "11111111-1111-4111-8111-111111111111", roles.RoleClient)
	readerToken := s.token(t, "22222222-2222-4222-8222-222222222222", roles.RoleReader)

	rec := s.do(t, http.MethodPost, "/api/calls", clientToken, []byte(`{"is_emergency":true}`))
	require.Equal(t, http.StatusCreated, rec.Code)
	id := sessionID(t, rec)

	rec = s.do(t, http.MethodPost, "/api/calls/"+id+"/decline", readerToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "MANDATORY_RESPONSE")

	// The session is untouched.
	rec = s.do(t, http.MethodGet, "/api/calls/"+id, readerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), models.SessionRinging)
}

func TestNonClientCannotCreateCalls(t *testing.T) {
	s := newTestStack(t)
	readerToken := s.token(t, "22222222-2222-4222-8222-222222222222", roles.RoleReader)

	rec := s.do(t, http.MethodPost, "/api/calls", readerToken, []byte(`{}`))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "INVALID_ACTOR")
}

func TestAuditReadRestrictedToParticipants(t *testing.T) {
	s := newTestStack(t)
	clientToken := s.token(t, "11111111-1111-4111-8111-111111111111", roles.RoleClient)
	otherToken := s.token(t, "33333333-3333-4333-8333-333333333333", roles.RoleReader)
	adminToken := s.token(t, "44444444-4444-4444-8444-444444444444", roles.RoleAdmin)

	rec := s.do(t, http.MethodPost, "/api/calls", clientToken, []byte(`{}`))
	require.Equal(t, http.StatusCreated, rec.Code)
	id := sessionID(t, rec)

	rec = s.do(t, http.MethodGet, "/api/calls/"+id+"/audit", otherToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/calls/"+id+"/audit", adminToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRecordingFlowOverHTTP(t *testing.T) {
	s := newTestStack(t)
	clientID := "11111111-1111-4111-8111-111111111111"
	clientToken := s.token(t, clientID, roles.RoleClient)
	adminToken := s.token(t, "44444444-4444-4444-8444-444444444444", roles.RoleAdmin)

	rec := s.do(t, http.MethodPost, "/api/calls", clientToken, []byte(`{"is_emergency":true}`))
	require.Equal(t, http.StatusCreated, rec.Code)
	id := sessionID(t, rec)

	req := httptest.NewRequest(http.MethodPost, "/api/calls/"+id+"/recording/start",
		strings.NewReader("emergency media payload"))
	req.Header.Set("Authorization", "Bearer "+clientToken)
	start := httptest.NewRecorder()
	s.router.ServeHTTP(start, req)
	require.Equal(t, http.StatusCreated, start.Code, start.Body.String())

	var payload struct {
		Data models.SessionRecording `json:"data"`
	}
	require.NoError(t, json.Unmarshal(start.Body.Bytes(), &payload))
	recordingID := payload.Data.ID

	rec = s.do(t, http.MethodGet, "/api/calls/"+id+"/recordings", clientToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), recordingID)

	// The global listing is admin-tier only.
	rec = s.do(t, http.MethodGet, "/api/recordings", clientToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = s.do(t, http.MethodGet, "/api/recordings", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), recordingID)

	// Only admin-tier can delete; the client cannot.
	rec = s.do(t, http.MethodDelete, "/api/recordings/"+recordingID, clientToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodDelete, "/api/recordings/"+recordingID, adminToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSignalWithoutPeerChannel(t *testing.T) {
	s := newTestStack(t)
	clientID := "11111111-1111-4111-8111-111111111111"
	clientToken := s.token(t, clientID, roles.RoleClient)
	readerToken := s.token(t, "22222222-2222-4222-8222-222222222222", roles.RoleReader)

	rec := s.do(t, http.MethodPost, "/api/calls", clientToken, []byte(`{}`))
	require.Equal(t, http.StatusCreated, rec.Code)
	id := sessionID(t, rec)

	rec = s.do(t, http.MethodPost, "/api/calls/"+id+"/accept", readerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Both participants exist but neither has an open channel.
	body := []byte(`{"payload":{"type":"offer","sdp":"v=0"}}`)
	rec = s.do(t, http.MethodPost, "/api/calls/"+id+"/signal", clientToken, body)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "NO_PEER_CONNECTED")
}
