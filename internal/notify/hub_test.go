package notify

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soulline/lifeline/internal/roles"
)

func dialSubscriber(t *testing.T, hub *Hub, role roles.Role) *websocket.Conn {
	t.Helper()

	before := hub.SubscriberCount(role)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.Serve(role, w, r)
	}))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	waitForCount(t, hub, role, before+1)
	return conn
}

func waitForCount(t *testing.T, hub *Hub, role roles.Role, want int) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.SubscriberCount(role) == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("subscriber count for %s never reached %d", role, want)
}

func readAlert(t *testing.T, conn *websocket.Conn) Alert {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var alert Alert
	require.NoError(t, conn.ReadJSON(&alert))
	return alert
}

func assertNoAlert(t *testing.T, conn *websocket.Conn) {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(150*time.Millisecond)))
	var alert Alert
	require.Error(t, conn.ReadJSON(&alert), "unexpected alert %+v", alert)
}

func TestHubDeliversRingToTargetRole(t *testing.T) {
	hub := NewHub()
	reader := dialSubscriber(t, hub, roles.RoleReader)
	monitor := dialSubscriber(t, hub, roles.RoleMonitor)

	hub.SessionRinging("sess-1", roles.RoleReader, false)

	alert := readAlert(t, reader)
	assert.Equal(t, EventRinging, alert.Event)
	assert.Equal(t, "sess-1", alert.SessionID)
	assert.Equal(t, roles.RoleReader, alert.TargetRole)
	assert.False(t, alert.IsEmergency)

	assertNoAlert(t, monitor)
}

func TestHubEmergencyAlsoAlertsAdmins(t *testing.T) {
	hub := NewHub()
	reader := dialSubscriber(t, hub, roles.RoleReader)
	admin := dialSubscriber(t, hub, roles.RoleAdmin)

	hub.SessionRinging("sess-1", roles.RoleReader, true)

	for _, conn := range []*websocket.Conn{reader, admin} {
		alert := readAlert(t, conn)
		assert.Equal(t, EventRinging, alert.Event)
		assert.True(t, alert.IsEmergency)
	}
}

func TestHubEmergencyAtAdminLevelAlertsSuperAdmins(t *testing.T) {
	hub := NewHub()
	admin := dialSubscriber(t, hub, roles.RoleAdmin)
	superAdmin := dialSubscriber(t, hub, roles.RoleSuperAdmin)

	hub.SessionEscalated("sess-1", roles.RoleAdmin, 2, true)

	for _, conn := range []*websocket.Conn{admin, superAdmin} {
		alert := readAlert(t, conn)
		assert.Equal(t, EventEscalated, alert.Event)
		assert.Equal(t, roles.RoleAdmin, alert.TargetRole)
		assert.True(t, alert.IsEmergency)
	}
}

func TestHubBroadcastsEscalation(t *testing.T) {
	hub := NewHub()
	monitor := dialSubscriber(t, hub, roles.RoleMonitor)

	hub.SessionEscalated("sess-1", roles.RoleMonitor, 1, false)

	alert := readAlert(t, monitor)
	assert.Equal(t, EventEscalated, alert.Event)
	assert.Equal(t, 1, alert.Level)
	assert.Equal(t, roles.RoleMonitor, alert.TargetRole)
}

func TestHubUnregistersClosedSubscribers(t *testing.T) {
	hub := NewHub()
	conn := dialSubscriber(t, hub, roles.RoleReader)

	require.NoError(t, conn.Close())
	waitForCount(t, hub, roles.RoleReader, 0)

	// Broadcasting with no subscribers is a no-op.
	hub.SessionRinging("sess-1", roles.RoleReader, false)
}
