package escalation

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/soulline/lifeline/internal/roles"
)

type recordingHandler struct {
	mu    sync.Mutex
	fires []fireEvent
}

type fireEvent struct {
	sessionID string
	level     int
}

func (h *recordingHandler) OnEscalationTimeout(sessionID string, level int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fires = append(h.fires, fireEvent{sessionID: sessionID, level: level})
}

func (h *recordingHandler) snapshot() []fireEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]fireEvent, len(h.fires))
	copy(out, h.fires)
	return out
}

func TestChainValidate(t *testing.T) {
	valid := Chain{
		{Level: 0, TargetRole: roles.RoleReader, Timeout: 30 * time.Second},
		{Level: 1, TargetRole: roles.RoleMonitor, Timeout: 30 * time.Second},
		{Level: 2, TargetRole: roles.RoleAdmin, Timeout: 15 * time.Second},
	}
	require.NoError(t, valid.Validate())

	require.Error(t, Chain{}.Validate())

	gap := Chain{
		{Level: 0, TargetRole: roles.RoleReader, Timeout: time.Second},
		{Level: 2, TargetRole: roles.RoleMonitor, Timeout: time.Second},
	}
	require.Error(t, gap.Validate())

	wrongFirst := Chain{{Level: 0, TargetRole: roles.RoleMonitor, Timeout: time.Second}}
	require.Error(t, wrongFirst.Validate())

	badTimeout := Chain{{Level: 0, TargetRole: roles.RoleReader, Timeout: 0}}
	require.Error(t, badTimeout.Validate())
}

func TestChainAt(t *testing.T) {
	chain := Chain{
		{Level: 0, TargetRole: roles.RoleReader, Timeout: time.Second},
		{Level: 1, TargetRole: roles.RoleAdmin, Timeout: time.Second},
	}

	rule, ok := chain.At(1)
	require.True(t, ok)
	require.Equal(t, roles.RoleAdmin, rule.TargetRole)

	_, ok = chain.At(2)
	require.False(t, ok)

	_, ok = chain.At(-1)
	require.False(t, ok)
}

func TestArmFiresOnce(t *testing.T) {
	handler := &recordingHandler{}
	engine := NewEngine(handler)

	engine.Arm("sess-1", 0, 10*time.Millisecond)
	require.True(t, engine.Armed("sess-1"))

	require.Eventually(t, func() bool {
		return len(handler.snapshot()) == 1
	}, time.Second, 5*time.Millisecond)

	require.False(t, engine.Armed("sess-1"))
	require.Equal(t, fireEvent{sessionID: "sess-1", level: 0}, handler.snapshot()[0])
}

func TestReArmCancelsPreviousTimer(t *testing.T) {
	handler := &recordingHandler{}
	engine := NewEngine(handler)

	engine.Arm("sess-1", 0, 50*time.Millisecond)
	engine.Arm("sess-1", 1, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return len(handler.snapshot()) >= 1
	}, time.Second, 5*time.Millisecond)

	time.Sleep(80 * time.Millisecond)

	fires := handler.snapshot()
	require.Len(t, fires, 1, "cancelled level 0 timer must not fire")
	require.Equal(t, 1, fires[0].level)
}

func TestDisarmPreventsFire(t *testing.T) {
	handler := &recordingHandler{}
	engine := NewEngine(handler)

	engine.Arm("sess-1", 0, 20*time.Millisecond)
	engine.Disarm("sess-1")
	require.False(t, engine.Armed("sess-1"))

	time.Sleep(50 * time.Millisecond)
	require.Empty(t, handler.snapshot())
}

func TestDisarmUnknownSessionIsNoop(t *testing.T) {
	engine := NewEngine(&recordingHandler{})
	engine.Disarm("never-armed")
}

func TestIndependentSessionTimers(t *testing.T) {
	handler := &recordingHandler{}
	engine := NewEngine(handler)

	engine.Arm("sess-a", 0, 10*time.Millisecond)
	engine.Arm("sess-b", 0, 10*time.Millisecond)
	engine.Disarm("sess-a")

	require.Eventually(t, func() bool {
		return len(handler.snapshot()) == 1
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, "sess-b", handler.snapshot()[0].sessionID)
}
