package escalation

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/soulline/lifeline/pkg/logger"

	"github.com/soulline/lifeline/internal/roles"
)

// Rule is one link of the escalation chain: who is rung at this level and how
// long they have before the call moves on. Rules are static configuration and
// never mutated per session.
type Rule struct {
	Level      int
	TargetRole roles.Role
	Timeout    time.Duration
}

// Chain is the ordered list of rules a session progresses through.
type Chain []Rule

// Validate enforces the chain invariants: non-empty, levels strictly
// sequential from zero, level 0 targeting the reader role, positive timeouts.
func (c Chain) Validate() error {
	if len(c) == 0 {
		return errors.New("escalation: chain must contain at least one rule")
	}
	for i, rule := range c {
		if rule.Level != i {
			return fmt.Errorf("escalation: rule %d has level %d, want %d", i, rule.Level, i)
		}
		if rule.Timeout <= 0 {
			return fmt.Errorf("escalation: level %d has non-positive timeout", i)
		}
		if _, err := roles.Parse(string(rule.TargetRole)); err != nil {
			return fmt.Errorf("escalation: level %d: %w", i, err)
		}
	}
	if c[0].TargetRole != roles.RoleReader {
		return errors.New("escalation: level 0 must target the reader role")
	}
	return nil
}

// At returns the rule for the given level, or false when the chain is exhausted.
func (c Chain) At(level int) (Rule, bool) {
	if level < 0 || level >= len(c) {
		return Rule{}, false
	}
	return c[level], true
}

// TimeoutHandler receives timer fires. Delivery is at-least-once: the engine
// may deliver a fire that has already been superseded, so the handler must be
// idempotent on (sessionID, level).
type TimeoutHandler interface {
	OnEscalationTimeout(sessionID string, level int)
}

// Engine owns one timer per session. It is the only component that manages
// escalation timers; session state lives elsewhere, which keeps timer
// bookkeeping and state mutation in separate concurrency domains.
type Engine struct {
	mu      sync.Mutex
	timers  map[string]*armedTimer
	handler TimeoutHandler
	log     *zap.Logger

	// afterFunc is swapped in tests to fire timers deterministically.
	afterFunc func(d time.Duration, fn func()) *time.Timer
}

type armedTimer struct {
	level int
	timer *time.Timer
}

// NewEngine constructs an engine delivering fires to the supplied handler.
func NewEngine(handler TimeoutHandler) *Engine {
	return &Engine{
		timers:    make(map[string]*armedTimer),
		handler:   handler,
		log:       logger.WithModule("escalation"),
		afterFunc: time.AfterFunc,
	}
}

// Arm starts the timer for (sessionID, level). An existing timer for the
// session is cancelled first, so double-arming cannot leave two live timers.
func (e *Engine) Arm(sessionID string, level int, timeout time.Duration) {
	if sessionID == "" || timeout <= 0 {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if existing, ok := e.timers[sessionID]; ok {
		existing.timer.Stop()
		delete(e.timers, sessionID)
	}

	armed := &armedTimer{level: level}
	armed.timer = e.afterFunc(timeout, func() {
		e.fire(sessionID, level)
	})
	e.timers[sessionID] = armed

	e.log.Debug("timer armed",
		zap.String("session_id", sessionID),
		zap.Int("level", level),
		zap.Duration("timeout", timeout),
	)
}

// Disarm cancels any pending timer for the session. Safe to call when no
// timer exists (accept and end paths both disarm unconditionally).
func (e *Engine) Disarm(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if armed, ok := e.timers[sessionID]; ok {
		armed.timer.Stop()
		delete(e.timers, sessionID)
	}
}

// Armed reports whether a timer is currently pending for the session.
func (e *Engine) Armed(sessionID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.timers[sessionID]
	return ok
}

func (e *Engine) fire(sessionID string, level int) {
	e.mu.Lock()
	if armed, ok := e.timers[sessionID]; ok && armed.level == level {
		delete(e.timers, sessionID)
	}
	e.mu.Unlock()

	// The handler re-validates (sessionID, level) under the session lock, so
	// a fire racing an accept or a re-arm resolves there, not here.
	e.handler.OnEscalationTimeout(sessionID, level)
}
