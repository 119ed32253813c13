package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluateAggregatesWorstStatus(t *testing.T) {
	registry := NewRegistry()
	registry.Register(Probe{Name: "up", Run: func(context.Context) Result {
		return Result{Status: StatusUp}
	}})
	registry.Register(Probe{Name: "degraded", Run: func(context.Context) Result {
		return Result{Status: StatusDegraded, Details: "slow"}
	}})

	report := registry.Evaluate(context.Background())
	assert.False(t, report.Healthy)
	assert.Equal(t, StatusDegraded, report.Status)
	require.Len(t, report.Checks, 2)

	registry.Register(Probe{Name: "down", Run: func(context.Context) Result {
		return Result{Status: StatusDown}
	}})
	report = registry.Evaluate(context.Background())
	assert.Equal(t, StatusDown, report.Status)
}

func TestEvaluateEmptyRegistryIsHealthy(t *testing.T) {
	report := NewRegistry().Evaluate(context.Background())
	assert.True(t, report.Healthy)
	assert.Equal(t, StatusUp, report.Status)
}

func TestRunProbeRecoversPanics(t *testing.T) {
	registry := NewRegistry()
	registry.Register(Probe{Name: "broken", Run: func(context.Context) Result {
		panic("boom")
	}})

	report := registry.Evaluate(context.Background())
	require.Len(t, report.Checks, 1)
	assert.Equal(t, StatusDown, report.Checks[0].Status)
	assert.Contains(t, report.Checks[0].Details, "boom")
	assert.Equal(t, "broken", report.Checks[0].Component)
}

func TestRegisterIgnoresIncompleteProbes(t *testing.T) {
	registry := NewRegistry()
	registry.Register(Probe{Name: "", Run: func(context.Context) Result { return Result{} }})
	registry.Register(Probe{Name: "no-run"})

	assert.Empty(t, registry.Evaluate(context.Background()).Checks)
}

func TestResultFromError(t *testing.T) {
	assert.Equal(t, StatusUp, ResultFromError("db", nil, time.Millisecond).Status)
	assert.Equal(t, StatusDown, ResultFromError("db", errors.New("refused"), 0).Status)
	assert.Equal(t, StatusDegraded, ResultFromError("db", context.DeadlineExceeded, 0).Status)
}
