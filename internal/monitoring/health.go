package monitoring

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Status encodes the outcome of a dependency probe.
type Status string

const (
	StatusUp       Status = "up"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

// Result is the outcome of one probe run.
type Result struct {
	Component string        `json:"component"`
	Status    Status        `json:"status"`
	Details   string        `json:"details,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// Report aggregates probe results. Healthy is false when any probe is not up.
type Report struct {
	Healthy bool     `json:"healthy"`
	Status  Status   `json:"status"`
	Checks  []Result `json:"checks"`
}

// Probe is a single named dependency check.
type Probe struct {
	Name string
	Run  func(ctx context.Context) Result
}

// Registry holds the readiness probes for the engine's dependencies.
type Registry struct {
	probes []Probe
}

// NewRegistry constructs an empty probe registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends a probe; probes without a name or run function are ignored.
func (r *Registry) Register(p Probe) {
	if p.Name == "" || p.Run == nil {
		return
	}
	r.probes = append(r.probes, p)
}

// Evaluate runs every registered probe and aggregates the worst status. An
// empty registry reports healthy.
func (r *Registry) Evaluate(ctx context.Context) Report {
	report := Report{
		Healthy: true,
		Status:  StatusUp,
		Checks:  make([]Result, 0, len(r.probes)),
	}

	for _, probe := range r.probes {
		result := runProbe(ctx, probe)
		report.Checks = append(report.Checks, result)

		switch result.Status {
		case StatusDown:
			report.Healthy = false
			report.Status = StatusDown
		case StatusDegraded:
			report.Healthy = false
			if report.Status != StatusDown {
				report.Status = StatusDegraded
			}
		}
	}
	return report
}

// runProbe executes a probe, recovering panics so one broken dependency check
// cannot take the health endpoint down with it.
func runProbe(ctx context.Context, probe Probe) (result Result) {
	start := time.Now()

	defer func() {
		if rec := recover(); rec != nil {
			result = Result{
				Status:   StatusDown,
				Details:  fmt.Sprintf("probe panic: %v", rec),
				Duration: time.Since(start),
			}
		}
		if result.Status == "" {
			result.Status = StatusDown
		}
		if result.Duration == 0 {
			result.Duration = time.Since(start)
		}
		result.Component = probe.Name
	}()

	result = probe.Run(ctx)
	return result
}

// ResultFromError maps an error onto a Result. Deadline and cancellation
// errors degrade rather than fail, so a slow dependency does not flap the
// readiness endpoint.
func ResultFromError(component string, err error, duration time.Duration) Result {
	if err == nil {
		return Result{Component: component, Status: StatusUp, Duration: duration}
	}

	status := StatusDown
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		status = StatusDegraded
	}

	return Result{
		Component: component,
		Status:    status,
		Details:   err.Error(),
		Duration:  duration,
	}
}
