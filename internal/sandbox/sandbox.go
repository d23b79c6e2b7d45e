// Package sandbox executes untrusted packages in an isolated,
// resource-capped, network-denied container and turns behavioral signals
// into findings.
package sandbox

import (
	"context"

	"github.com/moltstore/appreview/internal/models"
)

// Limits caps one sandbox execution.
type Limits struct {
	TimeoutSec  int
	MemoryLimit string  // container memory, e.g. "512m"
	CPULimit    float64 // fractional CPUs
}

// DefaultLimits returns the standard execution caps.
func DefaultLimits() Limits {
	return Limits{TimeoutSec: 60, MemoryLimit: "512m", CPULimit: 0.5}
}

// Sandbox is the capability interface over a container runtime. The
// pipeline depends only on this, enabling a no-op test double.
type Sandbox interface {
	// Available reports whether the runtime can execute containers.
	Available(ctx context.Context) bool
	// Run executes codePath inside the sandbox and classifies the outcome.
	Run(ctx context.Context, codePath string, limits Limits) (*models.SandboxResult, error)
}

// Runner wraps a Sandbox with the enable flag. When sandboxing is
// disabled or the runtime is absent it returns a neutral passing result
// instead of blocking the pipeline.
type Runner struct {
	sandbox Sandbox
	enabled bool

	Logf func(format string, args ...any)
}

// NewRunner creates a Runner. sandbox may be nil when disabled.
func NewRunner(sandbox Sandbox, enabled bool) *Runner {
	return &Runner{sandbox: sandbox, enabled: enabled}
}

// Run executes the package if possible, or returns a neutral skip result.
func (r *Runner) Run(ctx context.Context, codePath string, limits Limits) (*models.SandboxResult, error) {
	if !r.enabled || r.sandbox == nil {
		return skippedResult("Sandbox testing is disabled"), nil
	}
	if !r.sandbox.Available(ctx) {
		r.logf("container runtime unavailable, skipping sandbox analysis")
		return skippedResult("Container runtime is not available for sandbox testing"), nil
	}
	return r.sandbox.Run(ctx, codePath, limits)
}

// skippedResult is the neutral pass recorded when the sandbox cannot run.
func skippedResult(reason string) *models.SandboxResult {
	return &models.SandboxResult{
		Passed: true,
		Score:  100,
		Findings: []models.Finding{{
			Severity:    models.SeverityInfo,
			Category:    models.CategorySuspiciousBehavior,
			Title:       "Sandbox skipped",
			Description: reason,
			Confidence:  1.0,
		}},
	}
}

func (r *Runner) logf(format string, args ...any) {
	if r.Logf != nil {
		r.Logf(format, args...)
	}
}

// Noop is a Sandbox double that records invocations and returns a clean
// pass. Used in tests and as a stand-in runtime.
type Noop struct {
	Invoked int
}

func (n *Noop) Available(ctx context.Context) bool { return true }

func (n *Noop) Run(ctx context.Context, codePath string, limits Limits) (*models.SandboxResult, error) {
	n.Invoked++
	return &models.SandboxResult{Passed: true, Score: 100}, nil
}
