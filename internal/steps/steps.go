// Package steps runs the external configuration steps in their fixed order:
// identity provider, directory, network authentication.
package steps

import (
	"context"
	"fmt"
	"time"

	"localauth/internal/credentials"
	"localauth/internal/logging"
)

// Step names.
const (
	StepIdentityProvider = "identity-provider"
	StepDirectory        = "directory"
	StepNetworkAuth      = "network-auth"
)

// Capabilities applies each configuration step. Implementations must be
// safe to re-run against a partially configured system.
type Capabilities interface {
	ApplyIdentityProviderConfig(ctx context.Context, set *credentials.Set) error
	ApplyDirectoryConfig(ctx context.Context, set *credentials.Set) error
	ApplyNetworkAuthConfig(ctx context.Context, set *credentials.Set) error
}

// Applier is one step implementation.
type Applier interface {
	Apply(ctx context.Context, set *credentials.Set) error
}

// Stack wires one Applier per step into Capabilities.
type Stack struct {
	IdentityProvider Applier
	Directory        Applier
	NetworkAuth      Applier
}

// ApplyIdentityProviderConfig runs the identity provider step.
func (s Stack) ApplyIdentityProviderConfig(ctx context.Context, set *credentials.Set) error {
	return s.IdentityProvider.Apply(ctx, set)
}

// ApplyDirectoryConfig runs the directory step.
func (s Stack) ApplyDirectoryConfig(ctx context.Context, set *credentials.Set) error {
	return s.Directory.Apply(ctx, set)
}

// ApplyNetworkAuthConfig runs the network-authentication step.
func (s Stack) ApplyNetworkAuthConfig(ctx context.Context, set *credentials.Set) error {
	return s.NetworkAuth.Apply(ctx, set)
}

// StepFailure names the step that stopped the run.
type StepFailure struct {
	Step  string
	Cause error
}

func (f *StepFailure) Error() string {
	return fmt.Sprintf("step %s failed: %v", f.Step, f.Cause)
}

func (f *StepFailure) Unwrap() error {
	return f.Cause
}

// Runner applies the steps sequentially without retrying.
type Runner struct {
	caps   Capabilities
	logger *logging.Logger
}

// NewRunner returns a Runner over caps.
func NewRunner(caps Capabilities, logger *logging.Logger) *Runner {
	return &Runner{caps: caps, logger: logger}
}

type step struct {
	name  string
	apply func(ctx context.Context, set *credentials.Set) error
}

func (r *Runner) order() []step {
	return []step{
		{StepIdentityProvider, r.caps.ApplyIdentityProviderConfig},
		{StepDirectory, r.caps.ApplyDirectoryConfig},
		{StepNetworkAuth, r.caps.ApplyNetworkAuthConfig},
	}
}

// Names returns the step names in execution order.
func Names() []string {
	return []string{StepIdentityProvider, StepDirectory, StepNetworkAuth}
}

// Apply runs every step in order. The first failure is returned as a
// *StepFailure and later steps are not attempted.
func (r *Runner) Apply(ctx context.Context, set *credentials.Set) error {
	for _, s := range r.order() {
		if err := ctx.Err(); err != nil {
			return &StepFailure{Step: s.name, Cause: err}
		}

		start := time.Now()
		r.logger.Info("steps.start", "Applying configuration step", map[string]interface{}{
			"step": s.name,
		})

		if err := s.apply(ctx, set); err != nil {
			r.logger.Error("steps.failed", "Configuration step failed", map[string]interface{}{
				"step":  s.name,
				"error": err.Error(),
			})
			return &StepFailure{Step: s.name, Cause: err}
		}

		r.logger.Info("steps.done", "Configuration step applied", map[string]interface{}{
			"step":        s.name,
			"duration_ms": time.Since(start).Milliseconds(),
		})
	}
	return nil
}
