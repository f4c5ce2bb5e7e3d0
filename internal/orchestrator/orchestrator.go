// Package orchestrator drives one initialization run: wait for the setup
// submission, gate on service readiness, hand transient credentials to the
// configuration steps and record completion.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"localauth/internal/credentials"
	"localauth/internal/logging"
	"localauth/internal/probe"
	"localauth/internal/retry"
	"localauth/internal/store"
)

// State is a step of the initialization state machine.
type State string

// States of a run.
const (
	StateUnstarted      State = "UNSTARTED"
	StateAwaitingConfig State = "AWAITING_CONFIG"
	StateProbing        State = "PROBING"
	StateMaterializing  State = "MATERIALIZING"
	StateApplyingSteps  State = "APPLYING_STEPS"
	StateDone           State = "DONE"
	StateFailed         State = "FAILED"
	StateManagement     State = "MANAGEMENT"
)

// Result tells the caller how a successful Run ended.
type Result int

const (
	// ResultAlreadyInitialized means the marker existed and nothing ran.
	ResultAlreadyInitialized Result = iota
	// ResultInitialized means the pipeline ran to completion.
	ResultInitialized
)

// ConfigStore is the durable state the orchestrator reads and writes.
type ConfigStore interface {
	Initialized() (bool, error)
	Load() (*store.SystemConfig, error)
	LoadSeed() (*store.Seed, error)
	RemoveSeed() error
	MarkInitialized() error
}

// Prober gates the pipeline on each dependency in order.
type Prober interface {
	WaitAll(ctx context.Context, endpoints []probe.Endpoint, maxAttempts int, interval time.Duration) error
}

// Materializer writes and removes the scoped credential files.
type Materializer interface {
	Persist(set *credentials.Set) ([]string, error)
	Purge(paths []string) error
}

// StepRunner applies the configuration steps.
type StepRunner interface {
	Apply(ctx context.Context, set *credentials.Set) error
}

// ServeFunc serves the setup endpoint until ctx is cancelled.
type ServeFunc func(ctx context.Context) error

// Deps are the collaborators of a run.
type Deps struct {
	Store        ConfigStore
	Prober       Prober
	Materializer Materializer
	Runner       StepRunner
	// ServeSetup may be nil when the config is written by other means.
	ServeSetup ServeFunc
}

// Settings are the run parameters.
type Settings struct {
	Endpoints     []probe.Endpoint
	MaxAttempts   int
	ProbeInterval time.Duration
	PollInterval  time.Duration
}

// Failure wraps the fatal error of a run with the state it happened in.
type Failure struct {
	State State
	Err   error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("initialization failed in %s: %v", f.State, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Orchestrator runs the initialization state machine.
type Orchestrator struct {
	deps     Deps
	settings Settings
	logger   *logging.Logger

	mu      sync.Mutex
	state   State
	history []State
}

// New returns an Orchestrator in StateUnstarted.
func New(deps Deps, settings Settings, logger *logging.Logger) *Orchestrator {
	return &Orchestrator{
		deps:     deps,
		settings: settings,
		logger:   logger,
		state:    StateUnstarted,
		history:  []State{StateUnstarted},
	}
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// History returns every state entered so far, in order.
func (o *Orchestrator) History() []State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]State(nil), o.history...)
}

func (o *Orchestrator) transition(to State) {
	o.mu.Lock()
	from := o.state
	o.state = to
	o.history = append(o.history, to)
	o.mu.Unlock()

	o.logger.Info("orchestrator.state", "State changed", map[string]interface{}{
		"from": string(from),
		"to":   string(to),
	})
}

func (o *Orchestrator) fail(err error) error {
	failed := o.State()
	o.transition(StateFailed)
	o.logger.Error("orchestrator.failed", "Initialization failed", map[string]interface{}{
		"state": string(failed),
		"error": err.Error(),
	})
	return &Failure{State: failed, Err: err}
}

// Run performs one pass of the state machine. With the marker present it
// returns ResultAlreadyInitialized without touching any dependency.
func (o *Orchestrator) Run(ctx context.Context) (Result, error) {
	initialized, err := o.deps.Store.Initialized()
	if err != nil {
		return 0, o.fail(fmt.Errorf("check initialization marker: %w", err))
	}
	if initialized {
		o.transition(StateManagement)
		return ResultAlreadyInitialized, nil
	}

	o.transition(StateAwaitingConfig)
	cfg, err := o.awaitConfig(ctx)
	if err != nil {
		return 0, o.fail(err)
	}

	o.transition(StateProbing)
	seed, err := o.deps.Store.LoadSeed()
	if errors.Is(err, store.ErrNotFound) {
		return 0, o.fail(credentials.ErrSeedMissing)
	}
	if err != nil {
		return 0, o.fail(err)
	}
	if err := cfg.MatchSeed(seed); err != nil {
		return 0, o.fail(err)
	}
	if err := o.deps.Prober.WaitAll(ctx, o.endpoints(seed), o.settings.MaxAttempts, o.settings.ProbeInterval); err != nil {
		return 0, o.fail(err)
	}

	o.transition(StateMaterializing)
	set, err := credentials.Materialize(seed)
	if err != nil {
		return 0, o.fail(err)
	}
	defer set.Clear()

	paths, err := o.deps.Materializer.Persist(set)
	if err != nil {
		return 0, o.fail(err)
	}

	o.transition(StateApplyingSteps)
	if err := o.applySteps(ctx, set, paths); err != nil {
		return 0, o.fail(err)
	}

	// The marker is written at this point; a leftover seed is reported by status.
	if err := o.deps.Store.RemoveSeed(); err != nil {
		o.logger.Warn("orchestrator.seed.remove_failed", "Setup seed not removed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	o.transition(StateDone)
	o.logger.Info("orchestrator.done", "Initialization completed", nil)
	return ResultInitialized, nil
}

// awaitConfig serves the setup endpoint until a valid SystemConfig appears,
// then stops it and returns the config. The wait is unbounded.
func (o *Orchestrator) awaitConfig(ctx context.Context) (*store.SystemConfig, error) {
	serveCtx, stopServing := context.WithCancel(ctx)
	defer stopServing()

	serveErr := make(chan error, 1)
	if o.deps.ServeSetup != nil {
		go func() {
			serveErr <- o.deps.ServeSetup(serveCtx)
		}()
	}

	var cfg *store.SystemConfig
	reported := false
	err := retry.Poll(ctx, o.settings.PollInterval, func(context.Context) (bool, error) {
		select {
		case err := <-serveErr:
			if err == nil {
				err = errors.New("setup endpoint stopped before configuration arrived")
			}
			return false, fmt.Errorf("setup endpoint: %w", err)
		default:
		}

		loaded, err := o.deps.Store.Load()
		switch {
		case err == nil:
			cfg = loaded
			return true, nil
		case errors.Is(err, store.ErrNotFound):
			return false, nil
		case errors.Is(err, store.ErrIncomplete):
			if !reported {
				o.logger.Warn("orchestrator.config.incomplete", "Waiting for a complete configuration", map[string]interface{}{
					"error": err.Error(),
				})
				reported = true
			}
			return false, nil
		default:
			return false, err
		}
	})
	if err != nil {
		return nil, err
	}

	if o.deps.ServeSetup != nil {
		stopServing()
		if err := <-serveErr; err != nil {
			o.logger.Warn("orchestrator.setup.stop", "Setup endpoint stopped with error", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}
	o.logger.Info("orchestrator.config.received", "Configuration found", nil)
	return cfg, nil
}

// endpoints fills the database credentials into SQL checks.
func (o *Orchestrator) endpoints(seed *store.Seed) []probe.Endpoint {
	eps := make([]probe.Endpoint, len(o.settings.Endpoints))
	copy(eps, o.settings.Endpoints)
	for i := range eps {
		if eps[i].Kind == probe.KindSQL {
			eps[i].User = seed.DBUsername
			eps[i].Password = seed.DBPassword
			eps[i].Database = seed.DBName
		}
	}
	return eps
}

// applySteps runs the steps, writes the marker on success and purges the
// credential files whatever happened.
func (o *Orchestrator) applySteps(ctx context.Context, set *credentials.Set, paths []string) error {
	stepErr := o.deps.Runner.Apply(ctx, set)
	if stepErr == nil {
		stepErr = o.deps.Store.MarkInitialized()
	}

	purgeErr := o.deps.Materializer.Purge(paths)
	if purgeErr != nil {
		o.logger.Error("orchestrator.purge.failed", "Transient credentials not fully removed", map[string]interface{}{
			"error": purgeErr.Error(),
		})
	}
	return errors.Join(stepErr, purgeErr)
}
