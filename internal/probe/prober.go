package probe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"localauth/internal/logging"
	"localauth/internal/retry"
)

// UnreadyError reports an endpoint that failed every attempt.
type UnreadyError struct {
	Endpoint Endpoint
	Attempts int
	Last     error
}

func (e *UnreadyError) Error() string {
	return fmt.Sprintf("%s not ready after %d attempts: %v", e.Endpoint.Name, e.Attempts, e.Last)
}

func (e *UnreadyError) Unwrap() error {
	return e.Last
}

// Prober gates the pipeline on dependency readiness.
type Prober struct {
	checkers map[Kind]Checker
	logger   *logging.Logger
}

// New returns a Prober with the TCP, SQL and HTTP checks using timeout per attempt.
func New(timeout time.Duration, logger *logging.Logger) *Prober {
	return NewWithCheckers(map[Kind]Checker{
		KindTCP:  TCPCheck{Timeout: timeout},
		KindSQL:  SQLCheck{Timeout: timeout},
		KindHTTP: DefaultHTTPCheck(timeout),
	}, logger)
}

// NewWithCheckers returns a Prober using the given checkers.
func NewWithCheckers(checkers map[Kind]Checker, logger *logging.Logger) *Prober {
	return &Prober{checkers: checkers, logger: logger}
}

// WaitReady checks ep up to maxAttempts times, sleeping interval between
// failures. It returns nil once ready and *UnreadyError after exactly
// maxAttempts failed attempts. Refused connections and timeouts are both
// one failed attempt.
func (p *Prober) WaitReady(ctx context.Context, ep Endpoint, maxAttempts int, interval time.Duration) error {
	checker, ok := p.checkers[ep.Kind]
	if !ok {
		return fmt.Errorf("no readiness check for kind %q (%s)", ep.Kind, ep.Name)
	}

	p.logger.Info("probe.wait.start", "Waiting for dependency", map[string]interface{}{
		"endpoint":     ep.Name,
		"address":      ep.Address(),
		"kind":         string(ep.Kind),
		"max_attempts": maxAttempts,
		"interval":     interval.String(),
	})

	err := retry.Do(ctx, retry.Policy{Attempts: maxAttempts, Interval: interval}, func(ctx context.Context, attempt int) error {
		err := checker.Check(ctx, ep)
		if err != nil {
			p.logger.Debug("probe.attempt.failed", "Dependency not ready", map[string]interface{}{
				"endpoint": ep.Name,
				"attempt":  attempt,
				"error":    err.Error(),
			})
		}
		return err
	})

	var exhausted *retry.ExhaustedError
	switch {
	case err == nil:
		p.logger.Info("probe.ready", "Dependency ready", map[string]interface{}{
			"endpoint": ep.Name,
		})
		return nil
	case errors.As(err, &exhausted):
		p.logger.Error("probe.unready", "Dependency did not become ready", map[string]interface{}{
			"endpoint": ep.Name,
			"attempts": exhausted.Attempts,
			"error":    exhausted.Last.Error(),
		})
		return &UnreadyError{Endpoint: ep, Attempts: exhausted.Attempts, Last: exhausted.Last}
	default:
		return err
	}
}

// WaitAll probes endpoints in order and stops at the first unready one.
func (p *Prober) WaitAll(ctx context.Context, endpoints []Endpoint, maxAttempts int, interval time.Duration) error {
	for _, ep := range endpoints {
		if err := p.WaitReady(ctx, ep, maxAttempts, interval); err != nil {
			return err
		}
	}
	return nil
}
