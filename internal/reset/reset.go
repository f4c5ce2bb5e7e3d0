// Package reset changes one stored password at a time. The new password is
// applied to the owning service before its hash is rewritten.
package reset

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"localauth/internal/logging"
	"localauth/internal/passwd"
	"localauth/internal/store"
)

var (
	// ErrMismatch is returned when the current password does not verify
	// against the stored hash.
	ErrMismatch = errors.New("current password does not match")
	// ErrUnchanged is returned when the new password equals the current one.
	ErrUnchanged = errors.New("new password equals current password")
	// ErrTooShort is returned when the new password is below the minimum length.
	ErrTooShort = errors.New("new password too short")
	// ErrNotInitialized is returned before the initialization marker exists.
	// The setup seed still holds the submitted passwords at that point.
	ErrNotInitialized = errors.New("system is not initialized")
)

// Minimum lengths for new passwords.
const (
	MinAdminLength = 12
	MinLength      = 8
)

// PasswordApplier sets a new password on the service that owns target.
type PasswordApplier interface {
	ApplyPassword(ctx context.Context, cfg *store.SystemConfig, current, next string) error
}

// ApplierFunc adapts a function to PasswordApplier.
type ApplierFunc func(ctx context.Context, cfg *store.SystemConfig, current, next string) error

// ApplyPassword calls f.
func (f ApplierFunc) ApplyPassword(ctx context.Context, cfg *store.SystemConfig, current, next string) error {
	return f(ctx, cfg, current, next)
}

// Request names the target and carries both passwords.
type Request struct {
	Target  store.HashField
	Current string
	New     string
}

// Resetter verifies, applies and records password changes.
type Resetter struct {
	store    *store.Store
	appliers map[store.HashField]PasswordApplier
	params   passwd.Params
	logger   *logging.Logger
}

// New returns a Resetter hashing with passwd.DefaultParams.
func New(st *store.Store, appliers map[store.HashField]PasswordApplier, logger *logging.Logger) *Resetter {
	return NewWithParams(st, appliers, passwd.DefaultParams, logger)
}

// NewWithParams returns a Resetter hashing with params.
func NewWithParams(st *store.Store, appliers map[store.HashField]PasswordApplier, params passwd.Params, logger *logging.Logger) *Resetter {
	return &Resetter{store: st, appliers: appliers, params: params, logger: logger}
}

func minLength(target store.HashField) int {
	if target == store.FieldAdmin {
		return MinAdminLength
	}
	return MinLength
}

// Reset changes the password of req.Target. Exactly one hash field of the
// stored config is rewritten, and only after the service accepted the change.
// Resets are refused until initialization has completed.
func (r *Resetter) Reset(ctx context.Context, req Request) error {
	applier, ok := r.appliers[req.Target]
	if !ok {
		return fmt.Errorf("no password applier for %q", req.Target)
	}
	if utf8.RuneCountInString(req.New) < minLength(req.Target) {
		return fmt.Errorf("%w: %s needs at least %d characters", ErrTooShort, req.Target, minLength(req.Target))
	}
	if req.New == req.Current {
		return ErrUnchanged
	}

	initialized, err := r.store.Initialized()
	if err != nil {
		return err
	}
	if !initialized {
		return ErrNotInitialized
	}

	cfg, err := r.store.Load()
	if err != nil {
		return err
	}
	hash, err := cfg.Hash(req.Target)
	if err != nil {
		return err
	}
	match, err := passwd.Verify(req.Current, hash)
	if err != nil {
		return fmt.Errorf("verify %s: %w", req.Target, err)
	}
	if !match {
		r.logger.Warn("reset.verify.failed", "Current password rejected", map[string]interface{}{
			"target": string(req.Target),
		})
		return ErrMismatch
	}

	if err := applier.ApplyPassword(ctx, cfg, req.Current, req.New); err != nil {
		return fmt.Errorf("apply %s password: %w", req.Target, err)
	}

	newHash, err := passwd.HashWith(req.New, r.params)
	if err != nil {
		return err
	}
	if err := r.store.UpdateHash(req.Target, newHash); err != nil {
		r.logger.Error("reset.record.failed", "Password applied but hash not recorded", map[string]interface{}{
			"target": string(req.Target),
			"error":  err.Error(),
		})
		return fmt.Errorf("record %s hash: %w", req.Target, err)
	}

	r.logger.Info("reset.completed", "Password changed", map[string]interface{}{
		"target": string(req.Target),
	})
	return nil
}
