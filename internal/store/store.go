// Package store persists the SystemConfig document, the initialization marker
// and the setup seed below the configuration directory.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"localauth/internal/configdir"
	"localauth/internal/fsutil"
	"localauth/internal/logging"
	"localauth/internal/passwd"
)

// Store reads and writes the durable files of one configuration directory.
type Store struct {
	paths  configdir.Paths
	logger *logging.Logger
	now    func() time.Time
}

// New returns a Store rooted at paths.
func New(paths configdir.Paths, logger *logging.Logger) *Store {
	return &Store{paths: paths, logger: logger, now: time.Now}
}

// Paths returns the locations the store manages.
func (s *Store) Paths() configdir.Paths {
	return s.paths
}

// Exists reports whether SystemConfig has been written.
func (s *Store) Exists() (bool, error) {
	return fsutil.Exists(s.paths.SystemConfig())
}

// Load reads and validates SystemConfig.
func (s *Store) Load() (*SystemConfig, error) {
	data, err := os.ReadFile(s.paths.SystemConfig())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read system config: %w", err)
	}

	var cfg SystemConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON: %v", ErrIncomplete, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save validates cfg and atomically replaces SystemConfig with 0600 permissions.
func (s *Store) Save(cfg *SystemConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = s.now().UTC()
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode system config: %w", err)
	}
	data = append(data, '\n')

	if err := fsutil.AtomicWriteFile(s.paths.SystemConfig(), data, fsutil.DefaultFilePermissions, s.logger); err != nil {
		return fmt.Errorf("failed to write system config: %w", err)
	}

	s.logger.Info("store.config.saved", "System config written", map[string]interface{}{
		"path": s.paths.SystemConfig(),
	})
	return nil
}

// UpdateHash replaces exactly one password hash and rewrites the document.
func (s *Store) UpdateHash(field HashField, hash string) error {
	if !passwd.IsHash(hash) {
		return fmt.Errorf("refusing to store non-hash value for %s", field)
	}

	cfg, err := s.Load()
	if err != nil {
		return err
	}
	ref, err := cfg.hashRef(field)
	if err != nil {
		return err
	}
	*ref = hash
	cfg.UpdatedAt = s.now().UTC()

	if err := s.Save(cfg); err != nil {
		return err
	}

	s.logger.Info("store.hash.updated", "Password hash updated", map[string]interface{}{
		"field": string(field),
	})
	return nil
}

// Initialized reports whether the initialization marker exists.
func (s *Store) Initialized() (bool, error) {
	return fsutil.Exists(s.paths.Marker())
}

// MarkInitialized creates the zero-byte marker. An existing marker is kept.
func (s *Store) MarkInitialized() error {
	if err := fsutil.Touch(s.paths.Marker()); err != nil {
		return fmt.Errorf("failed to write initialization marker: %w", err)
	}
	s.logger.Info("store.marker.created", "Initialization marker written", map[string]interface{}{
		"path": s.paths.Marker(),
	})
	return nil
}

// WriteRuntimeEnv writes the non-secret compose environment derived from cfg.
func (s *Store) WriteRuntimeEnv(cfg *SystemConfig) error {
	values := map[string]string{
		"AUTHENTIK_BOOTSTRAP_EMAIL": cfg.Admin.Email,
		"POSTGRES_USER":             cfg.Database.Username,
		"POSTGRES_DB":               cfg.Database.Name,
		"LDAP_BASE_DN":              cfg.LDAP.BaseDN,
	}
	if err := fsutil.WriteEnvFile(s.paths.RuntimeEnv(), values, s.logger); err != nil {
		return fmt.Errorf("failed to write runtime env: %w", err)
	}
	return nil
}
