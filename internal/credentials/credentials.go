// Package credentials turns the setup seed into the short-lived plaintext
// credential set used by one pipeline run, writes it to per-consumer env
// files and removes those files again.
package credentials

import (
	"errors"
	"fmt"
	"path/filepath"

	"localauth/internal/fsutil"
	"localauth/internal/logging"
	"localauth/internal/store"
)

// ErrSeedMissing is returned when no setup seed is available to derive
// plaintext credentials from. Hashes in SystemConfig cannot be reversed.
var ErrSeedMissing = errors.New("setup seed missing: plaintext credentials cannot be derived from hashes")

// Set is the transient plaintext credential set for one pipeline run.
type Set struct {
	AdminEmail    string
	AdminPassword string

	DBUser     string
	DBName     string
	DBPassword string

	LDAPBaseDN           string
	LDAPAdminPassword    string
	LDAPReadonlyPassword string

	RadiusSecret   string
	BootstrapToken string
}

// Scope is the subset of a Set consumed by one process.
type Scope struct {
	Name   string
	File   string
	Values map[string]string
}

// Scope names and their env files.
const (
	ScopeDatabase         = "database"
	ScopeDirectory        = "directory"
	ScopeIdentityProvider = "identity-provider"

	databaseFile         = "db.env"
	directoryFile        = "ldap.env"
	identityProviderFile = "authentik.env"
)

// Materialize derives a Set from the setup seed.
func Materialize(seed *store.Seed) (*Set, error) {
	if seed == nil {
		return nil, ErrSeedMissing
	}
	if err := seed.Validate(); err != nil {
		return nil, fmt.Errorf("invalid setup seed: %w", err)
	}

	return &Set{
		AdminEmail:           seed.AdminEmail,
		AdminPassword:        seed.AdminPassword,
		DBUser:               seed.DBUsername,
		DBName:               seed.DBName,
		DBPassword:           seed.DBPassword,
		LDAPBaseDN:           seed.LDAPBaseDN,
		LDAPAdminPassword:    seed.LDAPAdminPassword,
		LDAPReadonlyPassword: seed.LDAPReadonlyPassword,
		RadiusSecret:         seed.RadiusSecret,
		BootstrapToken:       seed.BootstrapToken,
	}, nil
}

// FromStore loads the seed from st and materializes it.
func FromStore(st *store.Store) (*Set, error) {
	seed, err := st.LoadSeed()
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrSeedMissing
	}
	if err != nil {
		return nil, err
	}
	return Materialize(seed)
}

// Scopes splits the set so each consumer only sees what it needs.
func (s *Set) Scopes() []Scope {
	return []Scope{
		{
			Name: ScopeDatabase,
			File: databaseFile,
			Values: map[string]string{
				"POSTGRES_USER":     s.DBUser,
				"POSTGRES_DB":       s.DBName,
				"POSTGRES_PASSWORD": s.DBPassword,
			},
		},
		{
			Name: ScopeDirectory,
			File: directoryFile,
			Values: map[string]string{
				"LDAP_BASE_DN":           s.LDAPBaseDN,
				"LDAP_ADMIN_PASSWORD":    s.LDAPAdminPassword,
				"LDAP_READONLY_PASSWORD": s.LDAPReadonlyPassword,
			},
		},
		{
			Name: ScopeIdentityProvider,
			File: identityProviderFile,
			Values: map[string]string{
				"AUTHENTIK_BOOTSTRAP_EMAIL":      s.AdminEmail,
				"AUTHENTIK_BOOTSTRAP_PASSWORD":   s.AdminPassword,
				"AUTHENTIK_BOOTSTRAP_TOKEN":      s.BootstrapToken,
				"AUTHENTIK_POSTGRESQL__USER":     s.DBUser,
				"AUTHENTIK_POSTGRESQL__NAME":     s.DBName,
				"AUTHENTIK_POSTGRESQL__PASSWORD": s.DBPassword,
			},
		},
	}
}

// Clear drops every plaintext value held by the set.
func (s *Set) Clear() {
	*s = Set{}
}

// Materializer writes and purges the transient env files.
type Materializer struct {
	dir    string
	logger *logging.Logger
}

// NewMaterializer returns a Materializer writing below dir.
func NewMaterializer(dir string, logger *logging.Logger) *Materializer {
	return &Materializer{dir: dir, logger: logger}
}

// Persist writes one 0600 env file per scope and returns their paths.
// On failure, files already written are purged before returning.
func (m *Materializer) Persist(set *Set) ([]string, error) {
	if set == nil {
		return nil, ErrSeedMissing
	}
	if err := fsutil.EnsureDirectory(m.dir); err != nil {
		return nil, err
	}

	var written []string
	for _, scope := range set.Scopes() {
		path := filepath.Join(m.dir, scope.File)
		if err := fsutil.WriteEnvFile(path, scope.Values, m.logger); err != nil {
			if purgeErr := m.Purge(written); purgeErr != nil {
				err = errors.Join(err, purgeErr)
			}
			return nil, fmt.Errorf("failed to persist %s credentials: %w", scope.Name, err)
		}
		written = append(written, path)
	}

	m.logger.Info("credentials.persisted", "Transient credential files written", map[string]interface{}{
		"files": len(written),
		"dir":   m.dir,
	})
	return written, nil
}

// Paths returns the files Persist would write, for purging after a crash.
func (m *Materializer) Paths() []string {
	return []string{
		filepath.Join(m.dir, databaseFile),
		filepath.Join(m.dir, directoryFile),
		filepath.Join(m.dir, identityProviderFile),
	}
}

// Purge deletes paths. Files that are already gone are not an error, and a
// failure on one file does not stop the others from being removed.
func (m *Materializer) Purge(paths []string) error {
	var errs []error
	for _, path := range paths {
		if err := fsutil.RemoveIfExists(path); err != nil {
			errs = append(errs, err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		m.logger.Error("credentials.purge.failed", "Failed to purge transient credentials", map[string]interface{}{
			"error": err.Error(),
		})
		return err
	}

	m.logger.Info("credentials.purged", "Transient credential files removed", map[string]interface{}{
		"files": len(paths),
	})
	return nil
}
