package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"

	"localauth/internal/fsutil"
	"localauth/internal/passwd"
)

// Seed holds the plaintext inputs collected by the setup endpoint. It lives
// next to SystemConfig with 0600 permissions until a pipeline run succeeds.
type Seed struct {
	AdminEmail           string `json:"admin_email"`
	AdminPassword        string `json:"admin_password"`
	DBUsername           string `json:"db_username"`
	DBName               string `json:"db_name"`
	DBPassword           string `json:"db_password"`
	LDAPBaseDN           string `json:"ldap_base_dn"`
	LDAPAdminPassword    string `json:"ldap_admin_password"`
	LDAPReadonlyPassword string `json:"ldap_readonly_password"`
	RadiusSecret         string `json:"radius_secret"`
	BootstrapToken       string `json:"bootstrap_token"`
}

// Validate reports every empty field.
func (s *Seed) Validate() error {
	fields := map[string]string{
		"admin_email":            s.AdminEmail,
		"admin_password":         s.AdminPassword,
		"db_username":            s.DBUsername,
		"db_name":                s.DBName,
		"db_password":            s.DBPassword,
		"ldap_base_dn":           s.LDAPBaseDN,
		"ldap_admin_password":    s.LDAPAdminPassword,
		"ldap_readonly_password": s.LDAPReadonlyPassword,
		"radius_secret":          s.RadiusSecret,
		"bootstrap_token":        s.BootstrapToken,
	}

	var missing []string
	for name, v := range fields {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return fmt.Errorf("%w: seed missing %s", ErrIncomplete, strings.Join(missing, ", "))
}

// SaveSeed atomically writes the seed with 0600 permissions.
func (s *Store) SaveSeed(seed *Seed) error {
	if err := seed.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(seed)
	if err != nil {
		return fmt.Errorf("failed to encode seed: %w", err)
	}
	if err := fsutil.AtomicWriteFile(s.paths.Seed(), data, fsutil.DefaultFilePermissions, s.logger); err != nil {
		return fmt.Errorf("failed to write seed: %w", err)
	}
	return nil
}

// LoadSeed reads the seed. ErrNotFound is returned when it is absent.
func (s *Store) LoadSeed() (*Seed, error) {
	data, err := os.ReadFile(s.paths.Seed())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read seed: %w", err)
	}

	var seed Seed
	if err := json.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("%w: invalid seed JSON: %v", ErrIncomplete, err)
	}
	if err := seed.Validate(); err != nil {
		return nil, err
	}
	return &seed, nil
}

// RemoveSeed deletes the seed. A missing seed is not an error.
func (s *Store) RemoveSeed() error {
	if err := fsutil.RemoveIfExists(s.paths.Seed()); err != nil {
		return err
	}
	s.logger.Info("store.seed.removed", "Setup seed removed", map[string]interface{}{
		"path": s.paths.Seed(),
	})
	return nil
}

// FromSeed hashes every secret in seed into a new SystemConfig.
func FromSeed(seed *Seed, params passwd.Params) (*SystemConfig, error) {
	if err := seed.Validate(); err != nil {
		return nil, err
	}

	hash := func(name, v string) (string, error) {
		h, err := passwd.HashWith(v, params)
		if err != nil {
			return "", fmt.Errorf("failed to hash %s: %w", name, err)
		}
		return h, nil
	}

	cfg := &SystemConfig{
		Admin:    AdminConfig{Email: seed.AdminEmail},
		Database: DatabaseConfig{Username: seed.DBUsername, Name: seed.DBName},
		LDAP:     LDAPConfig{BaseDN: seed.LDAPBaseDN},
	}

	targets := []struct {
		name  string
		value string
		dst   *string
	}{
		{"admin password", seed.AdminPassword, &cfg.Admin.PasswordHash},
		{"database password", seed.DBPassword, &cfg.Database.PasswordHash},
		{"ldap admin password", seed.LDAPAdminPassword, &cfg.LDAP.AdminPasswordHash},
		{"ldap readonly password", seed.LDAPReadonlyPassword, &cfg.LDAP.ReadonlyPasswordHash},
		{"radius secret", seed.RadiusSecret, &cfg.Radius.SharedSecretHash},
	}
	for _, t := range targets {
		h, err := hash(t.name, t.value)
		if err != nil {
			return nil, err
		}
		*t.dst = h
	}

	return cfg, nil
}

// MatchSeed checks the seed against the stored config. Every divergent
// field is named in the returned error.
func (c *SystemConfig) MatchSeed(seed *Seed) error {
	var diverged []string

	plain := []struct {
		name   string
		seed   string
		stored string
	}{
		{"admin.email", seed.AdminEmail, c.Admin.Email},
		{"database.username", seed.DBUsername, c.Database.Username},
		{"database.database", seed.DBName, c.Database.Name},
		{"ldap.base_dn", seed.LDAPBaseDN, c.LDAP.BaseDN},
	}
	for _, p := range plain {
		if p.seed != p.stored {
			diverged = append(diverged, p.name)
		}
	}

	secrets := []struct {
		name  string
		value string
		hash  string
	}{
		{"admin.password_hash", seed.AdminPassword, c.Admin.PasswordHash},
		{"database.password_hash", seed.DBPassword, c.Database.PasswordHash},
		{"ldap.admin_password_hash", seed.LDAPAdminPassword, c.LDAP.AdminPasswordHash},
		{"ldap.readonly_password_hash", seed.LDAPReadonlyPassword, c.LDAP.ReadonlyPasswordHash},
		{"radius.shared_secret_hash", seed.RadiusSecret, c.Radius.SharedSecretHash},
	}
	for _, sec := range secrets {
		ok, err := passwd.Verify(sec.value, sec.hash)
		if err != nil {
			return fmt.Errorf("verify %s: %w", sec.name, err)
		}
		if !ok {
			diverged = append(diverged, sec.name)
		}
	}

	if len(diverged) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrSeedMismatch, strings.Join(diverged, ", "))
}
