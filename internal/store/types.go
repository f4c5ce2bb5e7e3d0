package store

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"localauth/internal/passwd"
)

var (
	// ErrNotFound is returned when the document does not exist yet.
	ErrNotFound = errors.New("system config not found")
	// ErrIncomplete is returned when a required field is missing or a
	// password field does not hold an Argon2id hash.
	ErrIncomplete = errors.New("system config incomplete")
	// ErrSeedMismatch is returned when the setup seed no longer matches
	// SystemConfig, for example after a hash was rewritten out of band.
	ErrSeedMismatch = errors.New("setup seed does not match system config")
)

// SystemConfig is the durable record produced by the setup endpoint.
// Every password field holds an Argon2id hash, never the original value.
type SystemConfig struct {
	Admin     AdminConfig    `json:"admin"`
	Database  DatabaseConfig `json:"database"`
	LDAP      LDAPConfig     `json:"ldap"`
	Radius    RadiusConfig   `json:"radius"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at,omitempty"`
}

// AdminConfig identifies the identity provider superuser.
type AdminConfig struct {
	Email        string `json:"email"`
	PasswordHash string `json:"password_hash"`
}

// DatabaseConfig describes the identity provider's PostgreSQL role.
type DatabaseConfig struct {
	Username     string `json:"username"`
	Name         string `json:"database"`
	PasswordHash string `json:"password_hash"`
}

// LDAPConfig describes the directory tree and its bind accounts.
type LDAPConfig struct {
	BaseDN               string `json:"base_dn"`
	AdminPasswordHash    string `json:"admin_password_hash"`
	ReadonlyPasswordHash string `json:"readonly_password_hash"`
}

// RadiusConfig holds the shared secret hash for network devices.
type RadiusConfig struct {
	SharedSecretHash string `json:"shared_secret_hash"`
}

// HashField names one password hash in SystemConfig.
type HashField string

// Password fields that a reset may rewrite.
const (
	FieldAdmin        HashField = "admin"
	FieldDatabase     HashField = "database"
	FieldLDAPAdmin    HashField = "ldap_admin"
	FieldLDAPReadonly HashField = "ldap_readonly"
)

// HashFields lists every resettable field.
var HashFields = []HashField{FieldAdmin, FieldDatabase, FieldLDAPAdmin, FieldLDAPReadonly}

// ParseHashField validates a field name supplied by an operator.
func ParseHashField(s string) (HashField, error) {
	for _, f := range HashFields {
		if string(f) == s {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown password target %q", s)
}

func (c *SystemConfig) hashRef(field HashField) (*string, error) {
	switch field {
	case FieldAdmin:
		return &c.Admin.PasswordHash, nil
	case FieldDatabase:
		return &c.Database.PasswordHash, nil
	case FieldLDAPAdmin:
		return &c.LDAP.AdminPasswordHash, nil
	case FieldLDAPReadonly:
		return &c.LDAP.ReadonlyPasswordHash, nil
	default:
		return nil, fmt.Errorf("unknown password field %q", field)
	}
}

// Hash returns the stored hash for field.
func (c *SystemConfig) Hash(field HashField) (string, error) {
	ref, err := c.hashRef(field)
	if err != nil {
		return "", err
	}
	return *ref, nil
}

// Validate reports every missing field and every password field that is not a hash.
func (c *SystemConfig) Validate() error {
	var problems []string

	required := map[string]string{
		"admin.email":       c.Admin.Email,
		"database.username": c.Database.Username,
		"database.database": c.Database.Name,
		"ldap.base_dn":      c.LDAP.BaseDN,
	}
	for name, v := range required {
		if strings.TrimSpace(v) == "" {
			problems = append(problems, name+" is empty")
		}
	}

	hashes := map[string]string{
		"admin.password_hash":         c.Admin.PasswordHash,
		"database.password_hash":      c.Database.PasswordHash,
		"ldap.admin_password_hash":    c.LDAP.AdminPasswordHash,
		"ldap.readonly_password_hash": c.LDAP.ReadonlyPasswordHash,
		"radius.shared_secret_hash":   c.Radius.SharedSecretHash,
	}
	for name, v := range hashes {
		if !passwd.IsHash(v) {
			problems = append(problems, name+" is not an argon2id hash")
		}
	}

	if len(problems) == 0 {
		return nil
	}
	sort.Strings(problems)
	return fmt.Errorf("%w: %s", ErrIncomplete, strings.Join(problems, "; "))
}
