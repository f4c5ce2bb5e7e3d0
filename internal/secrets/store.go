// Package secrets keeps long-lived credentials that the orchestrator must
// re-read across restarts (the identity provider API token used by the
// RADIUS layer) encrypted at rest under the configuration directory.
package secrets

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"localauth/internal/configdir"
	"localauth/internal/fsutil"
	"localauth/internal/logging"
)

// ErrNotFound is returned when a named secret does not exist
var ErrNotFound = errors.New("secret not found")

var validName = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]*$`)

// Store handles encrypted secret storage
type Store struct {
	dir    string
	key    *[KeySize]byte
	logger *logging.Logger
}

// Open opens the secrets directory below paths, generating the passphrase on first use
func Open(paths configdir.Paths, logger *logging.Logger) (*Store, error) {
	dir := paths.SecretsDir()
	if err := fsutil.EnsureDirectory(dir); err != nil {
		return nil, fmt.Errorf("failed to create secrets directory: %w", err)
	}

	passphrase, err := loadOrGeneratePassphrase(paths.Passphrase(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load passphrase: %w", err)
	}

	key := DeriveKey(passphrase)
	return &Store{dir: dir, key: &key, logger: logger}, nil
}

func (s *Store) path(name string) (string, error) {
	if !validName.MatchString(name) {
		return "", fmt.Errorf("invalid secret name %q", name)
	}
	return filepath.Join(s.dir, name+".enc"), nil
}

// Put encrypts and stores a secret, replacing any previous value
func (s *Store) Put(name string, value []byte) error {
	path, err := s.path(name)
	if err != nil {
		return err
	}

	encrypted, err := Encrypt(value, s.key)
	if err != nil {
		return fmt.Errorf("encryption failed: %w", err)
	}

	if err := fsutil.AtomicWriteFile(path, encrypted, fsutil.DefaultFilePermissions, s.logger); err != nil {
		return fmt.Errorf("failed to write secret: %w", err)
	}

	s.logger.Info("secrets.stored", "Secret stored", map[string]interface{}{
		"name": name,
	})
	return nil
}

// Get retrieves and decrypts a secret
func (s *Store) Get(name string) ([]byte, error) {
	path, err := s.path(name)
	if err != nil {
		return nil, err
	}

	encrypted, err := os.ReadFile(path) // #nosec G304 -- path is constructed from controlled secrets dir
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("failed to read secret: %w", err)
	}

	if err := verifyPermissions(path); err != nil {
		s.logger.Warn("secrets.permissions.warning", "Secret file permissions should be 600", map[string]interface{}{
			"path":  path,
			"error": err.Error(),
		})
	}

	return Decrypt(encrypted, s.key)
}

// Delete removes a secret. Deleting a missing secret is not an error.
func (s *Store) Delete(name string) error {
	path, err := s.path(name)
	if err != nil {
		return err
	}
	if err := fsutil.RemoveIfExists(path); err != nil {
		return fmt.Errorf("failed to delete secret: %w", err)
	}

	s.logger.Info("secrets.deleted", "Secret deleted", map[string]interface{}{
		"name": name,
	})
	return nil
}

// List returns the names of all stored secrets
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list secrets: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".enc") {
			continue
		}
		names = append(names, strings.TrimSuffix(entry.Name(), ".enc"))
	}
	return names, nil
}

func verifyPermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.Mode().Perm() != fsutil.DefaultFilePermissions {
		return fmt.Errorf("file has permissions %o, expected %o", info.Mode().Perm(), fsutil.DefaultFilePermissions)
	}
	return nil
}

func loadOrGeneratePassphrase(path string, logger *logging.Logger) (string, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is below the configuration directory
	if err == nil {
		return strings.TrimSpace(string(data)), nil
	}
	if !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to read passphrase file: %w", err)
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate passphrase: %w", err)
	}
	passphrase := hex.EncodeToString(raw)

	if err := fsutil.AtomicWriteFile(path, []byte(passphrase), fsutil.DefaultFilePermissions, logger); err != nil {
		return "", fmt.Errorf("failed to write passphrase: %w", err)
	}

	logger.Info("secrets.passphrase.generated", "Generated secrets passphrase", map[string]interface{}{
		"path": path,
	})
	return passphrase, nil
}
