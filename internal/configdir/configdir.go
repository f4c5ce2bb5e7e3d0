// Package configdir resolves the shared configuration volume and the fixed
// file names living in it.
package configdir

import (
	"os"
	"path/filepath"
)

const defaultConfigDir = "/config"

// File names inside the configuration directory
const (
	SystemConfigFile   = "system_config.json"
	InitMarkerFile     = ".initialized"
	SetupSeedFile      = "setup_seed.json"
	RuntimeEnvFile     = ".env.runtime"
	SettingsFile       = "localauth.yaml"
	TransientDirName   = "transient"
	SecretsDirName     = "secrets"
	PassphraseFile     = ".passphrase"
	RadiusEnvFile      = "radius.env"
	RadiusClientsFile  = "radius_clients.conf"
	RunHistoryFile     = "runs.jsonl"
	IdentityTokenName  = "authentik_token"
	defaultEnvOverride = "LOCALAUTH_CONFIG_DIR"
)

// ConfigDir resolves the configuration directory respecting overrides
func ConfigDir() string {
	if env := os.Getenv(defaultEnvOverride); env != "" {
		if abs, err := filepath.Abs(env); err == nil {
			return abs
		}
		return env
	}
	return defaultConfigDir
}

// Paths bundles every well-known location below one configuration directory
type Paths struct {
	Dir string
}

// NewPaths returns Paths rooted at dir, or at ConfigDir() when dir is empty
func NewPaths(dir string) Paths {
	if dir == "" {
		dir = ConfigDir()
	}
	return Paths{Dir: dir}
}

// SystemConfig is the Config Store document
func (p Paths) SystemConfig() string { return filepath.Join(p.Dir, SystemConfigFile) }

// Marker is the initialization sentinel
func (p Paths) Marker() string { return filepath.Join(p.Dir, InitMarkerFile) }

// Seed holds the setup-time plaintext secrets until a pipeline run succeeds
func (p Paths) Seed() string { return filepath.Join(p.Dir, SetupSeedFile) }

// RuntimeEnv is the non-secret environment file for compose
func (p Paths) RuntimeEnv() string { return filepath.Join(p.Dir, RuntimeEnvFile) }

// Settings is the optional orchestrator YAML file
func (p Paths) Settings() string { return filepath.Join(p.Dir, SettingsFile) }

// TransientDir holds per-run credential env files
func (p Paths) TransientDir() string { return filepath.Join(p.Dir, TransientDirName) }

// SecretsDir holds encrypted long-lived secrets
func (p Paths) SecretsDir() string { return filepath.Join(p.Dir, SecretsDirName) }

// Passphrase is the key material for the secrets directory
func (p Paths) Passphrase() string { return filepath.Join(p.Dir, SecretsDirName, PassphraseFile) }

// RadiusEnv is the environment file consumed by the RADIUS server
func (p Paths) RadiusEnv() string { return filepath.Join(p.Dir, RadiusEnvFile) }

// RadiusClients is the RADIUS client list
func (p Paths) RadiusClients() string { return filepath.Join(p.Dir, RadiusClientsFile) }

// RunHistory returns the JSONL log of orchestrator runs
func (p Paths) RunHistory() string { return filepath.Join(p.Dir, RunHistoryFile) }
