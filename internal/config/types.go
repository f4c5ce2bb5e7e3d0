package config

import "time"

// Config represents the orchestrator settings. It never carries secrets;
// those live in the Config Store and the setup seed.
type Config struct {
	ConfigDir string          `yaml:"config_dir"`
	Setup     SetupConfig     `yaml:"setup"`
	Probe     ProbeConfig     `yaml:"probe"`
	Endpoints EndpointsConfig `yaml:"endpoints"`
	Identity  IdentityConfig  `yaml:"identity_provider"`
	Radius    RadiusConfig    `yaml:"radius"`
	Runtime   RuntimeConfig   `yaml:"runtime"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// SetupConfig controls the setup/management endpoint and the config poller
type SetupConfig struct {
	ListenAddr          string `yaml:"listen_addr"`
	PollIntervalSeconds int    `yaml:"poll_interval_seconds"`
}

// ProbeConfig is the readiness retry budget shared by all endpoints
type ProbeConfig struct {
	MaxAttempts     int `yaml:"max_attempts"`
	IntervalSeconds int `yaml:"interval_seconds"`
	TimeoutSeconds  int `yaml:"timeout_seconds"`
}

// EndpointsConfig lists the dependencies in probe order
type EndpointsConfig struct {
	Database         EndpointConfig `yaml:"database"`
	Directory        EndpointConfig `yaml:"directory"`
	IdentityProvider EndpointConfig `yaml:"identity_provider"`
}

// EndpointConfig describes one dependency and how its readiness is checked
type EndpointConfig struct {
	Host  string `yaml:"host"`
	Port  int    `yaml:"port"`
	Check string `yaml:"check"`
	// Path is the HTTP path for http checks
	Path string `yaml:"path"`
	// SSLMode is passed to the PostgreSQL driver for sql checks
	SSLMode string `yaml:"ssl_mode"`
}

// IdentityConfig names the identity provider containers restarted to load the bootstrap token
type IdentityConfig struct {
	Containers []string `yaml:"containers"`
}

// RadiusConfig describes the network-authentication layer
type RadiusConfig struct {
	Clients   []RadiusClient `yaml:"clients"`
	Container string         `yaml:"container"`
}

// RadiusClient is one network device allowed to query the RADIUS server
type RadiusClient struct {
	Name    string `yaml:"name"`
	Address string `yaml:"address"`
	Secret  string `yaml:"secret"`
}

// RuntimeConfig selects the container runtime used for restarts and teardown
type RuntimeConfig struct {
	Binary      string `yaml:"binary"`
	ComposeFile string `yaml:"compose_file"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Path    string
	Message string
}

func (e ValidationError) Error() string {
	return e.Path + ": " + e.Message
}

// PollInterval returns the config poll interval as a duration
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Setup.PollIntervalSeconds) * time.Second
}

// ProbeInterval returns the delay between readiness attempts
func (c Config) ProbeInterval() time.Duration {
	return time.Duration(c.Probe.IntervalSeconds) * time.Second
}

// ProbeTimeout returns the per-attempt timeout
func (c Config) ProbeTimeout() time.Duration {
	return time.Duration(c.Probe.TimeoutSeconds) * time.Second
}
