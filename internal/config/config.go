package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"localauth/internal/configdir"
)

// Load resolves settings: defaults < localauth.yaml in the config dir < environment
func Load() (Config, error) {
	cfg := DefaultConfig()
	cfg.ConfigDir = configdir.ConfigDir()

	path := configdir.NewPaths(cfg.ConfigDir).Settings()
	if err := mergeConfigFile(&cfg, path); err != nil && !os.IsNotExist(err) {
		return cfg, fmt.Errorf("failed to load settings: %w", err)
	}

	applyEnv(&cfg, os.Getenv)

	if validationErrors := cfg.Validate(); len(validationErrors) > 0 {
		return cfg, fmt.Errorf("config.validation.error: %v", formatValidationErrors(validationErrors))
	}

	return cfg, nil
}

// LoadFrom loads settings from a specific file path, then applies the environment
func LoadFrom(path string) (Config, error) {
	cfg := DefaultConfig()
	if err := mergeConfigFile(&cfg, path); err != nil {
		return cfg, fmt.Errorf("failed to load config from %s: %w", path, err)
	}

	applyEnv(&cfg, os.Getenv)

	if validationErrors := cfg.Validate(); len(validationErrors) > 0 {
		return cfg, fmt.Errorf("config.validation.error: %v", formatValidationErrors(validationErrors))
	}

	return cfg, nil
}

// mergeConfigFile reads a YAML file and merges it into the existing config
func mergeConfigFile(cfg *Config, path string) error {
	data, err := os.ReadFile(filepath.Clean(path)) // #nosec G304 -- path is constructed from trusted sources
	if err != nil {
		return err
	}

	var overlay Config
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	mergeConfig(cfg, &overlay)
	return nil
}

// mergeConfig merges non-zero values from src into dst
func mergeConfig(dst, src *Config) {
	mergeString(&dst.ConfigDir, src.ConfigDir)

	mergeString(&dst.Setup.ListenAddr, src.Setup.ListenAddr)
	mergeInt(&dst.Setup.PollIntervalSeconds, src.Setup.PollIntervalSeconds)

	mergeInt(&dst.Probe.MaxAttempts, src.Probe.MaxAttempts)
	mergeInt(&dst.Probe.IntervalSeconds, src.Probe.IntervalSeconds)
	mergeInt(&dst.Probe.TimeoutSeconds, src.Probe.TimeoutSeconds)

	mergeEndpoint(&dst.Endpoints.Database, src.Endpoints.Database)
	mergeEndpoint(&dst.Endpoints.Directory, src.Endpoints.Directory)
	mergeEndpoint(&dst.Endpoints.IdentityProvider, src.Endpoints.IdentityProvider)

	if len(src.Identity.Containers) > 0 {
		dst.Identity.Containers = src.Identity.Containers
	}

	if len(src.Radius.Clients) > 0 {
		dst.Radius.Clients = src.Radius.Clients
	}
	mergeString(&dst.Radius.Container, src.Radius.Container)

	mergeString(&dst.Runtime.Binary, src.Runtime.Binary)
	mergeString(&dst.Runtime.ComposeFile, src.Runtime.ComposeFile)

	mergeString(&dst.Logging.Level, src.Logging.Level)
	mergeString(&dst.Logging.File, src.Logging.File)
}

func mergeEndpoint(dst *EndpointConfig, src EndpointConfig) {
	mergeString(&dst.Host, src.Host)
	mergeInt(&dst.Port, src.Port)
	mergeString(&dst.Check, src.Check)
	mergeString(&dst.Path, src.Path)
	mergeString(&dst.SSLMode, src.SSLMode)
}

func mergeString(dst *string, src string) {
	if src != "" {
		*dst = src
	}
}

func mergeInt(dst *int, src int) {
	if src != 0 {
		*dst = src
	}
}

// applyEnv overlays the container environment. Unparseable numbers are kept
// as -1 so validation reports them instead of silently using the default.
func applyEnv(cfg *Config, getenv func(string) string) {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		v := strings.TrimSpace(getenv(key))
		if v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			n = -1
		}
		*dst = n
	}

	str("LOCALAUTH_CONFIG_DIR", &cfg.ConfigDir)
	str("SETUP_LISTEN_ADDR", &cfg.Setup.ListenAddr)
	num("CONFIG_POLL_INTERVAL", &cfg.Setup.PollIntervalSeconds)

	num("PROBE_MAX_ATTEMPTS", &cfg.Probe.MaxAttempts)
	num("PROBE_INTERVAL", &cfg.Probe.IntervalSeconds)
	num("PROBE_TIMEOUT", &cfg.Probe.TimeoutSeconds)

	str("POSTGRES_HOST", &cfg.Endpoints.Database.Host)
	num("POSTGRES_PORT", &cfg.Endpoints.Database.Port)
	str("LDAP_HOST", &cfg.Endpoints.Directory.Host)
	num("LDAP_PORT", &cfg.Endpoints.Directory.Port)
	str("AUTHENTIK_HOST", &cfg.Endpoints.IdentityProvider.Host)
	num("AUTHENTIK_PORT", &cfg.Endpoints.IdentityProvider.Port)

	if v := strings.TrimSpace(getenv("AUTHENTIK_CONTAINERS")); v != "" {
		cfg.Identity.Containers = strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == ' ' })
	}
	str("RADIUS_CONTAINER", &cfg.Radius.Container)
	str("CONTAINER_RUNTIME", &cfg.Runtime.Binary)
	str("COMPOSE_FILE", &cfg.Runtime.ComposeFile)

	str("LOG_LEVEL", &cfg.Logging.Level)
	str("LOG_FILE", &cfg.Logging.File)
}

// formatValidationErrors formats validation errors for display
func formatValidationErrors(errors []ValidationError) string {
	if len(errors) == 0 {
		return ""
	}
	if len(errors) == 1 {
		return errors[0].Error()
	}
	result := fmt.Sprintf("%d validation errors:\n", len(errors))
	for _, err := range errors {
		result += "  - " + err.Error() + "\n"
	}
	return result
}
