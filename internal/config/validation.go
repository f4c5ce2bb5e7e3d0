package config

import (
	"fmt"
	"net"
	"strings"
)

const (
	// RuntimeDocker identifies the Docker container runtime option
	RuntimeDocker = "docker"
	// RuntimePodman identifies the Podman container runtime option
	RuntimePodman = "podman"
)

// Validate checks if the configuration is valid
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateSetup()...)
	errors = append(errors, c.validateProbe()...)
	errors = append(errors, validateEndpoint("endpoints.database", c.Endpoints.Database)...)
	errors = append(errors, validateEndpoint("endpoints.directory", c.Endpoints.Directory)...)
	errors = append(errors, validateEndpoint("endpoints.identity_provider", c.Endpoints.IdentityProvider)...)
	errors = append(errors, c.validateIdentity()...)
	errors = append(errors, c.validateRadius()...)
	errors = append(errors, c.validateRuntime()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

func (c *Config) validateSetup() []ValidationError {
	var errors []ValidationError

	if strings.TrimSpace(c.ConfigDir) == "" {
		errors = append(errors, ValidationError{Path: "config_dir", Message: "must not be empty"})
	}
	if strings.TrimSpace(c.Setup.ListenAddr) == "" {
		errors = append(errors, ValidationError{Path: "setup.listen_addr", Message: "must not be empty"})
	}
	if c.Setup.PollIntervalSeconds < 1 {
		errors = append(errors, ValidationError{
			Path:    "setup.poll_interval_seconds",
			Message: fmt.Sprintf("must be at least 1, got %d", c.Setup.PollIntervalSeconds),
		})
	}

	return errors
}

func (c *Config) validateProbe() []ValidationError {
	var errors []ValidationError

	if c.Probe.MaxAttempts < 1 {
		errors = append(errors, ValidationError{
			Path:    "probe.max_attempts",
			Message: fmt.Sprintf("must be at least 1, got %d", c.Probe.MaxAttempts),
		})
	}
	if c.Probe.IntervalSeconds < 1 {
		errors = append(errors, ValidationError{
			Path:    "probe.interval_seconds",
			Message: fmt.Sprintf("must be at least 1, got %d", c.Probe.IntervalSeconds),
		})
	}
	if c.Probe.TimeoutSeconds < 1 {
		errors = append(errors, ValidationError{
			Path:    "probe.timeout_seconds",
			Message: fmt.Sprintf("must be at least 1, got %d", c.Probe.TimeoutSeconds),
		})
	}

	return errors
}

func validateEndpoint(path string, ep EndpointConfig) []ValidationError {
	var errors []ValidationError

	if strings.TrimSpace(ep.Host) == "" {
		errors = append(errors, ValidationError{Path: path + ".host", Message: "must not be empty"})
	}
	if ep.Port < 1 || ep.Port > 65535 {
		errors = append(errors, ValidationError{
			Path:    path + ".port",
			Message: fmt.Sprintf("must be between 1 and 65535, got %d", ep.Port),
		})
	}

	validChecks := []string{CheckTCP, CheckSQL, CheckHTTP}
	if !contains(validChecks, ep.Check) {
		errors = append(errors, ValidationError{
			Path:    path + ".check",
			Message: fmt.Sprintf("must be one of %v, got '%s'", validChecks, ep.Check),
		})
	}
	if ep.Check == CheckHTTP && !strings.HasPrefix(ep.Path, "/") {
		errors = append(errors, ValidationError{
			Path:    path + ".path",
			Message: fmt.Sprintf("must start with '/', got '%s'", ep.Path),
		})
	}

	return errors
}

func (c *Config) validateIdentity() []ValidationError {
	var errors []ValidationError

	for i, name := range c.Identity.Containers {
		if strings.TrimSpace(name) == "" {
			errors = append(errors, ValidationError{
				Path:    fmt.Sprintf("identity_provider.containers[%d]", i),
				Message: "must not be empty",
			})
		}
	}

	return errors
}

func (c *Config) validateRadius() []ValidationError {
	var errors []ValidationError
	seen := make(map[string]bool)

	for i, client := range c.Radius.Clients {
		prefix := fmt.Sprintf("radius.clients[%d]", i)
		if client.Name == "" || strings.ContainsAny(client.Name, ":;") {
			errors = append(errors, ValidationError{
				Path:    prefix + ".name",
				Message: fmt.Sprintf("must be non-empty and free of ':' and ';', got '%s'", client.Name),
			})
		}
		if seen[client.Name] {
			errors = append(errors, ValidationError{
				Path:    prefix + ".name",
				Message: fmt.Sprintf("duplicate client name '%s'", client.Name),
			})
		}
		seen[client.Name] = true

		if !isValidAddress(client.Address) {
			errors = append(errors, ValidationError{
				Path:    prefix + ".address",
				Message: fmt.Sprintf("must be an IP address or CIDR, got '%s'", client.Address),
			})
		}
		if strings.ContainsAny(client.Secret, ":;\n") {
			errors = append(errors, ValidationError{
				Path:    prefix + ".secret",
				Message: "must not contain ':', ';' or newlines",
			})
		}
	}

	return errors
}

func (c *Config) validateRuntime() []ValidationError {
	if c.Runtime.Binary == RuntimeDocker || c.Runtime.Binary == RuntimePodman {
		return nil
	}

	return []ValidationError{{
		Path:    "runtime.binary",
		Message: fmt.Sprintf("must be '%s' or '%s', got '%s'", RuntimeDocker, RuntimePodman, c.Runtime.Binary),
	}}
}

func (c *Config) validateLogging() []ValidationError {
	validLevels := []string{"debug", "info", "warn", "error"}
	if contains(validLevels, c.Logging.Level) {
		return nil
	}

	return []ValidationError{{
		Path:    "logging.level",
		Message: fmt.Sprintf("must be one of %v, got '%s'", validLevels, c.Logging.Level),
	}}
}

// contains checks if a string is in a slice
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

func isValidAddress(addr string) bool {
	if net.ParseIP(addr) != nil {
		return true
	}
	_, _, err := net.ParseCIDR(addr)
	return err == nil
}
