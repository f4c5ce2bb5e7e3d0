// Package services drives the container runtime hosting the identity stack
// and performs the explicit teardown operation.
package services

import (
	"bytes"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
)

const (
	// Container status constants
	containerStatusRunning = "running"
)

var validContainerName = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)

// Runtime represents a container runtime (Docker or Podman)
type Runtime interface {
	// Binary returns the CLI used for this runtime
	Binary() string
	// IsRunning checks if the runtime is available
	IsRunning() bool
	// RestartContainer restarts a container so it rereads mounted files
	RestartContainer(name string) error
	// GetContainerStatus returns the status of a container
	GetContainerStatus(name string) (string, error)
	// IsContainerRunning checks if a container is running
	IsContainerRunning(name string) (bool, error)
	// ComposeDown stops the stack, optionally removing its volumes
	ComposeDown(composeFile string, removeVolumes bool) error
}

// GenericRuntime implements Runtime for Docker or Podman
type GenericRuntime struct {
	binary string // "docker" or "podman"
}

// NewGenericRuntime creates a new generic runtime with the specified binary
func NewGenericRuntime(binary string) *GenericRuntime {
	return &GenericRuntime{binary: binary}
}

// Binary returns the runtime CLI name
func (r *GenericRuntime) Binary() string {
	return r.binary
}

// IsRunning checks if the runtime daemon is running
func (r *GenericRuntime) IsRunning() bool {
	// #nosec G204 -- binary is restricted to docker|podman by config validation
	cmd := exec.Command(r.binary, "info")
	return cmd.Run() == nil
}

func (r *GenericRuntime) run(action string, args ...string) (string, error) {
	// #nosec G204 -- arguments are fixed verbs plus validated container names or operator-configured paths
	cmd := exec.Command(r.binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s %s failed: %w, stderr: %s", r.binary, action, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// RestartContainer restarts a container by name
func (r *GenericRuntime) RestartContainer(name string) error {
	if !validContainerName.MatchString(name) {
		return fmt.Errorf("invalid container name %q", name)
	}
	_, err := r.run("restart", "restart", name)
	return err
}

// GetContainerStatus returns the status of a container
func (r *GenericRuntime) GetContainerStatus(name string) (string, error) {
	if !validContainerName.MatchString(name) {
		return "", fmt.Errorf("invalid container name %q", name)
	}
	out, err := r.run("inspect", "inspect", "-f", "{{.State.Status}}", name)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// IsContainerRunning checks if a container is running
func (r *GenericRuntime) IsContainerRunning(name string) (bool, error) {
	status, err := r.GetContainerStatus(name)
	if err != nil {
		return false, nil
	}
	return status == containerStatusRunning, nil
}

// ComposeDown stops and removes the stack
func (r *GenericRuntime) ComposeDown(composeFile string, removeVolumes bool) error {
	args := []string{"compose", "-f", composeFile, "down"}
	if removeVolumes {
		args = append(args, "-v")
	}
	_, err := r.run("compose down", args...)
	return err
}

// NewRuntime returns the runtime for binary, which must be docker or podman
func NewRuntime(binary string) (Runtime, error) {
	switch strings.ToLower(strings.TrimSpace(binary)) {
	case "docker":
		return NewGenericRuntime("docker"), nil
	case "podman":
		return NewGenericRuntime("podman"), nil
	default:
		return nil, fmt.Errorf("unknown container runtime '%s' (expected docker|podman)", binary)
	}
}

// DetectRuntime returns the preferred runtime when its daemon answers
func DetectRuntime(preferred string) (Runtime, error) {
	rt, err := NewRuntime(preferred)
	if err != nil {
		return nil, err
	}
	if !rt.IsRunning() {
		return nil, fmt.Errorf("%s requested but not available", rt.Binary())
	}
	return rt, nil
}
