// Package radius writes the files the FreeRADIUS container reads to reach
// the identity provider and to accept network devices.
package radius

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"localauth/internal/config"
	"localauth/internal/configdir"
	"localauth/internal/credentials"
	"localauth/internal/fsutil"
	"localauth/internal/logging"
	"localauth/internal/secrets"
)

// ErrTokenMissing is returned when the identity provider step has not stored
// the API token yet.
var ErrTokenMissing = errors.New("identity provider api token missing")

// TokenSource reads the API token stored by the identity provider step.
type TokenSource interface {
	Get(name string) ([]byte, error)
}

// Restarter restarts the RADIUS container so it rereads its files.
type Restarter interface {
	RestartContainer(name string) error
}

// Settings locates the output files and the identity provider.
type Settings struct {
	Paths        configdir.Paths
	IdentityHost string
	IdentityPort int
	Clients      []config.RadiusClient
	Container    string
}

// Configurator applies the network-authentication step.
type Configurator struct {
	settings  Settings
	tokens    TokenSource
	restarter Restarter
	logger    *logging.Logger
}

// NewConfigurator returns a Configurator. restarter may be nil.
func NewConfigurator(settings Settings, tokens TokenSource, restarter Restarter, logger *logging.Logger) *Configurator {
	return &Configurator{settings: settings, tokens: tokens, restarter: restarter, logger: logger}
}

// Apply rewrites radius.env and radius_clients.conf and restarts the container.
func (c *Configurator) Apply(ctx context.Context, set *credentials.Set) error {
	token, err := c.tokens.Get(configdir.IdentityTokenName)
	if err != nil {
		if errors.Is(err, secrets.ErrNotFound) {
			return ErrTokenMissing
		}
		return fmt.Errorf("read api token: %w", err)
	}

	env := map[string]string{
		"AUTHENTIK_TOKEN": strings.TrimSpace(string(token)),
		"AUTHENTIK_HOST":  c.settings.IdentityHost,
		"AUTHENTIK_PORT":  strconv.Itoa(c.settings.IdentityPort),
	}
	if err := fsutil.WriteEnvFile(c.settings.Paths.RadiusEnv(), env, c.logger); err != nil {
		return fmt.Errorf("write radius env: %w", err)
	}

	clients := ResolveClients(c.settings.Clients, set.RadiusSecret)
	if err := fsutil.AtomicWriteFile(c.settings.Paths.RadiusClients(), ClientsFile(clients), fsutil.DefaultFilePermissions, c.logger); err != nil {
		return fmt.Errorf("write radius clients: %w", err)
	}

	c.logger.Info("radius.configured", "RADIUS files written", map[string]interface{}{
		"clients": len(clients),
	})

	if err := ctx.Err(); err != nil {
		return err
	}
	if c.restarter != nil && c.settings.Container != "" {
		if err := c.restarter.RestartContainer(c.settings.Container); err != nil {
			c.logger.Warn("radius.restart.failed", "RADIUS container not restarted; it reads the new files on next start", map[string]interface{}{
				"container": c.settings.Container,
				"error":     err.Error(),
			})
		}
	}
	return nil
}

// ResolveClients fills empty secrets with the shared secret. With no clients
// configured, a localhost client is returned so radtest works out of the box.
func ResolveClients(clients []config.RadiusClient, sharedSecret string) []config.RadiusClient {
	if len(clients) == 0 {
		return []config.RadiusClient{{Name: "localhost", Address: "127.0.0.1", Secret: sharedSecret}}
	}

	out := make([]config.RadiusClient, len(clients))
	for i, cl := range clients {
		if cl.Secret == "" {
			cl.Secret = sharedSecret
		}
		out[i] = cl
	}
	return out
}

// ClientsLine renders clients in the name:address:secret;... form.
func ClientsLine(clients []config.RadiusClient) string {
	parts := make([]string, len(clients))
	for i, cl := range clients {
		parts[i] = cl.Name + ":" + cl.Address + ":" + cl.Secret
	}
	return strings.Join(parts, ";")
}

// ClientsFile renders radius_clients.conf. Secrets only appear in the
// RADIUS_CLIENTS line.
func ClientsFile(clients []config.RadiusClient) []byte {
	var sb strings.Builder
	sb.WriteString("# RADIUS Client Configuration\n")
	sb.WriteString("# Format: CLIENT_NAME:CLIENT_IP:CLIENT_SECRET\n")
	sb.WriteString("# Multiple clients separated by semicolon\n\n")
	sb.WriteString("RADIUS_CLIENTS=" + ClientsLine(clients) + "\n\n")
	sb.WriteString("# Clients:\n")
	for _, cl := range clients {
		fmt.Fprintf(&sb, "# %s: %s\n", cl.Name, cl.Address)
	}
	return []byte(sb.String())
}
