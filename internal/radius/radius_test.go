package radius

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"localauth/internal/config"
	"localauth/internal/configdir"
	"localauth/internal/credentials"
	"localauth/internal/secrets"
)

type memTokens map[string][]byte

func (m memTokens) Get(name string) ([]byte, error) {
	v, ok := m[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", secrets.ErrNotFound, name)
	}
	return v, nil
}

type fakeRestarter struct {
	restarted []string
	err       error
}

func (f *fakeRestarter) RestartContainer(name string) error {
	f.restarted = append(f.restarted, name)
	return f.err
}

func newSettings(t *testing.T, clients []config.RadiusClient) Settings {
	t.Helper()
	return Settings{
		Paths:        configdir.NewPaths(t.TempDir()),
		IdentityHost: "authentik-server",
		IdentityPort: 9000,
		Clients:      clients,
		Container:    "authentik-freeradius",
	}
}

func TestConfigurator_Apply(t *testing.T) {
	settings := newSettings(t, []config.RadiusClient{
		{Name: "home-router", Address: "192.168.1.1", Secret: "router-secret"},
		{Name: "local-network", Address: "192.168.1.0/24"},
	})
	restarter := &fakeRestarter{}
	c := NewConfigurator(settings, memTokens{"authentik_token": []byte("api-key\n")}, restarter, nil)

	require.NoError(t, c.Apply(context.Background(), &credentials.Set{RadiusSecret: "shared"}))

	env, err := os.ReadFile(settings.Paths.RadiusEnv())
	require.NoError(t, err)
	assert.Equal(t, "AUTHENTIK_HOST=authentik-server\nAUTHENTIK_PORT=9000\nAUTHENTIK_TOKEN=api-key\n", string(env))

	info, err := os.Stat(settings.Paths.RadiusEnv())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	clients, err := os.ReadFile(settings.Paths.RadiusClients())
	require.NoError(t, err)
	assert.Contains(t, string(clients), "RADIUS_CLIENTS=home-router:192.168.1.1:router-secret;local-network:192.168.1.0/24:shared\n")
	assert.Equal(t, 1, strings.Count(string(clients), "router-secret"))

	assert.Equal(t, []string{"authentik-freeradius"}, restarter.restarted)
}

func TestConfigurator_ApplyIsIdempotent(t *testing.T) {
	settings := newSettings(t, nil)
	c := NewConfigurator(settings, memTokens{"authentik_token": []byte("k")}, nil, nil)

	require.NoError(t, c.Apply(context.Background(), &credentials.Set{RadiusSecret: "s"}))
	first, _ := os.ReadFile(settings.Paths.RadiusClients())
	require.NoError(t, c.Apply(context.Background(), &credentials.Set{RadiusSecret: "s"}))
	second, _ := os.ReadFile(settings.Paths.RadiusClients())

	assert.Equal(t, first, second)
	assert.Contains(t, string(second), "RADIUS_CLIENTS=localhost:127.0.0.1:s\n")
}

func TestConfigurator_TokenMissing(t *testing.T) {
	settings := newSettings(t, nil)
	c := NewConfigurator(settings, memTokens{}, nil, nil)

	err := c.Apply(context.Background(), &credentials.Set{RadiusSecret: "s"})
	assert.ErrorIs(t, err, ErrTokenMissing)

	_, statErr := os.Stat(settings.Paths.RadiusEnv())
	assert.True(t, os.IsNotExist(statErr))
}

func TestConfigurator_RestartFailureIsNotFatal(t *testing.T) {
	settings := newSettings(t, nil)
	restarter := &fakeRestarter{err: errors.New("no such container")}
	c := NewConfigurator(settings, memTokens{"authentik_token": []byte("k")}, restarter, nil)

	assert.NoError(t, c.Apply(context.Background(), &credentials.Set{RadiusSecret: "s"}))
	assert.Len(t, restarter.restarted, 1)
}

func TestResolveClients(t *testing.T) {
	got := ResolveClients([]config.RadiusClient{
		{Name: "a", Address: "10.0.0.1"},
		{Name: "b", Address: "10.0.0.2", Secret: "own"},
	}, "shared")

	assert.Equal(t, "shared", got[0].Secret)
	assert.Equal(t, "own", got[1].Secret)
	assert.Equal(t, "a:10.0.0.1:shared;b:10.0.0.2:own", ClientsLine(got))
}
