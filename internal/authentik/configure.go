package authentik

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"localauth/internal/configdir"
	"localauth/internal/credentials"
	"localauth/internal/logging"
	"localauth/internal/retry"
)

// Names of the objects managed in the identity provider.
const (
	AdminGroup             = "authentik Admins"
	AdminDisplayName       = "Administrator"
	RadiusTokenIdentifier  = "localauth-radius"
	LDAPSourceSlug         = "local-ldap"
	LDAPSourceName         = "Local LDAP"
	RadiusProviderName     = "RADIUS Provider"
	RadiusApplicationSlug  = "radius-auth"
	RadiusApplicationName  = "RADIUS Authentication"
	DefaultAuthFlowSlug    = "default-authentication-flow"
	defaultClientNetworks  = "0.0.0.0/0, ::/0"
	defaultRequestTimeout  = 30 * time.Second
	defaultReadyAttempts   = 60
	defaultReadyInterval   = 5 * time.Second
	radiusTokenDescription = "Used by FreeRADIUS to authenticate network users"
)

// TokenStore keeps the API token handed to the network-authentication layer.
type TokenStore interface {
	Put(name string, value []byte) error
}

// Restarter restarts identity provider containers so they reread their env.
type Restarter interface {
	RestartContainer(name string) error
}

// Settings locates the identity provider and the directory it syncs from.
type Settings struct {
	BaseURL        string
	DirectoryURI   string
	ClientNetworks string
	AuthFlowSlug   string
	Timeout        time.Duration
	// Containers are restarted before the first API call so the bootstrap
	// token written during materialization is loaded.
	Containers []string
	// ReadyAttempts and ReadyInterval bound the wait for the token to be accepted.
	ReadyAttempts int
	ReadyInterval time.Duration
}

// SettingsFor builds Settings from host/port pairs.
func SettingsFor(idpHost string, idpPort int, ldapHost string, ldapPort int) Settings {
	return Settings{
		BaseURL:      "http://" + net.JoinHostPort(idpHost, strconv.Itoa(idpPort)),
		DirectoryURI: "ldap://" + net.JoinHostPort(ldapHost, strconv.Itoa(ldapPort)),
	}
}

// Configurator applies the identity provider configuration step.
type Configurator struct {
	settings  Settings
	tokens    TokenStore
	restarter Restarter
	logger    *logging.Logger
}

// NewConfigurator returns a Configurator storing the RADIUS token in tokens.
// restarter may be nil when the containers are restarted by other means.
func NewConfigurator(settings Settings, tokens TokenStore, restarter Restarter, logger *logging.Logger) *Configurator {
	if settings.ClientNetworks == "" {
		settings.ClientNetworks = defaultClientNetworks
	}
	if settings.AuthFlowSlug == "" {
		settings.AuthFlowSlug = DefaultAuthFlowSlug
	}
	if settings.Timeout <= 0 {
		settings.Timeout = defaultRequestTimeout
	}
	if settings.ReadyAttempts < 1 {
		settings.ReadyAttempts = defaultReadyAttempts
	}
	if settings.ReadyInterval <= 0 {
		settings.ReadyInterval = defaultReadyInterval
	}
	return &Configurator{settings: settings, tokens: tokens, restarter: restarter, logger: logger}
}

// Apply creates the admin account, the API token for RADIUS, the LDAP source,
// the RADIUS provider and its application. It authenticates with the
// bootstrap token, restarting the identity provider first so the token from
// the freshly written env file is loaded.
func (c *Configurator) Apply(ctx context.Context, set *credentials.Set) error {
	client := NewClient(c.settings.BaseURL, set.BootstrapToken, c.settings.Timeout, c.logger)
	if err := c.loadBootstrapToken(ctx, client); err != nil {
		return err
	}

	admin, created, err := client.EnsureUser(ctx, User{
		Username: set.AdminEmail,
		Email:    set.AdminEmail,
		Name:     AdminDisplayName,
	})
	if err != nil {
		return err
	}
	if err := client.SetPassword(ctx, admin.PK, set.AdminPassword); err != nil {
		return err
	}
	if err := client.EnsureGroupMember(ctx, AdminGroup, true, admin.PK); err != nil {
		return err
	}
	c.logger.Info("authentik.admin.ready", "Admin account configured", map[string]interface{}{
		"username": admin.Username,
		"created":  created,
	})

	key, err := client.EnsureToken(ctx, RadiusTokenIdentifier, admin.PK, radiusTokenDescription)
	if err != nil {
		return err
	}
	if err := c.tokens.Put(configdir.IdentityTokenName, []byte(key)); err != nil {
		return fmt.Errorf("store radius api token: %w", err)
	}

	if err := client.EnsureLDAPSource(ctx, c.ldapSource(set)); err != nil {
		return err
	}

	flowPK, err := client.FlowPK(ctx, c.settings.AuthFlowSlug)
	if err != nil {
		return err
	}
	providerPK, err := client.EnsureRADIUSProvider(ctx, RADIUSProvider{
		Name:              RadiusProviderName,
		AuthorizationFlow: flowPK,
		ClientNetworks:    c.settings.ClientNetworks,
		SharedSecret:      set.RadiusSecret,
	})
	if err != nil {
		return err
	}

	return client.EnsureApplication(ctx, Application{
		Name:             RadiusApplicationName,
		Slug:             RadiusApplicationSlug,
		Provider:         providerPK,
		PolicyEngineMode: "any",
		MetaDescription:  "RADIUS authentication for network devices",
	})
}

// loadBootstrapToken restarts the configured containers and waits until the
// API accepts the bootstrap token.
func (c *Configurator) loadBootstrapToken(ctx context.Context, client *Client) error {
	if c.restarter != nil {
		for _, name := range c.settings.Containers {
			if err := c.restarter.RestartContainer(name); err != nil {
				return fmt.Errorf("restart identity provider container %s: %w", name, err)
			}
			c.logger.Info("authentik.container.restarted", "Identity provider container restarted", map[string]interface{}{
				"container": name,
			})
		}
	}

	policy := retry.Policy{Attempts: c.settings.ReadyAttempts, Interval: c.settings.ReadyInterval}
	err := retry.Do(ctx, policy, func(ctx context.Context, attempt int) error {
		err := client.Ping(ctx)
		if err != nil {
			c.logger.Debug("authentik.token.pending", "Bootstrap token not accepted yet", map[string]interface{}{
				"attempt": attempt,
				"error":   err.Error(),
			})
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("identity provider did not accept the bootstrap token: %w", err)
	}
	return nil
}

func (c *Configurator) ldapSource(set *credentials.Set) LDAPSource {
	return LDAPSource{
		Name:                  LDAPSourceName,
		Slug:                  LDAPSourceSlug,
		Enabled:               true,
		ServerURI:             c.settings.DirectoryURI,
		BindCN:                "cn=admin," + set.LDAPBaseDN,
		BindPassword:          set.LDAPAdminPassword,
		BaseDN:                set.LDAPBaseDN,
		AdditionalUserDN:      "ou=users",
		AdditionalGroupDN:     "ou=groups",
		UserObjectFilter:      "(objectClass=inetOrgPerson)",
		GroupObjectFilter:     "(objectClass=groupOfNames)",
		GroupMembershipField:  "member",
		ObjectUniquenessField: "entryUUID",
		SyncUsers:             true,
		SyncUsersPassword:     true,
		SyncGroups:            true,
		UserPropertyMappings:  []string{},
		GroupPropertyMappings: []string{},
	}
}

// PasswordSetter changes the admin password with a stored API token.
type PasswordSetter struct {
	settings Settings
	token    func() (string, error)
	logger   *logging.Logger
}

// NewPasswordSetter returns a PasswordSetter reading the API token lazily.
func NewPasswordSetter(settings Settings, token func() (string, error), logger *logging.Logger) *PasswordSetter {
	if settings.Timeout <= 0 {
		settings.Timeout = defaultRequestTimeout
	}
	return &PasswordSetter{settings: settings, token: token, logger: logger}
}

// SetUserPassword sets the password of the user named username.
func (p *PasswordSetter) SetUserPassword(ctx context.Context, username, password string) error {
	token, err := p.token()
	if err != nil {
		return fmt.Errorf("load api token: %w", err)
	}
	client := NewClient(p.settings.BaseURL, token, p.settings.Timeout, p.logger)

	user, err := client.FindUser(ctx, username)
	if err != nil {
		return err
	}
	return client.SetPassword(ctx, user.PK, password)
}
