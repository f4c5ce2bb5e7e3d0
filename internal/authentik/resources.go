package authentik

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// User is the subset of the user object the orchestrator needs.
type User struct {
	PK       int    `json:"pk"`
	Username string `json:"username"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	IsActive bool   `json:"is_active"`
	Path     string `json:"path,omitempty"`
}

// Group is the subset of the group object the orchestrator needs.
type Group struct {
	PK          string `json:"pk"`
	Name        string `json:"name"`
	IsSuperuser bool   `json:"is_superuser"`
	Users       []int  `json:"users,omitempty"`
}

// Token is an API token. Key is only filled by view_key.
type Token struct {
	PK          string `json:"pk,omitempty"`
	Identifier  string `json:"identifier"`
	Intent      string `json:"intent"`
	User        int    `json:"user"`
	Description string `json:"description"`
	Expiring    bool   `json:"expiring"`
}

// LDAPSource configures user and group sync from the directory.
type LDAPSource struct {
	PK                    string   `json:"pk,omitempty"`
	Name                  string   `json:"name"`
	Slug                  string   `json:"slug"`
	Enabled               bool     `json:"enabled"`
	ServerURI             string   `json:"server_uri"`
	BindCN                string   `json:"bind_cn"`
	BindPassword          string   `json:"bind_password,omitempty"`
	BaseDN                string   `json:"base_dn"`
	AdditionalUserDN      string   `json:"additional_user_dn"`
	AdditionalGroupDN     string   `json:"additional_group_dn"`
	UserObjectFilter      string   `json:"user_object_filter"`
	GroupObjectFilter     string   `json:"group_object_filter"`
	GroupMembershipField  string   `json:"group_membership_field"`
	ObjectUniquenessField string   `json:"object_uniqueness_field"`
	SyncUsers             bool     `json:"sync_users"`
	SyncUsersPassword     bool     `json:"sync_users_password"`
	SyncGroups            bool     `json:"sync_groups"`
	UserPropertyMappings  []string `json:"user_property_mappings"`
	GroupPropertyMappings []string `json:"group_property_mappings"`
}

// RADIUSProvider exposes the identity provider to network devices.
type RADIUSProvider struct {
	PK                int    `json:"pk,omitempty"`
	Name              string `json:"name"`
	AuthorizationFlow string `json:"authorization_flow"`
	ClientNetworks    string `json:"client_networks"`
	SharedSecret      string `json:"shared_secret,omitempty"`
}

// Application binds a provider to a launchable application.
type Application struct {
	PK               string `json:"pk,omitempty"`
	Name             string `json:"name"`
	Slug             string `json:"slug"`
	Provider         int    `json:"provider"`
	PolicyEngineMode string `json:"policy_engine_mode"`
	MetaDescription  string `json:"meta_description"`
}

type flow struct {
	PK   string `json:"pk"`
	Slug string `json:"slug"`
}

// EnsureUser returns the user named u.Username, creating it when absent.
func (c *Client) EnsureUser(ctx context.Context, u User) (*User, bool, error) {
	found, err := list[User](ctx, c, "/core/users/", url.Values{"username": {u.Username}})
	if err != nil {
		return nil, false, fmt.Errorf("lookup user %s: %w", u.Username, err)
	}
	for i := range found {
		if found[i].Username == u.Username {
			return &found[i], false, nil
		}
	}

	u.IsActive = true
	var created User
	if err := c.do(ctx, http.MethodPost, "/core/users/", nil, u, &created); err != nil {
		return nil, false, fmt.Errorf("create user %s: %w", u.Username, err)
	}
	c.logger.Info("authentik.user.created", "User created", map[string]interface{}{
		"username": u.Username,
		"pk":       created.PK,
	})
	return &created, true, nil
}

// FindUser looks a user up by username.
func (c *Client) FindUser(ctx context.Context, username string) (*User, error) {
	found, err := list[User](ctx, c, "/core/users/", url.Values{"username": {username}})
	if err != nil {
		return nil, fmt.Errorf("lookup user %s: %w", username, err)
	}
	for i := range found {
		if found[i].Username == username {
			return &found[i], nil
		}
	}
	return nil, fmt.Errorf("user %s: %w", username, ErrNotFound)
}

// SetPassword replaces a user's password.
func (c *Client) SetPassword(ctx context.Context, userPK int, password string) error {
	path := "/core/users/" + strconv.Itoa(userPK) + "/set_password/"
	if err := c.do(ctx, http.MethodPost, path, nil, map[string]string{"password": password}, nil); err != nil {
		return fmt.Errorf("set password for user %d: %w", userPK, err)
	}
	return nil
}

// EnsureGroupMember makes sure the group exists and contains userPK.
func (c *Client) EnsureGroupMember(ctx context.Context, name string, superuser bool, userPK int) error {
	groups, err := list[Group](ctx, c, "/core/groups/", url.Values{"name": {name}})
	if err != nil {
		return fmt.Errorf("lookup group %s: %w", name, err)
	}

	var group *Group
	for i := range groups {
		if groups[i].Name == name {
			group = &groups[i]
			break
		}
	}

	if group == nil {
		var created Group
		in := Group{Name: name, IsSuperuser: superuser, Users: []int{userPK}}
		if err := c.do(ctx, http.MethodPost, "/core/groups/", nil, in, &created); err != nil {
			return fmt.Errorf("create group %s: %w", name, err)
		}
		c.logger.Info("authentik.group.created", "Group created", map[string]interface{}{
			"group": name,
		})
		return nil
	}

	for _, pk := range group.Users {
		if pk == userPK {
			return nil
		}
	}
	path := "/core/groups/" + url.PathEscape(group.PK) + "/add_user/"
	if err := c.do(ctx, http.MethodPost, path, nil, map[string]int{"pk": userPK}, nil); err != nil {
		return fmt.Errorf("add user %d to group %s: %w", userPK, name, err)
	}
	return nil
}

// EnsureToken returns the key of the API token with the given identifier,
// creating a non-expiring token owned by userPK when absent.
func (c *Client) EnsureToken(ctx context.Context, identifier string, userPK int, description string) (string, error) {
	tokens, err := list[Token](ctx, c, "/core/tokens/", url.Values{"identifier": {identifier}})
	if err != nil {
		return "", fmt.Errorf("lookup token %s: %w", identifier, err)
	}

	exists := false
	for _, t := range tokens {
		if t.Identifier == identifier {
			exists = true
			break
		}
	}

	if !exists {
		in := Token{
			Identifier:  identifier,
			Intent:      "api",
			User:        userPK,
			Description: description,
			Expiring:    false,
		}
		if err := c.do(ctx, http.MethodPost, "/core/tokens/", nil, in, nil); err != nil {
			return "", fmt.Errorf("create token %s: %w", identifier, err)
		}
		c.logger.Info("authentik.token.created", "API token created", map[string]interface{}{
			"identifier": identifier,
		})
	}

	var key struct {
		Key string `json:"key"`
	}
	path := "/core/tokens/" + url.PathEscape(identifier) + "/view_key/"
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &key); err != nil {
		return "", fmt.Errorf("view token %s: %w", identifier, err)
	}
	if key.Key == "" {
		return "", fmt.Errorf("view token %s: empty key", identifier)
	}
	return key.Key, nil
}

// EnsureLDAPSource creates the source or, when it exists, updates its bind
// credentials so a password reset propagates.
func (c *Client) EnsureLDAPSource(ctx context.Context, src LDAPSource) error {
	path := "/sources/ldap/" + url.PathEscape(src.Slug) + "/"
	err := c.do(ctx, http.MethodGet, path, nil, nil, nil)
	switch {
	case err == nil:
		patch := map[string]interface{}{
			"server_uri":    src.ServerURI,
			"bind_cn":       src.BindCN,
			"bind_password": src.BindPassword,
			"base_dn":       src.BaseDN,
		}
		if err := c.do(ctx, http.MethodPatch, path, nil, patch, nil); err != nil {
			return fmt.Errorf("update ldap source %s: %w", src.Slug, err)
		}
		return nil
	case errors.Is(err, ErrNotFound):
		if err := c.do(ctx, http.MethodPost, "/sources/ldap/", nil, src, nil); err != nil {
			return fmt.Errorf("create ldap source %s: %w", src.Slug, err)
		}
		c.logger.Info("authentik.ldap_source.created", "LDAP source created", map[string]interface{}{
			"slug": src.Slug,
		})
		return nil
	default:
		return fmt.Errorf("lookup ldap source %s: %w", src.Slug, err)
	}
}

// FlowPK resolves a flow slug to its primary key.
func (c *Client) FlowPK(ctx context.Context, slug string) (string, error) {
	flows, err := list[flow](ctx, c, "/flows/instances/", url.Values{"slug": {slug}})
	if err != nil {
		return "", fmt.Errorf("lookup flow %s: %w", slug, err)
	}
	for _, f := range flows {
		if f.Slug == slug {
			return f.PK, nil
		}
	}
	return "", fmt.Errorf("flow %s: %w", slug, ErrNotFound)
}

// EnsureRADIUSProvider returns the primary key of the provider named p.Name,
// creating it when absent.
func (c *Client) EnsureRADIUSProvider(ctx context.Context, p RADIUSProvider) (int, error) {
	providers, err := list[RADIUSProvider](ctx, c, "/providers/radius/", url.Values{"name": {p.Name}})
	if err != nil {
		return 0, fmt.Errorf("lookup radius provider %s: %w", p.Name, err)
	}
	for _, existing := range providers {
		if existing.Name == p.Name {
			return existing.PK, nil
		}
	}

	var created RADIUSProvider
	if err := c.do(ctx, http.MethodPost, "/providers/radius/", nil, p, &created); err != nil {
		return 0, fmt.Errorf("create radius provider %s: %w", p.Name, err)
	}
	c.logger.Info("authentik.radius_provider.created", "RADIUS provider created", map[string]interface{}{
		"name": p.Name,
		"pk":   created.PK,
	})
	return created.PK, nil
}

// EnsureApplication creates the application with app.Slug when absent.
func (c *Client) EnsureApplication(ctx context.Context, app Application) error {
	path := "/core/applications/" + url.PathEscape(app.Slug) + "/"
	err := c.do(ctx, http.MethodGet, path, nil, nil, nil)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound):
		if err := c.do(ctx, http.MethodPost, "/core/applications/", nil, app, nil); err != nil {
			return fmt.Errorf("create application %s: %w", app.Slug, err)
		}
		c.logger.Info("authentik.application.created", "Application created", map[string]interface{}{
			"slug": app.Slug,
		})
		return nil
	default:
		return fmt.Errorf("lookup application %s: %w", app.Slug, err)
	}
}
