package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-ldap/ldap/v3"

	"localauth/internal/credentials"
	"localauth/internal/logging"
)

// Entry is one object the configurator makes sure exists.
type Entry struct {
	DN         string
	Attributes []ldap.Attribute
	// Password is applied with the password modify extended operation so
	// the server stores it with its own hash scheme.
	Password string
}

// Entries returns the tree below baseDN in creation order.
func Entries(baseDN string, set *credentials.Set) []Entry {
	admin := AdminDN(baseDN)

	attr := func(name string, values ...string) ldap.Attribute {
		return ldap.Attribute{Type: name, Vals: values}
	}
	ou := func(name string) Entry {
		return Entry{
			DN: "ou=" + name + "," + baseDN,
			Attributes: []ldap.Attribute{
				attr("objectClass", "organizationalUnit"),
				attr("ou", name),
			},
		}
	}
	group := func(name, description string) Entry {
		return Entry{
			DN: "cn=" + name + ",ou=groups," + baseDN,
			Attributes: []ldap.Attribute{
				attr("objectClass", "groupOfNames"),
				attr("cn", name),
				attr("description", description),
				attr("member", admin),
			},
		}
	}
	account := func(dn, cn, description, password string) Entry {
		return Entry{
			DN: dn,
			Attributes: []ldap.Attribute{
				attr("objectClass", "applicationProcess", "simpleSecurityObject"),
				attr("cn", cn),
				attr("description", description),
				// simpleSecurityObject requires the attribute; the real value
				// is set through password modify right after.
				attr("userPassword", "{CRYPT}!"),
			},
			Password: password,
		}
	}

	return []Entry{
		ou("users"),
		ou("groups"),
		ou("services"),
		group("admins", "System administrators"),
		group("users", "Regular users"),
		group("network-admins", "Network device administrators"),
		group("vpn-users", "VPN access users"),
		account(ReadonlyDN(baseDN), "readonly", "Read-only bind account", set.LDAPReadonlyPassword),
		account("cn=authentik,ou=services,"+baseDN, "authentik", "Identity provider LDAP integration service account", set.LDAPReadonlyPassword),
		account("cn=radius,ou=services,"+baseDN, "radius", "RADIUS LDAP integration service account", set.LDAPReadonlyPassword),
	}
}

// Configurator applies the directory configuration step.
type Configurator struct {
	dial   Dialer
	logger *logging.Logger
}

// NewConfigurator returns a Configurator using dial for every run.
func NewConfigurator(dial Dialer, logger *logging.Logger) *Configurator {
	return &Configurator{dial: dial, logger: logger}
}

// Apply binds as the administrator and creates every missing entry.
func (c *Configurator) Apply(ctx context.Context, set *credentials.Set) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = conn.Close()
	}()

	if err := conn.Bind(AdminDN(set.LDAPBaseDN), set.LDAPAdminPassword); err != nil {
		return fmt.Errorf("bind as %s: %w", AdminDN(set.LDAPBaseDN), err)
	}

	created := 0
	for _, entry := range Entries(set.LDAPBaseDN, set) {
		if err := ctx.Err(); err != nil {
			return err
		}

		added, err := ensure(conn, entry)
		if err != nil {
			return err
		}
		if added {
			created++
		}

		if entry.Password != "" {
			req := ldap.NewPasswordModifyRequest(entry.DN, "", entry.Password)
			if _, err := conn.PasswordModify(req); err != nil {
				return fmt.Errorf("set password for %s: %w", entry.DN, err)
			}
		}
	}

	c.logger.Info("directory.configured", "Directory tree ensured", map[string]interface{}{
		"base_dn": set.LDAPBaseDN,
		"created": created,
	})
	return nil
}

// ensure adds entry unless a base-scope search finds it. A concurrent
// "already exists" result counts as present.
func ensure(conn Conn, entry Entry) (bool, error) {
	search := ldap.NewSearchRequest(
		entry.DN,
		ldap.ScopeBaseObject, ldap.NeverDerefAliases, 1, 0, false,
		"(objectClass=*)",
		[]string{"1.1"},
		nil,
	)
	res, err := conn.Search(search)
	switch {
	case err == nil && len(res.Entries) > 0:
		return false, nil
	case err == nil, ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject):
	default:
		return false, fmt.Errorf("search %s: %w", entry.DN, err)
	}

	add := ldap.NewAddRequest(entry.DN, nil)
	add.Attributes = entry.Attributes
	if err := conn.Add(add); err != nil {
		if ldap.IsErrorWithCode(err, ldap.LDAPResultEntryAlreadyExists) {
			return false, nil
		}
		return false, fmt.Errorf("add %s: %w", entry.DN, err)
	}
	return true, nil
}

// ErrBind is returned when the current password is rejected by the server.
var ErrBind = errors.New("directory rejected current password")

// PasswordChanger changes a bind account's own password.
type PasswordChanger struct {
	dial   Dialer
	logger *logging.Logger
}

// NewPasswordChanger returns a PasswordChanger using dial.
func NewPasswordChanger(dial Dialer, logger *logging.Logger) *PasswordChanger {
	return &PasswordChanger{dial: dial, logger: logger}
}

// ChangePassword binds as dn with current and replaces it with next.
func (p *PasswordChanger) ChangePassword(ctx context.Context, dn, current, next string) error {
	conn, err := p.dial(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = conn.Close()
	}()

	if err := conn.Bind(dn, current); err != nil {
		if ldap.IsErrorWithCode(err, ldap.LDAPResultInvalidCredentials) {
			return fmt.Errorf("%w: %s", ErrBind, dn)
		}
		return fmt.Errorf("bind as %s: %w", dn, err)
	}

	if _, err := conn.PasswordModify(ldap.NewPasswordModifyRequest("", current, next)); err != nil {
		return fmt.Errorf("change password for %s: %w", dn, err)
	}

	p.logger.Info("directory.password.changed", "Directory password changed", map[string]interface{}{
		"dn": dn,
	})
	return nil
}
