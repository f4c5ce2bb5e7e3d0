// Package directory seeds the LDAP tree the identity provider syncs from and
// changes bind passwords on request.
package directory

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// Conn is the subset of *ldap.Conn the configurator uses.
type Conn interface {
	Bind(username, password string) error
	Search(req *ldap.SearchRequest) (*ldap.SearchResult, error)
	Add(req *ldap.AddRequest) error
	PasswordModify(req *ldap.PasswordModifyRequest) (*ldap.PasswordModifyResult, error)
	Close() error
}

// Dialer opens a connection to the directory.
type Dialer func(ctx context.Context) (Conn, error)

// URLDialer returns a Dialer for an ldap:// URL with a connect timeout.
func URLDialer(url string, timeout time.Duration) Dialer {
	return func(ctx context.Context) (Conn, error) {
		d := &net.Dialer{Timeout: timeout}
		conn, err := ldap.DialURL(url, ldap.DialWithDialer(d))
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", url, err)
		}
		if deadline, ok := ctx.Deadline(); ok {
			conn.SetTimeout(time.Until(deadline))
		} else if timeout > 0 {
			conn.SetTimeout(timeout)
		}
		return conn, nil
	}
}

// AdminDN returns the administrator bind DN below baseDN.
func AdminDN(baseDN string) string {
	return "cn=admin," + baseDN
}

// ReadonlyDN returns the read-only bind DN below baseDN.
func ReadonlyDN(baseDN string) string {
	return "cn=readonly," + baseDN
}
