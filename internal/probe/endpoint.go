// Package probe waits for the stack's dependencies to accept connections.
package probe

import (
	"fmt"
	"net"
	"strconv"

	"localauth/internal/config"
)

// Kind selects how readiness is checked.
type Kind string

// Check kinds.
const (
	KindTCP  Kind = config.CheckTCP
	KindSQL  Kind = config.CheckSQL
	KindHTTP Kind = config.CheckHTTP
)

// Endpoint is one dependency to probe. It is built from configuration for
// every run and never persisted.
type Endpoint struct {
	Name string
	Host string
	Port int
	Kind Kind

	// Path is the request path for http checks.
	Path string

	// SQL checks authenticate so that a listening socket alone does not count.
	User     string
	Password string
	Database string
	SSLMode  string
}

// Address returns host:port.
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s (%s %s)", e.Name, e.Kind, e.Address())
}

// Endpoint names in probe order.
const (
	NameDatabase         = "database"
	NameDirectory        = "directory"
	NameIdentityProvider = "identity-provider"
)

// EndpointsFromConfig returns the dependencies in their fixed probe order:
// database, directory, identity provider.
func EndpointsFromConfig(cfg config.EndpointsConfig) []Endpoint {
	from := func(name string, ec config.EndpointConfig) Endpoint {
		return Endpoint{
			Name:    name,
			Host:    ec.Host,
			Port:    ec.Port,
			Kind:    Kind(ec.Check),
			Path:    ec.Path,
			SSLMode: ec.SSLMode,
		}
	}

	return []Endpoint{
		from(NameDatabase, cfg.Database),
		from(NameDirectory, cfg.Directory),
		from(NameIdentityProvider, cfg.IdentityProvider),
	}
}
