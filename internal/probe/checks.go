package probe

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver
)

// Checker performs a single readiness attempt.
type Checker interface {
	Check(ctx context.Context, ep Endpoint) error
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context, ep Endpoint) error

// Check calls f.
func (f CheckerFunc) Check(ctx context.Context, ep Endpoint) error {
	return f(ctx, ep)
}

// TCPCheck succeeds once a TCP connection can be opened.
type TCPCheck struct {
	Timeout time.Duration
}

// Check dials the endpoint and closes the connection immediately.
func (c TCPCheck) Check(ctx context.Context, ep Endpoint) error {
	dialer := net.Dialer{Timeout: c.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", ep.Address())
	if err != nil {
		return fmt.Errorf("tcp connect %s: %w", ep.Address(), err)
	}
	return conn.Close()
}

// SQLCheck succeeds once PostgreSQL answers SELECT 1 for the configured role.
type SQLCheck struct {
	Timeout time.Duration
}

// DSN builds the lib/pq connection URL for ep.
func DSN(ep Endpoint, timeout time.Duration) string {
	q := url.Values{}
	sslMode := ep.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	q.Set("sslmode", sslMode)
	if secs := int(timeout / time.Second); secs > 0 {
		q.Set("connect_timeout", fmt.Sprintf("%d", secs))
	}

	u := url.URL{
		Scheme:   "postgres",
		Host:     ep.Address(),
		Path:     "/" + ep.Database,
		RawQuery: q.Encode(),
	}
	if ep.User != "" {
		u.User = url.UserPassword(ep.User, ep.Password)
	}
	return u.String()
}

// Check opens a connection, runs SELECT 1 and closes it.
func (c SQLCheck) Check(ctx context.Context, ep Endpoint) error {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	db, err := sqlx.ConnectContext(ctx, "postgres", DSN(ep, c.Timeout))
	if err != nil {
		return fmt.Errorf("sql connect %s: %w", ep.Address(), err)
	}
	defer func() {
		_ = db.Close()
	}()

	var one int
	if err := db.GetContext(ctx, &one, "SELECT 1"); err != nil {
		return fmt.Errorf("sql ping %s: %w", ep.Address(), err)
	}
	if one != 1 {
		return fmt.Errorf("sql ping %s: unexpected result %d", ep.Address(), one)
	}
	return nil
}

// HTTPCheck succeeds once the endpoint answers with one of the accepted
// status codes. The identity provider answers 401/403 on its API root
// before a token is presented, which still means it is serving.
type HTTPCheck struct {
	Client *http.Client
	Accept []int
}

// DefaultHTTPCheck returns an HTTPCheck accepting 200, 401 and 403.
func DefaultHTTPCheck(timeout time.Duration) HTTPCheck {
	return HTTPCheck{
		Client: &http.Client{Timeout: timeout},
		Accept: []int{http.StatusOK, http.StatusUnauthorized, http.StatusForbidden},
	}
}

// URL returns the probe URL for ep.
func (c HTTPCheck) URL(ep Endpoint) string {
	path := ep.Path
	if path == "" {
		path = "/"
	}
	return (&url.URL{Scheme: "http", Host: ep.Address(), Path: path}).String()
}

// Check issues a GET and compares the status code.
func (c HTTPCheck) Check(ctx context.Context, ep Endpoint) error {
	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL(ep), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	for _, code := range c.Accept {
		if resp.StatusCode == code {
			return nil
		}
	}
	return fmt.Errorf("unexpected status code: got %d, want one of %v", resp.StatusCode, c.Accept)
}
