// Package authentik is a small client for the identity provider's /api/v3
// REST API. Every Ensure* call looks the object up first and only creates it
// when missing, so the configuration step can be re-run safely.
package authentik

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"localauth/internal/diag"
	"localauth/internal/logging"
)

// ErrNotFound is returned when a looked-up object does not exist.
var ErrNotFound = errors.New("not found")

// APIError is a non-2xx response. Body is redacted.
type APIError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Status, e.Body)
}

// Client talks to one identity provider instance.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *logging.Logger
}

// NewClient returns a client for baseURL (http://host:port) using a bearer token.
func NewClient(baseURL, token string, timeout time.Duration, logger *logging.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/") + "/api/v3",
		token:   token,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type page[T any] struct {
	Results []T `json:"results"`
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out interface{}) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %s", method, path, diag.Redact(err.Error()))
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read %s %s: %w", method, path, err)
	}

	c.logger.Debug("authentik.request", "API request", map[string]interface{}{
		"method": method,
		"path":   path,
		"status": resp.StatusCode,
	})

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s %s: %w", method, path, ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{
			Method: method,
			Path:   path,
			Status: resp.StatusCode,
			Body:   diag.Truncate(string(data), 512),
		}
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode %s %s: %w", method, path, err)
		}
	}
	return nil
}

// list returns the first page of a filtered list endpoint.
func list[T any](ctx context.Context, c *Client, path string, query url.Values) ([]T, error) {
	var p page[T]
	if err := c.do(ctx, http.MethodGet, path, query, nil, &p); err != nil {
		return nil, err
	}
	return p.Results, nil
}

// Ping checks that the token is accepted.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/core/users/me/", nil, nil, nil)
}
