package probe

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"localauth/internal/config"
)

func endpointFor(t *testing.T, rawURL string, kind Kind) Endpoint {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return Endpoint{Name: "test", Host: host, Port: port, Kind: kind}
}

func closedPort(t *testing.T) Endpoint {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().(*net.TCPAddr)
	require.NoError(t, ln.Close())
	return Endpoint{Name: "closed", Host: "127.0.0.1", Port: addr.Port, Kind: KindTCP}
}

func TestEndpointsFromConfig_Order(t *testing.T) {
	eps := EndpointsFromConfig(config.DefaultConfig().Endpoints)
	require.Len(t, eps, 3)

	assert.Equal(t, NameDatabase, eps[0].Name)
	assert.Equal(t, KindSQL, eps[0].Kind)
	assert.Equal(t, NameDirectory, eps[1].Name)
	assert.Equal(t, KindTCP, eps[1].Kind)
	assert.Equal(t, NameIdentityProvider, eps[2].Name)
	assert.Equal(t, KindHTTP, eps[2].Kind)
	assert.Equal(t, "authentik-server:9000", eps[2].Address())
}

func TestTCPCheck(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()

	ep := Endpoint{Name: "ldap", Host: "127.0.0.1", Port: ln.Addr().(*net.TCPAddr).Port, Kind: KindTCP}
	assert.NoError(t, TCPCheck{Timeout: time.Second}.Check(context.Background(), ep))
	assert.Error(t, TCPCheck{Timeout: time.Second}.Check(context.Background(), closedPort(t)))
}

func TestHTTPCheck_AcceptedCodes(t *testing.T) {
	tests := []struct {
		status  int
		wantErr bool
	}{
		{http.StatusOK, false},
		{http.StatusUnauthorized, false},
		{http.StatusForbidden, false},
		{http.StatusBadGateway, true},
		{http.StatusNotFound, true},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			var gotPath string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotPath = r.URL.Path
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			ep := endpointFor(t, srv.URL, KindHTTP)
			ep.Path = "/api/v3/"

			err := DefaultHTTPCheck(time.Second).Check(context.Background(), ep)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, "/api/v3/", gotPath)
		})
	}
}

func TestDSN(t *testing.T) {
	ep := Endpoint{
		Host:     "postgresql",
		Port:     5432,
		User:     "authentik",
		Password: "p@ss:w/rd",
		Database: "authentik",
	}
	dsn := DSN(ep, 5*time.Second)

	u, err := url.Parse(dsn)
	require.NoError(t, err)
	assert.Equal(t, "postgres", u.Scheme)
	assert.Equal(t, "postgresql:5432", u.Host)
	assert.Equal(t, "/authentik", u.Path)
	pw, _ := u.User.Password()
	assert.Equal(t, "p@ss:w/rd", pw)
	assert.Equal(t, "disable", u.Query().Get("sslmode"))
	assert.Equal(t, "5", u.Query().Get("connect_timeout"))
}

func TestSQLCheck_Unreachable(t *testing.T) {
	ep := closedPort(t)
	ep.Kind = KindSQL
	ep.User = "authentik"
	ep.Database = "authentik"

	err := SQLCheck{Timeout: time.Second}.Check(context.Background(), ep)
	assert.Error(t, err)
}

func TestWaitReady_ExactlyNAttempts(t *testing.T) {
	calls := 0
	down := errors.New("connection refused")
	p := NewWithCheckers(map[Kind]Checker{
		KindSQL: CheckerFunc(func(context.Context, Endpoint) error {
			calls++
			return down
		}),
	}, nil)

	ep := Endpoint{Name: NameDatabase, Host: "postgresql", Port: 5432, Kind: KindSQL}
	err := p.WaitReady(context.Background(), ep, 4, time.Millisecond)

	var unready *UnreadyError
	require.ErrorAs(t, err, &unready)
	assert.Equal(t, 4, unready.Attempts)
	assert.Equal(t, NameDatabase, unready.Endpoint.Name)
	assert.ErrorIs(t, err, down)
	assert.Equal(t, 4, calls)
	assert.Contains(t, err.Error(), "database not ready after 4 attempts")
}

func TestWaitReady_BecomesReady(t *testing.T) {
	calls := 0
	p := NewWithCheckers(map[Kind]Checker{
		KindTCP: CheckerFunc(func(context.Context, Endpoint) error {
			calls++
			if calls < 3 {
				return errors.New("i/o timeout")
			}
			return nil
		}),
	}, nil)

	err := p.WaitReady(context.Background(), Endpoint{Name: NameDirectory, Kind: KindTCP}, 10, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWaitReady_InvalidBudget(t *testing.T) {
	p := NewWithCheckers(map[Kind]Checker{
		KindTCP: CheckerFunc(func(context.Context, Endpoint) error { return nil }),
	}, nil)

	err := p.WaitReady(context.Background(), Endpoint{Kind: KindTCP}, 0, time.Second)
	assert.Error(t, err)
}

func TestWaitReady_UnknownKind(t *testing.T) {
	p := NewWithCheckers(nil, nil)
	err := p.WaitReady(context.Background(), Endpoint{Name: "x", Kind: "icmp"}, 1, time.Second)
	assert.Error(t, err)
}

func TestWaitAll_StopsAtFirstUnready(t *testing.T) {
	var probed []string
	p := NewWithCheckers(map[Kind]Checker{
		KindTCP: CheckerFunc(func(_ context.Context, ep Endpoint) error {
			probed = append(probed, ep.Name)
			if ep.Name == NameDirectory {
				return errors.New("refused")
			}
			return nil
		}),
	}, nil)

	eps := []Endpoint{
		{Name: NameDatabase, Kind: KindTCP},
		{Name: NameDirectory, Kind: KindTCP},
		{Name: NameIdentityProvider, Kind: KindTCP},
	}
	err := p.WaitAll(context.Background(), eps, 2, time.Millisecond)

	var unready *UnreadyError
	require.ErrorAs(t, err, &unready)
	assert.Equal(t, NameDirectory, unready.Endpoint.Name)
	assert.Equal(t, []string{NameDatabase, NameDirectory, NameDirectory}, probed)
}
