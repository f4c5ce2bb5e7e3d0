package setup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"localauth/internal/configdir"
	"localauth/internal/passwd"
	"localauth/internal/reset"
	"localauth/internal/store"
)

var testParams = passwd.Params{Memory: 1024, Time: 1, Threads: 1, SaltLen: 16, KeyLen: 32}

func validForm() map[string]string {
	return map[string]string{
		"admin_email":            "admin@example.com",
		"admin_password":         "admin-password-123",
		"admin_password_confirm": "admin-password-123",
		"db_password":            "db-password",
		"ldap_admin_password":    "ldap-admin-password",
		"ldap_readonly_password": "ldap-readonly-password",
	}
}

func newTestServer(t *testing.T, resetter Resetter) (*Server, *store.Store) {
	t.Helper()
	st := store.New(configdir.NewPaths(t.TempDir()), nil)
	return New(st, Options{Params: testParams, Resetter: resetter}, nil), st
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthAndRequestID(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	rec := do(t, srv.Routes(), http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode(t, rec)["status"])
	assert.Len(t, rec.Header().Get(requestIDHeader), 36)
}

func TestCheckStatus(t *testing.T) {
	srv, st := newTestServer(t, nil)
	h := srv.Routes()

	body := decode(t, do(t, h, http.MethodGet, "/api/check-status", nil))
	assert.Equal(t, false, body["initialized"])
	assert.Equal(t, false, body["config_exists"])

	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/api/initialize", validForm()).Code)
	require.NoError(t, st.MarkInitialized())

	body = decode(t, do(t, h, http.MethodGet, "/api/check-status", nil))
	assert.Equal(t, true, body["initialized"])
	assert.Equal(t, true, body["config_exists"])
}

func TestGeneratePassword(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	rec := do(t, srv.Routes(), http.MethodGet, "/api/generate-password", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	pw, _ := decode(t, rec)["password"].(string)
	assert.Len(t, pw, 16)
}

func TestInitialize_WritesSeedThenConfig(t *testing.T) {
	srv, st := newTestServer(t, nil)

	rec := do(t, srv.Routes(), http.MethodPost, "/api/initialize", validForm())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	seed, err := st.LoadSeed()
	require.NoError(t, err)
	assert.Equal(t, DefaultDBUsername, seed.DBUsername)
	assert.Equal(t, DefaultDBName, seed.DBName)
	assert.Equal(t, DefaultBaseDN, seed.LDAPBaseDN)
	assert.NotEmpty(t, seed.RadiusSecret)
	assert.NotEmpty(t, seed.BootstrapToken)

	cfg, err := st.Load()
	require.NoError(t, err)
	ok, err := passwd.Verify("admin-password-123", cfg.Admin.PasswordHash)
	require.NoError(t, err)
	assert.True(t, ok)

	raw, err := os.ReadFile(st.Paths().SystemConfig())
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "db-password")

	_, err = os.Stat(st.Paths().RuntimeEnv())
	assert.NoError(t, err)

	initialized, err := st.Initialized()
	require.NoError(t, err)
	assert.False(t, initialized, "setup must not mark the system initialized")
}

func TestInitialize_Conflict(t *testing.T) {
	srv, st := newTestServer(t, nil)
	h := srv.Routes()

	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/api/initialize", validForm()).Code)
	assert.Equal(t, http.StatusConflict, do(t, h, http.MethodPost, "/api/initialize", validForm()).Code)

	require.NoError(t, st.MarkInitialized())
	assert.Equal(t, http.StatusConflict, do(t, h, http.MethodPost, "/api/initialize", validForm()).Code)
}

func TestInitialize_RuntimeEnvFailureAllowsRetry(t *testing.T) {
	srv, st := newTestServer(t, nil)
	h := srv.Routes()

	blocker := st.Paths().RuntimeEnv()
	require.NoError(t, os.MkdirAll(blocker, 0o750))
	require.NoError(t, os.WriteFile(blocker+"/keep", []byte("x"), 0o600))

	rec := do(t, h, http.MethodPost, "/api/initialize", validForm())
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	_, err := st.Load()
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = st.LoadSeed()
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, os.RemoveAll(blocker))
	rec = do(t, h, http.MethodPost, "/api/initialize", validForm())
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestInitialize_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(map[string]string)
		want   string
	}{
		{"missing email", func(f map[string]string) { delete(f, "admin_email") }, "Missing required field: admin_email"},
		{"missing db password", func(f map[string]string) { f["db_password"] = "" }, "Missing required field: db_password"},
		{"confirm mismatch", func(f map[string]string) { f["admin_password_confirm"] = "something-else-1" }, "Admin passwords do not match"},
		{"short admin password", func(f map[string]string) {
			f["admin_password"] = "short"
			f["admin_password_confirm"] = "short"
		}, "Admin password must be at least 12 characters"},
		{"bad email", func(f map[string]string) { f["admin_email"] = "not-an-email" }, "Admin email is not a valid address"},
		{"bad db user", func(f map[string]string) { f["db_username"] = "drop table" }, "Database username must be a plain SQL identifier"},
		{"bad base dn", func(f map[string]string) { f["ldap_base_dn"] = "not a dn" }, "LDAP base DN is not a valid distinguished name"},
		{"bad radius secret", func(f map[string]string) { f["radius_secret"] = "a:b" }, "RADIUS secret must not contain ':', ';' or newlines"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, st := newTestServer(t, nil)
			form := validForm()
			tt.mutate(form)

			rec := do(t, srv.Routes(), http.MethodPost, "/api/initialize", form)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.want, decode(t, rec)["error"])

			exists, err := st.Exists()
			require.NoError(t, err)
			assert.False(t, exists)
		})
	}
}

func TestInitialize_UnknownField(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	form := validForm()
	form["authentik_secret_key"] = "x"

	rec := do(t, srv.Routes(), http.MethodPost, "/api/initialize", form)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIndex(t *testing.T) {
	srv, st := newTestServer(t, nil)
	h := srv.Routes()

	rec := do(t, h, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/api/initialize")

	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/api/initialize", validForm()).Code)
	rec = do(t, h, http.MethodGet, "/", nil)
	assert.Contains(t, rec.Body.String(), "Initialization is in progress")

	require.NoError(t, st.MarkInitialized())
	rec = do(t, h, http.MethodGet, "/", nil)
	assert.Contains(t, rec.Body.String(), "localauth is initialized")
	assert.NotContains(t, rec.Body.String(), "/api/reset-password")
}

type fakeResetter struct {
	got reset.Request
	err error
}

func (f *fakeResetter) Reset(_ context.Context, req reset.Request) error {
	f.got = req
	return f.err
}

func TestResetPassword_SetupModeHasNoRoute(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	rec := do(t, srv.Routes(), http.MethodPost, "/api/reset-password", map[string]string{})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestResetPassword(t *testing.T) {
	body := map[string]string{
		"target":               "ldap_admin",
		"current_password":     "old-password",
		"new_password":         "new-password",
		"new_password_confirm": "new-password",
	}

	tests := []struct {
		name   string
		err    error
		mutate func(map[string]string)
		status int
	}{
		{"success", nil, nil, http.StatusOK},
		{"mismatch", reset.ErrMismatch, nil, http.StatusForbidden},
		{"too short", reset.ErrTooShort, nil, http.StatusBadRequest},
		{"not configured", store.ErrNotFound, nil, http.StatusConflict},
		{"not initialized", reset.ErrNotInitialized, nil, http.StatusConflict},
		{"apply failure", errors.New("ldap down"), nil, http.StatusInternalServerError},
		{"unknown target", nil, func(b map[string]string) { b["target"] = "root" }, http.StatusBadRequest},
		{"confirm mismatch", nil, func(b map[string]string) { b["new_password_confirm"] = "x" }, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fr := &fakeResetter{err: tt.err}
			srv, _ := newTestServer(t, fr)

			req := map[string]string{}
			for k, v := range body {
				req[k] = v
			}
			if tt.mutate != nil {
				tt.mutate(req)
			}

			rec := do(t, srv.Routes(), http.MethodPost, "/api/reset-password", req)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			if tt.status == http.StatusOK {
				assert.Equal(t, store.FieldLDAPAdmin, fr.got.Target)
				assert.Equal(t, "new-password", fr.got.New)
			}
		})
	}
}

func TestServe_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Serve(ctx, "127.0.0.1:0", http.NotFoundHandler(), nil)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
