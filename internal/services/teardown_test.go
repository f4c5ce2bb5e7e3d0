package services

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"localauth/internal/configdir"
)

func populate(t *testing.T, paths configdir.Paths) {
	t.Helper()
	files := []string{
		paths.SystemConfig(),
		paths.Marker(),
		paths.Seed(),
		paths.RuntimeEnv(),
		paths.RadiusEnv(),
		paths.RadiusClients(),
		paths.Settings(),
		filepath.Join(paths.TransientDir(), "db.env"),
		filepath.Join(paths.SecretsDir(), "authentik_token.enc"),
	}
	for _, f := range files {
		if err := os.MkdirAll(filepath.Dir(f), 0o750); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(f, []byte("x"), 0o600); err != nil {
			t.Fatal(err)
		}
	}
}

func TestTeardown_Run(t *testing.T) {
	paths := configdir.NewPaths(t.TempDir())
	populate(t, paths)

	td := NewTeardown(paths, nil, "", nil)
	log, err := td.Run(TeardownOptions{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(log.Errors) != 0 {
		t.Errorf("Errors = %v, want none", log.Errors)
	}
	if len(log.RemovedItems) != 8 {
		t.Errorf("RemovedItems = %v, want 8 entries", log.RemovedItems)
	}

	clean, leftovers := td.VerifyClean()
	if !clean {
		t.Errorf("VerifyClean() leftovers = %v", leftovers)
	}

	if _, err := os.Stat(paths.Settings()); err != nil {
		t.Error("operator settings file must survive teardown")
	}
}

func TestTeardown_Idempotent(t *testing.T) {
	paths := configdir.NewPaths(t.TempDir())
	td := NewTeardown(paths, nil, "", nil)

	log, err := td.Run(TeardownOptions{})
	if err != nil {
		t.Fatalf("Run() on empty dir error = %v", err)
	}
	if len(log.RemovedItems) != 0 || len(log.Errors) != 0 {
		t.Errorf("Run() on empty dir = %+v, want nothing removed", log)
	}
}

func TestTeardown_ComposeDown(t *testing.T) {
	paths := configdir.NewPaths(t.TempDir())
	runtime := NewMockRuntime()
	td := NewTeardown(paths, runtime, "/srv/localauth/docker-compose.yml", nil)

	log, err := td.Run(TeardownOptions{ComposeDown: true, RemoveVolumes: true})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(runtime.ComposeDowns) != 1 || !runtime.RemovedVolumes {
		t.Errorf("ComposeDown calls = %v, volumes = %v", runtime.ComposeDowns, runtime.RemovedVolumes)
	}
	if len(log.RemovedItems) != 1 || log.RemovedItems[0] != "stack:/srv/localauth/docker-compose.yml" {
		t.Errorf("RemovedItems = %v", log.RemovedItems)
	}

	runtime.composeError = errors.New("daemon unreachable")
	log, _ = td.Run(TeardownOptions{ComposeDown: true})
	if len(log.Errors) != 1 {
		t.Errorf("Errors = %v, want compose failure recorded", log.Errors)
	}
}

func TestTeardown_ComposeDownWithoutRuntime(t *testing.T) {
	td := NewTeardown(configdir.NewPaths(t.TempDir()), nil, "compose.yml", nil)
	if _, err := td.Run(TeardownOptions{ComposeDown: true}); err == nil {
		t.Error("Run() should fail when compose down has no runtime")
	}
}

func TestTeardown_SaveLog(t *testing.T) {
	td := NewTeardown(configdir.NewPaths(t.TempDir()), nil, "", nil)
	path := filepath.Join(t.TempDir(), "logs", "teardown.json")

	log := &TeardownLog{RemovedItems: []string{"state:system_config.json"}}
	if err := td.SaveLog(log, path); err != nil {
		t.Fatalf("SaveLog() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var decoded TeardownLog
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("log is not JSON: %v", err)
	}
	if len(decoded.RemovedItems) != 1 {
		t.Errorf("RemovedItems = %v", decoded.RemovedItems)
	}
}
