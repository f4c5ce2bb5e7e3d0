package history

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestWriter_AppendAndLast(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.jsonl")
	writer := NewWriter(path, nil)

	for i, outcome := range []string{OutcomeFailed, OutcomeInitialized} {
		rec := Record{
			Timestamp:  time.Now().UTC(),
			Outcome:    outcome,
			States:     []string{"UNSTARTED", "AWAITING_CONFIG"},
			DurationMS: int64(i),
		}
		if err := writer.Append(rec); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Errorf("Expected 2 lines, got %d", len(lines))
	}

	last, err := writer.Last()
	if err != nil {
		t.Fatalf("Last() error = %v", err)
	}
	if last.Outcome != OutcomeInitialized {
		t.Errorf("Last().Outcome = %s, want %s", last.Outcome, OutcomeInitialized)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("permissions = %o, want 600", info.Mode().Perm())
	}
}

func TestWriter_LastSkipsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.jsonl")
	content := `{"ts":"2026-01-02T03:04:05Z","outcome":"failed","states":["UNSTARTED"],"failed_in":"PROBING","duration_ms":12}` + "\nnot json\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	last, err := NewWriter(path, nil).Last()
	if err != nil {
		t.Fatalf("Last() error = %v", err)
	}
	if last.FailedIn != "PROBING" {
		t.Errorf("FailedIn = %q, want PROBING", last.FailedIn)
	}
}

func TestWriter_LastEmpty(t *testing.T) {
	writer := NewWriter(filepath.Join(t.TempDir(), "runs.jsonl"), nil)
	if _, err := writer.Last(); !errors.Is(err, ErrNoRecords) {
		t.Errorf("Last() error = %v, want ErrNoRecords", err)
	}
}
