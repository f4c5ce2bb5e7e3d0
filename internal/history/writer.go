// Package history appends one JSON line per initialization run so the
// outcome of past runs survives container restarts.
package history

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"localauth/internal/fsutil"
	"localauth/internal/logging"
)

// ErrNoRecords is returned by Last when nothing was recorded yet
var ErrNoRecords = errors.New("no runs recorded")

// Outcomes of a run
const (
	OutcomeInitialized        = "initialized"
	OutcomeAlreadyInitialized = "already_initialized"
	OutcomeFailed             = "failed"
)

// Record describes one orchestrator run
type Record struct {
	Timestamp  time.Time `json:"ts"`
	Outcome    string    `json:"outcome"`
	States     []string  `json:"states"`
	FailedIn   string    `json:"failed_in,omitempty"`
	Error      string    `json:"error,omitempty"`
	DurationMS int64     `json:"duration_ms"`
}

// Writer handles appending run records to a JSONL file
type Writer struct {
	path   string
	logger *logging.Logger
}

// NewWriter creates a writer for path
func NewWriter(path string, logger *logging.Logger) *Writer {
	return &Writer{path: path, logger: logger}
}

// Append writes rec as one line
func (w *Writer) Append(rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal run record: %w", err)
	}
	data = append(data, '\n')

	if err := fsutil.EnsureDirectory(filepath.Dir(w.path)); err != nil {
		return err
	}
	// #nosec G304 -- path is derived from the configuration directory.
	file, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, fsutil.DefaultFilePermissions)
	if err != nil {
		return fmt.Errorf("failed to open run history: %w", err)
	}
	defer fsutil.CloseWithError(file.Close, w.logger, "run history")

	if _, err := file.Write(data); err != nil {
		return fmt.Errorf("failed to write run record: %w", err)
	}
	return nil
}

// Last returns the most recent record. Unparseable lines are skipped.
func (w *Writer) Last() (*Record, error) {
	// #nosec G304 -- path is derived from the configuration directory.
	file, err := os.Open(w.path)
	if os.IsNotExist(err) {
		return nil, ErrNoRecords
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open run history: %w", err)
	}
	defer fsutil.CloseWithError(file.Close, w.logger, "run history")

	var last *Record
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			w.logger.Debug("history.record.skipped", "Skipping unreadable run record", map[string]interface{}{
				"error": err.Error(),
			})
			continue
		}
		last = &rec
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read run history: %w", err)
	}
	if last == nil {
		return nil, ErrNoRecords
	}
	return last, nil
}
