package services

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"localauth/internal/configdir"
	"localauth/internal/fsutil"
	"localauth/internal/logging"
)

// TeardownLog records what a teardown removed
type TeardownLog struct {
	Timestamp    time.Time `json:"timestamp"`
	ConfigDir    string    `json:"config_dir"`
	ComposeDown  bool      `json:"compose_down"`
	RemovedItems []string  `json:"removed_items"`
	Errors       []string  `json:"errors,omitempty"`
}

// TeardownOptions selects what teardown does beyond removing local state
type TeardownOptions struct {
	ComposeDown   bool
	RemoveVolumes bool
}

// Teardown resets a deployment to its pre-setup state. It is never run
// automatically.
type Teardown struct {
	paths       configdir.Paths
	runtime     Runtime
	composeFile string
	logger      *logging.Logger
}

// NewTeardown creates a teardown for paths. runtime may be nil when the
// stack itself is left running.
func NewTeardown(paths configdir.Paths, runtime Runtime, composeFile string, logger *logging.Logger) *Teardown {
	return &Teardown{
		paths:       paths,
		runtime:     runtime,
		composeFile: composeFile,
		logger:      logger,
	}
}

// stateFiles lists every file teardown removes. The operator settings file
// is kept.
func (t *Teardown) stateFiles() []string {
	return []string{
		t.paths.Marker(),
		t.paths.SystemConfig(),
		t.paths.Seed(),
		t.paths.RuntimeEnv(),
		t.paths.RadiusEnv(),
		t.paths.RadiusClients(),
		t.paths.RunHistory(),
	}
}

func (t *Teardown) stateDirs() []string {
	return []string{
		t.paths.TransientDir(),
		t.paths.SecretsDir(),
	}
}

// Run removes local state and optionally brings the stack down
func (t *Teardown) Run(opts TeardownOptions) (*TeardownLog, error) {
	t.logger.Info("teardown.started", "Starting teardown", map[string]interface{}{
		"config_dir":     t.paths.Dir,
		"compose_down":   opts.ComposeDown,
		"remove_volumes": opts.RemoveVolumes,
	})

	log := &TeardownLog{
		Timestamp:    time.Now().UTC(),
		ConfigDir:    t.paths.Dir,
		ComposeDown:  opts.ComposeDown,
		RemovedItems: []string{},
		Errors:       []string{},
	}

	if opts.ComposeDown {
		if t.runtime == nil {
			return log, fmt.Errorf("compose down requested but no container runtime available")
		}
		if err := t.runtime.ComposeDown(t.composeFile, opts.RemoveVolumes); err != nil {
			errMsg := fmt.Sprintf("failed to bring stack down: %v", err)
			log.Errors = append(log.Errors, errMsg)
			t.logger.Warn("teardown.compose.error", errMsg, nil)
		} else {
			log.RemovedItems = append(log.RemovedItems, "stack:"+t.composeFile)
		}
	}

	for _, path := range t.stateFiles() {
		t.remove(log, path, os.Remove)
	}
	for _, dir := range t.stateDirs() {
		t.remove(log, dir, os.RemoveAll)
	}

	t.logger.Info("teardown.completed", "Teardown completed", map[string]interface{}{
		"removed_items": len(log.RemovedItems),
		"errors":        len(log.Errors),
	})
	return log, nil
}

func (t *Teardown) remove(log *TeardownLog, path string, rm func(string) error) {
	exists, err := fsutil.Exists(path)
	if err != nil {
		log.Errors = append(log.Errors, fmt.Sprintf("failed to stat %s: %v", path, err))
		return
	}
	if !exists {
		return
	}

	if err := rm(path); err != nil {
		errMsg := fmt.Sprintf("failed to remove %s: %v", path, err)
		log.Errors = append(log.Errors, errMsg)
		t.logger.Warn("teardown.remove.error", errMsg, nil)
		return
	}
	log.RemovedItems = append(log.RemovedItems, "state:"+filepath.Base(path))
}

// VerifyClean reports state that survived a teardown
func (t *Teardown) VerifyClean() (bool, []string) {
	var leftovers []string
	for _, path := range append(t.stateFiles(), t.stateDirs()...) {
		if exists, err := fsutil.Exists(path); err != nil || exists {
			leftovers = append(leftovers, "state:"+filepath.Base(path))
		}
	}
	return len(leftovers) == 0, leftovers
}

// SaveLog writes the teardown log as JSON
func (t *Teardown) SaveLog(log *TeardownLog, path string) error {
	data, err := json.MarshalIndent(log, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal teardown log: %w", err)
	}
	if err := fsutil.AtomicWriteFile(path, data, 0o640, t.logger); err != nil {
		return fmt.Errorf("failed to write teardown log: %w", err)
	}

	t.logger.Info("teardown.log.saved", "Teardown log saved", map[string]interface{}{
		"path": path,
	})
	return nil
}
