package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	"localauth/internal/credentials"
	"localauth/internal/diag"
	"localauth/internal/history"
	"localauth/internal/orchestrator"
	"localauth/internal/probe"
	"localauth/internal/reset"
	"localauth/internal/services"
	"localauth/internal/setup"
	"localauth/internal/store"
)

const confirmationYes = "yes"

// runPipeline runs the orchestrator once and reports the outcome.
func runPipeline(ctx context.Context, a *app) (orchestrator.Result, bool) {
	tokens, err := a.secrets()
	if err != nil {
		printFail("secrets store: %v", err)
		return 0, false
	}

	orch := a.orchestrator(tokens)
	start := time.Now()
	result, err := orch.Run(ctx)
	a.recordRun(orch, result, err, time.Since(start))
	if err != nil {
		printFail("%s", diag.Redact(err.Error()))
		return 0, false
	}

	switch result {
	case orchestrator.ResultAlreadyInitialized:
		printOK("Already initialized, nothing to do")
	case orchestrator.ResultInitialized:
		printOK("Initialization completed")
		printAccessPoints(a)
	}
	return result, true
}

func (a *app) recordRun(orch *orchestrator.Orchestrator, result orchestrator.Result, runErr error, elapsed time.Duration) {
	rec := history.Record{
		Timestamp:  time.Now().UTC(),
		DurationMS: elapsed.Milliseconds(),
	}
	for _, s := range orch.History() {
		rec.States = append(rec.States, string(s))
	}

	var failure *orchestrator.Failure
	switch {
	case errors.As(runErr, &failure):
		rec.Outcome = history.OutcomeFailed
		rec.FailedIn = string(failure.State)
		rec.Error = diag.Truncate(diag.Redact(runErr.Error()), 512)
	case runErr != nil:
		rec.Outcome = history.OutcomeFailed
		rec.Error = diag.Truncate(diag.Redact(runErr.Error()), 512)
	case result == orchestrator.ResultAlreadyInitialized:
		rec.Outcome = history.OutcomeAlreadyInitialized
	default:
		rec.Outcome = history.OutcomeInitialized
	}

	if err := history.NewWriter(a.paths.RunHistory(), a.logger).Append(rec); err != nil {
		a.logger.Warn("history.append.failed", "Failed to record run", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func printAccessPoints(a *app) {
	eps := a.cfg.Endpoints
	printTitle("Access points")
	printField("Identity provider", fmt.Sprintf("http://%s:%d/", eps.IdentityProvider.Host, eps.IdentityProvider.Port))
	printField("LDAP", fmt.Sprintf("ldap://%s:%d", eps.Directory.Host, eps.Directory.Port))
	printField("RADIUS container", a.cfg.Radius.Container)
	printField("Management", a.cfg.Setup.ListenAddr)
}

// runRun is the container entrypoint: initialize when needed, then stay
// resident serving the management endpoint.
func runRun(args []string) int {
	var configDir string
	fs := newFlagSet("run", &configDir)
	if ok, code := parseFlags(fs, args); !ok {
		return code
	}

	a, err := newApp(configDir)
	if err != nil {
		printFail("%v", err)
		return exitFailure
	}
	defer a.close()

	ctx, stop := signalContext()
	defer stop()

	if _, ok := runPipeline(ctx, a); !ok {
		return exitFailure
	}

	tokens, err := a.secrets()
	if err != nil {
		printFail("secrets store: %v", err)
		return exitFailure
	}
	if err := a.serve(ctx, a.setupServer(a.resetter(tokens))); err != nil {
		printFail("management endpoint: %v", err)
		return exitFailure
	}
	return exitOK
}

func runInit(args []string) int {
	var configDir string
	fs := newFlagSet("init", &configDir)
	if ok, code := parseFlags(fs, args); !ok {
		return code
	}

	a, err := newApp(configDir)
	if err != nil {
		printFail("%v", err)
		return exitFailure
	}
	defer a.close()

	ctx, stop := signalContext()
	defer stop()

	if _, ok := runPipeline(ctx, a); !ok {
		return exitFailure
	}
	return exitOK
}

func runSetup(args []string) int {
	var configDir, listen string
	fs := newFlagSet("setup", &configDir)
	fs.StringVar(&listen, "listen", "", "listen address (default from settings)")
	if ok, code := parseFlags(fs, args); !ok {
		return code
	}

	a, err := newApp(configDir)
	if err != nil {
		printFail("%v", err)
		return exitFailure
	}
	defer a.close()
	if listen != "" {
		a.cfg.Setup.ListenAddr = listen
	}

	ctx, stop := signalContext()
	defer stop()

	var resetter setup.Resetter
	initialized, err := a.store.Initialized()
	if err != nil {
		printFail("%v", err)
		return exitFailure
	}
	if initialized {
		tokens, err := a.secrets()
		if err != nil {
			printFail("secrets store: %v", err)
			return exitFailure
		}
		resetter = a.resetter(tokens)
	}

	if err := a.serve(ctx, a.setupServer(resetter)); err != nil {
		printFail("setup endpoint: %v", err)
		return exitFailure
	}
	return exitOK
}

func runStatus(args []string) int {
	var configDir string
	fs := newFlagSet("status", &configDir)
	if ok, code := parseFlags(fs, args); !ok {
		return code
	}

	a, err := newApp(configDir)
	if err != nil {
		printFail("%v", err)
		return exitFailure
	}
	defer a.close()

	initialized, err := a.store.Initialized()
	if err != nil {
		printFail("%v", err)
		return exitFailure
	}

	printTitle("localauth status")
	printField("Config directory", a.paths.Dir)
	printField("Initialized", initialized)

	cfg, err := a.store.Load()
	switch {
	case err == nil:
		printField("Admin", cfg.Admin.Email)
		printField("LDAP base DN", cfg.LDAP.BaseDN)
		printField("Database", cfg.Database.Username+"@"+cfg.Database.Name)
		printField("Created", cfg.CreatedAt.Format(time.RFC3339))
		if !cfg.UpdatedAt.IsZero() {
			printField("Last password reset", cfg.UpdatedAt.Format(time.RFC3339))
		}
	case errors.Is(err, store.ErrNotFound):
		printField("System config", "not submitted")
	default:
		printWarn("System config unreadable: %v", err)
	}

	if last, err := history.NewWriter(a.paths.RunHistory(), a.logger).Last(); err == nil {
		summary := last.Outcome
		if last.FailedIn != "" {
			summary += " in " + last.FailedIn
		}
		printField("Last run", summary+" at "+last.Timestamp.Format(time.RFC3339))
		if last.Error != "" {
			printField("Last error", last.Error)
		}
	}

	if _, err := a.store.LoadSeed(); err == nil && initialized {
		printWarn("Setup seed with plaintext passwords still present: %s", a.paths.Seed())
	}
	for _, p := range credentials.NewMaterializer(a.paths.TransientDir(), nil).Paths() {
		if _, err := os.Stat(p); err == nil {
			printWarn("Transient credential file left behind: %s", p)
		}
	}

	if rt := a.runtime(); rt != nil && a.cfg.Radius.Container != "" {
		status, err := rt.GetContainerStatus(a.cfg.Radius.Container)
		if err != nil {
			status = "unknown"
		}
		printField("RADIUS container", status)
	}
	return exitOK
}

func runProbe(args []string) int {
	var configDir string
	var attempts int
	var interval time.Duration
	fs := newFlagSet("probe", &configDir)
	fs.IntVar(&attempts, "attempts", 1, "attempts per endpoint")
	fs.DurationVar(&interval, "interval", time.Second, "delay between attempts")
	if ok, code := parseFlags(fs, args); !ok {
		return code
	}

	a, err := newApp(configDir)
	if err != nil {
		printFail("%v", err)
		return exitFailure
	}
	defer a.close()

	set, err := credentials.FromStore(a.store)
	if err != nil && !errors.Is(err, credentials.ErrSeedMissing) {
		printFail("%v", err)
		return exitFailure
	}
	if set != nil {
		defer set.Clear()
	}

	ctx, stop := signalContext()
	defer stop()

	prober := probe.New(a.cfg.ProbeTimeout(), a.logger.Named("probe"))
	code := exitOK
	for _, ep := range probe.EndpointsFromConfig(a.cfg.Endpoints) {
		if ep.Kind == probe.KindSQL && set != nil {
			ep.User, ep.Password, ep.Database = set.DBUser, set.DBPassword, set.DBName
		}
		if err := prober.WaitReady(ctx, ep, attempts, interval); err != nil {
			printFail("%s", diag.Redact(err.Error()))
			code = exitFailure
			continue
		}
		printOK("%s ready (%s)", ep.Name, ep.Address())
	}
	return code
}

func runResetPassword(args []string) int {
	var configDir, target string
	fs := newFlagSet("reset-password", &configDir)
	fs.StringVar(&target, "target", "", "admin, database, ldap_admin or ldap_readonly")
	if ok, code := parseFlags(fs, args); !ok {
		return code
	}

	field, err := store.ParseHashField(target)
	if err != nil {
		printFail("%v", err)
		return exitFailure
	}

	a, err := newApp(configDir)
	if err != nil {
		printFail("%v", err)
		return exitFailure
	}
	defer a.close()

	initialized, err := a.store.Initialized()
	if err != nil {
		printFail("%v", err)
		return exitFailure
	}
	if !initialized {
		printFail("%v: run init to completion before resetting passwords", reset.ErrNotInitialized)
		return exitFailure
	}

	current, next, err := readPasswords()
	if err != nil {
		printFail("%v", err)
		return exitFailure
	}

	tokens, err := a.secrets()
	if err != nil {
		printFail("secrets store: %v", err)
		return exitFailure
	}

	ctx, stop := signalContext()
	defer stop()

	if err := a.resetter(tokens).Reset(ctx, reset.Request{Target: field, Current: current, New: next}); err != nil {
		printFail("%s", diag.Redact(err.Error()))
		return exitFailure
	}
	printOK("Password for %s changed", field)
	return exitOK
}

// readPasswords prompts with echo disabled on a terminal, otherwise reads
// the current and the new password as two lines from stdin.
func readPasswords() (string, string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		scanner := bufio.NewScanner(os.Stdin)
		var lines []string
		for len(lines) < 2 && scanner.Scan() {
			lines = append(lines, strings.TrimRight(scanner.Text(), "\r"))
		}
		if err := scanner.Err(); err != nil {
			return "", "", err
		}
		if len(lines) < 2 {
			return "", "", errors.New("expected current and new password on stdin")
		}
		return lines[0], lines[1], nil
	}

	prompt := func(label string) (string, error) {
		fmt.Fprint(os.Stderr, label)
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		return string(b), err
	}
	current, err := prompt("Current password: ")
	if err != nil {
		return "", "", err
	}
	next, err := prompt("New password: ")
	if err != nil {
		return "", "", err
	}
	confirm, err := prompt("Confirm new password: ")
	if err != nil {
		return "", "", err
	}
	if next != confirm {
		return "", "", errors.New("new passwords do not match")
	}
	return current, next, nil
}

func runTeardown(args []string) int {
	var configDir, logPath string
	var yes, composeDown, volumes bool
	fs := newFlagSet("teardown", &configDir)
	fs.BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	fs.BoolVar(&composeDown, "compose-down", false, "also bring the stack down")
	fs.BoolVar(&volumes, "volumes", false, "with --compose-down, remove volumes too")
	fs.StringVar(&logPath, "log", "", "write the teardown log to this path")
	if ok, code := parseFlags(fs, args); !ok {
		return code
	}

	a, err := newApp(configDir)
	if err != nil {
		printFail("%v", err)
		return exitFailure
	}
	defer a.close()

	if !yes && !confirmTeardown(a, composeDown, volumes) {
		fmt.Fprintln(stderr, "Teardown canceled")
		return exitFailure
	}

	var rt services.Runtime
	if composeDown {
		if rt = a.runtime(); rt == nil {
			printFail("--compose-down needs %s, which is not available", a.cfg.Runtime.Binary)
			return exitFailure
		}
	}

	td := services.NewTeardown(a.paths, rt, a.cfg.Runtime.ComposeFile, a.logger.Named("teardown"))
	log, err := td.Run(services.TeardownOptions{ComposeDown: composeDown, RemoveVolumes: volumes})
	if err != nil {
		printFail("%v", err)
		return exitFailure
	}

	fmt.Printf("Removed %d items:\n", len(log.RemovedItems))
	for _, item := range log.RemovedItems {
		fmt.Printf("  - %s\n", item)
	}
	for _, msg := range log.Errors {
		printWarn("%s", msg)
	}

	clean, leftovers := td.VerifyClean()
	if clean {
		printOK("Configuration directory is clean")
	} else {
		for _, item := range leftovers {
			printWarn("Leftover: %s", item)
		}
	}

	if logPath != "" {
		if err := td.SaveLog(log, logPath); err != nil {
			printWarn("Failed to save teardown log: %v", err)
		}
	}

	if len(log.Errors) > 0 || !clean {
		return exitFailure
	}
	return exitOK
}

func confirmTeardown(a *app, composeDown, volumes bool) bool {
	fmt.Println("This will permanently delete from " + a.paths.Dir + ":")
	fmt.Println("  - system config, initialization marker and setup seed")
	fmt.Println("  - stored API token and transient credential files")
	fmt.Println("  - RADIUS and runtime env files")
	if composeDown {
		fmt.Println("  - the running stack (" + a.cfg.Runtime.ComposeFile + ")")
		if volumes {
			fmt.Println("  - all stack volumes, including the database")
		}
	}
	fmt.Println()
	fmt.Print("Type 'yes' to confirm: ")

	var response string
	if _, err := fmt.Scanln(&response); err != nil {
		return false
	}
	return response == confirmationYes
}
