package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"localauth/internal/authentik"
	"localauth/internal/config"
	"localauth/internal/configdir"
	"localauth/internal/credentials"
	"localauth/internal/directory"
	"localauth/internal/logging"
	"localauth/internal/orchestrator"
	"localauth/internal/probe"
	"localauth/internal/radius"
	"localauth/internal/reset"
	"localauth/internal/secrets"
	"localauth/internal/services"
	"localauth/internal/setup"
	"localauth/internal/steps"
	"localauth/internal/store"
)

const configDirEnv = "LOCALAUTH_CONFIG_DIR"

var stderr io.Writer = os.Stderr

// app wires the packages together from the resolved settings.
type app struct {
	cfg    config.Config
	paths  configdir.Paths
	logger *logging.Logger
	store  *store.Store
}

// newFlagSet returns a FlagSet carrying the flags every command accepts.
func newFlagSet(name string, configDir *string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(configDir, "config-dir", "", "configuration directory")
	return fs
}

// parseFlags parses args and reports whether the command should continue.
// It returns the exit code to use when it should not.
func parseFlags(fs *pflag.FlagSet, args []string) (bool, int) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return false, exitOK
		}
		return false, exitFailure
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(stderr, "unexpected arguments: %v\n", fs.Args())
		return false, exitFailure
	}
	return true, exitOK
}

func newApp(configDir string) (*app, error) {
	if configDir != "" {
		if err := os.Setenv(configDirEnv, configDir); err != nil {
			return nil, err
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	level := logging.ParseLevel(cfg.Logging.Level)
	logger := logging.NewLogger(level)
	if cfg.Logging.File != "" {
		if logger, err = logging.NewFileLogger(level, cfg.Logging.File); err != nil {
			return nil, err
		}
	}

	paths := configdir.NewPaths(cfg.ConfigDir)
	return &app{
		cfg:    cfg,
		paths:  paths,
		logger: logger,
		store:  store.New(paths, logger.Named("store")),
	}, nil
}

func (a *app) close() {
	_ = a.logger.Close()
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// runtime returns the container runtime, or nil when it is not reachable
// from this process.
func (a *app) runtime() services.Runtime {
	rt, err := services.DetectRuntime(a.cfg.Runtime.Binary)
	if err != nil {
		a.logger.Debug("runtime.unavailable", "Container runtime not available", map[string]interface{}{
			"error": err.Error(),
		})
		return nil
	}
	return rt
}

func (a *app) secrets() (*secrets.Store, error) {
	return secrets.Open(a.paths, a.logger.Named("secrets"))
}

func (a *app) identitySettings() authentik.Settings {
	eps := a.cfg.Endpoints
	return authentik.SettingsFor(
		eps.IdentityProvider.Host, eps.IdentityProvider.Port,
		eps.Directory.Host, eps.Directory.Port,
	)
}

func (a *app) directoryDialer() directory.Dialer {
	return directory.URLDialer(a.identitySettings().DirectoryURI, a.cfg.ProbeTimeout())
}

// stack builds the three configuration steps.
func (a *app) stack(tokens *secrets.Store) steps.Stack {
	var restarter radius.Restarter
	if rt := a.runtime(); rt != nil {
		restarter = rt
	}

	identity := a.identitySettings()
	identity.Containers = a.cfg.Identity.Containers
	identity.ReadyAttempts = a.cfg.Probe.MaxAttempts
	identity.ReadyInterval = a.cfg.ProbeInterval()

	return steps.Stack{
		IdentityProvider: authentik.NewConfigurator(identity, tokens, restarter, a.logger.Named("authentik")),
		Directory:        directory.NewConfigurator(a.directoryDialer(), a.logger.Named("directory")),
		NetworkAuth: radius.NewConfigurator(radius.Settings{
			Paths:        a.paths,
			IdentityHost: a.cfg.Endpoints.IdentityProvider.Host,
			IdentityPort: a.cfg.Endpoints.IdentityProvider.Port,
			Clients:      a.cfg.Radius.Clients,
			Container:    a.cfg.Radius.Container,
		}, tokens, restarter, a.logger.Named("radius")),
	}
}

func (a *app) resetter(tokens *secrets.Store) *reset.Resetter {
	token := func() (string, error) {
		v, err := tokens.Get(configdir.IdentityTokenName)
		if err != nil {
			return "", err
		}
		return string(v), nil
	}
	dial := a.directoryDialer()
	changer := directory.NewPasswordChanger(dial, a.logger.Named("directory"))

	appliers := map[store.HashField]reset.PasswordApplier{
		store.FieldAdmin:        reset.AdminApplier(authentik.NewPasswordSetter(a.identitySettings(), token, a.logger.Named("authentik"))),
		store.FieldDatabase:     reset.DatabaseApplier(a.databaseEndpoint(), a.cfg.ProbeTimeout(), nil),
		store.FieldLDAPAdmin:    reset.DirectoryApplier(changer, directory.AdminDN),
		store.FieldLDAPReadonly: reset.DirectoryApplier(changer, directory.ReadonlyDN),
	}
	return reset.New(a.store, appliers, a.logger.Named("reset"))
}

func (a *app) databaseEndpoint() probe.Endpoint {
	for _, ep := range probe.EndpointsFromConfig(a.cfg.Endpoints) {
		if ep.Name == probe.NameDatabase {
			return ep
		}
	}
	return probe.Endpoint{}
}

// setupServer returns the setup endpoint; resetter enables management mode.
func (a *app) setupServer(resetter setup.Resetter) *setup.Server {
	return setup.New(a.store, setup.Options{Resetter: resetter}, a.logger.Named("setup"))
}

func (a *app) serve(ctx context.Context, srv *setup.Server) error {
	return setup.Serve(ctx, a.cfg.Setup.ListenAddr, srv.Routes(), a.logger.Named("setup"))
}

func (a *app) orchestrator(tokens *secrets.Store) *orchestrator.Orchestrator {
	srv := a.setupServer(nil)
	return orchestrator.New(orchestrator.Deps{
		Store:        a.store,
		Prober:       probe.New(a.cfg.ProbeTimeout(), a.logger.Named("probe")),
		Materializer: credentials.NewMaterializer(a.paths.TransientDir(), a.logger.Named("credentials")),
		Runner:       steps.NewRunner(a.stack(tokens), a.logger.Named("steps")),
		ServeSetup: func(ctx context.Context) error {
			return a.serve(ctx, srv)
		},
	}, orchestrator.Settings{
		Endpoints:     probe.EndpointsFromConfig(a.cfg.Endpoints),
		MaxAttempts:   a.cfg.Probe.MaxAttempts,
		ProbeInterval: a.cfg.ProbeInterval(),
		PollInterval:  a.cfg.PollInterval(),
	}, a.logger.Named("orchestrator"))
}
