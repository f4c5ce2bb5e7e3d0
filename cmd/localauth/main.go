package main

import (
	"fmt"
	"os"
	"strings"
)

const version = "0.1.0-dev"

const (
	exitOK      = 0
	exitFailure = 1
)

func main() {
	if len(os.Args) <= 1 {
		printUsage()
		os.Exit(exitFailure)
	}

	command := strings.ToLower(os.Args[1])
	if handler, ok := commandHandlers()[command]; ok {
		os.Exit(handler(os.Args[2:]))
	}

	fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
	printUsage()
	os.Exit(exitFailure)
}

func commandHandlers() map[string]func(args []string) int {
	return map[string]func(args []string) int{
		"run":            runRun,
		"init":           runInit,
		"setup":          runSetup,
		"status":         runStatus,
		"probe":          runProbe,
		"reset-password": runResetPassword,
		"teardown":       runTeardown,
		"version":        runVersion,
		"help":           runHelp,
		"--help":         runHelp,
		"-h":             runHelp,
	}
}

func runVersion(_ []string) int {
	fmt.Printf("localauth version %s\n", version)
	return exitOK
}

func runHelp(_ []string) int {
	printUsage()
	return exitOK
}

func printUsage() {
	fmt.Printf(`localauth - identity stack initializer (version %s)

Usage:
  localauth run                     Initialize if needed, then serve the management endpoint
  localauth init                    Run the initialization pipeline once (no-op when initialized)
  localauth setup [--listen addr]   Serve the setup endpoint only
  localauth status                  Show initialization state and leftover secrets
  localauth probe [--attempts n]    Check that database, directory and identity provider are ready
  localauth reset-password --target <admin|database|ldap_admin|ldap_readonly>
                                    Change one password (prompts, or reads two lines from stdin)
  localauth teardown --yes [--compose-down] [--volumes] [--log path]
                                    Remove all generated state (keeps localauth.yaml)
  localauth version                 Print version information
  localauth help                    Show this help message

Common flags:
  --config-dir path                 Configuration directory (default $LOCALAUTH_CONFIG_DIR or /config)

Exit codes: 0 on success or no-op, 1 on failure.
`, version)
}
