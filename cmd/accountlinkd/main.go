// accountlinkd binds local principals to accounts on the video platform and
// keeps their sessions fresh.
//
// Usage:
//
//	accountlinkd [--config path] <command> [flags]
//
// Commands: serve, login, status, list, unbind, verify-key, regenerate-key, config.
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
)

type commandFunc func(ctx context.Context, env *environment, args []string) error

type environment struct {
	configPath string
	load       func(ctx context.Context) (fileConfig, error)
	stdin      *os.File
	stdout     io.Writer
	stderr     io.Writer
	open       func(ctx context.Context) (*runtime, error)
}

var commands = map[string]commandFunc{
	"serve":          runServe,
	"login":          runLogin,
	"status":         runStatus,
	"list":           runList,
	"unbind":         runUnbind,
	"verify-key":     runVerifyKey,
	"regenerate-key": runRegenerateKey,
	"config":         runConfig,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdin *os.File, stdout io.Writer, stderr io.Writer) error {
	env := &environment{stdin: stdin, stdout: stdout, stderr: stderr}

	flagSet := pflag.NewFlagSet("accountlinkd", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.SetInterspersed(false)
	flagSet.StringVarP(&env.configPath, "config", "c", os.Getenv("ACCOUNTLINK_CONFIG"), "path to the YAML config file")
	flagSet.Usage = func() { printUsage(stderr, flagSet) }
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	rest := flagSet.Args()
	if len(rest) == 0 {
		printUsage(stderr, flagSet)
		return fmt.Errorf("a command is required")
	}
	cmd, ok := commands[rest[0]]
	if !ok {
		printUsage(stderr, flagSet)
		return fmt.Errorf("unknown command %q", rest[0])
	}

	env.load = func(ctx context.Context) (fileConfig, error) {
		return loadFileConfig(ctx, env.configPath)
	}
	env.open = func(ctx context.Context) (*runtime, error) {
		file, err := env.load(ctx)
		if err != nil {
			return nil, err
		}
		return newRuntime(ctx, file, stderr)
	}
	return cmd(ctx, env, rest[1:])
}

func printUsage(w io.Writer, flagSet *pflag.FlagSet) {
	fmt.Fprintf(w, `accountlinkd binds principals to platform accounts.

Usage:
  accountlinkd [--config path] <command> [flags]

Commands:
  serve            run the session refresh scheduler until interrupted
  login            bind a principal through a QR login
  status           show the binding of a principal
  list             list active bindings
  unbind           remove the binding of a principal
  verify-key       check the credential encryption key
  regenerate-key   replace the encryption key (existing bindings become unreadable)
  config           print the effective configuration as YAML

Global flags:
`)
	fmt.Fprint(w, flagSet.FlagUsages())
}
