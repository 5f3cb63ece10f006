// Command mailcmd runs commands sent by email.
//
// Usage:
//
//	mailcmd [--config path] [--log-level level] [run|listen|init|set-password|delete-password]
//
// run scans the mailbox once and exits. listen waits for new mail and
// scans on every change until interrupted. init writes a default
// configuration file. set-password stores the mailbox password in the
// system keyring and delete-password removes it.
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

	"github.com/nhle/mailcmd/internal/model"
)

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	flags := pflag.NewFlagSet("mailcmd", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	configPath := flags.StringP("config", "c", model.DefaultConfigPath(), "path to the configuration file")
	flags.String("log-level", "", "log level (trace, debug, info, warn, error)")
	flags.Usage = func() {
		fmt.Fprintln(stderr, "usage: mailcmd [flags] [run|listen|init|set-password|delete-password]")
		flags.PrintDefaults()
	}

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	if flags.NArg() > 1 {
		flags.Usage()
		return exitUsage
	}

	command := "run"
	if flags.NArg() == 1 {
		command = flags.Arg(0)
	}

	switch command {
	case "run", "listen", "init", "set-password", "delete-password":
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", command)
		flags.Usage()
		return exitUsage
	}

	if command == "init" {
		return initConfig(*configPath, stdout, stderr)
	}

	cfg, err := model.LoadConfig(*configPath, flags)
	if err != nil {
		fmt.Fprintf(stderr, "loading config: %v\n", err)
		return exitError
	}

	switch command {
	case "set-password":
		return setPassword(cfg, stdout, stderr)
	case "delete-password":
		return deletePassword(cfg, stdout, stderr)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(stderr, err)
		return exitError
	}

	app, err := newApp(cfg, stderr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitError
	}

	if command == "listen" {
		return app.listen(ctx)
	}
	return app.runOnce(ctx)
}
