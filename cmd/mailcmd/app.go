package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/rs/zerolog"

	"github.com/nhle/mailcmd/internal/action"
	"github.com/nhle/mailcmd/internal/credential"
	"github.com/nhle/mailcmd/internal/dispatch"
	"github.com/nhle/mailcmd/internal/logging"
	"github.com/nhle/mailcmd/internal/mailbox"
	"github.com/nhle/mailcmd/internal/model"
)

// openKeyring opens the store behind keyring: password references.
var openKeyring = credential.Open

// app holds the wired components for run and listen.
type app struct {
	cfg     *model.AppConfig
	logger  zerolog.Logger
	dialer  mailbox.Dialer
	creds   mailbox.Credentials
	scanner *dispatch.Scanner
}

func newApp(cfg *model.AppConfig, logOut io.Writer) (*app, error) {
	logger, err := logging.New(cfg.Log, logOut)
	if err != nil {
		return nil, err
	}

	password, err := credential.Resolve(cfg.Mail.Password, openKeyring)
	if err != nil {
		return nil, fmt.Errorf("resolving mail.password: %w", err)
	}

	dialer := &mailbox.IMAPDialer{
		Host:        cfg.Mail.Host,
		Port:        cfg.Mail.Port,
		TLS:         cfg.Mail.TLS,
		Timeout:     cfg.Mail.Timeout,
		IdleRefresh: cfg.Mail.IdleRefresh,
		Logger:      logger,
	}
	if cfg.Log.Protocol {
		dialer.Debug = logging.NewProtocolWriter(logger)
	}

	runner := action.NewRunner(cfg.Actions, logger)

	return &app{
		cfg:    cfg,
		logger: logger,
		dialer: dialer,
		creds: mailbox.Credentials{
			Username:  cfg.Mail.Username,
			Password:  password,
			Mechanism: cfg.Mail.Auth,
		},
		scanner: dispatch.NewScanner(cfg.Mail.TrustedSender, runner, logger),
	}, nil
}

func (a *app) runOnce(ctx context.Context) int {
	session := dispatch.NewSession(a.dialer, a.creds, a.scanner, a.logger)
	session.Folder = a.cfg.Mail.Folder

	if _, err := session.Run(ctx); err != nil {
		return exitError
	}
	return exitOK
}

func (a *app) listen(ctx context.Context) int {
	listener := dispatch.NewListener(a.dialer, a.creds, a.scanner, a.logger)
	listener.InitialPass = true

	a.logger.Info().Str("server", a.cfg.Mail.Addr()).Msg("starting listener")
	if err := dispatch.NewSupervisor(listener, a.cfg.Mail.ReconnectDelay, a.logger).Run(ctx); err != nil {
		return exitError
	}
	return exitOK
}

// initConfig writes a default configuration file unless one exists.
func initConfig(path string, stdout, stderr io.Writer) int {
	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(stderr, "%s already exists\n", path)
		return exitError
	}

	cfg := model.DefaultAppConfig()
	cfg.Mail.Password = credential.RefPrefix + credential.DefaultPasswordKey
	if err := model.SaveConfig(path, cfg); err != nil {
		fmt.Fprintln(stderr, err)
		return exitError
	}

	fmt.Fprintf(stdout, "wrote %s\n", path)
	return exitOK
}

// setPassword prompts for the mailbox password and stores it in the
// system keyring under the key referenced by mail.password.
func setPassword(cfg *model.AppConfig, stdout, stderr io.Writer) int {
	key := passwordKey(cfg)

	var password string
	err := huh.NewInput().
		Title(fmt.Sprintf("Password for %s", cfg.Mail.Username)).
		EchoMode(huh.EchoModePassword).
		Value(&password).
		Run()
	if err != nil {
		fmt.Fprintf(stderr, "reading password: %v\n", err)
		return exitError
	}

	store, err := openKeyring()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitError
	}
	if err := credential.Set(store, key, password); err != nil {
		fmt.Fprintln(stderr, err)
		return exitError
	}

	fmt.Fprintf(stdout, "stored password in keyring as %q\n", key)
	if !credential.IsRef(cfg.Mail.Password) {
		fmt.Fprintf(stdout, "set mail.password to %q to use it\n", credential.RefPrefix+key)
	}
	return exitOK
}

// deletePassword removes the keyring entry referenced by mail.password.
func deletePassword(cfg *model.AppConfig, stdout, stderr io.Writer) int {
	key := passwordKey(cfg)

	store, err := openKeyring()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitError
	}
	if err := credential.Delete(store, key); err != nil {
		fmt.Fprintln(stderr, err)
		return exitError
	}

	fmt.Fprintf(stdout, "removed %q from keyring\n", key)
	return exitOK
}

// passwordKey returns the keyring entry named by mail.password, or the
// default entry when the password is not a reference.
func passwordKey(cfg *model.AppConfig) string {
	if key, ok := strings.CutPrefix(cfg.Mail.Password, credential.RefPrefix); ok && key != "" {
		return key
	}
	return credential.DefaultPasswordKey
}
