package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailcmd/internal/credential"
	"github.com/nhle/mailcmd/internal/model"
)

func TestRunUnknownCommand(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"explode"}, &stdout, &stderr)

	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr.String(), `unknown command "explode"`)
}

func TestRunHelp(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, exitOK, run(context.Background(), []string{"--help"}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "usage: mailcmd")
}

func TestRunInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"--config", path, "run"}, &stdout, &stderr)

	assert.Equal(t, exitError, code)
	assert.Contains(t, stderr.String(), "mail.host is required")
}

func TestInitWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mailcmd", "config.yaml")

	var stdout, stderr bytes.Buffer
	require.Equal(t, exitOK, run(context.Background(), []string{"-c", path, "init"}, &stdout, &stderr), stderr.String())
	assert.Contains(t, stdout.String(), "wrote "+path)

	cfg, err := model.LoadConfig(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "keyring:mail-password", cfg.Mail.Password)
	assert.Equal(t, 993, cfg.Mail.Port)

	// A second init refuses to overwrite.
	stderr.Reset()
	assert.Equal(t, exitError, run(context.Background(), []string{"-c", path, "init"}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "already exists")
}

func TestRunRejectsBadLogLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := "mail:\n  host: imap.example.org\n  username: bot\n  password: x\n  trusted_sender: owner@example.org\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"-c", path, "--log-level", "shouty", "run"}, &stdout, &stderr)

	assert.Equal(t, exitError, code)
	assert.Contains(t, stderr.String(), "parsing log level")
}

// useKeyring points the CLI at an in-memory keyring for the test.
func useKeyring(t *testing.T, items ...keyring.Item) keyring.Keyring {
	t.Helper()

	ring := keyring.NewArrayKeyring(items)
	prev := openKeyring
	openKeyring = func() (credential.Store, error) { return ring, nil }
	t.Cleanup(func() { openKeyring = prev })
	return ring
}

func TestDeletePassword(t *testing.T) {
	ring := useKeyring(t,
		keyring.Item{Key: "imap-bot", Data: []byte("hunter2")},
		keyring.Item{Key: credential.DefaultPasswordKey, Data: []byte("other")},
	)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mail:\n  password: keyring:imap-bot\n"), 0o600))

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"-c", path, "delete-password"}, &stdout, &stderr)
	require.Equal(t, exitOK, code, stderr.String())
	assert.Contains(t, stdout.String(), `removed "imap-bot"`)

	_, err := ring.Get("imap-bot")
	assert.ErrorIs(t, err, keyring.ErrKeyNotFound)
	_, err = ring.Get(credential.DefaultPasswordKey)
	assert.NoError(t, err)
}

func TestDeletePasswordKeyringUnavailable(t *testing.T) {
	prev := openKeyring
	openKeyring = func() (credential.Store, error) { return nil, errors.New("no keyring backend") }
	t.Cleanup(func() { openKeyring = prev })

	path := filepath.Join(t.TempDir(), "config.yaml")

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"-c", path, "delete-password"}, &stdout, &stderr)
	assert.Equal(t, exitError, code)
	assert.Contains(t, stderr.String(), "no keyring backend")
}

func TestPasswordKey(t *testing.T) {
	cfg := model.DefaultAppConfig()

	cfg.Mail.Password = "keyring:work"
	assert.Equal(t, "work", passwordKey(cfg))

	cfg.Mail.Password = "plain-text"
	assert.Equal(t, credential.DefaultPasswordKey, passwordKey(cfg))

	cfg.Mail.Password = "keyring:"
	assert.Equal(t, credential.DefaultPasswordKey, passwordKey(cfg))
}
