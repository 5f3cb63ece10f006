package credential

import (
	"errors"
	"fmt"
	"strings"

	"github.com/99designs/keyring"
)

const serviceName = "mailcmd"

// RefPrefix marks a config value as a reference to a keyring entry.
const RefPrefix = "keyring:"

// DefaultPasswordKey is the keyring entry written by set-password.
const DefaultPasswordKey = "mail-password"

// Store reads and writes secrets. It is satisfied by keyring.Keyring.
type Store interface {
	Get(key string) (keyring.Item, error)
	Set(item keyring.Item) error
	Remove(key string) error
}

// Open returns the system keyring.
func Open() (Store, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/mailcmd/credentials",
		FilePasswordFunc:         keyring.FixedStringPrompt("mailcmd-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// Get retrieves a credential value by key.
func Get(s Store, key string) (string, error) {
	item, err := s.Get(key)
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}
	return string(item.Data), nil
}

// Set stores a credential value by key.
func Set(s Store, key string, value string) error {
	err := s.Set(keyring.Item{
		Key:   key,
		Data:  []byte(value),
		Label: serviceName + " " + key,
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}
	return nil
}

// Delete removes a credential by key.
func Delete(s Store, key string) error {
	if err := s.Remove(key); err != nil {
		return fmt.Errorf("deleting credential %q: %w", key, err)
	}
	return nil
}

// IsRef reports whether value is a keyring reference.
func IsRef(value string) bool {
	return strings.HasPrefix(value, RefPrefix)
}

// Resolve returns value unchanged unless it is a "keyring:<key>"
// reference, in which case the secret is loaded from the store opened
// by open. The store is only opened for references.
func Resolve(value string, open func() (Store, error)) (string, error) {
	key, ok := strings.CutPrefix(value, RefPrefix)
	if !ok {
		return value, nil
	}
	if key == "" {
		return "", errors.New("empty keyring reference")
	}
	s, err := open()
	if err != nil {
		return "", err
	}
	return Get(s, key)
}
