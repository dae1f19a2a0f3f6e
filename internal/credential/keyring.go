// Package credential keeps account secret keys and transport passwords in
// the system keyring.
package credential

import (
	"errors"
	"fmt"

	"github.com/99designs/keyring"

	"github.com/nhle/acmail/internal/autocrypt"
)

// DefaultService is the keyring service name used when none is configured.
const DefaultService = "acmail"

// ErrNotFound is returned when no credential is stored under a key.
var ErrNotFound = errors.New("credential not found")

// Config selects the keyring to open.
type Config struct {
	Service string
	// FileDir is used by the encrypted-file fallback backend.
	FileDir string
	// FilePassword unlocks the file backend. Empty uses a fixed value.
	FilePassword string
}

// Keyring stores credentials for acmail accounts.
type Keyring struct {
	ring keyring.Keyring
}

// Open returns a Keyring backed by the first available system backend.
func Open(cfg Config) (*Keyring, error) {
	if cfg.Service == "" {
		cfg.Service = DefaultService
	}
	if cfg.FileDir == "" {
		cfg.FileDir = "~/.config/acmail/credentials"
	}
	password := cfg.FilePassword
	if password == "" {
		password = cfg.Service + "-file-key"
	}

	ring, err := keyring.Open(keyring.Config{
		ServiceName: cfg.Service,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  cfg.FileDir,
		FilePasswordFunc:         keyring.FixedStringPrompt(password),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return New(ring), nil
}

// New wraps an already opened keyring.
func New(ring keyring.Keyring) *Keyring {
	return &Keyring{ring: ring}
}

func secretKeyName(addr string) string {
	return "secret-key:" + autocrypt.NormalizeAddr(addr)
}

func passwordName(service, username string) string {
	return "password:" + service + ":" + username
}

// GetSecretKey returns the armored secret key of addr.
func (k *Keyring) GetSecretKey(addr string) ([]byte, error) {
	return k.get(secretKeyName(addr))
}

// SetSecretKey stores the armored secret key of addr.
func (k *Keyring) SetSecretKey(addr string, armored []byte) error {
	return k.set(secretKeyName(addr), "acmail secret key for "+addr, armored)
}

// DeleteSecretKey removes the secret key of addr.
func (k *Keyring) DeleteSecretKey(addr string) error {
	return k.remove(secretKeyName(addr))
}

// GetPassword returns the password for username on a transport service
// such as "smtp" or "imap".
func (k *Keyring) GetPassword(service, username string) (string, error) {
	b, err := k.get(passwordName(service, username))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// SetPassword stores the password for username on a transport service.
func (k *Keyring) SetPassword(service, username, password string) error {
	return k.set(passwordName(service, username), "acmail "+service+" password", []byte(password))
}

// IsNotFound reports whether err means a missing credential.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func (k *Keyring) get(key string) ([]byte, error) {
	item, err := k.ring.Get(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return nil, fmt.Errorf("getting credential %q: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting credential %q: %w", key, err)
	}
	return item.Data, nil
}

func (k *Keyring) set(key, label string, data []byte) error {
	err := k.ring.Set(keyring.Item{
		Key:   key,
		Data:  data,
		Label: label,
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}
	return nil
}

func (k *Keyring) remove(key string) error {
	err := k.ring.Remove(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("deleting credential %q: %w", key, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("deleting credential %q: %w", key, err)
	}
	return nil
}
