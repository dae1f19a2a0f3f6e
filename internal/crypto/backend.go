// Package crypto defines the signing and encryption collaborator used by
// the send and receive pipelines, and an OpenPGP implementation of it.
package crypto

import (
	"context"
	"errors"
	"fmt"

	"github.com/nhle/acmail/internal/model"
)

var (
	// ErrKeyNotFound is returned when no usable key exists for an address.
	ErrKeyNotFound = errors.New("key not found")

	// ErrCryptoBackend is matched by every *BackendError.
	ErrCryptoBackend = errors.New("crypto backend failure")
)

// BackendError reports a failure inside the crypto backend.
type BackendError struct {
	Op  string
	Err error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("crypto %s: %v", e.Op, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrCryptoBackend) match any BackendError.
func (e *BackendError) Is(target error) bool {
	return target == ErrCryptoBackend
}

// IsKeyNotFound reports whether err means a key could not be found.
func IsKeyNotFound(err error) bool {
	return errors.Is(err, ErrKeyNotFound)
}

// KeyHandle identifies a local signing key.
type KeyHandle struct {
	Addr        string
	Fingerprint string
}

func (h KeyHandle) String() string {
	return h.Addr + " " + h.Fingerprint
}

// Backend signs and encrypts outgoing plaintext.
type Backend interface {
	ResolveKeyHandle(ctx context.Context, addr string) (KeyHandle, error)
	SignAndEncrypt(ctx context.Context, plaintext []byte, signer KeyHandle, recipients []string) ([]byte, error)
}

// Decrypter decrypts received ciphertext with local secret keys.
type Decrypter interface {
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}

// SecretKeySource returns the armored OpenPGP secret key of a local
// account.
type SecretKeySource interface {
	GetSecretKey(addr string) ([]byte, error)
}

// Directory supplies peer public keys and the list of local accounts.
type Directory interface {
	GetPeerByAddr(ctx context.Context, addr string) (*model.Peer, error)
	GetAccounts(ctx context.Context) ([]model.Account, error)
}
