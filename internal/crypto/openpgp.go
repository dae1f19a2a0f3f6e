package crypto

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"golang.org/x/crypto/openpgp"
	"golang.org/x/crypto/openpgp/armor"
	pgperrors "golang.org/x/crypto/openpgp/errors"
	"golang.org/x/crypto/openpgp/packet"

	"github.com/nhle/acmail/internal/autocrypt"
)

const messageType = "PGP MESSAGE"

// OpenPGP is a Backend and Decrypter built on golang.org/x/crypto/openpgp.
// Outgoing messages are signed by the sender and encrypted to every
// recipient plus the sender.
type OpenPGP struct {
	secrets SecretKeySource
	dir     Directory
	config  *packet.Config
	logger  log.Logger

	mu       sync.Mutex
	entities map[string]*openpgp.Entity
}

var (
	_ Backend   = (*OpenPGP)(nil)
	_ Decrypter = (*OpenPGP)(nil)
)

// NewOpenPGP returns an OpenPGP backend. config may be nil for defaults.
func NewOpenPGP(secrets SecretKeySource, dir Directory, config *packet.Config, logger log.Logger) *OpenPGP {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &OpenPGP{
		secrets:  secrets,
		dir:      dir,
		config:   config,
		logger:   logger,
		entities: make(map[string]*openpgp.Entity),
	}
}

// ResolveKeyHandle loads the secret key of addr.
func (o *OpenPGP) ResolveKeyHandle(ctx context.Context, addr string) (KeyHandle, error) {
	if err := ctx.Err(); err != nil {
		return KeyHandle{}, err
	}
	e, err := o.secretEntity(addr)
	if err != nil {
		return KeyHandle{}, err
	}
	return KeyHandle{Addr: addr, Fingerprint: fingerprint(e)}, nil
}

// SignAndEncrypt returns the armored OpenPGP message for plaintext.
func (o *OpenPGP) SignAndEncrypt(
	ctx context.Context, plaintext []byte, signer KeyHandle, recipients []string,
) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	signEntity, err := o.secretEntity(signer.Addr)
	if err != nil {
		return nil, err
	}
	if fp := fingerprint(signEntity); fp != signer.Fingerprint {
		return nil, &BackendError{Op: "sign", Err: fmt.Errorf("key for %s changed to %s", signer.Addr, fp)}
	}

	to := make([]*openpgp.Entity, 0, len(recipients)+1)
	for _, addr := range recipients {
		e, err := o.peerEntity(ctx, addr)
		if err != nil {
			return nil, err
		}
		to = append(to, e)
	}
	to = append(to, signEntity)

	var buf bytes.Buffer
	armored, err := armor.Encode(&buf, messageType, nil)
	if err != nil {
		return nil, &BackendError{Op: "encrypt", Err: err}
	}
	w, err := openpgp.Encrypt(armored, to, signEntity, nil, o.config)
	if err != nil {
		return nil, &BackendError{Op: "encrypt", Err: err}
	}
	if _, err := w.Write(plaintext); err != nil {
		return nil, &BackendError{Op: "encrypt", Err: err}
	}
	if err := w.Close(); err != nil {
		return nil, &BackendError{Op: "encrypt", Err: err}
	}
	if err := armored.Close(); err != nil {
		return nil, &BackendError{Op: "encrypt", Err: err}
	}

	level.Debug(o.logger).Log("msg", "encrypted message", "signer", signer.Addr, "recipients", len(recipients))
	buf.WriteString("\n")
	return buf.Bytes(), nil
}

// Decrypt opens an armored or binary OpenPGP message with the secret keys
// of every local account.
func (o *OpenPGP) Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error) {
	accounts, err := o.dir.GetAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}

	var ring openpgp.EntityList
	for _, a := range accounts {
		e, err := o.secretEntity(a.Addr)
		if IsKeyNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		ring = append(ring, e)
	}
	if len(ring) == 0 {
		return nil, fmt.Errorf("%w: no local secret keys", ErrKeyNotFound)
	}

	var r io.Reader = bytes.NewReader(ciphertext)
	if block, err := armor.Decode(bytes.NewReader(ciphertext)); err == nil {
		r = block.Body
	}

	md, err := openpgp.ReadMessage(r, ring, nil, o.config)
	if errors.Is(err, pgperrors.ErrKeyIncorrect) {
		return nil, fmt.Errorf("%w: message not encrypted to a local key", ErrKeyNotFound)
	}
	if err != nil {
		return nil, &BackendError{Op: "decrypt", Err: err}
	}

	plaintext, err := io.ReadAll(md.UnverifiedBody)
	if err != nil {
		return nil, &BackendError{Op: "decrypt", Err: err}
	}
	if md.IsSigned && md.SignatureError != nil {
		level.Warn(o.logger).Log("msg", "signature did not verify", "err", md.SignatureError)
	}
	return plaintext, nil
}

// Forget drops cached secret keys, e.g. after a key was re-imported.
func (o *OpenPGP) Forget(addr string) {
	o.mu.Lock()
	delete(o.entities, autocrypt.NormalizeAddr(addr))
	o.mu.Unlock()
}

func (o *OpenPGP) secretEntity(addr string) (*openpgp.Entity, error) {
	key := autocrypt.NormalizeAddr(addr)

	o.mu.Lock()
	defer o.mu.Unlock()
	if e, ok := o.entities[key]; ok {
		return e, nil
	}

	armored, err := o.secrets.GetSecretKey(addr)
	if err != nil {
		return nil, fmt.Errorf("%w: secret key for %s: %w", ErrKeyNotFound, addr, err)
	}
	e, err := ReadSecretKey(armored)
	if err != nil {
		return nil, err
	}
	o.entities[key] = e
	return e, nil
}

func (o *OpenPGP) peerEntity(ctx context.Context, addr string) (*openpgp.Entity, error) {
	p, err := o.dir.GetPeerByAddr(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("%w: public key for %s: %w", ErrKeyNotFound, addr, err)
	}
	keydata := p.EncryptionKey()
	if len(keydata) == 0 {
		return nil, fmt.Errorf("%w: no public key for %s", ErrKeyNotFound, addr)
	}
	ring, err := openpgp.ReadKeyRing(bytes.NewReader(keydata))
	if err != nil || len(ring) == 0 {
		return nil, &BackendError{Op: "read public key", Err: fmt.Errorf("%s: %v", addr, err)}
	}
	return ring[0], nil
}

// ReadSecretKey parses an armored OpenPGP secret key. Passphrase-protected
// keys are rejected.
func ReadSecretKey(armored []byte) (*openpgp.Entity, error) {
	ring, err := openpgp.ReadArmoredKeyRing(bytes.NewReader(armored))
	if err != nil {
		return nil, &BackendError{Op: "read secret key", Err: err}
	}
	if len(ring) == 0 || ring[0].PrivateKey == nil {
		return nil, &BackendError{Op: "read secret key", Err: errors.New("no secret key in input")}
	}
	e := ring[0]
	if e.PrivateKey.Encrypted {
		return nil, &BackendError{Op: "read secret key", Err: errors.New("secret key is passphrase protected")}
	}
	return e, nil
}

// GenerateSecretKey creates an unprotected key pair for addr and returns
// the armored secret key. A nil config uses the library defaults.
func GenerateSecretKey(name, addr string, config *packet.Config) ([]byte, error) {
	if err := autocrypt.ValidateAddr(addr); err != nil {
		return nil, err
	}
	e, err := openpgp.NewEntity(name, "", addr, config)
	if err != nil {
		return nil, &BackendError{Op: "generate key", Err: err}
	}

	var buf bytes.Buffer
	w, err := armor.Encode(&buf, openpgp.PrivateKeyType, nil)
	if err != nil {
		return nil, &BackendError{Op: "generate key", Err: err}
	}
	if err := e.SerializePrivate(w, config); err != nil {
		return nil, &BackendError{Op: "generate key", Err: err}
	}
	if err := w.Close(); err != nil {
		return nil, &BackendError{Op: "generate key", Err: err}
	}
	return buf.Bytes(), nil
}

// PublicKey returns the binary transferable public key of an armored
// secret key, the form Autocrypt headers carry.
func PublicKey(armoredSecret []byte) ([]byte, error) {
	e, err := ReadSecretKey(armoredSecret)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := e.Serialize(&buf); err != nil {
		return nil, &BackendError{Op: "export public key", Err: err}
	}
	return buf.Bytes(), nil
}

// Identities returns the email addresses bound to an entity's user IDs.
func Identities(e *openpgp.Entity) []string {
	var addrs []string
	for _, id := range e.Identities {
		if id.UserId != nil && id.UserId.Email != "" {
			addrs = append(addrs, id.UserId.Email)
		}
	}
	return addrs
}

func fingerprint(e *openpgp.Entity) string {
	return fmt.Sprintf("%X", e.PrimaryKey.Fingerprint[:])
}
