package model

import (
	"time"

	"github.com/nhle/acmail/internal/autocrypt"
)

// Account is a local sending identity. Its secret key lives in the
// credential keyring, never in the database.
type Account struct {
	// Addr is the account's email address as entered by the user.
	Addr string `json:"addr" db:"addr"`

	// Enabled controls whether the account may send mail.
	Enabled bool `json:"enabled" db:"enabled"`

	// PreferEncrypt is announced in outgoing Autocrypt headers.
	PreferEncrypt autocrypt.Preference `json:"prefer_encrypt" db:"prefer_encrypt"`

	// PublicKey is the binary OpenPGP transferable public key.
	PublicKey []byte `json:"-" db:"public_key"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

func (a Account) String() string {
	return a.Addr
}
