package model

import (
	"time"

	"github.com/nhle/acmail/internal/autocrypt"
)

// Peer is the key state kept for a remote correspondent.
type Peer struct {
	// Addr is the peer's address as first seen.
	Addr string `json:"addr" db:"addr"`

	// PublicKey is the key from the peer's own most recent Autocrypt
	// header. It is empty for peers only known through gossip.
	PublicKey []byte `json:"-" db:"public_key"`

	// PreferEncrypt comes from the same header as PublicKey.
	PreferEncrypt autocrypt.Preference `json:"prefer_encrypt" db:"prefer_encrypt"`

	// LastSeen is when a message from the peer was last processed.
	LastSeen time.Time `json:"last_seen" db:"last_seen"`

	// AutocryptTimestamp is the date of the message that supplied
	// PublicKey. It never moves backwards.
	AutocryptTimestamp time.Time `json:"autocrypt_timestamp" db:"autocrypt_timestamp"`

	// GossipKey is the most recent key learned from a co-recipient's
	// gossip header.
	GossipKey []byte `json:"-" db:"gossip_key"`

	// GossipTimestamp is nil until gossip about the peer is seen.
	GossipTimestamp *time.Time `json:"gossip_timestamp,omitempty" db:"gossip_timestamp"`
}

func (p Peer) String() string {
	return p.Addr
}

// HasKey reports whether the peer has announced a key itself.
func (p Peer) HasKey() bool {
	return len(p.PublicKey) > 0
}

// EncryptionKey returns the key to encrypt to: the peer's own key if it
// has one, otherwise the gossip key.
func (p Peer) EncryptionKey() []byte {
	if p.HasKey() {
		return p.PublicKey
	}
	return p.GossipKey
}
