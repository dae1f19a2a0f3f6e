package store

import (
	"context"
	"errors"

	"github.com/nhle/acmail/internal/model"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("not found")

// IsNotFound reports whether err means a missing row.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// EmailFilter controls filtering and pagination for email queries.
type EmailFilter struct {
	SenderAddr *string
	Status     *string // "pending", "sent", "failed", or nil (all)
	Limit      int
	Offset     int
}

// Store defines the persistence interface for accounts, peers, profiles
// and outgoing emails.
type Store interface {
	// === Accounts ===

	UpsertAccount(ctx context.Context, a model.Account) error
	GetAccountByAddr(ctx context.Context, addr string) (*model.Account, error)
	GetAccounts(ctx context.Context) ([]model.Account, error)

	// === Peers ===

	UpsertPeer(ctx context.Context, p model.Peer) error
	GetPeerByAddr(ctx context.Context, addr string) (*model.Peer, error)
	GetPeers(ctx context.Context) ([]model.Peer, error)

	// === Profiles ===

	CreateProfile(ctx context.Context, p model.Profile) (*model.Profile, error)
	GetProfiles(ctx context.Context, accountAddr string) ([]model.Profile, error)
	AddPeerToProfile(ctx context.Context, profileID, peerAddr string) error
	GetProfilePeers(ctx context.Context, profileID string) ([]model.Peer, error)

	// === Emails ===

	CreateEmail(ctx context.Context, e model.Email) (*model.Email, error)
	UpdateEmailStatus(ctx context.Context, id, status, deliveryErr string) error
	GetEmailByID(ctx context.Context, id string) (*model.Email, error)
	GetEmails(ctx context.Context, filter EmailFilter) ([]model.Email, error)

	Close() error
}
