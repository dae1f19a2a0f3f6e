package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/acmail/internal/model"
)

// CreateProfile inserts a profile for an existing account. A UUID is
// generated when ID is empty and the default name used when Name is.
func (s *SQLiteStore) CreateProfile(ctx context.Context, p model.Profile) (*model.Profile, error) {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if strings.TrimSpace(p.Name) == "" {
		p.Name = model.DefaultProfileName
	}
	if _, err := s.GetAccountByAddr(ctx, p.AccountAddr); err != nil {
		return nil, fmt.Errorf("creating profile %s: %w", p.Name, err)
	}
	p.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (id, name, account_addr, created_at)
		VALUES (?, ?, ?, ?)`,
		p.ID, p.Name, lookupKey(p.AccountAddr), p.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("creating profile %s: %w", p.Name, err)
	}
	return &p, nil
}

// GetProfiles retrieves the profiles of an account ordered by name.
func (s *SQLiteStore) GetProfiles(ctx context.Context, accountAddr string) ([]model.Profile, error) {
	var profiles []model.Profile
	err := s.db.SelectContext(ctx, &profiles, `
		SELECT id, name, account_addr, created_at
		FROM profiles WHERE account_addr = ? ORDER BY name`,
		lookupKey(accountAddr),
	)
	if err != nil {
		return nil, fmt.Errorf("querying profiles for %s: %w", accountAddr, err)
	}
	return profiles, nil
}

// AddPeerToProfile links a known peer to a profile. Adding the same peer
// twice is a no-op.
func (s *SQLiteStore) AddPeerToProfile(ctx context.Context, profileID, peerAddr string) error {
	if _, err := s.GetPeerByAddr(ctx, peerAddr); err != nil {
		return fmt.Errorf("adding peer to profile %s: %w", profileID, err)
	}

	var count int
	if err := s.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM profiles WHERE id = ?", profileID); err != nil {
		return fmt.Errorf("checking profile %s: %w", profileID, err)
	}
	if count == 0 {
		return fmt.Errorf("profile %s: %w", profileID, ErrNotFound)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO profile_peers (profile_id, peer_addr) VALUES (?, ?)`,
		profileID, lookupKey(peerAddr),
	)
	if err != nil {
		return fmt.Errorf("adding peer %s to profile %s: %w", peerAddr, profileID, err)
	}
	return nil
}

// GetProfilePeers retrieves the peers linked to a profile.
func (s *SQLiteStore) GetProfilePeers(ctx context.Context, profileID string) ([]model.Peer, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT peers.addr, peers.public_key, peers.prefer_encrypt, peers.last_seen,
			peers.autocrypt_timestamp, peers.gossip_key, peers.gossip_timestamp
		FROM peers
		INNER JOIN profile_peers ON profile_peers.peer_addr = peers.addr_lower
		WHERE profile_peers.profile_id = ?
		ORDER BY peers.addr_lower`,
		profileID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying peers for profile %s: %w", profileID, err)
	}
	defer rows.Close()

	return collectPeers(rows)
}
