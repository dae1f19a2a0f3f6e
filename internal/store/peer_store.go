package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nhle/acmail/internal/autocrypt"
	"github.com/nhle/acmail/internal/model"
)

const peerColumns = `addr, public_key, prefer_encrypt, last_seen,
	autocrypt_timestamp, gossip_key, gossip_timestamp`

// UpsertPeer inserts a peer or overwrites the stored state for the same
// address. The display address recorded first is kept.
//
// This is a plain write: callers that read-modify-write must serialize
// per address themselves.
func (s *SQLiteStore) UpsertPeer(ctx context.Context, p model.Peer) error {
	if err := autocrypt.ValidateAddr(p.Addr); err != nil {
		return fmt.Errorf("upserting peer: %w", err)
	}
	if p.PreferEncrypt == "" {
		p.PreferEncrypt = autocrypt.NoPreference
	}

	var gossipTS interface{}
	if p.GossipTimestamp != nil {
		gossipTS = p.GossipTimestamp.UTC()
	}

	// ON CONFLICT rather than INSERT OR REPLACE: a replace deletes the
	// row and would cascade into profile_peers.
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO peers (
			addr_lower, addr, public_key, prefer_encrypt, last_seen,
			autocrypt_timestamp, gossip_key, gossip_timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(addr_lower) DO UPDATE SET
			public_key = excluded.public_key,
			prefer_encrypt = excluded.prefer_encrypt,
			last_seen = excluded.last_seen,
			autocrypt_timestamp = excluded.autocrypt_timestamp,
			gossip_key = excluded.gossip_key,
			gossip_timestamp = excluded.gossip_timestamp`,
		lookupKey(p.Addr), p.Addr, p.PublicKey, string(p.PreferEncrypt),
		p.LastSeen.UTC(), p.AutocryptTimestamp.UTC(), p.GossipKey, gossipTS,
	)
	if err != nil {
		return fmt.Errorf("upserting peer %s: %w", p.Addr, err)
	}
	return nil
}

// GetPeerByAddr retrieves a peer by address, ignoring case. It returns an
// error matching ErrNotFound for unknown peers.
func (s *SQLiteStore) GetPeerByAddr(ctx context.Context, addr string) (*model.Peer, error) {
	row := s.db.QueryRowxContext(ctx,
		"SELECT "+peerColumns+" FROM peers WHERE addr_lower = ?", lookupKey(addr))

	p, err := scanPeer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("peer %s: %w", addr, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting peer %s: %w", addr, err)
	}
	return &p, nil
}

// GetPeers retrieves all peers, most recently seen first.
func (s *SQLiteStore) GetPeers(ctx context.Context) ([]model.Peer, error) {
	rows, err := s.db.QueryxContext(ctx,
		"SELECT "+peerColumns+" FROM peers ORDER BY last_seen DESC, addr_lower")
	if err != nil {
		return nil, fmt.Errorf("querying peers: %w", err)
	}
	defer rows.Close()

	return collectPeers(rows)
}

func collectPeers(rows interface {
	rowScanner
	Next() bool
	Err() error
}) ([]model.Peer, error) {
	var peers []model.Peer
	for rows.Next() {
		p, err := scanPeer(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning peer row: %w", err)
		}
		peers = append(peers, p)
	}
	return peers, rows.Err()
}

func scanPeer(row rowScanner) (model.Peer, error) {
	var (
		p    model.Peer
		pref string
	)
	err := row.Scan(
		&p.Addr, &p.PublicKey, &pref, &p.LastSeen,
		&p.AutocryptTimestamp, &p.GossipKey, &p.GossipTimestamp,
	)
	if err != nil {
		return model.Peer{}, err
	}
	p.PreferEncrypt = autocrypt.Preference(pref)
	return p, nil
}
