// Package peerstate decides how received Autocrypt headers change stored
// peer keys.
//
// The transition functions are pure; Manager runs them under a
// per-address lock against a PeerStore so concurrent messages about the
// same peer cannot lose updates.
package peerstate

import (
	"time"

	"github.com/nhle/acmail/internal/autocrypt"
	"github.com/nhle/acmail/internal/model"
)

// Transition names the effect a header had on a peer.
type Transition int

const (
	// Ignored means nothing was stored.
	Ignored Transition = iota
	// Created means an unknown peer became known through its own header.
	Created
	// Replaced means the primary key and preference were replaced.
	Replaced
	// Stale means the header was older than the stored key; only
	// last-seen moved.
	Stale
	// Seen means a known peer sent a message without a usable header.
	Seen
	// GossipCreated means an unknown peer became known through gossip.
	GossipCreated
	// GossipUpdated means the gossip key was replaced.
	GossipUpdated
	// GossipStale means the gossip was older than the stored gossip key.
	GossipStale
)

var transitionNames = map[Transition]string{
	Ignored:       "ignored",
	Created:       "created",
	Replaced:      "replaced",
	Stale:         "stale",
	Seen:          "seen",
	GossipCreated: "gossip_created",
	GossipUpdated: "gossip_updated",
	GossipStale:   "gossip_stale",
}

func (t Transition) String() string {
	if s, ok := transitionNames[t]; ok {
		return s
	}
	return "unknown"
}

// Changed reports whether the transition altered any key material.
func (t Transition) Changed() bool {
	switch t {
	case Created, Replaced, GossipCreated, GossipUpdated:
		return true
	}
	return false
}

// effectiveDate clamps a message date to now. A missing or future date
// must not let a message claim to be newer than it can be.
func effectiveDate(msgDate, now time.Time) time.Time {
	if msgDate.IsZero() || msgDate.After(now) {
		return now
	}
	return msgDate
}

func laterOf(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

// ApplyHeader applies a peer's own Autocrypt header from a message dated
// msgDate, processed at now. cur is nil for an unknown peer.
func ApplyHeader(cur *model.Peer, h *autocrypt.Header, msgDate, now time.Time) (model.Peer, Transition) {
	eff := effectiveDate(msgDate, now)
	pref := h.PreferEncrypt
	if pref == "" {
		pref = autocrypt.NoPreference
	}

	if cur == nil {
		return model.Peer{
			Addr:               h.Addr,
			PublicKey:          h.KeyData,
			PreferEncrypt:      pref,
			LastSeen:           now,
			AutocryptTimestamp: eff,
		}, Created
	}

	next := *cur
	next.LastSeen = laterOf(cur.LastSeen, now)

	if eff.Before(cur.AutocryptTimestamp) {
		return next, Stale
	}

	next.PublicKey = h.KeyData
	next.PreferEncrypt = pref
	next.AutocryptTimestamp = eff
	return next, Replaced
}

// ApplyNoHeader records a message from a peer that carried no usable
// Autocrypt header. Known peers only get last-seen advanced; unknown
// peers are not created.
func ApplyNoHeader(cur *model.Peer, now time.Time) (model.Peer, Transition) {
	if cur == nil {
		return model.Peer{}, Ignored
	}
	next := *cur
	next.LastSeen = laterOf(cur.LastSeen, now)
	return next, Seen
}

// ApplyGossip applies an Autocrypt-Gossip header found inside a message
// dated msgDate. The primary key and preference are never touched.
func ApplyGossip(cur *model.Peer, h *autocrypt.Header, msgDate, now time.Time) (model.Peer, Transition) {
	eff := effectiveDate(msgDate, now)

	if cur == nil {
		return model.Peer{
			Addr:            h.Addr,
			PreferEncrypt:   autocrypt.NoPreference,
			GossipKey:       h.KeyData,
			GossipTimestamp: &eff,
		}, GossipCreated
	}

	if cur.GossipTimestamp != nil && !cur.GossipTimestamp.Before(eff) {
		return *cur, GossipStale
	}

	next := *cur
	next.GossipKey = h.KeyData
	next.GossipTimestamp = &eff
	return next, GossipUpdated
}

// Preference returns the encryption preference to use when writing to
// p. It always comes from the peer's own header, never from gossip.
func Preference(p *model.Peer) autocrypt.Preference {
	if p == nil || !p.HasKey() {
		return autocrypt.NoPreference
	}
	if p.PreferEncrypt == autocrypt.Mutual {
		return autocrypt.Mutual
	}
	return autocrypt.NoPreference
}
