package peerstate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/acmail/internal/autocrypt"
	"github.com/nhle/acmail/internal/model"
)

var (
	t1  = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	t2  = time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC)
	now = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
)

func hdr(addr, key string, pref autocrypt.Preference) *autocrypt.Header {
	return &autocrypt.Header{Addr: addr, KeyData: []byte(key), PreferEncrypt: pref}
}

func TestApplyHeader_Unknown(t *testing.T) {
	p, tr := ApplyHeader(nil, hdr("a@example.org", "K1", autocrypt.Mutual), t1, now)

	assert.Equal(t, Created, tr)
	assert.Equal(t, "a@example.org", p.Addr)
	assert.Equal(t, []byte("K1"), p.PublicKey)
	assert.Equal(t, autocrypt.Mutual, p.PreferEncrypt)
	assert.Equal(t, t1, p.AutocryptTimestamp)
	assert.Equal(t, now, p.LastSeen)
}

func TestApplyHeader_NewerReplaces(t *testing.T) {
	cur, _ := ApplyHeader(nil, hdr("a@example.org", "K1", autocrypt.Mutual), t1, now)

	p, tr := ApplyHeader(&cur, hdr("a@example.org", "K2", autocrypt.NoPreference), t2, now.Add(time.Hour))
	assert.Equal(t, Replaced, tr)
	assert.Equal(t, []byte("K2"), p.PublicKey)
	assert.Equal(t, autocrypt.NoPreference, p.PreferEncrypt)
	assert.Equal(t, t2, p.AutocryptTimestamp)
	assert.Equal(t, now.Add(time.Hour), p.LastSeen)
}

func TestApplyHeader_EqualTimestampReplaces(t *testing.T) {
	cur, _ := ApplyHeader(nil, hdr("a@example.org", "K1", autocrypt.Mutual), t1, now)
	p, tr := ApplyHeader(&cur, hdr("a@example.org", "K1b", autocrypt.Mutual), t1, now)
	assert.Equal(t, Replaced, tr)
	assert.Equal(t, []byte("K1b"), p.PublicKey)
}

func TestApplyHeader_StaleKeepsKey(t *testing.T) {
	cur, _ := ApplyHeader(nil, hdr("a@example.org", "K2", autocrypt.Mutual), t2, now)

	later := now.Add(time.Hour)
	p, tr := ApplyHeader(&cur, hdr("a@example.org", "K1", autocrypt.NoPreference), t1, later)
	assert.Equal(t, Stale, tr)
	assert.Equal(t, []byte("K2"), p.PublicKey)
	assert.Equal(t, autocrypt.Mutual, p.PreferEncrypt)
	assert.Equal(t, t2, p.AutocryptTimestamp)
	assert.Equal(t, later, p.LastSeen)
}

func TestApplyHeader_OrderIndependence(t *testing.T) {
	h1 := hdr("a@example.org", "K1", autocrypt.Mutual)
	h2 := hdr("a@example.org", "K2", autocrypt.NoPreference)
	seen1 := now
	seen2 := now.Add(time.Minute)

	// T1 then T2.
	a, _ := ApplyHeader(nil, h1, t1, seen1)
	a, _ = ApplyHeader(&a, h2, t2, seen2)

	// T2 then T1.
	b, _ := ApplyHeader(nil, h2, t2, seen1)
	b, _ = ApplyHeader(&b, h1, t1, seen2)

	assert.Equal(t, []byte("K2"), a.PublicKey)
	assert.Equal(t, a.PublicKey, b.PublicKey)
	assert.Equal(t, a.PreferEncrypt, b.PreferEncrypt)
	assert.Equal(t, a.AutocryptTimestamp, b.AutocryptTimestamp)
	assert.Equal(t, seen2, a.LastSeen)
	assert.Equal(t, seen2, b.LastSeen)
}

func TestApplyHeader_OmittedPreferenceNotInherited(t *testing.T) {
	k1, err := autocrypt.Encode("a@example.org", []byte("K1"), autocrypt.Mutual)
	require.NoError(t, err)
	h1, err := autocrypt.Decode(k1)
	require.NoError(t, err)

	h2, err := autocrypt.Decode("addr=a@example.org; keydata=SzI=")
	require.NoError(t, err)

	p, _ := ApplyHeader(nil, h1, t1, now)
	p, tr := ApplyHeader(&p, h2, t2, now)

	assert.Equal(t, Replaced, tr)
	assert.Equal(t, []byte("K2"), p.PublicKey)
	assert.Equal(t, autocrypt.NoPreference, p.PreferEncrypt)
}

func TestApplyHeader_FutureDateClamped(t *testing.T) {
	future := now.Add(24 * time.Hour)
	p, _ := ApplyHeader(nil, hdr("a@example.org", "K1", autocrypt.Mutual), future, now)
	assert.Equal(t, now, p.AutocryptTimestamp)

	p, _ = ApplyHeader(nil, hdr("a@example.org", "K1", autocrypt.Mutual), time.Time{}, now)
	assert.Equal(t, now, p.AutocryptTimestamp)
}

func TestApplyHeader_LastSeenNeverRegresses(t *testing.T) {
	cur, _ := ApplyHeader(nil, hdr("a@example.org", "K1", autocrypt.Mutual), t1, now)
	p, _ := ApplyHeader(&cur, hdr("a@example.org", "K2", autocrypt.Mutual), t2, now.Add(-time.Hour))
	assert.Equal(t, now, p.LastSeen)
}

func TestApplyNoHeader(t *testing.T) {
	_, tr := ApplyNoHeader(nil, now)
	assert.Equal(t, Ignored, tr)

	cur, _ := ApplyHeader(nil, hdr("a@example.org", "K1", autocrypt.Mutual), t1, now)
	later := now.Add(time.Hour)
	p, tr := ApplyNoHeader(&cur, later)
	assert.Equal(t, Seen, tr)
	assert.Equal(t, []byte("K1"), p.PublicKey)
	assert.Equal(t, autocrypt.Mutual, p.PreferEncrypt)
	assert.Equal(t, later, p.LastSeen)
}

func TestApplyGossip(t *testing.T) {
	g1 := hdr("c@example.org", "G1", autocrypt.Mutual)
	g1.Type = autocrypt.Gossip

	p, tr := ApplyGossip(nil, g1, t1, now)
	assert.Equal(t, GossipCreated, tr)
	assert.Empty(t, p.PublicKey)
	assert.Equal(t, []byte("G1"), p.GossipKey)
	require.NotNil(t, p.GossipTimestamp)
	assert.Equal(t, t1, *p.GossipTimestamp)
	assert.Equal(t, autocrypt.NoPreference, p.PreferEncrypt)

	g2 := hdr("c@example.org", "G2", autocrypt.NoPreference)
	p, tr = ApplyGossip(&p, g2, t2, now)
	assert.Equal(t, GossipUpdated, tr)
	assert.Equal(t, []byte("G2"), p.GossipKey)

	p, tr = ApplyGossip(&p, g1, t1, now)
	assert.Equal(t, GossipStale, tr)
	assert.Equal(t, []byte("G2"), p.GossipKey)
}

func TestApplyGossip_KeepsPrimary(t *testing.T) {
	cur, _ := ApplyHeader(nil, hdr("c@example.org", "K1", autocrypt.Mutual), t2, now)

	p, tr := ApplyGossip(&cur, hdr("c@example.org", "G1", autocrypt.NoPreference), t1, now)
	assert.Equal(t, GossipUpdated, tr)
	assert.Equal(t, []byte("K1"), p.PublicKey)
	assert.Equal(t, autocrypt.Mutual, p.PreferEncrypt)
	assert.Equal(t, t2, p.AutocryptTimestamp)
	assert.Equal(t, cur.LastSeen, p.LastSeen)
	assert.Equal(t, []byte("G1"), p.GossipKey)
}

func TestPreference(t *testing.T) {
	assert.Equal(t, autocrypt.NoPreference, Preference(nil))

	gossipOnly := model.Peer{Addr: "c@example.org", GossipKey: []byte("G"), PreferEncrypt: autocrypt.Mutual}
	assert.Equal(t, autocrypt.NoPreference, Preference(&gossipOnly))

	p, _ := ApplyHeader(nil, hdr("a@example.org", "K1", autocrypt.Mutual), t1, now)
	assert.Equal(t, autocrypt.Mutual, Preference(&p))
}

func TestTransition_String(t *testing.T) {
	assert.Equal(t, "created", Created.String())
	assert.Equal(t, "gossip_stale", GossipStale.String())
	assert.Equal(t, "unknown", Transition(99).String())
	assert.True(t, Replaced.Changed())
	assert.False(t, Stale.Changed())
}
