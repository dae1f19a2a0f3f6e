package peerstate_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/acmail/internal/autocrypt"
	"github.com/nhle/acmail/internal/model"
	"github.com/nhle/acmail/internal/peerstate"
	"github.com/nhle/acmail/internal/store"
	"github.com/nhle/acmail/tests/testutil"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func decode(t *testing.T, addr, key string, pref autocrypt.Preference) *autocrypt.Header {
	t.Helper()
	v, err := autocrypt.Encode(addr, []byte(key), pref)
	require.NoError(t, err)
	h, err := autocrypt.Decode(v)
	require.NoError(t, err)
	return h
}

func TestManager_PreferenceFollowsLatestHeader(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	m := peerstate.NewManager(s, nil, peerstate.WithClock(fixedClock(now)))

	t1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	out, err := m.Observe(ctx, "bob@example.org", decode(t, "bob@example.org", "K1", autocrypt.Mutual), t1)
	require.NoError(t, err)
	assert.Equal(t, peerstate.Created, out.Transition)

	pref, err := m.Preference(ctx, "bob@example.org")
	require.NoError(t, err)
	assert.Equal(t, autocrypt.Mutual, pref)

	out, err = m.Observe(ctx, "Bob@Example.org", decode(t, "bob@example.org", "K2", autocrypt.NoPreference), t2)
	require.NoError(t, err)
	assert.Equal(t, peerstate.Replaced, out.Transition)

	p, err := s.GetPeerByAddr(ctx, "bob@example.org")
	require.NoError(t, err)
	assert.Equal(t, []byte("K2"), p.PublicKey)

	pref, err = m.Preference(ctx, "bob@example.org")
	require.NoError(t, err)
	assert.Equal(t, autocrypt.NoPreference, pref)
}

func TestManager_StaleHeader(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	m := peerstate.NewManager(s, nil, peerstate.WithClock(fixedClock(now)))

	t1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	_, err := m.Observe(ctx, "bob@example.org", decode(t, "bob@example.org", "K2", autocrypt.NoPreference), t2)
	require.NoError(t, err)

	out, err := m.Observe(ctx, "bob@example.org", decode(t, "bob@example.org", "K1", autocrypt.Mutual), t1)
	require.NoError(t, err)
	assert.Equal(t, peerstate.Stale, out.Transition)

	p, err := s.GetPeerByAddr(ctx, "bob@example.org")
	require.NoError(t, err)
	assert.Equal(t, []byte("K2"), p.PublicKey)
	assert.Equal(t, autocrypt.NoPreference, p.PreferEncrypt)
}

func TestManager_NoHeader(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)
	clock := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	m := peerstate.NewManager(s, nil, peerstate.WithClock(func() time.Time { return clock }))

	out, err := m.Observe(ctx, "stranger@example.org", nil, clock)
	require.NoError(t, err)
	assert.Equal(t, peerstate.Ignored, out.Transition)
	_, err = s.GetPeerByAddr(ctx, "stranger@example.org")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = m.Observe(ctx, "bob@example.org", decode(t, "bob@example.org", "K1", autocrypt.Mutual), clock)
	require.NoError(t, err)

	clock = clock.Add(time.Hour)
	out, err = m.Observe(ctx, "bob@example.org", nil, clock)
	require.NoError(t, err)
	assert.Equal(t, peerstate.Seen, out.Transition)

	p, err := s.GetPeerByAddr(ctx, "bob@example.org")
	require.NoError(t, err)
	assert.True(t, p.LastSeen.Equal(clock))
	assert.Equal(t, []byte("K1"), p.PublicKey)
}

func TestManager_AddrMismatch(t *testing.T) {
	s := testutil.NewTestStore(t)
	m := peerstate.NewManager(s, nil)

	_, err := m.Observe(context.Background(), "mallory@example.org",
		decode(t, "bob@example.org", "K1", autocrypt.Mutual), time.Now())
	assert.ErrorIs(t, err, peerstate.ErrAddrMismatch)
}

func TestManager_Gossip(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	m := peerstate.NewManager(s, nil, peerstate.WithClock(fixedClock(now)))

	g, err := autocrypt.DecodeGossip("addr=carol@example.org; keydata=Rw==")
	require.NoError(t, err)

	out, err := m.ObserveGossip(ctx, g, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, peerstate.GossipCreated, out.Transition)

	out, err = m.ObserveGossip(ctx, g, now.Add(-2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, peerstate.GossipStale, out.Transition)

	pref, err := m.Preference(ctx, "carol@example.org")
	require.NoError(t, err)
	assert.Equal(t, autocrypt.NoPreference, pref)

	p, err := s.GetPeerByAddr(ctx, "carol@example.org")
	require.NoError(t, err)
	assert.Equal(t, []byte("G"), p.GossipKey)
	assert.False(t, p.HasKey())
}

func TestManager_PreferenceUnknownPeer(t *testing.T) {
	m := peerstate.NewManager(testutil.NewTestStore(t), nil)

	pref, err := m.Preference(context.Background(), "nobody@example.org")
	require.NoError(t, err)
	assert.Equal(t, autocrypt.NoPreference, pref)
}

func TestManager_ConcurrentObserve(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	m := peerstate.NewManager(s, nil, peerstate.WithClock(fixedClock(now)))

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	const n = 25

	headers := make([]*autocrypt.Header, n)
	for i := range headers {
		headers[i] = decode(t, "bob@example.org", fmt.Sprintf("K%02d", i), autocrypt.Mutual)
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h := headers[i]
			_, err := m.Observe(ctx, "bob@example.org", h, base.Add(time.Duration(i)*time.Hour))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	p, err := s.GetPeerByAddr(ctx, "bob@example.org")
	require.NoError(t, err)
	assert.Equal(t, []byte(fmt.Sprintf("K%02d", n-1)), p.PublicKey)
	assert.True(t, p.AutocryptTimestamp.Equal(base.Add((n-1)*time.Hour)))
}

type failingStore struct{}

var errBoom = errors.New("boom")

func (failingStore) GetPeerByAddr(context.Context, string) (*model.Peer, error) {
	return nil, errBoom
}

func (failingStore) UpsertPeer(context.Context, model.Peer) error {
	return errBoom
}

func TestManager_StoreError(t *testing.T) {
	m := peerstate.NewManager(failingStore{}, nil)

	_, err := m.Observe(context.Background(), "bob@example.org", nil, time.Now())
	assert.ErrorIs(t, err, errBoom)

	_, err = m.Preference(context.Background(), "bob@example.org")
	assert.ErrorIs(t, err, errBoom)
}
