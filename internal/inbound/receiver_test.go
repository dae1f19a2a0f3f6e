package inbound_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/acmail/internal/autocrypt"
	"github.com/nhle/acmail/internal/crypto"
	"github.com/nhle/acmail/internal/inbound"
	"github.com/nhle/acmail/internal/model"
	"github.com/nhle/acmail/internal/peerstate"
	"github.com/nhle/acmail/internal/pgpmime"
	"github.com/nhle/acmail/internal/store"
	"github.com/nhle/acmail/tests/testutil"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeDecrypter struct {
	plaintext []byte
	err       error
}

func (d fakeDecrypter) Decrypt(context.Context, []byte) ([]byte, error) {
	return d.plaintext, d.err
}

func newReceiver(t *testing.T, dec crypto.Decrypter) (*inbound.Receiver, *store.SQLiteStore) {
	t.Helper()
	s := testutil.NewTestStore(t)
	m := peerstate.NewManager(s, nil, peerstate.WithClock(func() time.Time { return now }))
	return inbound.NewReceiver(m, dec, nil), s
}

func plainMessage(from, date string, autocryptValues ...string) string {
	lines := []string{
		"From: " + from,
		"To: bob@example.org",
		"Date: " + date,
		"Message-ID: <m1@example.org>",
		"Subject: hello",
	}
	for _, v := range autocryptValues {
		lines = append(lines, "Autocrypt: "+v)
	}
	lines = append(lines, "Content-Type: text/plain", "", "hi", "")
	return strings.Join(lines, "\r\n")
}

func encryptedMessage(t *testing.T, sender string, recipients []string, key []byte) []byte {
	t.Helper()

	extra, err := autocrypt.HeaderDict(sender, key, autocrypt.Mutual)
	require.NoError(t, err)
	extra.Set("Date", "Sat, 01 Jun 2024 10:00:00 +0000")

	b := pgpmime.NewBuilder(pgpmime.Config{Hostname: "example.org"})
	msg, err := b.Build(pgpmime.Envelope{
		Subject:    "secret",
		Sender:     sender,
		Recipients: recipients,
		Extra:      extra,
	}, []byte("-----BEGIN PGP MESSAGE-----\n...\n-----END PGP MESSAGE-----\n"))
	require.NoError(t, err)

	raw, err := msg.Bytes()
	require.NoError(t, err)
	return raw
}

func TestProcess_CreatesSender(t *testing.T) {
	ctx := context.Background()
	r, s := newReceiver(t, nil)

	raw := plainMessage("Alice <alice@example.org>", "Fri, 01 Mar 2024 12:30:00 +0000",
		"addr=alice@example.org; prefer-encrypt=mutual; keydata=SzE=")

	res, err := r.Process(ctx, strings.NewReader(raw))
	require.NoError(t, err)
	assert.True(t, res.UsedHeader())
	assert.Equal(t, peerstate.Created, res.Sender.Transition)
	assert.Equal(t, "alice@example.org", res.From)
	assert.False(t, res.Encrypted)

	p, err := s.GetPeerByAddr(ctx, "alice@example.org")
	require.NoError(t, err)
	assert.Equal(t, []byte("K1"), p.PublicKey)
	assert.Equal(t, autocrypt.Mutual, p.PreferEncrypt)
	assert.True(t, p.AutocryptTimestamp.Equal(time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)))
}

func TestProcess_LaterHeaderWithoutPreference(t *testing.T) {
	ctx := context.Background()
	r, s := newReceiver(t, nil)

	first := plainMessage("alice@example.org", "Mon, 01 Jan 2024 00:00:00 +0000",
		"addr=alice@example.org; prefer-encrypt=mutual; keydata=SzE=")
	second := plainMessage("alice@example.org", "Thu, 01 Feb 2024 00:00:00 +0000",
		"addr=alice@example.org; keydata=SzI=")

	_, err := r.Process(ctx, strings.NewReader(first))
	require.NoError(t, err)
	res, err := r.Process(ctx, strings.NewReader(second))
	require.NoError(t, err)
	assert.Equal(t, peerstate.Replaced, res.Sender.Transition)

	p, err := s.GetPeerByAddr(ctx, "alice@example.org")
	require.NoError(t, err)
	assert.Equal(t, []byte("K2"), p.PublicKey)
	assert.Equal(t, autocrypt.NoPreference, p.PreferEncrypt)
}

func TestProcess_NoUsableHeader(t *testing.T) {
	ctx := context.Background()
	r, s := newReceiver(t, nil)

	tests := []struct {
		name   string
		values []string
	}{
		{name: "none"},
		{name: "other addr", values: []string{"addr=mallory@example.org; keydata=SzE="}},
		{name: "malformed", values: []string{"addr=alice@example.org"}},
		{name: "two headers", values: []string{
			"addr=alice@example.org; keydata=SzE=",
			"addr=alice@example.org; keydata=SzI=",
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := plainMessage("alice@example.org", "Fri, 01 Mar 2024 12:30:00 +0000", tt.values...)
			res, err := r.Process(ctx, strings.NewReader(raw))
			require.NoError(t, err)
			assert.False(t, res.UsedHeader())
			assert.ErrorIs(t, res.HeaderError, autocrypt.ErrNoUsableHeader)
			assert.Equal(t, peerstate.Ignored, res.Sender.Transition)
		})
	}

	_, err := s.GetPeerByAddr(ctx, "alice@example.org")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetPeerByAddr(ctx, "mallory@example.org")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestProcess_NoFrom(t *testing.T) {
	r, _ := newReceiver(t, nil)

	_, err := r.Process(context.Background(), strings.NewReader("Subject: x\r\n\r\nbody\r\n"))
	assert.ErrorIs(t, err, autocrypt.ErrInvalidAddress)
}

func TestProcess_Gossip(t *testing.T) {
	ctx := context.Background()

	inner, err := pgpmime.BuildPlaintext("hello all\r\n", []autocrypt.Header{
		{Addr: "bob@example.org", KeyData: []byte("GB")},
		{Addr: "carol@example.org", KeyData: []byte("GC")},
		{Addr: "alice@example.org", KeyData: []byte("GA")},
		{Addr: "stranger@example.org", KeyData: []byte("GS")},
	})
	require.NoError(t, err)

	r, s := newReceiver(t, fakeDecrypter{plaintext: inner})
	raw := encryptedMessage(t, "alice@example.org",
		[]string{"bob@example.org", "carol@example.org"}, []byte("K1"))

	res, err := r.Process(ctx, bytes.NewReader(raw))
	require.NoError(t, err)
	assert.True(t, res.Encrypted)
	assert.True(t, res.Decrypted)
	assert.Equal(t, "hello all\r\n", res.Text)
	assert.Equal(t, peerstate.Created, res.Sender.Transition)

	require.Len(t, res.Gossip, 2)
	assert.Equal(t, peerstate.GossipCreated, res.Gossip[0].Transition)
	assert.Equal(t, "bob@example.org", res.Gossip[0].Addr)
	assert.Equal(t, "carol@example.org", res.Gossip[1].Addr)

	alice, err := s.GetPeerByAddr(ctx, "alice@example.org")
	require.NoError(t, err)
	assert.Equal(t, []byte("K1"), alice.PublicKey)
	assert.Empty(t, alice.GossipKey)

	carol, err := s.GetPeerByAddr(ctx, "carol@example.org")
	require.NoError(t, err)
	assert.Equal(t, []byte("GC"), carol.GossipKey)
	assert.False(t, carol.HasKey())

	_, err = s.GetPeerByAddr(ctx, "stranger@example.org")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestProcess_DecryptFailure(t *testing.T) {
	ctx := context.Background()
	r, s := newReceiver(t, fakeDecrypter{err: crypto.ErrKeyNotFound})

	raw := encryptedMessage(t, "alice@example.org", []string{"bob@example.org"}, []byte("K1"))
	res, err := r.Process(ctx, bytes.NewReader(raw))
	require.NoError(t, err)
	assert.True(t, res.Encrypted)
	assert.False(t, res.Decrypted)
	assert.ErrorIs(t, res.DecryptError, crypto.ErrKeyNotFound)

	_, err = s.GetPeerByAddr(ctx, "alice@example.org")
	assert.NoError(t, err)
}

func TestProcess_WithoutDecrypter(t *testing.T) {
	r, _ := newReceiver(t, nil)

	raw := encryptedMessage(t, "alice@example.org", []string{"bob@example.org"}, []byte("K1"))
	res, err := r.Process(context.Background(), bytes.NewReader(raw))
	require.NoError(t, err)
	assert.True(t, res.Encrypted)
	assert.False(t, res.Decrypted)
	assert.NoError(t, res.DecryptError)
	assert.Empty(t, res.Gossip)
}

type brokenStore struct{}

func (brokenStore) GetPeerByAddr(context.Context, string) (*model.Peer, error) {
	return nil, errors.New("disk full")
}

func (brokenStore) UpsertPeer(context.Context, model.Peer) error {
	return errors.New("disk full")
}

func TestProcess_StoreFailure(t *testing.T) {
	m := peerstate.NewManager(brokenStore{}, nil)
	r := inbound.NewReceiver(m, nil, nil)

	raw := plainMessage("alice@example.org", "Fri, 01 Mar 2024 12:30:00 +0000")
	_, err := r.Process(context.Background(), strings.NewReader(raw))
	assert.Error(t, err)
}
