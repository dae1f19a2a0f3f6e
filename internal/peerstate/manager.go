package peerstate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/nhle/acmail/internal/autocrypt"
	"github.com/nhle/acmail/internal/model"
	"github.com/nhle/acmail/internal/store"
)

// ErrAddrMismatch is returned when a header describes someone other than
// the message's sender.
var ErrAddrMismatch = errors.New("autocrypt addr does not match sender")

// PeerStore is the persistence the manager needs. GetPeerByAddr returns
// an error matching store.ErrNotFound for unknown peers.
type PeerStore interface {
	GetPeerByAddr(ctx context.Context, addr string) (*model.Peer, error)
	UpsertPeer(ctx context.Context, p model.Peer) error
}

// Outcome is the result of one observation.
type Outcome struct {
	Addr       string
	Transition Transition
	Peer       model.Peer
}

// Manager applies observations to stored peers.
type Manager struct {
	store  PeerStore
	locks  *keyedMutex
	now    func() time.Time
	logger log.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithClock replaces time.Now as the manager's notion of "now".
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager returns a Manager backed by s.
func NewManager(s PeerStore, logger log.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	m := &Manager{
		store:  s,
		locks:  newKeyedMutex(),
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Observe processes a message from sender dated msgDate. h is the
// sender's Autocrypt header, or nil if the message had none.
func (m *Manager) Observe(
	ctx context.Context, sender string, h *autocrypt.Header, msgDate time.Time,
) (Outcome, error) {
	if h != nil && !autocrypt.SameAddr(sender, h.Addr) {
		return Outcome{}, fmt.Errorf("%w: %s vs %s", ErrAddrMismatch, h.Addr, sender)
	}

	return m.update(ctx, sender, func(cur *model.Peer, now time.Time) (model.Peer, Transition) {
		if h == nil {
			return ApplyNoHeader(cur, now)
		}
		return ApplyHeader(cur, h, msgDate, now)
	})
}

// ObserveGossip processes a gossip header found in a decrypted message
// dated msgDate.
func (m *Manager) ObserveGossip(
	ctx context.Context, h *autocrypt.Header, msgDate time.Time,
) (Outcome, error) {
	return m.update(ctx, h.Addr, func(cur *model.Peer, now time.Time) (model.Peer, Transition) {
		return ApplyGossip(cur, h, msgDate, now)
	})
}

// Preference looks up addr and returns the preference to encrypt with.
func (m *Manager) Preference(ctx context.Context, addr string) (autocrypt.Preference, error) {
	p, err := m.store.GetPeerByAddr(ctx, addr)
	if errors.Is(err, store.ErrNotFound) {
		return autocrypt.NoPreference, nil
	}
	if err != nil {
		return autocrypt.NoPreference, err
	}
	return Preference(p), nil
}

func (m *Manager) update(
	ctx context.Context,
	addr string,
	apply func(cur *model.Peer, now time.Time) (model.Peer, Transition),
) (Outcome, error) {
	key := autocrypt.NormalizeAddr(addr)
	unlock := m.locks.lock(key)
	defer unlock()

	cur, err := m.store.GetPeerByAddr(ctx, addr)
	if errors.Is(err, store.ErrNotFound) {
		cur, err = nil, nil
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("loading peer %s: %w", addr, err)
	}

	next, tr := apply(cur, m.now())
	out := Outcome{Addr: addr, Transition: tr, Peer: next}

	if tr == Ignored || tr == GossipStale {
		level.Debug(m.logger).Log("msg", "peer unchanged", "addr", addr, "transition", tr)
		return out, nil
	}

	if err := m.store.UpsertPeer(ctx, next); err != nil {
		return Outcome{}, fmt.Errorf("saving peer %s: %w", addr, err)
	}

	level.Info(m.logger).Log("msg", "peer updated", "addr", addr, "transition", tr)
	return out, nil
}

// keyedMutex hands out one mutex per key and forgets it once nobody
// holds or waits for it.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

func (k *keyedMutex) lock(key string) (unlock func()) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refMutex{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
