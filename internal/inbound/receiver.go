// Package inbound feeds received messages through the Autocrypt peer
// state machine.
package inbound

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/nhle/acmail/internal/autocrypt"
	"github.com/nhle/acmail/internal/crypto"
	"github.com/nhle/acmail/internal/peerstate"
	"github.com/nhle/acmail/internal/pgpmime"
)

// Result describes what processing a message changed.
type Result struct {
	From      string
	MessageID string
	Subject   string
	Date      time.Time

	// Sender is the outcome for the From address.
	Sender peerstate.Outcome

	// HeaderError says why the sender's Autocrypt header was not used,
	// or is nil when it was.
	HeaderError error

	Encrypted bool
	Decrypted bool
	// DecryptError is set when an encrypted message could not be opened.
	DecryptError error

	// Text is the decrypted text body. It is never stored.
	Text string

	Gossip []peerstate.Outcome
}

// Receiver processes raw received messages.
type Receiver struct {
	peers     *peerstate.Manager
	decrypter crypto.Decrypter
	logger    log.Logger
}

// NewReceiver returns a Receiver. decrypter may be nil, in which case
// encrypted messages only update the sender and gossip is not read.
func NewReceiver(peers *peerstate.Manager, decrypter crypto.Decrypter, logger log.Logger) *Receiver {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Receiver{peers: peers, decrypter: decrypter, logger: logger}
}

// Process parses raw, applies the sender's Autocrypt header and, for
// encrypted messages that can be decrypted, the gossip headers inside.
func (r *Receiver) Process(ctx context.Context, raw io.Reader) (*Result, error) {
	rcv, err := pgpmime.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing message: %w", err)
	}

	res := &Result{
		From:      rcv.From,
		MessageID: rcv.MessageID,
		Subject:   rcv.Subject,
		Date:      rcv.Date,
		Encrypted: rcv.Encrypted,
	}

	h, err := autocrypt.SelectHeader(rcv.From, rcv.Autocrypt)
	if err != nil {
		res.HeaderError = err
		h = nil
	}

	res.Sender, err = r.peers.Observe(ctx, rcv.From, h, rcv.Date)
	if err != nil {
		return nil, fmt.Errorf("updating sender %s: %w", rcv.From, err)
	}

	if !rcv.Encrypted || r.decrypter == nil {
		return res, nil
	}

	plaintext, err := r.decrypter.Decrypt(ctx, rcv.Ciphertext)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		level.Warn(r.logger).Log("msg", "could not decrypt message", "from", rcv.From,
			"message_id", rcv.MessageID, "err", err)
		res.DecryptError = err
		return res, nil
	}
	res.Decrypted = true

	inner, err := pgpmime.ParsePlaintext(bytes.NewReader(plaintext))
	if err != nil {
		level.Warn(r.logger).Log("msg", "could not parse decrypted entity", "from", rcv.From, "err", err)
		return res, nil
	}
	res.Text = inner.Text

	if err := r.applyGossip(ctx, rcv, inner.Gossip, res); err != nil {
		return nil, err
	}
	return res, nil
}

// applyGossip applies gossip about the message's other recipients. Gossip
// about the sender, or about addresses the message was not sent to, is
// ignored.
func (r *Receiver) applyGossip(ctx context.Context, rcv *pgpmime.Received, values []string, res *Result) error {
	recipients := make(map[string]bool, len(rcv.Recipients))
	for _, a := range rcv.Recipients {
		recipients[autocrypt.NormalizeAddr(a)] = true
	}

	for _, v := range values {
		g, err := autocrypt.DecodeGossip(v)
		if err != nil {
			level.Debug(r.logger).Log("msg", "skipping gossip header", "err", err)
			continue
		}
		if autocrypt.SameAddr(g.Addr, rcv.From) || !recipients[autocrypt.NormalizeAddr(g.Addr)] {
			level.Debug(r.logger).Log("msg", "skipping gossip for non-recipient", "addr", g.Addr)
			continue
		}

		out, err := r.peers.ObserveGossip(ctx, g, rcv.Date)
		if err != nil {
			return fmt.Errorf("applying gossip for %s: %w", g.Addr, err)
		}
		res.Gossip = append(res.Gossip, out)
	}
	return nil
}

// UsedHeader reports whether the sender's Autocrypt header was applied.
func (res *Result) UsedHeader() bool {
	return res.HeaderError == nil
}
