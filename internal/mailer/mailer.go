// Package mailer runs the send pipeline: encrypt, build, persist, deliver.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/nhle/acmail/internal/autocrypt"
	"github.com/nhle/acmail/internal/crypto"
	"github.com/nhle/acmail/internal/model"
	"github.com/nhle/acmail/internal/pgpmime"
	"github.com/nhle/acmail/internal/transport"
)

var (
	// ErrAccountDisabled is returned when sending from a disabled account.
	ErrAccountDisabled = errors.New("account disabled")

	// ErrAlreadySent is returned when resending a delivered email.
	ErrAlreadySent = errors.New("email already sent")
)

// Store is the persistence the send pipeline needs.
type Store interface {
	GetAccountByAddr(ctx context.Context, addr string) (*model.Account, error)
	GetPeerByAddr(ctx context.Context, addr string) (*model.Peer, error)
	CreateEmail(ctx context.Context, e model.Email) (*model.Email, error)
	UpdateEmailStatus(ctx context.Context, id, status, deliveryErr string) error
	GetEmailByID(ctx context.Context, id string) (*model.Email, error)
}

// Config controls what is kept after sending.
type Config struct {
	// RetainPlaintext stores the plaintext body with the email.
	RetainPlaintext bool
}

// Service sends Autocrypt-enabled encrypted mail.
type Service struct {
	store     Store
	backend   crypto.Backend
	builder   *pgpmime.Builder
	deliverer transport.Deliverer
	cfg       Config
	logger    log.Logger
}

// NewService wires the send pipeline.
func NewService(
	s Store,
	backend crypto.Backend,
	builder *pgpmime.Builder,
	deliverer transport.Deliverer,
	cfg Config,
	logger log.Logger,
) *Service {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Service{
		store:     s,
		backend:   backend,
		builder:   builder,
		deliverer: deliverer,
		cfg:       cfg,
		logger:    logger,
	}
}

// Encrypt validates msg and renders it as a multipart/encrypted message
// announcing the sender's key. Nothing is stored or sent.
func (s *Service) Encrypt(ctx context.Context, msg model.OutgoingMessage) (*pgpmime.Message, error) {
	if len(msg.Attachments) > 0 {
		return nil, pgpmime.ErrAttachmentsUnsupported
	}
	if err := autocrypt.ValidateAddr(msg.Sender); err != nil {
		return nil, fmt.Errorf("sender: %w", err)
	}
	rcpts := msg.AllRecipients()
	if len(msg.Recipients) == 0 {
		return nil, fmt.Errorf("%w: no recipients", autocrypt.ErrInvalidAddress)
	}
	for _, r := range rcpts {
		if err := autocrypt.ValidateAddr(r); err != nil {
			return nil, fmt.Errorf("recipient: %w", err)
		}
	}

	account, err := s.store.GetAccountByAddr(ctx, msg.Sender)
	if err != nil {
		return nil, fmt.Errorf("loading account %s: %w", msg.Sender, err)
	}
	if !account.Enabled {
		return nil, fmt.Errorf("%w: %s", ErrAccountDisabled, account.Addr)
	}

	handle, err := s.backend.ResolveKeyHandle(ctx, account.Addr)
	if err != nil {
		return nil, fmt.Errorf("resolving key for %s: %w", account.Addr, err)
	}

	gossip, err := s.gossipFor(ctx, rcpts)
	if err != nil {
		return nil, err
	}
	plaintext, err := pgpmime.BuildPlaintext(msg.Body, gossip)
	if err != nil {
		return nil, fmt.Errorf("building plaintext: %w", err)
	}

	ciphertext, err := s.backend.SignAndEncrypt(ctx, plaintext, handle, rcpts)
	if err != nil {
		return nil, fmt.Errorf("encrypting message: %w", err)
	}

	extra := msg.Headers.Copy()
	acHeaders, err := autocrypt.HeaderDict(account.Addr, account.PublicKey, account.PreferEncrypt)
	if err != nil {
		return nil, fmt.Errorf("autocrypt header for %s: %w", account.Addr, err)
	}
	extra.Set(autocrypt.HeaderName, acHeaders.Get(autocrypt.HeaderName))

	built, err := s.builder.Build(pgpmime.Envelope{
		Subject:    msg.Subject,
		Sender:     msg.Sender,
		Recipients: msg.Recipients,
		Cc:         msg.Cc,
		ReplyTo:    msg.ReplyTo,
		Extra:      extra,
	}, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("building message: %w", err)
	}
	return built, nil
}

// gossipFor returns a gossip header for every recipient with a known key
// of its own. A message to a single recipient carries no gossip.
func (s *Service) gossipFor(ctx context.Context, rcpts []string) ([]autocrypt.Header, error) {
	if len(rcpts) < 2 {
		return nil, nil
	}

	var gossip []autocrypt.Header
	for _, r := range rcpts {
		p, err := s.store.GetPeerByAddr(ctx, r)
		if err != nil {
			// SignAndEncrypt reports recipients without keys.
			continue
		}
		if !p.HasKey() {
			continue
		}
		gossip = append(gossip, autocrypt.Header{Addr: r, KeyData: p.PublicKey, Type: autocrypt.Gossip})
	}
	return gossip, nil
}

// Send encrypts msg, stores it as pending and delivers it. When delivery
// fails the stored email is marked failed and returned together with the
// transport error; Resend can deliver it later.
func (s *Service) Send(ctx context.Context, msg model.OutgoingMessage) (*model.Email, error) {
	built, err := s.Encrypt(ctx, msg)
	if err != nil {
		return nil, err
	}

	raw, err := built.Bytes()
	if err != nil {
		return nil, fmt.Errorf("serializing message: %w", err)
	}

	e := model.Email{
		Date:       messageDate(built),
		Subject:    msg.Subject,
		SenderAddr: msg.Sender,
		Recipients: msg.AllRecipients(),
		MessageID:  built.Get("Message-Id"),
		Encrypted:  string(raw),
		Status:     model.EmailStatusPending,
	}
	if s.cfg.RetainPlaintext {
		e.Body = msg.Body
	}

	saved, err := s.store.CreateEmail(ctx, e)
	if err != nil {
		return nil, fmt.Errorf("saving email: %w", err)
	}
	level.Debug(s.logger).Log("msg", "email saved", "id", saved.ID, "message_id", saved.MessageID)

	return s.deliver(ctx, saved)
}

// Resend delivers a stored email that is pending or failed.
func (s *Service) Resend(ctx context.Context, id string) (*model.Email, error) {
	e, err := s.store.GetEmailByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading email %s: %w", id, err)
	}
	if e.Sent() {
		return e, fmt.Errorf("%w: %s", ErrAlreadySent, id)
	}
	return s.deliver(ctx, e)
}

func (s *Service) deliver(ctx context.Context, e *model.Email) (*model.Email, error) {
	derr := s.deliverer.Deliver(ctx, e.SenderAddr, e.Recipients, []byte(e.Encrypted))
	if derr != nil && !errors.Is(derr, transport.ErrTransport) {
		derr = &transport.DeliveryError{Stage: "deliver", Err: derr}
	}

	status, reason := model.EmailStatusSent, ""
	if derr != nil {
		status, reason = model.EmailStatusFailed, derr.Error()
	}

	if err := s.store.UpdateEmailStatus(ctx, e.ID, status, reason); err != nil {
		return e, fmt.Errorf("recording delivery of %s: %w", e.ID, err)
	}
	updated, err := s.store.GetEmailByID(ctx, e.ID)
	if err != nil {
		return e, fmt.Errorf("reloading email %s: %w", e.ID, err)
	}

	if derr != nil {
		level.Warn(s.logger).Log("msg", "delivery failed", "id", e.ID, "err", derr)
		return updated, derr
	}
	level.Info(s.logger).Log("msg", "email sent", "id", e.ID, "from", e.SenderAddr, "recipients", len(e.Recipients))
	return updated, nil
}

func messageDate(m *pgpmime.Message) time.Time {
	h := mail.Header{Header: message.Header{Header: m.Header()}}
	if d, err := h.Date(); err == nil {
		return d
	}
	return time.Now()
}
