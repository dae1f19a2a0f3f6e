package pgpmime

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
	"github.com/google/uuid"

	"github.com/nhle/acmail/internal/autocrypt"
)

// MIME identifiers from RFC 3156.
const (
	ContentTypeEncrypted   = "multipart/encrypted"
	ContentTypeProtocol    = "application/pgp-encrypted"
	ContentTypeCiphertext  = "application/octet-stream"
	CiphertextFilename     = "encrypted.asc"
	protocolVersionContent = "Version: 1\r\n"
)

// dateLayout is the RFC 5322 date-time format.
const dateLayout = "Mon, 02 Jan 2006 15:04:05 -0700"

// Config controls environment-dependent parts of a built message.
type Config struct {
	// UseLocalTime renders Date in the process's local zone instead of UTC.
	UseLocalTime bool

	// Hostname is the right-hand side of generated Message-IDs. When empty
	// the host name is looked up once per process.
	Hostname string
}

// Envelope holds everything about an outgoing message except its body,
// which by this point is ciphertext.
type Envelope struct {
	Subject    string
	Sender     string
	Recipients []string
	Cc         []string
	ReplyTo    []string

	// Extra holds caller-supplied header fields. Names are matched
	// case-insensitively.
	Extra textproto.Header

	// Attachments is the number of attachments the caller wanted to send.
	Attachments int
}

// Builder renders envelopes and ciphertext into Messages. A Builder is
// safe for concurrent use.
type Builder struct {
	cfg Config
	now func() time.Time
}

// Option configures a Builder.
type Option func(*Builder)

// WithClock replaces time.Now as the source of generated Date headers.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) {
		b.now = now
	}
}

// NewBuilder returns a Builder for cfg.
func NewBuilder(cfg Config, opts ...Option) *Builder {
	b := &Builder{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// dnsName is the host name used in Message-IDs, resolved once.
var dnsName = sync.OnceValue(func() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "localhost"
	}
	return host
})

func (b *Builder) hostname() string {
	if b.cfg.Hostname != "" {
		return b.cfg.Hostname
	}
	return dnsName()
}

// field is a header field in top-to-bottom order.
type field struct {
	key, value string
}

// Build assembles a multipart/encrypted message around ciphertext.
func (b *Builder) Build(env Envelope, ciphertext []byte) (*Message, error) {
	if env.Attachments > 0 {
		return nil, ErrAttachmentsUnsupported
	}
	if len(env.Recipients) == 0 {
		return nil, fmt.Errorf("%w: no recipients", autocrypt.ErrInvalidAddress)
	}
	if err := checkAddresses("From", env.Sender); err != nil {
		return nil, err
	}
	if err := checkAddresses("To", env.Recipients...); err != nil {
		return nil, err
	}
	if err := checkAddresses("Cc", env.Cc...); err != nil {
		return nil, err
	}
	if err := checkAddresses("Reply-To", env.ReplyTo...); err != nil {
		return nil, err
	}

	extras := headerFields(&env.Extra)
	for _, f := range extras {
		if err := checkField(f.key, f.value); err != nil {
			return nil, err
		}
	}
	if err := checkField("Subject", env.Subject); err != nil {
		return nil, err
	}

	var h mail.Header
	var fields []field
	add := func(k, v string) {
		fields = append(fields, field{key: k, value: v})
	}

	boundary := boundaryFor(ciphertext)
	h.SetContentType(ContentTypeEncrypted, map[string]string{
		"protocol": ContentTypeProtocol,
		"boundary": boundary,
	})
	h.SetSubject(env.Subject)

	add("MIME-Version", "1.0")
	add("Content-Type", h.Get("Content-Type"))
	add("Subject", h.Get("Subject"))

	if env.Extra.Has("From") {
		add("From", env.Extra.Get("From"))
	} else {
		add("From", env.Sender)
	}
	if env.Extra.Has("To") {
		add("To", env.Extra.Get("To"))
	} else {
		add("To", strings.Join(env.Recipients, ", "))
	}
	if len(env.Cc) > 0 {
		add("Cc", strings.Join(env.Cc, ", "))
	}

	replyToOverride := env.Extra.Has("Reply-To")
	switch {
	case replyToOverride:
		add("Reply-To", env.Extra.Get("Reply-To"))
	case len(env.ReplyTo) > 0:
		add("Reply-To", strings.Join(env.ReplyTo, ", "))
	}

	if !env.Extra.Has("Date") {
		now := b.now()
		if b.cfg.UseLocalTime {
			now = now.Local()
		} else {
			now = now.UTC()
		}
		add("Date", now.Format(dateLayout))
	}
	if !env.Extra.Has("Message-Id") {
		add("Message-ID", "<"+uuid.New().String()+"@"+b.hostname()+">")
	}

	for _, f := range extras {
		switch strings.ToLower(f.key) {
		case "from", "to", "subject", "content-type", "mime-version":
			continue
		case "reply-to":
			if replyToOverride {
				continue
			}
		case "cc":
			if len(env.Cc) > 0 {
				continue
			}
		}
		add(f.key, f.value)
	}

	msg := &Message{
		header:   newHeader(fields),
		boundary: boundary,
		parts: [2]Part{
			protocolPart(),
			ciphertextPart(ciphertext),
		},
	}
	return msg, nil
}

func protocolPart() Part {
	var h message.Header
	h.SetContentType(ContentTypeProtocol, nil)
	h.Set("Content-Description", "PGP/MIME version identification")
	return Part{header: h.Header, body: []byte(protocolVersionContent)}
}

func ciphertextPart(ciphertext []byte) Part {
	var h message.Header
	h.SetContentType(ContentTypeCiphertext, map[string]string{"name": CiphertextFilename})
	h.Set("Content-Description", "OpenPGP encrypted message")
	h.SetContentDisposition("inline", map[string]string{"filename": CiphertextFilename})

	body := make([]byte, len(ciphertext))
	copy(body, ciphertext)
	return Part{header: h.Header, body: body}
}

// boundaryFor derives the multipart boundary from the ciphertext so the
// same input always serializes to the same bytes.
func boundaryFor(ciphertext []byte) string {
	seed := xxhash.Sum64(ciphertext)
	for {
		b := fmt.Sprintf("acmail-%016x", seed)
		if !bytes.Contains(ciphertext, []byte(b)) {
			return b
		}
		seed++
	}
}

// newHeader builds a header whose fields serialize in the order given.
// textproto.Header inserts at the top, so fields are added bottom first.
func newHeader(fields []field) textproto.Header {
	var h textproto.Header
	for i := len(fields) - 1; i >= 0; i-- {
		h.Add(fields[i].key, fields[i].value)
	}
	return h
}

// headerFields lists h's fields top to bottom.
func headerFields(h *textproto.Header) []field {
	var out []field
	fields := h.Fields()
	for fields.Next() {
		out = append(out, field{key: fields.Key(), value: fields.Value()})
	}
	return out
}

func checkField(name, value string) error {
	if strings.ContainsAny(name, "\r\n") || strings.ContainsAny(value, "\r\n") {
		return &HeaderError{Name: strings.TrimSpace(name)}
	}
	return nil
}

// checkAddresses accepts bare addresses and name-addr forms.
func checkAddresses(name string, addrs ...string) error {
	for _, a := range addrs {
		if err := checkField(name, a); err != nil {
			return err
		}
		parsed, err := mail.ParseAddress(a)
		if err != nil {
			return fmt.Errorf("%w: %q", autocrypt.ErrInvalidAddress, a)
		}
		if err := autocrypt.ValidateAddr(parsed.Address); err != nil {
			return err
		}
	}
	return nil
}
