package pgpmime

import (
	"bytes"
	"fmt"
	"io"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/textproto"
)

// Part is one child of the multipart/encrypted container.
type Part struct {
	header textproto.Header
	body   []byte
}

// Header returns a copy of the part's header.
func (p Part) Header() textproto.Header {
	return p.header.Copy()
}

// ContentType returns the part's media type without parameters.
func (p Part) ContentType() string {
	h := message.Header{Header: p.header.Copy()}
	t, _, _ := h.ContentType()
	return t
}

// Body returns a copy of the part's body.
func (p Part) Body() []byte {
	out := make([]byte, len(p.body))
	copy(out, p.body)
	return out
}

// Message is a built multipart/encrypted message. It is immutable: every
// accessor returns copies, so a Message may be shared freely.
type Message struct {
	header   textproto.Header
	boundary string
	parts    [2]Part
}

// Header returns a copy of the top-level header.
func (m *Message) Header() textproto.Header {
	return m.header.Copy()
}

// Get returns the first value of the named top-level header field.
func (m *Message) Get(name string) string {
	h := m.header.Copy()
	return h.Get(name)
}

// Boundary returns the multipart boundary.
func (m *Message) Boundary() string {
	return m.boundary
}

// Parts returns the version part and the ciphertext part, in that order.
func (m *Message) Parts() []Part {
	return []Part{m.parts[0], m.parts[1]}
}

// Ciphertext returns a copy of the encrypted payload.
func (m *Message) Ciphertext() []byte {
	return m.parts[1].Body()
}

// WriteTo writes the canonical CRLF rendering of the message to w.
func (m *Message) WriteTo(w io.Writer) (int64, error) {
	b, err := m.Bytes()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(b)
	return int64(n), err
}

// Bytes renders the message. Equal messages render to equal bytes.
func (m *Message) Bytes() ([]byte, error) {
	var buf bytes.Buffer

	mw, err := message.CreateWriter(&buf, message.Header{Header: m.header.Copy()})
	if err != nil {
		return nil, fmt.Errorf("writing message header: %w", err)
	}

	for i, p := range m.parts {
		pw, err := mw.CreatePart(message.Header{Header: p.header.Copy()})
		if err != nil {
			return nil, fmt.Errorf("creating part %d: %w", i+1, err)
		}
		if _, err := pw.Write(p.body); err != nil {
			return nil, fmt.Errorf("writing part %d: %w", i+1, err)
		}
		if err := pw.Close(); err != nil {
			return nil, fmt.Errorf("closing part %d: %w", i+1, err)
		}
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("closing message: %w", err)
	}

	return buf.Bytes(), nil
}

// String renders the message, or "" if it cannot be rendered.
func (m *Message) String() string {
	b, err := m.Bytes()
	if err != nil {
		return ""
	}
	return string(b)
}
