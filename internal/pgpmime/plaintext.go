package pgpmime

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message"

	"github.com/nhle/acmail/internal/autocrypt"
)

// BuildPlaintext renders the inner entity that gets encrypted: a
// text/plain body with one Autocrypt-Gossip header per entry in gossip.
func BuildPlaintext(body string, gossip []autocrypt.Header) ([]byte, error) {
	values := make([]string, 0, len(gossip))
	for _, g := range gossip {
		v, err := autocrypt.EncodeGossip(g.Addr, g.KeyData)
		if err != nil {
			return nil, fmt.Errorf("encoding gossip for %s: %w", g.Addr, err)
		}
		values = append(values, v)
	}

	fields := make([]field, 0, len(values)+2)
	fields = append(fields,
		field{key: "Content-Type", value: "text/plain; charset=utf-8"},
		field{key: "Content-Transfer-Encoding", value: "quoted-printable"},
	)
	for _, v := range values {
		fields = append(fields, field{key: autocrypt.GossipHeaderName, value: v})
	}

	var buf bytes.Buffer
	w, err := message.CreateWriter(&buf, message.Header{Header: newHeader(fields)})
	if err != nil {
		return nil, fmt.Errorf("writing plaintext header: %w", err)
	}
	if _, err := io.WriteString(w, body); err != nil {
		return nil, fmt.Errorf("writing plaintext body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("closing plaintext: %w", err)
	}

	return buf.Bytes(), nil
}

// Plaintext is a decrypted inner entity.
type Plaintext struct {
	// Gossip holds the raw Autocrypt-Gossip header values.
	Gossip []string

	// Text is the first text/plain body found.
	Text string
}

// ParsePlaintext reads a decrypted inner entity.
func ParsePlaintext(r io.Reader) (*Plaintext, error) {
	e, err := readEntity(r)
	if err != nil {
		return nil, fmt.Errorf("reading decrypted entity: %w", err)
	}

	pt := &Plaintext{
		Gossip: e.Header.Values(autocrypt.GossipHeaderName),
	}

	text, err := firstText(e)
	if err != nil {
		return nil, err
	}
	pt.Text = text

	return pt, nil
}

func firstText(e *message.Entity) (string, error) {
	if mr := e.MultipartReader(); mr != nil {
		for {
			p, err := mr.NextPart()
			if err == io.EOF {
				return "", nil
			}
			if err != nil && !isTolerable(err) {
				return "", fmt.Errorf("reading part: %w", err)
			}
			text, err := firstText(p)
			if err != nil {
				return "", err
			}
			if text != "" {
				return text, nil
			}
		}
	}

	t, _, _ := e.Header.ContentType()
	if t != "" && !strings.EqualFold(t, "text/plain") {
		return "", nil
	}
	b, err := io.ReadAll(e.Body)
	if err != nil {
		return "", fmt.Errorf("reading body: %w", err)
	}
	return string(b), nil
}

// readEntity parses a MIME entity, tolerating unknown charsets and
// transfer encodings the way go-message reports them.
func readEntity(r io.Reader) (*message.Entity, error) {
	e, err := message.Read(r)
	if err != nil && !isTolerable(err) {
		return nil, err
	}
	return e, nil
}

func isTolerable(err error) bool {
	return message.IsUnknownCharset(err) || message.IsUnknownEncoding(err)
}
