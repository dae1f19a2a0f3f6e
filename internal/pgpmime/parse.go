package pgpmime

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"

	"github.com/nhle/acmail/internal/autocrypt"
)

// Received is what the receive path needs from an incoming message.
type Received struct {
	From      string
	Date      time.Time
	MessageID string
	Subject   string

	// Recipients holds the To and Cc addresses.
	Recipients []string

	// Autocrypt holds the raw values of every top-level Autocrypt header.
	Autocrypt []string

	// Encrypted is set for well-formed multipart/encrypted messages, in
	// which case Ciphertext holds the second part's body.
	Encrypted  bool
	Ciphertext []byte
}

// Parse reads a raw RFC 5322 message. Only a missing or unparsable From
// address is an error; everything else is reported as found.
func Parse(r io.Reader) (*Received, error) {
	e, err := readEntity(r)
	if err != nil {
		return nil, fmt.Errorf("reading message: %w", err)
	}
	h := mail.Header{Header: e.Header}

	from, err := h.AddressList("From")
	if err != nil {
		return nil, fmt.Errorf("parsing From: %w", err)
	}
	if len(from) == 0 {
		return nil, fmt.Errorf("%w: message has no From address", autocrypt.ErrInvalidAddress)
	}

	rcv := &Received{
		From:      from[0].Address,
		Autocrypt: e.Header.Values(autocrypt.HeaderName),
	}
	for _, key := range []string{"To", "Cc"} {
		list, err := h.AddressList(key)
		if err != nil {
			continue
		}
		for _, a := range list {
			rcv.Recipients = append(rcv.Recipients, a.Address)
		}
	}
	if d, err := h.Date(); err == nil {
		rcv.Date = d
	}
	if id, err := h.MessageID(); err == nil {
		rcv.MessageID = id
	}
	if s, err := h.Subject(); err == nil {
		rcv.Subject = s
	}

	t, params, _ := e.Header.ContentType()
	if !strings.EqualFold(t, ContentTypeEncrypted) ||
		!strings.EqualFold(params["protocol"], ContentTypeProtocol) {
		return rcv, nil
	}

	mr := e.MultipartReader()
	if mr == nil {
		return rcv, nil
	}

	var parts int
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil && !isTolerable(err) {
			return nil, fmt.Errorf("reading encrypted part: %w", err)
		}
		parts++

		pt, _, _ := p.Header.ContentType()
		switch {
		case parts == 1 && !strings.EqualFold(pt, ContentTypeProtocol):
			return rcv, nil
		case parts == 2 && strings.EqualFold(pt, ContentTypeCiphertext):
			body, err := io.ReadAll(p.Body)
			if err != nil {
				return nil, fmt.Errorf("reading ciphertext: %w", err)
			}
			rcv.Ciphertext = body
		}
	}

	rcv.Encrypted = parts == 2 && rcv.Ciphertext != nil
	if !rcv.Encrypted {
		rcv.Ciphertext = nil
	}

	return rcv, nil
}
