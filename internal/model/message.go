package model

import "github.com/emersion/go-message/textproto"

// OutgoingMessage is a plaintext message as composed by the caller.
type OutgoingMessage struct {
	Subject    string
	Body       string
	Sender     string
	Recipients []string
	Cc         []string
	ReplyTo    []string

	// Headers holds extra header fields. Lookups are case-insensitive.
	Headers textproto.Header

	// Attachments are file paths. Encrypted messages cannot carry them
	// yet, so a non-empty list fails the send.
	Attachments []string
}

// AllRecipients returns the To and Cc addresses, To first.
func (m OutgoingMessage) AllRecipients() []string {
	out := make([]string, 0, len(m.Recipients)+len(m.Cc))
	out = append(out, m.Recipients...)
	return append(out, m.Cc...)
}
