package pgpmime

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidHeaderValue is returned when a header name or value
	// contains a line break.
	ErrInvalidHeaderValue = errors.New("invalid header value")

	// ErrAttachmentsUnsupported is returned when a message with
	// attachments is built. Attachments are not encrypted yet.
	ErrAttachmentsUnsupported = errors.New("attachments are not supported for encrypted messages")

	// ErrNotEncrypted is returned when a received message is not a
	// well-formed multipart/encrypted message.
	ErrNotEncrypted = errors.New("not a multipart/encrypted message")
)

// HeaderError reports the header field that failed validation.
type HeaderError struct {
	Name string
}

func (e *HeaderError) Error() string {
	return fmt.Sprintf("header %q: line breaks are not allowed", e.Name)
}

// Is matches ErrInvalidHeaderValue.
func (e *HeaderError) Is(target error) bool {
	return target == ErrInvalidHeaderValue
}
