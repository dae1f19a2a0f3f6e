package autocrypt

import "errors"

var (
	// ErrInvalidAddress is returned when an address fails syntax validation.
	ErrInvalidAddress = errors.New("invalid address")

	// ErrEmptyKeyMaterial is returned when encoding a header without key bytes.
	ErrEmptyKeyMaterial = errors.New("empty key material")

	// ErrMalformedHeader is returned when a header value lacks a required
	// attribute or carries an unknown critical attribute.
	ErrMalformedHeader = errors.New("malformed autocrypt header")

	// ErrInvalidKeyEncoding is returned when keydata is not valid base64.
	ErrInvalidKeyEncoding = errors.New("invalid keydata encoding")

	// ErrNoUsableHeader is returned by SelectHeader when a message carries
	// no Autocrypt header that may be applied to its sender.
	ErrNoUsableHeader = errors.New("no usable autocrypt header")
)
