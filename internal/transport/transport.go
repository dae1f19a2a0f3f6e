// Package transport hands finished messages to a mail submission server.
package transport

import (
	"context"
	"errors"
	"fmt"
)

// ErrTransport is matched by every *DeliveryError.
var ErrTransport = errors.New("transport failure")

// DeliveryError reports a failed handoff to the submission server.
type DeliveryError struct {
	// Stage is the protocol step that failed, e.g. "dial" or "RCPT TO".
	Stage string
	Addr  string
	Err   error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery via %s failed at %s: %v", e.Addr, e.Stage, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrTransport) match any DeliveryError.
func (e *DeliveryError) Is(target error) bool {
	return target == ErrTransport
}

// AuthError indicates that the server rejected the configured credentials.
type AuthError struct {
	Service  string
	Username string
	Message  string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error (%s): %s: %s", e.Service, e.Username, e.Message)
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// Deliverer submits a serialized message for the given envelope.
type Deliverer interface {
	Deliver(ctx context.Context, from string, to []string, msg []byte) error
}

// DelivererFunc adapts a function to the Deliverer interface.
type DelivererFunc func(ctx context.Context, from string, to []string, msg []byte) error

// Deliver calls f.
func (f DelivererFunc) Deliver(ctx context.Context, from string, to []string, msg []byte) error {
	return f(ctx, from, to, msg)
}
