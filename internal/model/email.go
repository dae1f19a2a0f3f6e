package model

import "time"

// Delivery status constants.
const (
	EmailStatusPending = "pending"
	EmailStatusSent    = "sent"
	EmailStatusFailed  = "failed"
)

// Email is a persisted outgoing message. Only the encrypted rendering is
// kept unless plaintext retention is enabled.
type Email struct {
	ID         string    `json:"id" db:"id"`
	Date       time.Time `json:"date" db:"date"`
	Subject    string    `json:"subject" db:"subject"`
	Body       string    `json:"body,omitempty" db:"body"`
	SenderAddr string    `json:"sender_addr" db:"sender_addr"`
	Recipients []string  `json:"recipients" db:"-"`
	MessageID  string    `json:"message_id" db:"message_id"`

	// Encrypted is the serialized multipart/encrypted message.
	Encrypted string `json:"encrypted" db:"encrypted"`

	Status        string     `json:"status" db:"status"`
	DeliveryError string     `json:"delivery_error,omitempty" db:"delivery_error"`
	SentAt        *time.Time `json:"sent_at,omitempty" db:"sent_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
}

// Sent reports whether the message was handed to the transport.
func (e Email) Sent() bool {
	return e.Status == EmailStatusSent
}
