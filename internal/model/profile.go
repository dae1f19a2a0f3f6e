package model

import "time"

// DefaultProfileName is used when a profile is created without a name.
const DefaultProfileName = "default"

// Profile groups peers under one account.
type Profile struct {
	ID          string    `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	AccountAddr string    `json:"account_addr" db:"account_addr"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`

	// Peers is populated by GetProfilePeers.
	Peers []Peer `json:"peers,omitempty" db:"-"`
}
