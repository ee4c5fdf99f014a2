// Package model holds the worker's domain types and configuration.
package model

import "time"

// AuthMethod identifies how the worker talks to a mailbox.
type AuthMethod string

const (
	AuthMethodIMAP     AuthMethod = "imap"
	AuthMethodExchange AuthMethod = "exchange"
)

// Account is a registered mailbox under management. Accounts are created
// by the onboarding flow and are read-only to the worker.
type Account struct {
	// ID is the opaque account identifier.
	ID string `json:"id" db:"id"`

	// Email is the primary address of the mailbox.
	Email string `json:"email" db:"email"`

	// AuthMethod selects the mail source adapter for this account.
	AuthMethod AuthMethod `json:"auth_method" db:"auth_method"`

	// CreatedAt is when the account was registered.
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// AccountWithSecret pairs an account with its encrypted credential blob.
// The blob is only ever decrypted inside the credential resolver.
type AccountWithSecret struct {
	Account
	EncPayload string `json:"-" db:"enc_payload"`
}
