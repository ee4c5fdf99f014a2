package model

import (
	"fmt"
	"time"
)

// DefaultIMAPPort is used when a stored IMAP secret omits the port.
const DefaultIMAPPort = 993

// IMAPCredentials are the decrypted login details for an IMAP mailbox.
type IMAPCredentials struct {
	Host     string
	Port     int
	Username string
	Password string
}

// String omits the password so credentials can never leak through %v.
func (c IMAPCredentials) String() string {
	return fmt.Sprintf("imap://%s@%s:%d", c.Username, c.Host, c.Port)
}

// ExchangeCredentials carry a freshly issued Graph access token.
type ExchangeCredentials struct {
	AccessToken string
	Expiry      time.Time
}

// String omits the token.
func (c ExchangeCredentials) String() string {
	return fmt.Sprintf("exchange(expiry=%s)", c.Expiry.Format(time.RFC3339))
}

// Credentials is the protocol-specific result of resolving an account's
// secret. Exactly one of IMAP or Exchange is set, matching Method.
type Credentials struct {
	Method   AuthMethod
	IMAP     *IMAPCredentials
	Exchange *ExchangeCredentials
}
