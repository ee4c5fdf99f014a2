package credential

import (
	"errors"
	"fmt"
)

// ErrNotLinked is returned for Exchange accounts that have no refresh
// token yet. Such accounts are skipped without logging an error.
var ErrNotLinked = errors.New("exchange account is not linked")

// CredentialError reports an undecryptable or incomplete secret. Reason
// never contains secret material.
type CredentialError struct {
	AccountID string
	Reason    string
	Err       error
}

func (e *CredentialError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("credential error for account %s: %s: %v", e.AccountID, e.Reason, e.Err)
	}
	return fmt.Sprintf("credential error for account %s: %s", e.AccountID, e.Reason)
}

func (e *CredentialError) Unwrap() error { return e.Err }

// AuthRefreshError reports a failed token refresh or a failed write-back
// of a rotated refresh token.
type AuthRefreshError struct {
	AccountID string
	Reason    string
	Err       error
}

func (e *AuthRefreshError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("token refresh failed for account %s: %s: %v", e.AccountID, e.Reason, e.Err)
	}
	return fmt.Sprintf("token refresh failed for account %s: %s", e.AccountID, e.Reason)
}

func (e *AuthRefreshError) Unwrap() error { return e.Err }
