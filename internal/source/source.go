// Package source fetches recent messages from a mailbox and normalizes
// them into model.NormalizedMessage.
package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/nhle/mailreader/internal/model"
)

// AuthError indicates that the mailbox rejected the supplied credentials.
// It is returned on IMAP login failure and on HTTP 401 from Graph.
type AuthError struct {
	Method  model.AuthMethod
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error (%s): %s", e.Method, e.Message)
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// FetchError wraps every failure of a FetchRecent call. It aborts only the
// cycle of the account being fetched.
type FetchError struct {
	Method model.AuthMethod
	Op     string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %s: %v", e.Method, e.Op, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// NewFetchError wraps err for the given method and operation.
func NewFetchError(method model.AuthMethod, op string, err error) *FetchError {
	return &FetchError{Method: method, Op: op, Err: err}
}

// ErrUnsupportedMethod is returned by Registry.For for unknown methods.
var ErrUnsupportedMethod = errors.New("unsupported auth method")

// ErrWrongCredentials is wrapped when a fetcher receives credentials for
// another protocol.
var ErrWrongCredentials = errors.New("credentials do not match fetcher")

// Fetcher retrieves the most recent messages of one mailbox.
type Fetcher interface {
	// FetchRecent returns at most limit messages. Every error is a
	// *FetchError.
	FetchRecent(ctx context.Context, creds *model.Credentials, limit int) ([]model.NormalizedMessage, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, creds *model.Credentials, limit int) ([]model.NormalizedMessage, error)

func (f FetcherFunc) FetchRecent(ctx context.Context, creds *model.Credentials, limit int) ([]model.NormalizedMessage, error) {
	return f(ctx, creds, limit)
}

// Registry maps an account's auth method to its Fetcher.
type Registry struct {
	fetchers map[model.AuthMethod]Fetcher
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{fetchers: make(map[model.AuthMethod]Fetcher)}
}

// Register installs f for method, replacing any previous fetcher.
func (r *Registry) Register(method model.AuthMethod, f Fetcher) *Registry {
	r.fetchers[method] = f
	return r
}

// For returns the fetcher registered for method.
func (r *Registry) For(method model.AuthMethod) (Fetcher, error) {
	f, ok := r.fetchers[method]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMethod, method)
	}
	return f, nil
}
