package source

import (
	"context"
	"errors"
	"testing"

	"github.com/nhle/mailreader/internal/model"
)

func TestRegistry(t *testing.T) {
	called := false
	r := NewRegistry().Register(model.AuthMethodIMAP, FetcherFunc(
		func(context.Context, *model.Credentials, int) ([]model.NormalizedMessage, error) {
			called = true
			return nil, nil
		},
	))

	f, err := r.For(model.AuthMethodIMAP)
	if err != nil {
		t.Fatalf("For(imap) error = %v", err)
	}
	if _, err := f.FetchRecent(context.Background(), nil, 1); err != nil {
		t.Fatal(err)
	}
	if !called {
		t.Error("registered fetcher was not called")
	}

	if _, err := r.For("pop3"); !errors.Is(err, ErrUnsupportedMethod) {
		t.Errorf("For(pop3) error = %v, want ErrUnsupportedMethod", err)
	}
}

func TestFetchErrorChain(t *testing.T) {
	auth := &AuthError{Method: model.AuthMethodExchange, Message: "401"}
	err := error(NewFetchError(model.AuthMethodExchange, "list messages", auth))

	if !IsAuthError(err) {
		t.Error("IsAuthError() = false for wrapped AuthError")
	}
	var fe *FetchError
	if !errors.As(err, &fe) || fe.Op != "list messages" {
		t.Errorf("errors.As(FetchError) = %v", fe)
	}
	if IsAuthError(NewFetchError(model.AuthMethodIMAP, "dial", errors.New("refused"))) {
		t.Error("IsAuthError() = true for a transport error")
	}
}
