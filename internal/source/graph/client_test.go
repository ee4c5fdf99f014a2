package graph

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nhle/mailreader/internal/model"
	"github.com/nhle/mailreader/internal/source"
)

func exchangeCreds(token string) *model.Credentials {
	return &model.Credentials{
		Method:   model.AuthMethodExchange,
		Exchange: &model.ExchangeCredentials{AccessToken: token},
	}
}

const listBody = `{
  "value": [
    {
      "id": "AAMk1",
      "internetMessageId": "<m1@contoso.com>",
      "subject": "Budget",
      "from": {"emailAddress": {"name": "Boss", "address": "boss@contoso.com"}},
      "toRecipients": [
        {"emailAddress": {"address": "me@contoso.com"}},
        {"emailAddress": {"address": "other@contoso.com"}}
      ],
      "bodyPreview": "Please review"
    },
    {
      "id": "AAMk2",
      "subject": null,
      "from": null,
      "toRecipients": [],
      "bodyPreview": null
    }
  ]
}`

func TestFetchRecent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer access-1" {
			t.Errorf("Authorization = %q, want Bearer access-1", got)
		}
		if r.URL.Path != "/me/mailFolders/Inbox/messages" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("$top"); got != "5" {
			t.Errorf("$top = %q, want 5", got)
		}
		if got := r.URL.Query().Get("$select"); got != selectFields {
			t.Errorf("$select = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, listBody)
	}))
	defer srv.Close()

	msgs, err := NewClient(srv.URL+"/").FetchRecent(context.Background(), exchangeCreds("access-1"), 5)
	if err != nil {
		t.Fatalf("FetchRecent() error = %v", err)
	}
	want := []model.NormalizedMessage{
		{MessageID: "<m1@contoso.com>", Subject: "Budget", From: "boss@contoso.com", To: "me@contoso.com", Body: "Please review"},
		{MessageID: "AAMk2"},
	}
	if len(msgs) != len(want) {
		t.Fatalf("got %d messages, want %d", len(msgs), len(want))
	}
	for i := range want {
		if msgs[i] != want[i] {
			t.Errorf("message[%d] = %+v, want %+v", i, msgs[i], want[i])
		}
	}
}

func TestFetchRecentTruncatesPreview(t *testing.T) {
	long := strings.Repeat("ж", maxBodyPreview+50)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"value":[{"id":"1","bodyPreview":%q}]}`, long)
	}))
	defer srv.Close()

	msgs, err := NewClient(srv.URL).FetchRecent(context.Background(), exchangeCreds("t"), 1)
	if err != nil {
		t.Fatal(err)
	}
	if n := len([]rune(msgs[0].Body)); n != maxBodyPreview {
		t.Errorf("body length = %d, want %d", n, maxBodyPreview)
	}
}

func TestFetchRecentUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"code":"InvalidAuthenticationToken","message":"expired"}}`)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).FetchRecent(context.Background(), exchangeCreds("stale"), 10)

	var fe *source.FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("error = %v, want *source.FetchError", err)
	}
	if !source.IsAuthError(err) {
		t.Errorf("error = %v, want wrapped AuthError", err)
	}
	if strings.Contains(err.Error(), "stale") {
		t.Error("error message contains the access token")
	}
}

func TestFetchRecentRetriesOn429(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"value":[{"id":"x"}]}`)
	}))
	defer srv.Close()

	msgs, err := NewClient(srv.URL).FetchRecent(context.Background(), exchangeCreds("t"), 10)
	if err != nil {
		t.Fatalf("FetchRecent() error = %v", err)
	}
	if len(msgs) != 1 || msgs[0].MessageID != "x" {
		t.Errorf("messages = %+v", msgs)
	}
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Errorf("server called %d times, want 3", n)
	}
}

func TestFetchRecentGivesUpAfterMaxRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithBackoff(time.Millisecond, 5*time.Millisecond))
	_, err := c.FetchRecent(context.Background(), exchangeCreds("t"), 10)
	if err == nil {
		t.Fatal("FetchRecent() succeeded, want error")
	}
	if n := atomic.LoadInt32(&calls); n != 4 {
		t.Errorf("server called %d times, want 4 (1 + 3 retries)", n)
	}
}

func TestFetchRecentServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).FetchRecent(context.Background(), exchangeCreds("t"), 10)
	var fe *source.FetchError
	if !errors.As(err, &fe) || source.IsAuthError(err) {
		t.Errorf("error = %v, want non-auth FetchError", err)
	}
}

func TestFetchRecentMissingToken(t *testing.T) {
	_, err := NewClient("").FetchRecent(context.Background(), exchangeCreds(""), 10)
	if !errors.Is(err, source.ErrWrongCredentials) {
		t.Errorf("error = %v, want ErrWrongCredentials", err)
	}
}

func TestRetryAfterDuration(t *testing.T) {
	c := NewClient("", WithBackoff(100*time.Millisecond, time.Second))

	tests := []struct {
		name    string
		header  string
		attempt int
		want    time.Duration
	}{
		{"seconds header", "1", 0, time.Second},
		{"header capped", "120", 0, time.Second},
		{"no header first attempt", "", 0, 100 * time.Millisecond},
		{"no header third attempt", "", 2, 400 * time.Millisecond},
		{"backoff capped", "", 10, time.Second},
		{"garbage header", "soon", 1, 200 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &http.Response{Header: http.Header{}}
			if tt.header != "" {
				resp.Header.Set("Retry-After", tt.header)
			}
			if got := c.retryAfterDuration(resp, tt.attempt); got != tt.want {
				t.Errorf("retryAfterDuration() = %s, want %s", got, tt.want)
			}
		})
	}
}
