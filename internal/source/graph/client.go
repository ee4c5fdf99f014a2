// Package graph fetches recent Inbox messages through Microsoft Graph.
package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/nhle/mailreader/internal/model"
	"github.com/nhle/mailreader/internal/source"
)

const (
	// DefaultBaseURL is the Graph v1.0 root.
	DefaultBaseURL = "https://graph.microsoft.com/v1.0"

	maxBodyPreview   = 1000
	maxResponseBytes = 8 << 20
	selectFields     = "id,subject,from,toRecipients,bodyPreview,internetMessageId"
)

// Client implements source.Fetcher for Exchange accounts. It handles
// Bearer authentication and retries with backoff on HTTP 429.
type Client struct {
	baseURL     string
	timeout     time.Duration
	maxRetries  int
	baseBackoff time.Duration
	maxBackoff  time.Duration
	transport   http.RoundTripper
}

var _ source.Fetcher = (*Client)(nil)

// Option customizes a Client.
type Option func(*Client)

// WithTimeout bounds each HTTP request.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithBackoff sets the first backoff step used when a 429 carries no
// Retry-After header, and the cap for any single wait.
func WithBackoff(base, max time.Duration) Option {
	return func(c *Client) {
		c.baseBackoff = base
		c.maxBackoff = max
	}
}

// WithTransport sets the base round tripper under the OAuth2 transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) { c.transport = rt }
}

// NewClient creates a Graph fetcher rooted at baseURL (DefaultBaseURL when
// empty).
func NewClient(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		timeout:     30 * time.Second,
		maxRetries:  3,
		baseBackoff: time.Second,
		maxBackoff:  30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchRecent lists the newest limit messages of the Inbox folder.
func (c *Client) FetchRecent(
	ctx context.Context, creds *model.Credentials, limit int,
) ([]model.NormalizedMessage, error) {
	if creds == nil || creds.Exchange == nil || creds.Exchange.AccessToken == "" {
		return nil, source.NewFetchError(model.AuthMethodExchange, "credentials", source.ErrWrongCredentials)
	}
	if limit <= 0 {
		return nil, nil
	}

	q := url.Values{}
	q.Set("$top", strconv.Itoa(limit))
	q.Set("$select", selectFields)
	path := "/me/mailFolders/Inbox/messages?" + q.Encode()

	var list messageList
	if err := c.get(ctx, creds.Exchange, path, &list); err != nil {
		return nil, source.NewFetchError(model.AuthMethodExchange, "list messages", err)
	}

	messages := make([]model.NormalizedMessage, 0, len(list.Value))
	for _, m := range list.Value {
		messages = append(messages, normalize(m))
	}
	if len(messages) > limit {
		messages = messages[:limit]
	}
	return messages, nil
}

// httpClient returns a client that injects the access token.
func (c *Client) httpClient(ctx context.Context, creds *model.ExchangeCredentials) *http.Client {
	base := &http.Client{Timeout: c.timeout, Transport: c.transport}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, base)

	tok := &oauth2.Token{AccessToken: creds.AccessToken, TokenType: "Bearer", Expiry: creds.Expiry}
	hc := oauth2.NewClient(ctx, oauth2.StaticTokenSource(tok))
	hc.Timeout = c.timeout
	return hc
}

// get performs a GET with retry on 429 and decodes the JSON body.
func (c *Client) get(
	ctx context.Context,
	creds *model.ExchangeCredentials,
	path string,
	result interface{},
) error {
	hc := c.httpClient(ctx, creds)
	reqURL := c.baseURL + path

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := hc.Do(req)
		if err != nil {
			return fmt.Errorf("executing request GET %s: %w", redactQuery(path), err)
		}

		respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		resp.Body.Close()
		if readErr != nil {
			return fmt.Errorf("reading response body: %w", readErr)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = errors.New("rate limited (429)")
			if attempt == c.maxRetries {
				break
			}
			wait := c.retryAfterDuration(resp, attempt)
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
				continue
			}
		}

		if resp.StatusCode == http.StatusUnauthorized {
			return &source.AuthError{
				Method:  model.AuthMethodExchange,
				Message: "Graph rejected the access token (401)" + graphErrorSuffix(respBody),
			}
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("unexpected status %d%s", resp.StatusCode, graphErrorSuffix(respBody))
		}

		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshaling message list: %w", err)
		}
		return nil
	}

	return fmt.Errorf("max retries (%d) exceeded: %w", c.maxRetries, lastErr)
}

// retryAfterDuration reads the Retry-After header and computes a wait
// duration. Falls back to exponential backoff if the header is missing.
func (c *Client) retryAfterDuration(resp *http.Response, attempt int) time.Duration {
	if header := resp.Header.Get("Retry-After"); header != "" {
		if seconds, err := strconv.Atoi(strings.TrimSpace(header)); err == nil && seconds >= 0 {
			return min(time.Duration(seconds)*time.Second, c.maxBackoff)
		}
		if at, err := http.ParseTime(header); err == nil {
			return min(max(time.Until(at), 0), c.maxBackoff)
		}
	}

	backoff := c.baseBackoff << uint(attempt)
	if backoff > c.maxBackoff || backoff < 0 {
		backoff = c.maxBackoff
	}
	return backoff
}

func graphErrorSuffix(body []byte) string {
	var ge errorResponse
	if json.Unmarshal(body, &ge) == nil && ge.Error.Code != "" {
		return fmt.Sprintf(": %s: %s", ge.Error.Code, ge.Error.Message)
	}
	return ""
}

func redactQuery(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		return path[:i]
	}
	return path
}

// normalize maps a Graph message to the normalized shape.
func normalize(m message) model.NormalizedMessage {
	msg := model.NormalizedMessage{
		MessageID: m.InternetMessageID,
		Subject:   m.Subject,
		Body:      truncateRunes(m.BodyPreview, maxBodyPreview),
	}
	if msg.MessageID == "" {
		msg.MessageID = m.ID
	}
	if m.From != nil && m.From.EmailAddress != nil {
		msg.From = m.From.EmailAddress.Address
	}
	if len(m.ToRecipients) > 0 && m.ToRecipients[0].EmailAddress != nil {
		msg.To = m.ToRecipients[0].EmailAddress.Address
	}
	return msg
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
