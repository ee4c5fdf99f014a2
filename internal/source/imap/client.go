// Package imap fetches recent INBOX envelopes over IMAP4rev1/TLS.
package imap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"net"
	"sort"
	"strconv"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message/charset"

	"github.com/nhle/mailreader/internal/model"
	"github.com/nhle/mailreader/internal/source"
)

const (
	defaultDialTimeout    = 15 * time.Second
	defaultSessionTimeout = 30 * time.Second
)

// Client implements source.Fetcher for IMAP mailboxes. A new connection is
// opened for every FetchRecent call.
type Client struct {
	dialTimeout    time.Duration
	sessionTimeout time.Duration
	tlsConfig      *tls.Config
}

var _ source.Fetcher = (*Client)(nil)

// Option customizes a Client.
type Option func(*Client)

// WithSessionTimeout bounds the whole IMAP session, from dial to logout.
func WithSessionTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.sessionTimeout = d
		}
	}
}

// WithDialTimeout bounds the TCP connect and TLS handshake.
func WithDialTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.dialTimeout = d
		}
	}
}

// WithTLSConfig sets the TLS configuration template. ServerName is filled
// from the account host when empty.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(c *Client) { c.tlsConfig = cfg }
}

// NewClient creates an IMAP fetcher.
func NewClient(opts ...Option) *Client {
	c := &Client{
		dialTimeout:    defaultDialTimeout,
		sessionTimeout: defaultSessionTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchRecent logs in, selects INBOX and returns the envelopes of the
// last limit non-deleted messages in UID order.
func (c *Client) FetchRecent(
	ctx context.Context, creds *model.Credentials, limit int,
) ([]model.NormalizedMessage, error) {
	if creds == nil || creds.IMAP == nil {
		return nil, source.NewFetchError(model.AuthMethodIMAP, "credentials", source.ErrWrongCredentials)
	}
	if limit <= 0 {
		return nil, nil
	}

	client, stop, err := c.connect(ctx, creds.IMAP)
	if err != nil {
		return nil, err
	}
	defer stop()
	defer client.Close()
	defer func() { _ = client.Logout().Wait() }()

	if _, err := client.Select("INBOX", &imap.SelectOptions{ReadOnly: true}).Wait(); err != nil {
		return nil, source.NewFetchError(model.AuthMethodIMAP, "select INBOX", err)
	}

	searchData, err := client.UIDSearch(&imap.SearchCriteria{
		NotFlag: []imap.Flag{imap.FlagDeleted},
	}, nil).Wait()
	if err != nil {
		return nil, source.NewFetchError(model.AuthMethodIMAP, "search", err)
	}

	uids := lastUIDs(searchData.AllUIDs(), limit)
	if len(uids) == 0 {
		return nil, nil
	}

	fetchCmd := client.Fetch(imap.UIDSetNum(uids...), &imap.FetchOptions{
		Envelope: true,
		UID:      true,
	})

	var buffers []*imapclient.FetchMessageBuffer
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}
		buf, err := msg.Collect()
		if err != nil {
			continue
		}
		buffers = append(buffers, buf)
	}
	if err := fetchCmd.Close(); err != nil {
		return nil, source.NewFetchError(model.AuthMethodIMAP, "fetch envelopes", err)
	}

	sort.Slice(buffers, func(i, j int) bool { return buffers[i].UID < buffers[j].UID })

	messages := make([]model.NormalizedMessage, 0, len(buffers))
	for _, buf := range buffers {
		messages = append(messages, messageFromEnvelope(buf.Envelope))
	}
	return messages, nil
}

// connect dials with TLS, bounds the session with a deadline and logs in.
// Cancelling ctx closes the connection until the returned stop func is
// called.
func (c *Client) connect(ctx context.Context, creds *model.IMAPCredentials) (*imapclient.Client, func() bool, error) {
	port := creds.Port
	if port == 0 {
		port = model.DefaultIMAPPort
	}
	addr := net.JoinHostPort(creds.Host, strconv.Itoa(port))

	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if c.tlsConfig != nil {
		tlsCfg = c.tlsConfig.Clone()
	}
	if tlsCfg.ServerName == "" {
		tlsCfg.ServerName = creds.Host
	}

	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: c.dialTimeout},
		Config:    tlsCfg,
	}
	dialCtx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	defer cancel()

	conn, err := dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return nil, nil, source.NewFetchError(model.AuthMethodIMAP, "dial "+addr, err)
	}

	deadline := time.Now().Add(c.sessionTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		conn.Close()
		return nil, nil, source.NewFetchError(model.AuthMethodIMAP, "set deadline", err)
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })

	client := imapclient.New(conn, &imapclient.Options{
		WordDecoder: &mime.WordDecoder{CharsetReader: charset.Reader},
	})

	if err := client.Login(creds.Username, creds.Password).Wait(); err != nil {
		stop()
		client.Close()
		var imapErr *imap.Error
		if errors.As(err, &imapErr) {
			return nil, nil, source.NewFetchError(model.AuthMethodIMAP, "login", &source.AuthError{
				Method:  model.AuthMethodIMAP,
				Message: fmt.Sprintf("login rejected for %s: %s", creds.Username, imapErr.Text),
			})
		}
		return nil, nil, source.NewFetchError(model.AuthMethodIMAP, "login", err)
	}

	return client, stop, nil
}

// lastUIDs returns the highest limit UIDs in ascending order.
func lastUIDs(uids []imap.UID, limit int) []imap.UID {
	sorted := make([]imap.UID, len(uids))
	copy(sorted, uids)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	if limit > 0 && len(sorted) > limit {
		sorted = sorted[len(sorted)-limit:]
	}
	return sorted
}
