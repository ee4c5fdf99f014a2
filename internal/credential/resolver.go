// Package credential resolves encrypted account secrets into mailbox
// credentials and locates the master key.
package credential

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"

	"github.com/nhle/mailreader/internal/model"
)

// Scopes requested on every refresh.
var Scopes = []string{"offline_access", "Mail.Read", "User.Read"}

const defaultTokenTimeout = 30 * time.Second

// Cipher decrypts and re-encrypts secret payloads.
type Cipher interface {
	Encrypt(payload map[string]any) (string, error)
	Decrypt(enc string) (map[string]any, error)
}

// SecretWriter persists a re-encrypted secret payload.
type SecretWriter interface {
	UpdateSecret(ctx context.Context, accountID, encPayload string) error
}

// Resolver turns an account's encrypted secret into protocol credentials.
type Resolver struct {
	cipher   Cipher
	secrets  SecretWriter
	client   *http.Client
	endpoint func(tenant string) oauth2.Endpoint
	onRotate func(accountID string)
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithHTTPClient replaces the client used for token requests.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Resolver) { r.client = c }
}

// WithAuthorityURL points token requests at base + "/<tenant>/oauth2/v2.0/token"
// instead of login.microsoftonline.com.
func WithAuthorityURL(base string) Option {
	base = strings.TrimRight(base, "/")
	return func(r *Resolver) {
		r.endpoint = func(tenant string) oauth2.Endpoint {
			return oauth2.Endpoint{TokenURL: base + "/" + tenant + "/oauth2/v2.0/token"}
		}
	}
}

// WithRotationHook registers fn to be called after a rotated refresh token
// has been persisted.
func WithRotationHook(fn func(accountID string)) Option {
	return func(r *Resolver) { r.onRotate = fn }
}

// NewResolver returns a Resolver backed by cipher and secrets.
func NewResolver(cipher Cipher, secrets SecretWriter, opts ...Option) *Resolver {
	r := &Resolver{
		cipher:   cipher,
		secrets:  secrets,
		client:   &http.Client{Timeout: defaultTokenTimeout},
		endpoint: microsoft.AzureADEndpoint,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.client = withScope(r.client, Scopes)
	return r
}

// Resolve decrypts the account secret and returns credentials for its
// auth method. Exchange accounts get a fresh access token; a rotated
// refresh token is written back before Resolve returns.
func (r *Resolver) Resolve(ctx context.Context, acct model.AccountWithSecret) (*model.Credentials, error) {
	payload, err := r.cipher.Decrypt(acct.EncPayload)
	if err != nil {
		return nil, &CredentialError{AccountID: acct.ID, Reason: "decrypting secret", Err: err}
	}

	switch acct.AuthMethod {
	case model.AuthMethodIMAP:
		creds, err := imapCredentials(payload)
		if err != nil {
			return nil, &CredentialError{AccountID: acct.ID, Reason: err.Error()}
		}
		return &model.Credentials{Method: model.AuthMethodIMAP, IMAP: creds}, nil
	case model.AuthMethodExchange:
		return r.exchange(ctx, acct.ID, payload)
	default:
		return nil, &CredentialError{AccountID: acct.ID, Reason: fmt.Sprintf("unsupported auth method %q", acct.AuthMethod)}
	}
}

func (r *Resolver) exchange(ctx context.Context, accountID string, payload map[string]any) (*model.Credentials, error) {
	refresh := stringValue(payload, "refresh_token")
	if refresh == "" {
		return nil, ErrNotLinked
	}

	tenant := stringValue(payload, "tenant_id")
	clientID := stringValue(payload, "client_id")
	clientSecret := stringValue(payload, "client_secret")
	for _, f := range []struct{ name, value string }{
		{"tenant_id", tenant},
		{"client_id", clientID},
		{"client_secret", clientSecret},
	} {
		if f.value == "" {
			return nil, &CredentialError{AccountID: accountID, Reason: "missing " + f.name}
		}
	}

	endpoint := r.endpoint(tenant)
	endpoint.AuthStyle = oauth2.AuthStyleInParams
	conf := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     endpoint,
		RedirectURL:  stringValue(payload, "redirect_uri"),
		Scopes:       Scopes,
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, r.client)
	tok, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refresh}).Token()
	if err != nil {
		return nil, &AuthRefreshError{AccountID: accountID, Reason: refreshReason(err)}
	}

	if tok.RefreshToken != "" && tok.RefreshToken != refresh {
		payload["refresh_token"] = tok.RefreshToken
		enc, err := r.cipher.Encrypt(payload)
		if err != nil {
			return nil, &AuthRefreshError{AccountID: accountID, Reason: "re-encrypting rotated secret", Err: err}
		}
		if err := r.secrets.UpdateSecret(ctx, accountID, enc); err != nil {
			return nil, &AuthRefreshError{AccountID: accountID, Reason: "persisting rotated secret", Err: err}
		}
		if r.onRotate != nil {
			r.onRotate(accountID)
		}
	}

	return &model.Credentials{
		Method: model.AuthMethodExchange,
		Exchange: &model.ExchangeCredentials{
			AccessToken: tok.AccessToken,
			Expiry:      tok.Expiry,
		},
	}, nil
}

// refreshReason describes a token endpoint failure without echoing the
// response body.
func refreshReason(err error) string {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		reason := "token endpoint rejected refresh"
		if re.Response != nil {
			reason += ": " + re.Response.Status
		}
		if re.ErrorCode != "" {
			reason += " (" + re.ErrorCode + ")"
		}
		return reason
	}
	var ue *url.Error
	if errors.As(err, &ue) {
		return "token request failed: " + ue.Err.Error()
	}
	return "token request failed"
}

func imapCredentials(payload map[string]any) (*model.IMAPCredentials, error) {
	host := firstString(payload, "host", "imap_host")
	username := stringValue(payload, "username")
	password := stringValue(payload, "password")
	switch {
	case host == "":
		return nil, errors.New("missing host")
	case username == "":
		return nil, errors.New("missing username")
	case password == "":
		return nil, errors.New("missing password")
	}

	port := model.DefaultIMAPPort
	raw, ok := payload["port"]
	if !ok || raw == nil {
		raw, ok = payload["imap_port"]
	}
	if ok && raw != nil {
		p, err := portValue(raw)
		if err != nil {
			return nil, err
		}
		port = p
	}

	return &model.IMAPCredentials{Host: host, Port: port, Username: username, Password: password}, nil
}

func portValue(v any) (int, error) {
	var port int
	switch t := v.(type) {
	case float64:
		if t != float64(int(t)) {
			return 0, errors.New("invalid port")
		}
		port = int(t)
	case int:
		port = t
	case int64:
		port = int(t)
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return model.DefaultIMAPPort, nil
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return 0, errors.New("invalid port")
		}
		port = n
	default:
		return 0, errors.New("invalid port")
	}
	if port < 1 || port > 65535 {
		return 0, errors.New("port out of range")
	}
	return port, nil
}

func stringValue(payload map[string]any, key string) string {
	s, _ := payload[key].(string)
	return strings.TrimSpace(s)
}

func firstString(payload map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := stringValue(payload, k); s != "" {
			return s
		}
	}
	return ""
}

// withScope returns a copy of c whose transport adds the scope parameter
// to refresh_token grants. The oauth2 package only sends scopes on the
// authorization request, and the v2.0 endpoint expects them on refresh.
func withScope(c *http.Client, scopes []string) *http.Client {
	base := c.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	cp := *c
	cp.Transport = &scopeTransport{base: base, scope: strings.Join(scopes, " ")}
	return &cp
}

type scopeTransport struct {
	base  http.RoundTripper
	scope string
}

func (t *scopeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method != http.MethodPost || req.Body == nil {
		return t.base.RoundTrip(req)
	}
	body, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		return nil, err
	}
	form, err := url.ParseQuery(string(body))
	if err == nil && form.Get("grant_type") == "refresh_token" && form.Get("scope") == "" {
		form.Set("scope", t.scope)
		body = []byte(form.Encode())
	}

	out := req.Clone(req.Context())
	out.Body = io.NopCloser(bytes.NewReader(body))
	out.ContentLength = int64(len(body))
	out.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	return t.base.RoundTrip(out)
}
