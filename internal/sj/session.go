package sj

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"
)

// OAuth2 endpoints for the Google account service backing the locker API.
const (
	authorizationURL = "https://accounts.google.com/o/oauth2/v2/auth"
	tokenURL         = "https://oauth2.googleapis.com/token"

	// Out-of-band redirect: the user pastes the authorization code back
	// into the client instead of being redirected to a local server.
	redirectURI = "urn:ietf:wg:oauth:2.0:oob"
)

// userAgent identifies this client on every request.
const userAgent = "skyjam-go/0.1"

// stateTokenBytes is the number of random bytes for the OAuth2 state parameter.
const stateTokenBytes = 16

// ClientConfig is the OAuth registration for one client kind. The locker
// service exposes separate registrations for the mobile client and the
// desktop manager, with different scopes and capabilities.
type ClientConfig struct {
	Kind   string
	ID     string
	Secret string
	Scope  string
}

// Client registrations for the two supported endpoints.
var (
	MusicManager = ClientConfig{
		Kind:   "musicmanager",
		ID:     "652850857958.apps.googleusercontent.com",
		Secret: "ji1rklciNp2bfsFJnEH_i6al",
		Scope:  "https://www.googleapis.com/auth/musicmanager",
	}

	MobileClient = ClientConfig{
		Kind:   "mobileclient",
		ID:     "228293309116.apps.googleusercontent.com",
		Secret: "GL1YV0XMp0RlL7ylCV3ilFz-",
		Scope:  "https://www.googleapis.com/auth/skyjam",
	}
)

// Response is the raw result of one HTTP exchange: status, headers, and the
// fully-read body. Bodies are buffered because call parsers need random
// access and the dispatcher may log them on failure.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Session owns the OAuth token and the HTTP transport. It builds
// authorization URLs, exchanges codes, refreshes tokens, and injects bearer
// tokens into outgoing requests.
//
// A Session is not safe for concurrent use: Refresh mutates the token that
// Send reads. The client is single-threaded by design; callers introducing
// parallelism must serialize refresh-then-send externally.
type Session struct {
	kind       string
	cfg        *oauth2.Config
	httpClient *http.Client
	token      *oauth2.Token
	baseHeader http.Header
	baseParams url.Values
	logger     *slog.Logger

	// now is the clock used for local expiry checks. Tests override it.
	now func() time.Time
}

// NewSession creates a session for the given client registration. A nil
// httpClient gets a client with no timeout: upload-sized transfers would
// trip any reasonable default, so callers wanting a timeout set one
// explicitly.
func NewSession(cc ClientConfig, httpClient *http.Client, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = &http.Client{Timeout: 0}
	}

	header := make(http.Header)
	header.Set("User-Agent", userAgent)

	return &Session{
		kind: cc.Kind,
		cfg: &oauth2.Config{
			ClientID:     cc.ID,
			ClientSecret: cc.Secret,
			Scopes:       []string{cc.Scope},
			RedirectURL:  redirectURI,
			Endpoint: oauth2.Endpoint{
				AuthURL:  authorizationURL,
				TokenURL: tokenURL,
			},
		},
		httpClient: httpClient,
		baseHeader: header,
		baseParams: make(url.Values),
		logger:     logger,
		now:        time.Now,
	}
}

// ClientKind returns the client registration kind ("musicmanager" or
// "mobileclient") this session was built for.
func (s *Session) ClientKind() string {
	return s.kind
}

// Token returns the current OAuth token, or nil when unauthenticated.
func (s *Session) Token() *oauth2.Token {
	return s.token
}

// SetToken installs a token wholesale, replacing any prior one.
func (s *Session) SetToken(tok *oauth2.Token) {
	s.token = tok
}

// Authorized reports whether the session holds a non-empty access token.
func (s *Session) Authorized() bool {
	return s.token != nil && s.token.AccessToken != ""
}

// SetBaseParam sets a session-level query parameter (locale, tier) attached
// to every dispatched call unless the call overrides the same name.
func (s *Session) SetBaseParam(key, value string) {
	s.baseParams.Set(key, value)
}

// BaseParams returns a copy of the session-level query parameters.
func (s *Session) BaseParams() url.Values {
	out := make(url.Values, len(s.baseParams))
	for k, vs := range s.baseParams {
		out[k] = append([]string(nil), vs...)
	}

	return out
}

// SetBaseHeader sets a session-level header (device ID) attached to every
// outgoing request.
func (s *Session) SetBaseHeader(key, value string) {
	s.baseHeader.Set(key, value)
}

// AuthorizationURL builds the interactive consent URL with a fresh
// anti-forgery state token, requesting offline access so a refresh token
// is issued.
func (s *Session) AuthorizationURL() (string, error) {
	state, err := generateState()
	if err != nil {
		return "", fmt.Errorf("sj: generating state token: %w", err)
	}

	return s.cfg.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "select_account"),
	), nil
}

// ExchangeCode completes the authorization-code grant and installs the
// resulting token. Fails with ErrAuthExchange when the token endpoint
// response is malformed or rejecting.
func (s *Session) ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	tok, err := s.cfg.Exchange(s.oauthContext(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthExchange, err)
	}

	s.token = tok
	s.logger.Info("authorization code exchanged", slog.Time("expiry", tok.Expiry))

	return tok, nil
}

// Refresh performs a refresh-token grant and installs the new token. When
// the server omits a refresh token in the response (some rotate it, some
// don't), the prior refresh token is preserved — the session must never
// lose the only refresh token it has. Fails with ErrAuthExpired when no
// refresh token is available, leaving the stored token untouched.
func (s *Session) Refresh(ctx context.Context) (*oauth2.Token, error) {
	if s.token == nil || s.token.RefreshToken == "" {
		return nil, ErrAuthExpired
	}

	prior := s.token.RefreshToken

	src := s.cfg.TokenSource(s.oauthContext(ctx), &oauth2.Token{RefreshToken: prior})

	tok, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("sj: refreshing token: %w", err)
	}

	if tok.RefreshToken == "" {
		tok.RefreshToken = prior
	}

	s.token = tok
	s.logger.Debug("token refreshed", slog.Time("expiry", tok.Expiry))

	return tok, nil
}

// Send attaches a valid bearer token to the request (refreshing first when
// the current token is expired per local clock), then performs the HTTP
// exchange. params are encoded into the URL query; header entries override
// session base headers of the same name.
func (s *Session) Send(
	ctx context.Context,
	method, rawURL string,
	header http.Header,
	body []byte,
	params url.Values,
	followRedirects bool,
) (*Response, error) {
	if s.Authorized() && !s.token.Valid() {
		s.logger.Debug("token expired, refreshing before send")

		if _, err := s.Refresh(ctx); err != nil {
			return nil, err
		}
	}

	req, err := s.buildRequest(ctx, method, rawURL, header, body, params)
	if err != nil {
		return nil, err
	}

	client := s.httpClient
	if !followRedirects {
		noRedirect := *client
		noRedirect.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
		client = &noRedirect
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sj: %s %s: %w", method, rawURL, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("sj: reading %s response: %w", rawURL, err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       respBody,
	}, nil
}

// buildRequest assembles the outgoing request with merged headers, query
// parameters, and the bearer token.
func (s *Session) buildRequest(
	ctx context.Context,
	method, rawURL string,
	header http.Header,
	body []byte,
	params url.Values,
) (*http.Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("sj: parsing url %s: %w", rawURL, err)
	}

	if len(params) > 0 {
		q := u.Query()
		for k, vs := range params {
			q[k] = vs
		}

		u.RawQuery = q.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("sj: creating request: %w", err)
	}

	for k, vs := range s.baseHeader {
		req.Header[k] = append([]string(nil), vs...)
	}

	for k, vs := range header {
		req.Header[k] = append([]string(nil), vs...)
	}

	if s.Authorized() {
		req.Header.Set("Authorization", "Bearer "+s.token.AccessToken)
	}

	return req, nil
}

// oauthContext binds the session's HTTP client to the context so the oauth2
// library uses the same transport for token-endpoint requests.
func (s *Session) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
}

// generateState produces a cryptographically random hex string for the
// OAuth2 state parameter.
func generateState() (string, error) {
	b := make([]byte, stateTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	return hex.EncodeToString(b), nil
}
