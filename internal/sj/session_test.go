package sj

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

// tokenEndpointResponse is what the fake OAuth token endpoint returns.
type tokenEndpointResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// newTokenEndpoint spins up a fake token endpoint. The handler receives the
// parsed form and decides the response.
func newTokenEndpoint(t *testing.T, handle func(form url.Values, w http.ResponseWriter)) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		handle(r.PostForm, w)
	}))
}

func grantToken(w http.ResponseWriter, resp tokenEndpointResponse) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// newTestSession builds a session whose token endpoint points at srv.
func newTestSession(srv *httptest.Server) *Session {
	s := NewSession(MusicManager, http.DefaultClient, slog.Default())
	s.cfg.Endpoint.TokenURL = srv.URL

	return s
}

func validToken() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		TokenType:    "Bearer",
		Expiry:       time.Now().Add(time.Hour),
	}
}

func TestAuthorizationURL_Shape(t *testing.T) {
	s := NewSession(MusicManager, nil, slog.Default())

	rawURL, err := s.AuthorizationURL()
	require.NoError(t, err)

	u, err := url.Parse(rawURL)
	require.NoError(t, err)

	q := u.Query()
	assert.Equal(t, MusicManager.ID, q.Get("client_id"))
	assert.Equal(t, "urn:ietf:wg:oauth:2.0:oob", q.Get("redirect_uri"))
	assert.Equal(t, "offline", q.Get("access_type"))
	assert.Equal(t, "select_account", q.Get("prompt"))
	assert.Equal(t, MusicManager.Scope, q.Get("scope"))
	assert.NotEmpty(t, q.Get("state"))
}

func TestAuthorizationURL_FreshStatePerCall(t *testing.T) {
	s := NewSession(MusicManager, nil, slog.Default())

	first, err := s.AuthorizationURL()
	require.NoError(t, err)

	second, err := s.AuthorizationURL()
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestExchangeCode_InstallsToken(t *testing.T) {
	srv := newTokenEndpoint(t, func(form url.Values, w http.ResponseWriter) {
		assert.Equal(t, "authorization_code", form.Get("grant_type"))
		assert.Equal(t, "the-code", form.Get("code"))

		grantToken(w, tokenEndpointResponse{
			AccessToken:  "access-new",
			RefreshToken: "refresh-new",
			TokenType:    "Bearer",
			ExpiresIn:    3600,
		})
	})
	defer srv.Close()

	s := newTestSession(srv)

	tok, err := s.ExchangeCode(context.Background(), "the-code")
	require.NoError(t, err)
	assert.Equal(t, "access-new", tok.AccessToken)
	assert.Equal(t, "refresh-new", tok.RefreshToken)
	assert.True(t, s.Authorized())
}

func TestExchangeCode_FailureWrapsSentinel(t *testing.T) {
	srv := newTokenEndpoint(t, func(_ url.Values, w http.ResponseWriter) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error": "invalid_grant"}`))
	})
	defer srv.Close()

	s := newTestSession(srv)

	_, err := s.ExchangeCode(context.Background(), "bad-code")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuthExchange)
	assert.False(t, s.Authorized())
}

func TestRefresh_PreservesRefreshTokenWhenOmitted(t *testing.T) {
	srv := newTokenEndpoint(t, func(form url.Values, w http.ResponseWriter) {
		assert.Equal(t, "refresh_token", form.Get("grant_type"))
		assert.Equal(t, "refresh-1", form.Get("refresh_token"))

		// No refresh_token in the response: the server kept the old one.
		grantToken(w, tokenEndpointResponse{
			AccessToken: "access-2",
			TokenType:   "Bearer",
			ExpiresIn:   3600,
		})
	})
	defer srv.Close()

	s := newTestSession(srv)
	s.SetToken(validToken())

	tok, err := s.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-2", tok.AccessToken)
	assert.Equal(t, "refresh-1", tok.RefreshToken, "prior refresh token must survive")
	assert.Same(t, tok, s.Token())
}

func TestRefresh_AdoptsRotatedRefreshToken(t *testing.T) {
	srv := newTokenEndpoint(t, func(_ url.Values, w http.ResponseWriter) {
		grantToken(w, tokenEndpointResponse{
			AccessToken:  "access-2",
			RefreshToken: "refresh-2",
			TokenType:    "Bearer",
			ExpiresIn:    3600,
		})
	})
	defer srv.Close()

	s := newTestSession(srv)
	s.SetToken(validToken())

	tok, err := s.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "refresh-2", tok.RefreshToken)
}

func TestRefresh_NoRefreshTokenFailsWithoutMutation(t *testing.T) {
	s := NewSession(MusicManager, nil, slog.Default())

	tok := &oauth2.Token{AccessToken: "access-only"}
	s.SetToken(tok)

	_, err := s.Refresh(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuthExpired)
	assert.Same(t, tok, s.Token(), "failed refresh must not replace the token")
}

func TestRefresh_NilTokenFails(t *testing.T) {
	s := NewSession(MusicManager, nil, slog.Default())

	_, err := s.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrAuthExpired)
}

func TestRefresh_EndpointFailureKeepsToken(t *testing.T) {
	srv := newTokenEndpoint(t, func(_ url.Values, w http.ResponseWriter) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error": "invalid_grant"}`))
	})
	defer srv.Close()

	s := newTestSession(srv)

	tok := validToken()
	s.SetToken(tok)

	_, err := s.Refresh(context.Background())
	require.Error(t, err)
	assert.Same(t, tok, s.Token())
}

func TestSend_AttachesBearerAndMergedHeaders(t *testing.T) {
	var gotHeader http.Header

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Clone()
		_, _ = w.Write([]byte(`ok`))
	}))
	defer srv.Close()

	s := NewSession(MusicManager, nil, slog.Default())
	s.SetToken(validToken())
	s.SetBaseHeader("X-Device-ID", "AA:BB:CC:DD:EE:FF")
	s.SetBaseHeader("X-Overridable", "base")

	callHeader := make(http.Header)
	callHeader.Set("X-Overridable", "call")

	resp, err := s.Send(context.Background(), http.MethodGet, srv.URL, callHeader, nil, nil, true)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []byte(`ok`), resp.Body)
	assert.Equal(t, "Bearer access-1", gotHeader.Get("Authorization"))
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", gotHeader.Get("X-Device-ID"))
	assert.Equal(t, "call", gotHeader.Get("X-Overridable"), "call header wins over session base")
	assert.Equal(t, userAgent, gotHeader.Get("User-Agent"))
}

func TestSend_RefreshesExpiredTokenFirst(t *testing.T) {
	var tokenCalls atomic.Int32

	tokenSrv := newTokenEndpoint(t, func(_ url.Values, w http.ResponseWriter) {
		tokenCalls.Add(1)
		grantToken(w, tokenEndpointResponse{
			AccessToken: "access-fresh",
			TokenType:   "Bearer",
			ExpiresIn:   3600,
		})
	})
	defer tokenSrv.Close()

	var gotAuth string

	apiSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer apiSrv.Close()

	s := newTestSession(tokenSrv)
	s.SetToken(&oauth2.Token{
		AccessToken:  "access-stale",
		RefreshToken: "refresh-1",
		Expiry:       time.Now().Add(-time.Minute),
	})

	_, err := s.Send(context.Background(), http.MethodGet, apiSrv.URL, nil, nil, nil, true)
	require.NoError(t, err)

	assert.Equal(t, int32(1), tokenCalls.Load())
	assert.Equal(t, "Bearer access-fresh", gotAuth)
}

func TestSend_EncodesParams(t *testing.T) {
	var gotQuery url.Values

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		_, _ = w.Write([]byte(`ok`))
	}))
	defer srv.Close()

	s := NewSession(MusicManager, nil, slog.Default())

	params := url.Values{"version": []string{"1"}, "hl": []string{"en_US"}}

	_, err := s.Send(context.Background(), http.MethodGet, srv.URL+"?fixed=yes", nil, nil, params, true)
	require.NoError(t, err)

	assert.Equal(t, "1", gotQuery.Get("version"))
	assert.Equal(t, "en_US", gotQuery.Get("hl"))
	assert.Equal(t, "yes", gotQuery.Get("fixed"), "query already in the URL survives")
}

func TestSend_RedirectPolicy(t *testing.T) {
	final := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`followed`))
	}))
	defer final.Close()

	redirecting := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, final.URL, http.StatusFound)
	}))
	defer redirecting.Close()

	s := NewSession(MusicManager, nil, slog.Default())

	followed, err := s.Send(context.Background(), http.MethodGet, redirecting.URL, nil, nil, nil, true)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, followed.StatusCode)
	assert.Equal(t, []byte(`followed`), followed.Body)

	stopped, err := s.Send(context.Background(), http.MethodGet, redirecting.URL, nil, nil, nil, false)
	require.NoError(t, err)
	assert.Equal(t, http.StatusFound, stopped.StatusCode)
	assert.Equal(t, final.URL, stopped.Header.Get("Location"))
}

func TestBaseParams_ReturnsCopy(t *testing.T) {
	s := NewSession(MusicManager, nil, slog.Default())
	s.SetBaseParam("hl", "en_US")

	got := s.BaseParams()
	got.Set("hl", "mutated")
	got.Set("new", "value")

	assert.Equal(t, "en_US", s.BaseParams().Get("hl"))
	assert.Empty(t, s.BaseParams().Get("new"))
}

func TestAuthorized(t *testing.T) {
	s := NewSession(MusicManager, nil, slog.Default())
	assert.False(t, s.Authorized())

	s.SetToken(&oauth2.Token{})
	assert.False(t, s.Authorized())

	s.SetToken(validToken())
	assert.True(t, s.Authorized())

	s.SetToken(nil)
	assert.False(t, s.Authorized())
}

func TestClientKind(t *testing.T) {
	assert.Equal(t, "musicmanager", NewSession(MusicManager, nil, slog.Default()).ClientKind())
	assert.Equal(t, "mobileclient", NewSession(MobileClient, nil, slog.Default()).ClientKind())
}
