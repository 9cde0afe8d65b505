package auth_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alexedwards/scs/v2/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joestump/learnhub/internal/auth"
)

func newExchanger(p auth.SessionProvider, insecure bool) *auth.Exchanger {
	return auth.NewExchanger(p, auth.ExchangeConfig{
		CookieName:      testCookie,
		Lifetime:        time.Hour,
		InsecureCookies: insecure,
		Timeout:         time.Second,
	}, discardLogger())
}

func postExchange(e *auth.Exchanger, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodPost, "/api/auth/session", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		r.AddCookie(c)
	}
	rr := httptest.NewRecorder()
	e.Create(rr, r)
	return rr
}

func sessionCookie(t *testing.T, rr *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rr.Result().Cookies() {
		if c.Name == testCookie {
			return c
		}
	}
	return nil
}

func TestExchange_CreateSetsCookie(t *testing.T) {
	p := auth.NewStoreProvider(memstore.New(), subjectVerifier(), newUserStore(t), time.Hour)
	e := newExchanger(p, false)

	rr := postExchange(e, `{"token":"alice"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var id auth.Identity
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &id))
	assert.Equal(t, "alice@example.com", id.Email)

	c := sessionCookie(t, rr)
	require.NotNil(t, c)
	assert.NotEmpty(t, c.Value)
	assert.Equal(t, "/", c.Path)
	assert.True(t, c.HttpOnly)
	assert.True(t, c.Secure)
	assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
	assert.Equal(t, 3600, c.MaxAge)

	// The cookie resolves to the identity returned by the exchange.
	rs := newResolver(p, nil)
	r := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	r.AddCookie(&http.Cookie{Name: testCookie, Value: c.Value})
	resolved, err := rs.Resolve(r)
	require.NoError(t, err)
	assert.Equal(t, id.ID, resolved.ID)
}

func TestExchange_InsecureCookiesForLocalDevelopment(t *testing.T) {
	p := auth.NewStoreProvider(memstore.New(), subjectVerifier(), newUserStore(t), time.Hour)

	rr := postExchange(newExchanger(p, true), `{"token":"alice"}`)
	require.Equal(t, http.StatusOK, rr.Code)

	c := sessionCookie(t, rr)
	require.NotNil(t, c)
	assert.False(t, c.Secure)
	assert.True(t, c.HttpOnly)
}

func TestExchange_CreateErrors(t *testing.T) {
	rejecting := &mockProvider{exchange: func(context.Context, string) (*auth.Credential, *auth.Identity, error) {
		return nil, nil, auth.ErrInvalidCredential
	}}
	down := &mockProvider{exchange: func(context.Context, string) (*auth.Credential, *auth.Identity, error) {
		return nil, nil, errors.New("upstream 502")
	}}

	tests := []struct {
		name     string
		provider auth.SessionProvider
		body     string
		status   int
		code     string
	}{
		{"malformed body", rejecting, `{"token":`, http.StatusBadRequest, "bad_request"},
		{"empty token", rejecting, `{"token":""}`, http.StatusBadRequest, "bad_request"},
		{"rejected token", rejecting, `{"token":"forged"}`, http.StatusUnauthorized, "invalid_credential"},
		{"provider down", down, `{"token":"tok"}`, http.StatusServiceUnavailable, "provider_unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := postExchange(newExchanger(tt.provider, false), tt.body)
			assert.Equal(t, tt.status, rr.Code)
			_, code := decodeError(t, rr)
			assert.Equal(t, tt.code, code)
			assert.Nil(t, sessionCookie(t, rr), "no cookie may be written on failure")
		})
	}
}

func TestExchange_AbortedRequestWritesNothing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var revoked string
	p := &mockProvider{
		exchange: func(context.Context, string) (*auth.Credential, *auth.Identity, error) {
			cancel() // client goes away while the provider call is in flight
			return &auth.Credential{Token: "minted", ExpiresAt: time.Now().Add(time.Hour)}, alice, nil
		},
		revoke: func(_ context.Context, token string) error {
			revoked = token
			return nil
		},
	}
	e := newExchanger(p, false)

	r := httptest.NewRequest(http.MethodPost, "/api/auth/session", strings.NewReader(`{"token":"alice"}`)).WithContext(ctx)
	rr := httptest.NewRecorder()
	_, err := e.Establish(rr, r, "alice")

	assert.ErrorIs(t, err, auth.ErrProviderUnavailable)
	assert.Nil(t, sessionCookie(t, rr))
	assert.Equal(t, "minted", revoked)
}

func TestExchange_ReplacingCredentialRevokesOld(t *testing.T) {
	var revoked []string
	p := &mockProvider{
		exchange: func(context.Context, string) (*auth.Credential, *auth.Identity, error) {
			return &auth.Credential{Token: "new", ExpiresAt: time.Now().Add(time.Hour)}, alice, nil
		},
		revoke: func(_ context.Context, token string) error {
			revoked = append(revoked, token)
			return nil
		},
	}

	rr := postExchange(newExchanger(p, false), `{"token":"alice"}`, &http.Cookie{Name: testCookie, Value: "old"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []string{"old"}, revoked)
	assert.Equal(t, "new", sessionCookie(t, rr).Value)
}

func TestExchange_DeleteRevokesAndClears(t *testing.T) {
	p := auth.NewStoreProvider(memstore.New(), subjectVerifier(), newUserStore(t), time.Hour)
	e := newExchanger(p, false)

	created := postExchange(e, `{"token":"alice"}`)
	require.Equal(t, http.StatusOK, created.Code)
	token := sessionCookie(t, created).Value

	r := httptest.NewRequest(http.MethodDelete, "/api/auth/session", nil)
	r.AddCookie(&http.Cookie{Name: testCookie, Value: token})
	rr := httptest.NewRecorder()
	e.Delete(rr, r)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	c := sessionCookie(t, rr)
	require.NotNil(t, c)
	assert.Empty(t, c.Value)
	assert.Less(t, c.MaxAge, 0)
	assert.Equal(t, "/", c.Path)
	assert.True(t, c.HttpOnly)

	_, err := p.Validate(context.Background(), token)
	assert.ErrorIs(t, err, auth.ErrInvalidCredential)
}

func TestExchange_DeleteClearsEvenWhenRevokeFails(t *testing.T) {
	p := &mockProvider{revoke: func(context.Context, string) error { return errors.New("store down") }}
	e := newExchanger(p, false)

	r := withCookie(httptest.NewRequest(http.MethodDelete, "/api/auth/session", nil), "tok")
	rr := httptest.NewRecorder()
	e.Delete(rr, r)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	c := sessionCookie(t, rr)
	require.NotNil(t, c)
	assert.Less(t, c.MaxAge, 0)
}

func TestExchange_DeleteWithoutCredential(t *testing.T) {
	p := &mockProvider{revoke: func(context.Context, string) error {
		t.Fatal("nothing to revoke")
		return nil
	}}

	rr := httptest.NewRecorder()
	newExchanger(p, false).Delete(rr, httptest.NewRequest(http.MethodDelete, "/api/auth/session", nil))

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.NotNil(t, sessionCookie(t, rr))
}
