package api_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alexedwards/scs/v2/memstore"
	"github.com/stretchr/testify/require"

	"github.com/joestump/learnhub/internal/api"
	"github.com/joestump/learnhub/internal/auth"
	"github.com/joestump/learnhub/internal/store"
	"github.com/joestump/learnhub/internal/testutil"
)

const cookieName = "learnhub_session"

// emailVerifier accepts any provider token and signs the caller in as
// <token>@example.com.
type emailVerifier struct{}

func (emailVerifier) Verify(_ context.Context, raw string) (*auth.ProviderClaims, error) {
	if raw == "forged" {
		return nil, auth.ErrInvalidCredential
	}
	return &auth.ProviderClaims{Issuer: "https://id.example.com", Subject: raw, Email: raw + "@example.com", Name: raw}, nil
}

// testEnv holds the router and the collaborators behind it.
type testEnv struct {
	Router    http.Handler
	Users     *store.UserStore
	Provider  *auth.StoreProvider
	pingError error
}

// newTestEnv wires the API router against an in-memory SQLite database and a
// memstore-backed session provider.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	users := store.NewUserStore(testutil.NewTestDB(t), "admin@example.com")
	provider := auth.NewStoreProvider(memstore.New(), emailVerifier{}, users, time.Hour)

	env := &testEnv{Users: users, Provider: provider}
	env.Router = api.NewRouter(api.Deps{
		Resolver: auth.NewResolver(provider, users, auth.ResolverConfig{CookieName: cookieName, Timeout: time.Second}, log),
		Exchanger: auth.NewExchanger(provider, auth.ExchangeConfig{
			CookieName: cookieName,
			Lifetime:   time.Hour,
			Timeout:    time.Second,
		}, log),
		Users: users,
		Ping:  func(context.Context) error { return env.pingError },
		Log:   log,
	})
	return env
}

// signIn exchanges a provider token and returns the session credential.
func signIn(t *testing.T, env *testEnv, name string) (string, *auth.Identity) {
	t.Helper()
	cred, id, err := env.Provider.Exchange(context.Background(), name)
	require.NoError(t, err)
	return cred.Token, id
}

func do(env *testEnv, method, target, body, credential string) *httptest.ResponseRecorder {
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	if credential != "" {
		r.AddCookie(&http.Cookie{Name: cookieName, Value: credential})
	}
	rec := httptest.NewRecorder()
	env.Router.ServeHTTP(rec, r)
	return rec
}

var errDatabaseDown = errors.New("database is down")
