package mirror_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alexedwards/scs/v2/memstore"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joestump/learnhub/internal/auth"
	"github.com/joestump/learnhub/internal/mirror"
	"github.com/joestump/learnhub/internal/store"
	"github.com/joestump/learnhub/internal/testutil"
)

const cookieName = "learnhub_session"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockVerifier accepts any token except "forged" and uses it as the subject.
type mockVerifier struct{}

func (mockVerifier) Verify(_ context.Context, raw string) (*auth.ProviderClaims, error) {
	if raw == "forged" {
		return nil, auth.ErrInvalidCredential
	}
	return &auth.ProviderClaims{Issuer: "https://id.example.com", Subject: raw, Email: raw + "@example.com", Name: raw}, nil
}

type testServer struct {
	*httptest.Server
	users *store.UserStore

	mu    sync.Mutex
	calls []string
	delay map[string]time.Duration
	// fail maps a method to the number of requests to answer with 502.
	fail  map[string]int
}

// record notes the call and reports whether it should fail.
func (s *testServer) record(method string) bool {
	s.mu.Lock()
	s.calls = append(s.calls, method)
	d := s.delay[method]
	fail := s.fail[method] > 0
	if fail {
		s.fail[method]--
	}
	s.mu.Unlock()
	time.Sleep(d)
	return fail
}

func badGateway(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadGateway)
	_, _ = w.Write([]byte(`{"error":"upstream unavailable","code":"bad_gateway"}`))
}

func (s *testServer) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	users := store.NewUserStore(testutil.NewTestDB(t), "")
	provider := auth.NewStoreProvider(memstore.New(), mockVerifier{}, users, time.Hour)
	exchanger := auth.NewExchanger(provider, auth.ExchangeConfig{
		CookieName: cookieName,
		Lifetime:   time.Hour,
		Timeout:    time.Second,
	}, discardLogger())
	resolver := auth.NewResolver(provider, nil, auth.ResolverConfig{CookieName: cookieName, Timeout: time.Second}, discardLogger())

	ts := &testServer{users: users, delay: map[string]time.Duration{}, fail: map[string]int{}}
	r := chi.NewRouter()
	r.Post(mirror.DefaultExchangePath, func(w http.ResponseWriter, r *http.Request) {
		if ts.record(http.MethodPost) {
			badGateway(w)
			return
		}
		exchanger.Create(w, r)
	})
	r.Delete(mirror.DefaultExchangePath, func(w http.ResponseWriter, r *http.Request) {
		if ts.record(http.MethodDelete) {
			badGateway(w)
			return
		}
		exchanger.Delete(w, r)
	})
	r.With(resolver.RequireIdentity).Get("/api/me", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(auth.IdentityFromContext(r.Context()))
	})

	ts.Server = httptest.NewTLSServer(r)
	t.Cleanup(ts.Close)
	return ts
}

func startMirror(t *testing.T, ts *testServer, navigate func(string)) *mirror.Mirror {
	t.Helper()
	m, err := mirror.New(mirror.Config{
		BaseURL:    ts.URL,
		HTTPClient: ts.Client(),
		Navigate:   navigate,
	}, discardLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return m
}

func waitFor(t *testing.T, ch <-chan mirror.State, pred func(mirror.State) bool) mirror.State {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case s := <-ch:
			if pred(s) {
				return s
			}
		case <-timeout:
			t.Fatal("timed out waiting for mirror state")
			return mirror.State{}
		}
	}
}

func signedInAs(email string) func(mirror.State) bool {
	return func(s mirror.State) bool { return s.Identity != nil && s.Identity.Email == email }
}

// resolveWithJar resolves the identity behind the mirror's cookie jar. The
// identity is nil unless the status is 200.
func resolveWithJar(t *testing.T, m *mirror.Mirror, ts *testServer) (int, *auth.Identity) {
	t.Helper()
	resp, err := m.Client().Get(ts.URL + "/api/me")
	require.NoError(t, err)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, nil
	}
	var id auth.Identity
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&id))
	return resp.StatusCode, &id
}

func TestMirror_SignInRoundTrip(t *testing.T) {
	ts := newTestServer(t)
	m := startMirror(t, ts, nil)
	states, unsubscribe := m.Subscribe()
	defer unsubscribe()

	require.NoError(t, m.SignedIn(context.Background(), "alice"))
	s := waitFor(t, states, signedInAs("alice@example.com"))
	assert.NoError(t, s.Err)
	assert.True(t, m.State().SignedIn())

	assert.Equal(t, "alice", s.Identity.Subject)

	status, id := resolveWithJar(t, m, ts)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "alice", id.Subject, "resolved identity carries the sign-in subject")
	assert.Equal(t, s.Identity.ID, id.ID)

	u, err := ts.users.GetByEmail(context.Background(), "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, id.ID)
}

func TestMirror_SignOutClearsAndNavigates(t *testing.T) {
	ts := newTestServer(t)
	navigated := make(chan string, 1)
	m := startMirror(t, ts, func(path string) { navigated <- path })
	states, unsubscribe := m.Subscribe()
	defer unsubscribe()

	require.NoError(t, m.SignedIn(context.Background(), "alice"))
	waitFor(t, states, signedInAs("alice@example.com"))

	require.NoError(t, m.SignedOut(context.Background()))
	s := waitFor(t, states, func(s mirror.State) bool { return s.Identity == nil })
	assert.NoError(t, s.Err)

	select {
	case path := <-navigated:
		assert.Equal(t, "/", path)
	case <-time.After(5 * time.Second):
		t.Fatal("sign-out did not navigate")
	}

	status, _ := resolveWithJar(t, m, ts)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestMirror_FailedExchangeClearsIdentity(t *testing.T) {
	ts := newTestServer(t)
	m := startMirror(t, ts, nil)
	states, unsubscribe := m.Subscribe()
	defer unsubscribe()

	require.NoError(t, m.SignedIn(context.Background(), "alice"))
	waitFor(t, states, signedInAs("alice@example.com"))

	require.NoError(t, m.SignedIn(context.Background(), "forged"))
	s := waitFor(t, states, func(s mirror.State) bool { return s.Err != nil })

	assert.Nil(t, s.Identity)
	assert.False(t, m.State().SignedIn())
	assert.ErrorIs(t, s.Err, auth.ErrInvalidCredential)

	var xerr *mirror.ExchangeError
	require.True(t, errors.As(s.Err, &xerr))
	assert.Equal(t, http.StatusUnauthorized, xerr.Status)
}

func TestMirror_OverlappingTransitionsAreSerialized(t *testing.T) {
	ts := newTestServer(t)
	m := startMirror(t, ts, nil)
	states, unsubscribe := m.Subscribe()
	defer unsubscribe()

	require.NoError(t, m.SignedIn(context.Background(), "alice"))
	waitFor(t, states, signedInAs("alice@example.com"))

	// A slow delete must finish before the following sign-in starts.
	ts.mu.Lock()
	ts.delay[http.MethodDelete] = 100 * time.Millisecond
	ts.mu.Unlock()

	require.NoError(t, m.SignedOut(context.Background()))
	require.NoError(t, m.SignedIn(context.Background(), "bob"))
	waitFor(t, states, signedInAs("bob@example.com"))

	assert.Equal(t, []string{http.MethodPost, http.MethodDelete, http.MethodPost}, ts.Calls())

	status, id := resolveWithJar(t, m, ts)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "bob", id.Subject)
	assert.Equal(t, m.State().Identity.ID, id.ID, "cookie and exposed identity agree")
}

func TestMirror_DuplicateTransitionsAreDropped(t *testing.T) {
	ts := newTestServer(t)
	m := startMirror(t, ts, nil)
	states, unsubscribe := m.Subscribe()
	defer unsubscribe()

	ctx := context.Background()
	require.NoError(t, m.SignedIn(ctx, "alice"))
	require.NoError(t, m.SignedIn(ctx, "alice"))
	require.NoError(t, m.SignedOut(ctx))
	require.NoError(t, m.SignedOut(ctx))
	require.NoError(t, m.SignedIn(ctx, "bob"))
	waitFor(t, states, signedInAs("bob@example.com"))

	assert.Equal(t, []string{http.MethodPost, http.MethodDelete, http.MethodPost}, ts.Calls())
}

func TestMirror_FailedSignInCanBeRetried(t *testing.T) {
	ts := newTestServer(t)
	m := startMirror(t, ts, nil)
	states, unsubscribe := m.Subscribe()
	defer unsubscribe()

	ctx := context.Background()
	require.NoError(t, m.SignedIn(ctx, "forged"))
	waitFor(t, states, func(s mirror.State) bool { return s.Err != nil })

	require.NoError(t, m.SignedIn(ctx, "forged"))
	waitFor(t, states, func(s mirror.State) bool { return s.Err != nil })

	assert.Equal(t, []string{http.MethodPost, http.MethodPost}, ts.Calls())
}

func TestMirror_FailedSignOutCanBeRetried(t *testing.T) {
	ts := newTestServer(t)
	m := startMirror(t, ts, nil)
	states, unsubscribe := m.Subscribe()
	defer unsubscribe()

	ctx := context.Background()
	require.NoError(t, m.SignedIn(ctx, "alice"))
	waitFor(t, states, signedInAs("alice@example.com"))

	ts.mu.Lock()
	ts.fail[http.MethodDelete] = 1
	ts.mu.Unlock()

	require.NoError(t, m.SignedOut(ctx))
	s := waitFor(t, states, func(s mirror.State) bool { return s.Err != nil })
	assert.Nil(t, s.Identity)
	var xerr *mirror.ExchangeError
	require.True(t, errors.As(s.Err, &xerr))
	assert.Equal(t, http.StatusBadGateway, xerr.Status)

	require.NoError(t, m.SignedOut(ctx))
	waitFor(t, states, func(s mirror.State) bool { return s.Identity == nil && s.Err == nil })

	assert.Equal(t, []string{http.MethodPost, http.MethodDelete, http.MethodDelete}, ts.Calls())
	status, _ := resolveWithJar(t, m, ts)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestMirror_UnreachableEndpoint(t *testing.T) {
	ts := newTestServer(t)
	url := ts.URL
	ts.Close()

	m, err := mirror.New(mirror.Config{BaseURL: url}, discardLogger())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Run(ctx) }()

	states, unsubscribe := m.Subscribe()
	defer unsubscribe()
	require.NoError(t, m.SignedIn(ctx, "alice"))
	s := waitFor(t, states, func(s mirror.State) bool { return s.Err != nil })

	assert.Nil(t, s.Identity)
	assert.ErrorIs(t, s.Err, auth.ErrProviderUnavailable)
}

func TestMirror_RunTwice(t *testing.T) {
	ts := newTestServer(t)
	m := startMirror(t, ts, nil)

	// Give the first Run a moment to claim the loop.
	require.Eventually(t, func() bool {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return errors.Is(m.Run(ctx), mirror.ErrAlreadyRunning)
	}, time.Second, 10*time.Millisecond)
}

func TestNew_InvalidBaseURL(t *testing.T) {
	_, err := mirror.New(mirror.Config{BaseURL: "not a url"}, discardLogger())
	assert.Error(t, err)
}
