package auth_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/joestump/learnhub/internal/auth"
	"github.com/joestump/learnhub/internal/routes"
	"github.com/joestump/learnhub/internal/store"
	"github.com/joestump/learnhub/internal/testutil"
)

const testCookie = "learnhub_session"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockVerifier implements auth.TokenVerifier.
type mockVerifier struct {
	verify func(ctx context.Context, raw string) (*auth.ProviderClaims, error)
}

func (m *mockVerifier) Verify(ctx context.Context, raw string) (*auth.ProviderClaims, error) {
	return m.verify(ctx, raw)
}

// subjectVerifier accepts any token and uses it as the subject.
func subjectVerifier() *mockVerifier {
	return &mockVerifier{verify: func(_ context.Context, raw string) (*auth.ProviderClaims, error) {
		return &auth.ProviderClaims{
			Issuer:  "https://id.example.com",
			Subject: raw,
			Email:   raw + "@example.com",
			Name:    raw,
		}, nil
	}}
}

// mockProvider implements auth.SessionProvider and auth.PresenceChecker.
type mockProvider struct {
	validate func(ctx context.Context, token string) (*auth.Identity, error)
	exchange func(ctx context.Context, providerToken string) (*auth.Credential, *auth.Identity, error)
	revoke   func(ctx context.Context, token string) error
	present  func(ctx context.Context, token string) (bool, error)
}

func (m *mockProvider) Name() string { return "mock" }

func (m *mockProvider) Validate(ctx context.Context, token string) (*auth.Identity, error) {
	return m.validate(ctx, token)
}

func (m *mockProvider) Exchange(ctx context.Context, providerToken string) (*auth.Credential, *auth.Identity, error) {
	return m.exchange(ctx, providerToken)
}

func (m *mockProvider) Revoke(ctx context.Context, token string) error {
	if m.revoke == nil {
		return nil
	}
	return m.revoke(ctx, token)
}

func (m *mockProvider) Present(ctx context.Context, token string) (bool, error) {
	return m.present(ctx, token)
}

func newUserStore(t *testing.T) *store.UserStore {
	t.Helper()
	return store.NewUserStore(testutil.NewTestDB(t), "admin@example.com")
}

func defaultTable(t *testing.T) *routes.Table {
	t.Helper()
	return routes.MustNew(routes.Config{
		Public:    []string{"/", "/login", "/signup"},
		Protected: []string{"/dashboard", "/courses", "/learn", "/interview", "/system-design", "/profile", "/admin"},
		Exempt:    []string{"/static", "/images", "/favicon.ico", "/api", "/metrics"},
	})
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

func withCookie(r *http.Request, value string) *http.Request {
	r.AddCookie(&http.Cookie{Name: testCookie, Value: value})
	return r
}
