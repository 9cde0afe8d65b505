package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/joestump/learnhub/internal/metrics"
	"github.com/joestump/learnhub/internal/routes"
)

// LastSeenToucher records that a user was active. store.UserStore satisfies it.
type LastSeenToucher interface {
	TouchLastSeen(ctx context.Context, userID string) error
}

// ResolverConfig holds the credential cookie name and the provider call bound.
type ResolverConfig struct {
	CookieName string
	Timeout    time.Duration
}

// Resolver validates the request's credential against the SessionProvider on
// every call. Nothing is cached between requests.
type Resolver struct {
	provider SessionProvider
	touch    LastSeenToucher
	cfg      ResolverConfig
	log      *slog.Logger
}

// NewResolver creates a Resolver. touch may be nil.
func NewResolver(provider SessionProvider, touch LastSeenToucher, cfg ResolverConfig, log *slog.Logger) *Resolver {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	return &Resolver{provider: provider, touch: touch, cfg: cfg, log: log}
}

// CredentialFromRequest returns the session credential from the named cookie,
// falling back to an "Authorization: Bearer" header.
func CredentialFromRequest(r *http.Request, cookieName string) string {
	if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
		return c.Value
	}
	return bearerToken(r)
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// requestCredentials lists the request's credentials in the order they are
// tried: the cookie first, then a distinct Bearer token.
func requestCredentials(r *http.Request, cookieName string) []string {
	var tokens []string
	if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
		tokens = append(tokens, c.Value)
	}
	if b := bearerToken(r); b != "" && (len(tokens) == 0 || tokens[0] != b) {
		tokens = append(tokens, b)
	}
	return tokens
}

// Resolve returns the identity behind the request's credential. Errors match
// ErrMissingCredential, ErrInvalidCredential or ErrProviderUnavailable.
//
// The cookie is tried first. When it is invalid, a Bearer token on the same
// request is tried next; a provider failure ends resolution immediately.
func (rs *Resolver) Resolve(r *http.Request) (*Identity, error) {
	tokens := requestCredentials(r, rs.cfg.CookieName)
	if len(tokens) == 0 {
		metrics.ResolutionsTotal.WithLabelValues("missing").Inc()
		return nil, ErrMissingCredential
	}

	ctx, cancel := context.WithTimeout(r.Context(), rs.cfg.Timeout)
	defer cancel()

	var id *Identity
	var err error
	for _, token := range tokens {
		id, err = rs.validate(ctx, token)
		if !errors.Is(err, ErrInvalidCredential) {
			break
		}
	}
	if err != nil {
		metrics.ResolutionsTotal.WithLabelValues(resultLabel(err)).Inc()
		if errors.Is(err, ErrProviderUnavailable) {
			rs.log.Warn("session resolution failed", "error", err)
		}
		return nil, err
	}
	metrics.ResolutionsTotal.WithLabelValues("ok").Inc()

	if rs.touch != nil {
		go rs.touchLastSeen(context.WithoutCancel(r.Context()), id.ID)
	}
	return id, nil
}

func (rs *Resolver) validate(ctx context.Context, token string) (id *Identity, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			id, err = nil, fmt.Errorf("%w: validate panic: %v", ErrProviderUnavailable, rec)
		}
	}()

	id, err = rs.provider.Validate(ctx, token)
	switch {
	case err == nil && id == nil:
		return nil, fmt.Errorf("%w: provider returned no identity", ErrProviderUnavailable)
	case err == nil:
		return id, nil
	case errors.Is(err, ErrProviderUnavailable):
		return nil, err
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return nil, fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
	case errors.Is(err, ErrInvalidCredential):
		return nil, err
	case errors.Is(err, ErrMissingCredential):
		return nil, ErrMissingCredential
	default:
		return nil, fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
	}
}

func (rs *Resolver) touchLastSeen(ctx context.Context, userID string) {
	ctx, cancel := context.WithTimeout(ctx, rs.cfg.Timeout)
	defer cancel()
	if err := rs.touch.TouchLastSeen(ctx, userID); err != nil {
		rs.log.Warn("failed to update last seen", "user_id", userID, "error", err)
	}
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, ErrProviderUnavailable):
		return "unavailable"
	case errors.Is(err, ErrInvalidCredential):
		return "invalid"
	default:
		return "missing"
	}
}

// RequireIdentity rejects API requests without a valid identity: 401 for a
// missing or invalid credential, 503 when the provider is unavailable.
func (rs *Resolver) RequireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := rs.Resolve(r)
		if err != nil {
			writeAuthError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

// OptionalIdentity attaches the identity when one resolves and never rejects.
func (rs *Resolver) OptionalIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id, err := rs.Resolve(r); err == nil {
			r = r.WithContext(WithIdentity(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

// CredentialClearer removes the credential cookie. Exchanger satisfies it.
type CredentialClearer interface {
	Clear(w http.ResponseWriter, r *http.Request) error
}

// RequirePage is the page-level guard. Protected paths in table require an
// identity and redirect to loginPath otherwise, adding error=unavailable when
// the provider failed. Other paths resolve optionally. A cookie holding an
// invalid credential is cleared through stale, which may be nil.
func (rs *Resolver) RequirePage(table *routes.Table, loginPath string, stale CredentialClearer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := rs.Resolve(r)
			if err == nil {
				next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
				return
			}
			if stale != nil && errors.Is(err, ErrInvalidCredential) && rs.hasCookie(r) {
				if cerr := stale.Clear(w, r); cerr != nil {
					rs.log.Debug("revoke of stale credential failed", "error", cerr)
				}
			}
			if !table.IsProtected(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}
			unavailable := errors.Is(err, ErrProviderUnavailable)
			http.Redirect(w, r, LoginURL(loginPath, r.URL.Path, unavailable), http.StatusFound)
		})
	}
}

func (rs *Resolver) hasCookie(r *http.Request) bool {
	c, err := r.Cookie(rs.cfg.CookieName)
	return err == nil && c.Value != ""
}

// RequireRole responds 403 unless the resolved identity carries role. It must
// run after RequireIdentity or RequirePage.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := IdentityFromContext(r.Context())
			if id == nil {
				writeAuthError(w, ErrMissingCredential)
				return
			}
			if !id.HasRole(role) {
				writeJSONError(w, http.StatusForbidden, "forbidden", "insufficient_role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// StatusForError maps a resolution error to its HTTP status and error code.
func StatusForError(err error) (int, string) {
	switch {
	case errors.Is(err, ErrProviderUnavailable):
		return http.StatusServiceUnavailable, "provider_unavailable"
	case errors.Is(err, ErrInvalidCredential):
		return http.StatusUnauthorized, "invalid_credential"
	default:
		return http.StatusUnauthorized, "missing_credential"
	}
}

func writeAuthError(w http.ResponseWriter, err error) {
	status, code := StatusForError(err)
	msg := "unauthorized"
	if status == http.StatusServiceUnavailable {
		msg = "identity provider unavailable"
		w.Header().Set("Retry-After", "5")
	}
	writeJSONError(w, status, msg, code)
}

func writeJSONError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}{message, code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
