package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/joestump/learnhub/internal/metrics"
	"github.com/joestump/learnhub/internal/routes"
)

// CredentialState is what the Gate knows about a request's credential.
type CredentialState int

const (
	CredentialAbsent CredentialState = iota
	CredentialPresent
	// CredentialUnknown means the presence check itself failed.
	CredentialUnknown
)

func (s CredentialState) String() string {
	switch s {
	case CredentialPresent:
		return "present"
	case CredentialUnknown:
		return "unknown"
	default:
		return "absent"
	}
}

// Outcome is the routing instruction produced by the Gate.
type Outcome int

const (
	Allow Outcome = iota
	RedirectLogin
	RedirectHome
)

func (o Outcome) String() string {
	switch o {
	case RedirectLogin:
		return "redirect_login"
	case RedirectHome:
		return "redirect_home"
	default:
		return "allow"
	}
}

// Decision is an Outcome plus the redirect target, if any. It carries no
// identity data.
type Decision struct {
	Outcome  Outcome
	Location string
}

// PresenceFunc adapts a function to PresenceChecker.
type PresenceFunc func(ctx context.Context, token string) (bool, error)

func (f PresenceFunc) Present(ctx context.Context, token string) (bool, error) { return f(ctx, token) }

// GateConfig holds the Gate's cookie name, redirect targets and the bound on
// the presence check.
type GateConfig struct {
	CookieName string
	LoginPath  string
	HomePath   string
	Timeout    time.Duration
}

// Gate is the coarse allow/redirect check every page request passes through.
// It only checks presence; deep validation is left to the Resolver.
type Gate struct {
	table   *routes.Table
	checker PresenceChecker
	cfg     GateConfig
	log     *slog.Logger
}

// NewGate creates a Gate. checker may be nil, in which case a non-empty
// cookie counts as present.
func NewGate(table *routes.Table, checker PresenceChecker, cfg GateConfig, log *slog.Logger) *Gate {
	if cfg.LoginPath == "" {
		cfg.LoginPath = "/login"
	}
	if cfg.HomePath == "" {
		cfg.HomePath = "/dashboard"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	return &Gate{table: table, checker: checker, cfg: cfg, log: log}
}

// Decide maps a path and credential state to a Decision. It performs no I/O.
func (g *Gate) Decide(path string, state CredentialState) Decision {
	return g.decide(g.table.Classify(path), path, state)
}

func (g *Gate) decide(class routes.Class, path string, state CredentialState) Decision {
	switch class {
	case routes.Protected:
		switch state {
		case CredentialPresent:
			return Decision{Outcome: Allow}
		case CredentialUnknown:
			return Decision{Outcome: RedirectLogin, Location: LoginURL(g.cfg.LoginPath, path, true)}
		default:
			return Decision{Outcome: RedirectLogin, Location: LoginURL(g.cfg.LoginPath, path, false)}
		}
	case routes.Public:
		if state == CredentialPresent && !isRoot(path) {
			return Decision{Outcome: RedirectHome, Location: g.cfg.HomePath}
		}
	}
	return Decision{Outcome: Allow}
}

// Handler is chi-compatible middleware applying the Gate's decision.
func (g *Gate) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		class := g.table.Classify(path)

		state := CredentialAbsent
		if needsCredential(class, path) && !reportsAuthError(r) {
			state = g.credentialState(r)
		}

		d := g.decide(class, path, state)
		metrics.GateDecisionsTotal.WithLabelValues(class.String(), d.Outcome.String()).Inc()
		g.log.Debug("gate decision",
			"path", path,
			"class", class.String(),
			"credential", state.String(),
			"outcome", d.Outcome.String(),
		)

		if d.Outcome == Allow {
			next.ServeHTTP(w, r)
			return
		}
		http.Redirect(w, r, d.Location, http.StatusFound)
	})
}

func needsCredential(class routes.Class, path string) bool {
	switch class {
	case routes.Protected:
		return true
	case routes.Public:
		return !isRoot(path)
	}
	return false
}

// reportsAuthError is true for a public page carrying an error indicator,
// e.g. /login?error=unavailable. Such a page is always shown: the credential
// passed presence but failed full validation, and sending it home again
// would loop.
func reportsAuthError(r *http.Request) bool {
	return r.URL.Query().Get("error") != ""
}

func (g *Gate) credentialState(r *http.Request) CredentialState {
	c, err := r.Cookie(g.cfg.CookieName)
	if err != nil || c.Value == "" {
		return CredentialAbsent
	}
	if g.checker == nil {
		return CredentialPresent
	}

	ctx, cancel := context.WithTimeout(r.Context(), g.cfg.Timeout)
	defer cancel()

	ok, err := g.present(ctx, c.Value)
	if err != nil {
		g.log.Warn("gate presence check failed", "path", r.URL.Path, "error", err)
		return CredentialUnknown
	}
	if !ok {
		return CredentialAbsent
	}
	return CredentialPresent
}

// present runs the checker, converting a panic into an error.
func (g *Gate) present(ctx context.Context, token string) (ok bool, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			ok, err = false, fmt.Errorf("%w: presence check panic: %v", ErrProviderUnavailable, rec)
		}
	}()
	return g.checker.Present(ctx, token)
}

// LoginURL builds the login redirect carrying the original path as "from",
// plus error=unavailable when the identity backend failed.
func LoginURL(loginPath, from string, unavailable bool) string {
	q := url.Values{}
	if from != "" {
		q.Set("from", from)
	}
	if unavailable {
		q.Set("error", "unavailable")
	}
	if len(q) == 0 {
		return loginPath
	}
	return loginPath + "?" + q.Encode()
}

func isRoot(path string) bool {
	return path == "/" || path == ""
}
