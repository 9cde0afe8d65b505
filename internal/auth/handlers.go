package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/sessions"
)

const (
	flowSessionName = "learnhub_flow"
	flowStateKey    = "state"
	flowVerifierKey = "verifier"
	flowFromKey     = "from"
	flowMaxAge      = 300 // 5 minutes
)

// CodeExchanger is the authorization-code half of the OIDC provider.
type CodeExchanger interface {
	AuthCodeURL(state, codeChallenge string) string
	ExchangeCode(ctx context.Context, code, codeVerifier string) (string, error)
}

// LoginFlowConfig holds the flow cookie secret and redirect targets.
type LoginFlowConfig struct {
	FlowSecret      []byte
	InsecureCookies bool
	LoginPath       string
	HomePath        string
}

// LoginFlow provides HTTP handlers for the server-side OIDC authorization
// code flow. State, PKCE verifier and return path live in a signed,
// short-lived flow cookie; the credential itself is written by the Exchanger.
type LoginFlow struct {
	oidc      CodeExchanger
	exchanger *Exchanger
	flows     *sessions.CookieStore
	cfg       LoginFlowConfig
	log       *slog.Logger
}

// NewLoginFlow creates the login flow handlers.
func NewLoginFlow(oidc CodeExchanger, exchanger *Exchanger, cfg LoginFlowConfig, log *slog.Logger) *LoginFlow {
	store := sessions.NewCookieStore(cfg.FlowSecret)
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   flowMaxAge,
		HttpOnly: true,
		Secure:   !cfg.InsecureCookies,
		SameSite: http.SameSiteLaxMode,
	}
	if cfg.LoginPath == "" {
		cfg.LoginPath = "/login"
	}
	if cfg.HomePath == "" {
		cfg.HomePath = "/dashboard"
	}
	return &LoginFlow{oidc: oidc, exchanger: exchanger, flows: store, cfg: cfg, log: log}
}

// Start initiates the authorization code flow with PKCE. GET /login/start?from=
func (f *LoginFlow) Start(w http.ResponseWriter, r *http.Request) {
	state, err := GenerateState()
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	verifier, challenge, err := GeneratePKCE()
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	// A stale or tampered flow cookie is replaced.
	flow, _ := f.flows.New(r, flowSessionName)
	flow.Values[flowStateKey] = state
	flow.Values[flowVerifierKey] = verifier
	flow.Values[flowFromKey] = SafeReturnPath(r.URL.Query().Get("from"))
	if err := flow.Save(r, w); err != nil {
		f.log.Error("failed to save login flow", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, f.oidc.AuthCodeURL(state, challenge), http.StatusFound)
}

// Callback handles the identity provider redirect. GET /auth/callback
func (f *LoginFlow) Callback(w http.ResponseWriter, r *http.Request) {
	flow, err := f.flows.Get(r, flowSessionName)
	if err != nil || flow.IsNew {
		http.Error(w, "invalid state", http.StatusBadRequest)
		return
	}
	state, _ := flow.Values[flowStateKey].(string)
	verifier, _ := flow.Values[flowVerifierKey].(string)
	from, _ := flow.Values[flowFromKey].(string)

	// The flow cookie is single use.
	flow.Options.MaxAge = -1
	if err := flow.Save(r, w); err != nil {
		f.log.Warn("failed to clear login flow", "error", err)
	}

	q := r.URL.Query()
	if state == "" || q.Get("state") != state {
		http.Error(w, "invalid state", http.StatusBadRequest)
		return
	}
	if idpErr := q.Get("error"); idpErr != "" {
		f.log.Info("identity provider returned an error", "error", idpErr)
		f.failed(w, r, from, "denied")
		return
	}

	rawIDToken, err := f.oidc.ExchangeCode(r.Context(), q.Get("code"), verifier)
	if err != nil {
		f.log.Warn("authorization code exchange failed", "error", err)
		f.failed(w, r, from, errorIndicator(err))
		return
	}

	id, err := f.exchanger.Establish(w, r, rawIDToken)
	if err != nil {
		f.log.Warn("sign-in failed", "error", err)
		f.failed(w, r, from, errorIndicator(err))
		return
	}
	f.log.Info("user signed in", "user_id", id.ID, "role", id.Role)

	if from == "" {
		from = f.cfg.HomePath
	}
	http.Redirect(w, r, from, http.StatusFound)
}

// Logout revokes the credential and returns to the landing page. POST /logout
func (f *LoginFlow) Logout(w http.ResponseWriter, r *http.Request) {
	if err := f.exchanger.Clear(w, r); err != nil {
		f.log.Warn("credential revoke failed during logout", "error", err)
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (f *LoginFlow) failed(w http.ResponseWriter, r *http.Request, from, indicator string) {
	q := url.Values{"error": {indicator}}
	if from != "" {
		q.Set("from", from)
	}
	http.Redirect(w, r, f.cfg.LoginPath+"?"+q.Encode(), http.StatusFound)
}

func errorIndicator(err error) string {
	if errors.Is(err, ErrProviderUnavailable) {
		return "unavailable"
	}
	return "failed"
}

// SafeReturnPath returns from when it is a local absolute path, otherwise "".
// Scheme-relative ("//host") and backslash forms are rejected.
func SafeReturnPath(from string) string {
	if from == "" || !strings.HasPrefix(from, "/") {
		return ""
	}
	if strings.HasPrefix(from, "//") || strings.HasPrefix(from, "/\\") || strings.ContainsAny(from, "\r\n") {
		return ""
	}
	u, err := url.Parse(from)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return ""
	}
	return from
}
