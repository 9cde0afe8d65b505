package handler

import (
	"net/http"
	"net/url"

	"github.com/joestump/learnhub/internal/auth"
)

// LandingHandler serves the public landing, login and signup pages.
type LandingHandler struct {
	homePath string
}

// NewLandingHandler creates a new LandingHandler. homePath is where
// signed-in visitors are pointed from the landing page.
func NewLandingHandler(homePath string) *LandingHandler {
	return &LandingHandler{homePath: homePath}
}

// LandingPage is the template data for GET /.
type LandingPage struct {
	BasePage
	HomePath string
}

// LoginPage is the template data for the login and signup pages.
type LoginPage struct {
	BasePage
	Signup   bool
	From     string
	Error    string
	StartURL string
}

// Index serves GET /. Signed-in visitors see the same page with a link to
// their dashboard; the root path is never redirected.
func (h *LandingHandler) Index(w http.ResponseWriter, r *http.Request) {
	render(w, "landing.html", LandingPage{BasePage: newBasePage(r), HomePath: h.homePath})
}

// Login serves GET /login?from=&error=.
func (h *LandingHandler) Login(w http.ResponseWriter, r *http.Request) {
	render(w, "login.html", newLoginPage(r, false))
}

// Signup serves GET /signup. Accounts are created on first sign-in, so it
// starts the same flow as Login.
func (h *LandingHandler) Signup(w http.ResponseWriter, r *http.Request) {
	render(w, "login.html", newLoginPage(r, true))
}

func newLoginPage(r *http.Request, signup bool) LoginPage {
	from := auth.SafeReturnPath(r.URL.Query().Get("from"))
	start := "/login/start"
	if from != "" {
		start += "?" + url.Values{"from": {from}}.Encode()
	}
	return LoginPage{
		BasePage: newBasePage(r),
		Signup:   signup,
		From:     from,
		Error:    loginErrorMessage(r.URL.Query().Get("error")),
		StartURL: start,
	}
}

func loginErrorMessage(indicator string) string {
	switch indicator {
	case "":
		return ""
	case "unavailable":
		return "We couldn't reach the sign-in service. Please try again in a moment."
	case "denied":
		return "Sign-in was cancelled."
	default:
		return "Sign-in failed. Please try again."
	}
}
