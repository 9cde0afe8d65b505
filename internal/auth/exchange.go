package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/joestump/learnhub/internal/metrics"
)

const maxExchangeBody = 64 << 10

// ExchangeConfig holds the credential cookie attributes and the provider
// call bound.
type ExchangeConfig struct {
	CookieName      string
	Lifetime        time.Duration
	InsecureCookies bool
	Timeout         time.Duration
}

// Exchanger is the only writer of the session credential cookie. It backs
// the exchange endpoint and the end of the server-side login flow.
type Exchanger struct {
	provider SessionProvider
	cfg      ExchangeConfig
	log      *slog.Logger
}

// NewExchanger creates an Exchanger for provider.
func NewExchanger(provider SessionProvider, cfg ExchangeConfig, log *slog.Logger) *Exchanger {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	return &Exchanger{provider: provider, cfg: cfg, log: log}
}

// Establish trades providerToken for a session credential and sets the
// cookie. The cookie is written only after the provider call succeeded and
// only while the request is still live; a credential minted for an aborted
// request is revoked.
func (e *Exchanger) Establish(w http.ResponseWriter, r *http.Request, providerToken string) (*Identity, error) {
	ctx, cancel := context.WithTimeout(r.Context(), e.cfg.Timeout)
	defer cancel()

	cred, id, err := e.provider.Exchange(ctx, providerToken)
	if err != nil {
		return nil, unavailable(err)
	}
	if err := r.Context().Err(); err != nil {
		e.revokeDetached(r.Context(), cred.Token)
		return nil, fmt.Errorf("%w: request aborted: %w", ErrProviderUnavailable, err)
	}

	if old := CredentialFromRequest(r, e.cfg.CookieName); old != "" && old != cred.Token {
		e.revokeDetached(r.Context(), old)
	}

	http.SetCookie(w, e.cookie(cred.Token, int(e.cfg.Lifetime.Seconds())))
	return id, nil
}

// Clear revokes the request's credential, if any, and always clears the
// cookie. The revoke error is returned for logging only.
func (e *Exchanger) Clear(w http.ResponseWriter, r *http.Request) error {
	var err error
	if token := CredentialFromRequest(r, e.cfg.CookieName); token != "" {
		ctx, cancel := context.WithTimeout(r.Context(), e.cfg.Timeout)
		err = e.provider.Revoke(ctx, token)
		cancel()
	}
	http.SetCookie(w, e.cookie("", -1))
	return err
}

func (e *Exchanger) cookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     e.cfg.CookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   !e.cfg.InsecureCookies,
		SameSite: http.SameSiteLaxMode,
	}
}

func (e *Exchanger) revokeDetached(parent context.Context, token string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), e.cfg.Timeout)
	defer cancel()
	if err := e.provider.Revoke(ctx, token); err != nil {
		e.log.Warn("failed to revoke credential", "error", err)
	}
}

type exchangeRequest struct {
	Token string `json:"token"`
}

// Create handles POST /api/auth/session.
//
// @Summary      Exchange a provider token for a session
// @Description  Verifies an identity-provider ID token and sets the HttpOnly session cookie.
// @Tags         Session
// @Accept       json
// @Produce      json
// @Param        body  body      object{token=string}  true  "Identity-provider ID token"
// @Success      200   {object}  Identity
// @Failure      400   {object}  api.ErrorResponse
// @Failure      401   {object}  api.ErrorResponse
// @Failure      503   {object}  api.ErrorResponse
// @Router       /auth/session [post]
func (e *Exchanger) Create(w http.ResponseWriter, r *http.Request) {
	var req exchangeRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxExchangeBody))
	if err := dec.Decode(&req); err != nil || req.Token == "" {
		metrics.ExchangesTotal.WithLabelValues("create", "bad_request").Inc()
		writeJSONError(w, http.StatusBadRequest, "request body must be {\"token\": \"...\"}", "bad_request")
		return
	}

	id, err := e.Establish(w, r, req.Token)
	if err != nil {
		status, code := StatusForError(err)
		metrics.ExchangesTotal.WithLabelValues("create", code).Inc()
		if status == http.StatusServiceUnavailable {
			e.log.Error("credential exchange failed", "error", err)
			writeAuthError(w, err)
			return
		}
		e.log.Info("credential exchange rejected", "error", err)
		writeJSONError(w, status, "provider token rejected", code)
		return
	}

	metrics.ExchangesTotal.WithLabelValues("create", "ok").Inc()
	writeJSON(w, http.StatusOK, id)
}

// Delete handles DELETE /api/auth/session. The cookie is cleared even when
// revocation fails.
//
// @Summary      End the session
// @Tags         Session
// @Success      204
// @Router       /auth/session [delete]
func (e *Exchanger) Delete(w http.ResponseWriter, r *http.Request) {
	result := "ok"
	if err := e.Clear(w, r); err != nil && !errors.Is(err, ErrInvalidCredential) {
		result = "revoke_failed"
		e.log.Warn("credential revoke failed; cookie cleared anyway", "error", err)
	}
	metrics.ExchangesTotal.WithLabelValues("delete", result).Inc()
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusNoContent)
}
