package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/joestump/learnhub/internal/config"
)

// OIDCProvider wraps an OIDC provider with OAuth2 configuration and ID token
// verification. It is both the TokenVerifier used by the session providers and
// the code exchanger used by the server-side login flow.
type OIDCProvider struct {
	verifier     *gooidc.IDTokenVerifier
	oauth2Config oauth2.Config
}

// OIDCEndpoints are the identity provider URLs found by discovery.
type OIDCEndpoints struct {
	Issuer   string `json:"issuer"`
	AuthURL  string `json:"authorization_endpoint"`
	TokenURL string `json:"token_endpoint"`
	JWKSURL  string `json:"jwks_uri"`

	// SigningAlgs defaults to RS256 when empty.
	SigningAlgs []string `json:"id_token_signing_alg_values_supported"`
}

// OIDCClient is the relying-party registration.
type OIDCClient struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// NewOIDCProvider performs OIDC discovery and returns a configured provider.
func NewOIDCProvider(ctx context.Context, cfg *config.Config) (*OIDCProvider, error) {
	provider, err := gooidc.NewProvider(ctx, cfg.OIDC.Issuer)
	if err != nil {
		return nil, fmt.Errorf("OIDC provider discovery failed for %s: %w", cfg.OIDC.Issuer, err)
	}

	var ep OIDCEndpoints
	if err := provider.Claims(&ep); err != nil {
		return nil, fmt.Errorf("decode OIDC discovery document: %w", err)
	}
	return NewOIDCProviderFromEndpoints(ctx, ep, OIDCClient{
		ClientID:     cfg.OIDC.ClientID,
		ClientSecret: cfg.OIDC.ClientSecret,
		RedirectURL:  cfg.OIDC.RedirectURL,
	}), nil
}

// NewOIDCProviderFromEndpoints builds a provider without discovery. ctx bounds
// the lifetime of background key fetches.
func NewOIDCProviderFromEndpoints(ctx context.Context, ep OIDCEndpoints, client OIDCClient) *OIDCProvider {
	keys := &trackedKeySet{remote: gooidc.NewRemoteKeySet(ctx, ep.JWKSURL)}
	verifier := gooidc.NewVerifier(ep.Issuer, keys, &gooidc.Config{
		ClientID:             client.ClientID,
		SupportedSigningAlgs: ep.SigningAlgs,
	})

	oauth2Cfg := oauth2.Config{
		ClientID:     client.ClientID,
		ClientSecret: client.ClientSecret,
		RedirectURL:  client.RedirectURL,
		Endpoint:     oauth2.Endpoint{AuthURL: ep.AuthURL, TokenURL: ep.TokenURL},
		Scopes:       []string{gooidc.ScopeOpenID, "profile", "email"},
	}

	return &OIDCProvider{
		verifier:     verifier,
		oauth2Config: oauth2Cfg,
	}
}

type keyFetchKey struct{}

// keyFetch records a key-set fetch failure for one Verify call. go-oidc
// flattens key-set errors into text, so the failure is carried beside it.
type keyFetch struct{ err error }

// trackedKeySet delegates to the remote key set and notes fetch failures in
// the call's keyFetch.
type trackedKeySet struct {
	remote gooidc.KeySet
}

func (k *trackedKeySet) VerifySignature(ctx context.Context, jwt string) ([]byte, error) {
	payload, err := k.remote.VerifySignature(ctx, jwt)
	if err != nil && isKeyFetchError(ctx, err) {
		if kf, ok := ctx.Value(keyFetchKey{}).(*keyFetch); ok {
			kf.err = err
		}
	}
	return payload, err
}

// isKeyFetchError reports whether err came from reaching the JWKS endpoint
// rather than from the token. The remote key set prefixes every fetch,
// status and decode failure with "fetching keys".
func isKeyFetchError(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	var netErr net.Error
	var urlErr *url.Error
	if errors.As(err, &netErr) || errors.As(err, &urlErr) {
		return true
	}
	return strings.HasPrefix(err.Error(), "fetching keys")
}

// Verify validates a raw ID token and decodes its claims, including the
// custom "role" claim when the identity provider sets one.
func (p *OIDCProvider) Verify(ctx context.Context, rawToken string) (*ProviderClaims, error) {
	kf := &keyFetch{}
	idToken, err := p.verifier.Verify(context.WithValue(ctx, keyFetchKey{}, kf), rawToken)
	if err != nil {
		if kf.err != nil || ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}

	var claims struct {
		Email string `json:"email"`
		Name  string `json:"name"`
		Role  string `json:"role"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%w: decode claims: %v", ErrInvalidCredential, err)
	}

	return &ProviderClaims{
		Issuer:  idToken.Issuer,
		Subject: idToken.Subject,
		Email:   claims.Email,
		Name:    claims.Name,
		Role:    claims.Role,
	}, nil
}

// AuthCodeURL generates the authorization URL with PKCE and state.
func (p *OIDCProvider) AuthCodeURL(state, codeChallenge string) string {
	return p.oauth2Config.AuthCodeURL(state,
		oauth2.AccessTypeOnline,
		oauth2.SetAuthURLParam("code_challenge", codeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)
}

// ExchangeCode trades an authorization code for tokens and returns the raw ID
// token. Verification happens later, in the session provider's Exchange.
func (p *OIDCProvider) ExchangeCode(ctx context.Context, code, codeVerifier string) (string, error) {
	token, err := p.oauth2Config.Exchange(ctx, code,
		oauth2.SetAuthURLParam("code_verifier", codeVerifier),
	)
	if err != nil {
		// The token endpoint rejecting the code is a bad credential; the
		// endpoint failing is not.
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && !serverFailure(retrieveErr) {
			return "", fmt.Errorf("%w: token exchange: %v", ErrInvalidCredential, err)
		}
		return "", fmt.Errorf("%w: token exchange: %w", ErrProviderUnavailable, err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return "", fmt.Errorf("%w: no id_token in token response", ErrInvalidCredential)
	}
	return rawIDToken, nil
}

func serverFailure(err *oauth2.RetrieveError) bool {
	return err.Response != nil && err.Response.StatusCode >= http.StatusInternalServerError
}

// GenerateState returns a cryptographically random state string.
func GenerateState() (string, error) {
	return randomToken(32)
}

// GeneratePKCE returns a PKCE verifier and its S256 challenge.
func GeneratePKCE() (verifier, challenge string, err error) {
	verifier, err = randomToken(64)
	if err != nil {
		return
	}
	h := sha256.Sum256([]byte(verifier))
	challenge = base64.RawURLEncoding.EncodeToString(h[:])
	return
}

func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
