// Package auth decides whether a request is authorized and for which identity.
//
// The Gate is the coarse, presence-only check every page request passes
// through. The Resolver performs full validation against the configured
// SessionProvider for handlers that need an identity. The Exchanger is the only
// component that writes or clears the session credential cookie.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/joestump/learnhub/internal/store"
)

var (
	// ErrMissingCredential means the request carried no session credential.
	ErrMissingCredential = errors.New("missing credential")

	// ErrInvalidCredential means a credential was present but failed
	// signature, expiry or revocation checks.
	ErrInvalidCredential = errors.New("invalid credential")

	// ErrProviderUnavailable means the identity backend could not be reached
	// or errored; callers must not treat it as "not signed in".
	ErrProviderUnavailable = errors.New("identity provider unavailable")
)

// Identity is the resolved, validated user behind a credential. It is built
// fresh for every validation and only valid for the current request.
type Identity struct {
	ID          string          `json:"id"`
	// Subject is the identity provider's subject id the user signed in with.
	Subject     string          `json:"subject"`
	Email       string          `json:"email"`
	DisplayName string          `json:"display_name"`
	Role        string          `json:"role"`
	Profile     json.RawMessage `json:"profile"`
}

// HasRole reports whether the identity carries role.
func (i *Identity) HasRole(role string) bool {
	return i != nil && i.Role == role
}

// Credential is a freshly minted session credential.
type Credential struct {
	Token     string
	ExpiresAt time.Time
}

func identityFromUser(u *store.User) *Identity {
	profile := json.RawMessage(u.Progress)
	if len(profile) == 0 {
		profile = json.RawMessage("{}")
	}
	return &Identity{
		ID:          u.ID,
		Subject:     u.Subject,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		Role:        u.Role,
		Profile:     profile,
	}
}

type contextKey struct{}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// IdentityFromContext retrieves the resolved identity, or nil.
func IdentityFromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(contextKey{}).(*Identity)
	return id
}
