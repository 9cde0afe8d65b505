package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/joestump/learnhub/internal/metrics"
	"github.com/joestump/learnhub/internal/store"
)

// SessionProvider is the single identity backend selected at process start.
//
// Validate returns ErrInvalidCredential for tokens that fail validation and
// ErrProviderUnavailable (possibly wrapped) when the backend itself fails.
// Exchange turns a verified identity-provider token into a session credential.
// Revoke invalidates a session credential; revoking an unknown or already
// invalid credential is not an error.
type SessionProvider interface {
	Name() string
	Validate(ctx context.Context, token string) (*Identity, error)
	Exchange(ctx context.Context, providerToken string) (*Credential, *Identity, error)
	Revoke(ctx context.Context, token string) error
}

// PresenceChecker is an optional lightweight check used by the Gate. It must
// be cheap: no user lookups, at most one backend round trip.
type PresenceChecker interface {
	Present(ctx context.Context, token string) (bool, error)
}

// ProviderClaims are the decoded claims of a verified identity-provider token.
type ProviderClaims struct {
	Issuer  string
	Subject string
	Email   string
	Name    string
	Role    string
}

// TokenVerifier validates identity-provider tokens (OIDC ID tokens).
// Rejected tokens yield ErrInvalidCredential; transport failures yield
// ErrProviderUnavailable.
type TokenVerifier interface {
	Verify(ctx context.Context, rawToken string) (*ProviderClaims, error)
}

// UserDirectory is the slice of the profile store the providers need.
type UserDirectory interface {
	Upsert(ctx context.Context, p store.UpsertParams) (*store.User, error)
	GetByID(ctx context.Context, id string) (*store.User, error)
}

var tracer = otel.Tracer("github.com/joestump/learnhub/internal/auth")

// observe wraps a provider call with a span and a latency observation.
func observe(ctx context.Context, provider, op string, fn func(context.Context) error) error {
	ctx, span := tracer.Start(ctx, "auth."+op,
		trace.WithAttributes(attribute.String("auth.provider", provider)))
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	metrics.ProviderCallDuration.WithLabelValues(provider, op).Observe(time.Since(start).Seconds())

	if err != nil && !errors.Is(err, ErrInvalidCredential) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// exchangeClaims verifies the provider token and upserts the matching profile.
func exchangeClaims(ctx context.Context, verifier TokenVerifier, users UserDirectory, providerToken string) (*store.User, error) {
	if providerToken == "" {
		return nil, ErrMissingCredential
	}
	claims, err := verifier.Verify(ctx, providerToken)
	if err != nil {
		return nil, unavailable(err)
	}
	if claims.Subject == "" {
		return nil, ErrInvalidCredential
	}
	u, err := users.Upsert(ctx, store.UpsertParams{
		Provider:    claims.Issuer,
		Subject:     claims.Subject,
		Email:       claims.Email,
		DisplayName: claims.Name,
		Role:        claims.Role,
	})
	if err != nil {
		return nil, unavailable(err)
	}
	return u, nil
}

// loadIdentity fetches the profile behind a validated credential. A missing
// user means the credential refers to a deleted account.
func loadIdentity(ctx context.Context, users UserDirectory, userID string) (*Identity, error) {
	u, err := users.GetByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidCredential
	}
	if err != nil {
		return nil, unavailable(err)
	}
	return identityFromUser(u), nil
}

// unavailable wraps err as ErrProviderUnavailable unless it already carries
// one of the credential sentinels.
func unavailable(err error) error {
	if err == nil || errors.Is(err, ErrProviderUnavailable) ||
		errors.Is(err, ErrInvalidCredential) || errors.Is(err, ErrMissingCredential) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
}
