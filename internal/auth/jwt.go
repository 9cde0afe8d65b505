package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SessionClaims are the claims carried by a stateless session credential.
// The subject is the user id.
type SessionClaims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// JWTProvider issues HS256-signed credentials. Validation needs no round
// trip except the revocation-list check and the user load.
type JWTProvider struct {
	secret   []byte
	issuer   string
	lifetime time.Duration
	verifier TokenVerifier
	users    UserDirectory
	revoked  RevocationList
	now      func() time.Time
}

// NewJWTProvider creates a stateless credential provider.
func NewJWTProvider(secret, issuer string, lifetime time.Duration, verifier TokenVerifier, users UserDirectory, revoked RevocationList) *JWTProvider {
	return &JWTProvider{
		secret:   []byte(secret),
		issuer:   issuer,
		lifetime: lifetime,
		verifier: verifier,
		users:    users,
		revoked:  revoked,
		now:      time.Now,
	}
}

func (p *JWTProvider) Name() string { return "jwt" }

// Validate checks signature, expiry and revocation, then loads the user.
// The role in the token is ignored; the stored role is authoritative.
func (p *JWTProvider) Validate(ctx context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, ErrMissingCredential
	}
	var id *Identity
	err := observe(ctx, p.Name(), "validate", func(ctx context.Context) error {
		claims, err := p.parse(token)
		if err != nil {
			return err
		}
		revoked, err := p.revoked.IsRevoked(ctx, claims.ID)
		if err != nil {
			return unavailable(err)
		}
		if revoked {
			return fmt.Errorf("%w: revoked", ErrInvalidCredential)
		}
		id, err = loadIdentity(ctx, p.users, claims.Subject)
		return err
	})
	return id, err
}

// Present parses the token locally. Revocation is left to Validate.
func (p *JWTProvider) Present(_ context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	_, err := p.parse(token)
	return err == nil, nil
}

// Exchange verifies the provider token, upserts the user and signs a new
// credential for it.
func (p *JWTProvider) Exchange(ctx context.Context, providerToken string) (*Credential, *Identity, error) {
	var (
		cred *Credential
		id   *Identity
	)
	err := observe(ctx, p.Name(), "exchange", func(ctx context.Context) error {
		u, err := exchangeClaims(ctx, p.verifier, p.users, providerToken)
		if err != nil {
			return err
		}
		now := p.now()
		expiresAt := now.Add(p.lifetime)
		claims := SessionClaims{
			Email: u.Email,
			Role:  u.Role,
			RegisteredClaims: jwt.RegisteredClaims{
				ID:        uuid.New().String(),
				Subject:   u.ID,
				Issuer:    p.issuer,
				IssuedAt:  jwt.NewNumericDate(now),
				NotBefore: jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(expiresAt),
			},
		}
		signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
		if err != nil {
			return unavailable(fmt.Errorf("sign credential: %w", err))
		}
		cred = &Credential{Token: signed, ExpiresAt: expiresAt}
		id = identityFromUser(u)
		return nil
	})
	return cred, id, err
}

// Revoke adds the token's id to the revocation list for the rest of its
// lifetime. Tokens that no longer validate need no revocation.
func (p *JWTProvider) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	claims, err := p.parse(token)
	if err != nil {
		return nil
	}
	return observe(ctx, p.Name(), "revoke", func(ctx context.Context) error {
		ttl := claims.ExpiresAt.Sub(p.now())
		return unavailable(p.revoked.Revoke(ctx, claims.ID, ttl))
	})
}

func (p *JWTProvider) parse(token string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return p.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(p.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: expired", ErrInvalidCredential)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	if claims.Subject == "" || claims.ID == "" {
		return nil, fmt.Errorf("%w: missing sub or jti", ErrInvalidCredential)
	}
	return claims, nil
}
