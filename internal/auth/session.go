package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/alexedwards/scs/mysqlstore"
	"github.com/alexedwards/scs/postgresstore"
	"github.com/alexedwards/scs/sqlite3store"
	"github.com/alexedwards/scs/v2"
	"github.com/jmoiron/sqlx"
)

const sessionUserIDKey = "user_id"

// NewSessionStore returns the scs store matching the database driver:
// "mysql", "postgres", or "sqlite3" (default).
func NewSessionStore(db *sqlx.DB, driver string) scs.Store {
	switch driver {
	case "mysql":
		return mysqlstore.New(db.DB)
	case "postgres":
		return postgresstore.New(db.DB)
	default: // sqlite3
		return sqlite3store.New(db.DB)
	}
}

// StoreProvider issues opaque random credentials backed by server-side
// records in an scs store. Revocation deletes the record.
type StoreProvider struct {
	store    scs.Store
	codec    scs.Codec
	verifier TokenVerifier
	users    UserDirectory
	lifetime time.Duration
}

// NewStoreProvider creates a session-record provider.
func NewStoreProvider(store scs.Store, verifier TokenVerifier, users UserDirectory, lifetime time.Duration) *StoreProvider {
	return &StoreProvider{
		store:    store,
		codec:    scs.GobCodec{},
		verifier: verifier,
		users:    users,
		lifetime: lifetime,
	}
}

func (p *StoreProvider) Name() string { return "session" }

// Validate looks up the record behind token and loads its user.
func (p *StoreProvider) Validate(ctx context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, ErrMissingCredential
	}
	var id *Identity
	err := observe(ctx, p.Name(), "validate", func(ctx context.Context) error {
		userID, err := p.lookup(ctx, token)
		if err != nil {
			return err
		}
		id, err = loadIdentity(ctx, p.users, userID)
		return err
	})
	return id, err
}

// Present reports whether a live record exists for token without loading
// the user.
func (p *StoreProvider) Present(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	_, found, err := p.find(ctx, token)
	if err != nil {
		return false, unavailable(err)
	}
	return found, nil
}

// Exchange verifies the provider token, upserts the user and stores a new
// session record.
func (p *StoreProvider) Exchange(ctx context.Context, providerToken string) (*Credential, *Identity, error) {
	var (
		cred *Credential
		id   *Identity
	)
	err := observe(ctx, p.Name(), "exchange", func(ctx context.Context) error {
		u, err := exchangeClaims(ctx, p.verifier, p.users, providerToken)
		if err != nil {
			return err
		}
		token, err := randomToken(32)
		if err != nil {
			return unavailable(err)
		}
		expiry := time.Now().Add(p.lifetime).UTC()
		b, err := p.codec.Encode(expiry, map[string]interface{}{sessionUserIDKey: u.ID})
		if err != nil {
			return unavailable(err)
		}
		if err := p.commit(ctx, token, b, expiry); err != nil {
			return unavailable(err)
		}
		cred = &Credential{Token: token, ExpiresAt: expiry}
		id = identityFromUser(u)
		return nil
	})
	return cred, id, err
}

// Revoke deletes the record behind token. Unknown tokens are not an error.
func (p *StoreProvider) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return observe(ctx, p.Name(), "revoke", func(ctx context.Context) error {
		return unavailable(p.delete(ctx, token))
	})
}

func (p *StoreProvider) lookup(ctx context.Context, token string) (string, error) {
	b, found, err := p.find(ctx, token)
	if err != nil {
		return "", unavailable(err)
	}
	if !found {
		return "", ErrInvalidCredential
	}
	_, values, err := p.codec.Decode(b)
	if err != nil {
		return "", fmt.Errorf("%w: decode session record: %v", ErrInvalidCredential, err)
	}
	userID, _ := values[sessionUserIDKey].(string)
	if userID == "" {
		return "", ErrInvalidCredential
	}
	return userID, nil
}

// The store adapters that predate scs.CtxStore ignore cancellation, so the
// plain calls run in a goroutine and are abandoned when ctx ends.

func (p *StoreProvider) find(ctx context.Context, token string) ([]byte, bool, error) {
	if cs, ok := p.store.(scs.CtxStore); ok {
		return cs.FindCtx(ctx, token)
	}
	type result struct {
		b     []byte
		found bool
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		b, found, err := p.store.Find(token)
		ch <- result{b, found, err}
	}()
	select {
	case r := <-ch:
		return r.b, r.found, r.err
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

func (p *StoreProvider) commit(ctx context.Context, token string, b []byte, expiry time.Time) error {
	if cs, ok := p.store.(scs.CtxStore); ok {
		return cs.CommitCtx(ctx, token, b, expiry)
	}
	return runCtx(ctx, func() error { return p.store.Commit(token, b, expiry) })
}

func (p *StoreProvider) delete(ctx context.Context, token string) error {
	if cs, ok := p.store.(scs.CtxStore); ok {
		return cs.DeleteCtx(ctx, token)
	}
	return runCtx(ctx, func() error { return p.store.Delete(token) })
}

func runCtx(ctx context.Context, fn func() error) error {
	ch := make(chan error, 1)
	go func() { ch <- fn() }()
	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
