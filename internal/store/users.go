package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type User struct {
	ID          string       `db:"id"`
	Provider    string       `db:"provider"`
	Subject     string       `db:"subject"`
	Email       string       `db:"email"`
	DisplayName string       `db:"display_name"`
	Role        string       `db:"role"`
	Progress    string       `db:"progress"`
	LastSeenAt  sql.NullTime `db:"last_seen_at"`
	CreatedAt   time.Time    `db:"created_at"`
	UpdatedAt   time.Time    `db:"updated_at"`
}

func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// UpsertParams identifies a user by (Provider, Subject) and carries the
// claims asserted by the identity provider at sign-in.
type UpsertParams struct {
	Provider    string
	Subject     string
	Email       string
	DisplayName string
	// Role is the provider-asserted role claim. A valid claim seeds the role
	// of a new user; returning users keep their stored role.
	Role string
}

type UserStore struct {
	db         *sqlx.DB
	adminEmail string
}

// NewUserStore creates a UserStore. New users whose email equals adminEmail
// start as admins; everyone else starts as a student.
func NewUserStore(db *sqlx.DB, adminEmail string) *UserStore {
	return &UserStore{db: db, adminEmail: adminEmail}
}

// q rebinds ? placeholders to the driver's native format ($1,$2,... for PostgreSQL).
func (s *UserStore) q(query string) string { return s.db.Rebind(query) }

// Upsert creates or updates a user record on sign-in. Returning users keep
// their stored role, so role changes made here survive the next sign-in.
func (s *UserStore) Upsert(ctx context.Context, p UpsertParams) (*User, error) {
	now := time.Now().UTC()

	existing, err := s.getBySubject(ctx, p.Provider, p.Subject)
	switch {
	case err == nil:
		_, err = s.db.ExecContext(ctx, s.q(`
			UPDATE users SET email = ?, display_name = ?, updated_at = ? WHERE id = ?
		`), p.Email, p.DisplayName, now, existing.ID)
		if err != nil {
			return nil, err
		}
		return s.GetByID(ctx, existing.ID)
	case !errors.Is(err, ErrNotFound):
		return nil, err
	}

	role := RoleStudent
	if s.adminEmail != "" && p.Email == s.adminEmail {
		role = RoleAdmin
	}
	if ValidRole(p.Role) {
		role = p.Role
	}

	id := uuid.New().String()
	_, err = s.db.ExecContext(ctx, s.q(`
		INSERT INTO users (id, provider, subject, email, display_name, role, progress, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), id, p.Provider, p.Subject, p.Email, p.DisplayName, role, "{}", now, now)
	if err != nil {
		// A concurrent first sign-in may have won the unique (provider, subject) race.
		if u, getErr := s.getBySubject(ctx, p.Provider, p.Subject); getErr == nil {
			return u, nil
		}
		return nil, err
	}
	return s.GetByID(ctx, id)
}

func (s *UserStore) getBySubject(ctx context.Context, provider, subject string) (*User, error) {
	var u User
	err := s.db.GetContext(ctx, &u, s.q(`SELECT * FROM users WHERE provider = ? AND subject = ?`), provider, subject)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetByEmail returns the user matching email, or ErrNotFound.
func (s *UserStore) GetByEmail(ctx context.Context, email string) (*User, error) {
	var u User
	err := s.db.GetContext(ctx, &u, s.q(`SELECT * FROM users WHERE email = ?`), email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetByID returns the user with the given id, or ErrNotFound.
func (s *UserStore) GetByID(ctx context.Context, id string) (*User, error) {
	var u User
	err := s.db.GetContext(ctx, &u, s.q(`SELECT * FROM users WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// ListAll returns all users ordered by display name.
func (s *UserStore) ListAll(ctx context.Context) ([]*User, error) {
	var users []*User
	err := s.db.SelectContext(ctx, &users, `SELECT * FROM users ORDER BY display_name ASC`)
	if err != nil {
		return nil, err
	}
	return users, nil
}

// UpdateRole sets the role for the given user and returns the updated record.
func (s *UserStore) UpdateRole(ctx context.Context, id, role string) (*User, error) {
	if !ValidRole(role) {
		return nil, ErrInvalidRole
	}
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE users SET role = ?, updated_at = ? WHERE id = ?`),
		role, time.Now().UTC(), id)
	if err != nil {
		return nil, err
	}
	if err := requireRow(res); err != nil {
		return nil, err
	}
	return s.GetByID(ctx, id)
}

// UpdateProgress replaces the user's progress blob. It must be a JSON object.
func (s *UserStore) UpdateProgress(ctx context.Context, id string, progress json.RawMessage) (*User, error) {
	var obj map[string]any
	if err := json.Unmarshal(progress, &obj); err != nil || obj == nil {
		return nil, ErrInvalidProgress
	}
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE users SET progress = ?, updated_at = ? WHERE id = ?`),
		string(progress), time.Now().UTC(), id)
	if err != nil {
		return nil, err
	}
	if err := requireRow(res); err != nil {
		return nil, err
	}
	return s.GetByID(ctx, id)
}

// TouchLastSeen records that the user was just seen.
func (s *UserStore) TouchLastSeen(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, s.q(`UPDATE users SET last_seen_at = ? WHERE id = ?`), time.Now().UTC(), id)
	return err
}

// Count returns the number of users.
func (s *UserStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM users`)
	return n, err
}

func requireRow(res sql.Result) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}
