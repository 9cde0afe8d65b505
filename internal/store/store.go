// Package store persists user profiles. It is the external collaborator the
// session providers read identities from; it never deals with credentials.
package store

import "errors"

var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidRole is returned when a role outside the known set is requested.
	ErrInvalidRole = errors.New("invalid role")

	// ErrInvalidProgress is returned when a progress blob is not a JSON object.
	ErrInvalidProgress = errors.New("progress must be a JSON object")
)

// Roles.
const (
	RoleAdmin   = "admin"
	RoleStudent = "student"
	RoleUser    = "user"
)

// ValidRole reports whether role is one of the known roles.
func ValidRole(role string) bool {
	switch role {
	case RoleAdmin, RoleStudent, RoleUser:
		return true
	}
	return false
}
