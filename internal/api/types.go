package api

import (
	"encoding/json"
	"time"

	"github.com/joestump/learnhub/internal/store"
)

// UserResponse is the JSON representation of a user profile.
type UserResponse struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	DisplayName string     `json:"display_name"`
	Role        string     `json:"role"`
	LastSeenAt  *time.Time `json:"last_seen_at"`
	CreatedAt   time.Time  `json:"created_at"`
}

// UserListResponse wraps a list of users.
type UserListResponse struct {
	Users []*UserResponse `json:"users"`
}

// UpdateRoleRequest is the request body for PUT /api/admin/users/{id}/role.
type UpdateRoleRequest struct {
	Role string `json:"role"`
}

// ProgressResponse carries the caller's learning progress blob.
type ProgressResponse struct {
	Progress json.RawMessage `json:"progress"`
}

// HealthResponse is returned by GET /api/healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

func newUserResponse(u *store.User) *UserResponse {
	resp := &UserResponse{
		ID:          u.ID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		Role:        u.Role,
		CreatedAt:   u.CreatedAt,
	}
	if u.LastSeenAt.Valid {
		t := u.LastSeenAt.Time
		resp.LastSeenAt = &t
	}
	return resp
}
