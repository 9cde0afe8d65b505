package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/joestump/learnhub/internal/auth"
	"github.com/joestump/learnhub/internal/store"
)

// AdminHandler serves admin views.
type AdminHandler struct {
	users *store.UserStore
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(us *store.UserStore) *AdminHandler {
	return &AdminHandler{users: us}
}

// AdminUsersPage is the template data for the user management list.
type AdminUsersPage struct {
	BasePage
	Users []*store.User
}

// Users renders the user management list.
func (h *AdminHandler) Users(w http.ResponseWriter, r *http.Request) {
	all, err := h.users.ListAll(r.Context())
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	render(w, "admin/users.html", AdminUsersPage{
		BasePage: newBasePage(r),
		Users:    all,
	})
}

// UpdateRole handles PUT /admin/users/{id}/role and returns the updated row
// fragment for HTMX.
func (h *AdminHandler) UpdateRole(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	target, err := h.users.UpdateRole(r.Context(), chi.URLParam(r, "id"), r.FormValue("role"))
	switch {
	case errors.Is(err, store.ErrInvalidRole):
		http.Error(w, "invalid role", http.StatusBadRequest)
		return
	case errors.Is(err, store.ErrNotFound):
		http.NotFound(w, r)
		return
	case err != nil:
		http.Error(w, "update failed", http.StatusInternalServerError)
		return
	}
	renderPageFragment(w, "admin/users.html", "user_row", target)
}

// requirePageRole renders the forbidden page unless the resolved identity
// carries role. It runs after the page guard, which has already sent
// signed-out visitors to the login page.
func requirePageRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !auth.IdentityFromContext(r.Context()).HasRole(role) {
				renderStatus(w, http.StatusForbidden, "forbidden.html", newBasePage(r))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
