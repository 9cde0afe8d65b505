package handler

import (
	"net/http"

	"github.com/joestump/learnhub/internal/auth"
	"github.com/joestump/learnhub/internal/store"
)

// ProfilePage is the template data for the caller's profile page.
type ProfilePage struct {
	BasePage
	User *store.User
}

// ProfileHandler serves the signed-in user's own profile.
type ProfileHandler struct {
	users *store.UserStore
}

// NewProfileHandler creates a new ProfileHandler.
func NewProfileHandler(us *store.UserStore) *ProfileHandler {
	return &ProfileHandler{users: us}
}

// Show renders GET /profile.
func (h *ProfileHandler) Show(w http.ResponseWriter, r *http.Request) {
	id := auth.IdentityFromContext(r.Context())
	u, err := h.users.GetByID(r.Context(), id.ID)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	render(w, "profile.html", ProfilePage{BasePage: newBasePage(r), User: u})
}
