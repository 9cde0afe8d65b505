package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/joestump/learnhub/internal/auth"
	"github.com/joestump/learnhub/internal/store"
)

const maxProgressBytes = 64 << 10

// meHandler serves the caller's own profile and progress.
type meHandler struct {
	users *store.UserStore
}

func registerMeRoutes(r chi.Router, users *store.UserStore) {
	h := &meHandler{users: users}
	r.Get("/me", h.Me)
	r.Get("/me/progress", h.Progress)
	r.Put("/me/progress", h.UpdateProgress)
}

// Me returns the authenticated caller's profile.
//
// @Summary      Get current user
// @Description  Returns the profile behind the caller's session credential.
// @Tags         Me
// @Produce      json
// @Success      200  {object}  UserResponse
// @Failure      401  {object}  ErrorResponse
// @Failure      404  {object}  ErrorResponse
// @Failure      503  {object}  ErrorResponse
// @Security     BearerToken
// @Router       /me [get]
func (h *meHandler) Me(w http.ResponseWriter, r *http.Request) {
	id := auth.IdentityFromContext(r.Context())
	u, err := h.users.GetByID(r.Context(), id.ID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newUserResponse(u))
}

// Progress returns the caller's progress blob as of this request's validation.
//
// @Summary      Get learning progress
// @Tags         Me
// @Produce      json
// @Success      200  {object}  ProgressResponse
// @Failure      401  {object}  ErrorResponse
// @Failure      503  {object}  ErrorResponse
// @Security     BearerToken
// @Router       /me/progress [get]
func (h *meHandler) Progress(w http.ResponseWriter, r *http.Request) {
	id := auth.IdentityFromContext(r.Context())
	writeJSON(w, http.StatusOK, ProgressResponse{Progress: id.Profile})
}

// UpdateProgress replaces the caller's progress blob with a JSON object.
//
// @Summary      Replace learning progress
// @Description  Replaces the caller's progress with the given JSON object (64 KiB max).
// @Tags         Me
// @Accept       json
// @Produce      json
// @Param        body  body      ProgressResponse  true  "New progress"
// @Success      200   {object}  ProgressResponse
// @Failure      400   {object}  ErrorResponse
// @Failure      401   {object}  ErrorResponse
// @Failure      413   {object}  ErrorResponse
// @Failure      503   {object}  ErrorResponse
// @Security     BearerToken
// @Router       /me/progress [put]
func (h *meHandler) UpdateProgress(w http.ResponseWriter, r *http.Request) {
	id := auth.IdentityFromContext(r.Context())

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxProgressBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "progress too large", "too_large")
		return
	}
	var req ProgressResponse
	if err := json.Unmarshal(body, &req); err != nil || len(req.Progress) == 0 {
		writeError(w, http.StatusBadRequest, "invalid request body", "bad_request")
		return
	}

	u, err := h.users.UpdateProgress(r.Context(), id.ID, req.Progress)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ProgressResponse{Progress: json.RawMessage(u.Progress)})
}

// writeStoreError maps store errors to API responses.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found", "not_found")
	case errors.Is(err, store.ErrInvalidRole), errors.Is(err, store.ErrInvalidProgress):
		writeError(w, http.StatusBadRequest, err.Error(), "bad_request")
	default:
		writeError(w, http.StatusInternalServerError, "internal error", "internal_error")
	}
}
