// Package api serves the JSON endpoints under /api: the credential exchange
// endpoint, the caller's profile and progress, and user administration.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	_ "github.com/joestump/learnhub/docs/swagger"
	"github.com/joestump/learnhub/internal/auth"
	"github.com/joestump/learnhub/internal/store"
)

// Deps holds all dependencies required to build the API router.
type Deps struct {
	Resolver  *auth.Resolver
	Exchanger *auth.Exchanger
	Users     *store.UserStore
	// Ping reports database health for /healthz. Optional.
	Ping func(ctx context.Context) error
	Log  *slog.Logger
}

// NewRouter creates the chi sub-router mounted at /api. Every route except
// the health check and the exchange endpoint requires a resolved identity.
func NewRouter(deps Deps) chi.Router {
	r := chi.NewRouter()
	r.Use(jsonContentType)

	r.Get("/healthz", health(deps.Ping, deps.Log))
	r.Get("/docs/*", httpSwagger.WrapHandler)

	// The exchange endpoint is how a credential comes to exist, so it cannot
	// require one.
	r.Post("/auth/session", deps.Exchanger.Create)
	r.Delete("/auth/session", deps.Exchanger.Delete)

	r.Group(func(r chi.Router) {
		r.Use(deps.Resolver.RequireIdentity)
		registerMeRoutes(r, deps.Users)
		registerAdminRoutes(r, deps.Users)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found", "not_found")
	})
	return r
}

// health reports whether the database answers.
//
// @Summary      Health check
// @Tags         Health
// @Produce      json
// @Success      200  {object}  HealthResponse
// @Failure      503  {object}  HealthResponse
// @Router       /healthz [get]
func health(ping func(context.Context) error, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ping != nil {
			if err := ping(r.Context()); err != nil {
				log.Error("health check failed", "error", err)
				writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
	}
}

// jsonContentType sets Content-Type: application/json on all responses.
func jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
