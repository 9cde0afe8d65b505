package handler

import (
	"context"
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/joestump/learnhub/internal/api"
	"github.com/joestump/learnhub/internal/auth"
	"github.com/joestump/learnhub/internal/routes"
	"github.com/joestump/learnhub/internal/store"
	"github.com/joestump/learnhub/web"
)

// Deps holds all dependencies required to build the HTTP router.
type Deps struct {
	Gate      *auth.Gate
	Resolver  *auth.Resolver
	Exchanger *auth.Exchanger
	LoginFlow *auth.LoginFlow
	Routes    *routes.Table
	Users     *store.UserStore
	// Ping reports database health for /api/healthz. Optional.
	Ping      func(ctx context.Context) error
	LoginPath string
	HomePath  string
	Log       *slog.Logger
}

// NewRouter assembles the full chi router. The Gate runs before routing so
// every request, including unknown paths, gets a classification decision.
func NewRouter(deps Deps) http.Handler {
	if deps.LoginPath == "" {
		deps.LoginPath = "/login"
	}
	if deps.HomePath == "" {
		deps.HomePath = "/dashboard"
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(deps.Log))
	r.Use(middleware.Recoverer)
	r.Use(deps.Gate.Handler)

	// Static assets (embedded). fs.Sub so the file server sees css/app.css
	// directly, not static/css/... paths.
	staticSub, err := fs.Sub(web.StaticFS, "static")
	if err != nil {
		panic("failed to sub static FS: " + err.Error())
	}
	r.Handle("/static/*", http.StripPrefix("/static", http.FileServerFS(staticSub)))
	r.Get("/favicon.ico", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/static/favicon.svg", http.StatusMovedPermanently)
	})
	r.Handle("/metrics", promhttp.Handler())

	// Login flow: no identity required.
	r.Get("/login/start", deps.LoginFlow.Start)
	r.Get("/auth/callback", deps.LoginFlow.Callback)
	r.Post("/logout", deps.LoginFlow.Logout)

	r.Post("/theme", NewThemeHandler().Toggle)

	r.Mount("/api", api.NewRouter(api.Deps{
		Resolver:  deps.Resolver,
		Exchanger: deps.Exchanger,
		Users:     deps.Users,
		Ping:      deps.Ping,
		Log:       deps.Log,
	}))

	landing := NewLandingHandler(deps.HomePath)
	dashboard := NewDashboardHandler()
	profile := NewProfileHandler(deps.Users)
	admin := NewAdminHandler(deps.Users)

	// Pages. RequirePage resolves the identity on every page and redirects
	// to login on protected paths when it cannot.
	r.Group(func(r chi.Router) {
		r.Use(deps.Resolver.RequirePage(deps.Routes, deps.LoginPath, deps.Exchanger))

		r.Get("/", landing.Index)
		r.Get("/login", landing.Login)
		r.Get("/signup", landing.Signup)

		r.Get("/dashboard", dashboard.Show)
		r.Get("/profile", profile.Show)
		for _, s := range sections {
			h := NewSectionHandler(s.Path)
			r.Get(s.Path, h.Index)
			r.Get(s.Path+"/{slug}", h.Show)
		}

		r.Group(func(r chi.Router) {
			r.Use(requirePageRole(store.RoleAdmin))
			r.Get("/admin", func(w http.ResponseWriter, r *http.Request) {
				http.Redirect(w, r, "/admin/users", http.StatusFound)
			})
			r.Get("/admin/users", admin.Users)
			r.Put("/admin/users/{id}/role", admin.UpdateRole)
		})
	})

	r.NotFound(deps.Resolver.OptionalIdentity(http.HandlerFunc(notFound)).ServeHTTP)

	return r
}

func notFound(w http.ResponseWriter, r *http.Request) {
	renderStatus(w, http.StatusNotFound, "404.html", newBasePage(r))
}
