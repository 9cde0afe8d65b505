package handler

import (
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/joestump/learnhub/internal/auth"
	"github.com/joestump/learnhub/web"
)

// Themes accepted in the theme cookie.
const (
	themeLight = "learn-light"
	themeDark  = "learn-dark"
)

// BasePage carries layout-level data available to every template.
type BasePage struct {
	Theme    string         // themeLight, themeDark, or "" (let the inline script decide)
	Identity *auth.Identity // nil for signed-out visitors
}

// IsAdmin is used by the nav partial.
func (b BasePage) IsAdmin() bool { return b.Identity.HasRole("admin") }

func newBasePage(r *http.Request) BasePage {
	return BasePage{
		Theme:    themeFromRequest(r),
		Identity: auth.IdentityFromContext(r.Context()),
	}
}

// themeFromRequest reads the "theme" cookie. Returns "" if absent or invalid,
// so the server omits data-theme and lets the anti-flash script handle it.
func themeFromRequest(r *http.Request) string {
	c, err := r.Cookie("theme")
	if err != nil {
		return ""
	}
	if validTheme(c.Value) {
		return c.Value
	}
	return ""
}

func validTheme(t string) bool { return t == themeLight || t == themeDark }

// pageCache maps a render key (e.g. "dashboard.html", "admin/users.html") to
// a compiled set containing base.html + partials + that one page file, so
// {{define "content"}} blocks don't collide.
var pageCache map[string]*template.Template

func init() {
	var err error
	pageCache, err = buildPageCache(web.TemplateFS)
	if err != nil {
		panic("build page cache: " + err.Error())
	}
}

func buildPageCache(fsys fs.FS) (map[string]*template.Template, error) {
	partials, err := fs.Glob(fsys, "templates/partials/*.html")
	if err != nil {
		return nil, fmt.Errorf("glob partials: %w", err)
	}

	baseCount := map[string]int{}
	_ = fs.WalkDir(fsys, "templates/pages", func(p string, d fs.DirEntry, e error) error {
		if e != nil || d.IsDir() || !strings.HasSuffix(p, ".html") {
			return e
		}
		baseCount[filepath.Base(p)]++
		return nil
	})

	cache := make(map[string]*template.Template)
	err = fs.WalkDir(fsys, "templates/pages", func(p string, d fs.DirEntry, e error) error {
		if e != nil || d.IsDir() || !strings.HasSuffix(p, ".html") {
			return e
		}

		files := make([]string, 0, 2+len(partials))
		files = append(files, "templates/base.html")
		files = append(files, partials...)
		files = append(files, p)

		t, err := template.New("").ParseFS(fsys, files...)
		if err != nil {
			return fmt.Errorf("parse %s: %w", p, err)
		}

		rel, _ := strings.CutPrefix(p, "templates/pages/")
		cache[rel] = t
		if base := filepath.Base(p); baseCount[base] == 1 {
			cache[base] = t
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cache, nil
}

// render executes a full-page template (base layout + named page).
func render(w http.ResponseWriter, tmpl string, data any) {
	renderStatus(w, http.StatusOK, tmpl, data)
}

func renderStatus(w http.ResponseWriter, status int, tmpl string, data any) {
	t, ok := pageCache[tmpl]
	if !ok {
		http.Error(w, "template not found: "+tmpl, http.StatusInternalServerError)
		return
	}
	var buf strings.Builder
	if err := t.ExecuteTemplate(&buf, "base", data); err != nil {
		http.Error(w, "template error: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = fmt.Fprint(w, buf.String())
}

// renderPageFragment executes a page-local named template, e.g. "user_row"
// in admin/users.html, for HTMX swaps.
func renderPageFragment(w http.ResponseWriter, page, tmpl string, data any) {
	t, ok := pageCache[page]
	if !ok {
		http.Error(w, "template not found: "+page, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := t.ExecuteTemplate(w, tmpl, data); err != nil {
		http.Error(w, "template error: "+err.Error(), http.StatusInternalServerError)
	}
}
