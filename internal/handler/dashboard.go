package handler

import (
	"encoding/json"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/joestump/learnhub/internal/auth"
	"github.com/joestump/learnhub/internal/content"
)

// ProgressEntry is one top-level key of the progress blob.
type ProgressEntry struct {
	Key   string
	Value string
}

// DashboardPage is the template data for the dashboard.
type DashboardPage struct {
	BasePage
	Sections []Section
	Progress []ProgressEntry
}

// DashboardHandler serves the signed-in home page.
type DashboardHandler struct{}

// NewDashboardHandler creates a new DashboardHandler.
func NewDashboardHandler() *DashboardHandler { return &DashboardHandler{} }

// Show renders the dashboard for the resolved identity.
func (h *DashboardHandler) Show(w http.ResponseWriter, r *http.Request) {
	id := auth.IdentityFromContext(r.Context())
	render(w, "dashboard.html", DashboardPage{
		BasePage: newBasePage(r),
		Sections: sections,
		Progress: progressEntries(id.Profile),
	})
}

// progressEntries flattens the top level of a progress object, sorted by key.
// Malformed blobs render as empty progress.
func progressEntries(profile json.RawMessage) []ProgressEntry {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(profile, &obj); err != nil {
		return nil
	}
	out := make([]ProgressEntry, 0, len(obj))
	for k, v := range obj {
		out = append(out, ProgressEntry{Key: k, Value: string(v)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Section is one of the protected learning areas.
type Section struct {
	Path        string
	Title       string
	Description string
}

var sections = []Section{
	{Path: "/courses", Title: "Courses", Description: "Structured courses with lessons and exercises."},
	{Path: "/learn", Title: "Learn", Description: "Short topic guides."},
	{Path: "/interview", Title: "Interview prep", Description: "Practice questions with worked answers."},
	{Path: "/system-design", Title: "System design", Description: "Design case studies and trade-offs."},
}

// SectionPage is the template data for a section index or entry.
type SectionPage struct {
	BasePage
	Section Section
	Slug    string
}

// SectionHandler serves one learning area. Content itself is served by the
// content pipeline; these pages only frame it.
type SectionHandler struct {
	section Section
}

// NewSectionHandler creates a handler for the section mounted at path. It
// panics on an unknown path.
func NewSectionHandler(path string) *SectionHandler {
	for _, s := range sections {
		if s.Path == path {
			return &SectionHandler{section: s}
		}
	}
	panic("handler: unknown section " + path)
}

// Index renders the section landing page.
func (h *SectionHandler) Index(w http.ResponseWriter, r *http.Request) {
	render(w, "section.html", SectionPage{BasePage: newBasePage(r), Section: h.section})
}

// Show renders a single entry of the section. Malformed slugs are 404s.
func (h *SectionHandler) Show(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	if err := content.ValidateSlug(slug); err != nil {
		notFound(w, r)
		return
	}
	render(w, "section.html", SectionPage{
		BasePage: newBasePage(r),
		Section:  h.section,
		Slug:     slug,
	})
}
