package shell

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nddb-lms/lms-admin/backend/internal/guard"
	"github.com/nddb-lms/lms-admin/backend/internal/model/session"
	"github.com/nddb-lms/lms-admin/backend/pkg/utils"
)

// Descriptor tells the dashboard which page to render and whether the
// navigation sidebar is shown around it.
type Descriptor struct {
	Path    string        `json:"path"`
	Page    string        `json:"page"`
	Sidebar bool          `json:"sidebar"`
	User    *session.User `json:"user,omitempty"`
}

type page struct {
	pattern string
	name    string
}

var publicPages = []page{
	{"/", "home"},
	{"/login", "login"},
	{"/signup", "signup"},
}

var adminPages = []page{
	{"/dashboard", "dashboard"},
	{"/courses", "courses"},
	{"/courses/add", "course-add"},
	{"/courses/requests", "course-requests"},
	{"/courses/{courseID}", "course-details"},
	{"/courses/{courseID}/create-quiz", "quiz-create"},
	{"/courses/{courseID}/edit-quiz/{quizID}", "quiz-edit"},
	{"/enrollments/list", "enrollments"},
	{"/enrollments/reports", "progress-reports"},
	{"/discussions/monitor", "discussions"},
	{"/analytics/courses", "course-analytics"},
	{"/announcements/send", "announcements"},
	{"/content/organize", "content-library"},
	{"/feedback/user", "user-feedback"},
	{"/feedback/flag", "flagged-feedback"},
	{"/settings/platform", "platform-settings"},
	{"/admin/roles", "subadmins"},
}

// Handler serves the page descriptors of the dashboard shell.
type Handler struct{}

// New creates the shell handler.
func New() *Handler {
	return &Handler{}
}

// RegisterPublicRoutes mounts the pages reachable without a session.
func (h *Handler) RegisterPublicRoutes(r chi.Router) {
	for _, p := range publicPages {
		r.Get(p.pattern, h.servePage(p.name))
	}
}

// RegisterProtectedRoutes mounts the admin pages. The router must already
// apply the session guard.
func (h *Handler) RegisterProtectedRoutes(r chi.Router) {
	for _, p := range adminPages {
		r.Get(p.pattern, h.servePage(p.name))
	}
}

// RegisterAPIRoutes mounts the layout query under /api.
func (h *Handler) RegisterAPIRoutes(r chi.Router) {
	r.Get("/shell", h.handleLayout)
}

func (h *Handler) servePage(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		desc := Descriptor{
			Path:    r.URL.Path,
			Page:    name,
			Sidebar: guard.IsAdminSection(r.URL.Path),
		}
		if user, ok := guard.UserFromContext(r.Context()); ok {
			desc.User = &user
		}
		utils.RespondJSON(w, http.StatusOK, desc)
	}
}

func (h *Handler) handleLayout(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		utils.RespondError(w, http.StatusBadRequest, "path query parameter is required")
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"path":    path,
		"sidebar": guard.IsAdminSection(path),
	})
}
