package guard

import (
	"context"
	"log"
	"net/http"
	"strings"

	"github.com/nddb-lms/lms-admin/backend/internal/model/session"
	"github.com/nddb-lms/lms-admin/backend/pkg/utils"
)

// LoginPath is where unauthenticated navigations are sent.
const LoginPath = "/login"

// Decision is the outcome of evaluating a protected route.
type Decision int

const (
	// DecisionPlaceholder renders a neutral loading view while the session restores.
	DecisionPlaceholder Decision = iota
	// DecisionAllow renders the protected content.
	DecisionAllow
	// DecisionRedirect sends the visitor to the login page.
	DecisionRedirect
)

func (d Decision) String() string {
	switch d {
	case DecisionPlaceholder:
		return "placeholder"
	case DecisionAllow:
		return "allow"
	case DecisionRedirect:
		return "redirect"
	default:
		return "unknown"
	}
}

// SnapshotSource exposes the current session.
type SnapshotSource interface {
	Snapshot() session.Snapshot
}

// Decide maps a session snapshot to a route decision. It never redirects
// while the session is still loading.
func Decide(snap session.Snapshot) Decision {
	switch {
	case snap.Loading:
		return DecisionPlaceholder
	case snap.Authenticated:
		return DecisionAllow
	default:
		return DecisionRedirect
	}
}

var adminSections = []string{
	"/courses",
	"/users",
	"/enrollments",
	"/discussions",
	"/analytics",
	"/announcements",
	"/content",
	"/feedback",
	"/settings",
	"/admin",
}

// IsAdminSection reports whether path belongs to the admin area, which is
// rendered with the sidebar.
func IsAdminSection(path string) bool {
	if strings.HasPrefix(path, "/dashboard") {
		return true
	}
	for _, section := range adminSections {
		if strings.Contains(path, section) {
			return true
		}
	}
	return false
}

type ctxKey struct{}

// UserFromContext returns the user admitted by Require.
func UserFromContext(ctx context.Context) (session.User, bool) {
	u, ok := ctx.Value(ctxKey{}).(session.User)
	return u, ok
}

// Require admits only requests from the browser holding the authenticated
// session cookie. While the session is restoring it answers 503 with
// Retry-After. Otherwise API requests get 401 and page requests are
// redirected to the login page.
func Require(src SnapshotSource) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if src == nil {
				log.Printf("[guard] no session source configured, redirecting %s", r.URL.Path)
				deny(w, r)
				return
			}

			snap := src.Snapshot()
			switch Decide(snap) {
			case DecisionPlaceholder:
				w.Header().Set("Retry-After", "1")
				if isAPIRequest(r) {
					utils.RespondError(w, http.StatusServiceUnavailable, "session loading")
					return
				}
				w.Header().Set("Content-Type", "text/plain; charset=utf-8")
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte("Loading..."))
			case DecisionAllow:
				if !Owns(r, snap) {
					deny(w, r)
					return
				}
				ctx := context.WithValue(r.Context(), ctxKey{}, *snap.User)
				next.ServeHTTP(w, r.WithContext(ctx))
			default:
				deny(w, r)
			}
		})
	}
}

// Redirect sends every request to the login page. It backs the catch-all route.
func Redirect(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, LoginPath, http.StatusFound)
}

func deny(w http.ResponseWriter, r *http.Request) {
	if isAPIRequest(r) {
		utils.RespondError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}
	Redirect(w, r)
}

func isAPIRequest(r *http.Request) bool {
	return strings.HasPrefix(r.URL.Path, "/api/") || strings.HasPrefix(r.URL.Path, "/ws/")
}
