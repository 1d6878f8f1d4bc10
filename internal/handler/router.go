package handler

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/nddb-lms/lms-admin/backend/internal/guard"
	"github.com/nddb-lms/lms-admin/backend/internal/handler/auth"
	"github.com/nddb-lms/lms-admin/backend/internal/handler/content"
	"github.com/nddb-lms/lms-admin/backend/internal/handler/discussion"
	"github.com/nddb-lms/lms-admin/backend/internal/handler/shell"
	middlewarePkg "github.com/nddb-lms/lms-admin/backend/internal/middleware"
	discussionService "github.com/nddb-lms/lms-admin/backend/internal/service/discussion"
	sessionService "github.com/nddb-lms/lms-admin/backend/internal/service/session"
)

// Deps are the services the HTTP layer is wired to.
type Deps struct {
	Sessions       *sessionService.Manager
	Auth           auth.Authenticator
	Pollers        *discussionService.Registry
	Limiter        *middlewarePkg.LimiterStore
	AllowedOrigins []string
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(deps.AllowedOrigins))

	// set before any Route call so sub-routers inherit it
	r.NotFound(guard.Redirect)

	var limit func(http.Handler) http.Handler
	if deps.Limiter != nil {
		limit = middlewarePkg.RateLimit(deps.Limiter)
	}

	// a nil *Manager inside the interface would pass the guard's nil check
	var sessions guard.SnapshotSource
	if deps.Sessions != nil {
		sessions = deps.Sessions
	} else {
		log.Println("[router] no session manager configured, protected routes are closed")
	}

	shellHandler := shell.New()
	contentHandler := content.New()
	discussionHandler := discussion.New(deps.Pollers, deps.AllowedOrigins)
	requireSession := guard.Require(sessions)

	shellHandler.RegisterPublicRoutes(r)
	r.Group(func(pages chi.Router) {
		pages.Use(requireSession)
		shellHandler.RegisterProtectedRoutes(pages)
	})

	r.Route("/api", func(api chi.Router) {
		if deps.Sessions != nil && deps.Auth != nil {
			auth.New(deps.Auth, deps.Sessions, limit).RegisterRoutes(api)
		}

		api.Group(func(protected chi.Router) {
			protected.Use(requireSession)
			shellHandler.RegisterAPIRoutes(protected)
			contentHandler.RegisterRoutes(protected)
			discussionHandler.RegisterRoutes(protected)
		})
	})

	r.Route("/ws", func(ws chi.Router) {
		ws.Use(requireSession)
		discussionHandler.RegisterWebSocketRoutes(ws)
	})

	return r
}
