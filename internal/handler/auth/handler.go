package auth

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nddb-lms/lms-admin/backend/internal/guard"
	"github.com/nddb-lms/lms-admin/backend/internal/model/session"
	authService "github.com/nddb-lms/lms-admin/backend/internal/service/auth"
	sessionService "github.com/nddb-lms/lms-admin/backend/internal/service/session"
	"github.com/nddb-lms/lms-admin/backend/pkg/utils"
)

// Authenticator is the remote auth collaborator.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (*authService.Result, error)
	Register(ctx context.Context, name, email, password string) (*authService.Result, error)
}

// Sessions is the process-wide session manager.
type Sessions interface {
	LoginSession(ctx context.Context, user *session.User, token string) (string, error)
	LogoutSession(ctx context.Context, sid string) error
	Snapshot() session.Snapshot
}

// Handler serves login, registration, logout and the session snapshot.
type Handler struct {
	auth     Authenticator
	sessions Sessions
	limit    func(http.Handler) http.Handler
}

// New creates the auth handler. limit wraps the credential endpoints and may be nil.
func New(auth Authenticator, sessions Sessions, limit func(http.Handler) http.Handler) *Handler {
	return &Handler{
		auth:     auth,
		sessions: sessions,
		limit:    limit,
	}
}

// RegisterRoutes mounts the routes under the given router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Group(func(cr chi.Router) {
		if h.limit != nil {
			cr.Use(h.limit)
		}
		cr.Post("/auth/login", h.handleLogin)
		cr.Post("/auth/register", h.handleRegister)
	})
	r.Post("/auth/logout", h.handleLogout)
	r.Get("/session", h.handleSession)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	payload.Email = strings.TrimSpace(payload.Email)
	if payload.Email == "" || payload.Password == "" {
		utils.RespondError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	res, err := h.auth.Login(r.Context(), payload.Email, payload.Password)
	if err != nil {
		respondAuthError(w, err, "Login failed")
		return
	}

	sid, err := h.sessions.LoginSession(r.Context(), &res.User, res.Token)
	if err != nil {
		if errors.Is(err, sessionService.ErrInvalidUser) || errors.Is(err, sessionService.ErrEmptyToken) {
			utils.RespondError(w, http.StatusBadGateway, "Login failed")
			return
		}
		// the session is live for this process even if it could not be saved
		log.Printf("[auth] session persistence failed: %v", err)
	}

	guard.SetSessionCookie(w, r, sid)
	utils.RespondJSON(w, http.StatusOK, h.sessions.Snapshot())
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	payload.Name = strings.TrimSpace(payload.Name)
	payload.Email = strings.TrimSpace(payload.Email)
	if payload.Name == "" || payload.Email == "" || payload.Password == "" {
		utils.RespondError(w, http.StatusBadRequest, "name, email and password are required")
		return
	}

	if _, err := h.auth.Register(r.Context(), payload.Name, payload.Email, payload.Password); err != nil {
		respondAuthError(w, err, "Registration failed")
		return
	}

	utils.RespondJSON(w, http.StatusCreated, map[string]string{
		"message": "Registration successful! Please login.",
	})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	// ownership cannot be checked until the persisted session is back
	if h.sessions.Snapshot().Loading {
		w.Header().Set("Retry-After", "1")
		utils.RespondError(w, http.StatusServiceUnavailable, "session loading")
		return
	}

	if err := h.sessions.LogoutSession(r.Context(), guard.SessionID(r)); err != nil {
		if errors.Is(err, sessionService.ErrNotOwner) {
			utils.RespondError(w, http.StatusUnauthorized, "unauthenticated")
			return
		}
		log.Printf("[auth] logout failed: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "Logout failed")
		return
	}

	guard.ClearSessionCookie(w, r)
	utils.RespondJSON(w, http.StatusOK, h.sessions.Snapshot())
}

func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, viewFor(r, h.sessions.Snapshot()))
}

// viewFor hides the session from browsers that do not hold its cookie.
func viewFor(r *http.Request, snap session.Snapshot) session.Snapshot {
	if !snap.Authenticated || guard.Owns(r, snap) {
		return snap
	}
	return session.Snapshot{Loading: snap.Loading}
}

func respondAuthError(w http.ResponseWriter, err error, fallback string) {
	var apiErr *authService.Error
	switch {
	case errors.As(err, &apiErr):
		status := apiErr.Status
		if status < 400 || status >= 500 {
			status = http.StatusBadGateway
		}
		utils.RespondError(w, status, apiErr.Message)
	case errors.Is(err, authService.ErrNoToken):
		utils.RespondError(w, http.StatusBadGateway, err.Error())
	default:
		log.Printf("[auth] upstream failure: %v", err)
		utils.RespondError(w, http.StatusBadGateway, fallback)
	}
}
