package guard

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/nddb-lms/lms-admin/backend/internal/model/session"
)

// CookieName carries the browser's session id.
const CookieName = "lms_admin_session"

// SetSessionCookie hands the session id to the browser that logged in.
func SetSessionCookie(w http.ResponseWriter, r *http.Request, sid string) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    sid,
		Path:     "/",
		HttpOnly: true,
		Secure:   isHTTPS(r),
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSessionCookie expires the session cookie.
func ClearSessionCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   isHTTPS(r),
		SameSite: http.SameSiteLaxMode,
	})
}

// SessionID returns the id presented by the request, or "".
func SessionID(r *http.Request) string {
	c, err := r.Cookie(CookieName)
	if err != nil {
		return ""
	}
	return c.Value
}

// Owns reports whether the request carries the cookie of the
// authenticated session in snap.
func Owns(r *http.Request, snap session.Snapshot) bool {
	if !snap.Authenticated || snap.SessionID == "" {
		return false
	}
	presented := SessionID(r)
	if presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(snap.SessionID)) == 1
}

func isHTTPS(r *http.Request) bool {
	return r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}
