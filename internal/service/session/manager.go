package session

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/nddb-lms/lms-admin/backend/internal/model/session"
)

var (
	ErrInvalidUser = errors.New("user with a non-empty id is required")
	ErrEmptyToken  = errors.New("token must be a non-empty string")
	// ErrNotOwner rejects a logout from a browser that does not hold the session.
	ErrNotOwner = errors.New("session belongs to another browser")
)

// Manager is the single source of truth for who is logged in. One instance
// is owned by the running process and injected wherever auth state is needed.
type Manager struct {
	store Storage
	now   func() time.Time

	// writeMu serialises Login/Logout so memory and storage change in the same order.
	writeMu sync.Mutex
	writes  uint64 // Login/Logout calls, guarded by writeMu

	mu      sync.RWMutex
	user    *session.User
	token   string
	sid     string
	loading bool

	restoreOnce sync.Once

	subMu   sync.Mutex
	subs    map[int]chan session.State
	nextSub int
}

// NewManager returns a manager in the Booting state. Call Restore once.
func NewManager(store Storage) *Manager {
	return &Manager{
		store:   store,
		now:     time.Now,
		loading: true,
		subs:    make(map[int]chan session.State),
	}
}

// Restore loads the persisted session. Anything missing, malformed or
// expired leaves the manager logged out. It never fails and clears the
// loading flag exactly once; later calls do nothing.
func (m *Manager) Restore(ctx context.Context) {
	m.restoreOnce.Do(func() {
		m.writeMu.Lock()
		before := m.writes
		m.writeMu.Unlock()

		user, token, sid, ok := m.readPersisted(ctx, before)

		m.writeMu.Lock()
		m.mu.Lock()
		// a login or logout during the read wins over what was persisted
		if ok && m.writes == before {
			m.user = user
			m.token = token
			m.sid = sid
		}
		m.loading = false
		state := m.stateLocked()
		m.mu.Unlock()
		m.writeMu.Unlock()

		log.Printf("[session] restore finished: %s", state)
		m.publish(state)
	})
}

func (m *Manager) readPersisted(ctx context.Context, before uint64) (user *session.User, token, sid string, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[session] restore panicked, continuing logged out: %v", r)
			user, token, sid, ok = nil, "", "", false
		}
	}()

	rawUser, hasUser, err := m.store.Get(ctx, KeyUser)
	if err != nil {
		log.Printf("[session] failed to read persisted user: %v", err)
		m.discardPersisted(ctx, before)
		return nil, "", "", false
	}
	rawToken, hasToken, err := m.store.Get(ctx, KeyToken)
	if err != nil {
		log.Printf("[session] failed to read persisted token: %v", err)
		m.discardPersisted(ctx, before)
		return nil, "", "", false
	}
	if !hasUser && !hasToken {
		return nil, "", "", false
	}

	token = strings.TrimSpace(rawToken)
	if !hasUser || !hasToken || token == "" {
		log.Printf("[session] discarding partial persisted session")
		m.discardPersisted(ctx, before)
		return nil, "", "", false
	}

	var decoded session.User
	if err := json.Unmarshal([]byte(rawUser), &decoded); err != nil || decoded.ID == "" {
		log.Printf("[session] discarding malformed persisted user")
		m.discardPersisted(ctx, before)
		return nil, "", "", false
	}

	if tokenExpired(token, m.now()) {
		log.Printf("[session] discarding expired persisted token")
		m.discardPersisted(ctx, before)
		return nil, "", "", false
	}

	// sessions saved without a browser id get a fresh one; no browser holds it
	sid, _, err = m.store.Get(ctx, KeySession)
	if err != nil || strings.TrimSpace(sid) == "" {
		sid = uuid.NewString()
	}
	return &decoded, token, sid, true
}

// discardPersisted leaves storage alone if a login or logout has run since
// the restore began.
func (m *Manager) discardPersisted(ctx context.Context, before uint64) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if m.writes != before {
		return
	}
	if err := m.store.Delete(ctx, KeyUser, KeyToken, KeySession); err != nil {
		log.Printf("[session] failed to clear persisted session: %v", err)
	}
}

// tokenExpired inspects three-segment tokens as JWTs without verifying the
// signature; the LMS API remains the authority. Opaque tokens never expire
// here. A three-segment token that does not decode counts as expired.
func tokenExpired(token string, now time.Time) bool {
	if strings.Count(token, ".") != 2 {
		return false
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return true
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return true
	}
	return exp != nil && !exp.After(now)
}

// Login installs an already-authenticated user. It performs no network
// call. The in-memory state is always installed; a persistence error is
// returned for the caller to report.
func (m *Manager) Login(ctx context.Context, user *session.User, token string) error {
	_, err := m.LoginSession(ctx, user, token)
	return err
}

// LoginSession is Login for a browser. It returns the new session id the
// browser must present; any earlier id stops being valid. The id is
// returned even when persistence failed.
func (m *Manager) LoginSession(ctx context.Context, user *session.User, token string) (string, error) {
	if user == nil || strings.TrimSpace(user.ID) == "" {
		return "", ErrInvalidUser
	}
	if strings.TrimSpace(token) == "" {
		return "", ErrEmptyToken
	}

	encoded, err := json.Marshal(user)
	if err != nil {
		return "", fmt.Errorf("encode user: %w", err)
	}
	copied := *user
	sid := uuid.NewString()

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	m.writes++

	m.mu.Lock()
	m.user = &copied
	m.token = token
	m.sid = sid
	state := m.stateLocked()
	m.mu.Unlock()

	persistErr := m.store.SetMany(ctx, map[string]string{
		KeyUser:    string(encoded),
		KeyToken:   token,
		KeySession: sid,
	})

	log.Printf("[session] logged in user=%s role=%s", copied.ID, copied.Role)
	m.publish(state)

	if persistErr != nil {
		return sid, fmt.Errorf("persist session: %w", persistErr)
	}
	return sid, nil
}

// Owns reports whether sid is the id of the current authenticated session.
func (m *Manager) Owns(sid string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return matchesSession(m.sid, m.user != nil && m.token != "", sid)
}

func matchesSession(current string, authenticated bool, presented string) bool {
	if !authenticated || current == "" || presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(current), []byte(presented)) == 1
}

// Logout clears memory and storage. Storage is cleared even when nothing
// is held in memory, so a logout during restore still sticks.
func (m *Manager) Logout(ctx context.Context) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	m.clearLocked(ctx, "logout")
}

// LogoutSession logs out the browser holding sid. While someone is logged
// in, any other id gets ErrNotOwner and the session is kept.
func (m *Manager) LogoutSession(ctx context.Context, sid string) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.mu.RLock()
	authenticated := m.user != nil && m.token != ""
	owner := matchesSession(m.sid, authenticated, sid)
	m.mu.RUnlock()

	if authenticated && !owner {
		return ErrNotOwner
	}
	m.clearLocked(ctx, "logout")
	return nil
}

// Invalidate reacts to an auth failure reported by a collaborator, such as
// a 401 from the LMS API.
func (m *Manager) Invalidate(ctx context.Context, reason string) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	m.clearLocked(ctx, reason)
}

// clearLocked requires writeMu.
func (m *Manager) clearLocked(ctx context.Context, reason string) {
	m.writes++
	m.mu.Lock()
	wasSet := m.user != nil || m.token != ""
	m.user = nil
	m.token = ""
	m.sid = ""
	state := m.stateLocked()
	m.mu.Unlock()

	if err := m.store.Delete(ctx, KeyUser, KeyToken, KeySession); err != nil {
		log.Printf("[session] failed to remove persisted session: %v", err)
	}
	if !wasSet {
		return
	}
	log.Printf("[session] session cleared (%s)", reason)
	m.publish(state)
}

// Snapshot returns a consistent copy of the session.
func (m *Manager) Snapshot() session.Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := session.Snapshot{
		Token:         m.token,
		SessionID:     m.sid,
		Authenticated: m.user != nil && m.token != "",
		Loading:       m.loading,
	}
	if m.user != nil {
		u := *m.user
		snap.User = &u
	}
	return snap
}

// State reports the guard state.
func (m *Manager) State() session.State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stateLocked()
}

// Token returns the current credential, or "" when logged out.
func (m *Manager) Token() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token
}

// CurrentUser returns a copy of the logged in user.
func (m *Manager) CurrentUser() (session.User, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.user == nil || m.token == "" {
		return session.User{}, false
	}
	return *m.user, true
}

func (m *Manager) stateLocked() session.State {
	switch {
	case m.loading:
		return session.StateBooting
	case m.user != nil && m.token != "":
		return session.StateAuthenticated
	default:
		return session.StateUnauthenticated
	}
}

// Subscribe delivers state transitions. Slow readers miss intermediate
// states rather than blocking the manager.
func (m *Manager) Subscribe() (<-chan session.State, func()) {
	ch := make(chan session.State, 4)

	m.subMu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch
	m.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.subMu.Lock()
			delete(m.subs, id)
			m.subMu.Unlock()
			close(ch)
		})
	}
}

func (m *Manager) publish(state session.State) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- state:
		default:
		}
	}
}
