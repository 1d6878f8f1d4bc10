package session_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	model "github.com/nddb-lms/lms-admin/backend/internal/model/session"
	"github.com/nddb-lms/lms-admin/backend/internal/service/session"
)

// failingStore fails every operation.
type failingStore struct{}

func (failingStore) Get(context.Context, string) (string, bool, error) {
	return "", false, errors.New("disk on fire")
}
func (failingStore) SetMany(context.Context, map[string]string) error {
	return errors.New("disk on fire")
}
func (failingStore) Delete(context.Context, ...string) error { return errors.New("disk on fire") }

// panicStore panics on read.
type panicStore struct{ session.MemoryStore }

func (*panicStore) Get(context.Context, string) (string, bool, error) { panic("boom") }

func seeded(t *testing.T, values map[string]string) *session.MemoryStore {
	t.Helper()
	store := session.NewMemoryStore()
	if err := store.SetMany(context.Background(), values); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	return store
}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "u1",
		"exp": exp.Unix(),
	}).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func assertConsistent(t *testing.T, m *session.Manager) {
	t.Helper()
	snap := m.Snapshot()
	want := snap.User != nil && snap.Token != ""
	if snap.Authenticated != want {
		t.Fatalf("isAuthenticated=%v but user=%v token=%q", snap.Authenticated, snap.User, snap.Token)
	}
	if snap.Authenticated && snap.Token == "" {
		t.Fatal("authenticated with empty token")
	}
}

func TestNewManagerStartsBooting(t *testing.T) {
	m := session.NewManager(session.NewMemoryStore())
	if m.State() != model.StateBooting {
		t.Fatalf("expected booting, got %s", m.State())
	}
	if !m.Snapshot().Loading {
		t.Fatal("expected loading before restore")
	}
}

func TestRestoreWithPersistedSession(t *testing.T) {
	store := seeded(t, map[string]string{
		session.KeyUser:  `{"id":"u1","name":"Asha","role":"admin"}`,
		session.KeyToken: "abc",
	})
	m := session.NewManager(store)

	m.Restore(context.Background())

	snap := m.Snapshot()
	if !snap.Authenticated || snap.Loading {
		t.Fatalf("expected authenticated and not loading, got %+v", snap)
	}
	if snap.User == nil || snap.User.Name != "Asha" {
		t.Fatalf("unexpected user %+v", snap.User)
	}
	if snap.Token != "abc" {
		t.Fatalf("unexpected token %q", snap.Token)
	}
}

func TestRestoreFailsOpenToLoggedOut(t *testing.T) {
	cases := []struct {
		name   string
		values map[string]string
	}{
		{name: "empty", values: map[string]string{}},
		{name: "token only", values: map[string]string{session.KeyToken: "abc"}},
		{name: "user only", values: map[string]string{session.KeyUser: `{"id":"u1"}`}},
		{name: "blank token", values: map[string]string{session.KeyUser: `{"id":"u1"}`, session.KeyToken: "  "}},
		{name: "malformed user", values: map[string]string{session.KeyUser: `{"id":`, session.KeyToken: "abc"}},
		{name: "user without id", values: map[string]string{session.KeyUser: `{"name":"x"}`, session.KeyToken: "abc"}},
		{name: "user is null", values: map[string]string{session.KeyUser: `null`, session.KeyToken: "abc"}},
		{name: "garbage jwt", values: map[string]string{session.KeyUser: `{"id":"u1"}`, session.KeyToken: "a.b.c"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := seeded(t, tc.values)
			m := session.NewManager(store)

			m.Restore(context.Background())

			snap := m.Snapshot()
			if snap.Authenticated || snap.Loading {
				t.Fatalf("expected logged out and loaded, got %+v", snap)
			}
			if _, ok, _ := store.Get(context.Background(), session.KeyToken); ok {
				t.Fatal("expected persisted token to be cleared")
			}
		})
	}
}

func TestRestoreRejectsExpiredJWT(t *testing.T) {
	store := seeded(t, map[string]string{
		session.KeyUser:  `{"id":"u1","role":"admin"}`,
		session.KeyToken: signedToken(t, time.Now().Add(-time.Hour)),
	})
	m := session.NewManager(store)

	m.Restore(context.Background())

	if m.State() != model.StateUnauthenticated {
		t.Fatalf("expected unauthenticated, got %s", m.State())
	}
}

func TestRestoreAcceptsLiveJWT(t *testing.T) {
	store := seeded(t, map[string]string{
		session.KeyUser:  `{"id":"u1","role":"admin"}`,
		session.KeyToken: signedToken(t, time.Now().Add(time.Hour)),
	})
	m := session.NewManager(store)

	m.Restore(context.Background())

	if m.State() != model.StateAuthenticated {
		t.Fatalf("expected authenticated, got %s", m.State())
	}
}

func TestRestoreSurvivesBrokenStorage(t *testing.T) {
	for name, store := range map[string]session.Storage{
		"erroring":  failingStore{},
		"panicking": &panicStore{},
	} {
		t.Run(name, func(t *testing.T) {
			m := session.NewManager(store)
			m.Restore(context.Background())

			snap := m.Snapshot()
			if snap.Authenticated || snap.Loading {
				t.Fatalf("expected logged out and loaded, got %+v", snap)
			}
		})
	}
}

func TestRestoreRunsOnce(t *testing.T) {
	store := session.NewMemoryStore()
	m := session.NewManager(store)
	m.Restore(context.Background())

	_ = store.SetMany(context.Background(), map[string]string{
		session.KeyUser:  `{"id":"u1"}`,
		session.KeyToken: "abc",
	})
	m.Restore(context.Background())

	if m.State() != model.StateUnauthenticated {
		t.Fatalf("second restore must not change state, got %s", m.State())
	}
}

func TestLoginPersistsBothFields(t *testing.T) {
	ctx := context.Background()
	store := session.NewMemoryStore()
	m := session.NewManager(store)
	m.Restore(ctx)

	if err := m.Login(ctx, &model.User{ID: "u1", Name: "Asha", Role: "admin"}, "tok"); err != nil {
		t.Fatalf("Login err: %v", err)
	}
	assertConsistent(t, m)

	if m.State() != model.StateAuthenticated {
		t.Fatalf("expected authenticated, got %s", m.State())
	}
	if v, ok, _ := store.Get(ctx, session.KeyToken); !ok || v != "tok" {
		t.Fatalf("token not persisted: %q %v", v, ok)
	}
	if _, ok, _ := store.Get(ctx, session.KeyUser); !ok {
		t.Fatal("user not persisted")
	}

	// a fresh manager over the same storage restores the same session
	again := session.NewManager(store)
	again.Restore(ctx)
	if u, ok := again.CurrentUser(); !ok || u.ID != "u1" {
		t.Fatalf("expected restored user u1, got %+v %v", u, ok)
	}
}

func TestLoginPreconditions(t *testing.T) {
	ctx := context.Background()
	m := session.NewManager(session.NewMemoryStore())
	m.Restore(ctx)

	if err := m.Login(ctx, nil, "tok"); !errors.Is(err, session.ErrInvalidUser) {
		t.Fatalf("expected ErrInvalidUser, got %v", err)
	}
	if err := m.Login(ctx, &model.User{}, "tok"); !errors.Is(err, session.ErrInvalidUser) {
		t.Fatalf("expected ErrInvalidUser for empty id, got %v", err)
	}
	if err := m.Login(ctx, &model.User{ID: "u1"}, ""); !errors.Is(err, session.ErrEmptyToken) {
		t.Fatalf("expected ErrEmptyToken, got %v", err)
	}
	if m.State() != model.StateUnauthenticated {
		t.Fatalf("rejected login must not change state, got %s", m.State())
	}
	assertConsistent(t, m)
}

func TestLoginReportsPersistenceFailure(t *testing.T) {
	ctx := context.Background()
	m := session.NewManager(failingStore{})
	m.Restore(ctx)

	err := m.Login(ctx, &model.User{ID: "u1"}, "tok")
	if err == nil {
		t.Fatal("expected persistence error")
	}
	if m.State() != model.StateAuthenticated {
		t.Fatalf("in-memory session should still be live, got %s", m.State())
	}
}

func TestLoginLogoutSequencesStayConsistent(t *testing.T) {
	ctx := context.Background()
	m := session.NewManager(session.NewMemoryStore())
	m.Restore(ctx)

	steps := []string{"login", "logout", "logout", "login", "login", "invalidate", "logout", "login"}
	for i, step := range steps {
		switch step {
		case "login":
			if err := m.Login(ctx, &model.User{ID: "u1"}, "tok"); err != nil {
				t.Fatalf("step %d login: %v", i, err)
			}
		case "logout":
			m.Logout(ctx)
		case "invalidate":
			m.Invalidate(ctx, "401 from api")
		}
		assertConsistent(t, m)
	}
}

func TestLogoutIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := session.NewMemoryStore()
	m := session.NewManager(store)
	m.Restore(ctx)

	_ = m.Login(ctx, &model.User{ID: "u1"}, "tok")
	m.Logout(ctx)
	m.Logout(ctx)

	if m.State() != model.StateUnauthenticated {
		t.Fatalf("expected unauthenticated, got %s", m.State())
	}
	if _, ok, _ := store.Get(ctx, session.KeyUser); ok {
		t.Fatal("user should be removed from storage")
	}
	if m.Token() != "" {
		t.Fatal("token should be cleared")
	}
}

func TestSubscribeReceivesTransitions(t *testing.T) {
	ctx := context.Background()
	m := session.NewManager(session.NewMemoryStore())
	states, cancel := m.Subscribe()
	defer cancel()

	m.Restore(ctx)
	_ = m.Login(ctx, &model.User{ID: "u1"}, "tok")
	m.Invalidate(ctx, "expired")

	want := []model.State{model.StateUnauthenticated, model.StateAuthenticated, model.StateUnauthenticated}
	for i, w := range want {
		select {
		case got := <-states:
			if got != w {
				t.Fatalf("transition %d = %s, want %s", i, got, w)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for transition %d", i)
		}
	}
}

func TestLogoutBeforeRestoreClearsStorage(t *testing.T) {
	ctx := context.Background()
	store := seeded(t, map[string]string{
		session.KeyUser:    `{"id":"u1","role":"admin"}`,
		session.KeyToken:   "abc",
		session.KeySession: "sid-1",
	})
	m := session.NewManager(store)

	m.Logout(ctx)

	for _, key := range []string{session.KeyUser, session.KeyToken, session.KeySession} {
		if _, ok, _ := store.Get(ctx, key); ok {
			t.Fatalf("%s still persisted after logout", key)
		}
	}

	m.Restore(ctx)
	if m.State() != model.StateUnauthenticated {
		t.Fatalf("expected unauthenticated after restore, got %s", m.State())
	}
	again := session.NewManager(store)
	again.Restore(ctx)
	if again.State() != model.StateUnauthenticated {
		t.Fatalf("a restart must not bring the session back, got %s", again.State())
	}
}

// gatedStore holds the result of the first read until released.
type gatedStore struct {
	*session.MemoryStore
	entered chan struct{}
	release chan struct{}
	once    bool
}

func (s *gatedStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, ok, err := s.MemoryStore.Get(ctx, key)
	if !s.once {
		s.once = true
		close(s.entered)
		<-s.release
	}
	return v, ok, err
}

func TestLogoutDuringRestoreWins(t *testing.T) {
	ctx := context.Background()
	store := &gatedStore{
		MemoryStore: seeded(t, map[string]string{
			session.KeyUser:  `{"id":"u1","role":"admin"}`,
			session.KeyToken: "abc",
		}),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	m := session.NewManager(store)

	done := make(chan struct{})
	go func() {
		m.Restore(ctx)
		close(done)
	}()
	<-store.entered

	m.Logout(ctx)
	// logout removed the keys; put them back so restore reads a full session
	_ = store.MemoryStore.SetMany(ctx, map[string]string{
		session.KeyUser:  `{"id":"u1","role":"admin"}`,
		session.KeyToken: "abc",
	})
	close(store.release)
	<-done

	if m.State() != model.StateUnauthenticated {
		t.Fatalf("restore must not undo a logout, got %s", m.State())
	}
}

func TestLoginSessionOwnership(t *testing.T) {
	ctx := context.Background()
	store := session.NewMemoryStore()
	m := session.NewManager(store)
	m.Restore(ctx)

	sid, err := m.LoginSession(ctx, &model.User{ID: "u1", Role: "admin"}, "tok")
	if err != nil {
		t.Fatalf("LoginSession err: %v", err)
	}
	if sid == "" || m.Snapshot().SessionID != sid {
		t.Fatalf("expected snapshot to carry session id %q, got %+v", sid, m.Snapshot())
	}
	if v, ok, _ := store.Get(ctx, session.KeySession); !ok || v != sid {
		t.Fatalf("session id not persisted: %q %v", v, ok)
	}

	cases := []struct {
		sid  string
		owns bool
	}{
		{sid: sid, owns: true},
		{sid: "", owns: false},
		{sid: "someone-else", owns: false},
	}
	for _, tc := range cases {
		if got := m.Owns(tc.sid); got != tc.owns {
			t.Fatalf("Owns(%q) = %v, want %v", tc.sid, got, tc.owns)
		}
	}

	if err := m.LogoutSession(ctx, "someone-else"); !errors.Is(err, session.ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	if m.State() != model.StateAuthenticated {
		t.Fatalf("a foreign logout must keep the session, got %s", m.State())
	}

	// a second login replaces the id
	next, _ := m.LoginSession(ctx, &model.User{ID: "u1"}, "tok2")
	if next == sid || m.Owns(sid) {
		t.Fatal("old session id should stop working after a new login")
	}

	if err := m.LogoutSession(ctx, next); err != nil {
		t.Fatalf("owner logout err: %v", err)
	}
	if m.State() != model.StateUnauthenticated || m.Owns(next) {
		t.Fatalf("expected logged out, got %s", m.State())
	}
	if err := m.LogoutSession(ctx, ""); err != nil {
		t.Fatalf("logout while logged out should be a no-op, got %v", err)
	}
}

func TestRestoreKeepsSessionID(t *testing.T) {
	ctx := context.Background()
	store := seeded(t, map[string]string{
		session.KeyUser:    `{"id":"u1"}`,
		session.KeyToken:   "abc",
		session.KeySession: "sid-1",
	})
	m := session.NewManager(store)
	m.Restore(ctx)

	if !m.Owns("sid-1") {
		t.Fatal("expected the persisted session id to survive a restart")
	}

	legacy := session.NewManager(seeded(t, map[string]string{
		session.KeyUser:  `{"id":"u1"}`,
		session.KeyToken: "abc",
	}))
	legacy.Restore(ctx)
	if legacy.State() != model.StateAuthenticated || legacy.Snapshot().SessionID == "" {
		t.Fatalf("expected a fresh session id for a session saved without one, got %+v", legacy.Snapshot())
	}
}
