package discussion

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/nddb-lms/lms-admin/backend/internal/guard"
	"github.com/nddb-lms/lms-admin/backend/internal/model/discussion"
	"github.com/nddb-lms/lms-admin/backend/internal/model/session"
	discussionService "github.com/nddb-lms/lms-admin/backend/internal/service/discussion"
)

type fakeAPI struct {
	mu        sync.Mutex
	messages  []discussion.Message
	createErr error
	created   []discussion.NewMessage
}

func (f *fakeAPI) ListSince(_ context.Context, courseID string, _ time.Time) ([]discussion.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]discussion.Message, len(f.messages))
	copy(out, f.messages)
	return out, nil
}

func (f *fakeAPI) Create(_ context.Context, msg discussion.NewMessage) (discussion.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return discussion.Message{}, f.createErr
	}
	f.created = append(f.created, msg)
	created := discussion.Message{
		ID:         fmt.Sprintf("m-%d", len(f.messages)+1),
		CourseID:   msg.CourseID,
		SenderID:   msg.SenderID,
		SenderRole: msg.SenderRole,
		Body:       msg.Body,
		Timestamp:  msg.Timestamp,
	}
	f.messages = append(f.messages, created)
	return created, nil
}

type fixedSource struct{ snap session.Snapshot }

func (f fixedSource) Snapshot() session.Snapshot { return f.snap }

var admin = session.User{ID: "admin-1", Name: "Asha", Role: "admin"}

func history() []discussion.Message {
	return []discussion.Message{
		{ID: "a", CourseID: "c1", SenderID: "s1", SenderRole: discussion.RoleUser, Body: "hello", Timestamp: "2024-05-01T10:00:00.000Z"},
		{ID: "b", CourseID: "c1", SenderID: "s2", SenderRole: discussion.RoleUser, Body: "hi", Timestamp: "2024-05-01T10:01:00.000Z"},
	}
}

func setup(t *testing.T, api *fakeAPI, withUser bool) (*chi.Mux, *discussionService.Registry) {
	t.Helper()
	pollers := discussionService.NewRegistry(context.Background(), api, discussionService.Options{
		Interval:       time.Hour,
		RequestTimeout: time.Second,
	})
	t.Cleanup(pollers.Shutdown)

	h := New(pollers, nil)
	r := chi.NewRouter()
	if withUser {
		u := admin
		// stands in for the admin's browser presenting its cookie
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				req.AddCookie(&http.Cookie{Name: guard.CookieName, Value: "sid-admin"})
				next.ServeHTTP(w, req)
			})
		})
		r.Use(guard.Require(fixedSource{snap: session.Snapshot{User: &u, Token: "tok", SessionID: "sid-admin", Authenticated: true}}))
	}
	r.Route("/api", h.RegisterRoutes)
	r.Route("/ws", h.RegisterWebSocketRoutes)
	return r, pollers
}

func waitReleased(t *testing.T, pollers *discussionService.Registry) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for pollers.Active() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("poller still held: active=%d", pollers.Active())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSnapshotReturnsHistory(t *testing.T) {
	r, pollers := setup(t, &fakeAPI{messages: history()}, true)

	req := httptest.NewRequest(http.MethodGet, "/api/courses/c1/discussion", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var got snapshotResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.CourseID != "c1" || len(got.Messages) != 2 || got.Messages[0].ID != "a" {
		t.Fatalf("unexpected snapshot %+v", got)
	}
	if got.HighWaterMark == "" {
		t.Fatal("expected high-water mark")
	}
	waitReleased(t, pollers)
}

func TestSendMessage(t *testing.T) {
	api := &fakeAPI{messages: history()}
	r, pollers := setup(t, api, true)

	req := httptest.NewRequest(http.MethodPost, "/api/courses/c1/discussion/messages", strings.NewReader(`{"message":"welcome"}`))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.Code, resp.Body.String())
	}
	var got discussion.Message
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != "m-3" || got.Pending || got.Body != "welcome" {
		t.Fatalf("unexpected message %+v", got)
	}

	api.mu.Lock()
	sent := api.created[0]
	api.mu.Unlock()
	if sent.SenderID != admin.ID || sent.SenderRole != discussion.RoleAdmin || sent.CourseID != "c1" {
		t.Fatalf("unexpected create payload %+v", sent)
	}
	waitReleased(t, pollers)
}

func TestSendFailures(t *testing.T) {
	cases := []struct {
		name          string
		body          string
		createErr     error
		withUser      bool
		wantStatus    int
		wantRetryable bool
	}{
		{name: "empty body", body: `{"message":"   "}`, withUser: true, wantStatus: http.StatusUnprocessableEntity},
		{name: "bad json", body: `{`, withUser: true, wantStatus: http.StatusBadRequest},
		{name: "no user", body: `{"message":"x"}`, wantStatus: http.StatusUnauthorized},
		{name: "upstream failure", body: `{"message":"x"}`, createErr: errors.New("boom"), withUser: true, wantStatus: http.StatusBadGateway, wantRetryable: true},
		{name: "credential rejected", body: `{"message":"x"}`, createErr: discussionService.ErrUnauthorized, withUser: true, wantStatus: http.StatusUnauthorized},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r, pollers := setup(t, &fakeAPI{createErr: tc.createErr}, tc.withUser)

			req := httptest.NewRequest(http.MethodPost, "/api/courses/c1/discussion/messages", strings.NewReader(tc.body))
			resp := httptest.NewRecorder()
			r.ServeHTTP(resp, req)

			if resp.Code != tc.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tc.wantStatus, resp.Code, resp.Body.String())
			}
			var body struct {
				Retryable bool `json:"retryable"`
			}
			_ = json.NewDecoder(resp.Body).Decode(&body)
			if body.Retryable != tc.wantRetryable {
				t.Fatalf("retryable = %v", body.Retryable)
			}
			waitReleased(t, pollers)
		})
	}
}

func TestStreamDeliversEventsAndReleases(t *testing.T) {
	r, pollers := setup(t, &fakeAPI{messages: history()}, true)
	srv := httptest.NewServer(r)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/courses/c1/discussion/stream", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("stream request: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	scanner := bufio.NewScanner(resp.Body)
	var sawSnapshot bool
	for scanner.Scan() {
		if scanner.Text() == "event: snapshot" {
			sawSnapshot = true
			break
		}
	}
	if !sawSnapshot {
		t.Fatal("no snapshot event received")
	}
	if pollers.Active() != 1 {
		t.Fatalf("expected one active poller, got %d", pollers.Active())
	}

	cancel()
	waitReleased(t, pollers)
}

func TestWebSocketSendAndConfirm(t *testing.T) {
	r, pollers := setup(t, &fakeAPI{messages: history()}, true)
	srv := httptest.NewServer(r)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/courses/c1/discussion"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	if err := conn.WriteJSON(inboundMessage{Type: "send", Message: "from socket"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var seen []string
	for {
		var msg outgoingMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read after %v: %v", seen, err)
		}
		seen = append(seen, msg.Type)
		if msg.Type == string(discussion.EventConfirmed) {
			break
		}
	}
	if seen[0] != string(discussion.EventSnapshot) {
		t.Fatalf("first event should be a snapshot, got %v", seen)
	}

	conn.Close()
	waitReleased(t, pollers)
}

func TestWebSocketRejectsUnknownOrigin(t *testing.T) {
	pollers := discussionService.NewRegistry(context.Background(), &fakeAPI{}, discussionService.Options{Interval: time.Hour})
	defer pollers.Shutdown()

	h := New(pollers, []string{"http://localhost:5173"})
	r := chi.NewRouter()
	r.Route("/ws", h.RegisterWebSocketRoutes)
	srv := httptest.NewServer(r)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/courses/c1/discussion"
	header := http.Header{"Origin": []string{"https://evil.example"}}
	if _, resp, err := websocket.DefaultDialer.Dial(url, header); err == nil {
		t.Fatal("expected handshake failure")
	} else if resp != nil && resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
	waitReleased(t, pollers)
}
