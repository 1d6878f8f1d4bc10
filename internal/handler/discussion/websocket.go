package discussion

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/nddb-lms/lms-admin/backend/internal/guard"
	"github.com/nddb-lms/lms-admin/backend/internal/model/discussion"
	"github.com/nddb-lms/lms-admin/backend/internal/model/session"
	discussionService "github.com/nddb-lms/lms-admin/backend/internal/service/discussion"
)

const (
	pongWait     = 60 * time.Second
	pingInterval = 54 * time.Second
	writeWait    = 10 * time.Second
)

type inboundMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type outgoingMessage struct {
	Type      string      `json:"type"`
	CourseID  string      `json:"courseId,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// wsConn serializes writes; gorilla allows one concurrent writer.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) writeJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	courseID := chi.URLParam(r, "courseID")
	user, _ := guard.UserFromContext(r.Context())

	p, err := h.pollers.Acquire(courseID)
	if err != nil {
		respondAcquireError(w, err)
		return
	}
	defer h.pollers.Release(courseID)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[websocket] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	log.Printf("[websocket] new connection course=%s user=%s", courseID, user.ID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ws := &wsConn{conn: conn}
	events, unsubscribe := p.Subscribe()
	defer unsubscribe()

	conn.SetReadLimit(64 << 10)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go h.pingLoop(ctx, ws)
	go h.forwardEvents(ctx, cancel, ws, courseID, events)

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[websocket] read error course=%s: %v", courseID, err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		switch msg.Type {
		case "send":
			h.handleSendMessage(ctx, ws, p, &user, msg.Message)
		default:
			h.sendError(ws, courseID, "unsupported message type")
		}

		if ctx.Err() != nil {
			return
		}
	}
}

func (h *Handler) handleSendMessage(ctx context.Context, ws *wsConn, p *discussionService.Poller, user *session.User, body string) {
	// a send racing the history load would be wiped by it
	select {
	case <-p.Loaded():
	case <-ctx.Done():
		return
	}

	if _, err := p.Send(ctx, user, body); err != nil {
		data := map[string]interface{}{"message": err.Error(), "retryable": false}
		var sendErr *discussionService.SendError
		if errors.As(err, &sendErr) {
			data["retryable"] = sendErr.Retryable()
			data["message"] = "message could not be sent"
		}
		h.send(ws, outgoingMessage{Type: "error", CourseID: p.CourseID(), Data: data})
	}
}

// forwardEvents copies poller events to the socket. When the poller closes
// the subscription the connection is ended.
func (h *Handler) forwardEvents(ctx context.Context, cancel context.CancelFunc, ws *wsConn, courseID string, events <-chan discussion.Event) {
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				_ = ws.conn.Close()
				return
			}
			if err := ws.writeJSON(outgoingMessage{
				Type:      string(ev.Type),
				CourseID:  courseID,
				Data:      ev,
				Timestamp: time.Now().Unix(),
			}); err != nil {
				log.Printf("[websocket] write failed course=%s: %v", courseID, err)
				_ = ws.conn.Close()
				return
			}
		}
	}
}

func (h *Handler) send(ws *wsConn, msg outgoingMessage) {
	msg.Timestamp = time.Now().Unix()
	if err := ws.writeJSON(msg); err != nil {
		log.Printf("[websocket] write failed: %v", err)
	}
}

func (h *Handler) sendError(ws *wsConn, courseID, message string) {
	h.send(ws, outgoingMessage{
		Type:     "error",
		CourseID: courseID,
		Data:     map[string]string{"message": message},
	})
}

func (h *Handler) pingLoop(ctx context.Context, ws *wsConn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := ws.ping(); err != nil {
				return
			}
		}
	}
}
