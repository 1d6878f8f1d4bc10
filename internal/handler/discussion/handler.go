package discussion

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/nddb-lms/lms-admin/backend/internal/guard"
	"github.com/nddb-lms/lms-admin/backend/internal/model/discussion"
	discussionService "github.com/nddb-lms/lms-admin/backend/internal/service/discussion"
	"github.com/nddb-lms/lms-admin/backend/pkg/utils"
)

const (
	defaultLoadWait  = 15 * time.Second
	defaultHeartbeat = 15 * time.Second
)

// Handler exposes course discussion channels over REST, SSE and WebSocket.
type Handler struct {
	pollers   *discussionService.Registry
	loadWait  time.Duration
	heartbeat time.Duration
	upgrader  websocket.Upgrader
}

// New creates the discussion handler. WebSocket upgrades are accepted only
// from allowedOrigins, or from any origin when the list is empty.
func New(pollers *discussionService.Registry, allowedOrigins []string) *Handler {
	origins := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[strings.TrimRight(o, "/")] = struct{}{}
	}

	return &Handler{
		pollers:   pollers,
		loadWait:  defaultLoadWait,
		heartbeat: defaultHeartbeat,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" || len(origins) == 0 {
					return true
				}
				_, ok := origins[origin]
				return ok
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes mounts the REST and SSE routes. It expects to sit under /api.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/courses/{courseID}/discussion", func(cr chi.Router) {
		cr.Get("/", h.handleSnapshot)
		cr.Post("/messages", h.handleSend)
		cr.Get("/stream", h.handleStream)
	})
}

// RegisterWebSocketRoutes mounts the WebSocket route. It expects to sit under /ws.
func (h *Handler) RegisterWebSocketRoutes(r chi.Router) {
	r.Get("/courses/{courseID}/discussion", h.handleWebSocket)
}

type snapshotResponse struct {
	CourseID      string               `json:"courseId"`
	Messages      []discussion.Message `json:"messages"`
	HighWaterMark string               `json:"highWaterMark,omitempty"`
}

func newSnapshot(p *discussionService.Poller) snapshotResponse {
	resp := snapshotResponse{
		CourseID: p.CourseID(),
		Messages: p.Messages(),
	}
	if resp.Messages == nil {
		resp.Messages = []discussion.Message{}
	}
	if hwm := p.HighWaterMark(); !hwm.IsZero() {
		resp.HighWaterMark = discussion.FormatTimestamp(hwm)
	}
	return resp
}

// acquire takes a poller reference and waits for its history load. The
// caller must call the returned release on every path.
func (h *Handler) acquire(ctx context.Context, courseID string) (*discussionService.Poller, func(), error) {
	p, err := h.pollers.Acquire(courseID)
	if err != nil {
		return nil, nil, err
	}
	release := func() { h.pollers.Release(courseID) }

	waitCtx, cancel := context.WithTimeout(ctx, h.loadWait)
	defer cancel()
	select {
	case <-p.Loaded():
	case <-waitCtx.Done():
		log.Printf("[discussion] history not ready course=%s: %v", courseID, waitCtx.Err())
	}
	return p, release, nil
}

func respondAcquireError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, discussionService.ErrCourseRequired):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, discussionService.ErrRegistryClosed):
		utils.RespondError(w, http.StatusServiceUnavailable, "shutting down")
	default:
		utils.RespondError(w, http.StatusInternalServerError, "discussion unavailable")
	}
}

func (h *Handler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	p, release, err := h.acquire(r.Context(), chi.URLParam(r, "courseID"))
	if err != nil {
		respondAcquireError(w, err)
		return
	}
	defer release()

	utils.RespondJSON(w, http.StatusOK, newSnapshot(p))
}

type sendRequest struct {
	Message string `json:"message"`
}

func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request) {
	var payload sendRequest
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, ok := guard.UserFromContext(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	p, release, err := h.acquire(r.Context(), chi.URLParam(r, "courseID"))
	if err != nil {
		respondAcquireError(w, err)
		return
	}
	defer release()

	msg, err := p.Send(r.Context(), &user, payload.Message)
	if err != nil {
		respondSendError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, msg)
}

func respondSendError(w http.ResponseWriter, err error) {
	var sendErr *discussionService.SendError
	switch {
	case errors.Is(err, discussionService.ErrEmptyBody):
		utils.RespondError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, discussionService.ErrNotAuthenticated):
		utils.RespondError(w, http.StatusUnauthorized, "unauthenticated")
	case errors.As(err, &sendErr) && !sendErr.Retryable():
		utils.RespondError(w, http.StatusUnauthorized, "session expired")
	case errors.As(err, &sendErr):
		utils.RespondRetryable(w, http.StatusBadGateway, "message could not be sent")
	default:
		log.Printf("[discussion] send failed: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "message could not be sent")
	}
}
