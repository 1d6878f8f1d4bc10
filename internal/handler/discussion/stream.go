package discussion

import (
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nddb-lms/lms-admin/backend/pkg/utils"
)

// handleStream pushes channel events as Server-Sent Events. The poller
// reference is held for the lifetime of the request.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	courseID := chi.URLParam(r, "courseID")
	p, err := h.pollers.Acquire(courseID)
	if err != nil {
		respondAcquireError(w, err)
		return
	}
	defer h.pollers.Release(courseID)

	events, cancel := p.Subscribe()
	defer cancel()

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	log.Printf("[sse] opening discussion stream course=%s", courseID)
	defer log.Printf("[sse] closing discussion stream course=%s", courseID)

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				_ = utils.SendSSEEvent(w, flusher, "closed", map[string]string{"courseId": courseID})
				return
			}
			if err := utils.SendSSEEvent(w, flusher, string(ev.Type), ev); err != nil {
				log.Printf("[sse] write failed course=%s: %v", courseID, err)
				return
			}
		case <-ticker.C:
			if err := utils.SendSSEComment(w, flusher, "heartbeat"); err != nil {
				return
			}
		}
	}
}
