package content

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nddb-lms/lms-admin/backend/internal/model/content"
	"github.com/nddb-lms/lms-admin/backend/pkg/utils"
)

// Handler classifies course assets for the content library.
type Handler struct{}

// New creates the content handler.
func New() *Handler {
	return &Handler{}
}

// RegisterRoutes mounts the routes under the given router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/content/kind", h.handleKind)
}

func (h *Handler) handleKind(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mimeType := strings.TrimSpace(q.Get("type"))
	filePath := strings.TrimSpace(q.Get("path"))
	if mimeType == "" && filePath == "" {
		utils.RespondError(w, http.StatusBadRequest, "type or path query parameter is required")
		return
	}
	utils.RespondJSON(w, http.StatusOK, content.NewAsset(filePath, mimeType))
}
