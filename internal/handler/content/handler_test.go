package content

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/nddb-lms/lms-admin/backend/internal/model/content"
)

func TestKindEndpoint(t *testing.T) {
	r := chi.NewRouter()
	New().RegisterRoutes(r)

	cases := []struct {
		query string
		want  content.Kind
	}{
		{query: "type=video/mp4&path=lecture.bin", want: content.KindVideo},
		{query: "path=slides.pptx", want: content.KindDocument},
		{query: "type=application/octet-stream&path=clip.webm?v=2", want: content.KindVideo},
		{query: "path=archive.zip", want: content.KindUnknown},
	}

	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/content/kind?"+tc.query, nil)
		resp := httptest.NewRecorder()
		r.ServeHTTP(resp, req)

		if resp.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", tc.query, resp.Code)
		}
		var got content.Asset
		if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.Kind != tc.want {
			t.Fatalf("%s: expected %s, got %s", tc.query, tc.want, got.Kind)
		}
	}
}

func TestKindEndpointRequiresInput(t *testing.T) {
	r := chi.NewRouter()
	New().RegisterRoutes(r)

	req := httptest.NewRequest(http.MethodGet, "/content/kind", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}
