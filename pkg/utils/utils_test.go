package utils

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRespondRetryable(t *testing.T) {
	resp := httptest.NewRecorder()
	RespondRetryable(resp, http.StatusBadGateway, "send failed")

	if resp.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", resp.Code)
	}
	var body ErrorBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error != "send failed" || !body.Retryable {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestSendSSEEvent(t *testing.T) {
	resp := httptest.NewRecorder()
	SetupSSEHeaders(resp)

	if err := SendSSEEvent(resp, resp, "appended", map[string]string{"id": "m1"}); err != nil {
		t.Fatalf("SendSSEEvent err: %v", err)
	}
	if err := SendSSEComment(resp, resp, "ping"); err != nil {
		t.Fatalf("SendSSEComment err: %v", err)
	}

	want := "event: appended\ndata: {\"id\":\"m1\"}\n\n: ping\n\n"
	if resp.Body.String() != want {
		t.Fatalf("unexpected stream %q", resp.Body.String())
	}
	if !strings.HasPrefix(resp.Header().Get("Content-Type"), "text/event-stream") {
		t.Fatal("missing event-stream content type")
	}
	if !resp.Flushed {
		t.Fatal("expected flush")
	}
}
