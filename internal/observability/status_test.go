package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandleStatusRendersAgentCount(t *testing.T) {
	p := &fakeProvider{
		agents:  []AgentSnapshot{{ID: "agent-1"}, {ID: "agent-2"}},
		pending: 1,
	}
	s := newTestServer(p)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	w := httptest.NewRecorder()
	s.handleStatus(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "2 agent(s) connected") {
		t.Fatalf("expected agent count in body, got %q", body)
	}
	if !strings.Contains(body, "agent-1") {
		t.Fatalf("expected agent id in body, got %q", body)
	}
}
