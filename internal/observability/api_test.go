package observability

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// fakeProvider is a stand-in Provider for exercising the HTTP handlers
// without a real relay.Server.
type fakeProvider struct {
	agents    []AgentSnapshot
	removed   []string
	removeOK  bool
	pending   int
	resources ResourceSnapshot
}

func (f *fakeProvider) AgentSnapshots() []AgentSnapshot { return f.agents }
func (f *fakeProvider) RemoveAgent(id string) bool {
	f.removed = append(f.removed, id)
	return f.removeOK
}
func (f *fakeProvider) PendingCount() int                 { return f.pending }
func (f *fakeProvider) ResourceSnapshot() ResourceSnapshot { return f.resources }

func newTestServer(p *fakeProvider) *Server {
	return NewServer(slog.Default(), p)
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) apiResponse {
	t.Helper()
	var resp apiResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

func TestHandleListAgents(t *testing.T) {
	p := &fakeProvider{agents: []AgentSnapshot{{ID: "agent-1"}, {ID: "agent-2"}}}
	s := newTestServer(p)

	req := httptest.NewRequest(http.MethodGet, "/api/agents", nil)
	w := httptest.NewRecorder()
	s.handleListAgents(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	resp := decodeResponse(t, w)
	if !resp.Success {
		t.Fatalf("expected success=true")
	}
}

func TestHandleAgentByIDFound(t *testing.T) {
	p := &fakeProvider{agents: []AgentSnapshot{{ID: "agent-1"}}}
	s := newTestServer(p)

	req := httptest.NewRequest(http.MethodGet, "/api/agents/agent-1", nil)
	w := httptest.NewRecorder()
	s.handleAgentByID(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestHandleAgentByIDNotFound(t *testing.T) {
	p := &fakeProvider{}
	s := newTestServer(p)

	req := httptest.NewRequest(http.MethodGet, "/api/agents/missing", nil)
	w := httptest.NewRecorder()
	s.handleAgentByID(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestHandleAgentByIDDelete(t *testing.T) {
	p := &fakeProvider{removeOK: true}
	s := newTestServer(p)

	req := httptest.NewRequest(http.MethodDelete, "/api/agents/agent-1", nil)
	w := httptest.NewRecorder()
	s.handleAgentByID(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if len(p.removed) != 1 || p.removed[0] != "agent-1" {
		t.Fatalf("expected RemoveAgent to be called with agent-1, got %v", p.removed)
	}
}

func TestHandleAgentByIDRequiresID(t *testing.T) {
	p := &fakeProvider{}
	s := newTestServer(p)

	req := httptest.NewRequest(http.MethodGet, "/api/agents/", nil)
	w := httptest.NewRecorder()
	s.handleAgentByID(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestHandleStats(t *testing.T) {
	p := &fakeProvider{
		agents:  []AgentSnapshot{{ID: "agent-1"}},
		pending: 3,
		resources: ResourceSnapshot{
			Current: ResourcePoint{Timestamp: time.Now(), CPUPercent: 1.5, RSSBytes: 1024, Goroutines: 10},
		},
	}
	s := newTestServer(p)

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	w := httptest.NewRecorder()
	s.handleStats(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	resp := decodeResponse(t, w)
	data, ok := resp.Data.(map[string]any)
	if !ok {
		t.Fatalf("expected data to be a map, got %T", resp.Data)
	}
	if int(data["agents_connected"].(float64)) != 1 {
		t.Fatalf("unexpected agents_connected: %v", data["agents_connected"])
	}
	if int(data["pending_conns"].(float64)) != 3 {
		t.Fatalf("unexpected pending_conns: %v", data["pending_conns"])
	}
}
