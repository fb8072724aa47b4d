package observability

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

// apiResponse mirrors the envelope the original frps API used for every
// JSON response (success/data/message/timestamp), carried over here so the
// observability surface reads the way the rest of this fabric's wire
// formats do.
type apiResponse struct {
	Success   bool   `json:"success"`
	Data      any    `json:"data,omitempty"`
	Message   string `json:"message,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

func writeJSON(w http.ResponseWriter, status int, resp apiResponse) {
	resp.Timestamp = time.Now().Unix()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Data: s.provider.AgentSnapshots()})
}

func (s *Server) handleAgentByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/agents/")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, apiResponse{Success: false, Message: "agent id required"})
		return
	}

	switch r.Method {
	case http.MethodGet:
		for _, snap := range s.provider.AgentSnapshots() {
			if snap.ID == id {
				writeJSON(w, http.StatusOK, apiResponse{Success: true, Data: snap})
				return
			}
		}
		writeJSON(w, http.StatusNotFound, apiResponse{Success: false, Message: "agent not found"})

	case http.MethodDelete:
		if s.provider.RemoveAgent(id) {
			writeJSON(w, http.StatusOK, apiResponse{Success: true, Message: "agent disconnected"})
			return
		}
		writeJSON(w, http.StatusNotFound, apiResponse{Success: false, Message: "agent not found"})

	default:
		writeJSON(w, http.StatusMethodNotAllowed, apiResponse{Success: false, Message: "method not allowed"})
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	agents := s.provider.AgentSnapshots()
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Data: map[string]any{
		"agents_connected": len(agents),
		"pending_conns":    s.provider.PendingCount(),
		"resources":        s.provider.ResourceSnapshot(),
	}})
}
