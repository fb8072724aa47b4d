package observability

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// upgrader is shared across connections; CheckOrigin is permissive because
// this endpoint carries no credential of its own and is assumed to sit
// behind an operator-controlled boundary.
var upgrader = websocket.Upgrader{
	HandshakeTimeout: 10 * time.Second,
	CheckOrigin:      func(r *http.Request) bool { return true },
}

// eventsTick is how often /ws/events pushes a fresh agent snapshot.
const eventsTick = 2 * time.Second

// handleEvents implements GET /ws/events: upgrades to a websocket and
// streams a JSON agent snapshot on every tick until the client disconnects
// or the server shuts down.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("events upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(eventsTick)
	defer ticker.Stop()

	// A read pump just to notice client-initiated close frames; this
	// endpoint is push-only otherwise.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-closed:
			return
		case <-ticker.C:
			payload, err := json.Marshal(s.provider.AgentSnapshots())
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		}
	}
}
