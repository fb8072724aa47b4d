package relay

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/drksbr/intratun/internal/logger"
	"github.com/drksbr/intratun/internal/protocol"
)

// controlHandler drives the per-agent state machine: (start)
// --Login/LoginByToken--> Authed --Register--> Registered, then
// Heartbeat/SystemInfo/ModelList update the registry entry in place until
// EOF, a protocol error, or a server-initiated Disconnect.
type controlHandler struct {
	server *Server
	conn   net.Conn
	fc     *frameConn
	logger *slog.Logger

	agentID string
	entry   *AgentEntry
}

func (s *Server) handleControlConn(conn net.Conn) {
	h := &controlHandler{
		server: s,
		conn:   conn,
		fc:     newFrameConn(conn),
		logger: s.logger.With("component", "control", "trace_id", logger.NewTraceID()),
	}
	h.run()
}

func (h *controlHandler) run() {
	defer h.conn.Close()

	r := protocol.NewBufferedReader(h.conn)

	if !h.awaitAuth(r) {
		return
	}
	if !h.awaitRegister(r) {
		return
	}

	h.logger.Info("agent registered", "agent_id", h.agentID)
	defer h.teardown()

	for {
		f, err := protocol.ReadFrame(r)
		if err != nil {
			h.logHandlerExit(err)
			return
		}
		switch f.Type {
		case protocol.FrameTypeHeartbeat:
			h.entry.touchHeartbeat(time.Now())
		case protocol.FrameTypeSystemInfo:
			h.entry.setSystemInfo(f)
		case protocol.FrameTypeModelList:
			h.entry.setModels(f.Models)
		case protocol.FrameTypeDisconnect:
			h.logger.Info("agent requested disconnect", "agent_id", h.agentID, "reason", f.Reason)
			return
		default:
			h.logger.Warn("unexpected frame for registered agent", "agent_id", h.agentID, "type", f.Type)
			return
		}
	}
}

// awaitAuth handles the first frame, which must be Login or LoginByToken.
// It replies with LoginResult and returns whether the connection should
// proceed to awaitRegister.
func (h *controlHandler) awaitAuth(r io.Reader) bool {
	f, err := protocol.ReadFrame(r)
	if err != nil {
		h.logger.Warn("control auth read failed", "error", err)
		return false
	}

	switch f.Type {
	case protocol.FrameTypeLogin:
		token, ok := h.server.validator.ValidateLogin(f.Email, f.Password)
		if !ok {
			h.server.metrics.authFailures.Inc()
			_ = h.fc.Send(&protocol.Frame{Type: protocol.FrameTypeLoginResult, OK: false, Message: "invalid credentials"})
			return false
		}
		if err := h.fc.Send(&protocol.Frame{Type: protocol.FrameTypeLoginResult, OK: true, Token: token}); err != nil {
			h.logger.Warn("send login result failed", "error", err)
			return false
		}
		return true

	case protocol.FrameTypeLoginByToken:
		result := h.server.validator.ValidateToken(f.Token)
		if result == ValidationTransientError {
			h.logger.Warn("validator unreachable, falling back to static bootstrap token")
			if h.server.bootstrapToken != "" && constantTimeEqual(h.server.bootstrapToken, f.Token) {
				result = ValidationValid
			} else {
				result = ValidationInvalid
			}
		}
		if result != ValidationValid {
			h.server.metrics.authFailures.Inc()
			_ = h.fc.Send(&protocol.Frame{Type: protocol.FrameTypeLoginResult, OK: false, Message: "invalid token"})
			return false
		}
		if err := h.fc.Send(&protocol.Frame{Type: protocol.FrameTypeLoginResult, OK: true}); err != nil {
			h.logger.Warn("send login result failed", "error", err)
			return false
		}
		return true

	default:
		h.logger.Warn("expected Login or LoginByToken as first frame", "type", f.Type)
		return false
	}
}

// awaitRegister handles the second frame, which must be Register. On a
// duplicate id it replies RegisterResult{ok:false} and closes; a real
// reconnect already reaps the stale entry before a fresh Register arrives,
// so a collision here means a misconfigured agent, not a reconnect.
func (h *controlHandler) awaitRegister(r io.Reader) bool {
	f, err := protocol.ReadFrame(r)
	if err != nil {
		h.logger.Warn("control register read failed", "error", err)
		return false
	}
	if f.Type != protocol.FrameTypeRegister {
		h.logger.Warn("expected Register after auth", "type", f.Type)
		return false
	}
	if f.ClientID == "" {
		_ = h.fc.Send(&protocol.Frame{Type: protocol.FrameTypeRegisterResult, OK: false, Message: "client_id required"})
		return false
	}

	entry := &AgentEntry{Authed: true, ControlSend: h.fc}
	if err := h.server.registry.Insert(f.ClientID, entry); err != nil {
		_ = h.fc.Send(&protocol.Frame{Type: protocol.FrameTypeRegisterResult, OK: false, Message: "duplicate id"})
		return false
	}

	h.agentID = f.ClientID
	h.entry = entry
	h.server.metrics.agentsConnected.Inc()

	if err := h.fc.Send(&protocol.Frame{Type: protocol.FrameTypeRegisterResult, OK: true}); err != nil {
		h.logger.Warn("send register result failed", "agent_id", h.agentID, "error", err)
		return false
	}
	return true
}

func (h *controlHandler) teardown() {
	if h.agentID == "" {
		return
	}
	if removed := h.server.registry.Remove(h.agentID); removed != nil {
		h.server.metrics.agentsConnected.Dec()
		_ = removed.ControlSend.Close()
	}
}

func (h *controlHandler) logHandlerExit(err error) {
	if errors.Is(err, io.EOF) {
		h.logger.Info("agent control connection closed", "agent_id", h.agentID)
		return
	}
	var unknown *protocol.ErrUnknownFrameType
	if errors.As(err, &unknown) {
		h.logger.Warn("agent sent unknown frame type, closing", "agent_id", h.agentID, "type", unknown.Type)
		return
	}
	h.logger.Warn("control read error", "agent_id", h.agentID, "error", err)
}
