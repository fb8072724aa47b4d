package relay

import (
	"bytes"
	"fmt"
	"net"
	"strings"
	"time"

	tracelog "github.com/drksbr/intratun/internal/logger"
	"github.com/drksbr/intratun/internal/protocol"
)

// credentialPeekWindow bounds how many bytes the router will read while
// looking for an Authorization header before giving up.
const credentialPeekWindow = 8 * 1024

// credentialPeekDeadline bounds how long the router waits for enough bytes
// to decide; a caller that never sends a header within this window is
// treated the same as one with no header at all.
const credentialPeekDeadline = 3 * time.Second

// maxRouterAttempts bounds how many agents the router will try before
// giving up and returning a 503 to the caller.
const maxRouterAttempts = 3

// handlePublicConn implements the public router: authenticate the caller,
// then pick an agent and dispatch a rendezvous request to it.
func (s *Server) handlePublicConn(conn net.Conn) {
	logger := s.logger.With("component", "router", "trace_id", tracelog.NewTraceID())

	prefix, token, err := peekAuthorization(conn)
	if err != nil {
		logger.Warn("credential peek failed", "error", err)
		writeHTTPError(conn, 401, "missing or invalid credential")
		conn.Close()
		return
	}

	result := s.validator.ValidateToken(token)
	if result == ValidationTransientError {
		logger.Warn("validator unreachable, falling back to static bootstrap token")
		if s.bootstrapToken != "" && constantTimeEqual(s.bootstrapToken, token) {
			result = ValidationValid
		} else {
			result = ValidationInvalid
		}
	}
	if result != ValidationValid {
		s.metrics.authFailures.Inc()
		writeHTTPError(conn, 401, "missing or invalid credential")
		conn.Close()
		return
	}

	for attempt := 1; attempt <= maxRouterAttempts; attempt++ {
		entry, err := s.registry.PickRandom()
		if err != nil {
			writeHTTPError(conn, 503, "no agents available")
			conn.Close()
			return
		}

		id := s.idGen()
		s.pending.Put(id, conn, prefix)

		if sendErr := entry.ControlSend.Send(&protocol.Frame{Type: protocol.FrameTypeRequestNewProxyConn, ID: id}); sendErr != nil {
			logger.Warn("dispatch to agent failed, retrying", "agent_id", entry.ID, "attempt", attempt, "error", sendErr)
			// Take, not Drop: the public socket stays open for the next attempt.
			s.pending.Take(id)
			if removed := s.registry.Remove(entry.ID); removed != nil {
				s.metrics.agentsConnected.Dec()
				_ = removed.ControlSend.Close()
			}
			s.metrics.dialErrors.Inc()
			continue
		}

		logger.Info("chose agent", "agent_id", entry.ID, "rendezvous_id", id)
		return
	}

	writeHTTPError(conn, 503, "no agents available after retries")
	conn.Close()
}

// peekAuthorization reads up to credentialPeekWindow bytes from conn
// looking for an HTTP-style Authorization header, returning every byte it
// consumed (to be replayed verbatim into the splicer, per §4.7) alongside
// the extracted bearer token, if any.
func peekAuthorization(conn net.Conn) (prefix []byte, token string, err error) {
	if err := conn.SetReadDeadline(time.Now().Add(credentialPeekDeadline)); err != nil {
		return nil, "", err
	}
	defer conn.SetReadDeadline(time.Time{})

	buf := make([]byte, 0, credentialPeekWindow)
	chunk := make([]byte, 4096)
	for len(buf) < credentialPeekWindow {
		if tok, ok := findAuthorizationToken(buf); ok {
			return buf, tok, nil
		}
		if bytes.Contains(buf, []byte("\r\n\r\n")) {
			// Full header block arrived with no Authorization line.
			return buf, "", nil
		}
		n, readErr := conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if readErr != nil {
			if n == 0 {
				return buf, "", readErr
			}
			break
		}
	}
	if tok, ok := findAuthorizationToken(buf); ok {
		return buf, tok, nil
	}
	return buf, "", nil
}

func findAuthorizationToken(buf []byte) (string, bool) {
	lines := strings.Split(string(buf), "\r\n")
	for _, line := range lines {
		lower := strings.ToLower(line)
		if !strings.HasPrefix(lower, "authorization:") {
			continue
		}
		value := strings.TrimSpace(line[len("authorization:"):])
		if value == "" {
			return "", false
		}
		if idx := strings.IndexByte(value, ' '); idx > 0 && strings.EqualFold(value[:idx], "bearer") {
			return strings.TrimSpace(value[idx+1:]), true
		}
		return value, true
	}
	return "", false
}

func writeHTTPError(conn net.Conn, status int, message string) {
	body := fmt.Sprintf(`{"success":false,"message":%q}`, message)
	statusText := "Internal Server Error"
	switch status {
	case 401:
		statusText = "Unauthorized"
	case 503:
		statusText = "Service Unavailable"
	}
	resp := fmt.Sprintf("HTTP/1.1 %d %s\r\nContent-Type: application/json\r\nContent-Length: %d\r\nConnection: close\r\n\r\n%s",
		status, statusText, len(body), body)
	_, _ = conn.Write([]byte(resp))
}
