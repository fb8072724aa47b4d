package relay

import (
	"net"
	"time"

	tracelog "github.com/drksbr/intratun/internal/logger"
	"github.com/drksbr/intratun/internal/protocol"
)

// firstFrameDeadline bounds how long a freshly accepted proxy socket has to
// present its NewProxyConn frame before the matcher gives up on it.
const firstFrameDeadline = 5 * time.Second

// handleProxyConn is the proxy matcher: read exactly one frame, require
// NewProxyConn, claim the pending entry, and hand the pair off to the
// splicer. Any malformed first frame or a pending miss closes the proxy
// socket.
func (s *Server) handleProxyConn(conn net.Conn) {
	logger := s.logger.With("component", "proxy-matcher", "trace_id", tracelog.NewTraceID())

	if err := conn.SetReadDeadline(time.Now().Add(firstFrameDeadline)); err != nil {
		logger.Warn("set read deadline failed", "error", err)
		conn.Close()
		return
	}

	f, err := protocol.ReadFrame(conn)
	if err != nil {
		logger.Warn("proxy socket first-frame read failed", "error", err)
		conn.Close()
		return
	}
	if f.Type != protocol.FrameTypeNewProxyConn || f.ID == "" {
		logger.Warn("proxy socket sent unexpected first frame", "type", f.Type)
		conn.Close()
		return
	}
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		logger.Warn("clear read deadline failed", "error", err)
		conn.Close()
		return
	}

	publicConn, prefix, ok := s.pending.Take(f.ID)
	if !ok {
		logger.Warn("no pending entry for rendezvous id", "id", f.ID)
		conn.Close()
		return
	}

	logger.Info("matched proxy connection", "id", f.ID)
	s.metrics.activeStreams.Inc()
	go func() {
		defer s.metrics.activeStreams.Dec()
		spliceWithPrefix(publicConn, conn, prefix, logger.With("id", f.ID), s.metrics)
	}()
}
