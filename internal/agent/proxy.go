package agent

import (
	"context"
	"net"
	"time"

	"github.com/drksbr/intratun/internal/protocol"
)

// handleProxyRequest is the agent side of a rendezvous: dial the relay's
// proxy port, announce which rendezvous id this socket is for, then dial
// the local service and splice the two together.
func (a *agent) handleProxyRequest(ctx context.Context, id string) {
	logger := a.logger.With("rendezvous_id", id)

	dialer := net.Dialer{Timeout: time.Duration(a.opts.dialTimeoutMs) * time.Millisecond}

	proxyConn, err := dialer.DialContext(ctx, "tcp", a.opts.proxyAddr)
	if err != nil {
		logger.Warn("dial proxy port failed", "error", err)
		return
	}

	if err := protocol.WriteFrame(proxyConn, &protocol.Frame{Type: protocol.FrameTypeNewProxyConn, ID: id}); err != nil {
		logger.Warn("send NewProxyConn failed", "error", err)
		proxyConn.Close()
		return
	}

	localConn, err := dialer.DialContext(ctx, "tcp", a.opts.localTarget)
	if err != nil {
		logger.Warn("dial local target failed", "error", err)
		proxyConn.Close()
		return
	}

	logger.Info("splicing proxy connection to local target", "local_target", a.opts.localTarget)
	splice(proxyConn, localConn, logger)
}
