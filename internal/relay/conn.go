package relay

import (
	"net"
	"sync"

	"github.com/drksbr/intratun/internal/protocol"
)

// frameConn wraps a net.Conn with a write mutex so independent producers
// (the control handler and, separately, the router or reaper) can enqueue
// frames without interleaving bytes on the wire. There is deliberately no
// queue: Send blocks the caller until the socket accepts the write, which
// is the only backpressure mechanism this connection needs.
type frameConn struct {
	conn net.Conn

	writeMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

func newFrameConn(conn net.Conn) *frameConn {
	return &frameConn{conn: conn}
}

// Send implements ControlSender.
func (c *frameConn) Send(f *protocol.Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return protocol.WriteFrame(c.conn, f)
}

// Close implements ControlSender. It is safe to call more than once; only
// the first call closes the underlying socket.
func (c *frameConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
