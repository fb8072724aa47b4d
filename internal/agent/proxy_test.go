package agent

import (
	"context"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/drksbr/intratun/internal/protocol"
)

func TestHandleProxyRequestAnnouncesAndSplices(t *testing.T) {
	proxyLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen proxy: %v", err)
	}
	defer proxyLn.Close()

	localLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen local: %v", err)
	}
	defer localLn.Close()

	proxyAccept := make(chan net.Conn, 1)
	go func() {
		conn, _ := proxyLn.Accept()
		proxyAccept <- conn
	}()
	localAccept := make(chan net.Conn, 1)
	go func() {
		conn, _ := localLn.Accept()
		localAccept <- conn
	}()

	a := &agent{
		opts: &options{
			proxyAddr:     proxyLn.Addr().String(),
			localTarget:   localLn.Addr().String(),
			dialTimeoutMs: 1000,
		},
		logger: slog.Default(),
	}

	go a.handleProxyRequest(context.Background(), "rendezvous-1")

	proxyServerSide := <-proxyAccept
	defer proxyServerSide.Close()

	f, err := protocol.ReadFrame(proxyServerSide)
	if err != nil {
		t.Fatalf("read NewProxyConn: %v", err)
	}
	if f.Type != protocol.FrameTypeNewProxyConn || f.ID != "rendezvous-1" {
		t.Fatalf("unexpected frame: %+v", f)
	}

	localServerSide := <-localAccept
	defer localServerSide.Close()

	if _, err := proxyServerSide.Write([]byte("ping")); err != nil {
		t.Fatalf("write: %v", err)
	}
	buf := make([]byte, 16)
	localServerSide.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := localServerSide.Read(buf)
	if err != nil {
		t.Fatalf("expected spliced bytes at local target: %v", err)
	}
	if string(buf[:n]) != "ping" {
		t.Fatalf("unexpected spliced payload: %q", buf[:n])
	}
}
