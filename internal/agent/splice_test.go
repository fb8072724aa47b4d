package agent

import (
	"log/slog"
	"net"
	"testing"
	"time"
)

func tcpPair(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	acceptCh := make(chan net.Conn, 1)
	go func() {
		conn, _ := ln.Accept()
		acceptCh <- conn
	}()

	client, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	server := <-acceptCh
	if server == nil {
		t.Fatalf("accept failed")
	}
	return client, server
}

func TestSpliceCopiesBothDirections(t *testing.T) {
	a, c := tcpPair(t)
	b, d := tcpPair(t)
	defer c.Close()
	defer d.Close()

	done := make(chan struct{})
	go func() {
		splice(a, b, slog.Default())
		close(done)
	}()

	if _, err := c.Write([]byte("hello-from-c")); err != nil {
		t.Fatalf("write: %v", err)
	}
	buf := make([]byte, 32)
	n, err := d.Read(buf)
	if err != nil {
		t.Fatalf("read on d: %v", err)
	}
	if string(buf[:n]) != "hello-from-c" {
		t.Fatalf("unexpected payload on d: %q", buf[:n])
	}

	if _, err := d.Write([]byte("hello-from-d")); err != nil {
		t.Fatalf("write: %v", err)
	}
	n, err = c.Read(buf)
	if err != nil {
		t.Fatalf("read on c: %v", err)
	}
	if string(buf[:n]) != "hello-from-d" {
		t.Fatalf("unexpected payload on c: %q", buf[:n])
	}

	c.Close()
	d.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("splice did not terminate after both ends closed")
	}
}

func TestSpliceClosesBothOnError(t *testing.T) {
	a, c := tcpPair(t)
	b, d := tcpPair(t)
	defer d.Close()

	done := make(chan struct{})
	go func() {
		splice(a, b, slog.Default())
		close(done)
	}()

	// Linger 0 makes the close send a reset, so a's read errors instead of
	// reaching a clean EOF.
	if err := c.(*net.TCPConn).SetLinger(0); err != nil {
		t.Fatalf("set linger: %v", err)
	}
	c.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("splice did not terminate after abrupt close")
	}

	buf := make([]byte, 1)
	d.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := d.Read(buf); err == nil {
		t.Fatalf("expected d's peer (b) to be closed")
	}
}
