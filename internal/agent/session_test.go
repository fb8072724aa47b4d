package agent

import (
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/drksbr/intratun/internal/protocol"
)

func newTestSession(t *testing.T, o *options) (*controlSession, net.Conn) {
	t.Helper()
	client, server := tcpPair(t)
	t.Cleanup(func() { client.Close() })

	a := &agent{opts: o, logger: slog.Default(), token: o.token}
	return newControlSession(a, client), server
}

func TestLoginByTokenSendsCachedToken(t *testing.T) {
	o := &options{agentID: "agent-1", token: "cached-token"}
	sess, server := newTestSession(t, o)
	defer server.Close()

	done := make(chan error, 1)
	go func() { done <- sess.login() }()

	f, err := protocol.ReadFrame(server)
	if err != nil {
		t.Fatalf("server read: %v", err)
	}
	if f.Type != protocol.FrameTypeLoginByToken || f.Token != "cached-token" {
		t.Fatalf("unexpected login frame: %+v", f)
	}
	if err := protocol.WriteFrame(server, &protocol.Frame{Type: protocol.FrameTypeLoginResult, OK: true}); err != nil {
		t.Fatalf("server write: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("login returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("login did not return")
	}
}

func TestLoginWithCredentialsCachesIssuedToken(t *testing.T) {
	o := &options{agentID: "agent-1", email: "a@example.com", password: "secret"}
	sess, server := newTestSession(t, o)
	defer server.Close()

	done := make(chan error, 1)
	go func() { done <- sess.login() }()

	f, err := protocol.ReadFrame(server)
	if err != nil {
		t.Fatalf("server read: %v", err)
	}
	if f.Type != protocol.FrameTypeLogin || f.Email != "a@example.com" || f.Password != "secret" {
		t.Fatalf("unexpected login frame: %+v", f)
	}
	if err := protocol.WriteFrame(server, &protocol.Frame{Type: protocol.FrameTypeLoginResult, OK: true, Token: "fresh-token"}); err != nil {
		t.Fatalf("server write: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("login returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("login did not return")
	}

	sess.agent.mu.Lock()
	got := sess.agent.token
	sess.agent.mu.Unlock()
	if got != "fresh-token" {
		t.Fatalf("expected issued token to be cached, got %q", got)
	}
}

func TestLoginRejectedReturnsError(t *testing.T) {
	o := &options{agentID: "agent-1", token: "bad-token"}
	sess, server := newTestSession(t, o)
	defer server.Close()

	done := make(chan error, 1)
	go func() { done <- sess.login() }()

	if _, err := protocol.ReadFrame(server); err != nil {
		t.Fatalf("server read: %v", err)
	}
	if err := protocol.WriteFrame(server, &protocol.Frame{Type: protocol.FrameTypeLoginResult, OK: false, Message: "invalid token"}); err != nil {
		t.Fatalf("server write: %v", err)
	}

	select {
	case err := <-done:
		if err == nil {
			t.Fatalf("expected login to fail")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("login did not return")
	}
}

func TestRegisterRejectedReturnsError(t *testing.T) {
	o := &options{agentID: "agent-1"}
	sess, server := newTestSession(t, o)
	defer server.Close()

	done := make(chan error, 1)
	go func() { done <- sess.register() }()

	f, err := protocol.ReadFrame(server)
	if err != nil {
		t.Fatalf("server read: %v", err)
	}
	if f.Type != protocol.FrameTypeRegister || f.ClientID != "agent-1" {
		t.Fatalf("unexpected register frame: %+v", f)
	}
	if err := protocol.WriteFrame(server, &protocol.Frame{Type: protocol.FrameTypeRegisterResult, OK: false, Message: "duplicate id"}); err != nil {
		t.Fatalf("server write: %v", err)
	}

	select {
	case err := <-done:
		if err == nil {
			t.Fatalf("expected register to fail")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("register did not return")
	}
}
