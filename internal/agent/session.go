package agent

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/drksbr/intratun/internal/protocol"
)

// heartbeatInterval matches the relay's staleness window of 3x this value
// (30s staleness).
const heartbeatInterval = 10 * time.Second

// controlSession drives one control-channel connection end to end: login,
// register, then a read loop dispatching RequestNewProxyConn while a
// separate ticker sends Heartbeat and SystemInfo frames.
type controlSession struct {
	agent  *agent
	conn   net.Conn
	fc     *frameClient
	logger *slog.Logger
}

func newControlSession(a *agent, conn net.Conn) *controlSession {
	return &controlSession{
		agent:  a,
		conn:   conn,
		fc:     newFrameClient(conn),
		logger: a.logger.With("remote", conn.RemoteAddr()),
	}
}

func (s *controlSession) run(ctx context.Context) error {
	defer s.conn.Close()

	if err := s.login(); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if err := s.register(); err != nil {
		return fmt.Errorf("register: %w", err)
	}
	s.logger.Info("registered", "agent_id", s.agent.opts.agentID)

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go s.heartbeatLoop(sessionCtx)

	r := protocol.NewBufferedReader(s.conn)
	for {
		f, err := protocol.ReadFrame(r)
		if err != nil {
			return err
		}
		switch f.Type {
		case protocol.FrameTypeRequestNewProxyConn:
			go s.agent.handleProxyRequest(ctx, f.ID)
		case protocol.FrameTypeDisconnect:
			return fmt.Errorf("relay requested disconnect: %s", f.Reason)
		default:
			s.logger.Warn("unexpected control frame", "type", f.Type)
		}
	}
}

// login performs Login or LoginByToken depending on which credential the
// agent was configured with. A successful Login's freshly issued token is
// cached for the next reconnect attempt.
func (s *controlSession) login() error {
	s.agent.mu.Lock()
	token := s.agent.token
	s.agent.mu.Unlock()

	if token != "" {
		if err := s.fc.Send(&protocol.Frame{Type: protocol.FrameTypeLoginByToken, Token: token}); err != nil {
			return err
		}
	} else {
		if err := s.fc.Send(&protocol.Frame{Type: protocol.FrameTypeLogin, Email: s.agent.opts.email, Password: s.agent.opts.password}); err != nil {
			return err
		}
	}

	f, err := protocol.ReadFrame(s.conn)
	if err != nil {
		return err
	}
	if f.Type != protocol.FrameTypeLoginResult {
		return fmt.Errorf("expected LoginResult, got %s", f.Type)
	}
	if !f.OK {
		return fmt.Errorf("login rejected: %s", f.Message)
	}
	if f.Token != "" {
		s.agent.mu.Lock()
		s.agent.token = f.Token
		s.agent.mu.Unlock()
	}
	return nil
}

func (s *controlSession) register() error {
	if err := s.fc.Send(&protocol.Frame{Type: protocol.FrameTypeRegister, ClientID: s.agent.opts.agentID}); err != nil {
		return err
	}
	f, err := protocol.ReadFrame(s.conn)
	if err != nil {
		return err
	}
	if f.Type != protocol.FrameTypeRegisterResult {
		return fmt.Errorf("expected RegisterResult, got %s", f.Type)
	}
	if !f.OK {
		return fmt.Errorf("register rejected: %s", f.Message)
	}
	return nil
}

// heartbeatLoop sends a Heartbeat on every tick and, piggy-backed on the
// same cadence, a fresh SystemInfo and an optional ModelList.
func (s *controlSession) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.fc.Send(&protocol.Frame{Type: protocol.FrameTypeHeartbeat}); err != nil {
				s.logger.Warn("heartbeat send failed", "error", err)
				return
			}
			info, err := sampleSystemInfo()
			if err != nil {
				s.logger.Warn("system info sample failed", "error", err)
			} else if err := s.fc.Send(info); err != nil {
				s.logger.Warn("system info send failed", "error", err)
				return
			}
			if len(s.agent.opts.modelList) > 0 {
				models := make([]protocol.Model, 0, len(s.agent.opts.modelList))
				for _, id := range s.agent.opts.modelList {
					models = append(models, protocol.Model{ID: id})
				}
				if err := s.fc.Send(&protocol.Frame{Type: protocol.FrameTypeModelList, Models: models}); err != nil {
					s.logger.Warn("model list send failed", "error", err)
					return
				}
			}
		}
	}
}

// frameClient serializes writes to the control socket so that every frame
// goes out whole, whichever goroutine sends it.
type frameClient struct {
	conn net.Conn
	mu   sync.Mutex
}

func newFrameClient(conn net.Conn) *frameClient {
	return &frameClient{conn: conn}
}

func (c *frameClient) Send(f *protocol.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return protocol.WriteFrame(c.conn, f)
}
