package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lucsky/cuid"
	"golang.org/x/net/netutil"

	"github.com/drksbr/intratun/internal/observability"
	"github.com/drksbr/intratun/internal/protocol"
)

// Server owns the three core TCP listeners (control, proxy, public) and the
// shared state the per-connection handlers in control.go, proxymatcher.go
// and router.go all reach into: the agent registry, the pending-connection
// table, the credential validator and the metrics registered on the
// observability surface, served on three distinct sockets: one for agent
// control, one for proxy sockets, and one for public callers.
type Server struct {
	logger    *slog.Logger
	opts      *relayOptions
	metrics   *relayMetrics
	validator Validator
	registry  *Registry
	pending   *PendingTable
	resources *resourceTracker
	idGen     func() string

	bootstrapToken string

	obs *observability.Server

	ctx    context.Context
	cancel context.CancelFunc

	controlLn net.Listener
	proxyLn   net.Listener
	publicLn  net.Listener
}

// NewServer validates opts and assembles a Server ready to Run.
func NewServer(logger *slog.Logger, opts *relayOptions) (*Server, error) {
	if strings.TrimSpace(opts.agentDirectory) == "" {
		return nil, errors.New("--agent-directory is required")
	}
	directory, err := loadAgentDirectory(opts.agentDirectory)
	if err != nil {
		return nil, err
	}
	if len(directory) == 0 {
		return nil, errors.New("agent directory file must define at least one agent")
	}

	var idGen func() string
	switch mode := strings.ToLower(strings.TrimSpace(opts.idMode)); mode {
	case "", "uuid":
		idGen = uuid.NewString
	case "cuid":
		idGen = cuid.New
	default:
		return nil, fmt.Errorf("unsupported --id-mode %q (use uuid or cuid)", opts.idMode)
	}

	metrics := newRelayMetrics()

	s := &Server{
		logger:         logger.With("role", "relay"),
		opts:           opts,
		metrics:        metrics,
		validator:      NewStaticValidator(directory),
		registry:       NewRegistry(),
		pending:        NewPendingTable(opts.rendezvousTimeout),
		resources:      newResourceTracker(),
		idGen:          idGen,
		bootstrapToken: opts.bootstrapToken,
	}

	s.obs = observability.NewServer(logger.With("role", "observability"), s)
	return s, nil
}

// Run blocks serving all listeners until ctx is cancelled or a listener
// fails irrecoverably.
func (s *Server) Run(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)
	defer s.cancel()

	if s.resources != nil {
		s.resources.start(s.ctx)
	}

	errCh := make(chan error, 4)
	sendErr := func(err error) {
		if err == nil {
			return
		}
		select {
		case errCh <- err:
		default:
		}
	}

	var err error
	s.controlLn, err = s.listen(s.opts.controlListen, "control")
	if err != nil {
		return err
	}
	s.proxyLn, err = s.listen(s.opts.proxyListen, "proxy")
	if err != nil {
		return err
	}
	s.publicLn, err = s.listen(s.opts.publicListen, "public")
	if err != nil {
		return err
	}

	if s.opts.maxPublicConns > 0 {
		s.publicLn = netutil.LimitListener(s.publicLn, s.opts.maxPublicConns)
	}

	go s.acceptLoop(s.controlLn, "control", s.handleControlConn, sendErr)
	go s.acceptLoop(s.proxyLn, "proxy", s.handleProxyConn, sendErr)
	go s.acceptLoop(s.publicLn, "public", s.handlePublicConn, sendErr)

	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case now := <-ticker.C:
				if n := s.pending.Sweep(now); n > 0 {
					s.metrics.rendezvousTimeout.Add(float64(n))
				}
			}
		}
	}()

	reapStop := make(chan struct{})
	go s.runReaper(reapStop)

	go func() {
		s.logger.Info("observability listening", "addr", s.opts.observabilityListen)
		if srvErr := s.obs.ListenAndServe(s.ctx, s.opts.observabilityListen, s.opts.acmeHosts, s.opts.acmeEmail, s.opts.acmeCache); srvErr != nil {
			sendErr(fmt.Errorf("observability: %w", srvErr))
		}
	}()

	select {
	case err = <-errCh:
	case <-s.ctx.Done():
	}

	close(stop)
	close(reapStop)
	_ = s.controlLn.Close()
	_ = s.proxyLn.Close()
	_ = s.publicLn.Close()
	_ = s.obs.Shutdown(context.Background())

	for _, snap := range s.registry.Snapshots() {
		if removed := s.registry.Remove(snap.ID); removed != nil {
			_ = removed.ControlSend.Close()
		}
	}

	return err
}

func (s *Server) listen(addr, name string) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%s listen: %w", name, err)
	}
	s.logger.Info(name+" listening", "addr", addr)
	return ln, nil
}

func (s *Server) acceptLoop(ln net.Listener, name string, handle func(net.Conn), sendErr func(error)) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			sendErr(fmt.Errorf("%s accept: %w", name, err))
			return
		}
		go handle(conn)
	}
}

// runReaper retires agents that have gone quiet past heartbeatStaleness,
// closing their control connection so the agent process can reconnect and
// re-register.
func (s *Server) runReaper(stop <-chan struct{}) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			for _, entry := range s.registry.reapStale(now) {
				s.logger.Warn("reaping stale agent", "agent_id", entry.ID)
				s.metrics.agentsConnected.Dec()
				_ = entry.ControlSend.Close()
			}
		}
	}
}

// AgentSnapshots implements observability.Provider.
func (s *Server) AgentSnapshots() []observability.AgentSnapshot {
	snaps := s.registry.Snapshots()
	out := make([]observability.AgentSnapshot, 0, len(snaps))
	for _, snap := range snaps {
		models := make([]string, 0, len(snap.Models))
		for _, m := range snap.Models {
			models = append(models, m.ID)
		}
		out = append(out, observability.AgentSnapshot{
			ID:              snap.ID,
			Authed:          snap.Authed,
			ConnectedAt:     snap.ConnectedAt,
			LastHeartbeatAt: snap.LastHeartbeatAt,
			Stale:           snap.Stale,
			Models:          models,
		})
	}
	return out
}

// RemoveAgent implements observability.Provider: removes an agent from the
// registry, sends it a Disconnect frame and closes its control connection,
// for the Observability API's DELETE /api/agents/{id}.
func (s *Server) RemoveAgent(id string) bool {
	removed := s.registry.Remove(id)
	if removed == nil {
		return false
	}
	s.metrics.agentsConnected.Dec()
	_ = removed.ControlSend.Send(&protocol.Frame{Type: protocol.FrameTypeDisconnect, Reason: "removed by operator"})
	_ = removed.ControlSend.Close()
	return true
}

// PendingCount implements observability.Provider.
func (s *Server) PendingCount() int {
	return s.pending.Len()
}

// ResourceSnapshot implements observability.Provider.
func (s *Server) ResourceSnapshot() observability.ResourceSnapshot {
	if s.resources == nil {
		return observability.ResourceSnapshot{}
	}
	snap := s.resources.snapshot()
	history := make([]observability.ResourcePoint, len(snap.History))
	for i, p := range snap.History {
		history[i] = observability.ResourcePoint{Timestamp: p.Timestamp, CPUPercent: p.CPUPercent, RSSBytes: p.RSSBytes, Goroutines: p.Goroutines}
	}
	return observability.ResourceSnapshot{
		Current: observability.ResourcePoint{
			Timestamp:  snap.Current.Timestamp,
			CPUPercent: snap.Current.CPUPercent,
			RSSBytes:   snap.Current.RSSBytes,
			Goroutines: snap.Current.Goroutines,
		},
		History: history,
	}
}
