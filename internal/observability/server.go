package observability

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/crypto/acme/autocert"
)

// Server is the relay's introspection surface, kept entirely separate from
// the control/proxy/public data plane: nothing it serves can influence
// rendezvous or splicing beyond the operator-triggered DELETE
// /api/agents/{id} forced disconnect.
type Server struct {
	logger   *slog.Logger
	provider Provider

	httpSrv *http.Server
	ln      net.Listener
	ctx     context.Context
}

// NewServer builds an observability Server backed by provider.
func NewServer(logger *slog.Logger, provider Provider) *Server {
	return &Server{logger: logger, provider: provider}
}

// mux builds the routing table shared by ListenAndServe and tests.
func (s *Server) mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/api/agents", s.handleListAgents)
	mux.HandleFunc("/api/agents/", s.handleAgentByID)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/ws/events", s.handleEvents)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/", s.handleStatus)
	return mux
}

// ServeHTTP lets a Server be used directly as an http.Handler, e.g. under
// httptest.NewServer in tests that don't need the ACME/plain-listener split
// ListenAndServe handles.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux().ServeHTTP(w, r)
}

// ListenAndServe serves the observability API on addr until ctx is done or
// Shutdown is called. When acmeHosts is non-empty, the listener is wrapped
// in a Let's Encrypt-managed TLS listener instead of serving plain HTTP.
func (s *Server) ListenAndServe(ctx context.Context, addr string, acmeHosts []string, acmeEmail, acmeCache string) error {
	s.ctx = ctx

	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.mux(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("observability listen: %w", err)
	}
	s.ln = ln

	if len(acmeHosts) == 0 {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}

	manager := &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(acmeHosts...),
		Email:      acmeEmail,
	}
	if acmeCache != "" {
		manager.Cache = autocert.DirCache(acmeCache)
	}
	s.httpSrv.TLSConfig = manager.TLSConfig()

	tlsLn := tls.NewListener(ln, s.httpSrv.TLSConfig)
	if err := s.httpSrv.Serve(tlsLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the observability HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.httpSrv.Shutdown(shutdownCtx)
}
