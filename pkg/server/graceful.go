package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dd0wney/cluso-chat/pkg/health"
	"github.com/dd0wney/cluso-chat/pkg/logging"
	"github.com/dd0wney/cluso-chat/pkg/metrics"
)

// ConfigReloadFunc is a function that reloads configuration
type ConfigReloadFunc func() error

// AdminServer serves health, metrics and the cluster view over HTTP
type AdminServer struct {
	server *http.Server
	logger logging.Logger
}

// AdminHandler builds the admin routes
func AdminHandler(hc *health.HealthChecker, reg *metrics.Registry, cluster http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", hc.Handler(health.KindOverall))
	mux.HandleFunc("GET /health/ready", hc.Handler(health.KindReadiness))
	mux.HandleFunc("GET /health/live", hc.Handler(health.KindLiveness))
	mux.Handle("GET /metrics", reg.Handler())
	mux.Handle("GET /cluster", cluster)
	return mux
}

// NewAdminServer creates an admin HTTP server
func NewAdminServer(handler http.Handler, logger logging.Logger) *AdminServer {
	return &AdminServer{
		server: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
			MaxHeaderBytes:    1 << 20,
		},
		logger: logger,
	}
}

// Serve runs until Shutdown
func (a *AdminServer) Serve(ln net.Listener) error {
	a.logger.Info("admin server listening", logging.Addr(ln.Addr().String()))
	if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight admin requests
func (a *AdminServer) Shutdown(ctx context.Context) error {
	return a.server.Shutdown(ctx)
}

// Signals turns process signals into shutdown and reload requests
type Signals struct {
	logger   logging.Logger
	reloadMu sync.RWMutex
	reloadFn ConfigReloadFunc
}

// NewSignals creates a signal handler
func NewSignals(logger logging.Logger) *Signals {
	return &Signals{logger: logger}
}

// SetConfigReloadFunc sets the function to call on SIGHUP
func (s *Signals) SetConfigReloadFunc(fn ConfigReloadFunc) {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()
	s.reloadFn = fn
}

// ReloadConfig runs the reload function, if any
func (s *Signals) ReloadConfig() error {
	s.reloadMu.RLock()
	fn := s.reloadFn
	s.reloadMu.RUnlock()

	if fn == nil {
		s.logger.Info("configuration reload requested, but no reload function configured")
		return nil
	}
	if err := fn(); err != nil {
		s.logger.Error("configuration reload failed", logging.Error(err))
		return err
	}
	s.logger.Info("configuration reloaded")
	return nil
}

// Wait blocks until SIGINT, SIGTERM or ctx ends. SIGHUP reloads
// configuration and keeps waiting.
func (s *Signals) Wait(ctx context.Context) os.Signal {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				s.ReloadConfig()
				continue
			}
			s.logger.Info("received signal, shutting down", logging.String("signal", sig.String()))
			return sig
		}
	}
}
