// Package rpc carries wire envelopes over TCP.
//
// A connection speaks exactly one wire format, detected from its first byte.
// Requests on a connection are served in order; a handler replies with one
// envelope, or with a sequence of items followed by END for streams.
package rpc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dd0wney/cluso-chat/pkg/logging"
	"github.com/dd0wney/cluso-chat/pkg/metrics"
	"github.com/dd0wney/cluso-chat/pkg/wire"
)

// Handler serves one decoded request
type Handler interface {
	ServeRPC(call *Call)
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(call *Call)

func (f HandlerFunc) ServeRPC(call *Call) { f(call) }

// ServerConfig configures a Server
type ServerConfig struct {
	MaxFrameBytes int
	// WriteTimeout bounds each reply write so a stalled peer cannot block a handler forever
	WriteTimeout time.Duration
	// Watch selects requests whose context must be cancelled as soon as the
	// peer disconnects, typically long-lived streams
	Watch   func(op wire.Opcode) bool
	Logger  logging.Logger
	Metrics *metrics.Registry
}

// DefaultServerConfig returns the default transport limits
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		MaxFrameBytes: DefaultMaxFrameBytes,
		WriteTimeout:  10 * time.Second,
	}
}

// Server accepts connections and dispatches their requests to a Handler
type Server struct {
	handler Handler
	cfg     ServerConfig
	logger  logging.Logger
	metrics *metrics.Registry

	baseCtx context.Context
	cancel  context.CancelFunc

	mu        sync.Mutex
	listeners map[net.Listener]struct{}
	conns     map[net.Conn]struct{}
	closing   atomic.Bool
	wg        sync.WaitGroup
}

// NewServer creates a server for handler
func NewServer(handler Handler, cfg ServerConfig) *Server {
	if cfg.MaxFrameBytes <= 0 {
		cfg.MaxFrameBytes = DefaultMaxFrameBytes
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.DefaultLogger().With(logging.Component("rpc-server"))
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		handler:   handler,
		cfg:       cfg,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		baseCtx:   ctx,
		cancel:    cancel,
		listeners: make(map[net.Listener]struct{}),
		conns:     make(map[net.Conn]struct{}),
	}
}

// Serve accepts connections on ln until Shutdown is called.
// It always returns a non-nil error; after Shutdown it is ErrServerClosed.
func (s *Server) Serve(ln net.Listener) error {
	if !s.trackListener(ln, true) {
		return ErrServerClosed
	}
	defer s.trackListener(ln, false)

	var backoff time.Duration
	for {
		nc, err := ln.Accept()
		if err != nil {
			if s.closing.Load() {
				return ErrServerClosed
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			// transient accept failure, e.g. file descriptor exhaustion
			backoff = min(max(2*backoff, 5*time.Millisecond), time.Second)
			s.logger.Warn("accept failed", logging.Error(err), logging.Duration("retry_in", backoff))
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		if !s.trackConn(nc, true) {
			nc.Close()
			return ErrServerClosed
		}
		s.wg.Add(1)
		go s.serveConn(nc)
	}
}

// Shutdown stops accepting, cancels in-flight calls and closes every
// connection, then waits for connection goroutines to exit or ctx to end.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closing.Store(true)
	s.cancel()

	s.mu.Lock()
	for ln := range s.listeners {
		ln.Close()
	}
	for nc := range s.conns {
		nc.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) trackListener(ln net.Listener, add bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		if s.closing.Load() {
			return false
		}
		s.listeners[ln] = struct{}{}
	} else {
		delete(s.listeners, ln)
	}
	return true
}

func (s *Server) trackConn(nc net.Conn, add bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		if s.closing.Load() {
			return false
		}
		s.conns[nc] = struct{}{}
	} else {
		delete(s.conns, nc)
	}
	return true
}

func (s *Server) serveConn(nc net.Conn) {
	defer s.wg.Done()
	defer s.trackConn(nc, false)
	defer nc.Close()

	remote := nc.RemoteAddr().String()
	logger := s.logger.With(logging.Remote(remote))
	br := bufio.NewReader(nc)

	format, err := DetectFormat(br)
	if err != nil {
		return
	}

	if s.metrics != nil {
		s.metrics.RPCConnectionsTotal.WithLabelValues(format.String()).Inc()
		s.metrics.RPCConnectionsActive.Inc()
		defer s.metrics.RPCConnectionsActive.Dec()
	}

	c := &conn{
		nc:           nc,
		br:           br,
		format:       format,
		writeTimeout: s.cfg.WriteTimeout,
		metrics:      s.metrics,
	}

	for {
		frame, err := ReadFrame(br, format, s.cfg.MaxFrameBytes)
		if err != nil {
			if errors.Is(err, ErrFrameTooLarge) {
				s.rejectFrame(c, logger, err)
				continue
			}
			logger.Debug("connection closed", logging.Error(err))
			return
		}
		if s.metrics != nil {
			s.metrics.RecordFrame(format.String(), "in", len(frame))
		}

		req, err := wire.Decode(frame, format)
		if err == nil && req.Opcode == wire.OpError {
			err = fmt.Errorf("%w: %s is reserved for replies", wire.ErrUnknownOpcode, req.Opcode)
		}
		if err != nil {
			s.rejectFrame(c, logger, err)
			continue
		}

		if !s.dispatch(c, logger, req) {
			return
		}
	}
}

var detailSanitizer = strings.NewReplacer(wire.FieldSeparator, " ", wire.Terminator, " ")

// rejectFrame answers an undecodable frame with an Error envelope and keeps the connection open
func (s *Server) rejectFrame(c *conn, logger logging.Logger, err error) {
	status := wire.StatusOf(err)
	logger.Warn("rejected frame", logging.Status(string(status)), logging.Error(err))
	if s.metrics != nil {
		s.metrics.RecordCodecError(c.format.String(), string(status))
	}
	if werr := c.write(wire.Reply(wire.OpError, status, detailSanitizer.Replace(err.Error()))); werr != nil {
		logger.Debug("failed to send error reply", logging.Error(werr))
	}
}

// dispatch runs the handler for one request. It reports whether the
// connection is still usable.
func (s *Server) dispatch(c *conn, logger logging.Logger, req wire.Envelope) bool {
	ctx, cancel := context.WithCancel(s.baseCtx)
	defer cancel()

	call := &Call{
		Request: req,
		ctx:     ctx,
		conn:    c,
		logger:  logger,
		started: time.Now(),
	}

	var peerGone atomic.Bool
	if s.cfg.Watch != nil && s.cfg.Watch(req.Opcode) {
		stop := c.watchDisconnect(func() {
			peerGone.Store(true)
			cancel()
		})
		defer stop()
	}

	s.invoke(call)

	if !call.sent.Load() && !call.broken.Load() {
		call.Reply(wire.StatusFailure, "no reply produced")
	}
	return !call.broken.Load() && !peerGone.Load()
}

func (s *Server) invoke(call *Call) {
	defer func() {
		if r := recover(); r != nil {
			call.logger.Error("handler panic",
				logging.Opcode(call.Request.Opcode),
				logging.Any("panic", fmt.Sprint(r)),
				logging.String("stack", string(debug.Stack())))
			if !call.sent.Load() {
				call.Reply(wire.StatusFailure, "internal error")
			}
		}
	}()
	s.handler.ServeRPC(call)

	if s.metrics != nil && !call.sent.Load() {
		s.metrics.RecordRequest(call.Request.Opcode.String(), "none", time.Since(call.started))
	}
}
