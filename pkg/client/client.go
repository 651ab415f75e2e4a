// Package client is a failover client for a chat cluster.
//
// It keeps a cycle of known server addresses. A dial or connection failure
// moves on to the next address; a NOT_LEADER reply is followed to the leader
// it names. Attempts are bounded and spaced with a linear backoff.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"sync"
	"time"

	"github.com/dd0wney/cluso-chat/pkg/logging"
	"github.com/dd0wney/cluso-chat/pkg/rpc"
	"github.com/dd0wney/cluso-chat/pkg/wire"
)

// Config configures a Client
type Config struct {
	Servers     []string
	Format      wire.Format
	MaxAttempts int           // total attempts per operation (default: 6)
	Backoff     time.Duration // attempt n waits n*Backoff (default: 200ms)
	DialTimeout time.Duration
	CallTimeout time.Duration
	Logger      logging.Logger
}

// DefaultConfig returns the default retry policy
func DefaultConfig() Config {
	return Config{
		Format:      wire.Delimited,
		MaxAttempts: 6,
		Backoff:     200 * time.Millisecond,
		DialTimeout: time.Second,
		CallTimeout: 5 * time.Second,
	}
}

// Client issues chat operations against whichever server answers.
// It is safe for concurrent use.
type Client struct {
	rpc    *rpc.Client
	cfg    Config
	logger logging.Logger

	mu      sync.Mutex
	servers []string
	current int
}

// New creates a client over the given servers
func New(cfg Config) (*Client, error) {
	def := DefaultConfig()
	if len(cfg.Servers) == 0 {
		return nil, ErrNoServers
	}
	if cfg.Format == 0 {
		cfg.Format = def.Format
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = def.Backoff
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = def.DialTimeout
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = def.CallTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNopLogger()
	}

	return &Client{
		rpc: rpc.NewClient(rpc.ClientConfig{
			Format:      cfg.Format,
			DialTimeout: cfg.DialTimeout,
			CallTimeout: cfg.CallTimeout,
		}),
		cfg:     cfg,
		logger:  cfg.Logger.With(logging.Component("client")),
		servers: slices.Clone(cfg.Servers),
	}, nil
}

// Servers returns the address cycle, current server first
func (c *Client) Servers() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]string, 0, len(c.servers))
	out = append(out, c.servers[c.current:]...)
	return append(out, c.servers[:c.current]...)
}

func (c *Client) currentAddr() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.servers[c.current]
}

// advance moves past failed if it is still current
func (c *Client) advance(failed string) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.servers[c.current] == failed {
		c.current = (c.current + 1) % len(c.servers)
	}
	return c.servers[c.current]
}

// prefer makes addr current, adding it to the cycle if it is new
func (c *Client) prefer(addr string) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := slices.Index(c.servers, addr)
	if i < 0 {
		c.servers = append(c.servers, addr)
		i = len(c.servers) - 1
	}
	c.current = i
	return addr
}

// attemptFunc runs one try against addr
type attemptFunc func(ctx context.Context, addr string) error

// retry runs fn until it succeeds, fails for a reason another server would
// not fix, or MaxAttempts is reached.
func (c *Client) retry(ctx context.Context, op wire.Opcode, fn attemptFunc) error {
	addr := c.currentAddr()
	var lastErr error

	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, time.Duration(attempt)*c.cfg.Backoff); err != nil {
				return err
			}
		}

		err := fn(ctx, addr)
		if err == nil {
			c.prefer(addr)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = err

		var notLeader *NotLeaderError
		var stop noRetry
		switch {
		case errors.As(err, &stop):
			return stop.error
		case errors.As(err, &notLeader) && notLeader.Addr != "":
			c.logger.Debug("following redirect", logging.Opcode(op), logging.Leader(notLeader.LeaderID), logging.Addr(notLeader.Addr))
			addr = c.prefer(notLeader.Addr)
		case errors.As(err, &notLeader), retryable(err):
			c.logger.Debug("server failed, trying next", logging.Opcode(op), logging.Addr(addr), logging.Error(err))
			addr = c.advance(addr)
		default:
			return err
		}
	}
	return fmt.Errorf("%w: %s after %d attempts: %w", ErrAttemptsExhausted, op, c.cfg.MaxAttempts, lastErr)
}

// retryable reports whether another server might succeed
func retryable(err error) bool {
	return errors.Is(err, rpc.ErrPeerUnreachable) || errors.Is(err, rpc.ErrNoReply)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// call performs a unary request with failover and returns a SUCCESS reply
func (c *Client) call(ctx context.Context, op wire.Opcode, args ...string) (wire.Envelope, error) {
	req := wire.NewEnvelope(op, args...)
	var reply wire.Envelope

	err := c.retry(ctx, op, func(ctx context.Context, addr string) error {
		r, err := c.rpc.Call(ctx, addr, req)
		if err != nil {
			return err
		}
		if err := checkReply(op, r); err != nil {
			return err
		}
		reply = r
		return nil
	})
	return reply, err
}

// stream performs a streaming request with failover. Once an item has been
// delivered to fn the stream is not retried, so fn never sees an item twice.
func (c *Client) stream(ctx context.Context, op wire.Opcode, fn func(wire.Envelope) error, args ...string) error {
	req := wire.NewEnvelope(op, args...)
	delivered := false

	return c.retry(ctx, op, func(ctx context.Context, addr string) error {
		var replyErr error
		err := c.rpc.Stream(ctx, addr, req, func(item wire.Envelope) error {
			if err := checkReply(op, item); err != nil {
				replyErr = err
				return rpc.ErrStopStream
			}
			delivered = true
			return fn(item)
		})
		if replyErr != nil {
			return replyErr
		}
		if err != nil && delivered {
			return noRetry{err}
		}
		return err
	})
}

// noRetry stops retry from trying another server
type noRetry struct{ error }

func (e noRetry) Unwrap() error { return e.error }

func checkReply(op wire.Opcode, e wire.Envelope) error {
	switch e.Status() {
	case wire.StatusSuccess:
		return nil
	case wire.StatusNotLeader:
		err := &NotLeaderError{LeaderID: e.Arg(1)}
		if e.Arg(2) != "" && e.Arg(3) != "" {
			err.Addr = net.JoinHostPort(e.Arg(2), e.Arg(3))
		}
		return err
	default:
		return &ReplyError{Op: op, Status: e.Status(), Message: e.Arg(1)}
	}
}
