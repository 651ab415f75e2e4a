package rpc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/dd0wney/cluso-chat/pkg/metrics"
	"github.com/dd0wney/cluso-chat/pkg/wire"
)

// ClientConfig configures outgoing calls
type ClientConfig struct {
	Format        wire.Format
	DialTimeout   time.Duration
	CallTimeout   time.Duration // applies to Call only; streams are bounded by their context
	MaxFrameBytes int
	Metrics       *metrics.Registry
}

// DefaultClientConfig returns delimited framing with conservative timeouts
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Format:        wire.Delimited,
		DialTimeout:   time.Second,
		CallTimeout:   5 * time.Second,
		MaxFrameBytes: DefaultMaxFrameBytes,
	}
}

// Client dials a fresh connection for every call
type Client struct {
	cfg ClientConfig
}

// ErrStopStream may be returned by a stream callback to end the stream without error
var ErrStopStream = errors.New("stop stream")

// NewClient creates a client
func NewClient(cfg ClientConfig) *Client {
	def := DefaultClientConfig()
	if cfg.Format == 0 {
		cfg.Format = def.Format
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = def.DialTimeout
	}
	if cfg.MaxFrameBytes <= 0 {
		cfg.MaxFrameBytes = def.MaxFrameBytes
	}
	return &Client{cfg: cfg}
}

// Format returns the outgoing wire format
func (c *Client) Format() wire.Format { return c.cfg.Format }

type clientConn struct {
	nc     net.Conn
	br     *bufio.Reader
	format wire.Format
	max    int
}

func (c *Client) dial(ctx context.Context, addr string) (*clientConn, error) {
	d := net.Dialer{Timeout: c.cfg.DialTimeout}
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrPeerUnreachable, addr, err)
	}
	return &clientConn{
		nc:     nc,
		br:     bufio.NewReader(nc),
		format: c.cfg.Format,
		max:    c.cfg.MaxFrameBytes,
	}, nil
}

func (cc *clientConn) send(e wire.Envelope) error {
	frame, err := EncodeFrame(e, cc.format)
	if err != nil {
		return err
	}
	if _, err := cc.nc.Write(frame); err != nil {
		return fmt.Errorf("%w: %v", ErrPeerUnreachable, err)
	}
	return nil
}

func (cc *clientConn) receive() (wire.Envelope, error) {
	frame, err := ReadFrame(cc.br, cc.format, cc.max)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return wire.Envelope{}, ErrNoReply
		}
		if errors.Is(err, ErrFrameTooLarge) {
			return wire.Envelope{}, err
		}
		return wire.Envelope{}, fmt.Errorf("%w: %v", ErrPeerUnreachable, err)
	}

	e, err := wire.Decode(frame, cc.format)
	if err != nil {
		return wire.Envelope{}, err
	}
	if e.Opcode == wire.OpError {
		return e, &StatusError{Status: e.Status(), Detail: e.Arg(1)}
	}
	return e, nil
}

// closeOnDone closes the connection when ctx ends so blocked reads return
func (cc *clientConn) closeOnDone(ctx context.Context) (stop func() bool) {
	return context.AfterFunc(ctx, func() { cc.nc.Close() })
}

// Call sends req to addr and returns the first reply
func (c *Client) Call(ctx context.Context, addr string, req wire.Envelope) (wire.Envelope, error) {
	if c.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.CallTimeout)
		defer cancel()
	}

	reply, err := c.call(ctx, addr, req)
	c.record(req.Opcode, err)
	return reply, err
}

func (c *Client) call(ctx context.Context, addr string, req wire.Envelope) (wire.Envelope, error) {
	cc, err := c.dial(ctx, addr)
	if err != nil {
		return wire.Envelope{}, err
	}
	defer cc.nc.Close()
	defer cc.closeOnDone(ctx)()

	if err := cc.send(req); err != nil {
		return wire.Envelope{}, err
	}
	reply, err := cc.receive()
	if err != nil && ctx.Err() != nil {
		return wire.Envelope{}, fmt.Errorf("%w: %s: %v", ErrPeerUnreachable, addr, ctx.Err())
	}
	return reply, err
}

// Stream sends req to addr and passes every reply to fn until a reply with
// status END, an error, or ctx ends. A reply that is neither SUCCESS nor END
// is passed to fn as well and ends the stream.
func (c *Client) Stream(ctx context.Context, addr string, req wire.Envelope, fn func(wire.Envelope) error) error {
	err := c.stream(ctx, addr, req, fn)
	c.record(req.Opcode, err)
	return err
}

func (c *Client) stream(ctx context.Context, addr string, req wire.Envelope, fn func(wire.Envelope) error) error {
	cc, err := c.dial(ctx, addr)
	if err != nil {
		return err
	}
	defer cc.nc.Close()
	defer cc.closeOnDone(ctx)()

	if err := cc.send(req); err != nil {
		return err
	}

	for {
		item, err := cc.receive()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		switch item.Status() {
		case wire.StatusEnd:
			return nil
		case wire.StatusSuccess:
			if err := fn(item); err != nil {
				if errors.Is(err, ErrStopStream) {
					return nil
				}
				return err
			}
		default:
			if err := fn(item); err != nil && !errors.Is(err, ErrStopStream) {
				return err
			}
			return nil
		}
	}
}

func (c *Client) record(op wire.Opcode, err error) {
	if c.cfg.Metrics == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.cfg.Metrics.OutboundCallsTotal.WithLabelValues(op.String(), result).Inc()
}
