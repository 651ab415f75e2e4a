package rpc

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/dd0wney/cluso-chat/pkg/logging"
	"github.com/dd0wney/cluso-chat/pkg/wire"
)

// Call is one request being served
type Call struct {
	Request wire.Envelope

	ctx     context.Context
	conn    *conn
	logger  logging.Logger
	started time.Time

	sent   atomic.Bool
	broken atomic.Bool
}

// Context is cancelled when the server shuts down, and for watched requests
// when the peer disconnects
func (c *Call) Context() context.Context { return c.ctx }

// Remote returns the peer address
func (c *Call) Remote() string { return c.conn.nc.RemoteAddr().String() }

// Format returns the wire format of the connection
func (c *Call) Format() wire.Format { return c.conn.format }

// Reply sends a response for the request opcode with status as first argument
func (c *Call) Reply(status wire.Status, args ...string) error {
	return c.Send(wire.Reply(c.Request.Opcode, status, args...))
}

// End terminates a finite stream
func (c *Call) End() error {
	return c.Reply(wire.StatusEnd)
}

// Send writes an arbitrary envelope. A network failure marks the connection
// unusable; both network and encoding failures are returned to the handler.
func (c *Call) Send(e wire.Envelope) error {
	frame, err := EncodeFrame(e, c.conn.format)
	if err != nil {
		c.logger.Warn("unencodable reply", logging.Opcode(c.Request.Opcode), logging.Error(err))
		return err
	}
	if err := c.conn.writeFrame(frame); err != nil {
		c.broken.Store(true)
		c.logger.Debug("reply failed", logging.Opcode(c.Request.Opcode), logging.Error(err))
		return err
	}

	if !c.sent.Swap(true) && c.conn.metrics != nil {
		c.conn.metrics.RecordRequest(c.Request.Opcode.String(), string(e.Status()), time.Since(c.started))
	}
	return nil
}
