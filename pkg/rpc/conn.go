package rpc

import (
	"bufio"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dd0wney/cluso-chat/pkg/metrics"
	"github.com/dd0wney/cluso-chat/pkg/wire"
)

// conn is the server side of one accepted connection
type conn struct {
	nc           net.Conn
	br           *bufio.Reader
	format       wire.Format
	writeTimeout time.Duration
	metrics      *metrics.Registry

	wmu sync.Mutex
}

func (c *conn) write(e wire.Envelope) error {
	frame, err := EncodeFrame(e, c.format)
	if err != nil {
		return err
	}
	return c.writeFrame(frame)
}

func (c *conn) writeFrame(frame []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if c.writeTimeout > 0 {
		c.nc.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if _, err := c.nc.Write(frame); err != nil {
		return err
	}
	if c.metrics != nil {
		c.metrics.RecordFrame(c.format.String(), "out", len(frame))
	}
	return nil
}

// watchDisconnect blocks a goroutine on the connection while a long call runs
// and calls onGone if the peer goes away. Input that arrives during the call
// is discarded. The returned stop function unblocks the watcher and leaves the
// reader positioned where it was.
func (c *conn) watchDisconnect(onGone func()) (stop func()) {
	var stopping atomic.Bool
	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			// Peek consumes a read error, so the stop deadline does not leak into the next ReadFrame
			if _, err := c.br.Peek(1); err != nil {
				if !stopping.Load() {
					onGone()
				}
				return
			}
			if stopping.Load() {
				return
			}
			c.br.Discard(c.br.Buffered())
		}
	}()

	return func() {
		stopping.Store(true)
		c.nc.SetReadDeadline(time.Now())
		<-done
		c.nc.SetReadDeadline(time.Time{})
	}
}
