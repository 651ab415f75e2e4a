package rpc

import (
	"bufio"
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dd0wney/cluso-chat/pkg/logging"
	"github.com/dd0wney/cluso-chat/pkg/metrics"
	"github.com/dd0wney/cluso-chat/pkg/wire"
)

func startServer(t *testing.T, h Handler, mutate func(*ServerConfig)) (string, *Server) {
	t.Helper()

	cfg := DefaultServerConfig()
	cfg.Logger = logging.NewNopLogger()
	cfg.Metrics = metrics.NewRegistry()
	if mutate != nil {
		mutate(&cfg)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}

	srv := NewServer(h, cfg)
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ln) }()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			t.Errorf("Shutdown failed: %v", err)
		}
		if err := <-done; !errors.Is(err, ErrServerClosed) {
			t.Errorf("Serve returned %v, want ErrServerClosed", err)
		}
	})

	return ln.Addr().String(), srv
}

// echo replies with the request arguments, or streams them for GetUsers
var echo = HandlerFunc(func(call *Call) {
	req := call.Request
	switch req.Opcode {
	case wire.OpGetUsers:
		for _, arg := range req.Arguments {
			call.Reply(wire.StatusSuccess, arg)
		}
		call.End()
	case wire.OpDeleteAccount:
		panic("boom")
	case wire.OpSaveSettings:
		// no reply
	default:
		call.Reply(wire.StatusSuccess, req.Arguments...)
	}
})

func TestCallBothFormats(t *testing.T) {
	addr, _ := startServer(t, echo, nil)

	for _, f := range []wire.Format{wire.Delimited, wire.Structured} {
		t.Run(f.String(), func(t *testing.T) {
			c := NewClient(ClientConfig{Format: f, CallTimeout: time.Second})

			reply, err := c.Call(context.Background(), addr, wire.NewEnvelope(wire.OpLogin, "zoë", "pw"))
			if err != nil {
				t.Fatalf("Call failed: %v", err)
			}
			if reply.Opcode != wire.OpLogin || reply.Status() != wire.StatusSuccess {
				t.Errorf("reply = %+v", reply)
			}
			if reply.Arg(1) != "zoë" || reply.Arg(2) != "pw" {
				t.Errorf("reply arguments = %v", reply.Arguments)
			}
		})
	}
}

func TestStream(t *testing.T) {
	addr, _ := startServer(t, echo, nil)
	c := NewClient(ClientConfig{Format: wire.Structured})

	var got []string
	err := c.Stream(context.Background(), addr, wire.NewEnvelope(wire.OpGetUsers, "alice", "bob"), func(e wire.Envelope) error {
		got = append(got, e.Arg(1))
		return nil
	})
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}
	if len(got) != 2 || got[0] != "alice" || got[1] != "bob" {
		t.Errorf("stream items = %v", got)
	}
}

func TestCorruptFrameKeepsConnectionOpen(t *testing.T) {
	addr, _ := startServer(t, echo, nil)

	nc, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer nc.Close()
	br := bufio.NewReader(nc)

	frames := []struct {
		raw  string
		want wire.Status
	}{
		{"1§99§Heartbeat∞", wire.StatusFrameCorrupt},
		{"7§9§Heartbeat∞", wire.StatusVersionMismatch},
		{"1§7§Destroy∞", wire.StatusUnknownOpcode},
		{"1§12§Error§FAILURE∞", wire.StatusUnknownOpcode},
	}

	for _, fr := range frames {
		if _, err := nc.Write([]byte(fr.raw)); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
		data, err := ReadFrame(br, wire.Delimited, 0)
		if err != nil {
			t.Fatalf("ReadFrame failed: %v", err)
		}
		reply, err := wire.Decode(data, wire.Delimited)
		if err != nil {
			t.Fatalf("Decode failed: %v", err)
		}
		if reply.Opcode != wire.OpError || reply.Status() != fr.want {
			t.Errorf("reply to %q = %+v, want Error %s", fr.raw, reply, fr.want)
		}
	}

	// the same connection still serves valid requests
	nc.Write([]byte("1§9§Heartbeat∞"))
	data, err := ReadFrame(br, wire.Delimited, 0)
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if reply, _ := wire.Decode(data, wire.Delimited); reply.Status() != wire.StatusSuccess {
		t.Errorf("reply after errors = %+v", reply)
	}
}

func TestClientSurfacesErrorEnvelope(t *testing.T) {
	addr, _ := startServer(t, echo, func(cfg *ServerConfig) { cfg.MaxFrameBytes = 32 })
	c := NewClient(ClientConfig{Format: wire.Delimited})

	_, err := c.Call(context.Background(), addr, wire.NewEnvelope(wire.OpRegister, "a-rather-long-username", "password", "mail@example.com"))

	var se *StatusError
	if !errors.As(err, &se) || se.Status != wire.StatusFrameCorrupt {
		t.Fatalf("Call error = %v, want FRAME_CORRUPT StatusError", err)
	}
	if !errors.Is(err, wire.ErrFrameCorrupt) {
		t.Error("StatusError should match wire.ErrFrameCorrupt")
	}
}

func TestHandlerPanicAndMissingReply(t *testing.T) {
	addr, _ := startServer(t, echo, nil)
	c := NewClient(ClientConfig{})

	for _, op := range []wire.Opcode{wire.OpDeleteAccount, wire.OpSaveSettings} {
		reply, err := c.Call(context.Background(), addr, wire.NewEnvelope(op, "alice"))
		if err != nil {
			t.Fatalf("%s: Call failed: %v", op, err)
		}
		if reply.Status() != wire.StatusFailure {
			t.Errorf("%s: status = %s, want FAILURE", op, reply.Status())
		}
	}
}

func TestWatchedCallCancelledOnDisconnect(t *testing.T) {
	started := make(chan struct{})
	cancelled := make(chan struct{})

	h := HandlerFunc(func(call *Call) {
		call.Reply(wire.StatusSuccess)
		close(started)
		select {
		case <-call.Context().Done():
			close(cancelled)
		case <-time.After(5 * time.Second):
		}
	})
	addr, _ := startServer(t, h, func(cfg *ServerConfig) {
		cfg.Watch = func(op wire.Opcode) bool { return op == wire.OpMonitorMessages }
	})

	ctx, cancel := context.WithCancel(context.Background())
	c := NewClient(ClientConfig{})

	var items atomic.Int32
	streamDone := make(chan error, 1)
	go func() {
		streamDone <- c.Stream(ctx, addr, wire.NewEnvelope(wire.OpMonitorMessages, "bob"), func(wire.Envelope) error {
			items.Add(1)
			return nil
		})
	}()

	<-started
	cancel()

	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("handler context not cancelled after client disconnect")
	}

	if err := <-streamDone; !errors.Is(err, context.Canceled) {
		t.Errorf("Stream returned %v, want context.Canceled", err)
	}
}

func TestWatchedCallSurvivesStrayInput(t *testing.T) {
	started := make(chan struct{})
	cancelled := make(chan struct{})

	h := HandlerFunc(func(call *Call) {
		call.Reply(wire.StatusSuccess)
		close(started)
		select {
		case <-call.Context().Done():
			close(cancelled)
		case <-time.After(5 * time.Second):
		}
	})
	addr, _ := startServer(t, h, func(cfg *ServerConfig) {
		cfg.Watch = func(op wire.Opcode) bool { return op == wire.OpMonitorMessages }
	})

	nc, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	if _, err := nc.Write([]byte("1§15§MonitorMessages∞")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	<-started

	// bytes sent mid-stream must not stop the watcher
	nc.Write([]byte("noise"))
	time.Sleep(50 * time.Millisecond)
	select {
	case <-cancelled:
		t.Fatal("handler cancelled while the peer is still connected")
	default:
	}

	nc.Close()
	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("handler context not cancelled after disconnect following stray input")
	}
}

func TestDialFailureIsPeerUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	c := NewClient(ClientConfig{DialTimeout: 200 * time.Millisecond})
	if _, err := c.Call(context.Background(), addr, wire.NewEnvelope(wire.OpHeartbeat)); !errors.Is(err, ErrPeerUnreachable) {
		t.Errorf("Call error = %v, want ErrPeerUnreachable", err)
	}
}
