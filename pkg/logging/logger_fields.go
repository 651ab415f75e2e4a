package logging

import (
	"time"
)

func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

func Uint64(key string, value uint64) Field {
	return Field{Key: key, Value: value}
}

func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value.String()}
}

func Error(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}

func Any(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// Domain field helpers

func Component(name string) Field {
	return String("component", name)
}

// ServerID identifies the local server
func ServerID(id string) Field {
	return String("server_id", id)
}

// Peer identifies a remote cluster member
func Peer(id string) Field {
	return String("peer", id)
}

func Leader(id string) Field {
	return String("leader", id)
}

func Epoch(e uint64) Field {
	return Uint64("epoch", e)
}

// Opcode accepts anything with a wire name
func Opcode(op interface{ String() string }) Field {
	return String("opcode", op.String())
}

func Status(s string) Field {
	return String("status", s)
}

func Username(name string) Field {
	return String("username", name)
}

// Remote is the network address of the other end of a connection
func Remote(addr string) Field {
	return String("remote", addr)
}

func Addr(addr string) Field {
	return String("addr", addr)
}

func Latency(d time.Duration) Field {
	return Duration("latency", d)
}

func Count(n int) Field {
	return Int("count", n)
}
