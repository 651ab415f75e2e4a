package cluster

import (
	"context"

	"github.com/dd0wney/cluso-chat/pkg/wire"
)

// Transport sends envelopes to other servers. *rpc.Client implements it.
type Transport interface {
	// Call returns the first reply to req
	Call(ctx context.Context, addr string, req wire.Envelope) (wire.Envelope, error)
	// Stream passes every reply item to fn until the stream ends
	Stream(ctx context.Context, addr string, req wire.Envelope, fn func(wire.Envelope) error) error
}
