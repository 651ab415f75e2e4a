package chat

import (
	"context"
	"errors"

	"github.com/dd0wney/cluso-chat/pkg/logging"
	"github.com/dd0wney/cluso-chat/pkg/pubsub"
	"github.com/dd0wney/cluso-chat/pkg/rpc"
	"github.com/dd0wney/cluso-chat/pkg/wire"
)

func (r *Router) sendMessage(call *rpc.Call, args []string) ([]string, error) {
	a, err := bindArgs[sendArgs](args)
	if err != nil {
		return nil, err
	}
	return nil, r.deliver(call.Context(), a.message())
}

// deliver pushes msg to live subscriptions of its recipient on this replica
// and stores it, as pending when nobody received it
func (r *Router) deliver(ctx context.Context, msg Message) error {
	pending := r.subs.Publish(msg.Recipient, msg) == 0
	if pending && r.metrics != nil {
		r.metrics.MessagesPendingTotal.Inc()
	}
	if err := r.actions.StoreMessage(ctx, msg, pending); err != nil {
		return err
	}
	r.logger.Debug("message accepted",
		logging.Username(msg.Sender), logging.String("recipient", msg.Recipient), logging.Bool("pending", pending))
	return nil
}

func (r *Router) messageHistory(call *rpc.Call, a *userArgs) {
	msgs, err := r.actions.MessageHistory(call.Context(), a.Username)
	if err != nil {
		r.fail(call, err)
		return
	}
	r.streamMessages(call, msgs)
}

// pendingMessages streams and marks delivered up to InboxLimit pending
// messages. On the leader the fetch is replicated so followers mark the same
// messages delivered.
func (r *Router) pendingMessages(call *rpc.Call, a *pendingArgs) {
	msgs, err := r.actions.FetchPending(call.Context(), a.Username, a.InboxLimit)
	if err != nil {
		r.fail(call, err)
		return
	}
	if len(msgs) > 0 {
		r.replicator.Fanout(wire.OpGetPendingMessage, call.Request.Arguments)
	}
	r.streamMessages(call, msgs)
}

// markDelivered applies a replicated pending fetch without streaming anything
func (r *Router) markDelivered(call *rpc.Call, args []string) ([]string, error) {
	a, err := bindArgs[pendingArgs](args)
	if err != nil {
		return nil, err
	}
	msgs, err := r.actions.FetchPending(call.Context(), a.Username, a.InboxLimit)
	if err != nil {
		return nil, err
	}
	r.logger.Debug("replicated pending fetch",
		logging.Username(a.Username), logging.Count(len(msgs)))
	return nil, nil
}

func (r *Router) streamMessages(call *rpc.Call, msgs []Message) {
	for _, m := range msgs {
		if err := call.Send(m.Item(call.Request.Opcode)); err != nil {
			return
		}
	}
	call.End()
}

// monitorMessages streams every message accepted for the user until the
// peer disconnects. There is no replay; missed messages are fetched with
// GetPendingMessage.
func (r *Router) monitorMessages(call *rpc.Call, a *userArgs) {
	ctx := call.Context()
	sub, err := r.subs.Subscribe(ctx, a.Username)
	if err != nil {
		call.Reply(wire.StatusFailure, "server shutting down")
		return
	}
	defer sub.Unsubscribe()

	logger := r.logger.With(logging.Username(a.Username), logging.Remote(call.Remote()))
	logger.Info("monitor started")

	for {
		msg, err := sub.Next(ctx)
		switch {
		case err == nil:
			if err := call.Send(msg.Item(wire.OpMonitorMessages)); err != nil {
				logger.Info("monitor ended", logging.Error(err))
				return
			}
		case errors.Is(err, pubsub.ErrEvicted):
			logger.Warn("monitor evicted", logging.Error(err))
			call.Reply(wire.StatusFailure, "subscription evicted, fetch pending messages")
			return
		case errors.Is(err, pubsub.ErrShutdown):
			call.Reply(wire.StatusFailure, "server shutting down")
			return
		default:
			logger.Info("monitor ended", logging.Error(err))
			return
		}
	}
}
