// Package chat routes decoded chat requests between the local replica and
// the cluster leader.
//
// Writes run on the leader only; a follower answers them with NOT_LEADER and
// the leader's address, without side effects. Reads and streams are served
// by any replica. Accepted writes are replicated to followers asynchronously.
package chat

import (
	"errors"
	"fmt"
	"time"

	"github.com/dd0wney/cluso-chat/pkg/cluster"
	"github.com/dd0wney/cluso-chat/pkg/logging"
	"github.com/dd0wney/cluso-chat/pkg/metrics"
	"github.com/dd0wney/cluso-chat/pkg/pubsub"
	"github.com/dd0wney/cluso-chat/pkg/rpc"
	"github.com/dd0wney/cluso-chat/pkg/validation"
	"github.com/dd0wney/cluso-chat/pkg/wire"
)

// Class decides where a request may run
type Class uint8

const (
	ClassWrite   Class = iota + 1 // leader only
	ClassRead                     // any replica, one reply
	ClassStream                   // any replica, items then END
	ClassCluster                  // membership and replication traffic
)

func (c Class) String() string {
	switch c {
	case ClassWrite:
		return "write"
	case ClassRead:
		return "read"
	case ClassStream:
		return "stream"
	case ClassCluster:
		return "cluster"
	default:
		return "unknown"
	}
}

// Config wires a Router to its collaborators
type Config struct {
	Directory     *cluster.Directory
	Registrar     *cluster.Registrar
	Actions       Actions
	Transport     cluster.Transport // used for replication fan-out
	Subscriptions *pubsub.PubSub[Message]

	ReplicationTimeout time.Duration // per follower call (default: 2s)
	ReplicationBacklog int           // queued writes before new ones are dropped (default: 1024)

	Logger  logging.Logger
	Metrics *metrics.Registry
}

type route struct {
	class Class
	fn    func(call *rpc.Call)
}

// applyFunc runs a write and returns the reply arguments after the status
type applyFunc func(call *rpc.Call, args []string) ([]string, error)

// Router implements rpc.Handler for every opcode of the wire enumeration
type Router struct {
	dir        *cluster.Directory
	registrar  *cluster.Registrar
	actions    Actions
	subs       *pubsub.PubSub[Message]
	replicator *Replicator
	logger     logging.Logger
	metrics    *metrics.Registry

	routes     map[wire.Opcode]route
	replicated map[wire.Opcode]applyFunc
}

var _ rpc.Handler = (*Router)(nil)

// NewRouter creates a router and starts its replication worker
func NewRouter(cfg Config) (*Router, error) {
	switch {
	case cfg.Directory == nil:
		return nil, fmt.Errorf("%w: directory", ErrMissingDep)
	case cfg.Registrar == nil:
		return nil, fmt.Errorf("%w: registrar", ErrMissingDep)
	case cfg.Actions == nil:
		return nil, fmt.Errorf("%w: actions", ErrMissingDep)
	case cfg.Transport == nil:
		return nil, fmt.Errorf("%w: transport", ErrMissingDep)
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.DefaultLogger()
	}
	if cfg.Subscriptions == nil {
		cfg.Subscriptions = pubsub.NewPubSub[Message](pubsub.DefaultBacklog, cfg.Metrics)
	}
	logger := cfg.Logger.With(logging.Component("router"))

	r := &Router{
		dir:       cfg.Directory,
		registrar: cfg.Registrar,
		actions:   cfg.Actions,
		subs:      cfg.Subscriptions,
		replicator: NewReplicator(cfg.Directory, cfg.Transport, ReplicatorConfig{
			Timeout: cfg.ReplicationTimeout,
			Backlog: cfg.ReplicationBacklog,
		}, cfg.Logger, cfg.Metrics),
		logger:     logger,
		metrics:    cfg.Metrics,
		routes:     make(map[wire.Opcode]route),
		replicated: make(map[wire.Opcode]applyFunc),
	}

	r.handleWrite(wire.OpRegister, r.register, true).
		handleWrite(wire.OpLogin, r.login, false).
		handleWrite(wire.OpSendMessage, r.sendMessage, true).
		handleWrite(wire.OpDeleteAccount, r.deleteAccount, true).
		handleWrite(wire.OpSaveSettings, r.saveSettings, true)

	handleArgs[userArgs](r, wire.OpGetSettings, ClassRead, r.getSettings)

	handleArgs[userArgs](r, wire.OpGetUsers, ClassStream, r.getUsers)
	handleArgs[userArgs](r, wire.OpGetMessageHistory, ClassStream, r.messageHistory)
	handleArgs[pendingArgs](r, wire.OpGetPendingMessage, ClassStream, r.pendingMessages)
	r.replicated[wire.OpGetPendingMessage] = r.markDelivered
	handleArgs[userArgs](r, wire.OpMonitorMessages, ClassStream, r.monitorMessages)

	r.handle(wire.OpNewReplica, ClassCluster, r.newReplica).
		handle(wire.OpHeartbeat, ClassCluster, r.heartbeat).
		handle(wire.OpGetServers, ClassCluster, r.getServers).
		handle(wire.OpReplicate, ClassCluster, r.applyReplicated)

	return r, nil
}

// handle registers fn for op
func (r *Router) handle(op wire.Opcode, class Class, fn func(call *rpc.Call)) *Router {
	r.routes[op] = route{class: class, fn: fn}
	return r
}

// handleWrite registers a leader-only write. Replicated writes are sent to
// the followers after they succeed locally.
func (r *Router) handleWrite(op wire.Opcode, fn applyFunc, replicate bool) *Router {
	if replicate {
		r.replicated[op] = fn
	}
	return r.handle(op, ClassWrite, func(call *rpc.Call) {
		args := call.Request.Arguments
		reply, err := fn(call, args)
		if err != nil {
			r.fail(call, err)
			return
		}
		if replicate {
			r.replicator.Fanout(op, args)
		}
		call.Reply(wire.StatusSuccess, reply...)
	})
}

// handleArgs registers a handler that receives validated arguments
func handleArgs[T any, P interface {
	*T
	binder
}](r *Router, op wire.Opcode, class Class, fn func(call *rpc.Call, args *T)) *Router {
	return r.handle(op, class, func(call *rpc.Call) {
		args, err := bindArgs[T, P](call.Request.Arguments)
		if err != nil {
			r.fail(call, err)
			return
		}
		fn(call, args)
	})
}

// Classify returns the class of op
func (r *Router) Classify(op wire.Opcode) (Class, bool) {
	rt, ok := r.routes[op]
	return rt.class, ok
}

// HandlerCount returns the number of registered opcodes
func (r *Router) HandlerCount() int {
	return len(r.routes)
}

// Watch reports the requests whose context is tied to the peer staying connected
func (r *Router) Watch(op wire.Opcode) bool {
	return op == wire.OpMonitorMessages
}

// ServeRPC implements rpc.Handler
func (r *Router) ServeRPC(call *rpc.Call) {
	op := call.Request.Opcode
	rt, ok := r.routes[op]
	if !ok {
		call.Reply(wire.StatusFailure, "unsupported opcode "+op.String())
		return
	}
	if rt.class == ClassWrite && !r.dir.IsLeader() {
		r.redirect(call)
		return
	}
	rt.fn(call)
}

// redirect answers [NOT_LEADER, leaderId, ip, port]
func (r *Router) redirect(call *rpc.Call) {
	leader, ok := r.dir.GetLeader()
	if !ok {
		call.Reply(wire.StatusFailure, ErrNoLeader.Error())
		return
	}
	if r.metrics != nil {
		r.metrics.RPCRedirectsTotal.WithLabelValues(call.Request.Opcode.String()).Inc()
	}
	r.logger.Debug("redirecting write to leader",
		logging.Opcode(call.Request.Opcode), logging.Leader(leader.ID), logging.Remote(call.Remote()))
	call.Reply(wire.StatusNotLeader, leader.ID, leader.Addr.IP, leader.Addr.PortString())
}

// fail replies FAILURE. Internal errors are logged and not shown to the caller.
func (r *Router) fail(call *rpc.Call, err error) {
	call.Reply(wire.StatusFailure, r.publicError(call, err))
}

func (r *Router) publicError(call *rpc.Call, err error) string {
	switch {
	case errors.Is(err, validation.ErrInvalid),
		errors.Is(err, ErrBadArity),
		errors.Is(err, ErrUserExists),
		errors.Is(err, ErrUserNotFound),
		errors.Is(err, ErrBadCredentials),
		errors.Is(err, ErrNotReplicated):
		return err.Error()
	default:
		r.logger.Error("request failed",
			logging.Opcode(call.Request.Opcode), logging.Remote(call.Remote()), logging.Error(err))
		return "internal error"
	}
}

// Close stops accepting replication work and waits for queued writes to be sent
func (r *Router) Close() {
	r.replicator.Close()
}
