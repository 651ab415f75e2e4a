package chat

import (
	"strconv"

	"github.com/dd0wney/cluso-chat/pkg/cluster"
	"github.com/dd0wney/cluso-chat/pkg/logging"
	"github.com/dd0wney/cluso-chat/pkg/rpc"
	"github.com/dd0wney/cluso-chat/pkg/wire"
)

func (r *Router) newReplica(call *rpc.Call) {
	call.Send(r.registrar.HandleNewReplica(call.Request.Arguments))
}

func (r *Router) heartbeat(call *rpc.Call) {
	call.Send(r.registrar.HandleHeartbeat(call.Request.Arguments))
}

// getServers streams [SUCCESS, id, ip, port] per reachable member
func (r *Router) getServers(call *rpc.Call) {
	for _, rec := range r.registrar.HandleGetServers(call.Request.Arg(0)) {
		if err := call.Reply(wire.StatusSuccess, rec.ID, rec.Addr.IP, rec.Addr.PortString()); err != nil {
			return
		}
	}
	call.End()
}

// applyReplicated applies Replicate(leaderId, epoch, opcode, args...) sent
// by the leader. Writes from anyone but the current leader, or from an
// older epoch, are refused with STALE_EPOCH.
func (r *Router) applyReplicated(call *rpc.Call) {
	args := call.Request.Arguments
	if len(args) < 3 {
		r.fail(call, ErrBadArity)
		return
	}
	leaderID := args[0]
	epoch, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		call.Reply(wire.StatusFailure, "invalid epoch")
		return
	}

	switch obs := r.dir.ObserveLeader(leaderID, epoch); obs {
	case cluster.ObservedCurrent, cluster.ObservedAdopted, cluster.ObservedYielded:
	default:
		r.recordReplication("applied", "stale")
		r.logger.Debug("refused replicated write",
			logging.Leader(leaderID), logging.Epoch(epoch), logging.String("observation", obs.String()))
		call.Reply(wire.StatusStaleEpoch, strconv.FormatUint(r.dir.Epoch(), 10))
		return
	}

	op, err := wire.ParseOpcode(args[2])
	apply, ok := r.replicated[op]
	if err != nil || !ok {
		r.recordReplication("applied", "error")
		r.fail(call, ErrNotReplicated)
		return
	}

	if _, err := apply(call, args[3:]); err != nil {
		r.recordReplication("applied", "error")
		r.fail(call, err)
		return
	}
	r.recordReplication("applied", "ok")
	call.Reply(wire.StatusSuccess)
}

func (r *Router) recordReplication(direction, result string) {
	if r.metrics != nil {
		r.metrics.ReplicationWritesTotal.WithLabelValues(direction, result).Inc()
	}
}
