package cluster

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dd0wney/cluso-chat/pkg/logging"
	"github.com/dd0wney/cluso-chat/pkg/metrics"
	"github.com/dd0wney/cluso-chat/pkg/wire"
)

// ClientRequestor is the requestor id clients use for liveness heartbeats
const ClientRequestor = "Client"

// Registrar bootstraps or joins a cluster and answers the membership opcodes
// NewReplica, GetServers and Heartbeat.
type Registrar struct {
	dir       *Directory
	transport Transport
	cfg       Config
	logger    logging.Logger
	metrics   *metrics.Registry
	now       func() time.Time

	wg sync.WaitGroup
}

// NewRegistrar creates a registrar for dir
func NewRegistrar(dir *Directory, transport Transport, cfg Config, logger logging.Logger, reg *metrics.Registry) *Registrar {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Registrar{
		dir:       dir,
		transport: transport,
		cfg:       cfg,
		logger:    logger.With(logging.Component("registrar")),
		metrics:   reg,
		now:       time.Now,
	}
}

// Start bootstraps when no join address is configured, otherwise joins through it
func (r *Registrar) Start(ctx context.Context) error {
	if r.cfg.JoinAddr == "" {
		r.Bootstrap()
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.cfg.JoinTimeout)
	defer cancel()
	return r.Join(ctx, r.cfg.JoinAddr)
}

// Bootstrap makes this server the leader of a one-member cluster at epoch 1
func (r *Registrar) Bootstrap() {
	r.dir.Bootstrap()
	r.logger.Info("bootstrapped cluster", logging.Leader(r.dir.SelfID()), logging.Epoch(r.dir.Epoch()))
}

// Join registers with the cluster reachable through seed. A follower seed
// answers REGISTRATION_REFUSED with the leader's address, which is followed
// up to MaxJoinRedirects times. Once admitted the joiner adopts the leader
// and fetches the member list from it.
func (r *Registrar) Join(ctx context.Context, seed string) error {
	self := r.dir.Self()
	req := wire.NewEnvelope(wire.OpNewReplica, self.ID, self.Addr.IP, self.Addr.PortString())

	target := seed
	for hop := 0; hop <= r.cfg.MaxJoinRedirects; hop++ {
		reply, err := r.transport.Call(ctx, target, req)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrJoinFailed, target, err)
		}

		leader, epoch, perr := parseLeaderReply(reply)
		switch reply.Status() {
		case wire.StatusSuccess:
			if perr != nil {
				return fmt.Errorf("%w: %v", ErrJoinFailed, perr)
			}
			return r.admitted(ctx, leader, epoch)
		case wire.StatusRegistrationRefused:
			if perr != nil {
				return fmt.Errorf("%w: %v", ErrJoinFailed, perr)
			}
			r.logger.Info("registration redirected",
				logging.Peer(target), logging.Leader(leader.ID), logging.Addr(leader.Addr.String()))
			target = leader.Addr.String()
		default:
			return fmt.Errorf("%w: %s answered %s %s", ErrJoinFailed, target, reply.Status(), reply.Arg(1))
		}
	}
	return ErrTooManyRedirects
}

func (r *Registrar) admitted(ctx context.Context, leader ServerRecord, epoch uint64) error {
	leader.LastHeartbeatAt = r.now()
	if _, err := r.dir.Upsert(leader); err != nil {
		return fmt.Errorf("%w: %v", ErrJoinFailed, err)
	}
	applyAnnouncement(r.dir, r.logger, r.metrics, leader.ID, leader.ID, epoch)

	if err := r.discover(ctx, leader.Addr.String()); err != nil {
		// heartbeats and gossip fill the directory in later
		r.logger.Warn("server discovery failed", logging.Leader(leader.ID), logging.Error(err))
	}

	r.logger.Info("joined cluster",
		logging.Leader(leader.ID), logging.Epoch(r.dir.Epoch()),
		logging.Count(len(r.dir.Peers())))
	return nil
}

// discover learns the remaining members from a GetServers stream
func (r *Registrar) discover(ctx context.Context, addr string) error {
	req := wire.NewEnvelope(wire.OpGetServers, r.dir.SelfID())
	return r.transport.Stream(ctx, addr, req, func(item wire.Envelope) error {
		if item.Status() != wire.StatusSuccess {
			return fmt.Errorf("GetServers answered %s", item.Status())
		}
		// [SUCCESS, id, ip, port]
		addr, err := NewAddress(item.Arg(2), item.Arg(3))
		if err != nil || item.Arg(1) == r.dir.SelfID() {
			return nil
		}
		r.dir.Upsert(ServerRecord{ID: item.Arg(1), Addr: addr, LastHeartbeatAt: r.now()})
		return nil
	})
}

// HandleNewReplica answers NewReplica(id, ip, port[, origin]).
//
// The leader admits the replica and tells the other followers about it.
// A follower refuses with the leader's identity, except for the leader's own
// broadcast, which carries the leader id as origin.
func (r *Registrar) HandleNewReplica(args []string) wire.Envelope {
	if len(args) < 3 {
		return wire.Reply(wire.OpNewReplica, wire.StatusFailure, "expected id, ip, port")
	}
	id, origin := args[0], ""
	if len(args) > 3 {
		origin = args[3]
	}
	addr, err := NewAddress(args[1], args[2])
	if err != nil || id == "" {
		return wire.Reply(wire.OpNewReplica, wire.StatusFailure, "invalid replica address")
	}

	leader, epoch, ok := r.dir.Leadership()
	isLeader := ok && leader.ID == r.dir.SelfID()

	switch {
	case isLeader && origin == "":
		if id == r.dir.SelfID() {
			return wire.Reply(wire.OpNewReplica, wire.StatusFailure, "replica id collides with leader")
		}
		added, _ := r.dir.Upsert(ServerRecord{ID: id, Addr: addr, LastHeartbeatAt: r.now()})
		r.logger.Info("admitted replica", logging.Peer(id), logging.Addr(addr.String()), logging.Bool("new", added))
		r.broadcast(id, addr)

	case !isLeader && ok && origin == leader.ID:
		if id != r.dir.SelfID() {
			r.dir.Upsert(ServerRecord{ID: id, Addr: addr, LastHeartbeatAt: r.now()})
			r.logger.Debug("learned replica from leader", logging.Peer(id), logging.Addr(addr.String()))
		}

	case !ok:
		return wire.Reply(wire.OpNewReplica, wire.StatusFailure, "no leader known")

	default:
		return leaderReply(wire.StatusRegistrationRefused, leader, epoch)
	}

	return leaderReply(wire.StatusSuccess, leader, epoch)
}

// broadcast sends NewReplica(id, ip, port, leaderId) to every reachable follower except the new one
func (r *Registrar) broadcast(id string, addr Address) {
	peers := r.dir.ListReachablePeers()
	req := wire.NewEnvelope(wire.OpNewReplica, id, addr.IP, addr.PortString(), r.dir.SelfID())

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), r.cfg.ProbeTimeout*2)
		defer cancel()

		var g errgroup.Group
		for _, peer := range peers {
			if peer.ID == id {
				continue
			}
			g.Go(func() error {
				reply, err := r.transport.Call(ctx, peer.Addr.String(), req)
				if err == nil && reply.Status() != wire.StatusSuccess {
					err = fmt.Errorf("answered %s", reply.Status())
				}
				if err != nil {
					r.logger.Debug("membership broadcast failed", logging.Peer(peer.ID), logging.Error(err))
				}
				return nil
			})
		}
		g.Wait()
	}()
}

// Wait blocks until outstanding broadcasts finish
func (r *Registrar) Wait() {
	r.wg.Wait()
}

// HandleGetServers returns the reachable members, self included and the requestor excluded
func (r *Registrar) HandleGetServers(requestor string) []ServerRecord {
	members := r.dir.Reachable()
	out := members[:0]
	for _, rec := range members {
		if rec.ID != requestor {
			out = append(out, rec)
		}
	}
	return out
}

// HandleHeartbeat answers Heartbeat(requestorId, serverId[, leaderId, epoch, ip, port]).
//
// A heartbeat from the ClientRequestor is a pure liveness probe. A peer's
// heartbeat counts as contact from it, admits it if it carries an address
// and is unknown, and carries that peer's view of the leadership.
func (r *Registrar) HandleHeartbeat(args []string) wire.Envelope {
	if len(args) < 2 {
		return wire.Reply(wire.OpHeartbeat, wire.StatusFailure, "expected requestor and server id")
	}
	requestor := args[0]

	if requestor != ClientRequestor && requestor != r.dir.SelfID() {
		r.observePeer(requestor, args[2:])
	}

	leader, epoch, _ := r.dir.Leadership()
	return wire.Reply(wire.OpHeartbeat, wire.StatusSuccess,
		r.dir.SelfID(), leader.ID, leader.Addr.IP, portArg(leader.Addr), strconv.FormatUint(epoch, 10))
}

// observePeer handles [leaderId, epoch, ip, port] sent by requestor
func (r *Registrar) observePeer(requestor string, rest []string) {
	arg := func(i int) string {
		if i < len(rest) {
			return rest[i]
		}
		return ""
	}

	if _, known := r.dir.Get(requestor); known {
		r.dir.RecordHeartbeat(requestor, r.now())
	} else if addr, err := NewAddress(arg(2), arg(3)); err == nil {
		if added, _ := r.dir.Upsert(ServerRecord{ID: requestor, Addr: addr, LastHeartbeatAt: r.now()}); added {
			r.logger.Info("admitted replica from heartbeat", logging.Peer(requestor), logging.Addr(addr.String()))
		}
	}

	epoch, err := strconv.ParseUint(arg(1), 10, 64)
	if err != nil || arg(0) == "" {
		return
	}
	applyAnnouncement(r.dir, r.logger, r.metrics, requestor, arg(0), epoch)
}

// leaderReply is [status, leaderId, leaderIP, leaderPort, epoch]
func leaderReply(status wire.Status, leader ServerRecord, epoch uint64) wire.Envelope {
	return wire.Reply(wire.OpNewReplica, status,
		leader.ID, leader.Addr.IP, portArg(leader.Addr), strconv.FormatUint(epoch, 10))
}

func portArg(a Address) string {
	if a.Port == 0 {
		return ""
	}
	return a.PortString()
}

func parseLeaderReply(reply wire.Envelope) (ServerRecord, uint64, error) {
	id := reply.Arg(1)
	addr, err := NewAddress(reply.Arg(2), reply.Arg(3))
	if err != nil || id == "" {
		return ServerRecord{}, 0, errors.Join(ErrInvalidRecord, err)
	}
	epoch, err := strconv.ParseUint(reply.Arg(4), 10, 64)
	if err != nil {
		return ServerRecord{}, 0, fmt.Errorf("%w: bad epoch %q", ErrInvalidRecord, reply.Arg(4))
	}
	return ServerRecord{ID: id, Addr: addr}, epoch, nil
}

// Redirect returns the leader as a RedirectError, for callers that must refuse a write
func (r *Registrar) Redirect() *RedirectError {
	leader, _ := r.dir.GetLeader()
	return &RedirectError{LeaderID: leader.ID, Addr: leader.Addr}
}
