package chat

import (
	"context"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dd0wney/cluso-chat/pkg/cluster"
	"github.com/dd0wney/cluso-chat/pkg/logging"
	"github.com/dd0wney/cluso-chat/pkg/metrics"
	"github.com/dd0wney/cluso-chat/pkg/wire"
)

// ReplicatorConfig bounds the replication fan-out
type ReplicatorConfig struct {
	Timeout time.Duration // per follower call (default: 2s)
	Backlog int           // queued writes before new ones are dropped (default: 1024)
}

// DefaultReplicatorConfig returns the default fan-out limits
func DefaultReplicatorConfig() ReplicatorConfig {
	return ReplicatorConfig{Timeout: 2 * time.Second, Backlog: 1024}
}

// Replicator sends accepted writes from the leader to its followers.
// A single worker sends writes in acceptance order, so each follower
// applies them in that order; followers are called concurrently.
type Replicator struct {
	dir       *cluster.Directory
	transport cluster.Transport
	cfg       ReplicatorConfig
	logger    logging.Logger
	metrics   *metrics.Registry

	mu     sync.Mutex
	queue  chan wire.Envelope
	closed bool
	done   chan struct{}
}

// NewReplicator creates a replicator and starts its worker
func NewReplicator(dir *cluster.Directory, transport cluster.Transport, cfg ReplicatorConfig, logger logging.Logger, reg *metrics.Registry) *Replicator {
	def := DefaultReplicatorConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Backlog <= 0 {
		cfg.Backlog = def.Backlog
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	p := &Replicator{
		dir:       dir,
		transport: transport,
		cfg:       cfg,
		logger:    logger.With(logging.Component("replicator")),
		metrics:   reg,
		queue:     make(chan wire.Envelope, cfg.Backlog),
		done:      make(chan struct{}),
	}
	go p.run()
	return p
}

// Fanout queues Replicate(leaderId, epoch, opcode, args...) for every
// reachable follower. It never blocks; when the queue is full the write is
// dropped and counted as an error. Nothing is sent unless this server leads.
func (p *Replicator) Fanout(op wire.Opcode, args []string) {
	leader, epoch, ok := p.dir.Leadership()
	if !ok || leader.ID != p.dir.SelfID() {
		return
	}

	payload := make([]string, 0, len(args)+3)
	payload = append(payload, leader.ID, strconv.FormatUint(epoch, 10), op.String())
	payload = append(payload, args...)
	req := wire.NewEnvelope(wire.OpReplicate, payload...)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.queue <- req:
	default:
		p.record("error")
		p.logger.Warn("replication backlog full, dropping write", logging.Opcode(op))
	}
}

func (p *Replicator) run() {
	defer close(p.done)
	for req := range p.queue {
		p.send(req)
	}
}

func (p *Replicator) send(req wire.Envelope) {
	peers := p.dir.ListReachablePeers()
	if len(peers) == 0 {
		return
	}

	var g errgroup.Group
	for _, peer := range peers {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), p.cfg.Timeout)
			defer cancel()

			reply, err := p.transport.Call(ctx, peer.Addr.String(), req)
			switch {
			case err != nil:
				p.record("error")
				p.logger.Debug("replication failed", logging.Peer(peer.ID), logging.Error(err))
			case reply.Status() == wire.StatusStaleEpoch:
				p.record("stale")
				p.logger.Warn("follower refused write as stale",
					logging.Peer(peer.ID), logging.String("follower_epoch", reply.Arg(1)))
			case reply.Status() != wire.StatusSuccess:
				p.record("error")
				p.logger.Debug("follower rejected write",
					logging.Peer(peer.ID), logging.Status(string(reply.Status())), logging.String("detail", reply.Arg(1)))
			default:
				p.record("ok")
			}
			return nil
		})
	}
	g.Wait()
}

func (p *Replicator) record(result string) {
	if p.metrics != nil {
		p.metrics.ReplicationWritesTotal.WithLabelValues("sent", result).Inc()
	}
}

// Close stops accepting writes and waits until queued ones have been sent
func (p *Replicator) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()
	<-p.done
}
