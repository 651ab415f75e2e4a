package cluster

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dd0wney/cluso-chat/pkg/logging"
	"github.com/dd0wney/cluso-chat/pkg/metrics"
	"github.com/dd0wney/cluso-chat/pkg/wire"
)

// Monitor probes every known peer once per heartbeat interval, marks peers
// unreachable after MissThreshold consecutive misses, and starts an election
// when the leader is unreachable.
type Monitor struct {
	dir       *Directory
	transport Transport
	cfg       Config
	logger    logging.Logger
	metrics   *metrics.Registry
	now       func() time.Time

	cycleMu  sync.Mutex
	electing atomic.Bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMonitor creates a monitor. cfg must already carry defaults.
func NewMonitor(dir *Directory, transport Transport, cfg Config, logger logging.Logger, reg *metrics.Registry) *Monitor {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Monitor{
		dir:       dir,
		transport: transport,
		cfg:       cfg,
		logger:    logger.With(logging.Component("monitor")),
		metrics:   reg,
		now:       time.Now,
	}
}

// Start runs probe cycles in the background until Stop or ctx ends
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.cfg.HeartbeatInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.RunCycle(ctx)
			}
		}
	}()

	m.logger.Info("heartbeat monitor started",
		logging.Duration("interval", m.cfg.HeartbeatInterval),
		logging.Int("miss_threshold", m.cfg.MissThreshold))
}

// Stop ends the probe loop and waits for a running election to finish
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

// RunCycle probes all peers concurrently, then checks the leader and the purge policy
func (m *Monitor) RunCycle(ctx context.Context) {
	m.cycleMu.Lock()
	defer m.cycleMu.Unlock()

	self := m.dir.Self()
	leader, epoch, _ := m.dir.Leadership()

	var g errgroup.Group
	for _, peer := range m.dir.Peers() {
		g.Go(func() error {
			m.probe(ctx, self, peer, leader.ID, epoch)
			return nil
		})
	}
	g.Wait()

	if ctx.Err() != nil {
		return
	}
	m.checkLeader(ctx)
	m.purge()
}

func (m *Monitor) probe(ctx context.Context, self, peer ServerRecord, leaderID string, epoch uint64) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	defer cancel()

	req := wire.NewEnvelope(wire.OpHeartbeat,
		self.ID, peer.ID, leaderID, strconv.FormatUint(epoch, 10),
		self.Addr.IP, self.Addr.PortString())

	reply, err := m.transport.Call(ctx, peer.Addr.String(), req)
	if err == nil {
		switch {
		case reply.Status() != wire.StatusSuccess:
			err = fmt.Errorf("heartbeat answered %s", reply.Status())
		case reply.Arg(1) != peer.ID:
			err = fmt.Errorf("address now served by %q", reply.Arg(1))
		}
	}
	if err != nil {
		m.miss(peer, err)
		return
	}

	if m.metrics != nil {
		m.metrics.RecordHeartbeat("ok")
	}
	if t, _ := m.dir.RecordHeartbeat(peer.ID, m.now()); t == TransitionRecovered {
		m.logger.Info("peer recovered", logging.Peer(peer.ID), logging.Addr(peer.Addr.String()))
		m.recordTransition(t)
	}

	// [status, responderId, leaderId, leaderIP, leaderPort, epoch]
	announced, perr := strconv.ParseUint(reply.Arg(5), 10, 64)
	if perr != nil || reply.Arg(2) == "" {
		return
	}
	learnLeader(m.dir, reply.Arg(2), reply.Arg(3), reply.Arg(4))
	applyAnnouncement(m.dir, m.logger, m.metrics, peer.ID, reply.Arg(2), announced)
}

func (m *Monitor) miss(peer ServerRecord, err error) {
	if m.metrics != nil {
		m.metrics.RecordHeartbeat("miss")
	}

	t, rerr := m.dir.RecordMiss(peer.ID, m.cfg.MissThreshold)
	if rerr != nil {
		return // purged while probing
	}
	if t == TransitionUnreachable {
		m.logger.Warn("peer unreachable",
			logging.Peer(peer.ID),
			logging.Addr(peer.Addr.String()),
			logging.Int("misses", m.cfg.MissThreshold),
			logging.Error(err))
		m.recordTransition(t)
		return
	}
	m.logger.Debug("heartbeat missed", logging.Peer(peer.ID), logging.Error(err))
}

func (m *Monitor) recordTransition(t Transition) {
	if m.metrics != nil {
		m.metrics.ClusterPeerTransitions.WithLabelValues(t.String()).Inc()
	}
}

func (m *Monitor) purge() {
	if m.cfg.PurgeAfter <= 0 {
		return
	}
	for _, id := range m.dir.Purge(m.now().Add(-m.cfg.PurgeAfter)) {
		m.logger.Info("purged absent member", logging.Peer(id), logging.Duration("absent_for", m.cfg.PurgeAfter))
		if m.metrics != nil {
			m.metrics.ClusterPurgedMembers.Inc()
		}
	}
}
