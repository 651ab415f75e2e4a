package cluster

import (
	"context"

	"github.com/dd0wney/cluso-chat/pkg/logging"
	"github.com/dd0wney/cluso-chat/pkg/metrics"
)

// checkLeader starts an election when the leader is unknown or unreachable.
// At most one election runs at a time; a cycle that finds one running skips.
func (m *Monitor) checkLeader(ctx context.Context) {
	leader, epoch, ok := m.dir.Leadership()
	if ok && (leader.ID == m.dir.SelfID() || leader.Reachable) {
		return
	}
	if !m.electing.CompareAndSwap(false, true) {
		return
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.electing.Store(false)
		m.elect(ctx, leader.ID, epoch)
	}()
}

// elect picks the reachable member with the lowest id, self included. Only
// that member takes office, at epoch+1; every other member waits for its
// announcement.
func (m *Monitor) elect(ctx context.Context, failed string, epoch uint64) {
	candidates := m.dir.Reachable()
	if len(candidates) == 0 {
		return
	}
	candidate := candidates[0]
	selfID := m.dir.SelfID()

	if candidate.ID != selfID {
		m.logger.Info("leader unreachable, awaiting announcement",
			logging.Leader(failed), logging.Peer(candidate.ID), logging.Epoch(epoch))
		m.recordElection("deferred")
		return
	}

	if !m.dir.TryAdoptLeader(selfID, epoch+1) {
		// a newer leader arrived while the election was pending
		m.recordElection("rejected")
		return
	}

	m.logger.Info("elected leader", logging.Leader(selfID), logging.Epoch(epoch+1), logging.Peer(failed))
	m.recordElection("won")

	// followers learn the new epoch from this cycle's heartbeat requests
	m.RunCycle(ctx)
}

func (m *Monitor) recordElection(result string) {
	if m.metrics != nil {
		m.metrics.ClusterElectionsTotal.WithLabelValues(result).Inc()
	}
}

// learnLeader adds an announced leader to the directory when it is not yet a member
func learnLeader(dir *Directory, id, ip, port string) {
	if _, known := dir.Get(id); known {
		return
	}
	addr, err := NewAddress(ip, port)
	if err != nil {
		return
	}
	dir.Upsert(ServerRecord{ID: id, Addr: addr})
}

// applyAnnouncement feeds a leader/epoch pair heard from a peer into the directory
func applyAnnouncement(dir *Directory, logger logging.Logger, reg *metrics.Registry, from, leaderID string, epoch uint64) Observation {
	obs := dir.ObserveLeader(leaderID, epoch)

	switch obs {
	case ObservedAdopted:
		logger.Info("adopted leader", logging.Leader(leaderID), logging.Epoch(epoch), logging.Peer(from))
	case ObservedYielded:
		logger.Warn("stepped down for lower-id leader at the same epoch",
			logging.Leader(leaderID), logging.Epoch(dir.Epoch()), logging.Peer(from))
	case ObservedStale:
		if leaderID == "" {
			break
		}
		logger.Debug("dropped stale announcement",
			logging.Leader(leaderID), logging.Epoch(epoch), logging.Peer(from),
			logging.Uint64("current_epoch", dir.Epoch()))
		if reg != nil {
			reg.ClusterStaleAnnouncements.Inc()
		}
	case ObservedUnknown:
		logger.Debug("announcement names an unknown leader", logging.Leader(leaderID), logging.Epoch(epoch), logging.Peer(from))
	}
	return obs
}
