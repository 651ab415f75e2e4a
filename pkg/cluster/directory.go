package cluster

import (
	"time"

	"github.com/dd0wney/cluso-chat/pkg/metrics"
)

// NewDirectory creates a directory holding only self, as a follower with no
// leader. Call Bootstrap or adopt a leader through TryAdoptLeader.
func NewDirectory(selfID string, addr Address, reg *metrics.Registry) *Directory {
	d := &Directory{
		selfID:  selfID,
		members: make(map[string]*ServerRecord),
		now:     time.Now,
		metrics: reg,
	}
	d.members[selfID] = &ServerRecord{
		ID:              selfID,
		Addr:            addr,
		Role:            RoleFollower,
		LastHeartbeatAt: d.now(),
		Reachable:       true,
	}
	d.updateMetricsLocked()
	return d
}

// Bootstrap makes self the leader of a new cluster at epoch 1
func (d *Directory) Bootstrap() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.epoch >= 1 {
		return
	}
	d.epoch = 1
	d.leaderID = d.selfID
	self := d.members[d.selfID]
	self.Role = RoleLeader
	self.Epoch = 1
	d.updateMetricsLocked()
}

// Upsert adds a member as a reachable follower, or refreshes the address of a
// known one. It never grants LEADER and never moves LastHeartbeatAt backwards.
// It reports whether the member was new.
func (d *Directory) Upsert(rec ServerRecord) (added bool, err error) {
	if rec.ID == "" || rec.Addr.IP == "" || rec.Addr.Port <= 0 {
		return false, ErrInvalidRecord
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	existing, ok := d.members[rec.ID]
	if ok {
		existing.Addr = rec.Addr
		if rec.LastHeartbeatAt.After(existing.LastHeartbeatAt) {
			existing.LastHeartbeatAt = rec.LastHeartbeatAt
		}
		return false, nil
	}

	at := rec.LastHeartbeatAt
	if at.IsZero() {
		at = d.now()
	}
	d.members[rec.ID] = &ServerRecord{
		ID:              rec.ID,
		Addr:            rec.Addr,
		Role:            RoleFollower,
		Epoch:           rec.Epoch,
		LastHeartbeatAt: at,
		Reachable:       true,
	}
	d.updateMetricsLocked()
	return true, nil
}

// MarkUnreachable flags a member as unreachable. Self cannot be marked.
func (d *Directory) MarkUnreachable(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	rec, ok := d.members[id]
	if !ok || id == d.selfID || !rec.Reachable {
		return false
	}
	rec.Reachable = false
	d.updateMetricsLocked()
	return true
}

// RecordHeartbeat notes a successful exchange with id at the given time
func (d *Directory) RecordHeartbeat(id string, at time.Time) (Transition, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rec, ok := d.members[id]
	if !ok {
		return TransitionNone, ErrServerNotFound
	}

	if at.After(rec.LastHeartbeatAt) {
		rec.LastHeartbeatAt = at
	}
	rec.ConsecutiveMisses = 0
	if rec.Reachable {
		return TransitionNone, nil
	}
	rec.Reachable = true
	d.updateMetricsLocked()
	return TransitionRecovered, nil
}

// RecordMiss counts a failed probe. The member becomes unreachable when
// its consecutive misses reach threshold, and that transition is reported
// exactly once.
func (d *Directory) RecordMiss(id string, threshold int) (Transition, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rec, ok := d.members[id]
	if !ok {
		return TransitionNone, ErrServerNotFound
	}
	if id == d.selfID {
		return TransitionNone, nil
	}

	rec.ConsecutiveMisses++
	if rec.Reachable && rec.ConsecutiveMisses >= threshold {
		rec.Reachable = false
		d.updateMetricsLocked()
		return TransitionUnreachable, nil
	}
	return TransitionNone, nil
}

// TryAdoptLeader makes candidateID the leader if candidateEpoch is newer than
// the current epoch and the candidate is a known member. Leader id, epoch and
// both roles change in one step.
func (d *Directory) TryAdoptLeader(candidateID string, candidateEpoch uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.adoptLocked(candidateID, candidateEpoch)
}

func (d *Directory) adoptLocked(candidateID string, candidateEpoch uint64) bool {
	if candidateEpoch <= d.epoch {
		return false
	}
	candidate, ok := d.members[candidateID]
	if !ok {
		return false
	}

	if prev, ok := d.members[d.leaderID]; ok && prev.ID != candidateID {
		prev.Role = RoleFollower
	}
	candidate.Role = RoleLeader
	candidate.Epoch = candidateEpoch
	d.leaderID = candidateID
	d.epoch = candidateEpoch
	d.updateMetricsLocked()
	return true
}

// ObserveLeader applies a leadership announcement heard from a peer.
//
// A newer epoch naming a known member is adopted. An older epoch, or the same
// epoch naming a different leader, is stale. When this server leads and meets
// another leader at its own epoch with a lower id, it yields to it at the next
// epoch so both sides converge.
func (d *Directory) ObserveLeader(leaderID string, epoch uint64) Observation {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch {
	case leaderID == "" || epoch == 0:
		return ObservedStale
	case epoch > d.epoch:
		if d.adoptLocked(leaderID, epoch) {
			return ObservedAdopted
		}
		return ObservedUnknown
	case epoch == d.epoch && leaderID == d.leaderID:
		if rec, ok := d.members[leaderID]; ok {
			rec.Epoch = epoch
		}
		return ObservedCurrent
	case epoch == d.epoch && d.leaderID == d.selfID && leaderID < d.selfID:
		if d.adoptLocked(leaderID, epoch+1) {
			return ObservedYielded
		}
		return ObservedUnknown
	default:
		return ObservedStale
	}
}

// Purge removes members that have been unreachable since before olderThan.
// Self and the current leader are never purged.
func (d *Directory) Purge(olderThan time.Time) []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	var removed []string
	for id, rec := range d.members {
		if id == d.selfID || id == d.leaderID || rec.Reachable {
			continue
		}
		if rec.LastHeartbeatAt.Before(olderThan) {
			delete(d.members, id)
			removed = append(removed, id)
		}
	}
	if len(removed) > 0 {
		d.updateMetricsLocked()
	}
	return removed
}

// updateMetricsLocked publishes membership gauges (must be called with lock held)
func (d *Directory) updateMetricsLocked() {
	if d.metrics == nil {
		return
	}
	reachable := 0
	for _, rec := range d.members {
		if rec.Reachable {
			reachable++
		}
	}
	d.metrics.UpdateClusterMetrics(len(d.members), reachable, d.epoch, d.leaderID == d.selfID)
}
