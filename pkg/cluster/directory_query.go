package cluster

import (
	"slices"
	"strings"
)

// SelfID returns the id of this server
func (d *Directory) SelfID() string {
	return d.selfID
}

// Self returns a copy of this server's record
func (d *Directory) Self() ServerRecord {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return *d.members[d.selfID]
}

// Get returns a copy of the member with the given id
func (d *Directory) Get(id string) (ServerRecord, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rec, ok := d.members[id]
	if !ok {
		return ServerRecord{}, false
	}
	return *rec, true
}

// GetLeader returns the last known leader record
func (d *Directory) GetLeader() (ServerRecord, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rec, ok := d.members[d.leaderID]
	if !ok {
		return ServerRecord{}, false
	}
	return *rec, true
}

// Leadership reads the leader record and epoch as one unit
func (d *Directory) Leadership() (leader ServerRecord, epoch uint64, ok bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rec, ok := d.members[d.leaderID]
	if !ok {
		return ServerRecord{}, d.epoch, false
	}
	return *rec, d.epoch, true
}

// Epoch returns the current leadership epoch
func (d *Directory) Epoch() uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.epoch
}

// IsLeader reports whether this server is the current leader
func (d *Directory) IsLeader() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.leaderID == d.selfID
}

// ListReachablePeers returns reachable members other than self, ordered by id
func (d *Directory) ListReachablePeers() []ServerRecord {
	return d.collect(func(rec *ServerRecord) bool {
		return rec.Reachable && rec.ID != d.selfID
	})
}

// Peers returns every member other than self, reachable or not, ordered by id
func (d *Directory) Peers() []ServerRecord {
	return d.collect(func(rec *ServerRecord) bool {
		return rec.ID != d.selfID
	})
}

// Reachable returns reachable members including self, ordered by id
func (d *Directory) Reachable() []ServerRecord {
	return d.collect(func(rec *ServerRecord) bool {
		return rec.Reachable
	})
}

func (d *Directory) collect(keep func(*ServerRecord) bool) []ServerRecord {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]ServerRecord, 0, len(d.members))
	for _, rec := range d.members {
		if keep(rec) {
			out = append(out, *rec)
		}
	}
	slices.SortFunc(out, func(a, b ServerRecord) int {
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// View returns a consistent snapshot of the whole directory
func (d *Directory) View() ClusterView {
	d.mu.RLock()
	defer d.mu.RUnlock()

	members := make(map[string]ServerRecord, len(d.members))
	for id, rec := range d.members {
		members[id] = *rec
	}
	return ClusterView{
		SelfID:   d.selfID,
		LeaderID: d.leaderID,
		Epoch:    d.epoch,
		Members:  members,
	}
}
