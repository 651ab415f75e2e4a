package cluster

import (
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/dd0wney/cluso-chat/pkg/metrics"
)

// Role represents the role of a server in the cluster
type Role int

const (
	// RoleFollower serves reads and redirects writes
	RoleFollower Role = iota
	// RoleLeader accepts writes and admits new replicas
	RoleLeader
)

func (r Role) String() string {
	switch r {
	case RoleFollower:
		return "FOLLOWER"
	case RoleLeader:
		return "LEADER"
	default:
		return "UNKNOWN"
	}
}

// MarshalText encodes the role by name
func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// Address is the dial address of a server
type Address struct {
	IP   string `json:"ip"`
	Port int    `json:"port"`
}

func (a Address) String() string {
	return net.JoinHostPort(a.IP, strconv.Itoa(a.Port))
}

// IsZero reports whether the address is unset
func (a Address) IsZero() bool {
	return a.IP == "" && a.Port == 0
}

// ParseAddress splits host:port
func ParseAddress(s string) (Address, error) {
	host, port, err := net.SplitHostPort(s)
	if err != nil {
		return Address{}, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return NewAddress(host, port)
}

// NewAddress builds an address from its wire arguments
func NewAddress(ip, port string) (Address, error) {
	n, err := strconv.Atoi(port)
	if err != nil || n < 1 || n > 65535 || ip == "" {
		return Address{}, fmt.Errorf("%w: address %q:%q", ErrInvalidRecord, ip, port)
	}
	return Address{IP: ip, Port: n}, nil
}

// PortString returns the port as a wire argument
func (a Address) PortString() string {
	return strconv.Itoa(a.Port)
}

// ServerRecord is one member of the cluster as seen by this process
type ServerRecord struct {
	ID   string  `json:"id"`
	Addr Address `json:"addr"`
	Role Role    `json:"role"`
	// Epoch is the last leadership epoch this member announced to us
	Epoch             uint64    `json:"epoch"`
	LastHeartbeatAt   time.Time `json:"last_heartbeat_at"`
	ConsecutiveMisses int       `json:"consecutive_misses"`
	Reachable         bool      `json:"reachable"`
}

// ClusterView is a consistent snapshot of the Directory
type ClusterView struct {
	SelfID   string                  `json:"self_id"`
	LeaderID string                  `json:"leader_id"`
	Epoch    uint64                  `json:"epoch"`
	Members  map[string]ServerRecord `json:"members"`
}

// Transition is a reachability change reported by the Directory
type Transition int

const (
	TransitionNone Transition = iota
	TransitionUnreachable
	TransitionRecovered
)

func (t Transition) String() string {
	switch t {
	case TransitionUnreachable:
		return "unreachable"
	case TransitionRecovered:
		return "recovered"
	default:
		return "none"
	}
}

// Observation is the outcome of a leadership announcement
type Observation int

const (
	// ObservedCurrent confirms the leader already known
	ObservedCurrent Observation = iota
	// ObservedAdopted means a newer leader was adopted
	ObservedAdopted
	// ObservedStale means the announcement carried an old epoch and was dropped
	ObservedStale
	// ObservedUnknown means a newer leader was announced that is not a known member
	ObservedUnknown
	// ObservedYielded means two leaders met at the same epoch and this one stepped aside
	ObservedYielded
)

func (o Observation) String() string {
	switch o {
	case ObservedCurrent:
		return "current"
	case ObservedAdopted:
		return "adopted"
	case ObservedStale:
		return "stale"
	case ObservedUnknown:
		return "unknown"
	case ObservedYielded:
		return "yielded"
	default:
		return "invalid"
	}
}

// Directory is the authoritative view of the cluster inside one process.
//
// Concurrent safety:
//  1. Every method takes the RWMutex; reads share it, mutations hold it exclusively
//  2. Leader id, epoch and roles change together under one write lock
//  3. Records leave the Directory only as copies
type Directory struct {
	selfID   string
	members  map[string]*ServerRecord
	leaderID string
	epoch    uint64
	now      func() time.Time
	mu       sync.RWMutex
	metrics  *metrics.Registry
}
