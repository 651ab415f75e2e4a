package cluster

import (
	"errors"
	"fmt"
)

// Configuration errors
var (
	ErrInvalidServerID        = errors.New("server ID cannot be empty")
	ErrInvalidAdvertiseAddr   = errors.New("advertise address must be host:port")
	ErrProbeTimeoutTooLarge   = errors.New("probe timeout must be shorter than heartbeat interval")
	ErrInvalidMissThreshold   = errors.New("miss threshold must be at least 1")
	ErrInvalidHeartbeatPeriod = errors.New("heartbeat interval must be positive")
)

// Membership errors
var (
	ErrServerNotFound = errors.New("server not found in directory")
	ErrInvalidRecord  = errors.New("invalid server record")
)

// Registration errors
var (
	ErrJoinFailed          = errors.New("join failed")
	ErrTooManyRedirects    = errors.New("too many registration redirects")
	ErrRegistrationRefused = errors.New("registration refused")
)

// RedirectError reports that a peer is not the leader and names the leader it knows
type RedirectError struct {
	LeaderID string
	Addr     Address
}

func (e *RedirectError) Error() string {
	return fmt.Sprintf("not the leader; leader is %s at %s", e.LeaderID, e.Addr)
}

func (e *RedirectError) Is(target error) bool {
	return target == ErrRegistrationRefused
}
