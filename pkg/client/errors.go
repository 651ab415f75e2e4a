package client

import (
	"errors"
	"fmt"

	"github.com/dd0wney/cluso-chat/pkg/wire"
)

var (
	ErrNoServers         = errors.New("no servers configured")
	ErrAttemptsExhausted = errors.New("all attempts failed")
	ErrMalformedReply    = errors.New("malformed reply")
)

// NotLeaderError is returned when a follower refused a write. Addr is the
// leader it named, empty when it knew none.
type NotLeaderError struct {
	LeaderID string
	Addr     string
}

func (e *NotLeaderError) Error() string {
	if e.Addr == "" {
		return "not leader: no leader known"
	}
	return fmt.Sprintf("not leader: redirect to %s at %s", e.LeaderID, e.Addr)
}

// ReplyError is a non-SUCCESS reply from the service
type ReplyError struct {
	Op      wire.Opcode
	Status  wire.Status
	Message string
}

func (e *ReplyError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Status)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Status, e.Message)
}
