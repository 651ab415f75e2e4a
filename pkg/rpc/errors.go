package rpc

import (
	"errors"
	"fmt"

	"github.com/dd0wney/cluso-chat/pkg/wire"
)

// Transport errors
var (
	ErrFrameTooLarge   = fmt.Errorf("%w: frame exceeds size limit", wire.ErrFrameCorrupt)
	ErrServerClosed    = errors.New("rpc: server closed")
	ErrPeerUnreachable = errors.New("peer unreachable")
	ErrNoReply         = errors.New("connection closed before reply")
)

// StatusError is returned when the remote side answered with an Error envelope
type StatusError struct {
	Status wire.Status
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return string(e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Status, e.Detail)
}

// Is lets StatusError match the codec sentinel for its status
func (e *StatusError) Is(target error) bool {
	switch e.Status {
	case wire.StatusFrameCorrupt:
		return target == wire.ErrFrameCorrupt
	case wire.StatusVersionMismatch:
		return target == wire.ErrVersionMismatch
	case wire.StatusUnknownOpcode:
		return target == wire.ErrUnknownOpcode
	}
	return false
}
