package wire

import "errors"

// Status is the first argument of every response envelope
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailure Status = "FAILURE"
	// StatusEnd terminates a finite stream
	StatusEnd Status = "END"

	StatusNotLeader           Status = "NOT_LEADER"
	StatusFrameCorrupt        Status = "FRAME_CORRUPT"
	StatusVersionMismatch     Status = "PROTOCOL_VERSION_MISMATCH"
	StatusUnknownOpcode       Status = "UNKNOWN_OPCODE"
	StatusPeerUnreachable     Status = "PEER_UNREACHABLE"
	StatusStaleEpoch          Status = "STALE_EPOCH"
	StatusRegistrationRefused Status = "REGISTRATION_REFUSED"
)

// StatusOf maps a codec error to the status reported to the caller
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return StatusSuccess
	case errors.Is(err, ErrFrameCorrupt):
		return StatusFrameCorrupt
	case errors.Is(err, ErrVersionMismatch):
		return StatusVersionMismatch
	case errors.Is(err, ErrUnknownOpcode):
		return StatusUnknownOpcode
	default:
		return StatusFailure
	}
}
