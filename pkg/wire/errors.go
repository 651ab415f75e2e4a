package wire

import "errors"

// Codec errors
var (
	ErrFrameCorrupt    = errors.New("frame corrupt")
	ErrVersionMismatch = errors.New("protocol version mismatch")
	ErrUnknownOpcode   = errors.New("unknown opcode")
	ErrInvalidArgument = errors.New("argument cannot be encoded")
	ErrUnknownFormat   = errors.New("unknown wire format")
)
