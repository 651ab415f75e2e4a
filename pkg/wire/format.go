package wire

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Format selects one of the two wire representations of an Envelope
type Format uint8

const (
	// Delimited is VERSION§LENGTH§OPCODE§ARG…∞
	Delimited Format = iota + 1
	// Structured is a JSON object with version, length, opcode, arguments
	Structured
)

// String returns the configuration name of the format
func (f Format) String() string {
	switch f {
	case Delimited:
		return "delimited"
	case Structured:
		return "structured"
	default:
		return "unknown"
	}
}

// ParseFormat converts a configuration name to a Format
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "delimited":
		return Delimited, nil
	case "structured", "json":
		return Structured, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

// Length computes the Length field of e for this format.
//
// Delimited counts the characters of opcode and arguments before separators
// are inserted. Structured counts the characters of the opcode plus the
// number of arguments. Peers of both populations depend on these exact
// rules.
func (f Format) Length(e Envelope) int {
	switch f {
	case Delimited:
		return delimitedLength(e.Opcode.String(), e.Arguments)
	case Structured:
		return structuredLength(e.Opcode.String(), e.Arguments)
	default:
		return 0
	}
}

// Stamp returns e as it reads after a round trip through this format:
// Length computed, Version defaulted, empty argument lists nil.
func (f Format) Stamp(e Envelope) Envelope {
	if e.Version == 0 {
		e.Version = ProtocolVersion
	}
	if len(e.Arguments) == 0 {
		e.Arguments = nil
	}
	e.Length = f.Length(e)
	return e
}

func delimitedLength(opcode string, args []string) int {
	n := utf8.RuneCountInString(opcode)
	for _, arg := range args {
		n += utf8.RuneCountInString(arg)
	}
	return n
}

func structuredLength(opcode string, args []string) int {
	return utf8.RuneCountInString(opcode) + len(args)
}

// Encode serializes e in format f. Length is always recomputed and every
// argument must be valid UTF-8.
func Encode(e Envelope, f Format) ([]byte, error) {
	if !e.Opcode.Valid() {
		return nil, fmt.Errorf("%w: %v", ErrUnknownOpcode, e.Opcode)
	}
	// Structured would replace invalid bytes with U+FFFD
	for i, arg := range e.Arguments {
		if !utf8.ValidString(arg) {
			return nil, fmt.Errorf("%w: argument %d is not valid UTF-8", ErrInvalidArgument, i)
		}
	}
	e = f.Stamp(e)

	switch f {
	case Delimited:
		return encodeDelimited(e)
	case Structured:
		return encodeStructured(e)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownFormat, f)
	}
}

// Decode parses one complete frame in format f
func Decode(data []byte, f Format) (Envelope, error) {
	switch f {
	case Delimited:
		return decodeDelimited(data)
	case Structured:
		return decodeStructured(data)
	default:
		return Envelope{}, fmt.Errorf("%w: %d", ErrUnknownFormat, f)
	}
}
