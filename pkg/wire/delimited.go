package wire

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	// FieldSeparator joins the fields of a delimited frame
	FieldSeparator = "§"
	// Terminator ends a delimited frame
	Terminator = "∞"
)

func encodeDelimited(e Envelope) ([]byte, error) {
	var b strings.Builder

	b.WriteString(strconv.Itoa(e.Version))
	b.WriteString(FieldSeparator)
	b.WriteString(strconv.Itoa(e.Length))
	b.WriteString(FieldSeparator)
	b.WriteString(e.Opcode.String())

	for i, arg := range e.Arguments {
		if strings.Contains(arg, FieldSeparator) || strings.Contains(arg, Terminator) {
			return nil, fmt.Errorf("%w: argument %d contains a delimiter", ErrInvalidArgument, i)
		}
		b.WriteString(FieldSeparator)
		b.WriteString(arg)
	}

	b.WriteString(Terminator)
	return []byte(b.String()), nil
}

func decodeDelimited(data []byte) (Envelope, error) {
	if !utf8.Valid(data) {
		return Envelope{}, fmt.Errorf("%w: frame is not valid UTF-8", ErrFrameCorrupt)
	}
	frame := string(data)
	body, ok := strings.CutSuffix(frame, Terminator)
	if !ok {
		return Envelope{}, fmt.Errorf("%w: missing terminator", ErrFrameCorrupt)
	}
	if strings.Contains(body, Terminator) {
		return Envelope{}, fmt.Errorf("%w: terminator inside frame", ErrFrameCorrupt)
	}

	fields := strings.Split(body, FieldSeparator)
	if len(fields) < 3 {
		return Envelope{}, fmt.Errorf("%w: expected at least 3 fields, got %d", ErrFrameCorrupt, len(fields))
	}

	version, err := strconv.Atoi(fields[0])
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: bad version %q", ErrFrameCorrupt, fields[0])
	}
	if version != ProtocolVersion {
		return Envelope{}, fmt.Errorf("%w: got %d, want %d", ErrVersionMismatch, version, ProtocolVersion)
	}

	declared, err := strconv.Atoi(fields[1])
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: bad length %q", ErrFrameCorrupt, fields[1])
	}

	opName := fields[2]
	var args []string
	if len(fields) > 3 {
		args = fields[3:]
	}

	if actual := delimitedLength(opName, args); actual != declared {
		return Envelope{}, fmt.Errorf("%w: declared length %d, payload spans %d", ErrFrameCorrupt, declared, actual)
	}

	op, err := ParseOpcode(opName)
	if err != nil {
		return Envelope{}, err
	}

	return Envelope{
		Version:   version,
		Opcode:    op,
		Arguments: args,
		Length:    declared,
	}, nil
}
