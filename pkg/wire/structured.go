package wire

import (
	"encoding/json"
	"fmt"
)

// structuredFrame is the field-tagged representation of an Envelope
type structuredFrame struct {
	Version   int      `json:"version"`
	Length    int      `json:"length"`
	Opcode    string   `json:"opcode"`
	Arguments []string `json:"arguments"`
}

func encodeStructured(e Envelope) ([]byte, error) {
	args := e.Arguments
	if args == nil {
		args = []string{} // peers expect an array, never null
	}

	data, err := json.Marshal(structuredFrame{
		Version:   e.Version,
		Length:    e.Length,
		Opcode:    e.Opcode.String(),
		Arguments: args,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return data, nil
}

func decodeStructured(data []byte) (Envelope, error) {
	var frame structuredFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrFrameCorrupt, err)
	}

	if frame.Version != ProtocolVersion {
		return Envelope{}, fmt.Errorf("%w: got %d, want %d", ErrVersionMismatch, frame.Version, ProtocolVersion)
	}

	if actual := structuredLength(frame.Opcode, frame.Arguments); actual != frame.Length {
		return Envelope{}, fmt.Errorf("%w: declared length %d, expected %d", ErrFrameCorrupt, frame.Length, actual)
	}

	op, err := ParseOpcode(frame.Opcode)
	if err != nil {
		return Envelope{}, err
	}

	var args []string
	if len(frame.Arguments) > 0 {
		args = frame.Arguments
	}

	return Envelope{
		Version:   frame.Version,
		Opcode:    op,
		Arguments: args,
		Length:    frame.Length,
	}, nil
}
