package rpc

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/dd0wney/cluso-chat/pkg/wire"
)

func TestDetectFormat(t *testing.T) {
	structured, _ := EncodeFrame(wire.NewEnvelope(wire.OpHeartbeat), wire.Structured)
	delimited, _ := EncodeFrame(wire.NewEnvelope(wire.OpHeartbeat), wire.Delimited)

	tests := []struct {
		name  string
		input []byte
		want  wire.Format
	}{
		{"structured", structured, wire.Structured},
		{"delimited", delimited, wire.Delimited},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := bufio.NewReader(bytes.NewReader(tt.input))
			got, err := DetectFormat(r)
			if err != nil {
				t.Fatalf("DetectFormat failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("DetectFormat() = %v, want %v", got, tt.want)
			}
			// detection must not consume input
			if r.Buffered() != len(tt.input) {
				t.Errorf("Buffered() = %d, want %d", r.Buffered(), len(tt.input))
			}
		})
	}
}

func TestReadDelimitedFrames(t *testing.T) {
	// U+219E ends in the same byte as the terminator
	first := "1§12§SendMessage§↞∞"
	second := "1§9§Heartbeat∞"
	r := bufio.NewReaderSize(strings.NewReader(first+second), 16)

	for _, want := range []string{first, second} {
		frame, err := ReadFrame(r, wire.Delimited, 0)
		if err != nil {
			t.Fatalf("ReadFrame failed: %v", err)
		}
		if string(frame) != want {
			t.Errorf("ReadFrame() = %q, want %q", frame, want)
		}
	}

	if _, err := ReadFrame(r, wire.Delimited, 0); !errors.Is(err, io.EOF) {
		t.Errorf("ReadFrame at end = %v, want io.EOF", err)
	}
}

func TestReadDelimitedTruncated(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("1§9§Heart"))
	if _, err := ReadFrame(r, wire.Delimited, 0); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("ReadFrame() = %v, want io.ErrUnexpectedEOF", err)
	}
}

func TestReadFrameTooLargeResynchronizes(t *testing.T) {
	big := wire.NewEnvelope(wire.OpSendMessage, "alice", "bob", strings.Repeat("x", 200), "t")
	small := wire.NewEnvelope(wire.OpHeartbeat)

	for _, f := range []wire.Format{wire.Delimited, wire.Structured} {
		t.Run(f.String(), func(t *testing.T) {
			var buf bytes.Buffer
			for _, e := range []wire.Envelope{big, small} {
				frame, err := EncodeFrame(e, f)
				if err != nil {
					t.Fatalf("EncodeFrame failed: %v", err)
				}
				buf.Write(frame)
			}
			r := bufio.NewReader(&buf)

			_, err := ReadFrame(r, f, 64)
			if !errors.Is(err, ErrFrameTooLarge) || !errors.Is(err, wire.ErrFrameCorrupt) {
				t.Fatalf("ReadFrame(big) = %v, want ErrFrameTooLarge", err)
			}

			frame, err := ReadFrame(r, f, 64)
			if err != nil {
				t.Fatalf("ReadFrame(small) failed: %v", err)
			}
			got, err := wire.Decode(frame, f)
			if err != nil || got.Opcode != wire.OpHeartbeat {
				t.Errorf("frame after oversize = %+v, %v", got, err)
			}
		})
	}
}

func TestStructuredFrameHeader(t *testing.T) {
	frame, err := EncodeFrame(wire.NewEnvelope(wire.OpGetUsers, "bob"), wire.Structured)
	if err != nil {
		t.Fatalf("EncodeFrame failed: %v", err)
	}

	body := frame[structuredHeaderSize:]
	if int(frame[3]) != len(body) || frame[0] != 0 {
		t.Errorf("header % x does not describe body of %d bytes", frame[:4], len(body))
	}
}
