package rpc

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"io"

	"github.com/dd0wney/cluso-chat/pkg/wire"
)

// DefaultMaxFrameBytes bounds a single frame in either format
const DefaultMaxFrameBytes = 1 << 20

// structuredHeaderSize is the big-endian length prefix of a structured frame
const structuredHeaderSize = 4

var terminator = []byte(wire.Terminator)

// DetectFormat peeks at the first byte of a connection. Structured frames begin
// with a length prefix whose high byte is zero for any frame under 16 MiB,
// while every delimited frame begins with an ASCII version digit.
func DetectFormat(r *bufio.Reader) (wire.Format, error) {
	b, err := r.Peek(1)
	if err != nil {
		return 0, err
	}
	if b[0] == 0x00 {
		return wire.Structured, nil
	}
	return wire.Delimited, nil
}

// ReadFrame reads one complete frame. An oversized frame is consumed in full
// and reported as ErrFrameTooLarge so the next read starts on a boundary.
// io.EOF is returned only when the stream ends between frames.
func ReadFrame(r *bufio.Reader, f wire.Format, max int) ([]byte, error) {
	if max <= 0 {
		max = DefaultMaxFrameBytes
	}
	switch f {
	case wire.Structured:
		return readStructured(r, max)
	default:
		return readDelimited(r, max)
	}
}

func readDelimited(r *bufio.Reader, max int) ([]byte, error) {
	var (
		frame []byte
		tail  []byte
		size  int
	)
	last := terminator[len(terminator)-1]

	for {
		chunk, err := r.ReadSlice(last)
		if err != nil && !errors.Is(err, bufio.ErrBufferFull) {
			if errors.Is(err, io.EOF) {
				if size == 0 && len(chunk) == 0 {
					return nil, io.EOF
				}
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}

		size += len(chunk)
		if size <= max {
			frame = append(frame, chunk...)
		} else {
			frame = nil
		}
		tail = keepTail(tail, chunk, len(terminator))

		// 0x9E also occurs inside other multi-byte runes
		if err == nil && bytes.Equal(tail, terminator) {
			if size > max {
				return nil, ErrFrameTooLarge
			}
			return frame, nil
		}
	}
}

func keepTail(tail, chunk []byte, n int) []byte {
	tail = append(tail, chunk...)
	if len(tail) > n {
		copy(tail, tail[len(tail)-n:])
		tail = tail[:n]
	}
	return tail
}

func readStructured(r *bufio.Reader, max int) ([]byte, error) {
	var hdr [structuredHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}

	n := int64(binary.BigEndian.Uint32(hdr[:]))
	if n > int64(max) {
		if _, err := io.CopyN(io.Discard, r, n); err != nil {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, ErrFrameTooLarge
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, io.ErrUnexpectedEOF
	}
	return body, nil
}

// AppendFrame appends the on-wire bytes of an encoded envelope
func AppendFrame(dst []byte, f wire.Format, data []byte) []byte {
	if f == wire.Structured {
		dst = binary.BigEndian.AppendUint32(dst, uint32(len(data)))
	}
	return append(dst, data...)
}

// EncodeFrame encodes e and frames it for f
func EncodeFrame(e wire.Envelope, f wire.Format) ([]byte, error) {
	data, err := wire.Encode(e, f)
	if err != nil {
		return nil, err
	}
	return AppendFrame(make([]byte, 0, len(data)+structuredHeaderSize), f, data), nil
}
