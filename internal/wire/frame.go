// Package wire implements blit's framed binary protocol: a length-prefixed
// typed frame codec, the magic/version handshake, and the frame type
// registry shared by both endpoints of a session.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"
)

const (
	// HeaderSize is the size of a frame header in bytes: 1 byte type + 4
	// byte big-endian length.
	HeaderSize = 5

	// DefaultMaxFrameBytes is the maximum frame payload size under the
	// default profile.
	DefaultMaxFrameBytes = 64 * 1024 * 1024

	// HighThroughputMaxFrameBytes is the maximum frame payload size under
	// the high-throughput profile.
	HighThroughputMaxFrameBytes = 256 * 1024 * 1024

	minDeadline = 5 * time.Second
	maxDeadline = 10 * time.Minute

	// baseHeaderTimeout is the fixed component of the size-aware deadline
	// formula in spec.md §4.1.
	baseHeaderTimeout = 5 * time.Second

	// minThroughputBytesPerSec is the assumed worst-case throughput used to
	// size the length-proportional component of the deadline.
	minThroughputBytesPerSec = 256 * 1024
)

// Frame is a single protocol message: a byte type and its payload. Length is
// computed at encode time, never carried on the struct.
type Frame struct {
	Payload []byte
	Type    byte
}

// Deadline computes the size-aware IO deadline for a frame of the given
// payload length, per spec.md §4.1: base_header_timeout + length/min_throughput,
// clamped to [5s, 10min].
func Deadline(payloadLen int) time.Duration {
	d := baseHeaderTimeout + time.Duration(payloadLen)*time.Second/minThroughputBytesPerSec
	if d < minDeadline {
		return minDeadline
	}
	if d > maxDeadline {
		return maxDeadline
	}
	return d
}

// WriteFrame writes a single frame to conn, applying a size-aware write
// deadline. maxFrameBytes bounds the payload length.
func WriteFrame(conn net.Conn, f Frame, maxFrameBytes int) error {
	if len(f.Payload) > maxFrameBytes {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(f.Payload))
	}

	deadline := Deadline(len(f.Payload))
	if conn != nil {
		if err := conn.SetWriteDeadline(time.Now().Add(deadline)); err != nil {
			return fmt.Errorf("set write deadline: %w", err)
		}
	}

	buf := make([]byte, HeaderSize+len(f.Payload))
	buf[0] = f.Type
	binary.BigEndian.PutUint32(buf[1:5], uint32(len(f.Payload))) //nolint:gosec // bounded by maxFrameBytes check above
	copy(buf[HeaderSize:], f.Payload)

	if _, err := conn.Write(buf); err != nil {
		if isTimeout(err) {
			return fmt.Errorf("%w: %w", ErrIOTimeout, err)
		}
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// ReadFrame reads a single frame from conn, applying a size-aware read
// deadline once the header reveals the payload length. maxFrameBytes bounds
// the payload length; a frame declaring a larger length is rejected before
// its payload is read.
func ReadFrame(conn net.Conn, maxFrameBytes int) (Frame, error) {
	if conn != nil {
		if err := conn.SetReadDeadline(time.Now().Add(baseHeaderTimeout)); err != nil {
			return Frame{}, fmt.Errorf("set read deadline: %w", err)
		}
	}

	var header [HeaderSize]byte
	if _, err := io.ReadFull(conn, header[:]); err != nil {
		if isTimeout(err) {
			return Frame{}, fmt.Errorf("%w: %w", ErrIOTimeout, err)
		}
		return Frame{}, err
	}

	length := binary.BigEndian.Uint32(header[1:5])
	if int(length) > maxFrameBytes {
		return Frame{}, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
	}

	f := Frame{Type: header[0]}
	if length == 0 {
		return f, nil
	}

	if conn != nil {
		if err := conn.SetReadDeadline(time.Now().Add(Deadline(int(length)))); err != nil {
			return Frame{}, fmt.Errorf("set read deadline: %w", err)
		}
	}

	f.Payload = make([]byte, length)
	if _, err := io.ReadFull(conn, f.Payload); err != nil {
		if isTimeout(err) {
			return Frame{}, fmt.Errorf("%w: %w", ErrIOTimeout, err)
		}
		return Frame{}, fmt.Errorf("read frame payload: %w", err)
	}
	return f, nil
}

func isTimeout(err error) bool {
	var ne net.Error
	if e, ok := err.(net.Error); ok { //nolint:errorlint // net.Error is a well-known concrete-or-interface check
		ne = e
		return ne.Timeout()
	}
	return false
}
