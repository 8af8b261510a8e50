package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// HeaderSize is the type byte plus the big-endian payload length.
	HeaderSize = 1 + 4

	// MaxFramePayload limits a frame payload read by ReadFrame.
	MaxFramePayload = 64 << 10
)

var (
	ErrFrameTooLarge = errors.New("protocol: frame payload too large")
	ErrShortHeader   = errors.New("protocol: short frame header")
)

// Frame is the basic wire container.
// Format:
//
//	1 byte: type
//	4 bytes: payload length (big endian)
//	N bytes: payload
type Frame struct {
	Type    FrameType
	Payload []byte
}

// AppendHeader appends the 5-byte header for a frame of payloadLen bytes.
func AppendHeader(dst []byte, t FrameType, payloadLen int) []byte {
	dst = append(dst, byte(t))
	return binary.BigEndian.AppendUint32(dst, uint32(payloadLen))
}

// ParseHeader decodes a frame header from the start of b.
func ParseHeader(b []byte) (FrameType, uint32, error) {
	if len(b) < HeaderSize {
		return 0, 0, ErrShortHeader
	}
	return FrameType(b[0]), binary.BigEndian.Uint32(b[1:HeaderSize]), nil
}

// AppendFrame appends a complete frame to dst.
func AppendFrame(dst []byte, t FrameType, payload []byte) []byte {
	dst = AppendHeader(dst, t, len(payload))
	return append(dst, payload...)
}

// WriteFrame writes header and payload with a single Write call.
func WriteFrame(w io.Writer, t FrameType, payload []byte) error {
	if len(payload) > MaxFramePayload {
		return ErrFrameTooLarge
	}
	_, err := w.Write(AppendFrame(make([]byte, 0, HeaderSize+len(payload)), t, payload))
	return err
}

// ReadFrame reads one frame from a blocking stream. It is used by relay
// implementations; clients read frames through their own buffer instead.
func ReadFrame(r io.Reader) (Frame, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Frame{}, err
	}
	t, n, _ := ParseHeader(hdr[:])
	if n > MaxFramePayload {
		return Frame{}, fmt.Errorf("%w: %d", ErrFrameTooLarge, n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Frame{}, err
	}
	return Frame{Type: t, Payload: payload}, nil
}
