package transfer

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// Version is the packet layout version.
	Version = 1

	// HeaderSize is the fixed per-packet overhead.
	HeaderSize = 1 + 1 + 8 + 2 + 2 + 2 + 4 + DigestSize

	// MaxShards bounds data plus parity shards per message.
	MaxShards = 256
)

var (
	ErrShortChunk  = errors.New("transfer: packet shorter than header")
	ErrBadVersion  = errors.New("transfer: unsupported packet version")
	ErrBadHeader   = errors.New("transfer: invalid packet header")
	ErrHeaderClash = errors.New("transfer: shard header disagrees with message")
)

// Header describes one shard of a message.
type Header struct {
	Codec  Codec
	MsgID  uint64
	Index  uint16
	Data   uint16
	Parity uint16
	Size   uint32
	Digest [DigestSize]byte
}

// Total is the number of shards in the message.
func (h *Header) Total() int { return int(h.Data) + int(h.Parity) }

// Append appends the encoded header.
func (h *Header) Append(dst []byte) []byte {
	dst = append(dst, Version, byte(h.Codec))
	dst = binary.BigEndian.AppendUint64(dst, h.MsgID)
	dst = binary.BigEndian.AppendUint16(dst, h.Index)
	dst = binary.BigEndian.AppendUint16(dst, h.Data)
	dst = binary.BigEndian.AppendUint16(dst, h.Parity)
	dst = binary.BigEndian.AppendUint32(dst, h.Size)
	return append(dst, h.Digest[:]...)
}

func (h *Header) validate() error {
	switch {
	case !h.Codec.valid():
		return fmt.Errorf("%w: codec %d", ErrBadHeader, h.Codec)
	case h.Data == 0 || h.Total() > MaxShards:
		return fmt.Errorf("%w: %d+%d shards", ErrBadHeader, h.Data, h.Parity)
	case int(h.Index) >= h.Total():
		return fmt.Errorf("%w: shard %d of %d", ErrBadHeader, h.Index, h.Total())
	}
	return nil
}

// sameMessage reports whether two shards claim the same message shape.
func (h *Header) sameMessage(o *Header) bool {
	return h.Codec == o.Codec && h.Data == o.Data && h.Parity == o.Parity &&
		h.Size == o.Size && h.Digest == o.Digest
}

// ParseChunk splits a packet into its header and shard. The shard aliases p.
func ParseChunk(p []byte) (Header, []byte, error) {
	var h Header
	if len(p) < HeaderSize {
		return h, nil, ErrShortChunk
	}
	if p[0] != Version {
		return h, nil, fmt.Errorf("%w: %d", ErrBadVersion, p[0])
	}
	h.Codec = Codec(p[1])
	h.MsgID = binary.BigEndian.Uint64(p[2:])
	h.Index = binary.BigEndian.Uint16(p[10:])
	h.Data = binary.BigEndian.Uint16(p[12:])
	h.Parity = binary.BigEndian.Uint16(p[14:])
	h.Size = binary.BigEndian.Uint32(p[16:])
	copy(h.Digest[:], p[20:HeaderSize])
	if err := h.validate(); err != nil {
		return h, nil, err
	}
	return h, p[HeaderSize:], nil
}
