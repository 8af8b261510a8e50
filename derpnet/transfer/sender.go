package transfer

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"github.com/TheusHen/derpnet/derpnet/key"
	"github.com/TheusHen/derpnet/derpnet/transfer/erasure"
)

// PacketWriter sends one relay packet. *session.Session satisfies it.
// Implementations must not retain payload after returning.
type PacketWriter interface {
	Send(dst key.Public, payload []byte) error
}

// Config tunes a Sender or Assembler. Zero fields take defaults.
type Config struct {
	Codec Codec
	Level CompressionLevel

	// ParityPercent is parity shards as a percentage of data shards.
	// Negative disables parity.
	ParityPercent int

	// MaxPacket is the largest packet handed to the PacketWriter,
	// header included.
	MaxPacket int

	MaxMessage int
	MaxPending int
}

func (c Config) withDefaults() Config {
	if c.ParityPercent == 0 {
		c.ParityPercent = DefaultParityPercent
	}
	if c.MaxPacket <= HeaderSize {
		c.MaxPacket = DefaultMaxPacket
	}
	if c.MaxMessage <= 0 {
		c.MaxMessage = DefaultMaxMessage
	}
	if c.MaxPending <= 0 {
		c.MaxPending = DefaultMaxPending
	}
	return c
}

// Stats are cumulative counters for a Sender or Assembler.
type Stats struct {
	Messages  uint64
	Packets   uint64
	Bytes     uint64
	Recovered uint64 // messages rebuilt with at least one parity shard
	Evicted   uint64
	Rejected  uint64
}

type counters struct {
	messages, packets, bytes, recovered, evicted, rejected atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Messages:  c.messages.Load(),
		Packets:   c.packets.Load(),
		Bytes:     c.bytes.Load(),
		Recovered: c.recovered.Load(),
		Evicted:   c.evicted.Load(),
		Rejected:  c.rejected.Load(),
	}
}

// Sender cuts messages into packets for one local key. It is safe for
// concurrent use if the PacketWriter is.
type Sender struct {
	w     PacketWriter
	self  key.Public
	cfg   Config
	chunk *chunker
	next  atomic.Uint64
	stats counters
}

// NewSender returns a Sender writing through w. self is the local public
// key the receiver will see as the packet source.
func NewSender(w PacketWriter, self key.Public, cfg Config) *Sender {
	cfg = cfg.withDefaults()
	s := &Sender{
		w:     w,
		self:  self,
		cfg:   cfg,
		chunk: newChunker(cfg.MaxPacket, cfg.ParityPercent, erasure.NewCache(0)),
	}
	var seed [8]byte
	rand.Read(seed[:])
	s.next.Store(binary.BigEndian.Uint64(seed[:]))
	return s
}

// Stats returns the counters. Bytes counts message bytes before encoding.
func (s *Sender) Stats() Stats { return s.stats.snapshot() }

// Send delivers msg to dst as one or more packets and returns the message id.
func (s *Sender) Send(dst key.Public, msg []byte) (uint64, error) {
	if len(msg) > s.cfg.MaxMessage {
		return 0, fmt.Errorf("%w: %d bytes, limit %d", ErrMessageTooLarge, len(msg), s.cfg.MaxMessage)
	}
	codec, body, err := encode(s.cfg.Codec, msg, s.cfg.Level)
	if err != nil {
		return 0, err
	}
	data, parity, err := s.chunk.plan(len(body))
	if err != nil {
		return 0, err
	}
	shards, err := s.chunk.split(body, data, parity)
	if err != nil {
		return 0, err
	}

	h := Header{
		Codec:  codec,
		MsgID:  s.next.Add(1),
		Data:   uint16(data),
		Parity: uint16(parity),
		Size:   uint32(len(body)),
		Digest: Digest(s.self, msg),
	}
	pkt := make([]byte, 0, HeaderSize+len(shards[0]))
	for i, shard := range shards {
		h.Index = uint16(i)
		pkt = append(h.Append(pkt[:0]), shard...)
		if err := s.w.Send(dst, pkt); err != nil {
			return h.MsgID, fmt.Errorf("transfer: message %d shard %d: %w", h.MsgID, i, err)
		}
		s.stats.packets.Add(1)
	}
	s.stats.messages.Add(1)
	s.stats.bytes.Add(uint64(len(msg)))
	return h.MsgID, nil
}
