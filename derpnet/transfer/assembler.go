package transfer

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"sync"

	"github.com/TheusHen/derpnet/derpnet/key"
	"github.com/TheusHen/derpnet/derpnet/transfer/erasure"
)

var ErrDigestMismatch = errors.New("transfer: message digest mismatch")

type msgKey struct {
	src key.Public
	id  uint64
}

type pendingMsg struct {
	hdr      Header
	shards   [][]byte
	have     int
	shardLen int
}

// Assembler rebuilds messages from packets of any number of senders.
// It is safe for concurrent use.
type Assembler struct {
	cfg   Config
	chunk *chunker
	stats counters

	mu      sync.Mutex
	pending map[msgKey]*pendingMsg
	order   []msgKey
	done    map[msgKey]struct{}
	ring    []msgKey
	ringPos int
}

// NewAssembler returns an Assembler. Only the size limits of cfg apply.
func NewAssembler(cfg Config) *Assembler {
	cfg = cfg.withDefaults()
	return &Assembler{
		cfg:     cfg,
		chunk:   newChunker(cfg.MaxPacket, cfg.ParityPercent, erasure.NewCache(0)),
		pending: make(map[msgKey]*pendingMsg),
		done:    make(map[msgKey]struct{}),
		ring:    make([]msgKey, 0, 4*cfg.MaxPending),
	}
}

// Stats returns the counters. Bytes counts reassembled message bytes.
func (a *Assembler) Stats() Stats { return a.stats.snapshot() }

// Pending reports how many messages are incomplete.
func (a *Assembler) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// Add consumes one packet from src. It returns the message once enough
// shards have arrived; packets for a finished message are ignored.
// packet is not retained.
func (a *Assembler) Add(src key.Public, packet []byte) (msg []byte, done bool, err error) {
	h, shard, err := ParseChunk(packet)
	if err != nil {
		a.stats.rejected.Add(1)
		return nil, false, err
	}
	a.stats.packets.Add(1)

	k := msgKey{src: src, id: h.MsgID}
	a.mu.Lock()
	p, shards, err := a.collect(k, &h, shard)
	a.mu.Unlock()
	if err != nil {
		a.stats.rejected.Add(1)
		return nil, false, err
	}
	if shards == nil {
		return nil, false, nil
	}

	recovered := missingData(shards, int(p.hdr.Data))
	msg, err = a.finish(src, &p.hdr, shards)
	if err != nil {
		a.stats.rejected.Add(1)
		return nil, false, err
	}
	if recovered {
		a.stats.recovered.Add(1)
	}
	a.stats.messages.Add(1)
	a.stats.bytes.Add(uint64(len(msg)))
	return msg, true, nil
}

// collect stores shard and, once the message is complete, detaches it and
// returns its shard set. Called with a.mu held.
func (a *Assembler) collect(k msgKey, h *Header, shard []byte) (*pendingMsg, [][]byte, error) {
	if _, ok := a.done[k]; ok {
		return nil, nil, nil
	}
	p := a.pending[k]
	if p == nil {
		if int(h.Size) > a.cfg.MaxMessage || len(shard)*int(h.Data) < int(h.Size) {
			return nil, nil, fmt.Errorf("%w: %d bytes in %d shards of %d", ErrBadHeader, h.Size, h.Data, len(shard))
		}
		p = &pendingMsg{hdr: *h, shards: make([][]byte, h.Total()), shardLen: len(shard)}
		a.pending[k] = p
		a.order = append(a.order, k)
		a.evict()
	} else if !p.hdr.sameMessage(h) || len(shard) != p.shardLen {
		return nil, nil, fmt.Errorf("%w: message %d shard %d", ErrHeaderClash, h.MsgID, h.Index)
	}
	if p.shards[h.Index] != nil {
		return nil, nil, nil
	}
	p.shards[h.Index] = append([]byte(nil), shard...)
	p.have++
	if p.have < int(p.hdr.Data) {
		return nil, nil, nil
	}
	a.forget(k)
	return p, p.shards, nil
}

// evict drops the oldest pending messages beyond MaxPending.
func (a *Assembler) evict() {
	for len(a.order) > a.cfg.MaxPending {
		delete(a.pending, a.order[0])
		a.order = a.order[1:]
		a.stats.evicted.Add(1)
	}
}

// forget moves k from pending to the finished ring.
func (a *Assembler) forget(k msgKey) {
	delete(a.pending, k)
	for i, o := range a.order {
		if o == k {
			a.order = append(a.order[:i], a.order[i+1:]...)
			break
		}
	}
	if len(a.ring) < cap(a.ring) {
		a.ring = append(a.ring, k)
	} else {
		delete(a.done, a.ring[a.ringPos])
		a.ring[a.ringPos] = k
		a.ringPos = (a.ringPos + 1) % len(a.ring)
	}
	a.done[k] = struct{}{}
}

func (a *Assembler) finish(src key.Public, h *Header, shards [][]byte) ([]byte, error) {
	body, err := a.chunk.join(h, shards)
	if err != nil {
		return nil, fmt.Errorf("transfer: message %d: %w", h.MsgID, err)
	}
	msg, err := Decompress(h.Codec, body, a.cfg.MaxMessage)
	if err != nil {
		return nil, fmt.Errorf("transfer: message %d: %w", h.MsgID, err)
	}
	sum := Digest(src, msg)
	if subtle.ConstantTimeCompare(sum[:], h.Digest[:]) != 1 {
		return nil, fmt.Errorf("%w: message %d from %s", ErrDigestMismatch, h.MsgID, src.ShortString())
	}
	return msg, nil
}

func missingData(shards [][]byte, data int) bool {
	for _, s := range shards[:data] {
		if s == nil {
			return true
		}
	}
	return false
}
