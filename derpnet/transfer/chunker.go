package transfer

import (
	"errors"
	"fmt"

	"github.com/TheusHen/derpnet/derpnet/transfer/erasure"
)

const (
	// DefaultMaxPacket keeps each relay packet well under the frame limit.
	DefaultMaxPacket = 32 << 10

	// DefaultMaxMessage bounds a reassembled message.
	DefaultMaxMessage = 4 << 20

	// DefaultParityPercent adds one parity shard per five data shards.
	DefaultParityPercent = 20

	// DefaultMaxPending bounds messages held open by an Assembler.
	DefaultMaxPending = 64

	// decoderMaxMemory caps zstd window allocation regardless of Config.
	decoderMaxMemory = 64 << 20
)

var ErrMessageTooLarge = errors.New("transfer: message too large")

// chunker decides the shard layout of a message and builds the shards.
type chunker struct {
	shardCap  int
	parityPct int
	codecs    *erasure.Cache
}

func newChunker(maxPacket, parityPct int, codecs *erasure.Cache) *chunker {
	return &chunker{shardCap: maxPacket - HeaderSize, parityPct: parityPct, codecs: codecs}
}

// plan returns the shard counts for an encoded body of n bytes.
func (c *chunker) plan(n int) (data, parity int, err error) {
	data = max(1, (n+c.shardCap-1)/c.shardCap)
	if data > MaxShards {
		return 0, 0, fmt.Errorf("%w: %d bytes needs %d shards", ErrMessageTooLarge, n, data)
	}
	if n == 0 || c.parityPct <= 0 {
		return data, 0, nil
	}
	parity = max(1, (data*c.parityPct+99)/100)
	return data, min(parity, MaxShards-data), nil
}

// split cuts body into data shards of equal length, zero-padding the last,
// and appends parity shards when parity > 0.
func (c *chunker) split(body []byte, data, parity int) ([][]byte, error) {
	if parity > 0 {
		codec, err := c.codecs.Get(data, parity)
		if err != nil {
			return nil, err
		}
		// Capped so the encoder cannot write into the caller's spare capacity.
		return codec.EncodeData(body[:len(body):len(body)])
	}
	size := (len(body) + data - 1) / data
	shards := make([][]byte, data)
	for i := range shards {
		start := min(i*size, len(body))
		end := min(start+size, len(body))
		if end-start == size {
			shards[i] = body[start:end]
			continue
		}
		shards[i] = make([]byte, size)
		copy(shards[i], body[start:end])
	}
	return shards, nil
}

// join rebuilds the encoded body from a shard set that holds at least
// h.Data shards.
func (c *chunker) join(h *Header, shards [][]byte) ([]byte, error) {
	if h.Parity > 0 {
		codec, err := c.codecs.Get(int(h.Data), int(h.Parity))
		if err != nil {
			return nil, err
		}
		if err := codec.ReconstructData(shards); err != nil {
			return nil, err
		}
		return codec.Join(shards, int(h.Size))
	}
	out := make([]byte, 0, h.Size)
	for _, s := range shards[:h.Data] {
		out = append(out, s[:min(len(s), int(h.Size)-len(out))]...)
	}
	if len(out) != int(h.Size) {
		return nil, fmt.Errorf("%w: joined %d of %d bytes", ErrHeaderClash, len(out), h.Size)
	}
	return out, nil
}
