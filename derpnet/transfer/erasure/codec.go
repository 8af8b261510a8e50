package erasure

import (
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/reedsolomon"
)

var (
	ErrTooManyLost       = errors.New("erasure: too many shards lost, cannot recover")
	ErrInvalidConfig     = errors.New("erasure: invalid data/parity configuration")
	ErrShardSizeMismatch = errors.New("erasure: shard sizes do not match")
)

// Codec is a Reed-Solomon encoder for one data/parity shape.
type Codec struct {
	enc          reedsolomon.Encoder
	dataShards   int
	parityShards int
}

// NewCodec returns a codec that survives the loss of any parityShards shards.
func NewCodec(dataShards, parityShards int) (*Codec, error) {
	if dataShards <= 0 || parityShards <= 0 {
		return nil, ErrInvalidConfig
	}
	enc, err := reedsolomon.New(dataShards, parityShards)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return &Codec{enc: enc, dataShards: dataShards, parityShards: parityShards}, nil
}

func (c *Codec) DataShards() int   { return c.dataShards }
func (c *Codec) ParityShards() int { return c.parityShards }
func (c *Codec) TotalShards() int  { return c.dataShards + c.parityShards }

// EncodeData splits data into zero-padded data shards and appends parity.
func (c *Codec) EncodeData(data []byte) ([][]byte, error) {
	shards, err := c.enc.Split(data)
	if err != nil {
		return nil, err
	}
	if err := c.enc.Encode(shards); err != nil {
		return nil, err
	}
	return shards, nil
}

// Verify checks parity against the data shards.
func (c *Codec) Verify(shards [][]byte) (bool, error) {
	return c.enc.Verify(shards)
}

// Reconstruct fills nil entries of shards, parity included.
func (c *Codec) Reconstruct(shards [][]byte) error {
	return mapErr(c.enc.Reconstruct(shards))
}

// ReconstructData fills only missing data shards.
func (c *Codec) ReconstructData(shards [][]byte) error {
	return mapErr(c.enc.ReconstructData(shards))
}

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, reedsolomon.ErrTooFewShards):
		return ErrTooManyLost
	case errors.Is(err, reedsolomon.ErrShardSize):
		return ErrShardSizeMismatch
	}
	return err
}

// Join concatenates the data shards and trims the padding to outSize.
func (c *Codec) Join(shards [][]byte, outSize int) ([]byte, error) {
	data := make([]byte, 0, outSize)
	for i := 0; i < c.dataShards && len(data) < outSize; i++ {
		if shards[i] == nil {
			return nil, ErrTooManyLost
		}
		n := min(outSize-len(data), len(shards[i]))
		data = append(data, shards[i][:n]...)
	}
	if len(data) != outSize {
		return nil, ErrShardSizeMismatch
	}
	return data, nil
}

// ShardSize is the per-shard length for dataSize bytes.
func (c *Codec) ShardSize(dataSize int) int {
	return (dataSize + c.dataShards - 1) / c.dataShards
}

// EncodedSize is the total size of all shards for dataSize bytes.
func (c *Codec) EncodedSize(dataSize int) int {
	return c.ShardSize(dataSize) * c.TotalShards()
}

// Overhead is the expansion ratio, e.g. 1.4 for 10+4.
func (c *Codec) Overhead() float64 {
	return float64(c.TotalShards()) / float64(c.dataShards)
}

// Cache hands out codecs by shape. Building the Reed-Solomon matrix costs
// more than encoding a small message, and senders and receivers see the
// same few shapes over and over.
type Cache struct {
	mu     sync.Mutex
	max    int
	codecs map[[2]int]*Codec
	order  [][2]int
}

// NewCache keeps at most max codecs, evicting the oldest.
func NewCache(max int) *Cache {
	if max <= 0 {
		max = 16
	}
	return &Cache{max: max, codecs: make(map[[2]int]*Codec)}
}

// Get returns the codec for dataShards+parityShards, creating it on a miss.
func (c *Cache) Get(dataShards, parityShards int) (*Codec, error) {
	k := [2]int{dataShards, parityShards}
	c.mu.Lock()
	defer c.mu.Unlock()
	if codec, ok := c.codecs[k]; ok {
		return codec, nil
	}
	codec, err := NewCodec(dataShards, parityShards)
	if err != nil {
		return nil, err
	}
	if len(c.order) >= c.max {
		delete(c.codecs, c.order[0])
		c.order = c.order[1:]
	}
	c.codecs[k] = codec
	c.order = append(c.order, k)
	return codec, nil
}

// Len reports how many codecs are cached.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.codecs)
}
