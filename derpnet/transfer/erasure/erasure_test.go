package erasure

import (
	"bytes"
	"errors"
	"testing"
)

func TestCodecRoundTrip(t *testing.T) {
	codec, err := NewCodec(10, 4)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}

	data := []byte("relayed message body long enough to span several data shards")
	originalSize := len(data)

	shards, err := codec.EncodeData(data)
	if err != nil {
		t.Fatalf("EncodeData: %v", err)
	}

	if len(shards) != 14 {
		t.Fatalf("expected 14 shards, got %d", len(shards))
	}

	ok, err := codec.Verify(shards)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok {
		t.Fatalf("verification failed")
	}

	// Parity count is the most that can go missing.
	shards[0] = nil
	shards[5] = nil
	shards[10] = nil
	shards[13] = nil

	if err := codec.Reconstruct(shards); err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}

	recovered, err := codec.Join(shards, originalSize)
	if err != nil {
		t.Fatalf("Join: %v", err)
	}

	if !bytes.Equal(recovered, data) {
		t.Fatalf("recovered data does not match original")
	}
}

func TestCodecTooManyLost(t *testing.T) {
	codec, err := NewCodec(10, 4)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}

	data := make([]byte, 1024)
	shards, _ := codec.EncodeData(data)

	shards[0] = nil
	shards[1] = nil
	shards[2] = nil
	shards[3] = nil
	shards[4] = nil

	err = codec.Reconstruct(shards)
	if err != ErrTooManyLost {
		t.Fatalf("expected ErrTooManyLost, got %v", err)
	}
}

func TestCodecOverhead(t *testing.T) {
	codec, _ := NewCodec(10, 4)
	overhead := codec.Overhead()
	if overhead < 1.39 || overhead > 1.41 {
		t.Fatalf("unexpected overhead: %f", overhead)
	}
}

func TestCodecInvalidShape(t *testing.T) {
	for _, shape := range [][2]int{{0, 1}, {1, 0}, {-1, 2}} {
		if _, err := NewCodec(shape[0], shape[1]); !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("NewCodec(%d, %d) = %v, want ErrInvalidConfig", shape[0], shape[1], err)
		}
	}
}

func TestJoinMissingDataShard(t *testing.T) {
	codec, _ := NewCodec(3, 1)
	shards, err := codec.EncodeData([]byte("abcdefgh"))
	if err != nil {
		t.Fatalf("EncodeData: %v", err)
	}
	shards[1] = nil
	if _, err := codec.Join(shards, 8); err != ErrTooManyLost {
		t.Fatalf("Join with hole = %v, want ErrTooManyLost", err)
	}
	if err := codec.ReconstructData(shards); err != nil {
		t.Fatalf("ReconstructData: %v", err)
	}
	got, err := codec.Join(shards, 8)
	if err != nil || string(got) != "abcdefgh" {
		t.Fatalf("Join = %q, %v", got, err)
	}
}

func TestReconstructShardSizeMismatch(t *testing.T) {
	codec, _ := NewCodec(2, 2)
	shards, _ := codec.EncodeData(make([]byte, 64))
	shards[0] = nil
	shards[1] = shards[1][:5]
	if err := codec.Reconstruct(shards); err != ErrShardSizeMismatch {
		t.Fatalf("Reconstruct = %v, want ErrShardSizeMismatch", err)
	}
}

func TestCacheReusesAndEvicts(t *testing.T) {
	c := NewCache(2)
	a, err := c.Get(4, 2)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if again, _ := c.Get(4, 2); again != a {
		t.Fatalf("cache returned a new codec for the same shape")
	}
	c.Get(5, 2)
	c.Get(6, 2)
	if c.Len() != 2 {
		t.Fatalf("Len = %d, want 2", c.Len())
	}
	if again, _ := c.Get(4, 2); again == a {
		t.Fatalf("oldest shape was not evicted")
	}
	if _, err := c.Get(0, 2); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("Get(0, 2) = %v", err)
	}
}

func BenchmarkEncode(b *testing.B) {
	codec, _ := NewCodec(10, 4)
	data := make([]byte, 1024*1024) // 1 MB
	b.SetBytes(int64(len(data)))
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		_, _ = codec.EncodeData(data)
	}
}

func BenchmarkReconstruct(b *testing.B) {
	codec, _ := NewCodec(10, 4)
	data := make([]byte, 1024*1024)
	shards, _ := codec.EncodeData(data)

	template := make([][]byte, len(shards))
	for i := range shards {
		if i < 4 {
			template[i] = nil
		} else {
			template[i] = shards[i]
		}
	}

	b.SetBytes(int64(len(data)))
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		work := make([][]byte, len(template))
		copy(work, template)
		_ = codec.Reconstruct(work)
	}
}
