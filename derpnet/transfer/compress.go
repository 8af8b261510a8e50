package transfer

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

var (
	ErrCompressionFailed   = errors.New("transfer: compression failed")
	ErrDecompressionFailed = errors.New("transfer: decompression failed")
	ErrUnknownCodec        = errors.New("transfer: unknown codec")
)

// Codec names how a message body was encoded before sharding.
type Codec uint8

const (
	CodecNone Codec = iota
	CodecLZ4
	CodecZstd
)

func (c Codec) valid() bool { return c <= CodecZstd }

func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecLZ4:
		return "lz4"
	case CodecZstd:
		return "zstd"
	}
	return fmt.Sprintf("codec(%d)", uint8(c))
}

// ParseCodec accepts the String form.
func ParseCodec(s string) (Codec, error) {
	switch s {
	case "none", "":
		return CodecNone, nil
	case "lz4":
		return CodecLZ4, nil
	case "zstd":
		return CodecZstd, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownCodec, s)
}

// CompressionLevel controls the speed/ratio tradeoff.
type CompressionLevel int

const (
	CompressionFast CompressionLevel = iota
	CompressionDefault
	CompressionBest
)

var lz4Writers = sync.Pool{
	New: func() any { return lz4.NewWriter(nil) },
}

var lz4Readers = sync.Pool{
	New: func() any { return lz4.NewReader(nil) },
}

// zstd encoders and decoders are safe for concurrent EncodeAll/DecodeAll,
// so one of each per level is shared.
var (
	zstdEncoders [3]*zstd.Encoder
	zstdDecoder  *zstd.Decoder
)

func init() {
	levels := [3]zstd.EncoderLevel{zstd.SpeedFastest, zstd.SpeedDefault, zstd.SpeedBetterCompression}
	for i, lvl := range levels {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(lvl), zstd.WithEncoderConcurrency(1))
		if err != nil {
			panic("transfer: zstd encoder initialization failed: " + err.Error())
		}
		zstdEncoders[i] = enc
	}
	var err error
	zstdDecoder, err = zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(0),
		zstd.WithDecoderMaxMemory(decoderMaxMemory))
	if err != nil {
		panic("transfer: zstd decoder initialization failed: " + err.Error())
	}
}

func (l CompressionLevel) index() int {
	switch l {
	case CompressionFast:
		return 0
	case CompressionBest:
		return 2
	}
	return 1
}

// Compress encodes data with c. CodecNone returns data unchanged.
func Compress(c Codec, data []byte, level CompressionLevel) ([]byte, error) {
	switch c {
	case CodecNone:
		return data, nil
	case CodecZstd:
		return zstdEncoders[level.index()].EncodeAll(data, make([]byte, 0, len(data)/2)), nil
	case CodecLZ4:
		return compressLZ4(data, level)
	}
	return nil, fmt.Errorf("%w: %v", ErrUnknownCodec, c)
}

func compressLZ4(data []byte, level CompressionLevel) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4Writers.Get().(*lz4.Writer)
	defer lz4Writers.Put(w)
	w.Reset(&buf)

	lvl := lz4.Level4
	switch level {
	case CompressionFast:
		lvl = lz4.Fast
	case CompressionBest:
		lvl = lz4.Level9
	}
	if err := w.Apply(lz4.CompressionLevelOption(lvl)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCompressionFailed, err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCompressionFailed, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCompressionFailed, err)
	}
	return buf.Bytes(), nil
}

// Decompress reverses Compress. Output beyond limit bytes is an error.
func Decompress(c Codec, data []byte, limit int) ([]byte, error) {
	var out []byte
	switch c {
	case CodecNone:
		return data, nil
	case CodecZstd:
		var err error
		out, err = zstdDecoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecompressionFailed, err)
		}
	case CodecLZ4:
		r := lz4Readers.Get().(*lz4.Reader)
		defer lz4Readers.Put(r)
		r.Reset(bytes.NewReader(data))
		var buf bytes.Buffer
		if _, err := io.Copy(&buf, io.LimitReader(r, int64(limit)+1)); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecompressionFailed, err)
		}
		out = buf.Bytes()
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownCodec, c)
	}
	if len(out) > limit {
		return nil, fmt.Errorf("%w: output exceeds %d bytes", ErrDecompressionFailed, limit)
	}
	return out, nil
}

// encode compresses msg with c and falls back to CodecNone when that does
// not shrink it.
func encode(c Codec, msg []byte, level CompressionLevel) (Codec, []byte, error) {
	if c == CodecNone || len(msg) == 0 {
		return CodecNone, msg, nil
	}
	out, err := Compress(c, msg, level)
	if err != nil {
		return 0, nil, err
	}
	if len(out) >= len(msg) {
		return CodecNone, msg, nil
	}
	return c, out, nil
}
