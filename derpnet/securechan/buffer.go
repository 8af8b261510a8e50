package securechan

import (
	"errors"
	"fmt"
)

// BufferSize is the fixed receive buffer capacity. A frame plus any
// undecrypted record tail must fit in it.
const BufferSize = 64 * 1024

var (
	ErrConsumeRange = errors.New("securechan: consume beyond decrypted data")
	ErrGrowRange    = errors.New("securechan: grow beyond free space")
)

// Buffer is the receive buffer shared by the secure layer and the framer.
//
//	data[:size]          decrypted bytes, not yet consumed
//	data[size:received]  ciphertext waiting for a complete record
//	data[received:]      free space for the next socket read
//
// The backing array is never reallocated.
type Buffer struct {
	data     [BufferSize]byte
	size     int
	received int
}

// Plain returns the decrypted prefix.
func (b *Buffer) Plain() []byte { return b.data[:b.size] }

// Pending returns received ciphertext that has not been decrypted yet.
func (b *Buffer) Pending() []byte { return b.data[b.size:b.received] }

// Free returns the writable tail.
func (b *Buffer) Free() []byte { return b.data[b.received:] }

// Full reports whether there is no room for another read.
func (b *Buffer) Full() bool { return b.received == BufferSize }

// Grow records n bytes written into Free.
func (b *Buffer) Grow(n int) error {
	if n < 0 || n > BufferSize-b.received {
		return fmt.Errorf("%w: %d bytes, %d free", ErrGrowRange, n, BufferSize-b.received)
	}
	b.received += n
	return nil
}

// Consume drops the first n decrypted bytes and moves the rest of the
// buffer to the front.
func (b *Buffer) Consume(n int) error {
	if n < 0 || n > b.size {
		return fmt.Errorf("%w: %d of %d", ErrConsumeRange, n, b.size)
	}
	if n == 0 {
		return nil
	}
	copy(b.data[:], b.data[n:b.received])
	b.size -= n
	b.received -= n
	return nil
}

// Reset empties the buffer.
func (b *Buffer) Reset() {
	b.size, b.received = 0, 0
}

// commit applies a Layer.Decrypt result: plain bytes were appended to the
// decrypted prefix after used ciphertext bytes were eaten.
func (b *Buffer) commit(plain, used int) error {
	pending := b.received - b.size
	if plain < 0 || used < plain || used > pending {
		return fmt.Errorf("securechan: layer returned plain=%d used=%d for %d pending", plain, used, pending)
	}
	b.size += plain
	b.received -= used - plain
	return nil
}
