package securechan

import (
	"bytes"
	"errors"
	"testing"
)

func fillBuffer(t *testing.T, b *Buffer, p []byte) {
	t.Helper()
	n := copy(b.Free(), p)
	if err := b.Grow(n); err != nil {
		t.Fatalf("Grow: %v", err)
	}
}

func TestBufferConsumeCompacts(t *testing.T) {
	var b Buffer
	fillBuffer(t, &b, []byte("helloworld"))
	if err := b.commit(5, 5); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if got := string(b.Plain()); got != "hello" {
		t.Fatalf("Plain = %q", got)
	}
	if got := string(b.Pending()); got != "world" {
		t.Fatalf("Pending = %q", got)
	}
	if err := b.Consume(3); err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if got := string(b.Plain()); got != "lo" {
		t.Fatalf("Plain after consume = %q", got)
	}
	if got := string(b.Pending()); got != "world" {
		t.Fatalf("Pending after consume = %q", got)
	}
	if len(b.Free()) != BufferSize-7 {
		t.Fatalf("Free = %d", len(b.Free()))
	}
}

func TestBufferRangeErrors(t *testing.T) {
	var b Buffer
	fillBuffer(t, &b, []byte("abc"))
	if err := b.Consume(1); !errors.Is(err, ErrConsumeRange) {
		t.Fatalf("Consume of ciphertext: %v", err)
	}
	if err := b.Grow(BufferSize); !errors.Is(err, ErrGrowRange) {
		t.Fatalf("Grow past end: %v", err)
	}
	if err := b.commit(2, 1); err == nil {
		t.Fatalf("commit with plain > used succeeded")
	}
	if err := b.commit(0, 4); err == nil {
		t.Fatalf("commit past pending succeeded")
	}
}

func TestBufferShrinkingCommit(t *testing.T) {
	var b Buffer
	// A layer that turned 8 ciphertext bytes into 3 plaintext bytes leaves the
	// 2-byte tail directly after the plaintext.
	fillBuffer(t, &b, []byte("abcXXXXXyz"))
	if err := b.commit(3, 8); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if !bytes.Equal(b.Plain(), []byte("abc")) {
		t.Fatalf("Plain = %q", b.Plain())
	}
	if len(b.Pending()) != 2 {
		t.Fatalf("Pending = %d bytes", len(b.Pending()))
	}
}

func TestBufferFull(t *testing.T) {
	var b Buffer
	fillBuffer(t, &b, make([]byte, BufferSize))
	if !b.Full() {
		t.Fatalf("buffer not full")
	}
	b.Reset()
	if b.Full() || len(b.Plain()) != 0 {
		t.Fatalf("Reset left data")
	}
}
