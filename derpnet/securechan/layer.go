package securechan

import (
	"context"
	"errors"
	"net"
)

var (
	ErrClosed         = errors.New("securechan: connection closed")
	ErrOversized      = errors.New("securechan: message does not fit the receive buffer")
	ErrCorrupt        = errors.New("securechan: corrupt record")
	ErrNotEstablished = errors.New("securechan: channel not established")
)

// Layer is the record protection under a Stream. Implementations do their
// own handshake over conn and afterwards only transform bytes; they never
// touch the socket again.
type Layer interface {
	// Handshake runs the layer handshake over conn.
	Handshake(ctx context.Context, conn net.Conn, host string) error

	// MaxMessageSize is the largest plaintext unit Encrypt accepts.
	MaxMessageSize() int

	// Encrypt appends the protected form of p to dst. With an empty p it
	// appends only output the layer queued on its own, such as key update
	// replies.
	Encrypt(dst, p []byte) ([]byte, error)

	// Decrypt processes the n ciphertext bytes at the start of window.
	// On return window[:plain] holds the new plaintext and the used..n tail
	// that formed no complete record has been moved to window[plain:].
	Decrypt(window []byte, n int) (plain, used int, err error)

	Close() error
}

// PlainLayer passes bytes through unchanged. It serves plain HTTP relays
// and transports that already encrypt, such as QUIC streams.
type PlainLayer struct{}

func (PlainLayer) Handshake(ctx context.Context, _ net.Conn, _ string) error {
	return ctx.Err()
}

func (PlainLayer) MaxMessageSize() int { return BufferSize }

func (PlainLayer) Encrypt(dst, p []byte) ([]byte, error) {
	return append(dst, p...), nil
}

func (PlainLayer) Decrypt(_ []byte, n int) (int, int, error) {
	return n, n, nil
}

func (PlainLayer) Close() error { return nil }
