// Package key defines the 32-byte relay identity keys and their text form.
package key

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"io"
	"strings"

	"github.com/TheusHen/derpnet/derpnet/crypto"
)

const (
	privatePrefix = "privkey:"
	publicPrefix  = "nodekey:"
)

var (
	ErrInvalidKey = errors.New("key: invalid key encoding")
)

// Private is a clamped X25519 scalar. Its String form never reveals the key.
type Private [crypto.KeySize]byte

// NewPrivate generates a new private key.
func NewPrivate() (Private, error) {
	return NewPrivateFrom(rand.Reader)
}

// NewPrivateFrom generates a private key from r.
func NewPrivateFrom(r io.Reader) (Private, error) {
	kp, err := crypto.GenerateKeyPairFrom(r)
	if err != nil {
		return Private{}, err
	}
	return Private(kp.PrivateKey), nil
}

// Public derives the public key.
func (k Private) Public() Public {
	return Public(crypto.PublicKey(k))
}

// IsZero reports whether k is the zero key.
func (k Private) IsZero() bool { return k == Private{} }

func (k Private) String() string { return "privkey:<redacted>" }

// MarshalText encodes the key as "privkey:<hex>".
func (k Private) MarshalText() ([]byte, error) {
	return appendHex([]byte(privatePrefix), k[:]), nil
}

func (k *Private) UnmarshalText(b []byte) error {
	return parseHex(privatePrefix, string(b), k[:])
}

// ParsePrivate parses the MarshalText form.
func ParsePrivate(s string) (Private, error) {
	var k Private
	if err := k.UnmarshalText([]byte(s)); err != nil {
		return Private{}, err
	}
	return k, nil
}

func appendHex(dst, b []byte) []byte {
	return hex.AppendEncode(dst, b)
}

// parseHex accepts the prefixed form and, for convenience, bare hex.
func parseHex(prefix, s string, out []byte) error {
	s = strings.TrimPrefix(strings.TrimSpace(s), prefix)
	if hex.DecodedLen(len(s)) != len(out) {
		return ErrInvalidKey
	}
	if _, err := hex.Decode(out, []byte(s)); err != nil {
		return ErrInvalidKey
	}
	return nil
}

// Raw32 returns the key as a fixed array, as the crypto package expects.
func (k *Private) Raw32() *[crypto.KeySize]byte {
	return (*[crypto.KeySize]byte)(k)
}
