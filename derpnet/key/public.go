package key

import (
	"encoding/hex"

	"github.com/TheusHen/derpnet/derpnet/crypto"
)

// Public identifies a peer on the relay. Packets are addressed to it and the
// relay reports the sender's Public on delivery.
type Public [crypto.KeySize]byte

// ParsePublic parses "nodekey:<hex>" or bare hex.
func ParsePublic(s string) (Public, error) {
	var k Public
	if err := k.UnmarshalText([]byte(s)); err != nil {
		return Public{}, err
	}
	return k, nil
}

// PublicFromRaw32 copies a 32-byte wire field.
func PublicFromRaw32(b []byte) Public {
	var k Public
	copy(k[:], b)
	return k
}

func (k Public) IsZero() bool { return k == Public{} }

func (k Public) String() string {
	return publicPrefix + hex.EncodeToString(k[:])
}

// ShortString returns an abbreviated form for logs.
func (k Public) ShortString() string {
	return "[" + hex.EncodeToString(k[:3]) + "]"
}

func (k Public) MarshalText() ([]byte, error) {
	return appendHex([]byte(publicPrefix), k[:]), nil
}

func (k *Public) UnmarshalText(b []byte) error {
	return parseHex(publicPrefix, string(b), k[:])
}

// Raw32 returns the key as a fixed array, as the crypto package expects.
func (k *Public) Raw32() *[crypto.KeySize]byte {
	return (*[crypto.KeySize]byte)(k)
}
