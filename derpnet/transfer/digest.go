package transfer

import (
	"github.com/zeebo/blake3"

	"github.com/TheusHen/derpnet/derpnet/key"
)

// DigestSize is the truncated digest length carried in every packet.
const DigestSize = 16

// Digest is BLAKE3 of msg keyed with the sender's public key, so shards
// cannot be spliced between senders.
func Digest(sender key.Public, msg []byte) [DigestSize]byte {
	h, err := blake3.NewKeyed(sender[:])
	if err != nil {
		panic("transfer: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	h.Write(msg)
	var out [DigestSize]byte
	copy(out[:], h.Sum(nil))
	return out
}
