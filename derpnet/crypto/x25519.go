package crypto

import (
	"crypto/rand"
	"errors"
	"io"
)

const (
	// KeySize is the size of X25519 scalars, points and derived shared keys.
	KeySize = 32
)

// KeyPair is a long-lived relay identity: a clamped scalar and its public point.
type KeyPair struct {
	PublicKey  [KeySize]byte
	PrivateKey [KeySize]byte
}

var (
	ErrInvalidPublicKey = errors.New("crypto: invalid X25519 public key")
)

var basePoint = [KeySize]byte{9}

// GenerateKeyPair generates a new X25519 keypair from crypto/rand.
func GenerateKeyPair() (KeyPair, error) {
	return GenerateKeyPairFrom(rand.Reader)
}

// GenerateKeyPairFrom is GenerateKeyPair with an explicit entropy source.
func GenerateKeyPairFrom(r io.Reader) (KeyPair, error) {
	var kp KeyPair
	if _, err := io.ReadFull(r, kp.PrivateKey[:]); err != nil {
		return KeyPair{}, err
	}
	Clamp(&kp.PrivateKey)
	ScalarBaseMult(&kp.PublicKey, &kp.PrivateKey)
	return kp, nil
}

// Clamp applies the RFC 7748 scalar clamping in place.
func Clamp(k *[KeySize]byte) {
	k[0] &= 248
	k[31] &= 127
	k[31] |= 64
}

// PublicKey returns the public point for a private scalar.
func PublicKey(private [KeySize]byte) [KeySize]byte {
	var pub [KeySize]byte
	ScalarBaseMult(&pub, &private)
	return pub
}

// ScalarBaseMult sets dst to scalar * 9.
func ScalarBaseMult(dst, scalar *[KeySize]byte) {
	ScalarMult(dst, scalar, &basePoint)
}

// ScalarMult sets dst to scalar * point using a constant-time Montgomery
// ladder. The scalar is clamped before use; the caller's copy is not modified.
func ScalarMult(dst, scalar, point *[KeySize]byte) {
	e := *scalar
	Clamp(&e)
	defer Wipe(e[:])

	var q, nqx, qx, qpqx, qqx, zzz, zmone fieldElement
	nqpqx := fieldElement{1}
	nqpqz := fieldElement{0}
	nqz := fieldElement{1}

	feExpand(&q, point)
	nqx = q

	// Bit 255 is clear and bit 254 is set after clamping, so the ladder
	// starts pre-swapped on bit 254 and swaps in bits 253..2.
	lastBit := uint64(1)
	for i := 253; i >= 2; i-- {
		feAdd(&qx, &nqx, &nqz)
		feSub(&nqz, &nqx, &nqz)
		feAdd(&qpqx, &nqpqx, &nqpqz)
		feSub(&nqpqz, &nqpqx, &nqpqz)
		feMul(&nqpqx, &qpqx, &nqz)
		feMul(&nqpqz, &qx, &nqpqz)
		feAdd(&qqx, &nqpqx, &nqpqz)
		feSub(&nqpqz, &nqpqx, &nqpqz)
		feSquare(&nqpqz, &nqpqz)
		feSquare(&nqpqx, &qqx)
		feMul(&nqpqz, &nqpqz, &q)
		feSquare(&qx, &qx)
		feSquare(&nqz, &nqz)
		feMul(&nqx, &qx, &nqz)
		feSub(&nqz, &qx, &nqz)
		feScalarProduct(&zzz, &nqz, 121665)
		feAdd(&zzz, &zzz, &qx)
		feMul(&nqz, &nqz, &zzz)

		bit := uint64(e[i/8]>>(i&7)) & 1
		feSwap(&nqx, &nqpqx, bit^lastBit)
		feSwap(&nqz, &nqpqz, bit^lastBit)
		lastBit = bit
	}

	// The low three bits are zero: only doublings remain.
	for i := 0; i < 3; i++ {
		feAdd(&qx, &nqx, &nqz)
		feSub(&nqz, &nqx, &nqz)
		feSquare(&qx, &qx)
		feSquare(&nqz, &nqz)
		feMul(&nqx, &qx, &nqz)
		feSub(&nqz, &qx, &nqz)
		feScalarProduct(&zzz, &nqz, 121665)
		feAdd(&zzz, &zzz, &qx)
		feMul(&nqz, &nqz, &zzz)
	}

	feInvert(&zmone, &nqz)
	feMul(&nqz, &nqx, &zmone)
	feContract(dst, &nqz)
}
