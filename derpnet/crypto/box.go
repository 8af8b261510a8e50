package crypto

import (
	"crypto/subtle"
	"errors"
	"io"
)

const (
	// NonceSize is the XSalsa20 nonce size.
	NonceSize = 24
	// Overhead is the size a sealed box adds on the wire: nonce and tag.
	Overhead = NonceSize + TagSize
)

var (
	ErrAuthFailed  = errors.New("crypto: message authentication failed")
	ErrBoxTooShort = errors.New("crypto: sealed box too short")
)

var zero16 [16]byte

// SharedKey derives the box key for a private scalar and a peer public key:
// HSalsa20 of the X25519 shared secret under an all-zero input.
func SharedKey(private, peerPublic *[KeySize]byte) ([KeySize]byte, error) {
	var zero, secret, key [KeySize]byte
	if *peerPublic == zero {
		return key, ErrInvalidPublicKey
	}
	ScalarMult(&secret, private, peerPublic)
	defer Wipe(secret[:])
	// Low-order peer points collapse every secret to zero.
	if subtle.ConstantTimeCompare(secret[:], zero[:]) == 1 {
		return key, ErrInvalidPublicKey
	}
	HSalsa20(&key, &zero16, &secret)
	return key, nil
}

// boxKeys expands key and nonce into the per-message Salsa20 subkey and the
// first keystream block. block[:32] is the Poly1305 key; block[32:] covers the
// first 32 bytes of the message.
func boxKeys(subkey *[KeySize]byte, block *[64]byte, nonce *[NonceSize]byte, key *[KeySize]byte) (counterNonce [8]byte) {
	var in [16]byte
	copy(in[:], nonce[:16])
	HSalsa20(subkey, &in, key)

	copy(counterNonce[:], nonce[16:])
	var first [16]byte
	copy(first[:8], counterNonce[:])
	salsaBlock(block, &first, subkey)
	return counterNonce
}

func boxXOR(out, msg []byte, block *[64]byte, counterNonce *[8]byte, subkey *[KeySize]byte) {
	n := len(msg)
	if n > 32 {
		n = 32
	}
	for i := 0; i < n; i++ {
		out[i] = msg[i] ^ block[32+i]
	}
	if len(msg) > n {
		XORKeyStream(out[n:len(msg)], msg[n:], counterNonce, subkey, 1)
	}
}

// Seal encrypts msg into out[:len(msg)] and returns the authenticator over the
// ciphertext. out may alias msg exactly. The nonce must never repeat under key.
func Seal(out, msg []byte, nonce *[NonceSize]byte, key *[KeySize]byte) (tag [TagSize]byte) {
	if len(out) < len(msg) {
		panic("crypto: output buffer too small")
	}
	var subkey [KeySize]byte
	var block [64]byte
	counterNonce := boxKeys(&subkey, &block, nonce, key)

	boxXOR(out, msg, &block, &counterNonce, &subkey)

	var polyKey [32]byte
	copy(polyKey[:], block[:32])
	Poly1305(&tag, out[:len(msg)], &polyKey)

	Wipe(subkey[:])
	Wipe(block[:])
	Wipe(polyKey[:])
	return tag
}

// Open verifies tag over ct and only then decrypts ct into out[:len(ct)].
// On failure out is left untouched and ErrAuthFailed is returned. out may
// alias ct exactly.
func Open(out, ct []byte, tag *[TagSize]byte, nonce *[NonceSize]byte, key *[KeySize]byte) error {
	if len(out) < len(ct) {
		panic("crypto: output buffer too small")
	}
	var subkey [KeySize]byte
	var block [64]byte
	counterNonce := boxKeys(&subkey, &block, nonce, key)
	defer Wipe(subkey[:])
	defer Wipe(block[:])

	var polyKey [32]byte
	copy(polyKey[:], block[:32])
	ok := Poly1305Verify(tag, ct, &polyKey)
	Wipe(polyKey[:])
	if !ok {
		return ErrAuthFailed
	}

	boxXOR(out, ct, &block, &counterNonce, &subkey)
	return nil
}

// SealBox appends nonce || tag || ciphertext of msg to dst, drawing a fresh
// nonce from rand.
func SealBox(dst []byte, rand io.Reader, msg []byte, key *[KeySize]byte) ([]byte, error) {
	var nonce [NonceSize]byte
	if _, err := io.ReadFull(rand, nonce[:]); err != nil {
		return nil, err
	}
	return SealBoxWithNonce(dst, &nonce, msg, key), nil
}

// SealBoxWithNonce is SealBox with a caller-chosen nonce.
func SealBoxWithNonce(dst []byte, nonce *[NonceSize]byte, msg []byte, key *[KeySize]byte) []byte {
	off := len(dst)
	dst = append(dst, make([]byte, Overhead+len(msg))...)
	box := dst[off:]
	copy(box[:NonceSize], nonce[:])
	tag := Seal(box[Overhead:], msg, nonce, key)
	copy(box[NonceSize:Overhead], tag[:])
	return dst
}

// SplitBox splits a wire box into its nonce, tag and ciphertext.
func SplitBox(box []byte) (nonce *[NonceSize]byte, tag *[TagSize]byte, ct []byte, err error) {
	if len(box) < Overhead {
		return nil, nil, nil, ErrBoxTooShort
	}
	return (*[NonceSize]byte)(box[:NonceSize]), (*[TagSize]byte)(box[NonceSize:Overhead]), box[Overhead:], nil
}

// OpenBox opens a nonce || tag || ciphertext box into a new slice.
func OpenBox(box []byte, key *[KeySize]byte) ([]byte, error) {
	nonce, tag, ct, err := SplitBox(box)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(ct))
	if err := Open(out, ct, tag, nonce, key); err != nil {
		return nil, err
	}
	return out, nil
}

// OpenBoxInPlace opens box, writing the plaintext over its ciphertext, and
// returns the plaintext subslice of box.
func OpenBoxInPlace(box []byte, key *[KeySize]byte) ([]byte, error) {
	nonce, tag, ct, err := SplitBox(box)
	if err != nil {
		return nil, err
	}
	// nonce and tag precede ct, so decrypting over ct leaves them intact.
	if err := Open(ct, ct, tag, nonce, key); err != nil {
		return nil, err
	}
	return ct, nil
}
