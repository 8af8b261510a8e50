package crypto

import (
	"encoding/binary"
	"math/bits"
)

// "expand 32-byte k"
var sigma = [4]uint32{0x61707865, 0x3320646e, 0x79622d32, 0x6b206574}

func salsaRounds(x *[16]uint32) {
	quarter := func(a, b, c, d int) {
		x[b] ^= bits.RotateLeft32(x[a]+x[d], 7)
		x[c] ^= bits.RotateLeft32(x[b]+x[a], 9)
		x[d] ^= bits.RotateLeft32(x[c]+x[b], 13)
		x[a] ^= bits.RotateLeft32(x[d]+x[c], 18)
	}
	for i := 0; i < 20; i += 2 {
		quarter(0, 4, 8, 12)
		quarter(5, 9, 13, 1)
		quarter(10, 14, 2, 6)
		quarter(15, 3, 7, 11)

		quarter(0, 1, 2, 3)
		quarter(5, 6, 7, 4)
		quarter(10, 11, 8, 9)
		quarter(15, 12, 13, 14)
	}
}

func salsaState(x *[16]uint32, in *[16]byte, key *[KeySize]byte) {
	x[0] = sigma[0]
	x[1] = binary.LittleEndian.Uint32(key[0:])
	x[2] = binary.LittleEndian.Uint32(key[4:])
	x[3] = binary.LittleEndian.Uint32(key[8:])
	x[4] = binary.LittleEndian.Uint32(key[12:])
	x[5] = sigma[1]
	x[6] = binary.LittleEndian.Uint32(in[0:])
	x[7] = binary.LittleEndian.Uint32(in[4:])
	x[8] = binary.LittleEndian.Uint32(in[8:])
	x[9] = binary.LittleEndian.Uint32(in[12:])
	x[10] = sigma[2]
	x[11] = binary.LittleEndian.Uint32(key[16:])
	x[12] = binary.LittleEndian.Uint32(key[20:])
	x[13] = binary.LittleEndian.Uint32(key[24:])
	x[14] = binary.LittleEndian.Uint32(key[28:])
	x[15] = sigma[3]
}

// HSalsa20 derives a 32-byte subkey from key and a 16-byte input.
func HSalsa20(out *[KeySize]byte, in *[16]byte, key *[KeySize]byte) {
	var x [16]uint32
	salsaState(&x, in, key)
	salsaRounds(&x)

	binary.LittleEndian.PutUint32(out[0:], x[0])
	binary.LittleEndian.PutUint32(out[4:], x[5])
	binary.LittleEndian.PutUint32(out[8:], x[10])
	binary.LittleEndian.PutUint32(out[12:], x[15])
	binary.LittleEndian.PutUint32(out[16:], x[6])
	binary.LittleEndian.PutUint32(out[20:], x[7])
	binary.LittleEndian.PutUint32(out[24:], x[8])
	binary.LittleEndian.PutUint32(out[28:], x[9])
}

// salsaBlock produces one 64-byte Salsa20 keystream block.
func salsaBlock(out *[64]byte, in *[16]byte, key *[KeySize]byte) {
	var x, j [16]uint32
	salsaState(&x, in, key)
	j = x
	salsaRounds(&x)
	for i := range x {
		binary.LittleEndian.PutUint32(out[i*4:], x[i]+j[i])
	}
}

// XORKeyStream XORs src with the Salsa20 keystream for key and the 8-byte
// nonce, starting at block counter. dst and src may overlap exactly.
func XORKeyStream(dst, src []byte, nonce *[8]byte, key *[KeySize]byte, counter uint64) {
	var in [16]byte
	var block [64]byte
	copy(in[:8], nonce[:])

	for len(src) > 0 {
		binary.LittleEndian.PutUint64(in[8:], counter)
		salsaBlock(&block, &in, key)
		n := len(src)
		if n > len(block) {
			n = len(block)
		}
		for i := 0; i < n; i++ {
			dst[i] = src[i] ^ block[i]
		}
		counter++
		dst = dst[n:]
		src = src[n:]
	}
	Wipe(block[:])
}
