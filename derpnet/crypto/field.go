package crypto

import (
	"encoding/binary"
	"math/bits"
)

// fieldElement is an element of GF(2^255-19) in radix 2^51.
// Limbs may exceed 51 bits between operations; contract produces the
// canonical form.
type fieldElement [5]uint64

const maskLow51 = (1 << 51) - 1

type uint128 struct {
	lo, hi uint64
}

func mul64(a, b uint64) uint128 {
	hi, lo := bits.Mul64(a, b)
	return uint128{lo: lo, hi: hi}
}

func (v *uint128) add(w uint128) {
	var c uint64
	v.lo, c = bits.Add64(v.lo, w.lo, 0)
	v.hi, _ = bits.Add64(v.hi, w.hi, c)
}

func (v *uint128) addMul(a, b uint64) {
	v.add(mul64(a, b))
}

func (v *uint128) add64(a uint64) {
	var c uint64
	v.lo, c = bits.Add64(v.lo, a, 0)
	v.hi += c
}

func (v uint128) shr51() uint64 {
	return v.hi<<13 | v.lo>>51
}

func feAdd(out, a, b *fieldElement) {
	out[0] = a[0] + b[0]
	out[1] = a[1] + b[1]
	out[2] = a[2] + b[2]
	out[3] = a[3] + b[3]
	out[4] = a[4] + b[4]
}

// feSub adds 8p before subtracting so limbs never wrap.
func feSub(out, a, b *fieldElement) {
	const (
		two54m152 = (1 << 54) - 152
		two54m8   = (1 << 54) - 8
	)
	out[0] = a[0] + two54m152 - b[0]
	out[1] = a[1] + two54m8 - b[1]
	out[2] = a[2] + two54m8 - b[2]
	out[3] = a[3] + two54m8 - b[3]
	out[4] = a[4] + two54m8 - b[4]
}

// reduce carries five 128-bit column sums back into 51-bit limbs.
func (out *fieldElement) reduce(t *[5]uint128) {
	r0 := t[0].lo & maskLow51
	c := t[0].shr51()
	t[1].add64(c)
	r1 := t[1].lo & maskLow51
	c = t[1].shr51()
	t[2].add64(c)
	r2 := t[2].lo & maskLow51
	c = t[2].shr51()
	t[3].add64(c)
	r3 := t[3].lo & maskLow51
	c = t[3].shr51()
	t[4].add64(c)
	r4 := t[4].lo & maskLow51
	c = t[4].shr51()

	r0 += c * 19
	c = r0 >> 51
	r0 &= maskLow51
	r1 += c

	out[0], out[1], out[2], out[3], out[4] = r0, r1, r2, r3, r4
}

func feScalarProduct(out, in *fieldElement, scalar uint64) {
	a := mul64(in[0], scalar)
	out[0] = a.lo & maskLow51
	c := a.shr51()
	for i := 1; i < 5; i++ {
		a = mul64(in[i], scalar)
		a.add64(c)
		out[i] = a.lo & maskLow51
		c = a.shr51()
	}
	out[0] += c * 19
}

func feMul(out, a, b *fieldElement) {
	r0, r1, r2, r3, r4 := b[0], b[1], b[2], b[3], b[4]
	s0, s1, s2, s3, s4 := a[0], a[1], a[2], a[3], a[4]

	var t [5]uint128
	t[0] = mul64(r0, s0)
	t[1] = mul64(r0, s1)
	t[1].addMul(r1, s0)
	t[2] = mul64(r0, s2)
	t[2].addMul(r2, s0)
	t[2].addMul(r1, s1)
	t[3] = mul64(r0, s3)
	t[3].addMul(r3, s0)
	t[3].addMul(r1, s2)
	t[3].addMul(r2, s1)
	t[4] = mul64(r0, s4)
	t[4].addMul(r4, s0)
	t[4].addMul(r3, s1)
	t[4].addMul(r1, s3)
	t[4].addMul(r2, s2)

	r1 *= 19
	r2 *= 19
	r3 *= 19
	r4 *= 19

	t[0].addMul(r4, s1)
	t[0].addMul(r1, s4)
	t[0].addMul(r2, s3)
	t[0].addMul(r3, s2)
	t[1].addMul(r4, s2)
	t[1].addMul(r2, s4)
	t[1].addMul(r3, s3)
	t[2].addMul(r4, s3)
	t[2].addMul(r3, s4)
	t[3].addMul(r4, s4)

	out.reduce(&t)
}

// feSquareTimes squares in count times in a row. count must be at least 1.
func feSquareTimes(out, in *fieldElement, count int) {
	r := *in
	var t [5]uint128
	for ; count > 0; count-- {
		d0 := r[0] * 2
		d1 := r[1] * 2
		d2 := r[2] * 2 * 19
		d419 := r[4] * 19
		d4 := d419 * 2

		t[0] = mul64(r[0], r[0])
		t[0].addMul(d4, r[1])
		t[0].addMul(d2, r[3])
		t[1] = mul64(d0, r[1])
		t[1].addMul(d4, r[2])
		t[1].addMul(r[3], r[3]*19)
		t[2] = mul64(d0, r[2])
		t[2].addMul(r[1], r[1])
		t[2].addMul(d4, r[3])
		t[3] = mul64(d0, r[3])
		t[3].addMul(d1, r[2])
		t[3].addMul(r[4], d419)
		t[4] = mul64(d0, r[4])
		t[4].addMul(d1, r[3])
		t[4].addMul(r[2], r[2])

		r.reduce(&t)
	}
	*out = r
}

func feSquare(out, in *fieldElement) {
	feSquareTimes(out, in, 1)
}

// feExpand loads a little-endian 32-byte value, ignoring the top bit.
func feExpand(out *fieldElement, in *[32]byte) {
	x0 := binary.LittleEndian.Uint64(in[0:8])
	x1 := binary.LittleEndian.Uint64(in[8:16])
	x2 := binary.LittleEndian.Uint64(in[16:24])
	x3 := binary.LittleEndian.Uint64(in[24:32])

	out[0] = x0 & maskLow51
	x0 = x0>>51 | x1<<13
	out[1] = x0 & maskLow51
	x1 = x1>>38 | x2<<26
	out[2] = x1 & maskLow51
	x2 = x2>>25 | x3<<39
	out[3] = x2 & maskLow51
	x3 >>= 12
	out[4] = x3 & maskLow51
}

func (t *fieldElement) carry() {
	t[1] += t[0] >> 51
	t[0] &= maskLow51
	t[2] += t[1] >> 51
	t[1] &= maskLow51
	t[3] += t[2] >> 51
	t[2] &= maskLow51
	t[4] += t[3] >> 51
	t[3] &= maskLow51
}

func (t *fieldElement) carryFull() {
	t.carry()
	t[0] += 19 * (t[4] >> 51)
	t[4] &= maskLow51
}

// feContract writes the fully reduced little-endian encoding of in.
func feContract(out *[32]byte, in *fieldElement) {
	t := *in

	t.carryFull()
	t.carryFull()

	// t is now in [0, 2^255-1]. Adding 19 pushes values >= p past 2^255.
	t[0] += 19
	t.carryFull()

	// Offset by 2^255 - 19 so the final carry drops the extra p.
	t[0] += 0x8000000000000 - 19
	t[1] += 0x8000000000000 - 1
	t[2] += 0x8000000000000 - 1
	t[3] += 0x8000000000000 - 1
	t[4] += 0x8000000000000 - 1

	t.carry()
	t[4] &= maskLow51

	binary.LittleEndian.PutUint64(out[0:8], t[0]|t[1]<<51)
	binary.LittleEndian.PutUint64(out[8:16], t[1]>>13|t[2]<<38)
	binary.LittleEndian.PutUint64(out[16:24], t[2]>>26|t[3]<<25)
	binary.LittleEndian.PutUint64(out[24:32], t[3]>>39|t[4]<<12)
}

// feSwap exchanges a and b when swap is 1 and leaves them alone when it
// is 0, without branching on swap.
func feSwap(a, b *fieldElement, swap uint64) {
	mask := -swap
	for i := range a {
		x := mask & (a[i] ^ b[i])
		a[i] ^= x
		b[i] ^= x
	}
}

// fePow250 raises b, holding z^(2^5-1), to z^(2^250-1) in place.
func fePow250(b *fieldElement) {
	var t0, c fieldElement

	feSquareTimes(&t0, b, 5)
	feMul(b, &t0, b)
	feSquareTimes(&t0, b, 10)
	feMul(&c, &t0, b)
	feSquareTimes(&t0, &c, 20)
	feMul(&t0, &t0, &c)
	feSquareTimes(&t0, &t0, 10)
	feMul(b, &t0, b)
	feSquareTimes(&t0, b, 50)
	feMul(&c, &t0, b)
	feSquareTimes(&t0, &c, 100)
	feMul(&t0, &t0, &c)
	feSquareTimes(&t0, &t0, 50)
	feMul(b, &t0, b)
}

// feInvert computes z^(p-2) = z^(2^255-21).
func feInvert(out, z *fieldElement) {
	var a, t0, b fieldElement

	feSquare(&a, z)           // 2
	feSquareTimes(&t0, &a, 2) // 8
	feMul(&b, &t0, z)         // 9
	feMul(&a, &b, &a)         // 11
	feSquare(&t0, &a)         // 22
	feMul(&b, &t0, &b)        // 2^5 - 2^0
	fePow250(&b)              // 2^250 - 2^0
	feSquareTimes(&b, &b, 5)  // 2^255 - 2^5
	feMul(out, &b, &a)        // 2^255 - 21
}
