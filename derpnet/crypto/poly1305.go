package crypto

import (
	"crypto/subtle"
	"encoding/binary"
)

const (
	// TagSize is the size of a Poly1305 authenticator.
	TagSize = 16

	polyBlockSize = 16
	mask44        = (1 << 44) - 1
	mask42        = (1 << 42) - 1
)

// poly1305 is the one-time authenticator state, with the accumulator and r
// split into 44/44/42-bit limbs.
type poly1305 struct {
	r        [3]uint64
	h        [3]uint64
	pad      [2]uint64
	buffer   [polyBlockSize]byte
	leftover int
}

func newPoly1305(key *[32]byte) *poly1305 {
	t0 := binary.LittleEndian.Uint64(key[0:])
	t1 := binary.LittleEndian.Uint64(key[8:])

	p := &poly1305{}
	// r &= 0x0ffffffc0ffffffc0ffffffc0fffffff
	p.r[0] = t0 & 0xffc0fffffff
	p.r[1] = (t0>>44 | t1<<20) & 0xfffffc0ffff
	p.r[2] = (t1 >> 24) & 0x00ffffffc0f
	p.pad[0] = binary.LittleEndian.Uint64(key[16:])
	p.pad[1] = binary.LittleEndian.Uint64(key[24:])
	return p
}

// blocks absorbs whole 16-byte blocks. final is set for the padded last block,
// which already carries its own 0x01 terminator.
func (p *poly1305) blocks(m []byte, final bool) {
	hibit := uint64(1) << 40
	if final {
		hibit = 0
	}
	r0, r1, r2 := p.r[0], p.r[1], p.r[2]
	h0, h1, h2 := p.h[0], p.h[1], p.h[2]
	s1 := r1 * (5 << 2)
	s2 := r2 * (5 << 2)

	for len(m) >= polyBlockSize {
		t0 := binary.LittleEndian.Uint64(m[0:])
		t1 := binary.LittleEndian.Uint64(m[8:])

		h0 += t0 & mask44
		h1 += (t0>>44 | t1<<20) & mask44
		h2 += (t1>>24)&mask42 | hibit

		d0 := mul64(h0, r0)
		d0.addMul(h1, s2)
		d0.addMul(h2, s1)
		d1 := mul64(h0, r1)
		d1.addMul(h1, r0)
		d1.addMul(h2, s2)
		d2 := mul64(h0, r2)
		d2.addMul(h1, r1)
		d2.addMul(h2, r0)

		c := d0.hi<<20 | d0.lo>>44
		h0 = d0.lo & mask44
		d1.add64(c)
		c = d1.hi<<20 | d1.lo>>44
		h1 = d1.lo & mask44
		d2.add64(c)
		c = d2.hi<<22 | d2.lo>>42
		h2 = d2.lo & mask42
		h0 += c * 5
		c = h0 >> 44
		h0 &= mask44
		h1 += c

		m = m[polyBlockSize:]
	}

	p.h[0], p.h[1], p.h[2] = h0, h1, h2
}

func (p *poly1305) write(m []byte) {
	if p.leftover > 0 {
		n := copy(p.buffer[p.leftover:], m)
		p.leftover += n
		m = m[n:]
		if p.leftover < polyBlockSize {
			return
		}
		p.blocks(p.buffer[:], false)
		p.leftover = 0
	}
	if full := len(m) &^ (polyBlockSize - 1); full > 0 {
		p.blocks(m[:full], false)
		m = m[full:]
	}
	if len(m) > 0 {
		p.leftover = copy(p.buffer[:], m)
	}
}

func (p *poly1305) sum(out *[TagSize]byte) {
	if p.leftover > 0 {
		p.buffer[p.leftover] = 1
		for i := p.leftover + 1; i < polyBlockSize; i++ {
			p.buffer[i] = 0
		}
		p.blocks(p.buffer[:], true)
	}

	h0, h1, h2 := p.h[0], p.h[1], p.h[2]

	c := h1 >> 44
	h1 &= mask44
	h2 += c
	c = h2 >> 42
	h2 &= mask42
	h0 += c * 5
	c = h0 >> 44
	h0 &= mask44
	h1 += c
	c = h1 >> 44
	h1 &= mask44
	h2 += c
	c = h2 >> 42
	h2 &= mask42
	h0 += c * 5
	c = h0 >> 44
	h0 &= mask44
	h1 += c

	// g = h + -p
	g0 := h0 + 5
	c = g0 >> 44
	g0 &= mask44
	g1 := h1 + c
	c = g1 >> 44
	g1 &= mask44
	g2 := h2 + c - (1 << 42)

	// Select h when h < p, g otherwise.
	c = (g2 >> 63) - 1
	g0 &= c
	g1 &= c
	g2 &= c
	c = ^c
	h0 = h0&c | g0
	h1 = h1&c | g1
	h2 = h2&c | g2

	t0, t1 := p.pad[0], p.pad[1]
	h0 += t0 & mask44
	c = h0 >> 44
	h0 &= mask44
	h1 += (t0>>44|t1<<20)&mask44 + c
	c = h1 >> 44
	h1 &= mask44
	h2 += (t1>>24)&mask42 + c
	h2 &= mask42

	binary.LittleEndian.PutUint64(out[0:], h0|h1<<44)
	binary.LittleEndian.PutUint64(out[8:], h1>>20|h2<<24)
}

// Poly1305 computes the one-time authenticator of m under key.
func Poly1305(out *[TagSize]byte, m []byte, key *[32]byte) {
	p := newPoly1305(key)
	p.write(m)
	p.sum(out)
	*p = poly1305{}
}

// Poly1305Verify reports whether tag authenticates m, in constant time.
func Poly1305Verify(tag *[TagSize]byte, m []byte, key *[32]byte) bool {
	var want [TagSize]byte
	Poly1305(&want, m, key)
	return subtle.ConstantTimeCompare(tag[:], want[:]) == 1
}
