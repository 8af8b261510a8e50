package crypto

import "runtime"

// Wipe zeroes b. The write is kept out of reach of dead-store elimination
// on a best-effort basis.
//
//go:noinline
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(&b)
}
