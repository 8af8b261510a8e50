// Package crypto implements the primitives behind relay packet encryption:
// X25519 key agreement and the XSalsa20-Poly1305 secret box.
//
// Design goals:
//   - No external crypto dependency on the packet path
//   - Constant-time scalar ladder and tag comparison
//   - In-place sealing and opening so frames need no copies
//   - Unauthenticated plaintext is never written to the caller's buffer
package crypto
