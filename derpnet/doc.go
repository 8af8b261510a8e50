// Package derpnet is a client for DERP relays.
//
// A DERP relay forwards small encrypted packets between clients that
// cannot reach each other directly, addressed by Curve25519 public key.
// The session package speaks the relay protocol over TLS (or plain TCP,
// or a QUIC stream); the crypto package provides the X25519 and secret
// box primitives it seals packets with.
//
// This package ties the pieces together: key generation, Open for a raw
// packet session, and Peer for messages larger than one packet.
package derpnet
