// Package transfer moves messages larger than one relay packet.
//
// A Sender compresses a message when that helps, cuts it into shards that
// each fit one packet, and adds Reed-Solomon parity so that lost packets
// can be rebuilt without retransmission. An Assembler collects shards per
// sender and message, rebuilds, decompresses and checks a BLAKE3 digest
// keyed with the sender's public key.
//
// Packet layout (big endian):
//
//	1 byte:   version
//	1 byte:   codec
//	8 bytes:  message id
//	2 bytes:  shard index
//	2 bytes:  data shard count
//	2 bytes:  parity shard count
//	4 bytes:  encoded message size
//	16 bytes: digest
//	N bytes:  shard
package transfer
