// Package erasure wraps Reed-Solomon coding for relayed messages.
//
// A message cut into d data shards gets p parity shards; any d of the d+p
// shards rebuild it. The relay drops packets under load, so parity lets a
// receiver finish without asking the sender to retransmit.
package erasure
