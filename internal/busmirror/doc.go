// Package busmirror owns the Bus Mirroring Protocol wire contract.
//
// Ownership boundary:
// - fixed 14-byte header
// - variable-length data items and their per-network frame ids
// - frame assembly and the companion encoder
//
// Decoding is a pure function of the input bytes. Nothing in this package
// logs, blocks, or keeps state between calls.
package busmirror
