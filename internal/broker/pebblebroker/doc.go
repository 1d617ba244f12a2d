// Package pebblebroker implements the durable stream broker over a local
// Pebble store, for single-node deployments that want durable, resumable
// event streams without external infrastructure.
//
// Each topic maps to one stream. Keys are lexicographically ordered for
// range scans:
//   - stream/{name}/m           (stream metadata: lastSeq)
//   - stream/{name}/e/{seq_be8} (entries)
//
// Records are stored as json(fields) | crc32c. Entry ids are zero-padded
// decimal sequences, so cursor strings compare in append order. Blocking
// reads wait on an append-notify channel; retention trims are approximate
// and amortized by a slack bucket.
package pebblebroker
