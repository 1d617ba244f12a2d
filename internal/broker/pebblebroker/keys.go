package pebblebroker

import "encoding/binary"

// Keyspace helpers for Pebble keys.
//
// Layout (byte-wise, lexicographically sortable):
// - stream/{name}/m           (stream metadata: lastSeq)
// - stream/{name}/e/{seq_be8} (entries)

var (
	streamPrefix = []byte("stream/")
	metaSuffix   = []byte("/m")
	entrySeg     = []byte("/e/")
)

func appendBE8(dst []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(dst, b[:]...)
}

// keyStreamMeta builds the stream metadata key.
func keyStreamMeta(stream string) []byte {
	k := make([]byte, 0, len(stream)+16)
	k = append(k, streamPrefix...)
	k = append(k, stream...)
	k = append(k, metaSuffix...)
	return k
}

// keyStreamEntry builds an entry key with a big-endian sequence for proper
// ordering under range scans.
func keyStreamEntry(stream string, seq uint64) []byte {
	k := make([]byte, 0, len(stream)+24)
	k = append(k, streamPrefix...)
	k = append(k, stream...)
	k = append(k, entrySeg...)
	k = appendBE8(k, seq)
	return k
}

// entryBounds returns the [low, high) iterator bounds covering every entry
// of a stream.
func entryBounds(stream string) (low, hi []byte) {
	low = keyStreamEntry(stream, 0)
	hi = append(keyStreamEntry(stream, ^uint64(0)), 0x00)
	return low, hi
}

// seqFromEntryKey extracts the sequence from an entry key.
func seqFromEntryKey(key []byte) uint64 {
	return binary.BigEndian.Uint64(key[len(key)-8:])
}
