package logstore

import "encoding/binary"

// Keyspace helpers for Pebble keys.
//
// Layout (byte-wise, lexicographically sortable):
//   - log/{logid_be8}/m
//   - log/{logid_be8}/e/{seq_be8}

var (
	logPrefix  = []byte("log/")
	metaSuffix = []byte("/m")
	entrySeg   = []byte("/e/")
)

func appendBE8(dst []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(dst, b[:]...)
}

// keyLogMeta builds the per-log metadata key (lastSeq, minSeq).
func keyLogMeta(logID uint64) []byte {
	k := make([]byte, 0, len(logPrefix)+8+len(metaSuffix))
	k = append(k, logPrefix...)
	k = appendBE8(k, logID)
	k = append(k, metaSuffix...)
	return k
}

// keyLogEntry builds the entry key with a big-endian sequence for proper
// ordering.
func keyLogEntry(logID, seq uint64) []byte {
	k := make([]byte, 0, len(logPrefix)+8+len(entrySeg)+8)
	k = append(k, logPrefix...)
	k = appendBE8(k, logID)
	k = append(k, entrySeg...)
	k = appendBE8(k, seq)
	return k
}

// entryBounds returns the [low, high) range covering every entry key for
// logID.
func entryBounds(logID uint64) (low, high []byte) {
	low = keyLogEntry(logID, 0)
	high = keyLogEntry(logID, ^uint64(0))
	return low, append(high, 0x00)
}
