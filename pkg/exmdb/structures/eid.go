package structures

import "math/bits"

// ValueToGC places the low 48 bits of v into the top 6 bytes of a u64 in
// big-endian order: valueToGc(v) = htobe64(v<<16). v must be
// less than 2^48; higher bits are discarded by the shift.
func ValueToGC(v uint64) uint64 {
	return bits.ReverseBytes64(v << 16)
}

// GCToValue is the inverse of ValueToGC.
func GCToValue(gc uint64) uint64 {
	return bits.ReverseBytes64(gc) >> 16
}

// MakeEID composes a 64-bit entity id from a 16-bit replica id and a gc
// value: always replid | (gc << 16), regardless of host byte order. Byte
// order only matters when the result is written to the wire, which is
// handled separately by little-endian field serialization.
func MakeEID(replid uint16, gc uint64) uint64 {
	return uint64(replid) | (gc << 16)
}

// MakeEIDEx is MakeEID under the name used at call sites that derive a
// default folder id from a well-known replica (e.g. the private root
// folder).
func MakeEIDEx(replid uint16, value uint64) uint64 {
	return MakeEID(replid, value)
}

// ntEpochOffset100ns is the number of 100ns ticks between the NT epoch
// (1601-01-01) and the Unix epoch (1970-01-01).
const ntEpochOffset100ns = 116444736000000000

// NTTime converts a Unix timestamp in nanoseconds to NT time: a 64-bit
// count of 100ns intervals since 1601-01-01 UTC.
func NTTime(unixNanos int64) uint64 {
	return uint64(unixNanos/100) + ntEpochOffset100ns
}

// NXTime is the inverse of NTTime, returning Unix nanoseconds.
// NXTime(NTTime(t)) == t only up to the 100ns granularity NT time can
// represent — callers comparing round-tripped timestamps must truncate to
// 100ns ticks first.
func NXTime(nt uint64) int64 {
	return (int64(nt) - ntEpochOffset100ns) * 100
}
