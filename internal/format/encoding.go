package format

import "encoding/binary"

// Little-endian unit access. A unit is stored as a signed 64-bit integer so a
// single encoding covers counts, offsets, and negated offsets.

// PutUnit writes v into the unit at unit offset off of b.
func PutUnit(b []byte, off int, v int64) {
	p := off << UnitShift
	binary.LittleEndian.PutUint64(b[p:p+UnitSize], uint64(v))
}

// ReadUnit reads the unit at unit offset off of b.
func ReadUnit(b []byte, off int) int64 {
	p := off << UnitShift
	return int64(binary.LittleEndian.Uint64(b[p : p+UnitSize]))
}

// PutU64 writes a uint64 value to the buffer at the specified byte offset in little-endian format.
func PutU64(b []byte, off int, v uint64) {
	binary.LittleEndian.PutUint64(b[off:off+8], v)
}

// ReadU64 reads a uint64 value from the buffer at the specified byte offset in little-endian format.
func ReadU64(b []byte, off int) uint64 {
	return binary.LittleEndian.Uint64(b[off : off+8])
}
