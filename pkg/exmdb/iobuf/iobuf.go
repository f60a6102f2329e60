// Package iobuf implements the growable byte buffer exmdb-go's wire codec
// builds requests into and parses responses out of.
//
// All integer and float fields are little-endian on the wire except where a
// caller explicitly writes/reads big-endian (the gc bytes documented in
// package structures and the AllocateCn change number read in package
// requests); iobuf itself only ever produces
// or consumes little-endian primitives — callers needing big-endian values
// use PushRaw/PopRaw with their own encoding.
package iobuf

import (
	"encoding/binary"
	"errors"
	"math"
)

// ErrShort is returned by every Pop* method when fewer bytes remain than
// the read requires.
var ErrShort = errors.New("iobuf: short read")

// Buffer is a write buffer plus an independent read cursor. A single Buffer
// is reused across a request/response round trip: Clear resets it for the
// next call.
type Buffer struct {
	data       []byte
	pos        int
	frameStart int
}

// New returns an empty Buffer ready for writing.
func New() *Buffer {
	return &Buffer{frameStart: -1}
}

// FromBytes wraps an existing byte slice for reading (e.g. a response body
// already read off the socket). The read cursor starts at 0.
func FromBytes(b []byte) *Buffer {
	return &Buffer{data: b, frameStart: -1}
}

// Bytes returns the buffer's full backing slice (for writing, the finalized
// request body; for reading, the original input).
func (b *Buffer) Bytes() []byte { return b.data }

// Len returns the number of bytes written so far.
func (b *Buffer) Len() int { return len(b.data) }

// Remaining returns the number of unread bytes.
func (b *Buffer) Remaining() int { return len(b.data) - b.pos }

// Pos returns the current read cursor offset.
func (b *Buffer) Pos() int { return b.pos }

// Clear empties the buffer and resets the read cursor, for reuse across
// calls on the same connection.
func (b *Buffer) Clear() {
	b.data = b.data[:0]
	b.pos = 0
	b.frameStart = -1
}

// ---- writes -----------------------------------------------------------

func (b *Buffer) PushUint8(v uint8) { b.data = append(b.data, v) }

func (b *Buffer) PushUint16(v uint16) {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	b.data = append(b.data, tmp[:]...)
}

func (b *Buffer) PushUint32(v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	b.data = append(b.data, tmp[:]...)
}

func (b *Buffer) PushUint64(v uint64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	b.data = append(b.data, tmp[:]...)
}

func (b *Buffer) PushInt8(v int8)   { b.PushUint8(uint8(v)) }
func (b *Buffer) PushInt16(v int16) { b.PushUint16(uint16(v)) }
func (b *Buffer) PushInt32(v int32) { b.PushUint32(uint32(v)) }
func (b *Buffer) PushInt64(v int64) { b.PushUint64(uint64(v)) }

func (b *Buffer) PushFloat32(v float32) { b.PushUint32(math.Float32bits(v)) }
func (b *Buffer) PushFloat64(v float64) { b.PushUint64(math.Float64bits(v)) }

// PushBool writes a single byte, 1 for true and 0 for false.
func (b *Buffer) PushBool(v bool) {
	if v {
		b.PushUint8(1)
	} else {
		b.PushUint8(0)
	}
}

// PushRaw appends p verbatim, with no length prefix.
func (b *Buffer) PushRaw(p []byte) { b.data = append(b.data, p...) }

// PushCString appends s's bytes followed by a single NUL terminator — the
// on-wire encoding for STRING/WSTRING propval payloads.
func (b *Buffer) PushCString(s string) {
	b.data = append(b.data, s...)
	b.data = append(b.data, 0)
}

// PushBinary writes a 32-bit length prefix followed by the raw bytes — the
// on-wire encoding for BINARY propval payloads.
func (b *Buffer) PushBinary(p []byte) {
	b.PushUint32(uint32(len(p)))
	b.PushRaw(p)
}

// PushUint8Array writes a uint32 count followed by the raw bytes: for byte
// arrays this is already the optimal raw-block form.
func (b *Buffer) PushUint8Array(a []uint8) {
	b.PushUint32(uint32(len(a)))
	b.PushRaw(a)
}

// PushArray writes a uint32 count followed by each element via writeElem,
// the generic form used by every multivalued propval array.
func PushArray[T any](b *Buffer, items []T, writeElem func(*Buffer, T)) {
	b.PushUint32(uint32(len(items)))
	for _, it := range items {
		writeElem(b, it)
	}
}

// ---- framing ------------------------------------------------------------

// Start records the current write offset and reserves a 4-byte length
// placeholder. Only one frame may be open on a Buffer at a time.
func (b *Buffer) Start() {
	b.frameStart = len(b.data)
	b.data = append(b.data, 0, 0, 0, 0)
}

// Finalize patches the placeholder reserved by Start with the number of
// bytes written since (excluding the placeholder itself), producing a
// length-prefixed request body ready to write to the socket.
func (b *Buffer) Finalize() error {
	if b.frameStart < 0 {
		return errors.New("iobuf: Finalize without matching Start")
	}
	length := uint32(len(b.data) - b.frameStart - 4)
	binary.LittleEndian.PutUint32(b.data[b.frameStart:b.frameStart+4], length)
	b.frameStart = -1
	return nil
}

// ---- reads --------------------------------------------------------------

func (b *Buffer) need(n int) error {
	if b.Remaining() < n {
		return ErrShort
	}
	return nil
}

func (b *Buffer) PopUint8() (uint8, error) {
	if err := b.need(1); err != nil {
		return 0, err
	}
	v := b.data[b.pos]
	b.pos++
	return v, nil
}

func (b *Buffer) PopUint16() (uint16, error) {
	if err := b.need(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(b.data[b.pos:])
	b.pos += 2
	return v, nil
}

func (b *Buffer) PopUint32() (uint32, error) {
	if err := b.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(b.data[b.pos:])
	b.pos += 4
	return v, nil
}

func (b *Buffer) PopUint64() (uint64, error) {
	if err := b.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(b.data[b.pos:])
	b.pos += 8
	return v, nil
}

func (b *Buffer) PopInt8() (int8, error) {
	v, err := b.PopUint8()
	return int8(v), err
}

func (b *Buffer) PopInt16() (int16, error) {
	v, err := b.PopUint16()
	return int16(v), err
}

func (b *Buffer) PopInt32() (int32, error) {
	v, err := b.PopUint32()
	return int32(v), err
}

func (b *Buffer) PopInt64() (int64, error) {
	v, err := b.PopUint64()
	return int64(v), err
}

func (b *Buffer) PopFloat32() (float32, error) {
	v, err := b.PopUint32()
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(v), nil
}

func (b *Buffer) PopFloat64() (float64, error) {
	v, err := b.PopUint64()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(v), nil
}

func (b *Buffer) PopBool() (bool, error) {
	v, err := b.PopUint8()
	return v != 0, err
}

// PopRaw reads exactly n bytes and advances the cursor past them. The
// returned slice aliases the buffer's backing array; callers that retain it
// past the buffer's lifetime should copy.
func (b *Buffer) PopRaw(n int) ([]byte, error) {
	if err := b.need(n); err != nil {
		return nil, err
	}
	v := b.data[b.pos : b.pos+n]
	b.pos += n
	return v, nil
}

// PopCString reads bytes up to and including the next NUL terminator and
// returns them as a string (NUL excluded). Fails with ErrShort if no NUL is
// found before the buffer is exhausted.
func (b *Buffer) PopCString() (string, error) {
	end := -1
	for i := b.pos; i < len(b.data); i++ {
		if b.data[i] == 0 {
			end = i
			break
		}
	}
	if end < 0 {
		return "", ErrShort
	}
	s := string(b.data[b.pos:end])
	b.pos = end + 1
	return s, nil
}

// PopBinary reads a 32-bit length prefix followed by that many raw bytes.
func (b *Buffer) PopBinary() ([]byte, error) {
	n, err := b.PopUint32()
	if err != nil {
		return nil, err
	}
	return b.PopRaw(int(n))
}

// PopUint8Array reads a uint32 count followed by that many raw bytes.
func (b *Buffer) PopUint8Array() ([]uint8, error) {
	n, err := b.PopUint32()
	if err != nil {
		return nil, err
	}
	raw, err := b.PopRaw(int(n))
	if err != nil {
		return nil, err
	}
	out := make([]uint8, len(raw))
	copy(out, raw)
	return out, nil
}

// PopArray reads a uint32 count followed by that many elements via
// readElem, the generic inverse of PushArray.
func PopArray[T any](b *Buffer, readElem func(*Buffer) (T, error)) ([]T, error) {
	n, err := b.PopUint32()
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, n)
	for i := uint32(0); i < n; i++ {
		v, err := readElem(b)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
