package iobuf_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grommunio/exmdb-go/pkg/exmdb/iobuf"
)

func TestPushPopScalars(t *testing.T) {
	b := iobuf.New()
	b.PushUint8(0xab)
	b.PushUint16(0xbeef)
	b.PushUint32(0xdeadbeef)
	b.PushUint64(0x0102030405060708)
	b.PushFloat32(3.5)
	b.PushFloat64(2.71828)
	b.PushBool(true)

	r := iobuf.FromBytes(b.Bytes())
	u8, err := r.PopUint8()
	require.NoError(t, err)
	assert.EqualValues(t, 0xab, u8)

	u16, err := r.PopUint16()
	require.NoError(t, err)
	assert.EqualValues(t, 0xbeef, u16)

	u32, err := r.PopUint32()
	require.NoError(t, err)
	assert.EqualValues(t, 0xdeadbeef, u32)

	u64, err := r.PopUint64()
	require.NoError(t, err)
	assert.EqualValues(t, 0x0102030405060708, u64)

	f32, err := r.PopFloat32()
	require.NoError(t, err)
	assert.EqualValues(t, 3.5, f32)

	f64, err := r.PopFloat64()
	require.NoError(t, err)
	assert.EqualValues(t, 2.71828, f64)

	bl, err := r.PopBool()
	require.NoError(t, err)
	assert.True(t, bl)

	assert.Zero(t, r.Remaining())
}

func TestPopShortRead(t *testing.T) {
	b := iobuf.New()
	b.PushUint8(1)
	r := iobuf.FromBytes(b.Bytes())
	_, err := r.PopUint32()
	assert.ErrorIs(t, err, iobuf.ErrShort)
}

func TestCStringRoundTrip(t *testing.T) {
	b := iobuf.New()
	b.PushCString("hello")
	b.PushCString("")
	b.PushCString("world")

	r := iobuf.FromBytes(b.Bytes())
	s1, err := r.PopCString()
	require.NoError(t, err)
	assert.Equal(t, "hello", s1)

	s2, err := r.PopCString()
	require.NoError(t, err)
	assert.Equal(t, "", s2)

	s3, err := r.PopCString()
	require.NoError(t, err)
	assert.Equal(t, "world", s3)
}

func TestPopCStringMissingTerminator(t *testing.T) {
	b := iobuf.New()
	b.PushRaw([]byte("no terminator"))
	r := iobuf.FromBytes(b.Bytes())
	_, err := r.PopCString()
	assert.ErrorIs(t, err, iobuf.ErrShort)
}

func TestBinaryRoundTrip(t *testing.T) {
	b := iobuf.New()
	b.PushBinary([]byte{0x01, 0x02, 0x03})
	b.PushBinary(nil)

	r := iobuf.FromBytes(b.Bytes())
	v1, err := r.PopBinary()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, v1)

	v2, err := r.PopBinary()
	require.NoError(t, err)
	assert.Equal(t, []byte{}, v2)
}

func TestArrayRoundTrip(t *testing.T) {
	b := iobuf.New()
	iobuf.PushArray(b, []uint32{10, 20, 30}, func(buf *iobuf.Buffer, v uint32) { buf.PushUint32(v) })

	r := iobuf.FromBytes(b.Bytes())
	out, err := iobuf.PopArray(r, func(buf *iobuf.Buffer) (uint32, error) { return buf.PopUint32() })
	require.NoError(t, err)
	assert.Equal(t, []uint32{10, 20, 30}, out)
}

func TestUint8ArrayIsRawBlock(t *testing.T) {
	b := iobuf.New()
	b.PushUint8Array([]uint8{1, 2, 3, 4, 5})

	r := iobuf.FromBytes(b.Bytes())
	out, err := r.PopUint8Array()
	require.NoError(t, err)
	assert.Equal(t, []uint8{1, 2, 3, 4, 5}, out)
}

func TestFraming(t *testing.T) {
	b := iobuf.New()
	b.Start()
	b.PushUint8(1)
	b.PushUint32(0xcafebabe)
	require.NoError(t, b.Finalize())

	r := iobuf.FromBytes(b.Bytes())
	length, err := r.PopUint32()
	require.NoError(t, err)
	assert.EqualValues(t, 5, length) // 1 opcode byte + 4 byte uint32

	opcode, err := r.PopUint8()
	require.NoError(t, err)
	assert.EqualValues(t, 1, opcode)

	val, err := r.PopUint32()
	require.NoError(t, err)
	assert.EqualValues(t, 0xcafebabe, val)
}

func TestFinalizeWithoutStart(t *testing.T) {
	b := iobuf.New()
	assert.Error(t, b.Finalize())
}

func TestClearResetsState(t *testing.T) {
	b := iobuf.New()
	b.PushUint32(42)
	b.Clear()
	assert.Zero(t, b.Len())
	assert.Zero(t, b.Pos())
}
