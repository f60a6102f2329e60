package restriction_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grommunio/exmdb-go/pkg/exmdb/iobuf"
	"github.com/grommunio/exmdb-go/pkg/exmdb/propval"
	"github.com/grommunio/exmdb-go/pkg/exmdb/restriction"
	"github.com/grommunio/exmdb-go/pkg/exmdb/werr"
)

func mustLong(tag propval.Tag, v int32) *propval.TaggedPropval {
	pv, err := propval.NewLong(tag, uint32(v))
	if err != nil {
		panic(err)
	}
	return pv
}

func TestNullSerializesToNothing(t *testing.T) {
	buf := iobuf.New()
	require.NoError(t, restriction.Serialize(buf, restriction.Null{}))
	assert.Equal(t, 0, buf.Len())
}

func TestPropertyRoundTrip(t *testing.T) {
	tag := propval.MakeTag(0x3001, propval.Long)
	r := restriction.Property{
		Op:      restriction.EQ,
		Proptag: uint32(tag),
		Value:   mustLong(tag, 7),
	}
	buf := iobuf.New()
	require.NoError(t, restriction.Serialize(buf, r))

	out, err := restriction.Deserialize(iobuf.FromBytes(buf.Bytes()))
	require.NoError(t, err)
	got, ok := out.(restriction.Property)
	require.True(t, ok)
	assert.Equal(t, r.Op, got.Op)
	assert.Equal(t, r.Proptag, got.Proptag)
	assert.Equal(t, r.Value.Tag, got.Value.Tag)
}

func TestPropertyZeroProptagSubstitutesValueTag(t *testing.T) {
	tag := propval.MakeTag(0x3002, propval.Long)
	r := restriction.Property{Op: restriction.GE, Proptag: 0, Value: mustLong(tag, 1)}
	buf := iobuf.New()
	require.NoError(t, restriction.Serialize(buf, r))

	out, err := restriction.Deserialize(iobuf.FromBytes(buf.Bytes()))
	require.NoError(t, err)
	got := out.(restriction.Property)
	assert.Equal(t, uint32(tag), got.Proptag)
}

func TestAndOrChainRoundTrip(t *testing.T) {
	tag := propval.MakeTag(0x3003, propval.Long)
	leaf := restriction.Exist{Proptag: uint32(tag)}
	chain := restriction.And{leaf, restriction.Not{Child: leaf}}

	buf := iobuf.New()
	require.NoError(t, restriction.Serialize(buf, chain))

	out, err := restriction.Deserialize(iobuf.FromBytes(buf.Bytes()))
	require.NoError(t, err)
	got, ok := out.(restriction.And)
	require.True(t, ok)
	require.Len(t, got, 2)
	assert.Equal(t, leaf, got[0])
	assert.Equal(t, restriction.Not{Child: leaf}, got[1])
}

func TestBitmaskAllFlagEncoding(t *testing.T) {
	tag := propval.MakeTag(0x3004, propval.Long)

	buf := iobuf.New()
	require.NoError(t, restriction.Serialize(buf, restriction.Bitmask{All: true, Proptag: uint32(tag), Mask: 0xff}))
	out, err := restriction.Deserialize(iobuf.FromBytes(buf.Bytes()))
	require.NoError(t, err)
	assert.True(t, out.(restriction.Bitmask).All)

	buf2 := iobuf.New()
	require.NoError(t, restriction.Serialize(buf2, restriction.Bitmask{All: false, Proptag: uint32(tag), Mask: 0xff}))
	out2, err := restriction.Deserialize(iobuf.FromBytes(buf2.Bytes()))
	require.NoError(t, err)
	assert.False(t, out2.(restriction.Bitmask).All)
}

func TestSubResRoundTrip(t *testing.T) {
	tag := propval.MakeTag(0x3005, propval.Long)
	sub := restriction.SubRes{SubobjectTag: 0x0e04, Child: restriction.Exist{Proptag: uint32(tag)}}

	buf := iobuf.New()
	require.NoError(t, restriction.Serialize(buf, sub))
	out, err := restriction.Deserialize(iobuf.FromBytes(buf.Bytes()))
	require.NoError(t, err)
	got := out.(restriction.SubRes)
	assert.Equal(t, sub.SubobjectTag, got.SubobjectTag)
	assert.Equal(t, sub.Child, got.Child)
}

func TestCommentRoundTripWithAndWithoutChild(t *testing.T) {
	tag := propval.MakeTag(0x3006, propval.Long)
	pv := mustLong(tag, 99)

	withChild := restriction.Comment{Propvals: []*propval.TaggedPropval{pv}, Child: restriction.Exist{Proptag: uint32(tag)}}
	buf := iobuf.New()
	require.NoError(t, restriction.Serialize(buf, withChild))
	out, err := restriction.Deserialize(iobuf.FromBytes(buf.Bytes()))
	require.NoError(t, err)
	got := out.(restriction.Comment)
	require.Len(t, got.Propvals, 1)
	assert.Equal(t, pv.Tag, got.Propvals[0].Tag)
	assert.Equal(t, restriction.Exist{Proptag: uint32(tag)}, got.Child)

	withoutChild := restriction.Comment{Propvals: []*propval.TaggedPropval{pv}}
	buf2 := iobuf.New()
	require.NoError(t, restriction.Serialize(buf2, withoutChild))
	out2, err := restriction.Deserialize(iobuf.FromBytes(buf2.Bytes()))
	require.NoError(t, err)
	assert.Nil(t, out2.(restriction.Comment).Child)
}

func TestCommentRejectsEmptyPropvals(t *testing.T) {
	buf := iobuf.New()
	err := restriction.Serialize(buf, restriction.Comment{})
	assert.ErrorIs(t, err, werr.ErrSerialization)
}

func TestCommentRejectsOversizePropvals(t *testing.T) {
	propvals := make([]*propval.TaggedPropval, 256)
	tag := propval.MakeTag(0x3007, propval.Long)
	for i := range propvals {
		propvals[i] = mustLong(tag, int32(i))
	}
	buf := iobuf.New()
	err := restriction.Serialize(buf, restriction.Comment{Propvals: propvals})
	assert.ErrorIs(t, err, werr.ErrSerialization)
}

func TestCountRoundTrip(t *testing.T) {
	tag := propval.MakeTag(0x3008, propval.Long)
	c := restriction.Count{Count: 5, Child: restriction.Exist{Proptag: uint32(tag)}}
	buf := iobuf.New()
	require.NoError(t, restriction.Serialize(buf, c))
	out, err := restriction.Deserialize(iobuf.FromBytes(buf.Bytes()))
	require.NoError(t, err)
	got := out.(restriction.Count)
	assert.Equal(t, c.Count, got.Count)
	assert.Equal(t, c.Child, got.Child)
}

func TestDeserializeUnknownTypeCode(t *testing.T) {
	buf := iobuf.New()
	buf.PushUint8(0xff)
	_, err := restriction.Deserialize(iobuf.FromBytes(buf.Bytes()))
	assert.ErrorIs(t, err, werr.ErrSerialization)
}

func TestSizeAndPropCompRoundTrip(t *testing.T) {
	tag1 := propval.MakeTag(0x3009, propval.Long)
	tag2 := propval.MakeTag(0x300a, propval.Long)

	buf := iobuf.New()
	sz := restriction.Size{Op: restriction.GT, Proptag: uint32(tag1), Size: 1024}
	require.NoError(t, restriction.Serialize(buf, sz))
	out, err := restriction.Deserialize(iobuf.FromBytes(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, sz, out)

	buf2 := iobuf.New()
	pc := restriction.PropComp{Op: restriction.NE, Proptag1: uint32(tag1), Proptag2: uint32(tag2)}
	require.NoError(t, restriction.Serialize(buf2, pc))
	out2, err := restriction.Deserialize(iobuf.FromBytes(buf2.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, pc, out2)
}

func TestContentZeroProptagSubstitutesValueTag(t *testing.T) {
	tag := propval.MakeTag(0x300b, propval.Long)
	c := restriction.Content{FuzzyLevel: restriction.Substring | restriction.IgnoreCase, Value: mustLong(tag, 42)}
	buf := iobuf.New()
	require.NoError(t, restriction.Serialize(buf, c))
	out, err := restriction.Deserialize(iobuf.FromBytes(buf.Bytes()))
	require.NoError(t, err)
	got := out.(restriction.Content)
	assert.Equal(t, uint32(tag), got.Proptag)
	assert.Equal(t, c.FuzzyLevel, got.FuzzyLevel)
}
