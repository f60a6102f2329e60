package propval

import (
	"fmt"

	"github.com/grommunio/exmdb-go/pkg/exmdb/iobuf"
)

// TaggedPropval is a (tag, type, value) triple, the basic unit of the
// tagged-property data model. Type is redundant with Tag.Type() unless the tag
// declares Unspecified, in which case Type carries the real wire type
// that was (or will be) sent as an extra 16-bit field.
type TaggedPropval struct {
	Tag   Tag
	Type  Type
	Value Value
}

// resolveType reconciles a tag's embedded type code with the type a typed
// constructor expects to produce. If the tag declares Unspecified, want
// becomes the propval's effective Type (out-of-band typing); otherwise the
// tag's embedded type must equal want, or construction fails with
// ErrInvalidType.
func resolveType(tag Tag, want Type) (Type, error) {
	t := tag.Type()
	if t == Unspecified {
		return want, nil
	}
	if t != want {
		return 0, fmt.Errorf("%w: tag declares %s, constructor wants %s", ErrInvalidType, t, want)
	}
	return t, nil
}

func NewByte(tag Tag, v uint8) (*TaggedPropval, error) {
	t, err := resolveType(tag, Byte)
	if err != nil {
		return nil, err
	}
	return &TaggedPropval{Tag: tag, Type: t, Value: ByteValue(v)}, nil
}

func NewShort(tag Tag, v uint16) (*TaggedPropval, error) {
	t, err := resolveType(tag, Short)
	if err != nil {
		return nil, err
	}
	return &TaggedPropval{Tag: tag, Type: t, Value: ShortValue(v)}, nil
}

func NewLong(tag Tag, v uint32) (*TaggedPropval, error) {
	t, err := resolveType(tag, Long)
	if err != nil {
		return nil, err
	}
	return &TaggedPropval{Tag: tag, Type: t, Value: LongValue(v)}, nil
}

func NewLongLong(tag Tag, v uint64) (*TaggedPropval, error) {
	t, err := resolveType(tag, LongLong)
	if err != nil {
		return nil, err
	}
	return &TaggedPropval{Tag: tag, Type: t, Value: LongLongValue(v)}, nil
}

func NewCurrency(tag Tag, v int64) (*TaggedPropval, error) {
	t, err := resolveType(tag, Currency)
	if err != nil {
		return nil, err
	}
	return &TaggedPropval{Tag: tag, Type: t, Value: CurrencyValue(v)}, nil
}

func NewFloat(tag Tag, v float32) (*TaggedPropval, error) {
	t, err := resolveType(tag, Float)
	if err != nil {
		return nil, err
	}
	return &TaggedPropval{Tag: tag, Type: t, Value: FloatValue(v)}, nil
}

func NewDouble(tag Tag, v float64) (*TaggedPropval, error) {
	t, err := resolveType(tag, Double)
	if err != nil {
		return nil, err
	}
	return &TaggedPropval{Tag: tag, Type: t, Value: DoubleValue(v)}, nil
}

func NewFloatingTime(tag Tag, v float64) (*TaggedPropval, error) {
	t, err := resolveType(tag, FloatingTime)
	if err != nil {
		return nil, err
	}
	return &TaggedPropval{Tag: tag, Type: t, Value: FloatingTimeValue(v)}, nil
}

func NewFileTime(tag Tag, v uint64) (*TaggedPropval, error) {
	t, err := resolveType(tag, FileTime)
	if err != nil {
		return nil, err
	}
	return &TaggedPropval{Tag: tag, Type: t, Value: FileTimeValue(v)}, nil
}

// NewString constructs a String8 or WString propval. When copy is true,
// data is duplicated into owned storage; when false, the returned
// TaggedPropval borrows data and the caller must keep it alive for as long
// as the propval is used.
func NewString(tag Tag, wide bool, data []byte, copy bool) (*TaggedPropval, error) {
	want := String8
	if wide {
		want = WString
	}
	t, err := resolveType(tag, want)
	if err != nil {
		return nil, err
	}
	return &TaggedPropval{Tag: tag, Type: t, Value: StringValue{Data: ownOrBorrow(data, copy), Owned: copy}}, nil
}

// NewBinary constructs a Binary propval with the same copy-vs-view choice
// as NewString.
func NewBinary(tag Tag, data []byte, copy bool) (*TaggedPropval, error) {
	t, err := resolveType(tag, Binary)
	if err != nil {
		return nil, err
	}
	return &TaggedPropval{Tag: tag, Type: t, Value: BinaryValue{Data: ownOrBorrow(data, copy), Owned: copy}}, nil
}

func ownOrBorrow(data []byte, copy bool) []byte {
	if !copy {
		return data
	}
	out := make([]byte, len(data))
	builtinCopy(out, data)
	return out
}

// builtinCopy exists only so ownOrBorrow reads naturally next to the `copy`
// parameter name, which shadows the copy builtin.
func builtinCopy(dst, src []byte) { _ = copy(dst, src) }

// Clone performs a deep copy of p: owned buffers are duplicated, borrowed
// views are duplicated too (the clone always owns its storage).
func (p *TaggedPropval) Clone() *TaggedPropval {
	clone := &TaggedPropval{Tag: p.Tag, Type: p.Type}
	switch v := p.Value.(type) {
	case StringValue:
		clone.Value = StringValue{Data: append([]byte(nil), v.Data...), Owned: true}
	case BinaryValue:
		clone.Value = BinaryValue{Data: append([]byte(nil), v.Data...), Owned: true}
	case ByteArrayValue:
		clone.Value = append(ByteArrayValue(nil), v...)
	case ShortArrayValue:
		clone.Value = append(ShortArrayValue(nil), v...)
	case LongArrayValue:
		clone.Value = append(LongArrayValue(nil), v...)
	case LongLongArrayValue:
		clone.Value = append(LongLongArrayValue(nil), v...)
	case CurrencyArrayValue:
		clone.Value = append(CurrencyArrayValue(nil), v...)
	case FloatArrayValue:
		clone.Value = append(FloatArrayValue(nil), v...)
	case DoubleArrayValue:
		clone.Value = append(DoubleArrayValue(nil), v...)
	case FloatingTimeArrayValue:
		clone.Value = append(FloatingTimeArrayValue(nil), v...)
	case FileTimeArrayValue:
		clone.Value = append(FileTimeArrayValue(nil), v...)
	case StringArrayValue:
		out := make(StringArrayValue, len(v))
		for i, s := range v {
			out[i] = StringValue{Data: append([]byte(nil), s.Data...), Owned: true}
		}
		clone.Value = out
	case BinaryArrayValue:
		out := make(BinaryArrayValue, len(v))
		for i, b := range v {
			out[i] = BinaryValue{Data: append([]byte(nil), b.Data...), Owned: true}
		}
		clone.Value = out
	default:
		clone.Value = p.Value // scalar value types are plain values, copy is implicit
	}
	return clone
}

// Serialize writes tag (and type, iff the tag's embedded type is
// Unspecified) followed by the value payload. Fails with ErrUnsupportedType
// when Type is not in the catalog.
func (p *TaggedPropval) Serialize(buf *iobuf.Buffer) error {
	if !p.Type.known() {
		return fmt.Errorf("%w: 0x%04x", ErrUnsupportedType, uint16(p.Type))
	}
	buf.PushUint32(uint32(p.Tag))
	if p.Tag.Type() == Unspecified {
		buf.PushUint16(uint16(p.Type))
	}

	switch v := p.Value.(type) {
	case ByteValue:
		buf.PushUint8(uint8(v))
	case ShortValue:
		buf.PushUint16(uint16(v))
	case LongValue:
		buf.PushUint32(uint32(v))
	case LongLongValue:
		buf.PushUint64(uint64(v))
	case CurrencyValue:
		buf.PushInt64(int64(v))
	case FloatValue:
		buf.PushFloat32(float32(v))
	case DoubleValue:
		buf.PushFloat64(float64(v))
	case FloatingTimeValue:
		buf.PushFloat64(float64(v))
	case FileTimeValue:
		buf.PushUint64(uint64(v))
	case StringValue:
		buf.PushCString(string(v.Data))
	case BinaryValue:
		buf.PushBinary(v.Data)
	case ByteArrayValue:
		buf.PushUint8Array(v)
	case ShortArrayValue:
		iobuf.PushArray(buf, v, func(b *iobuf.Buffer, e uint16) { b.PushUint16(e) })
	case LongArrayValue:
		iobuf.PushArray(buf, v, func(b *iobuf.Buffer, e uint32) { b.PushUint32(e) })
	case LongLongArrayValue:
		iobuf.PushArray(buf, v, func(b *iobuf.Buffer, e uint64) { b.PushUint64(e) })
	case CurrencyArrayValue:
		iobuf.PushArray(buf, v, func(b *iobuf.Buffer, e int64) { b.PushInt64(e) })
	case FloatArrayValue:
		iobuf.PushArray(buf, v, func(b *iobuf.Buffer, e float32) { b.PushFloat32(e) })
	case DoubleArrayValue:
		iobuf.PushArray(buf, v, func(b *iobuf.Buffer, e float64) { b.PushFloat64(e) })
	case FloatingTimeArrayValue:
		iobuf.PushArray(buf, v, func(b *iobuf.Buffer, e float64) { b.PushFloat64(e) })
	case FileTimeArrayValue:
		iobuf.PushArray(buf, v, func(b *iobuf.Buffer, e uint64) { b.PushUint64(e) })
	case StringArrayValue:
		iobuf.PushArray(buf, v, func(b *iobuf.Buffer, e StringValue) { b.PushCString(string(e.Data)) })
	case BinaryArrayValue:
		iobuf.PushArray(buf, v, func(b *iobuf.Buffer, e BinaryValue) { b.PushBinary(e.Data) })
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedType, p.Value)
	}
	return nil
}

// Deserialize reads a tag, resolves its type (reading an explicit type
// field when the tag declares Unspecified), and dispatches on that type to
// read the value. All returned buffers are owned.
func Deserialize(buf *iobuf.Buffer) (*TaggedPropval, error) {
	rawTag, err := buf.PopUint32()
	if err != nil {
		return nil, err
	}
	tag := Tag(rawTag)

	t := tag.Type()
	if t == Unspecified {
		rawType, err := buf.PopUint16()
		if err != nil {
			return nil, err
		}
		t = Type(rawType)
	}

	val, err := deserializeValue(buf, t)
	if err != nil {
		return nil, err
	}
	return &TaggedPropval{Tag: tag, Type: t, Value: val}, nil
}

func deserializeValue(buf *iobuf.Buffer, t Type) (Value, error) {
	switch t {
	case Byte:
		v, err := buf.PopUint8()
		return ByteValue(v), err
	case Short:
		v, err := buf.PopUint16()
		return ShortValue(v), err
	case Long:
		v, err := buf.PopUint32()
		return LongValue(v), err
	case LongLong:
		v, err := buf.PopUint64()
		return LongLongValue(v), err
	case Currency:
		v, err := buf.PopInt64()
		return CurrencyValue(v), err
	case Float:
		v, err := buf.PopFloat32()
		return FloatValue(v), err
	case Double:
		v, err := buf.PopFloat64()
		return DoubleValue(v), err
	case FloatingTime:
		v, err := buf.PopFloat64()
		return FloatingTimeValue(v), err
	case FileTime:
		v, err := buf.PopUint64()
		return FileTimeValue(v), err
	case String8, WString:
		s, err := buf.PopCString()
		if err != nil {
			return nil, err
		}
		return StringValue{Data: []byte(s), Owned: true}, nil
	case Binary:
		raw, err := buf.PopBinary()
		if err != nil {
			return nil, err
		}
		return BinaryValue{Data: append([]byte{}, raw...), Owned: true}, nil
	case MVByte:
		arr, err := buf.PopUint8Array()
		return ByteArrayValue(arr), err
	case MVShort:
		arr, err := iobuf.PopArray(buf, func(b *iobuf.Buffer) (uint16, error) { return b.PopUint16() })
		return ShortArrayValue(arr), err
	case MVLong:
		arr, err := iobuf.PopArray(buf, func(b *iobuf.Buffer) (uint32, error) { return b.PopUint32() })
		return LongArrayValue(arr), err
	case MVLongLong:
		arr, err := iobuf.PopArray(buf, func(b *iobuf.Buffer) (uint64, error) { return b.PopUint64() })
		return LongLongArrayValue(arr), err
	case MVCurrency:
		arr, err := iobuf.PopArray(buf, func(b *iobuf.Buffer) (int64, error) { return b.PopInt64() })
		return CurrencyArrayValue(arr), err
	case MVFloat:
		arr, err := iobuf.PopArray(buf, func(b *iobuf.Buffer) (float32, error) { return b.PopFloat32() })
		return FloatArrayValue(arr), err
	case MVDouble:
		arr, err := iobuf.PopArray(buf, func(b *iobuf.Buffer) (float64, error) { return b.PopFloat64() })
		return DoubleArrayValue(arr), err
	case MVFloatingTime:
		arr, err := iobuf.PopArray(buf, func(b *iobuf.Buffer) (float64, error) { return b.PopFloat64() })
		return FloatingTimeArrayValue(arr), err
	case MVFileTime:
		arr, err := iobuf.PopArray(buf, func(b *iobuf.Buffer) (uint64, error) { return b.PopUint64() })
		return FileTimeArrayValue(arr), err
	case MVString8, MVWString:
		arr, err := iobuf.PopArray(buf, func(b *iobuf.Buffer) (StringValue, error) {
			s, err := b.PopCString()
			return StringValue{Data: []byte(s), Owned: true}, err
		})
		return StringArrayValue(arr), err
	case MVBinary:
		arr, err := iobuf.PopArray(buf, func(b *iobuf.Buffer) (BinaryValue, error) {
			raw, err := b.PopBinary()
			if err != nil {
				return BinaryValue{}, err
			}
			return BinaryValue{Data: append([]byte(nil), raw...), Owned: true}, nil
		})
		return BinaryArrayValue(arr), err
	default:
		return nil, fmt.Errorf("%w: 0x%04x", ErrUnsupportedType, uint16(t))
	}
}
