package propval

// Value is the tagged union of payload shapes a TaggedPropval can carry.
// It is a closed set — the concrete types below are the only
// implementations — so a type switch over Value is exhaustive the same way
// a C union tag switch would be, without the unsafe aliasing.
type Value interface {
	isValue()
}

// Scalar value kinds. Each is a defined type over the Go primitive the wire
// type decodes to, modeled here as a closed interface instead of a C-style
// union.
type (
	ByteValue         uint8
	ShortValue        uint16
	LongValue         uint32
	LongLongValue     uint64
	CurrencyValue     int64
	FloatValue        float32
	DoubleValue       float64
	FloatingTimeValue float64
	FileTimeValue     uint64
)

func (ByteValue) isValue()         {}
func (ShortValue) isValue()        {}
func (LongValue) isValue()         {}
func (LongLongValue) isValue()     {}
func (CurrencyValue) isValue()     {}
func (FloatValue) isValue()        {}
func (DoubleValue) isValue()       {}
func (FloatingTimeValue) isValue() {}
func (FileTimeValue) isValue()     {}

// StringValue carries a String8 or WString payload (the wire encoding is
// identical — NUL-terminated bytes; which logical charset applies is
// carried by the TaggedPropval's Type, not by this struct).
//
// Owned distinguishes the two constructors for string/binary payloads: Owned
// true means Data is a private copy freed with this value; Owned false
// means Data is a borrowed view into a buffer the caller must keep alive
// for as long as this TaggedPropval is used. Deserialized values are
// always Owned.
type StringValue struct {
	Data  []byte
	Owned bool
}

func (StringValue) isValue() {}

// BinaryValue carries a length-prefixed binary blob, with the same
// copy-vs-view distinction as StringValue.
type BinaryValue struct {
	Data  []byte
	Owned bool
}

func (BinaryValue) isValue() {}

// Array value kinds, one per scalar above. Deserialization always
// allocates a fresh slice, so these never carry a borrowed
// view the way StringValue/BinaryValue can.
type (
	ByteArrayValue         []uint8
	ShortArrayValue        []uint16
	LongArrayValue         []uint32
	LongLongArrayValue     []uint64
	CurrencyArrayValue     []int64
	FloatArrayValue        []float32
	DoubleArrayValue       []float64
	FloatingTimeArrayValue []float64
	FileTimeArrayValue     []uint64
	StringArrayValue       []StringValue
	BinaryArrayValue       []BinaryValue
)

func (ByteArrayValue) isValue()         {}
func (ShortArrayValue) isValue()        {}
func (LongArrayValue) isValue()         {}
func (LongLongArrayValue) isValue()     {}
func (CurrencyArrayValue) isValue()     {}
func (FloatArrayValue) isValue()        {}
func (DoubleArrayValue) isValue()       {}
func (FloatingTimeArrayValue) isValue() {}
func (FileTimeArrayValue) isValue()     {}
func (StringArrayValue) isValue()       {}
func (BinaryArrayValue) isValue()       {}
