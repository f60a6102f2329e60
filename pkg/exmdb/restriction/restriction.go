// Package restriction implements Restriction, the table-filter AST used to
// narrow LoadContentTable and LoadHierarchyTable: a sum type with twelve
// concrete variants plus a virtual Null that serializes to nothing.
package restriction

import (
	"fmt"
	"math"

	"github.com/grommunio/exmdb-go/pkg/exmdb/iobuf"
	"github.com/grommunio/exmdb-go/pkg/exmdb/propval"
	"github.com/grommunio/exmdb-go/pkg/exmdb/werr"
)

// Restriction is the closed sum type of table filter expressions. The
// concrete types below are its only implementations; a type switch over
// Restriction is exhaustive. Recursive variants (Not, SubRes, Comment,
// Count) hold their child restriction directly rather than through
// inheritance.
type Restriction interface {
	isRestriction()
}

// RelOp is the comparison operator carried by Property, PropComp, and Size.
type RelOp uint8

const (
	LT RelOp = 0x00
	LE RelOp = 0x01
	GT RelOp = 0x02
	GE RelOp = 0x03
	EQ RelOp = 0x04
	NE RelOp = 0x05
)

// FuzzyLevel controls CONTENT matching: the low 16 bits select a match
// mode, the high bits are independent flags that can be OR'd in.
type FuzzyLevel uint32

const (
	FullString FuzzyLevel = 0
	Substring  FuzzyLevel = 1
	Prefix     FuzzyLevel = 2

	IgnoreCase     FuzzyLevel = 1 << 16
	IgnoreNonSpace FuzzyLevel = 1 << 17
	Loose          FuzzyLevel = 1 << 18
)

// Wire type codes, one per variant. Null has no code: it is
// never serialized.
const (
	codeAnd           uint8 = 0x00
	codeOr            uint8 = 0x01
	codeNot           uint8 = 0x02
	codeContent       uint8 = 0x03
	codeProperty      uint8 = 0x04
	codePropComp      uint8 = 0x05
	codeBitmask       uint8 = 0x06
	codeSize          uint8 = 0x07
	codeExist         uint8 = 0x08
	codeSubRestrict   uint8 = 0x09
	codeComment       uint8 = 0x0a
	codeCount         uint8 = 0x0b
)

// maxCommentPropvals is the COMMENT variant's propval count limit (the count
// is written as a single byte).
const maxCommentPropvals = 255

type (
	// And matches when every child matches.
	And []Restriction
	// Or matches when any child matches.
	Or []Restriction
	// Not negates Child.
	Not struct{ Child Restriction }
	// Content performs a string match on Proptag using FuzzyLevel's mode
	// and flags. If Proptag is 0 at serialization time, Value's own tag is
	// substituted.
	Content struct {
		FuzzyLevel FuzzyLevel
		Proptag    uint32
		Value      *propval.TaggedPropval
	}
	// Property compares the row's Proptag value against Value using Op.
	// Proptag substitution follows the same rule as Content.
	Property struct {
		Op      RelOp
		Proptag uint32
		Value   *propval.TaggedPropval
	}
	// PropComp compares two row properties against each other.
	PropComp struct {
		Op                 RelOp
		Proptag1, Proptag2 uint32
	}
	// Bitmask tests Proptag & Mask: if All, every masked bit must be set;
	// otherwise any masked bit set is sufficient.
	Bitmask struct {
		All     bool
		Proptag uint32
		Mask    uint32
	}
	// Size compares a property's byte length against Size using Op.
	Size struct {
		Op      RelOp
		Proptag uint32
		Size    uint32
	}
	// Exist matches rows where Proptag is present.
	Exist struct{ Proptag uint32 }
	// SubRes applies Child to the nested object named by SubobjectTag
	// (e.g. a recipient or attachment table).
	SubRes struct {
		SubobjectTag uint32
		Child        Restriction
	}
	// Comment carries annotation propvals alongside an optional child
	// restriction; Child may be nil.
	Comment struct {
		Propvals []*propval.TaggedPropval
		Child    Restriction
	}
	// Count limits how many rows Child may match.
	Count struct {
		Count uint32
		Child Restriction
	}
	// Null is the virtual "no filter" restriction. It is valid only at
	// top-level "no filter" positions and produces no bytes.
	Null struct{}
)

func (And) isRestriction()      {}
func (Or) isRestriction()       {}
func (Not) isRestriction()      {}
func (Content) isRestriction()  {}
func (Property) isRestriction() {}
func (PropComp) isRestriction() {}
func (Bitmask) isRestriction()  {}
func (Size) isRestriction()     {}
func (Exist) isRestriction()    {}
func (SubRes) isRestriction()   {}
func (Comment) isRestriction()  {}
func (Count) isRestriction()    {}
func (Null) isRestriction()     {}

func effectiveProptag(explicit uint32, value *propval.TaggedPropval) uint32 {
	if explicit != 0 {
		return explicit
	}
	return uint32(value.Tag)
}

// Serialize writes r's wire form. Null writes nothing.
func Serialize(buf *iobuf.Buffer, r Restriction) error {
	switch v := r.(type) {
	case Null:
		return nil
	case And:
		return serializeChain(buf, codeAnd, v)
	case Or:
		return serializeChain(buf, codeOr, v)
	case Not:
		buf.PushUint8(codeNot)
		return Serialize(buf, v.Child)
	case Content:
		buf.PushUint8(codeContent)
		buf.PushUint32(uint32(v.FuzzyLevel))
		buf.PushUint32(effectiveProptag(v.Proptag, v.Value))
		return v.Value.Serialize(buf)
	case Property:
		buf.PushUint8(codeProperty)
		buf.PushUint8(uint8(v.Op))
		buf.PushUint32(effectiveProptag(v.Proptag, v.Value))
		return v.Value.Serialize(buf)
	case PropComp:
		buf.PushUint8(codePropComp)
		buf.PushUint8(uint8(v.Op))
		buf.PushUint32(v.Proptag1)
		buf.PushUint32(v.Proptag2)
		return nil
	case Bitmask:
		buf.PushUint8(codeBitmask)
		if v.All {
			buf.PushUint8(0)
		} else {
			buf.PushUint8(1)
		}
		buf.PushUint32(v.Proptag)
		buf.PushUint32(v.Mask)
		return nil
	case Size:
		buf.PushUint8(codeSize)
		buf.PushUint8(uint8(v.Op))
		buf.PushUint32(v.Proptag)
		buf.PushUint32(v.Size)
		return nil
	case Exist:
		buf.PushUint8(codeExist)
		buf.PushUint32(v.Proptag)
		return nil
	case SubRes:
		buf.PushUint8(codeSubRestrict)
		buf.PushUint32(v.SubobjectTag)
		return Serialize(buf, v.Child)
	case Comment:
		return serializeComment(buf, v)
	case Count:
		buf.PushUint8(codeCount)
		buf.PushUint32(v.Count)
		return Serialize(buf, v.Child)
	default:
		return fmt.Errorf("%w: unknown restriction type %T", werr.ErrSerialization, r)
	}
}

func serializeChain(buf *iobuf.Buffer, code uint8, children []Restriction) error {
	if uint64(len(children)) > math.MaxUint32 {
		return fmt.Errorf("%w: chain of %d children exceeds the u32 count limit", werr.ErrSerialization, len(children))
	}
	buf.PushUint8(code)
	buf.PushUint32(uint32(len(children)))
	for _, c := range children {
		if err := Serialize(buf, c); err != nil {
			return err
		}
	}
	return nil
}

func serializeComment(buf *iobuf.Buffer, c Comment) error {
	n := len(c.Propvals)
	if n == 0 || n > maxCommentPropvals {
		return fmt.Errorf("%w: COMMENT propval count %d outside [1,%d]", werr.ErrSerialization, n, maxCommentPropvals)
	}
	buf.PushUint8(codeComment)
	buf.PushUint8(uint8(n))
	for _, pv := range c.Propvals {
		if err := pv.Serialize(buf); err != nil {
			return err
		}
	}
	if c.Child != nil {
		buf.PushUint8(1)
		return Serialize(buf, c.Child)
	}
	buf.PushUint8(0)
	return nil
}

// Deserialize reads one Restriction off the wire, the inverse of Serialize.
// It never produces Null: callers that might send "no filter" handle that
// case before calling Deserialize, the same way Serialize handles it
// before emitting bytes.
func Deserialize(buf *iobuf.Buffer) (Restriction, error) {
	code, err := buf.PopUint8()
	if err != nil {
		return nil, err
	}
	switch code {
	case codeAnd:
		children, err := deserializeChain(buf)
		return And(children), err
	case codeOr:
		children, err := deserializeChain(buf)
		return Or(children), err
	case codeNot:
		child, err := Deserialize(buf)
		if err != nil {
			return nil, err
		}
		return Not{Child: child}, nil
	case codeContent:
		return deserializeContent(buf)
	case codeProperty:
		return deserializeProperty(buf)
	case codePropComp:
		return deserializePropComp(buf)
	case codeBitmask:
		return deserializeBitmask(buf)
	case codeSize:
		return deserializeSize(buf)
	case codeExist:
		proptag, err := buf.PopUint32()
		if err != nil {
			return nil, err
		}
		return Exist{Proptag: proptag}, nil
	case codeSubRestrict:
		return deserializeSubRes(buf)
	case codeComment:
		return deserializeComment(buf)
	case codeCount:
		return deserializeCount(buf)
	default:
		return nil, fmt.Errorf("%w: unknown restriction type code 0x%02x", werr.ErrSerialization, code)
	}
}

func deserializeChain(buf *iobuf.Buffer) ([]Restriction, error) {
	n, err := buf.PopUint32()
	if err != nil {
		return nil, err
	}
	children := make([]Restriction, 0, n)
	for i := uint32(0); i < n; i++ {
		child, err := Deserialize(buf)
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	return children, nil
}

func deserializeContent(buf *iobuf.Buffer) (Restriction, error) {
	fuzzy, err := buf.PopUint32()
	if err != nil {
		return nil, err
	}
	proptag, err := buf.PopUint32()
	if err != nil {
		return nil, err
	}
	val, err := propval.Deserialize(buf)
	if err != nil {
		return nil, err
	}
	return Content{FuzzyLevel: FuzzyLevel(fuzzy), Proptag: proptag, Value: val}, nil
}

func deserializeProperty(buf *iobuf.Buffer) (Restriction, error) {
	op, err := buf.PopUint8()
	if err != nil {
		return nil, err
	}
	proptag, err := buf.PopUint32()
	if err != nil {
		return nil, err
	}
	val, err := propval.Deserialize(buf)
	if err != nil {
		return nil, err
	}
	return Property{Op: RelOp(op), Proptag: proptag, Value: val}, nil
}

func deserializePropComp(buf *iobuf.Buffer) (Restriction, error) {
	op, err := buf.PopUint8()
	if err != nil {
		return nil, err
	}
	pt1, err := buf.PopUint32()
	if err != nil {
		return nil, err
	}
	pt2, err := buf.PopUint32()
	if err != nil {
		return nil, err
	}
	return PropComp{Op: RelOp(op), Proptag1: pt1, Proptag2: pt2}, nil
}

func deserializeBitmask(buf *iobuf.Buffer) (Restriction, error) {
	notAll, err := buf.PopUint8()
	if err != nil {
		return nil, err
	}
	proptag, err := buf.PopUint32()
	if err != nil {
		return nil, err
	}
	mask, err := buf.PopUint32()
	if err != nil {
		return nil, err
	}
	return Bitmask{All: notAll == 0, Proptag: proptag, Mask: mask}, nil
}

func deserializeSize(buf *iobuf.Buffer) (Restriction, error) {
	op, err := buf.PopUint8()
	if err != nil {
		return nil, err
	}
	proptag, err := buf.PopUint32()
	if err != nil {
		return nil, err
	}
	size, err := buf.PopUint32()
	if err != nil {
		return nil, err
	}
	return Size{Op: RelOp(op), Proptag: proptag, Size: size}, nil
}

func deserializeSubRes(buf *iobuf.Buffer) (Restriction, error) {
	subobject, err := buf.PopUint32()
	if err != nil {
		return nil, err
	}
	child, err := Deserialize(buf)
	if err != nil {
		return nil, err
	}
	return SubRes{SubobjectTag: subobject, Child: child}, nil
}

func deserializeComment(buf *iobuf.Buffer) (Restriction, error) {
	n, err := buf.PopUint8()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: COMMENT propval count 0", werr.ErrSerialization)
	}
	propvals := make([]*propval.TaggedPropval, n)
	for i := range propvals {
		pv, err := propval.Deserialize(buf)
		if err != nil {
			return nil, err
		}
		propvals[i] = pv
	}
	present, err := buf.PopUint8()
	if err != nil {
		return nil, err
	}
	var child Restriction
	if present != 0 {
		child, err = Deserialize(buf)
		if err != nil {
			return nil, err
		}
	}
	return Comment{Propvals: propvals, Child: child}, nil
}

func deserializeCount(buf *iobuf.Buffer) (Restriction, error) {
	count, err := buf.PopUint32()
	if err != nil {
		return nil, err
	}
	child, err := Deserialize(buf)
	if err != nil {
		return nil, err
	}
	return Count{Count: count, Child: child}, nil
}
