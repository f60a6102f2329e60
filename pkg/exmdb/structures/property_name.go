package structures

import (
	"fmt"

	"github.com/grommunio/exmdb-go/pkg/exmdb/iobuf"
	"github.com/grommunio/exmdb-go/pkg/exmdb/werr"
)

// PropertyNameKind discriminates PropertyName's two live fields.
type PropertyNameKind uint8

const (
	PropertyNameKindID   PropertyNameKind = 0
	PropertyNameKindName PropertyNameKind = 1
)

// PropertyName identifies a named property for ResolveNamedProperties:
// exactly one of Lid (Kind == PropertyNameKindID) or Name
// (Kind == PropertyNameKindName) is live.
type PropertyName struct {
	Kind PropertyNameKind
	GUID GUID
	Lid  uint32
	Name string
}

// Serialize writes Kind, GUID, and then Lid or Name depending on Kind.
func (p PropertyName) Serialize(buf *iobuf.Buffer) error {
	buf.PushUint8(uint8(p.Kind))
	p.GUID.Serialize(buf)
	switch p.Kind {
	case PropertyNameKindID:
		buf.PushUint32(p.Lid)
	case PropertyNameKindName:
		buf.PushCString(p.Name)
	default:
		return fmt.Errorf("%w: unknown PropertyName kind %d", werr.ErrSerialization, p.Kind)
	}
	return nil
}

// DeserializePropertyName reads the wire form Serialize produces.
func DeserializePropertyName(buf *iobuf.Buffer) (PropertyName, error) {
	kindRaw, err := buf.PopUint8()
	if err != nil {
		return PropertyName{}, err
	}
	kind := PropertyNameKind(kindRaw)

	guid, err := DeserializeGUID(buf)
	if err != nil {
		return PropertyName{}, err
	}

	pn := PropertyName{Kind: kind, GUID: guid}
	switch kind {
	case PropertyNameKindID:
		pn.Lid, err = buf.PopUint32()
	case PropertyNameKindName:
		pn.Name, err = buf.PopCString()
	default:
		return PropertyName{}, fmt.Errorf("%w: unknown PropertyName kind %d", werr.ErrSerialization, kind)
	}
	if err != nil {
		return PropertyName{}, err
	}
	return pn, nil
}
