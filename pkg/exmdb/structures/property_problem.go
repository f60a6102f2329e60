package structures

import "github.com/grommunio/exmdb-go/pkg/exmdb/iobuf"

// PropertyProblem reports a single property that a Set*Properties call
// could not apply: its position in the request's propval list, the
// property tag involved, and a server-defined error code.
type PropertyProblem struct {
	Index   uint32
	Proptag uint32
	Err     uint32
}

// DeserializePropertyProblem reads one PropertyProblem off the wire.
// PropertyProblem is server-issued, so there is no corresponding Serialize.
func DeserializePropertyProblem(buf *iobuf.Buffer) (PropertyProblem, error) {
	var p PropertyProblem
	var err error
	if p.Index, err = buf.PopUint32(); err != nil {
		return PropertyProblem{}, err
	}
	if p.Proptag, err = buf.PopUint32(); err != nil {
		return PropertyProblem{}, err
	}
	if p.Err, err = buf.PopUint32(); err != nil {
		return PropertyProblem{}, err
	}
	return p, nil
}
