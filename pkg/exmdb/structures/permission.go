package structures

import (
	"github.com/grommunio/exmdb-go/pkg/exmdb/iobuf"
	"github.com/grommunio/exmdb-go/pkg/exmdb/propval"
)

// PermissionFlag is one row operation UpdateFolderPermission batches.
type PermissionFlag uint8

const (
	AddRow    PermissionFlag = 1
	ModifyRow PermissionFlag = 2
	RemoveRow PermissionFlag = 4
)

// SpecialMemberID and AllMembersID are the two member ids excluded from
// every permission diff: a placeholder row and the "everyone"/anonymous
// group row.
const (
	SpecialMemberID = 0
	AllMembersID    = ^uint64(0)
)

// PermissionData is a single row edit sent to UpdateFolderPermission: a
// flag naming the operation plus the propvals describing the row (member
// id, rights, and so on).
type PermissionData struct {
	Flags    PermissionFlag
	Propvals []*propval.TaggedPropval
}

// Serialize writes Flags, then the propval list as a VArray.
func (p PermissionData) Serialize(buf *iobuf.Buffer) error {
	buf.PushUint8(uint8(p.Flags))
	buf.PushUint32(uint32(len(p.Propvals)))
	for _, pv := range p.Propvals {
		if err := pv.Serialize(buf); err != nil {
			return err
		}
	}
	return nil
}
