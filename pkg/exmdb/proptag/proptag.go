// Package proptag names the property tags ExmdbQueries constructs and
// reads propvals for. A tag's low 16 bits select the wire type, so each
// constant already bakes in the type its propval carries.
package proptag

import "github.com/grommunio/exmdb-go/pkg/exmdb/propval"

var (
	FolderID                 = propval.MakeTag(0x6748, propval.LongLong)
	ParentFolderID            = propval.MakeTag(0x6749, propval.LongLong)
	DisplayName               = propval.MakeTag(0x3001, propval.WString)
	FolderType                = propval.MakeTag(0x3601, propval.Long)
	Comment                   = propval.MakeTag(0x3004, propval.WString)
	CreationTime              = propval.MakeTag(0x3007, propval.FileTime)
	LastModificationTime      = propval.MakeTag(0x3008, propval.FileTime)
	ChangeNumber              = propval.MakeTag(0x67a4, propval.LongLong)
	ChangeKey                 = propval.MakeTag(0x65e2, propval.Binary)
	PredecessorChangeList     = propval.MakeTag(0x65e3, propval.Binary)
	ContainerClass            = propval.MakeTag(0x3613, propval.WString)
	MessageClass              = propval.MakeTag(0x001a, propval.WString)
	MID                       = propval.MakeTag(0x674a, propval.LongLong)
	Body                      = propval.MakeTag(0x1000, propval.WString)
)

// FolderTypeGeneric is the FOLDERTYPE value createFolder assigns to every
// folder it creates.
const FolderTypeGeneric uint32 = 1
