// Package requests implements the exmdb call catalog: one type per RPC,
// each pairing a wire-body writer with its response parser. The first byte
// of every request body is the call's opcode.
package requests

import (
	"encoding/binary"

	"github.com/grommunio/exmdb-go/pkg/exmdb/iobuf"
	"github.com/grommunio/exmdb-go/pkg/exmdb/propval"
	"github.com/grommunio/exmdb-go/pkg/exmdb/restriction"
	"github.com/grommunio/exmdb-go/pkg/exmdb/structures"
)

// Opcodes, one per call. The exact numbering is internal to this client and
// server; what matters is that both ends agree on a fixed table by name.
const (
	OpConnect                 byte = 0x00
	OpAllocateCn              byte = 0x01
	OpLoadHierarchyTable      byte = 0x02
	OpLoadContentTable        byte = 0x03
	OpLoadPermissionTable     byte = 0x04
	OpQueryTable              byte = 0x05
	OpUnloadTable             byte = 0x06
	OpGetFolderByName         byte = 0x07
	OpCreateFolderByProperties byte = 0x08
	OpDeleteFolder            byte = 0x09
	OpEmptyFolder             byte = 0x0a
	OpSetFolderProperties     byte = 0x0b
	OpGetFolderProperties     byte = 0x0c
	OpSetStoreProperties      byte = 0x0d
	OpGetStoreProperties      byte = 0x0e
	OpGetAllStoreProperties   byte = 0x0f
	OpRemoveStoreProperties   byte = 0x10
	OpUpdateFolderPermission  byte = 0x11
	OpGetMessageProperties    byte = 0x12
	OpDeleteMessages          byte = 0x13
	OpResolveNamedProperties  byte = 0x14
)

var opcodeNames = map[byte]string{
	OpConnect:                  "Connect",
	OpAllocateCn:               "AllocateCn",
	OpLoadHierarchyTable:       "LoadHierarchyTable",
	OpLoadContentTable:         "LoadContentTable",
	OpLoadPermissionTable:      "LoadPermissionTable",
	OpQueryTable:               "QueryTable",
	OpUnloadTable:              "UnloadTable",
	OpGetFolderByName:          "GetFolderByName",
	OpCreateFolderByProperties: "CreateFolderByProperties",
	OpDeleteFolder:             "DeleteFolder",
	OpEmptyFolder:              "EmptyFolder",
	OpSetFolderProperties:      "SetFolderProperties",
	OpGetFolderProperties:      "GetFolderProperties",
	OpSetStoreProperties:       "SetStoreProperties",
	OpGetStoreProperties:       "GetStoreProperties",
	OpGetAllStoreProperties:    "GetAllStoreProperties",
	OpRemoveStoreProperties:    "RemoveStoreProperties",
	OpUpdateFolderPermission:   "UpdateFolderPermission",
	OpGetMessageProperties:     "GetMessageProperties",
	OpDeleteMessages:           "DeleteMessages",
	OpResolveNamedProperties:   "ResolveNamedProperties",
}

// OpcodeName returns the human-readable call name for op, or "UNKNOWN" for
// an opcode outside the catalog. Used for metric labels and log fields.
func OpcodeName(op byte) string {
	if name, ok := opcodeNames[op]; ok {
		return name
	}
	return "UNKNOWN"
}

// Table load flags. TableFlagDepth requests a recursive (subtree) hierarchy
// walk instead of a single level.
const (
	TableFlagDepth      uint8 = 0x02
	TableFlagAssociated uint8 = 0x04
	TableFlagSoftDelete uint8 = 0x08
)

// Request is the generic shape every call in this package implements: R is
// the call's response type. A request's body is opcode ‖ WriteBody(args).
type Request[R any] interface {
	Opcode() byte
	WriteBody(buf *iobuf.Buffer) error
	ParseResponse(buf *iobuf.Buffer) (R, error)
}

func writeProptags(buf *iobuf.Buffer, tags []uint32) {
	iobuf.PushArray(buf, tags, func(b *iobuf.Buffer, t uint32) { b.PushUint32(t) })
}

func readProptags(buf *iobuf.Buffer) ([]uint32, error) {
	return iobuf.PopArray(buf, func(b *iobuf.Buffer) (uint32, error) { return b.PopUint32() })
}

func writePropvals(buf *iobuf.Buffer, propvals []*propval.TaggedPropval) error {
	buf.PushUint32(uint32(len(propvals)))
	for _, pv := range propvals {
		if err := pv.Serialize(buf); err != nil {
			return err
		}
	}
	return nil
}

func readPropvals(buf *iobuf.Buffer) ([]*propval.TaggedPropval, error) {
	n, err := buf.PopUint32()
	if err != nil {
		return nil, err
	}
	out := make([]*propval.TaggedPropval, 0, n)
	for i := uint32(0); i < n; i++ {
		pv, err := propval.Deserialize(buf)
		if err != nil {
			return nil, err
		}
		out = append(out, pv)
	}
	return out, nil
}

// writeOptionalRestriction writes a presence byte followed by r's wire form
// when present. Restriction itself has no presence marker (Null writes
// zero bytes), so the catalog carries that marker at the call-site level.
func writeOptionalRestriction(buf *iobuf.Buffer, r restriction.Restriction) error {
	if r == nil {
		buf.PushUint8(0)
		return nil
	}
	if _, isNull := r.(restriction.Null); isNull {
		buf.PushUint8(0)
		return nil
	}
	buf.PushUint8(1)
	return restriction.Serialize(buf, r)
}

func readOptionalRestriction(buf *iobuf.Buffer) (restriction.Restriction, error) {
	present, err := buf.PopUint8()
	if err != nil {
		return nil, err
	}
	if present == 0 {
		return restriction.Null{}, nil
	}
	return restriction.Deserialize(buf)
}

// readBigEndianUint64 decodes the 8-byte big-endian integers the protocol
// uses for change numbers, the one place wire integers are not
// little-endian.
func readBigEndianUint64(buf *iobuf.Buffer) (uint64, error) {
	raw, err := buf.PopRaw(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(raw), nil
}

// ---- Connect --------------------------------------------------------------

// Connect must be the first call issued on a fresh connection.
type Connect struct {
	Prefix    string
	IsPrivate bool
}

type ConnectResponse struct{}

func (Connect) Opcode() byte { return OpConnect }

func (c Connect) WriteBody(buf *iobuf.Buffer) error {
	buf.PushCString(c.Prefix)
	buf.PushBool(c.IsPrivate)
	return nil
}

func (Connect) ParseResponse(buf *iobuf.Buffer) (ConnectResponse, error) {
	return ConnectResponse{}, nil
}

// ---- AllocateCn -------------------------------------------------------------

// AllocateCn allocates one change number from the server's monotonic
// counter.
type AllocateCn struct{}

type AllocateCnResponse struct {
	ChangeNum uint64
}

func (AllocateCn) Opcode() byte                        { return OpAllocateCn }
func (AllocateCn) WriteBody(buf *iobuf.Buffer) error    { return nil }

func (AllocateCn) ParseResponse(buf *iobuf.Buffer) (AllocateCnResponse, error) {
	cn, err := readBigEndianUint64(buf)
	if err != nil {
		return AllocateCnResponse{}, err
	}
	return AllocateCnResponse{ChangeNum: cn}, nil
}

// ---- table loads ------------------------------------------------------------

// LoadTableResponse is the common response shape of every Load…Table call.
type LoadTableResponse struct {
	TableID  uint32
	RowCount uint32
}

func parseLoadTableResponse(buf *iobuf.Buffer) (LoadTableResponse, error) {
	tableID, err := buf.PopUint32()
	if err != nil {
		return LoadTableResponse{}, err
	}
	rowCount, err := buf.PopUint32()
	if err != nil {
		return LoadTableResponse{}, err
	}
	return LoadTableResponse{TableID: tableID, RowCount: rowCount}, nil
}

// LoadHierarchyTable opens a folder-listing table scoped to FolderID,
// optionally filtered by Restriction and walked recursively when
// TableFlags carries TableFlagDepth.
type LoadHierarchyTable struct {
	Homedir     string
	FolderID    uint64
	Username    string
	TableFlags  uint8
	Restriction restriction.Restriction
}

func (LoadHierarchyTable) Opcode() byte { return OpLoadHierarchyTable }

func (r LoadHierarchyTable) WriteBody(buf *iobuf.Buffer) error {
	buf.PushCString(r.Homedir)
	buf.PushUint64(r.FolderID)
	buf.PushCString(r.Username)
	buf.PushUint8(r.TableFlags)
	return writeOptionalRestriction(buf, r.Restriction)
}

func (LoadHierarchyTable) ParseResponse(buf *iobuf.Buffer) (LoadTableResponse, error) {
	return parseLoadTableResponse(buf)
}

// LoadContentTable opens a message-listing table for FolderID.
type LoadContentTable struct {
	Homedir     string
	Cpid        uint32
	FolderID    uint64
	Username    string
	TableFlags  uint8
	Restriction restriction.Restriction
}

func (LoadContentTable) Opcode() byte { return OpLoadContentTable }

func (r LoadContentTable) WriteBody(buf *iobuf.Buffer) error {
	buf.PushCString(r.Homedir)
	buf.PushUint32(r.Cpid)
	buf.PushUint64(r.FolderID)
	buf.PushCString(r.Username)
	buf.PushUint8(r.TableFlags)
	return writeOptionalRestriction(buf, r.Restriction)
}

func (LoadContentTable) ParseResponse(buf *iobuf.Buffer) (LoadTableResponse, error) {
	return parseLoadTableResponse(buf)
}

// LoadPermissionTable opens a folder's access-control-list table.
type LoadPermissionTable struct {
	Homedir  string
	FolderID uint64
	Flags    uint8
}

func (LoadPermissionTable) Opcode() byte { return OpLoadPermissionTable }

func (r LoadPermissionTable) WriteBody(buf *iobuf.Buffer) error {
	buf.PushCString(r.Homedir)
	buf.PushUint64(r.FolderID)
	buf.PushUint8(r.Flags)
	return nil
}

func (LoadPermissionTable) ParseResponse(buf *iobuf.Buffer) (LoadTableResponse, error) {
	return parseLoadTableResponse(buf)
}

// ---- QueryTable / UnloadTable -----------------------------------------------

// QueryTable pages rows out of a table previously opened by a Load…Table
// call.
type QueryTable struct {
	Homedir   string
	Username  string
	Cpid      uint32
	TableID   uint32
	Proptags  []uint32
	RowOffset uint32
	RowCount  uint32
}

type QueryTableResponse struct {
	Entries [][]*propval.TaggedPropval
}

func (QueryTable) Opcode() byte { return OpQueryTable }

func (r QueryTable) WriteBody(buf *iobuf.Buffer) error {
	buf.PushCString(r.Homedir)
	buf.PushCString(r.Username)
	buf.PushUint32(r.Cpid)
	buf.PushUint32(r.TableID)
	writeProptags(buf, r.Proptags)
	buf.PushUint32(r.RowOffset)
	buf.PushUint32(r.RowCount)
	return nil
}

func (QueryTable) ParseResponse(buf *iobuf.Buffer) (QueryTableResponse, error) {
	n, err := buf.PopUint32()
	if err != nil {
		return QueryTableResponse{}, err
	}
	entries := make([][]*propval.TaggedPropval, 0, n)
	for i := uint32(0); i < n; i++ {
		row, err := readPropvals(buf)
		if err != nil {
			return QueryTableResponse{}, err
		}
		entries = append(entries, row)
	}
	return QueryTableResponse{Entries: entries}, nil
}

// UnloadTable releases a table handle; it must follow every Load…Table on
// both success and error paths.
type UnloadTable struct {
	Homedir string
	TableID uint32
}

type AckResponse struct{}

func (UnloadTable) Opcode() byte { return OpUnloadTable }

func (r UnloadTable) WriteBody(buf *iobuf.Buffer) error {
	buf.PushCString(r.Homedir)
	buf.PushUint32(r.TableID)
	return nil
}

func (UnloadTable) ParseResponse(buf *iobuf.Buffer) (AckResponse, error) {
	return AckResponse{}, nil
}

// ---- folder operations -------------------------------------------------------

// FolderIDResponse is returned by calls that resolve or create a single
// folder.
type FolderIDResponse struct {
	FolderID uint64
}

// GetFolderByName resolves a folder id from its display name under a
// parent folder.
type GetFolderByName struct {
	Homedir        string
	ParentFolderID uint64
	FolderName     string
}

func (GetFolderByName) Opcode() byte { return OpGetFolderByName }

func (r GetFolderByName) WriteBody(buf *iobuf.Buffer) error {
	buf.PushCString(r.Homedir)
	buf.PushUint64(r.ParentFolderID)
	buf.PushCString(r.FolderName)
	return nil
}

func (GetFolderByName) ParseResponse(buf *iobuf.Buffer) (FolderIDResponse, error) {
	id, err := buf.PopUint64()
	if err != nil {
		return FolderIDResponse{}, err
	}
	return FolderIDResponse{FolderID: id}, nil
}

// CreateFolderByProperties creates a folder from a fully assembled propval
// set (display name, parent, change key, and so on).
type CreateFolderByProperties struct {
	Homedir  string
	Cpid     uint32
	Propvals []*propval.TaggedPropval
}

func (CreateFolderByProperties) Opcode() byte { return OpCreateFolderByProperties }

func (r CreateFolderByProperties) WriteBody(buf *iobuf.Buffer) error {
	buf.PushCString(r.Homedir)
	buf.PushUint32(r.Cpid)
	return writePropvals(buf, r.Propvals)
}

func (CreateFolderByProperties) ParseResponse(buf *iobuf.Buffer) (FolderIDResponse, error) {
	id, err := buf.PopUint64()
	if err != nil {
		return FolderIDResponse{}, err
	}
	return FolderIDResponse{FolderID: id}, nil
}

// SuccessResponse is a single boolean ack.
type SuccessResponse struct {
	Success bool
}

// DeleteFolder removes a folder, permanently when Hard is set.
type DeleteFolder struct {
	Homedir  string
	Cpid     uint32
	FolderID uint64
	Hard     bool
}

func (DeleteFolder) Opcode() byte { return OpDeleteFolder }

func (r DeleteFolder) WriteBody(buf *iobuf.Buffer) error {
	buf.PushCString(r.Homedir)
	buf.PushUint32(r.Cpid)
	buf.PushUint64(r.FolderID)
	buf.PushBool(r.Hard)
	return nil
}

func (DeleteFolder) ParseResponse(buf *iobuf.Buffer) (SuccessResponse, error) {
	ok, err := buf.PopBool()
	if err != nil {
		return SuccessResponse{}, err
	}
	return SuccessResponse{Success: ok}, nil
}

// EmptyFolder deletes some combination of a folder's own messages and its
// subfolders without deleting the folder itself.
type EmptyFolder struct {
	Homedir     string
	Cpid        uint32
	Username    string
	FolderID    uint64
	Hard        bool
	Normal      bool
	Associated  bool
	Subfolders  bool
}

func (EmptyFolder) Opcode() byte { return OpEmptyFolder }

func (r EmptyFolder) WriteBody(buf *iobuf.Buffer) error {
	buf.PushCString(r.Homedir)
	buf.PushUint32(r.Cpid)
	buf.PushCString(r.Username)
	buf.PushUint64(r.FolderID)
	buf.PushBool(r.Hard)
	buf.PushBool(r.Normal)
	buf.PushBool(r.Associated)
	buf.PushBool(r.Subfolders)
	return nil
}

func (EmptyFolder) ParseResponse(buf *iobuf.Buffer) (AckResponse, error) {
	return AckResponse{}, nil
}

// ---- property get/set ---------------------------------------------------

// ProblemsResponse reports which of the propvals a Set*Properties call
// could not apply.
type ProblemsResponse struct {
	Problems []structures.PropertyProblem
}

func parseProblemsResponse(buf *iobuf.Buffer) (ProblemsResponse, error) {
	n, err := buf.PopUint32()
	if err != nil {
		return ProblemsResponse{}, err
	}
	problems := make([]structures.PropertyProblem, 0, n)
	for i := uint32(0); i < n; i++ {
		p, err := structures.DeserializePropertyProblem(buf)
		if err != nil {
			return ProblemsResponse{}, err
		}
		problems = append(problems, p)
	}
	return ProblemsResponse{Problems: problems}, nil
}

// PropvalsResponse carries the propvals a Get*Properties call read back.
type PropvalsResponse struct {
	Propvals []*propval.TaggedPropval
}

func parsePropvalsResponse(buf *iobuf.Buffer) (PropvalsResponse, error) {
	propvals, err := readPropvals(buf)
	if err != nil {
		return PropvalsResponse{}, err
	}
	return PropvalsResponse{Propvals: propvals}, nil
}

// SetFolderProperties writes propvals onto a folder.
type SetFolderProperties struct {
	Homedir  string
	Cpid     uint32
	FolderID uint64
	Propvals []*propval.TaggedPropval
}

func (SetFolderProperties) Opcode() byte { return OpSetFolderProperties }

func (r SetFolderProperties) WriteBody(buf *iobuf.Buffer) error {
	buf.PushCString(r.Homedir)
	buf.PushUint32(r.Cpid)
	buf.PushUint64(r.FolderID)
	return writePropvals(buf, r.Propvals)
}

func (SetFolderProperties) ParseResponse(buf *iobuf.Buffer) (ProblemsResponse, error) {
	return parseProblemsResponse(buf)
}

// GetFolderProperties reads back a folder's propvals for Proptags.
type GetFolderProperties struct {
	Homedir  string
	Cpid     uint32
	FolderID uint64
	Proptags []uint32
}

func (GetFolderProperties) Opcode() byte { return OpGetFolderProperties }

func (r GetFolderProperties) WriteBody(buf *iobuf.Buffer) error {
	buf.PushCString(r.Homedir)
	buf.PushUint32(r.Cpid)
	buf.PushUint64(r.FolderID)
	writeProptags(buf, r.Proptags)
	return nil
}

func (GetFolderProperties) ParseResponse(buf *iobuf.Buffer) (PropvalsResponse, error) {
	return parsePropvalsResponse(buf)
}

// SetStoreProperties writes propvals onto the store (mailbox/public-folder
// root) itself.
type SetStoreProperties struct {
	Homedir  string
	Cpid     uint32
	Propvals []*propval.TaggedPropval
}

func (SetStoreProperties) Opcode() byte { return OpSetStoreProperties }

func (r SetStoreProperties) WriteBody(buf *iobuf.Buffer) error {
	buf.PushCString(r.Homedir)
	buf.PushUint32(r.Cpid)
	return writePropvals(buf, r.Propvals)
}

func (SetStoreProperties) ParseResponse(buf *iobuf.Buffer) (ProblemsResponse, error) {
	return parseProblemsResponse(buf)
}

// GetStoreProperties reads Proptags off the store.
type GetStoreProperties struct {
	Homedir  string
	Cpid     uint32
	Proptags []uint32
}

func (GetStoreProperties) Opcode() byte { return OpGetStoreProperties }

func (r GetStoreProperties) WriteBody(buf *iobuf.Buffer) error {
	buf.PushCString(r.Homedir)
	buf.PushUint32(r.Cpid)
	writeProptags(buf, r.Proptags)
	return nil
}

func (GetStoreProperties) ParseResponse(buf *iobuf.Buffer) (PropvalsResponse, error) {
	return parsePropvalsResponse(buf)
}

// GetAllStoreProperties reads every propval the store currently carries.
type GetAllStoreProperties struct {
	Homedir string
	Cpid    uint32
}

func (GetAllStoreProperties) Opcode() byte { return OpGetAllStoreProperties }

func (r GetAllStoreProperties) WriteBody(buf *iobuf.Buffer) error {
	buf.PushCString(r.Homedir)
	buf.PushUint32(r.Cpid)
	return nil
}

func (GetAllStoreProperties) ParseResponse(buf *iobuf.Buffer) (PropvalsResponse, error) {
	return parsePropvalsResponse(buf)
}

// RemoveStoreProperties deletes Proptags from the store.
type RemoveStoreProperties struct {
	Homedir  string
	Proptags []uint32
}

func (RemoveStoreProperties) Opcode() byte { return OpRemoveStoreProperties }

func (r RemoveStoreProperties) WriteBody(buf *iobuf.Buffer) error {
	buf.PushCString(r.Homedir)
	writeProptags(buf, r.Proptags)
	return nil
}

func (RemoveStoreProperties) ParseResponse(buf *iobuf.Buffer) (AckResponse, error) {
	return AckResponse{}, nil
}

// ---- permissions ----------------------------------------------------------

// UpdateFolderPermission batches a set of permission row edits against a
// folder's access control list.
type UpdateFolderPermission struct {
	Homedir         string
	FolderID        uint64
	IncludeFreebusy bool
	Permissions     []structures.PermissionData
}

func (UpdateFolderPermission) Opcode() byte { return OpUpdateFolderPermission }

func (r UpdateFolderPermission) WriteBody(buf *iobuf.Buffer) error {
	buf.PushCString(r.Homedir)
	buf.PushUint64(r.FolderID)
	buf.PushBool(r.IncludeFreebusy)
	buf.PushUint32(uint32(len(r.Permissions)))
	for _, p := range r.Permissions {
		if err := p.Serialize(buf); err != nil {
			return err
		}
	}
	return nil
}

func (UpdateFolderPermission) ParseResponse(buf *iobuf.Buffer) (AckResponse, error) {
	return AckResponse{}, nil
}

// ---- messages ---------------------------------------------------------------

// GetMessageProperties reads Proptags off a single message.
type GetMessageProperties struct {
	Homedir   string
	Username  string
	Cpid      uint32
	MessageID uint64
	Proptags  []uint32
}

func (GetMessageProperties) Opcode() byte { return OpGetMessageProperties }

func (r GetMessageProperties) WriteBody(buf *iobuf.Buffer) error {
	buf.PushCString(r.Homedir)
	buf.PushCString(r.Username)
	buf.PushUint32(r.Cpid)
	buf.PushUint64(r.MessageID)
	writeProptags(buf, r.Proptags)
	return nil
}

func (GetMessageProperties) ParseResponse(buf *iobuf.Buffer) (PropvalsResponse, error) {
	return parsePropvalsResponse(buf)
}

// PartialResponse reports whether a batch message operation only partially
// succeeded.
type PartialResponse struct {
	Partial bool
}

// DeleteMessages removes MessageIDs from FolderID, permanently when Hard is
// set.
type DeleteMessages struct {
	Homedir    string
	AccountID  uint32
	Cpid       uint32
	Username   string
	FolderID   uint64
	MessageIDs []uint64
	Hard       bool
}

func (DeleteMessages) Opcode() byte { return OpDeleteMessages }

func (r DeleteMessages) WriteBody(buf *iobuf.Buffer) error {
	buf.PushCString(r.Homedir)
	buf.PushUint32(r.AccountID)
	buf.PushUint32(r.Cpid)
	buf.PushCString(r.Username)
	buf.PushUint64(r.FolderID)
	iobuf.PushArray(buf, r.MessageIDs, func(b *iobuf.Buffer, id uint64) { b.PushUint64(id) })
	buf.PushBool(r.Hard)
	return nil
}

func (DeleteMessages) ParseResponse(buf *iobuf.Buffer) (PartialResponse, error) {
	partial, err := buf.PopBool()
	if err != nil {
		return PartialResponse{}, err
	}
	return PartialResponse{Partial: partial}, nil
}

// ---- named properties -------------------------------------------------------

// ResolveNamedProperties maps Propnames to server-assigned 16-bit property
// ids, creating them when Create is set and they do not yet exist.
type ResolveNamedProperties struct {
	Homedir   string
	Create    bool
	Propnames []structures.PropertyName
}

type PropIDsResponse struct {
	Propids []uint16
}

func (ResolveNamedProperties) Opcode() byte { return OpResolveNamedProperties }

func (r ResolveNamedProperties) WriteBody(buf *iobuf.Buffer) error {
	buf.PushCString(r.Homedir)
	buf.PushBool(r.Create)
	buf.PushUint32(uint32(len(r.Propnames)))
	for _, pn := range r.Propnames {
		if err := pn.Serialize(buf); err != nil {
			return err
		}
	}
	return nil
}

func (ResolveNamedProperties) ParseResponse(buf *iobuf.Buffer) (PropIDsResponse, error) {
	ids, err := iobuf.PopArray(buf, func(b *iobuf.Buffer) (uint16, error) { return b.PopUint16() })
	if err != nil {
		return PropIDsResponse{}, err
	}
	return PropIDsResponse{Propids: ids}, nil
}
