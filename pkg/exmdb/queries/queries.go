// Package queries implements ExmdbQueries: multi-round-trip operations
// built on the request catalog that enforce the table-handle lifecycle
// (every Load…Table is paired with an UnloadTable, on both success and
// error paths) and compose primitives into folder, permission, and device
// synchronization workflows.
package queries

import (
	"fmt"
	"time"

	"github.com/grommunio/exmdb-go/internal/logger"
	"github.com/grommunio/exmdb-go/internal/metrics"
	"github.com/grommunio/exmdb-go/pkg/exmdb/client"
	"github.com/grommunio/exmdb-go/pkg/exmdb/iobuf"
	"github.com/grommunio/exmdb-go/pkg/exmdb/proptag"
	"github.com/grommunio/exmdb-go/pkg/exmdb/propval"
	"github.com/grommunio/exmdb-go/pkg/exmdb/requests"
	"github.com/grommunio/exmdb-go/pkg/exmdb/restriction"
	"github.com/grommunio/exmdb-go/pkg/exmdb/structures"
)

// ntNow returns the current time as an NT timestamp, the format
// CreationTime/LastModificationTime propvals carry.
func ntNow() uint64 {
	return structures.NTTime(time.Now().UnixNano())
}

// PrivateRoot is the well-known folder id of a mailbox's root folder,
// replica id 1.
var PrivateRoot = structures.MakeEIDEx(1, 1)

// PublicIPMSubtree is the well-known folder id of the public store's
// top-level IPM subtree, replica id 1.
var PublicIPMSubtree = structures.MakeEIDEx(1, 2)

// Row is one returned table row: the propvals the caller asked for, in the
// order requested.
type Row struct {
	Propvals []*propval.TaggedPropval
}

// FolderList is the result of a folder listing.
type FolderList struct {
	Rows []Row
}

// FolderMember is one row of a folder's permission table.
type FolderMember struct {
	MemberID uint64
	Rights   uint32
}

// Queries wraps a *client.Client with the higher-level operations
// administrative tools need.
type Queries struct {
	c       *client.Client
	metrics *metrics.Metrics
}

// New wraps c. m may be nil.
func New(c *client.Client, m *metrics.Metrics) *Queries {
	return &Queries{c: c, metrics: m}
}

// withTable runs body against a table opened by load, unloading it
// afterward whether or not body fails. When load itself fails, no table
// was opened and load's error is returned without an UnloadTable call.
func (q *Queries) withTable(homedir string, load func() (requests.LoadTableResponse, error), body func(tableID uint32, rowCount uint32) error) error {
	loaded, err := load()
	if err != nil {
		return err
	}
	if q.metrics != nil {
		q.metrics.TableOpened()
	}

	bodyErr := body(loaded.TableID, loaded.RowCount)

	_, unloadErr := client.Send[requests.AckResponse](q.c, requests.UnloadTable{Homedir: homedir, TableID: loaded.TableID})
	if q.metrics != nil {
		q.metrics.TableClosed()
	}
	if unloadErr != nil {
		logger.Warn("exmdb: failed to unload table", "homedir", homedir, "tableId", loaded.TableID, "error", unloadErr)
	}

	if bodyErr != nil {
		return bodyErr
	}
	return unloadErr
}

// ListFolders lists FolderID's children (and, if recursive, their entire
// subtree), returning Proptags for each.
func (q *Queries) ListFolders(homedir string, folderID uint64, recursive bool, proptags []uint32, offset, limit uint32, restr restriction.Restriction) (FolderList, error) {
	var flags uint8
	if recursive {
		flags |= requests.TableFlagDepth
	}

	var result FolderList
	err := q.withTable(homedir,
		func() (requests.LoadTableResponse, error) {
			return client.Send[requests.LoadTableResponse](q.c, requests.LoadHierarchyTable{
				Homedir:     homedir,
				FolderID:    folderID,
				TableFlags:  flags,
				Restriction: restr,
			})
		},
		func(tableID, rowCount uint32) error {
			effectiveLimit := limit
			if offset == 0 && limit == 0 {
				effectiveLimit = rowCount
			}
			resp, err := client.Send[requests.QueryTableResponse](q.c, requests.QueryTable{
				Homedir:   homedir,
				Cpid:      0,
				TableID:   tableID,
				Proptags:  proptags,
				RowOffset: offset,
				RowCount:  effectiveLimit,
			})
			if err != nil {
				return err
			}
			result.Rows = make([]Row, len(resp.Entries))
			for i, entry := range resp.Entries {
				result.Rows[i] = Row{Propvals: entry}
			}
			return nil
		},
	)
	return result, err
}

// FindFolder lists the children of parent (PrivateRoot if parent is 0), or
// its whole subtree when recursive is set, whose display name matches name
// under fuzzyLevel. Every matching folder is returned.
func (q *Queries) FindFolder(homedir, name string, parent uint64, recursive bool, fuzzyLevel restriction.FuzzyLevel, proptags []uint32) (FolderList, error) {
	if parent == 0 {
		parent = PrivateRoot
	}
	nameTag := proptag.DisplayName
	pv, err := propval.NewString(nameTag, true, []byte(name), true)
	if err != nil {
		return FolderList{}, err
	}
	filter := restriction.Content{FuzzyLevel: fuzzyLevel, Proptag: 0, Value: pv}
	return q.ListFolders(homedir, parent, recursive, proptags, 0, 0, filter)
}

// CreateFolder allocates a change number and creates a folder under the
// public IPM subtree.
func (q *Queries) CreateFolder(homedir string, domainID uint32, name, container, comment string) (uint64, error) {
	cnResp, err := client.Send[requests.AllocateCnResponse](q.c, requests.AllocateCn{})
	if err != nil {
		return 0, err
	}

	guid := structures.FromDomainID(domainID)
	gc := structures.ValueToGC(cnResp.ChangeNum)
	xid := structures.SizedXID{Size: 22, GUID: guid, LocalID: gc}

	xidBuf := iobuf.New()
	if err := xid.Serialize(xidBuf); err != nil {
		return 0, err
	}
	changeKey := append([]byte(nil), xidBuf.Bytes()...)

	predecessorBuf := iobuf.New()
	if err := xid.Serialize(predecessorBuf); err != nil {
		return 0, err
	}
	predecessorList := append([]byte(nil), predecessorBuf.Bytes()...)

	now := ntNow()

	propvals, err := buildFolderPropvals(name, comment, container, now, cnResp.ChangeNum, changeKey, predecessorList)
	if err != nil {
		return 0, err
	}

	resp, err := client.Send[requests.FolderIDResponse](q.c, requests.CreateFolderByProperties{
		Homedir:  homedir,
		Cpid:     0,
		Propvals: propvals,
	})
	if err != nil {
		return 0, err
	}
	return resp.FolderID, nil
}

func buildFolderPropvals(name, comment, container string, now uint64, changeNum uint64, changeKey, predecessorList []byte) ([]*propval.TaggedPropval, error) {
	var propvals []*propval.TaggedPropval
	add := func(pv *propval.TaggedPropval, err error) error {
		if err != nil {
			return err
		}
		propvals = append(propvals, pv)
		return nil
	}

	if err := add(propval.NewLongLong(proptag.ParentFolderID, PublicIPMSubtree)); err != nil {
		return nil, err
	}
	if err := add(propval.NewLong(proptag.FolderType, proptag.FolderTypeGeneric)); err != nil {
		return nil, err
	}
	if err := add(propval.NewString(proptag.DisplayName, true, []byte(name), true)); err != nil {
		return nil, err
	}
	if err := add(propval.NewString(proptag.Comment, true, []byte(comment), true)); err != nil {
		return nil, err
	}
	if err := add(propval.NewFileTime(proptag.CreationTime, now)); err != nil {
		return nil, err
	}
	if err := add(propval.NewFileTime(proptag.LastModificationTime, now)); err != nil {
		return nil, err
	}
	if err := add(propval.NewLongLong(proptag.ChangeNumber, changeNum)); err != nil {
		return nil, err
	}
	if err := add(propval.NewBinary(proptag.ChangeKey, changeKey, true)); err != nil {
		return nil, err
	}
	if err := add(propval.NewBinary(proptag.PredecessorChangeList, predecessorList, true)); err != nil {
		return nil, err
	}
	if container != "" {
		if err := add(propval.NewString(proptag.ContainerClass, true, []byte(container), true)); err != nil {
			return nil, err
		}
	}
	return propvals, nil
}

// DeleteFolder deletes folderID, first emptying it (messages and
// subfolders) when clear is set.
func (q *Queries) DeleteFolder(homedir string, folderID uint64, clear bool) error {
	if clear {
		if _, err := client.Send[requests.AckResponse](q.c, requests.EmptyFolder{
			Homedir:    homedir,
			FolderID:   folderID,
			Hard:       true,
			Normal:     true,
			Associated: true,
			Subfolders: true,
		}); err != nil {
			return err
		}
	}
	resp, err := client.Send[requests.SuccessResponse](q.c, requests.DeleteFolder{
		Homedir:  homedir,
		FolderID: folderID,
		Hard:     true,
	})
	if err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("exmdb: server refused to delete folder %d", folderID)
	}
	return nil
}

// readPermissionTable loads and unloads folderID's permission table,
// returning its current members.
func (q *Queries) readPermissionTable(homedir string, folderID uint64) ([]FolderMember, error) {
	var members []FolderMember
	err := q.withTable(homedir,
		func() (requests.LoadTableResponse, error) {
			return client.Send[requests.LoadTableResponse](q.c, requests.LoadPermissionTable{Homedir: homedir, FolderID: folderID})
		},
		func(tableID, rowCount uint32) error {
			resp, err := client.Send[requests.QueryTableResponse](q.c, requests.QueryTable{
				Homedir:  homedir,
				TableID:  tableID,
				Proptags: []uint32{uint32(memberIDTag), uint32(memberRightsTag)},
				RowCount: rowCount,
			})
			if err != nil {
				return err
			}
			members = make([]FolderMember, 0, len(resp.Entries))
			for _, row := range resp.Entries {
				m := FolderMember{}
				for _, pv := range row {
					switch pv.Tag {
					case memberIDTag:
						m.MemberID = uint64(pv.Value.(propval.LongLongValue))
					case memberRightsTag:
						m.Rights = uint32(pv.Value.(propval.LongValue))
					}
				}
				members = append(members, m)
			}
			return nil
		},
	)
	return members, err
}

var (
	memberIDTag     = propval.MakeTag(0x661f, propval.LongLong) // PidTagMemberId
	memberRightsTag = propval.MakeTag(0x6639, propval.Long)     // PidTagMemberRights
)

// SetFolderMember is a single-target convenience wrapper over
// SetFolderMembers.
func (q *Queries) SetFolderMember(homedir string, folderID uint64, memberID uint64, rights uint32, remove bool) error {
	return q.SetFolderMembers(homedir, folderID, []uint64{memberID}, rights, remove)
}

// SetFolderMembers diffs targets against folderID's current member list and
// issues at most one UpdateFolderPermission batching every add/modify/
// remove row needed (none when no member's rights change): new rights = old & ~rights (if remove) or old | rights
// (if not), with ADD_ROW for a new member, MODIFY_ROW when rights change on
// an existing one, and REMOVE_ROW when the result drops to zero. Current
// members absent from targets have rights stripped the same way, as if
// remove were true for them regardless of the caller's remove argument.
// Special members (structures.SpecialMemberID, structures.AllMembersID) are
// never touched.
func (q *Queries) SetFolderMembers(homedir string, folderID uint64, targets []uint64, rights uint32, remove bool) error {
	current, err := q.readPermissionTable(homedir, folderID)
	if err != nil {
		return err
	}
	byID := make(map[uint64]uint32, len(current))
	for _, m := range current {
		byID[m.MemberID] = m.Rights
	}
	isTarget := make(map[uint64]bool, len(targets))
	for _, target := range targets {
		isTarget[target] = true
	}

	var ops []structures.PermissionData
	addOp := func(target uint64, existed bool, newRights uint32) error {
		memberIDPv, err := propval.NewLongLong(memberIDTag, target)
		if err != nil {
			return err
		}
		rightsPv, err := propval.NewLong(memberRightsTag, newRights)
		if err != nil {
			return err
		}
		switch {
		case !existed:
			ops = append(ops, structures.PermissionData{Flags: structures.AddRow, Propvals: []*propval.TaggedPropval{memberIDPv, rightsPv}})
		case newRights == 0:
			ops = append(ops, structures.PermissionData{Flags: structures.RemoveRow, Propvals: []*propval.TaggedPropval{memberIDPv}})
		default:
			ops = append(ops, structures.PermissionData{Flags: structures.ModifyRow, Propvals: []*propval.TaggedPropval{memberIDPv, rightsPv}})
		}
		return nil
	}

	for _, target := range targets {
		if target == structures.SpecialMemberID || target == structures.AllMembersID {
			continue
		}
		old, existed := byID[target]
		var newRights uint32
		if remove {
			newRights = old &^ rights
		} else {
			newRights = old | rights
		}
		if newRights == old {
			continue
		}
		if err := addOp(target, existed, newRights); err != nil {
			return err
		}
	}

	for _, m := range current {
		if isTarget[m.MemberID] {
			continue
		}
		if m.MemberID == structures.SpecialMemberID || m.MemberID == structures.AllMembersID {
			continue
		}
		newRights := m.Rights &^ rights
		if newRights == m.Rights {
			continue
		}
		if err := addOp(m.MemberID, true, newRights); err != nil {
			return err
		}
	}

	if len(ops) == 0 {
		return nil
	}

	_, err = client.Send[requests.AckResponse](q.c, requests.UpdateFolderPermission{
		Homedir:     homedir,
		FolderID:    folderID,
		Permissions: ops,
	})
	return err
}

// SyncData maps a device id (its subfolder's display name) to the body of
// its "devicedata" state message. When several messages match, the body of
// the last one read is kept.
type SyncData map[string]string

var deviceDataFilter = restriction.And{
	restriction.Property{Op: restriction.EQ, Proptag: uint32(proptag.DisplayName), Value: mustStringPropval(proptag.DisplayName, "devicedata")},
	restriction.Property{Op: restriction.EQ, Proptag: uint32(proptag.MessageClass), Value: mustStringPropval(proptag.MessageClass, "IPM.Note.GrommunioState")},
}

func mustStringPropval(tag propval.Tag, s string) *propval.TaggedPropval {
	pv, err := propval.NewString(tag, true, []byte(s), true)
	if err != nil {
		panic(err)
	}
	return pv
}

// GetSyncData enumerates folderName's device subfolders and gathers each
// device's "devicedata" message body, keyed by subfolder display name.
func (q *Queries) GetSyncData(homedir, folderName string) (SyncData, error) {
	folderResp, err := client.Send[requests.FolderIDResponse](q.c, requests.GetFolderByName{
		Homedir:        homedir,
		ParentFolderID: PublicIPMSubtree,
		FolderName:     folderName,
	})
	if err != nil {
		return nil, err
	}

	subfolders, err := q.ListFolders(homedir, folderResp.FolderID, false, []uint32{uint32(proptag.FolderID), uint32(proptag.DisplayName)}, 0, 0, restriction.Null{})
	if err != nil {
		return nil, err
	}

	result := make(SyncData, len(subfolders.Rows))
	for _, row := range subfolders.Rows {
		var subID uint64
		var displayName string
		for _, pv := range row.Propvals {
			switch pv.Tag {
			case proptag.FolderID:
				subID = uint64(pv.Value.(propval.LongLongValue))
			case proptag.DisplayName:
				displayName = string(pv.Value.(propval.StringValue).Data)
			}
		}

		var body string
		err := q.withTable(homedir,
			func() (requests.LoadTableResponse, error) {
				return client.Send[requests.LoadTableResponse](q.c, requests.LoadContentTable{
					Homedir:     homedir,
					FolderID:    subID,
					TableFlags:  2,
					Restriction: deviceDataFilter,
				})
			},
			func(tableID, rowCount uint32) error {
				resp, err := client.Send[requests.QueryTableResponse](q.c, requests.QueryTable{
					Homedir:  homedir,
					TableID:  tableID,
					Proptags: []uint32{uint32(proptag.MID)},
					RowCount: rowCount,
				})
				if err != nil {
					return err
				}
				for _, r := range resp.Entries {
					for _, pv := range r {
						if pv.Tag != proptag.MID {
							continue
						}
						mid := uint64(pv.Value.(propval.LongLongValue))
						msgResp, err := client.Send[requests.PropvalsResponse](q.c, requests.GetMessageProperties{
							Homedir:   homedir,
							MessageID: mid,
							Proptags:  []uint32{uint32(proptag.Body)},
						})
						if err != nil {
							return err
						}
						for _, mpv := range msgResp.Propvals {
							if mpv.Tag == proptag.Body {
								body = string(mpv.Value.(propval.StringValue).Data)
							}
						}
					}
				}
				return nil
			},
		)
		if err != nil {
			return nil, err
		}
		result[displayName] = body
	}
	return result, nil
}

// findDeviceFolder resolves folderName, then the subfolder named deviceID
// within it.
func (q *Queries) findDeviceFolder(homedir, folderName, deviceID string) (uint64, error) {
	folderResp, err := client.Send[requests.FolderIDResponse](q.c, requests.GetFolderByName{
		Homedir:        homedir,
		ParentFolderID: PublicIPMSubtree,
		FolderName:     folderName,
	})
	if err != nil {
		return 0, err
	}
	deviceResp, err := client.Send[requests.FolderIDResponse](q.c, requests.GetFolderByName{
		Homedir:        homedir,
		ParentFolderID: folderResp.FolderID,
		FolderName:     deviceID,
	})
	if err != nil {
		return 0, err
	}
	return deviceResp.FolderID, nil
}

// RemoveDevice deletes a device's state folder; the device re-syncs from
// scratch on its next contact.
func (q *Queries) RemoveDevice(homedir, folderName, deviceID string) error {
	deviceFolderID, err := q.findDeviceFolder(homedir, folderName, deviceID)
	if err != nil {
		return err
	}
	return q.DeleteFolder(homedir, deviceFolderID, true)
}

// ResyncDevice deletes every non-"devicedata" message in a device's state
// folder, forcing a resync of live mailbox data while preserving the
// device's registration record.
func (q *Queries) ResyncDevice(homedir, folderName, deviceID string, userID uint32) (bool, error) {
	deviceFolderID, err := q.findDeviceFolder(homedir, folderName, deviceID)
	if err != nil {
		return false, err
	}

	notDeviceData := restriction.Not{Child: restriction.Property{
		Op:      restriction.EQ,
		Proptag: uint32(proptag.DisplayName),
		Value:   mustStringPropval(proptag.DisplayName, "devicedata"),
	}}

	var messageIDs []uint64
	err = q.withTable(homedir,
		func() (requests.LoadTableResponse, error) {
			return client.Send[requests.LoadTableResponse](q.c, requests.LoadContentTable{
				Homedir:     homedir,
				FolderID:    deviceFolderID,
				Restriction: notDeviceData,
			})
		},
		func(tableID, rowCount uint32) error {
			resp, err := client.Send[requests.QueryTableResponse](q.c, requests.QueryTable{
				Homedir:  homedir,
				TableID:  tableID,
				Proptags: []uint32{uint32(proptag.MID)},
				RowCount: rowCount,
			})
			if err != nil {
				return err
			}
			for _, row := range resp.Entries {
				for _, pv := range row {
					if pv.Tag == proptag.MID {
						messageIDs = append(messageIDs, uint64(pv.Value.(propval.LongLongValue)))
					}
				}
			}
			return nil
		},
	)
	if err != nil {
		return false, err
	}
	if len(messageIDs) == 0 {
		return true, nil
	}

	delResp, err := client.Send[requests.PartialResponse](q.c, requests.DeleteMessages{
		Homedir:    homedir,
		AccountID:  userID,
		FolderID:   deviceFolderID,
		MessageIDs: messageIDs,
		Hard:       true,
	})
	if err != nil {
		return false, err
	}
	return !delResp.Partial, nil
}
