package queries_test

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grommunio/exmdb-go/pkg/exmdb/client"
	"github.com/grommunio/exmdb-go/pkg/exmdb/iobuf"
	"github.com/grommunio/exmdb-go/pkg/exmdb/propval"
	"github.com/grommunio/exmdb-go/pkg/exmdb/queries"
	"github.com/grommunio/exmdb-go/pkg/exmdb/requests"
	"github.com/grommunio/exmdb-go/pkg/exmdb/structures"
	"github.com/grommunio/exmdb-go/pkg/exmdb/werr"
)

// scriptedServer accepts one connection and replies to each framed request
// with the next canned response, recording the opcode byte of each request
// it read.
type scriptedServer struct {
	listener net.Listener
	opcodes  chan byte
	bodies   chan []byte
}

func startScriptedServer(t *testing.T, responses [][]byte) *scriptedServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ss := &scriptedServer{listener: ln, opcodes: make(chan byte, len(responses)+1), bodies: make(chan []byte, len(responses)+1)}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		for _, resp := range responses {
			var lenBuf [4]byte
			if _, err := io.ReadFull(conn, lenBuf[:]); err != nil {
				return
			}
			bodyLen := binary.LittleEndian.Uint32(lenBuf[:])
			body := make([]byte, bodyLen)
			if _, err := io.ReadFull(conn, body); err != nil {
				return
			}
			ss.opcodes <- body[0]
			ss.bodies <- body
			if _, err := conn.Write(resp); err != nil {
				return
			}
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return ss
}

// drainBody returns the next captured request body (opcode byte included).
func drainBody(t *testing.T, ss *scriptedServer) []byte {
	t.Helper()
	select {
	case b := <-ss.bodies:
		return b
	default:
		t.Fatal("expected a captured request body, got none")
		return nil
	}
}

func okResponse(body []byte) []byte {
	out := make([]byte, 5+len(body))
	out[0] = werr.Success
	binary.LittleEndian.PutUint32(out[1:5], uint32(len(body)))
	copy(out[5:], body)
	return out
}

func hostPort(t *testing.T, addr net.Addr) (string, uint16) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr.String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return host, uint16(port)
}

func dialedClient(t *testing.T, ss *scriptedServer) *client.Client {
	t.Helper()
	host, port := hostPort(t, ss.listener.Addr())
	c := client.New()
	require.NoError(t, c.Connect(context.Background(), host, port, "/mbox", true))
	return c
}

func loadTableResponseBody(tableID, rowCount uint32) []byte {
	out := make([]byte, 8)
	binary.LittleEndian.PutUint32(out[0:4], tableID)
	binary.LittleEndian.PutUint32(out[4:8], rowCount)
	return out
}

func queryTableResponseBody(t *testing.T, rows [][]*propval.TaggedPropval) []byte {
	t.Helper()
	buf := iobuf.New()
	buf.PushUint32(uint32(len(rows)))
	for _, row := range rows {
		buf.PushUint32(uint32(len(row)))
		for _, pv := range row {
			require.NoError(t, pv.Serialize(buf))
		}
	}
	return buf.Bytes()
}

func ackResponseBody() []byte { return nil }

// TestListFoldersUnloadsOnSuccess checks that ListFolders issues exactly
// Connect, LoadHierarchyTable, QueryTable, UnloadTable in order, and
// returns the rows QueryTable reported.
func TestListFoldersUnloadsOnSuccess(t *testing.T) {
	nameTag := propval.MakeTag(0x3001, propval.WString)
	pv, err := propval.NewString(nameTag, true, []byte("Inbox"), true)
	require.NoError(t, err)

	connectAck := okResponse(nil)
	loadResp := okResponse(loadTableResponseBody(7, 1))
	queryResp := okResponse(queryTableResponseBody(t, [][]*propval.TaggedPropval{{pv}}))
	unloadAck := okResponse(ackResponseBody())

	ss := startScriptedServer(t, [][]byte{connectAck, loadResp, queryResp, unloadAck})
	c := dialedClient(t, ss)
	q := queries.New(c, nil)

	result, err := q.ListFolders("/d/mbox1", 1, false, []uint32{uint32(nameTag)}, 0, 0, nil)
	require.NoError(t, err)
	require.Len(t, result.Rows, 1)
	require.Len(t, result.Rows[0].Propvals, 1)
	assert.Equal(t, nameTag, result.Rows[0].Propvals[0].Tag)

	assertOpcodeSequence(t, ss, requests.OpConnect, requests.OpLoadHierarchyTable, requests.OpQueryTable, requests.OpUnloadTable)
}

// TestListFoldersUnloadsOnQueryFailure checks that a mid-flight QueryTable
// failure still triggers UnloadTable, and the original error still
// surfaces to the caller.
func TestListFoldersUnloadsOnQueryFailure(t *testing.T) {
	connectAck := okResponse(nil)
	loadResp := okResponse(loadTableResponseBody(9, 3))
	queryFail := []byte{werr.AccessDeny, 0, 0, 0, 0}
	unloadAck := okResponse(ackResponseBody())

	ss := startScriptedServer(t, [][]byte{connectAck, loadResp, queryFail, unloadAck})
	c := dialedClient(t, ss)
	q := queries.New(c, nil)

	_, err := q.ListFolders("/d/mbox1", 1, false, nil, 0, 0, nil)
	require.Error(t, err)
	var protoErr *werr.ErrProtocol
	require.ErrorAs(t, err, &protoErr)
	assert.Equal(t, werr.AccessDeny, protoErr.Code)

	assertOpcodeSequence(t, ss, requests.OpConnect, requests.OpLoadHierarchyTable, requests.OpQueryTable, requests.OpUnloadTable)
}

var (
	memberIDTag     = propval.MakeTag(0x661f, propval.LongLong) // PidTagMemberId
	memberRightsTag = propval.MakeTag(0x6639, propval.Long)     // PidTagMemberRights
)

func memberRow(t *testing.T, memberID uint64, rights uint32) []*propval.TaggedPropval {
	t.Helper()
	idPv, err := propval.NewLongLong(memberIDTag, memberID)
	require.NoError(t, err)
	rightsPv, err := propval.NewLong(memberRightsTag, rights)
	require.NoError(t, err)
	return []*propval.TaggedPropval{idPv, rightsPv}
}

// decodedPermissionOp is one row edit pulled back out of a captured
// UpdateFolderPermission request body.
type decodedPermissionOp struct {
	flags     structures.PermissionFlag
	memberID  uint64
	rights    uint32
	hasRights bool
}

func decodeUpdateFolderPermission(t *testing.T, body []byte) []decodedPermissionOp {
	t.Helper()
	buf := iobuf.FromBytes(body[1:]) // drop the opcode byte
	_, err := buf.PopCString()
	require.NoError(t, err)
	_, err = buf.PopUint64()
	require.NoError(t, err)
	_, err = buf.PopBool()
	require.NoError(t, err)
	count, err := buf.PopUint32()
	require.NoError(t, err)

	ops := make([]decodedPermissionOp, 0, count)
	for i := uint32(0); i < count; i++ {
		flagByte, err := buf.PopUint8()
		require.NoError(t, err)
		pvCount, err := buf.PopUint32()
		require.NoError(t, err)
		op := decodedPermissionOp{flags: structures.PermissionFlag(flagByte)}
		for j := uint32(0); j < pvCount; j++ {
			pv, err := propval.Deserialize(buf)
			require.NoError(t, err)
			switch pv.Tag {
			case memberIDTag:
				op.memberID = uint64(pv.Value.(propval.LongLongValue))
			case memberRightsTag:
				op.rights = uint32(pv.Value.(propval.LongValue))
				op.hasRights = true
			}
		}
		ops = append(ops, op)
	}
	return ops
}

// TestSetFolderMembersDiffsUntargetedMembers reproduces a three-member
// permission diff: two requested targets (one existing, one new) plus one
// existing member left out of the request entirely. The untargeted member
// must still have the granted right bit stripped, not be left untouched.
func TestSetFolderMembersDiffsUntargetedMembers(t *testing.T) {
	const (
		memberA uint64 = 0xa
		memberB uint64 = 0xb
		memberC uint64 = 0xc
	)

	connectAck := okResponse(nil)
	loadResp := okResponse(loadTableResponseBody(4, 2))
	queryResp := okResponse(queryTableResponseBody(t, [][]*propval.TaggedPropval{
		memberRow(t, memberA, 0x2),
		memberRow(t, memberC, 0x3),
	}))
	unloadAck := okResponse(ackResponseBody())
	updateAck := okResponse(ackResponseBody())

	ss := startScriptedServer(t, [][]byte{connectAck, loadResp, queryResp, unloadAck, updateAck})
	c := dialedClient(t, ss)
	q := queries.New(c, nil)

	err := q.SetFolderMembers("/d/mbox1", 1, []uint64{memberA, memberB}, 0x1, false)
	require.NoError(t, err)

	assertOpcodeSequence(t, ss,
		requests.OpConnect, requests.OpLoadPermissionTable, requests.OpQueryTable, requests.OpUnloadTable, requests.OpUpdateFolderPermission)

	for i := 0; i < 4; i++ {
		drainBody(t, ss) // Connect, LoadPermissionTable, QueryTable, UnloadTable
	}
	updateBody := drainBody(t, ss)
	ops := decodeUpdateFolderPermission(t, updateBody)

	require.Len(t, ops, 3)
	assert.Equal(t, structures.ModifyRow, ops[0].flags)
	assert.Equal(t, memberA, ops[0].memberID)
	assert.Equal(t, uint32(0x3), ops[0].rights)

	assert.Equal(t, structures.AddRow, ops[1].flags)
	assert.Equal(t, memberB, ops[1].memberID)
	assert.Equal(t, uint32(0x1), ops[1].rights)

	assert.Equal(t, structures.ModifyRow, ops[2].flags)
	assert.Equal(t, memberC, ops[2].memberID)
	assert.Equal(t, uint32(0x2), ops[2].rights)
}

func assertOpcodeSequence(t *testing.T, ss *scriptedServer, want ...byte) {
	t.Helper()
	for _, w := range want {
		select {
		case got := <-ss.opcodes:
			assert.Equal(t, w, got)
		default:
			t.Fatalf("expected opcode 0x%02x, got none", w)
		}
	}
}
