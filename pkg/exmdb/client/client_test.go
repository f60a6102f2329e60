package client_test

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grommunio/exmdb-go/pkg/exmdb/client"
	"github.com/grommunio/exmdb-go/pkg/exmdb/requests"
	"github.com/grommunio/exmdb-go/pkg/exmdb/werr"
)

// fakeServer accepts a single connection and replies to each framed
// request with the next response from responses, in order.
type fakeServer struct {
	listener net.Listener
	requests chan []byte
}

func startFakeServer(t *testing.T, responses [][]byte) *fakeServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	fs := &fakeServer{listener: ln, requests: make(chan []byte, len(responses)+1)}
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
			fs.requests <- body
			if _, err := conn.Write(resp); err != nil {
				return
			}
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return fs
}

func successResponse(body []byte) []byte {
	out := make([]byte, 5+len(body))
	out[0] = werr.Success
	binary.LittleEndian.PutUint32(out[1:5], uint32(len(body)))
	copy(out[5:], body)
	return out
}

func errorResponse(code byte) []byte {
	return []byte{code, 0, 0, 0, 0}
}

func hostPort(t *testing.T, addr net.Addr) (string, uint16) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr.String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return host, uint16(port)
}

func TestConnectAndAllocateCn(t *testing.T) {
	connectAck := successResponse(nil)
	allocateCn := successResponse([]byte{0, 0, 0, 0, 0, 0, 0, 1})
	fs := startFakeServer(t, [][]byte{connectAck, allocateCn})

	host, port := hostPort(t, fs.listener.Addr())
	c := client.New()
	require.NoError(t, c.Connect(context.Background(), host, port, "/mbox", true))

	resp, err := client.Send[requests.AllocateCnResponse](c, requests.AllocateCn{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, resp.ChangeNum)

	connectBody := <-fs.requests
	assert.Equal(t, requests.OpConnect, connectBody[0])
	allocateBody := <-fs.requests
	assert.Equal(t, requests.OpAllocateCn, allocateBody[0])
}

func TestProtocolErrorSurfaces(t *testing.T) {
	connectAck := successResponse(nil)
	fail := errorResponse(werr.AccessDeny)
	fs := startFakeServer(t, [][]byte{connectAck, fail})

	host, port := hostPort(t, fs.listener.Addr())
	c := client.New()
	require.NoError(t, c.Connect(context.Background(), host, port, "/mbox", true))

	_, err := client.Send[requests.AllocateCnResponse](c, requests.AllocateCn{})
	require.Error(t, err)
	var protoErr *werr.ErrProtocol
	require.ErrorAs(t, err, &protoErr)
	assert.Equal(t, werr.AccessDeny, protoErr.Code)
}

func TestConnectFailsOnUnreachableHost(t *testing.T) {
	c := client.New(client.WithDialTimeout(200 * time.Millisecond))
	err := c.Connect(context.Background(), "127.0.0.1", 1, "/mbox", true)
	require.Error(t, err)
	assert.ErrorIs(t, err, werr.ErrConnection)
}
