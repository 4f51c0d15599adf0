package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/BatchDrake/suscan-sub002/internal/analyzer"
	"github.com/BatchDrake/suscan-sub002/internal/codec"
	"github.com/BatchDrake/suscan-sub002/internal/wire"
)

func startTestServer(t *testing.T) (addr string, srv *Server) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	srv = New(MapAuthStore{"alice": "wonderland"}, analyzer.NewReferenceFactory(), Options{ServerName: "test"})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.Serve(ctx, ln)

	return ln.Addr().String(), srv
}

func TestAuthHandshakeOverRealSocket(t *testing.T) {
	addr, _ := startTestServer(t)

	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	helloPDU, err := codec.ReadPDU(conn)
	require.NoError(t, err)
	hello, err := wire.DecodeServerHello(helloPDU)
	require.NoError(t, err)
	require.Equal(t, "test", hello.ServerName)

	token := wire.ComputeToken("alice", "wonderland", hello.Salt)
	authCall := &wire.RemoteCall{Type: wire.CallAuthInfo, User: "alice", Token: token}
	payload, err := wire.Encode(authCall)
	require.NoError(t, err)

	c := codec.New(0)
	framed, err := c.Encode(payload)
	require.NoError(t, err)
	_, err = conn.Write(framed)
	require.NoError(t, err)

	// After authentication, the server asks the reference analyzer for
	// nothing implicitly, so there is no unsolicited traffic to read here;
	// the important thing is that the connection is kept open (no kick).
	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	buf := make([]byte, 16)
	_, err = conn.Read(buf)
	require.Error(t, err) // deadline exceeded, not EOF/reset
	netErr, ok := err.(net.Error)
	require.True(t, ok)
	require.True(t, netErr.Timeout())
}

func TestAuthRejectedWithWrongToken(t *testing.T) {
	addr, _ := startTestServer(t)

	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	helloPDU, err := codec.ReadPDU(conn)
	require.NoError(t, err)
	_, err = wire.DecodeServerHello(helloPDU)
	require.NoError(t, err)

	authCall := &wire.RemoteCall{Type: wire.CallAuthInfo, User: "alice", Token: [32]byte{0xff}}
	payload, err := wire.Encode(authCall)
	require.NoError(t, err)
	c := codec.New(0)
	framed, err := c.Encode(payload)
	require.NoError(t, err)
	_, err = conn.Write(framed)
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 16)
	_, err = conn.Read(buf)
	require.Error(t, err) // server closed the connection after the kick
}

func TestInspectorOpenRewritesHandleAndRoutesResponseToCaller(t *testing.T) {
	addr, _ := startTestServer(t)

	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	helloPDU, err := codec.ReadPDU(conn)
	require.NoError(t, err)
	hello, err := wire.DecodeServerHello(helloPDU)
	require.NoError(t, err)

	token := wire.ComputeToken("alice", "wonderland", hello.Salt)
	c := codec.New(0)
	sendCall := func(call *wire.RemoteCall) {
		payload, err := wire.Encode(call)
		require.NoError(t, err)
		framed, err := c.Encode(payload)
		require.NoError(t, err)
		_, err = conn.Write(framed)
		require.NoError(t, err)
	}

	sendCall(&wire.RemoteCall{Type: wire.CallAuthInfo, User: "alice", Token: token})
	sendCall(&wire.RemoteCall{Type: wire.CallMessage, Msg: wire.AnalyzerMessage{Type: wire.MsgInspectorOpen}})

	conn.SetReadDeadline(time.Now().Add(time.Second))
	respPDU, err := codec.ReadPDU(conn)
	require.NoError(t, err)
	resp, err := wire.Decode(respPDU)
	require.NoError(t, err)
	require.Equal(t, wire.CallMessage, resp.Type)
	require.Equal(t, wire.MsgInspectorOpenResponse, resp.Msg.Type)
	require.NotZero(t, resp.Msg.Handle, "client should receive a private handle, not the raw analyzer id")
}
