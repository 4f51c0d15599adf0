package analyzer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/BatchDrake/suscan-sub002/internal/wire"
)

func TestReferenceDispatchInspectorOpenEmitsResponse(t *testing.T) {
	a := NewReference()

	err := a.Dispatch(&wire.RemoteCall{
		Type: wire.CallMessage,
		Msg:  wire.AnalyzerMessage{Type: wire.MsgInspectorOpen, ReqID: 7},
	})
	require.NoError(t, err)

	resp := <-a.Output()
	require.Equal(t, wire.MsgInspectorOpenResponse, resp.Msg.Type)
	require.Equal(t, uint32(7), resp.Msg.ReqID)
	require.Equal(t, uint32(1), resp.Msg.InspectorID)
}

func TestReferenceAssignsDistinctInspectorIDs(t *testing.T) {
	a := NewReference()
	open := func(reqID uint32) *wire.RemoteCall {
		require.NoError(t, a.Dispatch(&wire.RemoteCall{
			Type: wire.CallMessage,
			Msg:  wire.AnalyzerMessage{Type: wire.MsgInspectorOpen, ReqID: reqID},
		}))
		return <-a.Output()
	}

	r1 := open(1)
	r2 := open(2)
	require.NotEqual(t, r1.Msg.InspectorID, r2.Msg.InspectorID)
}

func TestReferenceHaltClosesOutputAndRejectsDispatch(t *testing.T) {
	a := NewReference()
	a.Halt()

	_, ok := <-a.Output()
	require.False(t, ok)

	err := a.Dispatch(&wire.RemoteCall{Type: wire.CallMessage})
	require.Error(t, err)
}

func TestReferenceIgnoresNonMessageCalls(t *testing.T) {
	a := NewReference()
	require.NoError(t, a.Dispatch(&wire.RemoteCall{Type: wire.CallSetFrequency, Freq: 100}))

	select {
	case c := <-a.Output():
		t.Fatalf("unexpected output: %+v", c)
	default:
	}
}
