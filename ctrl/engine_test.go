package ctrl

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dixl/node/msg"
)

func ids(n ...byte) msg.NodeID { return msg.NodeID{0, 0, 0, n[0]} }

var (
	self = ids(1)
	next = ids(2)
	prev = ids(3) // Null for FIRST's prev
)

func firstRoute() msg.Route {
	return msg.Route{ID: 1, Prev: msg.Null, Next: next, Position: msg.First, RequestedPosition: msg.ReqDiverging}
}

func middleRoute() msg.Route {
	return msg.Route{ID: 1, Prev: prev, Next: next, Position: msg.Middle, RequestedPosition: msg.ReqDiverging}
}

func lastRoute() msg.Route {
	return msg.Route{ID: 1, Prev: prev, Next: msg.Null, Position: msg.Last, RequestedPosition: msg.ReqStraight}
}

func newEngine(nodeType msg.NodeType, routes ...msg.Route) *Engine {
	e := New(self, 50*time.Millisecond)
	e.Configure(nodeType, routes)
	return e
}

func TestNotReservedUnknownRouteRejected(t *testing.T) {
	e := newEngine(msg.Point)
	effects := e.Step(msg.NewRouteMessage(msg.RouteReq, ids(9), msg.Null, 99))
	require.Len(t, effects, 2)
	assert.Equal(t, SendPeer, effects[0].Kind)
	assert.Equal(t, msg.RouteDisagree, effects[0].Message.Type)
	assert.Equal(t, ids(9), effects[0].Message.Dest)
	assert.Equal(t, NotReserved, e.State())
}

func TestFirstNodeHappyPathToWaitAgree(t *testing.T) {
	e := newEngine(msg.Point, firstRoute())
	effects := e.Step(msg.NewRouteMessage(msg.RouteReq, msg.Null, self, 1))
	require.Equal(t, WaitAck, e.State())
	var sent []msg.Message
	for _, eff := range effects {
		if eff.Kind == SendPeer {
			sent = append(sent, eff.Message)
		}
	}
	require.Len(t, sent, 1)
	assert.Equal(t, msg.RouteReq, sent[0].Type)
	assert.Equal(t, next, sent[0].Dest)
	assert.False(t, e.Deadline().IsZero())

	effects = e.Step(msg.NewRouteMessage(msg.RouteAck, next, self, 1))
	require.Equal(t, WaitAgree, e.State())
	require.Len(t, effects, 1)
	assert.Equal(t, msg.RouteCommit, effects[0].Message.Type)
	assert.Equal(t, next, effects[0].Message.Dest)
}

func TestMiddleNodeFansOutBothDirections(t *testing.T) {
	e := newEngine(msg.Point, middleRoute())
	e.Step(msg.NewRouteMessage(msg.RouteReq, prev, self, 1))
	require.Equal(t, WaitAck, e.State())

	effects := e.Step(msg.NewRouteMessage(msg.RouteAck, next, self, 1))
	require.Equal(t, WaitCommit, e.State())
	require.Len(t, effects, 1)
	assert.Equal(t, msg.RouteAck, effects[0].Message.Type)
	assert.Equal(t, prev, effects[0].Message.Dest)

	effects = e.Step(msg.NewRouteMessage(msg.RouteCommit, prev, self, 1))
	require.Equal(t, WaitAgree, e.State())
	require.Len(t, effects, 1)
	assert.Equal(t, msg.RouteCommit, effects[0].Message.Type)
	assert.Equal(t, next, effects[0].Message.Dest)
}

func TestLastNodePointVariantGoesThroughPositioning(t *testing.T) {
	e := newEngine(msg.Point, lastRoute())
	e.Step(msg.NewRouteMessage(msg.RouteReq, prev, self, 1))
	require.Equal(t, WaitCommit, e.State())

	effects := e.Step(msg.NewRouteMessage(msg.RouteCommit, prev, self, 1))
	require.Equal(t, Positioning, e.State())
	require.Len(t, effects, 1)
	require.Equal(t, CommandPoint, effects[0].Kind)
	pp := effects[0].Message.Payload.(msg.PointPosPayload)
	assert.Equal(t, msg.Straight, pp.Target)
	assert.True(t, e.Deadline().IsZero())

	effects = e.Step(msg.Message{Type: msg.PointNotify, Payload: msg.PointNotifyPayload{Position: msg.Straight, Nonce: pp.Nonce}})
	require.Equal(t, Reserved, e.State())
	var sawAgree, sawSensorOn bool
	for _, eff := range effects {
		if eff.Kind == SendPeer && eff.Message.Type == msg.RouteAgree {
			sawAgree = true
			assert.Equal(t, prev, eff.Message.Dest)
		}
		if eff.Kind == CommandSensor {
			sp := eff.Message.Payload.(msg.SensorStatePayload)
			assert.Equal(t, msg.On, sp.Target)
			sawSensorOn = true
		}
	}
	assert.True(t, sawAgree)
	assert.True(t, sawSensorOn)
}

func TestLastNodeTrackCircuitSkipsPositioning(t *testing.T) {
	e := newEngine(msg.TrackCircuit, lastRoute())
	e.Step(msg.NewRouteMessage(msg.RouteReq, prev, self, 1))
	effects := e.Step(msg.NewRouteMessage(msg.RouteCommit, prev, self, 1))
	require.Equal(t, Reserved, e.State())
	var sawSensorOn bool
	for _, eff := range effects {
		if eff.Kind == CommandSensor {
			sawSensorOn = true
		}
	}
	assert.True(t, sawSensorOn)
}

func TestStalePointNotifyIgnored(t *testing.T) {
	e := newEngine(msg.Point, lastRoute())
	e.Step(msg.NewRouteMessage(msg.RouteReq, prev, self, 1))
	e.Step(msg.NewRouteMessage(msg.RouteCommit, prev, self, 1))
	require.Equal(t, Positioning, e.State())

	effects := e.Step(msg.Message{Type: msg.PointNotify, Payload: msg.PointNotifyPayload{Position: msg.Straight, Nonce: 12345}})
	assert.Nil(t, effects)
	assert.Equal(t, Positioning, e.State())
}

func TestPointMalfunctionEntersFailSafe(t *testing.T) {
	e := newEngine(msg.Point, middleRoute())
	e.Step(msg.NewRouteMessage(msg.RouteReq, prev, self, 1))
	e.Step(msg.NewRouteMessage(msg.RouteAck, next, self, 1))
	require.Equal(t, WaitCommit, e.State())
	effects := e.Step(msg.NewRouteMessage(msg.RouteCommit, prev, self, 1))
	require.Equal(t, WaitAgree, e.State())
	_ = effects

	effects = e.Step(msg.NewRouteMessage(msg.RouteAgree, next, self, 1))
	require.Equal(t, Positioning, e.State())
	pp := effects[0].Message.Payload.(msg.PointPosPayload)

	effects = e.Step(msg.Message{Type: msg.PointNotify, Payload: msg.PointNotifyPayload{Position: msg.UndefinedPosition, Nonce: pp.Nonce}})
	require.Equal(t, FailSafe, e.State())

	var toPrev, toNext, broadcast int
	for _, eff := range effects {
		if eff.Kind != SendPeer {
			continue
		}
		switch eff.Message.Dest {
		case prev:
			toPrev++
			assert.Equal(t, msg.RouteDisagree, eff.Message.Type)
		case next:
			toNext++
			assert.Equal(t, msg.RouteDisagree, eff.Message.Type)
		case msg.Null:
			broadcast++
			assert.Equal(t, msg.PointMalfunc, eff.Message.Type)
		}
	}
	assert.Equal(t, 1, toPrev)
	assert.Equal(t, 1, toNext)
	assert.Equal(t, 1, broadcast)

	// FailSafe is absorbing and rejects new requests.
	effects = e.Step(msg.NewRouteMessage(msg.RouteReq, prev, self, 1))
	require.Equal(t, FailSafe, e.State())
	require.Len(t, effects, 2)
	assert.Equal(t, msg.RouteDisagree, effects[0].Message.Type)
}

func TestTimeoutInWaitAgreeRetreatsAndNotifiesHost(t *testing.T) {
	e := newEngine(msg.Point, firstRoute())
	e.Step(msg.NewRouteMessage(msg.RouteReq, msg.Null, self, 1))
	e.Step(msg.NewRouteMessage(msg.RouteAck, next, self, 1))
	require.Equal(t, WaitAgree, e.State())

	effects := e.Step(msg.Message{Type: msg.TimeoutNotify})
	require.Equal(t, NotReserved, e.State())
	require.Len(t, effects, 2)
	assert.Equal(t, msg.RouteTrainNOK, effects[0].Message.Type)
	assert.Equal(t, msg.Null, effects[0].Message.Dest)
}

func TestDiagnosticErrorForcesFailSafeFromAnyState(t *testing.T) {
	e := newEngine(msg.Point, middleRoute())
	e.Step(msg.NewRouteMessage(msg.RouteReq, prev, self, 1))
	require.Equal(t, WaitAck, e.State())

	effects := e.Step(msg.Message{Type: msg.DiagErrComm, Payload: msg.NodePayload{Node: next}})
	assert.Nil(t, effects)
	assert.Equal(t, FailSafe, e.State())
	assert.Equal(t, msg.NoRoute, e.CurrentRoute)
}

func TestTrainInTransitionReturnsToNotReservedOnSensorOff(t *testing.T) {
	e := newEngine(msg.TrackCircuit, lastRoute())
	e.Step(msg.NewRouteMessage(msg.RouteReq, prev, self, 1))
	effects := e.Step(msg.NewRouteMessage(msg.RouteCommit, prev, self, 1))
	require.Equal(t, Reserved, e.State())

	var onNonce msg.Nonce
	for _, eff := range effects {
		if eff.Kind == CommandSensor {
			onNonce = eff.Message.Payload.(msg.SensorStatePayload).Nonce
		}
	}

	effects = e.Step(msg.Message{Type: msg.SensorNotify, Payload: msg.SensorNotifyPayload{Level: msg.On, Nonce: onNonce}})
	require.Equal(t, TrainInTransition, e.State())
	var offNonce msg.Nonce
	for _, eff := range effects {
		if eff.Kind == CommandSensor {
			offNonce = eff.Message.Payload.(msg.SensorStatePayload).Nonce
		}
	}
	require.NotEqual(t, onNonce, offNonce)

	effects = e.Step(msg.Message{Type: msg.SensorNotify, Payload: msg.SensorNotifyPayload{Level: msg.Off, Nonce: offNonce}})
	require.Equal(t, NotReserved, e.State())
	require.Len(t, effects, 1)
	assert.Equal(t, msg.LogFreed, effects[0].Message.Payload.(msg.LogPayload).Record.Kind)
}
