package ctrl

import (
	"time"

	"github.com/dixl/node/msg"
)

// Engine is the Ctrl FSM for a single node. It drives both the Point and
// the TrackCircuit variant off the same state graph — NodeType steers the
// handful of branches where the two differ (Positioning and Malfunction
// exist only for msg.Point; TrackCircuit falls straight through to
// Reserved). The zero value is not usable; construct with New.
//
// Step is the only entry point: it consumes one inbound msg.Message and
// returns the Effects the owning task must carry out. Step never blocks
// and never touches a queue, which is what makes "entry/exit must not
// enqueue further events" a property of the type rather than a discipline
// the caller has to maintain.
type Engine struct {
	msg.NodeState

	Self    msg.NodeID
	Timeout time.Duration   // COMMMSGTIMEOUT: armed on entry to WaitAck/WaitCommit/WaitAgree
	Now     func() time.Time

	state    State
	deadline time.Time

	pointArmed  bool
	pointNonce  msg.Nonce
	sensorArmed bool
	sensorNonce msg.Nonce

	nonceSeq int64 // monotonic fallback so two nonces minted within the same Now() tick still differ
}

// New returns an Engine for node self, initially unconfigured (NoRoute,
// NotReserved) and using time.Now for nonces and deadlines.
func New(self msg.NodeID, timeout time.Duration) *Engine {
	return &Engine{
		Self:    self,
		Timeout: timeout,
		Now:     time.Now,
		NodeState: msg.NodeState{
			CurrentRoute: msg.NoRoute,
		},
	}
}

// State returns the FSM's current state.
func (e *Engine) State() State { return e.state }

// Deadline returns the wall-clock time the owning task must receive by, or
// the zero Time when no deadline is armed (spec §4.2 "Timeouts").
func (e *Engine) Deadline() time.Time { return e.deadline }

// Configure installs validated routing state from an Init NODECONFIGSET
// handoff (spec §4.1) and resets the FSM to NotReserved.
func (e *Engine) Configure(nodeType msg.NodeType, routes []msg.Route) {
	e.NodeState = msg.NodeState{NodeType: nodeType, Routes: routes, CurrentRoute: msg.NoRoute}
	e.state = NotReserved
	e.deadline = time.Time{}
	e.pointArmed = false
	e.sensorArmed = false
}

// ResetConfig discards configuration on a NODECONFIGRESET handoff,
// returning the FSM to its unconfigured NotReserved state.
func (e *Engine) ResetConfig() {
	e.Configure(0, nil)
}

func (e *Engine) nextNonce() msg.Nonce {
	e.nonceSeq++
	return msg.Nonce(e.Now().UnixNano()) + msg.Nonce(e.nonceSeq)
}

func (e *Engine) armDeadline() {
	e.deadline = e.Now().Add(e.Timeout)
}

func (e *Engine) clearDeadline() {
	e.deadline = time.Time{}
}

func (e *Engine) logEffect(kind msg.LogRecordKind, routeID uint32, source msg.NodeID) Effect {
	return appendLog(msg.Message{
		Type:   msg.Log,
		Source: e.Self,
		Payload: msg.LogPayload{Record: msg.LogRecord{
			Timestamp:  e.Now(),
			Kind:       kind,
			RouteID:    routeID,
			SourceNode: source,
		}},
	})
}

// Step feeds one inbound message to the FSM and returns the Effects its
// transition (if any) produced. Unserved messages — a Kind the current
// state's acceptance table does not list, or a stale nonce — return nil:
// no state change, no Effects (spec §4.2 "Event ingestion contract").
func (e *Engine) Step(m msg.Message) []Effect {
	// Rule 1: diagnostic errors unconditionally transition to FailSafe,
	// silently (spec: "exit is silent; entry of FailSafe handles
	// surfacing").
	if m.Type == msg.DiagErrComm || m.Type == msg.DiagErrTask {
		return e.toFailSafe()
	}

	if e.state == FailSafe {
		return e.fromFailSafe(m)
	}

	// Rule 2: a ROUTEREQ received outside NotReserved is rejected
	// immediately, addressed to the message's source, with no state
	// change.
	if m.Type == msg.RouteReq && e.state != NotReserved {
		return e.rejectReq(m)
	}

	switch e.state {
	case NotReserved:
		return e.fromNotReserved(m)
	case WaitAck:
		return e.fromWaitAck(m)
	case WaitCommit:
		return e.fromWaitCommit(m)
	case WaitAgree:
		return e.fromWaitAgree(m)
	case Positioning:
		return e.fromPositioning(m)
	case Reserved:
		return e.fromReserved(m)
	case TrainInTransition:
		return e.fromTrainInTransition(m)
	default:
		return nil
	}
}

func (e *Engine) toFailSafe() []Effect {
	e.CurrentRoute = msg.NoRoute
	e.clearDeadline()
	e.state = FailSafe
	return nil
}

func (e *Engine) fromFailSafe(m msg.Message) []Effect {
	// (I4) FailSafe is absorbing: every message keeps it in FailSafe.
	if m.Type != msg.RouteReq {
		return nil
	}
	return e.rejectReq(m)
}

// rejectReq answers a ROUTEREQ that cannot be served — because the FSM is
// not in NotReserved, or because it is latched in FailSafe — with
// REQNACK (ROUTEDISAGREE) or, when the requester is the host, ROUTETRAINNOK
// (spec §4.2 rule 2, §4 "user-visible behavior").
func (e *Engine) rejectReq(m msg.Message) []Effect {
	id := m.RouteID()
	idx := e.FindRoute(id)
	if idx == msg.NoRoute {
		return e.unknownRoute(m, id)
	}
	route := e.Routes[idx]
	kind := msg.RouteDisagree
	dest := m.Source
	if route.Position == msg.First {
		kind = msg.RouteTrainNOK
	}
	return []Effect{
		sendPeer(msg.NewRouteMessage(kind, e.Self, dest, id)),
		e.logEffect(msg.LogReqNack, id, m.Source),
	}
}

// unknownRoute answers a ROUTEREQ naming a route id this node holds no
// record of. The role (and so whether the proper reply is DISAGREE or
// TRAINNOK) cannot be determined without a route record, so the reply
// goes directly to the message's source (spec §4.2 "Numeric/Position
// policy", case study "unknown route id").
func (e *Engine) unknownRoute(m msg.Message, id uint32) []Effect {
	return []Effect{
		sendPeer(msg.NewRouteMessage(msg.RouteDisagree, e.Self, m.Source, id)),
		e.logEffect(msg.LogNotReserved, id, m.Source),
	}
}

func (e *Engine) fromNotReserved(m msg.Message) []Effect {
	if m.Type != msg.RouteReq {
		return nil
	}
	id := m.RouteID()
	idx := e.FindRoute(id)
	if idx == msg.NoRoute {
		return e.unknownRoute(m, id)
	}
	e.CurrentRoute = idx
	route := e.Routes[idx]

	effects := []Effect{e.logEffect(msg.LogReqKind, id, m.Source)}
	if route.Position == msg.Last {
		effects = append(effects, e.enterWaitCommit(route)...)
	} else {
		effects = append(effects, e.enterWaitAck(route)...)
	}
	return effects
}

// enterWaitAck forwards ROUTEREQ to next and arms the deadline (FIRST and
// MIDDLE roles, spec §4.2 table row WaitAck).
func (e *Engine) enterWaitAck(route msg.Route) []Effect {
	e.state = WaitAck
	e.armDeadline()
	return []Effect{sendPeer(msg.NewRouteMessage(msg.RouteReq, e.Self, route.Next, route.ID))}
}

// enterWaitCommit replies ROUTEACK to prev and arms the deadline (LAST
// receiving REQ, or MIDDLE receiving ACK; spec §4.2 table row WaitCommit).
func (e *Engine) enterWaitCommit(route msg.Route) []Effect {
	e.state = WaitCommit
	e.armDeadline()
	return []Effect{sendPeer(msg.NewRouteMessage(msg.RouteAck, e.Self, route.Prev, route.ID))}
}

// enterWaitAgree forwards ROUTECOMMIT to next and arms the deadline (FIRST
// receiving ACK, or MIDDLE receiving COMMIT; spec §4.2 table row WaitAgree).
func (e *Engine) enterWaitAgree(route msg.Route) []Effect {
	e.state = WaitAgree
	e.armDeadline()
	return []Effect{sendPeer(msg.NewRouteMessage(msg.RouteCommit, e.Self, route.Next, route.ID))}
}

// enterPositioning commands the point simulator toward requestedPosition
// under a fresh nonce and clears the deadline (Point variant only; spec
// §4.2 table row Positioning).
func (e *Engine) enterPositioning(route msg.Route) []Effect {
	e.state = Positioning
	e.clearDeadline()
	e.pointNonce = e.nextNonce()
	e.pointArmed = true
	return []Effect{commandPoint(msg.Message{
		Type:    msg.PointPos,
		Source:  e.Self,
		Payload: msg.PointPosPayload{Target: route.RequestedPosition.Resolve(), Nonce: e.pointNonce},
	})}
}

// enterReserved announces the completed reservation (TRAINOK to host when
// FIRST, else AGREE to prev) and requests sensor ON under a fresh nonce
// (spec §4.2 table row Reserved).
func (e *Engine) enterReserved(route msg.Route) []Effect {
	e.state = Reserved
	e.clearDeadline()

	var announce Effect
	if route.Position == msg.First {
		announce = sendPeer(msg.NewRouteMessage(msg.RouteTrainOK, e.Self, route.Prev, route.ID))
	} else {
		announce = sendPeer(msg.NewRouteMessage(msg.RouteAgree, e.Self, route.Prev, route.ID))
	}

	e.sensorNonce = e.nextNonce()
	e.sensorArmed = true
	sensor := commandSensor(msg.Message{
		Type:    msg.SensorState,
		Source:  e.Self,
		Payload: msg.SensorStatePayload{Target: msg.On, Nonce: e.sensorNonce},
	})

	return []Effect{announce, sensor, e.logEffect(msg.LogReserved, route.ID, e.Self)}
}

// enterTrainInTransition requests sensor OFF under a fresh nonce (spec
// §4.2 table row TrainInTransition).
func (e *Engine) enterTrainInTransition(route msg.Route) []Effect {
	e.state = TrainInTransition
	e.sensorNonce = e.nextNonce()
	e.sensorArmed = true
	return []Effect{commandSensor(msg.Message{
		Type:    msg.SensorState,
		Source:  e.Self,
		Payload: msg.SensorStatePayload{Target: msg.Off, Nonce: e.sensorNonce},
	})}
}

// enterMalfunction emits the dual-direction abort (TRAINNOK/DISAGREE
// toward prev, DISAGREE toward next unless LAST) and self-transitions to
// FailSafe (spec §4.2 table row Malfunction).
func (e *Engine) enterMalfunction(route msg.Route) []Effect {
	var effects []Effect
	if route.Position == msg.First {
		effects = append(effects, sendPeer(msg.NewRouteMessage(msg.RouteTrainNOK, e.Self, route.Prev, route.ID)))
	} else {
		effects = append(effects, sendPeer(msg.NewRouteMessage(msg.RouteDisagree, e.Self, route.Prev, route.ID)))
	}
	if route.Position != msg.Last {
		effects = append(effects, sendPeer(msg.NewRouteMessage(msg.RouteDisagree, e.Self, route.Next, route.ID)))
	}
	// Informational broadcast to the host (Dest Null, resolved by CommTx),
	// independent of the peer-facing abort above — spec §6 defines
	// POINTMALFUNC as a payload-less wire type with no role in the route
	// protocol itself.
	effects = append(effects, sendPeer(msg.Message{Type: msg.PointMalfunc, Source: e.Self, Dest: msg.Null}))
	effects = append(effects, e.logEffect(msg.LogMalfunction, route.ID, e.Self))

	e.CurrentRoute = msg.NoRoute
	e.clearDeadline()
	e.pointArmed = false
	e.state = FailSafe
	return effects
}

// retreatBackward is the exit action shared by "NACK while WaitAck" and
// "DISAGREE while WaitAgree": notify prev (or the host, if FIRST) with
// peerKind, then return to NotReserved.
func (e *Engine) retreatBackward(route msg.Route, peerKind msg.Kind) []Effect {
	var reply Effect
	if route.Position == msg.First {
		reply = sendPeer(msg.NewRouteMessage(msg.RouteTrainNOK, e.Self, route.Prev, route.ID))
	} else {
		reply = sendPeer(msg.NewRouteMessage(peerKind, e.Self, route.Prev, route.ID))
	}
	return e.finishRetreat(route, reply)
}

// retreatForward is the exit action shared by "DISAGREE while WaitCommit /
// Positioning / Reserved": forward DISAGREE to next unless this node is
// LAST, then return to NotReserved.
func (e *Engine) retreatForward(route msg.Route) []Effect {
	if route.Position == msg.Last {
		return e.finishRetreat(route)
	}
	return e.finishRetreat(route, sendPeer(msg.NewRouteMessage(msg.RouteDisagree, e.Self, route.Next, route.ID)))
}

func (e *Engine) finishRetreat(route msg.Route, effects ...Effect) []Effect {
	effects = append(effects, e.logEffect(msg.LogDisagree, route.ID, e.Self))
	e.CurrentRoute = msg.NoRoute
	e.clearDeadline()
	e.pointArmed = false
	e.sensorArmed = false
	e.state = NotReserved
	return effects
}

func (e *Engine) fromWaitAck(m msg.Message) []Effect {
	route := *e.Current()
	switch m.Type {
	case msg.RouteAck:
		if m.RouteID() != route.ID {
			return nil
		}
		if route.Position == msg.Middle {
			return e.enterWaitCommit(route)
		}
		return e.enterWaitAgree(route)
	case msg.RouteNack, msg.TimeoutNotify:
		return e.retreatBackward(route, msg.RouteNack)
	default:
		return nil
	}
}

func (e *Engine) fromWaitCommit(m msg.Message) []Effect {
	route := *e.Current()
	switch m.Type {
	case msg.RouteCommit:
		if m.RouteID() != route.ID {
			return nil
		}
		if route.Position == msg.Middle {
			return e.enterWaitAgree(route)
		}
		if e.NodeType == msg.Point {
			return e.enterPositioning(route)
		}
		return e.enterReserved(route)
	case msg.RouteDisagree, msg.TimeoutNotify:
		return e.retreatForward(route)
	default:
		return nil
	}
}

func (e *Engine) fromWaitAgree(m msg.Message) []Effect {
	route := *e.Current()
	switch m.Type {
	case msg.RouteAgree:
		if m.RouteID() != route.ID {
			return nil
		}
		if e.NodeType == msg.Point {
			return e.enterPositioning(route)
		}
		return e.enterReserved(route)
	case msg.RouteDisagree, msg.TimeoutNotify:
		return e.retreatBackward(route, msg.RouteDisagree)
	default:
		return nil
	}
}

func (e *Engine) fromPositioning(m msg.Message) []Effect {
	route := *e.Current()
	switch m.Type {
	case msg.PointNotify:
		p, ok := m.Payload.(msg.PointNotifyPayload)
		if !ok || !e.pointArmed || p.Nonce != e.pointNonce {
			return nil // stale or foreign nonce: ignored per §4.2 "Nonce discipline"
		}
		e.pointArmed = false
		if p.Position == msg.UndefinedPosition || p.Position != route.RequestedPosition.Resolve() {
			return e.enterMalfunction(route)
		}
		return e.enterReserved(route)
	case msg.RouteDisagree:
		return e.retreatForward(route)
	default:
		return nil
	}
}

func (e *Engine) fromReserved(m msg.Message) []Effect {
	route := *e.Current()
	switch m.Type {
	case msg.SensorNotify:
		p, ok := m.Payload.(msg.SensorNotifyPayload)
		if !ok || !e.sensorArmed || p.Nonce != e.sensorNonce || p.Level != msg.On {
			return nil
		}
		e.sensorArmed = false
		return e.enterTrainInTransition(route)
	case msg.RouteDisagree:
		return e.retreatForward(route)
	default:
		return nil
	}
}

func (e *Engine) fromTrainInTransition(m msg.Message) []Effect {
	route := *e.Current()
	if m.Type != msg.SensorNotify {
		return nil
	}
	p, ok := m.Payload.(msg.SensorNotifyPayload)
	if !ok || !e.sensorArmed || p.Nonce != e.sensorNonce || p.Level != msg.Off {
		return nil
	}
	e.sensorArmed = false
	effects := []Effect{e.logEffect(msg.LogFreed, route.ID, e.Self)}
	e.CurrentRoute = msg.NoRoute
	e.state = NotReserved
	return effects
}
