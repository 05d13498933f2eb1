package msg

import "fmt"

// SensorLevel is the binary occupancy reading of a track circuit sensor
// (spec §3 "Physical simulators").
type SensorLevel uint8

const (
	Off SensorLevel = 0
	On  SensorLevel = 1
)

// String names a SensorLevel.
func (l SensorLevel) String() string {
	if l == On {
		return "ON"
	}
	return "OFF"
}

// Nonce is the high-resolution timestamp, a wall-clock time.Now().UnixNano()
// reading plus a per-Engine counter, that tags every point-position and
// sensor-state request (spec §3 "Nonce"). It is opaque: only equality with
// the last outstanding request's nonce matters, never its numeric value.
type Nonce int64

// Payload is the type-specific content of a Message. Every Kind that
// carries a payload has exactly one concrete Payload implementation below
// (RouteReq..RouteTrainNOK carry only a route id, via RouteIDPayload);
// Kinds with no payload (NodeReset, LogReq, LogDel, LogDelAck, DiagErrTask,
// PointMalfunc, TimeoutNotify) leave Message.Payload nil.
type Payload interface {
	isPayload()
}

// RouteIDPayload carries the route id for every ROUTE* protocol message.
type RouteIDPayload struct {
	RouteID uint32
}

func (RouteIDPayload) isPayload() {}

// ConfigType is the sequence-0 record of a NODECONFIG stream (spec §4.1,
// §6): it carries the node type and the total segment count before any
// Route records follow.
type ConfigType struct {
	NodeType      NodeType
	TotalSegments uint32
}

// NodeConfigPayload is the payload of wire kind NodeConfig. Sequence 0
// carries Type (a *ConfigType); sequence 1..N carries one Route. Exactly
// one of Type or Route is non-nil. TotalSegments is carried on every
// segment, sequence 0 included (spec §6's wire table lists it alongside
// Sequence, not nested inside the sequence-0-only record) and must match
// across the whole CONFIG stream (spec §4.1).
type NodeConfigPayload struct {
	Sequence      uint32
	TotalSegments uint32
	Type          *ConfigType
	Route         *Route
}

func (NodeConfigPayload) isPayload() {}

// NodePayload carries a single node identifier, used by DIAGERRCOMM.
type NodePayload struct {
	Node NodeID
}

func (NodePayload) isPayload() {}

// LogSendPayload is the payload of wire kind LogSend (spec §4.8).
type LogSendPayload struct {
	Current uint32
	Total   uint32
	Record  LogRecord
}

func (LogSendPayload) isPayload() {}

// NodeConfigSetPayload is the internal Init→Ctrl/Diag handoff carrying the
// validated configuration (spec §4.1 "Configured").
type NodeConfigSetPayload struct {
	NodeType NodeType
	Routes   []Route
}

func (NodeConfigSetPayload) isPayload() {}

// CommTxConfigSetPayload is the internal Init→CommTx handoff carrying the
// host address to use as the destination for FIRST-node host-bound replies.
type CommTxConfigSetPayload struct {
	Host NodeID
}

func (CommTxConfigSetPayload) isPayload() {}

// PointResetPayload commands the point simulator back to a known position
// and clears any pending nonce (spec §4.4).
type PointResetPayload struct {
	Position PointPosition
}

func (PointResetPayload) isPayload() {}

// PointPosPayload commands the point simulator toward a target position
// under a fresh nonce (spec §4.4).
type PointPosPayload struct {
	Target PointPosition
	Nonce  Nonce
}

func (PointPosPayload) isPayload() {}

// PointNotifyPayload reports the point simulator's settled position (or
// UndefinedPosition on malfunction) for the given nonce (spec §4.4).
type PointNotifyPayload struct {
	Position PointPosition
	Nonce    Nonce
}

func (PointNotifyPayload) isPayload() {}

// SensorStatePayload commands the sensor sampler to watch for a target
// level under a fresh nonce (spec §4.5).
type SensorStatePayload struct {
	Target SensorLevel
	Nonce  Nonce
}

func (SensorStatePayload) isPayload() {}

// SensorNotifyPayload reports the sensor sampler reaching its target level
// for the given nonce (spec §4.5).
type SensorNotifyPayload struct {
	Level SensorLevel
	Nonce Nonce
}

func (SensorNotifyPayload) isPayload() {}

// LogPayload is the internal enqueue of one record into the Logger ring
// buffer (spec §4.8).
type LogPayload struct {
	Record LogRecord
}

func (LogPayload) isPayload() {}

// Message is the single envelope type exchanged on every task queue and,
// for wire Kinds, transcoded 1:1 to/from the external framing by
// package comm. Source and Dest are node identifiers; for internal-only
// Kinds they are typically Null and are ignored.
type Message struct {
	Type    Kind
	Source  NodeID
	Dest    NodeID
	Payload Payload
}

// RouteID extracts the route id carried by a ROUTE* message, panicking if
// Type does not carry one — callers must check Type.IsRoute() first.
func (m Message) RouteID() uint32 {
	p, ok := m.Payload.(RouteIDPayload)
	if !ok {
		panic(fmt.Sprintf("msg: %s has no RouteIDPayload", m.Type))
	}
	return p.RouteID
}

// NewRouteMessage builds a ROUTE* message addressed from src to dst.
func NewRouteMessage(kind Kind, src, dst NodeID, routeID uint32) Message {
	return Message{Type: kind, Source: src, Dest: dst, Payload: RouteIDPayload{RouteID: routeID}}
}
