package msg

import "fmt"

// Kind discriminates every message that flows between tasks, over the wire,
// or both. Wire kinds carry the numeric value defined by spec §6 so that
// Encode/Decode need no translation table; internal-only kinds (device
// commands, synthetic timeouts, Init→Ctrl configuration handoff) use values
// starting at 200, a range the wire protocol never assigns, so a stray
// internal Kind reaching CommTx is caught by its exhaustive translation
// switch rather than silently mis-encoded.
type Kind uint8

// Wire kinds, values fixed by spec §6.
const (
	NodeReset     Kind = 10
	NodeConfig    Kind = 11
	RouteReq      Kind = 30
	RouteAck      Kind = 31
	RouteNack     Kind = 32
	RouteCommit   Kind = 33
	RouteAgree    Kind = 34
	RouteDisagree Kind = 35
	RouteTrainOK  Kind = 36
	RouteTrainNOK Kind = 37
	LogReq        Kind = 81
	LogSend       Kind = 82
	LogDel        Kind = 83
	LogDelAck     Kind = 84
	DiagErrTask   Kind = 90
	DiagErrComm   Kind = 91
	PointMalfunc  Kind = 95
)

// Internal-only kinds: never appear on the wire, never decoded by CommRx,
// never encoded by CommTx.
const (
	// Init → Ctrl/Diag/CommTx configuration handoff, §4.1 "Configured".
	NodeConfigSet     Kind = 200
	NodeConfigReset   Kind = 201
	CommTxConfigSet   Kind = 202
	CommTxConfigReset Kind = 203

	// Ctrl → Point device commands and notifications, §4.4.
	PointReset  Kind = 210
	PointPos    Kind = 211
	PointNotify Kind = 212

	// Ctrl → Sensor device commands and notifications, §4.5.
	SensorState  Kind = 220
	SensorNotify Kind = 221

	// Synthetic deadline-expiry event injected by the Ctrl task itself,
	// §4.2 "Timeouts".
	TimeoutNotify Kind = 230

	// Any task → Logger ring-buffer enqueue, §4.8.
	Log Kind = 240
)

// String names a Kind for logging; unknown values print their number.
func (k Kind) String() string {
	switch k {
	case NodeReset:
		return "NODERESET"
	case NodeConfig:
		return "NODECONFIG"
	case RouteReq:
		return "ROUTEREQ"
	case RouteAck:
		return "ROUTEACK"
	case RouteNack:
		return "ROUTENACK"
	case RouteCommit:
		return "ROUTECOMMIT"
	case RouteAgree:
		return "ROUTEAGREE"
	case RouteDisagree:
		return "ROUTEDISAGREE"
	case RouteTrainOK:
		return "ROUTETRAINOK"
	case RouteTrainNOK:
		return "ROUTETRAINNOK"
	case LogReq:
		return "LOGREQ"
	case LogSend:
		return "LOGSEND"
	case LogDel:
		return "LOGDEL"
	case LogDelAck:
		return "LOGDELACK"
	case DiagErrTask:
		return "DIAGERRTASK"
	case DiagErrComm:
		return "DIAGERRCOMM"
	case PointMalfunc:
		return "POINTMALFUNC"
	case NodeConfigSet:
		return "NODECONFIGSET"
	case NodeConfigReset:
		return "NODECONFIGRESET"
	case CommTxConfigSet:
		return "COMMTXCONFIGSET"
	case CommTxConfigReset:
		return "COMMTXCONFIGRESET"
	case PointReset:
		return "POINTRESET"
	case PointPos:
		return "POINTPOS"
	case PointNotify:
		return "POINTNOTIFY"
	case SensorState:
		return "SENSORSTATE"
	case SensorNotify:
		return "SENSORNOTIFY"
	case TimeoutNotify:
		return "TIMEOUTNOTIFY"
	case Log:
		return "LOG"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// IsWire reports whether k has a defined external representation (spec §6).
func (k Kind) IsWire() bool {
	switch k {
	case NodeReset, NodeConfig, RouteReq, RouteAck, RouteNack, RouteCommit,
		RouteAgree, RouteDisagree, RouteTrainOK, RouteTrainNOK,
		LogReq, LogSend, LogDel, LogDelAck, DiagErrTask, DiagErrComm, PointMalfunc:
		return true
	default:
		return false
	}
}

// IsRoute reports whether k is one of the route-reservation protocol kinds
// driving the Ctrl FSM (spec §4.2/§4.3).
func (k Kind) IsRoute() bool {
	switch k {
	case RouteReq, RouteAck, RouteNack, RouteCommit, RouteAgree, RouteDisagree,
		RouteTrainOK, RouteTrainNOK:
		return true
	default:
		return false
	}
}
