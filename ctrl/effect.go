package ctrl

import "github.com/dixl/node/msg"

// EffectKind discriminates the four things a Step can ask the owning task
// (Task, in this package) to do. Step itself never touches a queue — see the
// package doc for why that is the enforcement mechanism for "entry/exit
// must not enqueue further events".
type EffectKind uint8

const (
	// SendPeer asks the Ctrl task to forward Message to CommTx, which
	// resolves a Null Dest to the configured host address.
	SendPeer EffectKind = iota
	// CommandPoint asks the Ctrl task to forward Message to the Point
	// device task's queue.
	CommandPoint
	// CommandSensor asks the Ctrl task to forward Message to the Sensor
	// device task's queue.
	CommandSensor
	// AppendLog asks the Ctrl task to forward Message (Type msg.Log) to
	// the Logger task's queue.
	AppendLog
)

// Effect is one action a Step produced. Message is fully formed —
// Source, Dest and Payload are already resolved — the owning task only
// needs to route it to the right queue by Kind.
type Effect struct {
	Kind    EffectKind
	Message msg.Message
}

func sendPeer(m msg.Message) Effect      { return Effect{Kind: SendPeer, Message: m} }
func commandPoint(m msg.Message) Effect  { return Effect{Kind: CommandPoint, Message: m} }
func commandSensor(m msg.Message) Effect { return Effect{Kind: CommandSensor, Message: m} }
func appendLog(m msg.Message) Effect     { return Effect{Kind: AppendLog, Message: m} }
