// Package initfsm implements the Init FSM (spec §4.1): validates a
// NODECONFIG sequence, then hands the resulting configuration to Ctrl,
// Diag and CommTx. Grounded on the teacher's session/tcp.go run() loop —
// a state held in a local variable, advanced by a single dispatch-by-type
// switch — generalized from a connection's I/S/U-frame sequence numbers to
// dIXL's CONFIG segment sequence numbers.
package initfsm

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dixl/node/msg"
	"github.com/dixl/node/queue"
)

// State names the Init FSM's states (spec §4.1).
type State uint8

const (
	Dummy State = iota
	Init
	Idle
	Configuring
	Configured
)

// String names a State.
func (s State) String() string {
	switch s {
	case Dummy:
		return "DUMMY"
	case Init:
		return "INIT"
	case Idle:
		return "IDLE"
	case Configuring:
		return "CONFIGURING"
	case Configured:
		return "CONFIGURED"
	default:
		return "UNKNOWN"
	}
}

// Spawner starts the sibling tasks in the fixed order the spec mandates
// (CommRx, Log, Point, Sensor, Ctrl, Diag, CommTx — "receivers must be
// ready before senders; device simulators must be ready before Ctrl can
// command them"). Supplied by package node, which owns the goroutines.
type Spawner func(ctx context.Context) error

// Heartbeat receives forward-progress notifications from Task.Run, so
// that package node's liveness registry can tell a wedged task from a
// dead one.
type Heartbeat interface {
	Touch()
}

// Task is the Init FSM. Construct with New; the zero value is not usable.
type Task struct {
	In   *queue.Queue // NODECONFIG, NODERESET from CommRx
	Ctrl *queue.Queue // NODECONFIGSET / NODECONFIGRESET
	Diag *queue.Queue // NODECONFIGSET / NODECONFIGRESET
	Peer *queue.Queue // COMMTXCONFIGSET / COMMTXCONFIGRESET, to CommTx
	Host msg.NodeID    // destination for the config's originating host

	Spawn     Spawner
	Heartbeat Heartbeat // optional; touched on every loop iteration
	Log       *logrus.Entry

	state State
	cfg   accumulating
}

type accumulating struct {
	nodeType      msg.NodeType
	totalSegments uint32
	nextSeq       uint32
	routes        []msg.Route
}

// New returns a Task in the Dummy state.
func New(in, ctrl, diag, peer *queue.Queue, host msg.NodeID, spawn Spawner, log *logrus.Entry) *Task {
	return &Task{
		In:    in,
		Ctrl:  ctrl,
		Diag:  diag,
		Peer:  peer,
		Host:  host,
		Spawn: spawn,
		Log:   log.WithField("task", "init"),
		state: Dummy,
	}
}

// State returns the FSM's current state.
func (t *Task) State() State { return t.state }

// Run spawns the sibling tasks, transitions to Idle, then processes In
// until ctx is canceled (spec §4.1).
func (t *Task) Run(ctx context.Context) error {
	t.state = Init
	if t.Spawn != nil {
		if err := t.Spawn(ctx); err != nil {
			return err
		}
	}
	t.toIdle()

	for {
		m, err := t.In.Receive(ctx, time.Time{})
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if t.Heartbeat != nil {
			t.Heartbeat.Touch()
		}
		t.step(ctx, m)
	}
}

func (t *Task) step(ctx context.Context, m msg.Message) {
	switch t.state {
	case Idle:
		t.fromIdle(ctx, m)
	case Configuring:
		t.fromConfiguring(ctx, m)
	case Configured:
		t.fromConfigured(ctx, m)
	}
}

func (t *Task) toIdle() {
	t.state = Idle
	t.cfg = accumulating{}
}

// fromIdle accepts only sequence-0 NODECONFIG, the CONFIGTYPE header (spec
// §4.1 "Accept only NODECONFIG whose sequence number is 0"). Anything else
// is ignored.
func (t *Task) fromIdle(ctx context.Context, m msg.Message) {
	if m.Type != msg.NodeConfig {
		return
	}
	cp, ok := m.Payload.(msg.NodeConfigPayload)
	if !ok || cp.Sequence != 0 || cp.Type == nil {
		t.Log.Warn("malformed CONFIG header, staying in IDLE")
		return
	}
	if !m.Source.IsNull() {
		t.Host = m.Source
	}
	t.cfg = accumulating{
		nodeType:      cp.Type.NodeType,
		totalSegments: cp.TotalSegments,
		nextSeq:       1,
		routes:        make([]msg.Route, 0, cp.TotalSegments),
	}
	t.state = Configuring
}

// fromConfiguring expects strictly increasing sequence numbers with a
// matching totalSegments; any gap or mismatch reverts to Idle (spec §4.1).
func (t *Task) fromConfiguring(ctx context.Context, m msg.Message) {
	if m.Type == msg.NodeReset {
		t.Log.Info("CONFIG aborted by NODERESET")
		t.toIdle()
		return
	}
	if m.Type != msg.NodeConfig {
		return
	}
	cp, ok := m.Payload.(msg.NodeConfigPayload)
	if !ok || cp.Sequence != t.cfg.nextSeq || cp.Route == nil || cp.TotalSegments != t.cfg.totalSegments {
		t.Log.Warn("malformed, out-of-sequence, or totalSegments-mismatched CONFIG segment, reverting to IDLE")
		t.toIdle()
		return
	}
	t.cfg.routes = append(t.cfg.routes, *cp.Route)
	if cp.Sequence == t.cfg.totalSegments {
		t.enterConfigured(ctx)
		return
	}
	t.cfg.nextSeq++
}

// enterConfigured validates the accumulated configuration and, on
// success, hands it to Ctrl/Diag/CommTx (spec §4.1 "Configured").
func (t *Task) enterConfigured(ctx context.Context) {
	if !validNodeType(t.cfg.nodeType) || t.cfg.totalSegments == 0 {
		t.Log.Warn("invalid CONFIG (bad nodeType or zero segments), reverting to IDLE")
		t.toIdle()
		return
	}

	t.state = Configured
	_ = t.Ctrl.Send(ctx, msg.Message{Type: msg.NodeConfigSet, Payload: msg.NodeConfigSetPayload{
		NodeType: t.cfg.nodeType, Routes: t.cfg.routes,
	}})
	_ = t.Diag.Send(ctx, msg.Message{Type: msg.NodeConfigSet, Payload: msg.NodeConfigSetPayload{
		NodeType: t.cfg.nodeType, Routes: t.cfg.routes,
	}})
	_ = t.Peer.Send(ctx, msg.Message{Type: msg.CommTxConfigSet, Payload: msg.CommTxConfigSetPayload{Host: t.Host}})
}

// fromConfigured returns to Idle on NODERESET, notifying Ctrl/Diag/CommTx
// (spec §4.1 "On NODERESET, emit NODECONFIGRESET ... then return to
// IDLE").
func (t *Task) fromConfigured(ctx context.Context, m msg.Message) {
	if m.Type != msg.NodeReset {
		return
	}
	_ = t.Ctrl.Send(ctx, msg.Message{Type: msg.NodeConfigReset})
	_ = t.Diag.Send(ctx, msg.Message{Type: msg.NodeConfigReset})
	_ = t.Peer.Send(ctx, msg.Message{Type: msg.CommTxConfigReset})
	t.toIdle()
}

func validNodeType(nt msg.NodeType) bool {
	return nt == msg.Point || nt == msg.TrackCircuit
}
