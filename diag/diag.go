package diag

import (
	"context"
	"net/netip"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/dixl/node/msg"
	"github.com/dixl/node/queue"
)

// LivenessChecker reports whether a named sibling task is making forward
// progress. Grounded on the dead-man/watchdog pattern folded in from
// original_source's dkm.c: a task that is merely alive but wedged is
// distinguished from one that has exited.
type LivenessChecker interface {
	// Alive reports whether task last made forward progress within max.
	Alive(task string, max time.Duration) bool
}

// Config is the CONFIG-derived input to a Task, rebuilt on every
// NODECONFIGSET/NODECONFIGRESET (spec §4.6 "On CONFIG, builds the set of
// distinct prev nodes").
type Config struct {
	Peers []msg.NodeID
	Host  msg.NodeID
}

// Task is the Diagnostic task: round-robin pings upstream peers and
// probes sibling task liveness, surfacing failures as DIAGERRCOMM/
// DIAGERRTASK to Ctrl and the host (spec §4.6).
type Task struct {
	Self msg.NodeID

	In       *queue.Queue // NODECONFIGSET / NODECONFIGRESET, from Init
	Pinger   Pinger
	Liveness LivenessChecker
	Tasks    []string // sibling task names to probe, e.g. "commrx", "point", "sensor", "ctrl"

	PingPackets  int
	PingPeriod   time.Duration
	PingTimeout  time.Duration
	WedgeTimeout time.Duration // max silence before a task counts as missing

	Ctrl *queue.Queue // internal DIAGERRCOMM/DIAGERRTASK to Ctrl
	Peer *queue.Queue // host-bound DIAGERRCOMM/DIAGERRTASK via CommTx

	PingFailures *prometheus.CounterVec // label "peer"
	TaskMissing  *prometheus.CounterVec // label "task"

	Heartbeat Heartbeat // optional; touched on every round
	Log       *logrus.Entry

	cfg Config
}

// Heartbeat receives forward-progress notifications from Task.Run, so
// that package node's liveness registry can tell a wedged task from a
// dead one — including Diag itself.
type Heartbeat interface {
	Touch()
}

// Configure installs the peer set and host for the current reservation
// configuration. Safe to call again on NODECONFIGRESET.
func (t *Task) Configure(cfg Config) { t.cfg = cfg }

func (t *Task) handle(m msg.Message) {
	switch m.Type {
	case msg.NodeConfigSet:
		cp, ok := m.Payload.(msg.NodeConfigSetPayload)
		if !ok {
			return
		}
		seen := make(map[msg.NodeID]bool)
		var peers []msg.NodeID
		for _, r := range cp.Routes {
			if r.Prev.IsNull() || seen[r.Prev] {
				continue
			}
			seen[r.Prev] = true
			peers = append(peers, r.Prev)
		}
		t.cfg.Peers = peers
	case msg.NodeConfigReset:
		t.cfg = Config{}
	}
}

// Run pings t.cfg.Peers round-robin, and probes t.Tasks' liveness, every
// PingPeriod, until ctx is canceled. Uses backoff/v5's constant backoff to
// pace rounds, per spec's "pings it ... round-robin" cadence (§B.3).
func (t *Task) Run(ctx context.Context) error {
	log := t.Log.WithField("task", "diag")
	bo := backoff.NewConstantBackOff(t.period())

	for {
		wait := bo.NextBackOff()
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		if t.Heartbeat != nil {
			t.Heartbeat.Touch()
		}

		if t.In != nil {
			if m, ok := t.In.TryReceive(); ok {
				t.handle(m)
			}
		}
		t.pingRound(ctx, log)
		t.livenessRound(ctx, log)
	}
}

func (t *Task) period() time.Duration {
	if t.PingPeriod <= 0 {
		return time.Second
	}
	return t.PingPeriod
}

func (t *Task) pingRound(ctx context.Context, log *logrus.Entry) {
	for _, peer := range t.cfg.Peers {
		addr, ok := netip.AddrFromSlice(peer.IP())
		if !ok {
			continue
		}
		ok, err := t.Pinger.Ping(ctx, addr, t.pingPackets(), t.pingTimeout())
		if err != nil {
			log.WithError(err).WithField("peer", peer).Warn("ping error")
		}
		if ok {
			continue
		}
		log.WithField("peer", peer).Warn("peer unreachable")
		if t.PingFailures != nil {
			t.PingFailures.WithLabelValues(peer.String()).Inc()
		}
		t.emit(msg.Message{Type: msg.DiagErrComm, Payload: msg.NodePayload{Node: peer}})
	}
}

func (t *Task) livenessRound(ctx context.Context, log *logrus.Entry) {
	if t.Liveness == nil {
		return
	}
	for _, name := range t.Tasks {
		if t.Liveness.Alive(name, t.wedgeTimeout()) {
			continue
		}
		log.WithField("sibling", name).Warn("sibling task not making progress")
		if t.TaskMissing != nil {
			t.TaskMissing.WithLabelValues(name).Inc()
		}
		t.emit(msg.Message{Type: msg.DiagErrTask})
	}
}

// emit best-effort-sends m to Ctrl and forwards it host-bound via Peer —
// "whichever is still alive" (spec §4.6): a non-blocking TrySend so a
// wedged sibling's full queue never stalls diagnostics for the other.
func (t *Task) emit(m msg.Message) {
	if t.Ctrl != nil {
		t.Ctrl.TrySend(m)
	}
	if t.Peer != nil {
		out := m
		out.Dest = t.cfg.Host
		t.Peer.TrySend(out)
	}
}

func (t *Task) pingPackets() int {
	if t.PingPackets <= 0 {
		return 3
	}
	return t.PingPackets
}

func (t *Task) pingTimeout() time.Duration {
	if t.PingTimeout <= 0 {
		return 2 * time.Second
	}
	return t.PingTimeout
}

func (t *Task) wedgeTimeout() time.Duration {
	if t.WedgeTimeout <= 0 {
		return 10 * t.period()
	}
	return t.WedgeTimeout
}
