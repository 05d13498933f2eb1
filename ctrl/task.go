package ctrl

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/dixl/node/dixlerr"
	"github.com/dixl/node/msg"
	"github.com/dixl/node/queue"
)

// Heartbeat receives forward-progress notifications from Task.Run, so that
// package node's liveness registry can tell a wedged task from a dead one
// (spec §4.6's diagnostic task needs more than "the goroutine is still
// scheduled").
type Heartbeat interface {
	Touch()
}

// Task wires an Engine to the real inbound queue and to the sibling
// queues its Effects are addressed to, generating the synthetic
// TIMEOUTNOTIFY event on deadline expiry (spec §4.2 "Timeouts").
type Task struct {
	Engine *Engine

	In     *queue.Queue
	Peer   *queue.Queue // to CommTx
	Point  *queue.Queue // to the Point device task
	Sensor *queue.Queue // to the Sensor device task
	Logger *queue.Queue

	StateGauge prometheus.Gauge // optional; set on every transition
	Heartbeat  Heartbeat        // optional; touched on every loop iteration
	Log        *logrus.Entry
}

// Run processes In until ctx is canceled, blocking no longer than the
// Engine's armed deadline and injecting TIMEOUTNOTIFY on expiry (spec §4.2
// "the Ctrl task, when receiving from its queue, blocks for
// max(0, deadline − now) rather than forever").
func (t *Task) Run(ctx context.Context) error {
	log := t.Log.WithField("task", "ctrl")
	for {
		deadline := t.Engine.Deadline()
		m, err := t.In.Receive(ctx, deadline)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			if errors.Is(err, queue.ErrTimeout) {
				m = msg.Message{Type: msg.TimeoutNotify}
			} else {
				return dixlerr.New("ctrl", dixlerr.QueueReceive, err)
			}
		}
		if t.Heartbeat != nil {
			t.Heartbeat.Touch()
		}

		// NODECONFIGSET/NODECONFIGRESET install routing state directly;
		// they never reach the FSM's own event table (spec §4.1 hands
		// CONFIG to Ctrl out of band from route reservation traffic).
		switch m.Type {
		case msg.NodeConfigSet:
			cp, ok := m.Payload.(msg.NodeConfigSetPayload)
			if ok {
				t.Engine.Configure(cp.NodeType, cp.Routes)
				log.Info("configuration installed")
			}
			continue
		case msg.NodeConfigReset:
			t.Engine.ResetConfig()
			log.Info("configuration reset")
			continue
		}

		before := t.Engine.State()
		effects := t.Engine.Step(m)
		after := t.Engine.State()
		if after != before {
			log.WithField("from", before).WithField("to", after).Debug("state transition")
			if t.StateGauge != nil {
				t.StateGauge.Set(float64(after))
			}
		}

		for _, eff := range effects {
			t.dispatch(ctx, log, eff)
		}
	}
}

func (t *Task) dispatch(ctx context.Context, log *logrus.Entry, eff Effect) {
	var q *queue.Queue
	switch eff.Kind {
	case SendPeer:
		q = t.Peer
	case CommandPoint:
		q = t.Point
	case CommandSensor:
		q = t.Sensor
	case AppendLog:
		q = t.Logger
	}
	if q == nil {
		return
	}
	if err := q.Send(ctx, eff.Message); err != nil {
		log.WithError(err).WithField("queue", q.Name()).Warn("failed to dispatch effect")
	}
}
