// Package logbuf implements the Logger task: a fixed-capacity ring buffer
// of log records, fed by every other task's internal LOG enqueue and
// drained by the host's LOGREQ/LOGDEL request/response pair (spec §4.8).
// Grounded on the teacher's track.Head — a small task-owned piece of state
// reached only through a narrow method pair (Add/Inro there, enqueue/
// stream here), never touched directly by any other goroutine.
package logbuf

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dixl/node/msg"
	"github.com/dixl/node/queue"
)

// Heartbeat receives forward-progress notifications from Task.Run, so
// that package node's liveness registry can tell a wedged task from a
// dead one.
type Heartbeat interface {
	Touch()
}

// Task owns the ring buffer. Construct with New; the zero value is not
// usable.
type Task struct {
	In        *queue.Queue // LOG (internal) and LOGREQ/LOGDEL (from CommRx)
	Peer      *queue.Queue // LOGSEND/LOGDELACK, to CommTx
	Heartbeat Heartbeat    // optional; touched on every message processed
	Log       *logrus.Entry

	host msg.NodeID

	records []msg.LogRecord
	cap     int
	next    int  // index the next Append writes to
	full    bool // ring has wrapped at least once

	streamed    int  // highest 1-based index streamed to the host since the last LOGDEL
	streamedSet bool
}

// New returns a Task with room for capacity records (spec §4.8
// "TASKLOGMAXLINES").
func New(in, peer *queue.Queue, capacity int, log *logrus.Entry) *Task {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Task{
		In:      in,
		Peer:    peer,
		Log:     log.WithField("task", "log"),
		records: make([]msg.LogRecord, 0, capacity),
		cap:     capacity,
	}
}

// SetHost installs the default node this Task addresses LOGSEND/LOGDELACK
// replies to; a LOGREQ or LOGDEL with a non-Null Source replaces it.
func (t *Task) SetHost(host msg.NodeID) { t.host = host }

// Run processes In until ctx is canceled.
func (t *Task) Run(ctx context.Context) error {
	for {
		m, err := t.In.Receive(ctx, time.Time{})
		if err != nil {
			return nil
		}
		if t.Heartbeat != nil {
			t.Heartbeat.Touch()
		}
		switch m.Type {
		case msg.Log:
			t.append(m.Payload.(msg.LogPayload).Record)
		case msg.LogReq:
			if !m.Source.IsNull() {
				t.host = m.Source
			}
			t.stream(ctx)
		case msg.LogDel:
			if !m.Source.IsNull() {
				t.host = m.Source
			}
			t.prune(ctx)
		}
	}
}

// append adds rec to the ring, overwriting the oldest entry once full and
// invalidating the streamed-mark if the overwrite falls inside it (spec
// §4.8 "the streamed-mark is invalidated if it falls inside the
// overwrite").
func (t *Task) append(rec msg.LogRecord) {
	if len(t.records) < t.cap {
		t.records = append(t.records, rec)
		return
	}
	t.full = true
	t.records[t.next] = rec
	t.next = (t.next + 1) % t.cap

	// The overwritten slot held the oldest record, which is inside the
	// streamed range whenever a mark is set.
	if t.streamedSet {
		t.streamedSet = false
		t.streamed = 0
	}
}

// len reports the number of live records, oldest-first order handled by
// ordered.
func (t *Task) len() int { return len(t.records) }

// ordered returns the live records oldest-first. With a full ring, the
// oldest record is at t.next (the slot the next overwrite will land on).
func (t *Task) ordered() []msg.LogRecord {
	if !t.full {
		return t.records
	}
	out := make([]msg.LogRecord, 0, len(t.records))
	out = append(out, t.records[t.next:]...)
	out = append(out, t.records[:t.next]...)
	return out
}

// stream sends every current record to the host as LOGSEND(current,
// total, record), remembering the highest index streamed (spec §4.8).
func (t *Task) stream(ctx context.Context) {
	ordered := t.ordered()
	total := uint32(len(ordered))
	for i, rec := range ordered {
		_ = t.Peer.Send(ctx, msg.Message{
			Type: msg.LogSend,
			Dest: t.host,
			Payload: msg.LogSendPayload{
				Current: uint32(i + 1),
				Total:   total,
				Record:  rec,
			},
		})
	}
	if total > 0 {
		t.streamed = int(total)
		t.streamedSet = true
	}
}

// prune removes every record up to the remembered streamed-mark, then
// acknowledges (spec §4.8 "LOGDEL ⇒ prune records up to the remembered
// index, then send LOGDELACK").
func (t *Task) prune(ctx context.Context) {
	if t.streamedSet && t.streamed > 0 {
		ordered := t.ordered()
		if t.streamed >= len(ordered) {
			t.records = t.records[:0]
			t.next = 0
			t.full = false
		} else {
			remaining := append([]msg.LogRecord(nil), ordered[t.streamed:]...)
			t.records = t.records[:0]
			t.records = append(t.records, remaining...)
			t.next = 0
			t.full = false
		}
	}
	t.streamedSet = false
	t.streamed = 0

	_ = t.Peer.Send(ctx, msg.Message{Type: msg.LogDelAck, Dest: t.host})
}
