// Package queue implements the bounded, blocking, single-reader FIFO
// message queue that every task owns for its inbound messages (spec §5).
// It generalizes the teacher's Outbound/Pipe channel idiom from
// session/session.go: a fixed-capacity channel, a blocking receive with an
// optional wall-clock deadline, and cooperative (not close-based) shutdown
// since, unlike a single in-memory duplex session, a task's queue here has
// many possible senders and exactly one receiver.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/dixl/node/msg"
)

// ErrTimeout is returned by Receive when a non-zero deadline elapses
// before a message arrives.
var ErrTimeout = errors.New("queue: receive deadline expired")

// Queue is a task's inbound message queue. The zero value is not usable;
// construct with New. A Queue must not be closed — with many possible
// senders and one receiver, shutdown is cooperative via context
// cancellation (spec §5 "Shutdown is cooperative"), never channel close.
type Queue struct {
	name string
	ch   chan msg.Message
}

// New returns a Queue named for logging/diagnostics with the given
// capacity (spec §5 default ≈1024).
func New(name string, capacity int) *Queue {
	return &Queue{name: name, ch: make(chan msg.Message, capacity)}
}

// Name returns the queue's (i.e. its owning task's) name.
func (q *Queue) Name() string { return q.name }

// Len reports the number of messages currently buffered.
func (q *Queue) Len() int { return len(q.ch) }

// Cap reports the queue's capacity.
func (q *Queue) Cap() int { return cap(q.ch) }

// Send enqueues m, blocking until room is available or ctx is canceled.
func (q *Queue) Send(ctx context.Context, m msg.Message) error {
	select {
	case q.ch <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySend enqueues m without blocking, reporting false if the queue is
// full. Used for best-effort sends (the Diagnostic task's error reports),
// mirroring the teacher's "best effort" comment in session/tcp.go's run()
// deferred cleanup.
func (q *Queue) TrySend(m msg.Message) bool {
	select {
	case q.ch <- m:
		return true
	default:
		return false
	}
}

// TryReceive returns the next message without blocking, reporting false
// if the queue is empty. Used by tick-driven tasks (package device) that
// must still advance their tick even with nothing queued.
func (q *Queue) TryReceive() (msg.Message, bool) {
	select {
	case m := <-q.ch:
		return m, true
	default:
		return msg.Message{}, false
	}
}

// Receive blocks until a message arrives, ctx is canceled, or — when
// deadline is non-zero — the deadline elapses (returning ErrTimeout). A
// zero deadline blocks forever (WAIT_FOREVER in the source's terms),
// matching every receive except the Ctrl FSM's armed wait states (spec
// §4.2 "Timeouts").
func (q *Queue) Receive(ctx context.Context, deadline time.Time) (msg.Message, error) {
	if deadline.IsZero() {
		select {
		case m := <-q.ch:
			return m, nil
		case <-ctx.Done():
			return msg.Message{}, ctx.Err()
		}
	}

	wait := time.Until(deadline)
	if wait <= 0 {
		select {
		case m := <-q.ch:
			return m, nil
		default:
			return msg.Message{}, ErrTimeout
		}
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case m := <-q.ch:
		return m, nil
	case <-timer.C:
		return msg.Message{}, ErrTimeout
	case <-ctx.Done():
		return msg.Message{}, ctx.Err()
	}
}
