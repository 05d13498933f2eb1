// Package comm implements the node's two TCP-facing tasks: CommRx, the
// inbound accept loop that decodes wire messages and fans them out to the
// sibling task queues, and CommTx, the outbound sender. Both are grounded
// on the teacher's session package — the per-connection goroutine, the
// ticker-paced retry-on-temporary-error loop, and the "in, err channels
// must be drained or operation blocks" discipline — generalized from
// IEC 60870-5-104's sequence-numbered I/S/U-frames to this protocol's
// simpler one-message-per-framing scheme (spec §6).
package comm

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"

	"github.com/dixl/node/msg"
	"github.com/dixl/node/queue"
)

// Queues groups the sibling task queues CommRx dispatches decoded
// messages to (spec §4.7: "Each decoded message is dispatched by type to
// exactly one task queue").
type Queues struct {
	Init *queue.Queue
	Log  *queue.Queue
	Ctrl *queue.Queue
}

func (q Queues) route(kind msg.Kind) *queue.Queue {
	switch kind {
	case msg.NodeReset, msg.NodeConfig:
		return q.Init
	case msg.LogReq, msg.LogSend, msg.LogDel, msg.LogDelAck:
		return q.Log
	default:
		if kind.IsRoute() {
			return q.Ctrl
		}
		return nil
	}
}

// Heartbeat receives forward-progress notifications from Run/serve, so
// that package node's liveness registry can tell a wedged task from a
// dead one.
type Heartbeat interface {
	Touch()
}

// CommRx listens on a fixed TCP port, accepts one connection at a time,
// and dispatches decoded messages by Kind. If the connection breaks it
// closes it and re-accepts; it never exits its Run loop on a connection
// error (spec §4.7).
type CommRx struct {
	Addr      string
	Queues    Queues
	Heartbeat Heartbeat // optional; touched on every accept and decoded message
	Log       *logrus.Entry

	listener net.Listener
}

// NewCommRx returns a CommRx bound to addr, dispatching to queues.
func NewCommRx(addr string, queues Queues, log *logrus.Entry) *CommRx {
	return &CommRx{Addr: addr, Queues: queues, Log: log.WithField("task", "commrx")}
}

// Run listens on Addr and serves connections until ctx is canceled. A
// listener-level Accept error is retried with capped exponential backoff
// (spec §B.3) rather than spinning the task at 100% CPU; a single
// connection is handled at a time, matching the source's single-peer-link
// assumption.
func (r *CommRx) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", r.Addr)
	if err != nil {
		return err
	}
	r.listener = ln
	defer ln.Close()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0 // never give up; §4.7 "it never exits the task"

	for {
		conn, err := ln.Accept()
		if r.Heartbeat != nil {
			r.Heartbeat.Touch()
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			wait := bo.NextBackOff()
			r.Log.WithError(err).Warn("accept failed, backing off")
			select {
			case <-time.After(wait):
				continue
			case <-ctx.Done():
				return nil
			}
		}
		bo.Reset()
		r.serve(ctx, conn)
	}
}

// serve decodes messages from conn until it errors or ctx is canceled,
// then closes it; the outer Run loop re-accepts.
func (r *CommRx) serve(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	log := r.Log.WithField("remote", conn.RemoteAddr())
	log.Info("accepted connection")

	var codec msg.Codec
	for {
		if deadline, ok := ctx.Deadline(); ok {
			conn.SetReadDeadline(deadline)
		}
		m, err := codec.Decode(conn)
		if err != nil {
			if errors.Is(err, io.EOF) {
				log.Info("connection closed")
			} else {
				log.WithError(err).Warn("decode failed, closing connection")
			}
			return
		}
		if r.Heartbeat != nil {
			r.Heartbeat.Touch()
		}

		q := r.Queues.route(m.Type)
		if q == nil {
			log.WithField("type", m.Type).Warn("discarding message of undispatchable type")
			continue
		}
		if err := q.Send(ctx, m); err != nil {
			log.WithError(err).Warn("failed to enqueue decoded message")
			return
		}
	}
}
