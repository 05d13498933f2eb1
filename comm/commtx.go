package comm

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dixl/node/msg"
	"github.com/dixl/node/queue"
)

// CommTx consumes its own inbound queue — a mix of outbound protocol
// messages from Ctrl/Diag/Logger and the Init→CommTx configuration
// handoff — and dials a fresh outbound TCP connection per message (spec
// §4.7). A send failure is logged, never retried: the originating task's
// own timeout/retreat logic (Ctrl's WaitAck/WaitCommit/WaitAgree
// deadlines) is the system's recovery mechanism, not CommTx.
type CommTx struct {
	Queue       *queue.Queue
	DialTimeout time.Duration
	Port        string    // peer listen port, spec §6 COMMSOCKPORT; overridable in tests
	Heartbeat   Heartbeat // optional; touched on every message processed
	Log         *logrus.Entry

	host msg.NodeID
}

// NewCommTx returns a CommTx reading from q, dialing peers on the
// well-known COMMSOCKPORT.
func NewCommTx(q *queue.Queue, dialTimeout time.Duration, log *logrus.Entry) *CommTx {
	return &CommTx{Queue: q, DialTimeout: dialTimeout, Port: commPort, Log: log.WithField("task", "commtx")}
}

// Run drains Queue until ctx is canceled.
func (t *CommTx) Run(ctx context.Context) error {
	for {
		m, err := t.Queue.Receive(ctx, time.Time{})
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if t.Heartbeat != nil {
			t.Heartbeat.Touch()
		}

		switch m.Type {
		case msg.CommTxConfigSet:
			p, ok := m.Payload.(msg.CommTxConfigSetPayload)
			if ok {
				t.host = p.Host
				t.Log.WithField("host", t.host).Info("configured host address")
			}
		case msg.CommTxConfigReset:
			t.host = msg.NodeID{}
			t.Log.Info("cleared host address")
		default:
			t.send(ctx, m)
		}
	}
}

// send dials Dest (or the configured host, when Dest is Null) and writes
// m as a single framed message, then closes the connection.
func (t *CommTx) send(ctx context.Context, m msg.Message) {
	dest := m.Dest
	if dest.IsNull() {
		dest = t.host
	}
	log := t.Log.WithField("dest", dest).WithField("type", m.Type)
	if dest.IsNull() {
		log.Warn("no destination and no configured host, dropping message")
		return
	}

	d := net.Dialer{Timeout: t.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(dest.IP().String(), t.Port))
	if err != nil {
		log.WithError(err).Warn("dial failed, dropping message")
		return
	}
	defer conn.Close()

	var codec msg.Codec
	if err := codec.Encode(conn, m); err != nil {
		log.WithError(err).Warn("encode failed, dropping message")
	}
}

// commPort is the well-known port every peer listens on (spec §6
// COMMSOCKPORT), used here since NodeID carries only the peer's address.
const commPort = "256"
