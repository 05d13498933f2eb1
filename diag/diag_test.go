package diag

import (
	"context"
	"io"
	"net/netip"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/dixl/node/msg"
	"github.com/dixl/node/queue"
)

func discardLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

type fakePinger struct{ fail map[string]bool }

func (f fakePinger) Ping(_ context.Context, addr netip.Addr, _ int, _ time.Duration) (bool, error) {
	return !f.fail[addr.String()], nil
}

type fakeLiveness struct{ missing map[string]bool }

func (f fakeLiveness) Alive(task string, _ time.Duration) bool {
	return !f.missing[task]
}

func TestDiagEmitsDiagErrCommOnPingFailure(t *testing.T) {
	ctrl := queue.New("ctrl", 4)
	host := queue.New("peer", 4)
	peer := msg.NodeID{10, 0, 0, 5}

	task := &Task{
		Self:        msg.NodeID{10, 0, 0, 1},
		Pinger:      fakePinger{fail: map[string]bool{"10.0.0.5": true}},
		PingPeriod:  5 * time.Millisecond,
		PingPackets: 1,
		Ctrl:        ctrl,
		Peer:        host,
		Log:         discardLog(),
	}
	task.Configure(Config{Peers: []msg.NodeID{peer}, Host: msg.NodeID{10, 0, 0, 9}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go task.Run(ctx)

	got, err := ctrl.Receive(ctx, time.Now().Add(time.Second))
	require.NoError(t, err)
	require.Equal(t, msg.DiagErrComm, got.Type)
	require.Equal(t, peer, got.Payload.(msg.NodePayload).Node)

	hostMsg, err := host.Receive(ctx, time.Now().Add(time.Second))
	require.NoError(t, err)
	require.Equal(t, msg.DiagErrComm, hostMsg.Type)
	require.Equal(t, msg.NodeID{10, 0, 0, 9}, hostMsg.Dest)
}

func TestDiagEmitsDiagErrTaskOnMissingSibling(t *testing.T) {
	ctrl := queue.New("ctrl", 4)

	task := &Task{
		Self:       msg.NodeID{10, 0, 0, 1},
		Pinger:     fakePinger{},
		Liveness:   fakeLiveness{missing: map[string]bool{"point": true}},
		Tasks:      []string{"point", "sensor"},
		PingPeriod: 5 * time.Millisecond,
		Ctrl:       ctrl,
		Log:        discardLog(),
	}
	task.Configure(Config{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go task.Run(ctx)

	got, err := ctrl.Receive(ctx, time.Now().Add(time.Second))
	require.NoError(t, err)
	require.Equal(t, msg.DiagErrTask, got.Type)
}

func TestDiagNoEmissionWhenHealthy(t *testing.T) {
	ctrl := queue.New("ctrl", 4)
	peer := msg.NodeID{10, 0, 0, 5}

	task := &Task{
		Self:        msg.NodeID{10, 0, 0, 1},
		Pinger:      fakePinger{},
		Liveness:    fakeLiveness{},
		Tasks:       []string{"point"},
		PingPeriod:  5 * time.Millisecond,
		PingPackets: 1,
		Ctrl:        ctrl,
		Log:         discardLog(),
	}
	task.Configure(Config{Peers: []msg.NodeID{peer}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go task.Run(ctx)

	_, err := ctrl.Receive(ctx, time.Now().Add(50*time.Millisecond))
	require.ErrorIs(t, err, queue.ErrTimeout)
}
