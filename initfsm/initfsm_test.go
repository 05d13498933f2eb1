package initfsm

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dixl/node/msg"
	"github.com/dixl/node/queue"
)

func discardLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func newTask(t *testing.T) (*Task, *queue.Queue, *queue.Queue, *queue.Queue, *queue.Queue) {
	in := queue.New("init-in", 8)
	ctrl := queue.New("ctrl", 8)
	diagQ := queue.New("diag", 8)
	peer := queue.New("peer", 8)
	task := New(in, ctrl, diagQ, peer, msg.NodeID{1, 1, 1, 1}, nil, discardLog())
	return task, in, ctrl, diagQ, peer
}

func runTask(t *testing.T, task *Task) context.CancelFunc {
	ctx, cancel := context.WithCancel(context.Background())
	go task.Run(ctx)
	time.Sleep(5 * time.Millisecond) // let Run spawn and reach Idle
	return cancel
}

func TestFullConfigSequenceReachesConfigured(t *testing.T) {
	task, in, ctrl, diagQ, peer := newTask(t)
	cancel := runTask(t, task)
	defer cancel()

	ctx := context.Background()
	require.NoError(t, in.Send(ctx, msg.Message{Type: msg.NodeConfig, Payload: msg.NodeConfigPayload{
		Sequence: 0, TotalSegments: 2, Type: &msg.ConfigType{NodeType: msg.Point, TotalSegments: 2},
	}}))
	require.NoError(t, in.Send(ctx, msg.Message{Type: msg.NodeConfig, Payload: msg.NodeConfigPayload{
		Sequence: 1, TotalSegments: 2, Route: &msg.Route{ID: 1, Position: msg.First},
	}}))
	require.NoError(t, in.Send(ctx, msg.Message{Type: msg.NodeConfig, Payload: msg.NodeConfigPayload{
		Sequence: 2, TotalSegments: 2, Route: &msg.Route{ID: 2, Position: msg.Last},
	}}))

	got, err := ctrl.Receive(ctx, time.Now().Add(time.Second))
	require.NoError(t, err)
	require.Equal(t, msg.NodeConfigSet, got.Type)
	cp := got.Payload.(msg.NodeConfigSetPayload)
	assert.Equal(t, msg.Point, cp.NodeType)
	assert.Len(t, cp.Routes, 2)

	_, err = diagQ.Receive(ctx, time.Now().Add(time.Second))
	require.NoError(t, err)
	_, err = peer.Receive(ctx, time.Now().Add(time.Second))
	require.NoError(t, err)

	assert.Equal(t, Configured, task.State())
}

func TestOutOfSequenceRevertsToIdle(t *testing.T) {
	task, in, _, _, _ := newTask(t)
	cancel := runTask(t, task)
	defer cancel()

	ctx := context.Background()
	require.NoError(t, in.Send(ctx, msg.Message{Type: msg.NodeConfig, Payload: msg.NodeConfigPayload{
		Sequence: 0, TotalSegments: 2, Type: &msg.ConfigType{NodeType: msg.Point, TotalSegments: 2},
	}}))
	require.NoError(t, in.Send(ctx, msg.Message{Type: msg.NodeConfig, Payload: msg.NodeConfigPayload{
		Sequence: 2, TotalSegments: 2, Route: &msg.Route{ID: 2},
	}}))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, Idle, task.State())
}

func TestMismatchedTotalSegmentsRevertsToIdle(t *testing.T) {
	task, in, _, _, _ := newTask(t)
	cancel := runTask(t, task)
	defer cancel()

	ctx := context.Background()
	require.NoError(t, in.Send(ctx, msg.Message{Type: msg.NodeConfig, Payload: msg.NodeConfigPayload{
		Sequence: 0, TotalSegments: 2, Type: &msg.ConfigType{NodeType: msg.Point, TotalSegments: 2},
	}}))
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, Configuring, task.State())

	require.NoError(t, in.Send(ctx, msg.Message{Type: msg.NodeConfig, Payload: msg.NodeConfigPayload{
		Sequence: 1, TotalSegments: 3, Route: &msg.Route{ID: 1, Position: msg.First},
	}}))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, Idle, task.State())
}

func TestNodeResetDuringConfiguringReturnsToIdle(t *testing.T) {
	task, in, _, _, _ := newTask(t)
	cancel := runTask(t, task)
	defer cancel()

	ctx := context.Background()
	require.NoError(t, in.Send(ctx, msg.Message{Type: msg.NodeConfig, Payload: msg.NodeConfigPayload{
		Sequence: 0, TotalSegments: 2, Type: &msg.ConfigType{NodeType: msg.Point, TotalSegments: 2},
	}}))
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, Configuring, task.State())

	require.NoError(t, in.Send(ctx, msg.Message{Type: msg.NodeReset}))
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, Idle, task.State())
}

func TestNodeResetFromConfiguredEmitsResetMessages(t *testing.T) {
	task, in, ctrl, diagQ, peer := newTask(t)
	cancel := runTask(t, task)
	defer cancel()

	ctx := context.Background()
	require.NoError(t, in.Send(ctx, msg.Message{Type: msg.NodeConfig, Payload: msg.NodeConfigPayload{
		Sequence: 0, TotalSegments: 1, Type: &msg.ConfigType{NodeType: msg.TrackCircuit, TotalSegments: 1},
	}}))
	require.NoError(t, in.Send(ctx, msg.Message{Type: msg.NodeConfig, Payload: msg.NodeConfigPayload{
		Sequence: 1, TotalSegments: 1, Route: &msg.Route{ID: 9},
	}}))
	_, err := ctrl.Receive(ctx, time.Now().Add(time.Second))
	require.NoError(t, err)
	_, err = diagQ.Receive(ctx, time.Now().Add(time.Second))
	require.NoError(t, err)
	_, err = peer.Receive(ctx, time.Now().Add(time.Second))
	require.NoError(t, err)
	require.Equal(t, Configured, task.State())

	require.NoError(t, in.Send(ctx, msg.Message{Type: msg.NodeReset}))

	got, err := ctrl.Receive(ctx, time.Now().Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, msg.NodeConfigReset, got.Type)
	got, err = peer.Receive(ctx, time.Now().Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, msg.CommTxConfigReset, got.Type)
	assert.Equal(t, Idle, task.State())
}
