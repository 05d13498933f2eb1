// Package node wires every task into a running dIXL node: queues, the
// Init/Ctrl FSMs, the Point/Sensor simulators, the Diagnostic and Logger
// tasks, and the comm layer, then drives cooperative startup and shutdown
// (spec §5 "Shutdown is cooperative ... deletes each task in reverse spawn
// order"). Grounded on the teacher's cmd/iecat/main.go: a single
// entry point that builds its collaborators, starts goroutines, and waits
// on a signal/context before tearing them down in order.
package node

import (
	"context"
	"net"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	dixl "github.com/dixl/node"
	"github.com/dixl/node/comm"
	"github.com/dixl/node/ctrl"
	"github.com/dixl/node/device"
	"github.com/dixl/node/diag"
	"github.com/dixl/node/dixlerr"
	"github.com/dixl/node/initfsm"
	"github.com/dixl/node/logbuf"
	"github.com/dixl/node/msg"
	"github.com/dixl/node/queue"
)

// Metrics groups the node's Prometheus instruments (spec §B.1). Metrics
// are pure observability: they are set alongside Effects but never gate a
// transition. PointPosition and SensorState are registered but no task
// updates them, so both stay at 0.
type Metrics struct {
	CtrlState     prometheus.Gauge
	PointPosition prometheus.Gauge
	SensorState   prometheus.Gauge
	PingFailures  *prometheus.CounterVec
	TaskMissing   *prometheus.CounterVec
}

// NewMetrics registers and returns a Metrics on a fresh registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CtrlState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dixl_ctrl_state", Help: "Current Ctrl FSM state.",
		}),
		PointPosition: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dixl_point_position", Help: "Point position gauge; registered but not updated by any task.",
		}),
		SensorState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dixl_sensor_state", Help: "Sensor state gauge (0/1); registered but not updated by any task.",
		}),
		PingFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dixl_diag_ping_failures_total", Help: "Failed diagnostic ping rounds by peer.",
		}, []string{"peer"}),
		TaskMissing: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dixl_diag_task_missing_total", Help: "Liveness probes that found a sibling task missing, by task.",
		}, []string{"task"}),
	}
	reg.MustRegister(m.CtrlState, m.PointPosition, m.SensorState, m.PingFailures, m.TaskMissing)
	return m
}

// Node owns every task and the queues wiring them together. Construct with
// New.
type Node struct {
	Self   msg.NodeID
	Config *dixl.Config
	Log    *logrus.Entry

	Registry   *prometheus.Registry
	Metrics    *Metrics
	Heartbeats *Heartbeats

	queues struct {
		initIn, logIn, ctrlIn, pointIn, sensorIn, diagIn, commTxIn *queue.Queue
	}

	commRx  *comm.CommRx
	commTx  *comm.CommTx
	logger  *logbuf.Task
	point   *device.Point
	sensor  *device.Sensor
	ctrlEng *ctrl.Engine
	ctrlT   *ctrl.Task
	diagT   *diag.Task
	initT   *initfsm.Task

	mu      sync.Mutex
	handles []taskHandle
}

type taskHandle struct {
	name   string
	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a Node from cfg and self, wiring every queue and task but
// starting nothing; call Run to start.
func New(self msg.NodeID, cfg *dixl.Config, log *logrus.Entry) *Node {
	cfg.Check()

	n := &Node{
		Self:       self,
		Config:     cfg,
		Log:        log,
		Registry:   prometheus.NewRegistry(),
		Heartbeats: NewHeartbeats(),
	}
	n.Metrics = NewMetrics(n.Registry)

	n.queues.initIn = queue.New("init", cfg.QueueCapacity)
	n.queues.logIn = queue.New("log", cfg.QueueCapacity)
	n.queues.ctrlIn = queue.New("ctrl", cfg.QueueCapacity)
	n.queues.pointIn = queue.New("point", cfg.QueueCapacity)
	n.queues.sensorIn = queue.New("sensor", cfg.QueueCapacity)
	n.queues.diagIn = queue.New("diag", cfg.QueueCapacity)
	n.queues.commTxIn = queue.New("commtx", cfg.QueueCapacity)

	n.commRx = comm.NewCommRx(cfg.ListenAddr, comm.Queues{
		Init: n.queues.initIn,
		Log:  n.queues.logIn,
		Ctrl: n.queues.ctrlIn,
	}, log)
	n.commRx.Heartbeat = n.Heartbeats.Register("commrx")

	n.commTx = comm.NewCommTx(n.queues.commTxIn, cfg.CommMsgTimeout, log)
	n.commTx.Heartbeat = n.Heartbeats.Register("commtx")

	n.logger = logbuf.New(n.queues.logIn, n.queues.commTxIn, cfg.LogMaxLines, log)
	n.logger.Heartbeat = n.Heartbeats.Register("log")

	n.point = device.NewPoint(n.queues.pointIn, n.queues.ctrlIn, cfg.PointTransitionTime, log)
	n.point.Heartbeat = n.Heartbeats.Register("point")

	driver := device.NewSimDriver(cfg.SensorCheckPeriod)
	n.sensor = device.NewSensor(n.queues.sensorIn, n.queues.ctrlIn, n.queues.logIn, driver, cfg.SensorCheckPeriod, log)
	n.sensor.Heartbeat = n.Heartbeats.Register("sensor")

	n.ctrlEng = ctrl.New(self, cfg.CommMsgTimeout)
	n.ctrlT = &ctrl.Task{
		Engine:     n.ctrlEng,
		In:         n.queues.ctrlIn,
		Peer:       n.queues.commTxIn,
		Point:      n.queues.pointIn,
		Sensor:     n.queues.sensorIn,
		Logger:     n.queues.logIn,
		StateGauge: n.Metrics.CtrlState,
		Heartbeat:  n.Heartbeats.Register("ctrl"),
		Log:        log,
	}

	n.diagT = &diag.Task{
		Self:         self,
		In:           n.queues.diagIn,
		Pinger:       diag.ICMPPinger{},
		Liveness:     n.Heartbeats,
		Tasks:        []string{"commrx", "log", "point", "sensor", "ctrl", "commtx"},
		PingPackets:  cfg.DiagPingPackets,
		PingPeriod:   cfg.DiagPingPeriod,
		Ctrl:         n.queues.ctrlIn,
		Peer:         n.queues.commTxIn,
		PingFailures: n.Metrics.PingFailures,
		TaskMissing:  n.Metrics.TaskMissing,
		Heartbeat:    n.Heartbeats.Register("diag"),
		Log:          log,
	}

	n.initT = initfsm.New(n.queues.initIn, n.queues.ctrlIn, n.queues.diagIn, n.queues.commTxIn, msg.Null, n.spawnSiblings, log)
	n.initT.Heartbeat = n.Heartbeats.Register("init")
	return n
}

// Run starts the Init task — which in turn spawns every sibling task in
// the fixed order the spec mandates — and blocks until ctx is canceled or
// a fatal task error occurs.
func (n *Node) Run(ctx context.Context) error {
	n.selfCheck()

	errCh := make(chan error, 1)
	go func() {
		n.Heartbeats.Register("init").Touch()
		errCh <- n.run(ctx, "init", n.initT.Run)
	}()

	select {
	case <-ctx.Done():
		n.Stop()
		<-errCh
		return nil
	case err := <-errCh:
		n.Stop()
		return err
	}
}

// spawnSiblings starts CommRx, Log, Point, Sensor, Ctrl, Diag, CommTx in
// that fixed order (spec §4.1: "receivers must be ready before senders;
// device simulators must be ready before Ctrl can command them").
func (n *Node) spawnSiblings(ctx context.Context) error {
	n.start(ctx, "commrx", n.commRx.Run)
	n.start(ctx, "log", n.logger.Run)
	n.start(ctx, "point", n.point.Run)
	n.start(ctx, "sensor", n.sensor.Run)
	n.start(ctx, "ctrl", n.ctrlT.Run)
	n.start(ctx, "diag", n.diagT.Run)
	n.start(ctx, "commtx", n.commTx.Run)
	return nil
}

func (n *Node) start(parent context.Context, name string, run func(context.Context) error) {
	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	hb := n.Heartbeats.Register(name)

	go func() {
		defer close(done)
		hb.Touch()
		if err := n.run(ctx, name, run); err != nil {
			n.Log.WithError(err).WithField("task", name).Error("task exited with error")
		}
	}()

	n.mu.Lock()
	n.handles = append(n.handles, taskHandle{name: name, cancel: cancel, done: done})
	n.mu.Unlock()
}

func (n *Node) run(ctx context.Context, name string, run func(context.Context) error) error {
	return run(ctx)
}

// Stop deletes each spawned task in reverse spawn order: cancels it,
// waits for it to return, then moves to the next (spec §5). The Init task
// itself is canceled by the caller's ctx and is not tracked here.
func (n *Node) Stop() {
	n.mu.Lock()
	handles := append([]taskHandle(nil), n.handles...)
	n.handles = nil
	n.mu.Unlock()

	for i := len(handles) - 1; i >= 0; i-- {
		h := handles[i]
		h.cancel()
		<-h.done
		n.Log.WithField("task", h.name).Info("task stopped")
	}
}

// selfCheck verifies Config.ListenAddr resolves to a local interface
// (spec §B.4 "network.c interface enumeration" supplement). Advisory
// only: failure is logged, never fatal.
func (n *Node) selfCheck() {
	host, port, err := net.SplitHostPort(n.Config.ListenAddr)
	if err != nil {
		return
	}
	ifaces, err := net.Interfaces()
	if err != nil {
		n.Log.WithError(dixlerr.New("node", dixlerr.NetworkIfEnumeration, err)).Warn("interface enumeration failed")
		return
	}
	n.Log.WithField("interfaces", len(ifaces)).WithField("port", port).Debug("listen address self-check")
	ip := net.ParseIP(host)
	if ip == nil || ip.IsUnspecified() {
		return
	}
	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			if ipn, ok := a.(*net.IPNet); ok && ipn.IP.Equal(ip) {
				return
			}
		}
	}
	n.Log.WithField("addr", host).Warn("listen address matches no local interface")
}
