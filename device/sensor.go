package device

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dixl/node/msg"
	"github.com/dixl/node/queue"
)

// SensorDriver reads the physical (or simulated) occupancy input. The
// shipped Sensor uses a SimDriver that flips to the commanded target
// after a fixed delay, matching spec §4.5's "Simulation mode may
// substitute a fixed delay for the physical read".
type SensorDriver interface {
	Read() msg.SensorLevel
}

// SimDriver is a SensorDriver that reports On once SetTarget(On) was
// called at least settleDelay ago, and Off as soon as SetTarget(Off) is
// called; it never reads real hardware.
type SimDriver struct {
	settleDelay time.Duration

	mu        sync.Mutex
	target    msg.SensorLevel
	changedAt time.Time
}

// NewSimDriver returns a SimDriver starting Off.
func NewSimDriver(settleDelay time.Duration) *SimDriver {
	return &SimDriver{settleDelay: settleDelay, changedAt: time.Now()}
}

// SetTarget is how a test (or an operator tool) drives the simulated
// occupancy level.
func (d *SimDriver) SetTarget(level msg.SensorLevel) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.target != level {
		d.target = level
		d.changedAt = time.Now()
	}
}

// Read reports the target level once settleDelay has elapsed since the
// last SetTarget call, Off otherwise — approximating physical transit
// time for a simulated track circuit.
func (d *SimDriver) Read() msg.SensorLevel {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.target == msg.On && time.Since(d.changedAt) < d.settleDelay {
		return msg.Off
	}
	return d.target
}

// Sensor periodically samples a binary input and latches onto a
// commanded target, notifying Ctrl exactly once when the sampled value
// reaches it (spec §4.5).
type Sensor struct {
	In        *queue.Queue
	Notify    *queue.Queue // Ctrl's inbound queue
	Logger    *queue.Queue // LOGTYPE_OCCUPIED on an ON edge
	Driver    SensorDriver
	Heartbeat Heartbeat // optional; touched on every tick
	Log       *logrus.Entry

	period time.Duration

	mu      sync.Mutex
	target  msg.SensorLevel
	nonce   msg.Nonce
	armed   bool
	current msg.SensorLevel
}

// NewSensor returns a Sensor sampling driver every period (spec
// §4.5 "TASKSENSORCHECKPERIOD").
func NewSensor(in, notify, logger *queue.Queue, driver SensorDriver, period time.Duration, log *logrus.Entry) *Sensor {
	return &Sensor{
		In:     in,
		Notify: notify,
		Logger: logger,
		Driver: driver,
		Log:    log.WithField("task", "sensor"),
		period: period,
	}
}

// Run processes In and samples Driver every period until ctx is canceled.
func (s *Sensor) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if s.Heartbeat != nil {
				s.Heartbeat.Touch()
			}
			if m, ok := s.In.TryReceive(); ok {
				s.handle(m)
			}
			s.sample(ctx)
		}
	}
}

func (s *Sensor) handle(m msg.Message) {
	sp, ok := m.Payload.(msg.SensorStatePayload)
	if m.Type != msg.SensorState || !ok {
		return
	}
	s.mu.Lock()
	s.target = sp.Target
	s.nonce = sp.Nonce
	s.armed = true
	s.mu.Unlock()
}

func (s *Sensor) sample(ctx context.Context) {
	level := s.Driver.Read()

	s.mu.Lock()
	edge := level == msg.On && s.current != msg.On
	s.current = level
	matched := s.armed && level == s.target
	nonce := s.nonce
	if matched {
		s.armed = false
	}
	s.mu.Unlock()

	if edge {
		_ = s.Logger.Send(ctx, msg.Message{Type: msg.Log, Payload: msg.LogPayload{
			Record: msg.LogRecord{Timestamp: time.Now(), Kind: msg.LogOccupied},
		}})
	}
	if matched {
		_ = s.Notify.Send(ctx, msg.Message{
			Type:    msg.SensorNotify,
			Payload: msg.SensorNotifyPayload{Level: level, Nonce: nonce},
		})
	}
}
