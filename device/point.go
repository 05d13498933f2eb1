// Package device implements the two physical simulators Ctrl commands:
// the motorised point and the binary occupancy sensor (spec §4.4, §4.5).
// Both are grounded on the teacher's mutex-guarded connection state
// (session/tcp.go's single run loop owning all mutable fields), here
// generalized to a stepping/sampling tick loop driven by a time.Ticker,
// the same idiom the teacher uses for its checkTicker-driven timeout
// scan.
package device

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dixl/node/msg"
	"github.com/dixl/node/queue"
)

// Heartbeat receives forward-progress notifications from Run, so that
// package node's liveness registry can tell a wedged task from a dead
// one.
type Heartbeat interface {
	Touch()
}

// PointDriver moves the physical (or simulated) point motor one step at a
// time and reports where it landed. The shipped Point uses a
// SimPointDriver with no real motor, matching spec §4.4's "Simulation
// mode may substitute direct position arithmetic for the physical
// stepper" — the same hardware-abstraction boundary original_source's
// utils.c/hw.c draw between the ISR-facing driver and the FSM above it.
type PointDriver interface {
	// Current reports the driver's position without moving it.
	Current() msg.PointPosition
	// Step advances one unit toward target and reports the position it
	// lands on.
	Step(target msg.PointPosition) msg.PointPosition
	// Reset forces the driver to position, e.g. on POINTRESET.
	Reset(position msg.PointPosition)
}

// SimPointDriver is a PointDriver that steps an in-memory position one
// unit per call; it never drives real hardware.
type SimPointDriver struct {
	mu       sync.Mutex
	position msg.PointPosition
}

// NewSimPointDriver returns a SimPointDriver starting at start.
func NewSimPointDriver(start msg.PointPosition) *SimPointDriver {
	return &SimPointDriver{position: start}
}

// Current implements PointDriver.
func (d *SimPointDriver) Current() msg.PointPosition {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.position
}

// Step implements PointDriver.
func (d *SimPointDriver) Step(target msg.PointPosition) msg.PointPosition {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.position < target {
		d.position++
	} else if d.position > target {
		d.position--
	}
	return d.position
}

// Reset implements PointDriver.
func (d *SimPointDriver) Reset(position msg.PointPosition) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.position = position
}

// Point simulates a motorised point stepping one unit per tick toward a
// requested position (spec §4.4). All mutable state beyond the driver's
// own position is guarded by mu; Position reads the driver, whose own
// lock makes it safe to call from other goroutines while Run is active.
type Point struct {
	In        *queue.Queue
	Notify    *queue.Queue // Ctrl's inbound queue
	Driver    PointDriver
	Heartbeat Heartbeat // optional; touched on every tick
	Log       *logrus.Entry

	tickPeriod time.Duration

	mu        sync.Mutex
	target    msg.PointPosition
	nonce     msg.Nonce
	armed     bool
	undefined bool // latches until POINTRESET
}

// NewPoint returns a Point whose STRAIGHT→DIVERGING traversal takes
// transitionTime; its per-step tick period is derived once as
// transitionTime / |DIVERGING − STRAIGHT|, truncated to whole nanoseconds
// (1ms if that comes to zero), so the full traversal takes at most
// transitionTime. Its PointDriver defaults to a
// SimPointDriver starting at STRAIGHT; set Driver before Run to substitute
// a real one.
func NewPoint(in, notify *queue.Queue, transitionTime time.Duration, log *logrus.Entry) *Point {
	span := int64(msg.Diverging - msg.Straight)
	if span < 0 {
		span = -span
	}
	step := transitionTime
	if span > 0 {
		step = transitionTime / time.Duration(span)
	}
	if step <= 0 {
		step = time.Millisecond
	}
	return &Point{
		In:         in,
		Notify:     notify,
		Driver:     NewSimPointDriver(msg.Straight),
		Log:        log.WithField("task", "point"),
		tickPeriod: step,
	}
}

// Position reports the simulator's current position.
func (p *Point) Position() msg.PointPosition {
	return p.Driver.Current()
}

// Run processes In, consuming at most one inbound message per tick and
// stepping the simulated position by one unit toward target (spec §4.4
// "worker" contract).
func (p *Point) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.tickPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if p.Heartbeat != nil {
				p.Heartbeat.Touch()
			}
			if m, ok := p.In.TryReceive(); ok {
				p.handle(ctx, m)
			}
			p.step(ctx)
		}
	}
}

func (p *Point) handle(ctx context.Context, m msg.Message) {
	switch m.Type {
	case msg.PointReset:
		rp, ok := m.Payload.(msg.PointResetPayload)
		if !ok {
			return
		}
		p.Driver.Reset(rp.Position)
		p.mu.Lock()
		p.target = rp.Position
		p.armed = false
		p.undefined = false
		p.mu.Unlock()

	case msg.PointPos:
		pp, ok := m.Payload.(msg.PointPosPayload)
		if !ok {
			return
		}
		p.mu.Lock()
		p.target = pp.Target
		p.nonce = pp.Nonce
		undefined := p.undefined
		p.armed = !undefined
		p.mu.Unlock()
		// A point latched UNDEFINED never steps again before RESET; reply
		// immediately so Ctrl's Positioning (which arms no deadline of its
		// own) is not left waiting forever.
		if undefined {
			p.notify(ctx, msg.UndefinedPosition, pp.Nonce)
		}

	case msg.PointMalfunc:
		p.mu.Lock()
		p.undefined = true
		nonce, armed := p.nonce, p.armed
		p.mu.Unlock()
		if armed {
			p.notify(ctx, msg.UndefinedPosition, nonce)
		}
	}
}

// step advances position by one unit toward target, if a nonce is armed,
// and notifies Ctrl exactly once when stepping ends (spec §4.4 "Output").
func (p *Point) step(ctx context.Context) {
	p.mu.Lock()
	if p.undefined || !p.armed {
		p.mu.Unlock()
		return
	}
	target := p.target
	nonce := p.nonce
	p.mu.Unlock()

	position := p.Driver.Step(target)
	done := position == target

	if done {
		p.mu.Lock()
		p.armed = false
		p.mu.Unlock()
		p.notify(ctx, position, nonce)
	}
}

func (p *Point) notify(ctx context.Context, position msg.PointPosition, nonce msg.Nonce) {
	_ = p.Notify.Send(ctx, msg.Message{
		Type:    msg.PointNotify,
		Payload: msg.PointNotifyPayload{Position: position, Nonce: nonce},
	})
}
