// Package dixl holds the node's compile-time configuration defaults
// (spec §6 "Configuration") and, in cmd/dixlnode, its process entry
// points. It is deliberately thin: the node's actual behavior arrives
// over the wire from the host (spec §4.1), so Config only fixes the
// process-boot parameters the source hard-coded as constants.
package dixl

import "time"

// Config mirrors the teacher's session.TCPConfig: every field has a
// §6-mandated default applied by Check, and Check panics on an
// out-of-range override rather than silently clamping it.
type Config struct {
	// ListenAddr is the TCP address CommRx binds, "COMMSOCKPORT" in §6.
	ListenAddr string

	// QueueCapacity bounds every task's inbound queue (spec §5,
	// default ≈1024).
	QueueCapacity int

	// CommBufferSize bounds a single wire message, "COMMBUFFERSIZE =
	// 2 × MSG_MAXLENGTH" in §6. The codec's own 255-byte ceiling
	// (msg.ErrTooLarge) is the real limit; this field is retained for
	// parity with the source's buffer-sizing constant.
	CommBufferSize int

	// MaxRoutes bounds the NODECONFIG route count, "CONFIGMAXROUTES" in
	// §6.
	MaxRoutes int

	// PointTransitionTime is "TASKPOINTTRANSTIME": the wall-clock time
	// for a point to travel from STRAIGHT to DIVERGING.
	PointTransitionTime time.Duration

	// SensorCheckPeriod is "TASKSENSORCHECKPERIOD": the sensor
	// sampler's polling interval.
	SensorCheckPeriod time.Duration

	// CommMsgTimeout is "COMMMSGTIMEOUT": the deadline armed by the
	// Ctrl FSM's WaitAck/WaitCommit/WaitAgree states.
	CommMsgTimeout time.Duration

	// LogMaxLines is "TASKLOGMAXLINES": the Logger ring buffer's
	// capacity.
	LogMaxLines int

	// DiagPingPackets is "TASKDIAGPINGPKTS": echo requests sent per
	// peer, per diagnostic round.
	DiagPingPackets int

	// DiagPingPeriod paces successive diagnostic rounds across all
	// known peers ("TASKDIAGPINGPERIOD" in the source; not named on the
	// wire but required to avoid a busy round-robin loop).
	DiagPingPeriod time.Duration

	// TaskPriority is carried only for parity with the source's
	// taskSpawn priority argument. Go's scheduler has no equivalent
	// notion; no task or orchestrator code reads it.
	TaskPriority int
}

// Check applies the §6 defaults for every unset field and panics if an
// explicit override is out of range.
func (c *Config) Check() *Config {
	if c.ListenAddr == "" {
		c.ListenAddr = ":256"
	}
	if c.QueueCapacity == 0 {
		c.QueueCapacity = 1024
	} else if c.QueueCapacity < 1 {
		panic("dixl: QueueCapacity must be positive")
	}
	if c.CommBufferSize == 0 {
		c.CommBufferSize = 2 * 255
	}
	if c.MaxRoutes == 0 {
		c.MaxRoutes = 256
	} else if c.MaxRoutes < 1 {
		panic("dixl: MaxRoutes must be positive")
	}
	if c.PointTransitionTime == 0 {
		c.PointTransitionTime = 3000 * time.Millisecond
	} else if c.PointTransitionTime < 0 {
		panic("dixl: PointTransitionTime must not be negative")
	}
	if c.SensorCheckPeriod == 0 {
		c.SensorCheckPeriod = 1000 * time.Millisecond
	} else if c.SensorCheckPeriod < 0 {
		panic("dixl: SensorCheckPeriod must not be negative")
	}
	if c.CommMsgTimeout == 0 {
		c.CommMsgTimeout = 5 * time.Second
	} else if c.CommMsgTimeout < 0 {
		panic("dixl: CommMsgTimeout must not be negative")
	}
	if c.LogMaxLines == 0 {
		c.LogMaxLines = 1024
	} else if c.LogMaxLines < 1 {
		panic("dixl: LogMaxLines must be positive")
	}
	if c.DiagPingPackets == 0 {
		c.DiagPingPackets = 3
	} else if c.DiagPingPackets < 1 {
		panic("dixl: DiagPingPackets must be positive")
	}
	if c.DiagPingPeriod == 0 {
		c.DiagPingPeriod = 2 * time.Second
	} else if c.DiagPingPeriod < 0 {
		panic("dixl: DiagPingPeriod must not be negative")
	}
	return c
}
