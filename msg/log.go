package msg

import (
	"fmt"
	"time"
)

// LogRecordKind classifies a log record (spec §3 "Log record").
type LogRecordKind uint8

const (
	LogReqKind         LogRecordKind = iota + 1 // route request seen
	LogOccupied                                 // sensor ON edge
	LogReqNack                                  // route request refused
	LogDisagree                                  // protocol abort
	LogReserved                                  // reservation completed
	LogFreed                                     // reservation released
	LogMalfunction                               // device malfunction
	LogNotReserved                               // request while not reserved / unknown route
)

// String names a LogRecordKind.
func (k LogRecordKind) String() string {
	switch k {
	case LogReqKind:
		return "REQ"
	case LogOccupied:
		return "OCCUPIED"
	case LogReqNack:
		return "REQNACK"
	case LogDisagree:
		return "DISAGREE"
	case LogReserved:
		return "RESERVED"
	case LogFreed:
		return "FREED"
	case LogMalfunction:
		return "MALFUNCTION"
	case LogNotReserved:
		return "NOTRESERVED"
	default:
		return fmt.Sprintf("logkind(%d)", uint8(k))
	}
}

// LogRecord is one entry of the Logger's ring buffer (spec §3, §4.8).
type LogRecord struct {
	Timestamp  time.Time
	Kind       LogRecordKind
	RouteID    uint32
	SourceNode NodeID
}

// unixNano reconstructs a time.Time from the wire's unix-nanoseconds
// encoding of a LogRecord timestamp.
func unixNano(ns uint64) time.Time {
	return time.Unix(0, int64(ns)).UTC()
}
