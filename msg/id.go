// Package msg defines the node identifiers, route records, message
// union and wire codec shared by every dIXL task.
package msg

import (
	"fmt"
	"net"
)

// NodeID is a 4-byte IPv4 address used as the unique identifier of every
// participant: peer nodes and the host. The all-zero value is the
// distinguished NULL (absent) identifier; see Null and IsNull.
type NodeID [4]byte

// Null is the distinguished "absent" node identifier.
var Null NodeID

// IsNull reports whether id is the all-zero NULL sentinel: true only when
// every octet is zero. A predicate built from OR instead of AND across the
// octets would report NULL for any address containing a single zero byte
// (e.g. 10.0.2.3) — that is not this check.
func (id NodeID) IsNull() bool {
	return id[0] == 0 && id[1] == 0 && id[2] == 0 && id[3] == 0
}

// String renders id in dotted-quad form, or "<null>" for Null.
func (id NodeID) String() string {
	if id.IsNull() {
		return "<null>"
	}
	return fmt.Sprintf("%d.%d.%d.%d", id[0], id[1], id[2], id[3])
}

// NodeIDFromIP packs a 4-byte IPv4 address into a NodeID. It panics if ip
// is not a valid IPv4 address, since every caller constructs from trusted
// configuration or wire bytes of the correct width.
func NodeIDFromIP(ip net.IP) NodeID {
	v4 := ip.To4()
	if v4 == nil {
		panic("msg: not an IPv4 address: " + ip.String())
	}
	var id NodeID
	copy(id[:], v4)
	return id
}

// IP returns id as a net.IP.
func (id NodeID) IP() net.IP {
	return net.IP(id[:])
}

// ParseNodeID parses a dotted-quad IPv4 address into a NodeID.
func ParseNodeID(s string) (NodeID, error) {
	ip := net.ParseIP(s)
	if ip == nil {
		return NodeID{}, fmt.Errorf("msg: %q is not an IP address", s)
	}
	v4 := ip.To4()
	if v4 == nil {
		return NodeID{}, fmt.Errorf("msg: %q is not an IPv4 address", s)
	}
	var id NodeID
	copy(id[:], v4)
	return id, nil
}
