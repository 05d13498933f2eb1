// Package diag implements the Diagnostic task (spec §4.6): on CONFIG it
// derives the set of distinct upstream peers from the node's routes, pings
// them round-robin, and probes its sibling tasks' liveness, surfacing
// PeerUnreachable/TaskMissing as DIAGERRCOMM/DIAGERRTASK to Ctrl and the
// host. Grounded on the teacher's session/tcp.go ticker-driven timeout
// bookkeeping, generalized from one connection's keepalive to many peers.
package diag

import (
	"context"
	"net"
	"net/netip"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
)

// Pinger probes a single address for liveness. The default implementation,
// ICMPPinger, is grounded on golang.org/x/net/icmp+ipv4 (spec §1 treats the
// ICMP transport as an external collaborator; only this contract is
// specified).
type Pinger interface {
	// Ping sends count echo requests to addr, reporting true only if every
	// one is answered before deadline.
	Ping(ctx context.Context, addr netip.Addr, count int, timeout time.Duration) (ok bool, err error)
}

// ICMPPinger sends unprivileged ("datagram-socket") ICMP echo requests via
// golang.org/x/net/icmp, matching how the corpus's networking-heavy repos
// (moby-moby, estuary-flow) reach for golang.org/x/net rather than raw
// sockets.
type ICMPPinger struct {
	// Network selects the x/net/icmp listen network: "udp4" for an
	// unprivileged socket (requires net.ipv4.ping_group_range on Linux),
	// "ip4:icmp" for a privileged raw socket. Defaults to "udp4".
	Network string
}

func (p ICMPPinger) network() string {
	if p.Network != "" {
		return p.Network
	}
	return "udp4"
}

// Ping implements Pinger.
func (p ICMPPinger) Ping(ctx context.Context, addr netip.Addr, count int, timeout time.Duration) (bool, error) {
	conn, err := icmp.ListenPacket(p.network(), "0.0.0.0")
	if err != nil {
		return false, err
	}
	defer conn.Close()

	var dst net.Addr = &net.UDPAddr{IP: addr.AsSlice()}
	if p.network() != "udp4" {
		dst = &net.IPAddr{IP: addr.AsSlice()}
	}
	for seq := 0; seq < count; seq++ {
		msgBytes, err := (&icmp.Message{
			Type: ipv4.ICMPTypeEcho,
			Code: 0,
			Body: &icmp.Echo{ID: int(time.Now().UnixNano() & 0xffff), Seq: seq, Data: []byte("dixl-diag")},
		}).Marshal(nil)
		if err != nil {
			return false, err
		}
		if _, err := conn.WriteTo(msgBytes, dst); err != nil {
			return false, err
		}
		if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return false, err
		}
		reply := make([]byte, 512)
		n, _, err := conn.ReadFrom(reply)
		if err != nil {
			return false, nil // timeout or unreachable: a failed round, not a fatal error
		}
		parsed, err := icmp.ParseMessage(1, reply[:n])
		if err != nil || parsed.Type != ipv4.ICMPTypeEchoReply {
			return false, nil
		}
	}
	return true, nil
}
