package lib

import (
	"fmt"
	"net"
	"net/netip"
)

// Quad is the 4-tuple identifying a connection, seen from the peer:
// Src is the remote end and Dst is our local end.
type Quad struct {
	Src netip.AddrPort
	Dst netip.AddrPort
}

func (q Quad) String() string {
	return fmt.Sprintf("%s->%s", q.Src, q.Dst)
}

// Reverse swaps the two ends.
func (q Quad) Reverse() Quad {
	return Quad{Src: q.Dst, Dst: q.Src}
}

func ipv4Addr(ip net.IP) (netip.Addr, bool) {
	ip4 := ip.To4()
	if ip4 == nil {
		return netip.Addr{}, false
	}
	return netip.AddrFrom4([4]byte(ip4)), true
}
