package lib

import (
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/pkg/errors"
)

var ErrNotIPv4TCP = errors.New("frame is not an IPv4 TCP segment")

// Segment is an inbound IPv4/TCP segment decoded from a raw frame.
// The layers and Payload alias the frame they were parsed from, so a Segment
// must not outlive that frame.
type Segment struct {
	IP      *layers.IPv4
	TCP     *layers.TCP
	Payload []byte
}

// ParseSegment decodes a raw IPv4 datagram carrying TCP.
func ParseSegment(frame []byte) (*Segment, error) {
	packet := gopacket.NewPacket(frame, layers.LayerTypeIPv4, gopacket.DecodeOptions{NoCopy: true})
	ipv4Layer := packet.Layer(layers.LayerTypeIPv4)
	if ipv4Layer == nil {
		return nil, ErrNotIPv4TCP
	}
	tcpLayer := packet.Layer(layers.LayerTypeTCP)
	if tcpLayer == nil {
		if errLayer := packet.ErrorLayer(); errLayer != nil {
			return nil, errors.Wrap(errLayer.Error(), "segment decode")
		}
		return nil, ErrNotIPv4TCP
	}
	tcp := tcpLayer.(*layers.TCP)
	return &Segment{
		IP:      ipv4Layer.(*layers.IPv4),
		TCP:     tcp,
		Payload: tcp.Payload,
	}, nil
}

// Quad returns the segment's 4-tuple with the sender as Src.
func (s *Segment) Quad() Quad {
	src, _ := ipv4Addr(s.IP.SrcIP)
	dst, _ := ipv4Addr(s.IP.DstIP)
	return Quad{
		Src: netip.AddrPortFrom(src, uint16(s.TCP.SrcPort)),
		Dst: netip.AddrPortFrom(dst, uint16(s.TCP.DstPort)),
	}
}

// Len returns the number of sequence numbers the segment occupies, counting SYN and FIN.
func (s *Segment) Len() uint32 {
	slen := uint32(len(s.Payload))
	if s.TCP.SYN {
		slen++
	}
	if s.TCP.FIN {
		slen++
	}
	return slen
}

// Flags returns the TCP control bits packed as in the header.
func (s *Segment) Flags() uint8 {
	return tcpFlags(s.TCP)
}

func tcpFlags(t *layers.TCP) uint8 {
	var flags uint8
	if t.FIN {
		flags |= FINFlag
	}
	if t.SYN {
		flags |= SYNFlag
	}
	if t.RST {
		flags |= RSTFlag
	}
	if t.PSH {
		flags |= PSHFlag
	}
	if t.ACK {
		flags |= ACKFlag
	}
	if t.URG {
		flags |= URGFlag
	}
	return flags
}

// flagString renders flags as "[SYN,ACK]", from FIN up to URG.
func flagString(flags uint8) string {
	if flags == 0 {
		return "[]"
	}
	const strflags = "FINSYNRSTPSHACKURG"
	buf := make([]byte, 0, 2+4*6)
	for i := 0; i*3 < len(strflags); i++ {
		if flags&(1<<i) == 0 {
			continue
		}
		if len(buf) == 0 {
			buf = append(buf, '[')
		} else {
			buf = append(buf, ',')
		}
		buf = append(buf, strflags[i*3:i*3+3]...)
	}
	return string(append(buf, ']'))
}
