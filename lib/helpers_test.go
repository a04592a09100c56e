package lib

import (
	"encoding/binary"
	"errors"
	"net"
	"net/netip"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

var (
	peer  = netip.MustParseAddrPort("192.168.0.2:40000")
	local = netip.MustParseAddrPort("192.168.0.1:7000")
)

// recordingNIC stores a copy of every frame written to it.
type recordingNIC struct {
	frames [][]byte
}

func (n *recordingNIC) Write(p []byte) (int, error) {
	n.frames = append(n.frames, append([]byte(nil), p...))
	return len(p), nil
}

// take returns and forgets the recorded frames.
func (n *recordingNIC) take() [][]byte {
	frames := n.frames
	n.frames = nil
	return frames
}

var errNICDown = errors.New("nic down")

type failingNIC struct{}

func (failingNIC) Write(p []byte) (int, error) { return 0, errNICDown }

// segFields describes a segment sent by the peer.
type segFields struct {
	seq, ack            uint32
	syn, ackf, fin, rst bool
	wnd                 uint16
	payload             []byte
}

func peerFrame(t testing.TB, s segFields) []byte {
	t.Helper()
	return buildFrame(t, peer, local, s)
}

func buildFrame(t testing.TB, src, dst netip.AddrPort, s segFields) []byte {
	t.Helper()
	wnd := s.wnd
	if wnd == 0 {
		wnd = 64240
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    net.IP(src.Addr().AsSlice()),
		DstIP:    net.IP(dst.Addr().AsSlice()),
	}
	tcp := &layers.TCP{
		SrcPort: layers.TCPPort(src.Port()),
		DstPort: layers.TCPPort(dst.Port()),
		Seq:     s.seq,
		Ack:     s.ack,
		SYN:     s.syn,
		ACK:     s.ackf,
		FIN:     s.fin,
		RST:     s.rst,
		Window:  wnd,
	}
	if err := tcp.SetNetworkLayerForChecksum(ip); err != nil {
		t.Fatal(err)
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, ip, tcp, gopacket.Payload(s.payload)); err != nil {
		t.Fatal(err)
	}
	return append([]byte(nil), buf.Bytes()...)
}

func peerSegment(t testing.TB, s segFields) *Segment {
	t.Helper()
	seg, err := ParseSegment(peerFrame(t, s))
	if err != nil {
		t.Fatal(err)
	}
	return seg
}

// parseOut decodes a frame the connection wrote and checks its checksums.
func parseOut(t testing.TB, frame []byte) *Segment {
	t.Helper()
	seg, err := ParseSegment(frame)
	if err != nil {
		t.Fatalf("outgoing frame does not parse: %v", err)
	}
	if int(seg.IP.Length) != len(frame) {
		t.Errorf("ip total length %d, frame length %d", seg.IP.Length, len(frame))
	}
	if !tcpChecksumOK(frame) {
		t.Errorf("bad tcp checksum in outgoing frame % x", frame)
	}
	return seg
}

// tcpChecksumOK verifies the TCP checksum over the IPv4 pseudo-header.
func tcpChecksumOK(frame []byte) bool {
	ihl := int(frame[0]&0x0f) * 4
	total := int(binary.BigEndian.Uint16(frame[2:4]))
	seg := frame[ihl:total]
	var sum uint32
	add := func(b []byte) {
		for i := 0; i+1 < len(b); i += 2 {
			sum += uint32(binary.BigEndian.Uint16(b[i:]))
		}
		if len(b)%2 == 1 {
			sum += uint32(b[len(b)-1]) << 8
		}
	}
	add(frame[12:20]) // source and destination addresses
	sum += uint32(layers.IPProtocolTCP) + uint32(len(seg))
	add(seg)
	for sum>>16 != 0 {
		sum = sum&0xffff + sum>>16
	}
	return uint16(sum) == 0xffff
}

func testConfig(iss uint32) *ConnectionConfig {
	config := DefaultConnectionConfig()
	config.ISS = FixedISS(iss)
	return config
}

func expectState(t testing.TB, c *Connection, want State) {
	t.Helper()
	if c.State() != want {
		t.Fatalf("state %s, want %s", c.State(), want)
	}
}

func expectFrames(t testing.TB, nic *recordingNIC, want int) [][]byte {
	t.Helper()
	frames := nic.take()
	if len(frames) != want {
		t.Fatalf("%d frames written, want %d", len(frames), want)
	}
	return frames
}
