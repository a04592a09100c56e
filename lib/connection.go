package lib

import (
	"io"
	"net"

	"github.com/google/gopacket/layers"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type ConnectionConfig struct {
	WindowSize     uint16       // receive window advertised to the peer
	TTL            uint8        // TTL of outgoing datagrams
	BufferCapacity int          // transmission buffer capacity, at most MTU
	SendResets     bool         // emit RST where RFC 793 calls for one
	TraceSize      int64        // bytes of exchange trace kept per connection, 0 disables it
	ISS            ISSGenerator // initial send sequence number generator
	Logger         *zap.Logger
}

// DefaultConnectionConfig returns the defaults. Its ISS generator follows RFC 6528.
func DefaultConnectionConfig() *ConnectionConfig {
	iss, err := NewRFC6528Generator()
	if err != nil {
		iss = RandomISS
	}
	return &ConnectionConfig{
		WindowSize:     DefaultWindowSize,
		TTL:            DefaultTTL,
		BufferCapacity: MTU,
		TraceSize:      DefaultTraceSize,
		ISS:            iss,
		Logger:         zap.NewNop(),
	}
}

// Connection is one side of a passively opened TCP connection. As soon as the
// handshake completes it closes its side, then waits for the peer's FIN.
//
// A Connection is not safe for concurrent use: segments must be fed through
// OnPacket one at a time and in arrival order.
type Connection struct {
	state  State
	send   SendSequenceSpace
	recv   ReceiveSequenceSpace
	ip     layers.IPv4 // outgoing IPv4 header template
	tcph   layers.TCP  // outgoing TCP header template
	quad   Quad
	buf    *FrameBuffer
	config *ConnectionConfig
	log    *zap.Logger
	trace  *trace
}

// Accept creates a connection from a segment the dispatcher believes opens one
// and answers it with SYN|ACK. It returns a nil Connection and no error if the
// segment carries no SYN, in which case nothing is written to nic.
func Accept(nic io.Writer, seg *Segment, config *ConnectionConfig) (*Connection, error) {
	if !seg.TCP.SYN {
		// only expected SYN packet
		return nil, nil
	}
	if config == nil {
		config = DefaultConnectionConfig()
	}
	buf, err := NewFrameBuffer(config.BufferCapacity)
	if err != nil {
		return nil, err
	}
	tr, err := newTrace(config.TraceSize)
	if err != nil {
		return nil, errors.Wrap(err, "trace buffer")
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	issFn := config.ISS
	if issFn == nil {
		issFn = RandomISS
	}
	quad := seg.Quad()
	iss := issFn(quad)
	wnd := config.WindowSize
	c := &Connection{
		state: StateSynRcvd,
		send: SendSequenceSpace{
			ISS: iss,
			UNA: iss,
			NXT: iss,
			WND: seg.TCP.Window,
		},
		recv: ReceiveSequenceSpace{
			IRS: seg.TCP.Seq,
			NXT: SeqIncrement(seg.TCP.Seq), // SYN consumes one sequence number
			WND: wnd,
		},
		ip: layers.IPv4{
			Version:  4,
			TTL:      config.TTL,
			Flags:    layers.IPv4DontFragment,
			Protocol: layers.IPProtocolTCP,
			SrcIP:    net.IP(quad.Dst.Addr().AsSlice()),
			DstIP:    net.IP(quad.Src.Addr().AsSlice()),
		},
		tcph: layers.TCP{
			SrcPort: layers.TCPPort(quad.Dst.Port()),
			DstPort: layers.TCPPort(quad.Src.Port()),
			Seq:     iss,
			Window:  wnd,
		},
		quad:   quad,
		buf:    buf,
		config: config,
		log:    logger.With(zap.Stringer("conn", quad)),
		trace:  tr,
	}
	c.trace.incoming(c.state, seg)

	// need to start establishing a connection
	c.tcph.SYN = true
	c.tcph.ACK = true
	if _, err := c.write(nic, nil); err != nil {
		return nil, err
	}
	c.log.Debug("SYN received, SYN|ACK sent",
		zap.Uint32("irs", c.recv.IRS),
		zap.Uint32("iss", c.send.ISS))
	return c, nil
}

func (c *Connection) State() State { return c.state }

func (c *Connection) Send() SendSequenceSpace { return c.send }

func (c *Connection) Recv() ReceiveSequenceSpace { return c.recv }

func (c *Connection) Quad() Quad { return c.quad }

// Trace returns the most recent exchanges of this connection, one per line.
func (c *Connection) Trace() string { return c.trace.String() }

// OnPacket processes one inbound segment of this connection, writing any
// response to nic. Unacceptable segments are dropped without a response.
// A *TransitionError is returned when the segment asks for something this
// connection does not support; I/O errors from nic are returned wrapped.
func (c *Connection) OnPacket(nic io.Writer, seg *Segment) error {
	c.trace.incoming(c.state, seg)

	// first, check that sequence numbers are valid (RFC 793 S3.3)
	seqn := seg.TCP.Seq
	slen := seg.Len()
	if !c.recv.acceptable(seqn, slen) {
		// TODO: send <SEQ=SND.NXT><ACK=RCV.NXT><CTL=ACK> once duplex receive is supported
		c.log.Debug("segment not acceptable",
			zap.Uint32("seq", seqn),
			zap.Uint32("len", slen),
			zap.Uint32("rcv.nxt", c.recv.NXT),
			zap.Uint16("rcv.wnd", c.recv.WND))
		return nil
	}

	if seg.TCP.RST {
		return c.setState(evReset)
	}

	c.recv.NXT = SeqIncrementBy(seqn, slen)

	if !seg.TCP.ACK {
		return nil
	}

	// acceptable ack check: SND.UNA < SEG.ACK =< SND.NXT
	ackn := seg.TCP.Ack
	if c.state == StateSynRcvd {
		if !c.send.acceptableAck(ackn) {
			c.log.Debug("unacceptable ACK of SYN", zap.Uint32("ack", ackn))
			if c.config.SendResets {
				return c.sendReset(nic, ackn)
			}
			return nil
		}
		// must have ACKed our SYN, since we detected at least one acked byte,
		// and we have only sent one byte (SYN).
		if err := c.setState(evAckOfSyn); err != nil {
			return err
		}
	}

	switch c.state {
	case StateEstab, StateFinWait1, StateFinWait2:
		if c.send.ackBeyondNext(ackn) {
			c.log.Debug("ACK of unsent data", zap.Uint32("ack", ackn), zap.Uint32("snd.nxt", c.send.NXT))
			return nil
		}
		// a duplicate ACK leaves SND.UNA alone, the rest of the segment still counts
		if c.send.acceptableAck(ackn) {
			c.send.UNA = ackn
		}
		if len(seg.Payload) > 0 {
			return &TransitionError{State: c.state, Event: evData.String()}
		}
		if c.state == StateEstab {
			// now let's terminate the connection
			c.tcph.FIN = true
			if _, err := c.write(nic, nil); err != nil {
				c.tcph.FIN = false
				return err
			}
			if err := c.setState(evActiveClose); err != nil {
				return err
			}
		}
	}

	if c.state == StateFinWait1 && c.send.UNA == SeqIncrementBy(c.send.ISS, 2) {
		// our FIN has been ACKed
		if err := c.setState(evAckOfFin); err != nil {
			return err
		}
	}

	if seg.TCP.FIN {
		if c.state != StateFinWait2 {
			return &TransitionError{State: c.state, Event: evPeerFin.String()}
		}
		// we're done with the connection
		c.tcph.FIN = false
		if _, err := c.write(nic, nil); err != nil {
			return err
		}
		return c.setState(evPeerFin)
	}
	return nil
}

func (c *Connection) setState(ev event) error {
	next, err := c.state.next(ev)
	if err != nil {
		return err
	}
	c.log.Debug("state transition",
		zap.Stringer("from", c.state),
		zap.Stringer("to", next),
		zap.Stringer("event", ev))
	c.state = next
	return nil
}

// write sends one segment carrying as much of payload as fits and returns the
// number of payload bytes sent. SYN and FIN set on the template are consumed.
func (c *Connection) write(nic io.Writer, payload []byte) (int, error) {
	c.tcph.Seq = c.send.NXT
	c.tcph.Ack = c.recv.NXT

	frame, n, err := c.buf.Serialize(&c.ip, &c.tcph, payload)
	if err != nil {
		return 0, err
	}
	if _, err := nic.Write(frame); err != nil {
		return 0, errors.Wrap(err, "write segment")
	}
	c.trace.outgoing(c.state, &c.tcph, n)

	c.send.NXT = SeqIncrementBy(c.send.NXT, uint32(n))
	if c.tcph.SYN {
		c.send.NXT = SeqIncrement(c.send.NXT)
		c.tcph.SYN = false
	}
	if c.tcph.FIN {
		c.send.NXT = SeqIncrement(c.send.NXT)
		c.tcph.FIN = false
	}
	return n, nil
}

// Reset sends <SEQ=SND.NXT><CTL=RST> to the peer and closes the connection.
func (c *Connection) Reset(nic io.Writer) error {
	if err := c.sendReset(nic, c.send.NXT); err != nil {
		return err
	}
	return c.setState(evReset)
}

// sendReset sends a bare RST with the given sequence number. The connection's
// sequence spaces and template flags are left untouched.
func (c *Connection) sendReset(nic io.Writer, seq uint32) error {
	rst := c.tcph
	rst.SYN, rst.FIN, rst.ACK, rst.PSH = false, false, false, false
	rst.RST = true
	rst.Seq = seq
	rst.Ack = 0
	frame, _, err := c.buf.Serialize(&c.ip, &rst, nil)
	if err != nil {
		return err
	}
	if _, err := nic.Write(frame); err != nil {
		return errors.Wrap(err, "write reset")
	}
	c.trace.outgoing(c.state, &rst, 0)
	c.log.Debug("RST sent", zap.Uint32("seq", seq))
	return nil
}
