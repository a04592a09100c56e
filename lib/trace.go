package lib

import (
	"strconv"

	"github.com/armon/circbuf"
	"github.com/google/gopacket/layers"
)

// trace keeps the most recent segment exchanges of a connection in an
// RFC 9293 styled visualization, e.g.
//
//	SynRcvd     <-- <SEQ=1000>[SYN]                  <-- peer
//	SynRcvd     --> <SEQ=0><ACK=1001>[SYN,ACK]       --> peer
type trace struct {
	buf *circbuf.Buffer
}

func newTrace(size int64) (*trace, error) {
	if size <= 0 {
		return &trace{}, nil
	}
	buf, err := circbuf.NewBuffer(size)
	if err != nil {
		return nil, err
	}
	return &trace{buf: buf}, nil
}

func (t *trace) incoming(state State, seg *Segment) {
	if t.buf == nil {
		return
	}
	t.append(state, seg.TCP, len(seg.Payload), true)
}

func (t *trace) outgoing(state State, tcph *layers.TCP, datalen int) {
	if t.buf == nil {
		return
	}
	t.append(state, tcph, datalen, false)
}

func (t *trace) append(state State, tcph *layers.TCP, datalen int, incoming bool) {
	const emptySpaces = "            "
	appendVal := func(b []byte, name string, v uint32) []byte {
		b = append(b, '<')
		b = append(b, name...)
		b = append(b, '=')
		b = strconv.AppendUint(b, uint64(v), 10)
		return append(b, '>')
	}
	dirSep := " --> "
	if incoming {
		dirSep = " <-- "
	}
	b := make([]byte, 0, 64)
	s := state.String()
	b = append(b, s...)
	if len(s) < 11 {
		b = append(b, emptySpaces[:11-len(s)]...)
	}
	b = append(b, dirSep...)
	b = appendVal(b, "SEQ", tcph.Seq)
	if tcph.ACK {
		b = appendVal(b, "ACK", tcph.Ack)
	}
	if datalen > 0 {
		b = appendVal(b, "DATA", uint32(datalen))
	}
	b = append(b, flagString(tcpFlags(tcph))...)
	for len(b) < 48 {
		b = append(b, ' ')
	}
	b = append(b, dirSep...)
	b = append(b, "peer\n"...)
	t.buf.Write(b)
}

func (t *trace) String() string {
	if t.buf == nil {
		return ""
	}
	return t.buf.String()
}
