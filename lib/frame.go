package lib

import (
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/pkg/errors"
)

var ErrBufferCapacity = errors.New("invalid frame buffer capacity")

var serializeOptions = gopacket.SerializeOptions{
	FixLengths:       true,
	ComputeChecksums: true,
}

// FrameBuffer is the bounded transmission buffer of a connection. Frames
// serialized into it never exceed its capacity; payload that does not fit is
// cut off and the caller is told how much was kept.
type FrameBuffer struct {
	capacity int
	sb       gopacket.SerializeBuffer
}

// NewFrameBuffer returns a buffer holding frames of at most capacity bytes.
// capacity must fit the MTU and hold at least the IPv4 and TCP headers.
func NewFrameBuffer(capacity int) (*FrameBuffer, error) {
	if capacity > MTU || capacity < MinFrameLength {
		return nil, errors.Wrapf(ErrBufferCapacity, "capacity %d not in [%d, %d]", capacity, MinFrameLength, MTU)
	}
	return &FrameBuffer{
		capacity: capacity,
		sb:       gopacket.NewSerializeBufferExpectedSize(MinFrameLength, capacity-MinFrameLength),
	}, nil
}

func (b *FrameBuffer) Capacity() int { return b.capacity }

// fit returns how many of n payload bytes fit after the headers.
func (b *FrameBuffer) fit(n int) int {
	room := b.capacity - MinFrameLength
	if n > room {
		return room
	}
	return n
}

// Serialize writes ip, tcph and as much of payload as fits, computing the
// IPv4 total length and the TCP checksum over the pseudo-header. It returns
// the frame, valid until the next call, and the number of payload bytes kept.
func (b *FrameBuffer) Serialize(ip *layers.IPv4, tcph *layers.TCP, payload []byte) ([]byte, int, error) {
	n := b.fit(len(payload))
	if err := tcph.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, 0, errors.Wrap(err, "checksum pseudo-header")
	}
	err := gopacket.SerializeLayers(b.sb, serializeOptions, ip, tcph, gopacket.Payload(payload[:n]))
	if err != nil {
		return nil, 0, errors.Wrap(err, "serialize segment")
	}
	frame := b.sb.Bytes()
	if len(frame) > b.capacity {
		// headers grew past the fixed lengths, i.e. options were set on a template
		return nil, 0, errors.Wrapf(ErrBufferCapacity, "frame of %d bytes exceeds capacity %d", len(frame), b.capacity)
	}
	return frame, n, nil
}
