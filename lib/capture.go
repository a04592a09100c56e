package lib

import (
	"io"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/pkg/errors"
)

// CaptureInterface wraps an interface and records every datagram read from or
// written to it into a pcap stream with raw IP link type.
type CaptureInterface struct {
	nic io.ReadWriter
	mu  sync.Mutex // the dispatcher reads and writes from different goroutines
	w   *pcapgo.Writer
}

func NewCaptureInterface(nic io.ReadWriter, out io.Writer) (*CaptureInterface, error) {
	w := pcapgo.NewWriter(out)
	if err := w.WriteFileHeader(MTU, layers.LinkTypeRaw); err != nil {
		return nil, errors.Wrap(err, "pcap file header")
	}
	return &CaptureInterface{nic: nic, w: w}, nil
}

func (c *CaptureInterface) Read(p []byte) (int, error) {
	n, err := c.nic.Read(p)
	if n > 0 {
		if cerr := c.record(p[:n]); cerr != nil && err == nil {
			err = cerr
		}
	}
	return n, err
}

func (c *CaptureInterface) Write(p []byte) (int, error) {
	n, err := c.nic.Write(p)
	if err != nil {
		return n, err
	}
	return n, c.record(p[:n])
}

func (c *CaptureInterface) record(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ci := gopacket.CaptureInfo{
		Timestamp:     time.Now(),
		CaptureLength: len(data),
		Length:        len(data),
	}
	return errors.Wrap(c.w.WritePacket(ci, data), "pcap write")
}
