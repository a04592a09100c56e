package lib

import (
	"fmt"

	rp "github.com/Clouded-Sabre/ringpool/lib"
	"go.uber.org/zap"
)

// Frame is a pooled buffer holding one raw datagram read from the interface.
type Frame struct {
	buf    []byte
	length int
}

// NewFrame creates the pool's frame buffers. Its only parameter is the buffer length.
func NewFrame(params ...interface{}) rp.DataInterface {
	if len(params) != 1 {
		zap.L().Error("NewFrame: invalid number of parameters, want only the buffer length", zap.Int("got", len(params)))
		return nil
	}
	bufferLength, ok := params[0].(int)
	if !ok {
		zap.L().Error("NewFrame: buffer length should be of type int")
		return nil
	}
	return &Frame{
		buf: make([]byte, bufferLength),
	}
}

// SetContent sets the content of the frame
func (f *Frame) SetContent(s string) {
	f.length = copy(f.buf, s)
}

// Reset forgets the frame content. The buffer is overwritten by the next read.
func (f *Frame) Reset() {
	f.length = 0
}

// PrintContent prints the content of the frame
func (f *Frame) PrintContent() {
	fmt.Printf("Frame: % x\n", f.buf[:f.length])
}

// Buffer returns the whole backing buffer to read a datagram into.
func (f *Frame) Buffer() []byte {
	return f.buf
}

// SetLength records how many bytes of the buffer hold the datagram.
func (f *Frame) SetLength(n int) {
	f.length = n
}

func (f *Frame) Bytes() []byte {
	return f.buf[:f.length]
}

func newFramePool(size int, debug bool, processTimeThreshold int) *rp.RingPool {
	rp.Debug = debug
	pool := rp.NewRingPool("TUN: ", size, NewFrame, MTU)
	pool.Debug = debug
	pool.ProcessTimeThreshold = msDuration(processTimeThreshold)
	return pool
}
