package lib

// Flag constants
const (
	// TCP flag constants, laid out as in byte 13 of the TCP header
	URGFlag uint8 = 1 << 5
	ACKFlag uint8 = 1 << 4
	PSHFlag uint8 = 1 << 3
	RSTFlag uint8 = 1 << 2
	SYNFlag uint8 = 1 << 1
	FINFlag uint8 = 1 << 0
)

const (
	MTU               = 1500 // MTU of the virtual interface
	IpHeaderLength    = 20   // options not included
	TcpHeaderLength   = 20   // options not included
	MinFrameLength    = IpHeaderLength + TcpHeaderLength
	DefaultWindowSize = 1024
	DefaultTTL        = 64
	DefaultTraceSize  = 4096
)
