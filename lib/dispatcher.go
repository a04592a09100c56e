package lib

import (
	"context"
	"io"
	"time"

	rp "github.com/Clouded-Sabre/ringpool/lib"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/net/ipv4"
)

type DispatcherConfig struct {
	PayloadPoolSize      int // how many frame buffers the reader may hold at once
	PoolDebug            bool
	ProcessTimeThreshold int               // frame processing time threshold in ms, reported by the pool in debug mode
	TimeWait             int               // ms a connection stays in TimeWait before removal
	ReapInterval         int               // ms between TimeWait expiry checks
	ConnConfig           *ConnectionConfig // configuration of accepted connections
	Logger               *zap.Logger
}

func DefaultDispatcherConfig() *DispatcherConfig {
	return &DispatcherConfig{
		PayloadPoolSize:      256,
		ProcessTimeThreshold: 10,
		TimeWait:             60000, // 2*MSL
		ReapInterval:         1000,
		ConnConfig:           DefaultConnectionConfig(),
		Logger:               zap.NewNop(),
	}
}

type entry struct {
	conn       *Connection
	timeWaitAt time.Time // when the connection entered TimeWait
}

// Dispatcher owns the virtual interface. It demultiplexes inbound segments by
// 4-tuple, creates connections on SYN and feeds every other segment of a known
// connection to it, one at a time and in arrival order. It also removes
// connections that expired in TimeWait or were reset.
type Dispatcher struct {
	nic     io.ReadWriter
	config  *DispatcherConfig
	log     *zap.Logger
	pool    *rp.RingPool
	conns   map[Quad]*entry
	now     func() time.Time
	frames  chan *rp.Element
	readErr chan error
}

func NewDispatcher(nic io.ReadWriter, config *DispatcherConfig) (*Dispatcher, error) {
	if nic == nil {
		return nil, errors.New("dispatcher: nil interface")
	}
	if config == nil {
		config = DefaultDispatcherConfig()
	}
	if config.ConnConfig == nil {
		config.ConnConfig = DefaultConnectionConfig()
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.ConnConfig.Logger == nil {
		config.ConnConfig.Logger = logger
	}
	if config.PayloadPoolSize <= 0 {
		return nil, errors.Errorf("dispatcher: payload pool size %d must be positive", config.PayloadPoolSize)
	}
	if config.ReapInterval <= 0 {
		return nil, errors.Errorf("dispatcher: reap interval %d must be positive", config.ReapInterval)
	}
	return &Dispatcher{
		nic:     nic,
		config:  config,
		log:     logger,
		pool:    newFramePool(config.PayloadPoolSize, config.PoolDebug, config.ProcessTimeThreshold),
		conns:   make(map[Quad]*entry),
		now:     time.Now,
		frames:  make(chan *rp.Element),
		readErr: make(chan error, 1),
	}, nil
}

// Run reads frames from the interface and dispatches them until ctx is done or
// the interface fails. I/O errors are returned; a canceled ctx returns nil.
// Closing the interface after Run returns stops the reader goroutine.
func (d *Dispatcher) Run(ctx context.Context) error {
	go d.handleIncomingFrames(ctx)

	ticker := time.NewTicker(msDuration(d.config.ReapInterval))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-d.readErr:
			return errors.Wrap(err, "read frame")
		case <-ticker.C:
			d.Reap(d.now())
		case element := <-d.frames:
			frame := element.Data.(*Frame)
			err := d.HandleFrame(frame.Bytes())
			d.pool.ReturnElement(element)
			if err != nil {
				return err
			}
		}
	}
}

// handleIncomingFrames is the reader goroutine. It only moves datagrams from
// the interface into pooled frames; all protocol work happens in Run.
func (d *Dispatcher) handleIncomingFrames(ctx context.Context) {
	for {
		element := d.pool.GetElement()
		if element == nil {
			d.log.Warn("frame pool exhausted, reading into a temporary buffer")
			if _, err := d.nic.Read(make([]byte, MTU)); err != nil {
				d.readErr <- err
				return
			}
			continue
		}
		frame := element.Data.(*Frame)
		n, err := d.nic.Read(frame.Buffer())
		if err != nil {
			d.pool.ReturnElement(element)
			select {
			case d.readErr <- err:
			case <-ctx.Done():
			}
			return
		}
		frame.SetLength(n)
		select {
		case d.frames <- element:
		case <-ctx.Done():
			d.pool.ReturnElement(element)
			return
		}
	}
}

// HandleFrame dispatches one raw datagram. Frames that are not IPv4 TCP, that
// are truncated or fragmented, or that belong to no connection and carry no
// SYN, are dropped. Only errors writing to the interface are returned.
func (d *Dispatcher) HandleFrame(frame []byte) error {
	h, err := ipv4.ParseHeader(frame)
	if err != nil {
		d.log.Debug("dropping frame", zap.Error(err))
		return nil
	}
	if h.Version != ipv4.Version || h.Protocol != int(ipProtocolTCP) {
		d.log.Debug("dropping non IPv4 TCP frame",
			zap.Int("version", h.Version),
			zap.Int("protocol", h.Protocol))
		return nil
	}
	if h.TotalLen < h.Len || h.TotalLen > len(frame) {
		d.log.Debug("dropping truncated frame",
			zap.Int("total_len", h.TotalLen),
			zap.Int("frame_len", len(frame)))
		return nil
	}
	// no reassembly, so fragments can never complete a segment
	if h.FragOff != 0 || h.Flags&ipv4.MoreFragments != 0 {
		d.log.Debug("dropping fragment", zap.Int("id", h.ID), zap.Int("offset", h.FragOff))
		return nil
	}
	frame = frame[:h.TotalLen] // strip link padding
	seg, err := ParseSegment(frame)
	if err != nil {
		d.log.Debug("dropping malformed segment", zap.Error(err))
		return nil
	}
	quad := seg.Quad()

	e, ok := d.conns[quad]
	if !ok {
		conn, err := Accept(d.nic, seg, d.config.ConnConfig)
		if err != nil {
			return err
		}
		if conn == nil {
			d.log.Debug("dropping segment for unknown connection",
				zap.Stringer("quad", quad),
				zap.String("flags", flagString(seg.Flags())))
			return nil
		}
		d.conns[quad] = &entry{conn: conn}
		d.log.Info("connection accepted", zap.Stringer("quad", quad))
		return nil
	}

	err = e.conn.OnPacket(d.nic, seg)
	var terr *TransitionError
	switch {
	case errors.As(err, &terr):
		d.log.Warn("unsupported transition, dropping connection",
			zap.Stringer("quad", quad),
			zap.Error(err))
		if d.config.ConnConfig.SendResets {
			if err := e.conn.Reset(d.nic); err != nil {
				return err
			}
		}
		d.remove(quad)
		return nil
	case err != nil:
		return err
	}

	switch e.conn.State() {
	case StateTimeWait:
		if e.timeWaitAt.IsZero() {
			e.timeWaitAt = d.now()
		}
	case StateClosed:
		d.log.Info("connection reset by peer", zap.Stringer("quad", quad))
		d.remove(quad)
	}
	return nil
}

// Reap removes connections whose TimeWait interval elapsed by now and returns
// how many were removed.
func (d *Dispatcher) Reap(now time.Time) int {
	timeWait := msDuration(d.config.TimeWait)
	n := 0
	for quad, e := range d.conns {
		if e.timeWaitAt.IsZero() || now.Sub(e.timeWaitAt) < timeWait {
			continue
		}
		d.log.Info("TimeWait expired", zap.Stringer("quad", quad))
		delete(d.conns, quad)
		n++
	}
	return n
}

// Lookup returns the connection with the given 4-tuple, Src being the peer.
// Like Len, it must not be called while Run is running.
func (d *Dispatcher) Lookup(quad Quad) (*Connection, bool) {
	e, ok := d.conns[quad]
	if !ok {
		return nil, false
	}
	return e.conn, true
}

// Len returns the number of tracked connections.
func (d *Dispatcher) Len() int { return len(d.conns) }

func (d *Dispatcher) remove(quad Quad) {
	if e, ok := d.conns[quad]; ok {
		d.log.Debug("connection removed",
			zap.Stringer("quad", quad),
			zap.Stringer("state", e.conn.State()),
			zap.String("trace", e.conn.Trace()))
		delete(d.conns, quad)
	}
}

const ipProtocolTCP = 6

func msDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
