package lib

import (
	"context"
	"io"
	"net/netip"
	"testing"
	"time"

	"github.com/pkg/errors"
)

// chanNIC delivers the frames sent on in, then io.EOF once in is closed.
type chanNIC struct {
	recordingNIC
	in chan []byte
}

func (n *chanNIC) Read(p []byte) (int, error) {
	frame, ok := <-n.in
	if !ok {
		return 0, io.EOF
	}
	return copy(p, frame), nil
}

func newTestDispatcher(t *testing.T, sendResets bool) (*Dispatcher, *chanNIC) {
	t.Helper()
	config := DefaultDispatcherConfig()
	config.ConnConfig = testConfig(5000)
	config.ConnConfig.SendResets = sendResets
	nic := &chanNIC{in: make(chan []byte)}
	d, err := NewDispatcher(nic, config)
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}
	return d, nic
}

var testQuad = Quad{Src: peer, Dst: local}

func handle(t *testing.T, d *Dispatcher, s segFields) {
	t.Helper()
	if err := d.HandleFrame(peerFrame(t, s)); err != nil {
		t.Fatalf("HandleFrame: %v", err)
	}
}

func TestNewDispatcherValidates(t *testing.T) {
	if _, err := NewDispatcher(nil, nil); err == nil {
		t.Errorf("accepted a nil interface")
	}
	config := DefaultDispatcherConfig()
	config.PayloadPoolSize = 0
	if _, err := NewDispatcher(&chanNIC{}, config); err == nil {
		t.Errorf("accepted an empty payload pool")
	}
	config = DefaultDispatcherConfig()
	config.ReapInterval = 0
	if _, err := NewDispatcher(&chanNIC{}, config); err == nil {
		t.Errorf("accepted a zero reap interval")
	}
}

func TestDispatcherAcceptsSYN(t *testing.T) {
	d, nic := newTestDispatcher(t, false)
	handle(t, d, segFields{seq: 1000, syn: true})

	if d.Len() != 1 {
		t.Fatalf("%d connections, want 1", d.Len())
	}
	c, ok := d.Lookup(testQuad)
	if !ok {
		t.Fatalf("no connection for %s", testQuad)
	}
	expectState(t, c, StateSynRcvd)
	out := parseOut(t, expectFrames(t, &nic.recordingNIC, 1)[0])
	if !out.TCP.SYN || !out.TCP.ACK || out.TCP.Ack != 1001 {
		t.Errorf("reply %s ack %d, want [SYN,ACK] ack 1001", flagString(out.Flags()), out.TCP.Ack)
	}

	// a second peer port is a second connection
	other := netip.AddrPortFrom(peer.Addr(), peer.Port()+1)
	if err := d.HandleFrame(buildFrame(t, other, local, segFields{seq: 7, syn: true})); err != nil {
		t.Fatalf("HandleFrame: %v", err)
	}
	if d.Len() != 2 {
		t.Fatalf("%d connections, want 2", d.Len())
	}
}

func TestDispatcherDrops(t *testing.T) {
	udp := peerFrame(t, segFields{seq: 1000, syn: true})
	udp[9] = 17
	testCases := []struct {
		name  string
		frame []byte
	}{
		{"ACK for unknown connection", peerFrame(t, segFields{seq: 1000, ack: 1, ackf: true})},
		{"RST for unknown connection", peerFrame(t, segFields{seq: 1000, rst: true})},
		{"not TCP", udp},
		{"garbage", []byte{0x60, 0, 0, 0}},
		{"empty", nil},
	}
	for _, tc := range testCases {
		d, nic := newTestDispatcher(t, false)
		if err := d.HandleFrame(tc.frame); err != nil {
			t.Errorf("%s: HandleFrame: %v", tc.name, err)
		}
		if d.Len() != 0 {
			t.Errorf("%s: created a connection", tc.name)
		}
		if frames := nic.take(); len(frames) != 0 {
			t.Errorf("%s: %d frames written", tc.name, len(frames))
		}
	}
}

func TestDispatcherTimeWait(t *testing.T) {
	d, nic := newTestDispatcher(t, false)
	start := time.Unix(1700000000, 0)
	d.now = func() time.Time { return start }

	handle(t, d, segFields{seq: 1000, syn: true})
	handle(t, d, segFields{seq: 1001, ack: 5001, ackf: true})
	handle(t, d, segFields{seq: 1001, ack: 5002, ackf: true})
	handle(t, d, segFields{seq: 1001, ack: 5002, ackf: true, fin: true})
	expectFrames(t, &nic.recordingNIC, 3)

	c, ok := d.Lookup(testQuad)
	if !ok {
		t.Fatalf("connection removed before TimeWait expired")
	}
	expectState(t, c, StateTimeWait)

	// retransmitted FIN is absorbed in TimeWait and does not restart the timer
	d.now = func() time.Time { return start.Add(time.Second) }
	handle(t, d, segFields{seq: 1001, ack: 5002, ackf: true, fin: true})
	expectFrames(t, &nic.recordingNIC, 0)

	timeWait := msDuration(d.config.TimeWait)
	if n := d.Reap(start.Add(timeWait - time.Millisecond)); n != 0 {
		t.Errorf("reaped %d connections before TimeWait expired", n)
	}
	if n := d.Reap(start.Add(timeWait)); n != 1 {
		t.Errorf("reaped %d connections, want 1", n)
	}
	if d.Len() != 0 {
		t.Errorf("%d connections left", d.Len())
	}

	// the 4-tuple can be reused afterwards
	handle(t, d, segFields{seq: 9000, syn: true})
	if d.Len() != 1 {
		t.Errorf("SYN after TimeWait expired did not open a connection")
	}
}

func TestDispatcherRemovesResetConnection(t *testing.T) {
	d, nic := newTestDispatcher(t, false)
	handle(t, d, segFields{seq: 1000, syn: true})
	handle(t, d, segFields{seq: 1001, rst: true})
	if d.Len() != 0 {
		t.Errorf("reset connection still tracked")
	}
	expectFrames(t, &nic.recordingNIC, 1)
}

func TestDispatcherUnsupportedTransition(t *testing.T) {
	for _, sendResets := range []bool{false, true} {
		d, nic := newTestDispatcher(t, sendResets)
		handle(t, d, segFields{seq: 1000, syn: true})
		// FIN while our own FIN is unacknowledged
		handle(t, d, segFields{seq: 1001, ack: 5001, ackf: true, fin: true})
		if d.Len() != 0 {
			t.Errorf("send_resets=%t: connection still tracked", sendResets)
		}
		frames := nic.take()
		// SYN|ACK, FIN|ACK, then RST if enabled
		want := 2
		if sendResets {
			want = 3
		}
		if len(frames) != want {
			t.Fatalf("send_resets=%t: %d frames written, want %d", sendResets, len(frames), want)
		}
		if sendResets {
			rst := parseOut(t, frames[2])
			if !rst.TCP.RST || rst.TCP.Seq != 5002 {
				t.Errorf("got %s seq %d, want [RST] seq 5002", flagString(rst.Flags()), rst.TCP.Seq)
			}
		}
	}
}

type failingReadWriter struct{ failingNIC }

func (failingReadWriter) Read(p []byte) (int, error) { return 0, io.EOF }

func TestDispatcherWriteError(t *testing.T) {
	d, err := NewDispatcher(failingReadWriter{}, &DispatcherConfig{
		PayloadPoolSize: 4,
		ReapInterval:    1000,
		ConnConfig:      testConfig(5000),
	})
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}
	if err := d.HandleFrame(peerFrame(t, segFields{seq: 1000, syn: true})); !errors.Is(err, errNICDown) {
		t.Fatalf("got error %v, want %v", err, errNICDown)
	}
	if d.Len() != 0 {
		t.Errorf("connection tracked despite the failed SYN|ACK")
	}
}

func TestDispatcherRun(t *testing.T) {
	d, nic := newTestDispatcher(t, false)
	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background()) }()

	nic.in <- peerFrame(t, segFields{seq: 1000, syn: true})
	close(nic.in)

	select {
	case err := <-done:
		if !errors.Is(err, io.EOF) {
			t.Fatalf("Run returned %v, want %v", err, io.EOF)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after the interface closed")
	}
	if d.Len() != 1 {
		t.Errorf("%d connections, want 1", d.Len())
	}
	expectFrames(t, &nic.recordingNIC, 1)
}

func TestDispatcherRunCanceled(t *testing.T) {
	d, nic := newTestDispatcher(t, false)
	defer close(nic.in)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestDispatcherReapsAfterSeparateFin(t *testing.T) {
	config := DefaultDispatcherConfig()
	config.ConnConfig = testConfig(0)
	config.TimeWait = 20
	config.ReapInterval = 5
	nic := &chanNIC{in: make(chan []byte)}
	d, err := NewDispatcher(nic, config)
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background()) }()

	for _, s := range []segFields{
		{seq: 1000, syn: true},
		{seq: 1001, ack: 1, ackf: true},
		{seq: 1001, ack: 2, ackf: true},
		{seq: 1001, ack: 2, ackf: true, fin: true}, // acknowledges nothing new
	} {
		nic.in <- peerFrame(t, s)
	}
	time.Sleep(20*time.Millisecond + 100*time.Millisecond)
	close(nic.in)

	select {
	case err := <-done:
		if !errors.Is(err, io.EOF) {
			t.Fatalf("Run returned %v, want %v", err, io.EOF)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after the interface closed")
	}
	frames := expectFrames(t, &nic.recordingNIC, 3)
	if ack := parseOut(t, frames[2]); !ack.TCP.ACK || ack.TCP.FIN || ack.TCP.Ack != 1002 {
		t.Errorf("last reply %s ack %d, want [ACK] ack 1002", flagString(ack.Flags()), ack.TCP.Ack)
	}
	if d.Len() != 0 {
		t.Errorf("%d connections left after TimeWait expired", d.Len())
	}
}

func TestDispatcherDropsBadFrames(t *testing.T) {
	syn := peerFrame(t, segFields{seq: 1000, syn: true})
	fragment := append([]byte(nil), syn...)
	fragment[6] |= 0x20 // more fragments
	later := append([]byte(nil), syn...)
	later[7] = 1 // fragment offset 8
	total := append([]byte(nil), syn...)
	total[3] = 19 // total length below the header length
	testCases := []struct {
		name  string
		frame []byte
		conns int
	}{
		{"truncated", syn[:len(syn)-1], 0},
		{"total length below header", total, 0},
		{"first fragment", fragment, 0},
		{"later fragment", later, 0},
		{"padded", append(append([]byte(nil), syn...), 0, 0, 0, 0), 1},
	}
	for _, tc := range testCases {
		d, nic := newTestDispatcher(t, false)
		if err := d.HandleFrame(tc.frame); err != nil {
			t.Errorf("%s: HandleFrame: %v", tc.name, err)
		}
		if d.Len() != tc.conns {
			t.Errorf("%s: %d connections, want %d", tc.name, d.Len(), tc.conns)
		}
		if frames := nic.take(); len(frames) != tc.conns {
			t.Errorf("%s: %d frames written, want %d", tc.name, len(frames), tc.conns)
		}
	}
}
