package lib

import (
	"fmt"

	"github.com/pkg/errors"
)

// State enumerates the states a passively opened connection moves through.
// Listen is implicit: the Dispatcher creates a Connection only on SYN.
type State uint8

const (
	// SYN-RECEIVED - SYN received and SYN|ACK sent, waiting for the ACK of our SYN.
	StateSynRcvd State = iota
	// ESTABLISHED - handshake complete. Left immediately by the active close.
	StateEstab
	// FIN-WAIT-1 - our FIN sent, waiting for its acknowledgment.
	StateFinWait1
	// FIN-WAIT-2 - our FIN acknowledged, waiting for the peer's FIN.
	StateFinWait2
	// TIME-WAIT - peer's FIN acknowledged, quiescent until the dispatcher expires it.
	StateTimeWait
	// CLOSED - an acceptable RST was received.
	StateClosed
)

var stateNames = [...]string{
	StateSynRcvd:  "SynRcvd",
	StateEstab:    "Estab",
	StateFinWait1: "FinWait1",
	StateFinWait2: "FinWait2",
	StateTimeWait: "TimeWait",
	StateClosed:   "Closed",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// IsSynchronized reports whether both sequence spaces have been synchronized.
func (s State) IsSynchronized() bool {
	switch s {
	case StateEstab, StateFinWait1, StateFinWait2, StateTimeWait:
		return true
	}
	return false
}

type event uint8

const (
	evAckOfSyn    event = iota // peer acknowledged our SYN
	evActiveClose              // we sent our FIN
	evAckOfFin                 // peer acknowledged our FIN
	evPeerFin                  // peer sent its FIN
	evReset                    // acceptable RST received
	evData                     // peer sent payload
)

var eventNames = [...]string{
	evAckOfSyn:    "ack-of-syn",
	evActiveClose: "active-close",
	evAckOfFin:    "ack-of-fin",
	evPeerFin:     "fin",
	evReset:       "rst",
	evData:        "data",
}

func (e event) String() string {
	if int(e) < len(eventNames) {
		return eventNames[e]
	}
	return fmt.Sprintf("event(%d)", uint8(e))
}

// ErrUnsupportedTransition is matched by every *TransitionError.
var ErrUnsupportedTransition = errors.New("unsupported state transition")

// TransitionError reports an event that the connection cannot handle in its
// current state, such as a FIN from the peer before our own FIN was acknowledged.
type TransitionError struct {
	State State
	Event string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s in state %s", ErrUnsupportedTransition, e.Event, e.State)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrUnsupportedTransition
}

// next returns the state reached from s on ev.
func (s State) next(ev event) (State, error) {
	if ev == evReset {
		return StateClosed, nil
	}
	switch {
	case s == StateSynRcvd && ev == evAckOfSyn:
		return StateEstab, nil
	case s == StateEstab && ev == evActiveClose:
		return StateFinWait1, nil
	case s == StateFinWait1 && ev == evAckOfFin:
		return StateFinWait2, nil
	case s == StateFinWait2 && ev == evPeerFin:
		return StateTimeWait, nil
	}
	return s, &TransitionError{State: s, Event: ev.String()}
}
