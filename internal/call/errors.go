package call

import (
	"errors"
	"fmt"

	"github.com/hireme/interview-call/internal/peer"
)

var (
	ErrNoMediaStream  = peer.ErrNoMediaStream
	ErrNoOffer        = errors.New("no incoming offer to answer")
	ErrAlreadyMounted = errors.New("call controller already mounted")
	ErrUnmounted      = errors.New("call controller unmounted")
	ErrCallEnded      = errors.New("call ended")
	ErrNoTransport    = errors.New("signaling transport unavailable")
)

// InvalidStateError rejects an action that the current state does not
// allow.
type InvalidStateError struct {
	Op    string
	State State
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("call: %s not allowed in state %s", e.Op, e.State)
}

// SignalingConnectionError wraps a failure of the signaling transport.
type SignalingConnectionError struct {
	Err error
}

func (e *SignalingConnectionError) Error() string {
	return "signaling connection failed: " + e.Err.Error()
}

func (e *SignalingConnectionError) Unwrap() error { return e.Err }

// PeerNegotiationError wraps a failure of the peer session. The call stays
// in place until it is ended.
type PeerNegotiationError struct {
	Err error
}

func (e *PeerNegotiationError) Error() string {
	return "connection failed: " + e.Err.Error()
}

func (e *PeerNegotiationError) Unwrap() error { return e.Err }
