// Package protocol defines the signaling events exchanged between call
// clients and the relay. Every frame is a JSON Envelope; signal payloads
// are opaque to the relay and carried as raw JSON.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Client to server.
const (
	EventJoinRoom   = "join-room"
	EventCallUser   = "call-user"
	EventAnswerCall = "answer-call"
	EventEndCall    = "end-call"
)

// Server to client. EventCallUser is reused for the incoming offer.
const (
	EventUserJoined   = "user-joined"
	EventCallAccepted = "call-accepted"
	EventCallEnded    = "call-ended"
	EventError        = "error"
)

// Local transport lifecycle events, never sent on the wire.
const (
	EventConnect      = "connect"
	EventConnectError = "connect_error"
	EventDisconnect   = "disconnect"
)

var ErrEmptyEvent = errors.New("envelope has no event")

type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type JoinRoom struct {
	InterviewID string `json:"interviewId"`
	UserType    string `json:"userType"`
	UserName    string `json:"userName"`
}

// CallUser is the outgoing offer as sent by the caller.
type CallUser struct {
	InterviewID string          `json:"interviewId"`
	SignalData  json.RawMessage `json:"signalData"`
	From        string          `json:"from"`
}

// IncomingCall is the offer as delivered to the callee.
type IncomingCall struct {
	From   string          `json:"from"`
	Signal json.RawMessage `json:"signal"`
}

type AnswerCall struct {
	Signal      json.RawMessage `json:"signal"`
	InterviewID string          `json:"interviewId"`
}

type CallAccepted struct {
	Signal json.RawMessage `json:"signal"`
}

type EndCall struct {
	InterviewID string `json:"interviewId"`
}

type UserJoined struct {
	UserName string `json:"userName"`
	UserType string `json:"userType"`
}

type ErrorEvent struct {
	Error string `json:"error"`
}

// Encode wraps data in an envelope for event.
func Encode(event string, data any) ([]byte, error) {
	if event == "" {
		return nil, ErrEmptyEvent
	}
	env := Envelope{Event: event}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", event, err)
		}
		env.Data = raw
	}
	return json.Marshal(env)
}

func Decode(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Event == "" {
		return Envelope{}, ErrEmptyEvent
	}
	return env, nil
}

// Unmarshal decodes the envelope payload into v. An absent payload leaves
// v untouched.
func (e Envelope) Unmarshal(v any) error {
	if len(e.Data) == 0 || string(e.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Event, err)
	}
	return nil
}
