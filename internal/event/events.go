// Package event defines the signaling wire vocabulary.
//
// Every message on a signaling channel is an Envelope with a closed set of
// types. Inbound payloads are decoded and validated here, before anything
// reaches the call engine; the engine never sees raw JSON.
package event

import (
	"encoding/json"
	"errors"
	"fmt"
)

type Type string

// Client → engine.
const (
	TypeCallInitiate Type = "call:initiate"
	TypeCallAccept   Type = "call:accept"
	TypeCallReject   Type = "call:reject"
	TypeCallEnd      Type = "call:end"
	TypeHeartbeat    Type = "heartbeat"
)

// Engine → client.
const (
	TypeCallRinging  Type = "call:ringing"
	TypeCallIncoming Type = "call:incoming"
	TypeCallAccepted Type = "call:accepted"
	TypeCallRejected Type = "call:rejected"
	TypeCallMissed   Type = "call:missed"
	TypeCallEnded    Type = "call:ended"
	TypeCallFailed   Type = "call:failed"
	TypeError        Type = "error"
)

// Envelope is the only shape that travels on a channel.
type Envelope struct {
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ErrMalformed covers unknown event types and invalid payloads. It is reported
// to the sending channel only and never mutates call state.
var ErrMalformed = errors.New("event: malformed")

/* ===================== INBOUND PAYLOADS ===================== */

type InitiatePayload struct {
	CalleeID          string `json:"callee_id"`
	CallerDisplayName string `json:"caller_display_name,omitempty"`
}

type AcceptPayload struct {
	SessionID string `json:"session_id"`
}

type RejectPayload struct {
	SessionID string `json:"session_id"`
	Reason    string `json:"reason,omitempty"`
}

type EndPayload struct {
	SessionID string `json:"session_id"`
}

// DecodeInbound validates a client envelope and returns its typed payload:
// one of InitiatePayload, AcceptPayload, RejectPayload, EndPayload, or nil for
// a heartbeat. Anything else is ErrMalformed.
func DecodeInbound(env Envelope) (any, error) {
	switch env.Type {
	case TypeHeartbeat:
		return nil, nil

	case TypeCallInitiate:
		var p InitiatePayload
		if err := strictUnmarshal(env.Payload, &p); err != nil {
			return nil, err
		}
		if p.CalleeID == "" {
			return nil, fmt.Errorf("%w: callee_id required", ErrMalformed)
		}
		return p, nil

	case TypeCallAccept:
		var p AcceptPayload
		if err := strictUnmarshal(env.Payload, &p); err != nil {
			return nil, err
		}
		if p.SessionID == "" {
			return nil, fmt.Errorf("%w: session_id required", ErrMalformed)
		}
		return p, nil

	case TypeCallReject:
		var p RejectPayload
		if err := strictUnmarshal(env.Payload, &p); err != nil {
			return nil, err
		}
		if p.SessionID == "" {
			return nil, fmt.Errorf("%w: session_id required", ErrMalformed)
		}
		return p, nil

	case TypeCallEnd:
		var p EndPayload
		if err := strictUnmarshal(env.Payload, &p); err != nil {
			return nil, err
		}
		if p.SessionID == "" {
			return nil, fmt.Errorf("%w: session_id required", ErrMalformed)
		}
		return p, nil

	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformed, env.Type)
	}
}

func strictUnmarshal(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: payload required", ErrMalformed)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

/* ===================== OUTBOUND CONSTRUCTORS ===================== */

func mustEnvelope(t Type, v any) Envelope {
	raw, err := json.Marshal(v)
	if err != nil {
		// All outbound payloads are plain structs; this cannot fail.
		panic(err)
	}
	return Envelope{Type: t, Payload: raw}
}

// Ringing confirms to the caller that the callee is being rung.
func Ringing(sessionID, roomName string) Envelope {
	return mustEnvelope(TypeCallRinging, struct {
		SessionID string `json:"session_id"`
		RoomName  string `json:"room_name"`
	}{sessionID, roomName})
}

// Incoming announces a new call to the callee.
func Incoming(sessionID, callerID, callerDisplayName, roomName string) Envelope {
	return mustEnvelope(TypeCallIncoming, struct {
		SessionID         string `json:"session_id"`
		CallerID          string `json:"caller_id"`
		CallerDisplayName string `json:"caller_display_name,omitempty"`
		RoomName          string `json:"room_name"`
	}{sessionID, callerID, callerDisplayName, roomName})
}

// Accepted carries the recipient's own media room token.
func Accepted(sessionID, roomName, mediaToken string) Envelope {
	return mustEnvelope(TypeCallAccepted, struct {
		SessionID  string `json:"session_id"`
		RoomName   string `json:"room_name"`
		MediaToken string `json:"media_token"`
	}{sessionID, roomName, mediaToken})
}

func Rejected(sessionID, reason string) Envelope {
	return mustEnvelope(TypeCallRejected, struct {
		SessionID string `json:"session_id"`
		Reason    string `json:"reason,omitempty"`
	}{sessionID, reason})
}

func Missed(sessionID string) Envelope {
	return mustEnvelope(TypeCallMissed, struct {
		SessionID string `json:"session_id"`
	}{sessionID})
}

// Ended reports a terminal hangup. Duration is in seconds and present only if
// the call was answered.
func Ended(sessionID, endedBy string, durationSeconds *int) Envelope {
	return mustEnvelope(TypeCallEnded, struct {
		SessionID string `json:"session_id"`
		EndedBy   string `json:"ended_by"`
		Duration  *int   `json:"duration,omitempty"`
	}{sessionID, endedBy, durationSeconds})
}

func Failed(sessionID, message string) Envelope {
	return mustEnvelope(TypeCallFailed, struct {
		SessionID string `json:"session_id"`
		Message   string `json:"message"`
	}{sessionID, message})
}

// Error reports a synchronous validation failure back to the sender.
func Error(code, message string) Envelope {
	return mustEnvelope(TypeError, struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}{code, message})
}
