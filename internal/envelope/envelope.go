// Package envelope implements the client-facing JSON envelope protocol:
// parsing and validating inbound client messages, and serializing outbound
// server messages (spec component C).
package envelope

import (
	"encoding/json"
	"errors"
	"strings"
)

// Well-known envelope types exchanged with clients.
const (
	TypePing                     = "ping"
	TypePong                     = "pong"
	TypeEnd                      = "end"
	TypeSessionEnd               = "session_end"
	TypeSessionUpdate            = "session.update"
	TypeInputAudioBufferCommit   = "input_audio_buffer.commit"
	TypeInputAudioBufferAppend   = "input_audio_buffer.append"
	TypeCancel                   = "cancel"
	TypeToken                    = "token"
	TypeFinal                    = "final"
	TypeDone                     = "done"
	TypeCancelled                = "cancelled"
	TypeStatus                   = "status"
	TypeError                    = "error"
)

// UnknownSessionID / UnknownRequestID are the literals used when no
// client-supplied value is known yet (spec section 6.3).
const (
	UnknownSessionID = "unknown"
	UnknownRequestID = "unknown"
)

// ErrInvalidMessage is returned by Parse when the raw text does not conform
// to the envelope schema. Reason holds a human-readable diagnostic that
// callers surface as the invalid_message error's message field.
type ErrInvalidMessage struct {
	Reason string
}

func (e *ErrInvalidMessage) Error() string { return e.Reason }

// Envelope is the common shape of both client and server messages.
// Payload is decoded lazily via DecodePayload so callers can unmarshal it
// into whatever type fits the message type.
type Envelope struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id"`
	RequestID string          `json:"request_id"`
	Payload   json.RawMessage `json:"payload"`

	// Extra preserves unknown top-level fields from a parsed client
	// message; the codec ignores them for dispatch but keeps them for
	// round-trip fidelity (spec 4.C: "Unknown top-level fields are
	// preserved but ignored").
	Extra map[string]json.RawMessage `json:"-"`
}

// rawEnvelope mirrors Envelope's json shape using interface{} so we can
// detect type mismatches (e.g. session_id being a number) precisely.
type rawEnvelope struct {
	Type      interface{}     `json:"type"`
	SessionID interface{}     `json:"session_id"`
	RequestID interface{}     `json:"request_id"`
	Payload   json.RawMessage `json:"payload"`
}

// Parse validates and decodes a raw client text frame into an Envelope.
// Invalid cases (spec 4.C): non-object root, non-string/empty type,
// non-string/empty session_id, non-string/empty request_id, non-object
// payload (null payload is coerced to an empty object).
func Parse(text string) (*Envelope, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &top); err != nil {
		return nil, &ErrInvalidMessage{Reason: "invalid JSON: " + err.Error()}
	}

	var raw rawEnvelope
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, &ErrInvalidMessage{Reason: "message must be a JSON object"}
	}

	typeStr, ok := asNonEmptyString(raw.Type)
	if !ok {
		return nil, &ErrInvalidMessage{Reason: "message missing non-empty 'type'"}
	}
	sessionID, ok := asNonEmptyString(raw.SessionID)
	if !ok {
		return nil, &ErrInvalidMessage{Reason: "message missing non-empty 'session_id'"}
	}
	requestID, ok := asNonEmptyString(raw.RequestID)
	if !ok {
		return nil, &ErrInvalidMessage{Reason: "message missing non-empty 'request_id'"}
	}

	payload := raw.Payload
	if len(payload) == 0 || string(payload) == "null" {
		payload = json.RawMessage("{}")
	} else if !isJSONObject(payload) {
		return nil, &ErrInvalidMessage{Reason: "message 'payload' must be an object"}
	}

	extra := make(map[string]json.RawMessage, len(top))
	for k, v := range top {
		switch k {
		case "type", "session_id", "request_id", "payload":
			continue
		default:
			extra[k] = v
		}
	}

	return &Envelope{
		Type:      typeStr,
		SessionID: sessionID,
		RequestID: requestID,
		Payload:   payload,
		Extra:     extra,
	}, nil
}

func asNonEmptyString(v interface{}) (string, bool) {
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	return s, true
}

func isJSONObject(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return strings.HasPrefix(trimmed, "{")
}

// DecodePayload unmarshals the envelope's payload into v.
func (e *Envelope) DecodePayload(v interface{}) error {
	if len(e.Payload) == 0 {
		return errors.New("empty payload")
	}
	return json.Unmarshal(e.Payload, v)
}

// PayloadMap decodes the payload into a generic map, useful for forwarding
// unknown fields verbatim (e.g. session.update's extra fields).
func (e *Envelope) PayloadMap() map[string]interface{} {
	var m map[string]interface{}
	if err := json.Unmarshal(e.Payload, &m); err != nil {
		return map[string]interface{}{}
	}
	return m
}

// ServerMessage builds an outbound server envelope. payload is marshaled as
// the envelope's payload field.
type ServerMessage struct {
	Type      string
	SessionID string
	RequestID string
	Payload   interface{}
}

// Marshal serializes a ServerMessage into the wire JSON envelope shape.
func Marshal(msg ServerMessage) ([]byte, error) {
	if msg.SessionID == "" {
		msg.SessionID = UnknownSessionID
	}
	if msg.RequestID == "" {
		msg.RequestID = UnknownRequestID
	}
	payload := msg.Payload
	if payload == nil {
		payload = map[string]interface{}{}
	}
	return json.Marshal(struct {
		Type      string      `json:"type"`
		SessionID string      `json:"session_id"`
		RequestID string      `json:"request_id"`
		Payload   interface{} `json:"payload"`
	}{
		Type:      msg.Type,
		SessionID: msg.SessionID,
		RequestID: msg.RequestID,
		Payload:   payload,
	})
}
