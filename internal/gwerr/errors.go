// Package gwerr holds the gateway's client-facing error taxonomy: the
// string codes carried in error envelopes and the WebSocket close codes
// that accompany lifecycle and admission failures.
package gwerr

// Error codes carried in a server envelope's payload.code.
const (
	CodeAuthenticationFailed = "authentication_failed"
	CodeServerAtCapacity     = "server_at_capacity"
	CodeInvalidMessage       = "invalid_message"
	CodeInvalidPayload       = "invalid_payload"
	CodeRateLimited          = "rate_limited"
	CodeInternalError        = "internal_error"
	CodeUtteranceTooLong     = "utterance_too_long"
)

// Reason codes carried in payload.details.reason_code for invalid_payload /
// invalid_message errors.
const (
	ReasonNoActiveRequest    = "no_active_request"
	ReasonRequestIDMismatch  = "request_id_mismatch"
	ReasonUnsupportedModel   = "unsupported_model"
	ReasonMissingAudio       = "missing_audio"
	ReasonUnknownMessageType = "unknown_message_type"
	ReasonInboundQueueFull   = "inbound_queue_full"
	ReasonUtteranceTooLong   = "utterance_too_long"
)

// WebSocket close codes, per spec section 6.1.
const (
	CloseNormal      = 1000
	CloseIdleTimeout = 4000
	CloseAuthFailed  = 4001
	CloseAtCapacity  = 4002
	CloseMaxDuration = 4003
)

// Close reasons that accompany the lifecycle close codes.
const (
	ReasonIdleTimeout = "idle timeout"
	ReasonMaxDuration = "max duration"
)

// Payload is the shape of a server envelope's error payload.
type Payload struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details"`
}

// NewPayload builds an error payload, defaulting reason_code into details
// when one is supplied and not already present.
func NewPayload(code, message, reasonCode string, details map[string]interface{}) Payload {
	d := make(map[string]interface{}, len(details)+1)
	for k, v := range details {
		d[k] = v
	}
	if reasonCode != "" {
		if _, ok := d["reason_code"]; !ok {
			d["reason_code"] = reasonCode
		}
	}
	return Payload{Code: code, Message: message, Details: d}
}
