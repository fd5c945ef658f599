// Package writer implements the envelope writer: it receives raw engine
// protocol events as if it were the engine's WebSocket peer and translates
// them into client-facing envelopes, assembling cross-segment transcript
// text along the way (spec component J).
package writer

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rapidaai/sttgateway/internal/envelope"
	"github.com/rapidaai/sttgateway/internal/gwerr"
	"github.com/rapidaai/sttgateway/internal/obslog"
	"github.com/rapidaai/sttgateway/internal/session"
	"github.com/rapidaai/sttgateway/internal/transcript"
)

// Sender delivers a finished client envelope frame (already JSON-encoded)
// to the socket. The WebSocket connection wrapper implements this.
type Sender interface {
	WriteText(ctx context.Context, data []byte) error
}

// Callbacks is the narrow surface the adapter needs from the writer,
// avoiding a direct adapter<->writer ownership cycle (spec §9 design
// notes): the adapter only needs to ask for seam suppression, to push a
// status envelope, and to reset transcript assembly at utterance start,
// never the full Writer type.
type Callbacks interface {
	SuppressNextDone()
	SendStatus(ctx context.Context, kind, source string, droppedSeconds, maxBacklogSeconds float64) error
	ResetAssembler()
}

// Writer owns per-utterance transcript assembly and turns engine events
// into client envelopes. One Writer is created per session and reused
// across utterances; ResetAssembler, which the adapter calls on each
// commit(final=false), starts a fresh assembler for a new utterance.
type Writer struct {
	mu     sync.Mutex
	logger obslog.Logger
	state  *session.State
	sender Sender

	assembler      *transcript.Assembler
	suppressDoneN  int
}

// New builds a Writer bound to one session's state and socket sender.
func New(logger obslog.Logger, state *session.State, sender Sender) *Writer {
	return &Writer{
		logger:    logger,
		state:     state,
		sender:    sender,
		assembler: transcript.New(),
	}
}

// ResetAssembler starts fresh transcript assembly state for a new utterance.
func (w *Writer) ResetAssembler() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.assembler = transcript.New()
}

// SuppressNextDone marks that the next transcription.done is an internal
// segment-roll seam and must not surface final/done to the client.
func (w *Writer) SuppressNextDone() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.suppressDoneN++
}

// SendText implements engine.Writer: it receives one raw engine protocol
// event, as JSON text, and dispatches it.
func (w *Writer) SendText(ctx context.Context, raw string) error {
	var fields map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		w.logger.Warnw("writer: engine emitted non-JSON event", "error", err)
		return nil
	}
	typ, _ := fields["type"].(string)
	delete(fields, "type")

	w.state.Touch()

	switch typ {
	case "transcription.delta":
		return w.handleDelta(ctx, fields)
	case "transcription.done":
		return w.handleDone(ctx, fields)
	case "error":
		return w.handleError(ctx, fields)
	default:
		return w.forward(ctx, typ, fields)
	}
}

func (w *Writer) handleDelta(ctx context.Context, fields map[string]interface{}) error {
	delta, _ := fields["text"].(string)
	if delta == "" {
		delta, _ = fields["delta"].(string)
	}

	w.mu.Lock()
	token := w.assembler.OnDelta(delta)
	w.mu.Unlock()

	if token == "" {
		return nil
	}
	return w.emit(ctx, envelope.TypeToken, map[string]interface{}{"text": token})
}

func (w *Writer) handleDone(ctx context.Context, fields map[string]interface{}) error {
	text, _ := fields["normalized_text"].(string)
	if text == "" {
		text, _ = fields["text"].(string)
	}

	_, requestID := w.state.ResolveReplyIdentity()
	w.state.ClearInflightIfMatches(requestID)

	w.mu.Lock()
	residual, merged := w.assembler.OnDone(text)
	suppress := w.suppressDoneN > 0
	if suppress {
		w.suppressDoneN--
	}
	w.mu.Unlock()

	if residual != "" {
		if err := w.emit(ctx, envelope.TypeToken, map[string]interface{}{"text": residual}); err != nil {
			return err
		}
	}

	if suppress {
		return nil
	}

	if err := w.emit(ctx, envelope.TypeFinal, map[string]interface{}{"normalized_text": merged}); err != nil {
		return err
	}
	return w.emit(ctx, envelope.TypeDone, map[string]interface{}{"usage": fields["usage"]})
}

func (w *Writer) handleError(ctx context.Context, fields map[string]interface{}) error {
	_, requestID := w.state.ResolveReplyIdentity()
	w.state.ClearInflightIfMatches(requestID)

	w.mu.Lock()
	w.suppressDoneN = 0
	w.mu.Unlock()

	code, _ := fields["code"].(string)
	if code == "" {
		code = gwerr.CodeInternalError
	}
	message, _ := fields["message"].(string)
	if message == "" {
		message = "engine reported an error"
	}

	payload := gwerr.NewPayload(gwerr.CodeInternalError, message, code, nil)
	payload.Code = code
	return w.emit(ctx, envelope.TypeError, payload)
}

func (w *Writer) forward(ctx context.Context, typ string, fields map[string]interface{}) error {
	if typ == "" {
		return nil
	}
	return w.emit(ctx, typ, fields)
}

// SendStatus emits a status envelope for an overload drop.
func (w *Writer) SendStatus(ctx context.Context, kind, source string, droppedSeconds, maxBacklogSeconds float64) error {
	return w.emit(ctx, envelope.TypeStatus, map[string]interface{}{
		"kind":               kind,
		"source":             source,
		"dropped_seconds":    droppedSeconds,
		"max_backlog_seconds": maxBacklogSeconds,
	})
}

func (w *Writer) emit(ctx context.Context, typ string, payload interface{}) error {
	sessionID, requestID := w.state.ResolveReplyIdentity()
	data, err := envelope.Marshal(envelope.ServerMessage{
		Type:      typ,
		SessionID: sessionID,
		RequestID: requestID,
		Payload:   payload,
	})
	if err != nil {
		return err
	}

	w.state.Touch()
	if err := w.sender.WriteText(ctx, data); err != nil {
		w.logger.Warnw("writer: failed to write client frame", "error", err)
		return err
	}
	return nil
}
