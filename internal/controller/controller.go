// Package controller orchestrates one accepted WebSocket connection: the
// receiver/processor message loop (spec components H) and dispatch
// handlers driving the adapter (spec component I).
package controller

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rapidaai/sttgateway/internal/adapter"
	"github.com/rapidaai/sttgateway/internal/audioutil"
	"github.com/rapidaai/sttgateway/internal/config"
	"github.com/rapidaai/sttgateway/internal/engine"
	"github.com/rapidaai/sttgateway/internal/envelope"
	"github.com/rapidaai/sttgateway/internal/gwerr"
	"github.com/rapidaai/sttgateway/internal/lifecycle"
	"github.com/rapidaai/sttgateway/internal/metrics"
	"github.com/rapidaai/sttgateway/internal/obslog"
	"github.com/rapidaai/sttgateway/internal/ratelimit"
	"github.com/rapidaai/sttgateway/internal/session"
	"github.com/rapidaai/sttgateway/internal/writer"
)

// Socket is the narrow transport surface the controller needs: reading a
// text frame with a deadline, writing one, and closing with a code/reason.
type Socket interface {
	ReadText(ctx context.Context, timeout time.Duration) (text string, shouldClose bool, err error)
	WriteText(ctx context.Context, data []byte) error
	Close(code int, reason string) error
}

// Session runs one connection's full lifecycle: receiver, processor,
// lifecycle watchdog, and the per-utterance adapter/writer pair.
type Session struct {
	logger   obslog.Logger
	settings *config.Settings
	sock     Socket
	engineF  engine.Factory
	metrics  *metrics.Metrics

	state     *session.State
	msgLimit  *ratelimit.Window
	cancelLim *ratelimit.Window
	watchdog  *lifecycle.Watchdog

	wr      *writer.Writer
	adp     *adapter.Adapter
	inbound chan *envelope.Envelope
}

// New wires one connection's Session. sock must already be the accepted
// socket; New does not itself perform the WebSocket upgrade (see
// internal/wsserver). m may be nil.
func New(logger obslog.Logger, settings *config.Settings, sock Socket, engineF engine.Factory, m *metrics.Metrics) *Session {
	s := &Session{
		logger:   logger,
		settings: settings,
		sock:     sock,
		engineF:  engineF,
		metrics:  m,
		inbound:  make(chan *envelope.Envelope, settings.InboundQueueMax),
	}

	s.msgLimit = ratelimit.New(durationFromSeconds(settings.WSMessageWindowSeconds), settings.WSMaxMessagesPerWindow)
	s.cancelLim = ratelimit.New(durationFromSeconds(settings.WSCancelWindowSeconds), settings.WSMaxCancelsPerWindow)

	// state.Touch and watchdog.Busy are mutually dependent, so the
	// watchdog is built first against a forwarding closure and wired to
	// the real state once it exists.
	var st *session.State
	s.watchdog = lifecycle.New(
		durationFromSeconds(settings.IdleTimeoutSeconds),
		durationFromSeconds(settings.WatchdogTickSeconds),
		durationFromSeconds(settings.MaxConnectionDurationSecs),
		func() bool { return st != nil && st.Busy() },
		func() { _ = s.sock.Close(gwerr.CloseIdleTimeout, gwerr.ReasonIdleTimeout) },
		func() { _ = s.sock.Close(gwerr.CloseMaxDuration, gwerr.ReasonMaxDuration) },
	)
	st = session.New(envelope.UnknownSessionID, s.watchdog.Touch)
	s.state = st
	s.wr = writer.New(logger, s.state, sockSender{sock})

	return s
}

type sockSender struct{ sock Socket }

func (s sockSender) WriteText(ctx context.Context, data []byte) error {
	return s.sock.WriteText(ctx, data)
}

func durationFromSeconds(seconds float64) time.Duration {
	if seconds <= 0 {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}

// Run drives the session to completion: spawns the watchdog, the receiver,
// and the processor, and blocks until either exits.
func (s *Session) Run(ctx context.Context) error {
	s.watchdog.Start()
	defer s.watchdog.Stop()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.receive(ctx) })
	g.Go(func() error { return s.process(ctx) })

	err := g.Wait()

	if s.adp != nil {
		_ = s.adp.Cancel(context.Background())
	}
	return err
}

func (s *Session) receive(ctx context.Context) error {
	defer close(s.inbound)

	timeout := 2 * durationFromSeconds(s.settings.WatchdogTickSeconds)
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		text, shouldClose, err := s.sock.ReadText(ctx, timeout)
		if err != nil {
			return err
		}
		if shouldClose {
			return nil
		}
		if text == "" {
			continue
		}

		env, perr := envelope.Parse(text)
		if perr != nil {
			s.sendError(ctx, gwerr.CodeInvalidMessage, perr.Error(), "")
			continue
		}

		s.state.Touch()
		s.state.SetSessionIDIfUnset(env.SessionID, envelope.UnknownSessionID)
		s.state.SetRequestID(env.RequestID)

		if ok := s.consumeRateLimit(ctx, env.Type); !ok {
			continue
		}

		switch env.Type {
		case envelope.TypePing:
			s.sendSimple(ctx, envelope.TypePong)
			continue
		case envelope.TypePong:
			continue
		case envelope.TypeEnd:
			s.sendSimple(ctx, envelope.TypeSessionEnd)
			_ = s.sock.Close(gwerr.CloseNormal, "client end")
			return nil
		}

		select {
		case s.inbound <- env:
		default:
			s.sendError(ctx, gwerr.CodeInternalError, "inbound queue full", gwerr.ReasonInboundQueueFull)
			_ = s.sock.Close(gwerr.CloseAtCapacity, "inbound queue full")
			return fmt.Errorf("controller: inbound queue full")
		}
	}
}

func (s *Session) consumeRateLimit(ctx context.Context, msgType string) bool {
	switch msgType {
	case envelope.TypePing, envelope.TypePong, envelope.TypeEnd:
		return true
	case envelope.TypeCancel:
		if s.cancelLim.Consume() {
			return true
		}
		s.sendRateLimited(ctx, "cancel", s.settings.WSCancelWindowSeconds, s.settings.WSMaxCancelsPerWindow, s.cancelLim.RetryIn())
		return false
	default:
		if s.msgLimit.Consume() {
			return true
		}
		s.sendRateLimited(ctx, "message", s.settings.WSMessageWindowSeconds, s.settings.WSMaxMessagesPerWindow, s.msgLimit.RetryIn())
		return false
	}
}

func (s *Session) sendRateLimited(ctx context.Context, kind string, windowSeconds float64, limit int, retryIn time.Duration) {
	s.sendEnvelope(ctx, envelope.TypeError, gwerr.NewPayload(gwerr.CodeRateLimited, "rate limit exceeded", "", map[string]interface{}{
		"kind":           kind,
		"limit":          limit,
		"window_seconds": windowSeconds,
		"retry_in":       retryIn.Seconds(),
	}))
}

func (s *Session) process(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case env, ok := <-s.inbound:
			if !ok {
				return nil
			}
			s.dispatch(ctx, env)
		}
	}
}

func (s *Session) ensureAdapter(ctx context.Context) *adapter.Adapter {
	if s.adp != nil {
		return s.adp
	}
	sess, err := s.engineF.Open(ctx, s.wr)
	if err != nil {
		s.logger.Errorw("controller: failed to open engine session", "error", err)
		s.sendError(ctx, gwerr.CodeInternalError, "engine unavailable", "")
		return nil
	}
	s.adp = adapter.New(s.logger, s.settings, sess, s.wr, s.metrics)
	return s.adp
}

func (s *Session) dispatch(ctx context.Context, env *envelope.Envelope) {
	s.metrics.MessageReceived(ctx, env.Type)
	switch env.Type {
	case envelope.TypeSessionUpdate:
		s.handleSessionUpdate(ctx, env)
	case envelope.TypeInputAudioBufferCommit:
		s.handleCommit(ctx, env)
	case envelope.TypeInputAudioBufferAppend:
		s.handleAppend(ctx, env)
	case envelope.TypeCancel:
		s.handleCancel(ctx, env)
	default:
		s.sendError(ctx, gwerr.CodeInvalidMessage, "unknown message type", gwerr.ReasonUnknownMessageType)
	}
}

func (s *Session) handleSessionUpdate(ctx context.Context, env *envelope.Envelope) {
	payload := env.PayloadMap()
	if model, ok := payload["model"].(string); ok && model != "" {
		if model != s.settings.ServedModelName {
			s.sendError(ctx, gwerr.CodeInvalidPayload, "unsupported model", gwerr.ReasonUnsupportedModel)
			return
		}
	}
	a := s.ensureAdapter(ctx)
	if a == nil {
		return
	}
	if err := a.HandleSessionUpdate(ctx, payload); err != nil {
		s.logger.Warnw("controller: session.update forward failed", "error", err)
	}
}

func (s *Session) handleCommit(ctx context.Context, env *envelope.Envelope) {
	payload := env.PayloadMap()
	final, _ := payload["final"].(bool)

	if !final {
		a := s.ensureAdapter(ctx)
		if a == nil {
			return
		}
		if err := a.EnsureInitialized(ctx); err != nil {
			s.logger.Warnw("controller: ensure_initialized failed", "error", err)
		}

		inflight := s.state.InflightRequestID()
		active := s.state.ActiveRequestID()
		if (inflight != "" && inflight != env.RequestID) || (active != "" && active != env.RequestID) {
			_ = a.Cancel(ctx)
			s.state.SetInflightRequestID("")
		}

		s.state.SetActiveRequestID(env.RequestID)
		if err := a.HandleCommitStart(ctx); err != nil {
			s.logger.Warnw("controller: commit start forward failed", "error", err)
		}
		return
	}

	active := s.state.ActiveRequestID()
	if active == "" {
		s.sendError(ctx, gwerr.CodeInvalidPayload, "no active request", gwerr.ReasonNoActiveRequest)
		return
	}
	if active != env.RequestID {
		s.sendEnvelope(ctx, envelope.TypeError, gwerr.NewPayload(gwerr.CodeInvalidPayload, "request id mismatch", gwerr.ReasonRequestIDMismatch, map[string]interface{}{
			"active_request_id": active,
		}))
		return
	}

	s.metrics.UtteranceAudioBytes(ctx, int64(s.state.ActiveAudioBytes()))
	s.state.SetInflightRequestID(env.RequestID)
	if s.adp != nil {
		s.adp.HandleCommitFinal()
	}
	s.state.ClearActive()
}

func (s *Session) handleAppend(ctx context.Context, env *envelope.Envelope) {
	active := s.state.ActiveRequestID()
	if active == "" || active != env.RequestID {
		s.sendError(ctx, gwerr.CodeInvalidPayload, "no active request", gwerr.ReasonNoActiveRequest)
		return
	}

	payload := env.PayloadMap()
	audio, _ := payload["audio"].(string)
	if audio == "" {
		s.sendError(ctx, gwerr.CodeInvalidPayload, "missing audio", gwerr.ReasonMissingAudio)
		return
	}

	if maxBytes := s.settings.MaxUtteranceAudioBytes(); maxBytes > 0 {
		decoded := audioutil.EstimateDecodedBytes(audio)
		total := s.state.AddActiveAudioBytes(decoded)
		if total > maxBytes {
			s.sendEnvelope(ctx, envelope.TypeError, gwerr.NewPayload(gwerr.CodeUtteranceTooLong, "utterance exceeds configured maximum", gwerr.ReasonUtteranceTooLong, map[string]interface{}{
				"max_audio_seconds":       s.settings.MaxUtteranceAudioSeconds,
				"max_audio_bytes":         maxBytes,
				"received_audio_seconds":  float64(total) / config.BytesPerSecond,
				"received_audio_bytes":    total,
			}))
			if s.adp != nil {
				_ = s.adp.Cancel(ctx)
			}
			s.state.ClearActive()
			s.state.SetInflightRequestID("")
			return
		}
	}

	if s.adp == nil {
		return
	}
	if err := s.adp.HandleAppend(ctx, audio); err != nil {
		s.logger.Warnw("controller: append forward failed", "error", err)
	}
}

func (s *Session) handleCancel(ctx context.Context, env *envelope.Envelope) {
	if s.adp != nil {
		_ = s.adp.Cancel(ctx)
	}
	s.state.ClearActive()
	s.state.SetInflightRequestID("")

	payload := env.PayloadMap()
	reason, _ := payload["reason"].(string)
	if reason == "" {
		reason = "client_request"
	}
	s.sendEnvelope(ctx, envelope.TypeCancelled, map[string]interface{}{"reason": reason})
}

func (s *Session) sendEnvelope(ctx context.Context, typ string, payload interface{}) {
	sessionID, requestID := s.state.ResolveReplyIdentity()
	data, err := envelope.Marshal(envelope.ServerMessage{Type: typ, SessionID: sessionID, RequestID: requestID, Payload: payload})
	if err != nil {
		return
	}
	s.state.Touch()
	if err := s.sock.WriteText(ctx, data); err != nil {
		s.logger.Warnw("controller: write failed", "error", err)
	}
}

func (s *Session) sendSimple(ctx context.Context, typ string) {
	s.sendEnvelope(ctx, typ, map[string]interface{}{})
}

func (s *Session) sendError(ctx context.Context, code, message, reasonCode string) {
	s.sendEnvelope(ctx, envelope.TypeError, gwerr.NewPayload(code, message, reasonCode, nil))
}
