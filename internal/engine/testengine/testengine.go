// Package testengine provides a fake implementation of the engine
// collaborator (internal/engine) for tests and local demo wiring. It
// behaves like a minimal Realtime ASR peer: session.update is acked with
// session.updated, input_audio_buffer.append is silently accumulated, and
// a final commit triggers a scripted transcription.delta/transcription.done
// pair on the attached writer before its generation task completes.
package testengine

import (
	"context"
	"fmt"
	"sync"

	"github.com/rapidaai/sttgateway/internal/engine"
)

// Script customizes how a fake session responds to a final commit. When nil,
// a default two-token "hello world" transcript is emitted.
type Script struct {
	Tokens []string
	Final  string
}

// Factory builds fake Sessions. Script is shared across all sessions it opens.
type Factory struct {
	Script *Script
}

// NewFactory returns an engine.Factory backed by the fake implementation.
func NewFactory(script *Script) *Factory {
	return &Factory{Script: script}
}

func (f *Factory) Open(ctx context.Context, w engine.Writer) (engine.Session, error) {
	s := &fakeSession{
		w:      w,
		script: f.Script,
	}
	s.generationDone = closedChan()
	return s, nil
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type fakeSession struct {
	mu             sync.Mutex
	w              engine.Writer
	script         *Script
	closed         bool
	generationDone chan struct{}
	updated        bool
	audioLen       int
}

func (s *fakeSession) Send(ctx context.Context, ev engine.Event) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("testengine: session closed")
	}

	switch ev.Type {
	case "session.update":
		s.updated = true
		s.mu.Unlock()
		return s.w.SendText(ctx, `{"type":"session.updated","fields":{}}`)
	case "input_audio_buffer.append":
		if raw, ok := ev.Fields["audio"].(string); ok {
			s.audioLen += len(raw)
		}
		s.mu.Unlock()
		return nil
	case "input_audio_buffer.commit":
		final, _ := ev.Fields["final"].(bool)
		if !final {
			s.mu.Unlock()
			return nil
		}
		s.generationDone = make(chan struct{})
		done := s.generationDone
		s.mu.Unlock()

		err := s.emitTranscript(ctx)
		close(done)
		return err
	default:
		s.mu.Unlock()
		return nil
	}
}

func (s *fakeSession) emitTranscript(ctx context.Context) error {
	tokens := []string{"hello", " world"}
	final := "hello world"
	if s.script != nil {
		if len(s.script.Tokens) > 0 {
			tokens = s.script.Tokens
		}
		if s.script.Final != "" {
			final = s.script.Final
		}
	}

	for _, tok := range tokens {
		if err := s.w.SendText(ctx, fmt.Sprintf(`{"type":"transcription.delta","text":%q}`, tok)); err != nil {
			return err
		}
	}
	if err := s.w.SendText(ctx, fmt.Sprintf(`{"type":"transcription.done","normalized_text":%q}`, final)); err != nil {
		return err
	}
	return nil
}

func (s *fakeSession) Cleanup(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSession) AwaitGeneration(ctx context.Context) error {
	s.mu.Lock()
	done := s.generationDone
	s.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
