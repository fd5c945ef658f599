// Package engine defines the abstract collaborator this gateway speaks to:
// an external inference engine exposing an asynchronous, event-driven
// session (spec §6.4). The engine itself is out of scope; this package only
// names the boundary.
package engine

import "context"

// Event is one raw protocol event, either sent to the engine
// (session.update, input_audio_buffer.append, input_audio_buffer.commit)
// or received from it (transcription.delta, transcription.done, error,
// session.created, session.updated).
type Event struct {
	Type   string
	Fields map[string]interface{}
}

// Writer is the narrow surface the engine uses to emit events back to the
// gateway, as if the gateway were a WebSocket peer: a single send_text-style
// method. The envelope writer (internal/writer) implements this.
type Writer interface {
	SendText(ctx context.Context, raw string) error
}

// Session is a single conversation with the engine: one per gateway
// connection's active adapter lifetime. Implementations own their own
// transport (a raw WebSocket dial to the engine, an in-process fake, etc).
type Session interface {
	// Send forwards one event to the engine (session.update,
	// input_audio_buffer.append, or input_audio_buffer.commit).
	Send(ctx context.Context, ev Event) error

	// Cleanup tears the session down; safe to call more than once.
	Cleanup(ctx context.Context) error

	// AwaitGeneration blocks until the generation task started by the most
	// recent commit(final=true) completes, or ctx is done, mirroring
	// awaiting generation_task in spec §6.4. Each segment roll and the
	// final close await one generation this way.
	AwaitGeneration(ctx context.Context) error
}

// Factory opens a new engine Session, wiring w as the destination for
// events the engine emits.
type Factory interface {
	Open(ctx context.Context, w Writer) (Session, error)
}
