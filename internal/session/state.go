// Package session holds the per-connection shared state that the receiver,
// processor, writer, and lifecycle watchdog goroutines all read and mutate
// (spec component, §3 "Session").
package session

import "sync"

// Touch is invoked on every inbound client message and every outbound send
// to reset the idle-timeout clock; it is bound to the lifecycle watchdog.
type Touch func()

// State is the mutable record a gateway connection carries for its
// lifetime. All access goes through its methods, which hold an internal
// mutex, since the receiver/processor goroutine and the writer/engine
// callback goroutine touch it concurrently.
type State struct {
	mu sync.Mutex

	sessionID string
	requestID string

	activeRequestID   string
	inflightRequestID string

	activeRequestAudioBytes int

	touch Touch
}

// New builds a State with session_id/request_id defaulted to "unknown"
// until the first client message arrives (spec §3, §6.3).
func New(unknown string, touch Touch) *State {
	if touch == nil {
		touch = func() {}
	}
	return &State{
		sessionID: unknown,
		requestID: unknown,
		touch:     touch,
	}
}

// Touch resets the idle-timeout clock.
func (s *State) Touch() {
	s.touch()
}

// SessionID returns the first client-supplied session_id seen so far.
func (s *State) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// SetSessionIDIfUnset records session_id the first time a client supplies
// one; subsequent messages never change it (spec: "first client-supplied
// string to arrive").
func (s *State) SetSessionIDIfUnset(id, unknown string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessionID == unknown || s.sessionID == "" {
		s.sessionID = id
	}
}

// RequestID returns the most recently seen client-supplied request_id.
func (s *State) RequestID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requestID
}

// SetRequestID records the latest client-supplied request_id.
func (s *State) SetRequestID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requestID = id
}

// ActiveRequestID returns the id of the utterance currently receiving
// audio, or "" when idle.
func (s *State) ActiveRequestID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeRequestID
}

// SetActiveRequestID sets the active utterance id and resets its audio byte
// counter to zero.
func (s *State) SetActiveRequestID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeRequestID = id
	s.activeRequestAudioBytes = 0
}

// ClearActive clears the active request id and its audio byte counter, used
// on final commit, cancel, and utterance replacement.
func (s *State) ClearActive() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeRequestID = ""
	s.activeRequestAudioBytes = 0
}

// InflightRequestID returns the id of the utterance awaiting a terminal
// engine event, or "" when none is in flight.
func (s *State) InflightRequestID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflightRequestID
}

// SetInflightRequestID records the utterance id now awaiting a terminal
// engine event.
func (s *State) SetInflightRequestID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflightRequestID = id
}

// ClearInflightIfMatches clears inflight_request_id iff it currently equals
// id; used so a stale terminal event for an already-replaced request can't
// clobber a newer inflight id.
func (s *State) ClearInflightIfMatches(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflightRequestID == id {
		s.inflightRequestID = ""
	}
}

// Busy reports whether the session has an in-flight utterance; this
// suppresses idle expiry but never max-duration expiry (spec §4.D).
func (s *State) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflightRequestID != ""
}

// AddActiveAudioBytes increments the running decoded-audio-byte counter for
// the active utterance and returns the new total.
func (s *State) AddActiveAudioBytes(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeRequestAudioBytes += n
	return s.activeRequestAudioBytes
}

// ActiveAudioBytes returns the current running decoded-audio-byte count.
func (s *State) ActiveAudioBytes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeRequestAudioBytes
}

// ResolveReplyIdentity picks the (session_id, request_id) pair to stamp on
// an outbound envelope: inflight_request_id, then active_request_id, then
// the last-seen request_id (spec §4.H "writer").
func (s *State) ResolveReplyIdentity() (sessionID, requestID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sessionID = s.sessionID
	switch {
	case s.inflightRequestID != "":
		requestID = s.inflightRequestID
	case s.activeRequestID != "":
		requestID = s.activeRequestID
	default:
		requestID = s.requestID
	}
	return sessionID, requestID
}
