// Package config holds the gateway's read-only settings snapshot.
//
// Settings itself never reads the environment, a file, or a secrets
// manager — it is built purely in-process via functional options with
// package-level Default* constants. Callers that want env/file-driven config
// pass the resulting values to NewSettings; loader.go in this package offers
// an optional viper-backed helper (NewSettingsFromViper) for that.
package config

import "time"

// Audio format constants. Only PCM16 mono 16 kHz is supported (spec 6.5).
const (
	SampleRateHz   = 16000
	BytesPerSample = 2
	BytesPerSecond = SampleRateHz * BytesPerSample // 32,000

	// EngineTokenStepMillis is the engine's audio token granularity (~80ms).
	EngineTokenStepMillis = 80
	BytesPerToken         = (BytesPerSecond * EngineTokenStepMillis) / 1000 // 2,560
)

// Defaults mirror the reference implementation's chosen values; every field
// can be overridden via an Option.
const (
	DefaultMaxConcurrentConnections = 256

	DefaultWSMessageWindowSeconds = 1.0
	DefaultWSMaxMessagesPerWindow = 50
	DefaultWSCancelWindowSeconds  = 1.0
	DefaultWSMaxCancelsPerWindow  = 5

	DefaultIdleTimeoutSeconds        = 30.0
	DefaultWatchdogTickSeconds       = 5.0
	DefaultMaxConnectionDurationSecs = 3600.0

	DefaultInboundQueueMax = 64

	DefaultSTTInternalRoll            = true
	DefaultSTTSegmentSeconds          = 25.0
	DefaultSTTSegmentOverlapSeconds   = 2.0
	DefaultSTTMaxBacklogSeconds       = 8.0
	DefaultPendingBacklogSeconds      = 8.0
	DefaultMaxUtteranceAudioSeconds   = 0.0 // disabled
	DefaultEngineMaxContextTokens     = 8192
	DefaultAudioTokenHeadroomTokens   = 512
	DefaultSegmentGenerationTimeout   = 120 * time.Second
	DefaultServedModelName            = "voxtral-realtime"
	DefaultWebSocketPath              = "/ws"
)

// Settings is the gateway's immutable, read-only-at-runtime configuration
// snapshot (component L). Build one with NewSettings; nothing in this
// package mutates a Settings after construction.
type Settings struct {
	APIKey                    string
	ServedModelName           string
	WebSocketPath             string
	MaxConcurrentConnections  int

	WSMessageWindowSeconds float64
	WSMaxMessagesPerWindow int
	WSCancelWindowSeconds  float64
	WSMaxCancelsPerWindow  int

	IdleTimeoutSeconds        float64
	WatchdogTickSeconds       float64
	MaxConnectionDurationSecs float64

	InboundQueueMax int

	STTInternalRoll          bool
	STTSegmentSeconds        float64
	STTSegmentOverlapSeconds float64
	STTMaxBacklogSeconds     float64
	PendingBacklogSeconds    float64

	MaxUtteranceAudioSeconds float64

	EngineMaxContextTokens   int
	AudioTokenHeadroomTokens int

	SegmentGenerationTimeout time.Duration
}

// Option mutates a Settings during construction.
type Option func(*Settings)

func WithAPIKey(key string) Option { return func(s *Settings) { s.APIKey = key } }

func WithServedModelName(name string) Option {
	return func(s *Settings) { s.ServedModelName = name }
}

func WithWebSocketPath(path string) Option {
	return func(s *Settings) { s.WebSocketPath = path }
}

func WithMaxConcurrentConnections(n int) Option {
	return func(s *Settings) { s.MaxConcurrentConnections = n }
}

func WithMessageRateLimit(windowSeconds float64, maxPerWindow int) Option {
	return func(s *Settings) {
		s.WSMessageWindowSeconds = windowSeconds
		s.WSMaxMessagesPerWindow = maxPerWindow
	}
}

func WithCancelRateLimit(windowSeconds float64, maxPerWindow int) Option {
	return func(s *Settings) {
		s.WSCancelWindowSeconds = windowSeconds
		s.WSMaxCancelsPerWindow = maxPerWindow
	}
}

func WithLifecycle(idleTimeoutSeconds, watchdogTickSeconds, maxConnectionDurationSecs float64) Option {
	return func(s *Settings) {
		s.IdleTimeoutSeconds = idleTimeoutSeconds
		s.WatchdogTickSeconds = watchdogTickSeconds
		s.MaxConnectionDurationSecs = maxConnectionDurationSecs
	}
}

func WithInboundQueueMax(n int) Option { return func(s *Settings) { s.InboundQueueMax = n } }

func WithSegmentRolling(enabled bool, segmentSeconds, overlapSeconds float64) Option {
	return func(s *Settings) {
		s.STTInternalRoll = enabled
		s.STTSegmentSeconds = segmentSeconds
		s.STTSegmentOverlapSeconds = overlapSeconds
	}
}

func WithBacklogLimits(engineQueueMaxSeconds, pendingBufferMaxSeconds float64) Option {
	return func(s *Settings) {
		s.STTMaxBacklogSeconds = engineQueueMaxSeconds
		s.PendingBacklogSeconds = pendingBufferMaxSeconds
	}
}

func WithMaxUtteranceAudioSeconds(seconds float64) Option {
	return func(s *Settings) { s.MaxUtteranceAudioSeconds = seconds }
}

func WithEngineContextWindow(maxContextTokens, headroomTokens int) Option {
	return func(s *Settings) {
		s.EngineMaxContextTokens = maxContextTokens
		s.AudioTokenHeadroomTokens = headroomTokens
	}
}

func WithSegmentGenerationTimeout(d time.Duration) Option {
	return func(s *Settings) { s.SegmentGenerationTimeout = d }
}

// NewSettings builds a Settings snapshot, applying defaults first and then
// the supplied options in order.
func NewSettings(opts ...Option) *Settings {
	s := &Settings{
		ServedModelName:           DefaultServedModelName,
		WebSocketPath:             DefaultWebSocketPath,
		MaxConcurrentConnections:  DefaultMaxConcurrentConnections,
		WSMessageWindowSeconds:    DefaultWSMessageWindowSeconds,
		WSMaxMessagesPerWindow:    DefaultWSMaxMessagesPerWindow,
		WSCancelWindowSeconds:     DefaultWSCancelWindowSeconds,
		WSMaxCancelsPerWindow:     DefaultWSMaxCancelsPerWindow,
		IdleTimeoutSeconds:        DefaultIdleTimeoutSeconds,
		WatchdogTickSeconds:       DefaultWatchdogTickSeconds,
		MaxConnectionDurationSecs: DefaultMaxConnectionDurationSecs,
		InboundQueueMax:           DefaultInboundQueueMax,
		STTInternalRoll:           DefaultSTTInternalRoll,
		STTSegmentSeconds:         DefaultSTTSegmentSeconds,
		STTSegmentOverlapSeconds:  DefaultSTTSegmentOverlapSeconds,
		STTMaxBacklogSeconds:      DefaultSTTMaxBacklogSeconds,
		PendingBacklogSeconds:     DefaultPendingBacklogSeconds,
		MaxUtteranceAudioSeconds:  DefaultMaxUtteranceAudioSeconds,
		EngineMaxContextTokens:    DefaultEngineMaxContextTokens,
		AudioTokenHeadroomTokens:  DefaultAudioTokenHeadroomTokens,
		SegmentGenerationTimeout:  DefaultSegmentGenerationTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MaxUtteranceAudioBytes converts MaxUtteranceAudioSeconds into a byte
// threshold; 0 means disabled.
func (s *Settings) MaxUtteranceAudioBytes() int {
	if s.MaxUtteranceAudioSeconds <= 0 {
		return 0
	}
	return int(s.MaxUtteranceAudioSeconds * BytesPerSecond)
}

// SafeMaxAudioBytes is the engine-context-bounded ceiling on audio bytes per
// segment: (engine_max_context_tokens - headroom) * bytes_per_token.
func (s *Settings) SafeMaxAudioBytes() int {
	usableTokens := s.EngineMaxContextTokens - s.AudioTokenHeadroomTokens
	if usableTokens < 0 {
		usableTokens = 0
	}
	return usableTokens * BytesPerToken
}

// SegmentTargetBytes is min(configured_segment_seconds * bytes_per_second,
// safe_max_audio_bytes), per spec 4.F.3.
func (s *Settings) SegmentTargetBytes() int {
	configured := int(s.STTSegmentSeconds * BytesPerSecond)
	safe := s.SafeMaxAudioBytes()
	if safe > 0 && safe < configured {
		return safe
	}
	return configured
}

// OverlapTargetBytes is configured_overlap_seconds * bytes_per_second.
func (s *Settings) OverlapTargetBytes() int {
	return int(s.STTSegmentOverlapSeconds * BytesPerSecond)
}
