package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewSettings_Defaults(t *testing.T) {
	s := NewSettings()
	assert.Equal(t, DefaultMaxConcurrentConnections, s.MaxConcurrentConnections)
	assert.Equal(t, DefaultServedModelName, s.ServedModelName)
	assert.Equal(t, DefaultWebSocketPath, s.WebSocketPath)
}

func TestNewSettings_OptionsOverrideDefaults(t *testing.T) {
	s := NewSettings(
		WithAPIKey("secret"),
		WithMaxConcurrentConnections(10),
		WithSegmentRolling(true, 20, 3),
	)
	assert.Equal(t, "secret", s.APIKey)
	assert.Equal(t, 10, s.MaxConcurrentConnections)
	assert.Equal(t, 20.0, s.STTSegmentSeconds)
	assert.Equal(t, 3.0, s.STTSegmentOverlapSeconds)
}

func TestSettings_MaxUtteranceAudioBytes_DisabledWhenZero(t *testing.T) {
	s := NewSettings(WithMaxUtteranceAudioSeconds(0))
	assert.Equal(t, 0, s.MaxUtteranceAudioBytes())
}

func TestSettings_MaxUtteranceAudioBytes(t *testing.T) {
	s := NewSettings(WithMaxUtteranceAudioSeconds(5.0))
	assert.Equal(t, 5*BytesPerSecond, s.MaxUtteranceAudioBytes())
}

func TestSettings_SafeMaxAudioBytes(t *testing.T) {
	s := NewSettings(WithEngineContextWindow(8192, 512))
	expected := (8192 - 512) * BytesPerToken
	assert.Equal(t, expected, s.SafeMaxAudioBytes())
}

func TestSettings_SegmentTargetBytes_ClampedBySafeCeiling(t *testing.T) {
	// A huge configured segment length should be clamped down to the
	// engine-context-derived safe ceiling.
	s := NewSettings(
		WithSegmentRolling(true, 10000, 2),
		WithEngineContextWindow(100, 10),
	)
	safe := s.SafeMaxAudioBytes()
	assert.Equal(t, safe, s.SegmentTargetBytes())
}

func TestSettings_SegmentTargetBytes_UsesConfiguredWhenSmaller(t *testing.T) {
	s := NewSettings(
		WithSegmentRolling(true, 5, 2),
		WithEngineContextWindow(8192, 512),
	)
	assert.Equal(t, int(5*BytesPerSecond), s.SegmentTargetBytes())
}

func TestSettings_OverlapTargetBytes(t *testing.T) {
	s := NewSettings(WithSegmentRolling(true, 25, 2))
	assert.Equal(t, int(2*BytesPerSecond), s.OverlapTargetBytes())
}
