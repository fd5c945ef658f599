package config

import "github.com/spf13/viper"

// NewSettingsFromViper is an opt-in convenience for operators who want their
// Settings sourced from env vars / a config file instead of hand-written
// Options. The core Settings type has no dependency on viper; this helper
// exists purely so the viper wiring has a single, obvious seam, keeping the
// excluded "static configuration loading" concern separable from the
// in-scope config surface (component L).
func NewSettingsFromViper(v *viper.Viper) *Settings {
	v.SetDefault("served_model_name", DefaultServedModelName)
	v.SetDefault("websocket_path", DefaultWebSocketPath)
	v.SetDefault("max_concurrent_connections", DefaultMaxConcurrentConnections)
	v.SetDefault("ws_message_window_seconds", DefaultWSMessageWindowSeconds)
	v.SetDefault("ws_max_messages_per_window", DefaultWSMaxMessagesPerWindow)
	v.SetDefault("ws_cancel_window_seconds", DefaultWSCancelWindowSeconds)
	v.SetDefault("ws_max_cancels_per_window", DefaultWSMaxCancelsPerWindow)
	v.SetDefault("idle_timeout_s", DefaultIdleTimeoutSeconds)
	v.SetDefault("watchdog_tick_s", DefaultWatchdogTickSeconds)
	v.SetDefault("max_connection_duration_s", DefaultMaxConnectionDurationSecs)
	v.SetDefault("inbound_queue_max", DefaultInboundQueueMax)
	v.SetDefault("stt_internal_roll", DefaultSTTInternalRoll)
	v.SetDefault("stt_segment_seconds", DefaultSTTSegmentSeconds)
	v.SetDefault("stt_segment_overlap_seconds", DefaultSTTSegmentOverlapSeconds)
	v.SetDefault("stt_max_backlog_seconds", DefaultSTTMaxBacklogSeconds)
	v.SetDefault("pending_backlog_seconds", DefaultPendingBacklogSeconds)
	v.SetDefault("max_utterance_audio_seconds", DefaultMaxUtteranceAudioSeconds)
	v.SetDefault("engine_max_context_tokens", DefaultEngineMaxContextTokens)
	v.SetDefault("audio_token_headroom", DefaultAudioTokenHeadroomTokens)

	return NewSettings(
		WithAPIKey(v.GetString("api_key")),
		WithServedModelName(v.GetString("served_model_name")),
		WithWebSocketPath(v.GetString("websocket_path")),
		WithMaxConcurrentConnections(v.GetInt("max_concurrent_connections")),
		WithMessageRateLimit(v.GetFloat64("ws_message_window_seconds"), v.GetInt("ws_max_messages_per_window")),
		WithCancelRateLimit(v.GetFloat64("ws_cancel_window_seconds"), v.GetInt("ws_max_cancels_per_window")),
		WithLifecycle(v.GetFloat64("idle_timeout_s"), v.GetFloat64("watchdog_tick_s"), v.GetFloat64("max_connection_duration_s")),
		WithInboundQueueMax(v.GetInt("inbound_queue_max")),
		WithSegmentRolling(v.GetBool("stt_internal_roll"), v.GetFloat64("stt_segment_seconds"), v.GetFloat64("stt_segment_overlap_seconds")),
		WithBacklogLimits(v.GetFloat64("stt_max_backlog_seconds"), v.GetFloat64("pending_backlog_seconds")),
		WithMaxUtteranceAudioSeconds(v.GetFloat64("max_utterance_audio_seconds")),
		WithEngineContextWindow(v.GetInt("engine_max_context_tokens"), v.GetInt("audio_token_headroom")),
	)
}
