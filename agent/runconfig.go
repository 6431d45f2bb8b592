//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package agent

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
	"google.golang.org/genai"
)

// StreamingMode selects how model output is delivered.
type StreamingMode string

// Streaming modes.
const (
	StreamingModeNone StreamingMode = "none"
	StreamingModeSSE  StreamingMode = "sse"
	StreamingModeBidi StreamingMode = "bidi"
)

// DefaultMaxLLMCalls is the default cap on model calls per invocation.
const DefaultMaxLLMCalls = 500

// RunConfig holds the per-run settings of an invocation.
type RunConfig struct {
	// StreamingMode selects unary (none), server-sent (sse) or live (bidi) output.
	StreamingMode StreamingMode `envconfig:"STREAMING_MODE" default:"none"`
	// MaxLLMCalls caps model calls per invocation; zero or less disables the cap.
	MaxLLMCalls int `envconfig:"MAX_LLM_CALLS" default:"500"`
	// ResponseModalities is forwarded to live connections.
	ResponseModalities []genai.Modality `envconfig:"RESPONSE_MODALITIES"`
	// EnableAffectiveDialog is forwarded to live connections when set.
	EnableAffectiveDialog bool `envconfig:"ENABLE_AFFECTIVE_DIALOG"`
	// SaveInputBlobsAsArtifacts stores inline blobs of the user message as
	// artifacts and replaces them with a text placeholder.
	SaveInputBlobsAsArtifacts bool `envconfig:"SAVE_INPUT_BLOBS_AS_ARTIFACTS"`
	// SaveLiveBlob stores flushed live audio caches as artifacts.
	SaveLiveBlob bool `envconfig:"SAVE_LIVE_BLOB"`
	// SupportCFC routes SSE model calls through a live connection so the model
	// can call functions compositionally.
	SupportCFC bool `envconfig:"SUPPORT_CFC"`
	// ProgressiveSSEStreaming makes partial function-call fragments visible
	// as partial events. Tools are still only dispatched from final events.
	ProgressiveSSEStreaming bool `envconfig:"PROGRESSIVE_SSE_STREAMING"`

	SpeechConfig             *genai.SpeechConfig                   `ignored:"true"`
	InputAudioTranscription  *genai.AudioTranscriptionConfig       `ignored:"true"`
	OutputAudioTranscription *genai.AudioTranscriptionConfig       `ignored:"true"`
	RealtimeInputConfig      *genai.RealtimeInputConfig            `ignored:"true"`
	Proactivity              *genai.ProactivityConfig              `ignored:"true"`
	SessionResumption        *genai.SessionResumptionConfig        `ignored:"true"`
	ContextWindowCompression *genai.ContextWindowCompressionConfig `ignored:"true"`
	// CustomMetadata is attached to every model response of the run.
	CustomMetadata map[string]any `ignored:"true"`
}

// NewRunConfig returns a RunConfig with defaults applied.
func NewRunConfig() *RunConfig {
	return &RunConfig{StreamingMode: StreamingModeNone, MaxLLMCalls: DefaultMaxLLMCalls}
}

// RunConfigFromEnv loads the scalar fields from environment variables named
// <PREFIX>_<FIELD>, e.g. AGENT_MAX_LLM_CALLS.
func RunConfigFromEnv(prefix string) (*RunConfig, error) {
	cfg := NewRunConfig()
	if err := envconfig.Process(prefix, cfg); err != nil {
		return nil, fmt.Errorf("load run config: %w", err)
	}
	switch cfg.StreamingMode {
	case StreamingModeNone, StreamingModeSSE, StreamingModeBidi:
	default:
		return nil, fmt.Errorf("load run config: unknown streaming mode %q", cfg.StreamingMode)
	}
	return cfg, nil
}

// ResumabilityConfig controls whether an invocation can pause on
// long-running tools and be resumed later.
type ResumabilityConfig struct {
	IsResumable bool
}
