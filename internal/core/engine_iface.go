package core

import (
	"context"

	"github.com/dkeye/voice-agent/internal/domain"
)

// SignalKind names a raw callback raised by the engine pipeline.
type SignalKind string

const (
	SignalUserInputTranscribed SignalKind = "user_input_transcribed"
	SignalConversationItem     SignalKind = "conversation_item_added"
	SignalAgentSpeechStarted   SignalKind = "agent_speech_started"
	SignalAgentSpeechEnded     SignalKind = "agent_speech_ended"
	SignalUserSpeechStarted    SignalKind = "user_speech_started"
	SignalUserSpeechEnded      SignalKind = "user_speech_ended"
)

// Conversation item roles as reported by the language model history.
const (
	ItemRoleAssistant = "assistant"
	ItemRoleUser      = "user"
	ItemRoleSystem    = "system"
)

// Signal is one raw engine callback. Only the fields relevant to Kind are set.
type Signal struct {
	Kind       SignalKind
	Transcript string
	IsFinal    bool
	ItemRole   string
	ItemText   string
}

// SignalHandler receives raw signals. Implementations must not block.
type SignalHandler func(Signal)

// Pipeline drives the speech engines (VAD, STT, LLM, TTS) of one session.
type Pipeline interface {
	// Run blocks until ctx is cancelled or the pipeline fails.
	Run(ctx context.Context, media MediaConnection, emit SignalHandler) error
	Close(ctx context.Context) error
}

// PipelineFactory builds a pipeline for a session. Errors mean the engine
// configuration is unusable.
type PipelineFactory interface {
	NewPipeline(sess domain.Session) (Pipeline, error)
}
