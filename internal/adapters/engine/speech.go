// Package engine implements the speech pipeline of a session: streaming
// speech recognition, a chat language model and speech synthesis.
package engine

import (
	"context"
	"io"
)

type TranscriptKind int

const (
	TranscriptSpeechStarted TranscriptKind = iota
	TranscriptInterim
	TranscriptFinal
	TranscriptUtteranceEnd
)

// TranscriptEvent is one result of a streaming recognizer. Duration is the
// length of the recognized segment in seconds.
type TranscriptEvent struct {
	Kind     TranscriptKind
	Text     string
	Duration float64
}

type Transcriber interface {
	Open(ctx context.Context, language string) (TranscriptStream, error)
}

// TranscriptStream accepts Opus frames and reports recognition results.
// Events is closed when the stream ends.
type TranscriptStream interface {
	SendAudio(frame []byte) error
	Events() <-chan TranscriptEvent
	Close() error
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Chat interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}

// Speaker synthesizes text into an Ogg/Opus stream.
type Speaker interface {
	Speak(ctx context.Context, text, voice string) (io.ReadCloser, error)
}
