package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dkeye/voice-agent/internal/core"
	"github.com/dkeye/voice-agent/internal/domain"
)

var ErrUnsupportedProvider = errors.New("unsupported provider")

type Providers struct {
	STT string
	TTS string
	LLM string
}

type FactoryOptions struct {
	Providers Providers
	STT       Transcriber
	Chat      Chat
	TTS       Speaker
	// Voice and Language apply unless the user's preferences name their own.
	Voice    string
	Language string
	// MinSpeech drops final segments shorter than this many seconds.
	MinSpeech float64
	Greet     bool
}

// Factory builds a Pipeline per session from shared engine clients.
type Factory struct {
	opts FactoryOptions
}

func NewFactory(opts FactoryOptions) *Factory {
	return &Factory{opts: opts}
}

// Validate rejects provider selections this build cannot serve.
func (f *Factory) Validate() error {
	for _, c := range []struct{ kind, got, want string }{
		{"stt", f.opts.Providers.STT, "deepgram"},
		{"tts", f.opts.Providers.TTS, "openai"},
		{"llm", f.opts.Providers.LLM, "openai"},
	} {
		if !strings.EqualFold(c.got, c.want) {
			return fmt.Errorf("%w: %s provider %q", ErrUnsupportedProvider, c.kind, c.got)
		}
	}
	return nil
}

func (f *Factory) NewPipeline(sess domain.Session) (core.Pipeline, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	voice := f.opts.Voice
	if v := sess.Config.Preferences.PreferredVoice; v != "" {
		voice = v
	}
	language := f.opts.Language
	if l := sess.Config.Preferences.PreferredLanguage; l != "" {
		language = l
	}
	return &Pipeline{
		sess:      sess,
		stt:       f.opts.STT,
		chat:      f.opts.Chat,
		tts:       f.opts.TTS,
		voice:     voice,
		language:  language,
		minSpeech: f.opts.MinSpeech,
		greet:     f.opts.Greet,
		logger:    newPipelineLogger(sess),
	}, nil
}
