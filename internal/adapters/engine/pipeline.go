package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/dkeye/voice-agent/internal/core"
	"github.com/dkeye/voice-agent/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// Pipeline runs one session's conversation: inbound audio goes to the
// recognizer, every completed user turn is answered by the chat model and the
// answer is spoken back into the room.
type Pipeline struct {
	sess      domain.Session
	stt       Transcriber
	chat      Chat
	tts       Speaker
	voice     string
	language  string
	minSpeech float64
	greet     bool
	logger    zerolog.Logger

	mu      sync.Mutex
	stream  TranscriptStream
	history []Message
}

func (p *Pipeline) Run(ctx context.Context, media core.MediaConnection, emit core.SignalHandler) error {
	stream, err := p.stt.Open(ctx, p.language)
	if err != nil {
		return fmt.Errorf("open stt: %w", err)
	}
	p.mu.Lock()
	p.stream = stream
	p.mu.Unlock()
	p.logger.Info().Str("voice", p.voice).Str("language", p.language).Msg("pipeline running")

	turns := make(chan string, 1)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.pumpAudio(gctx, media, stream) })
	g.Go(func() error { return p.listen(gctx, stream, emit, turns) })
	g.Go(func() error { return p.converse(gctx, media, emit, turns) })
	err = g.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// Close ends the recognizer stream. Safe to call more than once.
func (p *Pipeline) Close(context.Context) error {
	p.mu.Lock()
	stream := p.stream
	p.mu.Unlock()
	if stream == nil {
		return nil
	}
	return stream.Close()
}

func (p *Pipeline) pumpAudio(ctx context.Context, media core.MediaConnection, stream TranscriptStream) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case frame, ok := <-media.Inbound():
			if !ok {
				return nil
			}
			if err := stream.SendAudio(frame); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("stt send: %w", err)
			}
		}
	}
}

func (p *Pipeline) listen(ctx context.Context, stream TranscriptStream, emit core.SignalHandler, turns chan string) error {
	var pending []string
	speaking := false
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-stream.Events():
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return ErrStreamClosed
			}
			switch ev.Kind {
			case TranscriptSpeechStarted:
				speaking = true
				emit(core.Signal{Kind: core.SignalUserSpeechStarted})
			case TranscriptInterim:
				speaking = true
				emit(core.Signal{Kind: core.SignalUserInputTranscribed, Transcript: ev.Text})
			case TranscriptFinal:
				if p.minSpeech > 0 && ev.Duration > 0 && ev.Duration < p.minSpeech {
					continue
				}
				speaking = true
				pending = append(pending, ev.Text)
				emit(core.Signal{Kind: core.SignalUserInputTranscribed, Transcript: ev.Text, IsFinal: true})
			case TranscriptUtteranceEnd:
				if speaking {
					speaking = false
					emit(core.Signal{Kind: core.SignalUserSpeechEnded})
				}
				if len(pending) == 0 {
					continue
				}
				text := strings.Join(pending, " ")
				pending = nil
				// A turn still waiting for the responder is merged with this one.
				select {
				case prev := <-turns:
					text = prev + " " + text
				default:
				}
				turns <- text
			}
		}
	}
}

func (p *Pipeline) converse(ctx context.Context, media core.MediaConnection, emit core.SignalHandler, turns <-chan string) error {
	if p.greet {
		p.reply(ctx, media, emit, "")
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case text := <-turns:
			p.reply(ctx, media, emit, text)
		}
	}
}

// reply answers userText, or greets when it is empty. Engine failures are
// logged and the turn is skipped.
func (p *Pipeline) reply(ctx context.Context, media core.MediaConnection, emit core.SignalHandler, userText string) {
	ctx, span := tracer.Start(ctx, "generate response")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", string(p.sess.ID)), attribute.Bool("greeting", userText == ""))

	p.mu.Lock()
	if userText != "" {
		p.history = append(p.history, Message{Role: core.ItemRoleUser, Content: userText})
	}
	messages := make([]Message, 0, len(p.history)+1)
	messages = append(messages, Message{Role: core.ItemRoleSystem, Content: p.sess.Config.Instructions})
	messages = append(messages, p.history...)
	p.mu.Unlock()

	if userText != "" {
		emit(core.Signal{Kind: core.SignalConversationItem, ItemRole: core.ItemRoleUser, ItemText: userText})
	}

	text, err := p.chat.Complete(ctx, messages)
	if err != nil {
		if ctx.Err() == nil {
			span.RecordError(err)
			p.logger.Warn().Err(err).Msg("llm failed, skipping turn")
		}
		return
	}
	if text == "" {
		return
	}

	p.mu.Lock()
	p.history = append(p.history, Message{Role: core.ItemRoleAssistant, Content: text})
	p.mu.Unlock()
	emit(core.Signal{Kind: core.SignalConversationItem, ItemRole: core.ItemRoleAssistant, ItemText: text})

	audio, err := p.tts.Speak(ctx, text, p.voice)
	if err != nil {
		if ctx.Err() == nil {
			span.RecordError(err)
			p.logger.Warn().Err(err).Msg("tts failed")
		}
		return
	}
	defer audio.Close()

	emit(core.Signal{Kind: core.SignalAgentSpeechStarted})
	if err := media.PlayAudio(ctx, audio); err != nil && ctx.Err() == nil && !errors.Is(err, context.Canceled) {
		p.logger.Warn().Err(err).Msg("playback failed")
	}
	emit(core.Signal{Kind: core.SignalAgentSpeechEnded})
}

// History returns a copy of the conversation so far.
func (p *Pipeline) History() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Message(nil), p.history...)
}

func newPipelineLogger(sess domain.Session) zerolog.Logger {
	return log.With().
		Str("module", "engine").
		Str("sid", string(sess.ID)).
		Logger()
}
