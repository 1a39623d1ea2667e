package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
)

const (
	chatCompletionsPath = "/chat/completions"
	speechPath          = "/audio/speech"
	endMessage          = "[DONE]"
)

type OpenAIOptions struct {
	BaseURL  string
	APIKey   string
	Model    string
	TTSModel string
	// HTTPClient defaults to an instrumented client.
	HTTPClient *http.Client
}

// OpenAI implements Chat with streamed chat completions and Speaker with the
// speech endpoint.
type OpenAI struct {
	opts   OpenAIOptions
	client *http.Client
}

func NewOpenAI(opts OpenAIOptions) *OpenAI {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.openai.com/v1"
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.Model == "" {
		opts.Model = "gpt-4o-mini"
	}
	if opts.TTSModel == "" {
		opts.TTSModel = "tts-1"
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport,
			otelhttp.WithSpanNameFormatter(func(operationName string, request *http.Request) string {
				return operationName + " " + request.URL.Path
			}),
		)}
	}
	return &OpenAI{opts: opts, client: client}
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

func (o *OpenAI) post(ctx context.Context, path string, body any) (*http.Response, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("error marshalling JSON: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.opts.BaseURL+path, bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("error creating HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.opts.APIKey)

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error sending request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("non-OK HTTP status: %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}
	return resp, nil
}

// Complete streams a chat completion and returns the full reply.
func (o *OpenAI) Complete(ctx context.Context, messages []Message) (string, error) {
	ctx, span := tracer.Start(ctx, "generate llm")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", o.opts.Model), attribute.Int("llm.messages", len(messages)))

	resp, err := o.post(ctx, chatCompletionsPath, chatRequest{Model: o.opts.Model, Messages: messages, Stream: true})
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	defer resp.Body.Close()

	var reply strings.Builder
	scanner := newSSEScanner(resp.Body)
	for scanner.Scan() {
		data := scanner.Data()
		if data == endMessage {
			break
		}
		var chunk chatChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			err = fmt.Errorf("error unmarshalling JSON: %w", err)
			span.RecordError(err)
			return "", err
		}
		if len(chunk.Choices) > 0 {
			reply.WriteString(chunk.Choices[0].Delta.Content)
		}
	}
	if err := scanner.Err(); err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("error reading stream: %w", err)
	}
	return strings.TrimSpace(reply.String()), nil
}

type speechRequest struct {
	Model          string `json:"model"`
	Input          string `json:"input"`
	Voice          string `json:"voice"`
	ResponseFormat string `json:"response_format"`
}

// Speak returns the synthesized Ogg/Opus audio. The caller closes it.
func (o *OpenAI) Speak(ctx context.Context, text, voice string) (io.ReadCloser, error) {
	_, span := tracer.Start(ctx, "passing text to tts")
	defer span.End()
	span.SetAttributes(attribute.String("tts.voice", voice), attribute.Int("tts.chars", len(text)))

	resp, err := o.post(ctx, speechPath, speechRequest{
		Model:          o.opts.TTSModel,
		Input:          text,
		Voice:          voice,
		ResponseFormat: "opus",
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return resp.Body, nil
}
