package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenAI_Complete(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, chatCompletionsPath, r.URL.Path)
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "text/event-stream")
		for _, part := range []string{"Hello", " there", "!"} {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", part)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	client := NewOpenAI(OpenAIOptions{BaseURL: srv.URL + "/", APIKey: "sk-test", HTTPClient: srv.Client()})
	reply, err := client.Complete(context.Background(), []Message{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "hi"},
	})
	require.NoError(t, err)
	require.Equal(t, "Hello there!", reply)
	require.True(t, got.Stream)
	require.Equal(t, "gpt-4o-mini", got.Model)
	require.Len(t, got.Messages, 2)
}

func TestOpenAI_CompleteError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"bad key"}}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := NewOpenAI(OpenAIOptions{BaseURL: srv.URL, APIKey: "nope", HTTPClient: srv.Client()})
	_, err := client.Complete(context.Background(), []Message{{Role: "user", Content: "hi"}})
	require.ErrorContains(t, err, "401")
	require.ErrorContains(t, err, "bad key")
}

func TestOpenAI_Speak(t *testing.T) {
	var got speechRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, speechPath, r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "audio/ogg")
		_, _ = w.Write([]byte("OggS-audio"))
	}))
	defer srv.Close()

	client := NewOpenAI(OpenAIOptions{BaseURL: srv.URL, APIKey: "sk", HTTPClient: srv.Client()})
	audio, err := client.Speak(context.Background(), "Hello", "nova")
	require.NoError(t, err)
	defer audio.Close()

	b, err := io.ReadAll(audio)
	require.NoError(t, err)
	require.Equal(t, "OggS-audio", string(b))
	require.Equal(t, speechRequest{Model: "tts-1", Input: "Hello", Voice: "nova", ResponseFormat: "opus"}, got)
}
