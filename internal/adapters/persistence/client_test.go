package persistence

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dkeye/voice-agent/internal/domain"
	"github.com/dkeye/voice-agent/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

type ingestBody struct {
	Session map[string]any   `json:"session"`
	Events  []map[string]any `json:"events"`
}

func TestForward(t *testing.T) {
	bodies := make(chan ingestBody, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != ingestPath || r.Header.Get(tokenHeader) != "secret" {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		var b ingestBody
		if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		bodies <- b
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := metrics.New(prometheus.NewRegistry())
	c := New(Options{BaseURL: srv.URL + "/", Token: "secret", Metrics: m})
	require.True(t, c.Configured())

	uid := domain.UserID("u-1")
	meta := domain.SessionMeta{ID: "s1", Room: "lobby", SystemPrompt: "be brief", UserID: &uid}
	env := domain.Transcript("s1", domain.RoleUser, "hello", true)
	require.NoError(t, c.Forward(context.Background(), meta, env))

	got := <-bodies
	require.Equal(t, "s1", got.Session["id"])
	require.Equal(t, "lobby", got.Session["room"])
	require.Equal(t, "u-1", got.Session["user_id"])
	require.Len(t, got.Events, 1)
	require.Equal(t, "user", got.Events[0]["role"])
	require.Equal(t, "hello", got.Events[0]["text"])
	require.Equal(t, true, got.Events[0]["is_final"])

	stats := c.Stats()
	require.True(t, stats.Configured)
	require.Equal(t, 1, stats.EventCount)
	require.Equal(t, []string{"s1"}, stats.SessionIDs)
	require.NotNil(t, stats.LastIngestTS)
	require.InDelta(t, float64(time.Now().Unix()), *stats.LastIngestTS, 5)
	require.Equal(t, float64(1), testutil.ToFloat64(m.PersistenceForwards.WithLabelValues("ok")))
}

func TestForward_AnonymousSessionSendsNullUser(t *testing.T) {
	bodies := make(chan ingestBody, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var b ingestBody
		_ = json.NewDecoder(r.Body).Decode(&b)
		bodies <- b
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL, Token: "t"})
	marker := domain.SpeechMarker("s2", domain.RoleAgent, domain.KindSpeechStarted)
	require.NoError(t, c.Forward(context.Background(), domain.SessionMeta{ID: "s2", Room: "r"}, marker))

	got := <-bodies
	v, ok := got.Session["user_id"]
	require.True(t, ok)
	require.Nil(t, v)
	require.Equal(t, "speech-started", got.Events[0]["event"])
}

func TestForward_Failures(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		c := New(Options{BaseURL: "http://persist"})
		require.ErrorIs(t, c.Forward(context.Background(), domain.SessionMeta{ID: "s"}), ErrNotConfigured)
		require.False(t, c.Stats().Configured)
	})

	t.Run("rejected", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", http.StatusInternalServerError)
		}))
		defer srv.Close()

		c := New(Options{BaseURL: srv.URL, Token: "t"})
		env := domain.Transcript("s1", domain.RoleUser, "hi", false)
		require.Error(t, c.Forward(context.Background(), domain.SessionMeta{ID: "s1"}, env))
		require.Zero(t, c.Stats().EventCount)
		require.Nil(t, c.Stats().LastIngestTS)
	})

	t.Run("timeout", func(t *testing.T) {
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer srv.Close()
		defer close(release)

		c := New(Options{BaseURL: srv.URL, Token: "t", Timeout: 50 * time.Millisecond})
		env := domain.Transcript("s1", domain.RoleUser, "hi", false)
		require.Error(t, c.Forward(context.Background(), domain.SessionMeta{ID: "s1"}, env))
	})
}
