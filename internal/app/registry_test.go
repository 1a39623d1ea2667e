package app

import (
	"sync"
	"testing"
	"time"

	"github.com/dkeye/voice-agent/internal/app/worker"
	"github.com/dkeye/voice-agent/internal/core/coretest"
	"github.com/dkeye/voice-agent/internal/domain"
	"github.com/stretchr/testify/require"
)

func newTestHandle(sid domain.SessionID) *Handle {
	sess := domain.NewSession(sid, domain.SessionConfig{Room: "lobby"}, time.Now())
	w := worker.New(sess, coretest.NewMedia(), coretest.NewPipeline(), func(domain.EventEnvelope) {})
	return NewHandle(w)
}

func TestRegistry_RegisterLookup(t *testing.T) {
	r := NewRegistry()
	h := newTestHandle("a")

	require.NoError(t, r.Register(h))
	require.ErrorIs(t, r.Register(newTestHandle("a")), ErrDuplicateSession)

	got, ok := r.Lookup("a")
	require.True(t, ok)
	require.Same(t, h, got)

	_, ok = r.Lookup("b")
	require.False(t, ok)
	require.Equal(t, 1, r.Len())
	require.Equal(t, []domain.SessionID{"a"}, r.IDs())
}

func TestRegistry_Unregister(t *testing.T) {
	r := NewRegistry()
	h := newTestHandle("a")
	require.NoError(t, r.Register(h))

	got, ok := r.Unregister("a")
	require.True(t, ok)
	require.Same(t, h, got)

	_, ok = r.Unregister("a")
	require.False(t, ok)
	require.Zero(t, r.Len())
}

func TestRegistry_ReleaseOnlyMatchingHandle(t *testing.T) {
	r := NewRegistry()
	old := newTestHandle("a")
	require.NoError(t, r.Register(old))
	_, _ = r.Unregister("a")

	fresh := newTestHandle("a")
	require.NoError(t, r.Register(fresh))

	require.False(t, r.Release("a", old))
	require.True(t, r.Release("a", fresh))
	require.False(t, r.Release("a", fresh))
	require.Zero(t, r.Len())
}

func TestHandle_ClaimOnce(t *testing.T) {
	h := newTestHandle("a")

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if h.Claim() {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, wins)
}

func TestConfigError(t *testing.T) {
	err := &ConfigError{Missing: []string{"livekit.url", "openai.api_key"}}
	require.ErrorIs(t, err, ErrConfig)
	require.EqualError(t, err, "configuration error: missing livekit.url, openai.api_key")

	var ce *ConfigError
	require.ErrorAs(t, error(err), &ce)
	require.Len(t, ce.Missing, 2)
}
