package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func TestNewSession_SnapshotIsDetached(t *testing.T) {
	topics := []string{"travel"}
	cfg := SessionConfig{Room: "room1", Preferences: Preferences{FavoriteTopics: topics}}
	s := NewSession("s1", cfg, testNow)

	topics[0] = "changed"
	require.Equal(t, "travel", s.Config.Preferences.FavoriteTopics[0])
	require.Equal(t, testNow, s.CreatedAt)
}
