package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnvelopeJSON_SpeechMarkerCarriesEvent(t *testing.T) {
	env := SpeechMarker("s1", RoleAgent, KindSpeechStarted)
	b, err := json.Marshal(env)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(b, &raw))
	require.Equal(t, "agent", raw["role"])
	require.Equal(t, "speech-started", raw["event"])
	require.Equal(t, true, raw["is_final"])
	_, hasText := raw["text"]
	require.False(t, hasText)
}

func TestEnvelopeJSON_TranscriptHasNoEvent(t *testing.T) {
	b, err := json.Marshal(Transcript("s1", RoleUser, "hello", false))
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(b, &raw))
	require.Equal(t, "transcript-partial", raw["kind"])
	require.Equal(t, "hello", raw["text"])
	_, hasEvent := raw["event"]
	require.False(t, hasEvent)
}

func TestSessionMeta_AnonymousHasNullUser(t *testing.T) {
	s := NewSession("s1", SessionConfig{Room: "room1", Instructions: "be friendly"}, testNow)
	b, err := json.Marshal(s.Meta())
	require.NoError(t, err)
	require.JSONEq(t, `{"id":"s1","room":"room1","system_prompt":"be friendly","user_id":null}`, string(b))
}

func TestSessionConfig_Validate(t *testing.T) {
	require.ErrorIs(t, SessionConfig{}.Validate(), ErrRoomEmpty)
	long := make([]byte, MaxRoomNameLen+1)
	for i := range long {
		long[i] = 'a'
	}
	require.ErrorIs(t, SessionConfig{Room: RoomName(long)}.Validate(), ErrRoomTooLong)
	require.NoError(t, SessionConfig{Room: "room1"}.Validate())
}
