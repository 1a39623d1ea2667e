package worker

import (
	"testing"

	"github.com/dkeye/voice-agent/internal/core"
	"github.com/dkeye/voice-agent/internal/domain"
	"github.com/stretchr/testify/require"
)

func TestTranslate(t *testing.T) {
	const sid = domain.SessionID("s1")

	tests := []struct {
		name string
		sig  core.Signal
		want domain.EventEnvelope
		ok   bool
	}{
		{
			name: "final user transcript",
			sig:  core.Signal{Kind: core.SignalUserInputTranscribed, Transcript: "hello", IsFinal: true},
			want: domain.EventEnvelope{SessionID: sid, Role: domain.RoleUser, Kind: domain.KindTranscriptFinal, Text: "hello", IsFinal: true},
			ok:   true,
		},
		{
			name: "partial user transcript",
			sig:  core.Signal{Kind: core.SignalUserInputTranscribed, Transcript: "hel"},
			want: domain.EventEnvelope{SessionID: sid, Role: domain.RoleUser, Kind: domain.KindTranscriptPartial, Text: "hel"},
			ok:   true,
		},
		{
			name: "empty user transcript",
			sig:  core.Signal{Kind: core.SignalUserInputTranscribed, IsFinal: true},
		},
		{
			name: "assistant item",
			sig:  core.Signal{Kind: core.SignalConversationItem, ItemRole: core.ItemRoleAssistant, ItemText: "Hi there"},
			want: domain.EventEnvelope{SessionID: sid, Role: domain.RoleAgent, Kind: domain.KindTranscriptFinal, Text: "Hi there", IsFinal: true},
			ok:   true,
		},
		{
			name: "user item",
			sig:  core.Signal{Kind: core.SignalConversationItem, ItemRole: core.ItemRoleUser, ItemText: "hello"},
		},
		{
			name: "empty assistant item",
			sig:  core.Signal{Kind: core.SignalConversationItem, ItemRole: core.ItemRoleAssistant},
		},
		{
			name: "agent speech started",
			sig:  core.Signal{Kind: core.SignalAgentSpeechStarted},
			want: domain.EventEnvelope{SessionID: sid, Role: domain.RoleAgent, Kind: domain.KindSpeechStarted, IsFinal: true},
			ok:   true,
		},
		{
			name: "agent speech ended",
			sig:  core.Signal{Kind: core.SignalAgentSpeechEnded},
			want: domain.EventEnvelope{SessionID: sid, Role: domain.RoleAgent, Kind: domain.KindSpeechEnded, IsFinal: true},
			ok:   true,
		},
		{
			name: "user speech started",
			sig:  core.Signal{Kind: core.SignalUserSpeechStarted},
			want: domain.EventEnvelope{SessionID: sid, Role: domain.RoleUser, Kind: domain.KindSpeechStarted, IsFinal: true},
			ok:   true,
		},
		{
			name: "user speech ended",
			sig:  core.Signal{Kind: core.SignalUserSpeechEnded},
			want: domain.EventEnvelope{SessionID: sid, Role: domain.RoleUser, Kind: domain.KindSpeechEnded, IsFinal: true},
			ok:   true,
		},
		{
			name: "unknown kind",
			sig:  core.Signal{Kind: "metrics_collected"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Translate(sid, tt.sig)
			require.Equal(t, tt.ok, ok)
			require.Equal(t, tt.want, got)
		})
	}
}
