package worker

import (
	"github.com/dkeye/voice-agent/internal/core"
	"github.com/dkeye/voice-agent/internal/domain"
)

type translator func(sid domain.SessionID, sig core.Signal) (domain.EventEnvelope, bool)

// translations maps every raw signal kind the pipeline raises to the
// constructor of its canonical envelope. Kinds missing here are dropped.
var translations = map[core.SignalKind]translator{
	core.SignalUserInputTranscribed: userTranscript,
	core.SignalConversationItem:     conversationItem,
	core.SignalAgentSpeechStarted:   marker(domain.RoleAgent, domain.KindSpeechStarted),
	core.SignalAgentSpeechEnded:     marker(domain.RoleAgent, domain.KindSpeechEnded),
	core.SignalUserSpeechStarted:    marker(domain.RoleUser, domain.KindSpeechStarted),
	core.SignalUserSpeechEnded:      marker(domain.RoleUser, domain.KindSpeechEnded),
}

// Translate converts a raw signal into its envelope. ok is false when the
// signal produces no event.
func Translate(sid domain.SessionID, sig core.Signal) (domain.EventEnvelope, bool) {
	t, ok := translations[sig.Kind]
	if !ok {
		return domain.EventEnvelope{}, false
	}
	return t(sid, sig)
}

func userTranscript(sid domain.SessionID, sig core.Signal) (domain.EventEnvelope, bool) {
	if sig.Transcript == "" {
		return domain.EventEnvelope{}, false
	}
	return domain.Transcript(sid, domain.RoleUser, sig.Transcript, sig.IsFinal), true
}

func conversationItem(sid domain.SessionID, sig core.Signal) (domain.EventEnvelope, bool) {
	if sig.ItemRole != core.ItemRoleAssistant || sig.ItemText == "" {
		return domain.EventEnvelope{}, false
	}
	return domain.Transcript(sid, domain.RoleAgent, sig.ItemText, true), true
}

func marker(role domain.Role, kind domain.EventKind) translator {
	return func(sid domain.SessionID, _ core.Signal) (domain.EventEnvelope, bool) {
		return domain.SpeechMarker(sid, role, kind), true
	}
}
