package domain

import "encoding/json"

type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

type EventKind string

const (
	KindTranscriptPartial EventKind = "transcript-partial"
	KindTranscriptFinal   EventKind = "transcript-final"
	KindSpeechStarted     EventKind = "speech-started"
	KindSpeechEnded       EventKind = "speech-ended"
)

// IsSpeech reports whether the kind is a speech lifecycle marker rather than text.
func (k EventKind) IsSpeech() bool {
	return k == KindSpeechStarted || k == KindSpeechEnded
}

// EventEnvelope is one canonical transcript or lifecycle occurrence of a session.
// Values are never mutated after construction.
type EventEnvelope struct {
	SessionID SessionID
	Role      Role
	Kind      EventKind
	Text      string
	IsFinal   bool
}

func Transcript(sid SessionID, role Role, text string, final bool) EventEnvelope {
	kind := KindTranscriptPartial
	if final {
		kind = KindTranscriptFinal
	}
	return EventEnvelope{SessionID: sid, Role: role, Kind: kind, Text: text, IsFinal: final}
}

func SpeechMarker(sid SessionID, role Role, kind EventKind) EventEnvelope {
	return EventEnvelope{SessionID: sid, Role: role, Kind: kind, IsFinal: true}
}

type envelopeJSON struct {
	SessionID SessionID `json:"session_id"`
	Role      Role      `json:"role"`
	Kind      EventKind `json:"kind"`
	Text      string    `json:"text,omitempty"`
	Event     EventKind `json:"event,omitempty"`
	IsFinal   bool      `json:"is_final"`
}

// MarshalJSON writes the wire shape shared by transcript clients and the
// persistence service. Speech markers repeat their hyphenated kind under
// "event".
func (e EventEnvelope) MarshalJSON() ([]byte, error) {
	out := envelopeJSON{
		SessionID: e.SessionID,
		Role:      e.Role,
		Kind:      e.Kind,
		Text:      e.Text,
		IsFinal:   e.IsFinal,
	}
	if e.Kind.IsSpeech() {
		out.Event = e.Kind
	}
	return json.Marshal(out)
}

func (e *EventEnvelope) UnmarshalJSON(data []byte) error {
	var in envelopeJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*e = EventEnvelope{
		SessionID: in.SessionID,
		Role:      in.Role,
		Kind:      in.Kind,
		Text:      in.Text,
		IsFinal:   in.IsFinal,
	}
	if e.Kind == "" {
		e.Kind = in.Event
	}
	return nil
}
