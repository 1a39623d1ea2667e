package domain

type UserID string

// Preferences are the per-user voice settings returned by the identity service.
type Preferences struct {
	PreferredVoice       string   `json:"preferred_voice"`
	PreferredLanguage    string   `json:"preferred_language"`
	FavoriteTopics       []string `json:"favorite_topics"`
	SystemPromptOverride string   `json:"system_prompt_override"`
}

// Identity is a validated caller. The zero value is the anonymous caller.
type Identity struct {
	UserID      UserID      `json:"user_id"`
	Email       string      `json:"email"`
	DisplayName string      `json:"display_name"`
	Preferences Preferences `json:"preferences"`
}

func (i Identity) Anonymous() bool { return i.UserID == "" }
