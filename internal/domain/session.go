// Package domain contains entities without logic, just meta-data
package domain

import (
	"errors"
	"time"
)

var (
	ErrRoomEmpty   = errors.New("room empty")
	ErrRoomTooLong = errors.New("room name too long")
)

type SessionID string

// SessionConfig is what a caller asks for when starting a session.
type SessionConfig struct {
	Room         RoomName
	Instructions string
	UserID       UserID
	Preferences  Preferences
}

func (c SessionConfig) Validate() error {
	if c.Room == "" {
		return ErrRoomEmpty
	}
	if len(c.Room) > MaxRoomNameLen {
		return ErrRoomTooLong
	}
	return nil
}

// Session is the immutable snapshot taken at start.
type Session struct {
	ID        SessionID
	Config    SessionConfig
	CreatedAt time.Time
}

func NewSession(id SessionID, cfg SessionConfig, now time.Time) Session {
	cfg.Preferences.FavoriteTopics = append([]string(nil), cfg.Preferences.FavoriteTopics...)
	return Session{ID: id, Config: cfg, CreatedAt: now}
}

// SessionMeta is the session header sent along with persisted events.
type SessionMeta struct {
	ID           SessionID `json:"id"`
	Room         RoomName  `json:"room"`
	SystemPrompt string    `json:"system_prompt"`
	UserID       *UserID   `json:"user_id"`
}

func (s Session) Meta() SessionMeta {
	m := SessionMeta{
		ID:           s.ID,
		Room:         s.Config.Room,
		SystemPrompt: s.Config.Instructions,
	}
	if s.Config.UserID != "" {
		uid := s.Config.UserID
		m.UserID = &uid
	}
	return m
}
