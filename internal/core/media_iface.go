package core

import (
	"context"
	"io"

	"github.com/dkeye/voice-agent/internal/domain"
)

// Frame is a raw binary payload (e.g., an Opus packet).
type Frame []byte

// MediaConnection is a session's link to its remote media room.
// It is owned by the session worker; the worker must Close() it.
type MediaConnection interface {
	// Connect joins the room and returns once joined. It must return promptly
	// when ctx is cancelled.
	Connect(ctx context.Context) error
	// Done is closed when the room connection is lost or closed.
	Done() <-chan struct{}
	// Inbound delivers audio frames published by the remote participants.
	Inbound() <-chan Frame
	// PlayAudio streams an Ogg/Opus payload into the room and returns when it
	// finished playing or ctx is done.
	PlayAudio(ctx context.Context, r io.Reader) error
	Close() error
}

// MediaDialer prepares a MediaConnection for a session without doing network I/O.
type MediaDialer interface {
	Dial(sess domain.Session) (MediaConnection, error)
}
