package core

import (
	"context"

	"github.com/dkeye/voice-agent/internal/domain"
)

// Subscriber is a live sink for one session's envelopes.
// Owned by the transport adapter; Close ends its stream.
type Subscriber interface {
	// Deliver must not block; an error means the sink is broken.
	Deliver(domain.EventEnvelope) error
	Close()
}

// PersistenceSink receives a copy of every published envelope.
type PersistenceSink interface {
	Forward(ctx context.Context, meta domain.SessionMeta, events ...domain.EventEnvelope) error
}
