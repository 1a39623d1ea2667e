package app

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/dkeye/voice-agent/internal/app/worker"
	"github.com/dkeye/voice-agent/internal/domain"
	"github.com/rs/zerolog/log"
)

var ErrDuplicateSession = errors.New("session already registered")

// Handle is the registry entry of one live session.
type Handle struct {
	*worker.Worker
	claimed atomic.Bool
}

func NewHandle(w *worker.Worker) *Handle {
	return &Handle{Worker: w}
}

func (h *Handle) ID() domain.SessionID { return h.Session().ID }

// Claim marks the handle as being stopped. Only the first caller gets true.
func (h *Handle) Claim() bool { return h.claimed.CompareAndSwap(false, true) }

func (h *Handle) Claimed() bool { return h.claimed.Load() }

type Registry struct {
	mu       sync.RWMutex
	sessions map[domain.SessionID]*Handle
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[domain.SessionID]*Handle)}
}

func (r *Registry) Register(h *Handle) error {
	sid := h.ID()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[sid]; ok {
		return ErrDuplicateSession
	}
	r.sessions[sid] = h
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("registered session")
	return nil
}

func (r *Registry) Lookup(sid domain.SessionID) (*Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.sessions[sid]
	return h, ok
}

func (r *Registry) Unregister(sid domain.SessionID) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.sessions[sid]
	if ok {
		delete(r.sessions, sid)
		log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("unregistered session")
	}
	return h, ok
}

// Release removes sid only while it still maps to h.
func (r *Registry) Release(sid domain.SessionID, h *Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[sid]; !ok || cur != h {
		return false
	}
	delete(r.sessions, sid)
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("released session")
	return true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) IDs() []domain.SessionID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.SessionID, 0, len(r.sessions))
	for sid := range r.sessions {
		out = append(out, sid)
	}
	return out
}

// Snapshot returns the current handles. The slice is the caller's.
func (r *Registry) Snapshot() []*Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Handle, 0, len(r.sessions))
	for _, h := range r.sessions {
		out = append(out, h)
	}
	return out
}
