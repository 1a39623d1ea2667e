package app

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/dkeye/voice-agent/internal/core"
	"github.com/dkeye/voice-agent/internal/domain"
	"github.com/dkeye/voice-agent/internal/metrics"
	"github.com/rs/zerolog/log"
)

var ErrUnknownSession = errors.New("unknown session")

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	id  uint64
	sid domain.SessionID
	sub core.Subscriber
}

func (s *Subscription) SessionID() domain.SessionID { return s.sid }

type subscriberSet struct {
	mu     sync.Mutex
	meta   domain.SessionMeta
	subs   map[uint64]*Subscription
	closed bool
}

// EventRouter keeps one subscriber set per open session and fans envelopes out
// to it. Every published envelope is also forwarded to the persistence sink.
type EventRouter struct {
	mu       sync.RWMutex
	sessions map[domain.SessionID]*subscriberSet

	sink    core.PersistenceSink
	metrics *metrics.Metrics
	nextID  atomic.Uint64
}

func NewEventRouter(sink core.PersistenceSink, m *metrics.Metrics) *EventRouter {
	if m == nil {
		m = metrics.Nop()
	}
	return &EventRouter{
		sessions: make(map[domain.SessionID]*subscriberSet),
		sink:     sink,
		metrics:  m,
	}
}

// Open makes a session subscribable. meta is attached to persisted events.
func (r *EventRouter) Open(meta domain.SessionMeta) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[meta.ID]; ok {
		return
	}
	r.sessions[meta.ID] = &subscriberSet{
		meta: meta,
		subs: make(map[uint64]*Subscription),
	}
	log.Debug().Str("module", "app.router").Str("sid", string(meta.ID)).Msg("session opened")
}

func (r *EventRouter) set(sid domain.SessionID) (*subscriberSet, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set, ok := r.sessions[sid]
	return set, ok
}

func (r *EventRouter) Subscribe(sid domain.SessionID, sub core.Subscriber) (*Subscription, error) {
	set, ok := r.set(sid)
	if !ok {
		return nil, ErrUnknownSession
	}
	set.mu.Lock()
	defer set.mu.Unlock()
	if set.closed {
		return nil, ErrUnknownSession
	}
	s := &Subscription{id: r.nextID.Add(1), sid: sid, sub: sub}
	set.subs[s.id] = s
	r.metrics.Subscribers.Inc()
	log.Info().Str("module", "app.router").Str("sid", string(sid)).Int("subscribers", len(set.subs)).Msg("subscribed")
	return s, nil
}

func (r *EventRouter) Unsubscribe(s *Subscription) {
	if s == nil {
		return
	}
	if r.remove(s) {
		log.Info().Str("module", "app.router").Str("sid", string(s.sid)).Msg("unsubscribed")
	}
}

func (r *EventRouter) remove(s *Subscription) bool {
	set, ok := r.set(s.sid)
	if !ok {
		return false
	}
	set.mu.Lock()
	defer set.mu.Unlock()
	if cur, ok := set.subs[s.id]; !ok || cur != s {
		return false
	}
	delete(set.subs, s.id)
	r.metrics.Subscribers.Dec()
	return true
}

// Publish delivers env to the subscribers present at call time, evicting the
// ones whose delivery fails, then forwards env to persistence as a detached
// task. It never fails, including for unknown sessions.
func (r *EventRouter) Publish(sid domain.SessionID, env domain.EventEnvelope) {
	meta := domain.SessionMeta{ID: sid}
	var snapshot []*Subscription
	if set, ok := r.set(sid); ok {
		set.mu.Lock()
		meta = set.meta
		snapshot = make([]*Subscription, 0, len(set.subs))
		for _, s := range set.subs {
			snapshot = append(snapshot, s)
		}
		set.mu.Unlock()
	}
	r.metrics.EventsPublished.WithLabelValues(string(env.Kind)).Inc()

	// Delivery happens outside the set lock.
	for _, s := range snapshot {
		if err := s.sub.Deliver(env); err != nil {
			log.Warn().
				Err(err).
				Str("module", "app.router").
				Str("sid", string(sid)).
				Msg("delivery failed, evicting subscriber")
			if r.remove(s) {
				r.metrics.SubscriberEvictions.Inc()
				s.sub.Close()
			}
		}
	}

	r.forward(meta, env)
}

func (r *EventRouter) forward(meta domain.SessionMeta, env domain.EventEnvelope) {
	if r.sink == nil {
		return
	}
	Detach("persistence.forward", func(ctx context.Context) error {
		return r.sink.Forward(ctx, meta, env)
	})
}

// CloseSession drops the session's subscriber set and closes every subscriber,
// ending their streams. Later publishes for sid reach no subscriber.
func (r *EventRouter) CloseSession(sid domain.SessionID) {
	r.mu.Lock()
	set, ok := r.sessions[sid]
	delete(r.sessions, sid)
	r.mu.Unlock()
	if !ok {
		return
	}

	set.mu.Lock()
	set.closed = true
	subs := set.subs
	set.subs = nil
	set.mu.Unlock()

	for _, s := range subs {
		r.metrics.Subscribers.Dec()
		s.sub.Close()
	}
	log.Info().Str("module", "app.router").Str("sid", string(sid)).Int("closed_subscribers", len(subs)).Msg("session closed")
}

func (r *EventRouter) SubscriberCount(sid domain.SessionID) int {
	set, ok := r.set(sid)
	if !ok {
		return 0
	}
	set.mu.Lock()
	defer set.mu.Unlock()
	return len(set.subs)
}
