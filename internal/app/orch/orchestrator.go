// Package orch owns the session registry and implements the start and stop
// protocol around session workers.
package orch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dkeye/voice-agent/internal/app"
	"github.com/dkeye/voice-agent/internal/app/worker"
	"github.com/dkeye/voice-agent/internal/core"
	"github.com/dkeye/voice-agent/internal/domain"
	"github.com/dkeye/voice-agent/internal/metrics"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// CredentialChecker names the settings that are required but unset.
type CredentialChecker interface {
	MissingCredentials() []string
}

type Deps struct {
	Registry        *app.Registry
	Router          *app.EventRouter
	Media           core.MediaDialer
	Engines         core.PipelineFactory
	Credentials     CredentialChecker
	Metrics         *metrics.Metrics
	TeardownTimeout time.Duration
}

// SessionInfo is a copy of a live session's public state.
type SessionInfo struct {
	ID        domain.SessionID `json:"session_id"`
	Room      domain.RoomName  `json:"room"`
	UserID    domain.UserID    `json:"user_id,omitempty"`
	State     string           `json:"state"`
	CreatedAt time.Time        `json:"created_at"`
}

type Orchestrator struct {
	ctx      context.Context
	registry *app.Registry
	router   *app.EventRouter
	media    core.MediaDialer
	engines  core.PipelineFactory
	creds    CredentialChecker
	metrics  *metrics.Metrics

	teardownTimeout time.Duration
	now             func() time.Time
}

// New builds an orchestrator whose workers live under ctx.
func New(ctx context.Context, d Deps) *Orchestrator {
	o := &Orchestrator{
		ctx:             ctx,
		registry:        d.Registry,
		router:          d.Router,
		media:           d.Media,
		engines:         d.Engines,
		creds:           d.Credentials,
		metrics:         d.Metrics,
		teardownTimeout: d.TeardownTimeout,
		now:             time.Now,
	}
	if o.registry == nil {
		o.registry = app.NewRegistry()
	}
	if o.metrics == nil {
		o.metrics = metrics.Nop()
	}
	if o.router == nil {
		o.router = app.NewEventRouter(nil, o.metrics)
	}
	return o
}

func (o *Orchestrator) Router() *app.EventRouter { return o.router }

// Start launches a session for cfg and returns its id without waiting for the
// room join.
func (o *Orchestrator) Start(ctx context.Context, cfg domain.SessionConfig) (domain.SessionID, error) {
	_, span := tracer.Start(ctx, "orchestrator.start")
	defer span.End()
	span.SetAttributes(attribute.String("session.room", string(cfg.Room)))

	sid, err := o.start(cfg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.metrics.StartFailures.WithLabelValues(failureKind(err)).Inc()
		log.Warn().Err(err).Str("module", "orch").Str("room", string(cfg.Room)).Msg("start failed")
		return "", err
	}
	span.SetAttributes(attribute.String("session.id", string(sid)))
	return sid, nil
}

func (o *Orchestrator) start(cfg domain.SessionConfig) (domain.SessionID, error) {
	if err := cfg.Validate(); err != nil {
		return "", err
	}
	if o.creds != nil {
		if missing := o.creds.MissingCredentials(); len(missing) > 0 {
			return "", &app.ConfigError{Missing: missing}
		}
	}

	sess := domain.NewSession(domain.SessionID(uuid.NewString()), cfg, o.now())
	media, err := o.media.Dial(sess)
	if err != nil {
		return "", fmt.Errorf("%w: %w", app.ErrConnection, err)
	}
	pipeline, err := o.engines.NewPipeline(sess)
	if err != nil {
		_ = media.Close()
		var ce *app.ConfigError
		if errors.As(err, &ce) {
			return "", err
		}
		return "", &app.ConfigError{Err: err}
	}

	o.router.Open(sess.Meta())

	var h *app.Handle
	w := worker.New(sess, media, pipeline,
		func(env domain.EventEnvelope) { o.router.Publish(sess.ID, env) },
		worker.WithTeardownTimeout(o.teardownTimeout),
		worker.WithMetrics(o.metrics),
		worker.WithExitHook(func(err error) { o.release(h, endReason(h, err)) }),
	)
	h = app.NewHandle(w)
	if err := o.registry.Register(h); err != nil {
		o.router.CloseSession(sess.ID)
		_ = pipeline.Close(context.Background())
		_ = media.Close()
		return "", err
	}
	o.metrics.SessionsStarted.Inc()
	o.metrics.ActiveSessions.Inc()
	w.Start(o.ctx)

	log.Info().Str("module", "orch").Str("sid", string(sess.ID)).Str("room", string(cfg.Room)).Msg("session started")
	return sess.ID, nil
}

// Stop cancels the session and waits for its teardown, which the worker bounds
// by its teardown timeout. The wait outlives ctx so the id never disappears
// before the session's media and pipeline are closed. It returns false when id
// is unknown or another Stop already claimed it.
func (o *Orchestrator) Stop(ctx context.Context, sid domain.SessionID) bool {
	h, ok := o.registry.Lookup(sid)
	if !ok || !h.Claim() {
		return false
	}
	_, span := tracer.Start(ctx, "orchestrator.stop")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", string(sid)))

	h.Cancel()
	<-h.Done()
	o.release(h, "stopped")
	log.Info().Str("module", "orch").Str("sid", string(sid)).Msg("session stopped")
	return true
}

// release runs once per handle, whichever of Stop and the worker's exit gets
// there first.
func (o *Orchestrator) release(h *app.Handle, reason string) {
	sid := h.ID()
	if !o.registry.Release(sid, h) {
		return
	}
	o.router.CloseSession(sid)
	o.metrics.ActiveSessions.Dec()
	o.metrics.SessionsEnded.WithLabelValues(reason).Inc()
}

func (o *Orchestrator) Lookup(sid domain.SessionID) bool {
	_, ok := o.registry.Lookup(sid)
	return ok
}

func (o *Orchestrator) Count() int { return o.registry.Len() }

// Sessions lists the live sessions, oldest first.
func (o *Orchestrator) Sessions() []SessionInfo {
	handles := o.registry.Snapshot()
	out := make([]SessionInfo, 0, len(handles))
	for _, h := range handles {
		sess := h.Session()
		out = append(out, SessionInfo{
			ID:        sess.ID,
			Room:      sess.Config.Room,
			UserID:    sess.Config.UserID,
			State:     h.State().String(),
			CreatedAt: sess.CreatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Shutdown stops every live session concurrently.
func (o *Orchestrator) Shutdown(ctx context.Context) {
	ids := o.registry.IDs()
	if len(ids) == 0 {
		return
	}
	log.Info().Str("module", "orch").Int("sessions", len(ids)).Msg("stopping all sessions")
	var wg conc.WaitGroup
	for _, sid := range ids {
		wg.Go(func() { o.Stop(ctx, sid) })
	}
	wg.Wait()
}

func endReason(h *app.Handle, err error) string {
	switch {
	case h.Claimed():
		return "stopped"
	case err != nil:
		return "failed"
	default:
		return "closed"
	}
}

func failureKind(err error) string {
	switch {
	case errors.Is(err, app.ErrConfig):
		return "config"
	case errors.Is(err, app.ErrConnection):
		return "connection"
	default:
		return "invalid"
	}
}
