// Package worker runs one voice session end to end: it joins the session's
// media room, drives the engine pipeline, turns raw engine callbacks into
// canonical envelopes and tears everything down exactly once.
//
// Lifecycle: created → connecting → running → stopping → terminated. Any state
// moves to stopping on Cancel or on an unrecoverable fault; teardown (pipeline
// first, then media) runs on every exit path, including a cancellation that
// arrives while the room join is still in flight.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/voice-agent/internal/core"
	"github.com/dkeye/voice-agent/internal/domain"
	"github.com/dkeye/voice-agent/internal/metrics"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/panics"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

const DefaultTeardownTimeout = 10 * time.Second

var ErrRoomClosed = errors.New("room connection closed")

// Publisher receives the canonical envelopes of the worker's session.
type Publisher func(domain.EventEnvelope)

// ExitHook runs once after teardown with the fault that ended the worker, or
// nil when it was cancelled or the room closed normally.
type ExitHook func(err error)

type Option func(*Worker)

func WithTeardownTimeout(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.teardownTimeout = d
		}
	}
}

func WithExitHook(h ExitHook) Option {
	return func(w *Worker) { w.onExit = h }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Worker) {
		if m != nil {
			w.metrics = m
		}
	}
}

type Worker struct {
	session  domain.Session
	media    core.MediaConnection
	pipeline core.Pipeline
	publish  Publisher

	teardownTimeout time.Duration
	onExit          ExitHook
	metrics         *metrics.Metrics
	logger          zerolog.Logger

	state   atomic.Int32
	started atomic.Bool

	mu        sync.Mutex
	cancel    context.CancelFunc
	cancelled bool

	teardown sync.Once
	done     chan struct{}
	err      error
}

func New(sess domain.Session, media core.MediaConnection, pipeline core.Pipeline, publish Publisher, opts ...Option) *Worker {
	w := &Worker{
		session:         sess,
		media:           media,
		pipeline:        pipeline,
		publish:         publish,
		teardownTimeout: DefaultTeardownTimeout,
		done:            make(chan struct{}),
		logger: log.With().
			Str("module", "worker").
			Str("sid", string(sess.ID)).
			Str("room", string(sess.Config.Room)).
			Logger(),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.metrics == nil {
		w.metrics = metrics.Nop()
	}
	return w
}

func (w *Worker) Session() domain.Session { return w.session }

func (w *Worker) State() State { return State(w.state.Load()) }

// Done is closed once the worker reached the terminated state.
func (w *Worker) Done() <-chan struct{} { return w.done }

// Err reports the fault that ended the worker. Valid after Done is closed.
func (w *Worker) Err() error {
	select {
	case <-w.done:
		return w.err
	default:
		return nil
	}
}

// Start runs the worker on its own goroutine under a child of parent.
// Only the first call has an effect.
func (w *Worker) Start(parent context.Context) {
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	w.mu.Lock()
	w.cancel = cancel
	if w.cancelled {
		cancel()
	}
	w.mu.Unlock()

	go w.run(ctx)
}

// Cancel signals the worker to stop. It does not wait; use Done for that.
func (w *Worker) Cancel() {
	w.mu.Lock()
	w.cancelled = true
	cancel := w.cancel
	w.mu.Unlock()

	w.toStopping()
	if cancel != nil {
		cancel()
	}
}

func (w *Worker) toStopping() {
	for {
		cur := w.state.Load()
		if State(cur) >= StateStopping {
			return
		}
		if w.state.CompareAndSwap(cur, int32(StateStopping)) {
			return
		}
	}
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)
	ctx, span := tracer.Start(ctx, "worker.session")
	span.SetAttributes(
		attribute.String("session.id", string(w.session.ID)),
		attribute.String("session.room", string(w.session.Config.Room)),
	)
	defer span.End()

	var pc panics.Catcher
	var err error
	pc.Try(func() { err = w.serve(ctx) })
	if r := pc.Recovered(); r != nil {
		err = r.AsError()
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		w.logger.Error().Err(err).Msg("worker failed")
	}
	w.terminate(err)
}

func (w *Worker) serve(ctx context.Context) error {
	if !w.state.CompareAndSwap(int32(StateCreated), int32(StateConnecting)) {
		return nil
	}
	w.logger.Info().Msg("connecting to room")
	if err := w.media.Connect(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("join room: %w", err)
	}
	if !w.state.CompareAndSwap(int32(StateConnecting), int32(StateRunning)) {
		return nil
	}
	w.logger.Info().Msg("joined room")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		var pc panics.Catcher
		pc.Try(func() { err = w.pipeline.Run(gctx, w.media, w.Handle) })
		if r := pc.Recovered(); r != nil {
			return r.AsError()
		}
		return err
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case <-w.media.Done():
			return ErrRoomClosed
		}
	})
	err := g.Wait()
	switch {
	case ctx.Err() != nil:
		return nil
	case errors.Is(err, ErrRoomClosed):
		w.logger.Info().Msg("room closed")
		return nil
	}
	return err
}

func (w *Worker) terminate(err error) {
	w.teardown.Do(func() {
		w.toStopping()
		start := time.Now()

		ctx, cancel := context.WithTimeout(context.Background(), w.teardownTimeout)
		defer cancel()
		if perr := w.pipeline.Close(ctx); perr != nil {
			w.logger.Warn().Err(perr).Msg("pipeline close")
		}
		if merr := closeWithin(ctx, w.media.Close); merr != nil {
			w.logger.Warn().Err(merr).Msg("media close")
		}

		w.metrics.TeardownDuration.Observe(time.Since(start).Seconds())
		w.err = err
		w.state.Store(int32(StateTerminated))
		w.logger.Info().Dur("teardown", time.Since(start)).Msg("worker terminated")

		if w.onExit != nil {
			w.onExit(err)
		}
	})
}

// closeWithin runs closeFn and gives up waiting for it once ctx is done. An
// abandoned close keeps running on its own goroutine.
func closeWithin(ctx context.Context, closeFn func() error) error {
	errc := make(chan error, 1)
	go func() { errc <- closeFn() }()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return fmt.Errorf("abandoned after teardown timeout: %w", ctx.Err())
	}
}

// Handle translates one raw engine signal and publishes the result. A
// translation or publication that panics is recovered and the signal dropped.
func (w *Worker) Handle(sig core.Signal) {
	var pc panics.Catcher
	pc.Try(func() {
		if env, ok := Translate(w.session.ID, sig); ok {
			w.publish(env)
		}
	})
	if r := pc.Recovered(); r != nil {
		w.metrics.SignalsDropped.Inc()
		w.logger.Warn().Err(r.AsError()).Str("signal", string(sig.Kind)).Msg("dropped raw signal")
	}
}
