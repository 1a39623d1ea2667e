// Package coretest provides in-memory implementations of the core contracts
// for tests.
package coretest

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/dkeye/voice-agent/internal/core"
	"github.com/dkeye/voice-agent/internal/domain"
)

// Media is a MediaConnection that joins instantly unless told otherwise.
type Media struct {
	ConnectErr   error
	BlockConnect bool
	// CloseGate, when set, holds Close until it is closed.
	CloseGate chan struct{}

	joined     chan struct{}
	joinOnce   sync.Once
	done       chan struct{}
	doneOnce   sync.Once
	inbound    chan core.Frame
	closes     atomic.Int32
	mu         sync.Mutex
	played     [][]byte
	connecting chan struct{}
	connOnce   sync.Once
}

func NewMedia() *Media {
	return &Media{
		joined:     make(chan struct{}),
		done:       make(chan struct{}),
		inbound:    make(chan core.Frame, 16),
		connecting: make(chan struct{}),
	}
}

func (m *Media) Connect(ctx context.Context) error {
	m.connOnce.Do(func() { close(m.connecting) })
	if m.BlockConnect {
		<-ctx.Done()
		return ctx.Err()
	}
	if m.ConnectErr != nil {
		return m.ConnectErr
	}
	m.joinOnce.Do(func() { close(m.joined) })
	return nil
}

func (m *Media) Done() <-chan struct{}      { return m.done }
func (m *Media) Inbound() <-chan core.Frame { return m.inbound }

func (m *Media) PlayAudio(_ context.Context, r io.Reader) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.played = append(m.played, b)
	m.mu.Unlock()
	return nil
}

func (m *Media) Close() error {
	if m.CloseGate != nil {
		<-m.CloseGate
	}
	m.closes.Add(1)
	m.doneOnce.Do(func() { close(m.done) })
	return nil
}

// Drop simulates the remote room going away.
func (m *Media) Drop() { m.doneOnce.Do(func() { close(m.done) }) }

// Push queues an inbound audio frame.
func (m *Media) Push(f core.Frame) { m.inbound <- f }

func (m *Media) Joined() <-chan struct{}     { return m.joined }
func (m *Media) Connecting() <-chan struct{} { return m.connecting }
func (m *Media) Closes() int                 { return int(m.closes.Load()) }

func (m *Media) Played() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.played...)
}

// Pipeline is a core.Pipeline that runs until cancelled and lets tests raise
// signals through the handler it was given.
type Pipeline struct {
	// Session is the session the pipeline was built for.
	Session  domain.Session
	RunErr   error
	PanicMsg string
	// Media, when set, is checked on Close to record teardown order.
	Media *Media

	mu          sync.Mutex
	emit        core.SignalHandler
	running     chan struct{}
	runOnce     sync.Once
	closes      atomic.Int32
	closedFirst atomic.Bool
}

func NewPipeline() *Pipeline {
	return &Pipeline{running: make(chan struct{})}
}

func (p *Pipeline) Run(ctx context.Context, _ core.MediaConnection, emit core.SignalHandler) error {
	p.mu.Lock()
	p.emit = emit
	p.mu.Unlock()
	p.runOnce.Do(func() { close(p.running) })

	if p.PanicMsg != "" {
		panic(p.PanicMsg)
	}
	if p.RunErr != nil {
		return p.RunErr
	}
	<-ctx.Done()
	return nil
}

func (p *Pipeline) Close(context.Context) error {
	if p.Media != nil && p.Media.Closes() == 0 {
		p.closedFirst.Store(true)
	}
	p.closes.Add(1)
	return nil
}

// Emit raises a raw signal as the engines would.
func (p *Pipeline) Emit(sig core.Signal) {
	p.mu.Lock()
	emit := p.emit
	p.mu.Unlock()
	if emit != nil {
		emit(sig)
	}
}

func (p *Pipeline) Running() <-chan struct{} { return p.running }
func (p *Pipeline) Closes() int              { return int(p.closes.Load()) }

// ClosedBeforeMedia reports whether Close ran while the media was still open.
func (p *Pipeline) ClosedBeforeMedia() bool { return p.closedFirst.Load() }

// Dialer hands out a fresh Media per session.
type Dialer struct {
	Err          error
	BlockConnect bool
	ConnectErr   error
	CloseGate    chan struct{}

	mu    sync.Mutex
	media map[domain.SessionID]*Media
}

func (d *Dialer) Dial(sess domain.Session) (core.MediaConnection, error) {
	if d.Err != nil {
		return nil, d.Err
	}
	m := NewMedia()
	m.BlockConnect = d.BlockConnect
	m.ConnectErr = d.ConnectErr
	m.CloseGate = d.CloseGate
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.media == nil {
		d.media = make(map[domain.SessionID]*Media)
	}
	d.media[sess.ID] = m
	return m, nil
}

func (d *Dialer) Media(sid domain.SessionID) *Media {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.media[sid]
}

// Factory hands out a fresh Pipeline per session.
type Factory struct {
	Err      error
	RunErr   error
	PanicMsg string

	mu    sync.Mutex
	pipes map[domain.SessionID]*Pipeline
}

func (f *Factory) NewPipeline(sess domain.Session) (core.Pipeline, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	p := NewPipeline()
	p.Session = sess
	p.RunErr = f.RunErr
	p.PanicMsg = f.PanicMsg
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pipes == nil {
		f.pipes = make(map[domain.SessionID]*Pipeline)
	}
	f.pipes[sess.ID] = p
	return p, nil
}

func (f *Factory) Pipeline(sid domain.SessionID) *Pipeline {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pipes[sid]
}

// Subscriber records delivered envelopes.
type Subscriber struct {
	Fail bool

	mu     sync.Mutex
	got    []domain.EventEnvelope
	closed bool
}

func (s *Subscriber) Deliver(env domain.EventEnvelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail || s.closed {
		return io.ErrClosedPipe
	}
	s.got = append(s.got, env)
	return nil
}

func (s *Subscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *Subscriber) Envelopes() []domain.EventEnvelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.EventEnvelope(nil), s.got...)
}

func (s *Subscriber) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
