package room

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/dkeye/voice-agent/internal/adapters/rtc"
	"github.com/dkeye/voice-agent/internal/core"
	"github.com/dkeye/voice-agent/internal/domain"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrNotConnected = errors.New("room not connected")

const (
	inboundSize = 64
	trackName   = "agent-voice"
)

// roomSession is the part of a joined room the connection drives.
type roomSession interface {
	PublishTrack(track webrtc.TrackLocal) error
	Disconnect()
}

type connectFunc func(url, token string, cb *lksdk.RoomCallback) (roomSession, error)

type livekitRoom struct {
	*lksdk.Room
}

func (r livekitRoom) PublishTrack(track webrtc.TrackLocal) error {
	_, err := r.LocalParticipant.PublishTrack(track, &lksdk.TrackPublicationOptions{Name: trackName})
	return err
}

func connectLiveKit(url, token string, cb *lksdk.RoomCallback) (roomSession, error) {
	r, err := lksdk.ConnectToRoomWithToken(url, token, cb, lksdk.WithAutoSubscribe(true))
	if err != nil {
		return nil, err
	}
	return livekitRoom{Room: r}, nil
}

// Conn is a session's participant in its LiveKit room: it subscribes to the
// remote audio tracks and publishes one Opus track for the agent's voice.
type Conn struct {
	url      string
	token    string
	identity string
	sid      domain.SessionID
	connect  connectFunc
	logger   zerolog.Logger

	inbound      chan core.Frame
	relayCtx     context.Context
	cancelRelays context.CancelFunc

	mu      sync.Mutex
	session roomSession
	track   *webrtc.TrackLocalStaticSample
	closed  bool

	speaking  sync.Mutex
	done      chan struct{}
	doneOnce  sync.Once
	closeOnce sync.Once
}

func newConn(url, token, identity string, sess domain.Session, connect connectFunc) *Conn {
	relayCtx, cancel := context.WithCancel(context.Background())
	return &Conn{
		url:      url,
		token:    token,
		identity: identity,
		sid:      sess.ID,
		connect:  connect,
		logger: log.With().
			Str("module", "room").
			Str("sid", string(sess.ID)).
			Str("room", string(sess.Config.Room)).
			Logger(),
		inbound:      make(chan core.Frame, inboundSize),
		relayCtx:     relayCtx,
		cancelRelays: cancel,
		done:         make(chan struct{}),
	}
}

func (c *Conn) callback() *lksdk.RoomCallback {
	cb := lksdk.NewRoomCallback()
	cb.ParticipantCallback.OnTrackSubscribed = func(track *webrtc.TrackRemote, _ *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
		if track.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		c.attach(rtc.TrackReader(track), rp.Identity(), track.ID())
	}
	cb.OnDisconnected = func() {
		c.logger.Info().Msg("room disconnected")
		c.markDone()
	}
	return cb
}

// attach relays a subscribed audio track into Inbound until the track ends or
// the connection closes.
func (c *Conn) attach(read rtc.ReadFunc, participant, trackID string) {
	logger := c.logger.With().Str("participant", participant).Str("track_id", trackID).Logger()
	logger.Info().Msg("subscribed to audio track")
	go rtc.NewRelay(read, c.inbound).Loop(c.relayCtx, &logger)
}

type joinResult struct {
	session roomSession
	err     error
}

// Connect joins the room and publishes the agent's track. A join still in
// flight when ctx ends is disconnected as soon as it completes.
func (c *Conn) Connect(ctx context.Context) error {
	track, err := rtc.NewAudioTrack(c.sid)
	if err != nil {
		return fmt.Errorf("webrtc audio track: %w", err)
	}

	res := make(chan joinResult, 1)
	go func() {
		s, err := c.connect(c.url, c.token, c.callback())
		res <- joinResult{session: s, err: err}
	}()

	var j joinResult
	select {
	case <-ctx.Done():
		go func() {
			if late := <-res; late.err == nil {
				c.logger.Warn().Msg("join completed after cancel, leaving room")
				late.session.Disconnect()
			}
		}()
		return ctx.Err()
	case j = <-res:
	}
	if j.err != nil {
		c.logger.Error().Err(j.err).Msg("room join failed")
		return fmt.Errorf("connect: %w", j.err)
	}
	if err := j.session.PublishTrack(track); err != nil {
		c.logger.Error().Err(err).Msg("publish agent track failed")
		j.session.Disconnect()
		return fmt.Errorf("publish agent track: %w", err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		j.session.Disconnect()
		return ErrNotConnected
	}
	c.session, c.track = j.session, track
	c.mu.Unlock()
	c.logger.Info().Str("identity", c.identity).Msg("joined room")
	return nil
}

func (c *Conn) Done() <-chan struct{} { return c.done }

func (c *Conn) Inbound() <-chan core.Frame { return c.inbound }

// PlayAudio streams an Ogg/Opus payload on the agent's track. Calls are
// serialized.
func (c *Conn) PlayAudio(ctx context.Context, r io.Reader) error {
	c.mu.Lock()
	track := c.track
	c.mu.Unlock()
	if track == nil {
		return ErrNotConnected
	}
	c.speaking.Lock()
	defer c.speaking.Unlock()
	return rtc.PlayOgg(ctx, track, r)
}

func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		session := c.session
		c.mu.Unlock()

		c.cancelRelays()
		if session != nil {
			session.Disconnect()
		}
		c.markDone()
		c.logger.Info().Msg("room connection closed")
	})
	return nil
}

func (c *Conn) markDone() {
	c.doneOnce.Do(func() { close(c.done) })
}
