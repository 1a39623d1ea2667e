package room

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dkeye/voice-agent/internal/core"
	"github.com/dkeye/voice-agent/internal/domain"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	publishErr  error
	mu          sync.Mutex
	published   []webrtc.TrackLocal
	disconnects atomic.Int32
}

func (s *fakeSession) PublishTrack(track webrtc.TrackLocal) error {
	if s.publishErr != nil {
		return s.publishErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.published = append(s.published, track)
	return nil
}

func (s *fakeSession) Disconnect() { s.disconnects.Add(1) }

type joinCall struct {
	url   string
	token string
	cb    *lksdk.RoomCallback
}

// fakeServer stands in for the LiveKit join: it records each call and answers
// with session and err once release is closed (immediately when nil).
type fakeServer struct {
	session *fakeSession
	err     error
	release chan struct{}
	calls   chan joinCall
}

func newFakeServer() *fakeServer {
	return &fakeServer{session: &fakeSession{}, calls: make(chan joinCall, 4)}
}

func (f *fakeServer) connect(url, token string, cb *lksdk.RoomCallback) (roomSession, error) {
	f.calls <- joinCall{url: url, token: token, cb: cb}
	if f.release != nil {
		<-f.release
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.session, nil
}

func testSession(id string) domain.Session {
	return domain.Session{ID: domain.SessionID(id), Config: domain.SessionConfig{Room: "lobby"}}
}

func dialFake(t *testing.T, f *fakeServer, minter *TokenMinter) *Conn {
	t.Helper()
	d := NewDialer("https://rooms.example.com", minter)
	d.connect = f.connect
	mc, err := d.Dial(testSession("s1"))
	require.NoError(t, err)
	return mc.(*Conn)
}

func rtpPackets(payloads ...[]byte) func() (*rtp.Packet, error) {
	i := 0
	return func() (*rtp.Packet, error) {
		if i == len(payloads) {
			return nil, io.EOF
		}
		p := &rtp.Packet{Payload: payloads[i]}
		i++
		return p, nil
	}
}

func TestConn_JoinsRoom(t *testing.T) {
	minter := NewTokenMinter("APIkey", "s3cret", time.Hour)
	f := newFakeServer()
	c := dialFake(t, f, minter)

	require.NoError(t, c.Connect(context.Background()))

	call := <-f.calls
	require.Equal(t, "wss://rooms.example.com", call.url)
	claims, err := minter.Verify(call.token)
	require.NoError(t, err)
	require.Equal(t, AgentIdentity("s1"), claims.Subject)
	require.Equal(t, "lobby", claims.Video.Room)
	require.True(t, claims.Video.Agent)

	f.session.mu.Lock()
	require.Len(t, f.session.published, 1)
	track, ok := f.session.published[0].(*webrtc.TrackLocalStaticSample)
	f.session.mu.Unlock()
	require.True(t, ok)
	require.Equal(t, webrtc.MimeTypeOpus, track.Codec().MimeType)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	require.Equal(t, int32(1), f.session.disconnects.Load())
	select {
	case <-c.Done():
	default:
		t.Fatal("Done not closed after Close")
	}
}

func TestConn_JoinFails(t *testing.T) {
	f := newFakeServer()
	f.err = errors.New("permission denied")
	c := dialFake(t, f, NewTokenMinter("k", "s", time.Hour))

	err := c.Connect(context.Background())
	require.ErrorIs(t, err, f.err)
	require.ErrorIs(t, c.PlayAudio(context.Background(), nil), ErrNotConnected)
}

func TestConn_PublishFailureLeavesRoom(t *testing.T) {
	f := newFakeServer()
	f.session.publishErr = errors.New("track rejected")
	c := dialFake(t, f, NewTokenMinter("k", "s", time.Hour))

	err := c.Connect(context.Background())
	require.ErrorIs(t, err, f.session.publishErr)
	require.Equal(t, int32(1), f.session.disconnects.Load())
}

func TestConn_ConnectHonoursCancel(t *testing.T) {
	f := newFakeServer()
	f.release = make(chan struct{})
	c := dialFake(t, f, NewTokenMinter("k", "s", time.Hour))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := c.Connect(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Less(t, time.Since(start), time.Second)

	// The join completes after the caller gave up and must not linger.
	close(f.release)
	require.Eventually(t, func() bool {
		return f.session.disconnects.Load() == 1
	}, time.Second, 10*time.Millisecond)
}

func TestConn_RoomDisconnectEndsConnection(t *testing.T) {
	f := newFakeServer()
	c := dialFake(t, f, NewTokenMinter("k", "s", time.Hour))
	require.NoError(t, c.Connect(context.Background()))

	call := <-f.calls
	call.cb.OnDisconnected()

	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed after the room disconnected")
	}
	require.NoError(t, c.Close())
}

func TestConn_RelaysSubscribedAudio(t *testing.T) {
	f := newFakeServer()
	c := dialFake(t, f, NewTokenMinter("k", "s", time.Hour))
	require.NoError(t, c.Connect(context.Background()))

	c.attach(rtpPackets([]byte{1, 2}, []byte{3}), "guest", "TR_audio")

	for _, want := range []core.Frame{{1, 2}, {3}} {
		select {
		case got := <-c.Inbound():
			require.Equal(t, want, got)
		case <-time.After(time.Second):
			t.Fatal("frame not relayed")
		}
	}
	require.NoError(t, c.Close())
}

func TestConn_PlayAudioBeforeConnect(t *testing.T) {
	c := dialFake(t, newFakeServer(), NewTokenMinter("k", "s", time.Hour))
	require.ErrorIs(t, c.PlayAudio(context.Background(), nil), ErrNotConnected)
	require.NoError(t, c.Close())
}

func TestDialer_Rejects(t *testing.T) {
	_, err := NewDialer("ftp://rooms", NewTokenMinter("k", "s", time.Hour)).Dial(testSession("s1"))
	require.Error(t, err)

	_, err = NewDialer("wss://rooms", NewTokenMinter("", "", time.Hour)).Dial(testSession("s1"))
	require.ErrorIs(t, err, ErrMissingCredentials)
}

func TestRoomURL(t *testing.T) {
	tests := []struct {
		base, want string
	}{
		{"wss://rooms.example.com", "wss://rooms.example.com"},
		{"https://rooms.example.com/", "wss://rooms.example.com/"},
		{"http://127.0.0.1:7880", "ws://127.0.0.1:7880"},
	}
	for _, tt := range tests {
		got, err := roomURL(tt.base)
		require.NoError(t, err)
		require.Equal(t, tt.want, got)
	}

	_, err := roomURL("ftp://rooms.example.com")
	require.Error(t, err)
	_, err = roomURL("wss://")
	require.Error(t, err)
}
