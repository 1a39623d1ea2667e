package room

import (
	"fmt"
	"net/url"

	"github.com/dkeye/voice-agent/internal/core"
	"github.com/dkeye/voice-agent/internal/domain"
)

// Dialer prepares LiveKit room connections for sessions. Dial does no network
// I/O.
type Dialer struct {
	url     string
	minter  *TokenMinter
	connect connectFunc
}

func NewDialer(url string, minter *TokenMinter) *Dialer {
	return &Dialer{url: url, minter: minter, connect: connectLiveKit}
}

// AgentIdentity is the participant identity the agent joins a room with.
func AgentIdentity(sid domain.SessionID) string { return "voice-agent-" + string(sid) }

func (d *Dialer) Dial(sess domain.Session) (core.MediaConnection, error) {
	u, err := roomURL(d.url)
	if err != nil {
		return nil, err
	}
	identity := AgentIdentity(sess.ID)
	token, err := d.minter.Mint(TokenRequest{
		Room:     string(sess.Config.Room),
		Identity: identity,
		Name:     "Voice Agent",
		Agent:    true,
	})
	if err != nil {
		return nil, err
	}
	return newConn(u, token, identity, sess, d.connect), nil
}

// roomURL normalizes a server URL to the WebSocket form the SDK dials.
func roomURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported room url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("room url %q has no host", base)
	}
	return u.String(), nil
}
