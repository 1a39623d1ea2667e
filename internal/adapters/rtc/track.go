package rtc

import (
	"github.com/dkeye/voice-agent/internal/domain"
	"github.com/pion/webrtc/v4"
)

// NewAudioTrack creates the Opus sample track the agent speaks on.
func NewAudioTrack(sid domain.SessionID) (*webrtc.TrackLocalStaticSample, error) {
	return webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio",
		"voice-agent-"+string(sid),
	)
}
