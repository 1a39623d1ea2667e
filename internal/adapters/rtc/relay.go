package rtc

import (
	"context"
	"sync/atomic"

	"github.com/dkeye/voice-agent/internal/core"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// ReadFunc returns the next packet of a remote track.
type ReadFunc func() (*rtp.Packet, error)

// TrackReader adapts a remote track to a ReadFunc.
func TrackReader(track *webrtc.TrackRemote) ReadFunc {
	return func() (*rtp.Packet, error) {
		pkt, _, err := track.ReadRTP()
		return pkt, err
	}
}

// Relay copies the payloads of a remote audio track into a frame channel.
// When the channel is full the frame is dropped.
type Relay struct {
	read    ReadFunc
	out     chan<- core.Frame
	dropped atomic.Uint64
}

func NewRelay(read ReadFunc, out chan<- core.Frame) *Relay {
	return &Relay{read: read, out: out}
}

// Loop reads until ctx is done or the source fails.
func (r *Relay) Loop(ctx context.Context, logger *zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("relay ctx done")
			return
		default:
		}
		pkt, err := r.read()
		if err != nil {
			logger.Debug().Err(err).Msg("relay read RTP error, stopping")
			return
		}
		r.forward(pkt)
	}
}

func (r *Relay) forward(pkt *rtp.Packet) {
	if len(pkt.Payload) == 0 {
		return
	}
	frame := make(core.Frame, len(pkt.Payload))
	copy(frame, pkt.Payload)
	select {
	case r.out <- frame:
	default:
		r.dropped.Add(1)
	}
}

func (r *Relay) Dropped() uint64 { return r.dropped.Load() }
