package rtc

import (
	"context"
	"io"
	"testing"

	"github.com/dkeye/voice-agent/internal/core"
	"github.com/pion/rtp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func packets(payloads ...[]byte) ReadFunc {
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

func TestRelay_ForwardsPayloads(t *testing.T) {
	out := make(chan core.Frame, 4)
	r := NewRelay(packets([]byte{1, 2}, nil, []byte{3}), out)
	logger := zerolog.Nop()

	r.Loop(context.Background(), &logger)

	require.Len(t, out, 2)
	require.Equal(t, core.Frame{1, 2}, <-out)
	require.Equal(t, core.Frame{3}, <-out)
	require.Zero(t, r.Dropped())
}

func TestRelay_DropsWhenFull(t *testing.T) {
	out := make(chan core.Frame, 1)
	r := NewRelay(packets([]byte{1}, []byte{2}, []byte{3}), out)
	logger := zerolog.Nop()

	r.Loop(context.Background(), &logger)

	require.Equal(t, core.Frame{1}, <-out)
	require.Equal(t, uint64(2), r.Dropped())
}

func TestRelay_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	reads := 0
	r := NewRelay(func() (*rtp.Packet, error) {
		reads++
		return &rtp.Packet{Payload: []byte{1}}, nil
	}, make(chan core.Frame, 1))
	logger := zerolog.Nop()

	r.Loop(ctx, &logger)
	require.Zero(t, reads)
}
