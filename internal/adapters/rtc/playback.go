package rtc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
)

const opusClockRate = 48000

// SampleWriter is the write side of a local sample track.
type SampleWriter interface {
	WriteSample(s media.Sample) error
}

// PlayOgg writes the Opus pages of an Ogg stream to w, paced in real time.
func PlayOgg(ctx context.Context, w SampleWriter, r io.Reader) error {
	ogg, _, err := oggreader.NewWith(r)
	if err != nil {
		return fmt.Errorf("ogg header: %w", err)
	}

	var lastGranule uint64
	next := time.Now()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, header, err := ogg.ParseNextPage()
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("ogg page: %w", err)
		}
		if header.GranulePosition <= lastGranule {
			continue
		}
		samples := header.GranulePosition - lastGranule
		lastGranule = header.GranulePosition
		d := time.Duration(samples) * time.Second / opusClockRate

		if err := w.WriteSample(media.Sample{Data: page, Duration: d}); err != nil {
			return err
		}

		next = next.Add(d)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Until(next)):
		}
	}
}
