package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	api "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/websocket/interfaces"
	"github.com/gorilla/websocket"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"github.com/rs/zerolog/log"
)

const (
	opusSampleRate   = 48000
	opusFrameSamples = 960
	eventBuffer      = 64
	keepAlivePeriod  = 5 * time.Second
)

var ErrStreamClosed = errors.New("transcript stream closed")

type DeepgramOptions struct {
	URL      string
	APIKey   string
	Model    string
	Language string
	// Endpointing is the trailing silence that finalizes a segment.
	Endpointing time.Duration
	// UtteranceEnd is the gap between words that ends a turn.
	UtteranceEnd time.Duration
	Dialer       *websocket.Dialer
}

// Deepgram opens live transcription streams. Audio is sent as Ogg/Opus.
type Deepgram struct {
	opts DeepgramOptions
}

func NewDeepgram(opts DeepgramOptions) *Deepgram {
	if opts.URL == "" {
		opts.URL = "wss://api.deepgram.com/v1/listen"
	}
	if opts.Model == "" {
		opts.Model = "nova-2"
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	return &Deepgram{opts: opts}
}

func (d *Deepgram) listenURL(language string) (string, error) {
	u, err := url.Parse(d.opts.URL)
	if err != nil {
		return "", err
	}
	if language == "" {
		language = d.opts.Language
	}
	q := u.Query()
	q.Set("model", d.opts.Model)
	if language != "" {
		q.Set("language", language)
	}
	q.Set("channels", "1")
	q.Set("smart_format", "true")
	q.Set("interim_results", "true")
	q.Set("vad_events", "true")
	if d.opts.Endpointing > 0 {
		q.Set("endpointing", strconv.FormatInt(d.opts.Endpointing.Milliseconds(), 10))
	}
	if d.opts.UtteranceEnd > 0 {
		// Deepgram rejects values under one second.
		ms := max(d.opts.UtteranceEnd.Milliseconds(), 1000)
		q.Set("utterance_end_ms", strconv.FormatInt(ms, 10))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (d *Deepgram) Open(ctx context.Context, language string) (TranscriptStream, error) {
	listenURL, err := d.listenURL(language)
	if err != nil {
		return nil, fmt.Errorf("deepgram url: %w", err)
	}
	conn, _, err := d.opts.Dialer.DialContext(ctx, listenURL,
		http.Header{"Authorization": {"Token " + d.opts.APIKey}})
	if err != nil {
		return nil, fmt.Errorf("failed to open socket connection to deepgram: %w", err)
	}

	s := &deepgramStream{
		conn:   conn,
		events: make(chan TranscriptEvent, eventBuffer),
		done:   make(chan struct{}),
	}
	ogg, err := oggwriter.NewWith(binaryWriter{s}, opusSampleRate, 1)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ogg writer: %w", err)
	}
	s.ogg = ogg
	go s.readLoop()
	go s.keepAlive()
	return s, nil
}

type deepgramStream struct {
	connMu sync.Mutex
	conn   *websocket.Conn
	ogg    *oggwriter.OggWriter
	seq    uint16
	ts     uint32

	events    chan TranscriptEvent
	done      chan struct{}
	closeOnce sync.Once
}

// binaryWriter sends every write as one binary WebSocket message. Callers
// hold connMu.
type binaryWriter struct{ s *deepgramStream }

func (w binaryWriter) Write(p []byte) (int, error) {
	if err := w.s.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (s *deepgramStream) SendAudio(frame []byte) error {
	select {
	case <-s.done:
		return ErrStreamClosed
	default:
	}
	s.connMu.Lock()
	defer s.connMu.Unlock()
	pkt := &rtp.Packet{
		Header:  rtp.Header{SequenceNumber: s.seq, Timestamp: s.ts},
		Payload: frame,
	}
	s.seq++
	s.ts += opusFrameSamples
	if err := s.ogg.WriteRTP(pkt); err != nil {
		return fmt.Errorf("failed to write to deepgram client: %w", err)
	}
	return nil
}

func (s *deepgramStream) Events() <-chan TranscriptEvent { return s.events }

// keepAlive stops Deepgram from closing the stream while nobody speaks.
func (s *deepgramStream) keepAlive() {
	ticker := time.NewTicker(keepAlivePeriod)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.connMu.Lock()
			err := s.conn.WriteJSON(struct {
				Type string `json:"type"`
			}{Type: "KeepAlive"})
			s.connMu.Unlock()
			if err != nil {
				log.Debug().Err(err).Str("module", "deepgram").Msg("failed to write keep alive")
				return
			}
		}
	}
}

// Close asks Deepgram to flush and closes the socket.
func (s *deepgramStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.connMu.Lock()
		defer s.connMu.Unlock()
		_ = s.conn.SetWriteDeadline(time.Now().Add(time.Second))
		if werr := s.conn.WriteJSON(struct {
			Type string `json:"type"`
		}{Type: string(api.TypeCloseStreamResponse)}); werr != nil {
			err = fmt.Errorf("failed to close deepgram stream: %w", werr)
		}
		_ = s.conn.Close()
	})
	return err
}

func (s *deepgramStream) readLoop() {
	defer close(s.events)
	for {
		msgType, msg, err := s.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				select {
				case <-s.done:
				default:
					log.Warn().Err(err).Str("module", "deepgram").Msg("failed to read deepgram websocket message")
				}
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		for _, ev := range parseDeepgram(msg) {
			select {
			case s.events <- ev:
			case <-s.done:
				return
			}
		}
	}
}

// parseDeepgram turns one Deepgram message into transcript events.
func parseDeepgram(msg []byte) []TranscriptEvent {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(msg, &head); err != nil {
		log.Warn().Err(err).Str("module", "deepgram").Msg("failed to unmarshal deepgram message")
		return nil
	}

	switch api.TypeResponse(head.Type) {
	case api.TypeMessageResponse:
		var resp api.MessageResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			log.Warn().Err(err).Str("module", "deepgram").Msg("failed to unmarshal deepgram message")
			return nil
		}
		var text string
		if len(resp.Channel.Alternatives) > 0 {
			text = strings.TrimSpace(resp.Channel.Alternatives[0].Transcript)
		}
		var out []TranscriptEvent
		switch {
		case resp.IsFinal && text != "":
			out = append(out, TranscriptEvent{Kind: TranscriptFinal, Text: text, Duration: resp.Duration})
		case !resp.IsFinal && text != "":
			out = append(out, TranscriptEvent{Kind: TranscriptInterim, Text: text, Duration: resp.Duration})
		}
		if resp.IsFinal && resp.SpeechFinal {
			out = append(out, TranscriptEvent{Kind: TranscriptUtteranceEnd})
		}
		return out
	case api.TypeUtteranceEndResponse:
		return []TranscriptEvent{{Kind: TranscriptUtteranceEnd}}
	case api.TypeSpeechStartedResponse:
		return []TranscriptEvent{{Kind: TranscriptSpeechStarted}}
	}
	return nil
}
