// Package transcript streams a session's envelopes to browser clients over
// WebSocket. Client messages are read only to keep the connection alive.
package transcript

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/dkeye/voice-agent/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultQueueSize  = 32
	DefaultReadLimit  = 32768
	DefaultPingPeriod = 54 * time.Second

	writeWait = 5 * time.Second
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("connection closed")
)

type Options struct {
	QueueSize  int
	ReadLimit  int64
	PingPeriod time.Duration
}

func (o Options) withDefaults() Options {
	if o.QueueSize <= 0 {
		o.QueueSize = DefaultQueueSize
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = DefaultReadLimit
	}
	if o.PingPeriod <= 0 {
		o.PingPeriod = DefaultPingPeriod
	}
	return o
}

// Conn is a transcript subscriber bound to one WebSocket client.
type Conn struct {
	ws     *websocket.Conn
	opts   Options
	logger zerolog.Logger

	mu     sync.RWMutex
	send   chan []byte
	closed bool
	done   chan struct{}
}

func NewConn(ws *websocket.Conn, sid domain.SessionID, opts Options) *Conn {
	opts = opts.withDefaults()
	return &Conn{
		ws:     ws,
		opts:   opts,
		send:   make(chan []byte, opts.QueueSize),
		done:   make(chan struct{}),
		logger: log.With().Str("module", "adapters.transcript").Str("sid", string(sid)).Logger(),
	}
}

// Deliver queues env for the client without blocking.
func (c *Conn) Deliver(env domain.EventEnvelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- b:
		return nil
	default:
		return ErrBackpressure
	}
}

// Close ends the stream. Queued envelopes are flushed before the close frame.
func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	close(c.done)
}

func (c *Conn) Done() <-chan struct{} { return c.done }

// Serve runs the pumps until the client goes away, Close is called or ctx is
// done.
func (c *Conn) Serve(ctx context.Context) {
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writePump()
	}()
	go func() {
		select {
		case <-ctx.Done():
			c.Close()
		case <-c.done:
		}
	}()

	c.readPump()
	c.Close()
	<-writerDone
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Error().Err(err).Msg("writePump set deadline")
				return
			}
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"))
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Warn().Err(err).Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.logger.Warn().Err(err).Msg("writePump ping error")
				return
			}
		}
	}
}

func (c *Conn) readPump() {
	pongWait := c.opts.PingPeriod * 10 / 9
	c.ws.SetReadLimit(c.opts.ReadLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug().Err(err).Msg("readPump closing")
			}
			return
		}
	}
}
