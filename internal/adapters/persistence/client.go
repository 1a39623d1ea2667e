// Package persistence forwards session events to the conversation store's
// ingest endpoint. Forwards are best effort: no retry, no queue.
package persistence

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dkeye/voice-agent/internal/domain"
	"github.com/dkeye/voice-agent/internal/metrics"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	ingestPath     = "/api/ingest"
	tokenHeader    = "X-INGEST-TOKEN"
	DefaultTimeout = 5 * time.Second
)

var ErrNotConfigured = errors.New("persistence not configured")

type Options struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	HTTPClient *http.Client
	Metrics    *metrics.Metrics
}

// Stats are the aggregate counters of successful forwards.
type Stats struct {
	Configured   bool     `json:"configured"`
	LastIngestTS *float64 `json:"last_ingest_ts"`
	EventCount   int      `json:"event_count"`
	SessionIDs   []string `json:"session_ids"`
}

type Client struct {
	baseURL string
	token   string
	timeout time.Duration
	client  *http.Client
	metrics *metrics.Metrics

	mu         sync.Mutex
	lastIngest time.Time
	eventCount int
	sessions   map[domain.SessionID]struct{}
}

func New(opts Options) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		token:    opts.Token,
		timeout:  opts.Timeout,
		client:   opts.HTTPClient,
		metrics:  opts.Metrics,
		sessions: make(map[domain.SessionID]struct{}),
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.client == nil {
		c.client = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	if c.metrics == nil {
		c.metrics = metrics.Nop()
	}
	return c
}

func (c *Client) Configured() bool { return c.baseURL != "" && c.token != "" }

type ingestRequest struct {
	Session domain.SessionMeta     `json:"session"`
	Events  []domain.EventEnvelope `json:"events"`
}

// Forward posts events with their session meta.
func (c *Client) Forward(ctx context.Context, meta domain.SessionMeta, events ...domain.EventEnvelope) error {
	if !c.Configured() {
		return ErrNotConfigured
	}
	if len(events) == 0 {
		return nil
	}

	body, err := json.Marshal(ingestRequest{Session: meta, Events: events})
	if err != nil {
		return fmt.Errorf("marshal ingest: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+ingestPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build ingest request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(tokenHeader, c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		c.metrics.PersistenceForwards.WithLabelValues("error").Inc()
		return fmt.Errorf("ingest: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		c.metrics.PersistenceForwards.WithLabelValues("rejected").Inc()
		return fmt.Errorf("ingest: unexpected status %s", resp.Status)
	}

	c.mu.Lock()
	c.lastIngest = time.Now()
	c.eventCount += len(events)
	c.sessions[meta.ID] = struct{}{}
	c.mu.Unlock()
	c.metrics.PersistenceForwards.WithLabelValues("ok").Inc()
	return nil
}

func (c *Client) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Stats{
		Configured: c.Configured(),
		EventCount: c.eventCount,
		SessionIDs: make([]string, 0, len(c.sessions)),
	}
	if !c.lastIngest.IsZero() {
		ts := float64(c.lastIngest.UnixNano()) / float64(time.Second)
		s.LastIngestTS = &ts
	}
	for sid := range c.sessions {
		s.SessionIDs = append(s.SessionIDs, string(sid))
	}
	sort.Strings(s.SessionIDs)
	return s
}
