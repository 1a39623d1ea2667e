// Package identity resolves a browser session cookie into a user identity.
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dkeye/voice-agent/internal/domain"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	CookieName     = "sessionid"
	validatePath   = "/api/internal/validate-session"
	DefaultTimeout = 5 * time.Second
)

type Client struct {
	baseURL string
	timeout time.Duration
	client  *http.Client
}

func New(baseURL string, timeout time.Duration, hc *http.Client) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if hc == nil {
		hc = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), timeout: timeout, client: hc}
}

type validateResponse struct {
	Valid bool `json:"valid"`
	domain.Identity
}

// Validate asks the identity service who owns cookie. ok is false for an
// anonymous caller, including on any transport or service failure.
func (c *Client) Validate(ctx context.Context, cookie string) (domain.Identity, bool) {
	if c.baseURL == "" || cookie == "" {
		return domain.Identity{}, false
	}
	id, err := c.validate(ctx, cookie)
	if err != nil {
		log.Warn().Err(err).Str("module", "adapters.identity").Msg("session validation failed, continuing anonymous")
		return domain.Identity{}, false
	}
	return id, !id.Anonymous()
}

func (c *Client) validate(ctx context.Context, cookie string) (domain.Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+validatePath, nil)
	if err != nil {
		return domain.Identity{}, err
	}
	req.AddCookie(&http.Cookie{Name: CookieName, Value: cookie})

	resp, err := c.client.Do(req)
	if err != nil {
		return domain.Identity{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return domain.Identity{}, fmt.Errorf("unexpected status %s", resp.Status)
	}

	var out validateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.Identity{}, fmt.Errorf("decode: %w", err)
	}
	if !out.Valid {
		return domain.Identity{}, nil
	}
	return out.Identity, nil
}
