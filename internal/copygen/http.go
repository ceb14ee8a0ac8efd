package copygen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"

	appLog "ferdy/internal/log"
)

// HTTPConfig configures an HTTPGenerator.
type HTTPConfig struct {
	URL            string
	APIKey         string
	Timeout        time.Duration // per attempt; 0 means 30s
	MaxRetries     int           // retries after a 429; 0 means 4
	InitialBackoff time.Duration // first 429 delay, doubled each retry; 0 means 1s
	RatePerSec     float64       // request pacing; <= 0 disables it
}

// HTTPGenerator posts batches to a copy-generation HTTP endpoint.
//
// Only HTTP 429 is retried. Other failures are returned to the caller.
type HTTPGenerator struct {
	cfg     HTTPConfig
	client  *http.Client
	limiter *rate.Limiter
}

// NewHTTPGenerator validates cfg and returns a generator.
func NewHTTPGenerator(cfg HTTPConfig) (*HTTPGenerator, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("copy generation url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 4
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RatePerSec > 0 {
		burst := int(cfg.RatePerSec)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}
	return &HTTPGenerator{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: limiter,
	}, nil
}

type batchRequest struct {
	Requests []Request `json:"requests"`
}

type batchResponse struct {
	Results []Result `json:"results"`
}

// errRateLimited marks a 429 response.
var errRateLimited = errors.New("copy generation rate limited")

// Generate sends batch and returns the per-draft results.
func (g *HTTPGenerator) Generate(ctx context.Context, batch []Request) ([]Result, error) {
	body, err := json.Marshal(batchRequest{Requests: batch})
	if err != nil {
		return nil, fmt.Errorf("marshal batch: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = g.cfg.InitialBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = 64 * g.cfg.InitialBackoff

	attempt := 0
	op := func() ([]Result, error) {
		attempt++
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, backoff.Permanent(err)
		}
		return g.post(ctx, body, attempt)
	}
	notify := func(err error, d time.Duration) {
		appLog.Warn("copy generation retry", "url", redactURL(g.cfg.URL), "attempt", attempt, "sleep", d.String(), "reason", err.Error())
	}

	return backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(g.cfg.MaxRetries+1)),
		backoff.WithNotify(notify),
	)
}

func (g *HTTPGenerator) post(ctx context.Context, body []byte, attempt int) ([]Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "ferdy/1.0")
	if g.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)
	}

	appLog.Debug("copy generation request", "url", redactURL(g.cfg.URL), "attempt", attempt, "bytes", len(body))

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		_, _ = io.Copy(io.Discard, resp.Body)
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
			return nil, backoff.RetryAfter(secs)
		}
		return nil, errRateLimited
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, backoff.Permanent(fmt.Errorf("copy generation: %s: %s", resp.Status, strings.TrimSpace(string(msg))))
	}

	var out batchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("decode copy results: %w", err))
	}
	return out.Results, nil
}

// redactURL keeps only scheme and host of u for logging.
func redactURL(u string) string {
	const redactedSuffix = "/...(redacted)"
	i := strings.Index(u, "://")
	if i < 0 {
		return "...(redacted)"
	}
	rest := u[i+3:]
	if j := strings.IndexByte(rest, '/'); j >= 0 {
		rest = rest[:j]
	}
	return u[:i+3] + rest + redactedSuffix
}
