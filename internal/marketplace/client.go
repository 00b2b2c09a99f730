// Package marketplace fetches listing pages from the Steam Community Market
// with retries, backoff and a shared 429 circuit breaker.
package marketplace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"market-watcher/internal/domain"
)

const serviceName = "marketplace"

// Options parameterise the listings fetcher.
type Options struct {
	BaseURL           string
	Count             int
	Timeout           time.Duration
	UserAgent         string
	MaxAttempts       int
	BaseDelay         time.Duration
	RequestsPerSecond float64
}

// RawPage is one fetched listings page.
type RawPage struct {
	WatchID    int64
	URL        string
	HTML       string
	TotalCount int
	FetchedAt  time.Time
}

// Fetcher retrieves raw listing pages for a watch.
type Fetcher interface {
	Fetch(ctx context.Context, watch domain.Watch) (RawPage, error)
}

// Client is the marketplace Fetcher. One Client (and its Breaker) is meant to
// serve every watch against the same host.
type Client struct {
	opts    Options
	baseURL string
	client  *http.Client
	breaker *Breaker
	pacer   *rate.Limiter
	logger  zerolog.Logger
}

// NewClient constructs a Client. A nil breaker gets a default one.
func NewClient(opts Options, breaker *Breaker, logger zerolog.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.Count <= 0 {
		opts.Count = 100
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = time.Second
	}
	if breaker == nil {
		breaker = NewBreaker(BreakerOptions{})
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://steamcommunity.com"
	}

	pacer := rate.NewLimiter(rate.Inf, 1)
	if opts.RequestsPerSecond > 0 {
		pacer = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}

	return &Client{
		opts:    opts,
		baseURL: baseURL,
		client:  &http.Client{Timeout: opts.Timeout},
		breaker: breaker,
		pacer:   pacer,
		logger:  logger.With().Str("component", "marketplace_fetcher").Logger(),
	}
}

// Breaker exposes the shared circuit breaker.
func (c *Client) Breaker() *Breaker {
	return c.breaker
}

// Fetch retrieves the listings render endpoint for a watch.
func (c *Client) Fetch(ctx context.Context, watch domain.Watch) (RawPage, error) {
	endpoint := c.listingsURL(watch)

	var lastErr error
	rateLimited := false
	for attempt := 0; attempt < c.opts.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := c.backoff(attempt - 1)
			c.logger.Debug().Int64("watch_id", watch.ID).Int("attempt", attempt+1).Dur("delay", delay).Msg("retrying listings fetch")
			if err := sleep(ctx, delay); err != nil {
				return RawPage{}, err
			}
		}

		if err := c.breaker.Wait(ctx); err != nil {
			return RawPage{}, err
		}
		if err := c.pacer.Wait(ctx); err != nil {
			return RawPage{}, err
		}

		page, err := c.do(ctx, endpoint)
		if err == nil {
			page.WatchID = watch.ID
			return page, nil
		}
		lastErr = err

		var upErr *domain.UpstreamError
		if errors.As(err, &upErr) && upErr.StatusCode == http.StatusTooManyRequests {
			rateLimited = true
			if cooldown := c.breaker.RecordRateLimited(); cooldown > 0 {
				c.logger.Warn().Dur("cooldown", cooldown).Msg("marketplace rate limited; circuit open")
			}
			continue
		}
		rateLimited = false
		if !errors.Is(err, domain.ErrTransientUpstream) {
			return RawPage{}, err
		}
	}

	if rateLimited {
		return RawPage{}, fmt.Errorf("%w after %d attempts: %v", domain.ErrRateLimited, c.opts.MaxAttempts, lastErr)
	}
	return RawPage{}, lastErr
}

func (c *Client) do(ctx context.Context, endpoint string) (RawPage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return RawPage{}, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.opts.UserAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return RawPage{}, ctx.Err()
		}
		return RawPage{}, &domain.UpstreamError{Service: serviceName, Err: fmt.Errorf("%w: %v", domain.ErrTransientUpstream, err)}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return RawPage{}, &domain.UpstreamError{Service: serviceName, StatusCode: resp.StatusCode, Err: fmt.Errorf("%w: read body: %v", domain.ErrTransientUpstream, err)}
	}

	if resp.StatusCode != http.StatusOK {
		return RawPage{}, statusError(resp.StatusCode, payload)
	}
	c.breaker.RecordSuccess()

	var envelope renderResponse
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return RawPage{}, &domain.UpstreamError{Service: serviceName, StatusCode: resp.StatusCode, Err: fmt.Errorf("%w: %v", domain.ErrMalformedResponse, err)}
	}
	if envelope.ResultsHTML == nil {
		return RawPage{}, &domain.UpstreamError{Service: serviceName, StatusCode: resp.StatusCode, Err: fmt.Errorf("%w: results_html missing", domain.ErrMalformedResponse)}
	}

	return RawPage{
		URL:        endpoint,
		HTML:       *envelope.ResultsHTML,
		TotalCount: envelope.TotalCount,
		FetchedAt:  time.Now().UTC(),
	}, nil
}

func (c *Client) listingsURL(watch domain.Watch) string {
	params := url.Values{}
	params.Set("start", "0")
	params.Set("count", strconv.Itoa(c.opts.Count))
	params.Set("currency", strconv.Itoa(watch.CurrencyID))
	params.Set("format", "json")

	name := url.PathEscape(watch.MarketHashName)
	return fmt.Sprintf("%s/market/listings/%d/%s/render?%s", c.baseURL, watch.AppID, name, params.Encode())
}

func (c *Client) backoff(attempt int) time.Duration {
	base := c.opts.BaseDelay
	jitter := time.Duration(rand.Int64N(int64(base)))
	return base*time.Duration(1<<attempt) + jitter
}

type renderResponse struct {
	Success     bool    `json:"success"`
	ResultsHTML *string `json:"results_html"`
	TotalCount  int     `json:"total_count"`
}

func statusError(status int, payload []byte) error {
	snippet := strings.TrimSpace(string(payload))
	if len(snippet) > 200 {
		snippet = snippet[:200]
	}
	if status == http.StatusTooManyRequests || status >= 500 {
		return &domain.UpstreamError{Service: serviceName, StatusCode: status, Err: fmt.Errorf("%w: %s", domain.ErrTransientUpstream, snippet)}
	}
	return &domain.UpstreamError{Service: serviceName, StatusCode: status, Err: fmt.Errorf("unexpected status: %s", snippet)}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var _ Fetcher = (*Client)(nil)
