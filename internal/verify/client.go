// Package verify resolves inspect links to item details, caching results and
// bounding calls to the inspect service.
package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"market-watcher/internal/domain"
)

const serviceName = "inspect"

// Options parameterise the inspect client.
type Options struct {
	BaseURL     string
	Timeout     time.Duration
	UserAgent   string
	MaxAttempts int
	BaseDelay   time.Duration
}

// Inspector looks up one inspect link.
type Inspector interface {
	Inspect(ctx context.Context, inspectURL string) (*domain.VerificationResult, error)
}

// Client calls an inspect service of the form GET {base}?url={inspect link}.
type Client struct {
	opts   Options
	client *http.Client
	logger zerolog.Logger
}

// NewClient constructs a Client with defaults for unset options.
func NewClient(opts Options, logger zerolog.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 2 * time.Second
	}
	return &Client{
		opts:   opts,
		client: &http.Client{Timeout: opts.Timeout},
		logger: logger.With().Str("component", "inspect_client").Logger(),
	}
}

// Inspect retries every failure (status, network, payload) up to MaxAttempts
// with doubling delays and returns the last error on exhaustion.
func (c *Client) Inspect(ctx context.Context, inspectURL string) (*domain.VerificationResult, error) {
	var lastErr error
	delay := c.opts.BaseDelay
	for attempt := 0; attempt < c.opts.MaxAttempts; attempt++ {
		if attempt > 0 {
			c.logger.Debug().Err(lastErr).Int("attempt", attempt+1).Dur("delay", delay).Msg("retrying inspect")
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
			delay *= 2
		}

		result, err := c.do(ctx, inspectURL)
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
	}
	return nil, lastErr
}

func (c *Client) do(ctx context.Context, inspectURL string) (*domain.VerificationResult, error) {
	endpoint, err := c.endpoint(inspectURL)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.opts.UserAgent != "" {
		req.Header.Set("User-Agent", c.opts.UserAgent)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &domain.UpstreamError{Service: serviceName, Err: fmt.Errorf("%w: %v", domain.ErrTransientUpstream, err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &domain.UpstreamError{Service: serviceName, StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		snippet := strings.TrimSpace(string(body))
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		return nil, &domain.UpstreamError{Service: serviceName, StatusCode: resp.StatusCode, Err: fmt.Errorf("unexpected status: %s", snippet)}
	}

	result, err := decodeItemInfo(body)
	if err != nil {
		return nil, &domain.UpstreamError{Service: serviceName, StatusCode: resp.StatusCode, Err: err}
	}
	return result, nil
}

func (c *Client) endpoint(inspectURL string) (string, error) {
	base, err := url.Parse(c.opts.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse inspect base url: %w", err)
	}
	q := base.Query()
	q.Set("url", inspectURL)
	base.RawQuery = q.Encode()
	return base.String(), nil
}

type itemInfo struct {
	FloatValue *float64         `json:"floatvalue"`
	PaintSeed  *int             `json:"paintseed"`
	PaintIndex *int             `json:"paintindex"`
	WearName   string           `json:"wear_name"`
	Stickers   []domain.Sticker `json:"stickers"`
}

type inspectResponse struct {
	ItemInfo *itemInfo `json:"iteminfo"`

	// Flat layout served by some self-hosted inspect services.
	FloatValue *float64         `json:"float_value"`
	PaintSeed  *int             `json:"paint_seed"`
	PaintIndex *int             `json:"paint_index"`
	WearName   string           `json:"wear_name"`
	Stickers   []domain.Sticker `json:"stickers"`
}

func decodeItemInfo(body []byte) (*domain.VerificationResult, error) {
	var payload inspectResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedResponse, err)
	}

	info := payload.ItemInfo
	if info == nil {
		info = &itemInfo{
			FloatValue: payload.FloatValue,
			PaintSeed:  payload.PaintSeed,
			PaintIndex: payload.PaintIndex,
			WearName:   payload.WearName,
			Stickers:   payload.Stickers,
		}
	}
	if info.FloatValue == nil {
		return nil, fmt.Errorf("%w: float value missing", domain.ErrMalformedResponse)
	}

	return &domain.VerificationResult{
		FloatValue: *info.FloatValue,
		PaintSeed:  info.PaintSeed,
		PaintIndex: info.PaintIndex,
		WearName:   info.WearName,
		Stickers:   info.Stickers,
	}, nil
}

var _ Inspector = (*Client)(nil)
