// Package source fetches recent reels for a monitored account from the
// Instagram web profile endpoint. Failures are classified: 401/403/429 flip
// the shared block flag and surface ratelimit.ErrBlocked; every other failure
// (network, non-2xx, malformed payload) is transient and yields an empty
// item list so one bad handle never aborts a collection pass.
package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/reelwatch/reelwatch/internal/metrics"
)

const profileEndpoint = "https://www.instagram.com/api/v1/users/web_profile_info/"

// maxItems caps how many of the feed's most recent reels are considered.
const maxItems = 5

// Item is one trackable reel as returned by the source.
type Item struct {
	URL      string
	Views    int64
	Likes    int64
	Comments int64
	Caption  string
}

// Budget is the pacing and block-state choke point every request goes through.
type Budget interface {
	Wait(ctx context.Context) error
	Cooldown(ctx context.Context) error
	MarkBlocked()
}

// Config holds source client configuration.
type Config struct {
	UserAgent string
	AppID     string
	Timeout   time.Duration
}

// Client talks to the content source under a shared request budget.
type Client struct {
	http   *http.Client
	budget Budget
	cfg    Config
	log    *zap.Logger
}

// NewClient builds a Client. The budget is required; all pacing, jitter and
// block bookkeeping happens there.
func NewClient(cfg Config, budget Budget, log *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		http:   &http.Client{Timeout: timeout},
		budget: budget,
		cfg:    cfg,
		log:    log,
	}
}

// Fetch returns up to five of the handle's most recent reels. It returns
// ratelimit.ErrBlocked (via the budget) when the source has hard-blocked the
// client; transient failures return an empty slice and a nil error.
func (c *Client) Fetch(ctx context.Context, handle string) ([]Item, error) {
	if err := c.budget.Wait(ctx); err != nil {
		return nil, err
	}

	endpoint := profileEndpoint + "?username=" + url.QueryEscape(handle)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build profile request: %w", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-IG-App-ID", c.cfg.AppID)

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("fetch %s: %w", handle, ctx.Err())
		}
		c.log.Warn("fetch failed", zap.String("handle", handle), zap.Error(err))
		metrics.ObserveFetch("error")
		return nil, nil
	}
	defer resp.Body.Close() //nolint:errcheck

	switch {
	case isHardBlock(resp.StatusCode):
		c.log.Warn("source hard block",
			zap.String("handle", handle), zap.Int("status", resp.StatusCode))
		metrics.ObserveFetch("blocked")
		c.budget.MarkBlocked()
		// Surface the sticky state through a second Wait so callers get the
		// same sentinel whether they hit the block first or not.
		return nil, c.budget.Wait(ctx)
	case resp.StatusCode != http.StatusOK:
		c.log.Warn("unexpected status",
			zap.String("handle", handle), zap.Int("status", resp.StatusCode))
		metrics.ObserveFetch("error")
		return nil, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.log.Warn("read body failed", zap.String("handle", handle), zap.Error(err))
		metrics.ObserveFetch("error")
		return nil, nil
	}

	items, err := parseProfile(body)
	if err != nil {
		c.log.Warn("invalid profile payload", zap.String("handle", handle), zap.Error(err))
		metrics.ObserveFetch("error")
		return nil, nil
	}

	if len(items) == 0 {
		metrics.ObserveFetch("empty")
	} else {
		metrics.ObserveFetch("ok")
	}

	if err := c.budget.Cooldown(ctx); err != nil {
		return nil, err
	}
	return items, nil
}

func isHardBlock(status int) bool {
	return status == http.StatusUnauthorized ||
		status == http.StatusForbidden ||
		status == http.StatusTooManyRequests
}
