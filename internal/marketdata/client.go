package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ggonzalez94/lendtools/internal/cache"
	clierr "github.com/ggonzalez94/lendtools/internal/errors"
	"github.com/ggonzalez94/lendtools/internal/httpx"
	"github.com/ggonzalez94/lendtools/internal/logging"
	"github.com/ggonzalez94/lendtools/internal/registry"
	"github.com/ggonzalez94/lendtools/internal/telemetry"
)

const (
	DefaultTimeout = 5 * time.Second
	DefaultTTL     = 60 * time.Second

	sourceName = "market_data"
)

// SnapshotStore persists raw snapshots across processes.
type SnapshotStore interface {
	Get(ctx context.Context, key string) (cache.Entry, error)
	Put(ctx context.Context, key string, payload []byte, ttl time.Duration) error
}

type Config struct {
	Endpoint string
	Timeout  time.Duration
	TTL      time.Duration
	Store    SnapshotStore
	Logger   *slog.Logger
	Metrics  *telemetry.Metrics
}

// Client fetches the protocol's reserve snapshot. Fetches are never retried;
// callers fall back to other sources on failure.
type Client struct {
	http     *httpx.Client
	endpoint string
	timeout  time.Duration
	ttl      time.Duration
	store    SnapshotStore
	logger   *slog.Logger
	metrics  *telemetry.Metrics
	now      func() time.Time

	mu       sync.Mutex
	reserves []Reserve
	cachedAt time.Time
}

func New(cfg Config) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = registry.MarketDataURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.TTL < 0 {
		cfg.TTL = 0
	}
	return &Client{
		http:     httpx.New(cfg.Timeout, 0),
		endpoint: cfg.Endpoint,
		timeout:  cfg.Timeout,
		ttl:      cfg.TTL,
		store:    cfg.Store,
		logger:   logging.OrDefault(cfg.Logger),
		metrics:  telemetry.OrDefault(cfg.Metrics),
		now:      time.Now,
	}
}

func (c *Client) Endpoint() string { return c.endpoint }

// Timeout bounds a single snapshot fetch.
func (c *Client) Timeout() time.Duration { return c.timeout }

// FetchSnapshot performs one GET against the endpoint and validates the shape.
func (c *Client) FetchSnapshot(ctx context.Context) (Snapshot, error) {
	var raw json.RawMessage
	if _, err := httpx.GetJSON(ctx, c.http, c.endpoint, &raw); err != nil {
		c.metrics.Upstream(sourceName, outcome(err))
		return Snapshot{}, classify(err)
	}
	snap, err := DecodeSnapshot(raw)
	if err != nil {
		c.metrics.Upstream(sourceName, outcome(err))
		return Snapshot{}, err
	}
	c.metrics.Upstream(sourceName, "ok")
	for _, skipped := range snap.Skipped {
		c.logger.Warn("skipping unreadable market data reserve", "index", skipped.Index, "symbol", skipped.Symbol, "reason", skipped.Reason)
	}
	snap.raw = raw
	return snap, nil
}

// Reserves returns the normalized reserve list, reusing a snapshot younger than
// the ttl from memory or from the persistent store before fetching.
func (c *Client) Reserves(ctx context.Context) ([]Reserve, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.reserves != nil && c.ttl > 0 && c.now().Sub(c.cachedAt) < c.ttl {
		return c.reserves, nil
	}
	if reserves, ok := c.loadStored(ctx); ok {
		return reserves, nil
	}

	snap, err := c.FetchSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	c.reserves = Normalize(snap)
	c.cachedAt = c.now()
	c.persist(ctx, snap.raw)
	return c.reserves, nil
}

func (c *Client) cacheKey() string {
	return "market:" + c.endpoint
}

func (c *Client) loadStored(ctx context.Context) ([]Reserve, bool) {
	if c.store == nil || c.ttl <= 0 {
		return nil, false
	}
	entry, err := c.store.Get(ctx, c.cacheKey())
	if err != nil {
		c.logger.Warn("market data cache read failed", "error", err)
		return nil, false
	}
	if !entry.Hit || entry.Stale {
		return nil, false
	}
	snap, err := DecodeSnapshot(entry.Payload)
	if err != nil {
		c.logger.Warn("discarding unreadable cached market snapshot", "error", err)
		return nil, false
	}
	c.reserves = Normalize(snap)
	c.cachedAt = entry.FetchedAt
	c.logger.Debug("market data served from cache", "age", entry.Age.String())
	return c.reserves, true
}

func (c *Client) persist(ctx context.Context, raw []byte) {
	if c.store == nil || c.ttl <= 0 || len(raw) == 0 {
		return
	}
	if err := c.store.Put(ctx, c.cacheKey(), raw, c.ttl); err != nil {
		c.logger.Warn("market data cache write failed", "error", err)
	}
}

func classify(err error) error {
	cErr, ok := clierr.As(err)
	if !ok {
		return clierr.Wrap(clierr.CodeUpstreamNetwork, "fetch market data", err)
	}
	if status := httpx.Status(err); status != 0 {
		return clierr.Wrap(cErr.Code, fmt.Sprintf("market data endpoint returned status %d", status), err)
	}
	return clierr.Wrap(cErr.Code, "fetch market data", err)
}

func outcome(err error) string {
	switch {
	case IsAPIError(err):
		return "api_error"
	case IsNetworkError(err):
		return "network_error"
	case IsParseError(err):
		return "parse_error"
	default:
		return "error"
	}
}

// IsAPIError reports a non-2xx response from the endpoint.
func IsAPIError(err error) bool { return clierr.Is(err, clierr.CodeUpstreamAPI) }

// IsNetworkError reports a timeout or transport failure.
func IsNetworkError(err error) bool { return clierr.Is(err, clierr.CodeUpstreamNetwork) }

// IsParseError reports a response that did not match the expected shape.
func IsParseError(err error) bool { return clierr.Is(err, clierr.CodeUpstreamParse) }
