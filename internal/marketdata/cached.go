package marketdata

import (
	"context"
	"log/slog"
	"time"

	"github.com/patrickmn/go-cache"
)

type CacheConfig struct {
	// Refresh is how long a snapshot is served without asking the provider.
	Refresh time.Duration
	// Timeout bounds each provider call.
	Timeout time.Duration
}

// Cached wraps a Provider. Live snapshots are held for Refresh; the last
// good snapshot per pair is kept indefinitely as the degraded fallback.
type Cached struct {
	provider Provider
	live     *cache.Cache
	lastGood *cache.Cache
	cfg      CacheConfig
	logger   *slog.Logger
	now      func() time.Time
}

func NewCached(p Provider, cfg CacheConfig, logger *slog.Logger) *Cached {
	if cfg.Refresh <= 0 {
		cfg.Refresh = 5 * time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cached{
		provider: p,
		live:     cache.New(cfg.Refresh, 2*cfg.Refresh),
		lastGood: cache.New(cache.NoExpiration, 0),
		cfg:      cfg,
		logger:   logger.With("component", "marketdata"),
		now:      time.Now,
	}
}

// Read never fails. On provider error it returns the last good snapshot
// (HasSpot true) or an empty one (HasSpot false), Degraded either way.
func (c *Cached) Read(ctx context.Context, base, quote string) Reading {
	key := pairKey(base, quote)
	if v, ok := c.live.Get(key); ok {
		snap := v.(Snapshot)
		return Reading{Snapshot: snap, Freshness: c.freshness(snap.AsOf), HasSpot: true}
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	snap, err := c.provider.Snapshot(callCtx, base, quote)
	if err == nil {
		c.live.SetDefault(key, snap)
		c.lastGood.Set(key, snap, cache.NoExpiration)
		return Reading{Snapshot: snap, Freshness: c.freshness(snap.AsOf), HasSpot: true}
	}

	c.logger.Warn("market data lookup failed, degrading", "pair", key, "error", err)
	if v, ok := c.lastGood.Get(key); ok {
		last := v.(Snapshot)
		return Reading{Snapshot: last, Degraded: true, Freshness: Stale, HasSpot: true}
	}
	return Reading{Snapshot: Snapshot{Base: base, Quote: quote}, Degraded: true, Freshness: Stale}
}

// Invalidate drops the live entry so the next Read goes to the provider.
func (c *Cached) Invalidate(base, quote string) {
	c.live.Delete(pairKey(base, quote))
}

func (c *Cached) freshness(asOf time.Time) Freshness {
	age := c.now().Sub(asOf)
	switch {
	case age <= c.cfg.Refresh:
		return Fresh
	case age <= 2*c.cfg.Refresh:
		return Aging
	default:
		return Stale
	}
}
