package price

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	fpmath "LendDesk/internal/math"
	"LendDesk/internal/observability"
)

// ErrUnknownAsset reports a symbol outside the supported registry.
var ErrUnknownAsset = errors.New("unknown asset")

// Quote is one cached price: USD per whole asset unit on the precision
// scale, plus where it came from.
type Quote struct {
	Value    *big.Int
	AsOf     time.Time
	Fallback bool
}

// Source fetches current prices for the given symbols from the remote
// oracle.
type Source interface {
	FetchPrices(ctx context.Context, symbols []string) (map[string]*big.Int, error)
}

// snapshot is an immutable price set. Readers take the whole snapshot
// atomically; refreshes build a new one and swap it in, so concurrent risk
// computations need no locks.
type snapshot struct {
	quotes  map[string]Quote
	fetched time.Time
}

// Cache serves prices from a TTL-bounded snapshot, coalescing concurrent
// refreshes into a single remote call and falling back to the registry's
// static defaults when the source is unreachable.
type Cache struct {
	source  Source
	ttl     time.Duration
	clock   func() time.Time
	logger  zerolog.Logger
	metrics *observability.Metrics

	snap atomic.Pointer[snapshot]

	mu       sync.Mutex
	inflight *refreshCall
}

type refreshCall struct {
	done chan struct{}
	err  error
}

// NewCache builds a cache around the given source and time-to-live.
func NewCache(source Source, ttl time.Duration, logger zerolog.Logger) *Cache {
	c := &Cache{
		source: source,
		ttl:    ttl,
		clock:  time.Now,
		logger: logger,
	}
	c.snap.Store(&snapshot{quotes: map[string]Quote{}})
	return c
}

// SetClock injects a deterministic clock. Tests only.
func (c *Cache) SetClock(clock func() time.Time) {
	c.clock = clock
}

// SetMetrics attaches refresh and fallback counters. Optional.
func (c *Cache) SetMetrics(m *observability.Metrics) {
	c.metrics = m
}

// Price returns the current quote for a supported asset. A fresh snapshot is
// served directly; a stale one triggers a (coalesced) refresh; a failed
// refresh degrades to the asset's documented fallback price.
func (c *Cache) Price(ctx context.Context, symbol string) (Quote, error) {
	asset, ok := Lookup(symbol)
	if !ok {
		return Quote{}, fmt.Errorf("%s: %w", symbol, ErrUnknownAsset)
	}

	if c.metrics != nil {
		c.metrics.PriceSnapshotAge.Set(c.Age().Seconds())
	}

	if q, ok := c.fresh(symbol); ok {
		return q, nil
	}

	if err := c.Refresh(ctx); err != nil {
		c.logger.Warn().Err(err).Str("asset", symbol).Msg("price refresh failed, serving fallback")
		return c.fallback(asset), nil
	}

	if q, ok := c.snap.Load().quotes[symbol]; ok {
		return q, nil
	}
	// Source answered but omitted the asset; treat like an outage for it.
	c.logger.Warn().Str("asset", symbol).Msg("price source omitted asset, serving fallback")
	return c.fallback(asset), nil
}

func (c *Cache) fallback(asset Asset) Quote {
	if c.metrics != nil {
		c.metrics.PriceFallbacks.Inc()
	}
	return Quote{
		Value:    fpmath.Clone(asset.FallbackPrice),
		AsOf:     c.clock(),
		Fallback: true,
	}
}

// Refresh replaces the snapshot with freshly fetched prices. A refresh
// already in flight is reused rather than duplicated; every waiter observes
// that refresh's outcome.
func (c *Cache) Refresh(ctx context.Context) error {
	c.mu.Lock()
	if c.inflight != nil {
		call := c.inflight
		c.mu.Unlock()
		select {
		case <-call.done:
			return call.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	call := &refreshCall{done: make(chan struct{})}
	c.inflight = call
	c.mu.Unlock()

	call.err = c.doRefresh(ctx)
	if c.metrics != nil {
		result := "ok"
		if call.err != nil {
			result = "error"
		}
		c.metrics.PriceRefreshes.WithLabelValues(result).Inc()
	}
	close(call.done)

	c.mu.Lock()
	c.inflight = nil
	c.mu.Unlock()

	return call.err
}

func (c *Cache) doRefresh(ctx context.Context) error {
	symbols := Symbols()
	sort.Strings(symbols)

	prices, err := c.source.FetchPrices(ctx, symbols)
	if err != nil {
		return fmt.Errorf("fetch prices: %w", err)
	}

	now := c.clock()
	quotes := make(map[string]Quote, len(prices))
	for symbol, value := range prices {
		if _, ok := Lookup(symbol); !ok {
			continue
		}
		if !fpmath.IsPositive(value) {
			c.logger.Warn().Str("asset", symbol).Msg("discarding non-positive price")
			continue
		}
		quotes[symbol] = Quote{Value: fpmath.Clone(value), AsOf: now}
	}
	c.snap.Store(&snapshot{quotes: quotes, fetched: now})
	c.logger.Debug().Int("assets", len(quotes)).Msg("price snapshot refreshed")
	return nil
}

// Apply installs a single pushed price update, copy-on-write, without
// touching the other quotes. Used by the streaming feed.
func (c *Cache) Apply(symbol string, value *big.Int, asOf time.Time) {
	if _, ok := Lookup(symbol); !ok || !fpmath.IsPositive(value) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	old := c.snap.Load()
	quotes := make(map[string]Quote, len(old.quotes)+1)
	for k, v := range old.quotes {
		quotes[k] = v
	}
	quotes[symbol] = Quote{Value: fpmath.Clone(value), AsOf: asOf}
	fetched := old.fetched
	if asOf.After(fetched) {
		fetched = asOf
	}
	c.snap.Store(&snapshot{quotes: quotes, fetched: fetched})
}

// Age reports how stale the current snapshot is.
func (c *Cache) Age() time.Duration {
	snap := c.snap.Load()
	if snap.fetched.IsZero() {
		return c.ttl + 1
	}
	return c.clock().Sub(snap.fetched)
}

func (c *Cache) fresh(symbol string) (Quote, bool) {
	snap := c.snap.Load()
	if snap.fetched.IsZero() || c.clock().Sub(snap.fetched) >= c.ttl {
		return Quote{}, false
	}
	q, ok := snap.quotes[symbol]
	return q, ok
}
