package price_test

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"LendDesk/internal/price"
)

type fakeSource struct {
	mu      sync.Mutex
	calls   int32
	prices  map[string]*big.Int
	err     error
	block   chan struct{} // when set, FetchPrices waits until closed
	started chan struct{} // signaled when a blocked fetch begins
}

func (f *fakeSource) FetchPrices(ctx context.Context, symbols []string) (map[string]*big.Int, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.block != nil {
		if f.started != nil {
			select {
			case f.started <- struct{}{}:
			default:
			}
		}
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]*big.Int, len(f.prices))
	for k, v := range f.prices {
		out[k] = new(big.Int).Set(v)
	}
	return out, nil
}

func newTestCache(source price.Source, ttl time.Duration, now *time.Time) *price.Cache {
	c := price.NewCache(source, ttl, zerolog.Nop())
	c.SetClock(func() time.Time { return *now })
	return c
}

func TestCache_ServesFreshWithoutRefetch(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	src := &fakeSource{prices: map[string]*big.Int{"ETH": big.NewInt(2_600_000_000)}}
	cache := newTestCache(src, 30*time.Second, &now)

	q, err := cache.Price(context.Background(), "ETH")
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if q.Value.Int64() != 2_600_000_000 || q.Fallback {
		t.Errorf("got %s fallback=%v, want fresh 2_600_000_000", q.Value, q.Fallback)
	}

	// Within TTL: no second remote call.
	now = now.Add(10 * time.Second)
	if _, err := cache.Price(context.Background(), "ETH"); err != nil {
		t.Fatalf("price: %v", err)
	}
	if got := atomic.LoadInt32(&src.calls); got != 1 {
		t.Errorf("fetch calls: got %d, want 1", got)
	}
}

func TestCache_RefetchesAfterTTL(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	src := &fakeSource{prices: map[string]*big.Int{"ETH": big.NewInt(2_600_000_000)}}
	cache := newTestCache(src, 30*time.Second, &now)

	if _, err := cache.Price(context.Background(), "ETH"); err != nil {
		t.Fatalf("price: %v", err)
	}

	now = now.Add(31 * time.Second)
	if _, err := cache.Price(context.Background(), "ETH"); err != nil {
		t.Fatalf("price: %v", err)
	}
	if got := atomic.LoadInt32(&src.calls); got != 2 {
		t.Errorf("fetch calls: got %d, want 2", got)
	}
}

func TestCache_FallbackOnSourceFailure(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	src := &fakeSource{err: errors.New("oracle unreachable")}
	cache := newTestCache(src, 30*time.Second, &now)

	q, err := cache.Price(context.Background(), "USDC")
	if err != nil {
		t.Fatalf("fallback must not surface an error, got %v", err)
	}
	if !q.Fallback {
		t.Error("quote must be marked as fallback")
	}
	asset, _ := price.Lookup("USDC")
	if q.Value.Cmp(asset.FallbackPrice) != 0 {
		t.Errorf("fallback value: got %s, want %s", q.Value, asset.FallbackPrice)
	}
}

func TestCache_UnknownAsset(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	cache := newTestCache(&fakeSource{}, 30*time.Second, &now)

	_, err := cache.Price(context.Background(), "DOGE")
	if !errors.Is(err, price.ErrUnknownAsset) {
		t.Errorf("got %v, want ErrUnknownAsset", err)
	}
}

func TestCache_CoalescesConcurrentRefreshes(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	src := &fakeSource{
		prices:  map[string]*big.Int{"ETH": big.NewInt(2_600_000_000)},
		block:   make(chan struct{}),
		started: make(chan struct{}, 1),
	}
	cache := newTestCache(src, 30*time.Second, &now)

	const waiters = 8
	var wg sync.WaitGroup
	errs := make([]error, waiters)
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = cache.Refresh(context.Background())
		}(i)
	}

	// Let the first refresh enter the source, then release it; the other
	// waiters must reuse that refresh instead of fetching again.
	<-src.started
	time.Sleep(20 * time.Millisecond)
	close(src.block)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("waiter %d: %v", i, err)
		}
	}
	if got := atomic.LoadInt32(&src.calls); got != 1 {
		t.Errorf("fetch calls: got %d, want 1 (coalesced)", got)
	}
}

func TestCache_ApplyPushedUpdate(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	src := &fakeSource{prices: map[string]*big.Int{"ETH": big.NewInt(2_600_000_000)}}
	cache := newTestCache(src, 30*time.Second, &now)

	if err := cache.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	cache.Apply("ETH", big.NewInt(2_700_000_000), now.Add(5*time.Second))

	q, err := cache.Price(context.Background(), "ETH")
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if q.Value.Int64() != 2_700_000_000 {
		t.Errorf("pushed update not visible: got %s", q.Value)
	}
	if got := atomic.LoadInt32(&src.calls); got != 1 {
		t.Errorf("fetch calls: got %d, want 1", got)
	}
}
