package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func counting(calls *atomic.Int32, value int, err error) ComputeFunc[int] {
	return func(context.Context) (int, error) {
		calls.Add(1)
		return value, err
	}
}

func TestGetOrCompute_ConcurrentCallersShareOneComputation(t *testing.T) {
	c := New[int](Options{TTL: time.Minute})
	ctx := context.Background()

	var calls atomic.Int32
	release := make(chan struct{})
	fn := func(context.Context) (int, error) {
		calls.Add(1)
		<-release
		return 42, nil
	}

	const callers = 50
	handles := make([]*Handle[int], callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			handles[i] = c.GetOrCompute(ctx, "team:a|points", fn)
		}(i)
	}
	wg.Wait()
	close(release)

	for _, h := range handles {
		require.Same(t, handles[0], h)
		v, err := h.Wait(ctx)
		require.NoError(t, err)
		require.Equal(t, 42, v)
	}
	require.Equal(t, int32(1), calls.Load())

	stats := c.Stats()
	require.Equal(t, int64(1), stats.Misses)
	require.Equal(t, int64(callers-1), stats.Hits)
}

func TestGetOrCompute_TTLBoundary(t *testing.T) {
	clock := newFakeClock()
	ttl := 5 * time.Minute
	c := New[int](Options{TTL: ttl, Now: clock.Now})
	ctx := context.Background()

	var calls atomic.Int32
	first := c.GetOrCompute(ctx, "k", counting(&calls, 1, nil))
	_, err := first.Wait(ctx)
	require.NoError(t, err)

	clock.Advance(ttl - time.Nanosecond)
	require.Same(t, first, c.GetOrCompute(ctx, "k", counting(&calls, 2, nil)))

	clock.Advance(time.Nanosecond)
	require.Same(t, first, c.GetOrCompute(ctx, "k", counting(&calls, 2, nil)), "exactly ttl is still fresh")
	require.Equal(t, int32(1), calls.Load())

	clock.Advance(time.Nanosecond)
	second := c.GetOrCompute(ctx, "k", counting(&calls, 2, nil))
	require.NotSame(t, first, second)
	v, err := second.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, v)
	require.Equal(t, int32(2), calls.Load())
	require.Equal(t, int64(1), c.Stats().Expired)
}

func TestGetOrComputeTTL_PerEntryLifetime(t *testing.T) {
	clock := newFakeClock()
	c := New[int](Options{TTL: 10 * time.Minute, Now: clock.Now})
	ctx := context.Background()

	var calls atomic.Int32
	h := c.GetOrComputeTTL(ctx, "player:7|points", 3*time.Minute, counting(&calls, 1, nil))
	_, _ = h.Wait(ctx)

	clock.Advance(3*time.Minute + time.Second)
	h2 := c.GetOrComputeTTL(ctx, "player:7|points", 3*time.Minute, counting(&calls, 2, nil))
	_, _ = h2.Wait(ctx)
	require.Equal(t, int32(2), calls.Load())
}

func TestGetOrCompute_FailureKeepsValueAndError(t *testing.T) {
	clock := newFakeClock()
	c := New[int](Options{TTL: time.Minute, Now: clock.Now})
	ctx := context.Background()
	boom := errors.New("backend down")

	var calls atomic.Int32
	h := c.GetOrCompute(ctx, "k", counting(&calls, 0, boom))
	v, err := h.Wait(ctx)
	require.ErrorIs(t, err, boom)
	require.Equal(t, 0, v)

	// Without FailureTTL a failed result is cached like any other one.
	clock.Advance(59 * time.Second)
	require.Same(t, h, c.GetOrCompute(ctx, "k", counting(&calls, 1, nil)))
	require.Equal(t, int32(1), calls.Load())

	clock.Advance(2 * time.Second)
	h2 := c.GetOrCompute(ctx, "k", counting(&calls, 1, nil))
	v, err = h2.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, v)
	require.Equal(t, int32(2), calls.Load())
}

func TestGetOrCompute_FailureTTLShortensFailedEntries(t *testing.T) {
	clock := newFakeClock()
	c := New[int](Options{TTL: time.Minute, FailureTTL: 10 * time.Second, Now: clock.Now})
	ctx := context.Background()

	var calls atomic.Int32
	h := c.GetOrCompute(ctx, "k", counting(&calls, 0, errors.New("boom")))
	_, err := h.Wait(ctx)
	require.Error(t, err)

	clock.Advance(11 * time.Second)
	h2 := c.GetOrCompute(ctx, "k", counting(&calls, 5, nil))
	require.NotSame(t, h, h2)
	_, _ = h2.Wait(ctx)

	// successful entries keep the full TTL
	clock.Advance(30 * time.Second)
	require.Same(t, h2, c.GetOrCompute(ctx, "k", counting(&calls, 6, nil)))
	require.Equal(t, int32(2), calls.Load())
}

func TestFailureTTLIsClampedToTTL(t *testing.T) {
	c := New[int](Options{TTL: time.Minute, FailureTTL: time.Hour})
	require.Equal(t, time.Minute, c.failureTTL)
}

func TestInvalidate_InFlightHandleStillResolves(t *testing.T) {
	c := New[int](Options{TTL: time.Minute})
	ctx := context.Background()

	var calls atomic.Int32
	release := make(chan struct{})
	first := c.GetOrCompute(ctx, "team:a|points", func(context.Context) (int, error) {
		calls.Add(1)
		<-release
		return 1, nil
	})

	require.True(t, c.Invalidate("team:a|points"))
	require.False(t, c.Invalidate("team:a|points"))

	second := c.GetOrCompute(ctx, "team:a|points", counting(&calls, 2, nil))
	require.NotSame(t, first, second)

	close(release)
	v, err := first.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, v)
	v, err = second.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, v)
	require.Equal(t, int32(2), calls.Load())
}

func TestInvalidate_FailedInFlightDoesNotTouchReplacement(t *testing.T) {
	clock := newFakeClock()
	c := New[int](Options{TTL: time.Minute, FailureTTL: time.Second, Now: clock.Now})
	ctx := context.Background()

	release := make(chan struct{})
	first := c.GetOrCompute(ctx, "k", func(context.Context) (int, error) {
		<-release
		return 0, errors.New("boom")
	})
	c.Invalidate("k")

	var calls atomic.Int32
	second := c.GetOrCompute(ctx, "k", counting(&calls, 9, nil))
	_, _ = second.Wait(ctx)

	close(release)
	_, err := first.Wait(ctx)
	require.Error(t, err)

	clock.Advance(5 * time.Second)
	require.Same(t, second, c.Get("k"))
}

func TestInvalidateByPrefix(t *testing.T) {
	c := New[int](Options{TTL: time.Minute})
	for _, key := range []string{"team:a|points", "team:a|progress", "team:ab|points", "player:1|points"} {
		c.Set(key, Resolved(1, nil))
	}

	require.Equal(t, 2, c.InvalidateByPrefix("team:a|"))
	require.Nil(t, c.Get("team:a|points"))
	require.Nil(t, c.Get("team:a|progress"))
	require.NotNil(t, c.Get("team:ab|points"))
	require.NotNil(t, c.Get("player:1|points"))
	require.Equal(t, 2, c.Len())
}

func TestInvalidateFunc(t *testing.T) {
	c := New[int](Options{TTL: time.Minute})
	c.Set("a", Resolved(1, nil))
	c.Set("b", Resolved(2, nil))

	removed := c.InvalidateFunc(func(key string) bool { return key == "b" })
	require.Equal(t, 1, removed)
	require.Equal(t, 1, c.Len())
}

func TestClear(t *testing.T) {
	c := New[int](Options{TTL: time.Minute})
	c.Set("a", Resolved(1, nil))
	c.Set("b", Resolved(2, nil))
	c.Clear()
	require.Equal(t, 0, c.Len())
	require.Nil(t, c.Get("a"))
	require.Equal(t, int64(2), c.Stats().Invalidations)
}

func TestGetAndSet(t *testing.T) {
	clock := newFakeClock()
	c := New[string](Options{TTL: time.Minute, Now: clock.Now})

	require.Nil(t, c.Get("k"))

	h := Resolved("v1", nil)
	c.Set("k", h)
	require.Same(t, h, c.Get("k"))

	h2 := Resolved("v2", nil)
	c.Set("k", h2)
	require.Same(t, h2, c.Get("k"))

	clock.Advance(time.Minute + time.Millisecond)
	require.Nil(t, c.Get("k"))
	require.Equal(t, 0, c.Len(), "stale entry is deleted on lookup")
}

func TestHandle_WaitHonoursContext(t *testing.T) {
	c := New[int](Options{TTL: time.Minute})
	release := make(chan struct{})
	var finished atomic.Bool
	h := c.GetOrCompute(context.Background(), "k", func(ctx context.Context) (int, error) {
		<-release
		finished.Store(true)
		return 3, ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.Wait(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, h.Settled())

	close(release)
	v, err := h.Wait(context.Background())
	require.NoError(t, err, "computation is detached from caller cancellation")
	require.Equal(t, 3, v)
	require.True(t, finished.Load())
}

func TestGetOrCompute_ComputeIsDetachedFromCallerContext(t *testing.T) {
	c := New[int](Options{TTL: time.Minute})
	ctx, cancel := context.WithCancel(context.Background())
	release := make(chan struct{})
	h := c.GetOrCompute(ctx, "k", func(ctx context.Context) (int, error) {
		<-release
		return 1, ctx.Err()
	})
	cancel()
	close(release)

	_, err := h.Wait(context.Background())
	require.NoError(t, err)
}

func TestGetOrCompute_PanicResolvesHandle(t *testing.T) {
	c := New[int](Options{TTL: time.Minute})
	h := c.GetOrCompute(context.Background(), "k", func(context.Context) (int, error) {
		panic("kaboom")
	})

	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("handle never resolved")
	}
	_, err := h.Wait(context.Background())
	require.ErrorContains(t, err, "panicked")
}

func TestNew_Defaults(t *testing.T) {
	c := New[int](Options{})
	require.Equal(t, DefaultTTL, c.TTL())
	require.NotEmpty(t, c.shards)
}

func TestSweepExpired(t *testing.T) {
	clock := newFakeClock()
	c := New[int](Options{TTL: 10 * time.Minute, Now: clock.Now})
	ctx := context.Background()

	var calls atomic.Int32
	for i := 0; i < 50; i++ {
		_, _ = c.GetOrCompute(ctx, fmt.Sprintf("team:a|points|%d", i), counting(&calls, i, nil)).Wait(ctx)
	}
	_, _ = c.GetOrComputeTTL(ctx, "company:acme|points", time.Minute, counting(&calls, 1, nil)).Wait(ctx)
	require.Equal(t, 51, c.Len())

	require.Zero(t, c.SweepExpired(), "nothing expired yet")

	clock.Advance(time.Minute + time.Second)
	require.Equal(t, 1, c.SweepExpired())
	require.Equal(t, 50, c.Len())

	clock.Advance(10 * time.Minute)
	_, _ = c.GetOrCompute(ctx, "team:b|points", counting(&calls, 2, nil)).Wait(ctx)
	require.Equal(t, 50, c.SweepExpired())
	require.Equal(t, 1, c.Len(), "live entries survive a sweep")
	require.Equal(t, int64(51), c.Stats().Expired)
}
