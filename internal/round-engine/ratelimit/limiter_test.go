package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock avança o tempo quando o limiter "dorme"
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return nil
}

func newFakeLimiter(t *testing.T, cfg Config, hooks Hooks) (*Limiter, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	l, err := New(cfg, WithClock(clock.Now, clock.Sleep), WithHooks(hooks))
	require.NoError(t, err)
	t.Cleanup(l.Close)
	return l, clock
}

func TestAcquireRespectsWindowAndSpacing(t *testing.T) {
	cfg := DefaultConfig()
	l, clock := newFakeLimiter(t, cfg, Hooks{})

	var grants []time.Time
	for i := 0; i < 40; i++ {
		require.NoError(t, l.Acquire(context.Background()))
		grants = append(grants, clock.Now())
	}

	for i := 1; i < len(grants); i++ {
		assert.GreaterOrEqual(t, grants[i].Sub(grants[i-1]), cfg.MinInterval, "grant %d", i)
	}
	for i, g := range grants {
		inWindow := 0
		for _, other := range grants[:i+1] {
			if g.Sub(other) < cfg.Window {
				inWindow++
			}
		}
		assert.LessOrEqual(t, inWindow, cfg.MaxRequests, "grant %d", i)
	}
}

func TestAcquireWaitsForWindowWhenFull(t *testing.T) {
	l, clock := newFakeLimiter(t, Config{MaxRequests: 3, Window: 10 * time.Second}, Hooks{})
	start := clock.Now()

	var offsets []time.Duration
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Acquire(context.Background()))
		offsets = append(offsets, clock.Now().Sub(start))
	}
	assert.Equal(t, []time.Duration{0, 0, 0, 10 * time.Second, 10 * time.Second}, offsets)

	st := l.Stats()
	assert.Equal(t, 2, st.InWindow)
	assert.Equal(t, 1, st.Remaining)
	assert.Equal(t, time.Duration(0), st.Wait)
}

func TestTryAcquireDoesNotRecordOnDeny(t *testing.T) {
	denied := 0
	l, clock := newFakeLimiter(t, Config{MaxRequests: 2, Window: 10 * time.Second, MinInterval: time.Second},
		Hooks{OnDeny: func() { denied++ }})

	require.True(t, l.TryAcquire())
	require.False(t, l.TryAcquire(), "min interval not elapsed")

	clock.Sleep(context.Background(), time.Second)
	require.True(t, l.TryAcquire())
	clock.Sleep(context.Background(), time.Second)
	require.False(t, l.TryAcquire(), "window full")

	st := l.Stats()
	assert.Equal(t, 2, st.InWindow)
	assert.Equal(t, 0, st.Remaining)
	assert.Equal(t, 8*time.Second, st.Wait)
	assert.Equal(t, uint64(2), st.Granted)
	assert.Equal(t, uint64(2), st.Denied)
	assert.Equal(t, 2, denied)
}

func TestStatsWaitUsesMinInterval(t *testing.T) {
	l, clock := newFakeLimiter(t, DefaultConfig(), Hooks{})
	require.True(t, l.TryAcquire())
	clock.Sleep(context.Background(), 300*time.Millisecond)

	st := l.Stats()
	assert.Equal(t, 800*time.Millisecond, st.Wait)
	assert.Equal(t, 34, st.Remaining)
}

func TestNearLimitWarnsOncePerCrossing(t *testing.T) {
	var hits []int
	l, clock := newFakeLimiter(t, Config{MaxRequests: 5, Window: 10 * time.Second, WarnRatio: 0.8},
		Hooks{OnNearLimit: func(n int) { hits = append(hits, n) }})

	for i := 0; i < 5; i++ {
		require.True(t, l.TryAcquire())
	}
	assert.Equal(t, []int{4}, hits)

	// janela esvazia e o aviso volta a ser armado
	clock.Sleep(context.Background(), 10*time.Second)
	for i := 0; i < 4; i++ {
		require.True(t, l.TryAcquire())
	}
	assert.Equal(t, []int{4, 4}, hits)
}

func TestAcquireCancelledByContext(t *testing.T) {
	l, err := New(Config{MaxRequests: 1, Window: time.Hour})
	require.NoError(t, err)
	defer l.Close()

	require.NoError(t, l.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = l.Acquire(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, l.Stats().InWindow)
}

func TestCloseAbortsPendingAcquire(t *testing.T) {
	l, err := New(Config{MaxRequests: 1, Window: time.Hour})
	require.NoError(t, err)
	require.NoError(t, l.Acquire(context.Background()))

	errCh := make(chan error, 1)
	go func() { errCh <- l.Acquire(context.Background()) }()

	time.Sleep(20 * time.Millisecond)
	l.Close()

	select {
	case err := <-errCh:
		assert.True(t, errors.Is(err, ErrClosed), "got %v", err)
	case <-time.After(time.Second):
		t.Fatal("acquire did not return after Close")
	}
	assert.False(t, l.TryAcquire())
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := New(Config{MaxRequests: 0, Window: time.Second})
	require.ErrorIs(t, err, ErrInvalidConfig)
}
