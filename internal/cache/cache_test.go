package cache

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeHandle struct {
	fp          string
	mu          sync.Mutex
	completedAt *time.Time
}

func (h *fakeHandle) Fingerprint() string { return h.fp }

func (h *fakeHandle) CompletedAt() (time.Time, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.completedAt == nil {
		return time.Time{}, false
	}
	return *h.completedAt, true
}

func (h *fakeHandle) complete(at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.completedAt = &at
}

func newTestCache(t *testing.T, cfg Config) (*Cache[*fakeHandle], *clockwork.FakeClock) {
	clock := clockwork.NewFakeClock()
	return New[*fakeHandle](cfg, WithClock(clock), WithLogger(zaptest.NewLogger(t))), clock
}

// =============================================================================
// Single flight
// =============================================================================

func TestGetOrCreate_SingleFlight(t *testing.T) {
	c, _ := newTestCache(t, DefaultConfig())

	var creates atomic.Int32
	const n = 50
	handles := make([]*fakeHandle, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			handles[i], _ = c.GetOrCreate("fp", func() *fakeHandle {
				creates.Add(1)
				return &fakeHandle{fp: "fp"}
			}, nil)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), creates.Load())
	for _, h := range handles {
		assert.Same(t, handles[0], h)
	}
}

func TestGetOrCreate_KeepFalseReplaces(t *testing.T) {
	c, clock := newTestCache(t, DefaultConfig())

	first, created := c.GetOrCreate("fp", func() *fakeHandle { return &fakeHandle{fp: "fp"} }, nil)
	require.True(t, created)
	first.complete(clock.Now())

	second, created := c.GetOrCreate("fp", func() *fakeHandle { return &fakeHandle{fp: "fp"} },
		func(*fakeHandle) bool { return false })
	assert.True(t, created)
	assert.NotSame(t, first, second)
}

// =============================================================================
// Expiry
// =============================================================================

func TestLookup_TTLFromCompletion(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TTL = time.Minute
	c, clock := newTestCache(t, cfg)

	h, _ := c.GetOrCreate("fp", func() *fakeHandle { return &fakeHandle{fp: "fp"} }, nil)

	// Running entries never expire.
	clock.Advance(time.Hour)
	got, err := c.Lookup("fp")
	require.NoError(t, err)
	assert.Same(t, h, got)

	h.complete(clock.Now())
	clock.Advance(59 * time.Second)
	_, err = c.Lookup("fp")
	require.NoError(t, err)

	clock.Advance(time.Second)
	_, err = c.Lookup("fp")
	assert.ErrorIs(t, err, ErrExpired)
	assert.Equal(t, 0, c.Len())

	_, err = c.Lookup("fp")
	assert.ErrorIs(t, err, ErrExpired, "tombstone keeps answering expired")

	_, err = c.Lookup("never-seen")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetOrCreate_ExpiredEntryIsRecreated(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TTL = time.Minute
	c, clock := newTestCache(t, cfg)

	old, _ := c.GetOrCreate("fp", func() *fakeHandle { return &fakeHandle{fp: "fp"} }, nil)
	old.complete(clock.Now())
	clock.Advance(2 * time.Minute)

	fresh, created := c.GetOrCreate("fp", func() *fakeHandle { return &fakeHandle{fp: "fp"} }, nil)
	assert.True(t, created)
	assert.NotSame(t, old, fresh)

	got, err := c.Lookup("fp")
	require.NoError(t, err)
	assert.Same(t, fresh, got)
}

func TestSweep(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TTL = time.Minute
	c, clock := newTestCache(t, cfg)

	a, _ := c.GetOrCreate("a", func() *fakeHandle { return &fakeHandle{fp: "a"} }, nil)
	c.GetOrCreate("b", func() *fakeHandle { return &fakeHandle{fp: "b"} }, nil)
	a.complete(clock.Now())
	clock.Advance(time.Minute)

	assert.Equal(t, 1, c.Sweep())
	assert.Equal(t, 1, c.Len())
	_, err := c.Lookup("a")
	assert.ErrorIs(t, err, ErrExpired)
}

// =============================================================================
// Capacity
// =============================================================================

func TestEviction_LRUSkipsRunning(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Capacity = 2
	c, clock := newTestCache(t, cfg)

	running, _ := c.GetOrCreate("running", func() *fakeHandle { return &fakeHandle{fp: "running"} }, nil)
	done, _ := c.GetOrCreate("done", func() *fakeHandle { return &fakeHandle{fp: "done"} }, nil)
	done.complete(clock.Now())

	c.GetOrCreate("new", func() *fakeHandle { return &fakeHandle{fp: "new"} }, nil)

	assert.Equal(t, 2, c.Len())
	got, err := c.Lookup("running")
	require.NoError(t, err)
	assert.Same(t, running, got)

	_, err = c.Lookup("done")
	assert.ErrorIs(t, err, ErrExpired)
}

func TestEviction_OverflowWhenAllRunning(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Capacity = 1
	c, _ := newTestCache(t, cfg)

	c.GetOrCreate("a", func() *fakeHandle { return &fakeHandle{fp: "a"} }, nil)
	c.GetOrCreate("b", func() *fakeHandle { return &fakeHandle{fp: "b"} }, nil)
	assert.Equal(t, 2, c.Len())
}

func TestTombstonesBounded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Capacity = 1
	cfg.Tombstones = 1
	c, clock := newTestCache(t, cfg)

	for _, fp := range []string{"a", "b", "c"} {
		h, _ := c.GetOrCreate(fp, func() *fakeHandle { return &fakeHandle{fp: fp} }, nil)
		h.complete(clock.Now())
	}

	_, err := c.Lookup("a")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = c.Lookup("b")
	assert.ErrorIs(t, err, ErrExpired)
}

func TestPut(t *testing.T) {
	c, clock := newTestCache(t, DefaultConfig())

	h := &fakeHandle{fp: "fp"}
	h.complete(clock.Now())
	assert.True(t, c.Put(h))
	assert.False(t, c.Put(&fakeHandle{fp: "fp"}))

	got, err := c.Lookup("fp")
	require.NoError(t, err)
	assert.Same(t, h, got)
}
