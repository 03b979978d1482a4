package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/lvonguyen/osintforge/internal/cache"
	"github.com/lvonguyen/osintforge/internal/dedupe"
	"github.com/lvonguyen/osintforge/internal/dispatch"
	"github.com/lvonguyen/osintforge/internal/investigation"
	"github.com/lvonguyen/osintforge/internal/normalize"
	"github.com/lvonguyen/osintforge/internal/scoring"
	"github.com/lvonguyen/osintforge/internal/source"
	"github.com/lvonguyen/osintforge/internal/store"
)

// =============================================================================
// Helpers
// =============================================================================

const breachPayload = `[{"Name":"Adobe","BreachDate":"2013-10-04","DataClasses":["Passwords","Email addresses"]}]`

var query = investigation.Query{Name: "Asha Rao", Email: "asha@example.com"}

type countingAdapter struct {
	calls   atomic.Int32
	release chan struct{}
	err     error
}

func (c *countingAdapter) adapter() source.Adapter {
	return source.AdapterFunc{
		SourceKind:  investigation.SourceBreachLookup,
		Requirement: source.Requires(investigation.FieldEmail),
		Fn: func(ctx context.Context, _ investigation.Query) ([]byte, error) {
			c.calls.Add(1)
			if c.release != nil {
				select {
				case <-c.release:
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
			if c.err != nil {
				return nil, c.err
			}
			return []byte(breachPayload), nil
		},
	}
}

func newTestEngine(t *testing.T, cacheCfg cache.Config, st Store, adapters ...source.Adapter) *Engine {
	t.Helper()
	reg, err := source.NewRegistry(adapters...)
	require.NoError(t, err)

	logger := zaptest.NewLogger(t)
	cfg := dispatch.DefaultConfig()
	cfg.RequestTimeout = 5 * time.Second
	cfg.RetryBackoff = 10 * time.Millisecond

	d := dispatch.NewDispatcher(
		reg,
		normalize.NewNormalizer(normalize.DefaultConfig()),
		dedupe.NewMerger(dedupe.DefaultConfig()),
		scoring.DefaultPolicy(),
		cfg,
		dispatch.WithLogger(logger),
	)
	return New(d, cache.New[*dispatch.Run](cacheCfg, cache.WithLogger(logger)), st, logger)
}

func waitDone(t *testing.T, run *dispatch.Run) investigation.Report {
	t.Helper()
	select {
	case <-run.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish")
	}
	return run.Snapshot()
}

// =============================================================================
// Submit
// =============================================================================

func TestSubmit_InvalidQuery(t *testing.T) {
	e := newTestEngine(t, cache.DefaultConfig(), nil)

	_, err := e.Submit(context.Background(), investigation.Query{Location: "Pune"})
	assert.ErrorIs(t, err, investigation.ErrInvalidQuery)
}

func TestSubmit_ConcurrentIdenticalQueriesShareOneDispatch(t *testing.T) {
	src := &countingAdapter{release: make(chan struct{})}
	e := newTestEngine(t, cache.DefaultConfig(), nil, src.adapter())

	const n = 20
	subs := make([]Submission, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Differently formatted but equivalent queries.
			q := query
			if i%2 == 0 {
				q.Email = "  ASHA@example.com "
				q.Name = "asha   rao"
			}
			sub, err := e.Submit(context.Background(), q)
			assert.NoError(t, err)
			subs[i] = sub
		}(i)
	}
	wg.Wait()
	close(src.release)

	created := 0
	for _, s := range subs {
		assert.Same(t, subs[0].Run, s.Run)
		assert.Equal(t, subs[0].Fingerprint, s.Fingerprint)
		if s.Created {
			created++
		}
	}
	assert.Equal(t, 1, created)

	report := waitDone(t, subs[0].Run)
	assert.Equal(t, investigation.StateCompleted, report.Status)
	assert.Equal(t, int32(1), src.calls.Load())
}

func TestSubmit_CompletedReportServedFromCache(t *testing.T) {
	src := &countingAdapter{}
	e := newTestEngine(t, cache.DefaultConfig(), nil, src.adapter())
	ctx := context.Background()

	first, err := e.Submit(ctx, query)
	require.NoError(t, err)
	require.True(t, first.Created)
	waitDone(t, first.Run)

	second, err := e.Submit(ctx, query)
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, investigation.StateCompleted, second.Status)
	require.NotNil(t, second.Report)
	assert.Len(t, second.Report.MergedIdentity.Breaches, 1)
	assert.Equal(t, int32(1), src.calls.Load())
}

func TestSubmit_FailedRunIsRetried(t *testing.T) {
	src := &countingAdapter{err: source.ErrUnavailable}
	e := newTestEngine(t, cache.DefaultConfig(), nil, src.adapter())
	ctx := context.Background()

	first, err := e.Submit(ctx, query)
	require.NoError(t, err)
	assert.Equal(t, investigation.StateFailed, waitDone(t, first.Run).Status)

	second, err := e.Submit(ctx, query)
	require.NoError(t, err)
	assert.True(t, second.Created)
	assert.NotSame(t, first.Run, second.Run)
	waitDone(t, second.Run)
	assert.Equal(t, int32(2), src.calls.Load())
}

// =============================================================================
// Report lookup
// =============================================================================

func TestReport_NotFound(t *testing.T) {
	e := newTestEngine(t, cache.DefaultConfig(), nil)

	_, err := e.Report(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReport_GoneAfterTTL(t *testing.T) {
	cfg := cache.DefaultConfig()
	cfg.TTL = 20 * time.Millisecond
	src := &countingAdapter{}
	e := newTestEngine(t, cfg, nil, src.adapter())

	sub, err := e.Submit(context.Background(), query)
	require.NoError(t, err)
	waitDone(t, sub.Run)

	assert.Eventually(t, func() bool {
		_, err := e.Report(context.Background(), sub.Fingerprint)
		return err != nil
	}, time.Second, 5*time.Millisecond)

	_, err = e.Report(context.Background(), sub.Fingerprint)
	assert.ErrorIs(t, err, ErrGone)
}

func TestReport_RunningSnapshot(t *testing.T) {
	src := &countingAdapter{release: make(chan struct{})}
	e := newTestEngine(t, cache.DefaultConfig(), nil, src.adapter())
	defer close(src.release)

	sub, err := e.Submit(context.Background(), query)
	require.NoError(t, err)

	report, err := e.Report(context.Background(), sub.Fingerprint)
	require.NoError(t, err)
	assert.Equal(t, investigation.StateRunning, report.Status)
	assert.Nil(t, report.CompletedAt)
}

// =============================================================================
// Redis mirror
// =============================================================================

func TestEngine_RestoresFromStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	st := store.NewRedisStore(client, store.DefaultConfig(), time.Hour, zaptest.NewLogger(t))

	src := &countingAdapter{}
	first := newTestEngine(t, cache.DefaultConfig(), st, src.adapter())
	sub, err := first.Submit(context.Background(), query)
	require.NoError(t, err)
	want := waitDone(t, sub.Run)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, first.Shutdown(ctx))

	// A fresh engine with an empty cache answers from Redis.
	second := newTestEngine(t, cache.DefaultConfig(), st, src.adapter())
	got, err := second.Report(context.Background(), sub.Fingerprint)
	require.NoError(t, err)
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, investigation.StateCompleted, got.Status)

	resub, err := second.Submit(context.Background(), query)
	require.NoError(t, err)
	assert.False(t, resub.Created)
	assert.Equal(t, int32(1), src.calls.Load())

	assert.NoError(t, second.Ready(context.Background()))
	mr.Close()
	assert.Error(t, second.Ready(context.Background()))
}

func TestEngine_JanitorRunsOnInjectedClock(t *testing.T) {
	clock := clockwork.NewFakeClock()
	logger := zaptest.NewLogger(t)
	src := &countingAdapter{}
	reg, err := source.NewRegistry(src.adapter())
	require.NoError(t, err)

	d := dispatch.NewDispatcher(
		reg,
		normalize.NewNormalizer(normalize.DefaultConfig()),
		dedupe.NewMerger(dedupe.DefaultConfig()),
		scoring.DefaultPolicy(),
		dispatch.DefaultConfig(),
		dispatch.WithLogger(logger),
		dispatch.WithClock(clock),
	)
	cacheCfg := cache.DefaultConfig()
	cacheCfg.TTL = time.Minute
	c := cache.New[*dispatch.Run](cacheCfg, cache.WithClock(clock), cache.WithLogger(logger))
	e := New(d, c, nil, logger, WithClock(clock))

	sub, err := e.Submit(context.Background(), query)
	require.NoError(t, err)
	waitDone(t, sub.Run)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	e.StartJanitor(ctx, 30*time.Second)
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	clock.Advance(time.Minute)
	require.Eventually(t, func() bool { return c.Len() == 0 }, 5*time.Second, 10*time.Millisecond)

	_, err = e.Run(context.Background(), sub.Fingerprint)
	assert.ErrorIs(t, err, ErrGone)

	cancel()
	require.NoError(t, e.Shutdown(context.Background()))
}

func TestEngine_SubmitAfterShutdownIsNotMirrored(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	st := store.NewRedisStore(client, store.DefaultConfig(), time.Hour, zaptest.NewLogger(t))

	e := newTestEngine(t, cache.DefaultConfig(), st, (&countingAdapter{}).adapter())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, e.Shutdown(ctx))

	sub, err := e.Submit(context.Background(), query)
	require.NoError(t, err)
	waitDone(t, sub.Run)
	require.NoError(t, e.Shutdown(ctx))

	_, err = st.Load(context.Background(), sub.Fingerprint)
	assert.ErrorIs(t, err, store.ErrNotFound)

	// The janitor does not start on a closed engine either.
	e.StartJanitor(context.Background(), time.Millisecond)
	require.NoError(t, e.Shutdown(ctx))
}

func TestEngine_ShutdownRacesSubmit(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	st := store.NewRedisStore(client, store.DefaultConfig(), time.Hour, zaptest.NewLogger(t))

	e := newTestEngine(t, cache.DefaultConfig(), st, (&countingAdapter{}).adapter())

	const n = 16
	var wg sync.WaitGroup
	runs := make(chan *dispatch.Run, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			q := query
			q.Email = fmt.Sprintf("asha%d@example.com", i)
			sub, err := e.Submit(context.Background(), q)
			if assert.NoError(t, err) {
				runs <- sub.Run
			}
		}(i)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, e.Shutdown(ctx))
	wg.Wait()
	close(runs)

	for run := range runs {
		waitDone(t, run)
	}
	assert.NoError(t, e.Shutdown(ctx))
}

func TestReady_WithoutStore(t *testing.T) {
	e := newTestEngine(t, cache.DefaultConfig(), nil)
	assert.NoError(t, e.Ready(context.Background()))
}
