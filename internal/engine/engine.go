// Package engine ties the dispatcher, report cache and optional Redis mirror
// together behind the operations the API exposes.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/lvonguyen/osintforge/internal/cache"
	"github.com/lvonguyen/osintforge/internal/dispatch"
	"github.com/lvonguyen/osintforge/internal/investigation"
	"github.com/lvonguyen/osintforge/internal/store"
)

var (
	// ErrNotFound means the fingerprint is unknown.
	ErrNotFound = errors.New("investigation not found")
	// ErrGone means the investigation existed but has been evicted or expired.
	ErrGone = errors.New("investigation expired")
)

// Store persists terminal reports beyond the process-local cache.
type Store interface {
	Save(ctx context.Context, report investigation.Report) error
	Load(ctx context.Context, fingerprint string) (investigation.Report, error)
	Ping(ctx context.Context) error
}

// Submission is the result of submitting a query.
type Submission struct {
	Fingerprint string
	Status      investigation.RequestState
	// Created is true when this call started a new dispatch.
	Created bool
	// Report is set when a completed report was served from cache.
	Report *investigation.Report
	Run    *dispatch.Run
}

// Engine coordinates investigations.
type Engine struct {
	dispatcher *dispatch.Dispatcher
	cache      *cache.Cache[*dispatch.Run]
	store      Store
	logger     *zap.Logger
	clock      clockwork.Clock

	saveTimeout time.Duration

	// mu guards closed; background work is only added to wg while open.
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the clock used by the janitor and for restored reports.
func WithClock(c clockwork.Clock) Option { return func(e *Engine) { e.clock = c } }

// New creates an engine. st may be nil.
func New(d *dispatch.Dispatcher, c *cache.Cache[*dispatch.Run], st Store, logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		dispatcher:  d,
		cache:       c,
		store:       st,
		logger:      logger,
		clock:       clockwork.NewRealClock(),
		saveTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// track registers one unit of background work. It fails once Shutdown has
// begun.
func (e *Engine) track() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	e.wg.Add(1)
	return true
}

// Submit validates q and returns the investigation for its fingerprint,
// starting one if none is live. Completed investigations are served from
// cache; failed or cancelled ones are retried with a fresh dispatch.
func (e *Engine) Submit(ctx context.Context, q investigation.Query) (Submission, error) {
	if err := q.Validate(); err != nil {
		return Submission{}, err
	}
	q = q.Normalized()
	fp := q.Fingerprint()

	if _, err := e.cache.Lookup(fp); err != nil && e.store != nil {
		e.restoreFromStore(ctx, fp)
	}

	run, created := e.cache.GetOrCreate(fp,
		func() *dispatch.Run { return e.dispatcher.Dispatch(ctx, q) },
		reusable,
	)
	if created {
		e.watch(run)
	}

	snap := run.Snapshot()
	sub := Submission{
		Fingerprint: fp,
		Status:      snap.Status,
		Created:     created,
		Run:         run,
	}
	if snap.Status == investigation.StateCompleted {
		sub.Report = &snap
	}

	e.logger.Debug("investigation submitted",
		zap.String("fingerprint", fp),
		zap.String("status", string(snap.Status)),
		zap.Bool("created", created),
	)
	return sub, nil
}

// reusable reports whether a cached run may serve a new submission.
func reusable(r *dispatch.Run) bool {
	switch r.Status() {
	case investigation.StateFailed, investigation.StateCancelled:
		return false
	}
	return true
}

// Run returns the live or cached run for fp.
func (e *Engine) Run(ctx context.Context, fp string) (*dispatch.Run, error) {
	run, err := e.cache.Lookup(fp)
	switch {
	case err == nil:
		return run, nil
	case errors.Is(err, cache.ErrExpired):
		return nil, fmt.Errorf("%s: %w", fp, ErrGone)
	}

	if e.store == nil {
		return nil, fmt.Errorf("%s: %w", fp, ErrNotFound)
	}
	return e.restoreFromStore(ctx, fp)
}

// Report returns a snapshot of the report for fp.
func (e *Engine) Report(ctx context.Context, fp string) (investigation.Report, error) {
	run, err := e.Run(ctx, fp)
	if err != nil {
		return investigation.Report{}, err
	}
	return run.Snapshot(), nil
}

// Ready checks the engine's dependencies.
func (e *Engine) Ready(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	return e.store.Ping(ctx)
}

// StartJanitor sweeps expired cache entries every interval until ctx ends.
func (e *Engine) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 || !e.track() {
		return
	}
	go func() {
		defer e.wg.Done()
		ticker := e.clock.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				if n := e.cache.Sweep(); n > 0 {
					e.logger.Debug("expired investigations swept", zap.Int("count", n))
				}
			}
		}
	}()
}

// Shutdown stops accepting background work, then waits for pending store
// writes and the janitor. Runs submitted afterwards are not mirrored.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// watch mirrors the run's terminal report to the store.
func (e *Engine) watch(run *dispatch.Run) {
	if e.store == nil {
		return
	}
	if !e.track() {
		e.logger.Warn("engine shutting down, report will not be mirrored", zap.String("fingerprint", run.Fingerprint()))
		return
	}
	go func() {
		defer e.wg.Done()
		<-run.Done()

		ctx, cancel := context.WithTimeout(context.Background(), e.saveTimeout)
		defer cancel()
		if err := e.store.Save(ctx, run.Snapshot()); err != nil {
			e.logger.Warn("failed to mirror report", zap.String("fingerprint", run.Fingerprint()), zap.Error(err))
		}
	}()
}

func (e *Engine) restoreFromStore(ctx context.Context, fp string) (*dispatch.Run, error) {
	report, err := e.store.Load(ctx, fp)
	switch {
	case errors.Is(err, store.ErrExpired):
		return nil, fmt.Errorf("%s: %w", fp, ErrGone)
	case errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("%s: %w", fp, ErrNotFound)
	case err != nil:
		e.logger.Warn("report store unavailable", zap.String("fingerprint", fp), zap.Error(err))
		return nil, fmt.Errorf("%s: %w", fp, ErrNotFound)
	}

	run := dispatch.RestoreRun(report, e.clock)
	if !e.cache.Put(run) {
		if cached, err := e.cache.Lookup(fp); err == nil {
			return cached, nil
		}
	}
	return run, nil
}
