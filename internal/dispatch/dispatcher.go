// Package dispatch fans an investigation query out to the registered source
// adapters and folds their results into a live report.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lvonguyen/osintforge/internal/dedupe"
	"github.com/lvonguyen/osintforge/internal/investigation"
	"github.com/lvonguyen/osintforge/internal/normalize"
	"github.com/lvonguyen/osintforge/internal/observability"
	"github.com/lvonguyen/osintforge/internal/scoring"
	"github.com/lvonguyen/osintforge/internal/source"
)

// Config holds dispatcher settings. Adapters that carry their own timeout
// (the HTTP sources) use it; SourceTimeouts and DefaultSourceTimeout cover
// the rest.
type Config struct {
	RequestTimeout       time.Duration                              `yaml:"request_timeout"`
	MaxConcurrentSources int                                        `yaml:"max_concurrent_sources"`
	DefaultSourceTimeout time.Duration                              `yaml:"default_source_timeout"`
	SourceTimeouts       map[investigation.SourceKind]time.Duration `yaml:"source_timeouts"`
	RetryBackoff         time.Duration                              `yaml:"retry_backoff"`
	SubscriberBuffer     int                                        `yaml:"subscriber_buffer"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		RequestTimeout:       60 * time.Second,
		MaxConcurrentSources: 8,
		DefaultSourceTimeout: 10 * time.Second,
		SourceTimeouts: map[investigation.SourceKind]time.Duration{
			investigation.SourceFaceRecognition: 30 * time.Second,
		},
		RetryBackoff:     500 * time.Millisecond,
		SubscriberBuffer: 16,
	}
}

// sourceTimeout resolves the per-call deadline of a: the adapter's own
// timeout, then the per-kind override, then the default.
func (d *Dispatcher) sourceTimeout(a source.Adapter) time.Duration {
	if h, ok := a.(source.TimeoutHinter); ok && h.Timeout() > 0 {
		return h.Timeout()
	}
	if t, ok := d.config.SourceTimeouts[a.Kind()]; ok && t > 0 {
		return t
	}
	return d.config.DefaultSourceTimeout
}

// retryPolicy allows a single retry after RetryBackoff.
func (d *Dispatcher) retryPolicy() retry.Backoff {
	backoff := d.config.RetryBackoff
	if backoff <= 0 {
		backoff = time.Nanosecond
	}
	return retry.WithMaxRetries(1, retry.NewConstant(backoff))
}

// Dispatcher runs investigations.
type Dispatcher struct {
	registry   *source.Registry
	normalizer *normalize.Normalizer
	merger     *dedupe.Merger
	policy     scoring.Policy
	config     Config

	logger  *zap.Logger
	metrics *observability.Metrics
	tracer  trace.Tracer
	clock   clockwork.Clock
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(d *Dispatcher) { d.logger = l } }

// WithMetrics sets the metrics sink. A nil sink disables metrics.
func WithMetrics(m *observability.Metrics) Option { return func(d *Dispatcher) { d.metrics = m } }

// WithTracer sets the tracer.
func WithTracer(t trace.Tracer) Option { return func(d *Dispatcher) { d.tracer = t } }

// WithClock sets the clock used for timestamps and durations.
func WithClock(c clockwork.Clock) Option { return func(d *Dispatcher) { d.clock = c } }

// NewDispatcher creates a dispatcher over registry.
func NewDispatcher(registry *source.Registry, normalizer *normalize.Normalizer, merger *dedupe.Merger, policy scoring.Policy, cfg Config, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry:   registry,
		normalizer: normalizer,
		merger:     merger,
		policy:     policy,
		config:     cfg,
		logger:     zap.NewNop(),
		tracer:     otel.Tracer("osintforge/dispatch"),
		clock:      clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.config.MaxConcurrentSources <= 0 {
		d.config.MaxConcurrentSources = 1
	}
	return d
}

// Dispatch starts an investigation and returns immediately. The run is
// detached from ctx's cancellation (but keeps its values) so it outlives the
// request that started it; use Run.Cancel or the request timeout to stop it.
func (d *Dispatcher) Dispatch(ctx context.Context, q investigation.Query) *Run {
	q = q.Normalized()
	run := newRun(uuid.NewString(), q.Fingerprint(), d.clock.Now().UTC(), d.config.SubscriberBuffer)

	base := context.WithoutCancel(ctx)
	var runCtx context.Context
	var cancel context.CancelFunc
	if d.config.RequestTimeout > 0 {
		runCtx, cancel = context.WithTimeout(base, d.config.RequestTimeout)
	} else {
		runCtx, cancel = context.WithCancel(base)
	}
	run.cancel = cancel

	runnable := d.plan(run, q)

	run.mu.Lock()
	run.report.Status = investigation.StateRunning
	run.mu.Unlock()
	d.metrics.InvestigationStarted()

	d.logger.Info("investigation dispatched",
		zap.String("id", run.ID()),
		zap.String("fingerprint", run.Fingerprint()),
		zap.Int("sources", len(runnable)),
	)

	go d.execute(runCtx, run, q, runnable)
	return run
}

// plan records an initial outcome for every requested kind and returns the
// adapters that will actually be invoked.
func (d *Dispatcher) plan(run *Run, q investigation.Query) []source.Adapter {
	run.mu.Lock()
	defer run.mu.Unlock()

	if err := q.Validate(); err != nil {
		return nil
	}

	selected, missing := d.registry.Select(q.RequestedSources)
	for _, kind := range missing {
		run.report.PerSourceStatus[kind] = investigation.SourceOutcome{
			Status:    investigation.OutcomeError,
			ErrorKind: investigation.ErrorUnavailable,
			Message:   "no adapter registered for source",
		}
	}

	var runnable []source.Adapter
	for _, a := range selected {
		switch {
		case !a.Requires().SatisfiedBy(q):
			run.report.PerSourceStatus[a.Kind()] = investigation.SourceOutcome{
				Status:  investigation.OutcomeSkipped,
				Adapter: a.Name(),
				Message: "query lacks fields required by source",
			}
		case !d.normalizer.Supports(a.Kind()):
			run.report.PerSourceStatus[a.Kind()] = investigation.SourceOutcome{
				Status:    investigation.OutcomeError,
				ErrorKind: investigation.ErrorUnavailable,
				Adapter:   a.Name(),
				Message:   "no normalizer registered for source",
			}
		default:
			run.report.PerSourceStatus[a.Kind()] = investigation.SourceOutcome{
				Status:  investigation.OutcomePending,
				Adapter: a.Name(),
			}
			runnable = append(runnable, a)
		}
	}
	return runnable
}

func (d *Dispatcher) execute(ctx context.Context, run *Run, q investigation.Query, adapters []source.Adapter) {
	ctx, span := d.tracer.Start(ctx, "investigation.dispatch", trace.WithAttributes(
		attribute.String("investigation.id", run.ID()),
		attribute.String("investigation.fingerprint", run.Fingerprint()),
		attribute.Int("investigation.sources", len(adapters)),
	))
	defer span.End()

	g := new(errgroup.Group)
	g.SetLimit(d.config.MaxConcurrentSources)

	allDone := make(chan struct{})
	go func() {
		for _, a := range adapters {
			a := a
			g.Go(func() error {
				d.invoke(ctx, run, q, a)
				return nil
			})
		}
		_ = g.Wait()
		close(allDone)
	}()

	var state investigation.RequestState
	select {
	case <-allDone:
		state = d.settledState(run)
	case <-ctx.Done():
		select {
		case <-allDone:
			state = d.settledState(run)
		default:
			state = investigation.StateCancelled
		}
	}
	d.finish(run, state)
	span.SetAttributes(attribute.String("investigation.status", string(state)))
}

// settledState applies the terminal rule once every adapter has returned.
// A source left pending was abandoned by the request deadline.
func (d *Dispatcher) settledState(run *Run) investigation.RequestState {
	run.mu.Lock()
	defer run.mu.Unlock()

	state := investigation.StateFailed
	for _, o := range run.report.PerSourceStatus {
		switch o.Status {
		case investigation.OutcomePending:
			return investigation.StateCancelled
		case investigation.OutcomeSuccess:
			state = investigation.StateCompleted
		}
	}
	return state
}

func (d *Dispatcher) finish(run *Run, state investigation.RequestState) {
	now := d.clock.Now()

	run.mu.Lock()
	ok := run.terminateLocked(state, now)
	started := run.report.StartedAt
	run.mu.Unlock()
	run.cancel()

	if !ok {
		return
	}
	d.metrics.InvestigationFinished(string(state), now.Sub(started))
	d.logger.Info("investigation finished",
		zap.String("id", run.ID()),
		zap.String("fingerprint", run.Fingerprint()),
		zap.String("status", string(state)),
		zap.Duration("elapsed", now.Sub(started)),
	)
}

type invokeResult struct {
	raw investigation.RawResult
	err error
}

// invoke runs one adapter with its deadline and at most one retry, then
// records the outcome.
func (d *Dispatcher) invoke(ctx context.Context, run *Run, q investigation.Query, a source.Adapter) {
	kind := a.Kind()
	ctx, span := d.tracer.Start(ctx, "source.invoke", trace.WithAttributes(
		attribute.String("source.kind", string(kind)),
		attribute.String("source.adapter", a.Name()),
	))
	defer span.End()

	logger := d.logger.With(zap.String("id", run.ID()), zap.String("source", string(kind)))
	start := d.clock.Now()

	var (
		raw      investigation.RawResult
		attempts int
	)
	timeout := d.sourceTimeout(a)
	err := retry.Do(ctx, d.retryPolicy(), func(ctx context.Context) error {
		attempts++
		if attempts > 1 {
			logger.Debug("retrying source", zap.Int("attempt", attempts))
			d.metrics.SourceRetried(string(kind))
		}
		var err error
		raw, err = d.attempt(ctx, q, a, timeout)
		if err != nil && retryable(err) && ctx.Err() == nil {
			return retry.RetryableError(err)
		}
		return err
	})

	// The request itself ended; finish records this source as cancelled.
	if err != nil && ctx.Err() != nil {
		logger.Debug("source abandoned", zap.Error(err))
		return
	}

	outcome := investigation.SourceOutcome{
		Adapter:  a.Name(),
		Attempts: attempts,
		Duration: d.clock.Since(start),
	}

	var frag *investigation.Fragment
	if err == nil {
		f, nerr := d.normalizer.Normalize(raw)
		if nerr != nil {
			err = nerr
			logger.Warn("malformed source payload", zap.Error(nerr))
		} else {
			frag = &f
		}
	}

	if err != nil {
		outcome.Status, outcome.ErrorKind = classify(err)
		outcome.Message = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, string(outcome.Status))
	} else {
		outcome.Status = investigation.OutcomeSuccess
	}

	if !d.record(run, kind, outcome, frag) {
		logger.Debug("late source result discarded", zap.String("status", string(outcome.Status)))
		return
	}
	d.metrics.SourceObserved(string(kind), string(outcome.Status), string(outcome.ErrorKind), outcome.Duration)
	logger.Debug("source finished",
		zap.String("status", string(outcome.Status)),
		zap.String("error_kind", string(outcome.ErrorKind)),
		zap.Int("attempts", attempts),
		zap.Duration("duration", outcome.Duration),
	)
}

// attempt runs one adapter call bounded by timeout. The adapter runs in its
// own goroutine so one that ignores cancellation cannot hold the run open;
// its eventual result is dropped.
func (d *Dispatcher) attempt(ctx context.Context, q investigation.Query, a source.Adapter, timeout time.Duration) (investigation.RawResult, error) {
	actx := ctx
	cancel := context.CancelFunc(func() {})
	if timeout > 0 {
		actx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	resCh := make(chan invokeResult, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				resCh <- invokeResult{err: fmt.Errorf("adapter panic: %v: %w", p, source.ErrUnavailable)}
			}
		}()
		raw, err := a.Invoke(actx, q)
		resCh <- invokeResult{raw: raw, err: err}
	}()

	select {
	case res := <-resCh:
		if res.err == nil && res.raw.Kind == "" {
			res.raw.Kind = a.Kind()
		}
		return res.raw, res.err
	case <-actx.Done():
		if ctx.Err() != nil {
			return investigation.RawResult{}, ctx.Err()
		}
		return investigation.RawResult{}, fmt.Errorf("%s exceeded %s: %w", a.Name(), timeout, source.ErrTimeout)
	}
}

// record stores a source outcome and merges its fragment. It reports false
// when the run was already terminal and the result was discarded.
func (d *Dispatcher) record(run *Run, kind investigation.SourceKind, outcome investigation.SourceOutcome, frag *investigation.Fragment) bool {
	run.mu.Lock()
	defer run.mu.Unlock()

	if run.report.Status.Terminal() {
		return false
	}
	if frag != nil {
		merged := d.merger.Merge(run.report.MergedIdentity, *frag)
		run.report.MergedIdentity = scoring.Apply(merged, d.policy)
	}
	run.report.PerSourceStatus[kind] = outcome
	run.broadcastLocked()
	return true
}

func retryable(err error) bool {
	return errors.Is(err, source.ErrTimeout) || errors.Is(err, source.ErrRateLimited)
}

// classify maps an adapter or normalizer error onto an outcome.
func classify(err error) (investigation.OutcomeStatus, investigation.ErrorKind) {
	switch {
	case errors.Is(err, source.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return investigation.OutcomeTimeout, ""
	case errors.Is(err, context.Canceled):
		return investigation.OutcomeError, investigation.ErrorCancelled
	case errors.Is(err, source.ErrRateLimited):
		return investigation.OutcomeError, investigation.ErrorRateLimited
	case errors.Is(err, source.ErrInvalidQuery), errors.Is(err, investigation.ErrInvalidQuery):
		return investigation.OutcomeError, investigation.ErrorInvalidQuery
	case errors.Is(err, investigation.ErrMalformedPayload):
		return investigation.OutcomeError, investigation.ErrorMalformedPayload
	default:
		return investigation.OutcomeError, investigation.ErrorUnavailable
	}
}
