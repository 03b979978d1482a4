package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lvonguyen/osintforge/internal/investigation"
)

// Run is one investigation's lifecycle. It owns the merged identity and is the
// only writer to it; readers get deep copies.
type Run struct {
	mu      sync.Mutex
	report  investigation.Report
	subs    map[int]chan investigation.Report
	nextSub int
	buffer  int

	done   chan struct{}
	cancel context.CancelFunc
}

func newRun(id, fingerprint string, startedAt time.Time, buffer int) *Run {
	identity := investigation.NewMergedIdentity()
	return &Run{
		report: investigation.Report{
			ID:              id,
			Fingerprint:     fingerprint,
			Status:          investigation.StatePending,
			MergedIdentity:  identity,
			PerSourceStatus: make(map[investigation.SourceKind]investigation.SourceOutcome),
			StartedAt:       startedAt,
		},
		subs:   make(map[int]chan investigation.Report),
		buffer: buffer,
		done:   make(chan struct{}),
		cancel: func() {},
	}
}

// RestoreRun wraps a terminal report, typically loaded from a store, so it
// can be served like a live run. Non-terminal reports are marked cancelled
// since whatever process was running them is gone. A missing completion time
// is taken from clock.
func RestoreRun(report investigation.Report, clock clockwork.Clock) *Run {
	r := newRun(report.ID, report.Fingerprint, report.StartedAt, 0)
	r.report = report.Clone()
	if r.report.PerSourceStatus == nil {
		r.report.PerSourceStatus = make(map[investigation.SourceKind]investigation.SourceOutcome)
	}
	if !r.report.Status.Terminal() {
		r.report.Status = investigation.StateCancelled
		for k, o := range r.report.PerSourceStatus {
			if !o.Terminal() {
				r.report.PerSourceStatus[k] = investigation.SourceOutcome{
					Status:    investigation.OutcomeError,
					ErrorKind: investigation.ErrorCancelled,
					Adapter:   o.Adapter,
					Attempts:  o.Attempts,
				}
			}
		}
	}
	if r.report.CompletedAt == nil {
		now := clock.Now().UTC()
		r.report.CompletedAt = &now
	}
	close(r.done)
	return r
}

// ID returns the report ID.
func (r *Run) ID() string { return r.report.ID }

// Fingerprint returns the query fingerprint.
func (r *Run) Fingerprint() string { return r.report.Fingerprint }

// Snapshot returns a deep copy of the current report.
func (r *Run) Snapshot() investigation.Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.report.Clone()
}

// Status returns the current lifecycle state.
func (r *Run) Status() investigation.RequestState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.report.Status
}

// CompletedAt returns when the run reached a terminal state.
func (r *Run) CompletedAt() (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.report.CompletedAt == nil {
		return time.Time{}, false
	}
	return *r.report.CompletedAt, true
}

// Done is closed when the run reaches a terminal state.
func (r *Run) Done() <-chan struct{} { return r.done }

// Cancel aborts the run. Adapters still pending are recorded as cancelled.
func (r *Run) Cancel() { r.cancel() }

// Subscribe returns a channel of snapshots, one per state change. Slow
// subscribers miss intermediate snapshots; the channel is closed once the run
// is terminal, after which Snapshot holds the final report. The returned
// function unsubscribes.
func (r *Run) Subscribe() (<-chan investigation.Report, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch := make(chan investigation.Report, r.buffer+1)
	if r.report.Status.Terminal() {
		close(ch)
		return ch, func() {}
	}

	id := r.nextSub
	r.nextSub++
	r.subs[id] = ch
	ch <- r.report.Clone()

	return ch, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if c, ok := r.subs[id]; ok {
			delete(r.subs, id)
			close(c)
		}
	}
}

// broadcastLocked fans the current report out without blocking.
func (r *Run) broadcastLocked() {
	if len(r.subs) == 0 {
		return
	}
	snap := r.report.Clone()
	for _, ch := range r.subs {
		select {
		case ch <- snap:
		default:
		}
	}
}

// terminateLocked moves the run to state, cancelling pending sources.
// It reports false when the run was already terminal.
func (r *Run) terminateLocked(state investigation.RequestState, at time.Time) bool {
	if r.report.Status.Terminal() {
		return false
	}
	for k, o := range r.report.PerSourceStatus {
		if !o.Terminal() {
			o.Status = investigation.OutcomeError
			o.ErrorKind = investigation.ErrorCancelled
			o.Message = "investigation ended before source completed"
			r.report.PerSourceStatus[k] = o
		}
	}
	r.report.Status = state
	completed := at.UTC()
	r.report.CompletedAt = &completed

	r.broadcastLocked()
	for id, ch := range r.subs {
		close(ch)
		delete(r.subs, id)
	}
	close(r.done)
	return true
}
