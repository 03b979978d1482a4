// Package source provides the intelligence source adapters queried by an
// investigation and the registry the dispatcher selects them from.
package source

import (
	"context"
	"errors"
	"time"

	"github.com/lvonguyen/osintforge/internal/investigation"
)

// Adapter failure classes. Adapters wrap one of these with %w so the
// dispatcher can classify the outcome.
var (
	ErrUnavailable  = errors.New("source unavailable")
	ErrTimeout      = errors.New("source timed out")
	ErrRateLimited  = errors.New("source rate limited")
	ErrInvalidQuery = errors.New("query not accepted by source")
)

// Adapter wraps one external intelligence source.
//
// Implementations must be safe for concurrent use and must abort in-flight
// network calls when ctx is cancelled.
type Adapter interface {
	Name() string
	Kind() investigation.SourceKind
	Requires() Requirement
	Invoke(ctx context.Context, q investigation.Query) (investigation.RawResult, error)
}

// HealthChecker is implemented by adapters that can check their upstream.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// QuotaReporter is implemented by adapters that track upstream quota.
type QuotaReporter interface {
	RateLimit() RateLimitStatus
}

// TimeoutHinter is implemented by adapters with a configured per-call
// timeout. The dispatcher uses it as the adapter's deadline.
type TimeoutHinter interface {
	Timeout() time.Duration
}

// Requirement lists query fields of which at least one must be present for
// the adapter to be invoked. An empty requirement is always satisfied.
type Requirement struct {
	AnyOf []investigation.Field
}

// Requires builds a Requirement satisfied by any of fields.
func Requires(fields ...investigation.Field) Requirement {
	return Requirement{AnyOf: fields}
}

// SatisfiedBy reports whether q carries at least one required field.
func (r Requirement) SatisfiedBy(q investigation.Query) bool {
	if len(r.AnyOf) == 0 {
		return true
	}
	for _, f := range r.AnyOf {
		if q.Has(f) {
			return true
		}
	}
	return false
}

// RateLimitStatus represents upstream API quota as last reported by the source.
type RateLimitStatus struct {
	Remaining int       `json:"remaining"`
	Limit     int       `json:"limit"`
	ResetAt   time.Time `json:"reset_at"`
}

// AdapterFunc adapts a plain function to the Adapter interface.
type AdapterFunc struct {
	AdapterName string
	SourceKind  investigation.SourceKind
	Requirement Requirement
	Fn          func(ctx context.Context, q investigation.Query) ([]byte, error)
}

func (a AdapterFunc) Name() string {
	if a.AdapterName != "" {
		return a.AdapterName
	}
	return string(a.SourceKind)
}

func (a AdapterFunc) Kind() investigation.SourceKind { return a.SourceKind }
func (a AdapterFunc) Requires() Requirement          { return a.Requirement }

func (a AdapterFunc) Invoke(ctx context.Context, q investigation.Query) (investigation.RawResult, error) {
	payload, err := a.Fn(ctx, q)
	if err != nil {
		return investigation.RawResult{}, err
	}
	return investigation.RawResult{
		Kind:       a.SourceKind,
		Adapter:    a.Name(),
		Payload:    payload,
		ReceivedAt: time.Now().UTC(),
	}, nil
}
