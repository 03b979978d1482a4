package investigation

import (
	"time"
)

// RequestState is the lifecycle state of one investigation.
type RequestState string

const (
	StatePending   RequestState = "pending"
	StateRunning   RequestState = "running"
	StateCompleted RequestState = "completed"
	StateFailed    RequestState = "failed"
	StateCancelled RequestState = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s RequestState) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// OutcomeStatus is the per-source result of a dispatch.
type OutcomeStatus string

const (
	OutcomePending OutcomeStatus = "pending"
	OutcomeSuccess OutcomeStatus = "success"
	OutcomeTimeout OutcomeStatus = "timeout"
	OutcomeError   OutcomeStatus = "error"
	OutcomeSkipped OutcomeStatus = "skipped"
)

// ErrorKind qualifies an OutcomeError.
type ErrorKind string

const (
	ErrorUnavailable      ErrorKind = "unavailable"
	ErrorRateLimited      ErrorKind = "rate_limited"
	ErrorInvalidQuery     ErrorKind = "invalid_query"
	ErrorMalformedPayload ErrorKind = "malformed_payload"
	ErrorCancelled        ErrorKind = "cancelled"
)

// SourceOutcome is the diagnostic record for one source.
type SourceOutcome struct {
	Status    OutcomeStatus `json:"status"`
	ErrorKind ErrorKind     `json:"error_kind,omitempty"`
	Message   string        `json:"message,omitempty"`
	Adapter   string        `json:"adapter,omitempty"`
	Attempts  int           `json:"attempts"`
	Duration  time.Duration `json:"duration_ns"`
}

// Terminal reports whether the source has finished.
func (o SourceOutcome) Terminal() bool {
	return o.Status != OutcomePending && o.Status != ""
}

// Report is the top-level result of one investigation.
type Report struct {
	ID              string                       `json:"id"`
	Fingerprint     string                       `json:"fingerprint"`
	Status          RequestState                 `json:"status"`
	MergedIdentity  MergedIdentity               `json:"merged_identity"`
	PerSourceStatus map[SourceKind]SourceOutcome `json:"per_source_status"`
	StartedAt       time.Time                    `json:"started_at"`
	CompletedAt     *time.Time                   `json:"completed_at,omitempty"`
}

// Clone returns a deep copy of the report.
func (r Report) Clone() Report {
	out := r
	out.MergedIdentity = r.MergedIdentity.Clone()
	out.PerSourceStatus = make(map[SourceKind]SourceOutcome, len(r.PerSourceStatus))
	for k, v := range r.PerSourceStatus {
		out.PerSourceStatus[k] = v
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		out.CompletedAt = &t
	}
	return out
}
