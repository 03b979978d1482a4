package source

import (
	"context"
	"sync"

	"github.com/lvonguyen/osintforge/internal/investigation"
)

// Status is the readiness of one registered adapter.
type Status struct {
	Kind      investigation.SourceKind `json:"kind"`
	Adapter   string                   `json:"adapter"`
	Healthy   bool                     `json:"healthy"`
	Error     string                   `json:"error,omitempty"`
	RateLimit *RateLimitStatus         `json:"rate_limit,omitempty"`
}

// Check runs every adapter's health check concurrently and reports the
// results in kind order. Adapters without a health check count as healthy.
func (r *Registry) Check(ctx context.Context) []Status {
	var adapters []Adapter
	for _, kind := range r.Kinds() {
		if a, ok := r.Get(kind); ok {
			adapters = append(adapters, a)
		}
	}

	out := make([]Status, len(adapters))
	var wg sync.WaitGroup
	for i, a := range adapters {
		out[i] = Status{Kind: a.Kind(), Adapter: a.Name(), Healthy: true}
		hc, ok := a.(HealthChecker)
		if !ok {
			continue
		}
		wg.Add(1)
		go func(st *Status) {
			defer wg.Done()
			if err := hc.HealthCheck(ctx); err != nil {
				st.Healthy = false
				st.Error = err.Error()
			}
		}(&out[i])
	}
	wg.Wait()

	// Quota is read after the checks so it reflects their responses.
	for i, a := range adapters {
		if qr, ok := a.(QuotaReporter); ok {
			rl := qr.RateLimit()
			out[i].RateLimit = &rl
		}
	}
	return out
}

// AnyHealthy reports whether at least one adapter in statuses is healthy.
func AnyHealthy(statuses []Status) bool {
	for _, st := range statuses {
		if st.Healthy {
			return true
		}
	}
	return false
}
