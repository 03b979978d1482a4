package source

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/lvonguyen/osintforge/internal/investigation"
)

// DomainLookupAdapter fetches registration data over RDAP.
type DomainLookupAdapter struct {
	*httpSource
}

// DefaultDomainConfig returns sensible defaults. RDAP needs no API key.
func DefaultDomainConfig() ProviderConfig {
	return ProviderConfig{
		BaseURL:   "https://rdap.org",
		Timeout:   10 * time.Second,
		RateLimit: 30,
	}
}

// NewDomainLookupAdapter creates the adapter.
func NewDomainLookupAdapter(config ProviderConfig) (*DomainLookupAdapter, error) {
	src, err := newHTTPSource("domain-lookup", config, "")
	if err != nil {
		return nil, err
	}
	return &DomainLookupAdapter{httpSource: src}, nil
}

func (a *DomainLookupAdapter) Name() string { return "domain-lookup" }
func (a *DomainLookupAdapter) Kind() investigation.SourceKind {
	return investigation.SourceDomainLookup
}
func (a *DomainLookupAdapter) Requires() Requirement { return Requires(investigation.FieldDomain) }

// HealthCheck verifies connectivity.
func (a *DomainLookupAdapter) HealthCheck(ctx context.Context) error {
	return a.healthCheck(ctx, "/help")
}

// Invoke looks up the query's domain, or the domain of its email address.
func (a *DomainLookupAdapter) Invoke(ctx context.Context, q investigation.Query) (investigation.RawResult, error) {
	domain := q.LookupDomain()
	if domain == "" {
		return investigation.RawResult{}, fmt.Errorf("no domain to look up: %w", ErrInvalidQuery)
	}

	req, err := a.newRequest(ctx, http.MethodGet, "/domain/"+url.PathEscape(domain), nil)
	if err != nil {
		return investigation.RawResult{}, err
	}
	req.Header.Set("Accept", "application/rdap+json, application/json")

	body, status, err := a.do(req)
	if err != nil {
		return investigation.RawResult{}, err
	}
	if status == http.StatusNotFound {
		body = []byte(`{}`)
	}

	return investigation.RawResult{
		Kind:       a.Kind(),
		Adapter:    a.Name(),
		Payload:    body,
		ReceivedAt: time.Now().UTC(),
	}, nil
}
