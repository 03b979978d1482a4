package source

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/lvonguyen/osintforge/internal/investigation"
)

// BreachLookupAdapter checks an email address against a Have I Been Pwned
// compatible breach database.
type BreachLookupAdapter struct {
	*httpSource
	config BreachConfig
}

// BreachConfig holds breach-database settings.
type BreachConfig struct {
	ProviderConfig    `yaml:",inline"`
	IncludeUnverified bool `yaml:"include_unverified"`
}

// DefaultBreachConfig returns sensible defaults.
func DefaultBreachConfig() BreachConfig {
	return BreachConfig{
		ProviderConfig: ProviderConfig{
			APIKey:    "HIBP_API_KEY",
			BaseURL:   "https://haveibeenpwned.com",
			Timeout:   10 * time.Second,
			RateLimit: 10,
		},
		IncludeUnverified: true,
	}
}

// NewBreachLookupAdapter creates the adapter.
func NewBreachLookupAdapter(config BreachConfig) (*BreachLookupAdapter, error) {
	src, err := newHTTPSource("breach-lookup", config.ProviderConfig, "hibp-api-key")
	if err != nil {
		return nil, err
	}
	return &BreachLookupAdapter{httpSource: src, config: config}, nil
}

func (a *BreachLookupAdapter) Name() string { return "breach-lookup" }
func (a *BreachLookupAdapter) Kind() investigation.SourceKind {
	return investigation.SourceBreachLookup
}
func (a *BreachLookupAdapter) Requires() Requirement { return Requires(investigation.FieldEmail) }

// HealthCheck verifies connectivity.
func (a *BreachLookupAdapter) HealthCheck(ctx context.Context) error {
	return a.healthCheck(ctx, "/api/v3/dataclasses")
}

// Invoke fetches the breaches containing the query email. An unknown account
// is a successful empty result, not an error.
func (a *BreachLookupAdapter) Invoke(ctx context.Context, q investigation.Query) (investigation.RawResult, error) {
	params := url.Values{}
	params.Set("truncateResponse", "false")
	if !a.config.IncludeUnverified {
		params.Set("includeUnverified", "false")
	}

	path := "/api/v3/breachedaccount/" + url.PathEscape(q.Email) + "?" + params.Encode()
	req, err := a.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return investigation.RawResult{}, err
	}

	body, status, err := a.do(req)
	if err != nil {
		return investigation.RawResult{}, err
	}
	if status == http.StatusNotFound {
		body = []byte(`[]`)
	}

	return investigation.RawResult{
		Kind:       a.Kind(),
		Adapter:    a.Name(),
		Payload:    body,
		ReceivedAt: time.Now().UTC(),
	}, nil
}
