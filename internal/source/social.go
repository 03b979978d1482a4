package source

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lvonguyen/osintforge/internal/investigation"
)

// SocialSearchAdapter queries a profile-search service that fans out to
// social platforms (twitter, linkedin, instagram, youtube, ...).
type SocialSearchAdapter struct {
	*httpSource
	config SocialConfig
}

// SocialConfig holds social-search settings.
type SocialConfig struct {
	ProviderConfig `yaml:",inline"`
	Platforms      []string `yaml:"platforms"`
	MaxResults     int      `yaml:"max_results"`
}

// DefaultSocialConfig returns sensible defaults.
func DefaultSocialConfig() SocialConfig {
	return SocialConfig{
		ProviderConfig: ProviderConfig{
			APIKey:    "SOCIAL_SEARCH_API_KEY",
			Timeout:   10 * time.Second,
			RateLimit: 60,
		},
		Platforms: []string{
			"twitter", "linkedin", "facebook", "instagram",
			"youtube", "tiktok", "sharechat", "koo", "github",
		},
		MaxResults: 25,
	}
}

// NewSocialSearchAdapter creates the adapter.
func NewSocialSearchAdapter(config SocialConfig) (*SocialSearchAdapter, error) {
	src, err := newHTTPSource("social-search", config.ProviderConfig, "X-API-Key")
	if err != nil {
		return nil, err
	}
	return &SocialSearchAdapter{httpSource: src, config: config}, nil
}

func (a *SocialSearchAdapter) Name() string { return "social-search" }
func (a *SocialSearchAdapter) Kind() investigation.SourceKind {
	return investigation.SourceSocialSearch
}

// Requires reports that any personal identifier is enough to search.
func (a *SocialSearchAdapter) Requires() Requirement {
	return Requires(investigation.FieldName, investigation.FieldEmail, investigation.FieldPhone)
}

// HealthCheck verifies connectivity.
func (a *SocialSearchAdapter) HealthCheck(ctx context.Context) error {
	return a.healthCheck(ctx, "/v1/status")
}

// Invoke searches profiles matching the query's personal identifiers.
func (a *SocialSearchAdapter) Invoke(ctx context.Context, q investigation.Query) (investigation.RawResult, error) {
	params := url.Values{}
	if q.Name != "" {
		params.Set("name", q.Name)
	}
	if q.Email != "" {
		params.Set("email", q.Email)
	}
	if q.Phone != "" {
		params.Set("phone", q.Phone)
	}
	if q.Location != "" {
		params.Set("location", q.Location)
	}
	if len(a.config.Platforms) > 0 {
		params.Set("platforms", strings.Join(a.config.Platforms, ","))
	}
	if a.config.MaxResults > 0 {
		params.Set("limit", fmt.Sprintf("%d", a.config.MaxResults))
	}
	params.Set("lang", q.Language)

	req, err := a.newRequest(ctx, http.MethodGet, "/v1/profiles/search?"+params.Encode(), nil)
	if err != nil {
		return investigation.RawResult{}, err
	}

	body, status, err := a.do(req)
	if err != nil {
		return investigation.RawResult{}, err
	}
	if status == http.StatusNotFound {
		body = []byte(`{"profiles":[]}`)
	}

	return investigation.RawResult{
		Kind:       a.Kind(),
		Adapter:    a.Name(),
		Payload:    body,
		ReceivedAt: time.Now().UTC(),
	}, nil
}
