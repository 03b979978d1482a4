package source

import (
	"fmt"

	"go.uber.org/multierr"
)

// Config groups the settings of every built-in adapter.
type Config struct {
	Social SocialConfig   `yaml:"social"`
	Breach BreachConfig   `yaml:"breach"`
	Domain ProviderConfig `yaml:"domain"`
	Face   FaceConfig     `yaml:"face"`
}

// DefaultConfig returns defaults with only the keyless domain lookup enabled.
func DefaultConfig() Config {
	domain := DefaultDomainConfig()
	domain.Enabled = true
	return Config{
		Social: DefaultSocialConfig(),
		Breach: DefaultBreachConfig(),
		Domain: domain,
		Face:   DefaultFaceConfig(),
	}
}

// Enabled returns the names of enabled adapters.
func (c Config) Enabled() []string {
	var names []string
	if c.Social.Enabled {
		names = append(names, "social-search")
	}
	if c.Breach.Enabled {
		names = append(names, "breach-lookup")
	}
	if c.Domain.Enabled {
		names = append(names, "domain-lookup")
	}
	if c.Face.Enabled {
		names = append(names, "face-recognition")
	}
	return names
}

// BuildRegistry constructs every enabled adapter. Adapters that fail to
// initialize are left out and their errors combined; the registry is always
// returned so the service can run with what is available.
func BuildRegistry(cfg Config) (*Registry, error) {
	reg, _ := NewRegistry()
	var errs error

	add := func(name string, a Adapter, err error) {
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", name, err))
			return
		}
		errs = multierr.Append(errs, reg.Register(a))
	}

	if cfg.Social.Enabled {
		a, err := NewSocialSearchAdapter(cfg.Social)
		add("social-search", a, err)
	}
	if cfg.Breach.Enabled {
		a, err := NewBreachLookupAdapter(cfg.Breach)
		add("breach-lookup", a, err)
	}
	if cfg.Domain.Enabled {
		a, err := NewDomainLookupAdapter(cfg.Domain)
		add("domain-lookup", a, err)
	}
	if cfg.Face.Enabled {
		a, err := NewFaceRecognitionAdapter(cfg.Face)
		add("face-recognition", a, err)
	}
	return reg, errs
}
