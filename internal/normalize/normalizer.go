// Package normalize converts raw source payloads into the canonical
// investigation model.
package normalize

import (
	"fmt"
	"html"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
	"github.com/tidwall/gjson"

	"github.com/lvonguyen/osintforge/internal/investigation"
)

// Func normalizes the payload of one source kind. Implementations must be pure.
type Func func(raw investigation.RawResult, s *Sanitizer) (investigation.Fragment, error)

// Config holds normalization settings.
type Config struct {
	MaxBioLength int `yaml:"max_bio_length"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{MaxBioLength: 2000}
}

// Normalizer dispatches raw results to the normalizer for their kind.
type Normalizer struct {
	mu        sync.RWMutex
	funcs     map[investigation.SourceKind]Func
	sanitizer *Sanitizer
}

// NewNormalizer creates a normalizer with the built-in source kinds registered.
func NewNormalizer(cfg Config) *Normalizer {
	n := &Normalizer{
		funcs:     make(map[investigation.SourceKind]Func),
		sanitizer: NewSanitizer(cfg.MaxBioLength),
	}
	n.funcs[investigation.SourceSocialSearch] = Social
	n.funcs[investigation.SourceBreachLookup] = Breach
	n.funcs[investigation.SourceDomainLookup] = Domain
	n.funcs[investigation.SourceFaceRecognition] = Face
	return n
}

// Register installs fn for kind, replacing any existing normalizer.
func (n *Normalizer) Register(kind investigation.SourceKind, fn Func) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.funcs[kind] = fn
}

// Supports reports whether kind has a normalizer.
func (n *Normalizer) Supports(kind investigation.SourceKind) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	_, ok := n.funcs[kind]
	return ok
}

// Normalize converts raw to a fragment. Every failure wraps
// investigation.ErrMalformedPayload.
func (n *Normalizer) Normalize(raw investigation.RawResult) (investigation.Fragment, error) {
	n.mu.RLock()
	fn, ok := n.funcs[raw.Kind]
	n.mu.RUnlock()
	if !ok {
		return investigation.Fragment{}, malformed(raw.Kind, "no normalizer registered")
	}
	if !gjson.ValidBytes(raw.Payload) {
		return investigation.Fragment{}, malformed(raw.Kind, "payload is not valid JSON")
	}

	frag, err := fn(raw, n.sanitizer)
	if err != nil {
		return investigation.Fragment{}, err
	}
	frag.Source = raw.Kind
	frag.ReceivedAt = raw.ReceivedAt
	return frag, nil
}

func malformed(kind investigation.SourceKind, format string, args ...any) error {
	return fmt.Errorf("%s: %s: %w", kind, fmt.Sprintf(format, args...), investigation.ErrMalformedPayload)
}

// Sanitizer strips markup from free-text fields.
type Sanitizer struct {
	policy       *bluemonday.Policy
	maxBioLength int
}

// NewSanitizer creates a sanitizer that truncates bios to maxBioLength runes
// when maxBioLength is positive.
func NewSanitizer(maxBioLength int) *Sanitizer {
	return &Sanitizer{policy: bluemonday.StrictPolicy(), maxBioLength: maxBioLength}
}

// Text returns s with all markup removed and whitespace collapsed.
func (s *Sanitizer) Text(v string) string {
	// StrictPolicy escapes entities; profiles are stored as plain text.
	return strings.Join(strings.Fields(html.UnescapeString(s.policy.Sanitize(v))), " ")
}

// Bio is Text with the length cap applied.
func (s *Sanitizer) Bio(v string) string {
	out := s.Text(v)
	if s.maxBioLength > 0 {
		if r := []rune(out); len(r) > s.maxBioLength {
			out = string(r[:s.maxBioLength])
		}
	}
	return out
}
