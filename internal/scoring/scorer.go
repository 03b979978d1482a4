// Package scoring computes the composite risk score, privacy score and
// exposure level of a merged identity. All risk arithmetic lives here; other
// packages only render its output.
package scoring

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/lvonguyen/osintforge/internal/investigation"
)

// Factor labels.
const (
	FactorBreaches  = "breach_exposure"
	FactorPlatforms = "platform_exposure"
	FactorFaceMatch = "face_match"
)

// Risk levels.
const (
	LevelLow    = "low"
	LevelMedium = "medium"
	LevelHigh   = "high"
)

// Policy holds the tunable weights of the risk formula.
type Policy struct {
	SeverityWeights map[investigation.Severity]float64 `yaml:"severity_weights"`
	BreachCap       float64                            `yaml:"breach_cap"`
	PerPlatform     float64                            `yaml:"per_platform"`
	PlatformCap     float64                            `yaml:"platform_cap"`
	FaceWeight      float64                            `yaml:"face_weight"`
	MediumThreshold float64                            `yaml:"medium_threshold"`
	HighThreshold   float64                            `yaml:"high_threshold"`
	Privacy         PrivacyPolicy                      `yaml:"privacy"`
	Exposure        ExposurePolicy                     `yaml:"exposure"`
}

// PrivacyPolicy holds the deductions of the privacy score. The score starts
// at 1 (fully private) and never drops below 0.
type PrivacyPolicy struct {
	BreachPenalty         float64  `yaml:"breach_penalty"`
	ProfessionalPenalty   float64  `yaml:"professional_penalty"`
	ProfessionalPlatforms []string `yaml:"professional_platforms"`
	WebsitePenalty        float64  `yaml:"website_penalty"`
	// AdviseBelow is the score under which footprint-reduction advice is given.
	AdviseBelow float64 `yaml:"advise_below"`
}

// ExposurePolicy holds the exposure level cut-offs. A level applies when
// either its breach or its presence count is reached.
type ExposurePolicy struct {
	HighBreaches   int `yaml:"high_breaches"`
	HighPresence   int `yaml:"high_presence"`
	MediumBreaches int `yaml:"medium_breaches"`
	MediumPresence int `yaml:"medium_presence"`
}

// DefaultPolicy returns the standard weights.
func DefaultPolicy() Policy {
	return Policy{
		SeverityWeights: map[investigation.Severity]float64{
			investigation.SeverityLow:      0.05,
			investigation.SeverityMedium:   0.15,
			investigation.SeverityHigh:     0.3,
			investigation.SeverityCritical: 0.5,
		},
		BreachCap:       0.6,
		PerPlatform:     0.05,
		PlatformCap:     0.3,
		FaceWeight:      0.2,
		MediumThreshold: 0.4,
		HighThreshold:   0.7,
		Privacy: PrivacyPolicy{
			BreachPenalty:         0.15,
			ProfessionalPenalty:   0.05,
			ProfessionalPlatforms: []string{"github", "stackoverflow"},
			WebsitePenalty:        0.1,
			AdviseBelow:           0.5,
		},
		Exposure: ExposurePolicy{
			HighBreaches:   3,
			HighPresence:   5,
			MediumBreaches: 1,
			MediumPresence: 2,
		},
	}
}

// Assessment is the scorer's output for one identity.
type Assessment struct {
	Score           float64
	Factors         []investigation.RiskFactor
	Level           string
	PrivacyScore    float64
	ExposureLevel   string
	Recommendations []string
}

// Score computes the assessment for identity. The result depends only on the
// contents of identity, never on the order they were merged in.
func Score(identity investigation.MergedIdentity, p Policy) Assessment {
	factors := make([]investigation.RiskFactor, 0, 3)

	if f, ok := breachFactor(identity.Breaches, p); ok {
		factors = append(factors, f)
	}
	if f, ok := platformFactor(identity.Profiles, p); ok {
		factors = append(factors, f)
	}
	if f, ok := faceFactor(identity.FaceMatches, p); ok {
		factors = append(factors, f)
	}

	sort.SliceStable(factors, func(i, j int) bool {
		if factors[i].Contribution != factors[j].Contribution {
			return factors[i].Contribution > factors[j].Contribution
		}
		return factors[i].Label < factors[j].Label
	})

	var sum float64
	for _, f := range factors {
		sum += f.Contribution
	}
	score := clamp01(sum)

	a := Assessment{
		Score:         score,
		Factors:       factors,
		Level:         p.Level(score),
		PrivacyScore:  p.PrivacyScore(identity),
		ExposureLevel: p.ExposureLevel(identity),
	}
	a.Recommendations = recommend(identity, a, p)
	return a
}

// Apply returns a copy of identity with the derived risk fields recomputed.
func Apply(identity investigation.MergedIdentity, p Policy) investigation.MergedIdentity {
	a := Score(identity, p)
	identity.RiskScore = a.Score
	identity.RiskFactors = a.Factors
	identity.RiskLevel = a.Level
	identity.PrivacyScore = a.PrivacyScore
	identity.ExposureLevel = a.ExposureLevel
	identity.Recommendations = a.Recommendations
	return identity
}

// Level buckets a score.
func (p Policy) Level(score float64) string {
	switch {
	case score >= p.HighThreshold:
		return LevelHigh
	case score >= p.MediumThreshold:
		return LevelMedium
	default:
		return LevelLow
	}
}

// PrivacyScore rates how private the identity still is, from 1 down to 0.
// Breaches, public professional profiles and registered domains each take
// a fixed deduction. It is independent of the risk score.
func (p Policy) PrivacyScore(identity investigation.MergedIdentity) float64 {
	professional := make(map[string]bool, len(p.Privacy.ProfessionalPlatforms))
	for _, pl := range p.Privacy.ProfessionalPlatforms {
		professional[strings.ToLower(pl)] = true
	}
	var public int
	for _, pl := range DistinctPlatforms(identity.Profiles) {
		if professional[pl] {
			public++
		}
	}

	score := 1 -
		float64(len(identity.Breaches))*p.Privacy.BreachPenalty -
		float64(public)*p.Privacy.ProfessionalPenalty -
		float64(len(identity.Domains))*p.Privacy.WebsitePenalty
	return clamp01(score)
}

// ExposureLevel buckets how widely the identity is exposed, by breach count
// and by online presence (distinct platforms plus registered domains).
func (p Policy) ExposureLevel(identity investigation.MergedIdentity) string {
	breaches := len(identity.Breaches)
	presence := len(DistinctPlatforms(identity.Profiles)) + len(identity.Domains)
	switch {
	case breaches >= p.Exposure.HighBreaches || presence >= p.Exposure.HighPresence:
		return LevelHigh
	case breaches >= p.Exposure.MediumBreaches || presence >= p.Exposure.MediumPresence:
		return LevelMedium
	default:
		return LevelLow
	}
}

func breachFactor(breaches []investigation.BreachRecord, p Policy) (investigation.RiskFactor, bool) {
	if len(breaches) == 0 {
		return investigation.RiskFactor{}, false
	}

	// Sum in a canonical order so float rounding cannot vary with merge order.
	sorted := append([]investigation.BreachRecord(nil), breaches...)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := strings.ToLower(sorted[i].Name), strings.ToLower(sorted[j].Name)
		if a != b {
			return a < b
		}
		return sorted[i].Date < sorted[j].Date
	})

	counts := make(map[investigation.Severity]int)
	var raw float64
	for _, b := range sorted {
		raw += p.SeverityWeights[b.Severity]
		counts[b.Severity]++
	}
	contribution := math.Min(p.BreachCap, raw)
	if contribution <= 0 {
		return investigation.RiskFactor{}, false
	}

	var parts []string
	for _, sev := range []investigation.Severity{
		investigation.SeverityCritical, investigation.SeverityHigh,
		investigation.SeverityMedium, investigation.SeverityLow,
	} {
		if n := counts[sev]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, sev))
		}
	}

	return investigation.RiskFactor{
		Label:        FactorBreaches,
		Weight:       p.BreachCap,
		Contribution: contribution,
		Detail:       fmt.Sprintf("%d breach(es): %s", len(breaches), strings.Join(parts, ", ")),
	}, true
}

// DistinctPlatforms returns the sorted set of platforms across all profiles.
func DistinctPlatforms(profiles []investigation.Profile) []string {
	set := make(map[string]struct{})
	for _, pr := range profiles {
		if pr.Platform != "" {
			set[strings.ToLower(pr.Platform)] = struct{}{}
		}
		for _, pl := range pr.Platforms {
			if pl != "" {
				set[strings.ToLower(pl)] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(set))
	for pl := range set {
		out = append(out, pl)
	}
	sort.Strings(out)
	return out
}

func platformFactor(profiles []investigation.Profile, p Policy) (investigation.RiskFactor, bool) {
	platforms := DistinctPlatforms(profiles)
	if len(platforms) == 0 {
		return investigation.RiskFactor{}, false
	}
	contribution := math.Min(p.PlatformCap, p.PerPlatform*float64(len(platforms)))
	if contribution <= 0 {
		return investigation.RiskFactor{}, false
	}
	return investigation.RiskFactor{
		Label:        FactorPlatforms,
		Weight:       p.PerPlatform,
		Contribution: contribution,
		Detail:       fmt.Sprintf("%d platform(s): %s", len(platforms), strings.Join(platforms, ", ")),
	}, true
}

func faceFactor(matches []investigation.FaceMatch, p Policy) (investigation.RiskFactor, bool) {
	var best float64
	var bestProfile investigation.Profile
	for _, m := range matches {
		if m.Similarity > best {
			best = m.Similarity
			bestProfile = m.SourceProfile
		}
	}
	contribution := best * p.FaceWeight
	if contribution <= 0 {
		return investigation.RiskFactor{}, false
	}
	return investigation.RiskFactor{
		Label:        FactorFaceMatch,
		Weight:       p.FaceWeight,
		Contribution: contribution,
		Detail: fmt.Sprintf("best match %.2f on %s/%s",
			best, bestProfile.Platform, bestProfile.Username),
	}, true
}

func clamp01(v float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	return math.Min(1, v)
}

// recommend derives remediation advice from the identity and its assessment.
func recommend(identity investigation.MergedIdentity, a Assessment, p Policy) []string {
	var out []string

	if n := len(identity.Breaches); n > 0 {
		out = append(out,
			fmt.Sprintf("Email found in %d data breach(es) - change passwords immediately", n),
			"Enable two-factor authentication on all accounts",
			"Use a password manager to generate unique passwords",
		)
	}
	for _, d := range identity.Domains {
		if d.Registrar != "" {
			out = append(out, "Consider using WHOIS privacy protection for domain registration")
			break
		}
	}
	if len(identity.Profiles) > 0 {
		out = append(out,
			"Review and update privacy settings on social media accounts",
			"Consider removing or securing personal information from public profiles",
		)
	}
	if len(identity.FaceMatches) > 0 {
		out = append(out, "Review publicly posted photos linked to matched profiles")
	}
	if a.Score > 0.5 {
		out = append(out,
			"Consider using a VPN for additional privacy",
			"Regularly monitor credit reports for suspicious activity",
		)
	}
	if a.PrivacyScore < p.Privacy.AdviseBelow {
		out = append(out,
			"Review and minimize online footprint",
			"Consider using privacy-focused email and search services",
		)
	}
	return out
}
