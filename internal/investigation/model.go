// Package investigation defines the canonical OSINT data model shared by the
// adapters, normalizer, deduplicator, scorer and dispatcher.
package investigation

import (
	"time"
)

// SourceKind identifies a class of intelligence source. The set is open:
// any kind with a registered adapter and normalizer can be dispatched.
type SourceKind string

const (
	SourceSocialSearch    SourceKind = "social_search"
	SourceBreachLookup    SourceKind = "breach_lookup"
	SourceDomainLookup    SourceKind = "domain_lookup"
	SourceFaceRecognition SourceKind = "face_recognition"
)

// Severity is the impact bucket of a breach.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities so that higher is worse. Unknown values rank 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// ParseSeverity maps a free-form label to a Severity.
func ParseSeverity(s string) (Severity, bool) {
	switch Severity(s) {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return Severity(s), true
	}
	return "", false
}

// RawResult is an adapter's undecoded payload. It is owned by the adapter call
// and discarded once normalized.
type RawResult struct {
	Kind       SourceKind `json:"kind"`
	Adapter    string     `json:"adapter"`
	Payload    []byte     `json:"payload"`
	ReceivedAt time.Time  `json:"received_at"`
}

// Profile is one identity fragment on one platform.
//
// Confidence is the originating source's match quality. It is not calibrated
// across sources and must never be read as risk.
type Profile struct {
	Platform      string       `json:"platform"`
	Username      string       `json:"username"`
	DisplayName   string       `json:"display_name"`
	Bio           *string      `json:"bio,omitempty"`
	FollowerCount *int64       `json:"follower_count,omitempty"`
	PostCount     *int64       `json:"post_count,omitempty"`
	Location      *string      `json:"location,omitempty"`
	Verified      bool         `json:"verified"`
	ContactEmail  string       `json:"contact_email,omitempty"`
	ContactPhone  string       `json:"contact_phone,omitempty"`
	Confidence    float64      `json:"confidence"`
	SourceURL     string       `json:"source_url"`
	OriginSource  SourceKind   `json:"origin_source"`
	Platforms     []string     `json:"platforms,omitempty"`
	Sources       []SourceKind `json:"sources,omitempty"`
	// Aliases lists the platform:username keys of accounts folded into this
	// profile by a fuzzy match.
	Aliases []string `json:"aliases,omitempty"`

	// seq records arrival order for equal-confidence tie breaks.
	seq int
}

// Seq returns the arrival sequence assigned when the profile was first merged.
func (p Profile) Seq() int { return p.seq }

// WithSeq returns a copy of p carrying arrival sequence n.
func (p Profile) WithSeq(n int) Profile {
	p.seq = n
	return p
}

// BreachRecord is one known data breach containing the subject.
type BreachRecord struct {
	Name            string       `json:"breach_name"`
	Date            string       `json:"date"`
	Severity        Severity     `json:"severity"`
	CompromisedData []string     `json:"compromised_data_types"`
	PwnCount        *int64       `json:"pwn_count,omitempty"`
	Verified        bool         `json:"verified"`
	Sources         []SourceKind `json:"sources,omitempty"`
}

// DomainRecord is registration data for one domain.
type DomainRecord struct {
	Domain           string     `json:"domain"`
	Registrar        string     `json:"registrar"`
	RegistrationDate *time.Time `json:"registration_date,omitempty"`
	ExpiryDate       *time.Time `json:"expiry_date,omitempty"`
	Status           []string   `json:"status,omitempty"`
	Nameservers      []string   `json:"nameservers,omitempty"`
}

// FaceMatch links a submitted image to a profile.
type FaceMatch struct {
	SourceProfile Profile `json:"source_profile"`
	Similarity    float64 `json:"similarity"`
}

// Fragment is the normalized output of one source result.
type Fragment struct {
	Source      SourceKind     `json:"source"`
	Profiles    []Profile      `json:"profiles,omitempty"`
	Breaches    []BreachRecord `json:"breaches,omitempty"`
	Domains     []DomainRecord `json:"domains,omitempty"`
	FaceMatches []FaceMatch    `json:"face_matches,omitempty"`
	ReceivedAt  time.Time      `json:"received_at"`
}

// Empty reports whether the fragment carries no evidence.
func (f Fragment) Empty() bool {
	return len(f.Profiles) == 0 && len(f.Breaches) == 0 && len(f.Domains) == 0 && len(f.FaceMatches) == 0
}

// RiskFactor is one named contributor to the composite risk score.
type RiskFactor struct {
	Label        string  `json:"label"`
	Weight       float64 `json:"weight"`
	Contribution float64 `json:"contribution"`
	Detail       string  `json:"detail,omitempty"`
}

// MergedIdentity is the deduplicated, cross-source aggregate for one
// investigation. The risk, privacy and exposure fields and Recommendations
// are derived and are only ever written by the scorer.
type MergedIdentity struct {
	Profiles        []Profile      `json:"profiles"`
	Breaches        []BreachRecord `json:"breaches"`
	Domains         []DomainRecord `json:"domains"`
	FaceMatches     []FaceMatch    `json:"face_matches"`
	RiskScore       float64        `json:"risk_score"`
	RiskFactors     []RiskFactor   `json:"risk_factors"`
	RiskLevel       string         `json:"risk_level"`
	PrivacyScore    float64        `json:"privacy_score"`
	ExposureLevel   string         `json:"exposure_level"`
	Recommendations []string       `json:"recommendations,omitempty"`

	// nextSeq is the arrival counter for profiles.
	nextSeq int
}

// NewMergedIdentity returns an identity with non-nil collections so that it
// serializes as empty arrays.
func NewMergedIdentity() MergedIdentity {
	return MergedIdentity{
		Profiles:      []Profile{},
		Breaches:      []BreachRecord{},
		Domains:       []DomainRecord{},
		FaceMatches:   []FaceMatch{},
		RiskFactors:   []RiskFactor{},
		RiskLevel:     "low",
		PrivacyScore:  1,
		ExposureLevel: "low",
	}
}

// Empty reports whether the identity holds no evidence at all.
func (m MergedIdentity) Empty() bool {
	return len(m.Profiles) == 0 && len(m.Breaches) == 0 && len(m.Domains) == 0 && len(m.FaceMatches) == 0
}

// NextSeq returns the next profile arrival number and advances the counter.
func (m *MergedIdentity) NextSeq() int {
	n := m.nextSeq
	m.nextSeq++
	return n
}

// Clone returns a deep copy safe to hand to other goroutines.
func (m MergedIdentity) Clone() MergedIdentity {
	out := m
	out.Profiles = make([]Profile, len(m.Profiles))
	for i, p := range m.Profiles {
		out.Profiles[i] = p.clone()
	}
	out.Breaches = make([]BreachRecord, len(m.Breaches))
	for i, b := range m.Breaches {
		b.CompromisedData = append([]string(nil), b.CompromisedData...)
		b.Sources = append([]SourceKind(nil), b.Sources...)
		out.Breaches[i] = b
	}
	out.Domains = make([]DomainRecord, len(m.Domains))
	for i, d := range m.Domains {
		d.Status = append([]string(nil), d.Status...)
		d.Nameservers = append([]string(nil), d.Nameservers...)
		out.Domains[i] = d
	}
	out.FaceMatches = make([]FaceMatch, len(m.FaceMatches))
	for i, f := range m.FaceMatches {
		f.SourceProfile = f.SourceProfile.clone()
		out.FaceMatches[i] = f
	}
	out.RiskFactors = append([]RiskFactor{}, m.RiskFactors...)
	out.Recommendations = append([]string(nil), m.Recommendations...)
	return out
}

func (p Profile) clone() Profile {
	p.Platforms = append([]string(nil), p.Platforms...)
	p.Aliases = append([]string(nil), p.Aliases...)
	p.Sources = append([]SourceKind(nil), p.Sources...)
	if p.Bio != nil {
		v := *p.Bio
		p.Bio = &v
	}
	if p.Location != nil {
		v := *p.Location
		p.Location = &v
	}
	if p.FollowerCount != nil {
		v := *p.FollowerCount
		p.FollowerCount = &v
	}
	if p.PostCount != nil {
		v := *p.PostCount
		p.PostCount = &v
	}
	return p
}
