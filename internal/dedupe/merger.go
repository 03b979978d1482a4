// Package dedupe folds normalized fragments into a single merged identity,
// collapsing profiles, breaches, domains and face matches that describe the
// same thing.
package dedupe

import (
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/lvonguyen/osintforge/internal/investigation"
)

// Config holds deduplication settings.
type Config struct {
	// NameDistanceThreshold is the exclusive upper bound on the Levenshtein
	// distance between normalized display names for a fuzzy match.
	NameDistanceThreshold int `yaml:"name_distance_threshold"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{NameDistanceThreshold: 3}
}

// Merger merges fragments into identities. It holds no state between calls.
type Merger struct {
	config Config
}

// NewMerger creates a new merger.
func NewMerger(cfg Config) *Merger {
	return &Merger{config: cfg}
}

// Merge returns a new identity holding the contents of identity and frag.
// Neither argument is modified. Merging the same fragment twice is a no-op.
func (m *Merger) Merge(identity investigation.MergedIdentity, frag investigation.Fragment) investigation.MergedIdentity {
	out := identity.Clone()

	for _, p := range frag.Profiles {
		m.mergeProfile(&out, p)
	}
	for _, b := range frag.Breaches {
		mergeBreach(&out, b)
	}
	for _, d := range frag.Domains {
		mergeDomain(&out, d)
	}
	for _, f := range frag.FaceMatches {
		mergeFaceMatch(&out, f)
	}

	sortProfiles(out.Profiles)
	sort.Slice(out.Breaches, func(i, j int) bool { return breachLess(out.Breaches[i], out.Breaches[j]) })
	sort.Slice(out.Domains, func(i, j int) bool { return out.Domains[i].Domain < out.Domains[j].Domain })
	sort.Slice(out.FaceMatches, func(i, j int) bool {
		a, b := out.FaceMatches[i], out.FaceMatches[j]
		if a.Similarity != b.Similarity {
			return a.Similarity > b.Similarity
		}
		return profileKey(a.SourceProfile) < profileKey(b.SourceProfile)
	})
	return out
}

// MergeAll folds frags into an empty identity in order.
func (m *Merger) MergeAll(frags ...investigation.Fragment) investigation.MergedIdentity {
	out := investigation.NewMergedIdentity()
	for _, f := range frags {
		out = m.Merge(out, f)
	}
	return out
}

// =============================================================================
// Profiles
// =============================================================================

func (m *Merger) mergeProfile(out *investigation.MergedIdentity, p investigation.Profile) {
	p = copyProfile(p)
	key := profileKey(p)

	for i := range out.Profiles {
		if profileKey(out.Profiles[i]) == key {
			absorb(&out.Profiles[i], p)
			if p.Confidence > out.Profiles[i].Confidence {
				out.Profiles[i].Confidence = p.Confidence
			}
			return
		}
	}

	// An account folded in earlier keeps the fuzzy rule on every re-merge.
	for i := range out.Profiles {
		if containsString(out.Profiles[i].Aliases, key) {
			fold(&out.Profiles[i], p, key)
			return
		}
	}

	if i := m.fuzzyTarget(out.Profiles, p); i >= 0 {
		fold(&out.Profiles[i], p, key)
		return
	}

	out.Profiles = append(out.Profiles, p.WithSeq(out.NextSeq()))
}

// fold absorbs a fuzzy-matched profile into dst, lowering dst's confidence
// to the weaker of the two and remembering key as an alias.
func fold(dst *investigation.Profile, p investigation.Profile, key string) {
	absorb(dst, p)
	if p.Confidence < dst.Confidence {
		dst.Confidence = p.Confidence
	}
	dst.Aliases = unionStrings(dst.Aliases, []string{key})
}

// fuzzyTarget returns the index of the profile p should fold into, or -1.
// The closest display name wins; ties go to the earliest arrival.
func (m *Merger) fuzzyTarget(ps []investigation.Profile, p investigation.Profile) int {
	best, bestDist := -1, 0
	for i := range ps {
		dist, ok := m.fuzzyMatch(ps[i], p)
		if !ok {
			continue
		}
		if best < 0 || dist < bestDist || (dist == bestDist && ps[i].Seq() < ps[best].Seq()) {
			best, bestDist = i, dist
		}
	}
	return best
}

// fuzzyMatch reports whether a and b are likely the same person on different
// accounts: near-identical display names plus a shared contact signal. It
// also returns the name distance.
func (m *Merger) fuzzyMatch(a, b investigation.Profile) (int, bool) {
	na := investigation.NormalizeName(a.DisplayName)
	nb := investigation.NormalizeName(b.DisplayName)
	if na == "" || nb == "" {
		return 0, false
	}
	dist := levenshtein.ComputeDistance(na, nb)
	if dist >= m.config.NameDistanceThreshold {
		return 0, false
	}
	return dist, sharedContact(a, b)
}

func sharedContact(a, b investigation.Profile) bool {
	if da, db := investigation.EmailDomain(a.ContactEmail), investigation.EmailDomain(b.ContactEmail); da != "" && da == db {
		return true
	}
	return a.ContactPhone != "" && a.ContactPhone == b.ContactPhone
}

// absorb copies fields from p into dst. Absent values never overwrite present
// ones; conflicting values are taken from p only when p is strictly more
// confident.
func absorb(dst *investigation.Profile, p investigation.Profile) {
	wins := p.Confidence > dst.Confidence

	pickString(&dst.DisplayName, p.DisplayName, wins)
	pickString(&dst.SourceURL, p.SourceURL, wins)
	pickString(&dst.ContactEmail, p.ContactEmail, wins)
	pickString(&dst.ContactPhone, p.ContactPhone, wins)
	pickPtr(&dst.Bio, p.Bio, wins)
	pickPtr(&dst.Location, p.Location, wins)
	pickPtr(&dst.FollowerCount, p.FollowerCount, wins)
	pickPtr(&dst.PostCount, p.PostCount, wins)
	dst.Verified = dst.Verified || p.Verified

	dst.Platforms = unionStrings(dst.Platforms, p.Platforms)
	dst.Sources = unionKinds(dst.Sources, p.Sources)
	if len(p.Aliases) > 0 {
		dst.Aliases = unionStrings(dst.Aliases, p.Aliases)
	}
}

func pickString(dst *string, v string, wins bool) {
	if v == "" {
		return
	}
	if *dst == "" || wins {
		*dst = v
	}
}

func pickPtr[T any](dst **T, v *T, wins bool) {
	if v == nil {
		return
	}
	if *dst == nil || wins {
		c := *v
		*dst = &c
	}
}

func profileKey(p investigation.Profile) string {
	return strings.ToLower(p.Platform) + ":" + strings.ToLower(p.Username)
}

func containsString(ss []string, v string) bool {
	for _, s := range ss {
		if s == v {
			return true
		}
	}
	return false
}

// sortProfiles orders by confidence, then by arrival.
func sortProfiles(ps []investigation.Profile) {
	sort.SliceStable(ps, func(i, j int) bool {
		if ps[i].Confidence != ps[j].Confidence {
			return ps[i].Confidence > ps[j].Confidence
		}
		return ps[i].Seq() < ps[j].Seq()
	})
}

func copyProfile(p investigation.Profile) investigation.Profile {
	p.Platforms = unionStrings(nil, append([]string{p.Platform}, p.Platforms...))
	p.Sources = unionKinds(nil, append([]investigation.SourceKind{p.OriginSource}, p.Sources...))
	if len(p.Aliases) > 0 {
		p.Aliases = unionStrings(nil, p.Aliases)
	} else {
		p.Aliases = nil
	}
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

// =============================================================================
// Breaches, domains, face matches
// =============================================================================

func breachKey(b investigation.BreachRecord) string {
	return strings.ToLower(strings.TrimSpace(b.Name)) + "\x00" + b.Date
}

func breachLess(a, b investigation.BreachRecord) bool {
	return breachKey(a) < breachKey(b)
}

func mergeBreach(out *investigation.MergedIdentity, b investigation.BreachRecord) {
	key := breachKey(b)
	for i := range out.Breaches {
		dst := &out.Breaches[i]
		if breachKey(*dst) != key {
			continue
		}
		if b.Severity.Rank() > dst.Severity.Rank() {
			dst.Severity = b.Severity
		}
		dst.CompromisedData = unionStrings(dst.CompromisedData, b.CompromisedData)
		if b.PwnCount != nil && (dst.PwnCount == nil || *b.PwnCount > *dst.PwnCount) {
			n := *b.PwnCount
			dst.PwnCount = &n
		}
		dst.Verified = dst.Verified || b.Verified
		dst.Sources = unionKinds(dst.Sources, b.Sources)
		return
	}

	b.CompromisedData = unionStrings(nil, b.CompromisedData)
	b.Sources = unionKinds(nil, b.Sources)
	if b.PwnCount != nil {
		n := *b.PwnCount
		b.PwnCount = &n
	}
	out.Breaches = append(out.Breaches, b)
}

func mergeDomain(out *investigation.MergedIdentity, d investigation.DomainRecord) {
	d.Domain = strings.ToLower(d.Domain)
	for i := range out.Domains {
		dst := &out.Domains[i]
		if dst.Domain != d.Domain {
			continue
		}
		if dst.Registrar == "" {
			dst.Registrar = d.Registrar
		}
		if dst.RegistrationDate == nil && d.RegistrationDate != nil {
			v := *d.RegistrationDate
			dst.RegistrationDate = &v
		}
		if dst.ExpiryDate == nil && d.ExpiryDate != nil {
			v := *d.ExpiryDate
			dst.ExpiryDate = &v
		}
		dst.Status = unionStrings(dst.Status, d.Status)
		dst.Nameservers = unionStrings(dst.Nameservers, d.Nameservers)
		return
	}

	d.Status = unionStrings(nil, d.Status)
	d.Nameservers = unionStrings(nil, d.Nameservers)
	out.Domains = append(out.Domains, d)
}

func mergeFaceMatch(out *investigation.MergedIdentity, f investigation.FaceMatch) {
	f.SourceProfile = copyProfile(f.SourceProfile)
	key := profileKey(f.SourceProfile)
	for i := range out.FaceMatches {
		if profileKey(out.FaceMatches[i].SourceProfile) != key {
			continue
		}
		if f.Similarity > out.FaceMatches[i].Similarity {
			out.FaceMatches[i] = f
		}
		return
	}
	out.FaceMatches = append(out.FaceMatches, f)
}

// =============================================================================
// Set helpers
// =============================================================================

// unionStrings returns the sorted, de-duplicated union of a and b, dropping
// empty values.
func unionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range append(append([]string(nil), a...), b...) {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func unionKinds(a, b []investigation.SourceKind) []investigation.SourceKind {
	seen := make(map[investigation.SourceKind]bool, len(a)+len(b))
	out := make([]investigation.SourceKind, 0, len(a)+len(b))
	for _, k := range append(append([]investigation.SourceKind(nil), a...), b...) {
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
