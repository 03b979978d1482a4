package dedupe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lvonguyen/osintforge/internal/investigation"
)

func i64(v int64) *int64 { return &v }

func profile(platform, username string, conf float64) investigation.Profile {
	return investigation.Profile{
		Platform:     platform,
		Username:     username,
		Confidence:   conf,
		OriginSource: investigation.SourceSocialSearch,
	}
}

func socialFragment(ps ...investigation.Profile) investigation.Fragment {
	return investigation.Fragment{Source: investigation.SourceSocialSearch, Profiles: ps}
}

// =============================================================================
// Exact matching
// =============================================================================

func TestMerge_ExactMatchTakesMaxConfidence(t *testing.T) {
	m := NewMerger(DefaultConfig())

	high := profile("twitter", "AshaRao", 0.9)
	high.FollowerCount = i64(1200)
	low := profile("Twitter", "asharao", 0.6)
	low.FollowerCount = i64(15)

	for name, order := range map[string][]investigation.Fragment{
		"high first": {socialFragment(high), socialFragment(low)},
		"low first":  {socialFragment(low), socialFragment(high)},
	} {
		t.Run(name, func(t *testing.T) {
			id := m.MergeAll(order...)
			require.Len(t, id.Profiles, 1)
			assert.Equal(t, 0.9, id.Profiles[0].Confidence)
			require.NotNil(t, id.Profiles[0].FollowerCount)
			assert.Equal(t, int64(1200), *id.Profiles[0].FollowerCount)
		})
	}
}

func TestMerge_AbsentNeverOverwritesPresent(t *testing.T) {
	m := NewMerger(DefaultConfig())

	first := profile("github", "jd", 0.5)
	first.FollowerCount = i64(0)
	second := profile("github", "jd", 0.8)

	id := m.MergeAll(socialFragment(first), socialFragment(second))
	require.Len(t, id.Profiles, 1)
	require.NotNil(t, id.Profiles[0].FollowerCount)
	assert.Equal(t, int64(0), *id.Profiles[0].FollowerCount)
}

func TestMerge_TieKeepsEarlierValue(t *testing.T) {
	m := NewMerger(DefaultConfig())

	a := profile("x", "jd", 0.7)
	a.DisplayName = "Jane"
	b := profile("x", "jd", 0.7)
	b.DisplayName = "J. Doe"

	id := m.MergeAll(socialFragment(a), socialFragment(b))
	assert.Equal(t, "Jane", id.Profiles[0].DisplayName)
}

// =============================================================================
// Fuzzy matching
// =============================================================================

func TestMerge_FuzzyMatchTakesMinConfidence(t *testing.T) {
	m := NewMerger(DefaultConfig())

	a := profile("twitter", "asha_r", 0.9)
	a.DisplayName = "Asha Rao"
	a.ContactEmail = "asha@example.com"
	b := profile("linkedin", "asharao-dev", 0.7)
	b.DisplayName = "ASHA  RAO."
	b.ContactEmail = "a.rao@example.com"

	id := m.MergeAll(socialFragment(a), socialFragment(b))
	require.Len(t, id.Profiles, 1)
	assert.Equal(t, 0.7, id.Profiles[0].Confidence)
	assert.Equal(t, []string{"linkedin", "twitter"}, id.Profiles[0].Platforms)
	assert.Equal(t, "twitter", id.Profiles[0].Platform)
}

func TestMerge_FuzzyNeedsSharedContact(t *testing.T) {
	m := NewMerger(DefaultConfig())

	a := profile("twitter", "asha_r", 0.9)
	a.DisplayName = "Asha Rao"
	a.ContactEmail = "asha@example.com"
	b := profile("linkedin", "asharao", 0.7)
	b.DisplayName = "Asha Rao"
	b.ContactEmail = "asha@other.org"

	id := m.MergeAll(socialFragment(a), socialFragment(b))
	assert.Len(t, id.Profiles, 2)
}

func TestMerge_FuzzyPhone(t *testing.T) {
	m := NewMerger(DefaultConfig())

	a := profile("koo", "asha", 0.8)
	a.DisplayName = "Asha Rao"
	a.ContactPhone = "919812345678"
	b := profile("sharechat", "asha.rao", 0.85)
	b.DisplayName = "Asha Raoo"
	b.ContactPhone = "919812345678"

	id := m.MergeAll(socialFragment(a), socialFragment(b))
	require.Len(t, id.Profiles, 1)
	assert.Equal(t, 0.8, id.Profiles[0].Confidence)
}

func TestMerge_FuzzyDistanceThreshold(t *testing.T) {
	m := NewMerger(Config{NameDistanceThreshold: 1})

	a := profile("a", "1", 0.8)
	a.DisplayName = "Asha Rao"
	a.ContactPhone = "1"
	b := profile("b", "2", 0.8)
	b.DisplayName = "Asha Raj"
	b.ContactPhone = "1"

	id := m.MergeAll(socialFragment(a), socialFragment(b))
	assert.Len(t, id.Profiles, 2)
}

// =============================================================================
// Ordering and idempotence
// =============================================================================

func TestMerge_OrderByConfidenceThenArrival(t *testing.T) {
	m := NewMerger(DefaultConfig())

	id := m.MergeAll(socialFragment(
		profile("a", "first", 0.5),
		profile("b", "second", 0.9),
		profile("c", "third", 0.5),
	))
	require.Len(t, id.Profiles, 3)
	assert.Equal(t, "second", id.Profiles[0].Username)
	assert.Equal(t, "first", id.Profiles[1].Username)
	assert.Equal(t, "third", id.Profiles[2].Username)
}

func TestMerge_Idempotent(t *testing.T) {
	m := NewMerger(DefaultConfig())

	a := profile("twitter", "asha_r", 0.9)
	a.DisplayName = "Asha Rao"
	a.ContactEmail = "asha@example.com"
	b := profile("linkedin", "asharao", 0.6)
	b.DisplayName = "Asha Rao"
	b.ContactEmail = "rao@example.com"
	b.FollowerCount = i64(40)

	frag := investigation.Fragment{
		Source:   investigation.SourceSocialSearch,
		Profiles: []investigation.Profile{a, b},
		Breaches: []investigation.BreachRecord{
			{Name: "Adobe", Date: "2013-10-04", Severity: investigation.SeverityHigh, CompromisedData: []string{"Passwords"}},
		},
		Domains: []investigation.DomainRecord{{Domain: "Example.com", Registrar: "R"}},
		FaceMatches: []investigation.FaceMatch{
			{SourceProfile: profile("instagram", "asha", 0.8), Similarity: 0.8},
		},
	}

	once := m.Merge(investigation.NewMergedIdentity(), frag)
	twice := m.Merge(once, frag)
	assert.Equal(t, once, twice)
}

func TestMerge_IdempotentWithFuzzyMatches(t *testing.T) {
	m := NewMerger(DefaultConfig())

	a := profile("twitter", "a", 0.9)
	a.DisplayName = "Asha Rao"
	a.ContactEmail = "asha@example.com"
	b := profile("github", "b", 0.8)
	b.DisplayName = "Asha"
	b.ContactEmail = "dev@example.com"
	f := profile("instagram", "x", 0.3)
	f.DisplayName = "Asha R"
	f.ContactEmail = "ar@example.com"
	frag := socialFragment(f)

	once := m.MergeAll(socialFragment(a), socialFragment(b), frag)
	twice := m.Merge(once, frag)
	assert.Equal(t, once, twice)

	require.Len(t, once.Profiles, 2)
	assert.Equal(t, "b", once.Profiles[0].Username)
	assert.Equal(t, 0.8, once.Profiles[0].Confidence)
	assert.Equal(t, "a", once.Profiles[1].Username)
	assert.Equal(t, []string{"instagram:x"}, once.Profiles[1].Aliases)
}

func TestMerge_FuzzyTargetIsClosestThenEarliest(t *testing.T) {
	m := NewMerger(DefaultConfig())

	far := profile("twitter", "far", 0.9)
	far.DisplayName = "Asha Rao"
	far.ContactPhone = "1"
	near := profile("github", "near", 0.5)
	near.DisplayName = "Asha Raoo"
	near.ContactPhone = "1"
	// Distance 1 from near, 2 from far, but far sorts first by confidence.
	in := profile("koo", "in", 0.7)
	in.DisplayName = "Asha Raooo"
	in.ContactPhone = "1"

	m2 := NewMerger(Config{NameDistanceThreshold: 1})
	split := m2.MergeAll(socialFragment(far), socialFragment(near))
	require.Len(t, split.Profiles, 2)

	id := m.Merge(split, socialFragment(in))
	require.Len(t, id.Profiles, 2)
	assert.Equal(t, "far", id.Profiles[0].Username)
	assert.Empty(t, id.Profiles[0].Aliases)
	assert.Equal(t, "near", id.Profiles[1].Username)
	assert.Equal(t, []string{"koo:in"}, id.Profiles[1].Aliases)

	// Equal distances resolve to the earlier arrival.
	twin := profile("koo", "twin", 0.6)
	twin.DisplayName = "Asha Raox"
	twin.ContactPhone = "1"
	tied := m.Merge(split, socialFragment(twin))
	require.Len(t, tied.Profiles, 2)
	assert.Equal(t, "far", tied.Profiles[0].Username)
	assert.Equal(t, 0.6, tied.Profiles[0].Confidence)
	assert.Equal(t, []string{"koo:twin"}, tied.Profiles[0].Aliases)
}

func TestMerge_DoesNotMutateInput(t *testing.T) {
	m := NewMerger(DefaultConfig())

	base := m.MergeAll(socialFragment(profile("x", "jd", 0.5)))
	_ = m.Merge(base, socialFragment(profile("x", "jd", 0.9)))
	assert.Equal(t, 0.5, base.Profiles[0].Confidence)
}

// =============================================================================
// Breaches, domains, face matches
// =============================================================================

func TestMerge_Breaches(t *testing.T) {
	m := NewMerger(DefaultConfig())

	id := m.MergeAll(
		investigation.Fragment{Breaches: []investigation.BreachRecord{
			{Name: "Adobe", Date: "2013-10-04", Severity: investigation.SeverityMedium, CompromisedData: []string{"Emails"}},
		}},
		investigation.Fragment{Breaches: []investigation.BreachRecord{
			{Name: "adobe", Date: "2013-10-04", Severity: investigation.SeverityHigh, CompromisedData: []string{"Passwords"}},
			{Name: "Adobe", Date: "2019-01-01", Severity: investigation.SeverityLow},
		}},
	)

	require.Len(t, id.Breaches, 2)
	assert.Equal(t, investigation.SeverityHigh, id.Breaches[0].Severity)
	assert.Equal(t, []string{"Emails", "Passwords"}, id.Breaches[0].CompromisedData)
	assert.Equal(t, "2019-01-01", id.Breaches[1].Date)
}

func TestMerge_Domains(t *testing.T) {
	m := NewMerger(DefaultConfig())

	id := m.MergeAll(
		investigation.Fragment{Domains: []investigation.DomainRecord{{Domain: "example.com"}}},
		investigation.Fragment{Domains: []investigation.DomainRecord{{Domain: "EXAMPLE.COM", Registrar: "IANA", Nameservers: []string{"a.iana-servers.net"}}}},
	)
	require.Len(t, id.Domains, 1)
	assert.Equal(t, "IANA", id.Domains[0].Registrar)
	assert.Equal(t, []string{"a.iana-servers.net"}, id.Domains[0].Nameservers)
}

func TestMerge_FaceMatchesKeepMaxSimilarity(t *testing.T) {
	m := NewMerger(DefaultConfig())

	id := m.MergeAll(
		investigation.Fragment{FaceMatches: []investigation.FaceMatch{
			{SourceProfile: profile("instagram", "asha", 0.6), Similarity: 0.6},
			{SourceProfile: profile("facebook", "asha.rao", 0.7), Similarity: 0.7},
		}},
		investigation.Fragment{FaceMatches: []investigation.FaceMatch{
			{SourceProfile: profile("Instagram", "ASHA", 0.95), Similarity: 0.95},
		}},
	)
	require.Len(t, id.FaceMatches, 2)
	assert.Equal(t, 0.95, id.FaceMatches[0].Similarity)
	assert.Equal(t, 0.7, id.FaceMatches[1].Similarity)
}
