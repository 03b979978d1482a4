package investigation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_RequiresIdentifyingField(t *testing.T) {
	err := Query{Location: "Mumbai", Language: "hi"}.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidQuery))

	assert.NoError(t, Query{Name: "Asha Rao"}.Validate())
	assert.NoError(t, Query{Image: []byte{0xff, 0xd8}}.Validate())
	assert.NoError(t, Query{Domain: "example.com"}.Validate())
}

func TestValidate_RejectsBadEmail(t *testing.T) {
	err := Query{Email: "not-an-address"}.Validate()
	assert.ErrorIs(t, err, ErrInvalidQuery)
}

func TestValidate_WhitespaceOnlyIsEmpty(t *testing.T) {
	err := Query{Name: "   ", Phone: "+-"}.Validate()
	assert.ErrorIs(t, err, ErrInvalidQuery)
}

func TestFingerprint_StableAcrossFormatting(t *testing.T) {
	a := Query{
		Name:             "Asha  Rao",
		Email:            "Asha@Example.com ",
		Phone:            "+91 (98) 765-43210",
		RequestedSources: []SourceKind{SourceBreachLookup, SourceSocialSearch},
	}
	b := Query{
		Name:             "asha rao",
		Email:            "asha@example.com",
		Phone:            "919876543210",
		RequestedSources: []SourceKind{SourceSocialSearch, SourceBreachLookup, SourceSocialSearch},
		Language:         "EN",
	}

	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	assert.Len(t, a.Fingerprint(), 32)
}

func TestFingerprint_DistinguishesFields(t *testing.T) {
	base := Query{Name: "Asha Rao"}
	tests := []struct {
		name  string
		query Query
	}{
		{"email", Query{Name: "Asha Rao", Email: "asha@example.com"}},
		{"language", Query{Name: "Asha Rao", Language: "ta"}},
		{"sources", Query{Name: "Asha Rao", RequestedSources: []SourceKind{SourceSocialSearch}}},
		{"image", Query{Name: "Asha Rao", Image: []byte("jpeg")}},
		{"name moved to location", Query{Location: "Asha Rao"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotEqual(t, base.Fingerprint(), tt.query.Fingerprint())
		})
	}
}

func TestNormalized_CopiesImage(t *testing.T) {
	img := []byte{1, 2, 3}
	n := Query{Image: img}.Normalized()
	img[0] = 9
	assert.Equal(t, byte(1), n.Image[0])
}

func TestLookupDomain(t *testing.T) {
	assert.Equal(t, "example.com", Query{Email: "asha@Example.com"}.LookupDomain())
	assert.Equal(t, "rao.dev", Query{Email: "asha@example.com", Domain: "Rao.dev"}.LookupDomain())
	assert.Equal(t, "", Query{Name: "Asha"}.LookupDomain())
	assert.True(t, Query{Email: "asha@example.com"}.Has(FieldDomain))
	assert.False(t, Query{Name: "Asha"}.Has(FieldImage))
}

func TestSeverityRank(t *testing.T) {
	assert.Greater(t, SeverityCritical.Rank(), SeverityHigh.Rank())
	assert.Greater(t, SeverityHigh.Rank(), SeverityMedium.Rank())
	assert.Greater(t, SeverityMedium.Rank(), SeverityLow.Rank())
	assert.Equal(t, 0, Severity("bogus").Rank())

	_, ok := ParseSeverity("severe")
	assert.False(t, ok)
}

func TestMergedIdentityClone_IsDeep(t *testing.T) {
	followers := int64(10)
	m := NewMergedIdentity()
	m.Profiles = append(m.Profiles, Profile{Platform: "twitter", Username: "asha", FollowerCount: &followers, Platforms: []string{"twitter"}})

	c := m.Clone()
	*c.Profiles[0].FollowerCount = 99
	c.Profiles[0].Platforms[0] = "x"

	assert.Equal(t, int64(10), *m.Profiles[0].FollowerCount)
	assert.Equal(t, "twitter", m.Profiles[0].Platforms[0])
}
