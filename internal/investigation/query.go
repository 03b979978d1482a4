package investigation

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/OneOfOne/xxhash"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Field names a query attribute an adapter can depend on.
type Field string

const (
	FieldName     Field = "name"
	FieldEmail    Field = "email"
	FieldPhone    Field = "phone"
	FieldLocation Field = "location"
	FieldDomain   Field = "domain"
	FieldImage    Field = "image"
)

// Query is one investigation request. Treat it as an immutable value: build it
// once, call Normalized, and pass copies.
type Query struct {
	Name             string       `json:"name,omitempty"`
	Email            string       `json:"email,omitempty"`
	Phone            string       `json:"phone,omitempty"`
	Location         string       `json:"location,omitempty"`
	Domain           string       `json:"domain,omitempty"`
	Image            []byte       `json:"image,omitempty"`
	RequestedSources []SourceKind `json:"sources,omitempty"`
	Language         string       `json:"language,omitempty"`
}

const defaultLanguage = "en"

// Has reports whether the query carries a non-empty value for f.
func (q Query) Has(f Field) bool {
	switch f {
	case FieldName:
		return q.Name != ""
	case FieldEmail:
		return q.Email != ""
	case FieldPhone:
		return q.Phone != ""
	case FieldLocation:
		return q.Location != ""
	case FieldDomain:
		return q.Domain != "" || q.EmailDomain() != ""
	case FieldImage:
		return len(q.Image) > 0
	default:
		return false
	}
}

// Validate checks that at least one identifying field is present.
func (q Query) Validate() error {
	n := q.Normalized()
	if n.Name == "" && n.Email == "" && n.Phone == "" && n.Domain == "" && len(n.Image) == 0 {
		return fmt.Errorf("%w: one of name, email, phone, domain or image is required", ErrInvalidQuery)
	}
	if n.Email != "" && !strings.Contains(n.Email, "@") {
		return fmt.Errorf("%w: email %q is not an address", ErrInvalidQuery, q.Email)
	}
	return nil
}

// Normalized returns a canonical copy of the query. The image bytes are copied
// so the result shares no memory with q.
func (q Query) Normalized() Query {
	out := Query{
		Name:     NormalizeName(q.Name),
		Email:    strings.ToLower(strings.TrimSpace(q.Email)),
		Phone:    NormalizePhone(q.Phone),
		Location: NormalizeName(q.Location),
		Domain:   strings.TrimSuffix(strings.ToLower(strings.TrimSpace(q.Domain)), "."),
		Language: strings.ToLower(strings.TrimSpace(q.Language)),
	}
	if out.Language == "" {
		out.Language = defaultLanguage
	}
	if len(q.Image) > 0 {
		out.Image = append([]byte(nil), q.Image...)
	}

	seen := make(map[SourceKind]bool, len(q.RequestedSources))
	for _, s := range q.RequestedSources {
		s = SourceKind(strings.ToLower(strings.TrimSpace(string(s))))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out.RequestedSources = append(out.RequestedSources, s)
	}
	sort.Slice(out.RequestedSources, func(i, j int) bool {
		return out.RequestedSources[i] < out.RequestedSources[j]
	})
	return out
}

// EmailDomain returns the domain part of the email, if any.
func (q Query) EmailDomain() string {
	return EmailDomain(q.Email)
}

// LookupDomain returns the explicit domain, falling back to the email domain.
func (q Query) LookupDomain() string {
	if d := strings.TrimSpace(q.Domain); d != "" {
		return strings.ToLower(d)
	}
	return q.EmailDomain()
}

// Fingerprint returns a stable 128-bit hex digest of the normalized query. Two
// queries that differ only in case, spacing, phone punctuation or source order
// share a fingerprint.
func (q Query) Fingerprint() string {
	n := q.Normalized()

	sources := make([]string, len(n.RequestedSources))
	for i, s := range n.RequestedSources {
		sources[i] = string(s)
	}

	var imageDigest string
	if len(n.Image) > 0 {
		imageDigest = fmt.Sprintf("%016x", xxhash.Checksum64S(n.Image, 0))
	}

	canonical := strings.Join([]string{
		"name=" + n.Name,
		"email=" + n.Email,
		"phone=" + n.Phone,
		"location=" + n.Location,
		"domain=" + n.Domain,
		"image=" + imageDigest,
		"sources=" + strings.Join(sources, ","),
		"lang=" + n.Language,
	}, "\x1f")

	h1 := xxhash.NewS64(0)
	h1.Write([]byte(canonical))
	h2 := xxhash.NewS64(1)
	h2.Write([]byte(canonical))

	out := make([]byte, 16)
	binary.BigEndian.PutUint64(out[0:], h1.Sum64())
	binary.BigEndian.PutUint64(out[8:], h2.Sum64())
	return hex.EncodeToString(out)
}

// NormalizeName applies NFKC, Unicode case folding and whitespace collapsing.
func NormalizeName(s string) string {
	// Casers are stateful; one per call keeps this safe for concurrent use.
	s = cases.Fold().String(norm.NFKC.String(s))
	return strings.Join(strings.Fields(s), " ")
}

// NormalizePhone keeps only digits. A leading plus is dropped; country codes
// are expected to be present in the digits themselves.
func NormalizePhone(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// EmailDomain returns the lower-cased domain of an email address.
func EmailDomain(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(email[at+1:]))
}
