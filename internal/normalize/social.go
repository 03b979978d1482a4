package normalize

import (
	"strings"

	"github.com/tidwall/gjson"

	"github.com/lvonguyen/osintforge/internal/investigation"
)

// Social normalizes a profile-search payload:
//
//	{"profiles":[{"platform":"twitter","username":"jdoe","confidence":0.9,...}]}
func Social(raw investigation.RawResult, s *Sanitizer) (investigation.Fragment, error) {
	list := gjson.GetBytes(raw.Payload, "profiles")
	if !list.IsArray() {
		return investigation.Fragment{}, malformed(raw.Kind, "profiles array missing")
	}

	var frag investigation.Fragment
	var err error
	list.ForEach(func(i, item gjson.Result) bool {
		var p investigation.Profile
		p, err = parseProfile(raw.Kind, item, s, nil)
		if err != nil {
			err = malformed(raw.Kind, "profile %d: %v", i.Int(), err)
			return false
		}
		frag.Profiles = append(frag.Profiles, p)
		return true
	})
	if err != nil {
		return investigation.Fragment{}, err
	}
	return frag, nil
}

type fieldError string

func (e fieldError) Error() string { return string(e) }

// parseProfile reads one profile object. When fallbackConfidence is non-nil it
// is used for a missing confidence; otherwise confidence is mandatory.
func parseProfile(kind investigation.SourceKind, item gjson.Result, s *Sanitizer, fallbackConfidence *float64) (investigation.Profile, error) {
	if !item.IsObject() {
		return investigation.Profile{}, fieldError("not an object")
	}

	platform := strings.ToLower(strings.TrimSpace(item.Get("platform").String()))
	username := strings.TrimSpace(item.Get("username").String())
	if platform == "" {
		return investigation.Profile{}, fieldError("platform is required")
	}
	if username == "" {
		return investigation.Profile{}, fieldError("username is required")
	}

	conf, err := unitInterval(item.Get("confidence"), "confidence", fallbackConfidence)
	if err != nil {
		return investigation.Profile{}, err
	}

	p := investigation.Profile{
		Platform:     platform,
		Username:     username,
		DisplayName:  s.Text(item.Get("display_name").String()),
		Verified:     item.Get("verified").Bool(),
		ContactEmail: strings.ToLower(strings.TrimSpace(item.Get("email").String())),
		ContactPhone: investigation.NormalizePhone(item.Get("phone").String()),
		Confidence:   conf,
		SourceURL:    item.Get("profile_url").String(),
		OriginSource: kind,
		Platforms:    []string{platform},
		Sources:      []investigation.SourceKind{kind},
	}
	if v := item.Get("bio"); v.Exists() && v.Type != gjson.Null {
		bio := s.Bio(v.String())
		p.Bio = &bio
	}
	if v := item.Get("location"); v.Exists() && v.Type != gjson.Null {
		loc := s.Text(v.String())
		p.Location = &loc
	}
	if p.FollowerCount, err = optionalCount(item.Get("followers_count"), "followers_count"); err != nil {
		return investigation.Profile{}, err
	}
	if p.PostCount, err = optionalCount(item.Get("posts_count"), "posts_count"); err != nil {
		return investigation.Profile{}, err
	}
	return p, nil
}

// unitInterval reads a number in [0,1]. Out-of-range values are rejected,
// never clamped.
func unitInterval(v gjson.Result, field string, fallback *float64) (float64, error) {
	if !v.Exists() || v.Type == gjson.Null {
		if fallback != nil {
			return *fallback, nil
		}
		return 0, fieldError(field + " is required")
	}
	if v.Type != gjson.Number {
		return 0, fieldError(field + " must be a number")
	}
	f := v.Float()
	if f < 0 || f > 1 {
		return 0, fieldError(field + " outside [0,1]")
	}
	return f, nil
}

// optionalCount returns nil for an absent count so that zero stays a real value.
func optionalCount(v gjson.Result, field string) (*int64, error) {
	if !v.Exists() || v.Type == gjson.Null {
		return nil, nil
	}
	if v.Type != gjson.Number || v.Int() < 0 {
		return nil, fieldError(field + " must be a non-negative number")
	}
	n := v.Int()
	return &n, nil
}
