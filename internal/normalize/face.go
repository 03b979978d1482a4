package normalize

import (
	"github.com/tidwall/gjson"

	"github.com/lvonguyen/osintforge/internal/investigation"
)

// Face normalizes a face-matcher payload:
//
//	{"matches":[{"similarity":0.93,"profile":{"platform":"instagram","username":"jd"}}]}
//
// A matched profile without its own confidence inherits the similarity.
func Face(raw investigation.RawResult, s *Sanitizer) (investigation.Fragment, error) {
	list := gjson.GetBytes(raw.Payload, "matches")
	if !list.IsArray() {
		return investigation.Fragment{}, malformed(raw.Kind, "matches array missing")
	}

	var frag investigation.Fragment
	var err error
	list.ForEach(func(i, item gjson.Result) bool {
		var sim float64
		sim, err = unitInterval(item.Get("similarity"), "similarity", nil)
		if err != nil {
			err = malformed(raw.Kind, "match %d: %v", i.Int(), err)
			return false
		}
		var p investigation.Profile
		p, err = parseProfile(raw.Kind, item.Get("profile"), s, &sim)
		if err != nil {
			err = malformed(raw.Kind, "match %d profile: %v", i.Int(), err)
			return false
		}
		frag.FaceMatches = append(frag.FaceMatches, investigation.FaceMatch{
			SourceProfile: p,
			Similarity:    sim,
		})
		return true
	})
	if err != nil {
		return investigation.Fragment{}, err
	}
	return frag, nil
}
