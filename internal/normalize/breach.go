package normalize

import (
	"sort"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/lvonguyen/osintforge/internal/investigation"
)

// Data classes that escalate a breach, by the severity they imply.
var (
	criticalClasses = []string{
		"credit card", "bank account", "social security", "passport",
		"government issued id", "tax id", "financial",
	}
	highClasses   = []string{"password", "security question", "auth token"}
	mediumClasses = []string{"phone number", "physical address", "date of birth", "geographic location"}
)

// Breach normalizes a breach-lookup payload. Both a bare array in the Have I
// Been Pwned shape and an object wrapping it under "breaches" are accepted.
func Breach(raw investigation.RawResult, _ *Sanitizer) (investigation.Fragment, error) {
	list := gjson.ParseBytes(raw.Payload)
	if list.IsObject() {
		list = list.Get("breaches")
	}
	if !list.IsArray() {
		return investigation.Fragment{}, malformed(raw.Kind, "breach list missing")
	}

	var frag investigation.Fragment
	var err error
	list.ForEach(func(i, item gjson.Result) bool {
		var b investigation.BreachRecord
		b, err = parseBreach(raw.Kind, item)
		if err != nil {
			err = malformed(raw.Kind, "breach %d: %v", i.Int(), err)
			return false
		}
		frag.Breaches = append(frag.Breaches, b)
		return true
	})
	if err != nil {
		return investigation.Fragment{}, err
	}
	return frag, nil
}

func parseBreach(kind investigation.SourceKind, item gjson.Result) (investigation.BreachRecord, error) {
	if !item.IsObject() {
		return investigation.BreachRecord{}, fieldError("not an object")
	}

	name := strings.TrimSpace(item.Get("Name").String())
	if name == "" {
		return investigation.BreachRecord{}, fieldError("Name is required")
	}

	b := investigation.BreachRecord{
		Name:     name,
		Date:     strings.TrimSpace(item.Get("BreachDate").String()),
		Verified: item.Get("IsVerified").Bool(),
		Sources:  []investigation.SourceKind{kind},
	}

	seen := make(map[string]bool)
	for _, dc := range item.Get("DataClasses").Array() {
		v := strings.TrimSpace(dc.String())
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		b.CompromisedData = append(b.CompromisedData, v)
	}
	sort.Strings(b.CompromisedData)

	if v := item.Get("PwnCount"); v.Type == gjson.Number {
		n := v.Int()
		b.PwnCount = &n
	}

	if v := item.Get("Severity"); v.Exists() && v.Type != gjson.Null {
		sev, ok := investigation.ParseSeverity(strings.ToLower(v.String()))
		if !ok {
			return investigation.BreachRecord{}, fieldError("unknown severity " + v.String())
		}
		b.Severity = sev
	} else {
		b.Severity = DeriveSeverity(b.CompromisedData, item.Get("IsSensitive").Bool())
	}
	return b, nil
}

// DeriveSeverity buckets a breach by the most sensitive data it exposed.
func DeriveSeverity(dataClasses []string, sensitive bool) investigation.Severity {
	if sensitive || containsAny(dataClasses, criticalClasses) {
		return investigation.SeverityCritical
	}
	if containsAny(dataClasses, highClasses) {
		return investigation.SeverityHigh
	}
	if containsAny(dataClasses, mediumClasses) {
		return investigation.SeverityMedium
	}
	return investigation.SeverityLow
}

func containsAny(classes, needles []string) bool {
	for _, c := range classes {
		lc := strings.ToLower(c)
		for _, n := range needles {
			if strings.Contains(lc, n) {
				return true
			}
		}
	}
	return false
}
