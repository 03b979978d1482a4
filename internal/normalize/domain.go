package normalize

import (
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/lvonguyen/osintforge/internal/investigation"
)

// Domain normalizes an RDAP domain object. An empty object means the domain
// is not registered and yields an empty fragment.
func Domain(raw investigation.RawResult, _ *Sanitizer) (investigation.Fragment, error) {
	obj := gjson.ParseBytes(raw.Payload)
	if !obj.IsObject() {
		return investigation.Fragment{}, malformed(raw.Kind, "RDAP object expected")
	}
	if len(obj.Map()) == 0 {
		return investigation.Fragment{}, nil
	}

	name := strings.ToLower(strings.TrimSuffix(obj.Get("ldhName").String(), "."))
	if name == "" {
		return investigation.Fragment{}, malformed(raw.Kind, "ldhName is required")
	}

	d := investigation.DomainRecord{
		Domain:    name,
		Registrar: registrarName(obj.Get("entities")),
	}

	for _, ev := range obj.Get("events").Array() {
		ts, err := time.Parse(time.RFC3339, ev.Get("eventDate").String())
		if err != nil {
			continue
		}
		ts = ts.UTC()
		switch ev.Get("eventAction").String() {
		case "registration":
			d.RegistrationDate = &ts
		case "expiration":
			d.ExpiryDate = &ts
		}
	}

	for _, st := range obj.Get("status").Array() {
		d.Status = append(d.Status, st.String())
	}
	for _, ns := range obj.Get("nameservers").Array() {
		if host := strings.ToLower(ns.Get("ldhName").String()); host != "" {
			d.Nameservers = append(d.Nameservers, host)
		}
	}
	sort.Strings(d.Status)
	sort.Strings(d.Nameservers)

	return investigation.Fragment{Domains: []investigation.DomainRecord{d}}, nil
}

// registrarName finds the entity with the registrar role and returns the "fn"
// property of its jCard.
func registrarName(entities gjson.Result) string {
	for _, ent := range entities.Array() {
		isRegistrar := false
		for _, role := range ent.Get("roles").Array() {
			if role.String() == "registrar" {
				isRegistrar = true
				break
			}
		}
		if !isRegistrar {
			continue
		}
		// vcardArray is ["vcard", [[name, params, type, value], ...]]
		for _, prop := range ent.Get("vcardArray.1").Array() {
			parts := prop.Array()
			if len(parts) >= 4 && parts[0].String() == "fn" {
				return parts[3].String()
			}
		}
	}
	return ""
}
