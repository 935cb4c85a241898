package topology

import (
	"encoding/json"
	"strings"
	"unicode"

	"github.com/paulmach/orb/geojson"
)

// UnknownName is assigned when no candidate name property is present.
const UnknownName = "Unknown"

// NameKeys is the probe order for a feature's display name: display name,
// English name, admin name, long name, official name.
var NameKeys = []string{
	"name", "NAME",
	"name_en", "NAME_EN",
	"admin", "ADMIN",
	"name_long", "NAME_LONG",
	"formal_en", "FORMAL_EN",
	"name_official",
}

// ISOKeys is the probe order for an ISO-like code.
var ISOKeys = []string{
	"isoCode", "iso_code",
	"iso_a3", "ISO_A3",
	"iso_a2", "ISO_A2",
	"adm0_a3", "ADM0_A3",
	"iso_3166_2",
}

// Normalize sets properties.name (and isoCode when available) on every
// feature and assigns the sequential index to features without a scalar id.
func Normalize(fc *geojson.FeatureCollection) {
	if fc == nil {
		return
	}
	for i, f := range fc.Features {
		if f == nil {
			continue
		}
		if f.Properties == nil {
			f.Properties = geojson.Properties{}
		}
		f.Properties["name"] = displayName(f.Properties)
		if _, ok := f.Properties["isoCode"]; !ok {
			if code := probe(f.Properties, ISOKeys, true); code != "" {
				f.Properties["isoCode"] = code
			}
		}
		if !scalarID(f.ID) {
			f.ID = i
		}
	}
}

// CleanName strips trailing NUL/control padding and surrounding whitespace.
func CleanName(s string) string {
	s = strings.TrimRightFunc(s, func(r rune) bool {
		return unicode.IsControl(r) || unicode.IsSpace(r)
	})
	return strings.TrimSpace(s)
}

func displayName(p geojson.Properties) string {
	if n := probe(p, NameKeys, false); n != "" {
		return n
	}
	return UnknownName
}

// probe returns the first non-empty string among keys. With codes set,
// Natural Earth's -99 placeholder for a missing code is skipped too.
func probe(p geojson.Properties, keys []string, codes bool) string {
	for _, k := range keys {
		s, ok := p[k].(string)
		if !ok {
			continue
		}
		if s = CleanName(s); s == "" || (codes && s == "-99") {
			continue
		}
		return s
	}
	return ""
}

func scalarID(id any) bool {
	switch v := id.(type) {
	case string:
		return v != ""
	case float64, float32, int, int64, int32, uint, uint64, uint32:
		return true
	case json.Number:
		return v != ""
	}
	return false
}
