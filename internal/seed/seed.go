// Package seed builds listing page URLs from a free-form specialty and
// location.
package seed

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/antzucaro/matchr"
	"golang.org/x/text/cases"
)

// DefaultSlug is used when no specialty is given.
const DefaultSlug = "doctors"

// matchThreshold is the Jaro-Winkler similarity a misspelled specialty
// needs to snap onto a known table key.
const matchThreshold = 0.92

var specialtySlugs = map[string]string{
	"cardiovascular disease": "cardiologists",
	"cardiology":             "cardiologists",
	"cardiologist":           "cardiologists",
	"dermatology":            "dermatologists",
	"dermatologist":          "dermatologists",
	"family medicine":        "family-medicine-doctors",
	"family practice":        "family-medicine-doctors",
	"internal medicine":      "internists",
	"internist":              "internists",
	"orthopedic surgery":     "orthopedic-surgeons",
	"orthopedics":            "orthopedic-surgeons",
	"pediatrics":             "pediatricians",
	"pediatrician":           "pediatricians",
	"psychiatry":             "psychiatrists",
	"psychiatrist":           "psychiatrists",
	"neurology":              "neurologists",
	"neurologist":            "neurologists",
	"obstetrics gynecology":  "obstetricians-gynecologists",
	"ob gyn":                 "obstetricians-gynecologists",
	"ophthalmology":          "ophthalmologists",
	"ophthalmologist":        "ophthalmologists",
	"dentist":                "dentists",
	"dentistry":              "dentists",
	"gastroenterology":       "gastroenterologists",
	"gastroenterologist":     "gastroenterologists",
	"urology":                "urologists",
	"urologist":              "urologists",
	"pulmonology":            "pulmonologists",
	"pulmonologist":          "pulmonologists",
	"endocrinology":          "endocrinologists",
	"endocrinologist":        "endocrinologists",
	"rheumatology":           "rheumatologists",
	"rheumatologist":         "rheumatologists",
	"oncology":               "oncologists",
	"oncologist":             "oncologists",
	"allergy immunology":     "allergists-immunologists",
	"allergist":              "allergists-immunologists",
	"pain management":        "pain-management-specialists",
	"physical therapy":       "physical-therapists",
	"chiropractor":           "chiropractors",
	"podiatrist":             "podiatrists",
	"optometrist":            "optometrists",
}

// stateCodes maps full state names to their postal codes.
var stateCodes = map[string]string{
	"alabama": "al", "alaska": "ak", "arizona": "az", "arkansas": "ar",
	"california": "ca", "colorado": "co", "connecticut": "ct", "delaware": "de",
	"florida": "fl", "georgia": "ga", "hawaii": "hi", "idaho": "id",
	"illinois": "il", "indiana": "in", "iowa": "ia", "kansas": "ks",
	"kentucky": "ky", "louisiana": "la", "maine": "me", "maryland": "md",
	"massachusetts": "ma", "michigan": "mi", "minnesota": "mn", "mississippi": "ms",
	"missouri": "mo", "montana": "mt", "nebraska": "ne", "nevada": "nv",
	"new hampshire": "nh", "new jersey": "nj", "new mexico": "nm", "new york": "ny",
	"north carolina": "nc", "north dakota": "nd", "ohio": "oh", "oklahoma": "ok",
	"oregon": "or", "pennsylvania": "pa", "rhode island": "ri", "south carolina": "sc",
	"south dakota": "sd", "tennessee": "tn", "texas": "tx", "utah": "ut",
	"vermont": "vt", "virginia": "va", "washington": "wa", "west virginia": "wv",
	"wisconsin": "wi", "wyoming": "wy",
}

var (
	knownCodes   = invert(stateCodes)
	specialtyKey = sortedKeys(specialtySlugs)
	folder       = cases.Fold()
	nonSlug      = regexp.MustCompile(`[^a-z0-9-]`)
	spaces       = regexp.MustCompile(`\s+`)
)

// Location is a parsed search location. City is a URL slug and may be empty.
type Location struct {
	State string
	City  string
}

// SpecialtySlug maps a specialty name onto its listing path segment. Names
// missing from the table snap to the closest key when similar enough, and
// are otherwise slugified as-is.
func SpecialtySlug(specialty string) string {
	folded := fold(specialty)
	if folded == "" {
		return DefaultSlug
	}
	key := strings.ReplaceAll(folded, "-", " ")
	if slug, ok := specialtySlugs[key]; ok {
		return slug
	}
	if best, score := closestSpecialty(key); score >= matchThreshold {
		return specialtySlugs[best]
	}
	return slugify(folded)
}

func closestSpecialty(name string) (string, float64) {
	var (
		best  string
		score float64
	)
	for _, key := range specialtyKey {
		if s := matchr.JaroWinkler(name, key, false); s > score {
			best, score = key, s
		}
	}
	return best, score
}

// ParseLocation understands "City, ST", "City, State", "City ST", a bare
// state name or a bare postal code. It returns false when no state can be
// resolved.
func ParseLocation(location string) (Location, bool) {
	normalized := spaces.ReplaceAllString(fold(location), " ")
	if normalized == "" {
		return Location{}, false
	}

	if cityPart, statePart, ok := strings.Cut(normalized, ","); ok {
		cityPart = strings.TrimSpace(cityPart)
		statePart = strings.TrimSpace(statePart)
		if cityPart != "" && statePart != "" {
			if code, ok := stateCode(statePart); ok {
				return Location{State: code, City: slugify(cityPart)}, true
			}
		}
	}

	if code, ok := stateCode(normalized); ok {
		return Location{State: code}, true
	}

	parts := strings.Fields(normalized)
	// Try two-word state names ("albany new york") before one-word ones.
	for n := 2; n >= 1; n-- {
		if len(parts) <= n {
			continue
		}
		if code, ok := stateCode(strings.Join(parts[len(parts)-n:], " ")); ok {
			return Location{State: code, City: slugify(strings.Join(parts[:len(parts)-n], " "))}, true
		}
	}
	return Location{}, false
}

func stateCode(s string) (string, bool) {
	if len(s) == 2 {
		_, ok := knownCodes[s]
		return s, ok
	}
	code, ok := stateCodes[s]
	return code, ok
}

// ListingURL builds the listing page URL for page (1-based) under base.
func ListingURL(base, specialty, location string, page int) string {
	var b strings.Builder
	b.WriteString(strings.TrimRight(base, "/"))
	b.WriteString("/")
	b.WriteString(SpecialtySlug(specialty))
	if loc, ok := ParseLocation(location); ok {
		b.WriteString("/" + loc.State)
		if strings.Trim(loc.City, "-") != "" {
			b.WriteString("/" + loc.City)
		}
	}
	if page > 1 {
		fmt.Fprintf(&b, "?page=%d", page)
	}
	return b.String()
}

// ListingURLs returns the pages to visit: startURL alone when set, otherwise
// pages 1..maxPages of the search listing.
func ListingURLs(base, startURL, specialty, location string, maxPages int) []string {
	if s := strings.TrimSpace(startURL); s != "" {
		return []string{s}
	}
	if maxPages < 1 {
		maxPages = 1
	}
	urls := make([]string, 0, maxPages)
	for page := 1; page <= maxPages; page++ {
		urls = append(urls, ListingURL(base, specialty, location, page))
	}
	return urls
}

func fold(s string) string {
	return strings.TrimSpace(folder.String(s))
}

func slugify(s string) string {
	s = spaces.ReplaceAllString(strings.TrimSpace(s), "-")
	return nonSlug.ReplaceAllString(s, "")
}

func invert(m map[string]string) map[string]struct{} {
	out := make(map[string]struct{}, len(m))
	for _, v := range m {
		out[v] = struct{}{}
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
