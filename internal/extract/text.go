// Package extract turns raw source payloads into partial profile candidates.
//
// Three independent extractors live here: a walker over the data endpoint's
// JSON tree, an embedded metadata (JSON-LD) parser and a DOM heuristic. All
// of them are pure functions of their input.
package extract

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// DefaultBaseURL is the origin profile paths are resolved against.
const DefaultBaseURL = "https://www.vitals.com"

var numberToken = regexp.MustCompile(`(\d+(\.\d+)?)`)

// CleanText normalizes unicode compatibility forms and collapses whitespace.
// It returns "" for blank input.
func CleanText(s string) string {
	if s == "" {
		return ""
	}
	return strings.Join(strings.Fields(norm.NFKC.String(s)), " ")
}

// FirstNumber returns the first integer or decimal token in s.
func FirstNumber(s string) (float64, bool) {
	m := numberToken.FindString(s)
	if m == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Resolver turns site-relative hrefs into canonical absolute URLs.
type Resolver struct {
	base string
}

// NewResolver validates base and builds a Resolver.
func NewResolver(base string) (*Resolver, error) {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", base)
	}
	return &Resolver{base: u.Scheme + "://" + u.Host}, nil
}

// Base returns the origin used for resolution.
func (r *Resolver) Base() string { return r.base }

// Resolve returns the canonical URL for href, or "" when href is blank.
func (r *Resolver) Resolve(href string) string {
	href = strings.TrimSpace(href)
	switch {
	case href == "":
		return ""
	case strings.HasPrefix(href, "http://"), strings.HasPrefix(href, "https://"):
		return href
	case strings.HasPrefix(href, "//"):
		return "https:" + href
	case strings.HasPrefix(href, "/"):
		return r.base + href
	}
	href = strings.TrimPrefix(href, "./")
	href = strings.TrimPrefix(href, "/")
	return r.base + "/" + href
}
