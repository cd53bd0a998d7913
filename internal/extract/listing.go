package extract

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/directory-crawler/internal/crawler"
)

// MaxListItems bounds how many elements of one list field are normalized.
const MaxListItems = 30

var (
	listKeys = []string{"providers", "results", "items", "profiles", "doctors", "physicians"}

	profilePath  = regexp.MustCompile(`(?i)/(doctors|dentists|podiatrists|optometrists|chiropractors)/[^?#]+`)
	noisePath    = regexp.MustCompile(`(?i)(write-review|claim|insurance|credentials|video|office-locations|reviews)`)
	genericLabel = regexp.MustCompile(`(?i)\b(view|more|see)\b`)
)

var (
	urlProbes       = []probe{at("profileUrl"), at("profile_url"), at("url"), at("seoUrl"), at("seo_url"), at("canonicalUrl"), at("canonical_url")}
	nameProbes      = []probe{at("name"), at("fullName"), at("displayName"), at("providerName"), at("title")}
	specialtyProbes = []probe{at("specialty"), at("primarySpecialty"), head("specialties"), at("medicalSpecialty", "name")}
	cityProbes      = []probe{at("city"), at("address", "city"), at("addressLocality")}
	regionProbes    = []probe{at("state"), at("address", "state"), at("addressRegion")}
	locationProbes  = []probe{at("location"), at("practiceLocation")}
	idProbes        = []probe{at("id"), at("providerId"), at("provider_id"), at("doctorId"), at("doctor_id")}
	ratingProbes    = []numberProbe{numberAt("rating"), numberAt("averageRating"), coerceAt("aggregateRating", "ratingValue")}
	reviewProbes    = []numberProbe{coerceAt("reviewCount"), coerceAt("reviews"), coerceAt("aggregateRating", "reviewCount")}
)

// ListingFromJSON walks a data endpoint payload and normalizes the elements
// of every list-like field into listing candidates, deduplicated by URL.
func (e *Extractor) ListingFromJSON(root any) []crawler.Fields {
	var out []crawler.Fields
	seen := make(map[string]struct{})
	Walk(root, func(obj map[string]any) {
		for _, key := range sortedKeys(obj) {
			if !isListKey(key) {
				continue
			}
			arr, ok := obj[key].([]any)
			if !ok {
				continue
			}
			if len(arr) > MaxListItems {
				arr = arr[:MaxListItems]
			}
			for _, item := range arr {
				m, ok := item.(map[string]any)
				if !ok {
					continue
				}
				f, ok := e.listingItem(m)
				if !ok {
					continue
				}
				if _, dup := seen[f.URL]; dup {
					continue
				}
				seen[f.URL] = struct{}{}
				out = append(out, f)
			}
		}
	})
	return out
}

func isListKey(key string) bool {
	lower := strings.ToLower(key)
	for _, k := range listKeys {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

func (e *Extractor) listingItem(item map[string]any) (crawler.Fields, bool) {
	canonical := e.resolver.Resolve(first(item, urlProbes...))
	if canonical == "" {
		return crawler.Fields{}, false
	}
	f := crawler.Fields{
		URL:        canonical,
		ProviderID: first(item, idProbes...),
		Name:       first(item, nameProbes...),
		Specialty:  first(item, specialtyProbes...),
		City:       first(item, cityProbes...),
		Region:     first(item, regionProbes...),
	}
	if f.City != "" && f.Region != "" {
		f.Location = f.City + ", " + f.Region
	} else {
		f.Location = first(item, locationProbes...)
	}
	f.Rating = floatPtr(firstNumber(item, ratingProbes...))
	f.ReviewCount = intPtr(firstNumber(item, reviewProbes...))
	return f, true
}

// ListingFromDOM collects profile anchors from a rendered listing page.
func (e *Extractor) ListingFromDOM(doc *goquery.Document) []crawler.Fields {
	var out []crawler.Fields
	seen := make(map[string]struct{})
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		if !profilePath.MatchString(href) || noisePath.MatchString(href) {
			return
		}
		canonical := e.resolver.Resolve(href)
		if canonical == "" {
			return
		}
		if _, dup := seen[canonical]; dup {
			return
		}
		seen[canonical] = struct{}{}

		card := a.Closest("article, li, section, div")
		name := anchorName(a, card)
		if len(name) < 3 || genericLabel.MatchString(name) {
			return
		}
		f := crawler.Fields{
			URL:       canonical,
			Name:      name,
			Specialty: CleanText(card.Find(`[class*="specialty"]`).First().Text()),
			Location:  CleanText(card.Find(`[class*="location"], [class*="address"]`).First().Text()),
		}
		f.Rating = floatPtr(FirstNumber(card.Find(`[class*="rating"]`).First().Text()))
		out = append(out, f)
	})
	return out
}

func anchorName(a, card *goquery.Selection) string {
	if label, ok := a.Attr("aria-label"); ok {
		if s := CleanText(label); s != "" {
			return s
		}
	}
	if s := CleanText(a.Text()); s != "" {
		return s
	}
	return CleanText(card.Find(`h2, h3, h4, [class*="name"]`).First().Text())
}
