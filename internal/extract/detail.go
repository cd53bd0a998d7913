package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/directory-crawler/internal/crawler"
)

// metadataTypes are the embedded metadata entity types that describe a profile.
var metadataTypes = map[string]struct{}{
	"MedicalBusiness": {},
	"Physician":       {},
	"Person":          {},
	"LocalBusiness":   {},
}

// ScoreProfile rates how much obj looks like a profile. Objects without a
// plausible name score 0.
func ScoreProfile(obj map[string]any) int {
	name, isString := firstRaw(obj, "name", "fullName", "displayName").(string)
	if !isString || len([]rune(strings.TrimSpace(name))) < 3 {
		return 0
	}
	score := 1
	for _, group := range [][]string{
		{"telephone", "phone", "phoneNumber"},
		{"address", "locations", "location"},
		{"bio", "description", "about"},
		{"aggregateRating", "rating", "averageRating"},
		{"specialty", "specialties", "medicalSpecialty"},
	} {
		if anyTruthy(obj, group...) {
			score++
		}
	}
	return score
}

func firstRaw(obj map[string]any, keys ...string) any {
	for _, k := range keys {
		if truthy(obj[k]) {
			return obj[k]
		}
	}
	return nil
}

// BestProfile returns the highest-scoring object in the tree. Ties keep the
// first object visited.
func BestProfile(root any) (map[string]any, bool) {
	var (
		best      map[string]any
		bestScore int
	)
	Walk(root, func(obj map[string]any) {
		if score := ScoreProfile(obj); score > bestScore {
			best, bestScore = obj, score
		}
	})
	return best, best != nil
}

// DetailFromJSON maps the best profile object of a data endpoint payload.
// It reports false unless a name, phone or address was recovered.
func (e *Extractor) DetailFromJSON(root any) (crawler.Fields, bool) {
	obj, ok := BestProfile(root)
	if !ok {
		return crawler.Fields{}, false
	}
	f := detailFields(obj)
	return f, f.Name != "" || f.Phone != "" || f.Address != nil
}

func detailFields(obj map[string]any) crawler.Fields {
	addr, _ := obj["address"].(map[string]any)
	city := first(addr, at("city"), at("addressLocality"))
	if city == "" {
		city = first(obj, at("city"))
	}
	region := first(addr, at("state"), at("addressRegion"))
	if region == "" {
		region = first(obj, at("state"))
	}

	specialties := textList(obj["specialties"])
	f := crawler.Fields{
		Name:              first(obj, at("name"), at("fullName"), at("displayName")),
		ProviderID:        first(obj, at("id"), at("providerId"), at("doctorId")),
		Specialty:         first(obj, at("specialty"), at("primarySpecialty"), at("medicalSpecialty", "name")),
		Specialties:       specialties,
		Bio:               first(obj, at("bio"), at("description"), at("about")),
		Phone:             first(obj, at("telephone"), at("phone"), at("phoneNumber")),
		Email:             first(obj, at("email")),
		Website:           first(obj, at("website"), at("url")),
		Image:             first(obj, at("image", "url"), at("image")),
		Education:         textList(obj["education"]),
		Certifications:    textList(obj["certifications"]),
		AcceptedInsurance: textList(obj["acceptedInsurance"]),
		City:              city,
		Region:            region,
	}
	if f.Specialty == "" && len(specialties) > 0 {
		f.Specialty = specialties[0]
	}
	f.Rating = floatPtr(firstNumber(obj, ratingProbes...))
	f.ReviewCount = intPtr(firstNumber(obj, reviewProbes...))
	if city != "" || region != "" {
		f.Address = &crawler.Address{
			Street:     first(addr, at("street"), at("streetAddress")),
			City:       city,
			Region:     region,
			PostalCode: first(addr, at("zip"), at("postalCode")),
		}
	}
	if city != "" && region != "" {
		f.Location = city + ", " + region
	}
	return f
}

// EmbeddedMetadata maps the first JSON-LD block whose @type names a profile
// entity. Blocks that fail to parse are skipped.
func (e *Extractor) EmbeddedMetadata(doc *goquery.Document) (crawler.Fields, bool) {
	var (
		found crawler.Fields
		ok    bool
	)
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		raw := strings.TrimSpace(s.Text())
		if raw == "" {
			return true
		}
		parsed, err := parseLenient([]byte(raw))
		if err != nil {
			return true
		}
		for _, item := range metadataItems(parsed) {
			if !isProfileType(item["@type"]) {
				continue
			}
			found, ok = metadataFields(item), true
			return false
		}
		return true
	})
	return found, ok
}

func metadataItems(parsed any) []map[string]any {
	var items []map[string]any
	var add func(v any)
	add = func(v any) {
		switch t := v.(type) {
		case []any:
			for _, item := range t {
				add(item)
			}
		case map[string]any:
			items = append(items, t)
			if graph, ok := t["@graph"].([]any); ok {
				for _, item := range graph {
					if m, ok := item.(map[string]any); ok {
						items = append(items, m)
					}
				}
			}
		}
	}
	add(parsed)
	return items
}

func isProfileType(v any) bool {
	switch t := v.(type) {
	case string:
		_, ok := metadataTypes[t]
		return ok
	case []any:
		for _, item := range t {
			if s, ok := item.(string); ok {
				if _, match := metadataTypes[s]; match {
					return true
				}
			}
		}
	}
	return false
}

func metadataFields(item map[string]any) crawler.Fields {
	f := crawler.Fields{
		Name:      first(item, at("name")),
		Specialty: first(item, at("medicalSpecialty", "name"), at("medicalSpecialty"), at("specialty")),
		Bio:       first(item, at("description")),
		Phone:     first(item, at("telephone")),
		Email:     first(item, at("email")),
		Image:     first(item, at("image", "url"), at("image")),
	}
	f.Rating = floatPtr(coerceAt("aggregateRating", "ratingValue")(item))
	f.ReviewCount = intPtr(coerceAt("aggregateRating", "reviewCount")(item))
	if addr, ok := item["address"].(map[string]any); ok {
		f.Address = &crawler.Address{
			Street:     first(addr, at("streetAddress")),
			City:       first(addr, at("addressLocality")),
			Region:     first(addr, at("addressRegion")),
			PostalCode: first(addr, at("postalCode")),
		}
		f.City, f.Region = f.Address.City, f.Address.Region
	}
	return f
}

// DetailFromDOM applies selector heuristics to a rendered profile page. It
// reports false when neither a name nor any contact field was found.
func (e *Extractor) DetailFromDOM(doc *goquery.Document) (crawler.Fields, bool) {
	f := crawler.Fields{
		Name:      firstSelText(doc, "h1", `[data-testid*="name"], [class*="Name"]`),
		Phone:     CleanText(doc.Find(`a[href^="tel:"]`).First().Text()),
		Specialty: firstSelText(doc, `[class*="specialty"]`, `[data-testid*="specialty"]`),
		Bio:       firstSelText(doc, `[class*="bio"], [class*="about"], [data-testid*="bio"]`),
	}
	if href, ok := doc.Find(`a[href^="mailto:"]`).First().Attr("href"); ok {
		f.Email = strings.TrimSpace(href[len("mailto:"):])
	}
	if f.Email == "" {
		f.Email = firstSelText(doc, `[data-testid*="email"]`)
	}
	doc.Find(`a[href*="http"]`).EachWithBreak(func(_ int, a *goquery.Selection) bool {
		if strings.Contains(strings.ToLower(a.Text()), "website") {
			f.Website, _ = a.Attr("href")
			return false
		}
		return true
	})
	f.Rating = floatPtr(FirstNumber(doc.Find(`[class*="rating"]`).First().Text()))
	if f.Bio == "" {
		if content, ok := doc.Find(`meta[name="description"]`).Attr("content"); ok {
			f.Bio = CleanText(content)
		}
	}
	if src, ok := doc.Find(`img[class*="photo"], img[class*="profile"], img[alt*="Dr"]`).First().Attr("src"); ok {
		f.Image = strings.TrimSpace(src)
	}
	return f, f.Name != "" || f.Phone != "" || f.Email != ""
}

func firstSelText(doc *goquery.Document, selectors ...string) string {
	for _, sel := range selectors {
		if s := CleanText(doc.Find(sel).First().Text()); s != "" {
			return s
		}
	}
	return ""
}
