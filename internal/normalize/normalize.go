// Package normalize merges extractor candidates into one final record.
//
// Precedence is per field, highest first: data endpoint, embedded metadata,
// DOM heuristic, listing seed, then the run's default search context. A field
// is filled from a lower source only when every higher source left it empty.
// Numeric pointer fields follow the same rule with zero treated as empty.
package normalize

import (
	"fmt"
	"sort"

	"dario.cat/mergo"

	"github.com/JakeFAU/directory-crawler/internal/crawler"
)

var rank = map[crawler.Source]int{
	crawler.SourceDataEndpoint:     0,
	crawler.SourceEmbeddedMetadata: 1,
	crawler.SourceDomHeuristic:     2,
	crawler.SourceSeed:             3,
}

// Defaults is the fallback context used when no source supplies a field.
type Defaults struct {
	Specialty string
	Location  string
}

// Normalizer builds final records.
type Normalizer struct {
	defaults Defaults
	clock    crawler.Clock
}

// New constructs a Normalizer.
func New(defaults Defaults, clock crawler.Clock) *Normalizer {
	return &Normalizer{defaults: defaults, clock: clock}
}

// Merge combines candidates and the seed by precedence. Candidates from the
// same source keep their relative order.
func (n *Normalizer) Merge(candidates []crawler.Candidate, seed crawler.Fields) (crawler.Fields, error) {
	ordered := make([]crawler.Candidate, 0, len(candidates)+1)
	ordered = append(ordered, candidates...)
	ordered = append(ordered, crawler.Candidate{Source: crawler.SourceSeed, Fields: seed})
	sort.SliceStable(ordered, func(i, j int) bool {
		return rankOf(ordered[i].Source) < rankOf(ordered[j].Source)
	})

	var out crawler.Fields
	for _, c := range ordered {
		f := c.Fields.Clone()
		deriveLocation(&f)
		if err := mergo.Merge(&out, f); err != nil {
			return crawler.Fields{}, fmt.Errorf("merge %s candidate: %w", c.Source, err)
		}
	}
	if err := mergo.Merge(&out, crawler.Fields{Specialty: n.defaults.Specialty, Location: n.defaults.Location}); err != nil {
		return crawler.Fields{}, fmt.Errorf("merge defaults: %w", err)
	}
	return out, nil
}

// Normalize merges candidates for target into an emitted record.
func (n *Normalizer) Normalize(target crawler.FetchTarget, candidates []crawler.Candidate, channel crawler.Channel) (crawler.Record, error) {
	fields, err := n.Merge(candidates, target.Seed)
	if err != nil {
		return crawler.Record{}, err
	}
	fields.URL = target.CanonicalURL
	return crawler.Record{
		ID:         target.CanonicalURL,
		Fields:     fields,
		Provenance: Provenance(target.Kind, candidates, channel),
		FetchedAt:  n.clock.Now(),
	}, nil
}

// Provenance names the tier and extractor that produced a record.
func Provenance(kind crawler.Kind, candidates []crawler.Candidate, channel crawler.Channel) string {
	browser := channel == crawler.ChannelBrowser
	if kind == crawler.KindListing {
		if browser {
			return crawler.ProvenanceListingBrowser
		}
		return crawler.ProvenanceListing
	}
	best := crawler.SourceSeed
	for _, c := range candidates {
		if rankOf(c.Source) < rankOf(best) {
			best = c.Source
		}
	}
	switch {
	case best == crawler.SourceDataEndpoint:
		return crawler.ProvenanceJSON
	case best == crawler.SourceEmbeddedMetadata && browser:
		return crawler.ProvenanceJSONLDBrowser
	case best == crawler.SourceEmbeddedMetadata:
		return crawler.ProvenanceJSONLD
	case browser:
		return crawler.ProvenanceHTMLBrowser
	}
	return crawler.ProvenanceHTML
}

func rankOf(s crawler.Source) int {
	if r, ok := rank[s]; ok {
		return r
	}
	return len(rank)
}

// deriveLocation fills "city, region" from the candidate's own fields.
func deriveLocation(f *crawler.Fields) {
	if f.City == "" && f.Address != nil {
		f.City = f.Address.City
	}
	if f.Region == "" && f.Address != nil {
		f.Region = f.Address.Region
	}
	if f.Location == "" && f.City != "" && f.Region != "" {
		f.Location = f.City + ", " + f.Region
	}
}
