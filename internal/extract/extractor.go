package extract

import (
	"bytes"
	"fmt"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/directory-crawler/internal/crawler"
)

// Extractor runs the extractors for one site.
type Extractor struct {
	resolver *Resolver
}

// New builds an Extractor resolving relative links against baseURL.
func New(baseURL string) (*Extractor, error) {
	r, err := NewResolver(baseURL)
	if err != nil {
		return nil, err
	}
	return &Extractor{resolver: r}, nil
}

// Resolver exposes the URL resolver used for canonical URLs.
func (e *Extractor) Resolver() *Resolver { return e.resolver }

// BuildID returns the content build identifier embedded in a document.
func (e *Extractor) BuildID(body []byte) string { return BuildID(body) }

// FromDataEndpoint extracts candidates from a data endpoint payload. A
// malformed payload yields a *crawler.ParseError.
func (e *Extractor) FromDataEndpoint(kind crawler.Kind, body []byte) ([]crawler.Candidate, error) {
	root, err := ParseJSON(body)
	if err != nil {
		return nil, &crawler.ParseError{Source: crawler.SourceDataEndpoint, Err: err}
	}
	if kind == crawler.KindListing {
		return candidates(crawler.SourceDataEndpoint, e.ListingFromJSON(root)), nil
	}
	f, ok := e.DetailFromJSON(root)
	if !ok {
		return nil, nil
	}
	return []crawler.Candidate{{Source: crawler.SourceDataEndpoint, Fields: f}}, nil
}

// FromDocument extracts candidates from a server or browser rendered
// document. Detail pages yield at most one embedded metadata candidate
// followed by at most one DOM heuristic candidate.
func (e *Extractor) FromDocument(kind crawler.Kind, body []byte) ([]crawler.Candidate, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, &crawler.ParseError{Source: crawler.SourceDomHeuristic, Err: fmt.Errorf("parse html: %w", err)}
	}
	if kind == crawler.KindListing {
		return candidates(crawler.SourceDomHeuristic, e.ListingFromDOM(doc)), nil
	}
	var out []crawler.Candidate
	if f, ok := e.EmbeddedMetadata(doc); ok {
		out = append(out, crawler.Candidate{Source: crawler.SourceEmbeddedMetadata, Fields: f})
	}
	if f, ok := e.DetailFromDOM(doc); ok {
		out = append(out, crawler.Candidate{Source: crawler.SourceDomHeuristic, Fields: f})
	}
	return out, nil
}

func candidates(source crawler.Source, fields []crawler.Fields) []crawler.Candidate {
	if len(fields) == 0 {
		return nil
	}
	out := make([]crawler.Candidate, 0, len(fields))
	for _, f := range fields {
		out = append(out, crawler.Candidate{Source: source, Fields: f})
	}
	return out
}
