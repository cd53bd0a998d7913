// Package crawler defines core types shared across subsystems.
package crawler

import (
	"net/http"
	"time"
)

// Kind distinguishes listing pages from profile detail pages.
type Kind int

// Fetch target kinds.
const (
	KindListing Kind = iota
	KindDetail
)

func (k Kind) String() string {
	if k == KindListing {
		return "listing"
	}
	return "detail"
}

// Channel identifies which acquisition channel produced a response.
type Channel string

// Acquisition channels in escalating cost order.
const (
	ChannelDataEndpoint Channel = "data-endpoint"
	ChannelDocument     Channel = "document"
	ChannelBrowser      Channel = "browser"
)

// Source identifies the extractor that produced a candidate.
type Source string

// Extractor sources, highest merge priority first.
const (
	SourceDataEndpoint     Source = "data-endpoint"
	SourceEmbeddedMetadata Source = "embedded-metadata"
	SourceDomHeuristic     Source = "dom-heuristic"
	SourceSeed             Source = "seed"
)

// Provenance tags stamped onto emitted records.
const (
	ProvenanceJSON           = "json"
	ProvenanceJSONLD         = "json-ld"
	ProvenanceHTML           = "html"
	ProvenanceJSONLDBrowser  = "json-ld+browser"
	ProvenanceHTMLBrowser    = "html+browser"
	ProvenanceListing        = "listing"
	ProvenanceListingBrowser = "listing+browser"
)

// Address is the structured postal address of a profile.
type Address struct {
	Street     string `json:"street,omitempty"`
	City       string `json:"city,omitempty"`
	Region     string `json:"state,omitempty"`
	PostalCode string `json:"zip,omitempty"`
}

// Fields is a partially or fully populated profile. Zero values mean "unknown".
type Fields struct {
	URL               string   `json:"url,omitempty"`
	ProviderID        string   `json:"doctorId,omitempty"`
	Name              string   `json:"name,omitempty"`
	Specialty         string   `json:"specialty,omitempty"`
	Specialties       []string `json:"specialties,omitempty"`
	City              string   `json:"-"`
	Region            string   `json:"-"`
	Location          string   `json:"location,omitempty"`
	Phone             string   `json:"phone,omitempty"`
	Email             string   `json:"email,omitempty"`
	Website           string   `json:"website,omitempty"`
	Rating            *float64 `json:"rating"`
	ReviewCount       *int     `json:"reviews"`
	Bio               string   `json:"bio,omitempty"`
	Image             string   `json:"image,omitempty"`
	Address           *Address `json:"address,omitempty"`
	Education         []string `json:"education,omitempty"`
	Certifications    []string `json:"certifications,omitempty"`
	AcceptedInsurance []string `json:"accepted_insurance,omitempty"`
}

// Clone returns a deep copy so merges never alias candidate storage.
func (f Fields) Clone() Fields {
	out := f
	out.Specialties = cloneStrings(f.Specialties)
	out.Education = cloneStrings(f.Education)
	out.Certifications = cloneStrings(f.Certifications)
	out.AcceptedInsurance = cloneStrings(f.AcceptedInsurance)
	if f.Rating != nil {
		v := *f.Rating
		out.Rating = &v
	}
	if f.ReviewCount != nil {
		v := *f.ReviewCount
		out.ReviewCount = &v
	}
	if f.Address != nil {
		a := *f.Address
		out.Address = &a
	}
	return out
}

// IsEmpty reports whether no identifying or contact field is populated.
func (f Fields) IsEmpty() bool {
	return f.Name == "" && f.Phone == "" && f.Address == nil && f.Email == "" && f.Bio == ""
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}

// FetchTarget is one logical page to acquire. Immutable once enqueued.
type FetchTarget struct {
	CanonicalURL string
	Kind         Kind
	Seed         Fields
}

// RawResponse is an HTTP or browser response consumed by extraction.
type RawResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Channel    Channel
}

// Candidate is one extractor's view of a target.
type Candidate struct {
	Source Source
	Fields Fields
}

// Record is the normalized, emitted profile.
type Record struct {
	ID string `json:"id"`
	Fields
	Provenance string    `json:"source"`
	FetchedAt  time.Time `json:"fetched_at"`
}

// Cookie is a single name/value pair held in the session jar.
type Cookie struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// SessionSnapshot is the persisted form of the session identity.
type SessionSnapshot struct {
	SessionID string    `json:"sessionId"`
	UserAgent string    `json:"userAgent"`
	Cookies   []Cookie  `json:"cookies"`
	BuildID   string    `json:"buildId,omitempty"`
	SavedAt   time.Time `json:"savedAt"`
}

// BootstrapResult is what a browser bootstrap hands back to the caller.
type BootstrapResult struct {
	URL         string
	HTML        string
	BuildID     string
	CookieCount int
	UserAgent   string
}

// Summary counts what happened during a run.
type Summary struct {
	ListingPages      int           `json:"listingPages"`
	ListingCandidates int           `json:"listingCandidates"`
	DetailPages       int           `json:"detailPages"`
	DataEndpointHits  int           `json:"dataEndpointHits"`
	DocumentHits      int           `json:"documentHits"`
	BrowserHits       int           `json:"browserHits"`
	Bootstraps        int           `json:"bootstraps"`
	Blocked           int           `json:"blocked"`
	Errors            int           `json:"errors"`
	Failed            int           `json:"failed"`
	Saved             int           `json:"saved"`
	Wanted            int           `json:"wanted"`
	Runtime           time.Duration `json:"runtime"`
}

// RecordsPerSecond reports throughput over the run.
func (s Summary) RecordsPerSecond() float64 {
	if s.Saved == 0 || s.Runtime <= 0 {
		return 0
	}
	return float64(s.Saved) / s.Runtime.Seconds()
}
