package extract

import (
	"errors"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/directory-crawler/internal/crawler"
)

func newExtractor(t *testing.T) *Extractor {
	t.Helper()
	e, err := New(DefaultBaseURL)
	require.NoError(t, err)
	return e
}

func parseDoc(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return doc
}

func TestListingFromDataEndpointResolvesCanonicalURL(t *testing.T) {
	t.Parallel()

	e := newExtractor(t)
	body := []byte(`{"pageProps":{"results":[{"seoUrl":"/doctors/dr-a","name":"Dr. A","specialty":"Cardiology"}]}}`)
	got, err := e.FromDataEndpoint(crawler.KindListing, body)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, crawler.SourceDataEndpoint, got[0].Source)
	require.Equal(t, "https://www.vitals.com/doctors/dr-a", got[0].Fields.URL)
	require.Equal(t, "Dr. A", got[0].Fields.Name)
	require.Equal(t, "Cardiology", got[0].Fields.Specialty)
}

func TestListingFromJSONProbesAndDedup(t *testing.T) {
	t.Parallel()

	e := newExtractor(t)
	root, err := ParseJSON([]byte(`{
		"props": {
			"searchProviders": [
				{"profileUrl": "https://www.vitals.com/doctors/dr-b", "fullName": "Dr. B", "providerId": 12345678901234567,
				 "address": {"city": "Austin", "state": "TX"}, "aggregateRating": {"ratingValue": "4.2", "reviewCount": "17"}},
				{"url": "doctors/dr-b-dup", "name": "Dup"},
				{"seo_url": "/doctors/dr-b", "name": "Repeat"},
				{"name": "No URL"},
				"not-an-object"
			],
			"topItems": [{"canonical_url": "./doctors/dr-c", "title": "Dr. C", "location": "Denver", "rating": 3}]
		}
	}`))
	require.NoError(t, err)

	got := e.ListingFromJSON(root)
	byURL := map[string]crawler.Fields{}
	for _, f := range got {
		byURL[f.URL] = f
	}
	require.Len(t, byURL, 3)
	require.Len(t, got, 3)

	b := byURL["https://www.vitals.com/doctors/dr-b"]
	require.Equal(t, "12345678901234567", b.ProviderID)
	require.Equal(t, "Austin, TX", b.Location)
	require.NotNil(t, b.Rating)
	require.InDelta(t, 4.2, *b.Rating, 1e-9)
	require.NotNil(t, b.ReviewCount)
	require.Equal(t, 17, *b.ReviewCount)

	c := byURL["https://www.vitals.com/doctors/dr-c"]
	require.Equal(t, "Dr. C", c.Name)
	require.Equal(t, "Denver", c.Location)
	require.InDelta(t, 3.0, *c.Rating, 1e-9)

	require.Contains(t, byURL, "https://www.vitals.com/doctors/dr-b-dup")
}

func TestListingFromJSONCapsEachList(t *testing.T) {
	t.Parallel()

	e := newExtractor(t)
	items := make([]any, 0, 40)
	for i := 0; i < 40; i++ {
		items = append(items, map[string]any{"url": "/doctors/p" + strings.Repeat("x", i+1)})
	}
	got := e.ListingFromJSON(map[string]any{"results": items})
	require.Len(t, got, MaxListItems)
}

func TestWalkTerminatesOnCycles(t *testing.T) {
	t.Parallel()

	a := map[string]any{"name": "Dr. Loop"}
	b := map[string]any{"parent": a}
	a["child"] = b
	arr := []any{a, b}
	a["siblings"] = arr

	visits := 0
	Walk(map[string]any{"root": a, "again": arr}, func(map[string]any) { visits++ })
	require.Equal(t, 3, visits)
}

func TestWalkIsDeterministic(t *testing.T) {
	t.Parallel()

	e := newExtractor(t)
	body := []byte(`{"a":{"results":[{"url":"/doctors/x","name":"X"}]},"b":{"items":[{"url":"/doctors/y","name":"Y"}]},"c":{"doctors":[{"url":"/doctors/z","name":"Z"}]}}`)
	first, err := e.FromDataEndpoint(crawler.KindListing, body)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := e.FromDataEndpoint(crawler.KindListing, body)
		require.NoError(t, err)
		require.Equal(t, first, again)
	}
}

func TestBestProfileScoring(t *testing.T) {
	t.Parallel()

	root, err := ParseJSON([]byte(`{
		"pageProps": {
			"breadcrumb": {"name": "Cardiologists in Austin"},
			"provider": {
				"name": "Dr. Jane Roe", "id": 42, "telephone": "512-555-0100",
				"address": {"streetAddress": "1 Main St", "addressLocality": "Austin", "addressRegion": "TX", "postalCode": "78701"},
				"description": "Board certified.", "averageRating": 4.8, "reviews": 120,
				"specialties": ["Cardiology", "Internal Medicine"],
				"image": {"url": "https://img/roe.jpg"},
				"certifications": ["ABIM"], "acceptedInsurance": ["Aetna", " "]
			},
			"short": {"name": "Dr", "phone": "1", "bio": "x"}
		}
	}`))
	require.NoError(t, err)

	best, ok := BestProfile(root)
	require.True(t, ok)
	require.Equal(t, "Dr. Jane Roe", best["name"])
	require.Equal(t, 6, ScoreProfile(best))
	require.Zero(t, ScoreProfile(map[string]any{"name": "Dr", "phone": "1"}))
	require.Zero(t, ScoreProfile(map[string]any{"name": 12345, "phone": "1"}))

	e := newExtractor(t)
	f, ok := e.DetailFromJSON(root)
	require.True(t, ok)
	require.Equal(t, "42", f.ProviderID)
	require.Equal(t, "Cardiology", f.Specialty)
	require.Equal(t, []string{"Cardiology", "Internal Medicine"}, f.Specialties)
	require.Equal(t, "Austin, TX", f.Location)
	require.Equal(t, &crawler.Address{Street: "1 Main St", City: "Austin", Region: "TX", PostalCode: "78701"}, f.Address)
	require.Equal(t, "https://img/roe.jpg", f.Image)
	require.Equal(t, []string{"Aetna"}, f.AcceptedInsurance)
	require.InDelta(t, 4.8, *f.Rating, 1e-9)
	require.Equal(t, 120, *f.ReviewCount)
}

func TestBestProfileTieKeepsFirstVisited(t *testing.T) {
	t.Parallel()

	root := map[string]any{
		"a": map[string]any{"name": "Dr. Alpha", "phone": "1"},
		"b": map[string]any{"name": "Dr. Beta", "phone": "2"},
	}
	best, ok := BestProfile(root)
	require.True(t, ok)
	// Keys are pushed in sorted order and popped last-in-first-out.
	require.Equal(t, "Dr. Beta", best["name"])
}

func TestDetailFromDataEndpointRequiresIdentity(t *testing.T) {
	t.Parallel()

	e := newExtractor(t)
	got, err := e.FromDataEndpoint(crawler.KindDetail, []byte(`{"pageProps":{"meta":{"title":"x"}}}`))
	require.NoError(t, err)
	require.Empty(t, got)

	_, err = e.FromDataEndpoint(crawler.KindDetail, []byte(`<html>`))
	var parseErr *crawler.ParseError
	require.True(t, errors.As(err, &parseErr))
	require.Equal(t, crawler.SourceDataEndpoint, parseErr.Source)
}

const detailPage = `<html><head>
<meta name="description" content="Meta bio">
<script type="application/ld+json">{"@type":"BreadcrumbList","name":"crumbs"}</script>
<script type="application/ld+json">[{"@type":["Physician","Person"],"name":"Dr. Jane Roe",
 "medicalSpecialty":{"name":"Cardiology"},"telephone":"512-555-0100",
 "aggregateRating":{"ratingValue":"4.5","reviewCount":9},
 "address":{"streetAddress":"1 Main St","addressLocality":"Austin","addressRegion":"TX","postalCode":"78701"},}]</script>
<script type="application/ld+json">{"@type":"Person","name":"Second"}</script>
</head><body>
<h1> Dr.   Jane
 Roe </h1>
<a href="tel:5125550100">(512) 555-0100</a>
<a href="mailto:jane@example.com">Email</a>
<a href="https://janeroe.example.com">Visit Website</a>
<div class="profile-specialty">Cardiologist</div>
<span class="star-rating">Rated 4.0 of 5</span>
<img class="profile-photo" src="/img/jane.jpg">
</body></html>`

func TestDetailFromDocument(t *testing.T) {
	t.Parallel()

	e := newExtractor(t)
	got, err := e.FromDocument(crawler.KindDetail, []byte(detailPage))
	require.NoError(t, err)
	require.Len(t, got, 2)

	meta := got[0]
	require.Equal(t, crawler.SourceEmbeddedMetadata, meta.Source)
	require.Equal(t, "Dr. Jane Roe", meta.Fields.Name)
	require.Equal(t, "Cardiology", meta.Fields.Specialty)
	require.InDelta(t, 4.5, *meta.Fields.Rating, 1e-9)
	require.Equal(t, 9, *meta.Fields.ReviewCount)
	require.Equal(t, "Austin", meta.Fields.Address.City)

	dom := got[1]
	require.Equal(t, crawler.SourceDomHeuristic, dom.Source)
	require.Equal(t, "Dr. Jane Roe", dom.Fields.Name)
	require.Equal(t, "(512) 555-0100", dom.Fields.Phone)
	require.Equal(t, "jane@example.com", dom.Fields.Email)
	require.Equal(t, "https://janeroe.example.com", dom.Fields.Website)
	require.Equal(t, "Cardiologist", dom.Fields.Specialty)
	require.InDelta(t, 4.0, *dom.Fields.Rating, 1e-9)
	require.Equal(t, "Meta bio", dom.Fields.Bio)
	require.Equal(t, "/img/jane.jpg", dom.Fields.Image)
}

func TestDetailFromDocumentIsIdempotent(t *testing.T) {
	t.Parallel()

	e := newExtractor(t)
	first, err := e.FromDocument(crawler.KindDetail, []byte(detailPage))
	require.NoError(t, err)
	second, err := e.FromDocument(crawler.KindDetail, []byte(detailPage))
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestEmbeddedMetadataAbsent(t *testing.T) {
	t.Parallel()

	e := newExtractor(t)
	_, ok := e.EmbeddedMetadata(parseDoc(t, `<script type="application/ld+json">{"@type":"WebSite"}</script><script type="application/ld+json">{broken</script>`))
	require.False(t, ok)
}

func TestListingFromDOM(t *testing.T) {
	t.Parallel()

	e := newExtractor(t)
	html := `<ul>
	<li class="card"><a href="/doctors/dr-jane-roe"><span>Dr. Jane Roe</span></a>
		<div class="card-specialty">Cardiology</div><div class="card-location">Austin, TX</div>
		<div class="rating-stars">4.7 (31)</div></li>
	<li><a href="/doctors/dr-jane-roe/reviews">Reviews</a></li>
	<li><a href="/doctors/dr-jane-roe">Dr. Jane Roe</a></li>
	<li><a href="/doctors/dr-x/write-review">Write</a></li>
	<li><a href="/doctors/dr-more">View profile</a></li>
	<li><article><h3>Dr. Sam Moreno</h3><a href="/dentists/dr-sam-moreno" aria-label=""> </a></article></li>
	<li><a href="/about">About</a></li>
	</ul>`
	got := e.ListingFromDOM(parseDoc(t, html))
	require.Len(t, got, 2)
	require.Equal(t, "https://www.vitals.com/doctors/dr-jane-roe", got[0].URL)
	require.Equal(t, "Dr. Jane Roe", got[0].Name)
	require.Equal(t, "Cardiology", got[0].Specialty)
	require.Equal(t, "Austin, TX", got[0].Location)
	require.InDelta(t, 4.7, *got[0].Rating, 1e-9)
	require.Equal(t, "Dr. Sam Moreno", got[1].Name)
	require.Nil(t, got[1].Rating)
}

func TestBuildIDAndDataEndpointURL(t *testing.T) {
	t.Parallel()

	html := []byte(`<html><script id="__NEXT_DATA__" type="application/json">{"buildId":"b-123","page":"/doctors"}</script></html>`)
	require.Equal(t, "b-123", BuildID(html))
	require.Empty(t, BuildID([]byte(`<html></html>`)))
	require.Empty(t, BuildID([]byte(`<script id="__NEXT_DATA__">{oops</script>`)))

	got, err := DataEndpointURL("b-123", "https://www.vitals.com/cardiologists/ny/new-york/?page=2")
	require.NoError(t, err)
	require.Equal(t, "https://www.vitals.com/_next/data/b-123/cardiologists/ny/new-york.json?page=2", got)

	got, err = DataEndpointURL("b-123", "https://www.vitals.com/")
	require.NoError(t, err)
	require.Equal(t, "https://www.vitals.com/_next/data/b-123/index.json", got)

	_, err = DataEndpointURL("", "https://www.vitals.com/")
	require.Error(t, err)
	_, err = DataEndpointURL("b", "/relative")
	require.Error(t, err)
}

func TestResolverAndCleanText(t *testing.T) {
	t.Parallel()

	r, err := NewResolver("https://www.vitals.com/some/path")
	require.NoError(t, err)
	require.Equal(t, "https://www.vitals.com/doctors/a", r.Resolve("/doctors/a"))
	require.Equal(t, "https://www.vitals.com/doctors/a", r.Resolve("./doctors/a"))
	require.Equal(t, "https://cdn.example.com/x", r.Resolve("//cdn.example.com/x"))
	require.Equal(t, "http://other.example.com", r.Resolve(" http://other.example.com "))
	require.Empty(t, r.Resolve("  "))

	_, err = NewResolver("not-absolute")
	require.Error(t, err)

	require.Equal(t, "Dr. Jane Roe", CleanText("  Dr. Jane \n Roe "))
	require.Empty(t, CleanText(" \t "))
	v, ok := FirstNumber("Rated 4.25 stars")
	require.True(t, ok)
	require.InDelta(t, 4.25, v, 1e-9)
	_, ok = FirstNumber("none")
	require.False(t, ok)
}
