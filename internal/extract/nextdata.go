package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/titanous/json5"
)

var nextDataScript = regexp.MustCompile(`(?is)<script[^>]+id="__NEXT_DATA__"[^>]*>(.*?)</script>`)

// ParseJSON decodes a payload into generic values. Numbers are kept as
// json.Number so identifiers survive without float rounding.
func ParseJSON(body []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	return out, nil
}

// parseLenient tries strict JSON first and falls back to JSON5, which
// tolerates the trailing commas and comments some pages ship in metadata.
func parseLenient(body []byte) (any, error) {
	out, err := ParseJSON(body)
	if err == nil {
		return out, nil
	}
	var loose any
	if err5 := json5.Unmarshal(body, &loose); err5 != nil {
		return nil, fmt.Errorf("decode json5: %w", err5)
	}
	return loose, nil
}

// NextData returns the decoded __NEXT_DATA__ document embedded in html.
func NextData(html []byte) (map[string]any, bool) {
	m := nextDataScript.FindSubmatch(html)
	if m == nil {
		return nil, false
	}
	parsed, err := ParseJSON(bytes.TrimSpace(m[1]))
	if err != nil {
		return nil, false
	}
	obj, ok := parsed.(map[string]any)
	return obj, ok
}

// BuildID returns the content build identifier embedded in html, or "".
func BuildID(html []byte) string {
	data, ok := NextData(html)
	if !ok {
		return ""
	}
	return textOf(data["buildId"])
}

// DataEndpointURL derives the structured data URL for pageURL:
// {origin}/_next/data/{buildID}{path}.json{?query}. The site root maps to
// /index.
func DataEndpointURL(buildID, pageURL string) (string, error) {
	buildID = strings.TrimSpace(buildID)
	if buildID == "" {
		return "", fmt.Errorf("empty build id")
	}
	u, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("parse page url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("page url %q must be absolute", pageURL)
	}
	path := strings.TrimSuffix(u.EscapedPath(), "/")
	if path == "" {
		path = "/index"
	}
	out := u.Scheme + "://" + u.Host + "/_next/data/" + url.PathEscape(buildID) + path + ".json"
	if u.RawQuery != "" {
		out += "?" + u.RawQuery
	}
	return out, nil
}
