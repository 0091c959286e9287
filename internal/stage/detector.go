package stage

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Markers are the page indicators identifying one stage. A stage matches when any
// marker of any kind is found.
type Markers struct {
	// Text are case-insensitive substrings of the page source.
	Text []string `yaml:"text"`
	// Elements are CSS selectors evaluated against the parsed page source.
	Elements []string `yaml:"elements"`
	// URL are case-insensitive substrings of the current URL.
	URL []string `yaml:"url"`
}

func (m Markers) empty() bool {
	return len(m.Text) == 0 && len(m.Elements) == 0 && len(m.URL) == 0
}

// Detector classifies page content into a Stage.
type Detector struct {
	markers map[Stage]Markers
}

// NewDetector builds a detector from per-stage markers. Stages missing from the
// map never match.
func NewDetector(markers map[Stage]Markers) *Detector {
	m := make(map[Stage]Markers, len(markers))
	for s, mk := range markers {
		m[s] = mk
	}
	return &Detector{markers: m}
}

// Detect returns the first stage in Priority order whose indicators are present,
// or Unknown.
func (d *Detector) Detect(pageSource, currentURL string) Stage {
	matches := d.Matches(pageSource, currentURL)
	if len(matches) == 0 {
		return Unknown
	}
	return matches[0]
}

// Matches returns every matching stage in Priority order.
func (d *Detector) Matches(pageSource, currentURL string) []Stage {
	var out []Stage
	p := newPage(pageSource, currentURL)
	for _, s := range Priority {
		mk, ok := d.markers[s]
		if !ok || mk.empty() {
			continue
		}
		if len(p.found(mk)) > 0 {
			out = append(out, s)
		}
	}
	return out
}

// Indicators returns the markers of s found on the page, for logging.
func (d *Detector) Indicators(s Stage, pageSource, currentURL string) []string {
	mk, ok := d.markers[s]
	if !ok {
		return nil
	}
	return newPage(pageSource, currentURL).found(mk)
}

type page struct {
	lower string
	url   string
	raw   string
	doc   *goquery.Document
	// parsed is set once parsing was attempted, successful or not.
	parsed bool
}

func newPage(source, url string) *page {
	return &page{
		raw:   source,
		lower: strings.ToLower(source),
		url:   strings.ToLower(url),
	}
}

func (p *page) document() *goquery.Document {
	if !p.parsed {
		p.parsed = true
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(p.raw))
		if err == nil {
			p.doc = doc
		}
	}
	return p.doc
}

func (p *page) found(mk Markers) []string {
	var hits []string
	for _, t := range mk.Text {
		if t != "" && strings.Contains(p.lower, strings.ToLower(t)) {
			hits = append(hits, "text:"+t)
		}
	}
	for _, u := range mk.URL {
		if u != "" && strings.Contains(p.url, strings.ToLower(u)) {
			hits = append(hits, "url:"+u)
		}
	}
	if len(mk.Elements) > 0 && strings.TrimSpace(p.raw) != "" {
		if doc := p.document(); doc != nil {
			for _, sel := range mk.Elements {
				if sel != "" && matchesSelector(doc, sel) {
					hits = append(hits, "element:"+sel)
				}
			}
		}
	}
	return hits
}

// matchesSelector reports whether sel matches at least one node. Selectors that
// do not compile match nothing.
func matchesSelector(doc *goquery.Document, sel string) bool {
	return doc.Find(sel).Length() > 0
}
