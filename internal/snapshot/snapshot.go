package snapshot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"

	"github.com/polzovatel/ballot-runner/internal/browser"
)

const (
	visibleLimit  = 1200
	elementLimit  = 40
	captureBudget = 15 * time.Second
)

// Element describes minimal info about an interactive node.
type Element struct {
	Role string `json:"role"`
	Text string `json:"text"`
	Attr string `json:"attr"`
	Sel  string `json:"selector"`
}

// Summary is a compact view of the current page.
type Summary struct {
	URL      string
	Title    string
	Visible  string
	Elements []Element
}

func (s Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "URL: %s\nTITLE: %s\nTEXT: %s\nELEMENTS:\n", s.URL, s.Title, s.Visible)
	for i, el := range s.Elements {
		fmt.Fprintf(&b, "%d) role=%s text=%s attr=%s sel=%s\n", i+1, el.Role, el.Text, el.Attr, el.Sel)
	}
	return b.String()
}

// Summarize builds a Summary from page HTML.
func Summarize(html, url string) (Summary, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Summary{URL: url}, fmt.Errorf("parse page: %w", err)
	}
	body := doc.Find("body").Clone()
	body.Find("script, style, noscript").Remove()
	return Summary{
		URL:      url,
		Title:    strings.TrimSpace(doc.Find("title").First().Text()),
		Visible:  truncate(collapseSpace(body.Text()), visibleLimit),
		Elements: rankElements(collectInteractive(doc), elementLimit),
	}, nil
}

// Collect summarises the page currently shown by ctrl. The live document
// title wins over the one in the markup, since scripts may have changed it.
func Collect(ctx context.Context, ctrl browser.Controller) (Summary, error) {
	html, err := ctrl.PageSource(ctx)
	if err != nil {
		return Summary{URL: ctrl.CurrentURL()}, err
	}
	sum, err := Summarize(html, ctrl.CurrentURL())
	if err != nil {
		return sum, err
	}
	if title, err := ctrl.Title(ctx); err == nil && strings.TrimSpace(title) != "" {
		sum.Title = strings.TrimSpace(title)
	}
	return sum, nil
}

// WithDeadline shortens context to avoid long snapshot waits.
func WithDeadline(ctx context.Context, dur time.Duration) (context.Context, context.CancelFunc) {
	if dur <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, dur)
}

func collectInteractive(doc *goquery.Document) []Element {
	var out []Element
	doc.Find("a[href], button, input, select, textarea, [role=button], [role=checkbox]").Each(func(_ int, s *goquery.Selection) {
		if typ, _ := s.Attr("type"); strings.EqualFold(typ, "hidden") {
			return
		}
		el := Element{
			Role: roleOf(s),
			Text: truncate(collapseSpace(s.Text()), 60),
			Sel:  selectorOf(s),
		}
		for _, name := range []string{"id", "name", "type", "value", "placeholder", "aria-label"} {
			if v, ok := s.Attr(name); ok && strings.TrimSpace(v) != "" {
				el.Attr += name + "=" + truncate(v, 40) + " "
			}
		}
		el.Attr = strings.TrimSpace(el.Attr)
		out = append(out, el)
	})
	return out
}

func roleOf(s *goquery.Selection) string {
	if role, ok := s.Attr("role"); ok && role != "" {
		return role
	}
	tag := goquery.NodeName(s)
	switch tag {
	case "a":
		return "link"
	case "input":
		typ, _ := s.Attr("type")
		switch strings.ToLower(typ) {
		case "checkbox", "radio":
			return strings.ToLower(typ)
		case "submit", "button", "image":
			return "button"
		default:
			return "textbox"
		}
	case "textarea":
		return "textbox"
	case "select":
		return "combobox"
	default:
		return tag
	}
}

func selectorOf(s *goquery.Selection) string {
	tag := goquery.NodeName(s)
	if id, ok := s.Attr("id"); ok && id != "" {
		return "#" + id
	}
	if name, ok := s.Attr("name"); ok && name != "" {
		return fmt.Sprintf("%s[name='%s']", tag, name)
	}
	return tag
}

// rankElements keeps form controls ahead of links.
func rankElements(elems []Element, maxCount int) []Element {
	score := func(el Element) int {
		switch el.Role {
		case "textbox", "combobox":
			return 4
		case "checkbox", "radio":
			return 3
		case "button":
			return 2
		default:
			return 1
		}
	}
	sort.SliceStable(elems, func(i, j int) bool {
		return score(elems[i]) > score(elems[j])
	})
	if len(elems) > maxCount {
		elems = elems[:maxCount]
	}
	return elems
}

var spaceRe = regexp.MustCompile(`\s+`)

func collapseSpace(s string) string {
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// Recorder writes page dumps for one batch run under <dir>/<run-id>.
// A Recorder with an empty dir records nothing.
type Recorder struct {
	root   string
	md     *converter.Converter
	logger zerolog.Logger
}

func NewRecorder(dir, runID string, logger zerolog.Logger) *Recorder {
	r := &Recorder{logger: logger}
	if strings.TrimSpace(dir) == "" {
		return r
	}
	r.root = filepath.Join(dir, runID)
	r.md = converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
			table.NewTablePlugin(),
		),
	)
	return r
}

// Session returns the recorder for one profile run. index is zero based.
func (r *Recorder) Session(index int, label string) *Session {
	if r == nil || r.root == "" {
		return &Session{}
	}
	return &Session{
		rec: r,
		dir: filepath.Join(r.root, fmt.Sprintf("%02d-%s", index+1, sanitize(label))),
	}
}

// Session numbers checkpoints for one profile.
type Session struct {
	rec *Recorder
	dir string
	seq int
}

// Enabled reports whether checkpoints are written to disk.
func (s *Session) Enabled() bool {
	return s != nil && s.rec != nil
}

// Dir is the profile's snapshot directory, empty when disabled.
func (s *Session) Dir() string {
	if !s.Enabled() {
		return ""
	}
	return s.dir
}

// Capture stores the page as HTML, Markdown and a full-page PNG, and returns
// its summary. Write failures are logged and never returned; only a failure to
// read the page is.
func (s *Session) Capture(ctx context.Context, ctrl browser.Controller, name string) (Summary, error) {
	ctx, cancel := WithDeadline(ctx, captureBudget)
	defer cancel()

	html, err := ctrl.PageSource(ctx)
	if err != nil {
		return Summary{URL: ctrl.CurrentURL()}, err
	}
	url := ctrl.CurrentURL()
	sum, err := Summarize(html, url)
	if err != nil || !s.Enabled() {
		return sum, err
	}

	s.seq++
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		s.rec.logger.Warn().Err(err).Str("dir", s.dir).Msg("snapshot dir")
		return sum, nil
	}
	stem := filepath.Join(s.dir, fmt.Sprintf("%02d-%s", s.seq, sanitize(name)))
	s.write(stem+".html", []byte(html))

	if md, err := s.rec.md.ConvertString(html, converter.WithDomain(url)); err != nil {
		s.rec.logger.Debug().Err(err).Msg("snapshot markdown")
	} else {
		s.write(stem+".md", []byte(md))
	}

	if png, err := ctrl.Screenshot(ctx, ""); err != nil {
		s.rec.logger.Debug().Err(err).Msg("snapshot screenshot")
	} else {
		s.write(stem+".png", png)
	}
	s.rec.logger.Debug().Str("path", stem).Msg("snapshot saved")
	return sum, nil
}

func (s *Session) write(path string, data []byte) {
	if err := os.WriteFile(path, data, 0o644); err != nil {
		s.rec.logger.Warn().Err(err).Str("path", path).Msg("snapshot write")
	}
}

var unsafeRe = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func sanitize(name string) string {
	name = strings.Trim(unsafeRe.ReplaceAllString(strings.TrimSpace(name), "_"), "_.")
	if name == "" {
		return "page"
	}
	return truncate(name, 60)
}
