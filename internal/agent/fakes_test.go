package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/polzovatel/ballot-runner/internal/browser"
	"github.com/polzovatel/ballot-runner/internal/config"
	"github.com/polzovatel/ballot-runner/internal/operator"
	"github.com/polzovatel/ballot-runner/internal/profile"
	"github.com/polzovatel/ballot-runner/internal/selectors"
	"github.com/polzovatel/ballot-runner/internal/solver"
	"github.com/polzovatel/ballot-runner/internal/stage"
)

type typed struct {
	sel  string
	text string
}

type scriptCall struct {
	js  string
	arg any
}

type pageDef struct {
	url     string
	html    string
	present map[string]int
}

// fakePage is a scripted browser.Controller. Clicking a selector listed in
// next switches to another page.
type fakePage struct {
	mu      sync.Mutex
	pages   map[string]*pageDef
	current string

	next         map[string]string
	checked      map[string]bool
	values       map[string]string
	clickErr     map[string]error
	labelErr     error
	valueErr     error
	navErr       error
	scriptResult any

	typed   []typed
	clicks  []string
	selects []string
	scripts []scriptCall
	shots   []string
	waits   []time.Duration
	closed  bool
}

func newFakePage() *fakePage {
	return &fakePage{
		pages:        map[string]*pageDef{},
		next:         map[string]string{},
		checked:      map[string]bool{},
		values:       map[string]string{},
		clickErr:     map[string]error{},
		scriptResult: true,
	}
}

// page adds a page; the first one added is shown first.
func (f *fakePage) page(name, url, html string, present ...string) *fakePage {
	def := &pageDef{url: url, html: html, present: map[string]int{}}
	for _, sel := range present {
		def.present[sel]++
	}
	f.pages[name] = def
	if f.current == "" {
		f.current = name
	}
	return f
}

func (f *fakePage) on(sel, page string) *fakePage {
	f.next[sel] = page
	return f
}

// show switches to another page, as a human operator would.
func (f *fakePage) show(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = name
}

func (f *fakePage) cur() *pageDef {
	if def, ok := f.pages[f.current]; ok {
		return def
	}
	return &pageDef{present: map[string]int{}}
}

func (f *fakePage) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return f.navErr
}

func (f *fakePage) Present(ctx context.Context, sel string) bool {
	return f.Count(ctx, sel) > 0
}

func (f *fakePage) Count(_ context.Context, sel string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cur().present[sel]
}

func (f *fakePage) Click(ctx context.Context, sel string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.clickErr[sel]; err != nil {
		return err
	}
	f.clicks = append(f.clicks, sel)
	if next, ok := f.next[sel]; ok {
		f.current = next
	}
	return nil
}

func (f *fakePage) Type(ctx context.Context, sel, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typed = append(f.typed, typed{sel: sel, text: text})
	return nil
}

func (f *fakePage) Value(_ context.Context, sel string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.values[sel], nil
}

func (f *fakePage) Checked(_ context.Context, sel string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.checked[sel], nil
}

func (f *fakePage) SelectValue(_ context.Context, sel, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.valueErr != nil {
		return f.valueErr
	}
	f.selects = append(f.selects, sel+"="+value)
	return nil
}

func (f *fakePage) SelectLabel(_ context.Context, sel, label string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.labelErr != nil {
		return f.labelErr
	}
	f.selects = append(f.selects, sel+"~"+label)
	return nil
}

func (f *fakePage) Screenshot(_ context.Context, sel string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shots = append(f.shots, sel)
	return []byte("png:" + sel), nil
}

func (f *fakePage) CurrentURL() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cur().url
}

func (f *fakePage) Title(context.Context) (string, error) { return "", nil }

func (f *fakePage) PageSource(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cur().html, nil
}

func (f *fakePage) Wait(ctx context.Context, d time.Duration) error {
	f.mu.Lock()
	f.waits = append(f.waits, d)
	f.mu.Unlock()
	return ctx.Err()
}

func (f *fakePage) RunScript(_ context.Context, js string, arg any) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts = append(f.scripts, scriptCall{js: js, arg: arg})
	return f.scriptResult, nil
}

func (f *fakePage) Close(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// interactions counts every call that changes the page.
func (f *fakePage) interactions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.typed) + len(f.clicks) + len(f.selects) + len(f.scripts) + len(f.shots)
}

type fakeSolver struct {
	mu    sync.Mutex
	text  string
	err   error
	tasks []solver.Task
}

func (s *fakeSolver) SolveImage(_ context.Context, task solver.Task) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, task)
	return s.text, s.err
}

func (s *fakeSolver) SolveClassification(context.Context, solver.Task) (solver.Classification, error) {
	return solver.Classification{}, errors.New("not used")
}

type fakeOperator struct {
	mu      sync.Mutex
	answers []string
	err     error
	prompts []string
}

func (o *fakeOperator) Await(ctx context.Context, prompt string) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.prompts = append(o.prompts, prompt)
	if o.err != nil {
		return "", o.err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(o.answers) == 0 {
		return "", nil
	}
	ans := o.answers[0]
	o.answers = o.answers[1:]
	return ans, nil
}

func (o *fakeOperator) calls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.prompts)
}

var _ browser.Controller = (*fakePage)(nil)
var _ operator.Operator = (*fakeOperator)(nil)
var _ solver.Client = (*fakeSolver)(nil)

func testCatalog(t *testing.T) *selectors.Catalog {
	t.Helper()
	cat, err := selectors.Default()
	require.NoError(t, err)
	return cat
}

// cand returns candidate i of a catalog target.
func cand(t *testing.T, cat *selectors.Catalog, st stage.Stage, target string, i int) string {
	t.Helper()
	list := cat.Target(st, target)
	require.Greater(t, len(list), i, "%s/%s", st, target)
	return list[i]
}

func indicator(t *testing.T, cat *selectors.Catalog, st stage.Stage) string {
	t.Helper()
	list := cat.Indicators(st)
	require.NotEmpty(t, list, st.String())
	return list[0]
}

func testSettings() Settings {
	return Settings{
		BallotURL: "https://ballot.wimbledon.com/",
		Limits:    config.Limits{MaxSteps: 25, MaxStageVisits: 3, MaxUnknown: 3},
		DOB:       config.DOBDefaults{Day: "20", Month: "July", Year: "2004"},
	}
}

func testProfile() *profile.Profile {
	return &profile.Profile{
		Email:        "ann@example.com",
		Password:     "s3cret!",
		Name:         "Ann Smith",
		AddressLine1: "1 Church Road",
		City:         "London",
		Postcode:     "SW19 5AE",
		MobileNumber: "07700900001",
	}
}

func newTestRun(t *testing.T, page *fakePage, sv solver.Client, op operator.Operator) *run {
	t.Helper()
	return &run{
		ctrl:    page,
		cat:     testCatalog(t),
		solver:  sv,
		op:      op,
		set:     testSettings(),
		profile: testProfile(),
		logger:  zerolog.Nop(),
		matches: map[string]string{},
	}
}
