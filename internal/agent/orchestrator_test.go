package agent

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polzovatel/ballot-runner/internal/browser"
	"github.com/polzovatel/ballot-runner/internal/profile"
)

// scriptedWorkflow returns a fixed outcome per profile index.
type scriptedWorkflow struct {
	mu       sync.Mutex
	outcomes []Outcome
	seen     []int
	onRun    func(index int)
}

func (w *scriptedWorkflow) Run(_ context.Context, _ browser.Controller, index int, p *profile.Profile) RunResult {
	w.mu.Lock()
	w.seen = append(w.seen, index)
	w.mu.Unlock()
	if w.onRun != nil {
		w.onRun(index)
	}
	res := RunResult{Index: index, Profile: p, Outcome: w.outcomes[index]}
	if res.Outcome == Failed {
		res.Reason = "final-submission: unexpected page state"
	}
	return res
}

type fakeSessions struct {
	mu     sync.Mutex
	pages  []*fakePage
	failAt map[int]error
}

func (s *fakeSessions) NewController(ctx context.Context) (browser.Controller, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.pages)
	if err := s.failAt[n]; err != nil {
		s.pages = append(s.pages, nil)
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	page := newFakePage()
	s.pages = append(s.pages, page)
	return page, nil
}

func threeProfiles() []*profile.Profile {
	return []*profile.Profile{
		{Email: "ann@example.com", Name: "Ann Smith"},
		{Email: "bob@example.com", Name: "Bob Jones"},
		{Email: "cat@example.com", Name: "Cat Brown"},
	}
}

func newTestOrchestrator(w Workflow, s Sessions, sleeps *[]time.Duration) *Orchestrator {
	o := NewOrchestrator(Config{Cooldown: 30 * time.Second}, w, s, zerolog.Nop())
	o.sleep = func(ctx context.Context, d time.Duration) error {
		*sleeps = append(*sleeps, d)
		return ctx.Err()
	}
	return o
}

func TestOrchestratorRunsEveryProfile(t *testing.T) {
	w := &scriptedWorkflow{outcomes: []Outcome{Success, Failed, Success}}
	s := &fakeSessions{}
	var sleeps []time.Duration
	o := newTestOrchestrator(w, s, &sleeps)

	sum := o.Run(context.Background(), threeProfiles())

	assert.Equal(t, 3, sum.Total)
	assert.Equal(t, 2, sum.Succeeded)
	assert.Equal(t, 1, sum.Failed)
	assert.Zero(t, sum.Skipped)
	assert.InDelta(t, 66.7, sum.SuccessRate(), 0.05)
	assert.Equal(t, []int{0, 1, 2}, w.seen)
	assert.Equal(t, []time.Duration{30 * time.Second, 30 * time.Second}, sleeps, "no cooldown after the last profile")

	require.Len(t, s.pages, 3)
	for i, p := range s.pages {
		assert.True(t, p.closed, "session %d closed", i)
	}
}

func TestOrchestratorSessionFailure(t *testing.T) {
	w := &scriptedWorkflow{outcomes: []Outcome{Success, Success, Success}}
	s := &fakeSessions{failAt: map[int]error{1: errors.New("browser crashed")}}
	var sleeps []time.Duration
	o := newTestOrchestrator(w, s, &sleeps)

	sum := o.Run(context.Background(), threeProfiles())

	assert.Equal(t, 2, sum.Succeeded)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, []int{0, 2}, w.seen)
	assert.Equal(t, "open session: browser crashed", sum.Results[1].Reason)
}

func TestOrchestratorCancelSkipsRest(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := &scriptedWorkflow{
		outcomes: []Outcome{Success, Failed, Success},
		onRun: func(index int) {
			if index == 1 {
				cancel()
			}
		},
	}
	s := &fakeSessions{}
	var sleeps []time.Duration
	o := newTestOrchestrator(w, s, &sleeps)

	sum := o.Run(ctx, threeProfiles())

	assert.Equal(t, 3, sum.Total)
	assert.Equal(t, 1, sum.Succeeded)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 1, sum.Skipped)
	require.Len(t, sum.Results, 3)
	assert.Equal(t, Skipped, sum.Results[2].Outcome)
	assert.Equal(t, "batch cancelled", sum.Results[2].Reason)
	assert.Equal(t, []int{0, 1}, w.seen)

	require.Len(t, s.pages, 2)
	assert.True(t, s.pages[1].closed, "the interrupted session is still closed")
}

func TestOrchestratorWithRunner(t *testing.T) {
	cat := testCatalog(t)
	rn := NewRunner(testSettings(), cat, nil, &fakeOperator{answers: []string{"111111"}}, nil, zerolog.Nop())
	sessions := &siteSessions{t: t}
	var sleeps []time.Duration
	o := newTestOrchestrator(rn, sessions, &sleeps)

	sum := o.Run(context.Background(), threeProfiles()[:1])

	assert.Equal(t, 1, sum.Succeeded)
	assert.Empty(t, sleeps)
	require.Len(t, sum.Results, 1)
	assert.Equal(t, "ann@example.com", sum.Results[0].Profile.Email)
}

type siteSessions struct {
	t *testing.T
}

func (s *siteSessions) NewController(context.Context) (browser.Controller, error) {
	return ballotSite(s.t), nil
}

func TestSummaryReport(t *testing.T) {
	var buf bytes.Buffer
	sum := Summary{}
	sum.Total = 2
	sum.add(RunResult{Index: 0, Profile: &profile.Profile{Email: "ann@example.com"}, Outcome: Success, Duration: time.Second})
	sum.add(RunResult{Index: 1, Profile: &profile.Profile{Email: "bob@example.com"}, Outcome: Failed, Reason: "proceed/proceed: element not found"})

	sum.Report(zerolog.New(&buf))

	out := buf.String()
	assert.Contains(t, out, `"profile":"bob@example.com"`)
	assert.Contains(t, out, `"outcome":"failed"`)
	assert.Contains(t, out, `"reason":"proceed/proceed: element not found"`)
	assert.Contains(t, out, `"success_rate":"50.0%"`)
	assert.Equal(t, 50.0, sum.SuccessRate())
}

func TestSummaryEmpty(t *testing.T) {
	assert.Zero(t, Summary{}.SuccessRate())
	assert.Equal(t, "0.0%", formatRate(Summary{}.SuccessRate()))
}
