package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/polzovatel/ballot-runner/internal/browser"
	"github.com/polzovatel/ballot-runner/internal/config"
	"github.com/polzovatel/ballot-runner/internal/operator"
	"github.com/polzovatel/ballot-runner/internal/profile"
	"github.com/polzovatel/ballot-runner/internal/selectors"
	"github.com/polzovatel/ballot-runner/internal/snapshot"
	"github.com/polzovatel/ballot-runner/internal/solver"
	"github.com/polzovatel/ballot-runner/internal/stage"
)

// Settings are the per-profile workflow knobs.
type Settings struct {
	BallotURL string
	Timing    config.Timing
	Limits    config.Limits
	DOB       config.DOBDefaults
}

// SettingsFrom extracts the workflow settings from the runtime config.
func SettingsFrom(cfg config.Config) Settings {
	return Settings{
		BallotURL: cfg.BallotURL,
		Timing:    cfg.Timing,
		Limits:    cfg.Limits,
		DOB:       cfg.DOB,
	}
}

// Runner walks one profile through the ballot stages.
type Runner struct {
	set      Settings
	cat      *selectors.Catalog
	detector *stage.Detector
	solver   solver.Client
	op       operator.Operator
	rec      *snapshot.Recorder
	logger   zerolog.Logger
}

// NewRunner builds the state machine. A nil solver sends every captcha to the
// operator; a nil recorder disables snapshots.
func NewRunner(set Settings, cat *selectors.Catalog, sv solver.Client, op operator.Operator, rec *snapshot.Recorder, logger zerolog.Logger) *Runner {
	if rec == nil {
		rec = snapshot.NewRecorder("", "", logger)
	}
	return &Runner{
		set:      set,
		cat:      cat,
		detector: stage.NewDetector(cat.Markers()),
		solver:   sv,
		op:       op,
		rec:      rec,
		logger:   logger,
	}
}

// run is the state of one profile's walk. It owns the session for its
// lifetime and is never shared.
type run struct {
	ctrl    browser.Controller
	cat     *selectors.Catalog
	solver  solver.Client
	op      operator.Operator
	set     Settings
	profile *profile.Profile
	logger  zerolog.Logger
	snaps   *snapshot.Session
	matches map[string]string
	// solverUsed is set once the paid solver has been called in this session.
	solverUsed bool
}

// Run drives ctrl from the ballot landing page to a terminal state.
func (rn *Runner) Run(ctx context.Context, ctrl browser.Controller, index int, p *profile.Profile) RunResult {
	start := time.Now()
	r := &run{
		ctrl:    ctrl,
		cat:     rn.cat,
		solver:  rn.solver,
		op:      rn.op,
		set:     rn.set,
		profile: p,
		logger: rn.logger.With().
			Int("index", index+1).
			Str("profile", p.Label()).
			Logger(),
		snaps:   rn.rec.Session(index, p.Label()),
		matches: map[string]string{},
	}
	res := RunResult{Index: index, Profile: p, Matches: r.matches}
	if r.snaps.Enabled() {
		r.logger.Info().Str("dir", r.snaps.Dir()).Msg("recording snapshots")
	}

	visited, err := rn.walk(ctx, r)
	res.Stages = visited
	res.Duration = time.Since(start)
	if err != nil {
		res.Outcome = Failed
		f, ok := FailureOf(err)
		switch {
		case ctx.Err() != nil:
			res.Reason = Cancelled.String()
		case ok:
			res.Reason = f.Reason()
		default:
			res.Reason = err.Error()
		}
		r.logger.Error().Err(err).Dur("duration", res.Duration).Msg("profile failed")
		if ctx.Err() == nil {
			r.checkpoint(ctx, "failed")
		}
		return res
	}
	res.Outcome = Success
	r.logger.Info().Dur("duration", res.Duration).Msg("application confirmed")
	return res
}

func (rn *Runner) walk(ctx context.Context, r *run) ([]stage.Stage, error) {
	var visited []stage.Stage
	r.logger.Info().Str("url", rn.set.BallotURL).Msg("opening ballot")
	if err := r.ctrl.Navigate(ctx, rn.set.BallotURL); err != nil {
		if ctx.Err() != nil {
			return visited, fail(Cancelled, stage.Unknown, "", err)
		}
		return visited, fail(NavigationFailed, stage.Unknown, "", err)
	}
	if err := r.settle(ctx, stage.Unknown, rn.set.Timing.Navigate); err != nil {
		return visited, err
	}

	var (
		visits   = map[stage.Stage]int{}
		excluded = map[stage.Stage]bool{}
		unknown  int
		prev     = stage.Unknown
	)
	for step := 1; step <= rn.set.Limits.MaxSteps; step++ {
		if err := ctx.Err(); err != nil {
			return visited, fail(Cancelled, prev, "", err)
		}
		src, err := r.ctrl.PageSource(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return visited, fail(Cancelled, prev, "", err)
			}
			return visited, fail(UnexpectedPageState, prev, "", fmt.Errorf("read page: %w", err))
		}
		url := r.ctrl.CurrentURL()

		st := rn.pick(ctx, r, rn.detector.Matches(src, url), visits, excluded)
		visited = append(visited, st)
		stepLog := r.logger.With().Int("step", step).Str("stage", st.String()).Logger()
		stepLog.Info().
			Str("url", url).
			Strs("indicators", rn.detector.Indicators(st, src, url)).
			Msg("stage detected")
		if step > 1 && st != prev && !stage.IsExpected(prev, st) {
			stepLog.Warn().
				Str("from", prev.String()).
				Str("expected", joinStages(stage.Expected(prev))).
				Msg("unexpected transition")
		}
		r.checkpoint(ctx, st.String())

		if st.Terminal() {
			return visited, nil
		}
		if st == stage.Unknown {
			unknown++
			if unknown > rn.set.Limits.MaxUnknown {
				return visited, fail(UnexpectedPageState, st, "", fmt.Errorf("%d unrecognised pages in a row", unknown))
			}
			if err := advanceUnknown(ctx, r); err != nil {
				return visited, err
			}
			prev = st
			continue
		}
		unknown = 0

		visits[st]++
		if visits[st] > rn.limit(st) {
			return visited, fail(UnexpectedPageState, st, "", fmt.Errorf("stage still present after %d attempts", rn.limit(st)))
		}
		handled, err := handlers[st](ctx, r)
		if err != nil {
			return visited, err
		}
		if !handled {
			// Page markers matched but the live indicators did not.
			excluded[st] = true
			stepLog.Info().Msg("stage excluded from further detection")
		}
		prev = st
	}
	return visited, fail(UnexpectedPageState, prev, "", fmt.Errorf("no confirmation within %d steps", rn.set.Limits.MaxSteps))
}

// pick returns the highest priority match still eligible. Cookie consent is
// dropped once handled since the banner markup lingers after dismissal. A
// terminal stage also needs its live indicators, because its marker text can
// appear in navigation on earlier pages.
func (rn *Runner) pick(ctx context.Context, r *run, matches []stage.Stage, visits map[stage.Stage]int, excluded map[stage.Stage]bool) stage.Stage {
	for _, st := range matches {
		if excluded[st] {
			continue
		}
		if st == stage.CookieConsent && visits[st] >= rn.limit(st) {
			continue
		}
		if st.Terminal() {
			if _, ok := r.applies(ctx, st); !ok {
				r.logger.Debug().Str("stage", st.String()).Msg("page markers without live indicators, not terminal")
				continue
			}
		}
		return st
	}
	return stage.Unknown
}

func (rn *Runner) limit(st stage.Stage) int {
	if st == stage.CookieConsent {
		return 1
	}
	return rn.set.Limits.MaxStageVisits
}

func (r *run) checkpoint(ctx context.Context, name string) {
	if !r.snaps.Enabled() {
		return
	}
	if _, err := r.snaps.Capture(ctx, r.ctrl, name); err != nil && !errors.Is(err, context.Canceled) {
		r.logger.Debug().Err(err).Str("checkpoint", name).Msg("snapshot failed")
	}
}

func joinStages(stages []stage.Stage) string {
	out := ""
	for i, s := range stages {
		if i > 0 {
			out += ","
		}
		out += s.String()
	}
	return out
}
