package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/polzovatel/ballot-runner/internal/browser"
	"github.com/polzovatel/ballot-runner/internal/snapshot"
	"github.com/polzovatel/ballot-runner/internal/stage"
)

const (
	// clickScript is the fallback for controls the driver refuses to click,
	// usually because an overlay covers them.
	clickScript = `(sel) => {
		const el = document.querySelector(sel);
		if (!el) return false;
		el.click();
		return true;
	}`
	setSelectScript = `([sel, value]) => {
		const el = document.querySelector(sel);
		if (!el) return false;
		el.value = value;
		el.dispatchEvent(new Event('change', { bubbles: true }));
		return true;
	}`
)

// applies probes the stage's live indicators. The first one present is
// returned for logging.
func (r *run) applies(ctx context.Context, st stage.Stage) (string, bool) {
	for _, sel := range r.cat.Indicators(st) {
		if r.ctrl.Present(ctx, sel) {
			return sel, true
		}
	}
	return "", false
}

// find returns the first present candidate for target and records the match.
func (r *run) find(ctx context.Context, st stage.Stage, target string) (string, bool) {
	list := r.cat.Target(st, target)
	for i, sel := range list {
		if r.ctrl.Present(ctx, sel) {
			r.record(st, target, sel, i)
			return sel, true
		}
	}
	r.logger.Debug().
		Str("stage", st.String()).
		Str("target", target).
		Int("candidates", len(list)).
		Msg("no candidate present")
	return "", false
}

func (r *run) record(st stage.Stage, target, sel string, idx int) {
	r.matches[st.String()+"/"+target] = sel
	r.logger.Debug().
		Str("stage", st.String()).
		Str("target", target).
		Str("selector", sel).
		Int("candidate", idx+1).
		Msg("candidate matched")
}

// missing reports an absent target: a Failure when required, nil otherwise.
func (r *run) missing(st stage.Stage, target string, required bool) error {
	if required {
		n := len(r.cat.Target(st, target))
		return fail(ElementNotFound, st, target, fmt.Errorf("none of %d candidates present", n))
	}
	r.logger.Info().
		Str("stage", st.String()).
		Str("target", target).
		Msg("optional target absent, skipping")
	return nil
}

// rejected reports a failed interaction. Cancellation always propagates.
func (r *run) rejected(st stage.Stage, target, sel string, err error, required bool) error {
	if required || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return asFailure(st, target, err)
	}
	r.logger.Warn().
		Err(err).
		Str("stage", st.String()).
		Str("target", target).
		Str("selector", sel).
		Msg("optional interaction failed")
	return nil
}

// fill types value into the first present candidate of target. Values are
// never logged.
func (r *run) fill(ctx context.Context, st stage.Stage, target, value string, required bool) error {
	sel, ok := r.find(ctx, st, target)
	if !ok {
		return r.missing(st, target, required)
	}
	if err := r.ctrl.Type(ctx, sel, value); err != nil {
		return r.rejected(st, target, sel, err, required)
	}
	r.logger.Info().
		Str("stage", st.String()).
		Str("target", target).
		Str("selector", sel).
		Msg("field filled")
	return nil
}

// click presses the first present candidate of target.
func (r *run) click(ctx context.Context, st stage.Stage, target string, required bool) error {
	sel, ok := r.find(ctx, st, target)
	if !ok {
		return r.missing(st, target, required)
	}
	if err := r.clickAt(ctx, st, target, sel); err != nil {
		return r.rejected(st, target, sel, err, required)
	}
	return nil
}

// clickAt tries a direct click and, when the element is not interactable, one
// script click.
func (r *run) clickAt(ctx context.Context, st stage.Stage, target, sel string) error {
	err := r.ctrl.Click(ctx, sel)
	if err == nil {
		r.logger.Info().
			Str("stage", st.String()).
			Str("target", target).
			Str("selector", sel).
			Msg("clicked")
		return nil
	}
	if !browser.IsNotInteractable(err) {
		return err
	}
	r.logger.Debug().Err(err).Str("selector", sel).Msg("direct click refused, trying script click")
	res, serr := r.ctrl.RunScript(ctx, clickScript, sel)
	if serr != nil {
		return errors.Join(err, serr)
	}
	if ok, _ := res.(bool); !ok {
		return err
	}
	r.logger.Info().
		Str("stage", st.String()).
		Str("target", target).
		Str("selector", sel).
		Msg("clicked via script")
	return nil
}

// check ticks a checkbox-like target. The checked state is read first so a
// ticked box is never toggled off. Candidates that refuse the click give way
// to the next present one.
func (r *run) check(ctx context.Context, st stage.Stage, target string, required bool) error {
	var (
		lastErr error
		lastSel string
		found   bool
	)
	for i, sel := range r.cat.Target(st, target) {
		if !r.ctrl.Present(ctx, sel) {
			continue
		}
		found = true
		if on, err := r.ctrl.Checked(ctx, sel); err == nil && on {
			r.record(st, target, sel, i)
			r.logger.Info().Str("stage", st.String()).Str("target", target).Msg("already checked")
			return nil
		}
		if err := r.clickAt(ctx, st, target, sel); err != nil {
			if ctx.Err() != nil {
				return asFailure(st, target, err)
			}
			lastErr, lastSel = err, sel
			continue
		}
		r.record(st, target, sel, i)
		return r.settle(ctx, st, r.set.Timing.Field)
	}
	if !found {
		return r.missing(st, target, required)
	}
	return r.rejected(st, target, lastSel, lastErr, required)
}

// sweep ticks every unchecked match of target, for forms with a variable
// number of consent boxes.
func (r *run) sweep(ctx context.Context, st stage.Stage, target string) error {
	for _, base := range r.cat.Target(st, target) {
		n := r.ctrl.Count(ctx, base)
		for i := 0; i < n; i++ {
			sel := fmt.Sprintf("%s >> nth=%d", base, i)
			if on, err := r.ctrl.Checked(ctx, sel); err == nil && on {
				continue
			}
			if err := r.clickAt(ctx, st, target, sel); err != nil {
				if ctx.Err() != nil {
					return asFailure(st, target, err)
				}
				r.logger.Debug().Err(err).Str("selector", sel).Msg("consent checkbox click failed")
				continue
			}
			if err := r.settle(ctx, st, r.set.Timing.Field); err != nil {
				return err
			}
		}
	}
	return nil
}

// choose selects an option of a select target by value, or by label when
// byLabel is set.
func (r *run) choose(ctx context.Context, st stage.Stage, target, option string, byLabel, required bool) error {
	sel, ok := r.find(ctx, st, target)
	if !ok {
		return r.missing(st, target, required)
	}
	var err error
	if byLabel {
		err = r.ctrl.SelectLabel(ctx, sel, option)
	} else {
		err = r.ctrl.SelectValue(ctx, sel, option)
	}
	if err != nil {
		return r.rejected(st, target, sel, err, required)
	}
	r.logger.Info().
		Str("stage", st.String()).
		Str("target", target).
		Str("option", option).
		Msg("option selected")
	return r.settle(ctx, st, r.set.Timing.Field)
}

// settle waits for the page to catch up. Only cancellation fails it.
func (r *run) settle(ctx context.Context, st stage.Stage, d time.Duration) error {
	if err := r.ctrl.Wait(ctx, d); err != nil {
		return fail(Cancelled, st, "", err)
	}
	return nil
}

// describe logs the controls an unrecognised page offers so the catalog can be
// extended for it.
func (r *run) describe(ctx context.Context) {
	sctx, cancel := snapshot.WithDeadline(ctx, 5*time.Second)
	defer cancel()
	sum, err := snapshot.Collect(sctx, r.ctrl)
	if err != nil {
		r.logger.Debug().Err(err).Msg("summarise unrecognised page")
		return
	}
	r.logger.Warn().
		Str("url", sum.URL).
		Str("title", sum.Title).
		Int("controls", len(sum.Elements)).
		Msg("unrecognised page")
	r.logger.Debug().Msg(sum.String())
}
