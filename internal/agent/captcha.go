package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/polzovatel/ballot-runner/internal/solver"
	"github.com/polzovatel/ballot-runner/internal/stage"
)

const (
	recaptchaPrompt = "reCAPTCHA detected. Solve it in the browser window, then press Enter."
	imagePrompt     = "Image captcha needs solving. Type the characters into the page and submit it, then press Enter."
	retryPrompt     = "The automatic captcha answer was rejected. Solve the captcha in the browser window, then press Enter."
)

func handleCaptcha(ctx context.Context, r *run) (bool, error) {
	st := stage.CaptchaChallenge
	if !r.probe(ctx, st) {
		return false, nil
	}
	return true, r.solveCaptcha(ctx, st)
}

// postSubmissionCaptcha checks for a challenge that appeared after a form
// submit on stage from and resolves it. It reports whether one was found.
func (r *run) postSubmissionCaptcha(ctx context.Context, from stage.Stage) (bool, error) {
	sel, ok := r.find(ctx, stage.CaptchaChallenge, "post-submission")
	if !ok {
		r.logger.Debug().Str("stage", from.String()).Msg("no captcha after submit")
		return false, nil
	}
	r.logger.Info().
		Str("stage", from.String()).
		Str("selector", sel).
		Msg("captcha appeared after submit")
	return true, r.solveCaptcha(ctx, stage.CaptchaChallenge)
}

// solveCaptcha resolves the challenge on the current page. reCAPTCHA always
// goes to the operator; image captchas go to the solver first and fall back
// to the operator when it is missing or fails.
func (r *run) solveCaptcha(ctx context.Context, st stage.Stage) error {
	if sel, ok := r.find(ctx, st, "recaptcha"); ok {
		r.logger.Warn().Str("selector", sel).Msg("reCAPTCHA present, waiting for operator")
		return r.manual(ctx, st, recaptchaPrompt)
	}

	img, ok := r.find(ctx, st, "image")
	if !ok {
		r.logger.Warn().Msg("captcha image not found, waiting for operator")
		return r.manual(ctx, st, imagePrompt)
	}
	if r.solver == nil {
		r.logger.Warn().Msg("captcha solver not configured, waiting for operator")
		return r.manual(ctx, st, imagePrompt)
	}
	// One paid attempt per session. A captcha shown again means the answer
	// was rejected.
	if r.solverUsed {
		r.logger.Warn().Msg("captcha shown again after an automatic answer, waiting for operator")
		return r.manual(ctx, st, retryPrompt)
	}

	text, err := r.solveImage(ctx, st, img)
	if err != nil {
		var f *Failure
		if errors.As(err, &f) && f.Kind == Cancelled {
			return f
		}
		r.logger.Warn().Err(err).Msg("automatic captcha solving failed, waiting for operator")
		return r.manual(ctx, st, imagePrompt)
	}

	if err := r.fill(ctx, st, "input", text, true); err != nil {
		return err
	}
	if sel, ok := r.find(ctx, st, "submit"); ok {
		if err := r.clickAt(ctx, st, "submit", sel); err != nil {
			return asFailure(st, "submit", err)
		}
	} else if err := r.submitByScript(ctx, st); err != nil {
		return err
	}
	return r.settle(ctx, st, r.set.Timing.Page)
}

// solveImage sends the captcha element to the solver. Every error it returns
// is a *Failure; SolverFailure is recoverable by the caller.
func (r *run) solveImage(ctx context.Context, st stage.Stage, img string) (string, error) {
	png, err := r.ctrl.Screenshot(ctx, img)
	if err != nil {
		if ctx.Err() != nil {
			return "", fail(Cancelled, st, "image", err)
		}
		return "", fail(SolverFailure, st, "image", fmt.Errorf("capture captcha image: %w", err))
	}
	site := r.ctrl.CurrentURL()
	if site == "" || site == "about:blank" {
		site = r.set.BallotURL
	}
	r.solverUsed = true
	text, err := r.solver.SolveImage(ctx, solver.Task{Image: png, WebsiteURL: site})
	if err != nil {
		if ctx.Err() != nil {
			return "", fail(Cancelled, st, "image", err)
		}
		return "", fail(SolverFailure, st, "image", err)
	}
	r.logger.Info().Int("length", len(text)).Msg("captcha solved automatically")
	return text, nil
}

func (r *run) submitByScript(ctx context.Context, st stage.Stage) error {
	script := r.cat.Script("captcha-submit")
	if script == "" {
		return fail(ElementNotFound, st, "submit", errors.New("no submit control and no submit script"))
	}
	if _, err := r.ctrl.RunScript(ctx, script, nil); err != nil {
		return asFailure(st, "submit", err)
	}
	r.logger.Info().Msg("captcha submitted via page script")
	return nil
}

// manual suspends until the operator confirms the challenge is solved.
func (r *run) manual(ctx context.Context, st stage.Stage, prompt string) error {
	if _, err := r.op.Await(ctx, prompt); err != nil {
		if ctx.Err() != nil {
			return fail(Cancelled, st, "operator", err)
		}
		return fail(ManualInterventionFailed, st, "operator", err)
	}
	r.logger.Info().Str("stage", st.String()).Msg("operator resolved captcha")
	return r.settle(ctx, st, r.set.Timing.Submit)
}
