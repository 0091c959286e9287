package agent

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/polzovatel/ballot-runner/internal/stage"
)

// handler performs one stage. It reports false when the stage's live
// indicators are absent, in which case it has not touched the page.
type handler func(ctx context.Context, r *run) (bool, error)

var handlers = map[stage.Stage]handler{
	stage.CaptchaChallenge:  handleCaptcha,
	stage.CookieConsent:     handleCookieConsent,
	stage.RegistrationForm:  handleRegistration,
	stage.ProfileCompletion: handleProfileCompletion,
	stage.EmailVerification: handleEmailVerification,
	stage.AdditionalDetails: handleAdditionalDetails,
	stage.Proceed:           handleProceed,
	stage.FinalSubmission:   handleFinalSubmission,
}

var months = map[string]string{
	"january": "1", "february": "2", "march": "3", "april": "4",
	"may": "5", "june": "6", "july": "7", "august": "8",
	"september": "9", "october": "10", "november": "11", "december": "12",
}

// probe runs the applicability check shared by every handler.
func (r *run) probe(ctx context.Context, st stage.Stage) bool {
	sel, ok := r.applies(ctx, st)
	if !ok {
		r.logger.Info().Str("stage", st.String()).Msg("stage indicators absent, skipping")
		return false
	}
	r.logger.Info().Str("stage", st.String()).Str("indicator", sel).Msg("stage applies")
	return true
}

func handleCookieConsent(ctx context.Context, r *run) (bool, error) {
	st := stage.CookieConsent
	if !r.probe(ctx, st) {
		return false, nil
	}
	if err := r.click(ctx, st, "accept", true); err != nil {
		return true, err
	}
	return true, r.settle(ctx, st, r.set.Timing.Submit)
}

// advanceUnknown pushes past pages no stage claims, such as the landing page
// with its JOIN button.
func advanceUnknown(ctx context.Context, r *run) error {
	st := stage.Unknown
	sel, ok := r.find(ctx, st, "generic-advance")
	if !ok {
		r.describe(ctx)
		return fail(UnexpectedPageState, st, "generic-advance", errors.New("no recognised stage and no advance control"))
	}
	if err := r.clickAt(ctx, st, "generic-advance", sel); err != nil {
		return asFailure(st, "generic-advance", err)
	}
	return r.settle(ctx, st, r.set.Timing.Page)
}

func handleRegistration(ctx context.Context, r *run) (bool, error) {
	st := stage.RegistrationForm
	if !r.probe(ctx, st) {
		return false, nil
	}
	p := r.profile
	if err := r.fill(ctx, st, "email", p.Email, true); err != nil {
		return true, err
	}
	if err := r.fill(ctx, st, "password", p.Password, true); err != nil {
		return true, err
	}
	if err := r.fill(ctx, st, "password-retype", p.Password, false); err != nil {
		return true, err
	}
	if err := r.settle(ctx, st, r.set.Timing.Form); err != nil {
		return true, err
	}
	if err := r.check(ctx, st, "privacy", true); err != nil {
		return true, err
	}
	if err := r.check(ctx, st, "terms", true); err != nil {
		return true, err
	}
	if err := r.settle(ctx, st, r.set.Timing.Submit); err != nil {
		return true, err
	}
	if err := r.click(ctx, st, "submit", true); err != nil {
		return true, err
	}
	if err := r.settle(ctx, st, r.set.Timing.Submit); err != nil {
		return true, err
	}

	solved, err := r.postSubmissionCaptcha(ctx, st)
	if err != nil {
		return true, err
	}
	// The form stays on screen when the captcha blocked the first submit. The
	// captcha's own submit may already have moved on, and the generic submit
	// candidates would then match the next page.
	if solved {
		if _, still := r.applies(ctx, st); !still {
			r.logger.Info().Msg("registration form gone after captcha, not re-submitting")
		} else if sel, ok := r.find(ctx, st, "submit"); ok {
			r.logger.Info().Str("selector", sel).Msg("re-submitting registration after captcha")
			if err := r.clickAt(ctx, st, "submit", sel); err != nil {
				if err := r.rejected(st, "submit", sel, err, false); err != nil {
					return true, err
				}
			}
		}
	}
	return true, r.settle(ctx, st, r.set.Timing.Page)
}

func handleProfileCompletion(ctx context.Context, r *run) (bool, error) {
	st := stage.ProfileCompletion
	if !r.probe(ctx, st) {
		return false, nil
	}
	p := r.profile

	if sel, ok := r.find(ctx, st, "email"); ok {
		cur, err := r.ctrl.Value(ctx, sel)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return true, asFailure(st, "email", err)
			}
			r.logger.Debug().Err(err).Msg("read prefilled email")
		case strings.TrimSpace(cur) != "":
			r.logger.Info().Msg("email already filled")
		default:
			if err := r.ctrl.Type(ctx, sel, p.Email); err != nil {
				if err := r.rejected(st, "email", sel, err, false); err != nil {
					return true, err
				}
			}
		}
	}

	if err := r.choose(ctx, st, "title", "Mr", false, false); err != nil {
		return true, err
	}
	if err := r.fill(ctx, st, "first-name", p.FirstName(), true); err != nil {
		return true, err
	}
	if last := p.LastName(); last != "" {
		if err := r.fill(ctx, st, "last-name", last, false); err != nil {
			return true, err
		}
	}
	if err := r.choose(ctx, st, "country", "GB", false, false); err != nil {
		return true, err
	}
	if err := r.fill(ctx, st, "postcode", p.Postcode, true); err != nil {
		return true, err
	}

	day, month, year := r.dob()
	if err := r.choose(ctx, st, "dob-day", day, false, false); err != nil {
		return true, err
	}
	if err := r.chooseMonth(ctx, st, month); err != nil {
		return true, err
	}
	if err := r.choose(ctx, st, "dob-year", year, false, false); err != nil {
		return true, err
	}
	if err := r.sweep(ctx, st, "consent"); err != nil {
		return true, err
	}

	if err := r.settle(ctx, st, r.set.Timing.Form); err != nil {
		return true, err
	}
	if err := r.click(ctx, st, "submit", true); err != nil {
		return true, err
	}
	return true, r.settle(ctx, st, r.set.Timing.Submit)
}

// dob returns the profile's date-of-birth parts, substituting the configured
// placeholders for missing ones.
func (r *run) dob() (day, month, year string) {
	d := r.profile.DOB
	day, month, year = d.Day, d.Month, d.Year
	if day == "" {
		day = r.set.DOB.Day
		r.logger.Warn().Str("part", "day").Str("placeholder", day).Msg("date of birth missing, using placeholder")
	}
	if month == "" {
		month = r.set.DOB.Month
		r.logger.Warn().Str("part", "month").Str("placeholder", month).Msg("date of birth missing, using placeholder")
	}
	if year == "" {
		year = r.set.DOB.Year
		r.logger.Warn().Str("part", "year").Str("placeholder", year).Msg("date of birth missing, using placeholder")
	}
	return day, month, year
}

// chooseMonth selects the birth month by label, then by number, then by
// setting the value from a script.
func (r *run) chooseMonth(ctx context.Context, st stage.Stage, month string) error {
	const target = "dob-month"
	sel, ok := r.find(ctx, st, target)
	if !ok {
		return r.missing(st, target, false)
	}
	label, value := monthForms(month)

	err := r.ctrl.SelectLabel(ctx, sel, label)
	if err == nil {
		r.logger.Info().Str("target", target).Str("option", label).Msg("option selected")
		return r.settle(ctx, st, r.set.Timing.Field)
	}
	if ctx.Err() != nil {
		return asFailure(st, target, err)
	}
	r.logger.Debug().Err(err).Msg("month by label failed, trying value")

	if err = r.ctrl.SelectValue(ctx, sel, value); err == nil {
		r.logger.Info().Str("target", target).Str("option", value).Msg("option selected by value")
		return r.settle(ctx, st, r.set.Timing.Field)
	}
	if ctx.Err() != nil {
		return asFailure(st, target, err)
	}
	r.logger.Debug().Err(err).Msg("month by value failed, trying script")

	res, err := r.ctrl.RunScript(ctx, setSelectScript, []string{sel, value})
	if err != nil {
		return r.rejected(st, target, sel, err, false)
	}
	if ok, _ := res.(bool); !ok {
		return r.rejected(st, target, sel, errors.New("month select not found by script"), false)
	}
	r.logger.Info().Str("target", target).Str("option", value).Msg("option set via script")
	return r.settle(ctx, st, r.set.Timing.Field)
}

// monthForms returns the option label ("July") and number ("7") for a month
// given as a name or a number. July is assumed when the input is neither.
func monthForms(month string) (label, value string) {
	m := strings.ToLower(strings.TrimSpace(month))
	if n, err := strconv.Atoi(m); err == nil && n >= 1 && n <= 12 {
		for name, v := range months {
			if v == strconv.Itoa(n) {
				return strings.ToUpper(name[:1]) + name[1:], v
			}
		}
	}
	if v, ok := months[m]; ok {
		return strings.ToUpper(m[:1]) + m[1:], v
	}
	return "July", "7"
}

func handleEmailVerification(ctx context.Context, r *run) (bool, error) {
	st := stage.EmailVerification
	if !r.probe(ctx, st) {
		return false, nil
	}
	prompt := fmt.Sprintf("Email verification required for %s. Enter the code from the email:", r.profile.Email)
	code, err := r.op.Await(ctx, prompt)
	if err != nil {
		if ctx.Err() != nil {
			return true, fail(Cancelled, st, "code", err)
		}
		return true, fail(ManualInterventionFailed, st, "code", err)
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return true, fail(ManualInterventionFailed, st, "code", errors.New("no verification code entered"))
	}
	if err := r.fill(ctx, st, "code", code, true); err != nil {
		return true, err
	}
	if err := r.click(ctx, st, "submit", true); err != nil {
		return true, err
	}
	return true, r.settle(ctx, st, r.set.Timing.Page)
}

func handleAdditionalDetails(ctx context.Context, r *run) (bool, error) {
	st := stage.AdditionalDetails
	if !r.probe(ctx, st) {
		return false, nil
	}
	p := r.profile
	if err := r.choose(ctx, st, "title", "MR", false, false); err != nil {
		return true, err
	}
	for _, f := range []struct{ target, value string }{
		{"address", p.AddressLine1},
		{"city", p.City},
		{"postcode", p.Postcode},
		{"mobile", p.MobileNumber},
	} {
		if err := r.fill(ctx, st, f.target, f.value, true); err != nil {
			return true, err
		}
	}
	for _, target := range []string{"radio", "refuse-cnil", "refuse-email"} {
		if err := r.click(ctx, st, target, false); err != nil {
			return true, err
		}
	}
	if err := r.settle(ctx, st, r.set.Timing.Form); err != nil {
		return true, err
	}
	if err := r.click(ctx, st, "continue", true); err != nil {
		return true, err
	}
	return true, r.settle(ctx, st, r.set.Timing.Page)
}

func handleProceed(ctx context.Context, r *run) (bool, error) {
	st := stage.Proceed
	if !r.probe(ctx, st) {
		return false, nil
	}
	if err := r.click(ctx, st, "proceed", true); err != nil {
		return true, err
	}
	return true, r.settle(ctx, st, r.set.Timing.Page)
}

func handleFinalSubmission(ctx context.Context, r *run) (bool, error) {
	st := stage.FinalSubmission
	if !r.probe(ctx, st) {
		return false, nil
	}
	if err := r.check(ctx, st, "conditions", true); err != nil {
		return true, err
	}
	if err := r.settle(ctx, st, r.set.Timing.Form); err != nil {
		return true, err
	}
	if err := r.click(ctx, st, "submit", true); err != nil {
		return true, err
	}
	return true, r.settle(ctx, st, r.set.Timing.Confirmation)
}
