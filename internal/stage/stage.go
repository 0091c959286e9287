package stage

import "strings"

// Stage is a named point in the ballot workflow, derived from page content.
type Stage int

const (
	Unknown Stage = iota
	CaptchaChallenge
	CookieConsent
	RegistrationForm
	ProfileCompletion
	EmailVerification
	AdditionalDetails
	Proceed
	FinalSubmission
	Confirmation
)

var names = map[Stage]string{
	Unknown:           "unknown",
	CaptchaChallenge:  "captcha",
	CookieConsent:     "cookie-consent",
	RegistrationForm:  "registration-form",
	ProfileCompletion: "profile-completion",
	EmailVerification: "email-verification",
	AdditionalDetails: "additional-details",
	Proceed:           "proceed",
	FinalSubmission:   "final-submission",
	Confirmation:      "confirmation",
}

func (s Stage) String() string {
	if n, ok := names[s]; ok {
		return n
	}
	return "unknown"
}

// Parse maps a stage name back to its Stage. Unrecognised names yield Unknown, false.
func Parse(name string) (Stage, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for s, n := range names {
		if n == name {
			return s, true
		}
	}
	return Unknown, false
}

// Priority is the fixed detection order. Captcha markers are evaluated before any
// generic ballot marker because a captcha page carries the same site branding.
// Reordering this slice changes which handler runs on ambiguous pages.
var Priority = []Stage{
	CaptchaChallenge,
	CookieConsent,
	Confirmation,
	FinalSubmission,
	Proceed,
	AdditionalDetails,
	EmailVerification,
	ProfileCompletion,
	RegistrationForm,
}

// transitions lists the stages expected after a stage has been handled.
var transitions = map[Stage][]Stage{
	Unknown:           {CaptchaChallenge, CookieConsent, RegistrationForm},
	CaptchaChallenge:  {CookieConsent, RegistrationForm, Unknown},
	CookieConsent:     {RegistrationForm, Unknown},
	RegistrationForm:  {CaptchaChallenge, ProfileCompletion, Unknown},
	ProfileCompletion: {EmailVerification, Confirmation},
	EmailVerification: {AdditionalDetails, Confirmation},
	AdditionalDetails: {Proceed},
	Proceed:           {FinalSubmission},
	FinalSubmission:   {Confirmation},
}

// Expected returns the stages the workflow may legitimately reach after from.
func Expected(from Stage) []Stage {
	return append([]Stage(nil), transitions[from]...)
}

// IsExpected reports whether to is a documented successor of from.
func IsExpected(from, to Stage) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether reaching s ends the workflow successfully.
func (s Stage) Terminal() bool { return s == Confirmation }
