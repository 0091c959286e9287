package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/polzovatel/ballot-runner/internal/browser"
	"github.com/polzovatel/ballot-runner/internal/stage"
)

// FailureKind classifies why a profile run stopped.
type FailureKind int

const (
	ElementNotFound FailureKind = iota + 1
	ActionRejected
	SolverFailure
	UnexpectedPageState
	ManualInterventionFailed
	NavigationFailed
	Cancelled
)

func (k FailureKind) String() string {
	switch k {
	case ElementNotFound:
		return "element not found"
	case ActionRejected:
		return "action rejected"
	case SolverFailure:
		return "solver failure"
	case UnexpectedPageState:
		return "unexpected page state"
	case ManualInterventionFailed:
		return "manual intervention failed"
	case NavigationFailed:
		return "navigation failed"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown failure"
	}
}

// Failure is the typed error a handler or the runner returns when a profile
// cannot continue.
type Failure struct {
	Kind   FailureKind
	Stage  stage.Stage
	Target string
	Err    error
}

func (f *Failure) Error() string {
	where := f.Stage.String()
	if f.Target != "" {
		where += "/" + f.Target
	}
	if f.Err == nil {
		return fmt.Sprintf("%s: %s", where, f.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", where, f.Kind, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Reason is the short text stored on a failed RunResult.
func (f *Failure) Reason() string {
	if f.Kind == Cancelled {
		return "cancelled"
	}
	return f.Error()
}

func fail(kind FailureKind, st stage.Stage, target string, err error) *Failure {
	return &Failure{Kind: kind, Stage: st, Target: target, Err: err}
}

// asFailure converts any error from the page layer into a *Failure.
func asFailure(st stage.Stage, target string, err error) error {
	if err == nil {
		return nil
	}
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fail(Cancelled, st, target, err)
	}
	switch browser.KindOf(err) {
	case browser.ElementNotFound:
		return fail(ElementNotFound, st, target, err)
	case browser.NavigationTimeout:
		return fail(NavigationFailed, st, target, err)
	default:
		return fail(ActionRejected, st, target, err)
	}
}

// FailureOf returns the *Failure inside err, if any.
func FailureOf(err error) (*Failure, bool) {
	var f *Failure
	ok := errors.As(err, &f)
	return f, ok
}
