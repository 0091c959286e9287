package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies a failed page interaction.
type ErrorKind int

const (
	ElementNotFound ErrorKind = iota + 1
	NotInteractable
	NavigationTimeout
)

func (k ErrorKind) String() string {
	switch k {
	case ElementNotFound:
		return "element not found"
	case NotInteractable:
		return "element not interactable"
	case NavigationTimeout:
		return "navigation timeout"
	default:
		return "unknown"
	}
}

// Operation names carried by ActionError.
const (
	OpNavigate   = "navigate"
	OpClick      = "click"
	OpType       = "type"
	OpSelect     = "select"
	OpRead       = "read"
	OpScreenshot = "screenshot"
	OpScript     = "script"
)

// ActionError is returned by Controller operations that touched the page and
// failed.
type ActionError struct {
	Kind     ErrorKind
	Op       string
	Selector string
	Err      error
}

func (e *ActionError) Error() string {
	if e.Selector == "" {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s %q: %s: %v", e.Op, e.Selector, e.Kind, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }

// KindOf returns the ErrorKind of err, or 0 when err is not an *ActionError.
func KindOf(err error) ErrorKind {
	var ae *ActionError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return 0
}

// IsNotInteractable reports whether err means the element exists but could
// not be acted on.
func IsNotInteractable(err error) bool {
	return KindOf(err) == NotInteractable
}

func notFound(op, selector string, err error) error {
	if isContextErr(err) {
		return err
	}
	return &ActionError{Kind: ElementNotFound, Op: op, Selector: selector, Err: fmt.Errorf("playwright: %w", err)}
}

// wrap turns a playwright error into an *ActionError. Context errors pass
// through untouched so callers can tell cancellation apart.
func wrap(op, selector string, err error) error {
	if err == nil {
		return nil
	}
	if isContextErr(err) {
		return err
	}
	return &ActionError{Kind: classify(op, err), Op: op, Selector: selector, Err: fmt.Errorf("playwright: %w", err)}
}

var notInteractableHints = []string{
	"not visible",
	"not enabled",
	"not editable",
	"not stable",
	"not interactable",
	"not clickable",
	"intercepts pointer events",
	"outside of the viewport",
	"element is disabled",
	"locator resolved to",
}

func classify(op string, err error) ErrorKind {
	if op == OpNavigate {
		return NavigationTimeout
	}
	msg := strings.ToLower(err.Error())
	for _, hint := range notInteractableHints {
		if strings.Contains(msg, hint) {
			return NotInteractable
		}
	}
	return ElementNotFound
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
