package solver

import (
	"context"
	"errors"
	"fmt"
)

// Task is one challenge sent to the solving service.
type Task struct {
	Image []byte
	// Question is the instruction shown with a classification grid.
	Question   string
	WebsiteURL string
}

// Classification is the answer to a reCAPTCHA v2 image grid.
type Classification struct {
	Type      string
	Objects   []int
	HasObject bool
}

// Client solves challenges remotely. Implementations never retry.
type Client interface {
	SolveImage(ctx context.Context, task Task) (string, error)
	SolveClassification(ctx context.Context, task Task) (Classification, error)
}

// Kind classifies solver failures.
type Kind int

const (
	NetworkFailure Kind = iota + 1
	ServiceRejected
	Timeout
)

var (
	ErrNetwork  = errors.New("solver: network failure")
	ErrRejected = errors.New("solver: service rejected task")
	ErrTimeout  = errors.New("solver: timed out")
)

func (k Kind) sentinel() error {
	switch k {
	case NetworkFailure:
		return ErrNetwork
	case ServiceRejected:
		return ErrRejected
	case Timeout:
		return ErrTimeout
	default:
		return nil
	}
}

func (k Kind) String() string {
	switch k {
	case NetworkFailure:
		return "network failure"
	case ServiceRejected:
		return "service rejected"
	case Timeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Error is returned by every failed solve.
type Error struct {
	Kind Kind
	// Code is the service error code, set for ServiceRejected.
	Code string
	Err  error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("solver %s (%s): %v", e.Kind, e.Code, e.Err)
	}
	return fmt.Sprintf("solver %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the package sentinels by kind.
func (e *Error) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}
