package operator

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrTimeout is returned when the operator did not answer within the
// configured bound.
var (
	ErrTimeout = errors.New("operator: no answer before timeout")
	ErrClosed  = errors.New("operator: closed")
)

// Operator answers prompts that need a human: manual captchas and email
// verification codes. Await blocks until an answer arrives or ctx is done.
type Operator interface {
	Await(ctx context.Context, prompt string) (string, error)
}

// PromptFunc adapts a plain function to Operator.
type PromptFunc func(ctx context.Context, message string) (string, error)

func (f PromptFunc) Await(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

type line struct {
	text string
	err  error
}

// Terminal reads answers line by line from an input stream. Reads run on a
// single background goroutine so a cancelled Await never loses the reader; a
// line typed for an abandoned prompt is discarded.
type Terminal struct {
	out     io.Writer
	timeout time.Duration
	logger  zerolog.Logger

	reader *bufio.Reader
	req    chan struct{}
	resp   chan line

	mu       sync.Mutex
	start    sync.Once
	inFlight bool
	err      error
}

// NewTerminal returns an operator reading from in and printing prompts to out.
// A zero timeout waits forever.
func NewTerminal(in io.Reader, out io.Writer, timeout time.Duration, logger zerolog.Logger) *Terminal {
	return &Terminal{
		out:     out,
		timeout: timeout,
		logger:  logger,
		reader:  bufio.NewReader(in),
		req:     make(chan struct{}, 1),
		resp:    make(chan line, 1),
	}
}

func (t *Terminal) Await(ctx context.Context, prompt string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.err != nil {
		return "", t.err
	}
	t.start.Do(func() { go t.pump() })

	// Anything already buffered was typed before this prompt was shown.
	select {
	case stale := <-t.resp:
		t.inFlight = false
		t.logger.Warn().Str("input", strings.TrimSpace(stale.text)).Msg("discarding answer to an abandoned prompt")
		if stale.err != nil {
			t.err = stale.err
			return "", stale.err
		}
	default:
	}
	if !t.inFlight {
		t.req <- struct{}{}
		t.inFlight = true
	}

	fmt.Fprintf(t.out, "\n=== Operator input required ===\n%s\n> ", prompt)

	var timeout <-chan time.Time
	if t.timeout > 0 {
		timer := time.NewTimer(t.timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-timeout:
		return "", ErrTimeout
	case got := <-t.resp:
		t.inFlight = false
		text := strings.TrimSpace(got.text)
		if got.err != nil {
			t.err = got.err
			if text == "" {
				return "", got.err
			}
		}
		return text, nil
	}
}

// Close stops the reader goroutine once its current read finishes.
func (t *Terminal) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != ErrClosed {
		t.err = ErrClosed
		close(t.req)
	}
	return nil
}

func (t *Terminal) pump() {
	for range t.req {
		text, err := t.reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			err = fmt.Errorf("read operator input: %w", err)
		}
		t.resp <- line{text: text, err: err}
		if err != nil {
			return
		}
	}
}
