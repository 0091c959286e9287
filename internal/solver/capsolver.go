package solver

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultBaseURL = "https://api.capsolver.com"
	DefaultTimeout = 30 * time.Second

	imageTaskType          = "ImageToTextTask"
	imageModule            = "module_016"
	classificationTaskType = "ReCaptchaV2Classification"

	statusReady      = "ready"
	statusProcessing = "processing"

	maxResponseSize = 1 << 20
)

// Options configure a CapSolver client.
type Options struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
	// PollInterval spaces getTaskResult calls while a task is processing.
	PollInterval time.Duration
	HTTPClient   *http.Client
	Logger       zerolog.Logger
}

// CapSolver talks to the capsolver.com task API.
type CapSolver struct {
	apiKey   string
	baseURL  string
	timeout  time.Duration
	interval time.Duration
	http     *http.Client
	logger   zerolog.Logger
}

func NewCapSolver(opts Options) (*CapSolver, error) {
	key := strings.TrimSpace(opts.APIKey)
	if key == "" {
		return nil, errors.New("missing solver api key")
	}
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &CapSolver{
		apiKey:   key,
		baseURL:  base,
		timeout:  timeout,
		interval: interval,
		http:     httpClient,
		logger:   opts.Logger,
	}, nil
}

type taskPayload struct {
	ClientKey string        `json:"clientKey"`
	Task      capsolverTask `json:"task"`
}

type capsolverTask struct {
	Type       string `json:"type"`
	WebsiteURL string `json:"websiteURL,omitempty"`
	Module     string `json:"module,omitempty"`
	Body       string `json:"body,omitempty"`
	Image      string `json:"image,omitempty"`
	Question   string `json:"question,omitempty"`
}

type resultPayload struct {
	ClientKey string `json:"clientKey"`
	TaskID    string `json:"taskId"`
}

type taskResponse struct {
	ErrorID          int             `json:"errorId"`
	ErrorCode        string          `json:"errorCode"`
	ErrorDescription string          `json:"errorDescription"`
	Status           string          `json:"status"`
	TaskID           string          `json:"taskId"`
	Solution         json.RawMessage `json:"solution"`
}

type textSolution struct {
	Text string `json:"text"`
}

type classificationSolution struct {
	Type      string `json:"type"`
	Objects   []int  `json:"objects"`
	HasObject bool   `json:"hasObject"`
}

func (c *CapSolver) SolveImage(ctx context.Context, task Task) (string, error) {
	if len(task.Image) == 0 {
		return "", &Error{Kind: ServiceRejected, Err: errors.New("empty captcha image")}
	}
	raw, err := c.solve(ctx, capsolverTask{
		Type:       imageTaskType,
		WebsiteURL: task.WebsiteURL,
		Module:     imageModule,
		Body:       base64.StdEncoding.EncodeToString(task.Image),
	})
	if err != nil {
		return "", err
	}
	var sol textSolution
	if err := json.Unmarshal(raw, &sol); err != nil {
		return "", &Error{Kind: ServiceRejected, Err: fmt.Errorf("decode solution: %w", err)}
	}
	text := strings.TrimSpace(sol.Text)
	if text == "" {
		return "", &Error{Kind: ServiceRejected, Err: errors.New("empty solution text")}
	}
	return text, nil
}

func (c *CapSolver) SolveClassification(ctx context.Context, task Task) (Classification, error) {
	if len(task.Image) == 0 {
		return Classification{}, &Error{Kind: ServiceRejected, Err: errors.New("empty captcha image")}
	}
	raw, err := c.solve(ctx, capsolverTask{
		Type:       classificationTaskType,
		WebsiteURL: task.WebsiteURL,
		Image:      base64.StdEncoding.EncodeToString(task.Image),
		Question:   task.Question,
	})
	if err != nil {
		return Classification{}, err
	}
	var sol classificationSolution
	if err := json.Unmarshal(raw, &sol); err != nil {
		return Classification{}, &Error{Kind: ServiceRejected, Err: fmt.Errorf("decode solution: %w", err)}
	}
	return Classification(sol), nil
}

// solve submits the task once and, while the service reports it as
// processing, polls for the result inside the same deadline.
func (c *CapSolver) solve(ctx context.Context, task capsolverTask) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.post(ctx, "/createTask", taskPayload{ClientKey: c.apiKey, Task: task})
	if err != nil {
		return nil, err
	}
	for {
		if resp.ErrorID != 0 {
			return nil, &Error{
				Kind: ServiceRejected,
				Code: resp.ErrorCode,
				Err:  errors.New(firstNonEmpty(resp.ErrorDescription, "task rejected")),
			}
		}
		switch resp.Status {
		case statusReady:
			c.logger.Info().
				Str("type", task.Type).
				Dur("elapsed", time.Since(start)).
				Msg("captcha solved")
			return resp.Solution, nil
		case statusProcessing, "idle", "":
			if resp.TaskID == "" {
				return nil, &Error{Kind: ServiceRejected, Err: fmt.Errorf("status %q without task id", resp.Status)}
			}
		default:
			return nil, &Error{Kind: ServiceRejected, Err: fmt.Errorf("unexpected status %q", resp.Status)}
		}

		c.logger.Debug().Str("task_id", resp.TaskID).Msg("captcha task processing, polling")
		select {
		case <-ctx.Done():
			return nil, ctxError(ctx)
		case <-time.After(c.interval):
		}
		taskID := resp.TaskID
		resp, err = c.post(ctx, "/getTaskResult", resultPayload{ClientKey: c.apiKey, TaskID: taskID})
		if err != nil {
			return nil, err
		}
		if resp.TaskID == "" {
			resp.TaskID = taskID
		}
	}
}

func (c *CapSolver) post(ctx context.Context, path string, payload any) (taskResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return taskResponse{}, fmt.Errorf("marshal payload: %w", err)
	}
	c.logger.Debug().
		Str("endpoint", path).
		Int("payload_size", len(body)).
		Msg("solver request")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return taskResponse{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return taskResponse{}, ctxError(ctx)
		}
		return taskResponse{}, &Error{Kind: NetworkFailure, Err: fmt.Errorf("http request: %w", err)}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		if ctx.Err() != nil {
			return taskResponse{}, ctxError(ctx)
		}
		return taskResponse{}, &Error{Kind: NetworkFailure, Err: fmt.Errorf("read response: %w", err)}
	}
	c.logger.Debug().
		Int("status", resp.StatusCode).
		Int("response_size", len(data)).
		Msg("solver response")

	var out taskResponse
	if err := json.Unmarshal(data, &out); err != nil {
		if resp.StatusCode >= http.StatusInternalServerError {
			return taskResponse{}, &Error{Kind: NetworkFailure, Err: fmt.Errorf("http %d", resp.StatusCode)}
		}
		return taskResponse{}, &Error{Kind: ServiceRejected, Err: fmt.Errorf("http %d: decode response: %w", resp.StatusCode, err)}
	}
	if out.ErrorID == 0 && resp.StatusCode >= http.StatusBadRequest {
		return taskResponse{}, &Error{Kind: ServiceRejected, Err: fmt.Errorf("http %d", resp.StatusCode)}
	}
	return out, nil
}

// ctxError maps a finished context onto the solver error kinds. Cancellation
// from above is returned as is.
func ctxError(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &Error{Kind: Timeout, Err: ctx.Err()}
	}
	return ctx.Err()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
