package agent

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/polzovatel/ballot-runner/internal/profile"
	"github.com/polzovatel/ballot-runner/internal/stage"
)

// Outcome is the final state of one profile.
type Outcome int

const (
	Success Outcome = iota + 1
	Failed
	Skipped
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Failed:
		return "failed"
	case Skipped:
		return "skipped"
	default:
		return "pending"
	}
}

// RunResult records what happened to one profile.
type RunResult struct {
	Index   int
	Profile *profile.Profile
	Outcome Outcome
	Reason  string
	// Stages lists every detected stage in visit order.
	Stages []stage.Stage
	// Matches maps "stage/target" to the selector candidate that matched.
	Matches  map[string]string
	Duration time.Duration
}

// Summary aggregates a batch.
type Summary struct {
	Total     int
	Succeeded int
	Failed    int
	Skipped   int
	Results   []RunResult
}

func (s *Summary) add(res RunResult) {
	s.Results = append(s.Results, res)
	switch res.Outcome {
	case Success:
		s.Succeeded++
	case Failed:
		s.Failed++
	case Skipped:
		s.Skipped++
	}
}

// SuccessRate is the share of all profiles that succeeded, in percent.
func (s Summary) SuccessRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Succeeded) / float64(s.Total) * 100
}

// Report logs one line per profile and the batch totals.
func (s Summary) Report(logger zerolog.Logger) {
	for _, res := range s.Results {
		ev := logger.Info()
		if res.Outcome != Success {
			ev = logger.Warn()
		}
		label := ""
		if res.Profile != nil {
			label = res.Profile.Label()
		}
		ev.Int("index", res.Index+1).
			Str("profile", label).
			Str("outcome", res.Outcome.String()).
			Str("reason", res.Reason).
			Dur("duration", res.Duration).
			Msg("profile result")
	}
	logger.Info().
		Int("total", s.Total).
		Int("succeeded", s.Succeeded).
		Int("failed", s.Failed).
		Int("skipped", s.Skipped).
		Str("success_rate", formatRate(s.SuccessRate())).
		Msg("batch finished")
}

func formatRate(rate float64) string {
	return fmt.Sprintf("%.1f%%", rate)
}
