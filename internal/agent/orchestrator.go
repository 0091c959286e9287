package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/polzovatel/ballot-runner/internal/browser"
	"github.com/polzovatel/ballot-runner/internal/profile"
)

// Workflow runs one profile on an open session.
type Workflow interface {
	Run(ctx context.Context, ctrl browser.Controller, index int, p *profile.Profile) RunResult
}

// Sessions opens a fresh, isolated browser session.
type Sessions interface {
	NewController(ctx context.Context) (browser.Controller, error)
}

type Config struct {
	// Cooldown separates consecutive profiles. It is not applied after the
	// last one.
	Cooldown time.Duration
}

// Orchestrator processes profiles one at a time, each in its own session.
type Orchestrator struct {
	cfg      Config
	workflow Workflow
	sessions Sessions
	logger   zerolog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewOrchestrator(cfg Config, workflow Workflow, sessions Sessions, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		workflow: workflow,
		sessions: sessions,
		logger:   logger,
		sleep:    browser.Sleep,
	}
}

// Run processes every profile and returns the batch summary. A failed profile
// never stops the batch; cancellation marks the remaining profiles skipped.
func (o *Orchestrator) Run(ctx context.Context, profiles []*profile.Profile) Summary {
	sum := Summary{Total: len(profiles)}
	o.logger.Info().Int("profiles", len(profiles)).Dur("cooldown", o.cfg.Cooldown).Msg("batch started")

	for i, p := range profiles {
		if ctx.Err() != nil {
			o.skipRest(&sum, profiles, i)
			break
		}
		o.logger.Info().
			Int("index", i+1).
			Int("of", len(profiles)).
			Str("profile", p.Label()).
			Msg("profile started")

		res := o.runOne(ctx, i, p)
		sum.add(res)

		if i == len(profiles)-1 {
			break
		}
		o.logger.Info().Dur("cooldown", o.cfg.Cooldown).Msg("waiting before next profile")
		if err := o.sleep(ctx, o.cfg.Cooldown); err != nil {
			o.skipRest(&sum, profiles, i+1)
			break
		}
	}
	return sum
}

func (o *Orchestrator) runOne(ctx context.Context, index int, p *profile.Profile) RunResult {
	start := time.Now()
	ctrl, err := o.sessions.NewController(ctx)
	if err != nil {
		reason := fmt.Sprintf("open session: %v", err)
		if ctx.Err() != nil {
			reason = Cancelled.String()
		}
		o.logger.Error().Err(err).Str("profile", p.Label()).Msg("could not open browser session")
		return RunResult{
			Index:    index,
			Profile:  p,
			Outcome:  Failed,
			Reason:   reason,
			Duration: time.Since(start),
		}
	}
	defer func() {
		// The session is torn down even when the batch was cancelled.
		if err := ctrl.Close(context.WithoutCancel(ctx)); err != nil {
			o.logger.Warn().Err(err).Str("profile", p.Label()).Msg("close session")
		}
	}()
	return o.workflow.Run(ctx, ctrl, index, p)
}

func (o *Orchestrator) skipRest(sum *Summary, profiles []*profile.Profile, from int) {
	for i := from; i < len(profiles); i++ {
		sum.add(RunResult{
			Index:   i,
			Profile: profiles[i],
			Outcome: Skipped,
			Reason:  "batch cancelled",
		})
	}
	o.logger.Warn().Int("skipped", len(profiles)-from).Msg("batch cancelled")
}
