// Package pool executes dispatch steps across one or more experts.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/curatedhealth/missionengine/internal/domain"
	"github.com/curatedhealth/missionengine/internal/invoker"
)

// Defaults used when Config leaves a field zero.
const (
	DefaultMaxInFlight   = 4
	DefaultExpertTimeout = 2 * time.Minute
	DefaultStepTimeout   = 5 * time.Minute
)

// Config bounds step execution.
type Config struct {
	MaxInFlight   int
	ExpertTimeout time.Duration
	StepTimeout   time.Duration
}

// Observer is notified around every expert call. Calls may come from
// concurrent goroutines.
type Observer interface {
	ExpertStarted(ctx context.Context, step domain.Step, req domain.ExpertRequest, ref string)
	ExpertFinished(ctx context.Context, step domain.Step, result domain.ExpertResult)
}

// MissionContext carries what a step needs to build expert requests.
type MissionContext struct {
	MissionID string
	Question  string
	// Content is the working content produced by earlier steps.
	Content string
}

// StepOutcome is the verdict of one dispatch step.
type StepOutcome struct {
	Results   []domain.ExpertResult
	Successes int
	Failures  int
	Duration  time.Duration
}

// AnySuccess reports whether the step is non-fatal to the mission.
func (o StepOutcome) AnySuccess() bool {
	return o.Successes > 0
}

// Coordinator runs dispatch steps through an Invoker.
type Coordinator struct {
	invoker  *invoker.Invoker
	cfg      Config
	observer Observer
	logger   *slog.Logger
}

// New creates a Coordinator. observer may be nil.
func New(inv *invoker.Invoker, cfg Config, observer Observer, logger *slog.Logger) *Coordinator {
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = DefaultMaxInFlight
	}
	if cfg.ExpertTimeout <= 0 {
		cfg.ExpertTimeout = DefaultExpertTimeout
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = DefaultStepTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{invoker: inv, cfg: cfg, observer: observer, logger: logger}
}

// RequestID is the stable fencing key of one expert call. Re-executing a step
// after resume reuses it.
func RequestID(missionID string, stepIndex int, ref string) string {
	return fmt.Sprintf("%s/%d/%s", missionID, stepIndex, ref)
}

// ExecuteStep invokes the step's experts and returns one result per invoked
// expert, in ExpertRefs order. Expert failures never surface as errors.
func (c *Coordinator) ExecuteStep(ctx context.Context, step domain.Step, mc MissionContext) StepOutcome {
	start := time.Now()
	stepTimeout := c.cfg.StepTimeout
	if step.TimeoutMs > 0 {
		stepTimeout = time.Duration(step.TimeoutMs) * time.Millisecond
	}
	stepCtx, cancel := context.WithTimeout(ctx, stepTimeout)
	defer cancel()

	var results []domain.ExpertResult
	if step.Concurrency == domain.ConcurrencySequential {
		results = c.runSequential(stepCtx, step, mc)
	} else {
		results = c.runParallel(stepCtx, step, mc)
	}

	outcome := StepOutcome{Results: results, Duration: time.Since(start)}
	for _, r := range results {
		if r.Succeeded() {
			outcome.Successes++
		} else {
			outcome.Failures++
		}
	}
	c.logger.Debug("step executed",
		"mission_id", mc.MissionID, "step", step.Index,
		"successes", outcome.Successes, "failures", outcome.Failures,
		"duration_ms", outcome.Duration.Milliseconds())
	return outcome
}

func (c *Coordinator) runParallel(stepCtx context.Context, step domain.Step, mc MissionContext) []domain.ExpertResult {
	results := make([]domain.ExpertResult, len(step.ExpertRefs))

	var g errgroup.Group
	g.SetLimit(c.cfg.MaxInFlight)
	for i, ref := range step.ExpertRefs {
		// Go blocks while MaxInFlight calls are running; queued experts
		// start once a slot frees up.
		g.Go(func() error {
			results[i] = c.invokeOne(stepCtx, step, mc, ref)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (c *Coordinator) runSequential(stepCtx context.Context, step domain.Step, mc MissionContext) []domain.ExpertResult {
	results := make([]domain.ExpertResult, 0, len(step.ExpertRefs))
	for _, ref := range step.ExpertRefs {
		res := c.invokeOne(stepCtx, step, mc, ref)
		results = append(results, res)
		if step.FirstWinner && res.Succeeded() {
			break
		}
	}
	return results
}

func (c *Coordinator) invokeOne(stepCtx context.Context, step domain.Step, mc MissionContext, ref string) domain.ExpertResult {
	req := domain.ExpertRequest{
		RequestID: RequestID(mc.MissionID, step.Index, ref),
		MissionID: mc.MissionID,
		StepIndex: step.Index,
		Question:  mc.Question,
		Context:   mc.Content,
	}

	if err := stepCtx.Err(); err != nil {
		// Expired while queued; the expert is never called.
		now := time.Now().UTC()
		res := domain.ExpertResult{ExpertRef: ref, StartedAt: now, FinishedAt: now}
		if errors.Is(err, context.DeadlineExceeded) {
			res.Status = domain.ExpertStatusTimeout
			res.ErrorDetail = fmt.Sprintf("expert %s: step deadline exceeded before start", ref)
		} else {
			res.Status = domain.ExpertStatusCancelled
			res.ErrorDetail = fmt.Sprintf("expert %s cancelled before start", ref)
		}
		c.notifyFinished(stepCtx, step, res)
		return res
	}

	if c.observer != nil {
		c.observer.ExpertStarted(stepCtx, step, req, ref)
	}
	res := c.invoker.Invoke(stepCtx, ref, req, c.cfg.ExpertTimeout)
	c.notifyFinished(stepCtx, step, res)
	return res
}

func (c *Coordinator) notifyFinished(ctx context.Context, step domain.Step, res domain.ExpertResult) {
	if c.observer != nil {
		c.observer.ExpertFinished(context.WithoutCancel(ctx), step, res)
	}
}
