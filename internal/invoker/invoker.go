// Package invoker wraps single expert calls with timeout, cancellation and
// panic recovery. Every outcome is reported as a domain.ExpertResult.
package invoker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/curatedhealth/missionengine/internal/domain"
	"github.com/curatedhealth/missionengine/internal/expert"
)

// DefaultGrace bounds how long a cancelled call may take to acknowledge.
const DefaultGrace = 2 * time.Second

// Invoker performs expert calls.
type Invoker struct {
	caller expert.Caller
	grace  time.Duration
	logger *slog.Logger
}

// New creates an Invoker over caller.
func New(caller expert.Caller, grace time.Duration, logger *slog.Logger) *Invoker {
	if grace <= 0 {
		grace = DefaultGrace
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Invoker{caller: caller, grace: grace, logger: logger}
}

type callOutcome struct {
	resp domain.ExpertResponse
	err  error
}

// Invoke calls ref once. A timeout <= 0 means only ctx bounds the call.
// Cancelling ctx yields status cancelled; its deadline or the timeout yield
// status timeout. Invoke does not retry.
func (i *Invoker) Invoke(ctx context.Context, ref string, req domain.ExpertRequest, timeout time.Duration) domain.ExpertResult {
	result := domain.ExpertResult{ExpertRef: ref, StartedAt: time.Now().UTC()}

	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	done := make(chan callOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- callOutcome{err: fmt.Errorf("expert panicked: %v", r)}
			}
		}()
		resp, err := i.caller.Call(callCtx, ref, req)
		done <- callOutcome{resp: resp, err: err}
	}()

	select {
	case out := <-done:
		return i.finish(ctx, result, out)
	case <-timer:
		cancel()
		return i.fail(result, domain.ExpertStatusTimeout, fmt.Sprintf("expert %s timed out after %s", ref, timeout))
	case <-ctx.Done():
	}

	// A result that raced with cancellation still counts.
	returned := false
	select {
	case out := <-done:
		if out.err == nil {
			return i.finish(ctx, result, out)
		}
		returned = true
	default:
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return i.fail(result, domain.ExpertStatusTimeout, fmt.Sprintf("expert %s: step deadline exceeded", ref))
	}

	cancel()
	if !returned {
		grace := time.NewTimer(i.grace)
		defer grace.Stop()
		select {
		case <-done:
		case <-grace.C:
			i.logger.Warn("expert ignored cancellation, abandoning call",
				"mission_id", req.MissionID, "expert", ref, "grace", i.grace)
		}
	}
	return i.fail(result, domain.ExpertStatusCancelled, fmt.Sprintf("expert %s cancelled", ref))
}

func (i *Invoker) finish(ctx context.Context, result domain.ExpertResult, out callOutcome) domain.ExpertResult {
	if out.err == nil {
		result.Status = domain.ExpertStatusSuccess
		result.Payload = out.resp.Content
		result.FinishedAt = time.Now().UTC()
		return result
	}
	status := domain.ExpertStatusError
	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		status = domain.ExpertStatusCancelled
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		status = domain.ExpertStatusTimeout
	}
	return i.fail(result, status, out.err.Error())
}

func (i *Invoker) fail(result domain.ExpertResult, status domain.ExpertStatus, detail string) domain.ExpertResult {
	result.Status = status
	result.ErrorDetail = detail
	result.FinishedAt = time.Now().UTC()
	return result
}
