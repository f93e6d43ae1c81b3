package pool

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curatedhealth/missionengine/internal/domain"
	"github.com/curatedhealth/missionengine/internal/invoker"
	"github.com/curatedhealth/missionengine/internal/logging"
	"github.com/curatedhealth/missionengine/tests/helpers"
)

type recordingObserver struct {
	mu       sync.Mutex
	started  []string
	finished []domain.ExpertResult
	requests []domain.ExpertRequest
}

func (r *recordingObserver) ExpertStarted(_ context.Context, _ domain.Step, req domain.ExpertRequest, ref string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, ref)
	r.requests = append(r.requests, req)
}

func (r *recordingObserver) ExpertFinished(_ context.Context, _ domain.Step, result domain.ExpertResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, result)
}

func newCoordinator(caller *helpers.ScriptedCaller, cfg Config, obs Observer) *Coordinator {
	inv := invoker.New(caller, 50*time.Millisecond, logging.Discard())
	return New(inv, cfg, obs, logging.Discard())
}

func dispatch(policy domain.ConcurrencyPolicy, refs ...string) domain.Step {
	return domain.Step{Index: 0, Kind: domain.StepKindDispatchExperts, ExpertRefs: refs, Concurrency: policy}
}

var mission = MissionContext{MissionID: "m1", Question: "which regimen?"}

func statuses(results []domain.ExpertResult) []domain.ExpertStatus {
	out := make([]domain.ExpertStatus, len(results))
	for i, r := range results {
		out[i] = r.Status
	}
	return out
}

func TestParallelStepTakesLongestNotSum(t *testing.T) {
	caller := helpers.NewScriptedCaller().
		Set("A", helpers.Script{Delay: 200 * time.Millisecond}).
		Set("B", helpers.Script{Delay: 300 * time.Millisecond}).
		Set("C", helpers.Script{Delay: 100 * time.Millisecond})
	c := newCoordinator(caller, Config{MaxInFlight: 4, StepTimeout: 500 * time.Millisecond, ExpertTimeout: time.Second}, nil)

	start := time.Now()
	out := c.ExecuteStep(context.Background(), dispatch(domain.ConcurrencyParallel, "A", "B", "C"), mission)
	elapsed := time.Since(start)

	assert.Equal(t, 3, out.Successes)
	assert.True(t, out.AnySuccess())
	assert.GreaterOrEqual(t, elapsed, 300*time.Millisecond)
	assert.Less(t, elapsed, 550*time.Millisecond)
	assert.Equal(t, []string{"A", "B", "C"}, []string{out.Results[0].ExpertRef, out.Results[1].ExpertRef, out.Results[2].ExpertRef})
}

func TestParallelStepTimeoutRecordsPendingAsTimeout(t *testing.T) {
	caller := helpers.NewScriptedCaller().
		Set("A", helpers.Script{Delay: 50 * time.Millisecond}).
		Set("B", helpers.Script{Hang: true}).
		Set("C", helpers.Script{Delay: 20 * time.Millisecond})
	defer caller.Release()
	c := newCoordinator(caller, Config{MaxInFlight: 4, StepTimeout: 300 * time.Millisecond, ExpertTimeout: 10 * time.Second}, nil)

	start := time.Now()
	out := c.ExecuteStep(context.Background(), dispatch(domain.ConcurrencyParallel, "A", "B", "C"), mission)
	elapsed := time.Since(start)

	assert.Equal(t, []domain.ExpertStatus{domain.ExpertStatusSuccess, domain.ExpertStatusTimeout, domain.ExpertStatusSuccess}, statuses(out.Results))
	assert.Equal(t, 2, out.Successes)
	assert.Equal(t, 1, out.Failures)
	assert.GreaterOrEqual(t, elapsed, 300*time.Millisecond)
	assert.Less(t, elapsed, time.Second)
}

func TestPartialFailureIsNonFatal(t *testing.T) {
	caller := helpers.NewScriptedCaller().
		Set("A", helpers.Script{Block: true}).
		Set("B", helpers.Script{}).
		Set("C", helpers.Script{Block: true})
	c := newCoordinator(caller, Config{StepTimeout: 100 * time.Millisecond}, nil)

	out := c.ExecuteStep(context.Background(), dispatch(domain.ConcurrencyParallel, "A", "B", "C"), mission)
	assert.True(t, out.AnySuccess())
	assert.Equal(t, 1, out.Successes)
	assert.Equal(t, 2, out.Failures)
}

func TestAllFailedStep(t *testing.T) {
	caller := helpers.NewScriptedCaller().
		Set("A", helpers.Script{Block: true}).
		Set("B", helpers.Script{Block: true}).
		Set("C", helpers.Script{Block: true})
	c := newCoordinator(caller, Config{StepTimeout: 100 * time.Millisecond}, nil)

	out := c.ExecuteStep(context.Background(), dispatch(domain.ConcurrencyParallel, "A", "B", "C"), mission)
	assert.False(t, out.AnySuccess())
	assert.Equal(t, 3, out.Failures)
	assert.Equal(t, domain.FailureExpertTimeout, DominantFailure(out.Results))
}

func TestParallelRespectsMaxInFlight(t *testing.T) {
	caller := helpers.NewScriptedCaller()
	refs := []string{"a", "b", "c", "d", "e", "f"}
	for _, ref := range refs {
		caller.Set(ref, helpers.Script{Delay: 40 * time.Millisecond})
	}
	c := newCoordinator(caller, Config{MaxInFlight: 2, StepTimeout: 5 * time.Second}, nil)

	out := c.ExecuteStep(context.Background(), dispatch(domain.ConcurrencyParallel, refs...), mission)
	assert.Equal(t, 6, out.Successes)
	assert.LessOrEqual(t, caller.MaxInFlight(), 2)
	assert.Equal(t, 6, caller.TotalCalls())
}

func TestQueuedExpertsTimeOutWithoutBeingCalled(t *testing.T) {
	caller := helpers.NewScriptedCaller().
		Set("a", helpers.Script{Block: true}).
		Set("b", helpers.Script{})
	c := newCoordinator(caller, Config{MaxInFlight: 1, StepTimeout: 80 * time.Millisecond}, nil)

	out := c.ExecuteStep(context.Background(), dispatch(domain.ConcurrencyParallel, "a", "b"), mission)
	assert.Equal(t, []domain.ExpertStatus{domain.ExpertStatusTimeout, domain.ExpertStatusTimeout}, statuses(out.Results))
	assert.Equal(t, 0, caller.Calls("b"))
}

func TestSequentialFirstWinnerShortCircuits(t *testing.T) {
	caller := helpers.NewScriptedCaller().
		Set("A", helpers.Script{Err: errors.New("no answer")}).
		Set("B", helpers.Script{Content: "found it"}).
		Set("C", helpers.Script{})
	c := newCoordinator(caller, Config{}, nil)

	step := dispatch(domain.ConcurrencySequential, "A", "B", "C")
	step.FirstWinner = true
	out := c.ExecuteStep(context.Background(), step, mission)

	require.Len(t, out.Results, 2)
	assert.Equal(t, domain.ExpertStatusError, out.Results[0].Status)
	assert.Equal(t, "found it", out.Results[1].Payload)
	assert.Equal(t, 0, caller.Calls("C"))
}

func TestSequentialRunsAllWithoutFirstWinner(t *testing.T) {
	caller := helpers.NewScriptedCaller()
	c := newCoordinator(caller, Config{MaxInFlight: 4}, nil)

	out := c.ExecuteStep(context.Background(), dispatch(domain.ConcurrencySequential, "A", "B", "C"), mission)
	assert.Len(t, out.Results, 3)
	assert.Equal(t, 3, out.Successes)
	assert.Equal(t, 1, caller.MaxInFlight())
}

func TestCancelledStepRecordsCancelled(t *testing.T) {
	caller := helpers.NewScriptedCaller().
		Set("A", helpers.Script{Block: true}).
		Set("B", helpers.Script{Block: true})
	c := newCoordinator(caller, Config{StepTimeout: 10 * time.Second}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)
	out := c.ExecuteStep(ctx, dispatch(domain.ConcurrencyParallel, "A", "B"), mission)

	assert.Equal(t, []domain.ExpertStatus{domain.ExpertStatusCancelled, domain.ExpertStatusCancelled}, statuses(out.Results))
	assert.Equal(t, domain.FailureExpertCancelled, DominantFailure(out.Results))
}

func TestObserverAndRequestFencing(t *testing.T) {
	caller := helpers.NewScriptedCaller()
	obs := &recordingObserver{}
	c := newCoordinator(caller, Config{}, obs)

	step := dispatch(domain.ConcurrencyParallel, "A", "B")
	step.Index = 3
	c.ExecuteStep(context.Background(), step, MissionContext{MissionID: "m9", Question: "q", Content: "prior"})

	assert.ElementsMatch(t, []string{"A", "B"}, obs.started)
	assert.Len(t, obs.finished, 2)
	ids := []string{}
	for _, req := range caller.Requests() {
		ids = append(ids, req.RequestID)
		assert.Equal(t, "prior", req.Context)
		assert.Equal(t, 3, req.StepIndex)
	}
	assert.ElementsMatch(t, []string{"m9/3/A", "m9/3/B"}, ids)
}

func TestMergeIsOrderIndependent(t *testing.T) {
	a := domain.ExpertResult{ExpertRef: "a", Status: domain.ExpertStatusSuccess, Payload: "alpha"}
	b := domain.ExpertResult{ExpertRef: "b", Status: domain.ExpertStatusSuccess, Payload: "beta"}
	c := domain.ExpertResult{ExpertRef: "c", Status: domain.ExpertStatusTimeout}

	first := Merge([]domain.ExpertResult{a, b, c})
	second := Merge([]domain.ExpertResult{c, b, a})
	assert.Equal(t, first, second)
	assert.Contains(t, first, "## a\nalpha")
	assert.Contains(t, first, "## b\nbeta")

	assert.Equal(t, "alpha", Merge([]domain.ExpertResult{a, c}))
	assert.Equal(t, "", Merge([]domain.ExpertResult{c}))
}

func TestDominantFailure(t *testing.T) {
	errRes := domain.ExpertResult{Status: domain.ExpertStatusError}
	toRes := domain.ExpertResult{Status: domain.ExpertStatusTimeout}
	assert.Equal(t, domain.FailureExpertError, DominantFailure([]domain.ExpertResult{errRes, errRes, toRes}))
	assert.Equal(t, domain.FailureExpertTimeout, DominantFailure([]domain.ExpertResult{errRes, toRes}))
}
