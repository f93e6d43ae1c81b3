package invoker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curatedhealth/missionengine/internal/domain"
	"github.com/curatedhealth/missionengine/internal/logging"
	"github.com/curatedhealth/missionengine/tests/helpers"
)

func newTestInvoker(caller *helpers.ScriptedCaller, grace time.Duration) *Invoker {
	return New(caller, grace, logging.Discard())
}

func request() domain.ExpertRequest {
	return domain.ExpertRequest{RequestID: "m1/0/a", MissionID: "m1", Question: "q"}
}

func TestInvokeSuccess(t *testing.T) {
	caller := helpers.NewScriptedCaller().Set("a", helpers.Script{Content: "hello"})
	res := newTestInvoker(caller, 0).Invoke(context.Background(), "a", request(), time.Second)

	assert.Equal(t, domain.ExpertStatusSuccess, res.Status)
	assert.Equal(t, "a", res.ExpertRef)
	assert.Equal(t, "hello", res.Payload)
	assert.Empty(t, res.ErrorDetail)
	assert.False(t, res.FinishedAt.Before(res.StartedAt))
}

func TestInvokeError(t *testing.T) {
	caller := helpers.NewScriptedCaller().Set("a", helpers.Script{Err: errors.New("upstream 500")})
	res := newTestInvoker(caller, 0).Invoke(context.Background(), "a", request(), time.Second)

	assert.Equal(t, domain.ExpertStatusError, res.Status)
	assert.Equal(t, "upstream 500", res.ErrorDetail)
	assert.Empty(t, res.Payload)
}

func TestInvokeTimeoutCancelsDownstream(t *testing.T) {
	caller := helpers.NewScriptedCaller().Set("a", helpers.Script{Block: true})
	start := time.Now()
	res := newTestInvoker(caller, time.Second).Invoke(context.Background(), "a", request(), 50*time.Millisecond)

	assert.Equal(t, domain.ExpertStatusTimeout, res.Status)
	assert.NotEmpty(t, res.ErrorDetail)
	assert.Less(t, time.Since(start), time.Second)
}

func TestInvokeTimeoutAbandonsHungCall(t *testing.T) {
	caller := helpers.NewScriptedCaller().Set("a", helpers.Script{Hang: true})
	defer caller.Release()

	start := time.Now()
	res := newTestInvoker(caller, 5*time.Second).Invoke(context.Background(), "a", request(), 50*time.Millisecond)

	assert.Equal(t, domain.ExpertStatusTimeout, res.Status)
	assert.Less(t, time.Since(start), time.Second)
}

func TestInvokeParentDeadlineIsTimeout(t *testing.T) {
	caller := helpers.NewScriptedCaller().Set("a", helpers.Script{Block: true})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	res := newTestInvoker(caller, 0).Invoke(ctx, "a", request(), 0)
	assert.Equal(t, domain.ExpertStatusTimeout, res.Status)
}

func TestInvokeCancelled(t *testing.T) {
	caller := helpers.NewScriptedCaller().Set("a", helpers.Script{Block: true})
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)

	start := time.Now()
	res := newTestInvoker(caller, time.Second).Invoke(ctx, "a", request(), 10*time.Second)
	assert.Equal(t, domain.ExpertStatusCancelled, res.Status)
	assert.Less(t, time.Since(start), time.Second)
}

func TestInvokeCancelledAbandonsAfterGrace(t *testing.T) {
	caller := helpers.NewScriptedCaller().Set("a", helpers.Script{Hang: true})
	defer caller.Release()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	start := time.Now()
	res := newTestInvoker(caller, 100*time.Millisecond).Invoke(ctx, "a", request(), 10*time.Second)
	elapsed := time.Since(start)

	assert.Equal(t, domain.ExpertStatusCancelled, res.Status)
	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second)
}

func TestInvokeRecoversPanic(t *testing.T) {
	caller := helpers.NewScriptedCaller().Set("a", helpers.Script{Panic: true})
	var res domain.ExpertResult
	require.NotPanics(t, func() {
		res = newTestInvoker(caller, 0).Invoke(context.Background(), "a", request(), time.Second)
	})
	assert.Equal(t, domain.ExpertStatusError, res.Status)
	assert.Contains(t, res.ErrorDetail, "panicked")
}
