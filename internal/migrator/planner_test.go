package migrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlan_States(t *testing.T) {
	ctx := context.Background()
	reg := newMemoryRegistry(t)
	c := &counter{}
	require.NoError(t, reg.RecordResult(ctx, "a", "A", "", 1, time.Now(), nil))

	r, err := NewRunner([]Definition{
		ok(c, "d", 4, "c"),
		ok(c, "c", 3, "a"),
		ok(c, "b", 2, "ghost"),
		ok(c, "a", 1),
	}, reg)
	require.NoError(t, err)

	plan, err := r.Plan(ctx)
	require.NoError(t, err)
	require.Len(t, plan.Items, 4)

	states := map[string]PlanState{}
	for _, it := range plan.Items {
		states[it.ID] = it.State
	}
	assert.Equal(t, StateApplied, states["a"])
	assert.Equal(t, StateBlocked, states["b"])
	assert.Equal(t, StatePending, states["c"])
	assert.Equal(t, StatePending, states["d"], "c runs earlier in the same pass")
	assert.Equal(t, []string{"ghost"}, plan.Items[1].Missing)
	assert.Equal(t, StatusSuccess, plan.Items[0].Status)
	assert.Equal(t, 2, plan.Pending)
	assert.Equal(t, 1, plan.Blocked)

	assert.Zero(t, c.count("c"), "planning runs nothing")
	assert.Equal(t, []string{"a"}, recordedIDList(t, reg))
}

func TestPlan_RetryUnfinishedTreatsFailedAsPending(t *testing.T) {
	ctx := context.Background()
	reg := newMemoryRegistry(t)
	c := &counter{}
	failFastScenario(t, reg, c)

	literal, err := NewRunner([]Definition{ok(c, "A", 1), ok(c, "B", 2), ok(c, "C", 3)}, reg)
	require.NoError(t, err)
	plan, err := literal.Plan(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateApplied, plan.Items[1].State)
	assert.Equal(t, StatusFailed, plan.Items[1].Status)
	assert.Equal(t, 1, plan.Pending)

	retrying, err := NewRunner([]Definition{ok(c, "A", 1), ok(c, "B", 2), ok(c, "C", 3)}, reg, WithRetryUnfinished(true))
	require.NoError(t, err)
	plan, err = retrying.Plan(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatePending, plan.Items[1].State)
	assert.Equal(t, 2, plan.Pending)
}
