package migrator

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirajehossain/datamigratex/internal/logger"
	"github.com/mirajehossain/datamigratex/internal/store"
	"github.com/mirajehossain/datamigratex/internal/store/memory"
)

// counter tracks how often each body ran.
type counter struct {
	mu    sync.Mutex
	calls map[string]int
}

func (c *counter) hit(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls == nil {
		c.calls = map[string]int{}
	}
	c.calls[id]++
}

func (c *counter) count(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[id]
}

func ok(c *counter, id string, v int64, deps ...string) Definition {
	return Definition{
		ID: id, Name: "name " + id, Version: v, RunAfter: deps,
		Apply: func(ctx context.Context, env *Env) (any, error) {
			c.hit(env.MigrationID)
			return map[string]any{"id": env.MigrationID}, nil
		},
	}
}

func failing(c *counter, id string, v int64, msg string) Definition {
	return Definition{
		ID: id, Name: "name " + id, Version: v,
		Apply: func(ctx context.Context, env *Env) (any, error) {
			c.hit(env.MigrationID)
			return nil, errors.New(msg)
		},
	}
}

func recordedIDList(t *testing.T, reg *Registry) []string {
	t.Helper()
	recs, err := reg.ListApplied(context.Background())
	require.NoError(t, err)
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.MigrationID)
	}
	return out
}

// fakeRecorder collects metric observations.
type fakeRecorder struct {
	outcomes []string
	version  int64
}

func (f *fakeRecorder) ObserveMigration(id, outcome string, _ time.Duration) {
	f.outcomes = append(f.outcomes, id+":"+outcome)
}
func (f *fakeRecorder) SetRegistryVersion(v int64) { f.version = v }

func TestRunPending_PendingSetExcludesRecorded(t *testing.T) {
	ctx := context.Background()
	reg := newMemoryRegistry(t)
	c := &counter{}

	// recorded out of version order
	require.NoError(t, reg.RecordResult(ctx, "c", "C", "", 3, time.Now(), nil))
	require.NoError(t, reg.RecordResult(ctx, "a", "A", "", 1, time.Now(), nil))

	r, err := NewRunner([]Definition{ok(c, "d", 4), ok(c, "c", 3), ok(c, "b", 2), ok(c, "a", 1)}, reg)
	require.NoError(t, err)

	res, err := r.RunPending(ctx)
	require.NoError(t, err)
	require.Len(t, res.Results, 2)
	assert.Equal(t, "b", res.Results[0].MigrationID)
	assert.Equal(t, "d", res.Results[1].MigrationID)
	assert.Zero(t, c.count("a"))
	assert.Zero(t, c.count("c"))
}

func TestRunPending_SecondRunIsNoop(t *testing.T) {
	ctx := context.Background()
	reg := newMemoryRegistry(t)
	c := &counter{}
	r, err := NewRunner([]Definition{ok(c, "a", 1), ok(c, "b", 2)}, reg)
	require.NoError(t, err)

	first, err := r.RunPending(ctx)
	require.NoError(t, err)
	assert.True(t, first.Success)
	assert.Equal(t, 2, first.MigrationsRun)
	assert.Equal(t, "applied 2 migrations, 0 skipped, 0 failures", first.Message)
	before, err := reg.ListApplied(ctx)
	require.NoError(t, err)

	second, err := r.RunPending(ctx)
	require.NoError(t, err)
	assert.True(t, second.Success)
	assert.Equal(t, 0, second.MigrationsRun)
	assert.Equal(t, "no pending migrations", second.Message)
	assert.Empty(t, second.Results)

	after, err := reg.ListApplied(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, 1, c.count("a"))
}

func TestRunPending_DependencySkipIsNotFatal(t *testing.T) {
	ctx := context.Background()
	reg := newMemoryRegistry(t)
	c := &counter{}
	rec := &fakeRecorder{}
	r, err := NewRunner([]Definition{
		ok(c, "A", 1),
		ok(c, "B", 2, "missing-id"),
		ok(c, "C", 3),
	}, reg, WithMetrics(rec))
	require.NoError(t, err)

	res, err := r.RunPending(ctx)
	require.NoError(t, err)
	require.Len(t, res.Results, 3)
	assert.True(t, res.Results[0].Success)
	assert.True(t, res.Results[1].Skipped)
	assert.False(t, res.Results[1].Success)
	assert.Equal(t, "missing: missing-id", res.Results[1].Message)
	assert.True(t, res.Results[2].Success)

	assert.True(t, res.Success)
	assert.Equal(t, 2, res.MigrationsRun)
	assert.Equal(t, "applied 2 migrations, 1 skipped, 0 failures", res.Message)
	assert.ElementsMatch(t, []string{"A", "C"}, recordedIDList(t, reg))
	assert.Zero(t, c.count("B"))

	assert.Equal(t, []string{"A:success", "B:skipped", "C:success"}, rec.outcomes)
	assert.Equal(t, int64(3), rec.version)
}

func TestRunPending_DependencySatisfiedEarlierInSameRun(t *testing.T) {
	ctx := context.Background()
	reg := newMemoryRegistry(t)
	c := &counter{}
	r, err := NewRunner([]Definition{ok(c, "base", 1), ok(c, "child", 2, "base")}, reg)
	require.NoError(t, err)

	res, err := r.RunPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.MigrationsRun)
}

// failFastScenario leaves the registry as A success, B claimed then failed.
func failFastScenario(t *testing.T, reg *Registry, c *counter) RunResult {
	t.Helper()
	r, err := NewRunner([]Definition{ok(c, "A", 1), failing(c, "B", 2, "boom"), ok(c, "C", 3)}, reg)
	require.NoError(t, err)
	res, err := r.RunPending(context.Background())
	require.NoError(t, err)
	return res
}

func TestRunPending_FailFastHaltsBatch(t *testing.T) {
	reg := newMemoryRegistry(t)
	c := &counter{}
	res := failFastScenario(t, reg, c)

	require.Len(t, res.Results, 2)
	assert.True(t, res.Results[0].Success)
	assert.False(t, res.Results[1].Success)
	assert.False(t, res.Results[1].Skipped)
	assert.Equal(t, "boom", res.Results[1].Error)
	assert.Equal(t, 1, res.MigrationsRun)
	assert.False(t, res.Success)
	assert.Equal(t, "applied 1 migrations, 0 skipped, 1 failures", res.Message)
	assert.Zero(t, c.count("C"))

	assert.ElementsMatch(t, []string{"A", "B"}, recordedIDList(t, reg))
	b, found, err := reg.FindByID(context.Background(), "B")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, StatusFailed, b.Status)
	assert.False(t, b.Rerun)
}

func TestRunPending_CannotRetryClaimedFailure(t *testing.T) {
	reg := newMemoryRegistry(t)
	c := &counter{}
	failFastScenario(t, reg, c)

	r, err := NewRunner([]Definition{ok(c, "A", 1), ok(c, "B", 2)}, reg)
	require.NoError(t, err)
	res, err := r.RunPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.MigrationsRun)
	assert.Equal(t, 1, c.count("B"), "the bulk path must not run B again")
}

func TestRunPending_RetryUnfinished(t *testing.T) {
	ctx := context.Background()
	reg := newMemoryRegistry(t)
	c := &counter{}
	failFastScenario(t, reg, c)

	r, err := NewRunner([]Definition{ok(c, "A", 1), ok(c, "B", 2), ok(c, "C", 3, "B")}, reg, WithRetryUnfinished(true))
	require.NoError(t, err)
	res, err := r.RunPending(ctx)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.MigrationsRun)
	assert.Equal(t, 1, c.count("A"))
	assert.Equal(t, 2, c.count("B"))

	b, _, err := reg.FindByID(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, b.Status)
	assert.True(t, b.Rerun)
}

func TestRunOne_RetriesClaimedFailure(t *testing.T) {
	ctx := context.Background()
	reg := newMemoryRegistry(t)
	c := &counter{}
	failFastScenario(t, reg, c)
	before, _, err := reg.FindByID(ctx, "B")
	require.NoError(t, err)

	later := func() time.Time { return time.Now().Add(time.Hour) }
	r, err := NewRunner([]Definition{ok(c, "A", 1), ok(c, "B", 2)}, reg, WithClock(later))
	require.NoError(t, err)

	res, err := r.RunOne(ctx, "B")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, map[string]any{"id": "B"}, res.Result)

	after, _, err := reg.FindByID(ctx, "B")
	require.NoError(t, err)
	assert.True(t, after.Rerun)
	assert.Equal(t, StatusSuccess, after.Status)
	assert.True(t, after.AppliedAt.After(before.AppliedAt))
	assert.Equal(t, before.Key, after.Key)

	ids := recordedIDList(t, reg)
	n := 0
	for _, id := range ids {
		if id == "B" {
			n++
		}
	}
	assert.Equal(t, 1, n)
}

func TestRunOne_IgnoresPrerequisitesAndRecord(t *testing.T) {
	ctx := context.Background()
	reg := newMemoryRegistry(t)
	c := &counter{}
	r, err := NewRunner([]Definition{ok(c, "lonely", 5, "never")}, reg)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		res, err := r.RunOne(ctx, "lonely")
		require.NoError(t, err)
		assert.True(t, res.Success)
	}
	assert.Equal(t, 2, c.count("lonely"))
}

func TestRunOne_FailureLeavesRegistryUntouched(t *testing.T) {
	ctx := context.Background()
	reg := newMemoryRegistry(t)
	c := &counter{}
	require.NoError(t, reg.RecordResult(ctx, "x", "X", "", 1, time.UnixMilli(1000), "old"))
	before, _, err := reg.FindByID(ctx, "x")
	require.NoError(t, err)

	r, err := NewRunner([]Definition{failing(c, "x", 1, "nope")}, reg)
	require.NoError(t, err)
	res, err := r.RunOne(ctx, "x")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "nope", res.Error)
	assert.Contains(t, res.Message, "failed")

	after, _, err := reg.FindByID(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestRunOne_FailureOnFreshIDLeavesClaim(t *testing.T) {
	ctx := context.Background()
	reg := newMemoryRegistry(t)
	c := &counter{}
	r, err := NewRunner([]Definition{failing(c, "x", 1, "nope")}, reg)
	require.NoError(t, err)

	_, err = r.RunOne(ctx, "x")
	require.NoError(t, err)
	rec, found, err := reg.FindByID(ctx, "x")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, StatusPending, rec.Status)
}

func TestRunOne_UnknownID(t *testing.T) {
	r, err := NewRunner(nil, newMemoryRegistry(t))
	require.NoError(t, err)

	res, err := r.RunOne(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrUnknownMigration)
	assert.False(t, res.Success)
	assert.Equal(t, "migration ghost not found", res.Message)
	assert.Empty(t, recordedIDList(t, r.Registry()))
}

func TestRunPending_PanicIsFailure(t *testing.T) {
	reg := newMemoryRegistry(t)
	c := &counter{}
	boom := Definition{ID: "p", Version: 1, Apply: func(context.Context, *Env) (any, error) {
		panic("kaboom")
	}}
	r, err := NewRunner([]Definition{boom, ok(c, "after", 2)}, reg)
	require.NoError(t, err)

	res, err := r.RunPending(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	assert.Equal(t, "panic: kaboom", res.Results[0].Error)
	assert.Zero(t, c.count("after"))
}

func TestRunPending_EnvCarriesAppStore(t *testing.T) {
	ctx := context.Background()
	app := memory.New()
	require.NoError(t, app.EnsureTable(ctx, store.TableSpec{Name: "notes"}))

	def := Definition{ID: "seed", Version: 1, Apply: func(ctx context.Context, env *Env) (any, error) {
		_, err := env.Store.Insert(ctx, "notes", store.Document{"text": "hi"})
		return nil, err
	}}
	r, err := NewRunner([]Definition{def}, newMemoryRegistry(t), WithEnv(app))
	require.NoError(t, err)
	res, err := r.RunPending(ctx)
	require.NoError(t, err)
	assert.True(t, res.Success)

	docs, err := app.ScanOrderedBy(ctx, "notes", "text", true)
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

// brokenStore fails every write after the table is declared.
type brokenStore struct{ *memory.Store }

func (brokenStore) Insert(context.Context, string, store.Document) (string, error) {
	return "", errors.New("disk full")
}

func TestRunPending_StoreFailureIsReturned(t *testing.T) {
	reg, err := NewRegistry(context.Background(), brokenStore{memory.New()}, "")
	require.NoError(t, err)
	c := &counter{}
	r, err := NewRunner([]Definition{ok(c, "a", 1), ok(c, "b", 2)}, reg)
	require.NoError(t, err)

	res, err := r.RunPending(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.False(t, res.Success)
	assert.Zero(t, c.count("a"))
}

func TestBaseline(t *testing.T) {
	ctx := context.Background()
	reg := newMemoryRegistry(t)
	c := &counter{}
	r, err := NewRunner([]Definition{ok(c, "a", 1), ok(c, "b", 2)}, reg)
	require.NoError(t, err)

	require.NoError(t, r.Baseline(ctx, "a"))
	assert.ErrorIs(t, r.Baseline(ctx, "zzz"), ErrUnknownMigration)

	rec, _, err := reg.FindByID(ctx, "a")
	require.NoError(t, err)
	assert.JSONEq(t, `{"baseline":true}`, string(rec.Result))
	assert.Equal(t, StatusSuccess, rec.Status)

	res, err := r.RunPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.MigrationsRun)
	assert.Zero(t, c.count("a"))
}

func TestNewRunner_Validation(t *testing.T) {
	c := &counter{}
	reg := newMemoryRegistry(t)

	_, err := NewRunner([]Definition{ok(c, "a", 1), ok(c, "a", 2)}, reg)
	assert.ErrorIs(t, err, ErrDuplicateDefinition)

	_, err = NewRunner([]Definition{{ID: "nobody", Version: 1}}, reg)
	assert.ErrorIs(t, err, ErrInvalidDefinition)

	var buf bytes.Buffer
	r, err := NewRunner([]Definition{ok(c, "a", 1), ok(c, "b", 1, "ghost")}, reg, WithLogger(logger.NewWithWriter(&buf, true)))
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "version shared with a")
	assert.Contains(t, buf.String(), "unknown migration ghost")

	defs := r.Definitions()
	require.Len(t, defs, 2)
	assert.Equal(t, "a", defs[0].ID)
	assert.Equal(t, []string{"ghost"}, defs[1].RunAfter)
}

func TestRunPending_LogsLifecycle(t *testing.T) {
	var buf bytes.Buffer
	c := &counter{}
	r, err := NewRunner([]Definition{ok(c, "a", 1)}, newMemoryRegistry(t), WithLogger(logger.NewWithWriter(&buf, true)))
	require.NoError(t, err)
	_, err = r.RunPending(context.Background())
	require.NoError(t, err)

	out := buf.String()
	for _, event := range []string{"migrate.plan", "migrate.start", "migrate.success", "migrate.done"} {
		assert.Contains(t, out, event)
	}
}
