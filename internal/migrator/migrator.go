package migrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mirajehossain/datamigratex/internal/logger"
	"github.com/mirajehossain/datamigratex/internal/store"
)

// Runner executes the definition set against a registry, one migration at a time.
type Runner struct {
	defs []Definition
	byID map[string]Definition
	reg  *Registry

	log             *logger.Logger
	metrics         Recorder
	now             func() time.Time
	appStore        store.Store
	retryUnfinished bool
}

type Option func(*Runner)

func WithLogger(l *logger.Logger) Option { return func(r *Runner) { r.log = l } }

func WithMetrics(m Recorder) Option { return func(r *Runner) { r.metrics = m } }

func WithClock(now func() time.Time) Option { return func(r *Runner) { r.now = now } }

// WithEnv sets the application store handed to every Apply call.
func WithEnv(st store.Store) Option { return func(r *Runner) { r.appStore = st } }

// WithRetryUnfinished makes the bulk path pick up records that never reached
// status success, and makes prerequisites require success.
func WithRetryUnfinished(on bool) Option { return func(r *Runner) { r.retryUnfinished = on } }

// NewRunner validates defs and builds a runner over reg.
func NewRunner(defs []Definition, reg *Registry, opts ...Option) (*Runner, error) {
	r := &Runner{
		defs: append([]Definition(nil), defs...),
		byID: make(map[string]Definition, len(defs)),
		reg:  reg,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if err := ValidateDefinitions(r.defs, r.log); err != nil {
		return nil, err
	}
	for _, d := range r.defs {
		r.byID[d.ID] = d
	}
	return r, nil
}

// Registry returns the registry the runner writes to.
func (r *Runner) Registry() *Registry { return r.reg }

// Definitions lists the definition set in version order.
func (r *Runner) Definitions() []DefinitionInfo {
	sorted := sortByVersion(r.defs)
	out := make([]DefinitionInfo, 0, len(sorted))
	for _, d := range sorted {
		out = append(out, d.Info())
	}
	return out
}

// RunPending applies every pending migration in version order. A migration
// with unmet prerequisites is skipped; the first failing body stops the run.
// Migration failures are reported in the result. A non-nil error means the
// registry itself failed, and the result holds what ran until then.
func (r *Runner) RunPending(ctx context.Context) (RunResult, error) {
	runID := uuid.NewString()
	records, err := r.reg.ListApplied(ctx)
	if err != nil {
		return RunResult{Success: false, Message: err.Error(), Results: []StepResult{}}, err
	}

	pending := pendingSet(r.defs, records, r.retryUnfinished)
	r.log.Info("migrate.plan", map[string]any{"run_id": runID, "pending": len(pending), "recorded": len(records)})
	if len(pending) == 0 {
		return RunResult{Success: true, MigrationsRun: 0, Message: "no pending migrations", Results: []StepResult{}}, nil
	}

	results := make([]StepResult, 0, len(pending))
	for _, def := range pending {
		if err := ctx.Err(); err != nil {
			return r.summarize(ctx, runID, results), err
		}

		missing, err := r.unmet(ctx, def)
		if err != nil {
			return r.summarize(ctx, runID, results), err
		}
		if len(missing) > 0 {
			r.log.Warn("migrate.skip", map[string]any{
				"run_id": runID, "migration_id": def.ID, "version": def.Version, "missing": missing,
			})
			r.observe(def.ID, "skipped", 0)
			results = append(results, StepResult{
				MigrationID: def.ID,
				Name:        def.Name,
				Version:     def.Version,
				Success:     false,
				Skipped:     true,
				Message:     "missing: " + strings.Join(missing, ", "),
			})
			continue
		}

		step, err := r.execute(ctx, runID, def, true)
		results = append(results, step)
		if err != nil {
			return r.summarize(ctx, runID, results), err
		}
		if !step.Success {
			break
		}
	}

	return r.summarize(ctx, runID, results), nil
}

// RunOne runs a single migration regardless of its prerequisites or existing
// record. A failure leaves the registry as the claim left it.
func (r *Runner) RunOne(ctx context.Context, id string) (TargetedResult, error) {
	def, ok := r.byID[id]
	if !ok {
		return TargetedResult{Success: false, Message: fmt.Sprintf("migration %s not found", id)},
			fmt.Errorf("%w: %s", ErrUnknownMigration, id)
	}

	step, err := r.execute(ctx, uuid.NewString(), def, false)
	res := TargetedResult{Success: step.Success, Message: step.Message, Result: step.Result, Error: step.Error}
	if err != nil {
		return res, err
	}
	r.updateVersion(ctx)
	return res, nil
}

// Baseline records id as applied without running its body.
func (r *Runner) Baseline(ctx context.Context, id string) error {
	def, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMigration, id)
	}
	if err := r.reg.RecordResult(ctx, def.ID, def.Name, def.Description, def.Version, r.now(), map[string]any{"baseline": true}); err != nil {
		return err
	}
	r.log.Info("migrate.baseline", map[string]any{"migration_id": def.ID, "version": def.Version})
	r.updateVersion(ctx)
	return nil
}

// execute claims def, runs its body and records the outcome. markFailed is
// set on the bulk path only.
func (r *Runner) execute(ctx context.Context, runID string, def Definition, markFailed bool) (StepResult, error) {
	step := StepResult{MigrationID: def.ID, Name: def.Name, Version: def.Version}
	fields := map[string]any{"run_id": runID, "migration_id": def.ID, "version": def.Version}

	r.log.Info("migrate.start", fields)
	claim, err := r.reg.RecordAttempt(ctx, def.ID, def.Name, def.Description, def.Version)
	if err != nil {
		step.Message = err.Error()
		step.Error = err.Error()
		return step, err
	}
	r.log.Debug("migrate.claim", map[string]any{"migration_id": def.ID, "already_present": claim.AlreadyPresent})

	start := r.now()
	result, applyErr := r.invoke(ctx, def)
	took := r.now().Sub(start)
	step.DurationMS = took.Milliseconds()

	if applyErr != nil {
		step.Success = false
		step.Error = applyErr.Error()
		step.Message = fmt.Sprintf("migration %s (%s) failed: %s", def.ID, def.Name, applyErr)
		r.log.Error("migrate.error", map[string]any{
			"run_id": runID, "migration_id": def.ID, "version": def.Version,
			"error": applyErr.Error(), "duration_ms": step.DurationMS,
		})
		r.observe(def.ID, "failed", took)
		if markFailed {
			if err := r.reg.MarkFailed(ctx, def.ID); err != nil {
				return step, err
			}
		}
		return step, nil
	}

	if err := r.reg.RecordResult(ctx, def.ID, def.Name, def.Description, def.Version, r.now(), result); err != nil {
		step.Error = err.Error()
		step.Message = err.Error()
		return step, err
	}
	step.Success = true
	step.Result = result
	step.Message = fmt.Sprintf("migration %s (%s) applied successfully", def.ID, def.Name)
	r.log.Info("migrate.success", map[string]any{
		"run_id": runID, "migration_id": def.ID, "version": def.Version, "duration_ms": step.DurationMS,
	})
	r.observe(def.ID, "success", took)
	return step, nil
}

// invoke calls the body and turns a panic into an error.
func (r *Runner) invoke(ctx context.Context, def Definition) (result any, err error) {
	defer func() {
		if p := recover(); p != nil {
			result = nil
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	env := &Env{Store: r.appStore, Log: r.log, MigrationID: def.ID}
	return def.Apply(ctx, env)
}

func (r *Runner) summarize(ctx context.Context, runID string, results []StepResult) RunResult {
	var ran, skipped, failed int
	for _, s := range results {
		switch {
		case s.Success:
			ran++
		case s.Skipped:
			skipped++
		default:
			failed++
		}
	}
	res := RunResult{
		Success:       failed == 0,
		MigrationsRun: ran,
		Message:       fmt.Sprintf("applied %d migrations, %d skipped, %d failures", ran, skipped, failed),
		Results:       results,
	}
	r.log.Info("migrate.done", map[string]any{
		"run_id": runID, "applied": ran, "skipped": skipped, "failed": failed, "success": res.Success,
	})
	r.updateVersion(ctx)
	return res
}

func (r *Runner) observe(id, outcome string, took time.Duration) {
	if r.metrics != nil {
		r.metrics.ObserveMigration(id, outcome, took)
	}
}

func (r *Runner) updateVersion(ctx context.Context) {
	if r.metrics == nil {
		return
	}
	v, err := r.reg.CurrentVersion(ctx)
	if err != nil {
		r.log.Warn("migrate.version", map[string]any{"error": err.Error()})
		return
	}
	r.metrics.SetRegistryVersion(v)
}
