package migrator

import "context"

// Plan reports what the next RunPending would do, without running anything.
// Prerequisites are evaluated as if every earlier runnable migration succeeds.
func (r *Runner) Plan(ctx context.Context) (Plan, error) {
	records, err := r.reg.ListApplied(ctx)
	if err != nil {
		return Plan{}, err
	}
	byID := make(map[string]Record, len(records))
	for _, rec := range records {
		byID[rec.MigrationID] = rec
	}

	pending := make(map[string]bool)
	for _, d := range pendingSet(r.defs, records, r.retryUnfinished) {
		pending[d.ID] = true
	}
	satisfied := recordedIDs(records, r.retryUnfinished)

	plan := Plan{Items: []PlanItem{}}
	for _, d := range sortByVersion(r.defs) {
		item := PlanItem{DefinitionInfo: d.Info(), State: StateApplied}
		if rec, ok := byID[d.ID]; ok {
			item.Status = rec.Status
		}
		if pending[d.ID] {
			var missing []string
			for _, dep := range d.RunAfter {
				if !satisfied[dep] {
					missing = append(missing, dep)
				}
			}
			if len(missing) > 0 {
				item.State = StateBlocked
				item.Missing = missing
				plan.Blocked++
			} else {
				item.State = StatePending
				satisfied[d.ID] = true
				plan.Pending++
			}
		}
		plan.Items = append(plan.Items, item)
	}
	return plan, nil
}
