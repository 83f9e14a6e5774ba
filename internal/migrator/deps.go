package migrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/mirajehossain/datamigratex/internal/logger"
)

var (
	ErrUnknownMigration    = errors.New("unknown migration")
	ErrDuplicateDefinition = errors.New("duplicate migration id")
	ErrInvalidDefinition   = errors.New("invalid migration definition")
)

// ValidateDefinitions rejects empty or repeated ids and missing bodies.
// Repeated versions and runAfter ids that name no definition are only logged.
func ValidateDefinitions(defs []Definition, log *logger.Logger) error {
	ids := make(map[string]bool, len(defs))
	versions := make(map[int64]string, len(defs))
	for _, d := range defs {
		if strings.TrimSpace(d.ID) == "" {
			return fmt.Errorf("%w: empty id (version %d)", ErrInvalidDefinition, d.Version)
		}
		if d.Apply == nil {
			return fmt.Errorf("%w: %s has no apply function", ErrInvalidDefinition, d.ID)
		}
		if ids[d.ID] {
			return fmt.Errorf("%w: %s", ErrDuplicateDefinition, d.ID)
		}
		ids[d.ID] = true
		if other, ok := versions[d.Version]; ok {
			log.Warn("migrate.validate", map[string]any{
				"migration_id": d.ID, "version": d.Version, "warning": "version shared with " + other,
			})
			continue
		}
		versions[d.Version] = d.ID
	}
	for _, d := range defs {
		for _, dep := range d.RunAfter {
			if !ids[dep] {
				log.Warn("migrate.validate", map[string]any{
					"migration_id": d.ID, "version": d.Version, "warning": "runAfter names unknown migration " + dep,
				})
			}
		}
	}
	return nil
}

// sortByVersion returns a copy of defs ordered by version. Ties keep declaration order.
func sortByVersion(defs []Definition) []Definition {
	out := append([]Definition(nil), defs...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out
}

// pendingSet lists the definitions the bulk path would pick up, in version order.
// A record counts as done when it exists, or only when it succeeded if
// retryUnfinished is set.
func pendingSet(defs []Definition, records []Record, retryUnfinished bool) []Definition {
	done := recordedIDs(records, retryUnfinished)
	var out []Definition
	for _, d := range sortByVersion(defs) {
		if !done[d.ID] {
			out = append(out, d)
		}
	}
	return out
}

// unmet returns the prerequisites of def that the registry does not satisfy.
func (r *Runner) unmet(ctx context.Context, def Definition) ([]string, error) {
	if len(def.RunAfter) == 0 {
		return nil, nil
	}
	check, err := r.reg.checkPrerequisites(ctx, def.RunAfter, r.retryUnfinished)
	if err != nil {
		return nil, err
	}
	if check.AllApplied {
		return nil, nil
	}
	return check.Missing, nil
}
