package catalog

import (
	"context"

	"github.com/mirajehossain/datamigratex/internal/migrator"
	"github.com/mirajehossain/datamigratex/internal/store"
)

// userStatsRenames maps legacy snake_case fields to their camelCase names.
var userStatsRenames = []struct{ from, to string }{
	{"assessments_completed", "assessmentsCompleted"},
	{"courses_completed", "coursesCompleted"},
	{"courses_in_progress", "coursesInProgress"},
	{"projects_submitted", "projectsSubmitted"},
	{"total_learning_hours", "totalLearningHours"},
	{"last_active_at", "lastActiveAt"},
	{"streak_days", "streakDays"},
	{"longest_streak", "longestStreak"},
	{"total_points", "totalPoints"},
	{"weekly_activity", "weeklyActivity"},
}

func fixUserStatsFieldNames(ctx context.Context, env *migrator.Env) (any, error) {
	docs, err := scan(ctx, env, UserStatsTable)
	if err != nil {
		return nil, err
	}

	stats := Stats{Processed: len(docs)}
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		updates := store.Document{}
		for _, r := range userStatsRenames {
			v, ok := doc[r.from]
			if !ok {
				continue
			}
			// a camelCase value written by newer code wins
			if _, exists := doc[r.to]; !exists {
				updates[r.to] = v
			}
			updates[r.from] = nil
		}
		if len(updates) == 0 {
			continue
		}
		if err := env.Store.Patch(ctx, UserStatsTable, doc.Key(), updates); err != nil {
			env.Log.Warn("catalog.user_stats", map[string]any{"key": doc.Key(), "error": err.Error()})
			stats.Errors++
			continue
		}
		stats.Fixed++
	}
	return stats, nil
}

func backfillUserStatsTotals(ctx context.Context, env *migrator.Env) (any, error) {
	docs, err := scan(ctx, env, UserStatsTable)
	if err != nil {
		return nil, err
	}

	stats := Stats{Processed: len(docs)}
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		updates := store.Document{}
		for _, field := range []string{"totalPoints", "streakDays"} {
			if v, ok := doc[field]; !ok || v == nil {
				updates[field] = int64(0)
			}
		}
		if len(updates) == 0 {
			continue
		}
		if err := env.Store.Patch(ctx, UserStatsTable, doc.Key(), updates); err != nil {
			env.Log.Warn("catalog.user_stats", map[string]any{"key": doc.Key(), "error": err.Error()})
			stats.Errors++
			continue
		}
		stats.Fixed++
	}
	return stats, nil
}
