// Package catalog holds the application's compiled-in migrations.
package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/mirajehossain/datamigratex/internal/migrator"
	"github.com/mirajehossain/datamigratex/internal/store"
)

// Application tables touched by the catalog.
const (
	UserStatsTable      = "user_stats"
	PlaylistsTable      = "playlists"
	PlaylistVideosTable = "playlist_videos"
)

var errNoStore = errors.New("no application store configured")

// Stats is the result every catalog migration returns.
type Stats struct {
	Processed int `json:"processed"`
	Fixed     int `json:"fixed"`
	Errors    int `json:"errors"`
}

// Definitions returns the migration catalog. The slice is rebuilt on every call.
func Definitions() []migrator.Definition {
	return []migrator.Definition{
		{
			ID:          "fix_user_stats_field_names",
			Name:        "Fix user stats field names",
			Description: "Rename snake_case fields on user_stats documents to camelCase",
			Version:     1,
			Apply:       fixUserStatsFieldNames,
		},
		{
			ID:          "fix_playlist_video_refs",
			Name:        "Fix playlist video references",
			Description: "Point playlist_videos.playlistId at the playlists key instead of a YouTube id",
			Version:     2,
			Apply:       fixPlaylistVideoRefs,
		},
		{
			ID:          "backfill_user_stats_totals",
			Name:        "Backfill user stats totals",
			Description: "Default missing totalPoints and streakDays to zero",
			Version:     3,
			RunAfter:    []string{"fix_user_stats_field_names"},
			Apply:       backfillUserStatsTotals,
		},
	}
}

// Tables declares the application tables the catalog reads and writes.
func Tables() []store.TableSpec {
	return []store.TableSpec{
		{
			Name: UserStatsTable,
			Fields: []store.Field{
				{Name: "userId", Kind: store.KindString, Unique: true},
			},
		},
		{
			Name: PlaylistsTable,
			Fields: []store.Field{
				{Name: "youtubeId", Kind: store.KindString, Unique: true},
				{Name: "title", Kind: store.KindText},
			},
		},
		{
			Name: PlaylistVideosTable,
			Fields: []store.Field{
				{Name: "playlistId", Kind: store.KindString, Indexed: true},
				{Name: "videoId", Kind: store.KindString},
			},
		},
	}
}

// EnsureTables declares every catalog table on st.
func EnsureTables(ctx context.Context, st store.Store) error {
	for _, spec := range Tables() {
		if err := st.EnsureTable(ctx, spec); err != nil {
			return fmt.Errorf("failed to ensure %s: %w", spec.Name, err)
		}
	}
	return nil
}

func scan(ctx context.Context, env *migrator.Env, table string) ([]store.Document, error) {
	if env == nil || env.Store == nil {
		return nil, errNoStore
	}
	docs, err := env.Store.ScanOrderedBy(ctx, table, store.KeyField, true)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", table, err)
	}
	return docs, nil
}
