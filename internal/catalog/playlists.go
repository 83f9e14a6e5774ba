package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mirajehossain/datamigratex/internal/migrator"
	"github.com/mirajehossain/datamigratex/internal/store"
)

func fixPlaylistVideoRefs(ctx context.Context, env *migrator.Env) (any, error) {
	docs, err := scan(ctx, env, PlaylistVideosTable)
	if err != nil {
		return nil, err
	}

	stats := Stats{Processed: len(docs)}
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		ref, _ := doc["playlistId"].(string)
		if ref == "" {
			continue
		}
		if _, err := env.Store.FindUnique(ctx, PlaylistsTable, store.KeyField, ref); err == nil {
			continue // already a playlist key
		}

		key, err := resolvePlaylist(ctx, env.Store, ref)
		if err == nil {
			err = env.Store.Patch(ctx, PlaylistVideosTable, doc.Key(), store.Document{"playlistId": key})
		}
		if err != nil {
			env.Log.Warn("catalog.playlist_videos", map[string]any{"key": doc.Key(), "playlist_ref": ref, "error": err.Error()})
			stats.Errors++
			continue
		}
		stats.Fixed++
	}
	return stats, nil
}

// resolvePlaylist returns the key of the playlist with the given YouTube id,
// creating a placeholder when none exists.
func resolvePlaylist(ctx context.Context, st store.Store, youtubeID string) (string, error) {
	existing, err := st.FindUnique(ctx, PlaylistsTable, "youtubeId", youtubeID)
	if err == nil {
		return existing.Key(), nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return "", err
	}

	key, err := st.Insert(ctx, PlaylistsTable, store.Document{
		"youtubeId":   youtubeID,
		"title":       "Auto-created Playlist",
		"description": "Created during migration",
		"thumbnail":   "",
		"itemCount":   int64(0),
		"cachedAt":    time.Now().UTC().Format(time.RFC3339),
	})
	if errors.Is(err, store.ErrDuplicate) {
		// created by a concurrent writer between the lookup and the insert
		existing, err := st.FindUnique(ctx, PlaylistsTable, "youtubeId", youtubeID)
		if err != nil {
			return "", err
		}
		return existing.Key(), nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to create playlist %s: %w", youtubeID, err)
	}
	return key, nil
}
