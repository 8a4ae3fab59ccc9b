package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"fknsrs.biz/p/sorm"

	"fknsrs.biz/p/bilifm/internal/ctxdb"
	"fknsrs.biz/p/bilifm/models"
)

// Snapshot is the wire form of a full collection export. Song and playlist
// ids are only meaningful relative to each other within one snapshot.
type Snapshot struct {
	Version   int               `json:"version"`
	Songs     []models.Song     `json:"songs"`
	Playlists []models.Playlist `json:"playlists"`
}

const snapshotVersion = 1

// ExportAll captures every song and playlist into a snapshot.
func (s *Store) ExportAll(ctx context.Context) (*Snapshot, error) {
	songs, err := s.ListSongs(ctx)
	if err != nil {
		return nil, fmt.Errorf("store.ExportAll: %w", err)
	}

	playlists, err := s.ListPlaylists(ctx)
	if err != nil {
		return nil, fmt.Errorf("store.ExportAll: %w", err)
	}

	return &Snapshot{Version: snapshotVersion, Songs: songs, Playlists: playlists}, nil
}

// ImportResult reports what an ImportBulk call actually inserted.
type ImportResult struct {
	SongsImported     int `json:"songs_imported"`
	SongsSkipped      int `json:"songs_skipped"`
	PlaylistsImported int `json:"playlists_imported"`
}

// ImportBulk merges a snapshot into the collection in two phases. Phase one
// inserts the songs, skipping any whose (source_id, page) already exists,
// and records the mapping from snapshot song ids to local ids. Phase two
// inserts the playlists with their memberships rewritten through that
// mapping; ids with no mapping are dropped. The song phase commits before
// the playlist phase starts, so a failure in phase two leaves the imported
// songs in place.
func (s *Store) ImportBulk(ctx context.Context, snapshot *Snapshot) (*ImportResult, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return nil, fmt.Errorf("store.ImportBulk: %w", err)
	}

	var res ImportResult

	idMap := make(map[int]int, len(snapshot.Songs))

	if err := ctxdb.UsingTx(ctx, nil, func(ctx context.Context, tx *sql.Tx) error {
		var existing []models.Song
		if err := sorm.FindWhere(ctx, tx, &existing, "where 1 = 1"); err != nil {
			return err
		}

		seen := make(map[string]int, len(existing))
		for _, song := range existing {
			seen[song.SourceID+"/"+strconv.Itoa(song.Page)] = song.ID
		}

		for _, song := range snapshot.Songs {
			key := song.SourceID + "/" + strconv.Itoa(song.Page)

			if localID, ok := seen[key]; ok {
				idMap[song.ID] = localID
				res.SongsSkipped++
				continue
			}

			snapshotID := song.ID

			song.ID = 0
			if song.CreatedAt.IsZero() {
				song.CreatedAt = time.Now()
			}

			if err := sorm.CreateRecord(ctx, tx, &song); err != nil {
				return err
			}

			seen[key] = song.ID
			idMap[snapshotID] = song.ID
			res.SongsImported++
		}

		return nil
	}); err != nil {
		return nil, fmt.Errorf("store.ImportBulk: song phase: %w", err)
	}

	if err := ctxdb.UsingTx(ctx, nil, func(ctx context.Context, tx *sql.Tx) error {
		for _, playlist := range snapshot.Playlists {
			songIDs := make([]int, 0, len(playlist.SongIDs))
			for _, id := range playlist.SongIDs {
				if localID, ok := idMap[id]; ok {
					songIDs = append(songIDs, localID)
				}
			}

			playlist.ID = 0
			playlist.SongIDs = songIDs
			if playlist.CreatedAt.IsZero() {
				playlist.CreatedAt = time.Now()
			}

			if err := sorm.CreateRecord(ctx, tx, &playlist); err != nil {
				return err
			}

			res.PlaylistsImported++
		}

		return nil
	}); err != nil {
		return nil, fmt.Errorf("store.ImportBulk: playlist phase: %w", err)
	}

	return &res, nil
}
