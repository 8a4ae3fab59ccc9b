package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	"fknsrs.biz/p/sorm"
	"fknsrs.biz/p/sorm/qsorm"
	sb "fknsrs.biz/p/sqlbuilder"
	"github.com/gost/godata"

	"fknsrs.biz/p/bilifm/internal/ctxdb"
	"fknsrs.biz/p/bilifm/internal/godatautil"
	"fknsrs.biz/p/bilifm/models"
)

var (
	ErrNotInitialized   = fmt.Errorf("store: not initialized")
	ErrSongNotFound     = fmt.Errorf("store: song not found")
	ErrPlaylistNotFound = fmt.Errorf("store: playlist not found")
)

const listLimit = "10000"

// Store is the single owner of the song/playlist database. It is constructed
// once at process start and no other component opens a second handle or
// writes directly. Every operation fails with ErrNotInitialized until
// Initialize has completed.
type Store struct {
	db          *sql.DB
	initialized atomic.Bool
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for components that share the database
// file but manage their own records, such as the job queue.
func (s *Store) DB() *sql.DB {
	return s.db
}

var schema = []string{
	`create table if not exists songs (
		id integer primary key autoincrement,
		created_at datetime not null,
		source_id text not null,
		page integer not null,
		content_id integer not null,
		media_asset_id integer not null,
		title text not null,
		description text not null default '',
		cover_url text not null default '',
		duration integer not null default 0,
		author_name text not null default '',
		author_source_id integer not null default 0,
		author_avatar_url text not null default '',
		metadata_refreshed_at datetime,
		audio_downloaded_at datetime,
		audio_converted_at datetime
	)`,
	`create index if not exists songs_source_id on songs (source_id)`,
	`create table if not exists playlists (
		id integer primary key autoincrement,
		created_at datetime not null,
		name text not null,
		description text not null default '',
		cover_url text,
		song_ids text not null default '[]'
	)`,
	`create table if not exists jobs (
		id integer primary key autoincrement,
		created_at datetime not null,
		queue_name text not null,
		payload text not null default '',
		run_after datetime not null,
		failure_delay integer not null default 0,
		attempts_remaining integer not null default 0,
		reserved_at datetime,
		reserved_until datetime,
		finished_at datetime,
		error_messages text not null default '[]',
		output_messages text not null default '[]',
		progress integer
	)`,
	`drop view if exists author_search`,
	`create view author_search as
		select
			author_source_id,
			author_name,
			author_avatar_url,
			count(*) as song_count,
			max(created_at) as last_collected_at
		from songs
		group by author_source_id, author_name, author_avatar_url`,
}

// Initialize creates the tables, the secondary index on songs.source_id, and
// the read-only views. It is idempotent and must complete before any other
// operation is used.
func (s *Store) Initialize(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store.Initialize: %w", err)
		}
	}

	s.initialized.Store(true)

	return nil
}

func (s *Store) ready(ctx context.Context) (context.Context, error) {
	if !s.initialized.Load() {
		return ctx, ErrNotInitialized
	}

	return ctxdb.WithDB(ctx, s.db), nil
}

// CreateSong inserts a song and assigns its id. It does not check for an
// existing (source_id, page) entry; callers are expected to call
// SongExists first.
func (s *Store) CreateSong(ctx context.Context, song *models.Song) error {
	ctx, err := s.ready(ctx)
	if err != nil {
		return fmt.Errorf("store.CreateSong: %w", err)
	}

	if song.CreatedAt.IsZero() {
		song.CreatedAt = time.Now()
	}

	if err := ctxdb.UsingTx(ctx, nil, func(ctx context.Context, tx *sql.Tx) error {
		return sorm.CreateRecord(ctx, tx, song)
	}); err != nil {
		return fmt.Errorf("store.CreateSong: %w", err)
	}

	return nil
}

// SongExists scans all songs sharing the given source id via the secondary
// index and reports the one whose page matches, if any.
func (s *Store) SongExists(ctx context.Context, sourceID string, page int) (bool, int, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return false, 0, fmt.Errorf("store.SongExists: %w", err)
	}

	var songs []models.Song
	if err := sorm.FindWhere(ctx, ctxdb.GetDB(ctx), &songs, "where source_id = ?", sourceID); err != nil {
		return false, 0, fmt.Errorf("store.SongExists: %w", err)
	}

	for _, song := range songs {
		if song.Page == page {
			return true, song.ID, nil
		}
	}

	return false, 0, nil
}

// ListSongs returns all songs, most recently added first.
func (s *Store) ListSongs(ctx context.Context) ([]models.Song, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return nil, fmt.Errorf("store.ListSongs: %w", err)
	}

	var songs []models.Song
	if err := qsorm.FindWhere(
		ctx,
		ctxdb.GetDB(ctx),
		&songs,
		nil,
		[]sb.AsOrderingTerm{sb.OrderDesc(models.SongTable.C("ID"))},
		sb.OffsetLimit(nil, sb.Literal(listLimit)),
	); err != nil {
		return nil, fmt.Errorf("store.ListSongs: %w", err)
	}

	return songs, nil
}

// SearchSongs runs an OData-style query (filter, order, skip, top) against
// the songs table.
func (s *Store) SearchSongs(ctx context.Context, q *godata.GoDataQuery) ([]models.Song, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return nil, fmt.Errorf("store.SearchSongs: %w", err)
	}

	condition, err := godatautil.MakeCondition(q, models.SongTable)
	if err != nil {
		return nil, fmt.Errorf("store.SearchSongs: %w", err)
	}

	orders, err := godatautil.MakeOrders(q, models.SongTable, sb.OrderDesc(models.SongTable.C("ID")))
	if err != nil {
		return nil, fmt.Errorf("store.SearchSongs: %w", err)
	}

	var songs []models.Song
	if err := qsorm.FindWhere(
		ctx,
		ctxdb.GetDB(ctx),
		&songs,
		condition,
		orders,
		godatautil.MakeOffsetLimit(q, 0, 1000),
	); err != nil {
		return nil, fmt.Errorf("store.SearchSongs: %w", err)
	}

	return songs, nil
}

func (s *Store) GetSong(ctx context.Context, id int) (*models.Song, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return nil, fmt.Errorf("store.GetSong: %w", err)
	}

	var song models.Song
	if err := sorm.FindFirstWhere(ctx, ctxdb.GetDB(ctx), &song, "where id = ?", id); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrSongNotFound
		}

		return nil, fmt.Errorf("store.GetSong: %w", err)
	}

	return &song, nil
}

// SaveSong persists changes to an existing song record.
func (s *Store) SaveSong(ctx context.Context, song *models.Song) error {
	ctx, err := s.ready(ctx)
	if err != nil {
		return fmt.Errorf("store.SaveSong: %w", err)
	}

	if err := ctxdb.UsingTx(ctx, nil, func(ctx context.Context, tx *sql.Tx) error {
		return sorm.SaveRecord(ctx, tx, song)
	}); err != nil {
		return fmt.Errorf("store.SaveSong: %w", err)
	}

	return nil
}

// DeleteSong removes a song and then prunes its id from every playlist. The
// playlist scan only begins once the deletion has committed; success is
// reported only after both phases complete. A crash between the phases can
// leave a dangling reference, which readers tolerate by skipping ids that no
// longer resolve.
func (s *Store) DeleteSong(ctx context.Context, id int) error {
	ctx, err := s.ready(ctx)
	if err != nil {
		return fmt.Errorf("store.DeleteSong: %w", err)
	}

	if err := ctxdb.UsingTx(ctx, nil, func(ctx context.Context, tx *sql.Tx) error {
		var song models.Song
		if err := sorm.FindFirstWhere(ctx, tx, &song, "where id = ?", id); err != nil {
			if err == sql.ErrNoRows {
				return ErrSongNotFound
			}

			return err
		}

		_, err := tx.ExecContext(ctx, "delete from songs where id = ?", id)
		return err
	}); err != nil {
		return fmt.Errorf("store.DeleteSong: %w", err)
	}

	if err := ctxdb.UsingTx(ctx, nil, func(ctx context.Context, tx *sql.Tx) error {
		var playlists []models.Playlist
		if err := sorm.FindWhere(ctx, tx, &playlists, "where 1 = 1"); err != nil {
			return err
		}

		for i := range playlists {
			playlist := &playlists[i]

			if !playlist.ContainsSong(id) {
				continue
			}

			kept := playlist.SongIDs[:0]
			for _, songID := range playlist.SongIDs {
				if songID != id {
					kept = append(kept, songID)
				}
			}
			playlist.SongIDs = kept

			if err := sorm.SaveRecord(ctx, tx, playlist); err != nil {
				return err
			}
		}

		return nil
	}); err != nil {
		return fmt.Errorf("store.DeleteSong: could not prune playlists: %w", err)
	}

	return nil
}

// CreatePlaylist inserts a playlist and assigns its id. SongIDs is normally
// empty at creation but a caller-supplied list is kept as given.
func (s *Store) CreatePlaylist(ctx context.Context, playlist *models.Playlist) error {
	ctx, err := s.ready(ctx)
	if err != nil {
		return fmt.Errorf("store.CreatePlaylist: %w", err)
	}

	if playlist.CreatedAt.IsZero() {
		playlist.CreatedAt = time.Now()
	}
	if playlist.SongIDs == nil {
		playlist.SongIDs = []int{}
	}

	if err := ctxdb.UsingTx(ctx, nil, func(ctx context.Context, tx *sql.Tx) error {
		return sorm.CreateRecord(ctx, tx, playlist)
	}); err != nil {
		return fmt.Errorf("store.CreatePlaylist: %w", err)
	}

	return nil
}

// ListPlaylists returns all playlists, most recently created first.
func (s *Store) ListPlaylists(ctx context.Context) ([]models.Playlist, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return nil, fmt.Errorf("store.ListPlaylists: %w", err)
	}

	var playlists []models.Playlist
	if err := qsorm.FindWhere(
		ctx,
		ctxdb.GetDB(ctx),
		&playlists,
		nil,
		[]sb.AsOrderingTerm{sb.OrderDesc(models.PlaylistTable.C("ID"))},
		sb.OffsetLimit(nil, sb.Literal(listLimit)),
	); err != nil {
		return nil, fmt.Errorf("store.ListPlaylists: %w", err)
	}

	return playlists, nil
}

func (s *Store) GetPlaylist(ctx context.Context, id int) (*models.Playlist, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return nil, fmt.Errorf("store.GetPlaylist: %w", err)
	}

	var playlist models.Playlist
	if err := sorm.FindFirstWhere(ctx, ctxdb.GetDB(ctx), &playlist, "where id = ?", id); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrPlaylistNotFound
		}

		return nil, fmt.Errorf("store.GetPlaylist: %w", err)
	}

	return &playlist, nil
}

// DeletePlaylist removes the playlist record only; songs are untouched.
func (s *Store) DeletePlaylist(ctx context.Context, id int) error {
	ctx, err := s.ready(ctx)
	if err != nil {
		return fmt.Errorf("store.DeletePlaylist: %w", err)
	}

	if err := ctxdb.UsingTx(ctx, nil, func(ctx context.Context, tx *sql.Tx) error {
		var playlist models.Playlist
		if err := sorm.FindFirstWhere(ctx, tx, &playlist, "where id = ?", id); err != nil {
			if err == sql.ErrNoRows {
				return ErrPlaylistNotFound
			}

			return err
		}

		_, err := tx.ExecContext(ctx, "delete from playlists where id = ?", id)
		return err
	}); err != nil {
		return fmt.Errorf("store.DeletePlaylist: %w", err)
	}

	return nil
}

// AddSongToPlaylist appends the song id to the playlist's membership if it
// is absent; adding an already-present song succeeds without change. The
// song itself is not verified to exist.
func (s *Store) AddSongToPlaylist(ctx context.Context, playlistID, songID int) error {
	ctx, err := s.ready(ctx)
	if err != nil {
		return fmt.Errorf("store.AddSongToPlaylist: %w", err)
	}

	if err := ctxdb.UsingTx(ctx, nil, func(ctx context.Context, tx *sql.Tx) error {
		var playlist models.Playlist
		if err := sorm.FindFirstWhere(ctx, tx, &playlist, "where id = ?", playlistID); err != nil {
			if err == sql.ErrNoRows {
				return ErrPlaylistNotFound
			}

			return err
		}

		if playlist.ContainsSong(songID) {
			return nil
		}

		playlist.SongIDs = append(playlist.SongIDs, songID)

		return sorm.SaveRecord(ctx, tx, &playlist)
	}); err != nil {
		return fmt.Errorf("store.AddSongToPlaylist: %w", err)
	}

	return nil
}

// RemoveSongFromPlaylist filters the song id out of the playlist's
// membership. Removing a song that is not present succeeds as a no-op;
// a missing playlist is an error.
func (s *Store) RemoveSongFromPlaylist(ctx context.Context, playlistID, songID int) error {
	ctx, err := s.ready(ctx)
	if err != nil {
		return fmt.Errorf("store.RemoveSongFromPlaylist: %w", err)
	}

	if err := ctxdb.UsingTx(ctx, nil, func(ctx context.Context, tx *sql.Tx) error {
		var playlist models.Playlist
		if err := sorm.FindFirstWhere(ctx, tx, &playlist, "where id = ?", playlistID); err != nil {
			if err == sql.ErrNoRows {
				return ErrPlaylistNotFound
			}

			return err
		}

		kept := playlist.SongIDs[:0]
		for _, id := range playlist.SongIDs {
			if id != songID {
				kept = append(kept, id)
			}
		}
		playlist.SongIDs = kept

		return sorm.SaveRecord(ctx, tx, &playlist)
	}); err != nil {
		return fmt.Errorf("store.RemoveSongFromPlaylist: %w", err)
	}

	return nil
}

// ListAuthors returns the uploader aggregation, most recently collected
// first.
func (s *Store) ListAuthors(ctx context.Context) ([]models.AuthorSearch, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return nil, fmt.Errorf("store.ListAuthors: %w", err)
	}

	var authors []models.AuthorSearch
	if err := qsorm.FindWhere(
		ctx,
		ctxdb.GetDB(ctx),
		&authors,
		nil,
		[]sb.AsOrderingTerm{sb.OrderDesc(models.AuthorSearchTable.C("LastCollectedAt"))},
		sb.OffsetLimit(nil, sb.Literal(listLimit)),
	); err != nil {
		return nil, fmt.Errorf("store.ListAuthors: %w", err)
	}

	return authors, nil
}
