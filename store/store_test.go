package store

import (
	"context"
	"database/sql"
	"net/url"
	"testing"
	"time"

	"fknsrs.biz/p/sorm"
	"github.com/gost/godata"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fknsrs.biz/p/bilifm/models"
)

func init() {
	sorm.SetParameterPrefix("?")
}

func makeStore(t *testing.T) *Store {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	s := New(db)
	require.NoError(t, s.Initialize(context.Background()))

	return s
}

func makeSong(sourceID string, page int, title string) *models.Song {
	return &models.Song{
		CreatedAt:    time.Now(),
		SourceID:     sourceID,
		Page:         page,
		ContentID:    1000 + page,
		MediaAssetID: 2000 + page,
		Title:        title,
		AuthorName:   "uploader",
	}
}

func TestStoreRequiresInitialize(t *testing.T) {
	a := assert.New(t)

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer db.Close()

	s := New(db)
	ctx := context.Background()

	_, err = s.ListSongs(ctx)
	a.ErrorIs(err, ErrNotInitialized)

	err = s.CreateSong(ctx, makeSong("BV1xx411c7mD", 1, "a"))
	a.ErrorIs(err, ErrNotInitialized)

	_, err = s.GetPlaylist(ctx, 1)
	a.ErrorIs(err, ErrNotInitialized)
}

func TestCreateAndGetSong(t *testing.T) {
	a := assert.New(t)
	s := makeStore(t)
	ctx := context.Background()

	song := makeSong("BV1xx411c7mD", 1, "first")
	a.NoError(s.CreateSong(ctx, song))
	a.NotZero(song.ID)

	got, err := s.GetSong(ctx, song.ID)
	a.NoError(err)
	a.Equal("BV1xx411c7mD", got.SourceID)
	a.Equal(1, got.Page)
	a.Equal("first", got.Title)

	_, err = s.GetSong(ctx, song.ID+100)
	a.ErrorIs(err, ErrSongNotFound)
}

func TestListSongsNewestFirst(t *testing.T) {
	a := assert.New(t)
	s := makeStore(t)
	ctx := context.Background()

	first := makeSong("BV1xx411c7mD", 1, "first")
	second := makeSong("BV1yy411c7mE", 1, "second")
	a.NoError(s.CreateSong(ctx, first))
	a.NoError(s.CreateSong(ctx, second))

	songs, err := s.ListSongs(ctx)
	a.NoError(err)
	if a.Len(songs, 2) {
		a.Equal(second.ID, songs[0].ID)
		a.Equal(first.ID, songs[1].ID)
	}
}

func TestSongExists(t *testing.T) {
	a := assert.New(t)
	s := makeStore(t)
	ctx := context.Background()

	song := makeSong("BV1xx411c7mD", 2, "part two")
	a.NoError(s.CreateSong(ctx, song))

	ok, id, err := s.SongExists(ctx, "BV1xx411c7mD", 2)
	a.NoError(err)
	a.True(ok)
	a.Equal(song.ID, id)

	ok, _, err = s.SongExists(ctx, "BV1xx411c7mD", 3)
	a.NoError(err)
	a.False(ok)

	ok, _, err = s.SongExists(ctx, "BV1zz411c7mF", 2)
	a.NoError(err)
	a.False(ok)
}

func TestDeleteSongCascadesToPlaylists(t *testing.T) {
	a := assert.New(t)
	s := makeStore(t)
	ctx := context.Background()

	keep := makeSong("BV1xx411c7mD", 1, "keep")
	drop := makeSong("BV1yy411c7mE", 1, "drop")
	a.NoError(s.CreateSong(ctx, keep))
	a.NoError(s.CreateSong(ctx, drop))

	p1 := &models.Playlist{Name: "both"}
	p2 := &models.Playlist{Name: "only keep"}
	a.NoError(s.CreatePlaylist(ctx, p1))
	a.NoError(s.CreatePlaylist(ctx, p2))

	a.NoError(s.AddSongToPlaylist(ctx, p1.ID, keep.ID))
	a.NoError(s.AddSongToPlaylist(ctx, p1.ID, drop.ID))
	a.NoError(s.AddSongToPlaylist(ctx, p2.ID, keep.ID))

	a.NoError(s.DeleteSong(ctx, drop.ID))

	_, err := s.GetSong(ctx, drop.ID)
	a.ErrorIs(err, ErrSongNotFound)

	got1, err := s.GetPlaylist(ctx, p1.ID)
	a.NoError(err)
	a.Equal([]int{keep.ID}, []int(got1.SongIDs))

	got2, err := s.GetPlaylist(ctx, p2.ID)
	a.NoError(err)
	a.Equal([]int{keep.ID}, []int(got2.SongIDs))
}

func TestDeleteSongNotFound(t *testing.T) {
	a := assert.New(t)
	s := makeStore(t)

	a.ErrorIs(s.DeleteSong(context.Background(), 12345), ErrSongNotFound)
}

func TestPlaylistLifecycle(t *testing.T) {
	a := assert.New(t)
	s := makeStore(t)
	ctx := context.Background()

	p := &models.Playlist{Name: "driving", Description: "long trips"}
	a.NoError(s.CreatePlaylist(ctx, p))
	a.NotZero(p.ID)

	got, err := s.GetPlaylist(ctx, p.ID)
	a.NoError(err)
	a.Equal("driving", got.Name)
	a.Empty(got.SongIDs)

	a.NoError(s.DeletePlaylist(ctx, p.ID))

	_, err = s.GetPlaylist(ctx, p.ID)
	a.ErrorIs(err, ErrPlaylistNotFound)

	a.ErrorIs(s.DeletePlaylist(ctx, p.ID), ErrPlaylistNotFound)
}

func TestDeletePlaylistLeavesSongs(t *testing.T) {
	a := assert.New(t)
	s := makeStore(t)
	ctx := context.Background()

	song := makeSong("BV1xx411c7mD", 1, "keep")
	a.NoError(s.CreateSong(ctx, song))

	p := &models.Playlist{Name: "temp"}
	a.NoError(s.CreatePlaylist(ctx, p))
	a.NoError(s.AddSongToPlaylist(ctx, p.ID, song.ID))

	a.NoError(s.DeletePlaylist(ctx, p.ID))

	got, err := s.GetSong(ctx, song.ID)
	a.NoError(err)
	a.Equal(song.ID, got.ID)
}

func TestAddSongToPlaylistIdempotent(t *testing.T) {
	a := assert.New(t)
	s := makeStore(t)
	ctx := context.Background()

	song := makeSong("BV1xx411c7mD", 1, "a")
	a.NoError(s.CreateSong(ctx, song))

	p := &models.Playlist{Name: "p"}
	a.NoError(s.CreatePlaylist(ctx, p))

	a.NoError(s.AddSongToPlaylist(ctx, p.ID, song.ID))
	a.NoError(s.AddSongToPlaylist(ctx, p.ID, song.ID))

	got, err := s.GetPlaylist(ctx, p.ID)
	a.NoError(err)
	a.Equal([]int{song.ID}, []int(got.SongIDs))

	a.ErrorIs(s.AddSongToPlaylist(ctx, p.ID+1, song.ID), ErrPlaylistNotFound)
}

func TestRemoveSongFromPlaylist(t *testing.T) {
	a := assert.New(t)
	s := makeStore(t)
	ctx := context.Background()

	s1 := makeSong("BV1xx411c7mD", 1, "a")
	s2 := makeSong("BV1yy411c7mE", 1, "b")
	a.NoError(s.CreateSong(ctx, s1))
	a.NoError(s.CreateSong(ctx, s2))

	p := &models.Playlist{Name: "p"}
	a.NoError(s.CreatePlaylist(ctx, p))
	a.NoError(s.AddSongToPlaylist(ctx, p.ID, s1.ID))
	a.NoError(s.AddSongToPlaylist(ctx, p.ID, s2.ID))

	a.NoError(s.RemoveSongFromPlaylist(ctx, p.ID, s1.ID))

	got, err := s.GetPlaylist(ctx, p.ID)
	a.NoError(err)
	a.Equal([]int{s2.ID}, []int(got.SongIDs))

	// removing an absent song is a no-op
	a.NoError(s.RemoveSongFromPlaylist(ctx, p.ID, s1.ID))

	a.ErrorIs(s.RemoveSongFromPlaylist(ctx, p.ID+1, s1.ID), ErrPlaylistNotFound)
}

func TestExportImportRoundTrip(t *testing.T) {
	a := assert.New(t)
	src := makeStore(t)
	ctx := context.Background()

	s1 := makeSong("BV1xx411c7mD", 1, "a")
	s2 := makeSong("BV1yy411c7mE", 1, "b")
	a.NoError(src.CreateSong(ctx, s1))
	a.NoError(src.CreateSong(ctx, s2))

	p := &models.Playlist{Name: "p"}
	a.NoError(src.CreatePlaylist(ctx, p))
	a.NoError(src.AddSongToPlaylist(ctx, p.ID, s1.ID))
	a.NoError(src.AddSongToPlaylist(ctx, p.ID, s2.ID))

	snapshot, err := src.ExportAll(ctx)
	a.NoError(err)
	a.Len(snapshot.Songs, 2)
	a.Len(snapshot.Playlists, 1)

	dst := makeStore(t)

	res, err := dst.ImportBulk(ctx, snapshot)
	a.NoError(err)
	a.Equal(2, res.SongsImported)
	a.Equal(0, res.SongsSkipped)
	a.Equal(1, res.PlaylistsImported)

	songs, err := dst.ListSongs(ctx)
	a.NoError(err)
	a.Len(songs, 2)

	playlists, err := dst.ListPlaylists(ctx)
	a.NoError(err)
	if a.Len(playlists, 1) {
		a.Len(playlists[0].SongIDs, 2)

		for _, id := range playlists[0].SongIDs {
			_, err := dst.GetSong(ctx, id)
			a.NoError(err)
		}
	}
}

func TestImportBulkSkipsExistingSongs(t *testing.T) {
	a := assert.New(t)
	s := makeStore(t)
	ctx := context.Background()

	existing := makeSong("BV1xx411c7mD", 1, "already here")
	a.NoError(s.CreateSong(ctx, existing))

	snapshot := &Snapshot{
		Version: snapshotVersion,
		Songs: []models.Song{
			*makeSong("BV1xx411c7mD", 1, "duplicate"),
			*makeSong("BV1yy411c7mE", 1, "new"),
		},
		Playlists: nil,
	}
	snapshot.Songs[0].ID = 77
	snapshot.Songs[1].ID = 78

	res, err := s.ImportBulk(ctx, snapshot)
	a.NoError(err)
	a.Equal(1, res.SongsImported)
	a.Equal(1, res.SongsSkipped)

	songs, err := s.ListSongs(ctx)
	a.NoError(err)
	a.Len(songs, 2)
}

func TestImportBulkRemapsPlaylistMembership(t *testing.T) {
	a := assert.New(t)
	s := makeStore(t)
	ctx := context.Background()

	existing := makeSong("BV1xx411c7mD", 1, "already here")
	a.NoError(s.CreateSong(ctx, existing))

	snapshot := &Snapshot{
		Version: snapshotVersion,
		Songs:   []models.Song{*makeSong("BV1yy411c7mE", 1, "new")},
		Playlists: []models.Playlist{{
			ID:      5,
			Name:    "imported",
			SongIDs: []int{40, 99},
		}},
	}
	snapshot.Songs[0].ID = 40

	res, err := s.ImportBulk(ctx, snapshot)
	a.NoError(err)
	a.Equal(1, res.SongsImported)
	a.Equal(1, res.PlaylistsImported)

	playlists, err := s.ListPlaylists(ctx)
	a.NoError(err)
	if a.Len(playlists, 1) {
		// 99 had no mapping and is dropped
		if a.Len(playlists[0].SongIDs, 1) {
			got, err := s.GetSong(ctx, playlists[0].SongIDs[0])
			a.NoError(err)
			a.Equal("new", got.Title)
		}
	}
}

func TestListAuthors(t *testing.T) {
	a := assert.New(t)
	s := makeStore(t)
	ctx := context.Background()

	s1 := makeSong("BV1xx411c7mD", 1, "a")
	s1.AuthorName = "alice"
	s1.AuthorSourceID = 100
	s2 := makeSong("BV1xx411c7mD", 2, "b")
	s2.AuthorName = "alice"
	s2.AuthorSourceID = 100
	s3 := makeSong("BV1yy411c7mE", 1, "c")
	s3.AuthorName = "bob"
	s3.AuthorSourceID = 200

	a.NoError(s.CreateSong(ctx, s1))
	a.NoError(s.CreateSong(ctx, s2))
	a.NoError(s.CreateSong(ctx, s3))

	authors, err := s.ListAuthors(ctx)
	a.NoError(err)
	if a.Len(authors, 2) {
		byName := map[string]int{}
		for _, author := range authors {
			byName[author.AuthorName] = author.SongCount
		}
		a.Equal(2, byName["alice"])
		a.Equal(1, byName["bob"])
	}
}

func TestSaveSongUpdatesStamps(t *testing.T) {
	a := assert.New(t)
	s := makeStore(t)
	ctx := context.Background()

	song := makeSong("BV1xx411c7mD", 1, "a")
	a.NoError(s.CreateSong(ctx, song))
	a.Nil(song.MetadataRefreshedAt)

	now := time.Now()
	song.MetadataRefreshedAt = &now
	song.Title = "renamed"
	a.NoError(s.SaveSong(ctx, song))

	got, err := s.GetSong(ctx, song.ID)
	a.NoError(err)
	a.Equal("renamed", got.Title)
	if a.NotNil(got.MetadataRefreshedAt) {
		a.WithinDuration(now, *got.MetadataRefreshedAt, time.Second)
	}
}

func TestSearchSongsNoQuery(t *testing.T) {
	a := assert.New(t)
	s := makeStore(t)
	ctx := context.Background()

	a.NoError(s.CreateSong(ctx, makeSong("BV1xx411c7mD", 1, "a")))
	a.NoError(s.CreateSong(ctx, makeSong("BV1yy411c7mE", 1, "b")))

	songs, err := s.SearchSongs(ctx, nil)
	a.NoError(err)
	a.Len(songs, 2)
}

func TestSearchSongsFilter(t *testing.T) {
	a := assert.New(t)
	s := makeStore(t)
	ctx := context.Background()

	a.NoError(s.CreateSong(ctx, makeSong("BV1xx411c7mD", 1, "morning rain")))
	a.NoError(s.CreateSong(ctx, makeSong("BV1yy411c7mE", 1, "evening sun")))

	q, err := godata.ParseUrlQuery(url.Values{"$filter": []string{"substringof(Title, 'rain')"}})
	require.NoError(t, err)

	songs, err := s.SearchSongs(ctx, q)
	a.NoError(err)
	if a.Len(songs, 1) {
		a.Equal("morning rain", songs[0].Title)
	}
}

func TestSearchSongsTop(t *testing.T) {
	a := assert.New(t)
	s := makeStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		a.NoError(s.CreateSong(ctx, makeSong("BV1xx411c7mD", i+1, "part")))
	}

	q, err := godata.ParseUrlQuery(url.Values{"$top": []string{"2"}})
	require.NoError(t, err)

	songs, err := s.SearchSongs(ctx, q)
	a.NoError(err)
	a.Len(songs, 2)
}
