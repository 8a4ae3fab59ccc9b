package models

import (
	"time"

	"fknsrs.biz/p/bilifm/internal/sqlbuilderutil"
	"fknsrs.biz/p/bilifm/internal/sqltypes"
)

var (
	PlaylistTable *sqlbuilderutil.Table
)

func init() {
	PlaylistTable = sqlbuilderutil.MustMakeTable(Playlist{})
}

// Playlist is a named, user-ordered collection of song references. SongIDs
// is stored as a JSON array column; insertion order is membership order and
// duplicates are forbidden. Every id is expected to reference a song that
// exists, with the store pruning ids when a song is deleted; readers still
// tolerate a dangling id by skipping it.
type Playlist struct {
	ID          int                   `sql:",table:playlists" json:"id"`
	CreatedAt   time.Time             `json:"created_at"`
	Name        string                `json:"name"`
	Description string                `json:"description"`
	CoverURL    *string               `json:"cover_url"`
	SongIDs     sqltypes.JSONIntSlice `sql:"song_ids" json:"song_ids"`
}

// ContainsSong reports whether the playlist references the given song id.
func (p *Playlist) ContainsSong(songID int) bool {
	for _, id := range p.SongIDs {
		if id == songID {
			return true
		}
	}

	return false
}
