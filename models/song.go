package models

import (
	"strconv"
	"time"

	"fknsrs.biz/p/bilifm/internal/sqlbuilderutil"
)

var (
	SongTable *sqlbuilderutil.Table
)

func init() {
	SongTable = sqlbuilderutil.MustMakeTable(Song{})
}

// Song is one collectible audio track sourced from a video page. The pair
// (SourceID, Page) is the natural dedup key; a stream URL is never stored
// because the platform expires them, only the identifiers needed to
// re-resolve one.
type Song struct {
	ID              int       `sql:",table:songs" json:"id"`
	CreatedAt       time.Time `json:"created_at"`
	SourceID        string    `json:"source_id"`
	Page            int       `json:"page"`
	ContentID       int       `json:"content_id"`
	MediaAssetID    int       `json:"media_asset_id"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	CoverURL        string    `json:"cover_url"`
	Duration        int       `json:"duration"`
	AuthorName      string    `json:"author_name"`
	AuthorSourceID  int       `json:"author_source_id"`
	AuthorAvatarURL string    `json:"author_avatar_url"`

	MetadataRefreshedAt *time.Time `json:"metadata_refreshed_at"`
	AudioDownloadedAt   *time.Time `json:"audio_downloaded_at"`
	AudioConvertedAt    *time.Time `json:"audio_converted_at"`
}

// AudioFileName is the base name used for archived audio on disk.
func (s *Song) AudioFileName(ext string) string {
	return s.SourceID + "_p" + strconv.Itoa(s.Page) + ext
}
