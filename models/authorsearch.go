package models

import (
	"database/sql"
	"time"

	"fknsrs.biz/p/bilifm/internal/sqlbuilderutil"
	"fknsrs.biz/p/bilifm/internal/sqltypes"
)

var (
	AuthorSearchTable *sqlbuilderutil.Table
)

func init() {
	AuthorSearchTable = sqlbuilderutil.MustMakeTable(AuthorSearch{})
}

// AuthorSearch is a read-only aggregation over songs, one row per uploader.
type AuthorSearch struct {
	AuthorSourceID  int `sql:",table:author_search"`
	AuthorName      string
	AuthorAvatarURL string
	SongCount       int
	LastCollectedAt time.Time
}

func (s *AuthorSearch) OverrideScan(names []string, scanners []sql.Scanner) error {
	for i, name := range names {
		switch name {
		case "LastCollectedAt":
			scanners[i] = &sqltypes.TimeScanner{Value: &s.LastCollectedAt}
		}
	}

	return nil
}
