// Package streamresolve resolves songs to playable stream URLs via the
// playurl API, with the page scrape as a fallback. Every call goes to the
// origin; resolved URLs are signed, short-lived, and never cached.
package streamresolve

import (
	"context"
	"net/http"

	"fknsrs.biz/p/bilifm/internal/biliapi"
	"fknsrs.biz/p/bilifm/internal/ctxlogger"
	"fknsrs.biz/p/bilifm/internal/player"
	"fknsrs.biz/p/bilifm/models"
)

type Resolver struct {
	client *http.Client
}

var _ player.Resolver = (*Resolver)(nil)

// New wraps a plain HTTP client. Don't pass a caching client here.
func New(client *http.Client) *Resolver {
	if client == nil {
		client = http.DefaultClient
	}

	return &Resolver{client: client}
}

func (r *Resolver) ResolveStream(ctx context.Context, song *models.Song) (string, error) {
	streamURL, err := biliapi.GetPlayURL(ctx, r.client, song.SourceID, int64(song.ContentID))
	if err == nil {
		return streamURL, nil
	}

	ctxlogger.GetLogger(ctx).WithField("song_id", song.ID).WithError(err).Warn("streamresolve: playurl api failed, trying page scrape")

	info, scrapeErr := biliapi.ScrapePage(ctx, r.client, song.SourceID, song.Page)
	if scrapeErr != nil {
		// report the api error; the scrape is only a backstop
		return "", err
	}

	return info.AudioURL, nil
}
