package biliapi

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const viewResponse = `{
	"code": 0,
	"message": "0",
	"data": {
		"bvid": "BV1GJ411x7h7",
		"aid": 76699134,
		"cid": 131183072,
		"title": "some song",
		"desc": "a description",
		"pic": "https://i0.example.com/cover.jpg",
		"duration": 213,
		"owner": {"mid": 12345, "name": "uploader", "face": "https://i0.example.com/face.jpg"},
		"pages": [
			{"cid": 131183072, "page": 1, "part": "part one", "duration": 100},
			{"cid": 131183073, "page": 2, "part": "part two", "duration": 113}
		]
	}
}`

const playURLResponse = `{
	"code": 0,
	"message": "0",
	"data": {
		"dash": {
			"audio": [
				{"id": 30280, "baseUrl": "https://upos.example.com/audio-hi.m4s?deadline=1"},
				{"id": 30216, "baseUrl": "https://upos.example.com/audio-lo.m4s?deadline=1"}
			]
		}
	}
}`

func withServer(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	oldView, oldPlay, oldPage := viewURL, playURLURL, pageURL
	viewURL = srv.URL + "/x/web-interface/view"
	playURLURL = srv.URL + "/x/player/playurl"
	pageURL = srv.URL + "/video/"
	t.Cleanup(func() { viewURL, playURLURL, pageURL = oldView, oldPlay, oldPage })

	return srv
}

func TestGetView(t *testing.T) {
	a := assert.New(t)

	withServer(t, http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		a.Equal("/x/web-interface/view", r.URL.Path)
		a.Equal("BV1GJ411x7h7", r.URL.Query().Get("bvid"))
		fmt.Fprint(rw, viewResponse)
	}))

	v, err := GetView(context.Background(), "BV1GJ411x7h7")
	require.NoError(t, err)

	a.Equal("BV1GJ411x7h7", v.SourceID)
	a.Equal(int64(76699134), v.MediaAssetID)
	a.Equal(int64(131183072), v.ContentID)
	a.Equal("some song", v.Title)
	a.Equal("a description", v.Description)
	a.Equal(213, v.Duration)
	a.Equal("uploader", v.AuthorName)
	a.Equal(int64(12345), v.AuthorSourceID)
	a.Len(v.Pages, 2)
}

func TestGetViewAPIError(t *testing.T) {
	a := assert.New(t)

	withServer(t, http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		fmt.Fprint(rw, `{"code": -404, "message": "not found", "data": null}`)
	}))

	_, err := GetView(context.Background(), "BV1GJ411x7h7")
	if a.Error(err) {
		a.Contains(err.Error(), "-404")
		a.Contains(err.Error(), "not found")
	}
}

func TestViewPageInfo(t *testing.T) {
	a := assert.New(t)

	v := &View{
		SourceID:  "BV1GJ411x7h7",
		ContentID: 1,
		Title:     "whole",
		Duration:  99,
		Pages: []ViewPage{
			{ContentID: 1, Page: 1, Title: "one", Duration: 40},
			{ContentID: 2, Page: 2, Title: "two", Duration: 59},
		},
	}

	p, err := v.PageInfo(2)
	a.NoError(err)
	a.Equal(int64(2), p.ContentID)
	a.Equal("two", p.Title)

	_, err = v.PageInfo(3)
	a.Error(err)

	single := &View{SourceID: "BV1GJ411x7h7", ContentID: 7, Title: "only", Duration: 50}

	p, err = single.PageInfo(1)
	a.NoError(err)
	a.Equal(int64(7), p.ContentID)
	a.Equal("only", p.Title)

	_, err = single.PageInfo(2)
	a.Error(err)
}

func TestGetPlayURL(t *testing.T) {
	a := assert.New(t)

	withServer(t, http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		a.Equal("/x/player/playurl", r.URL.Path)
		a.Equal("131183072", r.URL.Query().Get("cid"))
		a.Equal("64", r.URL.Query().Get("qn"))
		a.Equal("16", r.URL.Query().Get("fnval"))
		fmt.Fprint(rw, playURLResponse)
	}))

	streamURL, err := GetPlayURL(context.Background(), http.DefaultClient, "BV1GJ411x7h7", 131183072)
	a.NoError(err)
	a.Equal("https://upos.example.com/audio-hi.m4s?deadline=1", streamURL)
}

func TestGetPlayURLLegacyDurl(t *testing.T) {
	a := assert.New(t)

	withServer(t, http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		fmt.Fprint(rw, `{"code": 0, "data": {"durl": [{"url": "https://upos.example.com/muxed.flv"}]}}`)
	}))

	streamURL, err := GetPlayURL(context.Background(), http.DefaultClient, "BV1GJ411x7h7", 1)
	a.NoError(err)
	a.Equal("https://upos.example.com/muxed.flv", streamURL)
}

func TestGetPlayURLNoAudio(t *testing.T) {
	a := assert.New(t)

	withServer(t, http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		fmt.Fprint(rw, `{"code": 0, "data": {}}`)
	}))

	_, err := GetPlayURL(context.Background(), http.DefaultClient, "BV1GJ411x7h7", 1)
	a.ErrorIs(err, ErrNoAudioStream)
}

func TestGetPlayURLWithRetryEventuallySucceeds(t *testing.T) {
	a := assert.New(t)

	var calls int64
	withServer(t, http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if atomic.AddInt64(&calls, 1) < 3 {
			fmt.Fprint(rw, `{"code": -10403, "message": "not ready", "data": null}`)
			return
		}
		fmt.Fprint(rw, playURLResponse)
	}))

	streamURL, err := GetPlayURLWithRetry(context.Background(), http.DefaultClient, "BV1GJ411x7h7", 1)
	a.NoError(err)
	a.Contains(streamURL, "audio-hi")
	a.Equal(int64(3), atomic.LoadInt64(&calls))
}

func TestGetPlayURLWithRetryHonoursContext(t *testing.T) {
	a := assert.New(t)

	withServer(t, http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		fmt.Fprint(rw, `{"code": -10403, "message": "not ready", "data": null}`)
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := GetPlayURLWithRetry(ctx, http.DefaultClient, "BV1GJ411x7h7", 1)
	a.ErrorIs(err, context.Canceled)
}

const pageHTML = `<!DOCTYPE html>
<html>
<head><title>page</title></head>
<body>
<script>window.__INITIAL_STATE__={"videoData":{"bvid":"BV1GJ411x7h7","title":"scraped title"}};(function(){}());</script>
<script>window.__playinfo__={"code":0,"data":{"dash":{"audio":[{"baseUrl":"https://upos.example.com/scraped.m4s"}]}}}</script>
</body>
</html>`

func TestScrapePage(t *testing.T) {
	a := assert.New(t)

	withServer(t, http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		a.Equal("/video/BV1GJ411x7h7/", r.URL.Path)
		fmt.Fprint(rw, pageHTML)
	}))

	info, err := ScrapePage(context.Background(), http.DefaultClient, "BV1GJ411x7h7", 1)
	require.NoError(t, err)

	a.Equal("https://upos.example.com/scraped.m4s", info.AudioURL)
	a.Equal("scraped title", info.Title)
}

func TestScrapePageNoPlayInfo(t *testing.T) {
	a := assert.New(t)

	withServer(t, http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		fmt.Fprint(rw, "<html><body>nothing here</body></html>")
	}))

	_, err := ScrapePage(context.Background(), http.DefaultClient, "BV1GJ411x7h7", 1)
	a.ErrorIs(err, ErrNoAudioStream)
}
