// Package biliapi talks to the bilibili web API and, as a fallback, the
// video pages themselves. Metadata lookups go through the caching HTTP
// client registered on the context. Stream URL resolution must not, since
// the URLs are signed and expire; those calls take their own client.
package biliapi

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Jeffail/gabs/v2"
	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"fknsrs.biz/p/bilifm/internal/ctxhttpclient"
	"fknsrs.biz/p/bilifm/internal/ctxlogger"
)

var (
	viewURL    = "https://api.bilibili.com/x/web-interface/view"
	playURLURL = "https://api.bilibili.com/x/player/playurl"
	pageURL    = "https://www.bilibili.com/video/"
)

const (
	userAgent = "Mozilla/5.0 (X11; Linux x86_64; rv:109.0) Gecko/20100101 Firefox/115.0"
	referer   = "https://www.bilibili.com"
)

var ErrNoAudioStream = fmt.Errorf("biliapi: no audio stream in response")

func getJSON(ctx context.Context, client *http.Client, requestURL string) (*gabs.Container, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("biliapi.getJSON: %w", err)
	}

	req.Header.Set("user-agent", userAgent)
	req.Header.Set("referer", referer)

	res, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("biliapi.getJSON: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("biliapi.getJSON: status code: %d", res.StatusCode)
	}

	j, err := gabs.ParseJSONBuffer(res.Body)
	if err != nil {
		return nil, fmt.Errorf("biliapi.getJSON: %w", err)
	}

	if code, ok := j.Path("code").Data().(float64); !ok || code != 0 {
		message, _ := j.Path("message").Data().(string)
		return nil, fmt.Errorf("biliapi.getJSON: api error %v: %s", j.Path("code").Data(), message)
	}

	return j, nil
}

type ViewPage struct {
	ContentID int64
	Page      int
	Title     string
	Duration  int
}

// View is the metadata record for a whole video, including its part list.
type View struct {
	SourceID        string
	MediaAssetID    int64
	ContentID       int64
	Title           string
	Description     string
	CoverURL        string
	Duration        int
	AuthorName      string
	AuthorSourceID  int64
	AuthorAvatarURL string
	Pages           []ViewPage
}

// PageInfo returns the part record for a 1-based page number, falling back
// to a synthesized single entry when the part list is empty.
func (v *View) PageInfo(page int) (*ViewPage, error) {
	if len(v.Pages) == 0 {
		if page != 1 {
			return nil, fmt.Errorf("biliapi: page %d of %q not found", page, v.SourceID)
		}

		return &ViewPage{ContentID: v.ContentID, Page: 1, Title: v.Title, Duration: v.Duration}, nil
	}

	for i := range v.Pages {
		if v.Pages[i].Page == page {
			return &v.Pages[i], nil
		}
	}

	return nil, fmt.Errorf("biliapi: page %d of %q not found", page, v.SourceID)
}

// GetView fetches video metadata by BV id.
func GetView(ctx context.Context, sourceID string) (*View, error) {
	j, err := getJSON(ctx, ctxhttpclient.GetHTTPClient(ctx), viewURL+"?bvid="+url.QueryEscape(sourceID))
	if err != nil {
		return nil, fmt.Errorf("biliapi.GetView: %w", err)
	}

	const (
		sourceIDPath     = "data.bvid"
		mediaAssetIDPath = "data.aid"
		contentIDPath    = "data.cid"
		titlePath        = "data.title"
		descriptionPath  = "data.desc"
		coverURLPath     = "data.pic"
		durationPath     = "data.duration"
		authorNamePath   = "data.owner.name"
		authorIDPath     = "data.owner.mid"
		authorFacePath   = "data.owner.face"
		pageListPath     = "data.pages"
	)

	var v View

	if s, ok := j.Path(sourceIDPath).Data().(string); ok {
		v.SourceID = s
	}
	if n, ok := j.Path(mediaAssetIDPath).Data().(float64); ok {
		v.MediaAssetID = int64(n)
	}
	if n, ok := j.Path(contentIDPath).Data().(float64); ok {
		v.ContentID = int64(n)
	}
	if s, ok := j.Path(titlePath).Data().(string); ok {
		v.Title = s
	}
	if s, ok := j.Path(descriptionPath).Data().(string); ok {
		v.Description = s
	}
	if s, ok := j.Path(coverURLPath).Data().(string); ok {
		v.CoverURL = s
	}
	if n, ok := j.Path(durationPath).Data().(float64); ok {
		v.Duration = int(n)
	}
	if s, ok := j.Path(authorNamePath).Data().(string); ok {
		v.AuthorName = s
	}
	if n, ok := j.Path(authorIDPath).Data().(float64); ok {
		v.AuthorSourceID = int64(n)
	}
	if s, ok := j.Path(authorFacePath).Data().(string); ok {
		v.AuthorAvatarURL = s
	}

	for _, page := range j.Path(pageListPath).Children() {
		var p ViewPage

		if n, ok := page.Path("cid").Data().(float64); ok {
			p.ContentID = int64(n)
		}
		if n, ok := page.Path("page").Data().(float64); ok {
			p.Page = int(n)
		}
		if s, ok := page.Path("part").Data().(string); ok {
			p.Title = s
		}
		if n, ok := page.Path("duration").Data().(float64); ok {
			p.Duration = int(n)
		}

		v.Pages = append(v.Pages, p)
	}

	if v.SourceID == "" {
		return nil, fmt.Errorf("biliapi.GetView: could not find suitable data in response")
	}

	return &v, nil
}

// GetPlayURL resolves the audio stream for one part of a video. The client
// argument should be a plain, non-caching client; every call must produce a
// fresh URL.
func GetPlayURL(ctx context.Context, client *http.Client, sourceID string, contentID int64) (string, error) {
	q := url.Values{}
	q.Set("bvid", sourceID)
	q.Set("cid", strconv.FormatInt(contentID, 10))
	q.Set("qn", "64")
	q.Set("fnval", "16")

	j, err := getJSON(ctx, client, playURLURL+"?"+q.Encode())
	if err != nil {
		return "", fmt.Errorf("biliapi.GetPlayURL: %w", err)
	}

	const (
		dashAudioPath = "data.dash.audio"
		durlPath      = "data.durl"
	)

	if audio := j.Path(dashAudioPath).Children(); len(audio) > 0 {
		if s, ok := audio[0].Path("baseUrl").Data().(string); ok && s != "" {
			return s, nil
		}
		if s, ok := audio[0].Path("base_url").Data().(string); ok && s != "" {
			return s, nil
		}
	}

	// older videos only come as a muxed stream
	if durl := j.Path(durlPath).Children(); len(durl) > 0 {
		if s, ok := durl[0].Path("url").Data().(string); ok && s != "" {
			return s, nil
		}
	}

	return "", fmt.Errorf("biliapi.GetPlayURL: %w", ErrNoAudioStream)
}

const (
	playURLAttempts = 20
	playURLInterval = 350 * time.Millisecond
)

// GetPlayURLWithRetry polls GetPlayURL until it yields a stream or the
// attempt budget runs out. The upstream sometimes needs a moment before a
// freshly requested part becomes playable.
func GetPlayURLWithRetry(ctx context.Context, client *http.Client, sourceID string, contentID int64) (string, error) {
	var lastErr error

	for attempt := 0; attempt < playURLAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("biliapi.GetPlayURLWithRetry: %w", ctx.Err())
			case <-time.After(playURLInterval):
			}
		}

		streamURL, err := GetPlayURL(ctx, client, sourceID, contentID)
		if err == nil {
			return streamURL, nil
		}
		lastErr = err

		ctxlogger.GetLogger(ctx).WithField("source_id", sourceID).WithField("attempt", attempt+1).WithError(err).Debug("biliapi: play url attempt failed")
	}

	return "", fmt.Errorf("biliapi.GetPlayURLWithRetry: gave up after %d attempts: %w", playURLAttempts, lastErr)
}

// PagePlayInfo is what a video page embeds about its currently selected
// part.
type PagePlayInfo struct {
	Title    string
	AudioURL string
}

// ScrapePage extracts the stream information a video page ships inline, as
// a fallback for when the playurl API refuses a video that still plays in
// the browser.
func ScrapePage(ctx context.Context, client *http.Client, sourceID string, page int) (*PagePlayInfo, error) {
	requestURL := pageURL + sourceID + "/"
	if page > 1 {
		requestURL += "?p=" + strconv.Itoa(page)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("biliapi.ScrapePage: %w", err)
	}

	req.Header.Set("user-agent", userAgent)
	req.Header.Set("referer", referer)

	res, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("biliapi.ScrapePage: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("biliapi.ScrapePage: status code: %d", res.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(res.Body)
	if err != nil {
		return nil, fmt.Errorf("biliapi.ScrapePage: %w", err)
	}

	var info PagePlayInfo

	for _, node := range doc.Find("script").Nodes {
		if node.FirstChild == nil || node.FirstChild.Type != html.TextNode {
			continue
		}

		jsContent := strings.TrimSpace(node.FirstChild.Data)

		switch {
		case strings.HasPrefix(jsContent, "window.__playinfo__="):
			jsContent = strings.TrimPrefix(jsContent, "window.__playinfo__=")

			j, err := gabs.ParseJSON([]byte(jsContent))
			if err != nil {
				return nil, fmt.Errorf("biliapi.ScrapePage: %w", err)
			}

			if audio := j.Path("data.dash.audio").Children(); len(audio) > 0 {
				if s, ok := audio[0].Path("baseUrl").Data().(string); ok {
					info.AudioURL = s
				}
			}
		case strings.HasPrefix(jsContent, "window.__INITIAL_STATE__="):
			jsContent = strings.TrimPrefix(jsContent, "window.__INITIAL_STATE__=")
			if i := strings.Index(jsContent, ";(function"); i >= 0 {
				jsContent = jsContent[:i]
			}

			j, err := gabs.ParseJSON([]byte(jsContent))
			if err != nil {
				return nil, fmt.Errorf("biliapi.ScrapePage: %w", err)
			}

			if s, ok := j.Path("videoData.title").Data().(string); ok {
				info.Title = s
			}
		}
	}

	if info.AudioURL == "" {
		return nil, fmt.Errorf("biliapi.ScrapePage: %w", ErrNoAudioStream)
	}

	return &info, nil
}
