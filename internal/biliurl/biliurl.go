package biliurl

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"fknsrs.biz/p/bilifm/internal/ctxhttpclient"
)

// Video is a reference to one part of one video: the BV id plus the 1-based
// part number. Single-part videos are page 1.
type Video struct {
	SourceID string
	Page     int
}

var bvRE = regexp.MustCompile(`^BV1[0-9A-Za-z]{9}$`)

// ExtractVideo pulls a video reference from a raw BV id or any of the usual
// URL shapes (www, m, embedded player). Short links need a network round
// trip and are handled by FindVideo instead.
func ExtractVideo(urlOrID string) (*Video, error) {
	urlOrID = strings.TrimSpace(urlOrID)
	if urlOrID == "" {
		return nil, fmt.Errorf("biliurl.ExtractVideo: empty input")
	}

	if bvRE.MatchString(urlOrID) {
		return &Video{SourceID: urlOrID, Page: 1}, nil
	}

	parsed, err := url.Parse(urlOrID)
	if err != nil {
		return nil, fmt.Errorf("biliurl.ExtractVideo: %w", err)
	}

	switch parsed.Host {
	case "www.bilibili.com", "m.bilibili.com", "bilibili.com":
		if strings.HasPrefix(parsed.Path, "/video/") {
			id := strings.Trim(strings.TrimPrefix(parsed.Path, "/video/"), "/")

			if !bvRE.MatchString(id) {
				return nil, fmt.Errorf("biliurl.ExtractVideo: invalid video id %q; should be BV1 followed by nine characters", id)
			}

			page := 1
			if p := parsed.Query().Get("p"); p != "" {
				n, err := strconv.Atoi(p)
				if err != nil || n < 1 {
					return nil, fmt.Errorf("biliurl.ExtractVideo: invalid page %q", p)
				}
				page = n
			}

			return &Video{SourceID: id, Page: page}, nil
		}

		return nil, fmt.Errorf("biliurl.ExtractVideo: unrecognised path %q", parsed.Path)
	case "player.bilibili.com":
		if parsed.Path == "/player.html" {
			id := parsed.Query().Get("bvid")
			if !bvRE.MatchString(id) {
				return nil, fmt.Errorf("biliurl.ExtractVideo: invalid bvid parameter %q", id)
			}

			page := 1
			if p := parsed.Query().Get("p"); p != "" {
				n, err := strconv.Atoi(p)
				if err != nil || n < 1 {
					return nil, fmt.Errorf("biliurl.ExtractVideo: invalid page %q", p)
				}
				page = n
			}

			return &Video{SourceID: id, Page: page}, nil
		}

		return nil, fmt.Errorf("biliurl.ExtractVideo: unrecognised path %q", parsed.Path)
	}

	return nil, fmt.Errorf("biliurl.ExtractVideo: invalid url or id; could not find a known pattern")
}

// ExtractVideos pulls every video reference out of free text, one token at
// a time.
func ExtractVideos(text string, ignoreInvalid bool) ([]Video, error) {
	var videos []Video

	for _, urlOrID := range strings.Fields(text) {
		if v, err := ExtractVideo(urlOrID); err == nil {
			videos = append(videos, *v)
		} else if !ignoreInvalid {
			return nil, fmt.Errorf("biliurl.ExtractVideos: could not identify %q: %w", urlOrID, err)
		}
	}

	return videos, nil
}

// FindVideo is ExtractVideo plus resolution of b23.tv short links, which
// redirect to the full URL.
func FindVideo(ctx context.Context, urlOrID string) (*Video, error) {
	if v, err := ExtractVideo(urlOrID); err == nil {
		return v, nil
	}

	if parsed, err := url.Parse(urlOrID); err == nil && parsed.Host == "b23.tv" {
		v, err := resolveShortLink(ctx, urlOrID)
		if err != nil {
			return nil, fmt.Errorf("biliurl.FindVideo: %w", err)
		}

		return v, nil
	}

	return nil, fmt.Errorf("biliurl.FindVideo: no strategy available to extract video id")
}

func resolveShortLink(ctx context.Context, shortURL string) (*Video, error) {
	res, err := ctxhttpclient.GetHTTPClient(ctx).Get(shortURL)
	if err != nil {
		return nil, fmt.Errorf("biliurl.resolveShortLink: could not perform request: %w", err)
	}
	defer res.Body.Close()

	// the client follows the redirect, so the final URL carries the id
	if v, err := ExtractVideo(res.Request.URL.String()); err == nil {
		return v, nil
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("biliurl.resolveShortLink: could not read response: %w", err)
	}

	re := regexp.MustCompile(`BV1[0-9A-Za-z]{9}`)
	if match := re.FindString(string(body)); match != "" {
		return &Video{SourceID: match, Page: 1}, nil
	}

	return nil, fmt.Errorf("biliurl.resolveShortLink: could not find video id in response")
}
