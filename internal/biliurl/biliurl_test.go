package biliurl

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractVideo(t *testing.T) {
	a := assert.New(t)

	for _, e := range []struct {
		input    string
		sourceID string
		page     int
	}{
		{"BV1GJ411x7h7", "BV1GJ411x7h7", 1},
		{"https://www.bilibili.com/video/BV1GJ411x7h7", "BV1GJ411x7h7", 1},
		{"https://www.bilibili.com/video/BV1GJ411x7h7/", "BV1GJ411x7h7", 1},
		{"https://www.bilibili.com/video/BV1GJ411x7h7?p=3", "BV1GJ411x7h7", 3},
		{"https://www.bilibili.com/video/BV1GJ411x7h7/?spm_id_from=333.337&p=2", "BV1GJ411x7h7", 2},
		{"https://m.bilibili.com/video/BV1GJ411x7h7", "BV1GJ411x7h7", 1},
		{"https://player.bilibili.com/player.html?bvid=BV1GJ411x7h7&p=4", "BV1GJ411x7h7", 4},
	} {
		v, err := ExtractVideo(e.input)
		if a.NoError(err, e.input) {
			a.Equal(e.sourceID, v.SourceID, e.input)
			a.Equal(e.page, v.Page, e.input)
		}
	}
}

func TestExtractVideoInvalid(t *testing.T) {
	a := assert.New(t)

	for _, input := range []string{
		"",
		"BV1GJ411x7h",
		"av170001",
		"https://www.bilibili.com/read/cv12345",
		"https://www.bilibili.com/video/av170001",
		"https://www.bilibili.com/video/BV1GJ411x7h7?p=0",
		"https://www.bilibili.com/video/BV1GJ411x7h7?p=two",
		"https://www.youtube.com/watch?v=dQw4w9WgXcQ",
	} {
		_, err := ExtractVideo(input)
		a.Error(err, input)
	}
}

func TestExtractVideos(t *testing.T) {
	a := assert.New(t)

	text := "BV1GJ411x7h7 junk https://www.bilibili.com/video/BV1xx411c7mD?p=2"

	videos, err := ExtractVideos(text, true)
	a.NoError(err)
	if a.Len(videos, 2) {
		a.Equal("BV1GJ411x7h7", videos[0].SourceID)
		a.Equal(2, videos[1].Page)
	}

	_, err = ExtractVideos(text, false)
	a.Error(err)
}
