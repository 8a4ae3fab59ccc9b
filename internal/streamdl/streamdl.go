// Package streamdl shells out to yt-dlp for audio downloads. The playurl
// API covers live playback; downloads go through yt-dlp because it handles
// the CDN handshake and retries on its own.
package streamdl

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
)

const (
	ProgramName = "yt-dlp"
)

func makeProcess(ctx context.Context, args []string) *exec.Cmd {
	return exec.CommandContext(ctx, ProgramName, args...)
}

func runCommandAndGetJSON(ctx context.Context, args []string, output interface{}) error {
	stdout, err := makeProcess(ctx, args).Output()
	if err != nil {
		return err
	}

	if err := json.Unmarshal(stdout, output); err != nil {
		return fmt.Errorf("failed to unmarshal json: %w", err)
	}

	return nil
}

func runCommand(ctx context.Context, args []string) error {
	if _, err := makeProcess(ctx, args).Output(); err != nil {
		return err
	}

	return nil
}

func videoURL(sourceID string, page int) string {
	u := "https://www.bilibili.com/video/" + sourceID
	if page > 1 {
		u += "?p=" + strconv.Itoa(page)
	}
	return u
}

// Info is the slice of yt-dlp's metadata dump that the download pipeline
// cares about.
type Info struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	Duration float64 `json:"duration"`
	Ext      string  `json:"ext"`
	Uploader string  `json:"uploader"`
}

func GetInfo(ctx context.Context, sourceID string, page int) (*Info, error) {
	var info Info
	if err := runCommandAndGetJSON(ctx, []string{
		"-J",
		"--no-download",
		videoURL(sourceID, page),
	}, &info); err != nil {
		return nil, fmt.Errorf("failed to get info: %w", err)
	}

	return &info, nil
}

func DownloadAudio(ctx context.Context, sourceID string, page int, outputFile string) error {
	if err := runCommand(ctx, []string{
		"-f", "bestaudio/best",
		"-o", outputFile,
		videoURL(sourceID, page),
	}); err != nil {
		return fmt.Errorf("failed to download audio: %w", err)
	}

	return nil
}
