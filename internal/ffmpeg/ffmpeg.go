package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"
)

type ProgressCallback func(progress int)

// ConvertToMP3 re-encodes any media file to mp3, dropping video streams.
func ConvertToMP3(ctx context.Context, inputFile, outputFile string) (string, error) {
	return ConvertToMP3WithProgress(ctx, inputFile, outputFile, nil)
}

func ConvertToMP3WithProgress(ctx context.Context, inputFile, outputFile string, progressCallback ProgressCallback) (string, error) {
	cmd := exec.CommandContext(
		ctx, "ffmpeg",
		"-y",
		"-progress", "pipe:1",
		"-loglevel", "warning",
		"-i", inputFile,
		"-vn",
		"-c:a", "libmp3lame",
		"-q:a", "2",
		outputFile,
	)

	if progressCallback == nil {
		var buf bytes.Buffer
		cmd.Stdin = nil
		cmd.Stdout = &buf
		cmd.Stderr = &buf

		if err := cmd.Run(); err != nil {
			return buf.String(), fmt.Errorf("ffmpeg.ConvertToMP3: %w", err)
		}

		return buf.String(), nil
	}

	duration, err := getMediaDuration(ctx, inputFile)
	if err != nil {
		return "", fmt.Errorf("ffmpeg.ConvertToMP3: could not get duration: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("ffmpeg.ConvertToMP3: could not create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return "", fmt.Errorf("ffmpeg.ConvertToMP3: could not create stderr pipe: %w", err)
	}

	var output bytes.Buffer

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("ffmpeg.ConvertToMP3: could not start: %w", err)
	}

	go func() {
		scanner := bufio.NewScanner(stdout)
		timePattern := regexp.MustCompile(`out_time_ms=(\d+)`)

		for scanner.Scan() {
			line := scanner.Text()
			if matches := timePattern.FindStringSubmatch(line); len(matches) > 1 {
				if timeMicros, err := strconv.ParseInt(matches[1], 10, 64); err == nil {
					currentTime := time.Duration(timeMicros) * time.Microsecond
					if duration > 0 {
						progress := int((currentTime.Seconds() / duration.Seconds()) * 100)
						if progress > 100 {
							progress = 100
						}
						if progress >= 0 {
							progressCallback(progress)
						}
					}
				}
			}
		}
	}()

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			output.WriteString(scanner.Text() + "\n")
		}
	}()

	if err := cmd.Wait(); err != nil {
		return output.String(), fmt.Errorf("ffmpeg.ConvertToMP3: %w", err)
	}

	return output.String(), nil
}

func getMediaDuration(ctx context.Context, inputFile string) (time.Duration, error) {
	cmd := exec.CommandContext(
		ctx, "ffprobe",
		"-v", "quiet",
		"-show_entries", "format=duration",
		"-of", "csv=p=0",
		inputFile,
	)

	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("failed to get duration: %w", err)
	}

	durationStr := strings.TrimSpace(string(output))
	if durationSeconds, err := strconv.ParseFloat(durationStr, 64); err == nil {
		return time.Duration(durationSeconds * float64(time.Second)), nil
	}

	return 0, fmt.Errorf("failed to parse duration: %s", durationStr)
}
