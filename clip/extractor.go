package clip

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/onnwee/clip-surge/backend/telemetry"
)

const (
	resolveTimeout = 15 * time.Second
	extractTimeout = 60 * time.Second

	minClipSeconds = 10
	maxClipSeconds = 15
)

// Extractor cuts short clips from a channel's live stream.
type Extractor struct {
	runner  Runner
	clipDir string
	now     func() time.Time
	randInt func(n int) int
}

// NewExtractor builds an Extractor writing into clipDir.
func NewExtractor(runner Runner, clipDir string) *Extractor {
	return &Extractor{
		runner:  runner,
		clipDir: clipDir,
		now:     time.Now,
		randInt: rand.Intn,
	}
}

// ResolveStreamURL asks streamlink for the direct HLS URL of a channel's live
// stream. Fails when the channel is offline.
func (e *Extractor) ResolveStreamURL(ctx context.Context, channel string) (string, error) {
	var out []byte
	var err error
	telemetry.TimeFunc(telemetry.ResolveDuration, func() {
		out, err = e.runner.Run(ctx, resolveTimeout,
			"streamlink", "https://twitch.tv/"+channel, "best", "--stream-url")
	})
	if err != nil {
		return "", fmt.Errorf("resolve stream url for %s: %w", channel, err)
	}
	url := strings.TrimSpace(string(out))
	if url == "" {
		return "", fmt.Errorf("resolve stream url for %s: empty streamlink output", channel)
	}
	return url, nil
}

// Result describes a successfully extracted clip file.
type Result struct {
	Path     string
	Filename string
	Duration int
	SizeMB   float64
}

// Extract records a clip of random duration from the stream URL. The ordinal
// names the output file together with a wall-clock timestamp.
func (e *Extractor) Extract(ctx context.Context, streamURL string, ordinal int) (Result, error) {
	if err := os.MkdirAll(e.clipDir, 0o755); err != nil {
		return Result{}, fmt.Errorf("create clip dir: %w", err)
	}

	duration := minClipSeconds + e.randInt(maxClipSeconds-minClipSeconds+1)
	filename := fmt.Sprintf("VIRAL_CLIP_%d_%s.mp4", ordinal, e.now().Format("150405"))
	outPath := filepath.Join(e.clipDir, filename)

	var err error
	telemetry.TimeFunc(telemetry.ExtractDuration, func() {
		_, err = e.runner.Run(ctx, extractTimeout, "ffmpeg",
			"-i", streamURL,
			"-t", strconv.Itoa(duration),
			"-c:v", "libx264",
			"-preset", "ultrafast",
			"-crf", "23",
			"-c:a", "aac",
			"-ac", "2",
			"-ar", "44100",
			"-avoid_negative_ts", "make_zero",
			"-y",
			outPath)
	})
	if err != nil {
		return Result{}, fmt.Errorf("extract clip: %w", err)
	}

	var sizeMB float64
	if info, statErr := os.Stat(outPath); statErr == nil {
		sizeMB = float64(info.Size()) / (1024 * 1024)
	} else {
		slog.Warn("stat extracted clip", "path", outPath, "error", statErr)
	}

	return Result{Path: outPath, Filename: filename, Duration: duration, SizeMB: sizeMB}, nil
}
