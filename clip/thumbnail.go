package clip

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/onnwee/clip-surge/backend/telemetry"
)

const (
	thumbTimeout        = 30 * time.Second
	thumbCycleDelay     = 3 * time.Second
	thumbRetryDelay     = 2 * time.Second
	thumbTimeoutDelay   = 5 * time.Second
	thumbBackoffDelay   = 30 * time.Second
	thumbMaxAttempts    = 3
	thumbFailureCeiling = 3

	thumbFreshness = time.Hour
)

// Thumbnailer produces and refreshes 320x180 JPEG previews.
type Thumbnailer struct {
	runner   Runner
	thumbDir string
	sleep    func(ctx context.Context, d time.Duration)
}

// NewThumbnailer builds a Thumbnailer writing into thumbDir.
func NewThumbnailer(runner Runner, thumbDir string) *Thumbnailer {
	return &Thumbnailer{
		runner:   runner,
		thumbDir: thumbDir,
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// RefreshLoop updates a session's live-stream thumbnail until ctx is done.
// Each cycle seeks a rotating frame so the preview animates between refreshes.
func (t *Thumbnailer) RefreshLoop(ctx context.Context, streamURL, sessionID string) {
	if err := os.MkdirAll(t.thumbDir, 0o755); err != nil {
		slog.Error("create thumbnail dir", "error", err)
		return
	}

	finalPath := filepath.Join(t.thumbDir, sessionID+"_session_thumb.jpg")
	tempPath := filepath.Join(t.thumbDir, sessionID+"_session_temp.jpg")

	frame := 0
	failures := 0
	for ctx.Err() == nil {
		seek := (frame % 10) + 1
		ok := false
		for attempt := 0; attempt < thumbMaxAttempts && ctx.Err() == nil; attempt++ {
			_, err := t.runner.Run(ctx, thumbTimeout, "ffmpeg",
				"-i", streamURL,
				"-ss", fmt.Sprint(seek),
				"-vframes", "1",
				"-vf", "scale=320:180",
				"-threads", "2",
				"-preset", "ultrafast",
				"-y",
				tempPath)
			if err == nil {
				if renameErr := os.Rename(tempPath, finalPath); renameErr == nil {
					ok = true
					failures = 0
					break
				}
			}
			if attempt < thumbMaxAttempts-1 {
				delay := thumbRetryDelay
				if err != nil && ctx.Err() == nil && isTimeout(err) {
					delay = thumbTimeoutDelay
				}
				t.sleep(ctx, delay)
			}
		}
		if !ok {
			failures++
			telemetry.Inc(telemetry.ThumbnailFailures)
			slog.Warn("thumbnail refresh failed", "session_id", sessionID, "consecutive", failures)
		}

		if failures >= thumbFailureCeiling {
			t.sleep(ctx, thumbBackoffDelay)
			failures = 0
		} else {
			frame++
			t.sleep(ctx, thumbCycleDelay)
		}
	}
}

func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "timed out")
}

// Generate produces a thumbnail from a recorded clip file if none fresh
// enough exists. Returns the thumbnail path.
func (t *Thumbnailer) Generate(ctx context.Context, videoPath string) (string, error) {
	base := filepath.Base(videoPath)
	thumbPath := filepath.Join(t.thumbDir, base[:len(base)-len(filepath.Ext(base))]+"_thumb.jpg")

	if info, err := os.Stat(thumbPath); err == nil && time.Since(info.ModTime()) < thumbFreshness {
		return thumbPath, nil
	}
	if err := os.MkdirAll(t.thumbDir, 0o755); err != nil {
		return "", fmt.Errorf("create thumbnail dir: %w", err)
	}

	_, err := t.runner.Run(ctx, thumbTimeout, "ffmpeg",
		"-i", videoPath,
		"-ss", "1",
		"-vframes", "1",
		"-vf", "scale=320:180",
		"-pix_fmt", "yuvj420p",
		"-q:v", "2",
		"-y",
		thumbPath)
	if err != nil {
		return "", fmt.Errorf("generate thumbnail: %w", err)
	}
	return thumbPath, nil
}
