package session

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/onnwee/clip-surge/backend/chat"
	"github.com/onnwee/clip-surge/backend/clip"
	"github.com/onnwee/clip-surge/backend/enrich"
	"github.com/onnwee/clip-surge/backend/score"
	"github.com/onnwee/clip-surge/backend/telemetry"
)

const (
	windowCap      = 30
	tickInterval   = time.Second
	reconnectDelay = 5 * time.Second
)

// ChatStream is the subset of a chat connection the engine reads from.
type ChatStream interface {
	ReadLine() (string, error)
	WriteLine(line string) error
	Close() error
}

// Dialer opens a chat stream for a channel.
type Dialer func(ctx context.Context, channel string) (ChatStream, error)

// Clipper resolves a channel's stream URL and extracts clips from it.
type Clipper interface {
	ResolveStreamURL(ctx context.Context, channel string) (string, error)
	Extract(ctx context.Context, streamURL string, ordinal int) (clip.Result, error)
}

// Thumbnailer refreshes session previews and produces clip thumbnails.
type Thumbnailer interface {
	RefreshLoop(ctx context.Context, streamURL, sessionID string)
	Generate(ctx context.Context, videoPath string) (string, error)
}

// Enricher decorates a detected moment with audience-facing metadata.
type Enricher interface {
	Enhance(ctx context.Context, in enrich.Input) enrich.Metadata
}

// Uploader pushes clip artifacts to remote storage. Nil disables uploads.
type Uploader interface {
	UploadClip(ctx context.Context, sessionID, filePath string) (string, error)
	UploadThumbnail(ctx context.Context, sessionID, filePath string) (string, error)
}

// Store persists session counters and clip records. Nil disables persistence.
type Store interface {
	UpdateSessionStats(ctx context.Context, sessionID, status string, chatSpeed int, viralScore float64, clips int, revenue float64) error
	SaveClip(ctx context.Context, sess Snapshot, c Clip) (string, error)
}

// Config carries the detection thresholds and payout settings.
type Config struct {
	VelocityThreshold int
	EnergyThreshold   float64
	Cooldown          time.Duration
	RevenuePerClip    float64
	PublicBaseURL     string
}

// Engine drives one session's monitoring loop.
type Engine struct {
	sess *Session
	cfg  Config

	dial     Dialer
	clipper  Clipper
	thumbs   Thumbnailer
	enricher Enricher
	uploader Uploader
	store    Store
	hub      *Hub

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration)

	running  atomic.Bool
	stopped  atomic.Bool
	ctlMu    sync.Mutex
	cancel   context.CancelFunc
	momentMu sync.Mutex
	ordinal  int
}

// NewEngine wires a monitoring engine for a session.
func NewEngine(sess *Session, cfg Config, dial Dialer, clipper Clipper, thumbs Thumbnailer, enricher Enricher, uploader Uploader, store Store, hub *Hub) *Engine {
	return &Engine{
		sess:     sess,
		cfg:      cfg,
		dial:     dial,
		clipper:  clipper,
		thumbs:   thumbs,
		enricher: enricher,
		uploader: uploader,
		store:    store,
		hub:      hub,
		now:      time.Now,
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

// Session returns the engine's session.
func (e *Engine) Session() *Session { return e.sess }

// Stop requests a cooperative shutdown. The monitor loop exits after its
// current read and the session moves to stopped unless it already errored.
// The request is sticky: a stop that lands before Run begins prevents the
// monitor from ever starting.
func (e *Engine) Stop() {
	if e.stopped.Swap(true) {
		return
	}
	e.ctlMu.Lock()
	cancel := e.cancel
	e.ctlMu.Unlock()
	if cancel != nil {
		cancel()
	}
	if e.sess.Status() != StatusError {
		e.sess.SetStatus(StatusStopped)
	}
	e.persistStats(context.Background())
	slog.Info("session stopped", "session_id", e.sess.ID(), "channel", e.sess.Channel())
}

// Run connects to chat and monitors until Stop is called or the connection
// dies beyond recovery. It blocks; callers run it in a goroutine.
func (e *Engine) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.ctlMu.Lock()
	e.cancel = cancel
	stopRequested := e.stopped.Load()
	e.ctlMu.Unlock()
	if stopRequested {
		return nil
	}

	e.running.Store(true)
	defer e.running.Store(false)
	e.sess.SetStatus(StatusActive)

	conn, err := e.dial(ctx, e.sess.Channel())
	if err != nil {
		if e.stopped.Load() {
			e.sess.SetStatus(StatusStopped)
			return nil
		}
		e.sess.SetStatus(StatusError)
		return fmt.Errorf("connect chat for %s: %w", e.sess.Channel(), err)
	}
	defer func() { _ = conn.Close() }()

	e.startThumbnails(ctx)

	slog.Info("viral monitoring started", "session_id", e.sess.ID(), "channel", e.sess.Channel())
	return e.monitor(ctx, conn)
}

// startThumbnails resolves the stream once and launches the preview refresher.
// A resolve failure (offline channel) skips thumbnails without failing the session.
func (e *Engine) startThumbnails(ctx context.Context) {
	streamURL, err := e.clipper.ResolveStreamURL(ctx, e.sess.Channel())
	if err != nil {
		slog.Warn("stream thumbnail unavailable", "session_id", e.sess.ID(), "error", err)
		return
	}
	go e.thumbs.RefreshLoop(ctx, streamURL, e.sess.ID())
}

func (e *Engine) monitor(ctx context.Context, conn ChatStream) error {
	// closing the connection on cancellation unblocks a pending ReadLine
	watch := func(c ChatStream) {
		go func() {
			<-ctx.Done()
			_ = c.Close()
		}()
	}
	watch(conn)

	window := make([]string, 0, windowCap)
	msgCount := 0
	tickStart := e.now()

	for !e.stopped.Load() {
		frame, err := conn.ReadLine()
		if err != nil {
			if e.stopped.Load() {
				break
			}
			reconn, rerr := e.reconnect(ctx)
			if rerr != nil {
				e.sess.SetStatus(StatusError)
				e.persistStats(ctx)
				return fmt.Errorf("chat connection lost for %s: %w", e.sess.Channel(), rerr)
			}
			_ = conn.Close()
			conn = reconn
			watch(conn)
			e.sess.SetStatus(StatusActive)
			msgCount = 0
			window = window[:0]
			tickStart = e.now()
			continue
		}

		for _, line := range chat.Lines(frame) {
			if chat.IsPing(line) {
				if err := conn.WriteLine(chat.PongLine); err != nil {
					slog.Warn("pong failed", "session_id", e.sess.ID(), "error", err)
				}
				continue
			}
			if _, text, ok := chat.ParsePrivMsg(line); ok {
				msgCount++
				window = append(window, text)
				if len(window) > windowCap {
					window = window[1:]
				}
			}
		}

		if e.now().Sub(tickStart) >= tickInterval {
			velocity := msgCount
			energy := score.Energy(window)

			e.sess.UpdateStats(velocity, energy)
			e.persistStats(ctx)
			e.hub.Publish(e.sess.ID(), UpdateEvent(e.sess.Snapshot()))

			if velocity >= e.cfg.VelocityThreshold || energy >= e.cfg.EnergyThreshold {
				moment := make([]string, len(window))
				copy(moment, window)
				e.handleMoment(ctx, velocity, energy, moment)
				e.sleep(ctx, e.cfg.Cooldown)
			}

			msgCount = 0
			window = window[:0]
			tickStart = e.now()
		}
	}

	if e.sess.Status() == StatusActive {
		e.sess.SetStatus(StatusStopped)
	}
	e.persistStats(ctx)
	return nil
}

// reconnect waits out the drop and retries the chat connection once.
func (e *Engine) reconnect(ctx context.Context) (ChatStream, error) {
	slog.Warn("chat connection dropped, reconnecting", "session_id", e.sess.ID(), "channel", e.sess.Channel())
	e.sleep(ctx, reconnectDelay)
	if e.stopped.Load() {
		return nil, context.Canceled
	}
	telemetry.Inc(telemetry.ChatReconnects)
	return e.dial(ctx, e.sess.Channel())
}

// handleMoment runs the trigger protocol: enrich, resolve, extract, thumbnail,
// upload, persist, broadcast. Counters only move on a confirmed clip file.
func (e *Engine) handleMoment(ctx context.Context, velocity int, energy float64, messages []string) {
	e.momentMu.Lock()
	defer e.momentMu.Unlock()
	e.ordinal++
	telemetry.Inc(telemetry.TriggersFired)
	logger := slog.With("session_id", e.sess.ID(), "channel", e.sess.Channel(), "trigger", e.ordinal)
	logger.Info("viral moment detected", "velocity", velocity, "energy", energy)

	md := e.enricher.Enhance(ctx, enrich.Input{
		Channel:      e.sess.Channel(),
		Messages:     lastN(messages, 10),
		ViralScore:   energy,
		ChatVelocity: velocity,
	})

	streamURL, err := e.clipper.ResolveStreamURL(ctx, e.sess.Channel())
	if err != nil {
		telemetry.Inc(telemetry.ClipsFailed)
		logger.Error("clip skipped, stream unavailable", "error", err)
		return
	}
	res, err := e.clipper.Extract(ctx, streamURL, e.ordinal)
	if err != nil {
		telemetry.Inc(telemetry.ClipsFailed)
		logger.Error("clip extraction failed", "error", err)
		return
	}
	telemetry.Inc(telemetry.ClipsCreated)

	c := Clip{
		Filename:      res.Filename,
		CreatedAt:     e.now(),
		Revenue:       e.cfg.RevenuePerClip,
		SizeMB:        res.SizeMB,
		Duration:      res.Duration,
		ViralMessages: lastN(messages, 5),
		ChatVelocity:  velocity,
		ViralScore:    md.EnhancedScore,
		Title:         md.Title,
		Hashtags:      md.Hashtags,
	}

	thumbPath, err := e.thumbs.Generate(ctx, res.Path)
	if err != nil {
		logger.Warn("clip thumbnail failed", "error", err)
	} else {
		c.ThumbnailURL = e.serveURL("/api/serve-thumbnail/", filepath.Base(thumbPath))
	}

	if e.uploader != nil {
		if url, upErr := e.uploader.UploadClip(ctx, e.sess.ID(), res.Path); upErr != nil {
			telemetry.Inc(telemetry.UploadsFailed)
			logger.Warn("clip upload failed", "error", upErr)
		} else {
			telemetry.Inc(telemetry.UploadsSucceeded)
			c.StorageURL = url
		}
		if thumbPath != "" {
			if _, upErr := e.uploader.UploadThumbnail(ctx, e.sess.ID(), thumbPath); upErr != nil {
				telemetry.Inc(telemetry.UploadsFailed)
				logger.Warn("thumbnail upload failed", "error", upErr)
			}
		}
	}

	if e.store != nil {
		id, stErr := e.store.SaveClip(ctx, e.sess.Snapshot(), c)
		if stErr != nil {
			logger.Warn("clip persistence failed", "error", stErr)
		} else {
			c.ID = id
		}
	}

	e.sess.AddClip(c)
	e.persistStats(ctx)
	e.hub.Publish(e.sess.ID(), ClipEvent(e.sess.ID(), c))
	logger.Info("clip created", "filename", c.Filename, "duration", c.Duration, "revenue", c.Revenue)
}

// CreateClipNow runs the trigger protocol outside the monitor loop, flooring
// the session's current counters to plausible values.
func (e *Engine) CreateClipNow(ctx context.Context) error {
	if !e.running.Load() {
		return fmt.Errorf("session %s is not active", e.sess.ID())
	}
	snap := e.sess.Snapshot()
	velocity := max(snap.ChatSpeed, 10)
	energy := max(snap.ViralScore, 15)
	before := snap.ClipsGenerated
	e.handleMoment(ctx, velocity, energy, []string{"MANUAL CLIP", "POGGERS", "CLIP IT", "INSANE"})
	if e.sess.Snapshot().ClipsGenerated == before {
		return fmt.Errorf("manual clip creation failed for %s", e.sess.ID())
	}
	return nil
}

// persistStats writes session counters to the store, best effort.
func (e *Engine) persistStats(ctx context.Context) {
	if e.store == nil {
		return
	}
	snap := e.sess.Snapshot()
	if err := e.store.UpdateSessionStats(ctx, snap.SessionID, string(snap.Status), snap.ChatSpeed, snap.ViralScore, snap.ClipsGenerated, snap.Revenue); err != nil {
		slog.Warn("session stats persistence failed", "session_id", snap.SessionID, "error", err)
	}
}

func (e *Engine) serveURL(route, name string) string {
	return strings.TrimSuffix(e.cfg.PublicBaseURL, "/") + route + name
}

func lastN(items []string, n int) []string {
	if len(items) <= n {
		out := make([]string, len(items))
		copy(out, items)
		return out
	}
	out := make([]string, n)
	copy(out, items[len(items)-n:])
	return out
}
