package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/onnwee/clip-surge/backend/clip"
	"github.com/onnwee/clip-surge/backend/enrich"
)

// fakeClock advances only when the scripted stream says so.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type step struct {
	frame   string
	err     error
	advance time.Duration
}

// fakeStream plays back scripted frames, advancing the clock per step. When
// drained it invokes onDrain (typically engine.Stop) and returns EOF.
type fakeStream struct {
	mu      sync.Mutex
	steps   []step
	clock   *fakeClock
	wrote   []string
	closed  bool
	onDrain func()
}

func (f *fakeStream) ReadLine() (string, error) {
	f.mu.Lock()
	if len(f.steps) == 0 {
		drain := f.onDrain
		f.mu.Unlock()
		if drain != nil {
			drain()
		}
		return "", io.EOF
	}
	s := f.steps[0]
	f.steps = f.steps[1:]
	f.mu.Unlock()
	f.clock.Advance(s.advance)
	return s.frame, s.err
}

func (f *fakeStream) WriteLine(line string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wrote = append(f.wrote, line)
	return nil
}

func (f *fakeStream) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

type fakeClipper struct {
	mu         sync.Mutex
	resolveErr error
	extractErr error
	resolves   int
	ordinals   []int
	// when set, Extract records the simulated time of each extraction
	now   func() time.Time
	times []time.Time
}

func (f *fakeClipper) ResolveStreamURL(context.Context, string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolves++
	if f.resolveErr != nil {
		return "", f.resolveErr
	}
	return "https://cdn.example/stream.m3u8", nil
}

func (f *fakeClipper) Extract(_ context.Context, _ string, ordinal int) (clip.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.extractErr != nil {
		return clip.Result{}, f.extractErr
	}
	f.ordinals = append(f.ordinals, ordinal)
	if f.now != nil {
		f.times = append(f.times, f.now())
	}
	return clip.Result{
		Path:     fmt.Sprintf("/tmp/VIRAL_CLIP_%d_120000.mp4", ordinal),
		Filename: fmt.Sprintf("VIRAL_CLIP_%d_120000.mp4", ordinal),
		Duration: 12,
		SizeMB:   1.5,
	}, nil
}

type fakeThumbs struct {
	mu      sync.Mutex
	loops   int
	genErr  error
	genned  []string
}

func (f *fakeThumbs) RefreshLoop(ctx context.Context, _, _ string) {
	f.mu.Lock()
	f.loops++
	f.mu.Unlock()
	<-ctx.Done()
}

func (f *fakeThumbs) Generate(_ context.Context, videoPath string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.genErr != nil {
		return "", f.genErr
	}
	f.genned = append(f.genned, videoPath)
	return "/tmp/thumbs/clip_thumb.jpg", nil
}

type fakeEnricher struct{}

func (fakeEnricher) Enhance(_ context.Context, in enrich.Input) enrich.Metadata {
	return enrich.Metadata{Title: "Enhanced " + in.Channel, EnhancedScore: in.ViralScore + 5}
}

func privMsg(text string) string {
	return ":viewer!viewer@viewer.tmi.twitch.tv PRIVMSG #somechannel :" + text + "\r\n"
}

type testEngine struct {
	engine  *Engine
	stream  *fakeStream
	clipper *fakeClipper
	thumbs  *fakeThumbs
	clock   *fakeClock
	sleeps  *[]time.Duration
	hub     *Hub
	dialErr []error
	dials   int
}

func newTestEngine(t *testing.T, steps []step) *testEngine {
	t.Helper()
	clock := newFakeClock()
	te := &testEngine{
		clock:   clock,
		stream:  &fakeStream{steps: steps, clock: clock},
		clipper: &fakeClipper{},
		thumbs:  &fakeThumbs{},
		hub:     NewHub(),
		sleeps:  &[]time.Duration{},
	}
	sess := New("sess-1", "user-1", "somechannel")
	dial := func(context.Context, string) (ChatStream, error) {
		te.dials++
		if len(te.dialErr) > 0 {
			err := te.dialErr[0]
			te.dialErr = te.dialErr[1:]
			if err != nil {
				return nil, err
			}
		}
		return te.stream, nil
	}
	cfg := Config{
		VelocityThreshold: 5,
		EnergyThreshold:   5,
		Cooldown:          30 * time.Second,
		RevenuePerClip:    15.50,
		PublicBaseURL:     "http://localhost:8080",
	}
	e := NewEngine(sess, cfg, dial, te.clipper, te.thumbs, fakeEnricher{}, nil, nil, te.hub)
	e.now = clock.Now
	e.sleep = func(_ context.Context, d time.Duration) {
		*te.sleeps = append(*te.sleeps, d)
	}
	te.engine = e
	te.stream.onDrain = e.Stop
	return te
}

func TestEngineTriggersOnVelocity(t *testing.T) {
	var steps []step
	// six messages inside the first second, then one crossing the tick boundary
	for i := 0; i < 6; i++ {
		steps = append(steps, step{frame: privMsg("hello there"), advance: 100 * time.Millisecond})
	}
	steps = append(steps, step{frame: privMsg("gg"), advance: 500 * time.Millisecond})

	te := newTestEngine(t, steps)
	sub := &recordingSub{}
	te.hub.Subscribe("sess-1", sub)

	if err := te.engine.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	snap := te.engine.Session().Snapshot()
	if snap.ClipsGenerated != 1 {
		t.Fatalf("clips_generated = %d, want 1", snap.ClipsGenerated)
	}
	if snap.Revenue != 15.50 {
		t.Errorf("revenue = %g, want 15.50", snap.Revenue)
	}
	if snap.ChatSpeed != 7 {
		t.Errorf("chat_speed = %d, want 7", snap.ChatSpeed)
	}
	if snap.Status != StatusStopped {
		t.Errorf("status = %q, want stopped", snap.Status)
	}
	if len(te.clipper.ordinals) != 1 || te.clipper.ordinals[0] != 1 {
		t.Errorf("extract ordinals = %v, want [1]", te.clipper.ordinals)
	}

	var sawUpdate, sawClip bool
	for _, ev := range sub.events {
		switch ev.Type {
		case "session_update":
			sawUpdate = true
		case "clip_generated":
			sawClip = true
			data := ev.Data.(ClipData)
			if data.Clip.ChatVelocity != 7 {
				t.Errorf("clip velocity = %d, want 7", data.Clip.ChatVelocity)
			}
			if data.Clip.Title != "Enhanced somechannel" {
				t.Errorf("clip title = %q", data.Clip.Title)
			}
		}
	}
	if !sawUpdate || !sawClip {
		t.Errorf("events = update:%v clip:%v, want both", sawUpdate, sawClip)
	}

	var cooldowns int
	for _, d := range *te.sleeps {
		if d == 30*time.Second {
			cooldowns++
		}
	}
	if cooldowns != 1 {
		t.Errorf("cooldown sleeps = %d, want 1", cooldowns)
	}
}

func TestEngineNoTriggerBelowThresholds(t *testing.T) {
	var steps []step
	for i := 0; i < 3; i++ {
		steps = append(steps, step{frame: privMsg("calm chat message"), advance: 400 * time.Millisecond})
	}
	te := newTestEngine(t, steps)

	if err := te.engine.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	snap := te.engine.Session().Snapshot()
	if snap.ClipsGenerated != 0 {
		t.Errorf("clips_generated = %d, want 0", snap.ClipsGenerated)
	}
	if len(te.clipper.ordinals) != 0 {
		t.Errorf("extractions = %v, want none", te.clipper.ordinals)
	}
}

func TestEngineEnergyTrigger(t *testing.T) {
	// low velocity but hype content: 3 messages scoring well past the threshold
	steps := []step{
		{frame: privMsg("OMEGALUL!!!"), advance: 300 * time.Millisecond},
		{frame: privMsg("bruh"), advance: 300 * time.Millisecond},
		{frame: privMsg("LMAO INSANE"), advance: 600 * time.Millisecond},
	}
	te := newTestEngine(t, steps)

	if err := te.engine.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	snap := te.engine.Session().Snapshot()
	if snap.ClipsGenerated != 1 {
		t.Fatalf("clips_generated = %d, want 1", snap.ClipsGenerated)
	}
	if snap.ViralScore != 20.5 {
		t.Errorf("viral_score = %g, want 20.5", snap.ViralScore)
	}
}

func TestEngineExtractionFailureLeavesCountersUntouched(t *testing.T) {
	var steps []step
	for i := 0; i < 6; i++ {
		steps = append(steps, step{frame: privMsg("msg"), advance: 200 * time.Millisecond})
	}
	te := newTestEngine(t, steps)
	te.clipper.extractErr = errors.New("ffmpeg failed")

	if err := te.engine.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	snap := te.engine.Session().Snapshot()
	if snap.ClipsGenerated != 0 {
		t.Errorf("clips_generated = %d, want 0 after failed extraction", snap.ClipsGenerated)
	}
	if snap.Revenue != 0 {
		t.Errorf("revenue = %g, want 0", snap.Revenue)
	}
	// the trigger still fired and still costs the cooldown
	var cooldowns int
	for _, d := range *te.sleeps {
		if d == 30*time.Second {
			cooldowns++
		}
	}
	if cooldowns != 1 {
		t.Errorf("cooldown sleeps = %d, want 1", cooldowns)
	}
}

func TestEngineWindowCap(t *testing.T) {
	// 40 bang messages in one tick: velocity counts all, energy sees only 30
	var steps []step
	for i := 0; i < 40; i++ {
		steps = append(steps, step{frame: privMsg("!")})
	}
	steps = append(steps, step{frame: privMsg("!"), advance: 1100 * time.Millisecond})
	te := newTestEngine(t, steps)

	if err := te.engine.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	snap := te.engine.Session().Snapshot()
	if snap.ChatSpeed != 41 {
		t.Errorf("chat_speed = %d, want 41", snap.ChatSpeed)
	}
	if snap.ViralScore != 45 {
		t.Errorf("viral_score = %g, want 45 from the capped window", snap.ViralScore)
	}
}

func TestEngineAnswersPing(t *testing.T) {
	steps := []step{
		{frame: "PING :tmi.twitch.tv\r\n"},
		{frame: privMsg("hi"), advance: 200 * time.Millisecond},
	}
	te := newTestEngine(t, steps)

	if err := te.engine.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	found := false
	for _, w := range te.stream.wrote {
		if w == "PONG :tmi.twitch.tv" {
			found = true
		}
	}
	if !found {
		t.Errorf("pong not sent, wrote %v", te.stream.wrote)
	}
}

func TestEngineReconnectFailureErrorsSession(t *testing.T) {
	steps := []step{
		{frame: privMsg("hi"), advance: 200 * time.Millisecond},
		{err: errors.New("connection reset")},
	}
	te := newTestEngine(t, steps)
	te.dialErr = []error{nil, errors.New("dial refused")} // first dial ok, reconnect fails

	err := te.engine.Run(context.Background())
	if err == nil {
		t.Fatal("expected error from failed reconnect")
	}
	if got := te.engine.Session().Status(); got != StatusError {
		t.Errorf("status = %q, want error", got)
	}
	// reconnect waited 5s before the attempt
	var waited bool
	for _, d := range *te.sleeps {
		if d == 5*time.Second {
			waited = true
		}
	}
	if !waited {
		t.Errorf("reconnect delay missing, sleeps %v", *te.sleeps)
	}
	if te.dials != 2 {
		t.Errorf("dials = %d, want 2", te.dials)
	}
}

func TestEngineReconnectSuccessContinues(t *testing.T) {
	te := newTestEngine(t, nil)
	first := &fakeStream{clock: te.clock, steps: []step{
		{frame: privMsg("hi"), advance: 200 * time.Millisecond},
		{err: errors.New("connection reset")},
	}}
	second := &fakeStream{clock: te.clock, steps: []step{
		{frame: privMsg("back"), advance: 1100 * time.Millisecond},
	}}
	second.onDrain = te.engine.Stop
	streams := []*fakeStream{first, second}
	te.engine.dial = func(context.Context, string) (ChatStream, error) {
		s := streams[0]
		streams = streams[1:]
		return s, nil
	}

	if err := te.engine.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !first.closed {
		t.Error("dropped connection was not closed")
	}
	snap := te.engine.Session().Snapshot()
	if snap.Status != StatusStopped {
		t.Errorf("status = %q, want stopped after recovered session", snap.Status)
	}
	// the counters reset across the reconnect: only the post-reconnect tick counts
	if snap.ChatSpeed != 1 {
		t.Errorf("chat_speed = %d, want 1", snap.ChatSpeed)
	}
}

func TestEngineCooldownSpacesTriggers(t *testing.T) {
	// velocity 6 every simulated second for 30 seconds
	var steps []step
	for tick := 0; tick < 30; tick++ {
		for i := 0; i < 5; i++ {
			steps = append(steps, step{frame: privMsg("spam")})
		}
		steps = append(steps, step{frame: privMsg("spam"), advance: time.Second})
	}
	te := newTestEngine(t, steps)
	te.clipper.now = te.clock.Now
	// cooldown waits consume simulated time like real sleeps would
	te.engine.sleep = func(_ context.Context, d time.Duration) {
		*te.sleeps = append(*te.sleeps, d)
		te.clock.Advance(d)
	}

	if err := te.engine.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	times := te.clipper.times
	if len(times) == 0 {
		t.Fatal("no triggers fired under sustained velocity")
	}
	inWindow := 0
	for _, ts := range times {
		if ts.Sub(times[0]) < 30*time.Second {
			inWindow++
		}
	}
	if inWindow != 1 {
		t.Errorf("triggers within 30s of the first = %d, want exactly 1", inWindow)
	}
	for i := 1; i < len(times); i++ {
		if gap := times[i].Sub(times[i-1]); gap < 30*time.Second {
			t.Errorf("trigger gap = %v, want >= 30s cooldown spacing", gap)
		}
	}
}

func TestEngineStopBeforeRunIsHonored(t *testing.T) {
	te := newTestEngine(t, []step{{frame: privMsg("hi")}})
	te.engine.Stop()
	if err := te.engine.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if te.dials != 0 {
		t.Errorf("dials = %d, want 0 after early stop", te.dials)
	}
	if got := te.engine.Session().Status(); got != StatusStopped {
		t.Errorf("status = %q, want stopped", got)
	}
}

func TestEngineStopIsIdempotent(t *testing.T) {
	te := newTestEngine(t, []step{{frame: privMsg("hi"), advance: 100 * time.Millisecond}})
	if err := te.engine.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	te.engine.Stop()
	te.engine.Stop()
	if got := te.engine.Session().Status(); got != StatusStopped {
		t.Errorf("status = %q, want stopped", got)
	}
}
