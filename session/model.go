// Package session holds the viral monitoring engine: per-channel sessions
// that watch chat velocity and energy and cut clips when a moment spikes.
package session

import (
	"sync"
	"time"
)

// Status is a session lifecycle state.
type Status string

const (
	StatusActive  Status = "active"
	StatusError   Status = "error"
	StatusStopped Status = "stopped"
)

// Clip is the in-memory clip record broadcast to live subscribers and served
// by the clips endpoints.
type Clip struct {
	ID            string    `json:"id"`
	Filename      string    `json:"filename"`
	CreatedAt     time.Time `json:"created_at"`
	Revenue       float64   `json:"revenue"`
	SizeMB        float64   `json:"size_mb"`
	Duration      int       `json:"duration"`
	ViralMessages []string  `json:"viral_messages"`
	ChatVelocity  int       `json:"chat_velocity"`
	ViralScore    float64   `json:"viral_score"`
	ThumbnailURL  string    `json:"thumbnail_url,omitempty"`
	StorageURL    string    `json:"storage_url,omitempty"`
	Title         string    `json:"title,omitempty"`
	Hashtags      []string  `json:"hashtags,omitempty"`
}

// Snapshot is a point-in-time copy of session counters, safe to serialize.
type Snapshot struct {
	SessionID      string  `json:"session_id"`
	UserID         string  `json:"user_id"`
	Channel        string  `json:"channel"`
	Status         Status  `json:"status"`
	ChatSpeed      int     `json:"chat_speed"`
	ViralScore     float64 `json:"viral_score"`
	ClipsGenerated int     `json:"clips_generated"`
	Revenue        float64 `json:"revenue"`
	CreatedAt      string  `json:"created_at"`
	LastUpdated    string  `json:"last_updated"`
}

// Session tracks one channel's monitoring state. All mutation goes through
// methods so concurrent readers (HTTP handlers, the hub) see consistent data.
type Session struct {
	mu sync.Mutex

	sessionID string
	userID    string
	channel   string

	status         Status
	createdAt      time.Time
	lastUpdated    time.Time
	chatSpeed      int
	viralScore     float64
	clipsGenerated int
	revenue        float64
	clips          []Clip
}

// New builds an active session for a channel.
func New(sessionID, userID, channel string) *Session {
	now := time.Now()
	return &Session{
		sessionID:   sessionID,
		userID:      userID,
		channel:     channel,
		status:      StatusActive,
		createdAt:   now,
		lastUpdated: now,
	}
}

func (s *Session) ID() string      { return s.sessionID }
func (s *Session) UserID() string  { return s.userID }
func (s *Session) Channel() string { return s.channel }

// Status returns the current lifecycle state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// SetStatus transitions the session state.
func (s *Session) SetStatus(st Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = st
	s.lastUpdated = time.Now()
}

// UpdateStats records the latest tick's velocity and energy.
func (s *Session) UpdateStats(chatSpeed int, viralScore float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chatSpeed = chatSpeed
	s.viralScore = viralScore
	s.lastUpdated = time.Now()
}

// AddClip appends a confirmed clip and bumps the session aggregates.
func (s *Session) AddClip(c Clip) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clips = append(s.clips, c)
	s.clipsGenerated++
	s.revenue += c.Revenue
	s.lastUpdated = time.Now()
}

// Clips returns a copy of the session's clips, newest last.
func (s *Session) Clips() []Clip {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Clip, len(s.clips))
	copy(out, s.clips)
	return out
}

// Snapshot returns a consistent copy of the session counters.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		SessionID:      s.sessionID,
		UserID:         s.userID,
		Channel:        s.channel,
		Status:         s.status,
		ChatSpeed:      s.chatSpeed,
		ViralScore:     s.viralScore,
		ClipsGenerated: s.clipsGenerated,
		Revenue:        s.revenue,
		CreatedAt:      s.createdAt.Format(time.RFC3339),
		LastUpdated:    s.lastUpdated.Format(time.RFC3339),
	}
}
