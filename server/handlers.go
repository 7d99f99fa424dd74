package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/clip-surge/backend/db"
	"github.com/onnwee/clip-surge/backend/session"
)

const tokenTTL = 30 * 24 * time.Hour

// Handlers holds the dependencies shared by HTTP handlers.
type Handlers struct {
	ctx      context.Context
	db       *sql.DB
	registry *session.Registry
	hub      *session.Hub

	newEngine func(sess *session.Session) *session.Engine
	clipDir   string
	thumbDir  string
	baseURL   string

	verifyToken func(ctx context.Context, token string) (string, error)
}

// NewHandlers creates handlers with their dependencies.
func NewHandlers(ctx context.Context, deps Deps) *Handlers {
	h := &Handlers{
		ctx:       ctx,
		db:        deps.DB,
		registry:  deps.Registry,
		hub:       deps.Hub,
		newEngine: deps.NewEngine,
		clipDir:   deps.ClipDir,
		thumbDir:  deps.ThumbDir,
		baseURL:   strings.TrimSuffix(deps.BaseURL, "/"),
	}
	h.verifyToken = func(ctx context.Context, token string) (string, error) {
		if h.db == nil {
			return "", fmt.Errorf("database unavailable")
		}
		return db.VerifyToken(ctx, h.db, token)
	}
	return h
}

// HandleHealth responds with service liveness and a timestamp.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// HandleHealthz is the liveness probe.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz reports readiness: the database must answer a ping.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.PingContext(ctx); err != nil {
			writeError(w, http.StatusServiceUnavailable, "database unreachable")
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
}

type userResponse struct {
	UserID         string  `json:"user_id"`
	Username       string  `json:"username"`
	Email          string  `json:"email"`
	Plan           string  `json:"plan"`
	ClipsGenerated int     `json:"clips_generated"`
	TotalRevenue   float64 `json:"total_revenue"`
	Token          string  `json:"token,omitempty"`
}

// HandleRegister creates a user account and issues a bearer token.
func (h *Handlers) HandleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.db == nil {
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil || req.Username == "" {
		writeError(w, http.StatusBadRequest, "username required")
		return
	}

	uid, err := db.CreateUser(r.Context(), h.db, req.Username, req.Email)
	if err != nil {
		writeError(w, http.StatusBadRequest, "registration failed")
		return
	}
	token, err := db.CreateToken(r.Context(), h.db, uid, tokenTTL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token issue failed")
		return
	}
	u, err := db.GetUser(r.Context(), h.db, uid)
	if err != nil || u == nil {
		writeError(w, http.StatusInternalServerError, "user lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, userToResponse(u, token))
}

type loginRequest struct {
	Username string `json:"username"`
}

// HandleLogin issues a fresh token for an existing username.
func (h *Handlers) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.db == nil {
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil || req.Username == "" {
		writeError(w, http.StatusBadRequest, "username required")
		return
	}
	u, err := db.GetUserByUsername(r.Context(), h.db, req.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "user lookup failed")
		return
	}
	if u == nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	token, err := db.CreateToken(r.Context(), h.db, u.UserID, tokenTTL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token issue failed")
		return
	}
	writeJSON(w, http.StatusOK, userToResponse(u, token))
}

// HandleMe returns the authenticated user's profile.
func (h *Handlers) HandleMe(w http.ResponseWriter, r *http.Request) {
	u, err := db.GetUser(r.Context(), h.db, userID(r.Context()))
	if err != nil || u == nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, userToResponse(u, ""))
}

func userToResponse(u *db.User, token string) userResponse {
	return userResponse{
		UserID:         u.UserID,
		Username:       u.Username,
		Email:          u.Email,
		Plan:           u.Plan,
		ClipsGenerated: u.ClipsGenerated,
		TotalRevenue:   u.TotalRevenue,
		Token:          token,
	}
}

type startMonitoringRequest struct {
	Channel string `json:"channel"`
}

// HandleStartMonitoring creates a session and launches its monitoring engine.
func (h *Handlers) HandleStartMonitoring(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req startMonitoringRequest
	if err := decodeJSON(r, &req); err != nil || req.Channel == "" {
		writeError(w, http.StatusBadRequest, "channel required")
		return
	}
	uid := userID(r.Context())

	var sessionID string
	if h.db != nil {
		id, err := db.CreateSession(r.Context(), h.db, uid, req.Channel)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "session create failed")
			return
		}
		sessionID = id
	} else {
		sessionID = uuid.New().String()
	}

	sess := session.New(sessionID, uid, req.Channel)
	eng := h.newEngine(sess)
	h.registry.Add(eng)

	go func() {
		if err := eng.Run(h.ctx); err != nil {
			slog.Error("monitoring session ended with error", "session_id", sessionID, "channel", req.Channel, "error", err)
		}
	}()

	slog.Info("monitoring started", "session_id", sessionID, "channel", req.Channel, "user_id", uid)
	writeJSON(w, http.StatusOK, map[string]string{"session_id": sessionID})
}

// HandleStopMonitoring stops a running session.
func (h *Handlers) HandleStopMonitoring(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	eng, ok := h.engineFromPath(w, r, "/api/stop-monitoring/")
	if !ok {
		return
	}
	eng.Stop()
	writeJSON(w, http.StatusOK, map[string]string{"message": "Monitoring stopped"})
}

// HandleCreateClipNow forces a manual clip on the caller's active sessions.
func (h *Handlers) HandleCreateClipNow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	uid := userID(r.Context())

	created := 0
	for _, eng := range h.registry.List() {
		sess := eng.Session()
		if sess.UserID() != uid || sess.Status() != session.StatusActive {
			continue
		}
		if err := eng.CreateClipNow(r.Context()); err != nil {
			slog.Error("manual clip failed", "session_id", sess.ID(), "error", err)
			continue
		}
		created++
	}
	if created == 0 {
		writeError(w, http.StatusNotFound, "no active sessions found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"clips_created": created,
		"message":       fmt.Sprintf("Created %d clip(s) manually", created),
	})
}

// HandleStatus returns a session's counters.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	eng, ok := h.engineFromPath(w, r, "/api/status/")
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, eng.Session().Snapshot())
}

// HandleSessionClips returns the in-memory clips of one session.
func (h *Handlers) HandleSessionClips(w http.ResponseWriter, r *http.Request) {
	eng, ok := h.engineFromPath(w, r, "/api/clips/")
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"clips": eng.Session().Clips()})
}

// HandleSessions lists every session with summary aggregates.
func (h *Handlers) HandleSessions(w http.ResponseWriter, r *http.Request) {
	engines := h.registry.List()
	sessions := make([]map[string]any, 0, len(engines))
	totalActive, totalClips := 0, 0
	totalRevenue := 0.0

	for _, eng := range engines {
		snap := eng.Session().Snapshot()
		clips := eng.Session().Clips()

		recent := clips
		if len(recent) > 5 {
			recent = recent[len(recent)-5:]
		}
		avgScore := 0.0
		if len(recent) > 0 {
			for _, c := range recent {
				avgScore += c.ViralScore
			}
			avgScore /= float64(len(recent))
		}

		sessions = append(sessions, map[string]any{
			"session_id":      snap.SessionID,
			"channel":         snap.Channel,
			"status":          snap.Status,
			"chat_speed":      snap.ChatSpeed,
			"viral_score":     snap.ViralScore,
			"clips_generated": snap.ClipsGenerated,
			"revenue":         snap.Revenue,
			"created_at":      snap.CreatedAt,
			"last_updated":    snap.LastUpdated,
			"recent_clips":    len(clips),
			"avg_viral_score": avgScore,
		})
		if snap.Status == session.StatusActive {
			totalActive++
		}
		totalClips += snap.ClipsGenerated
		totalRevenue += snap.Revenue
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sessions":      sessions,
		"total_active":  totalActive,
		"total_clips":   totalClips,
		"total_revenue": totalRevenue,
	})
}

// HandleStats returns platform-wide aggregates from the database.
func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	if h.db == nil {
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	stats, err := db.GetStats(r.Context(), h.db)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "stats query failed")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// HandleAllClips lists every clip with a file on disk, newest first. Falls
// back to a directory scan when no session data is available.
func (h *Handlers) HandleAllClips(w http.ResponseWriter, r *http.Request) {
	clips := make([]map[string]any, 0)

	for _, eng := range h.registry.List() {
		for _, c := range eng.Session().Clips() {
			if _, err := os.Stat(filepath.Join(h.clipDir, c.Filename)); err != nil {
				continue
			}
			clips = append(clips, map[string]any{
				"id":            c.ID,
				"filename":      c.Filename,
				"created_at":    c.CreatedAt.Format(time.RFC3339),
				"size_mb":       c.SizeMB,
				"duration":      c.Duration,
				"viral_score":   c.ViralScore,
				"revenue":       c.Revenue,
				"url":           h.baseURL + "/api/serve-clip/" + c.Filename,
				"thumbnail_url": c.ThumbnailURL,
			})
		}
	}

	if len(clips) == 0 {
		entries, err := filepath.Glob(filepath.Join(h.clipDir, "VIRAL_CLIP_*.mp4"))
		if err == nil {
			for _, path := range entries {
				info, statErr := os.Stat(path)
				if statErr != nil {
					continue
				}
				name := filepath.Base(path)
				clips = append(clips, map[string]any{
					"filename":   name,
					"created_at": info.ModTime().Format(time.RFC3339),
					"size_mb":    float64(info.Size()) / (1024 * 1024),
					"url":        h.baseURL + "/api/serve-clip/" + name,
				})
			}
		}
	}

	sort.Slice(clips, func(i, j int) bool {
		a, _ := clips[i]["created_at"].(string)
		b, _ := clips[j]["created_at"].(string)
		return a > b
	})

	total := len(clips)
	if limit := parseIntQuery(r, "limit", 0); limit > 0 && len(clips) > limit {
		clips = clips[:limit]
	}
	writeJSON(w, http.StatusOK, map[string]any{"clips": clips, "total": total})
}

// HandleServeClip streams a clip file.
func (h *Handlers) HandleServeClip(w http.ResponseWriter, r *http.Request) {
	h.serveFile(w, r, h.clipDir, "/api/serve-clip/", "")
}

// HandleServeThumbnail streams a thumbnail with cache headers. Thumbnails
// change rarely, so clients may cache them for an hour.
func (h *Handlers) HandleServeThumbnail(w http.ResponseWriter, r *http.Request) {
	name, ok := fileFromPath(w, r, "/api/serve-thumbnail/")
	if !ok {
		return
	}
	path := filepath.Join(h.thumbDir, name)
	info, err := os.Stat(path)
	if err != nil {
		writeError(w, http.StatusNotFound, "thumbnail not found")
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=3600, immutable")
	w.Header().Set("ETag", fmt.Sprintf(`"%d"`, info.ModTime().Unix()))
	w.Header().Set("Content-Type", "image/jpeg")
	http.ServeFile(w, r, path)
}

// HandleDownload serves a clip as an attachment and counts the download.
// Path shape: /api/download/{session_id}/{clip_id}.
func (h *Handlers) HandleDownload(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/download/")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		writeError(w, http.StatusBadRequest, "session and clip id required")
		return
	}
	sessionID, clipID := parts[0], parts[1]

	eng := h.registry.Get(sessionID)
	if eng == nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	var found *session.Clip
	for _, c := range eng.Session().Clips() {
		if c.ID == clipID || c.Filename == clipID {
			found = &c
			break
		}
	}
	if found == nil {
		writeError(w, http.StatusNotFound, "clip not found")
		return
	}
	path := filepath.Join(h.clipDir, found.Filename)
	if _, err := os.Stat(path); err != nil {
		writeError(w, http.StatusNotFound, "clip file not found")
		return
	}

	if h.db != nil && found.ID != "" {
		if err := db.IncrementDownload(r.Context(), h.db, found.ID); err != nil {
			slog.Warn("download count update failed", "clip_id", found.ID, "error", err)
		}
	}

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", found.Filename))
	http.ServeFile(w, r, path)
}

func (h *Handlers) serveFile(w http.ResponseWriter, r *http.Request, dir, prefix, contentType string) {
	name, ok := fileFromPath(w, r, prefix)
	if !ok {
		return
	}
	path := filepath.Join(dir, name)
	if _, err := os.Stat(path); err != nil {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}
	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	http.ServeFile(w, r, path)
}

// engineFromPath resolves the engine named by the path suffix, writing a 404
// when absent.
func (h *Handlers) engineFromPath(w http.ResponseWriter, r *http.Request, prefix string) (*session.Engine, bool) {
	id := strings.TrimPrefix(r.URL.Path, prefix)
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusBadRequest, "session id required")
		return nil, false
	}
	eng := h.registry.Get(id)
	if eng == nil {
		writeError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	return eng, true
}

// fileFromPath extracts and sanitizes a filename path suffix.
func fileFromPath(w http.ResponseWriter, r *http.Request, prefix string) (string, bool) {
	name := strings.TrimPrefix(r.URL.Path, prefix)
	if name == "" || name != filepath.Base(name) {
		writeError(w, http.StatusBadRequest, "invalid filename")
		return "", false
	}
	return name, true
}
