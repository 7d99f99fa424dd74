package session

import (
	"context"
	"database/sql"

	"github.com/onnwee/clip-surge/backend/db"
)

// DBStore persists sessions and clips through the Postgres helpers.
type DBStore struct {
	DB *sql.DB
}

func (s *DBStore) UpdateSessionStats(ctx context.Context, sessionID, status string, chatSpeed int, viralScore float64, clips int, revenue float64) error {
	return db.UpdateSessionStats(ctx, s.DB, sessionID, status, chatSpeed, viralScore, clips, revenue)
}

func (s *DBStore) SaveClip(ctx context.Context, sess Snapshot, c Clip) (string, error) {
	return db.CreateClip(ctx, s.DB, db.ClipRecord{
		SessionID:     sess.SessionID,
		UserID:        sess.UserID,
		Filename:      c.Filename,
		Duration:      c.Duration,
		SizeMB:        c.SizeMB,
		ViralScore:    c.ViralScore,
		ChatVelocity:  c.ChatVelocity,
		Revenue:       c.Revenue,
		ViralMessages: c.ViralMessages,
		ThumbnailURL:  c.ThumbnailURL,
		StorageURL:    c.StorageURL,
		EnrichedTitle: c.Title,
	})
}
