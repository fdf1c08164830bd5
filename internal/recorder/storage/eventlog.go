package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
	"go.uber.org/zap"
)

// MotionEpisode is one confirmed motion event as persisted in the log
type MotionEpisode struct {
	ID             string       `db:"id"`
	StartedAt      time.Time    `db:"started_at"`
	EndedAt        sql.NullTime `db:"ended_at"`
	DurationSecs   float64      `db:"duration_seconds"`
	PeakConfidence float64      `db:"peak_confidence"`
	FrameCount     int64        `db:"frame_count"`
	ClipKey        string       `db:"clip_key"`
	CreatedAt      time.Time    `db:"created_at"`
}

// EventLog persists motion episodes to PostgreSQL. Optional; the engine
// and recorder run fine without it.
type EventLog struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewEventLog opens the episode log and initializes its schema
func NewEventLog(ctx context.Context, dsn string) (*EventLog, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping event log: %w", err)
	}

	l := &EventLog{
		db:     db,
		logger: zap.L().Named("event-log"),
	}
	if err := l.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("init event log schema: %w", err)
	}
	return l, nil
}

func (l *EventLog) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS motion_episodes (
		id UUID PRIMARY KEY,
		started_at TIMESTAMPTZ NOT NULL,
		ended_at TIMESTAMPTZ,
		duration_seconds FLOAT NOT NULL DEFAULT 0,
		peak_confidence FLOAT NOT NULL DEFAULT 0,
		frame_count BIGINT NOT NULL DEFAULT 0,
		clip_key TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_motion_episodes_started_at
		ON motion_episodes(started_at DESC);
	`
	_, err := l.db.ExecContext(ctx, schema)
	return err
}

// SaveEpisode inserts or updates one episode record
func (l *EventLog) SaveEpisode(ctx context.Context, ep *MotionEpisode) error {
	query := `
	INSERT INTO motion_episodes
		(id, started_at, ended_at, duration_seconds, peak_confidence, frame_count, clip_key)
	VALUES
		(:id, :started_at, :ended_at, :duration_seconds, :peak_confidence, :frame_count, :clip_key)
	ON CONFLICT (id) DO UPDATE SET
		ended_at = EXCLUDED.ended_at,
		duration_seconds = EXCLUDED.duration_seconds,
		peak_confidence = EXCLUDED.peak_confidence,
		frame_count = EXCLUDED.frame_count,
		clip_key = EXCLUDED.clip_key
	`
	if _, err := l.db.NamedExecContext(ctx, query, ep); err != nil {
		return fmt.Errorf("save episode %s: %w", ep.ID, err)
	}

	l.logger.Debug("Episode saved",
		zap.String("episode_id", ep.ID),
		zap.Float64("peak_confidence", ep.PeakConfidence))
	return nil
}

// RecentEpisodes returns the most recent episodes, newest first
func (l *EventLog) RecentEpisodes(ctx context.Context, limit int) ([]*MotionEpisode, error) {
	if limit <= 0 {
		limit = 50
	}
	episodes := []*MotionEpisode{}
	err := l.db.SelectContext(ctx, &episodes, `
		SELECT * FROM motion_episodes
		ORDER BY started_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query episodes: %w", err)
	}
	return episodes, nil
}

// DeleteOlderThan removes episodes that started before the cutoff and
// returns how many were deleted.
func (l *EventLog) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := l.db.ExecContext(ctx,
		`DELETE FROM motion_episodes WHERE started_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old episodes: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// HealthCheck verifies the database connection
func (l *EventLog) HealthCheck(ctx context.Context) error {
	return l.db.PingContext(ctx)
}

// Close releases the database connection
func (l *EventLog) Close() error {
	return l.db.Close()
}
