package database

import (
	"context"
	"fmt"
)

const schema = `
	CREATE TABLE IF NOT EXISTS videos (
		id UUID PRIMARY KEY,
		video_url TEXT NOT NULL,
		title TEXT,
		duration TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		mode TEXT NOT NULL DEFAULT 'local',
		key_topics TEXT NOT NULL DEFAULT '',
		frame_interval INTEGER NOT NULL,
		total_frames INTEGER NOT NULL DEFAULT 0,
		error_msg TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS summaries (
		id UUID PRIMARY KEY,
		video_id UUID NOT NULL REFERENCES videos(id) ON DELETE CASCADE,
		timestamp TEXT NOT NULL,
		timestamp_seconds DOUBLE PRECISION NOT NULL,
		description TEXT NOT NULL,
		frame_number INTEGER NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE(video_id, frame_number)
	);

	CREATE INDEX IF NOT EXISTS idx_videos_created_at ON videos(created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_summaries_video_ts ON summaries(video_id, timestamp_seconds);
`

// Untyped dimension; no ivfflat index possible.
const vectorSchema = `
	CREATE EXTENSION IF NOT EXISTS vector;
	ALTER TABLE summaries ADD COLUMN IF NOT EXISTS embedding vector;
`

// Migrate creates the schema if it doesn't exist. withVector adds the
// pgvector extension and the summary embedding column.
func (db *DB) Migrate(ctx context.Context, withVector bool) error {
	if _, err := db.Pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create database schema: %w", err)
	}

	if withVector {
		if _, err := db.Pool.Exec(ctx, vectorSchema); err != nil {
			return fmt.Errorf("failed to enable vector extension: %w", err)
		}
	}

	return nil
}
