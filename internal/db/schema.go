package db

import (
	"context"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS cache_events (
		id UUID PRIMARY KEY,
		kind TEXT NOT NULL,
		source TEXT NOT NULL,
		endpoint TEXT NOT NULL,
		date TEXT,
		data_hash TEXT,
		path TEXT,
		file_count INTEGER NOT NULL DEFAULT 0,
		duration_ms BIGINT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_cache_events_created_at ON cache_events(created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_cache_events_slot ON cache_events(source, endpoint, created_at DESC)`,
}

// Migrate creates the event log tables when they are missing.
func Migrate(ctx context.Context, db DBTX) error {
	for _, stmt := range schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
