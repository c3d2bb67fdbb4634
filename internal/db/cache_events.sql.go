package db

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const insertCacheEvent = `-- name: InsertCacheEvent :exec
INSERT INTO cache_events (id, kind, source, endpoint, date, data_hash, path, file_count, duration_ms, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
`

type InsertCacheEventParams struct {
	ID         uuid.UUID          `json:"id"`
	Kind       string             `json:"kind"`
	Source     string             `json:"source"`
	Endpoint   string             `json:"endpoint"`
	Date       pgtype.Text        `json:"date"`
	DataHash   pgtype.Text        `json:"data_hash"`
	Path       pgtype.Text        `json:"path"`
	FileCount  int32              `json:"file_count"`
	DurationMs pgtype.Int8        `json:"duration_ms"`
	CreatedAt  pgtype.Timestamptz `json:"created_at"`
}

func (q *Queries) InsertCacheEvent(ctx context.Context, arg InsertCacheEventParams) error {
	_, err := q.db.Exec(ctx, insertCacheEvent,
		arg.ID,
		arg.Kind,
		arg.Source,
		arg.Endpoint,
		arg.Date,
		arg.DataHash,
		arg.Path,
		arg.FileCount,
		arg.DurationMs,
		arg.CreatedAt,
	)
	return err
}

const listCacheEvents = `-- name: ListCacheEvents :many
SELECT id, kind, source, endpoint, date, data_hash, path, file_count, duration_ms, created_at
FROM cache_events
WHERE ($1::text IS NULL OR source = $1::text)
  AND ($2::text IS NULL OR endpoint = $2::text)
ORDER BY created_at DESC
LIMIT $3
`

type ListCacheEventsParams struct {
	Source   pgtype.Text `json:"source"`
	Endpoint pgtype.Text `json:"endpoint"`
	Limit    int32       `json:"limit"`
}

func (q *Queries) ListCacheEvents(ctx context.Context, arg ListCacheEventsParams) ([]CacheEvent, error) {
	rows, err := q.db.Query(ctx, listCacheEvents, arg.Source, arg.Endpoint, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []CacheEvent
	for rows.Next() {
		var i CacheEvent
		if err := rows.Scan(
			&i.ID,
			&i.Kind,
			&i.Source,
			&i.Endpoint,
			&i.Date,
			&i.DataHash,
			&i.Path,
			&i.FileCount,
			&i.DurationMs,
			&i.CreatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const deleteCacheEventsBefore = `-- name: DeleteCacheEventsBefore :execrows
DELETE FROM cache_events
WHERE created_at < $1
`

func (q *Queries) DeleteCacheEventsBefore(ctx context.Context, createdAt pgtype.Timestamptz) (int64, error) {
	result, err := q.db.Exec(ctx, deleteCacheEventsBefore, createdAt)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}
