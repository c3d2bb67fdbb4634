package db

import (
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

type CacheEvent struct {
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
