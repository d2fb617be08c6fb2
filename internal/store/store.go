package store

import (
	"context"

	"github.com/neptunmap/neptun/internal/models"
)

// Archive keeps long-term track history beyond the rolling TrackStore
// retention window.
type Archive interface {
	UpsertTracks(ctx context.Context, tracks []*models.Track) error
	QueryTracks(ctx context.Context, q models.TrackQuery) ([]*models.Track, error)
	GetTrack(ctx context.Context, id string) (*models.Track, error)
	Health(ctx context.Context) error
}

// Database interface for dependency injection
type Database interface {
	Exec(ctx context.Context, sql string, args ...any) error
	Query(ctx context.Context, sql string, args ...any) (interface{}, error)
	QueryRow(ctx context.Context, sql string, args ...any) interface{}
	Health(ctx context.Context) error
	IsConfigured() bool
}

// NewArchive returns a Postgres archive when db is configured.
func NewArchive(db Database) Archive {
	if db != nil && db.IsConfigured() {
		return NewPostgresArchive(db)
	}
	// Fallback to in-memory archive if no database
	return NewMemoryArchive()
}
