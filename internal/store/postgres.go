package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	apperrors "github.com/neptunmap/neptun/internal/errors"
	"github.com/neptunmap/neptun/internal/metrics"
	"github.com/neptunmap/neptun/internal/models"
)

const trackColumns = `id, text, ts, channel, lat, lng, place, oblast, threat_type,
			   count, is_all_clear, source, target, direction, geocoded, manual, hidden`

// PostgresArchive implements Archive on the tracks_history table.
type PostgresArchive struct {
	db Database
}

// NewPostgresArchive creates a PostgreSQL-backed archive
func NewPostgresArchive(db Database) *PostgresArchive {
	return &PostgresArchive{db: db}
}

// UpsertTracks inserts or updates tracks. Later geocoding or hiding of a
// track overwrites the archived row.
func (a *PostgresArchive) UpsertTracks(ctx context.Context, tracks []*models.Track) error {
	if len(tracks) == 0 {
		return nil
	}

	query := `
		INSERT INTO tracks_history (
			id, text, ts, channel, lat, lng, place, oblast, threat_type,
			count, is_all_clear, source, target, direction, geocoded, manual, hidden
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17
		)
		ON CONFLICT (id) DO UPDATE SET
			lat = EXCLUDED.lat,
			lng = EXCLUDED.lng,
			place = EXCLUDED.place,
			oblast = EXCLUDED.oblast,
			threat_type = EXCLUDED.threat_type,
			count = EXCLUDED.count,
			source = EXCLUDED.source,
			target = EXCLUDED.target,
			direction = EXCLUDED.direction,
			geocoded = EXCLUDED.geocoded,
			hidden = EXCLUDED.hidden,
			updated_at = NOW()
	`

	for _, t := range tracks {
		if t == nil {
			continue
		}
		err := a.db.Exec(ctx, query,
			t.ID, t.Text, t.Timestamp, t.Channel, t.Lat, t.Lng, t.Place, t.Oblast,
			t.ThreatType.String(), t.Count, t.IsAllClear, t.Source, t.Target,
			t.Direction, t.Geocoded, t.Manual, t.Hidden,
		)
		if err != nil {
			metrics.RecordDBQuery("upsert_track", "error")
			return apperrors.DatabaseError{Operation: "upsert track " + t.ID, Err: err}
		}
	}
	metrics.RecordDBQuery("upsert_track", "ok")
	return nil
}

// QueryTracks retrieves tracks matching q, newest first.
func (a *PostgresArchive) QueryTracks(ctx context.Context, q models.TrackQuery) ([]*models.Track, error) {
	query := `SELECT ` + trackColumns + ` FROM tracks_history WHERE 1=1`

	var args []interface{}
	argIndex := 1

	if len(q.Channels) > 0 {
		query += fmt.Sprintf(" AND channel = ANY($%d)", argIndex)
		args = append(args, q.Channels)
		argIndex++
	}

	if len(q.Types) > 0 {
		types := make([]string, len(q.Types))
		for i, t := range q.Types {
			types[i] = t.String()
		}
		query += fmt.Sprintf(" AND threat_type = ANY($%d)", argIndex)
		args = append(args, types)
		argIndex++
	}

	if q.Oblast != "" {
		query += fmt.Sprintf(" AND oblast ILIKE $%d", argIndex)
		args = append(args, "%"+q.Oblast+"%")
		argIndex++
	}

	if !q.Since.IsZero() {
		query += fmt.Sprintf(" AND ts >= $%d", argIndex)
		args = append(args, q.Since)
		argIndex++
	}

	if !q.Until.IsZero() {
		query += fmt.Sprintf(" AND ts <= $%d", argIndex)
		args = append(args, q.Until)
		argIndex++
	}

	if !q.IncludeHidden {
		query += " AND NOT hidden"
	}
	if q.OnlyGeocoded {
		query += " AND lat IS NOT NULL AND lng IS NOT NULL"
	}

	query += " ORDER BY ts DESC"

	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIndex)
		args = append(args, q.Limit)
	}

	rowsInterface, err := a.db.Query(ctx, query, args...)
	if err != nil {
		metrics.RecordDBQuery("query_tracks", "error")
		return nil, apperrors.DatabaseError{Operation: "query tracks", Err: err}
	}

	rows, ok := rowsInterface.(pgx.Rows)
	if !ok {
		return nil, fmt.Errorf("invalid rows type")
	}
	defer rows.Close()

	var tracks []*models.Track
	for rows.Next() {
		t, err := scanTrack(rows)
		if err != nil {
			return nil, fmt.Errorf("scan track: %w", err)
		}
		tracks = append(tracks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tracks: %w", err)
	}
	metrics.RecordDBQuery("query_tracks", "ok")
	return tracks, nil
}

// GetTrack returns nil, nil when the id is unknown.
func (a *PostgresArchive) GetTrack(ctx context.Context, id string) (*models.Track, error) {
	query := `SELECT ` + trackColumns + ` FROM tracks_history WHERE id = $1`

	rowInterface := a.db.QueryRow(ctx, query, id)
	row, ok := rowInterface.(pgx.Row)
	if !ok {
		return nil, fmt.Errorf("invalid row type")
	}

	t, err := scanTrack(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan track: %w", err)
	}
	return t, nil
}

// Health checks the database connection
func (a *PostgresArchive) Health(ctx context.Context) error {
	return a.db.Health(ctx)
}

func scanTrack(row pgx.Row) (*models.Track, error) {
	var (
		t      models.Track
		threat string
	)
	err := row.Scan(
		&t.ID, &t.Text, &t.Timestamp, &t.Channel, &t.Lat, &t.Lng, &t.Place, &t.Oblast,
		&threat, &t.Count, &t.IsAllClear, &t.Source, &t.Target, &t.Direction,
		&t.Geocoded, &t.Manual, &t.Hidden,
	)
	if err != nil {
		return nil, err
	}
	t.ThreatType = models.ParseThreatType(threat)
	t.Timestamp = t.Timestamp.UTC()
	return &t, nil
}
