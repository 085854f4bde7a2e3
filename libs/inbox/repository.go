// Package inbox provides consumer-side event deduplication: each processed
// event id is recorded once, and replays are detected by the unique violation.
package inbox

import (
	"context"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/novadent/platform/libs/db"
)

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

// Record stores the event id and reports whether it was seen for the first
// time. A false return with nil error means the event is a duplicate.
func (r *Repository) Record(ctx context.Context, eventID string, eventType string) (bool, error) {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO inbox_events (event_id, event_type)
		VALUES ($1, $2)
	`, eventID, eventType)
	if err == nil {
		return true, nil
	}

	if pgErr, ok := err.(*pgconn.PgError); ok && pgErr.Code == "23505" {
		return false, nil
	}

	return false, err
}
