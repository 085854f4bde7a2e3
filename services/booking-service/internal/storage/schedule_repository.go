package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/novadent/platform/libs/db"
	"github.com/novadent/platform/services/booking-service/internal/model"
)

// ScheduleRepository holds the booking-local cache of provider schedules
// and the service catalog, kept current by clinic events. Entries are
// validated before they enter the cache; the read path can trust them.
type ScheduleRepository struct {
	pool *db.Pool
}

func NewScheduleRepository(pool *db.Pool) *ScheduleRepository {
	return &ScheduleRepository{pool: pool}
}

func (r *ScheduleRepository) UpsertScheduleEntry(ctx context.Context, tx pgx.Tx, entry model.ScheduleEntry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO provider_schedule_cache
			(provider_id, weekday, is_available, start_minute, end_minute, break_start_minute, break_end_minute, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (provider_id, weekday) DO UPDATE SET
			is_available = EXCLUDED.is_available,
			start_minute = EXCLUDED.start_minute,
			end_minute = EXCLUDED.end_minute,
			break_start_minute = EXCLUDED.break_start_minute,
			break_end_minute = EXCLUDED.break_end_minute,
			updated_at = now()
	`, entry.ProviderID, entry.Weekday, entry.IsAvailable,
		entry.StartMinute, entry.EndMinute, entry.BreakStart, entry.BreakEnd)
	return err
}

var ErrScheduleNotFound = errors.New("schedule entry not found")

func (r *ScheduleRepository) GetScheduleEntry(ctx context.Context, providerID string, weekday int) (model.ScheduleEntry, error) {
	var entry model.ScheduleEntry
	err := r.pool.QueryRow(ctx, `
		SELECT provider_id, weekday, is_available, start_minute, end_minute,
			break_start_minute, break_end_minute, updated_at
		FROM provider_schedule_cache
		WHERE provider_id = $1 AND weekday = $2
	`, providerID, weekday).Scan(
		&entry.ProviderID,
		&entry.Weekday,
		&entry.IsAvailable,
		&entry.StartMinute,
		&entry.EndMinute,
		&entry.BreakStart,
		&entry.BreakEnd,
		&entry.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ScheduleEntry{}, ErrScheduleNotFound
	}
	if err != nil {
		return model.ScheduleEntry{}, err
	}
	return entry, nil
}

func (r *ScheduleRepository) UpsertService(ctx context.Context, tx pgx.Tx, svc model.Service) error {
	if err := svc.Validate(); err != nil {
		return err
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO services_cache (id, name, duration_minutes, active, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			duration_minutes = EXCLUDED.duration_minutes,
			active = EXCLUDED.active,
			updated_at = now()
	`, svc.ID, svc.Name, svc.DurationMinutes, svc.Active)
	return err
}

var ErrServiceNotFound = errors.New("service not found")

func (r *ScheduleRepository) GetService(ctx context.Context, serviceID string) (model.Service, error) {
	var svc model.Service
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, duration_minutes, active, updated_at
		FROM services_cache
		WHERE id = $1
	`, serviceID).Scan(&svc.ID, &svc.Name, &svc.DurationMinutes, &svc.Active, &svc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Service{}, ErrServiceNotFound
	}
	if err != nil {
		return model.Service{}, err
	}
	return svc, nil
}
