package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/novadent/platform/libs/db"
)

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// ClinicSettings is the single-row configuration record for the clinic.
type ClinicSettings struct {
	Name           string
	Timezone       string
	OffsetsMins    []int
	MaxReschedules int
}

func (r *Repository) GetOrCreateSettings(ctx context.Context) (ClinicSettings, error) {
	// Seed defaults on first read so a fresh deployment works before the
	// admin touches anything.
	_, err := r.pool.Exec(ctx, `
		INSERT INTO clinic_settings (id)
		VALUES (1)
		ON CONFLICT (id) DO NOTHING
	`)
	if err != nil {
		return ClinicSettings{}, err
	}

	var s ClinicSettings
	err = r.pool.QueryRow(ctx, `
		SELECT name, timezone, reminder_offsets_minutes, max_reschedules
		FROM clinic_settings
		WHERE id = 1
	`).Scan(&s.Name, &s.Timezone, &s.OffsetsMins, &s.MaxReschedules)
	return s, err
}

func (r *Repository) UpdateSettings(ctx context.Context, s ClinicSettings) error {
	if len(s.OffsetsMins) == 0 {
		s.OffsetsMins = []int{1440, 60}
	}
	if s.MaxReschedules <= 0 {
		s.MaxReschedules = 2
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO clinic_settings (id, name, timezone, reminder_offsets_minutes, max_reschedules)
		VALUES (1, $1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
			timezone = EXCLUDED.timezone,
			reminder_offsets_minutes = EXCLUDED.reminder_offsets_minutes,
			max_reschedules = EXCLUDED.max_reschedules,
			updated_at = now()
	`, s.Name, s.Timezone, s.OffsetsMins, s.MaxReschedules)
	return err
}

type DentalService struct {
	ID           string
	Name         string
	DurationMins int
	Price        string
	Description  string
	Active       bool
	CreatedAt    time.Time
}

func (r *Repository) CreateService(ctx context.Context, tx pgx.Tx, name string, durationMinutes int, price string, description string) (string, error) {
	id := uuid.NewString()
	_, err := tx.Exec(ctx, `
		INSERT INTO services (id, name, duration_minutes, price, description)
		VALUES ($1, $2, $3, $4, $5)
	`, id, name, durationMinutes, price, description)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *Repository) SetServiceActive(ctx context.Context, tx pgx.Tx, serviceID string, active bool) (DentalService, error) {
	var s DentalService
	err := tx.QueryRow(ctx, `
		UPDATE services
		SET active = $2, updated_at = now()
		WHERE id = $1
		RETURNING id::text, name, duration_minutes, price::text, description, active, created_at
	`, serviceID, active).Scan(&s.ID, &s.Name, &s.DurationMins, &s.Price, &s.Description, &s.Active, &s.CreatedAt)
	return s, err
}

func (r *Repository) ListServices(ctx context.Context, limit int) ([]DentalService, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, name, duration_minutes, price::text, description, active, created_at
		FROM services
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DentalService
	for rows.Next() {
		var s DentalService
		if err := rows.Scan(&s.ID, &s.Name, &s.DurationMins, &s.Price, &s.Description, &s.Active, &s.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

type Provider struct {
	ID        string
	Name      string
	Specialty string
	IsActive  bool
}

// CreateProvider inserts the provider and seeds a default Mon-Sat
// 09:00-17:00 schedule with a 12:00-13:00 break; Sunday stays closed.
// The seeded rows are returned so the caller can publish them.
func (r *Repository) CreateProvider(ctx context.Context, tx pgx.Tx, name, specialty string, isActive bool) (string, []ProviderSchedule, error) {
	var id string
	err := tx.QueryRow(ctx, `
		INSERT INTO providers (name, specialty, is_active)
		VALUES ($1, $2, $3)
		RETURNING id::text
	`, name, specialty, isActive).Scan(&id)
	if err != nil {
		return "", nil, err
	}

	var seeded []ProviderSchedule
	for wd := 0; wd <= 6; wd++ {
		sched := ProviderSchedule{
			ProviderID:  id,
			Weekday:     wd,
			IsAvailable: wd >= 1 && wd <= 6,
		}
		if sched.IsAvailable {
			sched.StartMinute = 540
			sched.EndMinute = 1020
			bs, be := 720, 780
			sched.BreakStart = &bs
			sched.BreakEnd = &be
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO provider_schedules
				(provider_id, weekday, is_available, start_minute, end_minute, break_start_minute, break_end_minute)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (provider_id, weekday) DO NOTHING
		`, id, wd, sched.IsAvailable, sched.StartMinute, sched.EndMinute, sched.BreakStart, sched.BreakEnd); err != nil {
			return "", nil, err
		}
		seeded = append(seeded, sched)
	}
	return id, seeded, nil
}

func (r *Repository) ListProviders(ctx context.Context, limit int) ([]Provider, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, name, specialty, is_active
		FROM providers
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Provider
	for rows.Next() {
		var p Provider
		if err := rows.Scan(&p.ID, &p.Name, &p.Specialty, &p.IsActive); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

type ProviderSchedule struct {
	ProviderID  string
	Weekday     int
	IsAvailable bool
	StartMinute int
	EndMinute   int
	BreakStart  *int
	BreakEnd    *int
}

func (r *Repository) ListSchedule(ctx context.Context, providerID string) ([]ProviderSchedule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT provider_id::text, weekday, is_available, start_minute, end_minute,
			break_start_minute, break_end_minute
		FROM provider_schedules
		WHERE provider_id = $1
		ORDER BY weekday ASC
	`, providerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ProviderSchedule
	for rows.Next() {
		var s ProviderSchedule
		if err := rows.Scan(&s.ProviderID, &s.Weekday, &s.IsAvailable, &s.StartMinute, &s.EndMinute, &s.BreakStart, &s.BreakEnd); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (r *Repository) UpsertSchedule(ctx context.Context, tx pgx.Tx, s ProviderSchedule) error {
	var exists bool
	if err := tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM providers WHERE id = $1)
	`, s.ProviderID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return pgx.ErrNoRows
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO provider_schedules
			(provider_id, weekday, is_available, start_minute, end_minute, break_start_minute, break_end_minute)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (provider_id, weekday) DO UPDATE
		SET is_available = EXCLUDED.is_available,
			start_minute = EXCLUDED.start_minute,
			end_minute = EXCLUDED.end_minute,
			break_start_minute = EXCLUDED.break_start_minute,
			break_end_minute = EXCLUDED.break_end_minute,
			updated_at = now()
	`, s.ProviderID, s.Weekday, s.IsAvailable, s.StartMinute, s.EndMinute, s.BreakStart, s.BreakEnd)
	return err
}

type TimeOff struct {
	ID          string
	ProviderID  string
	Date        string
	StartMinute int
	EndMinute   int
	Reason      string
	CreatedAt   time.Time
}

func (r *Repository) CreateTimeOff(ctx context.Context, providerID, date string, startMinute, endMinute int, reason string) (string, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM providers WHERE id = $1)
	`, providerID).Scan(&exists); err != nil {
		return "", err
	}
	if !exists {
		return "", pgx.ErrNoRows
	}

	id := uuid.NewString()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO provider_time_off (id, provider_id, off_date, start_minute, end_minute, reason)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, id, providerID, date, startMinute, endMinute, reason)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *Repository) ListTimeOff(ctx context.Context, providerID, date string, limit int) ([]TimeOff, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, provider_id::text, off_date::text, start_minute, end_minute, reason, created_at
		FROM provider_time_off
		WHERE provider_id = $1 AND off_date = $2
		ORDER BY start_minute ASC
		LIMIT $3
	`, providerID, date, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TimeOff
	for rows.Next() {
		var t TimeOff
		if err := rows.Scan(&t.ID, &t.ProviderID, &t.Date, &t.StartMinute, &t.EndMinute, &t.Reason, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (r *Repository) DeleteTimeOff(ctx context.Context, timeOffID string) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM provider_time_off WHERE id = $1
	`, timeOffID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
