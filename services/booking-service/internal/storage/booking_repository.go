package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/novadent/platform/libs/db"
	"github.com/novadent/platform/services/booking-service/internal/availability"
	"github.com/novadent/platform/services/booking-service/internal/model"
)

type BookingRepository struct {
	pool *db.Pool
}

type IdempotencyRecord struct {
	IdempotencyKey  string
	AppointmentID   string
	StatusCode      int
	ResponsePayload []byte
}

func NewBookingRepository(pool *db.Pool) *BookingRepository {
	return &BookingRepository{pool: pool}
}

func (r *BookingRepository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

func (r *BookingRepository) LockIdempotencyKey(ctx context.Context, tx pgx.Tx, key string) (IdempotencyRecord, bool, error) {
	rec, err := r.selectIdempotencyForUpdate(ctx, tx, key)
	if err == nil {
		return rec, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return IdempotencyRecord{}, false, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO booking_idempotency_keys (idempotency_key)
		VALUES ($1)
		ON CONFLICT (idempotency_key) DO NOTHING
	`, key)
	if err != nil {
		return IdempotencyRecord{}, false, err
	}

	rec, err = r.selectIdempotencyForUpdate(ctx, tx, key)
	if err != nil {
		return IdempotencyRecord{}, false, err
	}
	return rec, false, nil
}

func (r *BookingRepository) FinalizeIdempotency(ctx context.Context, tx pgx.Tx, key, appointmentID string, statusCode int, response []byte) error {
	_, err := tx.Exec(ctx, `
		UPDATE booking_idempotency_keys
		SET appointment_id = NULLIF($2, '')::uuid,
			status_code = $3,
			response_payload = $4,
			updated_at = now()
		WHERE idempotency_key = $1
	`, key, appointmentID, statusCode, response)
	return err
}

// Create inserts the appointment inside tx. The appointments table carries
// an exclusion constraint over (provider_id, appointment_date, minute range)
// for active rows, so an overlapping concurrent insert fails with 23P01
// even when both writers passed the pre-insert conflict check.
func (r *BookingRepository) Create(ctx context.Context, tx pgx.Tx, appt *model.Appointment) (string, error) {
	var id string
	err := tx.QueryRow(ctx, `
		INSERT INTO appointments
			(provider_id, service_id, patient_name, patient_email, patient_phone,
			 appointment_date, start_minute, end_minute, status, confirmation_code)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`, appt.ProviderID, appt.ServiceID, appt.PatientName, appt.PatientEmail, appt.PatientPhone,
		appt.Date, appt.StartMinute, appt.EndMinute, appt.Status, appt.ConfirmationCode).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *BookingRepository) GetAppointmentForUpdate(ctx context.Context, tx pgx.Tx, appointmentID string) (model.Appointment, error) {
	row := tx.QueryRow(ctx, selectAppointment+` WHERE id = $1 FOR UPDATE`, appointmentID)
	return scanAppointment(row)
}

func (r *BookingRepository) GetByConfirmationCode(ctx context.Context, code string) (model.Appointment, error) {
	row := r.pool.QueryRow(ctx, selectAppointment+` WHERE confirmation_code = $1`, code)
	return scanAppointment(row)
}

func (r *BookingRepository) UpdateStatus(ctx context.Context, tx pgx.Tx, appointmentID, status string) error {
	_, err := tx.Exec(ctx, `
		UPDATE appointments SET status = $2, updated_at = now() WHERE id = $1
	`, appointmentID, status)
	return err
}

func (r *BookingRepository) CancelAppointment(ctx context.Context, tx pgx.Tx, appointmentID, reason string) (time.Time, error) {
	var cancelledAt time.Time
	err := tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'cancelled',
			cancelled_at = now(),
			cancellation_reason = $2,
			updated_at = now()
		WHERE id = $1
		RETURNING cancelled_at
	`, appointmentID, reason).Scan(&cancelledAt)
	return cancelledAt, err
}

// Reschedule moves the appointment and appends the move to its history.
// Status is left unchanged; the caller has already checked the reschedule
// cap and the target slot.
func (r *BookingRepository) Reschedule(ctx context.Context, tx pgx.Tx, appointmentID string, toDate string, toStart, toEnd int, entry model.RescheduleEntry) error {
	historyJSON, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		UPDATE appointments
		SET appointment_date = $2,
			start_minute = $3,
			end_minute = $4,
			reschedule_count = reschedule_count + 1,
			reschedule_history = reschedule_history || $5::jsonb,
			updated_at = now()
		WHERE id = $1
	`, appointmentID, toDate, toStart, toEnd, historyJSON)
	return err
}

// ListActiveIntervals returns the busy minute ranges for a provider/date
// across pending and confirmed appointments. Rows with missing time fields
// are counted and skipped rather than failing the whole calculation.
func (r *BookingRepository) ListActiveIntervals(ctx context.Context, providerID, date, excludeID string) ([]availability.Interval, int, error) {
	return listActiveIntervals(ctx, r.pool, providerID, date, excludeID)
}

// ListActiveIntervalsTx is the transactional variant used by the booking
// write path so the pre-insert conflict check and the insert share one tx.
func (r *BookingRepository) ListActiveIntervalsTx(ctx context.Context, tx pgx.Tx, providerID, date, excludeID string) ([]availability.Interval, int, error) {
	return listActiveIntervals(ctx, tx, providerID, date, excludeID)
}

func listActiveIntervals(ctx context.Context, q Querier, providerID, date string, excludeID string) ([]availability.Interval, int, error) {
	rows, err := q.Query(ctx, `
		SELECT start_minute, end_minute
		FROM appointments
		WHERE provider_id = $1
			AND appointment_date = $2
			AND status IN ('pending', 'confirmed')
			AND ($3 = '' OR id <> $3::uuid)
		ORDER BY start_minute ASC NULLS LAST
	`, providerID, date, excludeID)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var busy []availability.Interval
	skipped := 0
	for rows.Next() {
		var start, end *int
		if err := rows.Scan(&start, &end); err != nil {
			return nil, 0, err
		}
		if start == nil || end == nil || *end <= *start {
			skipped++
			continue
		}
		busy = append(busy, availability.Interval{Start: *start, End: *end})
	}
	if rows.Err() != nil {
		return nil, 0, rows.Err()
	}
	return busy, skipped, nil
}

func (r *BookingRepository) ListByProviderDate(ctx context.Context, providerID, date string, limit int) ([]model.Appointment, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, selectAppointment+`
		WHERE provider_id = $1 AND appointment_date = $2
		ORDER BY start_minute ASC
		LIMIT $3
	`, providerID, date, limit)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *BookingRepository) ListByPatientEmail(ctx context.Context, email string, limit int) ([]model.Appointment, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, selectAppointment+`
		WHERE patient_email = $1
		ORDER BY appointment_date DESC, start_minute DESC
		LIMIT $2
	`, email, limit)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

// Querier is satisfied by both *db.Pool and pgx.Tx so the conflict check
// can run against the transaction during booking and against the pool
// during read-only slot queries.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

const selectAppointment = `
	SELECT id, provider_id, service_id, patient_name, patient_email, patient_phone,
		appointment_date::text, start_minute, end_minute, status, confirmation_code,
		reschedule_count, cancelled_at, COALESCE(cancellation_reason, ''), created_at
	FROM appointments`

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var appt model.Appointment
	var cancelledAt *time.Time
	err := row.Scan(
		&appt.ID,
		&appt.ProviderID,
		&appt.ServiceID,
		&appt.PatientName,
		&appt.PatientEmail,
		&appt.PatientPhone,
		&appt.Date,
		&appt.StartMinute,
		&appt.EndMinute,
		&appt.Status,
		&appt.ConfirmationCode,
		&appt.RescheduleCount,
		&cancelledAt,
		&appt.CancelReason,
		&appt.CreatedAt,
	)
	if err != nil {
		return model.Appointment{}, err
	}
	appt.CancelledAt = cancelledAt
	return appt, nil
}

func collectAppointments(rows pgx.Rows) ([]model.Appointment, error) {
	defer rows.Close()
	var appts []model.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, appt)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return appts, nil
}

func IsConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23P01"
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

func (r *BookingRepository) selectIdempotencyForUpdate(ctx context.Context, tx pgx.Tx, key string) (IdempotencyRecord, error) {
	var rec IdempotencyRecord
	var responseText string
	err := tx.QueryRow(ctx, `
		SELECT idempotency_key,
			COALESCE(appointment_id::text, ''),
			COALESCE(status_code, 0),
			COALESCE(response_payload::text, '')
		FROM booking_idempotency_keys
		WHERE idempotency_key = $1
		FOR UPDATE
	`, key).Scan(
		&rec.IdempotencyKey,
		&rec.AppointmentID,
		&rec.StatusCode,
		&responseText,
	)
	if err != nil {
		return IdempotencyRecord{}, err
	}
	if responseText != "" {
		rec.ResponsePayload = []byte(responseText)
	}
	return rec, nil
}
