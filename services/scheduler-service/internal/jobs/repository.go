package jobs

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/novadent/platform/libs/db"
)

// Job is a durable reminder scheduled for a future point in time.
type Job struct {
	ID             string
	AppointmentID  string
	Channel        string
	Recipient      string
	TemplateName   string
	TemplateData   []byte
	RemindAt       time.Time
	Status         string
	Attempts       int
	IdempotencyKey string
	Traceparent    string
	Tracestate     string
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// Insert stores a job unless one with the same idempotency key already
// exists. Returns true when a new row was written.
func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, job Job) (bool, error) {
	tag, err := tx.Exec(ctx, `
		INSERT INTO scheduler_jobs
			(id, appointment_id, channel, recipient, template_name, template_data,
			 remind_at, status, attempts, idempotency_key, traceparent, tracestate)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending', 0, $8, $9, $10)
		ON CONFLICT (idempotency_key) DO NOTHING
	`, job.ID, job.AppointmentID, job.Channel, job.Recipient, job.TemplateName,
		job.TemplateData, job.RemindAt, job.IdempotencyKey, job.Traceparent, job.Tracestate)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// FetchDue claims up to limit due jobs for processing. Rows are locked so
// concurrent workers never pick up the same job.
func (r *Repository) FetchDue(ctx context.Context, tx pgx.Tx, now time.Time, limit int) ([]Job, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, appointment_id, channel, recipient, template_name, template_data,
		       remind_at, status, attempts, idempotency_key,
		       COALESCE(traceparent, ''), COALESCE(tracestate, '')
		FROM scheduler_jobs
		WHERE status = 'pending' AND remind_at <= $1
		ORDER BY remind_at
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var j Job
		if err := rows.Scan(&j.ID, &j.AppointmentID, &j.Channel, &j.Recipient,
			&j.TemplateName, &j.TemplateData, &j.RemindAt, &j.Status, &j.Attempts,
			&j.IdempotencyKey, &j.Traceparent, &j.Tracestate); err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (r *Repository) MarkProcessed(ctx context.Context, tx pgx.Tx, id string) error {
	_, err := tx.Exec(ctx, `
		UPDATE scheduler_jobs SET status = 'processed', processed_at = now()
		WHERE id = $1
	`, id)
	return err
}

// MarkFailed bumps the attempt counter and either reschedules the job with
// backoff or gives up once maxAttempts is reached. Returns the new attempt
// count and whether the job was abandoned.
func (r *Repository) MarkFailed(ctx context.Context, tx pgx.Tx, id string, maxAttempts int, backoff time.Duration) (int, bool, error) {
	var attempts int
	err := tx.QueryRow(ctx, `
		UPDATE scheduler_jobs SET attempts = attempts + 1
		WHERE id = $1
		RETURNING attempts
	`, id).Scan(&attempts)
	if err != nil {
		return 0, false, err
	}
	if attempts >= maxAttempts {
		_, err = tx.Exec(ctx, `
			UPDATE scheduler_jobs SET status = 'failed', processed_at = now()
			WHERE id = $1
		`, id)
		return attempts, true, err
	}
	_, err = tx.Exec(ctx, `
		UPDATE scheduler_jobs SET remind_at = remind_at + $2
		WHERE id = $1
	`, id, backoff)
	return attempts, false, err
}

// CancelByAppointment marks all pending reminders for an appointment as
// cancelled. Used when the appointment itself is cancelled.
func (r *Repository) CancelByAppointment(ctx context.Context, tx pgx.Tx, appointmentID string) (int64, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE scheduler_jobs SET status = 'cancelled', processed_at = now()
		WHERE appointment_id = $1 AND status = 'pending'
	`, appointmentID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// CancelBySlot marks pending reminders for one specific appointment slot as
// cancelled, matched on the date and start time carried in the template
// data. Reminders for a replacement slot carry the new values and are left
// alone, whichever order the reschedule events arrive in.
func (r *Repository) CancelBySlot(ctx context.Context, tx pgx.Tx, appointmentID, date, startTime string) (int64, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE scheduler_jobs SET status = 'cancelled', processed_at = now()
		WHERE appointment_id = $1 AND status = 'pending'
		  AND template_data->>'date' = $2
		  AND template_data->>'start_time' = $3
	`, appointmentID, date, startTime)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
