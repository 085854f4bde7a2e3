package storage

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

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

// Payment tracks the reservation fee for one appointment. Status moves
// created -> pending (checkout opened) -> paid | expired | canceled.
type Payment struct {
	AppointmentID   string
	AmountCents     int64
	TaxCents        int64
	Currency        string
	Status          string
	StripeSessionID string
	CheckoutURL     string
	ReturnToken     string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	PaidAt          *time.Time
	ExpiredAt       *time.Time
	CanceledAt      *time.Time
}

func (r *Repository) CreatePayment(ctx context.Context, tx pgx.Tx, p Payment) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO payments (appointment_id, amount_cents, tax_cents, currency, status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (appointment_id) DO NOTHING
	`, p.AppointmentID, p.AmountCents, p.TaxCents, p.Currency, p.Status)
	return err
}

func (r *Repository) GetPayment(ctx context.Context, appointmentID string) (Payment, error) {
	return r.getPayment(ctx, `appointment_id = $1`, appointmentID)
}

func (r *Repository) GetPaymentBySession(ctx context.Context, stripeSessionID string) (Payment, error) {
	return r.getPayment(ctx, `stripe_session_id = $1`, stripeSessionID)
}

func (r *Repository) getPayment(ctx context.Context, where string, arg any) (Payment, error) {
	var p Payment
	err := r.pool.QueryRow(ctx, `
		SELECT appointment_id::text, amount_cents, tax_cents, currency, status,
		       COALESCE(stripe_session_id, ''), COALESCE(checkout_url, ''), COALESCE(return_token, ''),
		       created_at, updated_at, paid_at, expired_at, canceled_at
		FROM payments
		WHERE `+where, arg).Scan(
		&p.AppointmentID, &p.AmountCents, &p.TaxCents, &p.Currency, &p.Status,
		&p.StripeSessionID, &p.CheckoutURL, &p.ReturnToken,
		&p.CreatedAt, &p.UpdatedAt, &p.PaidAt, &p.ExpiredAt, &p.CanceledAt,
	)
	if err != nil {
		return Payment{}, err
	}
	return p, nil
}

// AttachCheckoutSession stores the Stripe session opened for a payment and
// moves it to pending.
func (r *Repository) AttachCheckoutSession(ctx context.Context, tx pgx.Tx, appointmentID, stripeSessionID, checkoutURL, returnToken string) error {
	tag, err := tx.Exec(ctx, `
		UPDATE payments
		SET status = 'pending',
		    stripe_session_id = $2,
		    checkout_url = NULLIF($3, ''),
		    return_token = NULLIF($4, ''),
		    updated_at = now()
		WHERE appointment_id = $1 AND status IN ('created', 'pending')
	`, appointmentID, stripeSessionID, checkoutURL, returnToken)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// MarkPaymentPaid records the successful charge. Returns false when the
// payment was already paid, so webhook replays do not emit twice.
func (r *Repository) MarkPaymentPaid(ctx context.Context, tx pgx.Tx, stripeSessionID string, paidAt time.Time) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE payments
		SET status = 'paid', paid_at = $2, updated_at = now()
		WHERE stripe_session_id = $1 AND status <> 'paid'
	`, stripeSessionID, paidAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *Repository) MarkPaymentExpired(ctx context.Context, tx pgx.Tx, stripeSessionID string, expiredAt time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE payments
		SET status = 'expired', expired_at = $2, updated_at = now()
		WHERE stripe_session_id = $1 AND status <> 'paid'
	`, stripeSessionID, expiredAt)
	return err
}

// AckCheckoutReturn records the customer coming back from Stripe. The token
// keeps this public endpoint from touching other payments. Only a cancel
// result changes status, and never after the webhook marked it paid.
func (r *Repository) AckCheckoutReturn(ctx context.Context, tx pgx.Tx, stripeSessionID string, token string, result string, seenAt time.Time) error {
	if strings.TrimSpace(result) == "" {
		result = "unknown"
	}
	_, err := tx.Exec(ctx, `
		UPDATE payments
		SET status = CASE
		      WHEN $3 = 'cancel' AND status <> 'paid' THEN 'canceled'
		      ELSE status
		    END,
		    canceled_at = CASE
		      WHEN $3 = 'cancel' AND status <> 'paid' THEN COALESCE(canceled_at, $4)
		      ELSE canceled_at
		    END,
		    updated_at = now()
		WHERE stripe_session_id = $1 AND return_token = $2
	`, stripeSessionID, token, result, seenAt)
	return err
}

type ProviderEvent struct {
	Provider        string
	ProviderEventID string
	EventType       string
	Payload         []byte
}

var ErrDuplicateProviderEvent = errors.New("duplicate provider event")

func (r *Repository) InsertProviderEvent(ctx context.Context, tx pgx.Tx, evt ProviderEvent) error {
	var payload any
	if err := json.Unmarshal(evt.Payload, &payload); err != nil {
		// keep raw JSON error as a hard failure: webhook should be well-formed.
		return err
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO provider_events (provider, provider_event_id, event_type, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (provider, provider_event_id) DO NOTHING
	`, evt.Provider, evt.ProviderEventID, evt.EventType, payload)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateProviderEvent
	}
	return nil
}

type AuditEvent struct {
	EventType     string
	ActorType     string
	ActorID       string
	AppointmentID string
	Metadata      []byte
}

func (r *Repository) InsertAuditEvent(ctx context.Context, tx pgx.Tx, evt AuditEvent) error {
	var payload any
	if len(evt.Metadata) == 0 {
		payload = map[string]any{}
	} else if err := json.Unmarshal(evt.Metadata, &payload); err != nil {
		return err
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO audit_events (event_type, actor_type, actor_id, appointment_id, metadata)
		VALUES ($1, $2, $3, $4, $5)
	`, evt.EventType, evt.ActorType, nullIfEmpty(evt.ActorID), nullIfEmpty(evt.AppointmentID), payload)
	return err
}

func nullIfEmpty(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}
