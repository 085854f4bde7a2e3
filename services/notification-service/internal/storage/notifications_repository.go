package storage

import (
	"context"
	"encoding/json"

	"github.com/novadent/platform/libs/db"
)

// Notification is the delivery record kept for every send attempt.
type Notification struct {
	AppointmentID string
	Channel       string
	Recipient     string
	TemplateName  string
	Payload       map[string]any
	Status        string
	FailureReason string
	ProviderID    string
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Insert(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n.Payload)
	if err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO notifications
			(appointment_id, channel, recipient, template_name, payload, status, failure_reason, provider_id)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''))
	`, n.AppointmentID, n.Channel, n.Recipient, n.TemplateName, payload, n.Status, n.FailureReason, n.ProviderID)
	return err
}
