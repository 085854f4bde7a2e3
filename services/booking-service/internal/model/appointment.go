package model

import (
	"crypto/rand"
	"time"
)

const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
	StatusNoShow    = "no_show"
)

type Appointment struct {
	ID               string
	ProviderID       string
	ServiceID        string
	PatientName      string
	PatientEmail     string
	PatientPhone     string
	Date             string // YYYY-MM-DD
	StartMinute      int
	EndMinute        int
	Status           string
	ConfirmationCode string
	RescheduleCount  int
	CancelledAt      *time.Time
	CancelReason     string
	CreatedAt        time.Time
}

// RescheduleEntry records one move of an appointment. Entries are appended
// to the appointment's history, never rewritten.
type RescheduleEntry struct {
	FromDate        string    `json:"from_date"`
	FromStartMinute int       `json:"from_start_minute"`
	FromEndMinute   int       `json:"from_end_minute"`
	ToDate          string    `json:"to_date"`
	ToStartMinute   int       `json:"to_start_minute"`
	ToEndMinute     int       `json:"to_end_minute"`
	MovedAt         time.Time `json:"moved_at"`
	MovedBy         string    `json:"moved_by,omitempty"`
}

// IsActive reports whether an appointment in this status blocks its time
// slot. Completed, cancelled, and no-show appointments free the slot.
func IsActive(status string) bool {
	return status == StatusPending || status == StatusConfirmed
}

func ValidStatus(status string) bool {
	switch status {
	case StatusPending, StatusConfirmed, StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

// CanTransition enforces the appointment lifecycle:
// pending -> confirmed -> completed, and pending|confirmed -> cancelled|no_show.
func CanTransition(from, to string) bool {
	switch from {
	case StatusPending:
		return to == StatusConfirmed || to == StatusCancelled || to == StatusNoShow
	case StatusConfirmed:
		return to == StatusCompleted || to == StatusCancelled || to == StatusNoShow
	}
	return false
}

// Alphabet without 0/O, 1/I/L to keep codes readable over the phone.
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// NewConfirmationCode returns a short human-readable booking reference.
func NewConfirmationCode() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf)
}
