package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/novadent/platform/libs/clock"
	"github.com/novadent/platform/libs/outbox"
	"github.com/novadent/platform/services/booking-service/internal/availability"
	"github.com/novadent/platform/services/booking-service/internal/model"
	"github.com/novadent/platform/services/booking-service/internal/policy"
	"github.com/novadent/platform/services/booking-service/internal/scheduling"
	"github.com/novadent/platform/services/booking-service/internal/storage"
)

type BookingHandler struct {
	repo       *storage.BookingRepository
	schedules  *storage.ScheduleRepository
	outboxRepo *outbox.Repository
	logger     *slog.Logger
	policy     policy.Provider
	scheduling scheduling.Provider
}

func NewBookingHandler(repo *storage.BookingRepository, schedules *storage.ScheduleRepository, outboxRepo *outbox.Repository, logger *slog.Logger, policyProvider policy.Provider, schedulingProvider scheduling.Provider) *BookingHandler {
	return &BookingHandler{
		repo:       repo,
		schedules:  schedules,
		outboxRepo: outboxRepo,
		logger:     logger,
		policy:     policyProvider,
		scheduling: schedulingProvider,
	}
}

type createBookingRequest struct {
	ProviderID   string `json:"provider_id"`
	ServiceID    string `json:"service_id"`
	PatientName  string `json:"patient_name"`
	PatientEmail string `json:"patient_email"`
	PatientPhone string `json:"patient_phone"`
	Date         string `json:"date"`
	StartTime    string `json:"start_time"`
	// Optional override; the cached service duration applies when zero.
	DurationMinutes int `json:"duration_minutes"`
}

type createBookingResponse struct {
	AppointmentID    string `json:"appointment_id"`
	ConfirmationCode string `json:"confirmation_code"`
	Status           string `json:"status"`
}

type cancelBookingRequest struct {
	AppointmentID string `json:"appointment_id"`
	Reason        string `json:"reason"`
}

type cancelBookingResponse struct {
	AppointmentID string `json:"appointment_id"`
	Status        string `json:"status"`
	CancelledAt   string `json:"cancelled_at"`
}

type transitionRequest struct {
	AppointmentID string `json:"appointment_id"`
}

type rescheduleRequest struct {
	AppointmentID string `json:"appointment_id"`
	Date          string `json:"date"`
	StartTime     string `json:"start_time"`
	MovedBy       string `json:"moved_by"`
}

type appointmentItem struct {
	AppointmentID    string `json:"appointment_id"`
	ProviderID       string `json:"provider_id"`
	ServiceID        string `json:"service_id"`
	PatientName      string `json:"patient_name"`
	Date             string `json:"date"`
	StartTime        string `json:"start_time"`
	EndTime          string `json:"end_time"`
	Status           string `json:"status"`
	ConfirmationCode string `json:"confirmation_code"`
	RescheduleCount  int    `json:"reschedule_count"`
	CancelledAt      string `json:"cancelled_at,omitempty"`
	CreatedAt        string `json:"created_at"`
}

type slotItem struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

// Slots serves the public availability query. A missing schedule entry or a
// day marked unavailable yields an empty list, not an error.
func (h *BookingHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	providerID := strings.TrimSpace(r.URL.Query().Get("provider_id"))
	serviceID := strings.TrimSpace(r.URL.Query().Get("service_id"))
	dateStr := strings.TrimSpace(r.URL.Query().Get("date"))
	if providerID == "" || serviceID == "" || dateStr == "" {
		http.Error(w, "provider_id, service_id, and date are required", http.StatusBadRequest)
		return
	}

	day, err := clock.ParseDate(dateStr)
	if err != nil {
		http.Error(w, "invalid date", http.StatusBadRequest)
		return
	}

	durationOverride := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("duration_minutes")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || !validDuration(n) {
			http.Error(w, "invalid duration_minutes", http.StatusBadRequest)
			return
		}
		durationOverride = n
	}

	svc, err := h.schedules.GetService(r.Context(), serviceID)
	if err != nil {
		if errors.Is(err, storage.ErrServiceNotFound) {
			http.Error(w, "unknown service", http.StatusBadRequest)
			return
		}
		http.Error(w, "failed to load service", http.StatusInternalServerError)
		return
	}
	if !svc.Active {
		http.Error(w, "unknown service", http.StatusBadRequest)
		return
	}

	entry, err := h.schedules.GetScheduleEntry(r.Context(), providerID, clock.Weekday(day))
	if err != nil {
		if errors.Is(err, storage.ErrScheduleNotFound) {
			writeJSON(w, http.StatusOK, []slotItem{})
			return
		}
		http.Error(w, "failed to load schedule", http.StatusInternalServerError)
		return
	}
	if !entry.IsAvailable {
		writeJSON(w, http.StatusOK, []slotItem{})
		return
	}

	busy, skipped, err := h.repo.ListActiveIntervals(r.Context(), providerID, dateStr, "")
	if err != nil {
		http.Error(w, "failed to load booked slots", http.StatusInternalServerError)
		return
	}
	if skipped > 0 {
		h.logger.Warn("skipped malformed appointment rows", "count", skipped, "provider_id", providerID, "date", dateStr)
	}

	// Approved time off narrows the day further. Best effort on the read
	// path: a provider outage should not take the whole slot query down.
	if timeOff, err := h.timeOffIntervals(r.Context(), providerID, dateStr); err != nil {
		h.logger.Warn("time off fetch failed, computing without it", "err", err)
	} else {
		busy = append(busy, timeOff...)
	}

	duration := resolveDuration(durationOverride, svc)
	slots := availability.Slots(entry.StartMinute, entry.EndMinute, duration, breaksOf(entry), busy)
	resp := make([]slotItem, 0, len(slots))
	for _, s := range slots {
		resp = append(resp, slotItem{
			StartTime: clock.FormatHHMM(s),
			EndTime:   clock.FormatHHMM(s + duration),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req createBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	req.ProviderID = strings.TrimSpace(req.ProviderID)
	req.ServiceID = strings.TrimSpace(req.ServiceID)
	req.PatientName = strings.TrimSpace(req.PatientName)
	req.Date = strings.TrimSpace(req.Date)
	req.StartTime = strings.TrimSpace(req.StartTime)

	if req.ProviderID == "" || req.ServiceID == "" || req.PatientName == "" {
		http.Error(w, "missing required fields", http.StatusBadRequest)
		return
	}
	day, err := clock.ParseDate(req.Date)
	if err != nil {
		http.Error(w, "invalid date", http.StatusBadRequest)
		return
	}
	start, err := clock.ParseHHMM(req.StartTime)
	if err != nil {
		http.Error(w, "invalid start_time", http.StatusBadRequest)
		return
	}
	if req.DurationMinutes != 0 && !validDuration(req.DurationMinutes) {
		http.Error(w, "invalid duration_minutes", http.StatusBadRequest)
		return
	}

	svc, err := h.schedules.GetService(r.Context(), req.ServiceID)
	if err != nil {
		if errors.Is(err, storage.ErrServiceNotFound) {
			http.Error(w, "unknown service", http.StatusBadRequest)
			return
		}
		http.Error(w, "failed to load service", http.StatusInternalServerError)
		return
	}
	if !svc.Active {
		http.Error(w, "unknown service", http.StatusBadRequest)
		return
	}
	end := start + resolveDuration(req.DurationMinutes, svc)

	ctx := r.Context()
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	idempotencyKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if idempotencyKey != "" {
		rec, exists, err := h.repo.LockIdempotencyKey(ctx, tx, idempotencyKey)
		if err != nil {
			http.Error(w, "failed to lock idempotency key", http.StatusInternalServerError)
			return
		}
		if exists && rec.StatusCode > 0 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(rec.StatusCode)
			if len(rec.ResponsePayload) > 0 {
				_, _ = w.Write(rec.ResponsePayload)
				return
			}
			_ = json.NewEncoder(w).Encode(createBookingResponse{AppointmentID: rec.AppointmentID})
			return
		}
	}

	ok, status, msg, err := h.checkSlotBookable(ctx, tx, req.ProviderID, clock.Weekday(day), req.Date, start, end, "")
	if err != nil {
		// Do not finalize idempotency on dependency errors; the client may
		// retry with the same key once the dependency recovers.
		http.Error(w, "availability check unavailable", http.StatusServiceUnavailable)
		return
	}
	if !ok {
		if idempotencyKey != "" && status != http.StatusConflict {
			if h.finalizeIdempotencyError(ctx, tx, idempotencyKey, status, msg) {
				_ = tx.Commit(ctx)
				return
			}
		}
		http.Error(w, msg, status)
		return
	}

	appt := &model.Appointment{
		ProviderID:       req.ProviderID,
		ServiceID:        req.ServiceID,
		PatientName:      req.PatientName,
		PatientEmail:     strings.TrimSpace(req.PatientEmail),
		PatientPhone:     strings.TrimSpace(req.PatientPhone),
		Date:             req.Date,
		StartMinute:      start,
		EndMinute:        end,
		Status:           model.StatusPending,
		ConfirmationCode: model.NewConfirmationCode(),
	}

	id, err := h.repo.Create(ctx, tx, appt)
	if err != nil {
		if storage.IsConflict(err) {
			http.Error(w, "time slot already booked", http.StatusConflict)
			return
		}
		http.Error(w, "failed to create appointment", http.StatusInternalServerError)
		return
	}

	evtPayload, err := json.Marshal(map[string]any{
		"appointment_id":    id,
		"provider_id":       appt.ProviderID,
		"service_id":        appt.ServiceID,
		"service_name":      svc.Name,
		"patient_name":      appt.PatientName,
		"patient_email":     appt.PatientEmail,
		"patient_phone":     appt.PatientPhone,
		"date":              appt.Date,
		"start_time":        clock.FormatHHMM(appt.StartMinute),
		"end_time":          clock.FormatHHMM(appt.EndMinute),
		"confirmation_code": appt.ConfirmationCode,
	})
	if err != nil {
		http.Error(w, "failed to build event payload", http.StatusInternalServerError)
		return
	}
	if err := h.outboxRepo.Insert(ctx, tx, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   id,
		EventType:     "booking.appointment.booked.v1",
		Payload:       evtPayload,
	}); err != nil {
		http.Error(w, "failed to write outbox event", http.StatusInternalServerError)
		return
	}

	h.requestReminders(ctx, tx, id, appt, svc.Name)

	respBody, err := json.Marshal(createBookingResponse{
		AppointmentID:    id,
		ConfirmationCode: appt.ConfirmationCode,
		Status:           appt.Status,
	})
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	if idempotencyKey != "" {
		if err := h.repo.FinalizeIdempotency(ctx, tx, idempotencyKey, id, http.StatusCreated, respBody); err != nil {
			http.Error(w, "failed to finalize idempotency key", http.StatusInternalServerError)
			return
		}
	}

	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write(respBody)
}

func (h *BookingHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, model.StatusConfirmed)
}

func (h *BookingHandler) Complete(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, model.StatusCompleted)
}

func (h *BookingHandler) NoShow(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, model.StatusNoShow)
}

func (h *BookingHandler) transition(w http.ResponseWriter, r *http.Request, to string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	if req.AppointmentID == "" {
		http.Error(w, "appointment_id required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err := h.repo.GetAppointmentForUpdate(ctx, tx, req.AppointmentID)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "appointment not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load appointment", http.StatusInternalServerError)
		return
	}

	if appt.Status == to {
		writeJSON(w, http.StatusOK, map[string]string{"appointment_id": appt.ID, "status": appt.Status})
		return
	}
	if !model.CanTransition(appt.Status, to) {
		http.Error(w, "invalid status transition", http.StatusConflict)
		return
	}
	if err := h.repo.UpdateStatus(ctx, tx, appt.ID, to); err != nil {
		http.Error(w, "failed to update appointment", http.StatusInternalServerError)
		return
	}
	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"appointment_id": appt.ID, "status": to})
}

func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req cancelBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	req.Reason = strings.TrimSpace(req.Reason)
	if req.AppointmentID == "" {
		http.Error(w, "appointment_id required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err := h.repo.GetAppointmentForUpdate(ctx, tx, req.AppointmentID)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "appointment not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load appointment", http.StatusInternalServerError)
		return
	}

	if appt.Status == model.StatusCancelled && appt.CancelledAt != nil {
		h.writeCancelResponse(w, appt.ID, appt.CancelledAt.UTC())
		return
	}
	if !model.CanTransition(appt.Status, model.StatusCancelled) {
		http.Error(w, "appointment cannot be cancelled", http.StatusConflict)
		return
	}

	cancelledAt, err := h.repo.CancelAppointment(ctx, tx, appt.ID, req.Reason)
	if err != nil {
		http.Error(w, "failed to cancel appointment", http.StatusInternalServerError)
		return
	}

	cancelPayload, err := json.Marshal(map[string]any{
		"appointment_id": appt.ID,
		"provider_id":    appt.ProviderID,
		"service_id":     appt.ServiceID,
		"patient_email":  appt.PatientEmail,
		"patient_phone":  appt.PatientPhone,
		"date":           appt.Date,
		"start_time":     clock.FormatHHMM(appt.StartMinute),
		"end_time":       clock.FormatHHMM(appt.EndMinute),
		"cancelled_at":   cancelledAt.UTC().Format(time.RFC3339),
		"reason":         req.Reason,
	})
	if err != nil {
		http.Error(w, "failed to build cancellation event", http.StatusInternalServerError)
		return
	}
	if err := h.outboxRepo.Insert(ctx, tx, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   appt.ID,
		EventType:     "booking.appointment.cancelled.v1",
		Payload:       cancelPayload,
	}); err != nil {
		http.Error(w, "failed to write outbox event", http.StatusInternalServerError)
		return
	}

	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}
	h.writeCancelResponse(w, appt.ID, cancelledAt.UTC())
}

// Reschedule moves an active appointment to a new slot. The reschedule cap
// is checked before any availability work so a capped appointment never
// writes anything.
func (h *BookingHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req rescheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	req.Date = strings.TrimSpace(req.Date)
	req.StartTime = strings.TrimSpace(req.StartTime)
	if req.AppointmentID == "" {
		http.Error(w, "appointment_id required", http.StatusBadRequest)
		return
	}
	day, err := clock.ParseDate(req.Date)
	if err != nil {
		http.Error(w, "invalid date", http.StatusBadRequest)
		return
	}
	start, err := clock.ParseHHMM(req.StartTime)
	if err != nil {
		http.Error(w, "invalid start_time", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err := h.repo.GetAppointmentForUpdate(ctx, tx, req.AppointmentID)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "appointment not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load appointment", http.StatusInternalServerError)
		return
	}
	if status, msg, ok := h.checkRescheduleAllowed(ctx, &appt); !ok {
		http.Error(w, msg, status)
		return
	}

	duration := appt.EndMinute - appt.StartMinute
	end := start + duration

	ok, status, msg, err := h.checkSlotBookable(ctx, tx, appt.ProviderID, clock.Weekday(day), req.Date, start, end, appt.ID)
	if err != nil {
		http.Error(w, "availability check unavailable", http.StatusServiceUnavailable)
		return
	}
	if !ok {
		http.Error(w, msg, status)
		return
	}

	entry := model.RescheduleEntry{
		FromDate:        appt.Date,
		FromStartMinute: appt.StartMinute,
		FromEndMinute:   appt.EndMinute,
		ToDate:          req.Date,
		ToStartMinute:   start,
		ToEndMinute:     end,
		MovedAt:         time.Now().UTC(),
		MovedBy:         strings.TrimSpace(req.MovedBy),
	}
	if err := h.repo.Reschedule(ctx, tx, appt.ID, req.Date, start, end, entry); err != nil {
		if storage.IsConflict(err) {
			http.Error(w, "time slot already booked", http.StatusConflict)
			return
		}
		http.Error(w, "failed to reschedule appointment", http.StatusInternalServerError)
		return
	}

	evtPayload, err := json.Marshal(map[string]any{
		"appointment_id": appt.ID,
		"provider_id":    appt.ProviderID,
		"service_id":     appt.ServiceID,
		"patient_email":  appt.PatientEmail,
		"patient_phone":  appt.PatientPhone,
		"from_date":      appt.Date,
		"from_start":     clock.FormatHHMM(appt.StartMinute),
		"to_date":        req.Date,
		"start_time":     clock.FormatHHMM(start),
		"end_time":       clock.FormatHHMM(end),
	})
	if err != nil {
		http.Error(w, "failed to build event payload", http.StatusInternalServerError)
		return
	}
	if err := h.outboxRepo.Insert(ctx, tx, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   appt.ID,
		EventType:     "booking.appointment.rescheduled.v1",
		Payload:       evtPayload,
	}); err != nil {
		http.Error(w, "failed to write outbox event", http.StatusInternalServerError)
		return
	}

	moved := appt
	moved.Date = req.Date
	moved.StartMinute = start
	moved.EndMinute = end
	h.requestReminders(ctx, tx, appt.ID, &moved, "")

	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"appointment_id":   appt.ID,
		"date":             req.Date,
		"start_time":       clock.FormatHHMM(start),
		"end_time":         clock.FormatHHMM(end),
		"status":           appt.Status,
		"reschedule_count": appt.RescheduleCount + 1,
	})
}

func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	providerID := strings.TrimSpace(r.URL.Query().Get("provider_id"))
	dateStr := strings.TrimSpace(r.URL.Query().Get("date"))
	patientEmail := strings.TrimSpace(r.URL.Query().Get("patient_email"))

	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	var appts []model.Appointment
	var err error
	switch {
	case providerID != "" && dateStr != "":
		if _, derr := clock.ParseDate(dateStr); derr != nil {
			http.Error(w, "invalid date", http.StatusBadRequest)
			return
		}
		appts, err = h.repo.ListByProviderDate(r.Context(), providerID, dateStr, limit)
	case patientEmail != "":
		appts, err = h.repo.ListByPatientEmail(r.Context(), patientEmail, limit)
	default:
		http.Error(w, "provider_id with date, or patient_email required", http.StatusBadRequest)
		return
	}
	if err != nil {
		http.Error(w, "failed to list appointments", http.StatusInternalServerError)
		return
	}

	items := make([]appointmentItem, 0, len(appts))
	for _, appt := range appts {
		items = append(items, toItem(appt))
	}
	writeJSON(w, http.StatusOK, items)
}

// Lookup resolves an appointment by its confirmation code for patients who
// bookmarked the reference instead of an id.
func (h *BookingHandler) Lookup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	code := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("code")))
	if code == "" {
		http.Error(w, "code required", http.StatusBadRequest)
		return
	}
	appt, err := h.repo.GetByConfirmationCode(r.Context(), code)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "appointment not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load appointment", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, toItem(appt))
}

// checkSlotBookable validates a proposed slot against the provider schedule,
// the break window, approved time off, and active appointments. A non-nil
// error means a dependency failed and the result is unknown.
func (h *BookingHandler) checkSlotBookable(ctx context.Context, tx pgx.Tx, providerID string, weekday int, date string, start, end int, excludeID string) (bool, int, string, error) {
	const outsideMsg = "requested time is outside provider availability"

	entry, err := h.schedules.GetScheduleEntry(ctx, providerID, weekday)
	if err != nil {
		if errors.Is(err, storage.ErrScheduleNotFound) {
			return false, http.StatusUnprocessableEntity, outsideMsg, nil
		}
		return false, 0, "", err
	}
	if !entry.IsAvailable {
		return false, http.StatusUnprocessableEntity, outsideMsg, nil
	}
	if start < entry.StartMinute || end > entry.EndMinute {
		return false, http.StatusUnprocessableEntity, outsideMsg, nil
	}
	if (start-entry.StartMinute)%availability.StepMinutes != 0 {
		return false, http.StatusUnprocessableEntity, "start_time must fall on a slot boundary", nil
	}
	if availability.HasConflict(start, end-start, breaksOf(entry)) {
		return false, http.StatusUnprocessableEntity, outsideMsg, nil
	}

	timeOff, err := h.timeOffIntervals(ctx, providerID, date)
	if err != nil {
		return false, 0, "", err
	}
	if availability.HasConflict(start, end-start, timeOff) {
		return false, http.StatusUnprocessableEntity, outsideMsg, nil
	}

	busy, skipped, err := h.repo.ListActiveIntervalsTx(ctx, tx, providerID, date, excludeID)
	if err != nil {
		return false, 0, "", err
	}
	if skipped > 0 {
		h.logger.Warn("skipped malformed appointment rows", "count", skipped, "provider_id", providerID, "date", date)
	}
	if availability.HasConflict(start, end-start, busy) {
		return false, http.StatusConflict, "time slot already booked", nil
	}
	return true, 0, "", nil
}

// checkRescheduleAllowed gates a move before any availability work runs, so
// a blocked appointment never reaches a write.
func (h *BookingHandler) checkRescheduleAllowed(ctx context.Context, appt *model.Appointment) (int, string, bool) {
	if !model.IsActive(appt.Status) {
		return http.StatusConflict, "appointment cannot be rescheduled", false
	}
	max := policy.DefaultMaxReschedules
	if h.policy != nil {
		if m, err := h.policy.MaxReschedules(ctx); err == nil && m > 0 {
			max = m
		} else if err != nil {
			h.logger.Warn("policy max reschedules fetch failed; using default", "err", err)
		}
	}
	if appt.RescheduleCount >= max {
		return http.StatusUnprocessableEntity, "reschedule limit reached", false
	}
	return 0, "", true
}

func (h *BookingHandler) timeOffIntervals(ctx context.Context, providerID, date string) ([]availability.Interval, error) {
	if h.scheduling == nil {
		return nil, nil
	}
	reqCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	windows, err := h.scheduling.TimeOffWindows(reqCtx, providerID, date)
	if err != nil {
		return nil, err
	}
	out := make([]availability.Interval, 0, len(windows))
	for _, w := range windows {
		out = append(out, availability.Interval{Start: w.StartMinute, End: w.EndMinute})
	}
	return out, nil
}

func (h *BookingHandler) requestReminders(ctx context.Context, tx pgx.Tx, appointmentID string, appt *model.Appointment, serviceName string) {
	var offsets []time.Duration
	if h.policy != nil {
		if policyOffsets, err := h.policy.ReminderOffsets(ctx); err == nil && len(policyOffsets) > 0 {
			offsets = policyOffsets
		} else if err != nil {
			h.logger.Warn("policy offsets fetch failed; skipping reminders", "err", err)
		}
	}

	day, err := clock.ParseDate(appt.Date)
	if err != nil {
		h.logger.Error("invalid appointment date for reminders", "date", appt.Date)
		return
	}
	startAt := day.Add(time.Duration(appt.StartMinute) * time.Minute)
	now := time.Now().UTC()

	for _, offset := range offsets {
		remindAt := startAt.Add(-offset)
		if remindAt.Before(now) {
			continue
		}
		h.enqueueReminder(ctx, tx, appointmentID, appt, serviceName, remindAt, "email", appt.PatientEmail)
		h.enqueueReminder(ctx, tx, appointmentID, appt, serviceName, remindAt, "sms", appt.PatientPhone)
	}
}

func (h *BookingHandler) enqueueReminder(ctx context.Context, tx pgx.Tx, appointmentID string, appt *model.Appointment, serviceName string, remindAt time.Time, channel, recipient string) {
	if strings.TrimSpace(recipient) == "" {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"appointment_id": appointmentID,
		"channel":        channel,
		"recipient":      recipient,
		"remind_at":      remindAt.UTC().Format(time.RFC3339),
		"template_data": map[string]any{
			"patient_name": appt.PatientName,
			"service_name": serviceName,
			"date":         appt.Date,
			"start_time":   clock.FormatHHMM(appt.StartMinute),
		},
	})
	if err != nil {
		h.logger.Error("failed to build reminder payload", "err", err)
		return
	}
	if err := h.outboxRepo.Insert(ctx, tx, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   appointmentID,
		EventType:     "booking.reminder.requested.v1",
		Payload:       payload,
	}); err != nil {
		h.logger.Error("failed to enqueue reminder", "err", err)
	}
}

func (h *BookingHandler) writeCancelResponse(w http.ResponseWriter, appointmentID string, cancelledAt time.Time) {
	writeJSON(w, http.StatusOK, cancelBookingResponse{
		AppointmentID: appointmentID,
		Status:        model.StatusCancelled,
		CancelledAt:   cancelledAt.Format(time.RFC3339),
	})
}

func (h *BookingHandler) finalizeIdempotencyError(ctx context.Context, tx pgx.Tx, key string, statusCode int, msg string) bool {
	body, err := json.Marshal(map[string]string{"error": msg})
	if err != nil {
		return false
	}
	if err := h.repo.FinalizeIdempotency(ctx, tx, key, "", statusCode, body); err != nil {
		h.logger.Error("failed to finalize idempotency (error)", "err", err)
		return false
	}
	return true
}

// maxDurationMinutes mirrors the catalog cap enforced by model.Service.
const maxDurationMinutes = 8 * 60

func validDuration(n int) bool {
	return n > 0 && n <= maxDurationMinutes
}

// resolveDuration prefers an explicit override over the cached service
// duration. Zero means no override was supplied.
func resolveDuration(override int, svc model.Service) int {
	if override > 0 {
		return override
	}
	return svc.DurationMinutes
}

func breaksOf(entry model.ScheduleEntry) []availability.Interval {
	if entry.BreakStart == nil || entry.BreakEnd == nil {
		return nil
	}
	return []availability.Interval{{Start: *entry.BreakStart, End: *entry.BreakEnd}}
}

func toItem(appt model.Appointment) appointmentItem {
	item := appointmentItem{
		AppointmentID:    appt.ID,
		ProviderID:       appt.ProviderID,
		ServiceID:        appt.ServiceID,
		PatientName:      appt.PatientName,
		Date:             appt.Date,
		StartTime:        clock.FormatHHMM(appt.StartMinute),
		EndTime:          clock.FormatHHMM(appt.EndMinute),
		Status:           appt.Status,
		ConfirmationCode: appt.ConfirmationCode,
		RescheduleCount:  appt.RescheduleCount,
		CreatedAt:        appt.CreatedAt.UTC().Format(time.RFC3339),
	}
	if appt.CancelledAt != nil {
		item.CancelledAt = appt.CancelledAt.UTC().Format(time.RFC3339)
	}
	return item
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
