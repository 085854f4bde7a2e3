package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/novadent/platform/libs/clock"
	"github.com/novadent/platform/libs/outbox"
	"github.com/novadent/platform/services/clinic-service/internal/storage"
)

type Handler struct {
	repo       *storage.Repository
	outboxRepo *outbox.Repository
	logger     *slog.Logger
}

func New(repo *storage.Repository, outboxRepo *outbox.Repository, logger *slog.Logger) *Handler {
	return &Handler{repo: repo, outboxRepo: outboxRepo, logger: logger}
}

func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s, err := h.repo.GetOrCreateSettings(r.Context())
	if err != nil {
		http.Error(w, "failed to load settings", http.StatusInternalServerError)
		return
	}

	_ = json.NewEncoder(w).Encode(map[string]any{
		"name":                     s.Name,
		"timezone":                 s.Timezone,
		"reminder_offsets_minutes": s.OffsetsMins,
		"max_reschedules":          s.MaxReschedules,
	})
}

func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Name                   string `json:"name"`
		Timezone               string `json:"timezone"`
		ReminderOffsetsMinutes []int  `json:"reminder_offsets_minutes"`
		MaxReschedules         int    `json:"max_reschedules"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Timezone = strings.TrimSpace(req.Timezone)
	if req.Timezone == "" {
		req.Timezone = "UTC"
	}

	var offsets []int
	for _, v := range req.ReminderOffsetsMinutes {
		if v <= 0 || v > 365*24*60 {
			http.Error(w, "invalid reminder_offsets_minutes", http.StatusBadRequest)
			return
		}
		offsets = append(offsets, v)
	}
	if req.MaxReschedules < 0 || req.MaxReschedules > 10 {
		http.Error(w, "invalid max_reschedules", http.StatusBadRequest)
		return
	}

	if err := h.repo.UpdateSettings(r.Context(), storage.ClinicSettings{
		Name:           req.Name,
		Timezone:       req.Timezone,
		OffsetsMins:    offsets,
		MaxReschedules: req.MaxReschedules,
	}); err != nil {
		http.Error(w, "failed to update settings", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) CreateService(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name         string  `json:"name"`
		DurationMins int     `json:"duration_minutes"`
		Price        float64 `json:"price"`
		Description  string  `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Description = strings.TrimSpace(req.Description)
	if req.Name == "" || req.DurationMins <= 0 || req.DurationMins > 8*60 {
		http.Error(w, "name and duration_minutes required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	id, err := h.repo.CreateService(ctx, tx, req.Name, req.DurationMins, strconv.FormatFloat(req.Price, 'f', 2, 64), req.Description)
	if err != nil {
		http.Error(w, "failed to create service", http.StatusInternalServerError)
		return
	}
	if err := h.publishServiceEvent(ctx, tx, id, req.Name, req.DurationMins, true); err != nil {
		http.Error(w, "failed to write outbox event", http.StatusInternalServerError)
		return
	}
	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]any{"id": id})
}

func (h *Handler) SetServiceActive(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ServiceID string `json:"service_id"`
		Active    bool   `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.ServiceID = strings.TrimSpace(req.ServiceID)
	if req.ServiceID == "" {
		http.Error(w, "service_id required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	svc, err := h.repo.SetServiceActive(ctx, tx, req.ServiceID, req.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			http.Error(w, "service not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to update service", http.StatusInternalServerError)
		return
	}
	if err := h.publishServiceEvent(ctx, tx, svc.ID, svc.Name, svc.DurationMins, svc.Active); err != nil {
		http.Error(w, "failed to write outbox event", http.StatusInternalServerError)
		return
	}
	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListServices(w http.ResponseWriter, r *http.Request) {
	services, err := h.repo.ListServices(r.Context(), 100)
	if err != nil {
		http.Error(w, "failed to list services", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(services)
}

func (h *Handler) CreateProvider(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name      string `json:"name"`
		Specialty string `json:"specialty"`
		IsActive  *bool  `json:"is_active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Specialty = strings.TrimSpace(req.Specialty)
	if req.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}
	isActive := true
	if req.IsActive != nil {
		isActive = *req.IsActive
	}

	ctx := r.Context()
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	id, seeded, err := h.repo.CreateProvider(ctx, tx, req.Name, req.Specialty, isActive)
	if err != nil {
		http.Error(w, "failed to create provider", http.StatusInternalServerError)
		return
	}
	for _, sched := range seeded {
		if err := h.publishScheduleEvent(ctx, tx, sched); err != nil {
			http.Error(w, "failed to write outbox event", http.StatusInternalServerError)
			return
		}
	}
	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]any{"id": id})
}

func (h *Handler) ListProviders(w http.ResponseWriter, r *http.Request) {
	providers, err := h.repo.ListProviders(r.Context(), 100)
	if err != nil {
		http.Error(w, "failed to list providers", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(providers)
}

func (h *Handler) ListSchedule(w http.ResponseWriter, r *http.Request) {
	providerID := strings.TrimSpace(r.URL.Query().Get("provider_id"))
	if providerID == "" {
		http.Error(w, "provider_id is required", http.StatusBadRequest)
		return
	}

	entries, err := h.repo.ListSchedule(r.Context(), providerID)
	if err != nil {
		http.Error(w, "failed to list schedule", http.StatusInternalServerError)
		return
	}

	type entryItem struct {
		Weekday        int     `json:"weekday"`
		IsAvailable    bool    `json:"is_available"`
		StartTime      string  `json:"start_time"`
		EndTime        string  `json:"end_time"`
		BreakStartTime *string `json:"break_start_time,omitempty"`
		BreakEndTime   *string `json:"break_end_time,omitempty"`
	}
	items := make([]entryItem, 0, len(entries))
	for _, e := range entries {
		item := entryItem{
			Weekday:     e.Weekday,
			IsAvailable: e.IsAvailable,
			StartTime:   clock.FormatHHMM(e.StartMinute),
			EndTime:     clock.FormatHHMM(e.EndMinute),
		}
		if e.BreakStart != nil && e.BreakEnd != nil {
			bs := clock.FormatHHMM(*e.BreakStart)
			be := clock.FormatHHMM(*e.BreakEnd)
			item.BreakStartTime = &bs
			item.BreakEndTime = &be
		}
		items = append(items, item)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(items)
}

func (h *Handler) UpsertSchedule(w http.ResponseWriter, r *http.Request) {
	providerID := strings.TrimSpace(r.URL.Query().Get("provider_id"))
	if providerID == "" {
		http.Error(w, "provider_id is required", http.StatusBadRequest)
		return
	}

	var req struct {
		Weekday        int     `json:"weekday"`
		IsAvailable    bool    `json:"is_available"`
		StartTime      string  `json:"start_time"`
		EndTime        string  `json:"end_time"`
		BreakStartTime *string `json:"break_start_time"`
		BreakEndTime   *string `json:"break_end_time"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if req.Weekday < 0 || req.Weekday > 6 {
		http.Error(w, "weekday must be between 0 and 6", http.StatusBadRequest)
		return
	}

	sched := storage.ProviderSchedule{
		ProviderID:  providerID,
		Weekday:     req.Weekday,
		IsAvailable: req.IsAvailable,
	}
	if req.IsAvailable {
		start, err := clock.ParseHHMM(strings.TrimSpace(req.StartTime))
		if err != nil {
			http.Error(w, "invalid start_time", http.StatusBadRequest)
			return
		}
		end, err := clock.ParseHHMM(strings.TrimSpace(req.EndTime))
		if err != nil {
			http.Error(w, "invalid end_time", http.StatusBadRequest)
			return
		}
		if start >= end {
			http.Error(w, "start_time must precede end_time", http.StatusBadRequest)
			return
		}
		sched.StartMinute = start
		sched.EndMinute = end

		if (req.BreakStartTime == nil) != (req.BreakEndTime == nil) {
			http.Error(w, "break requires both break_start_time and break_end_time", http.StatusBadRequest)
			return
		}
		if req.BreakStartTime != nil {
			bs, err := clock.ParseHHMM(strings.TrimSpace(*req.BreakStartTime))
			if err != nil {
				http.Error(w, "invalid break_start_time", http.StatusBadRequest)
				return
			}
			be, err := clock.ParseHHMM(strings.TrimSpace(*req.BreakEndTime))
			if err != nil {
				http.Error(w, "invalid break_end_time", http.StatusBadRequest)
				return
			}
			if bs >= be || bs < start || be > end {
				http.Error(w, "break window must sit inside the working window", http.StatusBadRequest)
				return
			}
			sched.BreakStart = &bs
			sched.BreakEnd = &be
		}
	}

	ctx := r.Context()
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := h.repo.UpsertSchedule(ctx, tx, sched); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			http.Error(w, "provider not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to upsert schedule", http.StatusInternalServerError)
		return
	}
	if err := h.publishScheduleEvent(ctx, tx, sched); err != nil {
		http.Error(w, "failed to write outbox event", http.StatusInternalServerError)
		return
	}
	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) CreateTimeOff(w http.ResponseWriter, r *http.Request) {
	providerID := strings.TrimSpace(r.URL.Query().Get("provider_id"))
	if providerID == "" {
		http.Error(w, "provider_id is required", http.StatusBadRequest)
		return
	}

	var req struct {
		Date      string `json:"date"`
		StartTime string `json:"start_time"`
		EndTime   string `json:"end_time"`
		Reason    string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.Reason = strings.TrimSpace(req.Reason)

	if _, err := clock.ParseDate(strings.TrimSpace(req.Date)); err != nil {
		http.Error(w, "invalid date", http.StatusBadRequest)
		return
	}
	start, err := clock.ParseHHMM(strings.TrimSpace(req.StartTime))
	if err != nil {
		http.Error(w, "invalid start_time", http.StatusBadRequest)
		return
	}
	end, err := clock.ParseHHMM(strings.TrimSpace(req.EndTime))
	if err != nil {
		http.Error(w, "invalid end_time", http.StatusBadRequest)
		return
	}
	if start >= end {
		http.Error(w, "start_time must precede end_time", http.StatusBadRequest)
		return
	}

	id, err := h.repo.CreateTimeOff(r.Context(), providerID, strings.TrimSpace(req.Date), start, end, req.Reason)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			http.Error(w, "provider not found", http.StatusNotFound)
			return
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23P01" {
			http.Error(w, "time off overlaps existing entry", http.StatusConflict)
			return
		}
		http.Error(w, "failed to create time off", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]any{"id": id})
}

func (h *Handler) ListTimeOff(w http.ResponseWriter, r *http.Request) {
	providerID := strings.TrimSpace(r.URL.Query().Get("provider_id"))
	dateStr := strings.TrimSpace(r.URL.Query().Get("date"))
	if providerID == "" || dateStr == "" {
		http.Error(w, "provider_id and date are required", http.StatusBadRequest)
		return
	}
	if _, err := clock.ParseDate(dateStr); err != nil {
		http.Error(w, "invalid date", http.StatusBadRequest)
		return
	}

	items, err := h.repo.ListTimeOff(r.Context(), providerID, dateStr, 100)
	if err != nil {
		http.Error(w, "failed to list time off", http.StatusInternalServerError)
		return
	}

	type timeOffItem struct {
		ID        string `json:"id"`
		Date      string `json:"date"`
		StartTime string `json:"start_time"`
		EndTime   string `json:"end_time"`
		Reason    string `json:"reason"`
	}
	out := make([]timeOffItem, 0, len(items))
	for _, t := range items {
		out = append(out, timeOffItem{
			ID:        t.ID,
			Date:      t.Date,
			StartTime: clock.FormatHHMM(t.StartMinute),
			EndTime:   clock.FormatHHMM(t.EndMinute),
			Reason:    t.Reason,
		})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(out)
}

func (h *Handler) DeleteTimeOff(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		http.Error(w, "id is required", http.StatusBadRequest)
		return
	}
	if err := h.repo.DeleteTimeOff(r.Context(), id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			http.Error(w, "time off not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to delete time off", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) publishScheduleEvent(ctx context.Context, tx pgx.Tx, s storage.ProviderSchedule) error {
	payload := map[string]any{
		"provider_id":  s.ProviderID,
		"weekday":      s.Weekday,
		"is_available": s.IsAvailable,
		"start_time":   clock.FormatHHMM(s.StartMinute),
		"end_time":     clock.FormatHHMM(s.EndMinute),
	}
	if s.BreakStart != nil && s.BreakEnd != nil {
		payload["break_start_time"] = clock.FormatHHMM(*s.BreakStart)
		payload["break_end_time"] = clock.FormatHHMM(*s.BreakEnd)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return h.outboxRepo.Insert(ctx, tx, outbox.Event{
		AggregateType: "provider_schedule",
		AggregateID:   s.ProviderID,
		EventType:     "clinic.schedule.updated.v1",
		Payload:       body,
	})
}

func (h *Handler) publishServiceEvent(ctx context.Context, tx pgx.Tx, id, name string, durationMins int, active bool) error {
	body, err := json.Marshal(map[string]any{
		"service_id":       id,
		"name":             name,
		"duration_minutes": durationMins,
		"active":           active,
	})
	if err != nil {
		return err
	}
	return h.outboxRepo.Insert(ctx, tx, outbox.Event{
		AggregateType: "service",
		AggregateID:   id,
		EventType:     "clinic.service.upserted.v1",
		Payload:       body,
	})
}
