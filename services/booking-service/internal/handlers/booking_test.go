package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/novadent/platform/services/booking-service/internal/model"
	"github.com/novadent/platform/services/booking-service/internal/policy"
)

type stubPolicy struct {
	max    int
	maxErr error
}

func (s stubPolicy) ReminderOffsets(context.Context) ([]time.Duration, error) {
	return nil, nil
}

func (s stubPolicy) MaxReschedules(context.Context) (int, error) {
	return s.max, s.maxErr
}

func testHandler(p policy.Provider) *BookingHandler {
	return NewBookingHandler(nil, nil, nil, slog.New(slog.DiscardHandler), p, nil)
}

func TestRescheduleCapBlocksWithoutWriting(t *testing.T) {
	h := testHandler(stubPolicy{max: 2})
	appt := &model.Appointment{Status: model.StatusConfirmed, RescheduleCount: 2}

	status, msg, ok := h.checkRescheduleAllowed(context.Background(), appt)
	if ok {
		t.Fatal("expected appointment at the limit to be blocked")
	}
	if status != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d", status, http.StatusUnprocessableEntity)
	}
	if msg != "reschedule limit reached" {
		t.Fatalf("unexpected message %q", msg)
	}

	appt.RescheduleCount = 1
	if _, _, ok := h.checkRescheduleAllowed(context.Background(), appt); !ok {
		t.Fatal("expected appointment under the limit to pass")
	}
}

func TestRescheduleCapFallsBackToDefault(t *testing.T) {
	h := testHandler(stubPolicy{maxErr: errors.New("clinic unreachable")})
	appt := &model.Appointment{Status: model.StatusPending, RescheduleCount: policy.DefaultMaxReschedules}

	if status, _, ok := h.checkRescheduleAllowed(context.Background(), appt); ok || status != http.StatusUnprocessableEntity {
		t.Fatalf("expected default cap to block, got ok=%v status=%d", ok, status)
	}

	appt.RescheduleCount = policy.DefaultMaxReschedules - 1
	if _, _, ok := h.checkRescheduleAllowed(context.Background(), appt); !ok {
		t.Fatal("expected default cap to allow one more move")
	}
}

func TestRescheduleInactiveAppointmentConflicts(t *testing.T) {
	h := testHandler(stubPolicy{max: 5})
	appt := &model.Appointment{Status: model.StatusCancelled}

	status, _, ok := h.checkRescheduleAllowed(context.Background(), appt)
	if ok || status != http.StatusConflict {
		t.Fatalf("expected conflict for cancelled appointment, got ok=%v status=%d", ok, status)
	}
}

func TestResolveDuration(t *testing.T) {
	svc := model.Service{DurationMinutes: 60}
	if got := resolveDuration(0, svc); got != 60 {
		t.Fatalf("no override: got %d, want 60", got)
	}
	if got := resolveDuration(90, svc); got != 90 {
		t.Fatalf("override: got %d, want 90", got)
	}
}

func TestValidDuration(t *testing.T) {
	for _, n := range []int{1, 30, maxDurationMinutes} {
		if !validDuration(n) {
			t.Fatalf("expected %d to be valid", n)
		}
	}
	for _, n := range []int{0, -15, maxDurationMinutes + 1} {
		if validDuration(n) {
			t.Fatalf("expected %d to be rejected", n)
		}
	}
}

func TestSlotsRejectsBadDurationParam(t *testing.T) {
	h := testHandler(nil)
	for _, raw := range []string{"abc", "0", "-30", "1000"} {
		req := httptest.NewRequest(http.MethodGet,
			"/api/v1/public/slots?provider_id=p1&service_id=s1&date=2026-09-10&duration_minutes="+raw, nil)
		rec := httptest.NewRecorder()
		h.Slots(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("duration_minutes=%s: got %d, want %d", raw, rec.Code, http.StatusBadRequest)
		}
	}
}

func TestCreateRejectsBadDurationOverride(t *testing.T) {
	h := testHandler(nil)
	body := `{"provider_id":"p1","service_id":"s1","patient_name":"Alice","date":"2026-09-10","start_time":"09:00","duration_minutes":-30}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/public/book", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Create(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("got %d, want %d", rec.Code, http.StatusBadRequest)
	}
}
