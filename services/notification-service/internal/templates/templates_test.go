package templates

import (
	"strings"
	"testing"
)

func TestRenderReminder(t *testing.T) {
	msg, err := Render("appointment_reminder", Data{
		PatientName: "Alice",
		ServiceName: "Dental Cleaning",
		Date:        "2026-03-10",
		StartTime:   "09:30",
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if msg.Subject != "Appointment reminder" {
		t.Fatalf("unexpected subject %q", msg.Subject)
	}
	for _, want := range []string{"Alice", "Dental Cleaning", "2026-03-10", "09:30"} {
		if !strings.Contains(msg.Body, want) {
			t.Fatalf("body missing %q: %s", want, msg.Body)
		}
	}
	if !strings.Contains(msg.SMS, "09:30") {
		t.Fatalf("sms missing start time: %s", msg.SMS)
	}
}

func TestRenderBookedIncludesConfirmationCode(t *testing.T) {
	msg, err := Render("appointment_booked", Data{
		PatientName:      "Bob",
		ServiceName:      "Root Canal",
		Date:             "2026-03-11",
		StartTime:        "14:00",
		ConfirmationCode: "XK4T9ZQW",
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(msg.Body, "XK4T9ZQW") {
		t.Fatalf("body missing confirmation code: %s", msg.Body)
	}
	if !strings.Contains(msg.SMS, "XK4T9ZQW") {
		t.Fatalf("sms missing confirmation code: %s", msg.SMS)
	}
}

func TestRenderCancelledReason(t *testing.T) {
	withReason, err := Render("appointment_cancelled", Data{Date: "2026-03-12", StartTime: "10:00", Reason: "patient request"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(withReason.Body, "patient request") {
		t.Fatalf("body missing reason: %s", withReason.Body)
	}

	withoutReason, err := Render("appointment_cancelled", Data{Date: "2026-03-12", StartTime: "10:00"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if strings.Contains(withoutReason.Body, "Reason:") {
		t.Fatalf("body should omit empty reason: %s", withoutReason.Body)
	}
}

func TestRenderDefaultsPatientName(t *testing.T) {
	msg, err := Render("appointment_reminder", Data{ServiceName: "Checkup", Date: "2026-03-13", StartTime: "11:00"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(msg.Body, "Hi there,") {
		t.Fatalf("expected fallback greeting: %s", msg.Body)
	}
}

func TestRenderUnknownTemplate(t *testing.T) {
	if _, err := Render("does_not_exist", Data{}); err == nil {
		t.Fatal("expected error for unknown template")
	}
}

func TestDataFromMap(t *testing.T) {
	d := DataFromMap(map[string]any{
		"patient_name": "Cara",
		"service_name": "Whitening",
		"date":         "2026-03-14",
		"start_time":   "15:30",
		"ignored":      42,
	})
	if d.PatientName != "Cara" || d.ServiceName != "Whitening" || d.Date != "2026-03-14" || d.StartTime != "15:30" {
		t.Fatalf("unexpected data: %+v", d)
	}
}
