package main

import "testing"

func TestParseRescheduledEvent(t *testing.T) {
	evt, err := parseRescheduledEvent([]byte(`{
		"appointment_id": "apt-1",
		"from_date": "2026-09-10",
		"from_start": "10:00",
		"to_date": "2026-09-12",
		"start_time": "14:00"
	}`))
	if err != nil {
		t.Fatalf("parseRescheduledEvent failed: %v", err)
	}
	if evt.AppointmentID != "apt-1" || evt.FromDate != "2026-09-10" || evt.FromStart != "10:00" {
		t.Fatalf("unexpected event %+v", evt)
	}
}

func TestParseRescheduledEventRejectsIncomplete(t *testing.T) {
	cases := []string{
		`{`,
		`{"appointment_id": "apt-1"}`,
		`{"appointment_id": "apt-1", "from_date": "2026-09-10"}`,
		`{"from_date": "2026-09-10", "from_start": "10:00"}`,
	}
	for _, raw := range cases {
		if _, err := parseRescheduledEvent([]byte(raw)); err == nil {
			t.Fatalf("expected error for %s", raw)
		}
	}
}
