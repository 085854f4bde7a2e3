package model

import "testing"

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to string }{
		{StatusPending, StatusConfirmed},
		{StatusPending, StatusCancelled},
		{StatusPending, StatusNoShow},
		{StatusConfirmed, StatusCompleted},
		{StatusConfirmed, StatusCancelled},
		{StatusConfirmed, StatusNoShow},
	}
	for _, tc := range allowed {
		if !CanTransition(tc.from, tc.to) {
			t.Fatalf("expected %s -> %s to be allowed", tc.from, tc.to)
		}
	}

	denied := []struct{ from, to string }{
		{StatusPending, StatusCompleted},
		{StatusCompleted, StatusConfirmed},
		{StatusCancelled, StatusConfirmed},
		{StatusNoShow, StatusCompleted},
		{StatusCompleted, StatusCancelled},
	}
	for _, tc := range denied {
		if CanTransition(tc.from, tc.to) {
			t.Fatalf("expected %s -> %s to be rejected", tc.from, tc.to)
		}
	}
}

func TestIsActive(t *testing.T) {
	for _, s := range []string{StatusPending, StatusConfirmed} {
		if !IsActive(s) {
			t.Fatalf("expected %s to block availability", s)
		}
	}
	for _, s := range []string{StatusCompleted, StatusCancelled, StatusNoShow} {
		if IsActive(s) {
			t.Fatalf("expected %s not to block availability", s)
		}
	}
}

func TestScheduleEntryValidate(t *testing.T) {
	breakStart := 12 * 60
	breakEnd := 13 * 60

	good := ScheduleEntry{
		ProviderID:  "prov-1",
		Weekday:     1,
		IsAvailable: true,
		StartMinute: 9 * 60,
		EndMinute:   17 * 60,
		BreakStart:  &breakStart,
		BreakEnd:    &breakEnd,
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("valid entry rejected: %v", err)
	}

	closed := ScheduleEntry{ProviderID: "prov-1", Weekday: 0, IsAvailable: false}
	if err := closed.Validate(); err != nil {
		t.Fatalf("closed day should validate without window fields: %v", err)
	}

	inverted := good
	inverted.StartMinute = 17 * 60
	inverted.EndMinute = 9 * 60
	if err := inverted.Validate(); err == nil {
		t.Fatal("expected error for inverted working window")
	}

	lateBreak := 17*60 + 30
	outsideBreak := good
	outsideBreak.BreakEnd = &lateBreak
	if err := outsideBreak.Validate(); err == nil {
		t.Fatal("expected error for break ending after closing")
	}

	halfBreak := good
	halfBreak.BreakEnd = nil
	if err := halfBreak.Validate(); err == nil {
		t.Fatal("expected error for break start without end")
	}
}

func TestNewConfirmationCode(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		code := NewConfirmationCode()
		if len(code) != 8 {
			t.Fatalf("expected 8-char code, got %q", code)
		}
		for _, c := range code {
			if c == '0' || c == 'O' || c == '1' || c == 'I' || c == 'L' {
				t.Fatalf("code %q contains ambiguous character %q", code, c)
			}
		}
		seen[code] = true
	}
	if len(seen) < 45 {
		t.Fatalf("expected mostly unique codes, got %d distinct of 50", len(seen))
	}
}
