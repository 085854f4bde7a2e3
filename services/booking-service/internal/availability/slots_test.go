package availability

import (
	"reflect"
	"testing"

	"github.com/novadent/platform/libs/clock"
)

func mins(hhmm string, t *testing.T) int {
	t.Helper()
	m, err := clock.ParseHHMM(hhmm)
	if err != nil {
		t.Fatalf("ParseHHMM(%q) failed: %v", hhmm, err)
	}
	return m
}

func starts(t *testing.T, slots []int) []string {
	t.Helper()
	out := make([]string, 0, len(slots))
	for _, s := range slots {
		out = append(out, clock.FormatHHMM(s))
	}
	return out
}

func contains(slots []int, minute int) bool {
	for _, s := range slots {
		if s == minute {
			return true
		}
	}
	return false
}

func TestSlots_FullDayWithLunchBreak(t *testing.T) {
	workStart := mins("09:00", t)
	workEnd := mins("17:00", t)
	breaks := []Interval{{Start: mins("12:00", t), End: mins("13:00", t)}}

	slots := Slots(workStart, workEnd, 60, breaks, nil)
	if len(slots) == 0 {
		t.Fatal("expected slots, got none")
	}
	if slots[0] != mins("09:00", t) {
		t.Fatalf("expected first slot 09:00, got %s", clock.FormatHHMM(slots[0]))
	}
	if last := slots[len(slots)-1]; last != mins("16:00", t) {
		t.Fatalf("expected last slot 16:00, got %s", clock.FormatHHMM(last))
	}
	// 11:30 would run into the break, 12:00 and 12:30 start inside it.
	for _, blocked := range []string{"11:30", "12:00", "12:30"} {
		if contains(slots, mins(blocked, t)) {
			t.Fatalf("slot %s should be excluded by the break window, got %v", blocked, starts(t, slots))
		}
	}
	if !contains(slots, mins("13:00", t)) {
		t.Fatalf("expected 13:00 to be available after the break, got %v", starts(t, slots))
	}
}

func TestSlots_ExistingAppointmentBlocksOverlaps(t *testing.T) {
	workStart := mins("09:00", t)
	workEnd := mins("17:00", t)
	breaks := []Interval{{Start: mins("12:00", t), End: mins("13:00", t)}}
	busy := []Interval{{Start: mins("10:00", t), End: mins("11:00", t)}}

	slots := Slots(workStart, workEnd, 60, breaks, busy)
	if !contains(slots, mins("09:00", t)) {
		t.Fatalf("expected 09:00 available, got %v", starts(t, slots))
	}
	// A 60-minute slot at 09:30 runs until 10:30 and overlaps the booking.
	for _, blocked := range []string{"09:30", "10:00", "10:30"} {
		if contains(slots, mins(blocked, t)) {
			t.Fatalf("slot %s should conflict with the 10:00-11:00 appointment", blocked)
		}
	}
	if !contains(slots, mins("11:00", t)) {
		t.Fatalf("expected 11:00 available, got %v", starts(t, slots))
	}
}

func TestSlots_WithinWorkingWindow(t *testing.T) {
	workStart := mins("09:00", t)
	workEnd := mins("17:00", t)

	for _, duration := range []int{30, 45, 60, 90} {
		slots := Slots(workStart, workEnd, duration, nil, nil)
		for _, s := range slots {
			if s < workStart {
				t.Fatalf("duration %d: slot %s starts before opening", duration, clock.FormatHHMM(s))
			}
			if s+duration > workEnd {
				t.Fatalf("duration %d: slot %s runs past closing", duration, clock.FormatHHMM(s))
			}
		}
	}
}

func TestSlots_Deterministic(t *testing.T) {
	workStart := mins("09:00", t)
	workEnd := mins("17:00", t)
	breaks := []Interval{{Start: mins("12:00", t), End: mins("13:00", t)}}
	busy := []Interval{
		{Start: mins("10:00", t), End: mins("11:00", t)},
		{Start: mins("15:30", t), End: mins("16:30", t)},
	}

	first := Slots(workStart, workEnd, 60, breaks, busy)
	second := Slots(workStart, workEnd, 60, breaks, busy)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("repeated calls disagree: %v vs %v", first, second)
	}
}

func TestSlots_DurationLongerThanWindow(t *testing.T) {
	if slots := Slots(mins("09:00", t), mins("10:00", t), 90, nil, nil); len(slots) != 0 {
		t.Fatalf("expected no slots for 90-minute service in a 60-minute window, got %v", starts(t, slots))
	}
}

func TestSlots_InvalidInputs(t *testing.T) {
	if slots := Slots(mins("17:00", t), mins("09:00", t), 30, nil, nil); slots != nil {
		t.Fatalf("expected nil for inverted window, got %v", slots)
	}
	if slots := Slots(mins("09:00", t), mins("17:00", t), 0, nil, nil); slots != nil {
		t.Fatalf("expected nil for zero duration, got %v", slots)
	}
}

func TestHasConflict(t *testing.T) {
	busy := []Interval{{Start: mins("10:00", t), End: mins("11:00", t)}}

	cases := []struct {
		start    string
		duration int
		want     bool
	}{
		{"09:00", 60, false},
		{"09:30", 60, true},
		{"10:00", 30, true},
		{"10:30", 60, true},
		{"11:00", 60, false},
	}
	for _, tc := range cases {
		if got := HasConflict(mins(tc.start, t), tc.duration, busy); got != tc.want {
			t.Fatalf("HasConflict(%s, %d) = %v, want %v", tc.start, tc.duration, got, tc.want)
		}
	}

	if HasConflict(mins("10:00", t), 60, nil) {
		t.Fatal("no busy intervals should never conflict")
	}
}
