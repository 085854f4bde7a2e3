package clock

import (
	"testing"
	"time"
)

func TestParseHHMM(t *testing.T) {
	m, err := ParseHHMM("09:30")
	if err != nil {
		t.Fatalf("ParseHHMM failed: %v", err)
	}
	if m != 9*60+30 {
		t.Fatalf("expected 570, got %d", m)
	}

	if _, err := ParseHHMM("9:30"); err == nil {
		t.Fatal("expected error for non-zero-padded hour")
	}
	if _, err := ParseHHMM("24:00"); err == nil {
		t.Fatal("expected error for hour out of range")
	}
	if _, err := ParseHHMM("12:60"); err == nil {
		t.Fatal("expected error for minute out of range")
	}
	if _, err := ParseHHMM("12.30"); err == nil {
		t.Fatal("expected error for wrong separator")
	}
	if _, err := ParseHHMM(""); err == nil {
		t.Fatal("expected error for empty string")
	}
}

func TestFormatHHMM(t *testing.T) {
	if got := FormatHHMM(0); got != "00:00" {
		t.Fatalf("expected 00:00, got %s", got)
	}
	if got := FormatHHMM(9 * 60); got != "09:00" {
		t.Fatalf("expected 09:00, got %s", got)
	}
	if got := FormatHHMM(16*60 + 5); got != "16:05" {
		t.Fatalf("expected 16:05, got %s", got)
	}
}

func TestParseHHMMRoundTrip(t *testing.T) {
	for _, s := range []string{"00:00", "08:05", "12:30", "23:59"} {
		m, err := ParseHHMM(s)
		if err != nil {
			t.Fatalf("ParseHHMM(%q) failed: %v", s, err)
		}
		if got := FormatHHMM(m); got != s {
			t.Fatalf("round trip of %q gave %q", s, got)
		}
	}
}

func TestParseDateAndWeekday(t *testing.T) {
	d, err := ParseDate("2026-02-01")
	if err != nil {
		t.Fatalf("ParseDate failed: %v", err)
	}
	// 2026-02-01 is a Sunday.
	if Weekday(d) != 0 {
		t.Fatalf("expected weekday 0, got %d", Weekday(d))
	}
	if FormatDate(d) != "2026-02-01" {
		t.Fatalf("FormatDate gave %s", FormatDate(d))
	}
	if _, err := ParseDate("01/02/2026"); err == nil {
		t.Fatal("expected error for wrong date layout")
	}
	if d.Location() != time.UTC {
		t.Fatal("expected UTC date")
	}
}
