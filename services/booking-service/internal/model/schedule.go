package model

import (
	"fmt"
	"time"

	"github.com/novadent/platform/libs/clock"
)

// ScheduleEntry is the per-provider, per-weekday working window with an
// optional break, cached locally from clinic schedule events.
type ScheduleEntry struct {
	ProviderID  string
	Weekday     int // 0 = Sunday
	IsAvailable bool
	StartMinute int
	EndMinute   int
	BreakStart  *int
	BreakEnd    *int
	UpdatedAt   time.Time
}

// Validate enforces the schedule invariants before the entry is accepted
// into the local cache. Unavailable days skip the window checks since their
// times are ignored.
func (e ScheduleEntry) Validate() error {
	if e.ProviderID == "" {
		return fmt.Errorf("provider_id is required")
	}
	if e.Weekday < 0 || e.Weekday > 6 {
		return fmt.Errorf("weekday %d out of range", e.Weekday)
	}
	if !e.IsAvailable {
		return nil
	}
	if !clock.ValidMinute(e.StartMinute) || !clock.ValidMinute(e.EndMinute) {
		return fmt.Errorf("working window minutes out of range")
	}
	if e.StartMinute >= e.EndMinute {
		return fmt.Errorf("working window start %s must precede end %s",
			clock.FormatHHMM(e.StartMinute), clock.FormatHHMM(e.EndMinute))
	}
	if (e.BreakStart == nil) != (e.BreakEnd == nil) {
		return fmt.Errorf("break window requires both start and end")
	}
	if e.BreakStart != nil {
		if *e.BreakStart >= *e.BreakEnd {
			return fmt.Errorf("break start must precede break end")
		}
		if *e.BreakStart < e.StartMinute || *e.BreakEnd > e.EndMinute {
			return fmt.Errorf("break window must sit inside the working window")
		}
	}
	return nil
}

// Service is the subset of the clinic catalog the booking flow needs,
// cached locally from clinic service events.
type Service struct {
	ID              string
	Name            string
	DurationMinutes int
	Active          bool
	UpdatedAt       time.Time
}

func (s Service) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("service id is required")
	}
	if s.DurationMinutes <= 0 || s.DurationMinutes > 8*60 {
		return fmt.Errorf("duration %d minutes out of range", s.DurationMinutes)
	}
	return nil
}
