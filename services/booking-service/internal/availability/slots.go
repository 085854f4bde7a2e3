package availability

// StepMinutes is the slot granularity. Candidate slots start on fixed
// 30-minute boundaries regardless of the requested service duration, so
// services of varying lengths always start on the half hour.
const StepMinutes = 30

// Interval is a half-open [Start, End) range in minutes of day.
type Interval struct {
	Start int
	End   int
}

// Slots returns candidate start minutes within the working window
// [workStart, workEnd) where an appointment of durationMinutes would not
// run past closing, touch any break window, or overlap any busy interval.
//
// The result is chronological and recomputed from scratch on every call.
func Slots(workStart, workEnd, durationMinutes int, breaks, busy []Interval) []int {
	if durationMinutes <= 0 || workEnd <= workStart {
		return nil
	}

	var out []int
	for start := workStart; start+durationMinutes <= workEnd; start += StepMinutes {
		end := start + durationMinutes
		if overlapsAny(start, end, breaks) {
			continue
		}
		if overlapsAny(start, end, busy) {
			continue
		}
		out = append(out, start)
	}
	return out
}

// HasConflict reports whether [start, start+durationMinutes) overlaps any
// of the busy intervals.
func HasConflict(start, durationMinutes int, busy []Interval) bool {
	return overlapsAny(start, start+durationMinutes, busy)
}

func overlapsAny(start, end int, list []Interval) bool {
	for _, iv := range list {
		// Half-open intervals: [start,end) overlaps [iv.Start,iv.End) iff
		// start < iv.End && iv.Start < end.
		if start < iv.End && iv.Start < end {
			return true
		}
	}
	return false
}
