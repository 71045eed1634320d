package schedule

import (
	"time"

	"statusloop/internal/clock"
)

// CycleInfo is the resolved position of "now" inside the repeating
// cycle.
type CycleInfo struct {
	DayNumber   int       // 1-based index of the current schedule day
	TotalDays   int       // cycle length used for the modulo
	StartDate   time.Time // civil date anchoring the cycle
	DaysElapsed int       // whole days since StartDate, plus one (day 1 on the start date)
}

// ResolveCycle maps now onto the cycle anchored at start.
//
// The day index uses a floored modulo so a start date in the future (or
// a clock stepped backwards) still lands in [0, totalDays). It is pure:
// callers initialize a missing anchor explicitly before resolving.
func ResolveCycle(start, now time.Time, totalDays int) CycleInfo {
	if totalDays <= 0 {
		totalDays = DefaultCycleDays
	}
	elapsed := clock.DaysBetween(start, now)
	idx := elapsed % totalDays
	if idx < 0 {
		idx += totalDays
	}
	return CycleInfo{
		DayNumber:   idx + 1,
		TotalDays:   totalDays,
		StartDate:   clock.Date(start),
		DaysElapsed: elapsed + 1,
	}
}
