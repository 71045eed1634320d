// Package clock provides the fixed-timezone time source for the
// scheduling core.
//
// All day-boundary and "current minute" decisions run in one configured
// civil timezone, never in the host's local zone. Clock is an interface
// so tests can freeze time at arbitrary civil instants.
package clock

import (
	"time"
)

// Clock produces civil time in a fixed location.
type Clock interface {
	// Now returns the current instant already converted to the
	// configured location.
	Now() time.Time
	// Location returns the configured civil timezone.
	Location() *time.Location
}

type systemClock struct {
	loc *time.Location
}

// NewSystem returns a Clock backed by the host UTC clock, expressed in
// the named timezone (e.g. "America/Sao_Paulo").
func NewSystem(timezone string) (Clock, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, err
	}
	return &systemClock{loc: loc}, nil
}

func (c *systemClock) Now() time.Time            { return time.Now().In(c.loc) }
func (c *systemClock) Location() *time.Location  { return c.loc }

// Fixed is a frozen Clock for tests.
type Fixed struct {
	T time.Time
}

func (f *Fixed) Now() time.Time           { return f.T }
func (f *Fixed) Location() *time.Location { return f.T.Location() }

// Minute formats t's time-of-day at minute resolution ("HH:MM").
func Minute(t time.Time) string {
	return t.Format("15:04")
}

// Date truncates t to its civil date (midnight in t's location).
func Date(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// DateString formats t's civil date as "YYYY-MM-DD".
func DateString(t time.Time) string {
	return t.Format("2006-01-02")
}

// ParseDate parses a "YYYY-MM-DD" civil date in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	return time.ParseInLocation("2006-01-02", s, loc)
}

// DaysBetween returns the number of whole civil days from a to b
// (negative when b precedes a). Both are truncated to their dates
// first, so DST transitions inside the interval do not skew the count.
func DaysBetween(a, b time.Time) int {
	da := Date(a)
	db := Date(b)
	// Rounding absorbs the off-by-an-hour offsets DST introduces.
	return int(db.Sub(da).Round(24*time.Hour) / (24 * time.Hour))
}
