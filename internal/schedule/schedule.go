// Package schedule computes when a user's daily digest should next fire.
//
// Times are stored as minutes past local midnight together with an IANA zone name.
// Daylight-saving transitions are resolved deterministically: a wall time that falls
// in a spring-forward gap is pushed forward by the length of the gap, and a wall time
// that occurs twice on a fall-back night resolves to its first occurrence.
package schedule

import (
	"errors"
	"fmt"
	"time"
)

const (
	MinutesPerDay = 24 * 60
	DateLayout    = "2006-01-02"
)

// LocationLoader resolves an IANA zone name.
type LocationLoader func(name string) (*time.Location, error)

type Calculator struct {
	load LocationLoader
}

// ErrUnsupportedZone is returned for names that resolve to the host's zone.
var ErrUnsupportedZone = errors.New("unsupported timezone")

// LoadLocation is time.LoadLocation restricted to IANA names. "Local" and the empty
// name are rejected: a user's schedule must not depend on the server's zone.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" || name == "Local" {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedZone, name)
	}
	return time.LoadLocation(name)
}

// NewCalculator returns a calculator using load, or LoadLocation when load is nil.
func NewCalculator(load LocationLoader) *Calculator {
	if load == nil {
		load = LoadLocation
	}
	return &Calculator{load: load}
}

var defaultCalculator = NewCalculator(nil)

// NextFireInstant is NewCalculator(nil).NextFireInstant.
func NextFireInstant(localMinutes int, timezone string, ref time.Time) *time.Time {
	return defaultCalculator.NextFireInstant(localMinutes, timezone, ref)
}

// ValidMinutes reports whether m is a minute of the day.
func ValidMinutes(m int) bool {
	return m >= 0 && m < MinutesPerDay
}

// NextFireInstant returns the first instant strictly after ref at which the local
// clock in timezone reads localMinutes, in UTC. It returns nil when the inputs cannot
// be scheduled: minutes out of range, or an empty or unknown zone.
func (c *Calculator) NextFireInstant(localMinutes int, timezone string, ref time.Time) *time.Time {
	if !ValidMinutes(localMinutes) || timezone == "" {
		return nil
	}
	loc, err := c.load(timezone)
	if err != nil || loc == nil {
		return nil
	}

	hh, mm := localMinutes/60, localMinutes%60
	y, mo, d := ref.In(loc).Date()

	next := wallClock(loc, y, mo, d, hh, mm)
	if !next.After(ref) {
		// Calendar arithmetic in UTC so a short or long local day cannot skip a date.
		tomorrow := time.Date(y, mo, d+1, 0, 0, 0, 0, time.UTC)
		next = wallClock(loc, tomorrow.Year(), tomorrow.Month(), tomorrow.Day(), hh, mm)
	}

	next = next.UTC()
	return &next
}

// LocalDate formats the calendar date in timezone at ref.
func (c *Calculator) LocalDate(ref time.Time, timezone string) (string, error) {
	if timezone == "" {
		return "", fmt.Errorf("empty timezone")
	}
	loc, err := c.load(timezone)
	if err != nil {
		return "", fmt.Errorf("failed to load timezone %q: %w", timezone, err)
	}
	return ref.In(loc).Format(DateLayout), nil
}

// wallClock returns the instant at which loc shows the given date and time.
//
// The offsets in force a day before and a day after the wall time bracket any single
// transition. Each offset yields a candidate instant; a candidate is real if loc
// renders it back to the requested wall time.
func wallClock(loc *time.Location, y int, mo time.Month, d, hh, mm int) time.Time {
	wall := time.Date(y, mo, d, hh, mm, 0, 0, time.UTC)

	_, before := wall.Add(-24 * time.Hour).In(loc).Zone()
	_, after := wall.Add(24 * time.Hour).In(loc).Zone()

	early := wall.Add(-time.Duration(before) * time.Second)
	late := wall.Add(-time.Duration(after) * time.Second)

	earlyOK := sameWallClock(early.In(loc), wall)
	lateOK := sameWallClock(late.In(loc), wall)

	switch {
	case earlyOK && lateOK:
		if late.Before(early) {
			return late.In(loc)
		}
		return early.In(loc)
	case earlyOK:
		return early.In(loc)
	case lateOK:
		return late.In(loc)
	default:
		// Gap: the pre-transition offset lands past the gap by exactly its length.
		return early.In(loc)
	}
}

func sameWallClock(t, wall time.Time) bool {
	y1, m1, d1 := t.Date()
	y2, m2, d2 := wall.Date()
	return y1 == y2 && m1 == m2 && d1 == d2 && t.Hour() == wall.Hour() && t.Minute() == wall.Minute()
}
