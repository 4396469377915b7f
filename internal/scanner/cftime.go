package scanner

import (
	"fmt"
	"math"
	"strings"
	"time"
)

var cfUnits = map[string]time.Duration{
	"second": time.Second, "seconds": time.Second, "sec": time.Second, "secs": time.Second, "s": time.Second,
	"minute": time.Minute, "minutes": time.Minute, "min": time.Minute, "mins": time.Minute,
	"hour": time.Hour, "hours": time.Hour, "hr": time.Hour, "hrs": time.Hour, "h": time.Hour,
	"day": 24 * time.Hour, "days": 24 * time.Hour, "d": 24 * time.Hour,
}

var cfRefLayouts = []string{
	time.RFC3339Nano,
	"2006-1-2T15:4:5Z07:00",
	"2006-1-2T15:4:5Z",
	"2006-1-2T15:4:5",
	"2006-1-2 15:4:5Z07:00",
	"2006-1-2 15:4:5 Z07:00",
	"2006-1-2 15:4:5",
	"2006-1-2 15:4",
	"2006-1-2",
}

// calendar is a CF calendar with a fixed number of days in every year.
// A nil calendar is the standard (proleptic) Gregorian one.
type calendar struct {
	months [12]int
	days   int
}

func newCalendar(months [12]int) *calendar {
	c := &calendar{months: months}
	for _, n := range months {
		c.days += n
	}
	return c
}

var (
	noLeapCalendar = newCalendar([12]int{31, 28, 31, 30, 31, 30, 31, 31, 30, 31, 30, 31})
	day360Calendar = newCalendar([12]int{30, 30, 30, 30, 30, 30, 30, 30, 30, 30, 30, 30})
)

func lookupCalendar(name string) (*calendar, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "standard", "gregorian", "proleptic_gregorian":
		return nil, true
	case "noleap", "no_leap", "365_day":
		return noLeapCalendar, true
	case "360_day":
		return day360Calendar, true
	}
	return nil, false
}

// dayOfYear returns the zero-based day of year of a model date
func (c *calendar) dayOfYear(m time.Month, d int) int {
	n := d - 1
	for i := 0; i < int(m)-1; i++ {
		n += c.months[i]
	}
	return n
}

func (c *calendar) monthDay(doy int) (time.Month, int) {
	m := 0
	for doy >= c.months[m] {
		doy -= c.months[m]
		m++
	}
	return time.Month(m + 1), doy + 1
}

const day = 24 * time.Hour

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// add advances a model date by offset. Every no-leap date exists in the
// Gregorian calendar and is returned as is. A 360-day month is stretched
// over the real month of the same number, so instants stay strictly
// increasing and month boundaries line up.
func (c *calendar) add(ref time.Time, offset time.Duration) time.Time {
	midnight := time.Date(ref.Year(), ref.Month(), ref.Day(), 0, 0, 0, 0, time.UTC)
	if c == day360Calendar && ref.Day() > 30 {
		midnight = time.Date(ref.Year(), ref.Month(), 30, 0, 0, 0, 0, time.UTC)
	}
	clock := ref.Sub(midnight) % day

	offDays := floorDiv(int64(offset), int64(day))
	clock += offset - time.Duration(offDays)*day
	if clock >= day {
		clock -= day
		offDays++
	}

	days := int64(midnight.Year())*int64(c.days) + int64(c.dayOfYear(midnight.Month(), midnight.Day())) + offDays
	year := floorDiv(days, int64(c.days))
	m, d := c.monthDay(int(days - year*int64(c.days)))

	if c != day360Calendar {
		return time.Date(int(year), m, d, 0, 0, 0, 0, time.UTC).Add(clock)
	}
	start := time.Date(int(year), m, 1, 0, 0, 0, 0, time.UTC)
	realDays := start.AddDate(0, 1, 0).Sub(start)
	elapsed := float64(time.Duration(d-1)*day+clock) / float64(30*day)
	return start.Add(time.Duration(math.Round(elapsed * float64(realDays))))
}

// timeAxis converts raw coordinate values into instants
type timeAxis struct {
	unit     time.Duration
	ref      time.Time
	calendar *calendar
}

// parseTimeUnits parses a CF "<unit> since <reference>" string
func parseTimeUnits(units, calendarName string) (timeAxis, error) {
	cal, ok := lookupCalendar(calendarName)
	if !ok {
		return timeAxis{}, fmt.Errorf("calendar %q: %w", calendarName, ErrUnsupportedFormat)
	}

	unitPart, refPart, ok := strings.Cut(strings.TrimSpace(units), " since ")
	if !ok {
		return timeAxis{}, fmt.Errorf("time units %q: %w", units, ErrUnsupportedFormat)
	}

	unit, ok := cfUnits[strings.ToLower(strings.TrimSpace(unitPart))]
	if !ok {
		return timeAxis{}, fmt.Errorf("time unit %q: %w", unitPart, ErrUnsupportedFormat)
	}

	refPart = strings.TrimSpace(refPart)
	refPart = strings.TrimSuffix(refPart, " UTC")
	refPart = strings.TrimSuffix(refPart, " GMT")
	for _, layout := range cfRefLayouts {
		if ref, err := time.Parse(layout, refPart); err == nil {
			return timeAxis{unit: unit, ref: ref.UTC(), calendar: cal}, nil
		}
	}
	return timeAxis{}, fmt.Errorf("time reference %q: %w", refPart, ErrUnsupportedFormat)
}

func (a timeAxis) at(v float64) time.Time {
	offset := time.Duration(math.Round(v * float64(a.unit)))
	if a.calendar == nil {
		return a.ref.Add(offset)
	}
	return a.calendar.add(a.ref, offset)
}
