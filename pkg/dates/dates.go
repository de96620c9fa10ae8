// Package dates holds the calendar helpers used by the registry: a date-only
// value type, age computation and the birthday month window.
package dates

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Layout is the ISO date format used on the wire and in the store.
const Layout = "2006-01-02"

var parseLayouts = []string{
	Layout,
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// Date is a calendar date without a time-of-day component. The wrapped
// time is always midnight UTC.
type Date struct {
	time.Time
}

// New returns the Date for the given calendar day.
func New(year int, month time.Month, day int) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// FromTime truncates t to its calendar day in t's own location.
func FromTime(t time.Time) Date {
	return New(t.Year(), t.Month(), t.Day())
}

// Parse accepts an ISO date, optionally followed by a time component which
// is discarded.
func Parse(s string) (Date, error) {
	s = strings.TrimSpace(s)
	for _, layout := range parseLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return FromTime(t), nil
		}
	}
	return Date{}, fmt.Errorf("invalid date %q", s)
}

// Ptr converts an optional time into an optional Date.
func Ptr(t *time.Time) *Date {
	if t == nil {
		return nil
	}
	d := FromTime(*t)
	return &d
}

func (d Date) String() string {
	return d.Format(Layout)
}

// TimePtr returns the midnight UTC time of d, or nil for a nil date.
func (d *Date) TimePtr() *time.Time {
	if d == nil {
		return nil
	}
	t := d.Time
	return &t
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("date must be a string: %w", err)
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Age returns the number of whole years between birth and asOf: the year
// difference, minus one when asOf's (month, day) sorts before birth's.
func Age(birth Date, asOf time.Time) int {
	age := asOf.Year() - birth.Year()
	if asOf.Month() < birth.Month() || (asOf.Month() == birth.Month() && asOf.Day() < birth.Day()) {
		age--
	}
	return age
}

// AgeOf is Age for an optional birth date. A missing date yields nil.
func AgeOf(birth *Date, asOf time.Time) *int {
	if birth == nil || birth.IsZero() {
		return nil
	}
	age := Age(*birth, asOf)
	return &age
}

// MonthWindow returns the month of asOf and the month after it, wrapping
// December to January.
func MonthWindow(asOf time.Time) (current, next time.Month) {
	current = asOf.Month()
	next = time.Month(int(current)%12 + 1)
	return current, next
}

var monthsES = [...]string{
	"enero", "febrero", "marzo", "abril", "mayo", "junio",
	"julio", "agosto", "septiembre", "octubre", "noviembre", "diciembre",
}

// MonthNameES returns the lowercase Spanish name of m.
func MonthNameES(m time.Month) string {
	if m < time.January || m > time.December {
		return ""
	}
	return monthsES[m-1]
}
