// Package calendar computes business-day arithmetic for delivery windows.
// A business day is any weekday; Saturday and Sunday never count. All
// functions truncate their inputs to UTC midnight, and windows are half-open
// [start, end).
package calendar

import "time"

// DateLayout is the wire format for calendar dates.
const DateLayout = "2006-01-02"

// Window is a half-open [Start, End) delivery window.
type Window struct {
	Start time.Time
	End   time.Time
}

// Truncate drops the time-of-day component, in UTC.
func Truncate(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// IsBusinessDay reports whether t falls on a weekday.
func IsBusinessDay(t time.Time) bool {
	wd := t.UTC().Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// NextBusinessDay returns the smallest business day >= t's date.
func NextBusinessDay(t time.Time) time.Time {
	d := Truncate(t)
	for !IsBusinessDay(d) {
		d = d.AddDate(0, 0, 1)
	}
	return d
}

// PrevBusinessDay returns the largest business day <= t's date.
func PrevBusinessDay(t time.Time) time.Time {
	d := Truncate(t)
	for !IsBusinessDay(d) {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

// AddBusinessDays advances from t's date by exactly n business days.
// Weekend days do not count toward n.
func AddBusinessDays(t time.Time, n int) time.Time {
	d := Truncate(t)
	for n > 0 {
		d = d.AddDate(0, 0, 1)
		if IsBusinessDay(d) {
			n--
		}
	}
	return d
}

// InitialWindow is the 3-business-day promise window for a mission created at
// createdAt. Creation on a weekend rolls the start to the following Monday.
func InitialWindow(createdAt time.Time) Window {
	start := NextBusinessDay(createdAt)
	return Window{Start: start, End: AddBusinessDays(start, 3)}
}

// DynamicEnd returns the exclusive end date covering the most recently
// completed business day: now's own date + 1 if now is a business day,
// otherwise the preceding business day + 1.
func DynamicEnd(now time.Time) time.Time {
	d := Truncate(now)
	if IsBusinessDay(d) {
		return d.AddDate(0, 0, 1)
	}
	return PrevBusinessDay(d).AddDate(0, 0, 1)
}

// EffectiveEnd is the displayed window end for a still-open mission: the
// stored end, extended to DynamicEnd(now) once elapsed business days pass it.
// It never shrinks.
func EffectiveEnd(storedEnd, now time.Time) time.Time {
	dyn := DynamicEnd(now)
	stored := Truncate(storedEnd)
	if dyn.After(stored) {
		return dyn
	}
	return stored
}
