// Package schedule expands commitment recurrences into concrete dates and
// plans occurrences against the materialized calendar.
package schedule

import (
	"time"

	"rotaline/internal/domain"
)

const dateLayout = "2006-01-02"

// Occurs reports whether a recurrence fires on date. start anchors
// biweekly parity; an empty start anchors parity at the Unix epoch week.
func Occurs(r domain.Recurrence, start, date string) bool {
	d, err := time.Parse(dateLayout, date)
	if err != nil {
		return false
	}
	switch r.Kind {
	case domain.RecurDaily:
		return true
	case domain.RecurWeekly:
		return onWeekday(r.Days, d)
	case domain.RecurBiweekly:
		if !onWeekday(r.Days, d) {
			return false
		}
		anchor := time.Unix(0, 0).UTC()
		if start != "" {
			if s, err := time.Parse(dateLayout, start); err == nil {
				anchor = s
			}
		}
		weeks := int(weekStart(d).Sub(weekStart(anchor)).Hours() / (24 * 7))
		return weeks%2 == 0
	case domain.RecurMonthly:
		for _, md := range r.MonthDays {
			if d.Day() == md {
				return true
			}
		}
	}
	return false
}

func onWeekday(days []string, d time.Time) bool {
	for _, name := range days {
		if wd, ok := domain.Weekdays[name]; ok && d.Weekday() == wd {
			return true
		}
	}
	return false
}

// weekStart returns the Monday of d's week.
func weekStart(d time.Time) time.Time {
	offset := (int(d.Weekday()) + 6) % 7
	return d.AddDate(0, 0, -offset)
}

// Expand lists the recurrence's occurrence dates in [from, to], clipped
// to the commitment's own bounds, newest last. limit <= 0 means no cap.
func Expand(c domain.Commitment, from, to string, limit int) []string {
	start, err := time.Parse(dateLayout, from)
	if err != nil {
		return nil
	}
	end, err := time.Parse(dateLayout, to)
	if err != nil {
		return nil
	}
	if c.StartDate != "" {
		if s, err := time.Parse(dateLayout, c.StartDate); err == nil && s.After(start) {
			start = s
		}
	}
	if c.EndDate != "" {
		if e, err := time.Parse(dateLayout, c.EndDate); err == nil && e.Before(end) {
			end = e
		}
	}
	var out []string
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		date := d.Format(dateLayout)
		if Occurs(c.Recurrence, c.StartDate, date) {
			out = append(out, date)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out
}
