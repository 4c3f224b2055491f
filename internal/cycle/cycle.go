// Package cycle computes cycle positions for anchored rotation patterns.
// All functions are pure and total over past and future dates.
package cycle

import (
	"errors"
	"fmt"
	"time"

	"rotaline/internal/domain"
)

var ErrInvalid = errors.New("invalid cycle")

const dateLayout = "2006-01-02"

// Validate rejects cycles that cannot produce a well-defined calendar.
func Validate(c domain.Cycle) error {
	if len(c.Pattern) == 0 {
		return fmt.Errorf("%w: empty pattern", ErrInvalid)
	}
	for i, b := range c.Pattern {
		if !domain.ValidWorkTypes[b.Label] {
			return fmt.Errorf("%w: block %d has unknown label %q", ErrInvalid, i, b.Label)
		}
		if b.Duration < 1 {
			return fmt.Errorf("%w: block %d has duration %d", ErrInvalid, i, b.Duration)
		}
	}
	if _, err := time.Parse(dateLayout, c.AnchorDate); err != nil {
		return fmt.Errorf("%w: bad anchor date %q", ErrInvalid, c.AnchorDate)
	}
	if n := c.Length(); c.AnchorCycleDay < 1 || c.AnchorCycleDay > n {
		return fmt.Errorf("%w: anchor cycle day %d out of [1,%d]", ErrInvalid, c.AnchorCycleDay, n)
	}
	return nil
}

// Day returns the 1-based cycle day for a date. The anchor pins a known
// cycle day to a real date; everything else is modular arithmetic, with
// a floor-style modulo so dates before the anchor work too.
func Day(date string, c domain.Cycle) (int, error) {
	if err := Validate(c); err != nil {
		return 0, err
	}
	d, err := time.Parse(dateLayout, date)
	if err != nil {
		return 0, fmt.Errorf("%w: bad date %q", ErrInvalid, date)
	}
	anchor, _ := time.Parse(dateLayout, c.AnchorDate)
	offset := int(d.Sub(anchor).Hours() / 24)
	n := c.Length()
	return ((c.AnchorCycleDay-1+offset)%n+n)%n + 1, nil
}

// WorkTypeAt maps a 1-based cycle day onto the pattern's blocks.
func WorkTypeAt(cycleDay int, pattern []domain.CycleBlock) domain.WorkType {
	pos := 0
	for _, b := range pattern {
		pos += b.Duration
		if cycleDay <= pos {
			return b.Label
		}
	}
	return domain.Off
}

// At resolves a date to its cycle day and work type in one call.
func At(date string, c domain.Cycle) (int, domain.WorkType, error) {
	day, err := Day(date, c)
	if err != nil {
		return 0, "", err
	}
	return day, WorkTypeAt(day, c.Pattern), nil
}
