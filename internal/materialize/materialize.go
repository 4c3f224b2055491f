// Package materialize projects the settings document onto concrete
// calendar days. Days are derived data: same inputs, same bytes.
package materialize

import (
	"errors"
	"fmt"
	"time"

	"rotaline/internal/cycle"
	"rotaline/internal/domain"
	"rotaline/internal/schedule"
)

var ErrNoCycle = errors.New("no cycle configured")

const dateLayout = "2006-01-02"

// Day materializes one (owner, date) from the settings document.
func Day(ownerID, date string, s domain.Settings, version int) (domain.CalendarDay, error) {
	if s.Cycle == nil {
		return domain.CalendarDay{}, ErrNoCycle
	}
	cycleDay, workType, err := cycle.At(date, *s.Cycle)
	if err != nil {
		return domain.CalendarDay{}, err
	}

	day := domain.CalendarDay{
		OwnerID:        ownerID,
		Date:           date,
		CycleDay:       cycleDay,
		WorkType:       workType,
		AvailableHours: hoursFor(workType, s.Work),
		Version:        version,
	}

	for _, l := range s.LeaveBlocks {
		if !l.Covers(date) {
			continue
		}
		day.OnLeave = true
		if l.Effect != nil {
			day.WorkType = l.Effect.WorkType
			day.AvailableHours = l.Effect.AvailableHours
		} else {
			day.WorkType = domain.Suspended
			day.AvailableHours = leaveHours(s.Work)
		}
		break
	}

	for _, c := range s.Commitments {
		if c.Status != domain.CommitmentActive && c.Status != "" {
			continue
		}
		if !schedule.Occurs(c.Recurrence, c.StartDate, date) {
			continue
		}
		if c.StartDate != "" && date < c.StartDate {
			continue
		}
		if c.EndDate != "" && date > c.EndDate {
			continue
		}
		day.Commitments = append(day.Commitments, domain.DayCommitment{
			CommitmentID: c.ID,
			Name:         c.Name,
			Type:         c.Type,
			Hours:        c.DurationHours,
		})
		day.UsedHours += c.DurationHours
	}
	day.Overloaded = day.UsedHours > day.AvailableHours
	return day, nil
}

// Range materializes every day in [from, to] inclusive.
func Range(ownerID, from, to string, s domain.Settings, version int) ([]domain.CalendarDay, error) {
	start, err := time.Parse(dateLayout, from)
	if err != nil {
		return nil, fmt.Errorf("bad from date %q", from)
	}
	end, err := time.Parse(dateLayout, to)
	if err != nil {
		return nil, fmt.Errorf("bad to date %q", to)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("range end %s before start %s", to, from)
	}
	var out []domain.CalendarDay
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		day, err := Day(ownerID, d.Format(dateLayout), s, version)
		if err != nil {
			return nil, err
		}
		out = append(out, day)
	}
	return out, nil
}

// hoursFor returns the free hours a work type leaves for commitments.
// Zero-valued work params fall back to the stock shift profile.
func hoursFor(wt domain.WorkType, w domain.WorkParams) float64 {
	switch wt {
	case domain.WorkDay:
		return orDefault(w.DayFreeHours, 4)
	case domain.WorkNight:
		return orDefault(w.NightFreeHours, 2)
	case domain.Off:
		return orDefault(w.OffFreeHours, 12)
	case domain.Suspended:
		return leaveHours(w)
	}
	return 0
}

func leaveHours(w domain.WorkParams) float64 {
	return orDefault(w.LeaveFreeHours, 16)
}

func orDefault(v, def float64) float64 {
	if v <= 0 {
		return def
	}
	return v
}
