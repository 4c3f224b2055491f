package schedule

import (
	"rotaline/internal/constraint"
	"rotaline/internal/domain"
)

// maxRerouteDays bounds how far forward a rejected occurrence may slide.
const maxRerouteDays = 7

// Occurrence is one planned session of a commitment.
type Occurrence struct {
	Date       string   `json:"date"`
	Accepted   bool     `json:"accepted"`
	ReroutedTo string   `json:"rerouted_to,omitempty"`
	Reasons    []string `json:"reasons,omitempty"`
	Overrun    bool     `json:"overrun,omitempty"`
}

// Plan is the validated schedule of a commitment over a horizon.
type Plan struct {
	CommitmentID string       `json:"commitment_id"`
	Occurrences  []Occurrence `json:"occurrences"`
	Accepted     int          `json:"accepted"`
	Rejected     int          `json:"rejected"`
}

// Build expands a commitment over the materialized horizon and validates
// each occurrence. Rejected occurrences reroute to the next day within
// reach that accepts them; days lacking capacity are flagged rather than
// silently double-booked.
func Build(c domain.Commitment, days []domain.CalendarDay, cs []domain.Constraint) Plan {
	p := Plan{CommitmentID: c.ID}
	if len(days) == 0 {
		return p
	}
	byDate := make(map[string]int, len(days))
	for i, d := range days {
		byDate[d.Date] = i
	}
	for _, date := range Expand(c, days[0].Date, days[len(days)-1].Date, 0) {
		i, ok := byDate[date]
		if !ok {
			continue
		}
		occ := Occurrence{Date: date}
		reasons := reasonsAt(cs, c, days, i)
		if len(reasons) == 0 {
			occ.Accepted = true
			occ.Overrun = overruns(c, days[i])
		} else {
			occ.Reasons = reasons
			if j := reroute(cs, c, days, i); j > i {
				occ.RedirectTo(days[j].Date)
				occ.Overrun = overruns(c, days[j])
			}
		}
		if occ.Accepted {
			p.Accepted++
		} else {
			p.Rejected++
		}
		p.Occurrences = append(p.Occurrences, occ)
	}
	return p
}

// RedirectTo marks the occurrence as accepted on another date.
func (o *Occurrence) RedirectTo(date string) {
	o.ReroutedTo = date
	o.Accepted = true
}

func reasonsAt(cs []domain.Constraint, c domain.Commitment, days []domain.CalendarDay, i int) []string {
	var prev *domain.CalendarDay
	if i > 0 {
		prev = &days[i-1]
	}
	return constraint.OccurrenceReasons(cs, c.Type, prev, days[i])
}

func reroute(cs []domain.Constraint, c domain.Commitment, days []domain.CalendarDay, from int) int {
	for j := from + 1; j < len(days) && j <= from+maxRerouteDays; j++ {
		if len(reasonsAt(cs, c, days, j)) == 0 && !overruns(c, days[j]) {
			return j
		}
	}
	return from
}

// overruns reports whether the day cannot hold the commitment's hours.
// Days that already carry the occurrence are judged by their overload
// flag so the hours are not counted twice.
func overruns(c domain.Commitment, day domain.CalendarDay) bool {
	for _, dc := range day.Commitments {
		if dc.CommitmentID == c.ID {
			return day.Overloaded
		}
	}
	return day.AvailableHours-day.UsedHours < c.DurationHours
}
