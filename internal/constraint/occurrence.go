package constraint

import (
	"fmt"

	"rotaline/internal/domain"
)

// OccurrenceReasons explains why one occurrence of a commitment type may
// not sit on a given day. prev is the preceding calendar day, nil at the
// start of the horizon. An empty slice means the day accepts it.
func OccurrenceReasons(cs []domain.Constraint, ct domain.CommitmentType, prev *domain.CalendarDay, day domain.CalendarDay) []string {
	var reasons []string
	for _, c := range cs {
		if !c.Active {
			continue
		}
		switch c.Rule.Kind {
		case domain.RuleNoActivityOn:
			if c.Rule.Activity != ct {
				continue
			}
			for _, wt := range c.Rule.WorkTypes {
				if day.WorkType == wt {
					reasons = append(reasons, fmt.Sprintf("%s: %s day", c.Name, wt))
				}
			}
		case domain.RuleRequiredGap:
			if prev == nil || prev.WorkType != c.Rule.After {
				continue
			}
			if ct == domain.CommitmentEducation || ct == domain.CommitmentStudy {
				reasons = append(reasons, fmt.Sprintf("%s: follows a %s shift", c.Name, c.Rule.After))
			}
		}
	}
	return reasons
}
