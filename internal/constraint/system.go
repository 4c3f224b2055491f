package constraint

import "rotaline/internal/domain"

// SystemConstraints is the mandatory seed every owner starts with.
// System constraints survive in both modes and cannot be removed.
func SystemConstraints() []domain.Constraint {
	return []domain.Constraint{
		{
			ID:     "sys.work_immutable",
			Name:   "Work commitments are immutable",
			Rule:   domain.Rule{Kind: domain.RuleImmutable, Scope: domain.CommitmentWork},
			Active: true,
			System: true,
		},
		{
			ID:   "sys.no_study_on_nights",
			Name: "No study on night shifts",
			Rule: domain.Rule{
				Kind:      domain.RuleNoActivityOn,
				Activity:  domain.CommitmentStudy,
				WorkTypes: []domain.WorkType{domain.WorkNight},
			},
			Active: true,
			System: true,
		},
		{
			ID:     "sys.max_education",
			Name:   "At most two concurrent education tracks",
			Rule:   domain.Rule{Kind: domain.RuleMaxConcurrent, Scope: domain.CommitmentEducation, Limit: 2},
			Active: true,
			System: true,
		},
		{
			ID:     "sys.night_recovery",
			Name:   "Recovery gap after night shifts",
			Rule:   domain.Rule{Kind: domain.RuleRequiredGap, After: domain.WorkNight, Hours: 8},
			Active: true,
			System: true,
		},
	}
}
