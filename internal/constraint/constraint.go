// Package constraint validates proposed changes against the owner's
// constraint set over a materialized calendar horizon.
package constraint

import (
	"fmt"
	"sort"

	"rotaline/internal/domain"
)

// Result is the outcome of evaluating one proposed command.
type Result struct {
	Valid        bool
	Violations   []domain.Violation
	Warnings     []domain.Violation
	Alternatives []domain.Alternative
	Explanation  string
}

// Evaluate checks a command against the constraint set. days is the
// calendar horizon materialized as if the command had been applied, in
// date order. before is the document prior to the change; mode and
// threshold come from its preferences.
func Evaluate(cmd domain.Command, before domain.Settings, days []domain.CalendarDay) Result {
	constraints := ordered(before.Constraints)

	var hard, soft []domain.Violation
	penalty := 0
	for _, c := range constraints {
		if !c.Active {
			continue
		}
		v, ok := check(c, cmd, before, days)
		if !ok {
			continue
		}
		if c.System || c.Critical || before.Preferences.ConstraintMode != domain.ModeWeighted {
			hard = append(hard, v)
			continue
		}
		soft = append(soft, v)
		penalty += weightOf(c)
	}

	res := Result{}
	res.Warnings = append(res.Warnings, overlapWarnings(cmd, before)...)

	if before.Preferences.ConstraintMode == domain.ModeWeighted {
		threshold := before.Preferences.AcceptThreshold
		if threshold <= 0 {
			threshold = 10
		}
		if penalty < threshold {
			// Under the budget the soft violations degrade to warnings.
			res.Warnings = append(res.Warnings, soft...)
		} else {
			hard = append(hard, soft...)
		}
	}

	res.Violations = hard
	res.Valid = len(hard) == 0
	res.Explanation = explain(res)
	if !res.Valid {
		res.Alternatives = alternatives(cmd, before, days)
	}
	return res
}

// ordered sorts by weight descending, creation time as the tiebreaker,
// so evaluation output is stable across runs.
func ordered(cs []domain.Constraint) []domain.Constraint {
	out := make([]domain.Constraint, len(cs))
	copy(out, cs)
	sort.SliceStable(out, func(i, j int) bool {
		if weightOf(out[i]) != weightOf(out[j]) {
			return weightOf(out[i]) > weightOf(out[j])
		}
		return out[i].CreatedAt < out[j].CreatedAt
	})
	return out
}

func weightOf(c domain.Constraint) int {
	if c.Weight > 0 {
		return c.Weight
	}
	return 1
}

func check(c domain.Constraint, cmd domain.Command, before domain.Settings, days []domain.CalendarDay) (domain.Violation, bool) {
	switch c.Rule.Kind {
	case domain.RuleNoActivityOn:
		return checkNoActivityOn(c, days)
	case domain.RuleMaxConcurrent:
		return checkMaxConcurrent(c, cmd, before)
	case domain.RuleImmutable:
		return checkImmutable(c, cmd, before)
	case domain.RuleRequiredGap:
		return checkRequiredGap(c, days)
	}
	return domain.Violation{}, false
}

func checkNoActivityOn(c domain.Constraint, days []domain.CalendarDay) (domain.Violation, bool) {
	banned := map[domain.WorkType]bool{}
	for _, wt := range c.Rule.WorkTypes {
		banned[wt] = true
	}
	for _, d := range days {
		if !banned[d.WorkType] {
			continue
		}
		for _, dc := range d.Commitments {
			if dc.Type == c.Rule.Activity {
				return violation(c, fmt.Sprintf("%s scheduled on a %s day (%s)", c.Rule.Activity, d.WorkType, d.Date)), true
			}
		}
	}
	return domain.Violation{}, false
}

func checkMaxConcurrent(c domain.Constraint, cmd domain.Command, before domain.Settings) (domain.Violation, bool) {
	count := 0
	for _, cm := range before.Commitments {
		if cm.Type == c.Rule.Scope && (cm.Status == domain.CommitmentActive || cm.Status == "") {
			count++
		}
	}
	if cmd.Intent == domain.IntentAddCommitment && cmd.Commitment != nil &&
		cmd.Commitment.Type == c.Rule.Scope &&
		(cmd.Commitment.Status == domain.CommitmentActive || cmd.Commitment.Status == "") {
		count++
	}
	if count > c.Rule.Limit {
		return violation(c, fmt.Sprintf("%d active %s commitments exceeds limit %d", count, c.Rule.Scope, c.Rule.Limit)), true
	}
	return domain.Violation{}, false
}

func checkImmutable(c domain.Constraint, cmd domain.Command, before domain.Settings) (domain.Violation, bool) {
	var target *domain.Commitment
	switch cmd.Intent {
	case domain.IntentRemoveCommitment:
		target = findCommitment(before.Commitments, cmd.CommitmentID)
	case domain.IntentUpdateCommitment:
		if cmd.Commitment != nil {
			target = findCommitment(before.Commitments, cmd.Commitment.ID)
		}
	default:
		return domain.Violation{}, false
	}
	if target != nil && target.Type == c.Rule.Scope {
		return violation(c, fmt.Sprintf("%s commitment %q cannot be changed", c.Rule.Scope, target.Name)), true
	}
	return domain.Violation{}, false
}

// checkRequiredGap flags demanding commitments on the day right after a
// shift of the rule's work type. The shift ends in the morning, so the
// following day sits inside the recovery gap.
func checkRequiredGap(c domain.Constraint, days []domain.CalendarDay) (domain.Violation, bool) {
	for i := 1; i < len(days); i++ {
		if days[i-1].WorkType != c.Rule.After {
			continue
		}
		for _, dc := range days[i].Commitments {
			if dc.Type == domain.CommitmentEducation || dc.Type == domain.CommitmentStudy {
				return violation(c, fmt.Sprintf("%s on %s leaves less than %.0fh after a %s shift", dc.Type, days[i].Date, c.Rule.Hours, c.Rule.After)), true
			}
		}
	}
	return domain.Violation{}, false
}

func violation(c domain.Constraint, msg string) domain.Violation {
	return domain.Violation{
		ConstraintID:   c.ID,
		ConstraintName: c.Name,
		Message:        msg,
		Severity:       "error",
	}
}

func overlapWarnings(cmd domain.Command, before domain.Settings) []domain.Violation {
	if cmd.Intent != domain.IntentAddLeave || cmd.Leave == nil {
		return nil
	}
	var out []domain.Violation
	for _, l := range before.LeaveBlocks {
		if cmd.Leave.Overlaps(l) {
			out = append(out, domain.Violation{
				Message:  fmt.Sprintf("leave overlaps existing block %s to %s", l.StartDate, l.EndDate),
				Severity: "warning",
			})
		}
	}
	return out
}

func findCommitment(cs []domain.Commitment, id string) *domain.Commitment {
	for i := range cs {
		if cs[i].ID == id {
			return &cs[i]
		}
	}
	return nil
}

func explain(r Result) string {
	switch {
	case len(r.Violations) > 0:
		return fmt.Sprintf("%d constraint violation(s); first: %s", len(r.Violations), r.Violations[0].Message)
	case len(r.Warnings) > 0:
		return fmt.Sprintf("valid with %d warning(s)", len(r.Warnings))
	default:
		return "no constraints violated"
	}
}

// alternatives offers at most a few ways around a rejection: queue the
// commitment instead of activating it, replace an active commitment of
// the same type, or restrict the schedule to days that validated.
func alternatives(cmd domain.Command, before domain.Settings, days []domain.CalendarDay) []domain.Alternative {
	if cmd.Intent != domain.IntentAddCommitment || cmd.Commitment == nil {
		return nil
	}
	var out []domain.Alternative

	queued := *cmd.Commitment
	queued.Status = domain.CommitmentQueued
	queuedCmd := cmd
	queuedCmd.Commitment = &queued
	out = append(out, domain.Alternative{
		Kind:        "queue",
		Description: fmt.Sprintf("queue %q until a slot frees up", queued.Name),
		Command:     &queuedCmd,
	})

	replaced := 0
	for i := range before.Commitments {
		cm := before.Commitments[i]
		if cm.Type != cmd.Commitment.Type || (cm.Status != domain.CommitmentActive && cm.Status != "") {
			continue
		}
		out = append(out, domain.Alternative{
			Kind:        "replace",
			Description: fmt.Sprintf("replace active commitment %q", cm.Name),
		})
		replaced++
		if replaced == 2 {
			break
		}
	}

	if valid := validDays(cmd.Commitment, days); len(valid) > 0 {
		narrowed := *cmd.Commitment
		narrowed.StartDate = valid[0]
		narrowed.EndDate = valid[len(valid)-1]
		narrowedCmd := cmd
		narrowedCmd.Commitment = &narrowed
		out = append(out, domain.Alternative{
			Kind:        "restrict_days",
			Description: fmt.Sprintf("limit schedule to %s through %s", valid[0], valid[len(valid)-1]),
			Command:     &narrowedCmd,
		})
	}
	return out
}

// validDays lists occurrence dates that would not overload their day.
func validDays(c *domain.Commitment, days []domain.CalendarDay) []string {
	var out []string
	for _, d := range days {
		for _, dc := range d.Commitments {
			if dc.CommitmentID != c.ID {
				continue
			}
			if d.UsedHours <= d.AvailableHours && d.WorkType != domain.WorkNight {
				out = append(out, d.Date)
			}
		}
	}
	return out
}
