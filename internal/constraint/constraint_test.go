package constraint

import (
	"strings"
	"testing"

	"rotaline/internal/domain"
)

func systemSettings() domain.Settings {
	return domain.Settings{
		Constraints: SystemConstraints(),
		Preferences: domain.Preferences{ConstraintMode: domain.ModeBinary},
	}
}

func day(date string, wt domain.WorkType, cs ...domain.DayCommitment) domain.CalendarDay {
	d := domain.CalendarDay{Date: date, WorkType: wt, AvailableHours: 4, Commitments: cs}
	for _, c := range cs {
		d.UsedHours += c.Hours
	}
	return d
}

func addStudy() domain.Command {
	return domain.Command{
		Intent: domain.IntentAddCommitment,
		Commitment: &domain.Commitment{
			ID:            "c1",
			Name:          "anatomy",
			Type:          domain.CommitmentStudy,
			Recurrence:    domain.Recurrence{Kind: domain.RecurDaily},
			DurationHours: 2,
		},
	}
}

func TestNoStudyOnNights(t *testing.T) {
	days := []domain.CalendarDay{
		day("2026-01-06", domain.WorkNight, domain.DayCommitment{CommitmentID: "c1", Type: domain.CommitmentStudy, Hours: 2}),
	}
	res := Evaluate(addStudy(), systemSettings(), days)
	if res.Valid {
		t.Fatal("study on a night shift validated")
	}
	if len(res.Violations) == 0 || !strings.Contains(res.Violations[0].Message, "work_night") {
		t.Errorf("violations = %+v", res.Violations)
	}
}

func TestMaxConcurrentEducation(t *testing.T) {
	st := systemSettings()
	st.Commitments = []domain.Commitment{
		{ID: "e1", Type: domain.CommitmentEducation, Status: domain.CommitmentActive},
		{ID: "e2", Type: domain.CommitmentEducation, Status: domain.CommitmentActive},
	}
	cmd := domain.Command{
		Intent:     domain.IntentAddCommitment,
		Commitment: &domain.Commitment{ID: "e3", Type: domain.CommitmentEducation},
	}
	res := Evaluate(cmd, st, nil)
	if res.Valid {
		t.Fatal("third concurrent education track validated")
	}

	// A queued track does not count against the limit.
	cmd.Commitment.Status = domain.CommitmentQueued
	if res := Evaluate(cmd, st, nil); !res.Valid {
		t.Errorf("queued track rejected: %+v", res.Violations)
	}
}

func TestWorkCommitmentsImmutable(t *testing.T) {
	st := systemSettings()
	st.Commitments = []domain.Commitment{
		{ID: "w1", Name: "shift contract", Type: domain.CommitmentWork, Status: domain.CommitmentActive},
	}
	cmd := domain.Command{Intent: domain.IntentRemoveCommitment, CommitmentID: "w1"}
	res := Evaluate(cmd, st, nil)
	if res.Valid {
		t.Fatal("removing a work commitment validated")
	}
}

func TestRecoveryGapAfterNights(t *testing.T) {
	days := []domain.CalendarDay{
		day("2026-01-10", domain.WorkNight),
		day("2026-01-11", domain.Off, domain.DayCommitment{CommitmentID: "c1", Type: domain.CommitmentEducation, Hours: 2}),
	}
	cmd := addStudy()
	cmd.Commitment.Type = domain.CommitmentEducation
	res := Evaluate(cmd, systemSettings(), days)
	if res.Valid {
		t.Fatal("education on the day after a night shift validated")
	}
}

func TestWeightedModeDowngradesSoftViolations(t *testing.T) {
	st := systemSettings()
	st.Preferences = domain.Preferences{ConstraintMode: domain.ModeWeighted, AcceptThreshold: 10}
	st.Constraints = append(st.Constraints, domain.Constraint{
		ID:     "u1",
		Name:   "no personal stuff on work days",
		Rule:   domain.Rule{Kind: domain.RuleNoActivityOn, Activity: domain.CommitmentPersonal, WorkTypes: []domain.WorkType{domain.WorkDay}},
		Weight: 3,
		Active: true,
	})
	days := []domain.CalendarDay{
		day("2026-01-02", domain.WorkDay, domain.DayCommitment{CommitmentID: "p1", Type: domain.CommitmentPersonal, Hours: 1}),
	}
	cmd := domain.Command{
		Intent:     domain.IntentAddCommitment,
		Commitment: &domain.Commitment{ID: "p1", Type: domain.CommitmentPersonal},
	}
	res := Evaluate(cmd, st, days)
	if !res.Valid {
		t.Fatalf("weight 3 under threshold 10 should pass: %+v", res.Violations)
	}
	if len(res.Warnings) == 0 {
		t.Error("soft violation should surface as a warning")
	}
}

func TestWeightedModeKeepsSystemRulesHard(t *testing.T) {
	st := systemSettings()
	st.Preferences = domain.Preferences{ConstraintMode: domain.ModeWeighted, AcceptThreshold: 100}
	days := []domain.CalendarDay{
		day("2026-01-06", domain.WorkNight, domain.DayCommitment{CommitmentID: "c1", Type: domain.CommitmentStudy, Hours: 2}),
	}
	res := Evaluate(addStudy(), st, days)
	if res.Valid {
		t.Fatal("system rule softened in weighted mode")
	}
}

func TestWeightedModeOverBudgetHardens(t *testing.T) {
	st := domain.Settings{
		Preferences: domain.Preferences{ConstraintMode: domain.ModeWeighted, AcceptThreshold: 3},
		Constraints: []domain.Constraint{{
			ID:     "u1",
			Name:   "no personal stuff on work days",
			Rule:   domain.Rule{Kind: domain.RuleNoActivityOn, Activity: domain.CommitmentPersonal, WorkTypes: []domain.WorkType{domain.WorkDay}},
			Weight: 5,
			Active: true,
		}},
	}
	days := []domain.CalendarDay{
		day("2026-01-02", domain.WorkDay, domain.DayCommitment{CommitmentID: "p1", Type: domain.CommitmentPersonal, Hours: 1}),
	}
	cmd := domain.Command{
		Intent:     domain.IntentAddCommitment,
		Commitment: &domain.Commitment{ID: "p1", Type: domain.CommitmentPersonal},
	}
	if res := Evaluate(cmd, st, days); res.Valid {
		t.Fatal("weight 5 against threshold 3 should reject")
	}
}

func TestInactiveConstraintsAreIgnored(t *testing.T) {
	st := systemSettings()
	for i := range st.Constraints {
		st.Constraints[i].Active = false
	}
	days := []domain.CalendarDay{
		day("2026-01-06", domain.WorkNight, domain.DayCommitment{CommitmentID: "c1", Type: domain.CommitmentStudy, Hours: 2}),
	}
	if res := Evaluate(addStudy(), st, days); !res.Valid {
		t.Errorf("inactive constraints still fired: %+v", res.Violations)
	}
}

func TestLeaveOverlapWarns(t *testing.T) {
	st := systemSettings()
	st.LeaveBlocks = []domain.LeaveBlock{
		{ID: "l1", StartDate: "2026-07-01", EndDate: "2026-07-10"},
	}
	cmd := domain.Command{
		Intent: domain.IntentAddLeave,
		Leave:  &domain.LeaveBlock{StartDate: "2026-07-08", EndDate: "2026-07-15"},
	}
	res := Evaluate(cmd, st, nil)
	if !res.Valid {
		t.Fatalf("overlapping leave should still validate: %+v", res.Violations)
	}
	if len(res.Warnings) != 1 {
		t.Errorf("warnings = %+v, want one overlap warning", res.Warnings)
	}
}

func TestAlternativesOfferQueueAndRestriction(t *testing.T) {
	st := systemSettings()
	st.Commitments = []domain.Commitment{
		{ID: "e1", Name: "nursing school", Type: domain.CommitmentStudy, Status: domain.CommitmentActive},
	}
	days := []domain.CalendarDay{
		day("2026-01-06", domain.WorkNight, domain.DayCommitment{CommitmentID: "c1", Type: domain.CommitmentStudy, Hours: 2}),
		day("2026-01-11", domain.Off, domain.DayCommitment{CommitmentID: "c1", Type: domain.CommitmentStudy, Hours: 2}),
	}
	res := Evaluate(addStudy(), st, days)
	if res.Valid {
		t.Fatal("setup should reject")
	}
	kinds := map[string]bool{}
	for _, a := range res.Alternatives {
		kinds[a.Kind] = true
	}
	if !kinds["queue"] {
		t.Errorf("alternatives = %+v, want a queue suggestion", res.Alternatives)
	}
	if !kinds["restrict_days"] {
		t.Errorf("alternatives = %+v, want a restrict_days suggestion", res.Alternatives)
	}
}

func TestExplanationSummarizesOutcome(t *testing.T) {
	res := Evaluate(addStudy(), systemSettings(), nil)
	if res.Explanation != "no constraints violated" {
		t.Errorf("explanation = %q", res.Explanation)
	}
}
