package settings

import (
	"errors"
	"fmt"
	"testing"

	"rotaline/internal/constraint"
	"rotaline/internal/domain"
)

const now = "2026-02-01T10:00:00Z"

func idSeq() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

func validCycle() *domain.Cycle {
	return &domain.Cycle{
		Pattern: []domain.CycleBlock{
			{Label: domain.WorkDay, Duration: 5},
			{Label: domain.WorkNight, Duration: 5},
			{Label: domain.Off, Duration: 5},
		},
		AnchorDate:     "2026-01-01",
		AnchorCycleDay: 1,
	}
}

func TestApplyUpdateCycle(t *testing.T) {
	out, err := Apply(domain.Settings{}, domain.Command{Intent: domain.IntentUpdateCycle, Cycle: validCycle()}, idSeq(), now)
	if err != nil {
		t.Fatal(err)
	}
	if out.Cycle == nil || out.Cycle.Length() != 15 {
		t.Errorf("cycle = %+v", out.Cycle)
	}
}

func TestApplyRejectsInvalidCycle(t *testing.T) {
	c := validCycle()
	c.AnchorCycleDay = 99
	_, err := Apply(domain.Settings{}, domain.Command{Intent: domain.IntentUpdateCycle, Cycle: c}, idSeq(), now)
	if err == nil {
		t.Error("invalid cycle applied")
	}
}

func TestApplyAddCommitmentMintsID(t *testing.T) {
	cmd := domain.Command{
		Intent: domain.IntentAddCommitment,
		Commitment: &domain.Commitment{
			Name:       "anatomy",
			Type:       domain.CommitmentStudy,
			Recurrence: domain.Recurrence{Kind: domain.RecurDaily},
		},
	}
	out, err := Apply(domain.Settings{}, cmd, idSeq(), now)
	if err != nil {
		t.Fatal(err)
	}
	if len(out.Commitments) != 1 {
		t.Fatalf("commitments = %+v", out.Commitments)
	}
	cm := out.Commitments[0]
	if cm.ID != "id-1" {
		t.Errorf("id = %q, want minted id-1", cm.ID)
	}
	if cm.Status != domain.CommitmentActive {
		t.Errorf("status = %q, want active default", cm.Status)
	}
	if cm.CreatedAt != now || cm.UpdatedAt != now {
		t.Errorf("timestamps = %q/%q", cm.CreatedAt, cm.UpdatedAt)
	}
}

func TestApplyUpdateCommitmentPreservesCreation(t *testing.T) {
	st := domain.Settings{
		Commitments: []domain.Commitment{{
			ID:         "c1",
			Name:       "anatomy",
			Type:       domain.CommitmentStudy,
			Status:     domain.CommitmentActive,
			Recurrence: domain.Recurrence{Kind: domain.RecurDaily},
			CreatedAt:  "2026-01-01T00:00:00Z",
		}},
	}
	cmd := domain.Command{
		Intent: domain.IntentUpdateCommitment,
		Commitment: &domain.Commitment{
			ID:         "c1",
			Name:       "anatomy II",
			Type:       domain.CommitmentStudy,
			Recurrence: domain.Recurrence{Kind: domain.RecurDaily},
		},
	}
	out, err := Apply(st, cmd, idSeq(), now)
	if err != nil {
		t.Fatal(err)
	}
	cm := out.Commitments[0]
	if cm.Name != "anatomy II" || cm.CreatedAt != "2026-01-01T00:00:00Z" || cm.UpdatedAt != now {
		t.Errorf("updated commitment = %+v", cm)
	}
	if cm.Status != domain.CommitmentActive {
		t.Errorf("status = %q, want carried over", cm.Status)
	}
}

func TestApplyRemoveUnknownEntity(t *testing.T) {
	cmds := []domain.Command{
		{Intent: domain.IntentRemoveCommitment, CommitmentID: "ghost"},
		{Intent: domain.IntentRemoveLeave, LeaveID: "ghost"},
		{Intent: domain.IntentRemoveConstraint, ConstraintID: "ghost"},
	}
	for _, cmd := range cmds {
		if _, err := Apply(domain.Settings{}, cmd, idSeq(), now); !errors.Is(err, ErrUnknownEntity) {
			t.Errorf("%s: got %v, want ErrUnknownEntity", cmd.Intent, err)
		}
	}
}

func TestApplySystemConstraintsProtected(t *testing.T) {
	st := domain.Settings{Constraints: constraint.SystemConstraints()}
	remove := domain.Command{Intent: domain.IntentRemoveConstraint, ConstraintID: "sys.no_study_on_nights"}
	if _, err := Apply(st, remove, idSeq(), now); !errors.Is(err, ErrSystemConstraint) {
		t.Errorf("remove: got %v, want ErrSystemConstraint", err)
	}
	update := domain.Command{
		Intent: domain.IntentUpdateConstraint,
		Constraint: &domain.Constraint{
			ID:   "sys.no_study_on_nights",
			Name: "weakened",
			Rule: domain.Rule{Kind: domain.RuleNoActivityOn, Activity: domain.CommitmentStudy, WorkTypes: []domain.WorkType{domain.WorkNight}},
		},
	}
	if _, err := Apply(st, update, idSeq(), now); !errors.Is(err, ErrSystemConstraint) {
		t.Errorf("update: got %v, want ErrSystemConstraint", err)
	}
}

func TestApplyConstraintUpsert(t *testing.T) {
	cmd := domain.Command{
		Intent: domain.IntentUpdateConstraint,
		Constraint: &domain.Constraint{
			Name: "no gym on nights",
			Rule: domain.Rule{Kind: domain.RuleNoActivityOn, Activity: domain.CommitmentPersonal, WorkTypes: []domain.WorkType{domain.WorkNight}},
		},
	}
	out, err := Apply(domain.Settings{}, cmd, idSeq(), now)
	if err != nil {
		t.Fatal(err)
	}
	if len(out.Constraints) != 1 || out.Constraints[0].ID != "id-1" || !out.Constraints[0].Active {
		t.Errorf("constraints = %+v", out.Constraints)
	}
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	st := domain.Settings{
		Commitments: []domain.Commitment{{
			ID:         "c1",
			Type:       domain.CommitmentStudy,
			Recurrence: domain.Recurrence{Kind: domain.RecurDaily},
		}},
	}
	_, err := Apply(st, domain.Command{Intent: domain.IntentRemoveCommitment, CommitmentID: "c1"}, idSeq(), now)
	if err != nil {
		t.Fatal(err)
	}
	if len(st.Commitments) != 1 {
		t.Error("input settings were mutated")
	}
}
