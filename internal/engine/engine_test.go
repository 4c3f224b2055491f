package engine_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"rotaline/internal/config"
	"rotaline/internal/db"
	"rotaline/internal/domain"
	"rotaline/internal/engine"
	"rotaline/internal/migrate"
)

type testEnv struct {
	Engine *engine.Engine
	Ctx    context.Context
	Clock  *time.Time
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("me")
	eng := engine.New(conn, cfg)
	clock := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	eng.Now = func() time.Time { return clock }
	return testEnv{Engine: eng, Ctx: context.Background(), Clock: &clock}
}

func fiveFiveFiveCmd() domain.Command {
	return domain.Command{
		Intent: domain.IntentUpdateCycle,
		Cycle: &domain.Cycle{
			Pattern: []domain.CycleBlock{
				{Label: domain.WorkDay, Duration: 5},
				{Label: domain.WorkNight, Duration: 5},
				{Label: domain.Off, Duration: 5},
			},
			AnchorDate:     "2026-01-01",
			AnchorCycleDay: 1,
		},
	}
}

func approve(t *testing.T, env testEnv, cmd domain.Command) domain.Mutation {
	t.Helper()
	m, err := env.Engine.Propose(env.Ctx, "me", cmd, "tester")
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	m, err = env.Engine.Approve(env.Ctx, "me", m.ID, false, "tester")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	return m
}

func TestProposeApproveCycle(t *testing.T) {
	env := newTestEnv(t)
	m, err := env.Engine.Propose(env.Ctx, "me", fiveFiveFiveCmd(), "tester")
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	if m.Status != domain.StatusProposed || m.Exec != domain.ExecNone {
		t.Fatalf("unexpected state %s/%s", m.Status, m.Exec)
	}
	if m.BeforeHash == "" {
		t.Fatalf("expected before hash from baseline snapshot")
	}
	m, err = env.Engine.Approve(env.Ctx, "me", m.ID, false, "tester")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if m.Status != domain.StatusApproved || m.Exec != domain.ExecApplied {
		t.Fatalf("unexpected state %s/%s", m.Status, m.Exec)
	}
	if m.AfterHash == "" || m.AfterHash == m.BeforeHash {
		t.Fatalf("expected a new state hash")
	}
	days, err := env.Engine.Calendar(env.Ctx, "me", "2026-01-01", "2026-01-16")
	if err != nil {
		t.Fatalf("calendar: %v", err)
	}
	expect := map[string]domain.WorkType{
		"2026-01-01": domain.WorkDay,
		"2026-01-06": domain.WorkNight,
		"2026-01-11": domain.Off,
		"2026-01-16": domain.WorkDay,
	}
	for _, d := range days {
		if wt, ok := expect[d.Date]; ok && d.WorkType != wt {
			t.Errorf("%s = %s, want %s", d.Date, d.WorkType, wt)
		}
	}
	if err := env.Engine.VerifyChain(env.Ctx, "me"); err != nil {
		t.Fatalf("verify chain: %v", err)
	}
}

func TestInvalidCycleAbortsBeforeConstraints(t *testing.T) {
	env := newTestEnv(t)
	cmd := fiveFiveFiveCmd()
	cmd.Cycle.AnchorCycleDay = 99
	_, err := env.Engine.Propose(env.Ctx, "me", cmd, "tester")
	if engine.KindOf(err) != engine.KindInvalidCycle {
		t.Fatalf("got %v, want invalid cycle", err)
	}
	snaps, err := env.Engine.ListSnapshots(env.Ctx, "me", 0)
	if err != nil {
		t.Fatal(err)
	}
	// Only the baseline may exist; the failed proposal added nothing.
	if len(snaps) > 1 {
		t.Fatalf("expected no snapshot from failed proposal, got %d", len(snaps))
	}
}

func TestStudyOnNightShiftBlocked(t *testing.T) {
	env := newTestEnv(t)
	approve(t, env, fiveFiveFiveCmd())
	m, err := env.Engine.Propose(env.Ctx, "me", domain.Command{
		Intent: domain.IntentAddCommitment,
		Commitment: &domain.Commitment{
			Name:          "exam prep",
			Type:          domain.CommitmentStudy,
			DurationHours: 1,
			Recurrence:    domain.Recurrence{Kind: domain.RecurDaily},
		},
	}, "tester")
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	if len(m.Violations) == 0 {
		t.Fatalf("expected violations for study across night shifts")
	}
	if len(m.Alternatives) == 0 {
		t.Fatalf("expected alternatives on rejection")
	}
	_, err = env.Engine.Approve(env.Ctx, "me", m.ID, false, "tester")
	if engine.KindOf(err) != engine.KindConstraintViolation {
		t.Fatalf("got %v, want constraint violation", err)
	}
	// The guard is a system constraint; override does not waive it.
	_, err = env.Engine.Approve(env.Ctx, "me", m.ID, true, "tester")
	if engine.KindOf(err) != engine.KindConstraintViolation {
		t.Fatalf("override got %v, want constraint violation", err)
	}
}

func TestMaxConcurrentEducation(t *testing.T) {
	env := newTestEnv(t)
	approve(t, env, fiveFiveFiveCmd())
	course := func(name string, monthDay int) domain.Command {
		return domain.Command{
			Intent: domain.IntentAddCommitment,
			Commitment: &domain.Commitment{
				Name:          name,
				Type:          domain.CommitmentEducation,
				DurationHours: 2,
				Recurrence:    domain.Recurrence{Kind: domain.RecurMonthly, MonthDays: []int{monthDay}},
			},
		}
	}
	approve(t, env, course("course a", 2))
	approve(t, env, course("course b", 3))
	m, err := env.Engine.Propose(env.Ctx, "me", course("course c", 4), "tester")
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	if len(m.Violations) == 0 {
		t.Fatalf("expected max concurrent violation")
	}
	_, err = env.Engine.Approve(env.Ctx, "me", m.ID, false, "tester")
	if engine.KindOf(err) != engine.KindConstraintViolation {
		t.Fatalf("got %v, want constraint violation", err)
	}
}

func TestUndoRedoHashRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	approve(t, env, fiveFiveFiveCmd())
	hashAfterCycle, err := env.Engine.HeadHash(env.Ctx, "me")
	if err != nil {
		t.Fatal(err)
	}
	approve(t, env, domain.Command{
		Intent: domain.IntentAddCommitment,
		Commitment: &domain.Commitment{
			Name:          "gym",
			Type:          domain.CommitmentPersonal,
			DurationHours: 1,
			Recurrence:    domain.Recurrence{Kind: domain.RecurDaily},
		},
	})
	hashAfterGym, err := env.Engine.HeadHash(env.Ctx, "me")
	if err != nil {
		t.Fatal(err)
	}
	if hashAfterGym == hashAfterCycle {
		t.Fatalf("expected distinct hashes")
	}

	if _, err := env.Engine.Undo(env.Ctx, "me", "tester"); err != nil {
		t.Fatalf("undo: %v", err)
	}
	h, _ := env.Engine.HeadHash(env.Ctx, "me")
	if h != hashAfterCycle {
		t.Fatalf("undo head = %s, want %s", h, hashAfterCycle)
	}
	doc, err := env.Engine.GetSettings(env.Ctx, "me")
	if err != nil {
		t.Fatal(err)
	}
	if len(doc.Settings.Commitments) != 0 {
		t.Fatalf("expected commitment gone after undo")
	}

	if _, err := env.Engine.Redo(env.Ctx, "me", "tester"); err != nil {
		t.Fatalf("redo: %v", err)
	}
	h, _ = env.Engine.HeadHash(env.Ctx, "me")
	if h != hashAfterGym {
		t.Fatalf("redo head = %s, want %s", h, hashAfterGym)
	}
	if err := env.Engine.VerifyChain(env.Ctx, "me"); err != nil {
		t.Fatalf("verify chain: %v", err)
	}
}

func TestRedoInvalidatedByNewApply(t *testing.T) {
	env := newTestEnv(t)
	approve(t, env, fiveFiveFiveCmd())
	approve(t, env, domain.Command{
		Intent: domain.IntentAddCommitment,
		Commitment: &domain.Commitment{
			Name:          "gym",
			Type:          domain.CommitmentPersonal,
			DurationHours: 1,
			Recurrence:    domain.Recurrence{Kind: domain.RecurDaily},
		},
	})
	if _, err := env.Engine.Undo(env.Ctx, "me", "tester"); err != nil {
		t.Fatalf("undo: %v", err)
	}
	approve(t, env, domain.Command{
		Intent: domain.IntentAddCommitment,
		Commitment: &domain.Commitment{
			Name:          "reading",
			Type:          domain.CommitmentPersonal,
			DurationHours: 1,
			Recurrence:    domain.Recurrence{Kind: domain.RecurWeekly, Days: []string{"monday"}},
		},
	})
	_, err := env.Engine.Redo(env.Ctx, "me", "tester")
	if engine.KindOf(err) != engine.KindNothingToRedo {
		t.Fatalf("got %v, want nothing to redo", err)
	}
}

func TestNothingToUndo(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.Undo(env.Ctx, "me", "tester")
	if engine.KindOf(err) != engine.KindNothingToUndo {
		t.Fatalf("got %v, want nothing to undo", err)
	}
}

func TestProposalExpiry(t *testing.T) {
	env := newTestEnv(t)
	approve(t, env, fiveFiveFiveCmd())
	m, err := env.Engine.Propose(env.Ctx, "me", domain.Command{
		Intent: domain.IntentAddCommitment,
		Commitment: &domain.Commitment{
			Name:          "gym",
			Type:          domain.CommitmentPersonal,
			DurationHours: 1,
			Recurrence:    domain.Recurrence{Kind: domain.RecurDaily},
		},
	}, "tester")
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	*env.Clock = env.Clock.Add(73 * time.Hour)
	_, err = env.Engine.Approve(env.Ctx, "me", m.ID, false, "tester")
	if engine.KindOf(err) != engine.KindStaleProposal {
		t.Fatalf("got %v, want stale proposal", err)
	}
	got, err := env.Engine.GetMutation(env.Ctx, "me", m.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.StatusExpired {
		t.Fatalf("status = %s, want expired", got.Status)
	}
}

func TestRejectThenApproveIsAlreadyReviewed(t *testing.T) {
	env := newTestEnv(t)
	approve(t, env, fiveFiveFiveCmd())
	m, err := env.Engine.Propose(env.Ctx, "me", domain.Command{
		Intent: domain.IntentAddCommitment,
		Commitment: &domain.Commitment{
			Name:          "gym",
			Type:          domain.CommitmentPersonal,
			DurationHours: 1,
			Recurrence:    domain.Recurrence{Kind: domain.RecurDaily},
		},
	}, "tester")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Reject(env.Ctx, "me", m.ID, "tester"); err != nil {
		t.Fatalf("reject: %v", err)
	}
	_, err = env.Engine.Approve(env.Ctx, "me", m.ID, false, "tester")
	if engine.KindOf(err) != engine.KindAlreadyReviewed {
		t.Fatalf("got %v, want already reviewed", err)
	}
}

func TestLeaveOverridesAndOverlapWarns(t *testing.T) {
	env := newTestEnv(t)
	approve(t, env, fiveFiveFiveCmd())
	approve(t, env, domain.Command{
		Intent: domain.IntentAddLeave,
		Leave:  &domain.LeaveBlock{Name: "winter break", StartDate: "2026-01-20", EndDate: "2026-01-25"},
	})
	days, err := env.Engine.Calendar(env.Ctx, "me", "2026-01-21", "2026-01-21")
	if err != nil {
		t.Fatal(err)
	}
	if days[0].WorkType != domain.Suspended || !days[0].OnLeave || days[0].AvailableHours != 16 {
		t.Fatalf("leave day not suspended: %+v", days[0])
	}
	m, err := env.Engine.Propose(env.Ctx, "me", domain.Command{
		Intent: domain.IntentAddLeave,
		Leave:  &domain.LeaveBlock{Name: "extension", StartDate: "2026-01-24", EndDate: "2026-01-28"},
	}, "tester")
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Violations) != 0 {
		t.Fatalf("overlap must warn, not block: %+v", m.Violations)
	}
	if len(m.Warnings) == 0 {
		t.Fatalf("expected overlap warning")
	}
	if _, err := env.Engine.Approve(env.Ctx, "me", m.ID, false, "tester"); err != nil {
		t.Fatalf("approve overlapping leave: %v", err)
	}
}

func TestStaleSettingsVersion(t *testing.T) {
	env := newTestEnv(t)
	doc, err := env.Engine.GetSettings(env.Ctx, "me")
	if err != nil {
		t.Fatal(err)
	}
	next := doc.Settings
	next.Work.OffFreeHours = 10
	if _, err := env.Engine.UpdateSettings(env.Ctx, "me", next, doc.Version, "tester"); err != nil {
		t.Fatalf("update: %v", err)
	}
	_, err = env.Engine.UpdateSettings(env.Ctx, "me", next, doc.Version, "tester")
	if engine.KindOf(err) != engine.KindStaleSettings {
		t.Fatalf("got %v, want stale settings", err)
	}
}

func TestCalendarIsDeterministic(t *testing.T) {
	env := newTestEnv(t)
	approve(t, env, fiveFiveFiveCmd())
	a, err := env.Engine.Calendar(env.Ctx, "me", "2026-02-01", "2026-02-28")
	if err != nil {
		t.Fatal(err)
	}
	b, err := env.Engine.Calendar(env.Ctx, "me", "2026-02-01", "2026-02-28")
	if err != nil {
		t.Fatal(err)
	}
	ja, _ := json.Marshal(a)
	jb, _ := json.Marshal(b)
	if string(ja) != string(jb) {
		t.Fatalf("same range produced different bytes")
	}
}

func TestChainDetectsTampering(t *testing.T) {
	env := newTestEnv(t)
	approve(t, env, fiveFiveFiveCmd())
	if err := env.Engine.VerifyChain(env.Ctx, "me"); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if _, err := env.Engine.DB.ExecContext(env.Ctx,
		`UPDATE snapshots SET state_json=? WHERE seq=(SELECT MAX(seq) FROM snapshots)`, `{"settings":{}}`); err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.VerifyChain(env.Ctx, "me"); err == nil {
		t.Fatalf("expected tampering to fail verification")
	}
}

func TestSystemConstraintCannotBeRemoved(t *testing.T) {
	env := newTestEnv(t)
	approve(t, env, fiveFiveFiveCmd())
	_, err := env.Engine.Propose(env.Ctx, "me", domain.Command{
		Intent:       domain.IntentRemoveConstraint,
		ConstraintID: "sys.no_study_on_nights",
	}, "tester")
	if engine.KindOf(err) != engine.KindConstraintViolation {
		t.Fatalf("got %v, want constraint violation", err)
	}
}

func TestEventsAppendedOnPipeline(t *testing.T) {
	env := newTestEnv(t)
	m := approve(t, env, fiveFiveFiveCmd())
	events, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, "me", "", "mutation", m.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) < 2 {
		t.Fatalf("expected proposed+applied events, got %d", len(events))
	}
}

func TestRedoInvalidatedByNewProposal(t *testing.T) {
	env := newTestEnv(t)
	approve(t, env, fiveFiveFiveCmd())
	approve(t, env, domain.Command{
		Intent: domain.IntentAddCommitment,
		Commitment: &domain.Commitment{
			Name:          "gym",
			Type:          domain.CommitmentPersonal,
			DurationHours: 1,
			Recurrence:    domain.Recurrence{Kind: domain.RecurDaily},
		},
	})
	if _, err := env.Engine.Undo(env.Ctx, "me", "tester"); err != nil {
		t.Fatalf("undo: %v", err)
	}
	// Proposing alone, without any approval, forfeits the redo slot.
	_, err := env.Engine.Propose(env.Ctx, "me", domain.Command{
		Intent: domain.IntentAddCommitment,
		Commitment: &domain.Commitment{
			Name:          "reading",
			Type:          domain.CommitmentPersonal,
			DurationHours: 1,
			Recurrence:    domain.Recurrence{Kind: domain.RecurWeekly, Days: []string{"monday"}},
		},
	}, "tester")
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	_, err = env.Engine.Redo(env.Ctx, "me", "tester")
	if engine.KindOf(err) != engine.KindNothingToRedo {
		t.Fatalf("got %v, want nothing to redo", err)
	}
}

func TestCommitmentPlanReroutesBlockedDays(t *testing.T) {
	env := newTestEnv(t)
	approve(t, env, fiveFiveFiveCmd())
	doc, err := env.Engine.GetSettings(env.Ctx, "me")
	if err != nil {
		t.Fatal(err)
	}
	next := doc.Settings
	next.Commitments = append(next.Commitments, domain.Commitment{
		ID:            "study-1",
		Name:          "anatomy block",
		Type:          domain.CommitmentStudy,
		Status:        domain.CommitmentActive,
		DurationHours: 1,
		Recurrence:    domain.Recurrence{Kind: domain.RecurMonthly, MonthDays: []int{6}},
	})
	if _, err := env.Engine.UpdateSettings(env.Ctx, "me", next, doc.Version, "tester"); err != nil {
		t.Fatalf("update settings: %v", err)
	}

	p, err := env.Engine.CommitmentPlan(env.Ctx, "me", "study-1")
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(p.Occurrences) != 3 {
		t.Fatalf("expected 3 monthly occurrences over the horizon, got %d", len(p.Occurrences))
	}
	first := p.Occurrences[0]
	if first.Date != "2026-01-06" || len(first.Reasons) == 0 {
		t.Fatalf("first occurrence should hit a night shift: %+v", first)
	}
	// Jan 7-10 are still nights and Jan 11 sits in the recovery gap, so
	// the occurrence slides to the first clear off day.
	if !first.Accepted || first.ReroutedTo != "2026-01-12" {
		t.Fatalf("expected reroute to 2026-01-12: %+v", first)
	}
	last := p.Occurrences[2]
	if !last.Accepted || last.ReroutedTo != "" {
		t.Fatalf("march occurrence lands on a work day and should stand: %+v", last)
	}
	if p.Accepted != 3 || p.Rejected != 0 {
		t.Fatalf("accepted/rejected = %d/%d", p.Accepted, p.Rejected)
	}

	if _, err := env.Engine.CommitmentPlan(env.Ctx, "me", "nope"); engine.KindOf(err) != engine.KindNotFound {
		t.Fatalf("got %v, want not found", err)
	}
}
