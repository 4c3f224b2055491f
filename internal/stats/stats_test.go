package stats

import (
	"testing"
	"time"

	"rotaline/internal/domain"
)

func runOf(from string, n int, wt domain.WorkType, cs ...domain.DayCommitment) []domain.CalendarDay {
	start, _ := time.Parse(dateLayout, from)
	var out []domain.CalendarDay
	for i := 0; i < n; i++ {
		d := domain.CalendarDay{
			Date:        start.AddDate(0, 0, i).Format(dateLayout),
			WorkType:    wt,
			Commitments: cs,
		}
		for _, c := range cs {
			d.UsedHours += c.Hours
		}
		out = append(out, d)
	}
	return out
}

func TestYearlyCountsAndHours(t *testing.T) {
	study := domain.DayCommitment{CommitmentID: "c1", Type: domain.CommitmentStudy, Hours: 2}
	gym := domain.DayCommitment{CommitmentID: "c2", Type: domain.CommitmentPersonal, Hours: 1}

	var days []domain.CalendarDay
	days = append(days, runOf("2026-01-01", 5, domain.WorkDay, gym)...)
	days = append(days, runOf("2026-01-06", 5, domain.WorkNight)...)
	days = append(days, runOf("2026-01-11", 5, domain.Off, study)...)
	days = append(days, runOf("2026-01-16", 3, domain.Suspended)...)

	s := Yearly(2026, days)
	if s.WorkDays != 5 || s.NightDays != 5 || s.OffDays != 5 || s.LeaveDays != 3 {
		t.Errorf("day counts = %d/%d/%d/%d", s.WorkDays, s.NightDays, s.OffDays, s.LeaveDays)
	}
	if s.CommittedHours != 15 {
		t.Errorf("committed hours = %g, want 15", s.CommittedHours)
	}
	if s.StudyHours != 10 {
		t.Errorf("study hours = %g, want 10", s.StudyHours)
	}
	if len(s.Months) != 1 || s.Months[0].Month != "2026-01" {
		t.Errorf("months = %+v", s.Months)
	}
}

func TestYearlyIgnoresOtherYears(t *testing.T) {
	days := append(runOf("2025-12-30", 2, domain.WorkDay), runOf("2026-01-01", 2, domain.WorkDay)...)
	s := Yearly(2026, days)
	if s.WorkDays != 2 {
		t.Errorf("work days = %d, want 2", s.WorkDays)
	}
}

func TestZeroRecoverySpans(t *testing.T) {
	var days []domain.CalendarDay
	days = append(days, runOf("2026-03-02", 7, domain.WorkDay)...)
	days = append(days, runOf("2026-03-09", 1, domain.Off)...)
	days = append(days, runOf("2026-03-10", 4, domain.WorkDay)...)
	days = append(days, runOf("2026-03-14", 3, domain.WorkNight)...)

	s := Yearly(2026, days)
	if s.ZeroRecoverySpans != 2 {
		t.Errorf("zero recovery spans = %d, want 2", s.ZeroRecoverySpans)
	}
}

func TestPeakWeeksCappedAndSorted(t *testing.T) {
	hour := domain.DayCommitment{CommitmentID: "c1", Type: domain.CommitmentStudy, Hours: 1}
	var days []domain.CalendarDay
	// Eight Mondays, each with a growing load.
	for i := 0; i < 8; i++ {
		date := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i*7)
		d := domain.CalendarDay{Date: date.Format(dateLayout), WorkType: domain.Off}
		for j := 0; j <= i; j++ {
			d.Commitments = append(d.Commitments, hour)
		}
		days = append(days, d)
	}
	s := Yearly(2026, days)
	if len(s.PeakWeeks) != 5 {
		t.Fatalf("peak weeks = %d, want top 5", len(s.PeakWeeks))
	}
	for i := 1; i < len(s.PeakWeeks); i++ {
		if s.PeakWeeks[i].Hours > s.PeakWeeks[i-1].Hours {
			t.Fatalf("peak weeks not sorted: %+v", s.PeakWeeks)
		}
	}
	if s.PeakWeeks[0].Hours != 8 {
		t.Errorf("heaviest week = %g, want 8", s.PeakWeeks[0].Hours)
	}
}

func TestMonthlyPicksOneMonth(t *testing.T) {
	days := append(runOf("2026-01-30", 2, domain.WorkDay), runOf("2026-02-01", 3, domain.WorkNight)...)
	mb := Monthly(2026, time.February, days)
	if mb.Month != "2026-02" || mb.NightDays != 3 || mb.WorkDays != 0 {
		t.Errorf("monthly = %+v", mb)
	}
}

func TestDashboard(t *testing.T) {
	study := domain.DayCommitment{CommitmentID: "c1", Type: domain.CommitmentStudy, Hours: 2}
	days := runOf("2026-04-01", 10, domain.Off, study)
	st := domain.Settings{
		Commitments: []domain.Commitment{
			{ID: "c1", Status: domain.CommitmentActive},
			{ID: "c2", Status: domain.CommitmentPaused},
		},
		LeaveBlocks: []domain.LeaveBlock{
			{ID: "l1", StartDate: "2026-03-01", EndDate: "2026-03-10"},
			{ID: "l2", StartDate: "2026-05-01", EndDate: "2026-05-10"},
		},
	}
	d := Dashboard("2026-04-01", days, st, 3)
	if d.Today == nil || d.Today.Date != "2026-04-01" {
		t.Fatalf("today = %+v", d.Today)
	}
	if len(d.UpcomingDays) != 7 {
		t.Errorf("upcoming days = %d, want 7", len(d.UpcomingDays))
	}
	if d.WeekStudyHours != 14 {
		t.Errorf("week study hours = %g, want 14", d.WeekStudyHours)
	}
	if d.ActiveCommitments != 1 {
		t.Errorf("active commitments = %d, want 1", d.ActiveCommitments)
	}
	if d.PendingProposals != 3 {
		t.Errorf("pending proposals = %d, want 3", d.PendingProposals)
	}
	if d.NextLeave == nil || d.NextLeave.ID != "l2" {
		t.Errorf("next leave = %+v, want the May block", d.NextLeave)
	}
}
