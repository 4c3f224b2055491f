package schedule

import (
	"testing"

	"rotaline/internal/constraint"
	"rotaline/internal/domain"
)

func TestOccursDaily(t *testing.T) {
	r := domain.Recurrence{Kind: domain.RecurDaily}
	if !Occurs(r, "", "2026-01-01") {
		t.Error("daily recurrence missed a day")
	}
}

func TestOccursWeekly(t *testing.T) {
	r := domain.Recurrence{Kind: domain.RecurWeekly, Days: []string{"monday", "thursday"}}
	cases := map[string]bool{
		"2026-01-05": true,  // Monday
		"2026-01-01": true,  // Thursday
		"2026-01-06": false, // Tuesday
	}
	for date, want := range cases {
		if got := Occurs(r, "", date); got != want {
			t.Errorf("Occurs(%s) = %v, want %v", date, got, want)
		}
	}
}

func TestOccursBiweeklyParity(t *testing.T) {
	r := domain.Recurrence{Kind: domain.RecurBiweekly, Days: []string{"monday"}}
	start := "2026-01-05"
	cases := map[string]bool{
		"2026-01-05": true,
		"2026-01-12": false,
		"2026-01-19": true,
	}
	for date, want := range cases {
		if got := Occurs(r, start, date); got != want {
			t.Errorf("Occurs(%s) = %v, want %v", date, got, want)
		}
	}
}

func TestOccursMonthly(t *testing.T) {
	r := domain.Recurrence{Kind: domain.RecurMonthly, MonthDays: []int{1, 15}}
	cases := map[string]bool{
		"2026-01-01": true,
		"2026-01-15": true,
		"2026-02-15": true,
		"2026-01-16": false,
	}
	for date, want := range cases {
		if got := Occurs(r, "", date); got != want {
			t.Errorf("Occurs(%s) = %v, want %v", date, got, want)
		}
	}
}

func TestExpandClipsToCommitmentBounds(t *testing.T) {
	c := domain.Commitment{
		Recurrence: domain.Recurrence{Kind: domain.RecurDaily},
		StartDate:  "2026-01-10",
		EndDate:    "2026-01-12",
	}
	got := Expand(c, "2026-01-01", "2026-01-31", 0)
	want := []string{"2026-01-10", "2026-01-11", "2026-01-12"}
	if len(got) != len(want) {
		t.Fatalf("expanded to %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expanded to %v, want %v", got, want)
		}
	}
}

func TestExpandHonorsLimit(t *testing.T) {
	c := domain.Commitment{Recurrence: domain.Recurrence{Kind: domain.RecurDaily}}
	if got := Expand(c, "2026-01-01", "2026-12-31", 5); len(got) != 5 {
		t.Errorf("limit 5 returned %d dates", len(got))
	}
}

func nightRun(from string, nights, offs int) []domain.CalendarDay {
	var out []domain.CalendarDay
	date := from
	add := func(wt domain.WorkType, hours float64) {
		out = append(out, domain.CalendarDay{Date: date, WorkType: wt, AvailableHours: hours})
		date = nextDate(date)
	}
	for i := 0; i < nights; i++ {
		add(domain.WorkNight, 2)
	}
	for i := 0; i < offs; i++ {
		add(domain.Off, 12)
	}
	return out
}

func nextDate(d string) string {
	days := []string{
		"2026-01-06", "2026-01-07", "2026-01-08", "2026-01-09", "2026-01-10",
		"2026-01-11", "2026-01-12", "2026-01-13", "2026-01-14",
	}
	for i, x := range days {
		if x == d && i+1 < len(days) {
			return days[i+1]
		}
	}
	return ""
}

func TestBuildReroutesBlockedOccurrence(t *testing.T) {
	// Tuesday study session lands on a night shift; the first clean slot
	// is the second off day, because the day right after the last night
	// sits inside the recovery gap.
	c := domain.Commitment{
		ID:            "c1",
		Type:          domain.CommitmentStudy,
		Recurrence:    domain.Recurrence{Kind: domain.RecurWeekly, Days: []string{"tuesday"}},
		DurationHours: 2,
	}
	days := nightRun("2026-01-06", 5, 2) // Jan 6..10 nights, 11..12 off
	p := Build(c, days, constraint.SystemConstraints())
	if len(p.Occurrences) != 1 {
		t.Fatalf("planned %d occurrences, want 1", len(p.Occurrences))
	}
	occ := p.Occurrences[0]
	if !occ.Accepted || occ.ReroutedTo != "2026-01-12" {
		t.Errorf("occurrence = %+v, want rerouted to 2026-01-12", occ)
	}
	if p.Accepted != 1 || p.Rejected != 0 {
		t.Errorf("tally = %d/%d, want 1 accepted", p.Accepted, p.Rejected)
	}
}

func TestBuildRejectsWhenNoSlotWithinReach(t *testing.T) {
	c := domain.Commitment{
		ID:            "c1",
		Type:          domain.CommitmentStudy,
		Recurrence:    domain.Recurrence{Kind: domain.RecurWeekly, Days: []string{"tuesday"}},
		DurationHours: 2,
	}
	days := nightRun("2026-01-06", 9, 0) // nothing but nights in reach
	p := Build(c, days, constraint.SystemConstraints())
	if len(p.Occurrences) != 2 {
		t.Fatalf("planned %d occurrences, want 2", len(p.Occurrences))
	}
	for _, occ := range p.Occurrences {
		if occ.Accepted {
			t.Errorf("occurrence %+v accepted with no clean slot", occ)
		}
		if len(occ.Reasons) == 0 {
			t.Errorf("occurrence %+v carries no reasons", occ)
		}
	}
	if p.Rejected != 2 {
		t.Errorf("rejected = %d, want 2", p.Rejected)
	}
}

func TestBuildFlagsOverrun(t *testing.T) {
	c := domain.Commitment{
		ID:            "c1",
		Type:          domain.CommitmentPersonal,
		Recurrence:    domain.Recurrence{Kind: domain.RecurDaily},
		DurationHours: 3,
	}
	days := []domain.CalendarDay{
		{Date: "2026-01-06", WorkType: domain.WorkNight, AvailableHours: 2},
	}
	p := Build(c, days, constraint.SystemConstraints())
	if len(p.Occurrences) != 1 || !p.Occurrences[0].Accepted {
		t.Fatalf("plan = %+v", p)
	}
	if !p.Occurrences[0].Overrun {
		t.Error("3h session on a 2h day should flag overrun")
	}
}
