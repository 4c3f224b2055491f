// Package stats derives read-only views from materialized days. The
// calendar is data; statistics are views over it.
package stats

import (
	"sort"
	"time"

	"rotaline/internal/domain"
)

const dateLayout = "2006-01-02"

// recoverySpanDays is the run length of uninterrupted shifts that counts
// as a missing recovery window.
const recoverySpanDays = 7

type WeekLoad struct {
	WeekStart string  `json:"week_start"`
	Hours     float64 `json:"hours"`
}

type MonthBreakdown struct {
	Month          string  `json:"month"`
	WorkDays       int     `json:"work_days"`
	NightDays      int     `json:"night_days"`
	OffDays        int     `json:"off_days"`
	LeaveDays      int     `json:"leave_days"`
	CommittedHours float64 `json:"committed_hours"`
}

type YearlyStats struct {
	Year              int              `json:"year"`
	WorkDays          int              `json:"work_days"`
	NightDays         int              `json:"night_days"`
	OffDays           int              `json:"off_days"`
	LeaveDays         int              `json:"leave_days"`
	StudyHours        float64          `json:"study_hours"`
	CommittedHours    float64          `json:"committed_hours"`
	OverloadedDays    int              `json:"overloaded_days"`
	PeakWeeks         []WeekLoad       `json:"peak_weeks,omitempty"`
	ZeroRecoverySpans int              `json:"zero_recovery_spans"`
	Months            []MonthBreakdown `json:"months,omitempty"`
}

// Yearly aggregates a year of materialized days. days may span more
// than the year; other dates are ignored.
func Yearly(year int, days []domain.CalendarDay) YearlyStats {
	s := YearlyStats{Year: year}
	weeks := map[string]float64{}
	months := map[string]*MonthBreakdown{}
	run := 0
	for _, d := range days {
		t, err := time.Parse(dateLayout, d.Date)
		if err != nil || t.Year() != year {
			run = 0
			continue
		}
		mb := months[t.Format("2006-01")]
		if mb == nil {
			mb = &MonthBreakdown{Month: t.Format("2006-01")}
			months[t.Format("2006-01")] = mb
		}
		switch d.WorkType {
		case domain.WorkDay:
			s.WorkDays++
			mb.WorkDays++
		case domain.WorkNight:
			s.NightDays++
			mb.NightDays++
		case domain.Off:
			s.OffDays++
			mb.OffDays++
		case domain.Suspended:
			s.LeaveDays++
			mb.LeaveDays++
		}
		if d.Overloaded {
			s.OverloadedDays++
		}
		for _, dc := range d.Commitments {
			s.CommittedHours += dc.Hours
			mb.CommittedHours += dc.Hours
			if dc.Type == domain.CommitmentStudy {
				s.StudyHours += dc.Hours
			}
			weeks[weekStart(t)] += dc.Hours
		}
		if d.WorkType == domain.WorkDay || d.WorkType == domain.WorkNight {
			run++
			if run == recoverySpanDays {
				s.ZeroRecoverySpans++
			}
		} else {
			run = 0
		}
	}
	for ws, h := range weeks {
		s.PeakWeeks = append(s.PeakWeeks, WeekLoad{WeekStart: ws, Hours: h})
	}
	sort.Slice(s.PeakWeeks, func(i, j int) bool {
		if s.PeakWeeks[i].Hours != s.PeakWeeks[j].Hours {
			return s.PeakWeeks[i].Hours > s.PeakWeeks[j].Hours
		}
		return s.PeakWeeks[i].WeekStart < s.PeakWeeks[j].WeekStart
	})
	if len(s.PeakWeeks) > 5 {
		s.PeakWeeks = s.PeakWeeks[:5]
	}
	for _, mb := range months {
		s.Months = append(s.Months, *mb)
	}
	sort.Slice(s.Months, func(i, j int) bool { return s.Months[i].Month < s.Months[j].Month })
	return s
}

// Monthly narrows a day slice to one month's breakdown.
func Monthly(year int, month time.Month, days []domain.CalendarDay) MonthBreakdown {
	key := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC).Format("2006-01")
	y := Yearly(year, days)
	for _, mb := range y.Months {
		if mb.Month == key {
			return mb
		}
	}
	return MonthBreakdown{Month: key}
}

type DashboardStats struct {
	Today             *domain.CalendarDay  `json:"today,omitempty"`
	UpcomingDays      []domain.CalendarDay `json:"upcoming_days,omitempty"`
	ActiveCommitments int                  `json:"active_commitments"`
	PendingProposals  int                  `json:"pending_proposals"`
	WeekStudyHours    float64              `json:"week_study_hours"`
	NextLeave         *domain.LeaveBlock   `json:"next_leave,omitempty"`
}

// Dashboard condenses the week ahead. days should start at today.
func Dashboard(today string, days []domain.CalendarDay, st domain.Settings, pendingProposals int) DashboardStats {
	d := DashboardStats{PendingProposals: pendingProposals}
	for i := range days {
		if days[i].Date == today {
			d.Today = &days[i]
		}
		if days[i].Date >= today && len(d.UpcomingDays) < 7 {
			d.UpcomingDays = append(d.UpcomingDays, days[i])
			for _, dc := range days[i].Commitments {
				if dc.Type == domain.CommitmentStudy {
					d.WeekStudyHours += dc.Hours
				}
			}
		}
	}
	for _, c := range st.Commitments {
		if c.Status == domain.CommitmentActive || c.Status == "" {
			d.ActiveCommitments++
		}
	}
	for i := range st.LeaveBlocks {
		l := st.LeaveBlocks[i]
		if l.EndDate < today {
			continue
		}
		if d.NextLeave == nil || l.StartDate < d.NextLeave.StartDate {
			d.NextLeave = &st.LeaveBlocks[i]
		}
	}
	return d
}

func weekStart(t time.Time) string {
	offset := (int(t.Weekday()) + 6) % 7
	return t.AddDate(0, 0, -offset).Format(dateLayout)
}
