package engine

import (
	"context"
	"fmt"
	"time"

	"rotaline/internal/domain"
	"rotaline/internal/repo"
	"rotaline/internal/stats"
)

// YearlyStats aggregates a full calendar year.
func (e *Engine) YearlyStats(ctx context.Context, ownerID string, year int) (stats.YearlyStats, error) {
	from := fmt.Sprintf("%04d-01-01", year)
	to := fmt.Sprintf("%04d-12-31", year)
	days, err := e.Calendar(ctx, ownerID, from, to)
	if err != nil {
		return stats.YearlyStats{}, err
	}
	return stats.Yearly(year, days), nil
}

// MonthlyStats aggregates one month.
func (e *Engine) MonthlyStats(ctx context.Context, ownerID string, year int, month time.Month) (stats.MonthBreakdown, error) {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1)
	days, err := e.Calendar(ctx, ownerID, first.Format("2006-01-02"), last.Format("2006-01-02"))
	if err != nil {
		return stats.MonthBreakdown{}, err
	}
	return stats.Monthly(year, month, days), nil
}

// DashboardStats condenses today plus the week ahead.
func (e *Engine) DashboardStats(ctx context.Context, ownerID string) (stats.DashboardStats, error) {
	today := e.now().UTC().Format("2006-01-02")
	to := e.now().UTC().AddDate(0, 0, 6).Format("2006-01-02")
	days, err := e.Calendar(ctx, ownerID, today, to)
	if err != nil {
		return stats.DashboardStats{}, err
	}
	doc, err := e.Settings.Get(ctx, ownerID)
	if err != nil {
		return stats.DashboardStats{}, err
	}
	pending, err := e.Repo.ListMutations(ctx, repo.MutationFilters{OwnerID: ownerID, Status: string(domain.StatusProposed)})
	if err != nil {
		return stats.DashboardStats{}, err
	}
	return stats.Dashboard(today, days, doc.Settings, len(pending)), nil
}
