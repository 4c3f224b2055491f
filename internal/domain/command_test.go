package domain

import (
	"strings"
	"testing"
)

func validCommitment() Commitment {
	return Commitment{
		Name:          "anatomy",
		Type:          CommitmentStudy,
		Status:        CommitmentActive,
		DurationHours: 2,
		Recurrence:    Recurrence{Kind: RecurDaily},
	}
}

func TestCommitmentValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Commitment)
		wantErr string
	}{
		{"valid", func(c *Commitment) {}, ""},
		{"missing name", func(c *Commitment) { c.Name = "" }, "name is required"},
		{"unknown type", func(c *Commitment) { c.Type = "hobby" }, "unknown type"},
		{"negative duration", func(c *Commitment) { c.DurationHours = -1 }, "duration_hours"},
		{"reversed dates", func(c *Commitment) {
			c.StartDate, c.EndDate = "2026-03-01", "2026-02-01"
		}, "end_date before start_date"},
		{"negative sessions", func(c *Commitment) { c.TotalSessions = -1 }, "session counters"},
		{"negative completed", func(c *Commitment) { c.CompletedSessions = -2 }, "session counters"},
		{"completed over total", func(c *Commitment) {
			c.TotalSessions, c.CompletedSessions = 10, 11
		}, "exceeds total_sessions"},
		{"completed at total", func(c *Commitment) {
			c.TotalSessions, c.CompletedSessions = 10, 10
		}, ""},
		{"open-ended with progress", func(c *Commitment) { c.CompletedSessions = 4 }, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := validCommitment()
			tc.mutate(&c)
			err := c.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("err = %v, want %q", err, tc.wantErr)
			}
		})
	}
}
