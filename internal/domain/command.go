package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// RuleKind discriminates constraint rules. Unknown kinds are rejected at
// decode time, never silently ignored.
type RuleKind string

const (
	RuleNoActivityOn  RuleKind = "no_activity_on"
	RuleMaxConcurrent RuleKind = "max_concurrent"
	RuleImmutable     RuleKind = "immutable"
	RuleRequiredGap   RuleKind = "required_gap"
)

// Rule is a tagged variant. Which fields are meaningful depends on Kind:
// no_activity_on uses Activity+WorkTypes, max_concurrent uses Scope+Limit,
// immutable uses Scope, required_gap uses After+Hours.
type Rule struct {
	Kind      RuleKind       `json:"kind" enum:"no_activity_on,max_concurrent,immutable,required_gap"`
	Activity  CommitmentType `json:"activity,omitempty"`
	WorkTypes []WorkType     `json:"work_types,omitempty"`
	Scope     CommitmentType `json:"scope,omitempty"`
	Limit     int            `json:"limit,omitempty"`
	After     WorkType       `json:"after,omitempty"`
	Hours     float64        `json:"hours,omitempty"`
}

func (r Rule) Validate() error {
	switch r.Kind {
	case RuleNoActivityOn:
		if r.Activity == "" {
			return fmt.Errorf("rule no_activity_on: activity is required")
		}
		if len(r.WorkTypes) == 0 {
			return fmt.Errorf("rule no_activity_on: work_types is required")
		}
		for _, wt := range r.WorkTypes {
			if !ValidWorkTypes[wt] && wt != Suspended {
				return fmt.Errorf("rule no_activity_on: unknown work type %q", wt)
			}
		}
	case RuleMaxConcurrent:
		if r.Scope == "" {
			return fmt.Errorf("rule max_concurrent: scope is required")
		}
		if r.Limit < 1 {
			return fmt.Errorf("rule max_concurrent: limit must be at least 1")
		}
	case RuleImmutable:
		if r.Scope == "" {
			return fmt.Errorf("rule immutable: scope is required")
		}
	case RuleRequiredGap:
		if r.After == "" {
			return fmt.Errorf("rule required_gap: after is required")
		}
		if r.Hours <= 0 {
			return fmt.Errorf("rule required_gap: hours must be positive")
		}
	default:
		return fmt.Errorf("unknown rule kind %q", r.Kind)
	}
	return nil
}

func (r *Rule) UnmarshalJSON(b []byte) error {
	type plain Rule
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*r = Rule(p)
	return r.Validate()
}

type RecurrenceKind string

const (
	RecurDaily    RecurrenceKind = "daily"
	RecurWeekly   RecurrenceKind = "weekly"
	RecurBiweekly RecurrenceKind = "biweekly"
	RecurMonthly  RecurrenceKind = "monthly"
)

// Weekdays maps lowercase weekday names to time.Weekday.
var Weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// Recurrence is a tagged variant: weekly and biweekly use Days as weekday
// names, monthly uses MonthDays as days of month. Daily takes no params.
type Recurrence struct {
	Kind      RecurrenceKind `json:"kind" enum:"daily,weekly,biweekly,monthly"`
	Days      []string       `json:"days,omitempty"`
	MonthDays []int          `json:"month_days,omitempty"`
}

func (r Recurrence) Validate() error {
	switch r.Kind {
	case RecurDaily:
	case RecurWeekly, RecurBiweekly:
		if len(r.Days) == 0 {
			return fmt.Errorf("recurrence %s: days is required", r.Kind)
		}
		for _, d := range r.Days {
			if _, ok := Weekdays[d]; !ok {
				return fmt.Errorf("recurrence %s: unknown weekday %q", r.Kind, d)
			}
		}
	case RecurMonthly:
		if len(r.MonthDays) == 0 {
			return fmt.Errorf("recurrence monthly: month_days is required")
		}
		for _, d := range r.MonthDays {
			if d < 1 || d > 31 {
				return fmt.Errorf("recurrence monthly: day %d out of range", d)
			}
		}
	default:
		return fmt.Errorf("unknown recurrence kind %q", r.Kind)
	}
	return nil
}

func (r *Recurrence) UnmarshalJSON(b []byte) error {
	type plain Recurrence
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*r = Recurrence(p)
	return r.Validate()
}

// Intent names the change a command requests.
type Intent string

const (
	IntentUpdateCycle      Intent = "update_cycle"
	IntentAddCommitment    Intent = "add_commitment"
	IntentUpdateCommitment Intent = "update_commitment"
	IntentRemoveCommitment Intent = "remove_commitment"
	IntentAddLeave         Intent = "add_leave"
	IntentRemoveLeave      Intent = "remove_leave"
	IntentUpdateConstraint Intent = "update_constraint"
	IntentRemoveConstraint Intent = "remove_constraint"
)

// Command is the payload of a mutation. Exactly one payload field is
// meaningful per intent; Validate enforces it.
type Command struct {
	Intent       Intent      `json:"intent" enum:"update_cycle,add_commitment,update_commitment,remove_commitment,add_leave,remove_leave,update_constraint,remove_constraint"`
	Cycle        *Cycle      `json:"cycle,omitempty"`
	Commitment   *Commitment `json:"commitment,omitempty"`
	CommitmentID string      `json:"commitment_id,omitempty"`
	Leave        *LeaveBlock `json:"leave,omitempty"`
	LeaveID      string      `json:"leave_id,omitempty"`
	Constraint   *Constraint `json:"constraint,omitempty"`
	ConstraintID string      `json:"constraint_id,omitempty"`
	Note         string      `json:"note,omitempty"`
}

func (c Command) Validate() error {
	switch c.Intent {
	case IntentUpdateCycle:
		if c.Cycle == nil {
			return fmt.Errorf("update_cycle: cycle is required")
		}
	case IntentAddCommitment:
		if c.Commitment == nil {
			return fmt.Errorf("add_commitment: commitment is required")
		}
		return c.Commitment.Validate()
	case IntentUpdateCommitment:
		if c.Commitment == nil || c.Commitment.ID == "" {
			return fmt.Errorf("update_commitment: commitment with id is required")
		}
		return c.Commitment.Validate()
	case IntentRemoveCommitment:
		if c.CommitmentID == "" {
			return fmt.Errorf("remove_commitment: commitment_id is required")
		}
	case IntentAddLeave:
		if c.Leave == nil {
			return fmt.Errorf("add_leave: leave is required")
		}
		return c.Leave.Validate()
	case IntentRemoveLeave:
		if c.LeaveID == "" {
			return fmt.Errorf("remove_leave: leave_id is required")
		}
	case IntentUpdateConstraint:
		if c.Constraint == nil {
			return fmt.Errorf("update_constraint: constraint is required")
		}
		return c.Constraint.Rule.Validate()
	case IntentRemoveConstraint:
		if c.ConstraintID == "" {
			return fmt.Errorf("remove_constraint: constraint_id is required")
		}
	default:
		return fmt.Errorf("unknown intent %q", c.Intent)
	}
	return nil
}

// Validate checks commitment structure, not schedule feasibility.
func (c Commitment) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("commitment: name is required")
	}
	if !ValidCommitmentTypes[c.Type] {
		return fmt.Errorf("commitment: unknown type %q", c.Type)
	}
	if c.Status != "" && !ValidCommitmentStatuses[c.Status] {
		return fmt.Errorf("commitment: unknown status %q", c.Status)
	}
	if c.DurationHours < 0 {
		return fmt.Errorf("commitment: duration_hours must not be negative")
	}
	if c.StartDate != "" && c.EndDate != "" && c.EndDate < c.StartDate {
		return fmt.Errorf("commitment: end_date before start_date")
	}
	if c.TotalSessions < 0 || c.CompletedSessions < 0 {
		return fmt.Errorf("commitment: session counters must not be negative")
	}
	if c.TotalSessions > 0 && c.CompletedSessions > c.TotalSessions {
		return fmt.Errorf("commitment: completed_sessions %d exceeds total_sessions %d", c.CompletedSessions, c.TotalSessions)
	}
	return c.Recurrence.Validate()
}

// Validate checks leave block structure.
func (l LeaveBlock) Validate() error {
	if l.StartDate == "" || l.EndDate == "" {
		return fmt.Errorf("leave: start_date and end_date are required")
	}
	if _, err := time.Parse("2006-01-02", l.StartDate); err != nil {
		return fmt.Errorf("leave: bad start_date %q", l.StartDate)
	}
	if _, err := time.Parse("2006-01-02", l.EndDate); err != nil {
		return fmt.Errorf("leave: bad end_date %q", l.EndDate)
	}
	if l.EndDate < l.StartDate {
		return fmt.Errorf("leave: end_date before start_date")
	}
	if l.Effect != nil {
		wt := l.Effect.WorkType
		if !ValidWorkTypes[wt] && wt != Suspended {
			return fmt.Errorf("leave: unknown work type %q", wt)
		}
		if l.Effect.AvailableHours < 0 || l.Effect.AvailableHours > 24 {
			return fmt.Errorf("leave: available_hours out of range")
		}
	}
	return nil
}
