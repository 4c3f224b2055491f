package domain

// WorkType labels what a calendar day demands of the owner.
type WorkType string

const (
	WorkDay   WorkType = "work_day"
	WorkNight WorkType = "work_night"
	Off       WorkType = "off"
	Suspended WorkType = "suspended"
)

// ValidWorkTypes are the labels a cycle pattern may use. Suspended is
// derived from leave and never appears in a pattern.
var ValidWorkTypes = map[WorkType]bool{
	WorkDay:   true,
	WorkNight: true,
	Off:       true,
}

type CommitmentType string

const (
	CommitmentEducation CommitmentType = "education"
	CommitmentStudy     CommitmentType = "study"
	CommitmentPersonal  CommitmentType = "personal"
	CommitmentLeave     CommitmentType = "leave"
	CommitmentWork      CommitmentType = "work"
)

var ValidCommitmentTypes = map[CommitmentType]bool{
	CommitmentEducation: true,
	CommitmentStudy:     true,
	CommitmentPersonal:  true,
	CommitmentLeave:     true,
	CommitmentWork:      true,
}

type CommitmentStatus string

const (
	CommitmentActive    CommitmentStatus = "active"
	CommitmentQueued    CommitmentStatus = "queued"
	CommitmentCompleted CommitmentStatus = "completed"
	CommitmentPaused    CommitmentStatus = "paused"
)

var ValidCommitmentStatuses = map[CommitmentStatus]bool{
	CommitmentActive:    true,
	CommitmentQueued:    true,
	CommitmentCompleted: true,
	CommitmentPaused:    true,
}

// ReviewStatus is the review axis of a mutation's lifecycle.
type ReviewStatus string

const (
	StatusProposed ReviewStatus = "proposed"
	StatusApproved ReviewStatus = "approved"
	StatusRejected ReviewStatus = "rejected"
	StatusExpired  ReviewStatus = "expired"
)

// ExecStatus is the execution axis, reachable only from approved.
// The empty value means the mutation was never applied.
type ExecStatus string

const (
	ExecNone    ExecStatus = ""
	ExecApplied ExecStatus = "applied"
	ExecUndone  ExecStatus = "undone"
	ExecRedone  ExecStatus = "redone"
)

type ConstraintMode string

const (
	ModeBinary   ConstraintMode = "binary"
	ModeWeighted ConstraintMode = "weighted"
)

type CycleBlock struct {
	Label    WorkType `json:"label" enum:"work_day,work_night,off"`
	Duration int      `json:"duration"`
}

// Cycle is a repeating rotation pattern anchored to a real date.
type Cycle struct {
	Pattern        []CycleBlock `json:"pattern"`
	AnchorDate     string       `json:"anchor_date" format:"date"`
	AnchorCycleDay int          `json:"anchor_cycle_day"`
}

// Length is the total cycle length in days.
func (c Cycle) Length() int {
	n := 0
	for _, b := range c.Pattern {
		n += b.Duration
	}
	return n
}

type Constraint struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	Rule      Rule   `json:"rule"`
	Weight    int    `json:"weight,omitempty"`
	Critical  bool   `json:"critical,omitempty"`
	Active    bool   `json:"active"`
	System    bool   `json:"system,omitempty"`
	CreatedAt string `json:"created_at,omitempty" format:"date-time"`
}

type Commitment struct {
	ID            string           `json:"id,omitempty"`
	Name          string           `json:"name"`
	Type          CommitmentType   `json:"type" enum:"education,study,personal,leave,work"`
	Priority      int              `json:"priority,omitempty"`
	Status        CommitmentStatus `json:"status" enum:"active,queued,completed,paused"`
	Recurrence    Recurrence       `json:"recurrence"`
	StartDate     string           `json:"start_date,omitempty" format:"date"`
	EndDate       string           `json:"end_date,omitempty" format:"date"`
	DurationHours float64          `json:"duration_hours,omitempty"`
	// Session counters track progress toward a fixed number of sessions.
	// A zero TotalSessions means the commitment is open-ended.
	TotalSessions     int    `json:"total_sessions,omitempty"`
	CompletedSessions int    `json:"completed_sessions,omitempty"`
	Notes             string `json:"notes,omitempty"`
	CreatedAt         string `json:"created_at,omitempty" format:"date-time"`
	UpdatedAt         string `json:"updated_at,omitempty" format:"date-time"`
}

// LeaveEffect describes how a leave block overrides the cycle-derived day.
type LeaveEffect struct {
	WorkType       WorkType `json:"work_type" enum:"work_day,work_night,off,suspended"`
	AvailableHours float64  `json:"available_hours"`
}

type LeaveBlock struct {
	ID        string       `json:"id,omitempty"`
	Name      string       `json:"name,omitempty"`
	StartDate string       `json:"start_date" format:"date"`
	EndDate   string       `json:"end_date" format:"date"`
	Effect    *LeaveEffect `json:"effect,omitempty"`
	Notes     string       `json:"notes,omitempty"`
	CreatedAt string       `json:"created_at,omitempty" format:"date-time"`
}

// Covers reports whether the block covers an ISO date. ISO dates compare
// correctly as strings.
func (l LeaveBlock) Covers(date string) bool {
	return l.StartDate <= date && date <= l.EndDate
}

// Overlaps reports whether two blocks share at least one day.
func (l LeaveBlock) Overlaps(o LeaveBlock) bool {
	return l.StartDate <= o.EndDate && o.StartDate <= l.EndDate
}

type DayCommitment struct {
	CommitmentID string         `json:"commitment_id"`
	Name         string         `json:"name"`
	Type         CommitmentType `json:"type"`
	Hours        float64        `json:"hours"`
}

// CalendarDay is the materialized state of one (owner, date). It is
// derived data, always recomputable from the settings document.
type CalendarDay struct {
	OwnerID        string          `json:"owner_id"`
	Date           string          `json:"date" format:"date"`
	CycleDay       int             `json:"cycle_day"`
	WorkType       WorkType        `json:"work_type"`
	Commitments    []DayCommitment `json:"commitments,omitempty"`
	AvailableHours float64         `json:"available_hours"`
	UsedHours      float64         `json:"used_hours"`
	Overloaded     bool            `json:"overloaded,omitempty"`
	OnLeave        bool            `json:"on_leave,omitempty"`
	Version        int             `json:"version"`
}

type Violation struct {
	ConstraintID   string `json:"constraint_id,omitempty"`
	ConstraintName string `json:"constraint_name,omitempty"`
	Message        string `json:"message"`
	Severity       string `json:"severity" enum:"error,warning"`
}

type Alternative struct {
	Kind        string   `json:"kind"`
	Description string   `json:"description"`
	Command     *Command `json:"command,omitempty"`
}

// Mutation is a command-sourced change request. Review and execution are
// independent axes; execution states are only reachable from approved.
type Mutation struct {
	ID           string        `json:"id"`
	OwnerID      string        `json:"owner_id"`
	Intent       Intent        `json:"intent"`
	Command      Command       `json:"command"`
	Status       ReviewStatus  `json:"status" enum:"proposed,approved,rejected,expired"`
	Exec         ExecStatus    `json:"exec_status,omitempty"`
	Violations   []Violation   `json:"violations,omitempty"`
	Warnings     []Violation   `json:"warnings,omitempty"`
	Alternatives []Alternative `json:"alternatives,omitempty"`
	Explanation  string        `json:"explanation,omitempty"`
	BeforeHash   string        `json:"before_hash,omitempty"`
	AfterHash    string        `json:"after_hash,omitempty"`
	ProposedAt   string        `json:"proposed_at" format:"date-time"`
	ExpiresAt    string        `json:"expires_at,omitempty" format:"date-time"`
	ReviewedAt   string        `json:"reviewed_at,omitempty" format:"date-time"`
	AppliedAt    string        `json:"applied_at,omitempty" format:"date-time"`
}

// Snapshot is a content-addressed checkpoint of the full owner state.
type Snapshot struct {
	ID         string `json:"id"`
	OwnerID    string `json:"owner_id"`
	Seq        int64  `json:"seq"`
	StateHash  string `json:"state_hash"`
	ParentHash string `json:"parent_hash,omitempty"`
	MutationID string `json:"mutation_id,omitempty"`
	StateJSON  string `json:"state_json"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

// WorkParams are owner-level shift parameters. Free hours per work type
// come from here rather than being hardcoded in the materializer.
type WorkParams struct {
	ShiftHours     float64 `json:"shift_hours"`
	DayFreeHours   float64 `json:"day_free_hours"`
	NightFreeHours float64 `json:"night_free_hours"`
	OffFreeHours   float64 `json:"off_free_hours"`
	LeaveFreeHours float64 `json:"leave_free_hours"`
}

type Preferences struct {
	Timezone        string         `json:"timezone,omitempty"`
	ConstraintMode  ConstraintMode `json:"constraint_mode" enum:"binary,weighted"`
	AcceptThreshold int            `json:"accept_threshold,omitempty"`
}

// Settings is the per-owner source-of-truth document. Calendar days are
// derived from it and never edited directly.
type Settings struct {
	Cycle       *Cycle       `json:"cycle,omitempty"`
	Work        WorkParams   `json:"work"`
	Constraints []Constraint `json:"constraints,omitempty"`
	Commitments []Commitment `json:"commitments,omitempty"`
	LeaveBlocks []LeaveBlock `json:"leave_blocks,omitempty"`
	Preferences Preferences  `json:"preferences"`
}

// SettingsDocument wraps Settings with the optimistic-concurrency version.
type SettingsDocument struct {
	OwnerID   string   `json:"owner_id"`
	Settings  Settings `json:"settings"`
	Version   int      `json:"version"`
	UpdatedAt string   `json:"updated_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	OwnerID    string `json:"owner_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
