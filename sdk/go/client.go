package rotalinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Rotaline HTTP API client. All operations act on
// the owner the client was created with.
type Client struct {
	BaseURL     string
	OwnerID     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, ownerID string) *Client {
	return &Client{
		BaseURL: baseURL,
		OwnerID: ownerID,
		Timeout: 10 * time.Second,
	}
}

// Mutation represents a proposed or reviewed change.
type Mutation struct {
	ID           string         `json:"id"`
	OwnerID      string         `json:"owner_id"`
	Intent       string         `json:"intent"`
	Command      map[string]any `json:"command"`
	Status       string         `json:"status"`
	ExecStatus   string         `json:"exec_status,omitempty"`
	Violations   []Violation    `json:"violations"`
	Warnings     []Violation    `json:"warnings"`
	Alternatives []Alternative  `json:"alternatives"`
	Explanation  string         `json:"explanation,omitempty"`
	BeforeHash   string         `json:"before_hash,omitempty"`
	AfterHash    string         `json:"after_hash,omitempty"`
	ProposedAt   string         `json:"proposed_at"`
	ExpiresAt    string         `json:"expires_at,omitempty"`
}

// Violation is one constraint finding on a mutation.
type Violation struct {
	ConstraintID   string `json:"constraint_id,omitempty"`
	ConstraintName string `json:"constraint_name,omitempty"`
	Message        string `json:"message"`
	Severity       string `json:"severity"`
}

// Alternative is a suggested variant of a rejected command.
type Alternative struct {
	Kind        string         `json:"kind"`
	Description string         `json:"description"`
	Command     map[string]any `json:"command,omitempty"`
}

// CalendarDay is one materialized day.
type CalendarDay struct {
	Date           string          `json:"date"`
	CycleDay       int             `json:"cycle_day"`
	WorkType       string          `json:"work_type"`
	Commitments    []DayCommitment `json:"commitments,omitempty"`
	AvailableHours float64         `json:"available_hours"`
	UsedHours      float64         `json:"used_hours"`
	Overloaded     bool            `json:"overloaded,omitempty"`
	OnLeave        bool            `json:"on_leave,omitempty"`
}

// Occurrence is one planned session of a commitment.
type Occurrence struct {
	Date       string   `json:"date"`
	Accepted   bool     `json:"accepted"`
	ReroutedTo string   `json:"rerouted_to,omitempty"`
	Reasons    []string `json:"reasons,omitempty"`
	Overrun    bool     `json:"overrun,omitempty"`
}

// Plan is the validated schedule of a commitment over the horizon.
type Plan struct {
	CommitmentID string       `json:"commitment_id"`
	Occurrences  []Occurrence `json:"occurrences"`
	Accepted     int          `json:"accepted"`
	Rejected     int          `json:"rejected"`
}

// DayCommitment is a commitment occurrence placed on a day.
type DayCommitment struct {
	CommitmentID string  `json:"commitment_id"`
	Name         string  `json:"name"`
	Type         string  `json:"type"`
	Hours        float64 `json:"hours"`
}

// SettingsDocument is the versioned per-owner settings payload.
type SettingsDocument struct {
	OwnerID   string         `json:"owner_id"`
	Settings  map[string]any `json:"settings"`
	Version   int            `json:"version"`
	UpdatedAt string         `json:"updated_at,omitempty"`
}

// Snapshot is one hash-linked state checkpoint.
type Snapshot struct {
	ID         string `json:"id"`
	Seq        int64  `json:"seq"`
	StateHash  string `json:"state_hash"`
	ParentHash string `json:"parent_hash,omitempty"`
	MutationID string `json:"mutation_id,omitempty"`
	CreatedAt  string `json:"created_at"`
}

// VerifyResult reports a chain audit.
type VerifyResult struct {
	Valid    bool   `json:"valid"`
	HeadHash string `json:"head_hash,omitempty"`
	Length   int    `json:"length"`
	Error    string `json:"error,omitempty"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	OwnerID    string         `json:"owner_id"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedMutations wraps mutation listings with a cursor.
type PaginatedMutations struct {
	Items      []Mutation `json:"items"`
	NextCursor string     `json:"next_cursor"`
}

// PaginatedEvents wraps event listings with a cursor.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// Propose submits a command for review. command must marshal to the
// API command shape (intent plus its payload field).
func (c *Client) Propose(ctx context.Context, command any) (Mutation, error) {
	var resp Mutation
	err := c.do(ctx, http.MethodPost, c.ownerPath("mutations"), map[string]any{"command": command}, &resp)
	return resp, err
}

// GetMutation fetches a mutation by id.
func (c *Client) GetMutation(ctx context.Context, id string) (Mutation, error) {
	var resp Mutation
	err := c.do(ctx, http.MethodGet, c.ownerPath("mutations/"+url.PathEscape(id)), nil, &resp)
	return resp, err
}

// ListMutations returns a page of mutations, newest first.
func (c *Client) ListMutations(ctx context.Context, status string, limit int, cursor string) (PaginatedMutations, error) {
	endpoint := c.ownerPath("mutations")
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedMutations
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Approve approves a proposal and applies it. override waives
// non-critical violations.
func (c *Client) Approve(ctx context.Context, id string, override bool) (Mutation, error) {
	var resp Mutation
	body := map[string]any{"override": override}
	err := c.do(ctx, http.MethodPost, c.ownerPath("mutations/"+url.PathEscape(id)+"/approve"), body, &resp)
	return resp, err
}

// Reject declines a proposal.
func (c *Client) Reject(ctx context.Context, id string) (Mutation, error) {
	var resp Mutation
	err := c.do(ctx, http.MethodPost, c.ownerPath("mutations/"+url.PathEscape(id)+"/reject"), nil, &resp)
	return resp, err
}

// Cancel withdraws a proposal.
func (c *Client) Cancel(ctx context.Context, id string) (Mutation, error) {
	var resp Mutation
	err := c.do(ctx, http.MethodPost, c.ownerPath("mutations/"+url.PathEscape(id)+"/cancel"), nil, &resp)
	return resp, err
}

// Undo reverts the most recent applied mutation.
func (c *Client) Undo(ctx context.Context) (Mutation, error) {
	var resp Mutation
	err := c.do(ctx, http.MethodPost, c.ownerPath("undo"), nil, &resp)
	return resp, err
}

// Redo re-applies the most recently undone mutation.
func (c *Client) Redo(ctx context.Context) (Mutation, error) {
	var resp Mutation
	err := c.do(ctx, http.MethodPost, c.ownerPath("redo"), nil, &resp)
	return resp, err
}

// Calendar returns materialized days for an inclusive date range.
// Empty bounds fall back to the server's default horizon.
func (c *Client) Calendar(ctx context.Context, from, to string) ([]CalendarDay, error) {
	endpoint := c.ownerPath("calendar")
	q := url.Values{}
	if from != "" {
		q.Set("from", from)
	}
	if to != "" {
		q.Set("to", to)
	}
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp []CalendarDay
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// CommitmentPlan fetches the validated occurrence plan of a commitment.
func (c *Client) CommitmentPlan(ctx context.Context, commitmentID string) (Plan, error) {
	var resp Plan
	err := c.do(ctx, http.MethodGet, c.ownerPath("commitments/"+commitmentID+"/plan"), nil, &resp)
	return resp, err
}

// GetSettings fetches the settings document.
func (c *Client) GetSettings(ctx context.Context) (SettingsDocument, error) {
	var resp SettingsDocument
	err := c.do(ctx, http.MethodGet, c.ownerPath("settings"), nil, &resp)
	return resp, err
}

// UpdateSettings replaces the settings document. version must match
// the current document or the server answers 409.
func (c *Client) UpdateSettings(ctx context.Context, settings any, version int) (SettingsDocument, error) {
	var resp SettingsDocument
	body := map[string]any{"settings": settings, "version": version}
	err := c.do(ctx, http.MethodPut, c.ownerPath("settings"), body, &resp)
	return resp, err
}

// Snapshots lists the snapshot chain in sequence order.
func (c *Client) Snapshots(ctx context.Context, limit int) ([]Snapshot, error) {
	endpoint := c.ownerPath("snapshots")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Snapshot
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// VerifyChain asks the server to re-hash and audit the snapshot chain.
func (c *Client) VerifyChain(ctx context.Context) (VerifyResult, error) {
	var resp VerifyResult
	err := c.do(ctx, http.MethodGet, c.ownerPath("snapshots/verify"), nil, &resp)
	return resp, err
}

// YearlyStats returns the yearly breakdown as raw JSON fields.
func (c *Client) YearlyStats(ctx context.Context, year int) (map[string]any, error) {
	var resp map[string]any
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("%s?year=%d", c.ownerPath("stats/yearly"), year), nil, &resp)
	return resp, err
}

// MonthlyStats returns one month's breakdown.
func (c *Client) MonthlyStats(ctx context.Context, year, month int) (map[string]any, error) {
	var resp map[string]any
	endpoint := fmt.Sprintf("%s?year=%d&month=%d", c.ownerPath("stats/monthly"), year, month)
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Dashboard returns today plus the week ahead.
func (c *Client) Dashboard(ctx context.Context) (map[string]any, error) {
	var resp map[string]any
	err := c.do(ctx, http.MethodGet, c.ownerPath("stats/dashboard"), nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	endpoint := c.ownerPath("events")
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) ownerPath(p string) string {
	owner := url.PathEscape(c.OwnerID)
	return fmt.Sprintf("v0/owners/%s/%s", owner, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
