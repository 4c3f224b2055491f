package server

import (
	"encoding/json"

	"rotaline/internal/domain"
)

// Request payloads

type ProposeRequest struct {
	Command domain.Command `json:"command"`
}

type ApproveRequest struct {
	Override bool `json:"override,omitempty"`
}

type UpdateSettingsRequest struct {
	Settings domain.Settings `json:"settings"`
	Version  int             `json:"version"`
}

type DevLoginRequest struct {
	ActorID string `json:"actor_id"`
}

// Response payloads

type MutationResponse struct {
	ID           string               `json:"id"`
	OwnerID      string               `json:"owner_id"`
	Intent       string               `json:"intent"`
	Command      domain.Command       `json:"command"`
	Status       string               `json:"status" enum:"proposed,approved,rejected,expired"`
	ExecStatus   string               `json:"exec_status,omitempty" enum:"applied,undone,redone"`
	Violations   []domain.Violation   `json:"violations"`
	Warnings     []domain.Violation   `json:"warnings"`
	Alternatives []domain.Alternative `json:"alternatives"`
	Explanation  string               `json:"explanation,omitempty"`
	BeforeHash   string               `json:"before_hash,omitempty"`
	AfterHash    string               `json:"after_hash,omitempty"`
	ProposedAt   string               `json:"proposed_at" format:"date-time"`
	ExpiresAt    string               `json:"expires_at,omitempty" format:"date-time"`
	ReviewedAt   string               `json:"reviewed_at,omitempty" format:"date-time"`
	AppliedAt    string               `json:"applied_at,omitempty" format:"date-time"`
}

type SettingsResponse struct {
	OwnerID   string          `json:"owner_id"`
	Settings  domain.Settings `json:"settings"`
	Version   int             `json:"version"`
	UpdatedAt string          `json:"updated_at,omitempty" format:"date-time"`
}

// SnapshotResponse carries chain metadata without the state payload.
type SnapshotResponse struct {
	ID         string `json:"id"`
	Seq        int64  `json:"seq"`
	StateHash  string `json:"state_hash"`
	ParentHash string `json:"parent_hash,omitempty"`
	MutationID string `json:"mutation_id,omitempty"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

type VerifyResponse struct {
	Valid    bool   `json:"valid"`
	HeadHash string `json:"head_hash,omitempty"`
	Length   int    `json:"length"`
	Error    string `json:"error,omitempty"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	OwnerID    string         `json:"owner_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type MeResponse struct {
	ActorID string `json:"actor_id"`
	Source  string `json:"source"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

type paginatedMutations struct {
	Items      []MutationResponse `json:"items"`
	NextCursor string             `json:"next_cursor,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Conversion helpers

func mutationResponse(m domain.Mutation) MutationResponse {
	return MutationResponse{
		ID:           m.ID,
		OwnerID:      m.OwnerID,
		Intent:       string(m.Intent),
		Command:      m.Command,
		Status:       string(m.Status),
		ExecStatus:   string(m.Exec),
		Violations:   nonNilSlice(m.Violations),
		Warnings:     nonNilSlice(m.Warnings),
		Alternatives: nonNilSlice(m.Alternatives),
		Explanation:  m.Explanation,
		BeforeHash:   m.BeforeHash,
		AfterHash:    m.AfterHash,
		ProposedAt:   m.ProposedAt,
		ExpiresAt:    m.ExpiresAt,
		ReviewedAt:   m.ReviewedAt,
		AppliedAt:    m.AppliedAt,
	}
}

func mapMutations(items []domain.Mutation) []MutationResponse {
	res := make([]MutationResponse, 0, len(items))
	for _, m := range items {
		res = append(res, mutationResponse(m))
	}
	return res
}

func settingsResponse(doc domain.SettingsDocument) SettingsResponse {
	return SettingsResponse{
		OwnerID:   doc.OwnerID,
		Settings:  doc.Settings,
		Version:   doc.Version,
		UpdatedAt: doc.UpdatedAt,
	}
}

func snapshotResponse(s domain.Snapshot) SnapshotResponse {
	return SnapshotResponse{
		ID:         s.ID,
		Seq:        s.Seq,
		StateHash:  s.StateHash,
		ParentHash: s.ParentHash,
		MutationID: s.MutationID,
		CreatedAt:  s.CreatedAt,
	}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		OwnerID:    e.OwnerID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

// JSON helpers

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var tmp any
	if err := json.Unmarshal([]byte(raw), &tmp); err != nil {
		return nil
	}
	if obj, ok := tmp.(map[string]any); ok {
		return obj
	}
	return nil
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
