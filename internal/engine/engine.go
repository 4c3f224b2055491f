package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"rotaline/internal/config"
	"rotaline/internal/constraint"
	"rotaline/internal/cycle"
	"rotaline/internal/domain"
	"rotaline/internal/events"
	"rotaline/internal/materialize"
	"rotaline/internal/repo"
	"rotaline/internal/settings"
	"rotaline/internal/snapshot"
)

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Settings settings.Service
	Config   *config.Config
	Now      func() time.Time

	mu     sync.Mutex
	owners map[string]*sync.Mutex
}

func New(db *sql.DB, cfg *config.Config) *Engine {
	e := &Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
		owners: map[string]*sync.Mutex{},
	}
	e.Settings = settings.Service{Repo: e.Repo, Config: cfg, Now: e.now}
	return e
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) nowStr() string {
	return e.now().UTC().Format(time.RFC3339)
}

// lockOwner serializes writers per owner. Readers go straight to sqlite.
func (e *Engine) lockOwner(ownerID string) func() {
	e.mu.Lock()
	m, ok := e.owners[ownerID]
	if !ok {
		m = &sync.Mutex{}
		e.owners[ownerID] = m
	}
	e.mu.Unlock()
	m.Lock()
	return m.Unlock
}

func (e *Engine) horizon() int {
	if e.Config != nil && e.Config.Calendar.HorizonDays > 0 {
		return e.Config.Calendar.HorizonDays
	}
	return 90
}

func (e *Engine) expiryHours() int {
	if e.Config != nil && e.Config.Proposals.ExpiryHours > 0 {
		return e.Config.Proposals.ExpiryHours
	}
	return 72
}

// window is the materialization horizon starting today.
func (e *Engine) window() (string, string) {
	from := e.now().UTC()
	to := from.AddDate(0, 0, e.horizon()-1)
	return from.Format("2006-01-02"), to.Format("2006-01-02")
}

func newID() string {
	return uuid.NewString()
}

// projectDays materializes the horizon for a settings payload. Owners
// without a cycle yet simply have no days.
func (e *Engine) projectDays(ownerID string, st domain.Settings, version int) ([]domain.CalendarDay, error) {
	if st.Cycle == nil {
		return nil, nil
	}
	from, to := e.window()
	days, err := materialize.Range(ownerID, from, to, st, version)
	if err != nil {
		return nil, mapDomainErr(err)
	}
	return days, nil
}

func mapDomainErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, cycle.ErrInvalid):
		return &Error{Kind: KindInvalidCycle, Message: err.Error()}
	case errors.Is(err, materialize.ErrNoCycle):
		return &Error{Kind: KindInvalidCycle, Message: err.Error()}
	case errors.Is(err, settings.ErrUnknownEntity):
		return &Error{Kind: KindNotFound, Message: err.Error()}
	case errors.Is(err, settings.ErrSystemConstraint):
		return &Error{Kind: KindConstraintViolation, Message: err.Error()}
	case errors.Is(err, settings.ErrStale):
		return &Error{Kind: KindStaleSettings, Message: err.Error()}
	case errors.Is(err, repo.ErrVersionConflict):
		return &Error{Kind: KindConcurrencyConflict, Message: err.Error()}
	case errors.Is(err, repo.ErrNotFound):
		return &Error{Kind: KindNotFound, Message: err.Error()}
	default:
		return err
	}
}

// ensureBaselineTx guarantees a genesis snapshot exists so the first
// applied mutation has a parent to undo back to. Returns the chain head.
func (e *Engine) ensureBaselineTx(ctx context.Context, tx *sql.Tx, doc domain.SettingsDocument) (domain.Snapshot, error) {
	head, err := e.Repo.HeadSnapshotTx(ctx, tx, doc.OwnerID)
	if err == nil {
		return head, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return head, err
	}
	days, err := e.projectDays(doc.OwnerID, doc.Settings, doc.Version)
	if err != nil {
		return head, err
	}
	return e.appendSnapshotTx(ctx, tx, doc.OwnerID, "", doc.Settings, days)
}

// appendSnapshotTx hashes the state and links it to the current head.
func (e *Engine) appendSnapshotTx(ctx context.Context, tx *sql.Tx, ownerID, mutationID string, st domain.Settings, days []domain.CalendarDay) (domain.Snapshot, error) {
	state := snapshot.NewState(st, days)
	canonical, err := snapshot.Canonical(state)
	if err != nil {
		return domain.Snapshot{}, err
	}
	s := domain.Snapshot{
		ID:         newID(),
		OwnerID:    ownerID,
		StateHash:  snapshot.HashBytes(canonical),
		MutationID: mutationID,
		StateJSON:  string(canonical),
		CreatedAt:  e.nowStr(),
	}
	head, err := e.Repo.HeadSnapshotTx(ctx, tx, ownerID)
	if err == nil {
		s.ParentHash = head.StateHash
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Snapshot{}, err
	}
	seq, err := e.Repo.NextSnapshotSeqTx(ctx, tx, ownerID)
	if err != nil {
		return domain.Snapshot{}, err
	}
	s.Seq = seq
	if err := e.Repo.InsertSnapshotTx(ctx, tx, s); err != nil {
		return domain.Snapshot{}, err
	}
	return s, nil
}

// Propose validates a command and records it as a pending mutation.
// Days and snapshots stay untouched until review, but proposing forfeits
// any redo slot left by an earlier undo.
func (e *Engine) Propose(ctx context.Context, ownerID string, cmd domain.Command, actorID string) (domain.Mutation, error) {
	if err := cmd.Validate(); err != nil {
		return domain.Mutation{}, errf(KindBadCommand, "%v", err)
	}
	unlock := e.lockOwner(ownerID)
	defer unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Mutation{}, err
	}
	defer tx.Rollback()

	doc, err := e.Settings.GetTx(ctx, tx, ownerID)
	if err != nil {
		return domain.Mutation{}, err
	}
	head, err := e.ensureBaselineTx(ctx, tx, doc)
	if err != nil {
		return domain.Mutation{}, err
	}

	res, err := e.evaluate(doc, cmd)
	if err != nil {
		return domain.Mutation{}, err
	}

	now := e.now().UTC()
	m := domain.Mutation{
		ID:           newID(),
		OwnerID:      ownerID,
		Intent:       cmd.Intent,
		Command:      cmd,
		Status:       domain.StatusProposed,
		Violations:   res.Violations,
		Warnings:     res.Warnings,
		Alternatives: res.Alternatives,
		Explanation:  res.Explanation,
		BeforeHash:   head.StateHash,
		ProposedAt:   now.Format(time.RFC3339),
		ExpiresAt:    now.Add(time.Duration(e.expiryHours()) * time.Hour).Format(time.RFC3339),
	}
	if err := e.Repo.InsertMutationTx(ctx, tx, m); err != nil {
		return domain.Mutation{}, err
	}
	if err := e.Repo.ClearUndoneTx(ctx, tx, ownerID); err != nil {
		return domain.Mutation{}, err
	}
	if err := e.Events.Append(ctx, tx, "mutation.proposed", ownerID, "mutation", m.ID, actorID, events.EventPayload{
		"intent": string(m.Intent), "valid": res.Valid, "violations": len(m.Violations),
	}); err != nil {
		return domain.Mutation{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Mutation{}, err
	}
	return m, nil
}

// evaluate runs the constraint engine over the state the command would
// produce. Structural failures abort before any constraint is consulted.
func (e *Engine) evaluate(doc domain.SettingsDocument, cmd domain.Command) (constraint.Result, error) {
	next, err := settings.Apply(doc.Settings, cmd, newID, e.nowStr())
	if err != nil {
		if mapped := mapDomainErr(err); KindOf(mapped) != "" {
			return constraint.Result{}, mapped
		}
		return constraint.Result{}, errf(KindBadCommand, "%v", err)
	}
	days, err := e.projectDays(doc.OwnerID, next, doc.Version+1)
	if err != nil {
		return constraint.Result{}, err
	}
	return constraint.Evaluate(cmd, doc.Settings, days), nil
}

// Approve reviews a pending mutation and, when it passes, applies it.
// override waives non-system, non-critical violations; system ones hold.
func (e *Engine) Approve(ctx context.Context, ownerID, mutationID string, override bool, actorID string) (domain.Mutation, error) {
	unlock := e.lockOwner(ownerID)
	defer unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Mutation{}, err
	}
	defer tx.Rollback()

	m, err := e.pendingMutationTx(ctx, tx, ownerID, mutationID, actorID)
	if err != nil {
		return domain.Mutation{}, err
	}

	doc, err := e.Settings.GetTx(ctx, tx, ownerID)
	if err != nil {
		return domain.Mutation{}, err
	}
	// The world may have moved since the proposal; judge against now.
	res, err := e.evaluate(doc, m.Command)
	if err != nil {
		return domain.Mutation{}, err
	}
	if blocking := e.blockingViolations(doc.Settings, res, override); len(blocking) > 0 {
		return domain.Mutation{}, &Error{
			Kind:       KindConstraintViolation,
			Message:    fmt.Sprintf("%d blocking violation(s)", len(blocking)),
			Violations: blocking,
		}
	}

	head, err := e.ensureBaselineTx(ctx, tx, doc)
	if err != nil {
		return domain.Mutation{}, err
	}

	next, err := settings.Apply(doc.Settings, m.Command, newID, e.nowStr())
	if err != nil {
		return domain.Mutation{}, mapDomainErr(err)
	}
	newDoc, err := e.Settings.UpdateTx(ctx, tx, ownerID, next, doc.Version)
	if err != nil {
		return domain.Mutation{}, mapDomainErr(err)
	}
	days, err := e.projectDays(ownerID, next, newDoc.Version)
	if err != nil {
		return domain.Mutation{}, err
	}
	if err := e.Repo.ReplaceDaysTx(ctx, tx, days); err != nil {
		return domain.Mutation{}, mapDomainErr(err)
	}
	snap, err := e.appendSnapshotTx(ctx, tx, ownerID, m.ID, next, days)
	if err != nil {
		return domain.Mutation{}, err
	}

	now := e.nowStr()
	m.Status = domain.StatusApproved
	m.Exec = domain.ExecApplied
	m.BeforeHash = head.StateHash
	m.AfterHash = snap.StateHash
	m.ReviewedAt = now
	m.AppliedAt = now
	if err := e.Repo.UpdateMutationReviewTx(ctx, tx, m); err != nil {
		return domain.Mutation{}, err
	}
	if err := e.Repo.PushUndoTx(ctx, tx, repo.UndoEntry{
		OwnerID:    ownerID,
		MutationID: m.ID,
		BeforeHash: head.StateHash,
		AfterHash:  snap.StateHash,
	}); err != nil {
		return domain.Mutation{}, err
	}
	if err := e.Events.Append(ctx, tx, "mutation.applied", ownerID, "mutation", m.ID, actorID, events.EventPayload{
		"intent": string(m.Intent), "override": override, "state_hash": snap.StateHash,
	}); err != nil {
		return domain.Mutation{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Mutation{}, err
	}
	return m, nil
}

// blockingViolations filters re-evaluation results down to the ones an
// override cannot waive.
func (e *Engine) blockingViolations(st domain.Settings, res constraint.Result, override bool) []domain.Violation {
	if res.Valid {
		return nil
	}
	if !override {
		return res.Violations
	}
	byID := map[string]domain.Constraint{}
	for _, c := range st.Constraints {
		byID[c.ID] = c
	}
	var blocking []domain.Violation
	for _, v := range res.Violations {
		c, ok := byID[v.ConstraintID]
		if ok && (c.System || c.Critical) {
			blocking = append(blocking, v)
		}
	}
	return blocking
}

// Reject declines a pending mutation. Nothing is applied.
func (e *Engine) Reject(ctx context.Context, ownerID, mutationID, actorID string) (domain.Mutation, error) {
	return e.decline(ctx, ownerID, mutationID, actorID, "mutation.rejected")
}

// Cancel withdraws a pending mutation, proposer-side reject.
func (e *Engine) Cancel(ctx context.Context, ownerID, mutationID, actorID string) (domain.Mutation, error) {
	return e.decline(ctx, ownerID, mutationID, actorID, "mutation.canceled")
}

func (e *Engine) decline(ctx context.Context, ownerID, mutationID, actorID, eventType string) (domain.Mutation, error) {
	unlock := e.lockOwner(ownerID)
	defer unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Mutation{}, err
	}
	defer tx.Rollback()

	m, err := e.pendingMutationTx(ctx, tx, ownerID, mutationID, actorID)
	if err != nil {
		return domain.Mutation{}, err
	}
	m.Status = domain.StatusRejected
	m.ReviewedAt = e.nowStr()
	if err := e.Repo.UpdateMutationReviewTx(ctx, tx, m); err != nil {
		return domain.Mutation{}, err
	}
	if err := e.Events.Append(ctx, tx, eventType, ownerID, "mutation", m.ID, actorID, events.EventPayload{
		"intent": string(m.Intent),
	}); err != nil {
		return domain.Mutation{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Mutation{}, err
	}
	return m, nil
}

// pendingMutationTx sweeps expiry first, then loads the mutation and
// checks it is still open for review.
func (e *Engine) pendingMutationTx(ctx context.Context, tx *sql.Tx, ownerID, mutationID, actorID string) (domain.Mutation, error) {
	expired, err := e.Repo.ExpireProposedTx(ctx, tx, ownerID, e.nowStr())
	if err != nil {
		return domain.Mutation{}, err
	}
	for _, id := range expired {
		if err := e.Events.Append(ctx, tx, "mutation.expired", ownerID, "mutation", id, actorID, nil); err != nil {
			return domain.Mutation{}, err
		}
	}
	m, err := e.Repo.GetMutationTx(ctx, tx, mutationID)
	if err != nil {
		return domain.Mutation{}, mapDomainErr(err)
	}
	if m.OwnerID != ownerID {
		return domain.Mutation{}, errf(KindNotFound, "mutation %s not found for owner %s", mutationID, ownerID)
	}
	switch m.Status {
	case domain.StatusProposed:
		return m, nil
	case domain.StatusExpired:
		return domain.Mutation{}, errf(KindStaleProposal, "mutation %s expired at %s", m.ID, m.ExpiresAt)
	default:
		return domain.Mutation{}, errf(KindAlreadyReviewed, "mutation %s already %s", m.ID, m.Status)
	}
}

// ExpireStale sweeps proposed mutations past their expiry window.
func (e *Engine) ExpireStale(ctx context.Context, ownerID, actorID string) ([]string, error) {
	unlock := e.lockOwner(ownerID)
	defer unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	ids, err := e.Repo.ExpireProposedTx(ctx, tx, ownerID, e.nowStr())
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if err := e.Events.Append(ctx, tx, "mutation.expired", ownerID, "mutation", id, actorID, nil); err != nil {
			return nil, err
		}
	}
	return ids, tx.Commit()
}

// Undo reverts the most recent applied mutation by restoring the state
// its snapshot recorded as "before".
func (e *Engine) Undo(ctx context.Context, ownerID, actorID string) (domain.Mutation, error) {
	unlock := e.lockOwner(ownerID)
	defer unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Mutation{}, err
	}
	defer tx.Rollback()

	top, err := e.Repo.TopAppliedTx(ctx, tx, ownerID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Mutation{}, errf(KindNothingToUndo, "no applied mutation to undo")
	}
	if err != nil {
		return domain.Mutation{}, err
	}
	if err := e.restoreTx(ctx, tx, ownerID, top.BeforeHash); err != nil {
		return domain.Mutation{}, err
	}
	if err := e.Repo.SetUndoneTx(ctx, tx, ownerID, top.Position, true); err != nil {
		return domain.Mutation{}, err
	}
	if err := e.Repo.SetMutationExecTx(ctx, tx, top.MutationID, domain.ExecUndone); err != nil {
		return domain.Mutation{}, err
	}
	if err := e.Events.Append(ctx, tx, "mutation.undone", ownerID, "mutation", top.MutationID, actorID, events.EventPayload{
		"restored_hash": top.BeforeHash,
	}); err != nil {
		return domain.Mutation{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Mutation{}, err
	}
	m, err := e.Repo.GetMutation(ctx, top.MutationID)
	return m, mapDomainErr(err)
}

// Redo re-applies the mutation undone last, valid only while no new
// mutation has been proposed or applied since the undo.
func (e *Engine) Redo(ctx context.Context, ownerID, actorID string) (domain.Mutation, error) {
	unlock := e.lockOwner(ownerID)
	defer unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Mutation{}, err
	}
	defer tx.Rollback()

	entry, err := e.Repo.FirstUndoneTx(ctx, tx, ownerID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Mutation{}, errf(KindNothingToRedo, "no undone mutation to redo")
	}
	if err != nil {
		return domain.Mutation{}, err
	}
	if err := e.restoreTx(ctx, tx, ownerID, entry.AfterHash); err != nil {
		return domain.Mutation{}, err
	}
	if err := e.Repo.SetUndoneTx(ctx, tx, ownerID, entry.Position, false); err != nil {
		return domain.Mutation{}, err
	}
	if err := e.Repo.SetMutationExecTx(ctx, tx, entry.MutationID, domain.ExecRedone); err != nil {
		return domain.Mutation{}, err
	}
	if err := e.Events.Append(ctx, tx, "mutation.redone", ownerID, "mutation", entry.MutationID, actorID, events.EventPayload{
		"restored_hash": entry.AfterHash,
	}); err != nil {
		return domain.Mutation{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Mutation{}, err
	}
	m, err := e.Repo.GetMutation(ctx, entry.MutationID)
	return m, mapDomainErr(err)
}

// restoreTx rewinds the live document and days to a snapshotted state
// and appends a snapshot carrying that state's hash, so restores are
// first-class links in the chain.
func (e *Engine) restoreTx(ctx context.Context, tx *sql.Tx, ownerID, stateHash string) error {
	snap, err := e.Repo.SnapshotByHashTx(ctx, tx, ownerID, stateHash)
	if errors.Is(err, repo.ErrNotFound) {
		return errf(KindConcurrencyConflict, "no snapshot with hash %s", stateHash)
	}
	if err != nil {
		return err
	}
	var state snapshot.State
	if err := json.Unmarshal([]byte(snap.StateJSON), &state); err != nil {
		return fmt.Errorf("decode snapshot %s: %w", snap.ID, err)
	}
	doc, err := e.Settings.GetTx(ctx, tx, ownerID)
	if err != nil {
		return err
	}
	newDoc, err := e.Settings.UpdateTx(ctx, tx, ownerID, state.Settings, doc.Version)
	if err != nil {
		return mapDomainErr(err)
	}
	days, err := e.projectDays(ownerID, state.Settings, newDoc.Version)
	if err != nil {
		return err
	}
	if err := e.Repo.ReplaceDaysTx(ctx, tx, days); err != nil {
		return mapDomainErr(err)
	}
	head, err := e.Repo.HeadSnapshotTx(ctx, tx, ownerID)
	if err != nil {
		return err
	}
	seq, err := e.Repo.NextSnapshotSeqTx(ctx, tx, ownerID)
	if err != nil {
		return err
	}
	// Same bytes, same hash: the restored snapshot is byte-identical to
	// the one it revives, linked under the current head.
	return e.Repo.InsertSnapshotTx(ctx, tx, domain.Snapshot{
		ID:         newID(),
		OwnerID:    ownerID,
		Seq:        seq,
		StateHash:  snap.StateHash,
		ParentHash: head.StateHash,
		MutationID: snap.MutationID,
		StateJSON:  snap.StateJSON,
		CreatedAt:  e.nowStr(),
	})
}
