package engine

import (
	"context"
	"errors"

	"rotaline/internal/cycle"
	"rotaline/internal/domain"
	"rotaline/internal/materialize"
	"rotaline/internal/repo"
	"rotaline/internal/schedule"
	"rotaline/internal/snapshot"
)

// Calendar returns the materialized days in [from, to]. Stored rows are
// preferred; dates outside the stored horizon are derived on the fly
// from the current document, which yields the same bytes.
func (e *Engine) Calendar(ctx context.Context, ownerID, from, to string) ([]domain.CalendarDay, error) {
	doc, err := e.Settings.Get(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if doc.Settings.Cycle == nil {
		return nil, errf(KindInvalidCycle, "owner %s has no cycle configured", ownerID)
	}
	stored, err := e.Repo.ListDays(ctx, ownerID, from, to)
	if err != nil {
		return nil, err
	}
	byDate := make(map[string]domain.CalendarDay, len(stored))
	for _, d := range stored {
		byDate[d.Date] = d
	}
	computed, err := materialize.Range(ownerID, from, to, doc.Settings, doc.Version)
	if err != nil {
		return nil, mapDomainErr(err)
	}
	out := make([]domain.CalendarDay, 0, len(computed))
	for _, d := range computed {
		if s, ok := byDate[d.Date]; ok && s.Version >= doc.Version {
			out = append(out, s)
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

// CommitmentPlan expands one commitment over the horizon and validates
// every occurrence against the constraint set. Occurrences a day rejects
// reroute to the next acceptable day within reach; the rest carry their
// reasons.
func (e *Engine) CommitmentPlan(ctx context.Context, ownerID, commitmentID string) (schedule.Plan, error) {
	doc, err := e.Settings.Get(ctx, ownerID)
	if err != nil {
		return schedule.Plan{}, err
	}
	if doc.Settings.Cycle == nil {
		return schedule.Plan{}, errf(KindInvalidCycle, "owner %s has no cycle configured", ownerID)
	}
	var target *domain.Commitment
	for i := range doc.Settings.Commitments {
		if doc.Settings.Commitments[i].ID == commitmentID {
			target = &doc.Settings.Commitments[i]
			break
		}
	}
	if target == nil {
		return schedule.Plan{}, errf(KindNotFound, "commitment %s not found for owner %s", commitmentID, ownerID)
	}
	days, err := e.projectDays(ownerID, doc.Settings, doc.Version)
	if err != nil {
		return schedule.Plan{}, err
	}
	return schedule.Build(*target, days, doc.Settings.Constraints), nil
}

func (e *Engine) GetMutation(ctx context.Context, ownerID, id string) (domain.Mutation, error) {
	m, err := e.Repo.GetMutation(ctx, id)
	if err != nil {
		return domain.Mutation{}, mapDomainErr(err)
	}
	if m.OwnerID != ownerID {
		return domain.Mutation{}, errf(KindNotFound, "mutation %s not found for owner %s", id, ownerID)
	}
	return m, nil
}

func (e *Engine) ListMutations(ctx context.Context, f repo.MutationFilters) ([]domain.Mutation, error) {
	return e.Repo.ListMutations(ctx, f)
}

// GetSettings returns the owner's document, seeded defaults when unsaved.
func (e *Engine) GetSettings(ctx context.Context, ownerID string) (domain.SettingsDocument, error) {
	return e.Settings.Get(ctx, ownerID)
}

// UpdateSettings replaces the whole document directly, bypassing the
// proposal pipeline. It still snapshots, so the chain stays honest.
func (e *Engine) UpdateSettings(ctx context.Context, ownerID string, next domain.Settings, expectedVersion int, actorID string) (domain.SettingsDocument, error) {
	if next.Cycle != nil {
		if err := mapDomainErr(cycle.Validate(*next.Cycle)); err != nil {
			return domain.SettingsDocument{}, err
		}
	}
	unlock := e.lockOwner(ownerID)
	defer unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.SettingsDocument{}, err
	}
	defer tx.Rollback()

	doc, err := e.Settings.GetTx(ctx, tx, ownerID)
	if err != nil {
		return domain.SettingsDocument{}, err
	}
	if _, err := e.ensureBaselineTx(ctx, tx, doc); err != nil {
		return domain.SettingsDocument{}, err
	}
	newDoc, err := e.Settings.UpdateTx(ctx, tx, ownerID, next, expectedVersion)
	if err != nil {
		return domain.SettingsDocument{}, mapDomainErr(err)
	}
	days, err := e.projectDays(ownerID, next, newDoc.Version)
	if err != nil {
		return domain.SettingsDocument{}, err
	}
	if err := e.Repo.ReplaceDaysTx(ctx, tx, days); err != nil {
		return domain.SettingsDocument{}, mapDomainErr(err)
	}
	if _, err := e.appendSnapshotTx(ctx, tx, ownerID, "", next, days); err != nil {
		return domain.SettingsDocument{}, err
	}
	if err := e.Events.Append(ctx, tx, "settings.updated", ownerID, "settings", ownerID, actorID, nil); err != nil {
		return domain.SettingsDocument{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.SettingsDocument{}, err
	}
	return newDoc, nil
}

// ListSnapshots returns the chain in sequence order.
func (e *Engine) ListSnapshots(ctx context.Context, ownerID string, limit int) ([]domain.Snapshot, error) {
	return e.Repo.ListSnapshots(ctx, ownerID, limit)
}

// VerifyChain re-hashes every snapshot and checks the links.
func (e *Engine) VerifyChain(ctx context.Context, ownerID string) error {
	chain, err := e.Repo.ListSnapshots(ctx, ownerID, 0)
	if err != nil {
		return err
	}
	return snapshot.Verify(chain)
}

// HeadHash is the current state hash, empty before any snapshot exists.
func (e *Engine) HeadHash(ctx context.Context, ownerID string) (string, error) {
	head, err := e.Repo.HeadSnapshot(ctx, ownerID)
	if errors.Is(err, repo.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return head.StateHash, nil
}
