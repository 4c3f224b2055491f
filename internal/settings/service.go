// Package settings owns the per-owner source-of-truth document and the
// command semantics that change it.
package settings

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"rotaline/internal/config"
	"rotaline/internal/constraint"
	"rotaline/internal/domain"
	"rotaline/internal/repo"
)

var ErrStale = errors.New("stale settings version")

type Service struct {
	Repo   repo.Repo
	Config *config.Config
	Now    func() time.Time
}

func (s Service) now() string {
	if s.Now == nil {
		return time.Now().UTC().Format(time.RFC3339)
	}
	return s.Now().UTC().Format(time.RFC3339)
}

// Seed builds the default document for an owner from config: work
// params, preferences and the system constraint set.
func (s Service) Seed(ownerID string) domain.SettingsDocument {
	doc := domain.SettingsDocument{
		OwnerID:   ownerID,
		Version:   1,
		UpdatedAt: s.now(),
	}
	if s.Config != nil {
		doc.Settings.Work = s.Config.WorkParams()
		doc.Settings.Preferences = s.Config.Preferences()
		if s.Config.Constraints.SeedSystem {
			doc.Settings.Constraints = constraint.SystemConstraints()
		}
	} else {
		doc.Settings.Preferences.ConstraintMode = domain.ModeBinary
		doc.Settings.Constraints = constraint.SystemConstraints()
	}
	return doc
}

// GetTx loads the document, seeding and persisting the default when the
// owner has none yet.
func (s Service) GetTx(ctx context.Context, tx *sql.Tx, ownerID string) (domain.SettingsDocument, error) {
	doc, err := s.Repo.GetSettingsTx(ctx, tx, ownerID)
	if err == nil {
		return doc, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return doc, err
	}
	doc = s.Seed(ownerID)
	if err := s.Repo.UpsertSettingsTx(ctx, tx, doc); err != nil {
		return doc, err
	}
	return doc, nil
}

// Get is the read-only variant; a missing document comes back as the
// unsaved seed, carrying the version it would persist at.
func (s Service) Get(ctx context.Context, ownerID string) (domain.SettingsDocument, error) {
	doc, err := s.Repo.GetSettings(ctx, ownerID)
	if err == nil {
		return doc, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return doc, err
	}
	return s.Seed(ownerID), nil
}

// UpdateTx replaces the settings payload guarded by the version the
// caller last saw.
func (s Service) UpdateTx(ctx context.Context, tx *sql.Tx, ownerID string, next domain.Settings, expectedVersion int) (domain.SettingsDocument, error) {
	current, err := s.GetTx(ctx, tx, ownerID)
	if err != nil {
		return domain.SettingsDocument{}, err
	}
	if current.Version != expectedVersion {
		return domain.SettingsDocument{}, ErrStale
	}
	doc := domain.SettingsDocument{
		OwnerID:   ownerID,
		Settings:  next,
		Version:   current.Version + 1,
		UpdatedAt: s.now(),
	}
	if err := s.Repo.UpsertSettingsTx(ctx, tx, doc); err != nil {
		if errors.Is(err, repo.ErrVersionConflict) {
			return domain.SettingsDocument{}, ErrStale
		}
		return domain.SettingsDocument{}, err
	}
	return doc, nil
}
