package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"rotaline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var (
	ErrNotFound        = errors.New("not found")
	ErrVersionConflict = errors.New("version conflict")
)

type scanner interface {
	Scan(dest ...any) error
}

func (r Repo) GetSettings(ctx context.Context, ownerID string) (domain.SettingsDocument, error) {
	return scanSettings(r.DB.QueryRowContext(ctx, `SELECT owner_id,settings_json,version,updated_at FROM settings WHERE owner_id=?`, ownerID))
}

func (r Repo) GetSettingsTx(ctx context.Context, tx *sql.Tx, ownerID string) (domain.SettingsDocument, error) {
	return scanSettings(tx.QueryRowContext(ctx, `SELECT owner_id,settings_json,version,updated_at FROM settings WHERE owner_id=?`, ownerID))
}

func scanSettings(row *sql.Row) (domain.SettingsDocument, error) {
	var doc domain.SettingsDocument
	var payload string
	err := row.Scan(&doc.OwnerID, &payload, &doc.Version, &doc.UpdatedAt)
	if err == sql.ErrNoRows {
		return doc, ErrNotFound
	}
	if err != nil {
		return doc, err
	}
	if err := json.Unmarshal([]byte(payload), &doc.Settings); err != nil {
		return doc, fmt.Errorf("decode settings for %s: %w", doc.OwnerID, err)
	}
	return doc, nil
}

// UpsertSettingsTx writes the document guarded by its version: the row
// version must still be doc.Version-1 (or the row must not exist when
// doc.Version is 1).
func (r Repo) UpsertSettingsTx(ctx context.Context, tx *sql.Tx, doc domain.SettingsDocument) error {
	payload, err := json.Marshal(doc.Settings)
	if err != nil {
		return err
	}
	if doc.Version <= 1 {
		_, err = tx.ExecContext(ctx, `INSERT INTO settings(owner_id,settings_json,version,updated_at) VALUES (?,?,?,?)
ON CONFLICT(owner_id) DO NOTHING`, doc.OwnerID, string(payload), doc.Version, doc.UpdatedAt)
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE settings SET settings_json=?, version=?, updated_at=? WHERE owner_id=? AND version=?`,
		string(payload), doc.Version, doc.UpdatedAt, doc.OwnerID, doc.Version-1)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrVersionConflict
	}
	return nil
}

func (r Repo) InsertMutationTx(ctx context.Context, tx *sql.Tx, m domain.Mutation) error {
	command, err := json.Marshal(m.Command)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO mutations(id,owner_id,intent,command_json,status,exec_status,violations_json,warnings_json,alternatives_json,explanation,before_hash,after_hash,proposed_at,expires_at,reviewed_at,applied_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		m.ID, m.OwnerID, string(m.Intent), string(command), string(m.Status), string(m.Exec),
		jsonOrNil(m.Violations), jsonOrNil(m.Warnings), jsonOrNil(m.Alternatives),
		nullable(m.Explanation), nullable(m.BeforeHash), nullable(m.AfterHash),
		m.ProposedAt, nullable(m.ExpiresAt), nullable(m.ReviewedAt), nullable(m.AppliedAt))
	return err
}

const mutationCols = `id,owner_id,intent,command_json,status,exec_status,violations_json,warnings_json,alternatives_json,explanation,before_hash,after_hash,proposed_at,expires_at,reviewed_at,applied_at`

func scanMutation(sc scanner) (domain.Mutation, error) {
	var m domain.Mutation
	var command string
	var violations, warnings, alternatives, explanation, beforeHash, afterHash, expiresAt, reviewedAt, appliedAt sql.NullString
	err := sc.Scan(&m.ID, &m.OwnerID, &m.Intent, &command, &m.Status, &m.Exec,
		&violations, &warnings, &alternatives, &explanation, &beforeHash, &afterHash,
		&m.ProposedAt, &expiresAt, &reviewedAt, &appliedAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal([]byte(command), &m.Command); err != nil {
		return m, fmt.Errorf("decode command for mutation %s: %w", m.ID, err)
	}
	if violations.Valid {
		if err := json.Unmarshal([]byte(violations.String), &m.Violations); err != nil {
			return m, err
		}
	}
	if warnings.Valid {
		if err := json.Unmarshal([]byte(warnings.String), &m.Warnings); err != nil {
			return m, err
		}
	}
	if alternatives.Valid {
		if err := json.Unmarshal([]byte(alternatives.String), &m.Alternatives); err != nil {
			return m, err
		}
	}
	if explanation.Valid {
		m.Explanation = explanation.String
	}
	if beforeHash.Valid {
		m.BeforeHash = beforeHash.String
	}
	if afterHash.Valid {
		m.AfterHash = afterHash.String
	}
	if expiresAt.Valid {
		m.ExpiresAt = expiresAt.String
	}
	if reviewedAt.Valid {
		m.ReviewedAt = reviewedAt.String
	}
	if appliedAt.Valid {
		m.AppliedAt = appliedAt.String
	}
	return m, nil
}

func (r Repo) GetMutation(ctx context.Context, id string) (domain.Mutation, error) {
	return scanMutation(r.DB.QueryRowContext(ctx, `SELECT `+mutationCols+` FROM mutations WHERE id=?`, id))
}

func (r Repo) GetMutationTx(ctx context.Context, tx *sql.Tx, id string) (domain.Mutation, error) {
	return scanMutation(tx.QueryRowContext(ctx, `SELECT `+mutationCols+` FROM mutations WHERE id=?`, id))
}

// UpdateMutationReviewTx records the outcome of a review or an apply.
func (r Repo) UpdateMutationReviewTx(ctx context.Context, tx *sql.Tx, m domain.Mutation) error {
	res, err := tx.ExecContext(ctx, `UPDATE mutations SET status=?, exec_status=?, after_hash=?, reviewed_at=?, applied_at=? WHERE id=?`,
		string(m.Status), string(m.Exec), nullable(m.AfterHash), nullable(m.ReviewedAt), nullable(m.AppliedAt), m.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SetMutationExecTx(ctx context.Context, tx *sql.Tx, id string, exec domain.ExecStatus) error {
	res, err := tx.ExecContext(ctx, `UPDATE mutations SET exec_status=? WHERE id=?`, string(exec), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type MutationFilters struct {
	OwnerID          string
	Status           string
	Limit            int
	CursorProposedAt string
	CursorID         string
}

func (r Repo) ListMutations(ctx context.Context, f MutationFilters) ([]domain.Mutation, error) {
	clauses := []string{"owner_id=?"}
	args := []any{f.OwnerID}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.CursorProposedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(proposed_at < ? OR (proposed_at = ? AND id < ?))")
		args = append(args, f.CursorProposedAt, f.CursorProposedAt, f.CursorID)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := `SELECT ` + mutationCols + ` FROM mutations ` + where + ` ORDER BY proposed_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Mutation
	for rows.Next() {
		m, err := scanMutation(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, nil
}

// ExpireProposedTx flips proposed mutations past their expiry and
// returns the affected ids.
func (r Repo) ExpireProposedTx(ctx context.Context, tx *sql.Tx, ownerID, now string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id FROM mutations WHERE owner_id=? AND status=? AND expires_at IS NOT NULL AND expires_at <= ?`,
		ownerID, string(domain.StatusProposed), now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `UPDATE mutations SET status=?, reviewed_at=? WHERE id=?`,
			string(domain.StatusExpired), now, id); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

func (r Repo) InsertSnapshotTx(ctx context.Context, tx *sql.Tx, s domain.Snapshot) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO snapshots(id,owner_id,seq,state_hash,parent_hash,mutation_id,state_json,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		s.ID, s.OwnerID, s.Seq, s.StateHash, nullable(s.ParentHash), nullable(s.MutationID), s.StateJSON, s.CreatedAt)
	return err
}

const snapshotCols = `id,owner_id,seq,state_hash,parent_hash,mutation_id,state_json,created_at`

func scanSnapshot(sc scanner) (domain.Snapshot, error) {
	var s domain.Snapshot
	var parentHash, mutationID sql.NullString
	err := sc.Scan(&s.ID, &s.OwnerID, &s.Seq, &s.StateHash, &parentHash, &mutationID, &s.StateJSON, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if parentHash.Valid {
		s.ParentHash = parentHash.String
	}
	if mutationID.Valid {
		s.MutationID = mutationID.String
	}
	return s, err
}

func (r Repo) HeadSnapshot(ctx context.Context, ownerID string) (domain.Snapshot, error) {
	return scanSnapshot(r.DB.QueryRowContext(ctx, `SELECT `+snapshotCols+` FROM snapshots WHERE owner_id=? ORDER BY seq DESC LIMIT 1`, ownerID))
}

func (r Repo) HeadSnapshotTx(ctx context.Context, tx *sql.Tx, ownerID string) (domain.Snapshot, error) {
	return scanSnapshot(tx.QueryRowContext(ctx, `SELECT `+snapshotCols+` FROM snapshots WHERE owner_id=? ORDER BY seq DESC LIMIT 1`, ownerID))
}

// SnapshotByHashTx returns the most recent snapshot carrying a state hash.
func (r Repo) SnapshotByHashTx(ctx context.Context, tx *sql.Tx, ownerID, stateHash string) (domain.Snapshot, error) {
	return scanSnapshot(tx.QueryRowContext(ctx, `SELECT `+snapshotCols+` FROM snapshots WHERE owner_id=? AND state_hash=? ORDER BY seq DESC LIMIT 1`, ownerID, stateHash))
}

func (r Repo) ListSnapshots(ctx context.Context, ownerID string, limit int) ([]domain.Snapshot, error) {
	query := `SELECT ` + snapshotCols + ` FROM snapshots WHERE owner_id=? ORDER BY seq ASC`
	args := []any{ownerID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Snapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, nil
}

func (r Repo) NextSnapshotSeqTx(ctx context.Context, tx *sql.Tx, ownerID string) (int64, error) {
	var seq int64
	err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq),0)+1 FROM snapshots WHERE owner_id=?`, ownerID).Scan(&seq)
	return seq, err
}

func jsonOrNil(v any) any {
	b, err := json.Marshal(v)
	if err != nil || string(b) == "null" {
		return nil
	}
	return string(b)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
