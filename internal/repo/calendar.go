package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"rotaline/internal/domain"
)

const dayCols = `owner_id,date,cycle_day,work_type,commitments_json,available_hours,used_hours,overloaded,on_leave,version`

func scanDay(sc scanner) (domain.CalendarDay, error) {
	var d domain.CalendarDay
	var commitments sql.NullString
	var overloaded, onLeave int
	err := sc.Scan(&d.OwnerID, &d.Date, &d.CycleDay, &d.WorkType, &commitments,
		&d.AvailableHours, &d.UsedHours, &overloaded, &onLeave, &d.Version)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	if err != nil {
		return d, err
	}
	if commitments.Valid {
		if err := json.Unmarshal([]byte(commitments.String), &d.Commitments); err != nil {
			return d, fmt.Errorf("decode commitments for %s/%s: %w", d.OwnerID, d.Date, err)
		}
	}
	d.Overloaded = overloaded != 0
	d.OnLeave = onLeave != 0
	return d, nil
}

// ReplaceDaysTx upserts materialized days. A stored row with a newer
// version than the incoming one means another writer got there first.
func (r Repo) ReplaceDaysTx(ctx context.Context, tx *sql.Tx, days []domain.CalendarDay) error {
	for _, d := range days {
		var current sql.NullInt64
		err := tx.QueryRowContext(ctx, `SELECT version FROM calendar_days WHERE owner_id=? AND date=?`, d.OwnerID, d.Date).Scan(&current)
		if err != nil && err != sql.ErrNoRows {
			return err
		}
		if current.Valid && int(current.Int64) > d.Version {
			return fmt.Errorf("%w: day %s at version %d, incoming %d", ErrVersionConflict, d.Date, current.Int64, d.Version)
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO calendar_days(`+dayCols+`) VALUES (?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(owner_id,date) DO UPDATE SET cycle_day=excluded.cycle_day, work_type=excluded.work_type,
commitments_json=excluded.commitments_json, available_hours=excluded.available_hours,
used_hours=excluded.used_hours, overloaded=excluded.overloaded, on_leave=excluded.on_leave, version=excluded.version`,
			d.OwnerID, d.Date, d.CycleDay, string(d.WorkType), jsonOrNil(d.Commitments),
			d.AvailableHours, d.UsedHours, boolInt(d.Overloaded), boolInt(d.OnLeave), d.Version)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) GetDay(ctx context.Context, ownerID, date string) (domain.CalendarDay, error) {
	return scanDay(r.DB.QueryRowContext(ctx, `SELECT `+dayCols+` FROM calendar_days WHERE owner_id=? AND date=?`, ownerID, date))
}

func (r Repo) ListDays(ctx context.Context, ownerID, from, to string) ([]domain.CalendarDay, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+dayCols+` FROM calendar_days WHERE owner_id=? AND date>=? AND date<=? ORDER BY date ASC`, ownerID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.CalendarDay
	for rows.Next() {
		d, err := scanDay(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, nil
}

type UndoEntry struct {
	OwnerID    string
	Position   int
	MutationID string
	BeforeHash string
	AfterHash  string
	Undone     bool
}

// ClearUndoneTx drops the owner's undone entries, forfeiting redo.
func (r Repo) ClearUndoneTx(ctx context.Context, tx *sql.Tx, ownerID string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM undo_stack WHERE owner_id=? AND undone=1`, ownerID)
	return err
}

// PushUndoTx appends an applied mutation to the owner's undo stack.
// Any undone entries above it are dropped; a new apply forfeits redo.
func (r Repo) PushUndoTx(ctx context.Context, tx *sql.Tx, e UndoEntry) error {
	if err := r.ClearUndoneTx(ctx, tx, e.OwnerID); err != nil {
		return err
	}
	var pos int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(position),0)+1 FROM undo_stack WHERE owner_id=?`, e.OwnerID).Scan(&pos); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO undo_stack(owner_id,position,mutation_id,before_hash,after_hash,undone) VALUES (?,?,?,?,?,0)`,
		e.OwnerID, pos, e.MutationID, e.BeforeHash, e.AfterHash)
	return err
}

func scanUndo(sc scanner) (UndoEntry, error) {
	var e UndoEntry
	var undone int
	err := sc.Scan(&e.OwnerID, &e.Position, &e.MutationID, &e.BeforeHash, &e.AfterHash, &undone)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	e.Undone = undone != 0
	return e, err
}

const undoCols = `owner_id,position,mutation_id,before_hash,after_hash,undone`

// TopAppliedTx returns the newest entry that is still applied.
func (r Repo) TopAppliedTx(ctx context.Context, tx *sql.Tx, ownerID string) (UndoEntry, error) {
	return scanUndo(tx.QueryRowContext(ctx, `SELECT `+undoCols+` FROM undo_stack WHERE owner_id=? AND undone=0 ORDER BY position DESC LIMIT 1`, ownerID))
}

// FirstUndoneTx returns the oldest undone entry, the next redo target.
func (r Repo) FirstUndoneTx(ctx context.Context, tx *sql.Tx, ownerID string) (UndoEntry, error) {
	return scanUndo(tx.QueryRowContext(ctx, `SELECT `+undoCols+` FROM undo_stack WHERE owner_id=? AND undone=1 ORDER BY position ASC LIMIT 1`, ownerID))
}

func (r Repo) SetUndoneTx(ctx context.Context, tx *sql.Tx, ownerID string, position int, undone bool) error {
	res, err := tx.ExecContext(ctx, `UPDATE undo_stack SET undone=? WHERE owner_id=? AND position=?`, boolInt(undone), ownerID, position)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
