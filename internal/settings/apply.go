package settings

import (
	"encoding/json"
	"errors"
	"fmt"

	"rotaline/internal/cycle"
	"rotaline/internal/domain"
)

var (
	ErrUnknownEntity    = errors.New("unknown entity")
	ErrSystemConstraint = errors.New("system constraints cannot be changed")
)

// Apply executes a command against a settings snapshot and returns the
// changed copy. The input is never mutated. newID mints ids for entities
// arriving without one; now stamps created/updated times.
func Apply(st domain.Settings, cmd domain.Command, newID func() string, now string) (domain.Settings, error) {
	if err := cmd.Validate(); err != nil {
		return domain.Settings{}, err
	}
	out, err := clone(st)
	if err != nil {
		return domain.Settings{}, err
	}
	switch cmd.Intent {
	case domain.IntentUpdateCycle:
		if err := cycle.Validate(*cmd.Cycle); err != nil {
			return domain.Settings{}, err
		}
		c := *cmd.Cycle
		out.Cycle = &c

	case domain.IntentAddCommitment:
		cm := *cmd.Commitment
		if cm.ID == "" {
			cm.ID = newID()
		}
		if cm.Status == "" {
			cm.Status = domain.CommitmentActive
		}
		cm.CreatedAt = now
		cm.UpdatedAt = now
		out.Commitments = append(out.Commitments, cm)

	case domain.IntentUpdateCommitment:
		i := commitmentIndex(out.Commitments, cmd.Commitment.ID)
		if i < 0 {
			return domain.Settings{}, fmt.Errorf("%w: commitment %s", ErrUnknownEntity, cmd.Commitment.ID)
		}
		cm := *cmd.Commitment
		cm.CreatedAt = out.Commitments[i].CreatedAt
		cm.UpdatedAt = now
		if cm.Status == "" {
			cm.Status = out.Commitments[i].Status
		}
		out.Commitments[i] = cm

	case domain.IntentRemoveCommitment:
		i := commitmentIndex(out.Commitments, cmd.CommitmentID)
		if i < 0 {
			return domain.Settings{}, fmt.Errorf("%w: commitment %s", ErrUnknownEntity, cmd.CommitmentID)
		}
		out.Commitments = append(out.Commitments[:i], out.Commitments[i+1:]...)

	case domain.IntentAddLeave:
		l := *cmd.Leave
		if l.ID == "" {
			l.ID = newID()
		}
		l.CreatedAt = now
		out.LeaveBlocks = append(out.LeaveBlocks, l)

	case domain.IntentRemoveLeave:
		i := leaveIndex(out.LeaveBlocks, cmd.LeaveID)
		if i < 0 {
			return domain.Settings{}, fmt.Errorf("%w: leave %s", ErrUnknownEntity, cmd.LeaveID)
		}
		out.LeaveBlocks = append(out.LeaveBlocks[:i], out.LeaveBlocks[i+1:]...)

	case domain.IntentUpdateConstraint:
		c := *cmd.Constraint
		if c.ID == "" {
			c.ID = newID()
			c.CreatedAt = now
			c.Active = true
			out.Constraints = append(out.Constraints, c)
			break
		}
		i := constraintIndex(out.Constraints, c.ID)
		if i < 0 {
			c.CreatedAt = now
			out.Constraints = append(out.Constraints, c)
			break
		}
		if out.Constraints[i].System {
			return domain.Settings{}, ErrSystemConstraint
		}
		c.CreatedAt = out.Constraints[i].CreatedAt
		out.Constraints[i] = c

	case domain.IntentRemoveConstraint:
		i := constraintIndex(out.Constraints, cmd.ConstraintID)
		if i < 0 {
			return domain.Settings{}, fmt.Errorf("%w: constraint %s", ErrUnknownEntity, cmd.ConstraintID)
		}
		if out.Constraints[i].System {
			return domain.Settings{}, ErrSystemConstraint
		}
		out.Constraints = append(out.Constraints[:i], out.Constraints[i+1:]...)
	}
	return out, nil
}

func clone(st domain.Settings) (domain.Settings, error) {
	raw, err := json.Marshal(st)
	if err != nil {
		return domain.Settings{}, err
	}
	var out domain.Settings
	if err := json.Unmarshal(raw, &out); err != nil {
		return domain.Settings{}, err
	}
	return out, nil
}

func commitmentIndex(cs []domain.Commitment, id string) int {
	for i := range cs {
		if cs[i].ID == id {
			return i
		}
	}
	return -1
}

func leaveIndex(ls []domain.LeaveBlock, id string) int {
	for i := range ls {
		if ls[i].ID == id {
			return i
		}
	}
	return -1
}

func constraintIndex(cs []domain.Constraint, id string) int {
	for i := range cs {
		if cs[i].ID == id {
			return i
		}
	}
	return -1
}
