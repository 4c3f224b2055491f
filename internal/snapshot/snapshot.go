// Package snapshot hashes owner state into a content-addressed chain.
package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"rotaline/internal/domain"
)

// State is the unit that gets hashed: the settings payload plus the
// materialized horizon derived from it.
type State struct {
	Settings domain.Settings      `json:"settings"`
	Days     []domain.CalendarDay `json:"days,omitempty"`
}

// NewState builds the hashable state. Document versions and day versions
// are concurrency bookkeeping, not state, so they stay out of the hash;
// undoing back to an earlier state must reproduce its exact hash.
func NewState(st domain.Settings, days []domain.CalendarDay) State {
	out := make([]domain.CalendarDay, len(days))
	copy(out, days)
	for i := range out {
		out[i].Version = 0
	}
	return State{Settings: st, Days: out}
}

// Canonical serializes v with object keys sorted so that equal state
// always yields equal bytes. The round trip through an untyped value is
// what forces key ordering.
func Canonical(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var u any
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil, err
	}
	return json.Marshal(u)
}

// Hash returns the hex sha256 of the canonical serialization.
func Hash(v any) (string, error) {
	b, err := Canonical(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// HashBytes hashes already-canonical bytes.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Verify walks a chain in sequence order and checks every link: parent
// pointers must match, sequence numbers must be strictly increasing, and
// every stored hash must match its stored state. Each link check is
// constant work.
func Verify(chain []domain.Snapshot) error {
	for i, s := range chain {
		if got := HashBytes([]byte(s.StateJSON)); got != s.StateHash {
			return fmt.Errorf("snapshot %s: state hash mismatch", s.ID)
		}
		if i == 0 {
			continue
		}
		prev := chain[i-1]
		if s.Seq <= prev.Seq {
			return fmt.Errorf("snapshot %s: sequence %d not after %d", s.ID, s.Seq, prev.Seq)
		}
		if s.ParentHash != prev.StateHash {
			return fmt.Errorf("snapshot %s: parent hash does not match predecessor", s.ID)
		}
	}
	return nil
}
