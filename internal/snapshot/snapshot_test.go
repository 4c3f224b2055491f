package snapshot

import (
	"strings"
	"testing"

	"rotaline/internal/domain"
)

func sampleSettings(name string) domain.Settings {
	return domain.Settings{
		Commitments: []domain.Commitment{
			{ID: "c1", Name: name, Type: domain.CommitmentStudy, DurationHours: 2},
		},
	}
}

func TestHashIsDeterministic(t *testing.T) {
	a, err := Hash(NewState(sampleSettings("anatomy"), nil))
	if err != nil {
		t.Fatal(err)
	}
	b, err := Hash(NewState(sampleSettings("anatomy"), nil))
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Errorf("equal state hashed to %s and %s", a, b)
	}
	c, err := Hash(NewState(sampleSettings("pharmacology"), nil))
	if err != nil {
		t.Fatal(err)
	}
	if a == c {
		t.Error("different state produced the same hash")
	}
}

func TestCanonicalSortsKeys(t *testing.T) {
	a, err := Canonical(map[string]any{"b": 1, "a": 2})
	if err != nil {
		t.Fatal(err)
	}
	b, err := Canonical(map[string]any{"a": 2, "b": 1})
	if err != nil {
		t.Fatal(err)
	}
	if string(a) != string(b) {
		t.Errorf("canonical forms differ: %s vs %s", a, b)
	}
	if strings.Index(string(a), `"a"`) > strings.Index(string(a), `"b"`) {
		t.Errorf("keys not sorted: %s", a)
	}
}

func TestNewStateDropsDayVersions(t *testing.T) {
	days := []domain.CalendarDay{{Date: "2026-01-01", Version: 5}}
	st := NewState(sampleSettings("anatomy"), days)
	if st.Days[0].Version != 0 {
		t.Errorf("state day version = %d, want 0", st.Days[0].Version)
	}
	if days[0].Version != 5 {
		t.Error("input slice was mutated")
	}
}

func chainOf(t *testing.T, n int) []domain.Snapshot {
	t.Helper()
	var out []domain.Snapshot
	parent := ""
	for i := 0; i < n; i++ {
		raw, err := Canonical(NewState(sampleSettings(strings.Repeat("x", i+1)), nil))
		if err != nil {
			t.Fatal(err)
		}
		out = append(out, domain.Snapshot{
			ID:         strings.Repeat("s", i+1),
			Seq:        int64(i + 1),
			StateJSON:  string(raw),
			StateHash:  HashBytes(raw),
			ParentHash: parent,
		})
		parent = out[i].StateHash
	}
	return out
}

func TestVerifyAcceptsWellFormedChain(t *testing.T) {
	if err := Verify(chainOf(t, 3)); err != nil {
		t.Errorf("valid chain rejected: %v", err)
	}
}

func TestVerifyDetectsTamperedState(t *testing.T) {
	chain := chainOf(t, 3)
	chain[1].StateJSON = strings.Replace(chain[1].StateJSON, "xx", "yy", 1)
	if err := Verify(chain); err == nil {
		t.Error("tampered state passed verification")
	}
}

func TestVerifyDetectsBrokenParentLink(t *testing.T) {
	chain := chainOf(t, 3)
	chain[2].ParentHash = chain[0].StateHash
	if err := Verify(chain); err == nil {
		t.Error("broken parent link passed verification")
	}
}

func TestVerifyDetectsSequenceRegression(t *testing.T) {
	chain := chainOf(t, 3)
	chain[2].Seq = chain[1].Seq
	if err := Verify(chain); err == nil {
		t.Error("non-increasing sequence passed verification")
	}
}
