package harness

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/graftkit/graft/internal/trace"
)

// Snapshot renders a run as canonical JSON lines: one line per session
// record in open order, then one line per trace event in timeline order.
// Canonical serialization makes the bytes stable across runs, which is
// what golden comparison depends on.
func Snapshot(res *RunResult) ([]byte, error) {
	var buf bytes.Buffer
	for _, s := range res.Sessions {
		declared := any(s.Declared)
		if s.Declared == nil {
			declared = map[string]any{}
		}
		line, err := trace.MarshalCanonical(map[string]any{
			"token":    s.Token,
			"target":   s.Target,
			"property": s.Property,
			"mode":     s.Mode,
			"declared": declared,
		})
		if err != nil {
			return nil, fmt.Errorf("session %s: %w", s.Token, err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	for _, ev := range res.Events {
		line, err := ev.Canonical()
		if err != nil {
			return nil, fmt.Errorf("event seq %d: %w", ev.Seq, err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// AssertGolden compares a run's snapshot against
// testdata/golden/<scenario>.golden. Regenerate fixtures with:
//
//	go test ./internal/harness -update
func AssertGolden(t *testing.T, res *RunResult) {
	t.Helper()

	snap, err := Snapshot(res)
	if err != nil {
		t.Fatalf("snapshot %s: %v", res.Scenario, err)
	}
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, res.Scenario, snap)
}
