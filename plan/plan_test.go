package plan

import (
	"fmt"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/datadriven"
	"github.com/cockroachdb/errors"
	"github.com/dbmirror/dbmirror/relation"
	"github.com/stretchr/testify/require"
)

func descWithCount(name string, kind relation.Kind, count int64) relation.Descriptor {
	return relation.Descriptor{Name: name, Kind: kind, RowCount: &count}
}

func TestDecideEmptyTarget(t *testing.T) {
	source := relation.Snapshot{
		"b":   descWithCount("b", relation.KindTable, 5),
		"a":   descWithCount("a", relation.KindTable, 10),
		"v_a": {Name: "v_a", Kind: relation.KindView},
	}
	for _, by := range []CompareBy{
		CompareByModificationDate, CompareByRowCount, CompareByChecksum, CompareForce,
	} {
		t.Run(by.String(), func(t *testing.T) {
			decisions, err := Decide(source, relation.Snapshot{}, by)
			require.NoError(t, err)
			require.Len(t, decisions, 3)
			for _, d := range decisions {
				require.Equal(t, ActionCreate, d.Action)
			}
			// Tables first, then views.
			require.Equal(t, "a", decisions[0].Name)
			require.Equal(t, "b", decisions[1].Name)
			require.Equal(t, "v_a", decisions[2].Name)
		})
	}
}

func TestDecideIdenticalSnapshotsByRowCount(t *testing.T) {
	snap := relation.Snapshot{
		"a": descWithCount("a", relation.KindTable, 10),
		"v": {Name: "v", Kind: relation.KindView},
	}
	decisions, err := Decide(snap, snap, CompareByRowCount)
	require.NoError(t, err)
	for _, d := range decisions {
		require.Equal(t, ActionUnchanged, d.Action, "relation %s", d.Name)
	}
}

func TestDecideTargetOnlyIsRemove(t *testing.T) {
	target := relation.Snapshot{
		"orphan":   descWithCount("orphan", relation.KindTable, 3),
		"v_orphan": {Name: "v_orphan", Kind: relation.KindView},
	}
	for _, by := range []CompareBy{
		CompareByModificationDate, CompareByRowCount, CompareByChecksum, CompareForce,
	} {
		t.Run(by.String(), func(t *testing.T) {
			decisions, err := Decide(relation.Snapshot{}, target, by)
			require.NoError(t, err)
			require.Len(t, decisions, 2)
			for _, d := range decisions {
				require.Equal(t, ActionRemove, d.Action)
				require.Nil(t, d.Source)
				require.NotNil(t, d.Target)
			}
		})
	}
}

func TestDecideUnsetStrategy(t *testing.T) {
	_, err := Decide(relation.Snapshot{}, relation.Snapshot{}, CompareUnset)
	require.True(t, errors.Is(err, ErrAmbiguousStrategy))
}

func TestDecideMissingTimestampForcesReplace(t *testing.T) {
	now := time.Now()
	source := relation.Snapshot{
		"a": {Name: "a", Kind: relation.KindTable, LastModified: &now},
	}
	target := relation.Snapshot{
		"a": {Name: "a", Kind: relation.KindTable},
	}
	decisions, err := Decide(source, target, CompareByModificationDate)
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	require.Equal(t, ActionReplace, decisions[0].Action)
	require.NotEmpty(t, decisions[0].Reason)
}

func TestParseCompareBy(t *testing.T) {
	for _, tc := range []struct {
		in       string
		expected CompareBy
		err      error
	}{
		{in: "date", expected: CompareByModificationDate},
		{in: "count", expected: CompareByRowCount},
		{in: "checksum", expected: CompareByChecksum},
		{in: "force", expected: CompareForce},
		{in: "", err: ErrAmbiguousStrategy},
	} {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseCompareBy(tc.in)
			if tc.err != nil {
				require.True(t, errors.Is(err, tc.err))
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.expected, got)
		})
	}
	_, err := ParseCompareBy("bogus")
	require.Error(t, err)
}

func TestDataDriven(t *testing.T) {
	datadriven.Walk(t, "testdata", func(t *testing.T, path string) {
		snaps := map[string]relation.Snapshot{}
		datadriven.RunTest(t, path, func(t *testing.T, d *datadriven.TestData) string {
			switch d.Cmd {
			case "snapshot":
				var side string
				d.ScanArgs(t, "side", &side)
				snaps[side] = parseSnapshot(t, d.Input)
				return ""
			case "decide":
				var by string
				d.ScanArgs(t, "by", &by)
				compareBy, err := ParseCompareBy(by)
				require.NoError(t, err)
				decisions, err := Decide(snaps["source"], snaps["target"], compareBy)
				if err != nil {
					return fmt.Sprintf("error: %s\n", err.Error())
				}
				var sb strings.Builder
				for _, decision := range decisions {
					fmt.Fprintf(&sb, "%s %s: %s", decision.Kind, decision.Name, decision.Action)
					if decision.Reason != "" {
						fmt.Fprintf(&sb, " (%s)", decision.Reason)
					}
					sb.WriteString("\n")
				}
				return sb.String()
			default:
				t.Fatalf("unknown command %q", d.Cmd)
				return ""
			}
		})
	})
}

func parseSnapshot(t *testing.T, input string) relation.Snapshot {
	t.Helper()
	snap := relation.Snapshot{}
	for _, line := range strings.Split(input, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		require.GreaterOrEqual(t, len(fields), 2, "line %q", line)
		d := relation.Descriptor{Name: fields[0]}
		switch fields[1] {
		case "table":
			d.Kind = relation.KindTable
		case "view":
			d.Kind = relation.KindView
		default:
			t.Fatalf("unknown kind %q in %q", fields[1], line)
		}
		for _, attr := range fields[2:] {
			key, value, found := strings.Cut(attr, "=")
			require.True(t, found, "attribute %q", attr)
			switch key {
			case "rows":
				n, err := strconv.ParseInt(value, 10, 64)
				require.NoError(t, err)
				d.RowCount = &n
			case "mtime":
				ts, err := time.Parse(time.RFC3339, value)
				require.NoError(t, err)
				d.LastModified = &ts
			case "checksum":
				v := value
				d.Checksum = &v
			case "engine":
				d.Engine = value
			default:
				t.Fatalf("unknown attribute %q", key)
			}
		}
		snap[d.Name] = d
	}
	return snap
}
