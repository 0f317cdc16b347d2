package relation

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDescriptorCompare(t *testing.T) {
	for _, tc := range []struct {
		a, b     string
		expected int
	}{
		{a: "b", b: "b", expected: 0},
		{a: "B", b: "b", expected: 0},
		{a: "a", b: "b", expected: -1},
		{a: "d", b: "c", expected: 1},
	} {
		t.Run(fmt.Sprintf("%s_%s", tc.a, tc.b), func(t *testing.T) {
			require.Equal(t, tc.expected, Descriptor{Name: tc.a}.Compare(Descriptor{Name: tc.b}))
			require.Equal(t, -tc.expected, Descriptor{Name: tc.b}.Compare(Descriptor{Name: tc.a}))
		})
	}
}

func TestTablesThenViews(t *testing.T) {
	s := Snapshot{
		"v_b": {Name: "v_b", Kind: KindView},
		"b":   {Name: "b", Kind: KindTable},
		"a_v": {Name: "a_v", Kind: KindView},
		"z":   {Name: "z", Kind: KindTable},
		"a":   {Name: "a", Kind: KindTable},
	}
	var got []string
	for _, d := range s.TablesThenViews() {
		got = append(got, d.Name)
	}
	require.Equal(t, []string{"a", "b", "z", "a_v", "v_b"}, got)
}

func TestWithout(t *testing.T) {
	s := Snapshot{
		"a": {Name: "a", Kind: KindTable},
		"b": {Name: "b", Kind: KindTable},
	}
	filtered := s.Without(map[string]struct{}{"a": {}})
	require.Equal(t, []string{"b"}, filtered.Names())
	// Original is untouched.
	require.Equal(t, []string{"a", "b"}, s.Names())
}
