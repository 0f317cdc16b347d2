// Package relation holds the data model for relations (tables and views)
// captured from a database catalog.
package relation

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

type Kind int

const (
	KindTable Kind = iota
	KindView
)

func (k Kind) String() string {
	switch k {
	case KindTable:
		return "table"
	case KindView:
		return "view"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Descriptor is a point-in-time record of one relation. RowCount,
// LastModified and Checksum are nil when the catalog does not provide
// them (views, engines that do not track modification times, snapshots
// taken without checksums).
type Descriptor struct {
	Name         string
	Kind         Kind
	Engine       string
	RowCount     *int64
	LastModified *time.Time
	Checksum     *string
}

func (d Descriptor) String() string {
	return fmt.Sprintf("%s %s", d.Name, d.Kind)
}

func (d Descriptor) Compare(o Descriptor) int {
	return strings.Compare(strings.ToLower(d.Name), strings.ToLower(o.Name))
}

func (d Descriptor) Less(o Descriptor) bool {
	return d.Compare(o) < 0
}

// Snapshot maps relation name to its descriptor, captured relative to one
// catalog query. Snapshots are never mutated after capture; a stale
// snapshot is superseded by taking a fresh one.
type Snapshot map[string]Descriptor

// Names returns all relation names in lexicographic order.
func (s Snapshot) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TablesThenViews returns descriptors with every table before any view,
// lexicographic within each kind. Views depend on tables, so this is the
// order anything applying schema changes must use.
func (s Snapshot) TablesThenViews() []Descriptor {
	tables := make([]Descriptor, 0, len(s))
	views := make([]Descriptor, 0)
	for _, d := range s {
		if d.Kind == KindView {
			views = append(views, d)
		} else {
			tables = append(tables, d)
		}
	}
	sort.Slice(tables, func(i, j int) bool { return tables[i].Less(tables[j]) })
	sort.Slice(views, func(i, j int) bool { return views[i].Less(views[j]) })
	return append(tables, views...)
}

// Without returns a copy of the snapshot with the named relations removed.
func (s Snapshot) Without(names map[string]struct{}) Snapshot {
	if len(names) == 0 {
		return s
	}
	ret := make(Snapshot, len(s))
	for name, d := range s {
		if _, ok := names[name]; !ok {
			ret[name] = d
		}
	}
	return ret
}
