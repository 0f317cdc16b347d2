// Package plan classifies every relation of a source snapshot against a
// target snapshot into create/replace/unchanged/remove decisions. It is
// pure: all mutation is the orchestrator's business.
package plan

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/dbmirror/dbmirror/relation"
)

// ErrAmbiguousStrategy is returned when no comparison strategy was
// selected. There is no default: the wrong strategy either silently
// skips a needed repopulation or forces huge unnecessary copies.
var ErrAmbiguousStrategy = errors.New("no comparison strategy selected")

// CompareBy is the closed set of comparison strategies.
type CompareBy int

const (
	CompareUnset CompareBy = iota
	CompareByModificationDate
	CompareByRowCount
	CompareByChecksum
	CompareForce
)

func (c CompareBy) String() string {
	switch c {
	case CompareUnset:
		return "unset"
	case CompareByModificationDate:
		return "date"
	case CompareByRowCount:
		return "count"
	case CompareByChecksum:
		return "checksum"
	case CompareForce:
		return "force"
	}
	return fmt.Sprintf("compareby(%d)", int(c))
}

func ParseCompareBy(s string) (CompareBy, error) {
	switch s {
	case "date":
		return CompareByModificationDate, nil
	case "count":
		return CompareByRowCount, nil
	case "checksum":
		return CompareByChecksum, nil
	case "force":
		return CompareForce, nil
	case "":
		return CompareUnset, ErrAmbiguousStrategy
	}
	return CompareUnset, errors.Newf("unknown comparison strategy %q (want date, count, checksum or force)", s)
}

type Action int

const (
	ActionCreate Action = iota
	ActionReplace
	ActionUnchanged
	ActionRemove
)

func (a Action) String() string {
	switch a {
	case ActionCreate:
		return "create"
	case ActionReplace:
		return "replace"
	case ActionUnchanged:
		return "unchanged"
	case ActionRemove:
		return "remove"
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// Decision is the planned action for one relation. Source and Target are
// the descriptors the decision was made from; either may be nil (Create
// has no Target, Remove has no Source). Reason is set when the decision
// was forced by missing metadata and deserves a warning.
type Decision struct {
	Name   string
	Kind   relation.Kind
	Action Action
	Source *relation.Descriptor
	Target *relation.Descriptor
	Reason string
}

// Decide compares the two snapshots under the given strategy. Tables are
// decided before views, lexicographic within each kind; Remove decisions
// for target-only relations follow, in the same order. Decide has no
// side effects and issues no queries.
func Decide(
	source, target relation.Snapshot, by CompareBy,
) ([]Decision, error) {
	if by == CompareUnset {
		return nil, ErrAmbiguousStrategy
	}

	var decisions []Decision
	for _, src := range source.TablesThenViews() {
		src := src
		tgt, ok := target[src.Name]
		if !ok {
			decisions = append(decisions, Decision{
				Name:   src.Name,
				Kind:   src.Kind,
				Action: ActionCreate,
				Source: &src,
			})
			continue
		}
		d := Decision{
			Name:   src.Name,
			Kind:   src.Kind,
			Source: &src,
			Target: &tgt,
		}
		d.Action, d.Reason = compare(src, tgt, by)
		decisions = append(decisions, d)
	}
	for _, tgt := range target.TablesThenViews() {
		tgt := tgt
		if _, ok := source[tgt.Name]; ok {
			continue
		}
		decisions = append(decisions, Decision{
			Name:   tgt.Name,
			Kind:   tgt.Kind,
			Action: ActionRemove,
			Target: &tgt,
		})
	}
	return decisions, nil
}

func compare(src, tgt relation.Descriptor, by CompareBy) (Action, string) {
	if src.Kind != tgt.Kind {
		return ActionReplace, fmt.Sprintf("kind changed from %s to %s", tgt.Kind, src.Kind)
	}
	switch by {
	case CompareForce:
		return ActionReplace, ""
	case CompareByModificationDate:
		if src.LastModified == nil || tgt.LastModified == nil {
			return ActionReplace, "modification time unavailable, assuming stale"
		}
		if src.LastModified.After(*tgt.LastModified) {
			return ActionReplace, ""
		}
		return ActionUnchanged, ""
	case CompareByRowCount:
		if equalInt64Ptr(src.RowCount, tgt.RowCount) {
			return ActionUnchanged, ""
		}
		return ActionReplace, ""
	case CompareByChecksum:
		if equalStringPtr(src.Checksum, tgt.Checksum) {
			return ActionUnchanged, ""
		}
		return ActionReplace, ""
	}
	// CompareUnset is rejected before any decision is made.
	return ActionUnchanged, ""
}

func equalInt64Ptr(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func equalStringPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
