package eav

import (
	"slices"

	"github.com/nainya/eavstore/pkg/ident"
)

// referenceIndex keeps the forward map (entity, attribute) -> value and the
// inverse map (value, attribute) -> entities in lockstep. set is the only
// mutator, so neither side can drift from the other.
type referenceIndex struct {
	forward map[ident.EntityAttribute]ident.ID
	inverse map[ident.EntityAttribute]map[ident.ID]struct{}
}

func newReferenceIndex() referenceIndex {
	return referenceIndex{
		forward: make(map[ident.EntityAttribute]ident.ID),
		inverse: make(map[ident.EntityAttribute]map[ident.ID]struct{}),
	}
}

// get returns the current value, Nil when never set
func (ri *referenceIndex) get(key ident.EntityAttribute) ident.ID {
	return ri.forward[key]
}

// set installs key -> v. It reports false when the key already held v.
func (ri *referenceIndex) set(key ident.EntityAttribute, v ident.ID) bool {
	old, present := ri.forward[key]
	if present {
		if old == v {
			return false
		}
		// Retire the old inverse entry first
		oldKey := ident.Key(old, key.Attribute)
		if set := ri.inverse[oldKey]; set != nil {
			delete(set, key.Entity)
			if len(set) == 0 {
				delete(ri.inverse, oldKey)
			}
		}
	}

	ri.forward[key] = v

	newKey := ident.Key(v, key.Attribute)
	set := ri.inverse[newKey]
	if set == nil {
		set = make(map[ident.ID]struct{})
		ri.inverse[newKey] = set
	}
	set[key.Entity] = struct{}{}
	return true
}

// referrers returns the entities whose attribute currently points at target,
// sorted ascending
func (ri *referenceIndex) referrers(attribute, target ident.ID) []ident.ID {
	set := ri.inverse[ident.Key(target, attribute)]
	if len(set) == 0 {
		return nil
	}
	out := make([]ident.ID, 0, len(set))
	for e := range set {
		out = append(out, e)
	}
	slices.SortFunc(out, ident.ID.Compare)
	return out
}

func (ri *referenceIndex) len() int {
	return len(ri.forward)
}
