// Package diff computes, applies and serializes minimal deltas between two
// snapshots of a replicated reference or tag store.
//
// A diff is a pair (Set, Deleted). Set holds every key whose value is new or
// changed, Deleted every key that disappeared; the two never share a key.
// Diffs are immutable values once built: construct, serialize or apply, then
// discard.
package diff

import (
	"errors"
	"fmt"

	"github.com/nainya/eavstore/pkg/ident"
	"github.com/nainya/eavstore/pkg/replica"
)

var (
	// ErrNilStore is returned when a comparison is handed a nil store
	ErrNilStore = errors.New("diff: nil store")

	// ErrInvariantViolation marks an uninitialized mapping observed from a
	// store. It signals a bug in the store, not bad input.
	ErrInvariantViolation = errors.New("diff: invariant violation")

	// ErrInvalidDiff is returned by the constructors for overlapping keys or
	// values a store could never hold
	ErrInvalidDiff = errors.New("diff: invalid diff")
)

// ReferenceStoreDiff is the delta between two reference stores
type ReferenceStoreDiff struct {
	Set     map[ident.EntityAttribute]ident.ID
	Deleted map[ident.EntityAttribute]struct{}
}

// NewReferenceStoreDiff checks that set and deleted are disjoint and that no
// set value is ident.Nil. Nil maps are treated as empty.
func NewReferenceStoreDiff(set map[ident.EntityAttribute]ident.ID, deleted map[ident.EntityAttribute]struct{}) (ReferenceStoreDiff, error) {
	d := ReferenceStoreDiff{
		Set:     make(map[ident.EntityAttribute]ident.ID, len(set)),
		Deleted: make(map[ident.EntityAttribute]struct{}, len(deleted)),
	}
	for k, v := range set {
		if _, err := replica.NewReferenceMapping(k, v); err != nil {
			return ReferenceStoreDiff{}, fmt.Errorf("%w: %w", ErrInvalidDiff, err)
		}
		d.Set[k] = v
	}
	for k := range deleted {
		if _, ok := d.Set[k]; ok {
			return ReferenceStoreDiff{}, fmt.Errorf("%w: %s is both set and deleted", ErrInvalidDiff, k)
		}
		d.Deleted[k] = struct{}{}
	}
	return d, nil
}

// IsEmpty reports whether the diff changes nothing
func (d ReferenceStoreDiff) IsEmpty() bool {
	return len(d.Set) == 0 && len(d.Deleted) == 0
}

// Len returns the number of entries, set and deleted
func (d ReferenceStoreDiff) Len() int {
	return len(d.Set) + len(d.Deleted)
}

// ReferenceSink is anything a ReferenceStoreDiff can be applied to.
// Setting ident.Nil must delete the mapping.
type ReferenceSink interface {
	Set(key ident.EntityAttribute, v ident.ID)
}

// ApplyTo writes every Set entry and deletes every Deleted key
func (d ReferenceStoreDiff) ApplyTo(s ReferenceSink) {
	for k, v := range d.Set {
		s.Set(k, v)
	}
	for k := range d.Deleted {
		s.Set(k, ident.Nil)
	}
}

// TagStoreDiff is the delta between two tag stores
type TagStoreDiff struct {
	Set     map[ident.ID]string
	Deleted map[ident.ID]struct{}
}

// NewTagStoreDiff checks that set and deleted are disjoint and that every
// set value is a tag a store could hold. Nil maps are treated as empty.
func NewTagStoreDiff(set map[ident.ID]string, deleted map[ident.ID]struct{}) (TagStoreDiff, error) {
	d := TagStoreDiff{
		Set:     make(map[ident.ID]string, len(set)),
		Deleted: make(map[ident.ID]struct{}, len(deleted)),
	}
	for id, tag := range set {
		if _, err := replica.NewTagMapping(id, tag); err != nil {
			return TagStoreDiff{}, fmt.Errorf("%w: %w", ErrInvalidDiff, err)
		}
		d.Set[id] = tag
	}
	for id := range deleted {
		if _, ok := d.Set[id]; ok {
			return TagStoreDiff{}, fmt.Errorf("%w: %s is both set and deleted", ErrInvalidDiff, id)
		}
		d.Deleted[id] = struct{}{}
	}
	return d, nil
}

// IsEmpty reports whether the diff changes nothing
func (d TagStoreDiff) IsEmpty() bool {
	return len(d.Set) == 0 && len(d.Deleted) == 0
}

// Len returns the number of entries, set and deleted
func (d TagStoreDiff) Len() int {
	return len(d.Set) + len(d.Deleted)
}

// TagSink is anything a TagStoreDiff can be applied to. Setting an empty
// tag must delete the mapping.
type TagSink interface {
	Set(id ident.ID, tag string) error
}

// ApplyTo writes every Set entry and deletes every Deleted key, stopping at
// the first rejected tag
func (d TagStoreDiff) ApplyTo(s TagSink) error {
	for id, tag := range d.Set {
		if err := s.Set(id, tag); err != nil {
			return fmt.Errorf("applying tag for %s: %w", id, err)
		}
	}
	for id := range d.Deleted {
		if err := s.Set(id, ""); err != nil {
			return fmt.Errorf("deleting tag for %s: %w", id, err)
		}
	}
	return nil
}

// StoreDiff pairs the reference and tag deltas of a replica.Store
type StoreDiff struct {
	References ReferenceStoreDiff
	Tags       TagStoreDiff
}

// IsEmpty reports whether neither half changes anything
func (d StoreDiff) IsEmpty() bool {
	return d.References.IsEmpty() && d.Tags.IsEmpty()
}

// Len returns the total number of entries in both halves
func (d StoreDiff) Len() int {
	return d.References.Len() + d.Tags.Len()
}

// ApplyTo applies both halves to s
func (d StoreDiff) ApplyTo(s *replica.Store) error {
	if s == nil {
		return ErrNilStore
	}
	d.References.ApplyTo(s.References)
	return d.Tags.ApplyTo(s.Tags)
}
