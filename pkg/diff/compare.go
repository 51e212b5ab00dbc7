package diff

import (
	"fmt"

	"github.com/nainya/eavstore/pkg/ident"
	"github.com/nainya/eavstore/pkg/replica"
)

// ReferenceSource enumerates the mappings of a reference store
type ReferenceSource interface {
	MappedReferences() []replica.ReferenceMapping
}

// TagSource enumerates the mappings of a tag store
type TagSource interface {
	MappedIdentifiers() []replica.TagMapping
}

// CompareReferences returns the diff that turns a into b. Each store is
// materialized once; the result reflects whatever each enumeration saw, not
// a locked transaction across both.
func CompareReferences(a, b ReferenceSource) (ReferenceStoreDiff, error) {
	if a == nil || b == nil {
		return ReferenceStoreDiff{}, ErrNilStore
	}
	before, err := materializeReferences(a.MappedReferences())
	if err != nil {
		return ReferenceStoreDiff{}, err
	}
	after, err := materializeReferences(b.MappedReferences())
	if err != nil {
		return ReferenceStoreDiff{}, err
	}

	d := ReferenceStoreDiff{
		Set:     make(map[ident.EntityAttribute]ident.ID),
		Deleted: make(map[ident.EntityAttribute]struct{}),
	}
	for k, v := range after {
		if old, ok := before[k]; !ok || old != v {
			d.Set[k] = v
		}
	}
	for k := range before {
		if _, ok := after[k]; !ok {
			d.Deleted[k] = struct{}{}
		}
	}
	return d, nil
}

func materializeReferences(mappings []replica.ReferenceMapping) (map[ident.EntityAttribute]ident.ID, error) {
	out := make(map[ident.EntityAttribute]ident.ID, len(mappings))
	for _, m := range mappings {
		if err := m.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvariantViolation, err)
		}
		out[m.Key] = m.Value
	}
	return out, nil
}

// CompareTags returns the diff that turns a into b
func CompareTags(a, b TagSource) (TagStoreDiff, error) {
	if a == nil || b == nil {
		return TagStoreDiff{}, ErrNilStore
	}
	before, err := materializeTags(a.MappedIdentifiers())
	if err != nil {
		return TagStoreDiff{}, err
	}
	after, err := materializeTags(b.MappedIdentifiers())
	if err != nil {
		return TagStoreDiff{}, err
	}

	d := TagStoreDiff{
		Set:     make(map[ident.ID]string),
		Deleted: make(map[ident.ID]struct{}),
	}
	for id, tag := range after {
		if old, ok := before[id]; !ok || old != tag {
			d.Set[id] = tag
		}
	}
	for id := range before {
		if _, ok := after[id]; !ok {
			d.Deleted[id] = struct{}{}
		}
	}
	return d, nil
}

func materializeTags(mappings []replica.TagMapping) (map[ident.ID]string, error) {
	out := make(map[ident.ID]string, len(mappings))
	for _, m := range mappings {
		if err := m.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvariantViolation, err)
		}
		out[m.ID] = m.Tag
	}
	return out, nil
}

// CompareStores diffs both halves of two stores
func CompareStores(a, b *replica.Store) (StoreDiff, error) {
	if a == nil || b == nil || a.References == nil || b.References == nil || a.Tags == nil || b.Tags == nil {
		return StoreDiff{}, ErrNilStore
	}
	refs, err := CompareReferences(a.References, b.References)
	if err != nil {
		return StoreDiff{}, fmt.Errorf("comparing references: %w", err)
	}
	tags, err := CompareTags(a.Tags, b.Tags)
	if err != nil {
		return StoreDiff{}, fmt.Errorf("comparing tags: %w", err)
	}
	return StoreDiff{References: refs, Tags: tags}, nil
}

// Snapshot is the diff from an empty store to s: every mapping set, nothing
// deleted
func Snapshot(s *replica.Store) (StoreDiff, error) {
	return CompareStores(replica.NewStore(), s)
}
