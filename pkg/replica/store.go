package replica

import (
	"github.com/nainya/eavstore/pkg/ident"
)

// ReferenceStore maps (entity, attribute) to a referenced identifier
type ReferenceStore struct {
	m *shardedMap[ident.EntityAttribute, ident.ID]
}

// NewReferenceStore creates an empty store
func NewReferenceStore() *ReferenceStore {
	return &ReferenceStore{m: newShardedMap[ident.EntityAttribute, ident.ID](hashKey)}
}

// Get returns the reference, ident.Nil when unmapped
func (s *ReferenceStore) Get(key ident.EntityAttribute) ident.ID {
	v, _ := s.m.load(key)
	return v
}

// Set maps key to v; setting ident.Nil deletes the mapping
func (s *ReferenceStore) Set(key ident.EntityAttribute, v ident.ID) {
	if v.IsNil() {
		s.m.delete(key)
		return
	}
	s.m.store(key, v)
}

// Len returns the approximate number of mappings
func (s *ReferenceStore) Len() int {
	return s.m.len()
}

// MappedReferences enumerates the store. It never fails, but the result may
// not correspond to any single instant.
func (s *ReferenceStore) MappedReferences() []ReferenceMapping {
	out := make([]ReferenceMapping, 0, s.m.len())
	s.m.snapshot(func(k ident.EntityAttribute, v ident.ID) {
		out = append(out, ReferenceMapping{Key: k, Value: v})
	})
	return out
}

// TagStore maps an identifier to a tag
type TagStore struct {
	m *shardedMap[ident.ID, string]
}

// NewTagStore creates an empty store
func NewTagStore() *TagStore {
	return &TagStore{m: newShardedMap[ident.ID, string](hashID)}
}

// Get returns the tag, "" when unmapped
func (s *TagStore) Get(id ident.ID) string {
	v, _ := s.m.load(id)
	return v
}

// Set maps id to tag. An empty or whitespace-only tag deletes the mapping;
// a tag that is too long or not UTF-8 is rejected.
func (s *TagStore) Set(id ident.ID, tag string) error {
	if ident.IsBlank(tag) {
		s.m.delete(id)
		return nil
	}
	if err := ident.ValidateTag("tag", tag); err != nil {
		return err
	}
	s.m.store(id, tag)
	return nil
}

// Len returns the approximate number of mappings
func (s *TagStore) Len() int {
	return s.m.len()
}

// MappedIdentifiers enumerates the store with the same guarantees as
// ReferenceStore.MappedReferences
func (s *TagStore) MappedIdentifiers() []TagMapping {
	out := make([]TagMapping, 0, s.m.len())
	s.m.snapshot(func(id ident.ID, tag string) {
		out = append(out, TagMapping{ID: id, Tag: tag})
	})
	return out
}

// Store bundles the two replicated stores
type Store struct {
	References *ReferenceStore
	Tags       *TagStore
}

// NewStore creates an empty pair of stores
func NewStore() *Store {
	return &Store{
		References: NewReferenceStore(),
		Tags:       NewTagStore(),
	}
}
