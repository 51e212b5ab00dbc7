// Package replica provides the concurrent reference and tag stores used for
// live replication.
//
// Both stores are safe for any number of concurrent readers and writers but
// offer only weak consistency: a read may be stale, racing writers on one
// key resolve to the last physical write, and enumeration reflects some mix
// of the states the store passed through while it ran. None of these are
// reported as errors.
package replica

import (
	"errors"
	"fmt"

	"github.com/nainya/eavstore/pkg/ident"
)

// ErrUninitializedMapping marks a mapping holding a zero reference or a
// blank tag. Stores never produce one; observing one is a bug.
var ErrUninitializedMapping = errors.New("replica: uninitialized mapping")

// ReferenceMapping is one (entity, attribute) -> reference pair
type ReferenceMapping struct {
	Key   ident.EntityAttribute
	Value ident.ID
}

// NewReferenceMapping rejects a Nil value
func NewReferenceMapping(key ident.EntityAttribute, v ident.ID) (ReferenceMapping, error) {
	m := ReferenceMapping{Key: key, Value: v}
	if err := m.Validate(); err != nil {
		return ReferenceMapping{}, err
	}
	return m, nil
}

// Validate fails for an uninitialized mapping
func (m ReferenceMapping) Validate() error {
	if m.Value.IsNil() {
		return fmt.Errorf("%w: reference %s has a nil value", ErrUninitializedMapping, m.Key)
	}
	return nil
}

// TagMapping is one identifier -> tag pair
type TagMapping struct {
	ID  ident.ID
	Tag string
}

// NewTagMapping rejects a blank or oversized tag
func NewTagMapping(id ident.ID, tag string) (TagMapping, error) {
	m := TagMapping{ID: id, Tag: tag}
	if err := m.Validate(); err != nil {
		return TagMapping{}, err
	}
	return m, nil
}

// Validate fails for an uninitialized mapping and for a tag that could not
// be encoded
func (m TagMapping) Validate() error {
	if ident.IsBlank(m.Tag) {
		return fmt.Errorf("%w: tag for %s is blank", ErrUninitializedMapping, m.ID)
	}
	return ident.ValidateTag("tag", m.Tag)
}
