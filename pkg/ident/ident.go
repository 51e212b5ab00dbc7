// ABOUTME: 128-bit identifiers for entities, attributes and tags
// ABOUTME: Canonical byte order is RFC 4122 (field-wise big endian)

// Package ident defines the identifier and key types shared by the store,
// the patch codec and the replication stores.
package ident

import (
	"bytes"
	"fmt"

	"github.com/google/uuid"
)

// Size is the encoded size of an ID in bytes
const Size = 16

// ID is an opaque 128-bit identifier. The zero value is reserved and means
// "unset" wherever an ID is used as a reference value.
type ID uuid.UUID

// Nil is the reserved all-zero identifier
var Nil ID

// New returns a random identifier
func New() ID {
	return ID(uuid.New())
}

// Parse parses the canonical hex form of an identifier
func Parse(s string) (ID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("ident: parse %q: %w", s, err)
	}
	return ID(u), nil
}

// MustParse is like Parse but panics on error.
// Use only in tests or for constants.
func MustParse(s string) ID {
	id, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}

// FromBytes builds an ID from its 16 canonical bytes
func FromBytes(b []byte) (ID, error) {
	u, err := uuid.FromBytes(b)
	if err != nil {
		return Nil, fmt.Errorf("ident: %w", err)
	}
	return ID(u), nil
}

// String returns the canonical lower-case hex rendering
func (id ID) String() string {
	return uuid.UUID(id).String()
}

// IsNil reports whether id is the reserved zero identifier
func (id ID) IsNil() bool {
	return id == Nil
}

// Bytes returns the canonical byte form
func (id ID) Bytes() []byte {
	b := make([]byte, Size)
	copy(b, id[:])
	return b
}

// Compare orders identifiers by their canonical bytes. This matches a
// field-wise comparison of the 32/16/16-bit groups followed by the tail.
func (id ID) Compare(other ID) int {
	return bytes.Compare(id[:], other[:])
}

// MarshalText implements encoding.TextMarshaler
func (id ID) MarshalText() ([]byte, error) {
	return uuid.UUID(id).MarshalText()
}

// UnmarshalText implements encoding.TextUnmarshaler
func (id *ID) UnmarshalText(data []byte) error {
	var u uuid.UUID
	if err := u.UnmarshalText(data); err != nil {
		return err
	}
	*id = ID(u)
	return nil
}

// EntityAttribute identifies one field of one entity
type EntityAttribute struct {
	Entity    ID
	Attribute ID
}

// Key builds an EntityAttribute
func Key(entity, attribute ID) EntityAttribute {
	return EntityAttribute{Entity: entity, Attribute: attribute}
}

// Compare orders keys by entity, then attribute
func (k EntityAttribute) Compare(other EntityAttribute) int {
	if c := k.Entity.Compare(other.Entity); c != 0 {
		return c
	}
	return k.Attribute.Compare(other.Attribute)
}

func (k EntityAttribute) String() string {
	return k.Entity.String() + "/" + k.Attribute.String()
}
