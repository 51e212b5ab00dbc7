// ABOUTME: In-memory entity-attribute-value database
// ABOUTME: Both a sink and a source of the patch instruction protocol

// Package eav implements the entity-attribute-value database of the
// simulation engine.
//
// Values are keyed by (entity, attribute) except tags, which are keyed by a
// bare identifier. Getters never fail and return the type's default when a
// value was never set. References are indexed in both directions so the
// entities pointing at a target can be listed without a scan.
//
// A Database is not synchronized. Concurrent reads are safe; a write must
// not overlap any read or other write. Hosts typically guard a batch of
// mutations with a sync.RWMutex.
package eav

import (
	"github.com/nainya/eavstore/pkg/ident"
	"github.com/nainya/eavstore/pkg/patch"
	"github.com/nainya/eavstore/pkg/value"
)

// Database is the mutable EAV store
type Database struct {
	flags      map[ident.EntityAttribute]struct{}
	floats     map[ident.EntityAttribute]float32
	references referenceIndex
	strings    map[ident.EntityAttribute]string
	colors     map[ident.EntityAttribute]value.Color
	images     map[ident.EntityAttribute]value.Image
	meshes     map[ident.EntityAttribute]value.Mesh
	tags       map[ident.ID]string
}

var _ patch.Target = (*Database)(nil)

// New creates an empty database
func New() *Database {
	return &Database{
		flags:      make(map[ident.EntityAttribute]struct{}),
		floats:     make(map[ident.EntityAttribute]float32),
		references: newReferenceIndex(),
		strings:    make(map[ident.EntityAttribute]string),
		colors:     make(map[ident.EntityAttribute]value.Color),
		images:     make(map[ident.EntityAttribute]value.Image),
		meshes:     make(map[ident.EntityAttribute]value.Mesh),
		tags:       make(map[ident.ID]string),
	}
}

// Flag returns whether the flag is set
func (db *Database) Flag(entity, attribute ident.ID) bool {
	_, ok := db.flags[ident.Key(entity, attribute)]
	return ok
}

// SetFlag raises the flag; a no-op when already set
func (db *Database) SetFlag(entity, attribute ident.ID) {
	db.flags[ident.Key(entity, attribute)] = struct{}{}
}

// ClearFlag lowers the flag; a no-op when already clear
func (db *Database) ClearFlag(entity, attribute ident.ID) {
	delete(db.flags, ident.Key(entity, attribute))
}

// Float returns the float value, 0 when unset
func (db *Database) Float(entity, attribute ident.ID) float32 {
	return db.floats[ident.Key(entity, attribute)]
}

// SetFloat overwrites the float value
func (db *Database) SetFloat(entity, attribute ident.ID, v float32) {
	db.floats[ident.Key(entity, attribute)] = v
}

// Reference returns the referenced identifier, ident.Nil when unset
func (db *Database) Reference(entity, attribute ident.ID) ident.ID {
	return db.references.get(ident.Key(entity, attribute))
}

// SetReference points (entity, attribute) at v and keeps the inverse index
// in step. Setting the value already present does nothing.
func (db *Database) SetReference(entity, attribute, v ident.ID) {
	db.references.set(ident.Key(entity, attribute), v)
}

// Referrers returns, in ascending order, the entities whose reference under
// attribute currently equals target. Only explicitly set references count,
// including explicit references to ident.Nil.
func (db *Database) Referrers(attribute, target ident.ID) []ident.ID {
	return db.references.referrers(attribute, target)
}

// String returns the string value, "" when unset
func (db *Database) String(entity, attribute ident.ID) string {
	return db.strings[ident.Key(entity, attribute)]
}

// SetString overwrites the string value. Values over 65,535 UTF-8 bytes or
// not valid UTF-8 are rejected and nothing changes.
func (db *Database) SetString(entity, attribute ident.ID, v string) error {
	if err := ident.ValidateString("value", v); err != nil {
		return err
	}
	db.strings[ident.Key(entity, attribute)] = v
	return nil
}

// Color returns the color and whether one was ever set
func (db *Database) Color(entity, attribute ident.ID) (value.Color, bool) {
	c, ok := db.colors[ident.Key(entity, attribute)]
	return c, ok
}

// SetColor overwrites the color
func (db *Database) SetColor(entity, attribute ident.ID, c value.Color) {
	db.colors[ident.Key(entity, attribute)] = c
}

// Image returns the image and whether one was ever set
func (db *Database) Image(entity, attribute ident.ID) (value.Image, bool) {
	im, ok := db.images[ident.Key(entity, attribute)]
	return im, ok
}

// SetImage overwrites the image. The zero Image is rejected and nothing
// changes.
func (db *Database) SetImage(entity, attribute ident.ID, im value.Image) error {
	if err := im.Validate(); err != nil {
		return err
	}
	db.images[ident.Key(entity, attribute)] = im
	return nil
}

// Mesh returns the mesh and whether one was ever set
func (db *Database) Mesh(entity, attribute ident.ID) (value.Mesh, bool) {
	m, ok := db.meshes[ident.Key(entity, attribute)]
	return m, ok
}

// SetMesh overwrites the mesh
func (db *Database) SetMesh(entity, attribute ident.ID, m value.Mesh) {
	db.meshes[ident.Key(entity, attribute)] = m
}

// Tag returns the tag bound to id, or the canonical hex form of id when no
// tag was ever set
func (db *Database) Tag(id ident.ID) string {
	if tag, ok := db.tags[id]; ok {
		return tag
	}
	return id.String()
}

// SetTag binds tag to id. Tags must be 1 to 255 bytes of UTF-8.
func (db *Database) SetTag(id ident.ID, tag string) error {
	if err := ident.ValidateTag("tag", tag); err != nil {
		return err
	}
	db.tags[id] = tag
	return nil
}

// Stats counts stored values per kind
type Stats struct {
	Flags      int
	Floats     int
	References int
	Strings    int
	Colors     int
	Images     int
	Meshes     int
	Tags       int
}

// Total returns the sum of all counts
func (s Stats) Total() int {
	return s.Flags + s.Floats + s.References + s.Strings + s.Colors + s.Images + s.Meshes + s.Tags
}

// Stats returns the current value counts
func (db *Database) Stats() Stats {
	return Stats{
		Flags:      len(db.flags),
		Floats:     len(db.floats),
		References: db.references.len(),
		Strings:    len(db.strings),
		Colors:     len(db.colors),
		Images:     len(db.images),
		Meshes:     len(db.meshes),
		Tags:       len(db.tags),
	}
}

// Patch re-expresses the current state as instructions, grouped by kind.
// Order within a group is unspecified.
//
// Cleared flags are omitted: a flag that was set and later cleared leaves no
// trace, and no ClearFlag instruction is ever produced. Replaying the result
// on an empty database reproduces this one because absence means false.
func (db *Database) Patch() patch.Patch {
	p := make(patch.Patch, 0, db.Stats().Total())

	for k := range db.flags {
		p = append(p, patch.SetFlag{Entity: k.Entity, Attribute: k.Attribute})
	}
	for k, v := range db.floats {
		p = append(p, patch.SetFloat{Entity: k.Entity, Attribute: k.Attribute, Value: v})
	}
	for k, v := range db.references.forward {
		p = append(p, patch.SetReference{Entity: k.Entity, Attribute: k.Attribute, Value: v})
	}
	for k, v := range db.strings {
		p = append(p, patch.SetString{Entity: k.Entity, Attribute: k.Attribute, Value: v})
	}
	for k, v := range db.colors {
		p = append(p, patch.SetColor{Entity: k.Entity, Attribute: k.Attribute, Color: v})
	}
	for k, v := range db.images {
		p = append(p, patch.SetImage{Entity: k.Entity, Attribute: k.Attribute, Image: v})
	}
	for k, v := range db.meshes {
		p = append(p, patch.SetMesh{Entity: k.Entity, Attribute: k.Attribute, Mesh: v})
	}
	for id, tag := range db.tags {
		p = append(p, patch.SetTag{ID: id, Tag: tag})
	}
	return p
}
