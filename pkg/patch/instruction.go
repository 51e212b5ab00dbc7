package patch

import (
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"

	"github.com/nainya/eavstore/pkg/ident"
	"github.com/nainya/eavstore/pkg/value"
	"github.com/nainya/eavstore/pkg/wire"
)

// Target receives the mutation an instruction describes. The EAV database
// implements it; ApplyTo calls exactly one method.
type Target interface {
	SetReference(entity, attribute, value ident.ID)
	SetString(entity, attribute ident.ID, value string) error
	SetFloat(entity, attribute ident.ID, value float32)
	SetFlag(entity, attribute ident.ID)
	ClearFlag(entity, attribute ident.ID)
	SetTag(id ident.ID, tag string) error
	SetColor(entity, attribute ident.ID, c value.Color)
	SetImage(entity, attribute ident.ID, im value.Image) error
	SetMesh(entity, attribute ident.ID, m value.Mesh)
}

// Instruction is one mutation. The set of implementations is closed: the
// nine types in this file.
type Instruction interface {
	fmt.Stringer

	// Opcode returns the wire tag
	Opcode() Opcode

	// AppendBinary appends the opcode and payload to buf
	AppendBinary(buf []byte) ([]byte, error)

	// ApplyTo performs the mutation on t
	ApplyTo(t Target) error

	// Equal reports structural equality
	Equal(other Instruction) bool

	// Hash is stable across processes for equal instructions
	Hash() uint64

	instruction()
}

// Serialize returns the wire form of in
func Serialize(in Instruction) ([]byte, error) {
	return in.AppendBinary(nil)
}

func hashOf(in Instruction) uint64 {
	buf, err := in.AppendBinary(nil)
	if err != nil {
		return xxhash.Sum64([]byte{byte(in.Opcode())})
	}
	return xxhash.Sum64(buf)
}

func appendHeader(buf []byte, op Opcode, entity, attribute ident.ID) []byte {
	buf = append(buf, byte(op))
	buf = wire.AppendID(buf, entity)
	return wire.AppendID(buf, attribute)
}

// SetReference points an entity attribute at another identifier
type SetReference struct {
	Entity, Attribute, Value ident.ID
}

func (SetReference) instruction()   {}
func (SetReference) Opcode() Opcode { return OpSetReference }
func (i SetReference) Hash() uint64 { return hashOf(i) }
func (i SetReference) ApplyTo(t Target) error {
	t.SetReference(i.Entity, i.Attribute, i.Value)
	return nil
}

func (i SetReference) AppendBinary(buf []byte) ([]byte, error) {
	buf = appendHeader(buf, OpSetReference, i.Entity, i.Attribute)
	return wire.AppendID(buf, i.Value), nil
}

func (i SetReference) Equal(other Instruction) bool {
	o, ok := other.(SetReference)
	return ok && o == i
}

func (i SetReference) String() string {
	return fmt.Sprintf("SetReference(%s, %s, %s)", i.Entity, i.Attribute, i.Value)
}

// SetString assigns a UTF-8 string of at most 65,535 bytes
type SetString struct {
	Entity, Attribute ident.ID
	Value             string
}

// NewSetString validates value
func NewSetString(entity, attribute ident.ID, value string) (SetString, error) {
	if err := ident.ValidateString("value", value); err != nil {
		return SetString{}, err
	}
	return SetString{Entity: entity, Attribute: attribute, Value: value}, nil
}

func (SetString) instruction()   {}
func (SetString) Opcode() Opcode { return OpSetString }
func (i SetString) Hash() uint64 { return hashOf(i) }
func (i SetString) ApplyTo(t Target) error {
	return t.SetString(i.Entity, i.Attribute, i.Value)
}

func (i SetString) AppendBinary(buf []byte) ([]byte, error) {
	if err := ident.ValidateString("value", i.Value); err != nil {
		return nil, err
	}
	buf = appendHeader(buf, OpSetString, i.Entity, i.Attribute)
	return wire.AppendString16(buf, i.Value), nil
}

func (i SetString) Equal(other Instruction) bool {
	o, ok := other.(SetString)
	return ok && o == i
}

func (i SetString) String() string {
	return fmt.Sprintf("SetString(%s, %s, %d bytes)", i.Entity, i.Attribute, len(i.Value))
}

// SetFloat assigns a 32-bit float
type SetFloat struct {
	Entity, Attribute ident.ID
	Value             float32
}

func (SetFloat) instruction()   {}
func (SetFloat) Opcode() Opcode { return OpSetFloat }
func (i SetFloat) Hash() uint64 { return hashOf(i) }
func (i SetFloat) ApplyTo(t Target) error {
	t.SetFloat(i.Entity, i.Attribute, i.Value)
	return nil
}

func (i SetFloat) AppendBinary(buf []byte) ([]byte, error) {
	buf = appendHeader(buf, OpSetFloat, i.Entity, i.Attribute)
	return wire.AppendFloat32(buf, i.Value), nil
}

// Equal compares the float bitwise so NaN payloads survive a round trip
func (i SetFloat) Equal(other Instruction) bool {
	o, ok := other.(SetFloat)
	return ok && o.Entity == i.Entity && o.Attribute == i.Attribute &&
		math.Float32bits(o.Value) == math.Float32bits(i.Value)
}

func (i SetFloat) String() string {
	return fmt.Sprintf("SetFloat(%s, %s, %g)", i.Entity, i.Attribute, i.Value)
}

// SetFlag raises a boolean flag
type SetFlag struct {
	Entity, Attribute ident.ID
}

func (SetFlag) instruction()   {}
func (SetFlag) Opcode() Opcode { return OpSetFlag }
func (i SetFlag) Hash() uint64 { return hashOf(i) }
func (i SetFlag) ApplyTo(t Target) error {
	t.SetFlag(i.Entity, i.Attribute)
	return nil
}

func (i SetFlag) AppendBinary(buf []byte) ([]byte, error) {
	return appendHeader(buf, OpSetFlag, i.Entity, i.Attribute), nil
}

func (i SetFlag) Equal(other Instruction) bool {
	o, ok := other.(SetFlag)
	return ok && o == i
}

func (i SetFlag) String() string {
	return fmt.Sprintf("SetFlag(%s, %s)", i.Entity, i.Attribute)
}

// ClearFlag lowers a boolean flag
type ClearFlag struct {
	Entity, Attribute ident.ID
}

func (ClearFlag) instruction()   {}
func (ClearFlag) Opcode() Opcode { return OpClearFlag }
func (i ClearFlag) Hash() uint64 { return hashOf(i) }
func (i ClearFlag) ApplyTo(t Target) error {
	t.ClearFlag(i.Entity, i.Attribute)
	return nil
}

func (i ClearFlag) AppendBinary(buf []byte) ([]byte, error) {
	return appendHeader(buf, OpClearFlag, i.Entity, i.Attribute), nil
}

func (i ClearFlag) Equal(other Instruction) bool {
	o, ok := other.(ClearFlag)
	return ok && o == i
}

func (i ClearFlag) String() string {
	return fmt.Sprintf("ClearFlag(%s, %s)", i.Entity, i.Attribute)
}

// SetTag names an identifier with 1 to 255 bytes of UTF-8
type SetTag struct {
	ID  ident.ID
	Tag string
}

// NewSetTag validates tag
func NewSetTag(id ident.ID, tag string) (SetTag, error) {
	if err := ident.ValidateTag("tag", tag); err != nil {
		return SetTag{}, err
	}
	return SetTag{ID: id, Tag: tag}, nil
}

func (SetTag) instruction()   {}
func (SetTag) Opcode() Opcode { return OpSetTag }
func (i SetTag) Hash() uint64 { return hashOf(i) }
func (i SetTag) ApplyTo(t Target) error {
	return t.SetTag(i.ID, i.Tag)
}

func (i SetTag) AppendBinary(buf []byte) ([]byte, error) {
	if err := ident.ValidateTag("tag", i.Tag); err != nil {
		return nil, err
	}
	buf = append(buf, byte(OpSetTag))
	buf = wire.AppendID(buf, i.ID)
	return wire.AppendString8(buf, i.Tag), nil
}

func (i SetTag) Equal(other Instruction) bool {
	o, ok := other.(SetTag)
	return ok && o == i
}

func (i SetTag) String() string {
	return fmt.Sprintf("SetTag(%s, %q)", i.ID, i.Tag)
}

// SetColor assigns an RGB color
type SetColor struct {
	Entity, Attribute ident.ID
	Color             value.Color
}

func (SetColor) instruction()   {}
func (SetColor) Opcode() Opcode { return OpSetColor }
func (i SetColor) Hash() uint64 { return hashOf(i) }
func (i SetColor) ApplyTo(t Target) error {
	t.SetColor(i.Entity, i.Attribute, i.Color)
	return nil
}

func (i SetColor) AppendBinary(buf []byte) ([]byte, error) {
	buf = appendHeader(buf, OpSetColor, i.Entity, i.Attribute)
	return i.Color.AppendBinary(buf)
}

func (i SetColor) Equal(other Instruction) bool {
	o, ok := other.(SetColor)
	return ok && o == i
}

func (i SetColor) String() string {
	return fmt.Sprintf("SetColor(%s, %s, %s)", i.Entity, i.Attribute, i.Color)
}

// SetImage assigns an image
type SetImage struct {
	Entity, Attribute ident.ID
	Image             value.Image
}

func (SetImage) instruction()   {}
func (SetImage) Opcode() Opcode { return OpSetImage }
func (i SetImage) Hash() uint64 { return hashOf(i) }
func (i SetImage) ApplyTo(t Target) error {
	return t.SetImage(i.Entity, i.Attribute, i.Image)
}

func (i SetImage) AppendBinary(buf []byte) ([]byte, error) {
	buf = appendHeader(buf, OpSetImage, i.Entity, i.Attribute)
	return i.Image.AppendBinary(buf)
}

func (i SetImage) Equal(other Instruction) bool {
	o, ok := other.(SetImage)
	return ok && o.Entity == i.Entity && o.Attribute == i.Attribute && o.Image.Equal(i.Image)
}

func (i SetImage) String() string {
	return fmt.Sprintf("SetImage(%s, %s, %s)", i.Entity, i.Attribute, i.Image)
}

// SetMesh assigns a mesh
type SetMesh struct {
	Entity, Attribute ident.ID
	Mesh              value.Mesh
}

func (SetMesh) instruction()   {}
func (SetMesh) Opcode() Opcode { return OpSetMesh }
func (i SetMesh) Hash() uint64 { return hashOf(i) }
func (i SetMesh) ApplyTo(t Target) error {
	t.SetMesh(i.Entity, i.Attribute, i.Mesh)
	return nil
}

func (i SetMesh) AppendBinary(buf []byte) ([]byte, error) {
	buf = appendHeader(buf, OpSetMesh, i.Entity, i.Attribute)
	return i.Mesh.AppendBinary(buf)
}

func (i SetMesh) Equal(other Instruction) bool {
	o, ok := other.(SetMesh)
	return ok && o.Entity == i.Entity && o.Attribute == i.Attribute && o.Mesh.Equal(i.Mesh)
}

func (i SetMesh) String() string {
	return fmt.Sprintf("SetMesh(%s, %s, %s)", i.Entity, i.Attribute, i.Mesh)
}
