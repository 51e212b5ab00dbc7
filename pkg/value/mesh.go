package value

import (
	"fmt"
	"maps"
	"math"
	"slices"

	"github.com/nainya/eavstore/pkg/ident"
	"github.com/nainya/eavstore/pkg/wire"
)

const (
	// MaxBones bounds the skeleton size
	MaxBones = 255

	// MaxVertices bounds the vertex count
	MaxVertices = math.MaxUint16

	// MaxKeyedMaps bounds the number of weight maps and of color maps
	MaxKeyedMaps = 255
)

// Vector3 is a three component float vector
type Vector3 struct {
	X, Y, Z float32
}

// Pose holds per-vertex geometry for one skeleton pose
type Pose struct {
	Positions  []Vector3
	Normals    []Vector3
	Tangents   []Vector3
	Bitangents []Vector3
}

// MeshData is the mutable description passed to NewMesh
type MeshData struct {
	Skeleton    []ident.ID // bone identifiers, unique
	BoneIndices []uint8    // one per vertex, indexes Skeleton
	Bind        Pose
	Skinned     Pose
	Scalars     []float32 // one per vertex
	Weights     map[ident.ID][]float32
	Colors      map[ident.ID][]ColorWithOpacity
	Indices     []uint16 // triangle list
}

// Mesh is a validated, immutable skinned triangle mesh
type Mesh struct {
	data MeshData
}

// NewMesh validates d and takes a deep copy of it
func NewMesh(d MeshData) (Mesh, error) {
	if err := d.validate(); err != nil {
		return Mesh{}, err
	}
	return Mesh{data: d.clone()}, nil
}

// VertexCount returns the number of vertices
func (m Mesh) VertexCount() int {
	return len(m.data.BoneIndices)
}

// TriangleCount returns the number of triangles
func (m Mesh) TriangleCount() int {
	return len(m.data.Indices) / 3
}

// Data returns a deep copy of the mesh description
func (m Mesh) Data() MeshData {
	return m.data.clone()
}

func (m Mesh) String() string {
	return fmt.Sprintf("Mesh(bones=%d vertices=%d triangles=%d)",
		len(m.data.Skeleton), m.VertexCount(), m.TriangleCount())
}

func (d MeshData) validate() error {
	if len(d.Skeleton) > MaxBones {
		return ident.Invalid("skeleton", fmt.Sprintf("%d bones exceed %d", len(d.Skeleton), MaxBones))
	}
	seen := make(map[ident.ID]struct{}, len(d.Skeleton))
	for _, bone := range d.Skeleton {
		if _, dup := seen[bone]; dup {
			return ident.Invalid("skeleton", "duplicate bone "+bone.String())
		}
		seen[bone] = struct{}{}
	}

	n := len(d.BoneIndices)
	if n > MaxVertices {
		return ident.Invalid("boneIndices", fmt.Sprintf("%d vertices exceed %d", n, MaxVertices))
	}
	for i, b := range d.BoneIndices {
		if int(b) >= len(d.Skeleton) {
			return ident.Invalid("boneIndices", fmt.Sprintf("vertex %d references bone %d of %d", i, b, len(d.Skeleton)))
		}
	}

	if err := d.Bind.validate("bind", n); err != nil {
		return err
	}
	if err := d.Skinned.validate("skinned", n); err != nil {
		return err
	}
	if len(d.Scalars) != n {
		return ident.Invalid("scalars", fmt.Sprintf("has %d entries for %d vertices", len(d.Scalars), n))
	}

	if len(d.Weights) > MaxKeyedMaps {
		return ident.Invalid("weights", fmt.Sprintf("%d maps exceed %d", len(d.Weights), MaxKeyedMaps))
	}
	for k, w := range d.Weights {
		if len(w) != n {
			return ident.Invalid("weights", fmt.Sprintf("map %s has %d entries for %d vertices", k, len(w), n))
		}
	}
	if len(d.Colors) > MaxKeyedMaps {
		return ident.Invalid("colors", fmt.Sprintf("%d maps exceed %d", len(d.Colors), MaxKeyedMaps))
	}
	for k, cs := range d.Colors {
		if len(cs) != n {
			return ident.Invalid("colors", fmt.Sprintf("map %s has %d entries for %d vertices", k, len(cs), n))
		}
		for _, c := range cs {
			if err := c.Validate(); err != nil {
				return err
			}
		}
	}

	if len(d.Indices)%3 != 0 {
		return ident.Invalid("indices", fmt.Sprintf("length %d is not a multiple of 3", len(d.Indices)))
	}
	for i, idx := range d.Indices {
		if int(idx) >= n {
			return ident.Invalid("indices", fmt.Sprintf("index %d references vertex %d of %d", i, idx, n))
		}
	}
	return nil
}

func (p Pose) validate(name string, n int) error {
	for _, arr := range []struct {
		field string
		v     []Vector3
	}{
		{"positions", p.Positions},
		{"normals", p.Normals},
		{"tangents", p.Tangents},
		{"bitangents", p.Bitangents},
	} {
		if len(arr.v) != n {
			return ident.Invalid(name+"."+arr.field, fmt.Sprintf("has %d entries for %d vertices", len(arr.v), n))
		}
	}
	return nil
}

func (p Pose) clone() Pose {
	return Pose{
		Positions:  slices.Clone(p.Positions),
		Normals:    slices.Clone(p.Normals),
		Tangents:   slices.Clone(p.Tangents),
		Bitangents: slices.Clone(p.Bitangents),
	}
}

func (d MeshData) clone() MeshData {
	out := MeshData{
		Skeleton:    slices.Clone(d.Skeleton),
		BoneIndices: slices.Clone(d.BoneIndices),
		Bind:        d.Bind.clone(),
		Skinned:     d.Skinned.clone(),
		Scalars:     slices.Clone(d.Scalars),
		Indices:     slices.Clone(d.Indices),
	}
	if d.Weights != nil {
		out.Weights = make(map[ident.ID][]float32, len(d.Weights))
		for k, w := range d.Weights {
			out.Weights[k] = slices.Clone(w)
		}
	}
	if d.Colors != nil {
		out.Colors = make(map[ident.ID][]ColorWithOpacity, len(d.Colors))
		for k, cs := range d.Colors {
			out.Colors[k] = slices.Clone(cs)
		}
	}
	return out
}

// Equal compares two meshes through their canonical encoding, so float
// fields compare bitwise and nil versus empty collections are equal.
func (m Mesh) Equal(other Mesh) bool {
	a, _ := m.AppendBinary(nil)
	b, _ := other.AppendBinary(nil)
	return slices.Equal(a, b)
}

func sortedKeys[V any](m map[ident.ID]V) []ident.ID {
	keys := slices.Collect(maps.Keys(m))
	slices.SortFunc(keys, ident.ID.Compare)
	return keys
}

func appendVectors(buf []byte, vs []Vector3) []byte {
	for _, v := range vs {
		buf = wire.AppendFloat32(buf, v.X)
		buf = wire.AppendFloat32(buf, v.Y)
		buf = wire.AppendFloat32(buf, v.Z)
	}
	return buf
}

func appendPose(buf []byte, p Pose) []byte {
	buf = appendVectors(buf, p.Positions)
	buf = appendVectors(buf, p.Normals)
	buf = appendVectors(buf, p.Tangents)
	return appendVectors(buf, p.Bitangents)
}

// AppendBinary appends the canonical mesh encoding. Keyed maps are written
// in ascending key order so equal meshes encode identically.
func (m Mesh) AppendBinary(buf []byte) ([]byte, error) {
	d := m.data

	// Skeleton
	buf = wire.AppendUint8(buf, uint8(len(d.Skeleton)))
	for _, bone := range d.Skeleton {
		buf = wire.AppendID(buf, bone)
	}

	// Per-vertex arrays
	buf = wire.AppendUint16(buf, uint16(len(d.BoneIndices)))
	buf = append(buf, d.BoneIndices...)
	buf = appendPose(buf, d.Bind)
	buf = appendPose(buf, d.Skinned)
	for _, s := range d.Scalars {
		buf = wire.AppendFloat32(buf, s)
	}

	// Keyed maps
	buf = wire.AppendUint8(buf, uint8(len(d.Weights)))
	for _, k := range sortedKeys(d.Weights) {
		buf = wire.AppendID(buf, k)
		for _, w := range d.Weights[k] {
			buf = wire.AppendFloat32(buf, w)
		}
	}
	buf = wire.AppendUint8(buf, uint8(len(d.Colors)))
	for _, k := range sortedKeys(d.Colors) {
		buf = wire.AppendID(buf, k)
		for _, c := range d.Colors[k] {
			buf, _ = c.AppendBinary(buf)
		}
	}

	// Triangles
	buf = wire.AppendUint32(buf, uint32(len(d.Indices)))
	for _, idx := range d.Indices {
		buf = wire.AppendUint16(buf, idx)
	}
	return buf, nil
}

func readVectors(r *wire.Reader, field string, n int) ([]Vector3, error) {
	if n == 0 {
		return nil, nil
	}
	vs := make([]Vector3, n)
	for i := range vs {
		x, err := r.ReadFloat32(field)
		if err != nil {
			return nil, err
		}
		y, err := r.ReadFloat32(field)
		if err != nil {
			return nil, err
		}
		z, err := r.ReadFloat32(field)
		if err != nil {
			return nil, err
		}
		vs[i] = Vector3{X: x, Y: y, Z: z}
	}
	return vs, nil
}

func readPose(r *wire.Reader, field string, n int) (Pose, error) {
	var p Pose
	var err error
	if p.Positions, err = readVectors(r, field+".positions", n); err != nil {
		return Pose{}, err
	}
	if p.Normals, err = readVectors(r, field+".normals", n); err != nil {
		return Pose{}, err
	}
	if p.Tangents, err = readVectors(r, field+".tangents", n); err != nil {
		return Pose{}, err
	}
	if p.Bitangents, err = readVectors(r, field+".bitangents", n); err != nil {
		return Pose{}, err
	}
	return p, nil
}

func readFloats(r *wire.Reader, field string, n int) ([]float32, error) {
	if n == 0 {
		return nil, nil
	}
	fs := make([]float32, n)
	for i := range fs {
		f, err := r.ReadFloat32(field)
		if err != nil {
			return nil, err
		}
		fs[i] = f
	}
	return fs, nil
}

// ReadMesh decodes a mesh and validates it exactly as NewMesh would
func ReadMesh(r *wire.Reader, field string) (Mesh, error) {
	start := r.Offset()
	var d MeshData

	bones, err := r.ReadUint8(field + ".skeleton count")
	if err != nil {
		return Mesh{}, err
	}
	for i := 0; i < int(bones); i++ {
		bone, err := r.ReadID(field + ".skeleton")
		if err != nil {
			return Mesh{}, err
		}
		d.Skeleton = append(d.Skeleton, bone)
	}

	count, err := r.ReadUint16(field + ".vertex count")
	if err != nil {
		return Mesh{}, err
	}
	n := int(count)
	if n > 0 {
		if d.BoneIndices, err = r.ReadBytes(field+".boneIndices", n); err != nil {
			return Mesh{}, err
		}
	}
	if d.Bind, err = readPose(r, field+".bind", n); err != nil {
		return Mesh{}, err
	}
	if d.Skinned, err = readPose(r, field+".skinned", n); err != nil {
		return Mesh{}, err
	}
	if d.Scalars, err = readFloats(r, field+".scalars", n); err != nil {
		return Mesh{}, err
	}

	weightMaps, err := r.ReadUint8(field + ".weights count")
	if err != nil {
		return Mesh{}, err
	}
	if weightMaps > 0 {
		d.Weights = make(map[ident.ID][]float32, weightMaps)
	}
	for i := 0; i < int(weightMaps); i++ {
		key, err := r.ReadID(field + ".weights key")
		if err != nil {
			return Mesh{}, err
		}
		if _, dup := d.Weights[key]; dup {
			return Mesh{}, r.Malformed(field+".weights", start, "duplicate key %s", key)
		}
		// Keep an empty slice for zero vertices so the map entry survives
		ws, err := readFloats(r, field+".weights", n)
		if err != nil {
			return Mesh{}, err
		}
		if ws == nil {
			ws = []float32{}
		}
		d.Weights[key] = ws
	}

	colorMaps, err := r.ReadUint8(field + ".colors count")
	if err != nil {
		return Mesh{}, err
	}
	if colorMaps > 0 {
		d.Colors = make(map[ident.ID][]ColorWithOpacity, colorMaps)
	}
	for i := 0; i < int(colorMaps); i++ {
		key, err := r.ReadID(field + ".colors key")
		if err != nil {
			return Mesh{}, err
		}
		if _, dup := d.Colors[key]; dup {
			return Mesh{}, r.Malformed(field+".colors", start, "duplicate key %s", key)
		}
		cs := make([]ColorWithOpacity, n)
		for j := range cs {
			if cs[j], err = ReadColorWithOpacity(r, field+".colors"); err != nil {
				return Mesh{}, err
			}
		}
		d.Colors[key] = cs
	}

	indexCount, err := r.ReadUint32(field + ".indices count")
	if err != nil {
		return Mesh{}, err
	}
	// Every index must name an existing vertex, which bounds the count
	if indexCount%3 != 0 || (n == 0 && indexCount > 0) {
		return Mesh{}, r.Malformed(field+".indices", start, "invalid index count %d for %d vertices", indexCount, n)
	}
	for i := uint32(0); i < indexCount; i++ {
		idx, err := r.ReadUint16(field + ".indices")
		if err != nil {
			return Mesh{}, err
		}
		d.Indices = append(d.Indices, idx)
	}

	if err := d.validate(); err != nil {
		return Mesh{}, r.Malformed(field, start, "%v", err)
	}
	return Mesh{data: d}, nil
}
