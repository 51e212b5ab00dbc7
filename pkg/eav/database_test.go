package eav

import (
	"bytes"
	"math/rand"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nainya/eavstore/pkg/ident"
	"github.com/nainya/eavstore/pkg/patch"
	"github.com/nainya/eavstore/pkg/value"
)

func TestDefaults(t *testing.T) {
	db := New()
	e, a := ident.New(), ident.New()

	assert.False(t, db.Flag(e, a))
	assert.Zero(t, db.Float(e, a))
	assert.Equal(t, ident.Nil, db.Reference(e, a))
	assert.Empty(t, db.String(e, a))
	assert.Empty(t, db.Referrers(a, ident.Nil), "default absence is not a referrer")

	_, ok := db.Color(e, a)
	assert.False(t, ok)
	_, ok = db.Image(e, a)
	assert.False(t, ok)
	_, ok = db.Mesh(e, a)
	assert.False(t, ok)
}

func TestTagFallsBackToHex(t *testing.T) {
	db := New()
	id := ident.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

	assert.Equal(t, "6ba7b810-9dad-11d1-80b4-00c04fd430c8", db.Tag(id))

	require.NoError(t, db.SetTag(id, "player"))
	assert.Equal(t, "player", db.Tag(id))
}

func TestFlagIdempotence(t *testing.T) {
	db := New()
	e, a := ident.New(), ident.New()

	db.ClearFlag(e, a)
	assert.False(t, db.Flag(e, a))

	db.SetFlag(e, a)
	db.SetFlag(e, a)
	assert.True(t, db.Flag(e, a))
	assert.Equal(t, 1, db.Stats().Flags)

	db.ClearFlag(e, a)
	db.ClearFlag(e, a)
	assert.False(t, db.Flag(e, a))
	assert.Zero(t, db.Stats().Flags)
}

func TestSetStringBoundary(t *testing.T) {
	db := New()
	e, a := ident.New(), ident.New()

	require.NoError(t, db.SetString(e, a, strings.Repeat("x", 65535)))
	assert.Len(t, db.String(e, a), 65535)

	err := db.SetString(e, a, strings.Repeat("y", 65536))
	var verr *ident.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "value", verr.Param)
	assert.Equal(t, ident.MaxStringBytes, verr.Limit)

	// The rejected write left the prior value alone
	assert.Equal(t, strings.Repeat("x", 65535), db.String(e, a))
}

func TestSetTagBoundary(t *testing.T) {
	db := New()
	id := ident.New()

	assert.ErrorIs(t, db.SetTag(id, ""), ident.ErrValidation)
	assert.ErrorIs(t, db.SetTag(id, strings.Repeat("t", 256)), ident.ErrValidation)
	assert.NoError(t, db.SetTag(id, strings.Repeat("t", 255)))
	assert.Equal(t, 1, db.Stats().Tags)
}

func TestSetReferenceMaintainsInverse(t *testing.T) {
	db := New()
	attr := ident.New()
	e1, e2 := ident.New(), ident.New()
	target1, target2 := ident.New(), ident.New()

	db.SetReference(e1, attr, target1)
	db.SetReference(e2, attr, target1)
	assert.ElementsMatch(t, []ident.ID{e1, e2}, db.Referrers(attr, target1))

	// Overwrite moves e1 to the other target
	db.SetReference(e1, attr, target2)
	assert.Equal(t, []ident.ID{e2}, db.Referrers(attr, target1))
	assert.Equal(t, []ident.ID{e1}, db.Referrers(attr, target2))

	// Emptying an inverse set removes it entirely
	db.SetReference(e2, attr, target2)
	assert.Empty(t, db.Referrers(attr, target1))
	_, exists := db.references.inverse[ident.Key(target1, attr)]
	assert.False(t, exists, "empty inverse set should be deleted")

	// Explicit Nil is tracked
	db.SetReference(e1, attr, ident.Nil)
	assert.Equal(t, []ident.ID{e1}, db.Referrers(attr, ident.Nil))
	assert.Equal(t, ident.Nil, db.Reference(e1, attr))
}

func TestSetReferenceNoOp(t *testing.T) {
	db := New()
	e, attr, target := ident.New(), ident.New(), ident.New()

	assert.True(t, db.references.set(ident.Key(e, attr), target))
	assert.False(t, db.references.set(ident.Key(e, attr), target), "same value is a no-op")
	assert.Equal(t, []ident.ID{e}, db.Referrers(attr, target))
}

// checkBidirectional compares the inverse index with a brute-force scan of
// the forward map
func checkBidirectional(t *testing.T, db *Database) {
	t.Helper()
	want := make(map[ident.EntityAttribute][]ident.ID)
	for k, v := range db.references.forward {
		inv := ident.Key(v, k.Attribute)
		want[inv] = append(want[inv], k.Entity)
	}
	require.Len(t, db.references.inverse, len(want))
	for inv, entities := range want {
		slices.SortFunc(entities, ident.ID.Compare)
		require.Equal(t, entities, db.Referrers(inv.Attribute, inv.Entity))
	}
}

func TestReferenceBidirectionalityRandomized(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	pool := make([]ident.ID, 6)
	for i := range pool {
		pool[i] = ident.New()
	}
	pool = append(pool, ident.Nil)
	pick := func() ident.ID { return pool[rng.Intn(len(pool))] }

	db := New()
	for i := 0; i < 2000; i++ {
		db.SetReference(pick(), pick(), pick())
		checkBidirectional(t, db)
	}
}

func TestPatchReplaysIntoEqualDatabase(t *testing.T) {
	db := New()
	e, a, b := ident.New(), ident.New(), ident.New()

	db.SetFlag(e, a)
	db.SetFloat(e, a, 2.5)
	db.SetReference(e, a, b)
	require.NoError(t, db.SetString(e, b, "hello"))
	db.SetColor(e, a, value.RGB(10, 20, 30))
	im, err := value.NewImage(1, []value.ColorWithOpacity{{A: 1}})
	require.NoError(t, err)
	require.NoError(t, db.SetImage(e, a, im))
	m, err := value.NewMesh(value.MeshData{})
	require.NoError(t, err)
	db.SetMesh(e, a, m)
	require.NoError(t, db.SetTag(b, "bee"))

	p := db.Patch()
	assert.Len(t, p, 8)

	// Serialize, decode, and replay into a fresh database
	var buf bytes.Buffer
	_, err = p.WriteTo(&buf)
	require.NoError(t, err)
	decoded, err := patch.Read(&buf)
	require.NoError(t, err)

	replica := New()
	require.NoError(t, decoded.ApplyTo(replica))

	assert.True(t, replica.Flag(e, a))
	assert.Equal(t, float32(2.5), replica.Float(e, a))
	assert.Equal(t, b, replica.Reference(e, a))
	assert.Equal(t, []ident.ID{e}, replica.Referrers(a, b))
	assert.Equal(t, "hello", replica.String(e, b))
	c, ok := replica.Color(e, a)
	assert.True(t, ok)
	assert.Equal(t, value.RGB(10, 20, 30), c)
	gotIm, ok := replica.Image(e, a)
	assert.True(t, ok)
	assert.True(t, im.Equal(gotIm))
	_, ok = replica.Mesh(e, a)
	assert.True(t, ok)
	assert.Equal(t, "bee", replica.Tag(b))
	assert.Equal(t, db.Stats(), replica.Stats())
}

func TestPatchGroupsByKind(t *testing.T) {
	db := New()
	for i := 0; i < 5; i++ {
		e, a := ident.New(), ident.New()
		db.SetFloat(e, a, float32(i))
		db.SetFlag(e, a)
		require.NoError(t, db.SetTag(e, "t"))
	}

	var ops []patch.Opcode
	for _, in := range db.Patch() {
		if len(ops) == 0 || ops[len(ops)-1] != in.Opcode() {
			ops = append(ops, in.Opcode())
		}
	}
	assert.Equal(t, []patch.Opcode{patch.OpSetFlag, patch.OpSetFloat, patch.OpSetTag}, ops)
}

func TestPatchOmitsClearedFlags(t *testing.T) {
	db := New()
	e, a, b := ident.New(), ident.New(), ident.New()

	db.SetFlag(e, a)
	db.SetFlag(e, b)
	db.ClearFlag(e, a)

	p := db.Patch()
	require.Len(t, p, 1)
	assert.True(t, p[0].Equal(patch.SetFlag{Entity: e, Attribute: b}))
	for _, in := range p {
		assert.NotEqual(t, patch.OpClearFlag, in.Opcode())
	}
}

func TestApplyClearFlagInstruction(t *testing.T) {
	db := New()
	e, a := ident.New(), ident.New()
	db.SetFlag(e, a)

	require.NoError(t, patch.ClearFlag{Entity: e, Attribute: a}.ApplyTo(db))
	assert.False(t, db.Flag(e, a))
}

func TestApplyRejectsInvalidTag(t *testing.T) {
	db := New()
	err := patch.SetTag{ID: ident.New(), Tag: ""}.ApplyTo(db)
	assert.ErrorIs(t, err, ident.ErrValidation)
	assert.Zero(t, db.Stats().Tags)
}

func TestSetImageRejectsZeroImage(t *testing.T) {
	db := New()
	e, a := ident.New(), ident.New()

	assert.ErrorIs(t, db.SetImage(e, a, value.Image{}), ident.ErrValidation)
	err := patch.SetImage{Entity: e, Attribute: a}.ApplyTo(db)
	assert.ErrorIs(t, err, ident.ErrValidation)

	_, ok := db.Image(e, a)
	assert.False(t, ok)
	assert.Zero(t, db.Stats().Images)

	// The export stays serializable
	_, err = db.Patch().MarshalBinary()
	require.NoError(t, err)
}
