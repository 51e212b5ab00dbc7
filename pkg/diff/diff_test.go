package diff

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nainya/eavstore/pkg/ident"
	"github.com/nainya/eavstore/pkg/replica"
	"github.com/nainya/eavstore/pkg/wire"
)

// id returns a deterministic identifier whose last byte is n
func id(n byte) ident.ID {
	var x ident.ID
	x[ident.Size-1] = n
	return x
}

func key(e, a byte) ident.EntityAttribute {
	return ident.Key(id(e), id(a))
}

func referenceStore(m map[ident.EntityAttribute]ident.ID) *replica.ReferenceStore {
	s := replica.NewReferenceStore()
	for k, v := range m {
		s.Set(k, v)
	}
	return s
}

func TestCompareIdempotent(t *testing.T) {
	st := replica.NewStore()
	for i := byte(1); i < 20; i++ {
		st.References.Set(key(i, 100), id(i+1))
		require.NoError(t, st.Tags.Set(id(i), "n"))
	}

	d, err := CompareStores(st, st)
	require.NoError(t, err)
	assert.True(t, d.IsEmpty())
	assert.Empty(t, d.References.Set)
	assert.Empty(t, d.References.Deleted)
	assert.Empty(t, d.Tags.Set)
	assert.Empty(t, d.Tags.Deleted)
}

func TestCompareReferencesCorrectness(t *testing.T) {
	k1, k2, k3 := key(1, 9), key(2, 9), key(3, 9)
	v1, v2, v3, v4 := id(11), id(12), id(13), id(14)

	a := referenceStore(map[ident.EntityAttribute]ident.ID{k1: v1, k2: v2})

	b := referenceStore(map[ident.EntityAttribute]ident.ID{k1: v1, k2: v3, k3: v4})
	d, err := CompareReferences(a, b)
	require.NoError(t, err)
	assert.Equal(t, map[ident.EntityAttribute]ident.ID{k2: v3, k3: v4}, d.Set)
	assert.Empty(t, d.Deleted)

	b = referenceStore(map[ident.EntityAttribute]ident.ID{k1: v1})
	d, err = CompareReferences(a, b)
	require.NoError(t, err)
	assert.Empty(t, d.Set)
	assert.Equal(t, map[ident.EntityAttribute]struct{}{k2: {}}, d.Deleted)
}

func TestCompareTagsCorrectness(t *testing.T) {
	a, b := replica.NewTagStore(), replica.NewTagStore()
	require.NoError(t, a.Set(id(1), "one"))
	require.NoError(t, a.Set(id(2), "two"))
	require.NoError(t, b.Set(id(2), "deux"))
	require.NoError(t, b.Set(id(3), "trois"))

	d, err := CompareTags(a, b)
	require.NoError(t, err)
	assert.Equal(t, map[ident.ID]string{id(2): "deux", id(3): "trois"}, d.Set)
	assert.Equal(t, map[ident.ID]struct{}{id(1): {}}, d.Deleted)
}

func TestApplyConverges(t *testing.T) {
	a, b := replica.NewStore(), replica.NewStore()
	a.References.Set(key(1, 1), id(50))
	a.References.Set(key(2, 1), id(51))
	b.References.Set(key(2, 1), id(52))
	b.References.Set(key(3, 1), id(53))
	require.NoError(t, a.Tags.Set(id(1), "gone"))
	require.NoError(t, b.Tags.Set(id(2), "kept"))

	d, err := CompareStores(a, b)
	require.NoError(t, err)

	// Ship it over the wire first
	data, err := d.MarshalBinary()
	require.NoError(t, err)
	var decoded StoreDiff
	require.NoError(t, decoded.UnmarshalBinary(data))
	require.NoError(t, decoded.ApplyTo(a))

	after, err := CompareStores(a, b)
	require.NoError(t, err)
	assert.True(t, after.IsEmpty())
}

type brokenSource struct{}

func (brokenSource) MappedReferences() []replica.ReferenceMapping {
	return []replica.ReferenceMapping{{Key: key(1, 1)}}
}

func (brokenSource) MappedIdentifiers() []replica.TagMapping {
	return []replica.TagMapping{{ID: id(1), Tag: " "}}
}

func TestCompareRejectsUninitializedMapping(t *testing.T) {
	_, err := CompareReferences(replica.NewReferenceStore(), brokenSource{})
	assert.ErrorIs(t, err, ErrInvariantViolation)
	assert.ErrorIs(t, err, replica.ErrUninitializedMapping)

	_, err = CompareTags(brokenSource{}, replica.NewTagStore())
	assert.ErrorIs(t, err, ErrInvariantViolation)
}

func TestCompareRejectsNil(t *testing.T) {
	_, err := CompareReferences(nil, replica.NewReferenceStore())
	assert.ErrorIs(t, err, ErrNilStore)
	_, err = CompareTags(replica.NewTagStore(), nil)
	assert.ErrorIs(t, err, ErrNilStore)
	_, err = CompareStores(nil, replica.NewStore())
	assert.ErrorIs(t, err, ErrNilStore)
	_, err = CompareStores(&replica.Store{}, replica.NewStore())
	assert.ErrorIs(t, err, ErrNilStore)
}

func TestConstructorsEnforceInvariants(t *testing.T) {
	k := key(1, 2)
	_, err := NewReferenceStoreDiff(
		map[ident.EntityAttribute]ident.ID{k: id(3)},
		map[ident.EntityAttribute]struct{}{k: {}},
	)
	assert.ErrorIs(t, err, ErrInvalidDiff)

	_, err = NewReferenceStoreDiff(map[ident.EntityAttribute]ident.ID{k: ident.Nil}, nil)
	assert.ErrorIs(t, err, ErrInvalidDiff)

	_, err = NewTagStoreDiff(map[ident.ID]string{id(1): ""}, nil)
	assert.ErrorIs(t, err, ErrInvalidDiff)

	d, err := NewTagStoreDiff(nil, map[ident.ID]struct{}{id(1): {}})
	require.NoError(t, err)
	assert.NotNil(t, d.Set)
	assert.Equal(t, 1, d.Len())
}

func TestSerializationIsSorted(t *testing.T) {
	// Insertion order k3, k1, k2
	set := make(map[ident.EntityAttribute]ident.ID)
	set[key(3, 0)] = id(33)
	set[key(1, 0)] = id(31)
	set[key(2, 0)] = id(32)
	d, err := NewReferenceStoreDiff(set, nil)
	require.NoError(t, err)

	var want []byte
	want = wire.AppendUint32(want, 3)
	for _, n := range []byte{1, 2, 3} {
		want = wire.AppendKey(want, key(n, 0))
		want = wire.AppendID(want, id(30+n))
	}
	want = wire.AppendUint32(want, 0)

	got, err := d.MarshalBinary()
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("encoding mismatch (-want +got):\n%s", diff)
	}

	// Equal diffs always encode identically
	again, err := d.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, got, again)
}

func TestTagSerializationLayout(t *testing.T) {
	d, err := NewTagStoreDiff(
		map[ident.ID]string{id(2): "b", id(1): "a"},
		map[ident.ID]struct{}{id(4): {}, id(3): {}},
	)
	require.NoError(t, err)

	var want []byte
	want = wire.AppendUint32(want, 2)
	want = wire.AppendID(want, id(1))
	want = wire.AppendString8(want, "a")
	want = wire.AppendID(want, id(2))
	want = wire.AppendString8(want, "b")
	want = wire.AppendUint32(want, 2)
	want = wire.AppendID(want, id(3))
	want = wire.AppendID(want, id(4))

	got, err := d.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestReadAcceptsUnsortedInput(t *testing.T) {
	var data []byte
	data = wire.AppendUint32(data, 2)
	data = wire.AppendKey(data, key(9, 0))
	data = wire.AppendID(data, id(1))
	data = wire.AppendKey(data, key(1, 0))
	data = wire.AppendID(data, id(2))
	data = wire.AppendUint32(data, 2)
	data = wire.AppendKey(data, key(8, 0))
	data = wire.AppendKey(data, key(7, 0))

	var d ReferenceStoreDiff
	require.NoError(t, d.UnmarshalBinary(data))
	assert.Equal(t, map[ident.EntityAttribute]ident.ID{key(9, 0): id(1), key(1, 0): id(2)}, d.Set)
	assert.Len(t, d.Deleted, 2)
}

func TestReadRejectsContradictions(t *testing.T) {
	tests := []struct {
		name   string
		data   func() []byte
		detail string
	}{
		{
			name: "duplicate set key",
			data: func() []byte {
				var b []byte
				b = wire.AppendUint32(b, 2)
				b = wire.AppendKey(b, key(1, 1))
				b = wire.AppendID(b, id(2))
				b = wire.AppendKey(b, key(1, 1))
				b = wire.AppendID(b, id(3))
				return wire.AppendUint32(b, 0)
			},
			detail: "duplicate key",
		},
		{
			name: "set then deleted",
			data: func() []byte {
				var b []byte
				b = wire.AppendUint32(b, 1)
				b = wire.AppendKey(b, key(1, 1))
				b = wire.AppendID(b, id(2))
				b = wire.AppendUint32(b, 1)
				return wire.AppendKey(b, key(1, 1))
			},
			detail: "set then deleted again",
		},
		{
			name: "duplicate deleted key",
			data: func() []byte {
				var b []byte
				b = wire.AppendUint32(b, 0)
				b = wire.AppendUint32(b, 2)
				b = wire.AppendKey(b, key(1, 1))
				return wire.AppendKey(b, key(1, 1))
			},
			detail: "duplicate key",
		},
		{
			name: "nil reference",
			data: func() []byte {
				var b []byte
				b = wire.AppendUint32(b, 1)
				b = wire.AppendKey(b, key(1, 1))
				b = wire.AppendID(b, ident.Nil)
				return wire.AppendUint32(b, 0)
			},
			detail: "nil reference",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d ReferenceStoreDiff
			err := d.UnmarshalBinary(tt.data())
			require.ErrorIs(t, err, wire.ErrMalformed)
			var de *wire.DecodeError
			require.True(t, errors.As(err, &de))
			assert.Contains(t, de.Detail, tt.detail)
		})
	}
}

func TestReadTagRejectsEmptyAndContradictions(t *testing.T) {
	var b []byte
	b = wire.AppendUint32(b, 1)
	b = wire.AppendID(b, id(1))
	b = wire.AppendString8(b, "")
	b = wire.AppendUint32(b, 0)
	var d TagStoreDiff
	assert.ErrorIs(t, d.UnmarshalBinary(b), wire.ErrMalformed)

	b = b[:0]
	b = wire.AppendUint32(b, 1)
	b = wire.AppendID(b, id(1))
	b = wire.AppendString8(b, "x")
	b = wire.AppendUint32(b, 1)
	b = wire.AppendID(b, id(1))
	err := d.UnmarshalBinary(b)
	require.ErrorIs(t, err, wire.ErrMalformed)
	assert.Contains(t, err.Error(), "set then deleted again")
}

func TestReadTruncated(t *testing.T) {
	st := replica.NewStore()
	st.References.Set(key(1, 1), id(2))
	require.NoError(t, st.Tags.Set(id(1), "tag"))
	d, err := Snapshot(st)
	require.NoError(t, err)
	data, err := d.MarshalBinary()
	require.NoError(t, err)

	for n := 0; n < len(data); n++ {
		_, err := ReadStoreDiff(bytes.NewReader(data[:n]))
		require.Error(t, err, "prefix of %d bytes", n)
		assert.ErrorIs(t, err, wire.ErrUnexpectedEOF, "prefix of %d bytes", n)
	}

	var out StoreDiff
	assert.ErrorIs(t, out.UnmarshalBinary(append(data, 0)), wire.ErrMalformed)
}

func TestEncodeRejectsWhatDecodeRejects(t *testing.T) {
	tests := []struct {
		name string
		diff StoreDiff
	}{
		{
			name: "nil reference",
			diff: StoreDiff{References: ReferenceStoreDiff{
				Set: map[ident.EntityAttribute]ident.ID{key(1, 1): ident.Nil},
			}},
		},
		{
			name: "reference set and deleted",
			diff: StoreDiff{References: ReferenceStoreDiff{
				Set:     map[ident.EntityAttribute]ident.ID{key(1, 1): id(2)},
				Deleted: map[ident.EntityAttribute]struct{}{key(1, 1): {}},
			}},
		},
		{
			name: "blank tag",
			diff: StoreDiff{Tags: TagStoreDiff{Set: map[ident.ID]string{id(1): "  "}}},
		},
		{
			name: "tag set and deleted",
			diff: StoreDiff{Tags: TagStoreDiff{
				Set:     map[ident.ID]string{id(1): "x"},
				Deleted: map[ident.ID]struct{}{id(1): {}},
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := tt.diff.MarshalBinary()
			require.ErrorIs(t, err, ErrInvalidDiff)
			assert.Nil(t, data)
		})
	}
}

func TestStoreDiffStreamsBothHalves(t *testing.T) {
	st := replica.NewStore()
	st.References.Set(key(1, 1), id(2))
	require.NoError(t, st.Tags.Set(id(1), "tag"))
	d, err := Snapshot(st)
	require.NoError(t, err)

	data, err := d.MarshalBinary()
	require.NoError(t, err)

	// Two diffs back to back on one source decode in order
	r := bytes.NewReader(append(data, data...))
	for i := 0; i < 2; i++ {
		got, err := ReadStoreDiff(r)
		require.NoError(t, err)
		assert.Equal(t, d, got)
	}
	assert.Zero(t, r.Len())
}
