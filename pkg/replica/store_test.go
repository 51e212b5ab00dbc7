package replica

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/sync/errgroup"

	"github.com/nainya/eavstore/pkg/ident"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestReferenceStoreSetGetDelete(t *testing.T) {
	s := NewReferenceStore()
	k := ident.Key(ident.New(), ident.New())
	v := ident.New()

	assert.Equal(t, ident.Nil, s.Get(k))

	s.Set(k, v)
	assert.Equal(t, v, s.Get(k))
	assert.Equal(t, 1, s.Len())

	s.Set(k, ident.Nil)
	assert.Equal(t, ident.Nil, s.Get(k))
	assert.Zero(t, s.Len())
	assert.Empty(t, s.MappedReferences())
}

func TestTagStoreSet(t *testing.T) {
	s := NewTagStore()
	id := ident.New()

	require.NoError(t, s.Set(id, "door"))
	assert.Equal(t, "door", s.Get(id))

	// Blank deletes
	require.NoError(t, s.Set(id, "  "))
	assert.Empty(t, s.Get(id))
	assert.Zero(t, s.Len())

	assert.ErrorIs(t, s.Set(id, strings.Repeat("t", 256)), ident.ErrValidation)
	assert.ErrorIs(t, s.Set(id, "\xff"), ident.ErrValidation)
	require.NoError(t, s.Set(id, strings.Repeat("t", 255)))
}

func TestEnumerationMatchesContents(t *testing.T) {
	st := NewStore()
	want := make(map[ident.EntityAttribute]ident.ID)
	for i := 0; i < 200; i++ {
		k := ident.Key(ident.New(), ident.New())
		v := ident.New()
		st.References.Set(k, v)
		want[k] = v
		require.NoError(t, st.Tags.Set(k.Entity, "e"))
	}

	got := make(map[ident.EntityAttribute]ident.ID)
	for _, m := range st.References.MappedReferences() {
		require.NoError(t, m.Validate())
		got[m.Key] = m.Value
	}
	assert.Equal(t, want, got)

	tags := st.Tags.MappedIdentifiers()
	assert.Len(t, tags, 200)
	for _, m := range tags {
		require.NoError(t, m.Validate())
	}
}

func TestConcurrentWritersAndReaders(t *testing.T) {
	st := NewStore()
	keys := make([]ident.EntityAttribute, 64)
	for i := range keys {
		keys[i] = ident.Key(ident.New(), ident.New())
	}

	g, _ := errgroup.WithContext(context.Background())
	for w := 0; w < 8; w++ {
		g.Go(func() error {
			for i := 0; i < 500; i++ {
				k := keys[(w*31+i)%len(keys)]
				if i%7 == 0 {
					st.References.Set(k, ident.Nil)
				} else {
					st.References.Set(k, ident.New())
				}
				if err := st.Tags.Set(k.Entity, "w"); err != nil {
					return err
				}
			}
			return nil
		})
	}
	for r := 0; r < 4; r++ {
		g.Go(func() error {
			for i := 0; i < 100; i++ {
				for _, m := range st.References.MappedReferences() {
					if err := m.Validate(); err != nil {
						return err
					}
				}
				for _, m := range st.Tags.MappedIdentifiers() {
					if err := m.Validate(); err != nil {
						return err
					}
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.LessOrEqual(t, st.References.Len(), len(keys))
	assert.Equal(t, len(keys), st.Tags.Len())
}

func TestMappingConstructors(t *testing.T) {
	k := ident.Key(ident.New(), ident.New())

	_, err := NewReferenceMapping(k, ident.Nil)
	assert.ErrorIs(t, err, ErrUninitializedMapping)
	m, err := NewReferenceMapping(k, k.Entity)
	require.NoError(t, err)
	assert.Equal(t, k.Entity, m.Value)

	_, err = NewTagMapping(k.Entity, "")
	assert.ErrorIs(t, err, ErrUninitializedMapping)
	_, err = NewTagMapping(k.Entity, strings.Repeat("t", 256))
	assert.ErrorIs(t, err, ident.ErrValidation)

	assert.ErrorIs(t, ReferenceMapping{}.Validate(), ErrUninitializedMapping)
	assert.ErrorIs(t, TagMapping{}.Validate(), ErrUninitializedMapping)
}
