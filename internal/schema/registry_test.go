package schema

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_GetField(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Load(profileSchema()))

	f, err := r.GetField("Profile", "email")
	require.NoError(t, err)
	assert.Equal(t, "email", f.Name)
	assert.Equal(t, 10.0, f.Fee.BaseMultiplier)
	assert.Equal(t, []string{"Profile"}, r.Names())
}

func TestRegistry_LookupErrors(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Load(profileSchema()))

	_, err := r.GetField("Missing", "bio")
	assert.ErrorIs(t, err, ErrSchemaNotLoaded)

	_, err = r.GetField("Profile", "missing")
	assert.ErrorIs(t, err, ErrFieldNotFound)

	var le *LookupError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, "Profile", le.Schema)
	assert.Equal(t, "missing", le.Field)
}

func TestRegistry_LoadIsAllOrNothing(t *testing.T) {
	r := NewRegistry()

	bad := profileSchema()
	bad.Name = "Broken"
	f := bad.Fields["bio"]
	f.Fee.BaseMultiplier = 0
	bad.Fields["bio"] = f

	err := r.Load(profileSchema(), bad)
	var le *LoadError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, []string{ErrBaseMultiplier}, codes(le.Errors))
	assert.Empty(t, r.Names(), "no schema should be published when any fails")
}

func TestRegistry_LoadReplacesSchema(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Load(profileSchema()))

	v2 := profileSchema()
	v2.Version = 2
	delete(v2.Fields, "email")
	require.NoError(t, r.Load(v2))

	s, err := r.Schema("Profile")
	require.NoError(t, err)
	assert.Equal(t, int64(2), s.Version)
	_, err = r.GetField("Profile", "email")
	assert.ErrorIs(t, err, ErrFieldNotFound)
}

func TestRegistry_DuplicateInOneLoad(t *testing.T) {
	err := NewRegistry().Load(profileSchema(), profileSchema())
	var le *LoadError
	require.True(t, errors.As(err, &le))
	assert.Contains(t, codes(le.Errors), ErrDuplicateSchema)
}

func TestRegistry_CallerMutationDoesNotLeak(t *testing.T) {
	r := NewRegistry()
	s := profileSchema()
	require.NoError(t, r.Load(s))

	*s.Fields["bio"].Access.Write.MaxDistance = 99
	f := s.Fields["bio"]
	f.Fee.BaseMultiplier = 1000
	s.Fields["bio"] = f

	got, err := r.GetField("Profile", "bio")
	require.NoError(t, err)
	assert.Equal(t, uint32(1), *got.Access.Write.MaxDistance)
	assert.Equal(t, 1.0, got.Fee.BaseMultiplier)
}

func TestRegistry_Mappings(t *testing.T) {
	r := NewRegistry()

	contact := Schema{
		Name: "Contact",
		Fields: map[string]FieldDefinition{
			"email": {
				Type:   Single,
				Fee:    FeePolicy{BaseMultiplier: 3},
				MapsTo: &FieldRef{Schema: "Profile", Field: "email"},
			},
		},
	}
	require.NoError(t, r.Load(profileSchema(), contact))

	res, err := r.Lookup("Contact", "email")
	require.NoError(t, err)
	assert.Equal(t, FieldRef{Schema: "Profile", Field: "email"}, res.Storage)
	assert.Equal(t, 3.0, res.Field.Fee.BaseMultiplier, "policies come from the addressed field")

	res, err = r.Lookup("Profile", "bio")
	require.NoError(t, err)
	assert.Equal(t, FieldRef{Schema: "Profile", Field: "bio"}, res.Storage)

	// Profile cannot be unloaded while Contact maps into it.
	err = r.Unload("Profile")
	var le *LoadError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, []string{ErrMappingTargetRequired}, codes(le.Errors))

	require.NoError(t, r.Unload("Contact"))
	require.NoError(t, r.Unload("Profile"))
	assert.ErrorIs(t, r.Unload("Profile"), ErrSchemaNotLoaded)
}

func TestRegistry_MappingErrors(t *testing.T) {
	mapped := func(name, target string, typ FieldType) Schema {
		ref, _ := ParseFieldRef(target)
		return Schema{
			Name: name,
			Fields: map[string]FieldDefinition{
				"f": {Type: typ, Fee: FeePolicy{BaseMultiplier: 1}, MapsTo: &ref},
			},
		}
	}

	t.Run("unknown target", func(t *testing.T) {
		err := NewRegistry().Load(mapped("A", "Nope.f", Single))
		var le *LoadError
		require.True(t, errors.As(err, &le))
		assert.Contains(t, codes(le.Errors), ErrUnknownMappingTarget)
	})

	t.Run("circular", func(t *testing.T) {
		err := NewRegistry().Load(mapped("A", "B.f", Single), mapped("B", "A.f", Single))
		var le *LoadError
		require.True(t, errors.As(err, &le))
		assert.Contains(t, codes(le.Errors), ErrCircularMapping)
	})

	t.Run("self", func(t *testing.T) {
		err := NewRegistry().Load(mapped("A", "A.f", Single))
		var le *LoadError
		require.True(t, errors.As(err, &le))
		assert.Contains(t, codes(le.Errors), ErrCircularMapping)
	})

	t.Run("type mismatch", func(t *testing.T) {
		target := Schema{
			Name:   "T",
			Fields: map[string]FieldDefinition{"f": {Type: Range, Fee: FeePolicy{BaseMultiplier: 1}}},
		}
		err := NewRegistry().Load(target, mapped("A", "T.f", Single))
		var le *LoadError
		require.True(t, errors.As(err, &le))
		assert.Contains(t, codes(le.Errors), ErrMappingTypeMismatch)
	})
}

func TestRegistry_ConcurrentLookupsDuringLoad(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Load(profileSchema()))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				f, err := r.GetField("Profile", "bio")
				if assert.NoError(t, err) {
					assert.Equal(t, Single, f.Type)
				}
			}
		}()
	}
	for i := 0; i < 20; i++ {
		s := profileSchema()
		s.Version = int64(i + 2)
		extra := Schema{
			Name:   fmt.Sprintf("Extra%d", i),
			Fields: map[string]FieldDefinition{"x": {Type: Single, Fee: FeePolicy{BaseMultiplier: 1}}},
		}
		require.NoError(t, r.Load(s, extra))
	}
	wg.Wait()
	assert.Len(t, r.Names(), 21)
}
