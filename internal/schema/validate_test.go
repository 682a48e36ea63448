package schema

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func codes(errs []ValidationError) []string {
	out := make([]string, len(errs))
	for i, e := range errs {
		out[i] = e.Code
	}
	return out
}

func TestValidate_ValidSchema(t *testing.T) {
	s := profileSchema()
	assert.Empty(t, Validate(&s))
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(s *Schema)
		code   string
	}{
		{"empty name", func(s *Schema) { s.Name = " " }, ErrSchemaNameEmpty},
		{"no fields", func(s *Schema) { s.Fields = nil }, ErrNoFields},
		{"negative schema multiplier", func(s *Schema) { s.PaymentMultiplier = -1 }, ErrSchemaMultiplier},
		{"zero base multiplier", func(s *Schema) {
			f := s.Fields["bio"]
			f.Fee.BaseMultiplier = 0
			s.Fields["bio"] = f
		}, ErrBaseMultiplier},
		{"nan base multiplier", func(s *Schema) {
			f := s.Fields["bio"]
			f.Fee.BaseMultiplier = math.NaN()
			s.Fields["bio"] = f
		}, ErrBaseMultiplier},
		{"zero threshold", func(s *Schema) {
			f := s.Fields["bio"]
			f.Fee.MinPaymentThreshold = Uint64(0)
			s.Fields["bio"] = f
		}, ErrZeroThreshold},
		{"negative min factor", func(s *Schema) {
			f := s.Fields["bio"]
			f.Fee.TrustScaling = Linear(1, 0, -0.5)
			s.Fields["bio"] = f
		}, ErrNegativeMinFactor},
		{"bad field type", func(s *Schema) {
			f := s.Fields["bio"]
			f.Type = "tree"
			s.Fields["bio"] = f
		}, ErrInvalidFieldType},
		{"bad scaling kind", func(s *Schema) {
			f := s.Fields["bio"]
			f.Fee.TrustScaling = TrustScaling{Kind: "quadratic"}
			s.Fields["bio"] = f
		}, ErrInvalidScaling},
		{"exponential base not positive", func(s *Schema) {
			f := s.Fields["bio"]
			f.Fee.TrustScaling = Exponential(0, 1, 0)
			s.Fields["bio"] = f
		}, ErrInvalidScaling},
		{"field name mismatch", func(s *Schema) {
			f := s.Fields["bio"]
			f.Name = "biography"
			s.Fields["bio"] = f
		}, ErrFieldName},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := profileSchema()
			tt.mutate(&s)
			errs := Validate(&s)
			require.NotEmpty(t, errs)
			assert.Contains(t, codes(errs), tt.code)
		})
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	s := profileSchema()
	s.Name = ""
	f := s.Fields["bio"]
	f.Fee.BaseMultiplier = -1
	f.Fee.MinPaymentThreshold = Uint64(0)
	s.Fields["bio"] = f

	errs := Validate(&s)
	assert.ElementsMatch(t, []string{ErrSchemaNameEmpty, ErrBaseMultiplier, ErrZeroThreshold}, codes(errs))
}

func TestValidationError_Format(t *testing.T) {
	e := ValidationError{Schema: "Profile", Field: "bio", Code: ErrBaseMultiplier, Message: "bad"}
	assert.Equal(t, "[E201] Profile.bio: bad", e.Error())

	e = ValidationError{Schema: "Profile", Code: ErrNoFields, Message: "empty"}
	assert.Equal(t, "[E210] Profile: empty", e.Error())
}

func TestParseFieldRef(t *testing.T) {
	ref, err := ParseFieldRef("Profile.bio")
	require.NoError(t, err)
	assert.Equal(t, FieldRef{Schema: "Profile", Field: "bio"}, ref)

	for _, bad := range []string{"Profile", ".bio", "Profile.", ""} {
		_, err := ParseFieldRef(bad)
		assert.Error(t, err, bad)
	}
}

func TestSchemaMultiplierDefault(t *testing.T) {
	s := profileSchema()
	assert.Equal(t, 1.0, s.Multiplier())
	s.PaymentMultiplier = 2.5
	assert.Equal(t, 2.5, s.Multiplier())
}
