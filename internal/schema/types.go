package schema

import (
	"fmt"
	"strings"
)

// FieldType selects how a field's content is shaped.
type FieldType string

const (
	// Single holds one scalar or structured value.
	Single FieldType = "single"
	// Collection holds an array.
	Collection FieldType = "collection"
	// Range holds an object addressable by key, prefix, range or pattern.
	Range FieldType = "range"
)

// ValidFieldTypes defines allowed field types.
var ValidFieldTypes = map[FieldType]bool{
	Single:     true,
	Collection: true,
	Range:      true,
}

// AccessRule permits a caller whose trust distance is at most MaxDistance,
// or whose key is listed in Allow. A nil MaxDistance disables the distance
// branch entirely.
type AccessRule struct {
	MaxDistance *uint32  `json:"max_distance,omitempty"`
	Allow       []string `json:"allow,omitempty"`
}

// AccessPolicy holds independent read and write rules.
type AccessPolicy struct {
	Read  AccessRule `json:"read"`
	Write AccessRule `json:"write"`
}

// ScalingKind selects a TrustScaling variant.
type ScalingKind string

const (
	ScalingNone        ScalingKind = "none"
	ScalingLinear      ScalingKind = "linear"
	ScalingExponential ScalingKind = "exponential"
)

// TrustScaling converts a trust distance into a fee multiplier.
//
//	none:        1
//	linear:      max(MinFactor, Slope*d + Intercept)
//	exponential: max(MinFactor, Base^(Scale*d))
type TrustScaling struct {
	Kind      ScalingKind `json:"kind"`
	Slope     float64     `json:"slope,omitempty"`
	Intercept float64     `json:"intercept,omitempty"`
	Base      float64     `json:"base,omitempty"`
	Scale     float64     `json:"scale,omitempty"`
	MinFactor float64     `json:"min_factor,omitempty"`
}

// Linear returns a linear scaling variant.
func Linear(slope, intercept, minFactor float64) TrustScaling {
	return TrustScaling{Kind: ScalingLinear, Slope: slope, Intercept: intercept, MinFactor: minFactor}
}

// Exponential returns an exponential scaling variant.
func Exponential(base, scale, minFactor float64) TrustScaling {
	return TrustScaling{Kind: ScalingExponential, Base: base, Scale: scale, MinFactor: minFactor}
}

// FeePolicy describes how much an operation on a field costs.
// MinPaymentThreshold is in satoshis; nil means no threshold is configured.
type FeePolicy struct {
	BaseMultiplier      float64      `json:"base_multiplier"`
	TrustScaling        TrustScaling `json:"trust_scaling"`
	MinPaymentThreshold *uint64      `json:"min_payment_threshold,omitempty"`
}

// FieldRef names a field in some schema.
type FieldRef struct {
	Schema string `json:"schema"`
	Field  string `json:"field"`
}

func (r FieldRef) String() string {
	return r.Schema + "." + r.Field
}

// ParseFieldRef parses "Schema.field".
func ParseFieldRef(s string) (FieldRef, error) {
	schemaName, field, ok := strings.Cut(s, ".")
	if !ok || schemaName == "" || field == "" {
		return FieldRef{}, fmt.Errorf("invalid field reference %q: want Schema.field", s)
	}
	return FieldRef{Schema: schemaName, Field: field}, nil
}

// FieldDefinition is the per-field type and policy set.
type FieldDefinition struct {
	Name   string       `json:"name"`
	Type   FieldType    `json:"type"`
	Access AccessPolicy `json:"access"`
	Fee    FeePolicy    `json:"fee"`

	// MapsTo makes this field share the version chain of another field.
	// Access and fee are still evaluated against this definition.
	MapsTo *FieldRef `json:"maps_to,omitempty"`
}

// Schema is a named, versioned collection of field definitions.
type Schema struct {
	Name    string `json:"name"`
	Version int64  `json:"version"`

	// PaymentMultiplier scales every field's fee. Zero means the default of 1.
	PaymentMultiplier float64 `json:"payment_multiplier,omitempty"`

	Fields map[string]FieldDefinition `json:"fields"`
}

// Multiplier returns the effective schema-level fee multiplier.
func (s *Schema) Multiplier() float64 {
	if s.PaymentMultiplier == 0 {
		return 1
	}
	return s.PaymentMultiplier
}

// Uint32 returns a pointer to n. Convenience for building rules.
func Uint32(n uint32) *uint32 {
	return &n
}

// Uint64 returns a pointer to n. Convenience for building fee policies.
func Uint64(n uint64) *uint64 {
	return &n
}
