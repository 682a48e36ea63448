package schema

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Validation error codes (E200-E299)
const (
	ErrSchemaNameEmpty       = "E200" // schema name is required
	ErrBaseMultiplier        = "E201" // base_multiplier must be > 0
	ErrZeroThreshold         = "E202" // configured min_payment_threshold must be > 0
	ErrNegativeMinFactor     = "E203" // min_factor must be >= 0
	ErrInvalidFieldType      = "E204" // unknown field type
	ErrInvalidScaling        = "E205" // unknown scaling kind or invalid parameters
	ErrSchemaMultiplier      = "E206" // payment_multiplier must be > 0
	ErrFieldName             = "E207" // field name empty or inconsistent
	ErrUnknownMappingTarget  = "E208" // maps_to names a missing schema or field
	ErrCircularMapping       = "E209" // maps_to chain loops
	ErrNoFields              = "E210" // schema must define at least one field
	ErrMappingTypeMismatch   = "E211" // maps_to target has a different field type
	ErrMappingTargetRequired = "E212" // unloading would strand a mapping
	ErrDuplicateSchema       = "E213" // same schema twice in one load
)

// ValidationError represents a schema validation error.
type ValidationError struct {
	Schema  string `json:"schema"`
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s.%s: %s", e.Code, e.Schema, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Schema, e.Message)
}

// LoadError collects every validation error found while loading schemas.
type LoadError struct {
	Errors []ValidationError
}

func (e *LoadError) Error() string {
	if len(e.Errors) == 1 {
		return "schema load: " + e.Errors[0].Error()
	}
	msgs := make([]string, len(e.Errors))
	for i, ve := range e.Errors {
		msgs[i] = ve.Error()
	}
	return fmt.Sprintf("schema load: %d errors: %s", len(e.Errors), strings.Join(msgs, "; "))
}

// Validate checks a single schema's structure.
// Returns all errors found (does not fail-fast). Mapping targets are checked
// by the Registry, which can see other schemas.
func Validate(s *Schema) []ValidationError {
	var errs []ValidationError
	add := func(field, code, format string, args ...any) {
		errs = append(errs, ValidationError{
			Schema:  s.Name,
			Field:   field,
			Code:    code,
			Message: fmt.Sprintf(format, args...),
		})
	}

	if strings.TrimSpace(s.Name) == "" {
		add("", ErrSchemaNameEmpty, "schema name is required")
	}
	if s.PaymentMultiplier < 0 || !finite(s.PaymentMultiplier) {
		add("", ErrSchemaMultiplier, "payment_multiplier must be > 0, got %v", s.PaymentMultiplier)
	}
	if len(s.Fields) == 0 {
		add("", ErrNoFields, "at least one field is required")
	}

	// Sorted for deterministic error order.
	for _, name := range sortedFieldNames(s) {
		f := s.Fields[name]
		if strings.TrimSpace(name) == "" {
			add(name, ErrFieldName, "field name is required")
		}
		if f.Name != "" && f.Name != name {
			add(name, ErrFieldName, "field name %q does not match key %q", f.Name, name)
		}
		if !ValidFieldTypes[f.Type] {
			add(name, ErrInvalidFieldType, "invalid type %q, must be one of: single, collection, range", f.Type)
		}
		errs = append(errs, validateFee(s.Name, name, f.Fee)...)
	}

	return errs
}

func validateFee(schemaName, field string, fee FeePolicy) []ValidationError {
	var errs []ValidationError
	add := func(code, format string, args ...any) {
		errs = append(errs, ValidationError{
			Schema:  schemaName,
			Field:   field,
			Code:    code,
			Message: fmt.Sprintf(format, args...),
		})
	}

	if !(fee.BaseMultiplier > 0) || !finite(fee.BaseMultiplier) {
		add(ErrBaseMultiplier, "base_multiplier must be > 0, got %v", fee.BaseMultiplier)
	}
	if fee.MinPaymentThreshold != nil && *fee.MinPaymentThreshold == 0 {
		add(ErrZeroThreshold, "min_payment_threshold must be > 0 when set")
	}

	ts := fee.TrustScaling
	switch ts.Kind {
	case ScalingNone, "":
	case ScalingLinear:
		if !finite(ts.Slope) || !finite(ts.Intercept) {
			add(ErrInvalidScaling, "linear slope and intercept must be finite")
		}
	case ScalingExponential:
		if !(ts.Base > 0) || !finite(ts.Base) || !finite(ts.Scale) {
			add(ErrInvalidScaling, "exponential base must be > 0 and scale finite")
		}
	default:
		add(ErrInvalidScaling, "invalid trust scaling %q, must be one of: none, linear, exponential", ts.Kind)
	}
	if ts.MinFactor < 0 || !finite(ts.MinFactor) {
		add(ErrNegativeMinFactor, "min_factor must be >= 0, got %v", ts.MinFactor)
	}

	return errs
}

// validateMappings checks maps_to references across a full set of schemas:
// targets must exist with the same field type and chains must not loop.
func validateMappings(schemas map[string]*Schema) []ValidationError {
	var errs []ValidationError

	for _, schemaName := range sortedKeys(schemas) {
		s := schemas[schemaName]
		for _, fieldName := range sortedFieldNames(s) {
			f := s.Fields[fieldName]
			if f.MapsTo == nil {
				continue
			}
			target, ok := lookup(schemas, *f.MapsTo)
			if !ok {
				errs = append(errs, ValidationError{
					Schema:  schemaName,
					Field:   fieldName,
					Code:    ErrUnknownMappingTarget,
					Message: fmt.Sprintf("maps_to target %s is not loaded", f.MapsTo),
				})
				continue
			}
			if target.Type != f.Type {
				errs = append(errs, ValidationError{
					Schema:  schemaName,
					Field:   fieldName,
					Code:    ErrMappingTypeMismatch,
					Message: fmt.Sprintf("maps_to target %s has type %q, field has %q", f.MapsTo, target.Type, f.Type),
				})
			}
			if _, err := resolve(schemas, FieldRef{Schema: schemaName, Field: fieldName}); err != nil {
				errs = append(errs, ValidationError{
					Schema:  schemaName,
					Field:   fieldName,
					Code:    ErrCircularMapping,
					Message: err.Error(),
				})
			}
		}
	}

	return errs
}

// resolve follows maps_to links from ref to the field that owns the chain.
func resolve(schemas map[string]*Schema, ref FieldRef) (FieldRef, error) {
	seen := map[FieldRef]bool{}
	path := []string{}
	for {
		if seen[ref] {
			path = append(path, ref.String())
			return FieldRef{}, fmt.Errorf("circular maps_to: %s", strings.Join(path, " -> "))
		}
		seen[ref] = true
		path = append(path, ref.String())

		f, ok := lookup(schemas, ref)
		if !ok {
			return FieldRef{}, fmt.Errorf("maps_to target %s is not loaded", ref)
		}
		if f.MapsTo == nil {
			return ref, nil
		}
		ref = *f.MapsTo
	}
}

func lookup(schemas map[string]*Schema, ref FieldRef) (FieldDefinition, bool) {
	s, ok := schemas[ref.Schema]
	if !ok {
		return FieldDefinition{}, false
	}
	f, ok := s.Fields[ref.Field]
	return f, ok
}

func sortedKeys(m map[string]*Schema) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedFieldNames(s *Schema) []string {
	names := make([]string, 0, len(s.Fields))
	for name := range s.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
