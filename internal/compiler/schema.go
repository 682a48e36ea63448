package compiler

import (
	_ "embed"
	"fmt"
	"math"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/fold/internal/schema"
)

//go:embed definitions.cue
var definitionsSource string

const definitionsFile = "fold-definitions.cue"

// CompileSchema parses a CUE value into a schema.Schema.
// Uses CUE SDK's Go API directly (not CLI subprocess).
//
// The CUE value should be the schema struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`schema: Profile: { field: bio: { ... } }`)
//	s, err := CompileSchema(v.LookupPath(cue.ParsePath("schema.Profile")))
//
// The value is first unified with the closed #Schema definition so unknown
// keys and mistyped values are reported with their source position. The
// returned schema is structurally complete but not yet validated; the
// registry runs semantic validation when it is loaded.
func CompileSchema(v cue.Value) (*schema.Schema, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	s := &schema.Schema{Fields: map[string]schema.FieldDefinition{}}

	// Schema name comes from the struct label (the path selector)
	labels := v.Path().Selectors()
	if len(labels) > 0 {
		s.Name = labels[len(labels)-1].String()
	}

	def := v.Context().CompileString(definitionsSource, cue.Filename(definitionsFile))
	if err := def.Err(); err != nil {
		return nil, fmt.Errorf("compile definitions: %w", err)
	}
	v = def.LookupPath(cue.ParsePath("#Schema")).Unify(v)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	if versionVal := v.LookupPath(cue.ParsePath("version")); versionVal.Exists() {
		version, err := versionVal.Int64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		s.Version = version
	}

	if multVal := v.LookupPath(cue.ParsePath("payment_multiplier")); multVal.Exists() {
		mult, err := multVal.Float64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		s.PaymentMultiplier = mult
	}

	fieldsVal := v.LookupPath(cue.ParsePath("field"))
	iter, err := fieldsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		name := iter.Label()
		f, err := parseField(name, iter.Value())
		if err != nil {
			return nil, err
		}
		s.Fields[name] = f
	}
	if len(s.Fields) == 0 {
		return nil, &CompileError{
			Field:   "field",
			Message: "at least one field is required",
			Pos:     v.Pos(),
		}
	}

	return s, nil
}

// parseField extracts one field definition.
func parseField(name string, v cue.Value) (schema.FieldDefinition, error) {
	f := schema.FieldDefinition{Name: name}
	path := "field." + name

	typ, err := v.LookupPath(cue.ParsePath("type")).String()
	if err != nil {
		return f, formatCUEError(err)
	}
	f.Type = schema.FieldType(typ)

	if f.Access.Read, err = parseRule(v.LookupPath(cue.ParsePath("access.read"))); err != nil {
		return f, err
	}
	if f.Access.Write, err = parseRule(v.LookupPath(cue.ParsePath("access.write"))); err != nil {
		return f, err
	}

	if f.Fee, err = parseFee(path+".fee", v.LookupPath(cue.ParsePath("fee"))); err != nil {
		return f, err
	}

	if mapsVal := v.LookupPath(cue.ParsePath("maps_to")); mapsVal.Exists() {
		target, err := mapsVal.String()
		if err != nil {
			return f, formatCUEError(err)
		}
		ref, err := schema.ParseFieldRef(target)
		if err != nil {
			return f, &CompileError{
				Field:   path + ".maps_to",
				Message: err.Error(),
				Pos:     mapsVal.Pos(),
			}
		}
		f.MapsTo = &ref
	}

	return f, nil
}

// parseRule extracts an access rule. A missing rule grants nothing.
func parseRule(v cue.Value) (schema.AccessRule, error) {
	var rule schema.AccessRule
	if !v.Exists() {
		return rule, nil
	}

	if distVal := v.LookupPath(cue.ParsePath("max_distance")); distVal.Exists() {
		dist, err := distVal.Uint64()
		if err != nil {
			return rule, formatCUEError(err)
		}
		rule.MaxDistance = schema.Uint32(uint32(dist))
	}

	if allowVal := v.LookupPath(cue.ParsePath("allow")); allowVal.Exists() {
		iter, err := allowVal.List()
		if err != nil {
			return rule, formatCUEError(err)
		}
		for iter.Next() {
			key, err := iter.Value().String()
			if err != nil {
				return rule, formatCUEError(err)
			}
			rule.Allow = append(rule.Allow, key)
		}
	}

	return rule, nil
}

// parseFee extracts a fee policy. An omitted fee block means a base
// multiplier of 1 with no scaling and no threshold, i.e. always free.
func parseFee(path string, v cue.Value) (schema.FeePolicy, error) {
	fee := schema.FeePolicy{
		BaseMultiplier: 1,
		TrustScaling:   schema.TrustScaling{Kind: schema.ScalingNone},
	}
	if !v.Exists() {
		return fee, nil
	}

	var err error
	if fee.BaseMultiplier, err = optionalFloat(v, "base_multiplier", 1); err != nil {
		return fee, err
	}

	if minVal := v.LookupPath(cue.ParsePath("min_payment")); minVal.Exists() {
		threshold, err := minVal.Uint64()
		if err != nil {
			return fee, formatCUEError(err)
		}
		fee.MinPaymentThreshold = schema.Uint64(threshold)
	}

	scalingVal := v.LookupPath(cue.ParsePath("scaling"))
	if !scalingVal.Exists() {
		return fee, nil
	}
	linear := scalingVal.LookupPath(cue.ParsePath("linear"))
	exponential := scalingVal.LookupPath(cue.ParsePath("exponential"))

	switch {
	case linear.Exists() && exponential.Exists():
		return fee, &CompileError{
			Field:   path + ".scaling",
			Message: "scaling must be exactly one of linear or exponential",
			Pos:     scalingVal.Pos(),
		}
	case linear.Exists():
		slope, err := optionalFloat(linear, "slope", 0)
		if err != nil {
			return fee, err
		}
		intercept, err := optionalFloat(linear, "intercept", 0)
		if err != nil {
			return fee, err
		}
		minFactor, err := optionalFloat(linear, "min_factor", 0)
		if err != nil {
			return fee, err
		}
		fee.TrustScaling = schema.Linear(slope, intercept, minFactor)
	case exponential.Exists():
		base, err := optionalFloat(exponential, "base", 0)
		if err != nil {
			return fee, err
		}
		scale, err := optionalFloat(exponential, "scale", 0)
		if err != nil {
			return fee, err
		}
		minFactor, err := optionalFloat(exponential, "min_factor", 0)
		if err != nil {
			return fee, err
		}
		fee.TrustScaling = schema.Exponential(base, scale, minFactor)
	}

	return fee, nil
}

// optionalFloat reads a number at label, returning def when it is absent.
// CUE ints are accepted.
func optionalFloat(v cue.Value, label string, def float64) (float64, error) {
	n := v.LookupPath(cue.ParsePath(label))
	if !n.Exists() {
		return def, nil
	}
	f, err := n.Float64()
	if err != nil {
		return 0, formatCUEError(err)
	}
	if math.IsInf(f, 0) {
		return 0, &CompileError{
			Field:   label,
			Message: "number out of range",
			Pos:     n.Pos(),
		}
	}
	return f, nil
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
// Positions inside the embedded definitions are skipped in favor of the
// user's source.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	sort.SliceStable(positions, func(i, j int) bool {
		return positions[i].Filename() != definitionsFile && positions[j].Filename() == definitionsFile
	})
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
