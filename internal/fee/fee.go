// Package fee computes the payment owed for a field operation.
//
// The fee is a pure function of the field's fee policy, the schema's
// multiplier and the caller's trust distance:
//
//	factor = scaling(distance), clamped below at min_factor
//	fee    = schema_multiplier * base_multiplier * factor
//
// Fees are whole satoshis, rounded up and saturating at math.MaxUint64.
// Payment is required only when the field configures a minimum payment
// threshold and the fee reaches it; below the threshold, or without one,
// the operation is free. The evaluator never contacts a payment network.
package fee

import (
	"math"
	"strconv"

	"github.com/roach88/fold/internal/access"
	"github.com/roach88/fold/internal/schema"
	"github.com/roach88/fold/internal/value"
)

// DomainQuote is the hash domain for quote digests.
const DomainQuote = "fold/quote/v1"

// roundingSlack absorbs floating point noise before rounding up, so a
// product such as 60.00000000000001 is charged 60 rather than 61.
const roundingSlack = 1e-9

// Quote is an auditable fee computation. Every input is recorded so the
// amount can be re-derived, and Digest commits to all of them.
type Quote struct {
	Schema string      `json:"schema"`
	Field  string      `json:"field"`
	Kind   access.Kind `json:"kind"`

	// Distance is the caller's trust distance, nil if unknown.
	Distance *uint32 `json:"distance,omitempty"`
	// Evaluated is the distance the scaling was applied at.
	Evaluated uint32 `json:"evaluated"`

	SchemaMultiplier float64            `json:"schema_multiplier"`
	BaseMultiplier   float64            `json:"base_multiplier"`
	Scaling          schema.ScalingKind `json:"scaling"`
	Factor           float64            `json:"factor"`

	// Amount is the computed fee in satoshis.
	Amount    uint64  `json:"amount"`
	Threshold *uint64 `json:"threshold,omitempty"`
	// Required is true when Amount reaches Threshold.
	Required bool `json:"required"`

	Digest string `json:"digest"`
}

// Due returns the amount the caller must pay: Amount if payment is
// required, zero otherwise.
func (q Quote) Due() uint64 {
	if q.Required {
		return q.Amount
	}
	return 0
}

// Compute quotes the fee for an operation on field of s.
//
// A nil distance is evaluated at distance 0. Callers reach fee evaluation
// without a trust distance only through an explicit grant, and explicitly
// granted callers are treated as fully trusted.
func Compute(s *schema.Schema, field schema.FieldDefinition, kind access.Kind, distance *uint32) Quote {
	q := Quote{
		Schema:           s.Name,
		Field:            field.Name,
		Kind:             kind,
		SchemaMultiplier: s.Multiplier(),
		BaseMultiplier:   field.Fee.BaseMultiplier,
		Scaling:          field.Fee.TrustScaling.Kind,
	}
	if q.Scaling == "" {
		q.Scaling = schema.ScalingNone
	}
	if distance != nil {
		d := *distance
		q.Distance = &d
		q.Evaluated = d
	}
	if t := field.Fee.MinPaymentThreshold; t != nil {
		threshold := *t
		q.Threshold = &threshold
	}

	q.Factor = Factor(field.Fee.TrustScaling, q.Evaluated)
	raw := q.SchemaMultiplier * q.BaseMultiplier * q.Factor
	q.Amount = Satoshis(raw)
	// The threshold applies to the computed fee, not the rounded charge.
	q.Required = q.Threshold != nil && q.Amount > 0 && raw+roundingSlack >= float64(*q.Threshold)
	q.Digest = value.MustDigest(DomainQuote, q.auditValue())
	return q
}

// Factor evaluates a trust scaling at distance. The result is clamped below
// at the scaling's MinFactor and is never negative or NaN.
func Factor(ts schema.TrustScaling, distance uint32) float64 {
	d := float64(distance)

	var f float64
	switch ts.Kind {
	case schema.ScalingLinear:
		f = ts.Slope*d + ts.Intercept
	case schema.ScalingExponential:
		f = math.Pow(ts.Base, ts.Scale*d)
	default:
		return 1
	}

	floor := math.Max(ts.MinFactor, 0)
	if math.IsNaN(f) || f < floor {
		return floor
	}
	return f
}

// Satoshis rounds a raw fee up to whole satoshis. Non-positive and NaN
// fees are zero; fees beyond the uint64 range saturate.
func Satoshis(raw float64) uint64 {
	if math.IsNaN(raw) || raw <= 0 {
		return 0
	}
	if raw >= math.MaxUint64 {
		return math.MaxUint64
	}
	c := math.Ceil(raw - roundingSlack)
	if c <= 0 {
		return 0
	}
	if c >= math.MaxUint64 {
		return math.MaxUint64
	}
	return uint64(c)
}

// auditValue is the canonical form of every quote input. Multipliers are
// recorded as their shortest exact decimal strings and amounts as decimal
// strings, since a uint64 may not fit an Int.
func (q Quote) auditValue() value.Value {
	obj := value.Object{
		"schema":            value.String(q.Schema),
		"field":             value.String(q.Field),
		"kind":              value.String(string(q.Kind)),
		"distance":          value.Null{},
		"evaluated":         value.Int(q.Evaluated),
		"schema_multiplier": formatFloat(q.SchemaMultiplier),
		"base_multiplier":   formatFloat(q.BaseMultiplier),
		"scaling":           value.String(string(q.Scaling)),
		"factor":            formatFloat(q.Factor),
		"amount":            value.String(strconv.FormatUint(q.Amount, 10)),
		"threshold":         value.Null{},
		"required":          value.Bool(q.Required),
	}
	if q.Distance != nil {
		obj["distance"] = value.Int(*q.Distance)
	}
	if q.Threshold != nil {
		obj["threshold"] = value.String(strconv.FormatUint(*q.Threshold, 10))
	}
	return obj
}

func formatFloat(f float64) value.String {
	return value.String(strconv.FormatFloat(f, 'g', -1, 64))
}
