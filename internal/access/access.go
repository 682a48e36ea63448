// Package access decides whether a caller may read or write a field.
//
// Evaluation is a pure function of the rule, the caller's trust distance
// and the caller's key. A caller is permitted when its key is in the rule's
// allow-set, or when a trust distance is known and does not exceed the
// rule's MaxDistance. Missing trust information is never an implicit allow.
package access

import (
	"fmt"
	"slices"

	"github.com/roach88/fold/internal/schema"
)

// Kind selects which rule of an access policy applies.
type Kind string

const (
	Read  Kind = "read"
	Write Kind = "write"
)

// Reason explains a decision.
type Reason string

const (
	ReasonExplicitGrant    Reason = "explicit_grant"
	ReasonWithinDistance   Reason = "within_distance"
	ReasonDistanceExceeded Reason = "distance_exceeded"
	ReasonNoTrust          Reason = "no_trust_information"
	ReasonNoRule           Reason = "no_rule"
)

// Decision is the outcome of evaluating one rule.
type Decision struct {
	Permit bool   `json:"permit"`
	Reason Reason `json:"reason"`

	// Required is the rule's distance threshold, nil if the rule has none.
	Required *uint32 `json:"required,omitempty"`
	// Observed is the caller's trust distance, nil if unknown.
	Observed *uint32 `json:"observed,omitempty"`
}

func (d Decision) String() string {
	verdict := "deny"
	if d.Permit {
		verdict = "permit"
	}
	return fmt.Sprintf("%s (%s, required=%s, observed=%s)",
		verdict, d.Reason, formatDistance(d.Required), formatDistance(d.Observed))
}

// ExplicitGrant reports whether the caller was admitted by the allow-set
// rather than by trust distance.
func (d Decision) ExplicitGrant() bool {
	return d.Permit && d.Reason == ReasonExplicitGrant
}

// Evaluate applies a single rule.
func Evaluate(rule schema.AccessRule, distance *uint32, callerKey string) Decision {
	d := Decision{
		Required: copyDistance(rule.MaxDistance),
		Observed: copyDistance(distance),
	}

	switch {
	case callerKey != "" && slices.Contains(rule.Allow, callerKey):
		d.Permit = true
		d.Reason = ReasonExplicitGrant
	case rule.MaxDistance == nil:
		d.Reason = ReasonNoRule
	case distance == nil:
		d.Reason = ReasonNoTrust
	case *distance <= *rule.MaxDistance:
		d.Permit = true
		d.Reason = ReasonWithinDistance
	default:
		d.Reason = ReasonDistanceExceeded
	}
	return d
}

// Check applies the rule of policy selected by kind. Read and write rules
// are independent: permission to read implies nothing about writing.
func Check(policy schema.AccessPolicy, kind Kind, distance *uint32, callerKey string) Decision {
	if kind == Write {
		return Evaluate(policy.Write, distance, callerKey)
	}
	return Evaluate(policy.Read, distance, callerKey)
}

func copyDistance(d *uint32) *uint32 {
	if d == nil {
		return nil
	}
	v := *d
	return &v
}

func formatDistance(d *uint32) string {
	if d == nil {
		return "none"
	}
	return fmt.Sprintf("%d", *d)
}
