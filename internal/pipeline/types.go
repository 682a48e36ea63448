package pipeline

import (
	"fmt"
	"strings"

	"github.com/roach88/fold/internal/access"
	"github.com/roach88/fold/internal/fee"
	"github.com/roach88/fold/internal/payment"
	"github.com/roach88/fold/internal/store"
	"github.com/roach88/fold/internal/value"
)

// OpKind is the operation a request performs.
type OpKind string

const (
	OpRead   OpKind = "read"
	OpCreate OpKind = "create"
	OpUpdate OpKind = "update"
	OpDelete OpKind = "delete"
)

// ValidOpKinds defines allowed operation kinds.
var ValidOpKinds = map[OpKind]bool{
	OpRead:   true,
	OpCreate: true,
	OpUpdate: true,
	OpDelete: true,
}

// IsWrite reports whether the operation appends to a version chain.
func (k OpKind) IsWrite() bool {
	return k == OpCreate || k == OpUpdate || k == OpDelete
}

// Access returns the access rule kind that governs the operation.
func (k OpKind) Access() access.Kind {
	if k.IsWrite() {
		return access.Write
	}
	return access.Read
}

// Caller is the identity supplied by the transport layer. The key is
// already authenticated; Distance is nil when the caller's trust distance
// is unknown.
type Caller struct {
	Key      string  `json:"key"`
	Distance *uint32 `json:"distance,omitempty"`
}

// Request addresses one field of one entity.
type Request struct {
	Kind   OpKind `json:"kind"`
	Schema string `json:"schema"`
	Field  string `json:"field"`
	Entity string `json:"entity"`
	Caller Caller `json:"caller"`

	// Content is the new value for create and update.
	Content value.Value `json:"content,omitempty"`

	// Filter narrows a read of a range field.
	Filter *Filter `json:"filter,omitempty"`

	// Proof is the ref of a paid invoice, usually one returned by an
	// earlier PaymentRequired rejection.
	Proof string `json:"proof,omitempty"`
}

// Address formats the request target as "Schema.field/entity".
func (r Request) Address() string {
	return fmt.Sprintf("%s.%s/%s", r.Schema, r.Field, r.Entity)
}

// ParseAddress splits "Schema.field/entity" into a request target. The
// entity may itself contain slashes.
func ParseAddress(s string) (schemaName, field, entity string, err error) {
	ref, entity, _ := strings.Cut(s, "/")
	schemaName, field, ok := strings.Cut(ref, ".")
	if !ok || schemaName == "" || field == "" {
		return "", "", "", fmt.Errorf("invalid address %q: want Schema.field/entity", s)
	}
	return schemaName, field, entity, nil
}

// Filter selects entries of a range field's object content. Every set
// criterion must match.
type Filter struct {
	// Key selects a single entry.
	Key string `json:"key,omitempty"`
	// Prefix selects keys starting with it.
	Prefix string `json:"prefix,omitempty"`
	// Start and End bound keys lexicographically: Start <= k < End.
	// Either may be empty for an open bound.
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
	// Pattern is a shell glob as understood by path.Match.
	Pattern string `json:"pattern,omitempty"`
}

// IsZero reports whether no criterion is set.
func (f *Filter) IsZero() bool {
	return f == nil || *f == Filter{}
}

// Stage is a state of the operation state machine.
type Stage string

const (
	StageSchemaLookup    Stage = "schema_lookup"
	StagePermissionCheck Stage = "permission_check"
	StageFeeCheck        Stage = "fee_check"
	StageAwaitingPayment Stage = "awaiting_payment"
	StageExecute         Stage = "execute"
	StageCompleted       Stage = "completed"
	StageRejected        Stage = "rejected"
)

// Result is the outcome of a completed operation.
type Result struct {
	Kind OpKind `json:"kind"`

	// Record is the head record for reads and the new record for writes.
	Record store.Record `json:"record"`

	// Content is the value read, after any range filter. Nil for writes.
	Content value.Value `json:"content,omitempty"`

	// Quote is the fee evaluation for the operation.
	Quote fee.Quote `json:"quote"`

	// Paid is the invoice redeemed for the operation, empty if it was free.
	Paid string `json:"paid,omitempty"`
}

// Transition is reported to an Observer on every state change.
type Transition struct {
	Stage   Stage
	Request *Request

	// Decision is set from permission_check onwards.
	Decision *access.Decision
	// Quote is set from fee_check onwards.
	Quote *fee.Quote
	// Invoice is set while awaiting payment and on payment rejections.
	Invoice *payment.Invoice
	// Result is set on completed.
	Result *Result
	// Rejection is set on rejected.
	Rejection *Rejection
}

// Observer receives state transitions. It is called synchronously from the
// goroutine running the operation and must not block.
type Observer func(Transition)
