// Package payment is the boundary to the payment network.
//
// The operation pipeline treats payment as a predicate gate: it asks a
// Gateway for an invoice covering a quoted fee, optionally waits for it to
// settle, and redeems a caller-supplied proof (an invoice reference) before
// executing a paid operation. Ledger is an in-process Gateway used by the
// CLI, the harness and tests; a Lightning client would implement the same
// interface.
package payment

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Status is the settlement state of an invoice.
type Status string

const (
	Pending Status = "pending"
	Paid    Status = "paid"
	Expired Status = "expired"
)

// Terminal reports whether the status can no longer change.
func (s Status) Terminal() bool {
	return s == Paid || s == Expired
}

var (
	// ErrUnknownInvoice indicates the gateway has no invoice with the given ref.
	ErrUnknownInvoice = errors.New("unknown invoice")

	// ErrNotPaid indicates a proof names an invoice that has not settled.
	ErrNotPaid = errors.New("invoice not paid")

	// ErrAlreadyRedeemed indicates a proof was already used for an operation.
	ErrAlreadyRedeemed = errors.New("invoice already redeemed")

	// ErrInsufficientAmount indicates a settled invoice is smaller than the fee.
	ErrInsufficientAmount = errors.New("invoice amount below fee")
)

// Invoice is a request for payment.
type Invoice struct {
	Ref       string    `json:"ref"`
	Amount    uint64    `json:"amount"`
	Memo      string    `json:"memo,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Gateway creates and verifies invoices.
//
// Implementations must be safe for concurrent use. Await is the only
// blocking call and must return promptly when ctx is done.
type Gateway interface {
	// CreateInvoice issues an invoice for amount satoshis.
	CreateInvoice(ctx context.Context, amount uint64, memo string) (Invoice, error)

	// Status returns the current state of an invoice.
	Status(ctx context.Context, ref string) (Status, error)

	// Await blocks until the invoice is paid or expired, or ctx is done.
	// On ctx cancellation it returns the last observed status and ctx.Err().
	Await(ctx context.Context, ref string) (Status, error)

	// Redeem consumes a paid invoice as proof for an operation costing at
	// least amount. An invoice can be redeemed once.
	Redeem(ctx context.Context, ref string, amount uint64) error
}

// ProofError reports why a payment proof was rejected.
type ProofError struct {
	Ref string
	Err error
}

func (e *ProofError) Error() string {
	return fmt.Sprintf("payment proof %s: %v", e.Ref, e.Err)
}

func (e *ProofError) Unwrap() error {
	return e.Err
}
