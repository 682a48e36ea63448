package pipeline

import (
	"errors"
	"fmt"

	"github.com/roach88/fold/internal/payment"
)

// RejectionCode categorizes rejected operations.
type RejectionCode string

const (
	// CodeInvalidRequest indicates a malformed request.
	CodeInvalidRequest RejectionCode = "INVALID_REQUEST"

	// CodeSchemaNotLoaded indicates the addressed schema is not loaded.
	CodeSchemaNotLoaded RejectionCode = "SCHEMA_NOT_LOADED"

	// CodeFieldNotFound indicates the schema has no such field.
	CodeFieldNotFound RejectionCode = "FIELD_NOT_FOUND"

	// CodeInvalidContent indicates write content does not fit the field type.
	CodeInvalidContent RejectionCode = "INVALID_CONTENT"

	// CodePermissionDenied indicates the access rule denied the caller.
	CodePermissionDenied RejectionCode = "PERMISSION_DENIED"

	// CodePaymentRequired indicates a fee is due and no accepted proof was given.
	CodePaymentRequired RejectionCode = "PAYMENT_REQUIRED"

	// CodeWriteConflict indicates the write lost every compare-and-swap attempt.
	CodeWriteConflict RejectionCode = "WRITE_CONFLICT"

	// CodeStorageError indicates a backend failure.
	CodeStorageError RejectionCode = "STORAGE_ERROR"

	// CodeNotFound indicates a read of a field with no current content.
	CodeNotFound RejectionCode = "NOT_FOUND"
)

// Rejection is the error returned for every operation that does not
// complete.
//
// Rejection includes structured fields so the caller can decide whether to
// retry, request a grant, or pay.
type Rejection struct {
	// Code identifies the rejection category.
	Code RejectionCode

	// Stage is the pipeline stage that rejected the operation.
	Stage Stage

	// Message is a human-readable description.
	Message string

	// Address is the request target, "Schema.field/entity".
	Address string

	// Required and Observed are the rule threshold and caller distance
	// (permission denials).
	Required *uint32
	Observed *uint32

	// Fee is the amount due in satoshis (payment rejections).
	Fee uint64

	// Invoice is the invoice to pay (payment rejections). Nil if no
	// gateway is configured or issuing one failed.
	Invoice *payment.Invoice

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Rejection) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Address != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Address)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Rejection) Unwrap() error {
	return e.Err
}

// Details returns the structured fields as strings, for display.
func (e *Rejection) Details() map[string]string {
	d := map[string]string{
		"stage": string(e.Stage),
	}
	if e.Address != "" {
		d["address"] = e.Address
	}
	if e.Required != nil {
		d["required"] = fmt.Sprintf("%d", *e.Required)
	}
	if e.Code == CodePermissionDenied {
		d["observed"] = "none"
		if e.Observed != nil {
			d["observed"] = fmt.Sprintf("%d", *e.Observed)
		}
	}
	if e.Code == CodePaymentRequired {
		d["fee"] = fmt.Sprintf("%d", e.Fee)
	}
	if e.Invoice != nil {
		d["invoice"] = e.Invoice.Ref
	}
	return d
}

// CodeOf returns the rejection code of err, or "" if err is not a Rejection.
// Uses errors.As to handle wrapped errors.
func CodeOf(err error) RejectionCode {
	var r *Rejection
	if errors.As(err, &r) {
		return r.Code
	}
	return ""
}

// IsPermissionDenied returns true if the error is a permission denial.
func IsPermissionDenied(err error) bool {
	return CodeOf(err) == CodePermissionDenied
}

// IsPaymentRequired returns true if the error is a payment requirement.
func IsPaymentRequired(err error) bool {
	return CodeOf(err) == CodePaymentRequired
}

// IsWriteConflict returns true if the error is an exhausted write retry budget.
func IsWriteConflict(err error) bool {
	return CodeOf(err) == CodeWriteConflict
}

// IsNotFound returns true if the error is a read of a field with no content.
func IsNotFound(err error) bool {
	return CodeOf(err) == CodeNotFound
}

// IsStorageError returns true if the error is a backend failure.
func IsStorageError(err error) bool {
	return CodeOf(err) == CodeStorageError
}

func reject(code RejectionCode, stage Stage, req *Request, err error, format string, args ...any) *Rejection {
	return &Rejection{
		Code:    code,
		Stage:   stage,
		Message: fmt.Sprintf(format, args...),
		Address: req.Address(),
		Err:     err,
	}
}
