package payment

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultInvoiceTTL is how long a Ledger invoice stays payable.
const DefaultInvoiceTTL = 10 * time.Minute

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Ledger is an in-process Gateway.
//
// Invoices settle through Settle (or immediately, with auto-settle enabled)
// and expire once their TTL elapses. Refs are random UUIDs.
//
// Thread-safety: all methods are safe for concurrent use.
type Ledger struct {
	mu       sync.Mutex
	invoices map[string]*entry

	ttl        time.Duration
	autoSettle bool
	clock      Clock
	logger     *slog.Logger
}

type entry struct {
	invoice  Invoice
	status   Status
	redeemed bool
	// done is closed when status becomes terminal.
	done chan struct{}
}

// LedgerOption configures a Ledger.
type LedgerOption func(*Ledger)

// WithTTL sets the invoice lifetime. Non-positive values keep the default.
func WithTTL(ttl time.Duration) LedgerOption {
	return func(l *Ledger) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// WithAutoSettle marks every invoice paid as soon as it is created.
// Intended for development and demos.
func WithAutoSettle(enabled bool) LedgerOption {
	return func(l *Ledger) {
		l.autoSettle = enabled
	}
}

// WithClock sets the time source used for invoice timestamps and expiry.
func WithClock(c Clock) LedgerOption {
	return func(l *Ledger) {
		l.clock = c
	}
}

// WithLogger sets the ledger's logger.
func WithLogger(logger *slog.Logger) LedgerOption {
	return func(l *Ledger) {
		l.logger = logger
	}
}

// NewLedger creates an empty ledger.
func NewLedger(opts ...LedgerOption) *Ledger {
	l := &Ledger{
		invoices: make(map[string]*entry),
		ttl:      DefaultInvoiceTTL,
		clock:    systemClock{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Ensure Ledger implements Gateway.
var _ Gateway = (*Ledger)(nil)

// CreateInvoice issues an invoice for amount satoshis.
func (l *Ledger) CreateInvoice(ctx context.Context, amount uint64, memo string) (Invoice, error) {
	if err := ctx.Err(); err != nil {
		return Invoice{}, fmt.Errorf("create invoice: %w", err)
	}
	if amount == 0 {
		return Invoice{}, fmt.Errorf("create invoice: amount must be positive")
	}

	now := l.clock.Now()
	inv := Invoice{
		Ref:       uuid.NewString(),
		Amount:    amount,
		Memo:      memo,
		CreatedAt: now,
		ExpiresAt: now.Add(l.ttl),
	}

	e := &entry{invoice: inv, status: Pending, done: make(chan struct{})}
	if l.autoSettle {
		e.status = Paid
		close(e.done)
	}

	l.mu.Lock()
	l.pruneLocked(now)
	l.invoices[inv.Ref] = e
	l.mu.Unlock()

	l.logger.Debug("invoice created",
		"ref", inv.Ref,
		"amount", amount,
		"status", e.status)
	return inv, nil
}

// Invoice returns an invoice by ref.
func (l *Ledger) Invoice(ref string) (Invoice, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.invoices[ref]
	if !ok {
		return Invoice{}, fmt.Errorf("invoice %s: %w", ref, ErrUnknownInvoice)
	}
	return e.invoice, nil
}

// Status returns the current state of an invoice, expiring it first if its
// TTL has elapsed.
func (l *Ledger) Status(ctx context.Context, ref string) (Status, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("invoice status: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.invoices[ref]
	if !ok {
		return "", fmt.Errorf("invoice %s: %w", ref, ErrUnknownInvoice)
	}
	l.expireLocked(e)
	return e.status, nil
}

// Await blocks until the invoice is paid or expired, or ctx is done.
func (l *Ledger) Await(ctx context.Context, ref string) (Status, error) {
	l.mu.Lock()
	e, ok := l.invoices[ref]
	if !ok {
		l.mu.Unlock()
		return "", fmt.Errorf("invoice %s: %w", ref, ErrUnknownInvoice)
	}
	l.expireLocked(e)
	status := e.status
	remaining := e.invoice.ExpiresAt.Sub(l.clock.Now())
	l.mu.Unlock()

	if status.Terminal() {
		return status, nil
	}

	timer := time.NewTimer(remaining)
	defer timer.Stop()

	select {
	case <-e.done:
	case <-timer.C:
	case <-ctx.Done():
		return Pending, ctx.Err()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if e.status == Pending {
		l.markLocked(e, Expired)
	}
	return e.status, nil
}

// Redeem consumes a paid invoice as proof for an operation costing amount.
func (l *Ledger) Redeem(ctx context.Context, ref string, amount uint64) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("redeem invoice: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.invoices[ref]
	if !ok {
		return &ProofError{Ref: ref, Err: ErrUnknownInvoice}
	}
	l.expireLocked(e)

	switch {
	case e.status != Paid:
		return &ProofError{Ref: ref, Err: ErrNotPaid}
	case e.redeemed:
		return &ProofError{Ref: ref, Err: ErrAlreadyRedeemed}
	case e.invoice.Amount < amount:
		return &ProofError{Ref: ref, Err: fmt.Errorf("%w: paid %d, fee %d", ErrInsufficientAmount, e.invoice.Amount, amount)}
	}
	e.redeemed = true

	l.logger.Debug("invoice redeemed", "ref", ref, "amount", amount)
	return nil
}

// Settle marks a pending invoice paid. Settling a paid invoice is a no-op.
func (l *Ledger) Settle(ref string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.invoices[ref]
	if !ok {
		return fmt.Errorf("settle %s: %w", ref, ErrUnknownInvoice)
	}
	l.expireLocked(e)
	switch e.status {
	case Paid:
		return nil
	case Expired:
		return fmt.Errorf("settle %s: invoice expired", ref)
	}
	l.markLocked(e, Paid)
	return nil
}

// Expire marks a pending invoice expired ahead of its TTL.
func (l *Ledger) Expire(ref string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.invoices[ref]
	if !ok {
		return fmt.Errorf("expire %s: %w", ref, ErrUnknownInvoice)
	}
	if e.status == Pending {
		l.markLocked(e, Expired)
	}
	return nil
}

// expireLocked moves a pending invoice past its TTL to Expired.
// Caller must hold l.mu.
func (l *Ledger) expireLocked(e *entry) {
	if e.status == Pending && !l.clock.Now().Before(e.invoice.ExpiresAt) {
		l.markLocked(e, Expired)
	}
}

// pruneLocked drops expired and redeemed invoices one TTL after their
// expiry. Paid invoices that were never redeemed are kept.
// Caller must hold l.mu.
func (l *Ledger) pruneLocked(now time.Time) {
	for ref, e := range l.invoices {
		if now.Before(e.invoice.ExpiresAt.Add(l.ttl)) {
			continue
		}
		l.expireLocked(e)
		if e.status == Expired || e.redeemed {
			delete(l.invoices, ref)
			l.logger.Debug("invoice pruned", "ref", ref, "status", e.status)
		}
	}
}

// markLocked records a terminal status and wakes waiters.
// Caller must hold l.mu.
func (l *Ledger) markLocked(e *entry, s Status) {
	e.status = s
	close(e.done)
	l.logger.Debug("invoice finalized", "ref", e.invoice.Ref, "status", s)
}
