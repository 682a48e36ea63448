package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/roach88/fold/internal/access"
	"github.com/roach88/fold/internal/chain"
	"github.com/roach88/fold/internal/fee"
	"github.com/roach88/fold/internal/payment"
	"github.com/roach88/fold/internal/schema"
	"github.com/roach88/fold/internal/store"
)

// Pipeline validates, authorizes, prices and executes operations.
//
// Thread-safety: Pipeline is safe for concurrent use. It shares the
// read-only registry and relies on the chain's compare-and-swap for write
// ordering.
type Pipeline struct {
	registry    *schema.Registry
	chain       *chain.Chain
	gateway     payment.Gateway
	paymentWait time.Duration
	observer    Observer
	logger      *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithGateway sets the payment gateway. Without one, every paid operation
// is rejected with PaymentRequired and no invoice.
func WithGateway(g payment.Gateway) Option {
	return func(p *Pipeline) {
		p.gateway = g
	}
}

// WithPaymentWait sets how long an operation without a proof waits for its
// invoice to be paid. Zero rejects immediately with the invoice.
func WithPaymentWait(d time.Duration) Option {
	return func(p *Pipeline) {
		p.paymentWait = d
	}
}

// WithObserver registers a callback for every state transition.
func WithObserver(o Observer) Option {
	return func(p *Pipeline) {
		p.observer = o
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// New creates a pipeline over a schema registry and a version chain.
func New(registry *schema.Registry, ch *chain.Chain, opts ...Option) *Pipeline {
	p := &Pipeline{
		registry: registry,
		chain:    ch,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Execute runs req through the pipeline. It returns a *Result when the
// operation completes and a *Rejection otherwise.
func (p *Pipeline) Execute(ctx context.Context, req Request) (*Result, error) {
	t := Transition{Request: &req}

	res, rej := p.run(ctx, &req, &t)
	if rej != nil {
		t.Stage = StageRejected
		t.Rejection = rej
		p.emit(t)
		level := slog.LevelDebug
		if rej.Code == CodeWriteConflict || rej.Code == CodeStorageError {
			level = slog.LevelWarn
		}
		p.logger.Log(ctx, level, "operation rejected",
			"op", req.Kind,
			"address", req.Address(),
			"code", rej.Code,
			"stage", rej.Stage)
		return nil, rej
	}

	t.Stage = StageCompleted
	t.Result = res
	p.emit(t)
	p.logger.Debug("operation completed",
		"op", req.Kind,
		"address", req.Address(),
		"record_id", res.Record.ID,
		"fee", res.Quote.Due())
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, req *Request, t *Transition) (*Result, *Rejection) {
	// Stage 1: schema lookup and request validation.
	t.Stage = StageSchemaLookup
	p.emit(*t)

	if rej := validateRequest(req); rej != nil {
		return nil, rej
	}
	resolved, rej := p.lookup(req)
	if rej != nil {
		return nil, rej
	}
	if req.Filter != nil && resolved.Field.Type != schema.Range {
		return nil, reject(CodeInvalidRequest, StageSchemaLookup, req, nil,
			"filters apply to range fields only, %s is %s", req.Field, resolved.Field.Type)
	}
	if req.Kind == OpCreate || req.Kind == OpUpdate {
		if err := checkContent(resolved.Field.Type, req.Content); err != nil {
			return nil, reject(CodeInvalidContent, StageSchemaLookup, req, nil, "%v", err)
		}
	}

	// Stage 2: permission.
	t.Stage = StagePermissionCheck
	p.emit(*t)

	decision := access.Check(resolved.Field.Access, req.Kind.Access(), req.Caller.Distance, req.Caller.Key)
	t.Decision = &decision
	if !decision.Permit {
		rej := reject(CodePermissionDenied, StagePermissionCheck, req, nil,
			"%s access denied: %s", req.Kind.Access(), decision.Reason)
		rej.Required = decision.Required
		rej.Observed = decision.Observed
		return nil, rej
	}

	// Stage 3: fee.
	t.Stage = StageFeeCheck
	quote := fee.Compute(resolved.Schema, resolved.Field, req.Kind.Access(), req.Caller.Distance)
	t.Quote = &quote
	p.emit(*t)

	key := store.PointerKey{
		Schema: resolved.Storage.Schema,
		Field:  resolved.Storage.Field,
		Entity: req.Entity,
	}

	var paid string
	if quote.Required {
		if rej := p.checkHead(ctx, req, key); rej != nil {
			return nil, rej
		}
		ref, rej := p.collectPayment(ctx, req, t, quote)
		if rej != nil {
			return nil, rej
		}
		paid = ref
	}

	// Stage 4: execute.
	t.Stage = StageExecute
	p.emit(*t)

	res, rej := p.execute(ctx, req, key)
	if rej != nil {
		return nil, rej
	}
	res.Quote = quote
	res.Paid = paid
	return res, nil
}

func validateRequest(req *Request) *Rejection {
	var missing []string
	if !ValidOpKinds[req.Kind] {
		return reject(CodeInvalidRequest, StageSchemaLookup, req, nil, "invalid operation %q", req.Kind)
	}
	if req.Schema == "" {
		missing = append(missing, "schema")
	}
	if req.Field == "" {
		missing = append(missing, "field")
	}
	if req.Entity == "" {
		missing = append(missing, "entity")
	}
	if len(missing) > 0 {
		return reject(CodeInvalidRequest, StageSchemaLookup, req, nil, "missing %s", strings.Join(missing, ", "))
	}
	if req.Filter != nil {
		if req.Kind != OpRead {
			return reject(CodeInvalidRequest, StageSchemaLookup, req, nil, "filters apply to reads only")
		}
		if err := checkFilter(req.Filter); err != nil {
			return reject(CodeInvalidRequest, StageSchemaLookup, req, err, "invalid filter")
		}
	}
	return nil
}

func (p *Pipeline) lookup(req *Request) (schema.Resolved, *Rejection) {
	resolved, err := p.registry.Lookup(req.Schema, req.Field)
	switch {
	case err == nil:
		return resolved, nil
	case errors.Is(err, schema.ErrSchemaNotLoaded):
		return resolved, reject(CodeSchemaNotLoaded, StageSchemaLookup, req, err, "schema %s is not loaded", req.Schema)
	case errors.Is(err, schema.ErrFieldNotFound):
		return resolved, reject(CodeFieldNotFound, StageSchemaLookup, req, err, "schema %s has no field %s", req.Schema, req.Field)
	default:
		return resolved, reject(CodeSchemaNotLoaded, StageSchemaLookup, req, err, "schema lookup failed")
	}
}

// checkHead rejects a paid read or delete of a chain with no live head
// before any payment is taken. Writes always have something to append to.
func (p *Pipeline) checkHead(ctx context.Context, req *Request, key store.PointerKey) *Rejection {
	if req.Kind != OpRead && req.Kind != OpDelete {
		return nil
	}
	if _, err := p.chain.Read(ctx, key); err != nil {
		rej := executeRejection(req, err)
		rej.Stage = StageFeeCheck
		return rej
	}
	return nil
}

// collectPayment redeems the request's proof, or issues an invoice and
// optionally waits for it. It returns the redeemed invoice ref.
func (p *Pipeline) collectPayment(ctx context.Context, req *Request, t *Transition, quote fee.Quote) (string, *Rejection) {
	paymentRequired := func(err error, inv *payment.Invoice, format string, args ...any) *Rejection {
		rej := reject(CodePaymentRequired, StageFeeCheck, req, err, format, args...)
		rej.Fee = quote.Amount
		rej.Invoice = inv
		return rej
	}

	if p.gateway == nil {
		return "", paymentRequired(nil, nil, "fee of %d sat due, no payment gateway configured", quote.Amount)
	}

	// A proof is checked first; a rejected proof still yields a fresh
	// invoice so the caller can pay and retry.
	var proofErr error
	if req.Proof != "" {
		proofErr = p.gateway.Redeem(ctx, req.Proof, quote.Amount)
		if proofErr == nil {
			return req.Proof, nil
		}
		p.logger.Debug("payment proof rejected",
			"address", req.Address(),
			"proof", req.Proof,
			"error", proofErr)
	}

	inv, err := p.gateway.CreateInvoice(ctx, quote.Amount, quote.Digest)
	if err != nil {
		return "", paymentRequired(err, nil, "fee of %d sat due, invoice could not be issued", quote.Amount)
	}
	t.Invoice = &inv

	if p.paymentWait <= 0 {
		if proofErr != nil {
			return "", paymentRequired(proofErr, &inv, "fee of %d sat due, proof rejected", quote.Amount)
		}
		return "", paymentRequired(nil, &inv, "fee of %d sat due", quote.Amount)
	}

	t.Stage = StageAwaitingPayment
	p.emit(*t)

	waitCtx, cancel := context.WithTimeout(ctx, p.paymentWait)
	defer cancel()

	status, err := p.gateway.Await(waitCtx, inv.Ref)
	if err != nil {
		return "", paymentRequired(err, &inv, "fee of %d sat not paid within %s", quote.Amount, p.paymentWait)
	}
	if status != payment.Paid {
		return "", paymentRequired(nil, &inv, "fee of %d sat not paid, invoice %s", quote.Amount, status)
	}
	if err := p.gateway.Redeem(ctx, inv.Ref, quote.Amount); err != nil {
		return "", paymentRequired(err, &inv, "fee of %d sat not redeemable", quote.Amount)
	}
	return inv.Ref, nil
}

func (p *Pipeline) execute(ctx context.Context, req *Request, key store.PointerKey) (*Result, *Rejection) {
	var (
		rec store.Record
		err error
	)
	switch req.Kind {
	case OpRead:
		rec, err = p.chain.Read(ctx, key)
	case OpDelete:
		rec, err = p.chain.Delete(ctx, key, req.Caller.Key)
	default:
		rec, err = p.chain.Write(ctx, key, req.Content, req.Caller.Key)
	}
	if err != nil {
		return nil, executeRejection(req, err)
	}

	res := &Result{Kind: req.Kind, Record: rec}
	if req.Kind == OpRead {
		content, err := project(rec.Content, req.Filter)
		if err != nil {
			return nil, reject(CodeStorageError, StageExecute, req, err, "stored content does not fit the field type")
		}
		res.Content = content
	}
	return res, nil
}

func executeRejection(req *Request, err error) *Rejection {
	switch {
	case chain.IsWriteConflict(err):
		return reject(CodeWriteConflict, StageExecute, req, err, "concurrent writers exhausted the retry budget")
	case store.IsStorageError(err):
		return reject(CodeStorageError, StageExecute, req, err, "storage failure")
	case chain.IsNotFound(err):
		return reject(CodeNotFound, StageExecute, req, err, "no content")
	default:
		return reject(CodeStorageError, StageExecute, req, err, "storage failure")
	}
}

// Quote prices an operation without checking permission or executing it.
func (p *Pipeline) Quote(req Request) (fee.Quote, error) {
	if req.Entity == "" {
		req.Entity = "-"
	}
	if rej := validateRequest(&req); rej != nil {
		return fee.Quote{}, rej
	}
	resolved, rej := p.lookup(&req)
	if rej != nil {
		return fee.Quote{}, rej
	}
	return fee.Compute(resolved.Schema, resolved.Field, req.Kind.Access(), req.Caller.Distance), nil
}

func (p *Pipeline) emit(t Transition) {
	if p.observer != nil {
		p.observer(t)
	}
	p.logger.Debug("stage",
		"stage", t.Stage,
		"op", t.Request.Kind,
		"address", t.Request.Address())
}

// String renders a transition for logs and traces. Invoice refs are
// omitted so traces stay reproducible.
func (t Transition) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s", t.Stage, t.Request.Kind, t.Request.Address())
	switch t.Stage {
	case StageFeeCheck:
		if t.Decision != nil {
			fmt.Fprintf(&b, " access=%s", t.Decision.Reason)
		}
		if t.Quote != nil {
			fmt.Fprintf(&b, " fee=%d required=%t", t.Quote.Amount, t.Quote.Required)
		}
	case StageAwaitingPayment:
		if t.Invoice != nil {
			fmt.Fprintf(&b, " invoice_amount=%d", t.Invoice.Amount)
		}
	case StageCompleted:
		if t.Result != nil {
			fmt.Fprintf(&b, " record=%s", t.Result.Record.ID)
			if t.Result.Record.PrevID != "" {
				fmt.Fprintf(&b, " prev=%s", t.Result.Record.PrevID)
			}
		}
	case StageRejected:
		if t.Rejection != nil {
			fmt.Fprintf(&b, " code=%s at=%s", t.Rejection.Code, t.Rejection.Stage)
		}
	}
	return b.String()
}
