package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/roach88/fold/internal/chain"
	"github.com/roach88/fold/internal/compiler"
	"github.com/roach88/fold/internal/payment"
	"github.com/roach88/fold/internal/pipeline"
	"github.com/roach88/fold/internal/schema"
	"github.com/roach88/fold/internal/store"
	"github.com/roach88/fold/internal/testutil"
	"github.com/roach88/fold/internal/value"
)

// Harness is the scenario execution engine.
// It runs scenarios with a deterministic clock and record ids.
type Harness struct {
	registry *schema.Registry
	chain    *chain.Chain
	ledger   *payment.Ledger
	pipeline *pipeline.Pipeline
	logger   *slog.Logger

	result *Result
	step   string // label of the step being executed, for the trace
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh store. Execution flow:
//  1. Compile and load the scenario's schemas
//  2. Execute setup steps, which must complete
//  3. Execute flow steps, checking expect clauses
//  4. Evaluate assertions
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()

	registry, err := loadSchemas(scenario.Schemas)
	if err != nil {
		return nil, err
	}

	var backend store.Backend
	switch scenario.Backend {
	case BackendSQLite:
		db, err := store.Open(":memory:")
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory store: %w", err)
		}
		defer db.Close()
		backend = db
	default:
		backend = store.NewMemory()
	}

	var wait time.Duration
	if scenario.Payment.Wait != "" {
		// Validated on load.
		wait, _ = time.ParseDuration(scenario.Payment.Wait)
	}

	// Suppress logs in tests.
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	h := &Harness{
		registry: registry,
		logger:   logger,
		result:   NewResult(),
	}
	h.chain = chain.New(backend,
		chain.WithClock(testutil.NewDeterministicClock()),
		chain.WithIDGenerator(testutil.NewSequenceGenerator("rec")),
		chain.WithLogger(logger))
	h.ledger = payment.NewLedger(
		payment.WithClock(testutil.NewDeterministicClock()),
		payment.WithAutoSettle(scenario.Payment.AutoSettle),
		payment.WithLogger(logger))
	h.pipeline = pipeline.New(registry, h.chain,
		pipeline.WithGateway(h.ledger),
		pipeline.WithPaymentWait(wait),
		pipeline.WithLogger(logger),
		pipeline.WithObserver(func(t pipeline.Transition) {
			h.result.AddTrace(h.step, t.String())
		}))

	for i, step := range scenario.Setup {
		h.step = fmt.Sprintf("setup[%d]", i)
		if _, err := h.execute(ctx, step); err != nil {
			return nil, fmt.Errorf("failed to execute %s: %w", h.step, err)
		}
	}

	for i, step := range scenario.Flow {
		h.step = fmt.Sprintf("flow[%d]", i)
		res, err := h.execute(ctx, step)
		for _, msg := range checkExpect(step.Expect, res, err) {
			h.result.AddError(fmt.Sprintf("%s %s %s: %s", h.step, step.Op, step.Address, msg))
		}
	}

	actx := &AssertionContext{
		Registry: registry,
		Chain:    h.chain,
		Ctx:      ctx,
	}
	for _, msg := range EvaluateAssertions(h.result, scenario.Assertions, actx) {
		h.result.AddError(msg)
	}

	return h.result, nil
}

// loadSchemas compiles every file and loads the schemas together, so
// mappings may cross files.
func loadSchemas(paths []string) (*schema.Registry, error) {
	var all []schema.Schema
	for _, p := range paths {
		src, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("failed to read schema file: %w", err)
		}
		schemas, errs := compiler.CompileString(p, string(src))
		if len(errs) > 0 {
			return nil, fmt.Errorf("failed to compile %s: %w", p, errors.Join(errs...))
		}
		all = append(all, schemas...)
	}

	registry := schema.NewRegistry()
	if err := registry.Load(all...); err != nil {
		return nil, fmt.Errorf("failed to load schemas: %w", err)
	}
	return registry, nil
}

// execute runs one step. A paying step that is rejected with an invoice
// settles it and retries once with the invoice as proof.
func (h *Harness) execute(ctx context.Context, step Step) (*pipeline.Result, error) {
	req, err := h.request(step)
	if err != nil {
		return nil, err
	}

	res, err := h.pipeline.Execute(ctx, req)
	var rej *pipeline.Rejection
	if step.Pay && errors.As(err, &rej) && rej.Code == pipeline.CodePaymentRequired && rej.Invoice != nil {
		if err := h.ledger.Settle(rej.Invoice.Ref); err != nil {
			return nil, fmt.Errorf("settle invoice: %w", err)
		}
		h.logger.Info("invoice settled, retrying", "step", h.step, "amount", rej.Invoice.Amount)
		req.Proof = rej.Invoice.Ref
		res, err = h.pipeline.Execute(ctx, req)
	}
	return res, err
}

func (h *Harness) request(step Step) (pipeline.Request, error) {
	schemaName, field, entity, err := pipeline.ParseAddress(step.Address)
	if err != nil {
		return pipeline.Request{}, err
	}
	req := pipeline.Request{
		Kind:   pipeline.OpKind(step.Op),
		Schema: schemaName,
		Field:  field,
		Entity: entity,
		Caller: pipeline.Caller{Key: step.Caller.Key, Distance: step.Caller.Distance},
		Filter: step.Filter,
	}
	if req.Kind.IsWrite() && req.Kind != pipeline.OpDelete {
		content, err := value.FromAny(normalizeYAML(step.Content))
		if err != nil {
			return pipeline.Request{}, fmt.Errorf("content: %w", err)
		}
		req.Content = content
	}
	return req, nil
}

// checkExpect compares a step outcome with its expect clause and returns
// one message per mismatch.
func checkExpect(expect *ExpectClause, res *pipeline.Result, err error) []string {
	if expect == nil {
		if err != nil {
			return []string{fmt.Sprintf("unexpected rejection: %v", err)}
		}
		return nil
	}

	var msgs []string
	if expect.Code == ExpectOK {
		if err != nil {
			return []string{fmt.Sprintf("expected completion, got %v", err)}
		}
		if expect.Fee != nil && res.Quote.Due() != *expect.Fee {
			msgs = append(msgs, fmt.Sprintf("expected fee %d, got %d", *expect.Fee, res.Quote.Due()))
		}
		if expect.Content != nil {
			if msg := compareContent(expect.Content, res.Content); msg != "" {
				msgs = append(msgs, msg)
			}
		}
		if expect.Record != "" && res.Record.ID != expect.Record {
			msgs = append(msgs, fmt.Sprintf("expected record %s, got %s", expect.Record, res.Record.ID))
		}
		if expect.Prev != "" && res.Record.PrevID != expect.Prev {
			msgs = append(msgs, fmt.Sprintf("expected prev %s, got %q", expect.Prev, res.Record.PrevID))
		}
		return msgs
	}

	var rej *pipeline.Rejection
	if !errors.As(err, &rej) {
		if err == nil {
			return []string{fmt.Sprintf("expected %s, got completion", expect.Code)}
		}
		return []string{fmt.Sprintf("expected %s, got %v", expect.Code, err)}
	}
	if string(rej.Code) != expect.Code {
		msgs = append(msgs, fmt.Sprintf("expected %s, got %s", expect.Code, rej.Code))
	}
	if expect.Fee != nil && rej.Fee != *expect.Fee {
		msgs = append(msgs, fmt.Sprintf("expected fee %d, got %d", *expect.Fee, rej.Fee))
	}
	return msgs
}

func compareContent(want any, got value.Value) string {
	wantVal, err := value.FromAny(normalizeYAML(want))
	if err != nil {
		return fmt.Sprintf("expected content: %v", err)
	}
	if value.Equal(wantVal, got) {
		return ""
	}
	wantJSON, _ := value.Canonical(wantVal)
	gotJSON, _ := value.Canonical(got)
	return fmt.Sprintf("expected content %s, got %s", wantJSON, gotJSON)
}

// normalizeYAML converts the map[any]any nodes yaml can produce inside
// sequences into map[string]any.
func normalizeYAML(v any) any {
	switch val := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[fmt.Sprint(k)] = normalizeYAML(elem)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = normalizeYAML(elem)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = normalizeYAML(elem)
		}
		return out
	default:
		return v
	}
}
