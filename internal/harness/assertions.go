package harness

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/fold/internal/chain"
	"github.com/roach88/fold/internal/pipeline"
	"github.com/roach88/fold/internal/schema"
	"github.com/roach88/fold/internal/store"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s\n", event.Seq, event.Step, event.Event)
		}
	}

	return buf.String()
}

// assertTraceContains checks that the exact transition line occurs.
func assertTraceContains(trace []TraceEvent, assertion Assertion) error {
	for _, event := range trace {
		if event.Event == assertion.Event {
			return nil
		}
	}

	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: assertion.Event,
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that the lines occur in the given order.
// Intervening transitions are allowed.
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	pos := 0
	for i, want := range assertion.Events {
		found := false
		for pos < len(trace) {
			pos++
			if trace[pos-1].Event == want {
				found = true
				break
			}
		}
		if !found {
			actual := fmt.Sprintf("missing %q", want)
			if i > 0 {
				actual = fmt.Sprintf("%q not found after %q", want, assertion.Events[i-1])
			}
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("events in order: %q", assertion.Events),
				Actual:   actual,
				Trace:    trace,
			}
		}
	}
	return nil
}

// assertTraceCount checks how often a stage occurs, optionally for one
// address.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		fields := strings.Fields(event.Event)
		if len(fields) < 3 || fields[0] != assertion.Stage {
			continue
		}
		if assertion.Address != "" && fields[2] != assertion.Address {
			continue
		}
		count++
	}

	if count != assertion.Count {
		target := assertion.Stage
		if assertion.Address != "" {
			target += " " + assertion.Address
		}
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", assertion.Count, target),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// storageKey resolves an address through the registry, following maps_to.
func storageKey(registry *schema.Registry, address string) (store.PointerKey, error) {
	schemaName, field, entity, err := pipeline.ParseAddress(address)
	if err != nil {
		return store.PointerKey{}, err
	}
	resolved, err := registry.Lookup(schemaName, field)
	if err != nil {
		return store.PointerKey{}, err
	}
	return store.PointerKey{
		Schema: resolved.Storage.Schema,
		Field:  resolved.Storage.Field,
		Entity: entity,
	}, nil
}

// assertFinalContent reads the chain head directly, bypassing access and
// fee checks.
func assertFinalContent(actx *AssertionContext, assertion Assertion) error {
	key, err := storageKey(actx.Registry, assertion.Address)
	if err != nil {
		return fmt.Errorf("final_content: %w", err)
	}

	rec, err := actx.Chain.Read(actx.Ctx, key)
	if assertion.Deleted {
		if chain.IsNotFound(err) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("final_content %s: %w", assertion.Address, err)
		}
		return &AssertionError{
			Type:     AssertFinalContent,
			Expected: fmt.Sprintf("%s has no content", assertion.Address),
			Actual:   fmt.Sprintf("record %s", rec.ID),
		}
	}

	if chain.IsNotFound(err) {
		return &AssertionError{
			Type:     AssertFinalContent,
			Expected: fmt.Sprintf("content at %s", assertion.Address),
			Actual:   "no content",
		}
	}
	if err != nil {
		return fmt.Errorf("final_content %s: %w", assertion.Address, err)
	}
	if msg := compareContent(assertion.Content, rec.Content); msg != "" {
		return &AssertionError{
			Type:     AssertFinalContent,
			Expected: fmt.Sprintf("content at %s", assertion.Address),
			Actual:   msg,
		}
	}
	return nil
}

// assertHistoryLength counts the versions of a chain, tombstones included.
func assertHistoryLength(actx *AssertionContext, assertion Assertion) error {
	key, err := storageKey(actx.Registry, assertion.Address)
	if err != nil {
		return fmt.Errorf("history_length: %w", err)
	}

	records, err := chain.Collect(actx.Chain.History(actx.Ctx, key))
	if err != nil {
		return fmt.Errorf("history_length %s: %w", assertion.Address, err)
	}
	if len(records) != assertion.Count {
		return &AssertionError{
			Type:     AssertHistoryLength,
			Expected: fmt.Sprintf("%d versions of %s", assertion.Count, assertion.Address),
			Actual:   fmt.Sprintf("%d versions", len(records)),
		}
	}
	return nil
}

// AssertionContext provides store access for state assertions.
type AssertionContext struct {
	Registry *schema.Registry
	Chain    *chain.Chain
	Ctx      context.Context
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
// The actx parameter provides store access for final_content and
// history_length assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertFinalContent, AssertHistoryLength:
			if actx == nil || actx.Chain == nil || actx.Registry == nil {
				err = fmt.Errorf("assertion[%d]: %s requires store context", i, assertion.Type)
			} else if assertion.Type == AssertFinalContent {
				err = assertFinalContent(actx, assertion)
			} else {
				err = assertHistoryLength(actx, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
